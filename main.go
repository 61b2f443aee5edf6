package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/chyiyaqing/newsreader/internal/ai"
	"github.com/chyiyaqing/newsreader/internal/config"
	"github.com/chyiyaqing/newsreader/internal/enrich"
	"github.com/chyiyaqing/newsreader/internal/extract"
	"github.com/chyiyaqing/newsreader/internal/feed"
	"github.com/chyiyaqing/newsreader/internal/images"
	"github.com/chyiyaqing/newsreader/internal/ingest"
	"github.com/chyiyaqing/newsreader/internal/logging"
	"github.com/chyiyaqing/newsreader/internal/notify"
	"github.com/chyiyaqing/newsreader/internal/notify/telegram"
	"github.com/chyiyaqing/newsreader/internal/scheduler"
	"github.com/chyiyaqing/newsreader/internal/server"
	"github.com/chyiyaqing/newsreader/internal/store"
	"github.com/dustin/go-humanize"
)

func main() {
	configPath := flag.String("config", "newsreader.yaml", "path to the YAML configuration")
	flag.Usage = usage
	flag.Parse()
	args := flag.Args()
	if len(args) < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Logging.Level)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	switch args[0] {
	case "preview", "discover":
		if len(args) < 2 {
			usage()
			os.Exit(1)
		}
		if args[0] == "preview" {
			cmdPreview(ctx, cfg, logger, args[1])
		} else {
			cmdDiscover(ctx, cfg, logger, args[1])
		}
		return
	}

	db, err := store.New(cfg.Database.Path, store.WithMaxFailures(cfg.Enrich.MaxFailures))
	if err != nil {
		fatal(logger, "failed to open database", err)
	}
	defer db.Close()

	a := &app{cfg: cfg, db: db, logger: logger}
	switch args[0] {
	case "ingest":
		a.cmdIngest(ctx)
	case "enrich":
		limit := cfg.Enrich.BatchSize
		if len(args) > 1 {
			if limit, err = strconv.Atoi(args[1]); err != nil || limit <= 0 {
				fatal(logger, "invalid batch size", fmt.Errorf("%q", args[1]))
			}
		}
		a.cmdEnrich(ctx, limit)
	case "serve":
		a.cmdServe(ctx, args[1:])
	case "run":
		a.cmdRun(ctx, args[1:])
	default:
		usage()
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: newsreader [-config newsreader.yaml] <command>

Commands:
  ingest                 Fetch enabled feeds and store new articles with their image
  enrich  [batch-size]   Enrich pending articles through the LLM
  discover <site>        Find the RSS/Atom feeds a site offers
  preview <url>          Extract one page and pick its image without touching the database
  serve   [--addr=:8080] Serve the read-only article API
  run     [cron-expr] [--addr=:8080]  Serve the API and run the pipeline on a schedule
`)
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}

type app struct {
	cfg    *config.Config
	db     *store.Store
	logger *slog.Logger
}

func (a *app) httpClient() *http.Client {
	return &http.Client{Timeout: a.cfg.Ingest.HTTPTimeout}
}

func (a *app) gate() *ingest.Gate {
	client := a.httpClient()
	ua := a.cfg.Ingest.UserAgent
	return ingest.NewGate(a.cfg.Ingest, a.db,
		feed.NewFetcher(client, ua),
		extract.New(a.cfg.Extract, client, ua, a.logger),
		images.New(a.cfg.Images, client, ua, a.logger),
		a.logger)
}

// processor fails with a *config.Error when no LLM is configured.
func (a *app) processor() (*enrich.Processor, error) {
	if err := a.cfg.RequireLLM(); err != nil {
		return nil, err
	}
	client, err := ai.NewClient(a.cfg.LLM, a.cfg.Prompts, a.logger)
	if err != nil {
		return nil, err
	}
	return enrich.NewProcessor(a.db, client, a.cfg.Enrich.ClaimTTL, a.logger), nil
}

func (a *app) notifier() *telegram.Client {
	return telegram.New(a.cfg.Telegram.BotToken, a.cfg.Telegram.ChatID)
}

// report sends a run report when Telegram is configured.
func (a *app) report(ctx context.Context, r notify.Report) {
	tg := a.notifier()
	if tg == nil || r.Quiet() {
		return
	}
	if err := tg.Send(ctx, "", telegram.FormatReport(r)); err != nil {
		a.logger.Warn("telegram send", "error", err)
	}
}

func (a *app) cmdIngest(ctx context.Context) {
	feeds := a.cfg.EnabledFeeds()
	if len(feeds) == 0 {
		fatal(a.logger, "no feeds configured", errors.New("add feeds to the config file"))
	}

	r := notify.Report{Command: "ingest", Started: time.Now()}
	stats, err := a.gate().Run(ctx, feeds)
	r.Finished, r.Ingest, r.Err = time.Now(), &stats, err
	a.report(ctx, r)

	fmt.Printf("Ingest: %s\n", stats)
	if err != nil {
		fatal(a.logger, "ingest aborted", err)
	}
}

func (a *app) cmdEnrich(ctx context.Context, limit int) {
	p, err := a.processor()
	if err != nil {
		fatal(a.logger, "enrichment unavailable", err)
	}

	r := notify.Report{Command: "enrich", Started: time.Now()}
	stats, err := p.Run(ctx, limit)
	r.Finished, r.Enrich, r.Err = time.Now(), &stats, err
	a.report(ctx, r)

	fmt.Printf("Enrich: %s\n", stats)
	if err != nil {
		fatal(a.logger, "enrichment aborted", err)
	}
}

func cmdPreview(ctx context.Context, cfg *config.Config, logger *slog.Logger, pageURL string) {
	client := &http.Client{Timeout: cfg.Ingest.HTTPTimeout}
	ua := cfg.Ingest.UserAgent

	content := extract.New(cfg.Extract, client, ua, logger).FromURL(ctx, pageURL)
	if content.Empty() {
		fmt.Println("No article text found.")
	} else {
		fmt.Printf("%d paragraphs, %s characters\n\n", len(content.Paragraphs), humanize.Comma(int64(content.FullLength)))
		for i, p := range content.Paragraphs {
			fmt.Printf("[%d] %s\n\n", i+1, p)
		}
	}

	img, err := images.New(cfg.Images, client, ua, logger).SelectFromURL(ctx, pageURL, images.ModePreview)
	switch {
	case err != nil:
		fatal(logger, "image selection failed", err)
	case img == nil:
		fmt.Println("No image accepted.")
	default:
		fmt.Printf("Image: %s\n  saved to %s (%s)\n", img.SourceURL, img.LocalPath, humanize.IBytes(uint64(img.ByteSize)))
	}
}

func cmdDiscover(ctx context.Context, cfg *config.Config, logger *slog.Logger, site string) {
	client := &http.Client{Timeout: cfg.Ingest.HTTPTimeout}
	feeds, err := feed.NewFetcher(client, cfg.Ingest.UserAgent).Discover(ctx, site)
	if err != nil {
		fatal(logger, "feed discovery failed", err)
	}
	for _, f := range feeds {
		fmt.Println(f)
	}
}

func (a *app) cmdServe(ctx context.Context, args []string) {
	_, addr := parseRunArgs(args, a.cfg.Server)
	if err := server.New(a.db, addr, a.logger).Start(ctx); err != nil {
		fatal(a.logger, "http server", err)
	}
}

func (a *app) cmdRun(ctx context.Context, args []string) {
	schedule, addr := parseRunArgs(args, a.cfg.Server)

	p := &scheduler.Pipeline{
		Ingest:    a.gate(),
		Sources:   a.cfg.EnabledFeeds(),
		BatchSize: a.cfg.Enrich.BatchSize,
		Logger:    a.logger,
	}
	if proc, err := a.processor(); err != nil {
		a.logger.Warn("enrichment disabled", "error", err)
	} else {
		p.Enrich = proc
	}
	if tg := a.notifier(); tg != nil {
		p.Notifier, p.Format = tg, telegram.FormatReport
	}

	// Start HTTP server in background
	srv := server.New(a.db, addr, a.logger)
	go func() {
		if err := srv.Start(ctx); err != nil {
			fatal(a.logger, "http server", err)
		}
	}()

	// Blocks until ctx is cancelled
	if err := scheduler.Run(ctx, p, schedule); err != nil {
		fatal(a.logger, "scheduler", err)
	}
}

// parseRunArgs reads the optional [cron-expr] [--addr=:8080] arguments.
func parseRunArgs(args []string, defaults config.ServerConfig) (schedule, addr string) {
	schedule, addr = defaults.Schedule, defaults.Addr
	for _, arg := range args {
		if v, ok := strings.CutPrefix(arg, "--addr="); ok {
			addr = v
		} else {
			schedule = arg
		}
	}
	return schedule, addr
}
