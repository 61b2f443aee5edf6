// Package ingest turns feed items into stored articles.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/chyiyaqing/newsreader/internal/config"
	"github.com/chyiyaqing/newsreader/internal/extract"
	"github.com/chyiyaqing/newsreader/internal/feed"
	"github.com/chyiyaqing/newsreader/internal/images"
	"github.com/chyiyaqing/newsreader/internal/store"
)

type Store interface {
	URLExists(ctx context.Context, url string) (bool, error)
	CreateArticle(ctx context.Context, a store.Article, day time.Time) (store.Article, error)
	SaveImage(ctx context.Context, img store.ArticleImage) error
}

type FeedFetcher interface {
	Fetch(ctx context.Context, url string, max int) ([]feed.Item, error)
}

type ContentExtractor interface {
	FromURL(ctx context.Context, pageURL string) extract.Result
	Extract(rawHTML, pageURL string) extract.Result
}

type ImageSelector interface {
	SelectFromURL(ctx context.Context, pageURL string, mode images.Mode, hints ...string) (*images.Image, error)
}

// Stats counts what happened to every item of a run.
type Stats struct {
	Feeds          int
	FeedErrors     int
	Fetched        int
	Filtered       int
	Duplicates     int
	LengthRejected int
	Created        int
	Images         int
	Errors         int
	Skipped        int
}

func (s *Stats) Add(o Stats) {
	s.Feeds += o.Feeds
	s.FeedErrors += o.FeedErrors
	s.Fetched += o.Fetched
	s.Filtered += o.Filtered
	s.Duplicates += o.Duplicates
	s.LengthRejected += o.LengthRejected
	s.Created += o.Created
	s.Images += o.Images
	s.Errors += o.Errors
	s.Skipped += o.Skipped
}

func (s Stats) String() string {
	return fmt.Sprintf("feeds=%d feed_errors=%d fetched=%d filtered=%d duplicates=%d length_rejected=%d created=%d images=%d errors=%d timed_out=%d",
		s.Feeds, s.FeedErrors, s.Fetched, s.Filtered, s.Duplicates, s.LengthRejected, s.Created, s.Images, s.Errors, s.Skipped)
}

type Gate struct {
	cfg       config.IngestConfig
	store     Store
	feeds     FeedFetcher
	extractor ContentExtractor
	images    ImageSelector
	logger    *slog.Logger
	now       func() time.Time
	sleep     func(context.Context, time.Duration) error
}

type Option func(*Gate)

func WithClock(now func() time.Time) Option {
	return func(g *Gate) { g.now = now }
}

// WithSleep replaces the politeness delay, mainly for tests.
func WithSleep(sleep func(context.Context, time.Duration) error) Option {
	return func(g *Gate) { g.sleep = sleep }
}

func NewGate(cfg config.IngestConfig, st Store, feeds FeedFetcher, extractor ContentExtractor, imgs ImageSelector, logger *slog.Logger, opts ...Option) *Gate {
	g := &Gate{
		cfg:       cfg,
		store:     st,
		feeds:     feeds,
		extractor: extractor,
		images:    imgs,
		logger:    logger.With("component", "ingest"),
		now:       time.Now,
		sleep:     sleepCtx,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run ingests every enabled source in order. A failing feed never stops the
// run; exhausting the day's article ids or cancellation does.
func (g *Gate) Run(ctx context.Context, sources []config.FeedSource) (Stats, error) {
	var total Stats
	for _, src := range sources {
		if !src.IsEnabled() {
			continue
		}
		st, err := g.IngestFeed(ctx, src)
		total.Add(st)
		if err != nil {
			return total, err
		}
	}
	g.logger.Info("ingest finished", "stats", total.String())
	return total, nil
}

// IngestFeed processes one source's items in feed order, within the per-feed timeout.
func (g *Gate) IngestFeed(ctx context.Context, src config.FeedSource) (Stats, error) {
	stats := Stats{Feeds: 1}
	log := g.logger.With("feed", src.Label())

	feedCtx := ctx
	if g.cfg.FeedTimeout > 0 {
		var cancel context.CancelFunc
		feedCtx, cancel = context.WithTimeout(ctx, g.cfg.FeedTimeout)
		defer cancel()
	}

	items, err := g.feeds.Fetch(feedCtx, src.URL, g.cfg.MaxItemsPerFeed)
	if err != nil {
		log.Warn("feed unavailable, treating as empty", "url", src.URL, "error", err)
		stats.FeedErrors++
		return stats, ctx.Err()
	}
	stats.Fetched = len(items)

	crawled := 0
	for i, item := range items {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if feedCtx.Err() != nil {
			stats.Skipped += len(items) - i
			log.Warn("feed timeout reached, skipping remaining items", "remaining", len(items)-i, "timeout", g.cfg.FeedTimeout)
			break
		}
		err := g.ingestItem(feedCtx, src, item, &stats, &crawled)
		if errors.Is(err, store.ErrDailyIDsExhausted) {
			return stats, err
		}
		if err != nil {
			if feedCtx.Err() != nil {
				stats.Skipped++
				continue
			}
			stats.Errors++
			log.Warn("item failed", "link", item.Link, "error", err)
		}
	}

	log.Info("feed ingested", "fetched", stats.Fetched, "created", stats.Created, "duplicates", stats.Duplicates,
		"filtered", stats.Filtered, "length_rejected", stats.LengthRejected, "images", stats.Images)
	return stats, nil
}

func (g *Gate) ingestItem(ctx context.Context, src config.FeedSource, item feed.Item, stats *Stats, crawled *int) error {
	log := g.logger.With("feed", src.Label(), "link", item.Link)

	if pattern, ok := isFiller(g.cfg.FillerPatterns, item.Title, item.Description, item.Link); ok {
		log.Debug("filtered as filler", "pattern", pattern)
		stats.Filtered++
		return nil
	}

	canonical, err := Canonicalize(item.Link)
	if err != nil {
		log.Debug("filtered: unusable link", "error", err)
		stats.Filtered++
		return nil
	}
	exists, err := g.store.URLExists(ctx, canonical)
	if err != nil {
		return err
	}
	if exists {
		stats.Duplicates++
		return nil
	}

	if *crawled > 0 && g.cfg.RequestDelay > 0 {
		if err := g.sleep(ctx, g.cfg.RequestDelay); err != nil {
			return err
		}
	}
	*crawled++

	content := g.extractor.FromURL(ctx, item.Link)
	if content.Empty() {
		content = g.extractor.Extract(item.Content, item.Link)
	}

	if isDialogue(content.Paragraphs, g.cfg.MinSpeakerLines, g.cfg.SpeakerRatio) {
		log.Debug("filtered as transcript")
		stats.Filtered++
		return nil
	}

	minLen := g.cfg.MinContentLength
	if v, ok := g.cfg.CategoryMinLength[strings.ToLower(src.Category)]; ok {
		minLen = v
	}
	if content.FullLength < minLen || (g.cfg.MaxContentLength > 0 && content.FullLength > g.cfg.MaxContentLength) {
		log.Debug("rejected by length", "length", content.FullLength, "min", minLen, "max", g.cfg.MaxContentLength)
		stats.LengthRejected++
		return nil
	}

	now := g.now().UTC()
	pubDate := item.PubDate
	if pubDate.IsZero() {
		pubDate = now
	}

	article, err := g.store.CreateArticle(ctx, store.Article{
		Title:       item.Title,
		URL:         canonical,
		Description: plainText(item.Description),
		Content:     content.Text,
		Source:      src.Label(),
		Category:    src.Category,
		PubDate:     pubDate,
		CrawlDate:   now,
	}, now)
	if errors.Is(err, store.ErrDuplicateURL) {
		stats.Duplicates++
		return nil
	}
	if err != nil {
		return err
	}
	stats.Created++
	log.Info("article created", "id", article.ID, "title", article.Title, "length", content.FullLength)

	if err := g.writeText(article); err != nil {
		log.Warn("write article text failed", "id", article.ID, "error", err)
	}

	var hints []string
	if item.ImageHint != "" {
		hints = append(hints, item.ImageHint)
	}
	img, err := g.images.SelectFromURL(ctx, item.Link, images.ModeBatch, hints...)
	if err != nil {
		log.Warn("image selection failed", "id", article.ID, "error", err)
		return nil
	}
	if img == nil {
		return nil
	}
	if err := g.store.SaveImage(ctx, store.ArticleImage{
		ArticleID: article.ID,
		SourceURL: img.SourceURL,
		LocalPath: img.LocalPath,
		ByteSize:  img.ByteSize,
	}); err != nil {
		log.Warn("save image failed", "id", article.ID, "error", err)
		return nil
	}
	stats.Images++
	return nil
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// writeText stores the body as <source>_<id>.txt when a text directory is configured.
func (g *Gate) writeText(a store.Article) error {
	if g.cfg.TextDir == "" {
		return nil
	}
	if err := os.MkdirAll(g.cfg.TextDir, 0o755); err != nil {
		return err
	}
	source := strings.Trim(unsafeFileChars.ReplaceAllString(a.Source, "_"), "_")
	if source == "" {
		source = "article"
	}
	name := fmt.Sprintf("%s_%s.txt", source, a.ID)
	body := a.Title + "\n\n" + a.Content + "\n"
	return os.WriteFile(filepath.Join(g.cfg.TextDir, name), []byte(body), 0o644)
}

func plainText(s string) string {
	if !strings.Contains(s, "<") {
		return strings.TrimSpace(s)
	}
	var parts []string
	for p := range extract.Paragraphs(s) {
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
