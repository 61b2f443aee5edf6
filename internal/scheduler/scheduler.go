package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/chyiyaqing/newsreader/internal/config"
	"github.com/chyiyaqing/newsreader/internal/enrich"
	"github.com/chyiyaqing/newsreader/internal/ingest"
	"github.com/chyiyaqing/newsreader/internal/notify"
	"github.com/robfig/cron/v3"
)

const DefaultSchedule = "0 */6 * * *" // every 6 hours

type Ingester interface {
	Run(ctx context.Context, sources []config.FeedSource) (ingest.Stats, error)
}

type Enricher interface {
	Run(ctx context.Context, limit int) (enrich.Stats, error)
}

// Pipeline is one ingest pass followed by one enrichment pass.
type Pipeline struct {
	Ingest    Ingester
	Enrich    Enricher // nil skips enrichment
	Sources   []config.FeedSource
	BatchSize int

	// Notifier receives a formatted report after each run that did something.
	Notifier notify.Notifier
	Format   func(notify.Report) string

	Logger *slog.Logger
	Now    func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

// RunOnce executes the pipeline. A failed ingest does not prevent enrichment of
// articles already stored; cancellation stops both.
func (p *Pipeline) RunOnce(ctx context.Context) notify.Report {
	report := notify.Report{Command: "run", Started: p.now()}
	var errs []error

	p.Logger.Info("pipeline: ingesting", "feeds", len(p.Sources))
	ist, err := p.Ingest.Run(ctx, p.Sources)
	report.Ingest = &ist
	if err != nil {
		p.Logger.Error("pipeline: ingest", "error", err)
		errs = append(errs, fmt.Errorf("ingest: %w", err))
	}

	if p.Enrich != nil && ctx.Err() == nil {
		p.Logger.Info("pipeline: enriching", "batch", p.BatchSize)
		est, err := p.Enrich.Run(ctx, p.BatchSize)
		report.Enrich = &est
		if err != nil {
			p.Logger.Error("pipeline: enrich", "error", err)
			errs = append(errs, fmt.Errorf("enrich: %w", err))
		}
	}

	report.Err = errors.Join(errs...)
	report.Finished = p.now()
	p.notify(ctx, report)
	p.Logger.Info("pipeline: done", "took", report.Finished.Sub(report.Started).Round(time.Millisecond))
	return report
}

func (p *Pipeline) notify(ctx context.Context, report notify.Report) {
	if p.Notifier == nil || p.Format == nil {
		return
	}
	if report.Quiet() {
		p.Logger.Info("pipeline: nothing new to notify")
		return
	}
	if err := p.Notifier.Send(ctx, "", p.Format(report)); err != nil {
		p.Logger.Warn("pipeline: notify", "error", err)
	}
}

// Run executes the pipeline immediately, then on schedule until ctx is
// cancelled. A run still in progress when the next tick fires is not overlapped.
func Run(ctx context.Context, p *Pipeline, schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	logger := cronLogger{p.Logger.With("component", "cron")}

	c := cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(schedule, func() { p.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("schedule %q: %w", schedule, err)
	}

	p.Logger.Info("running initial pipeline")
	p.RunOnce(ctx)

	c.Start()
	p.Logger.Info("scheduler started", "schedule", schedule)

	<-ctx.Done()
	<-c.Stop().Done()
	return nil
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	l *slog.Logger
}

func (c cronLogger) Info(msg string, keysAndValues ...any) {
	c.l.Debug(msg, keysAndValues...)
}

func (c cronLogger) Error(err error, msg string, keysAndValues ...any) {
	c.l.Error(msg, append(keysAndValues, "error", err)...)
}
