// Package enrich drives stored articles through the enrichment call.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/chyiyaqing/newsreader/internal/normalize"
	"github.com/chyiyaqing/newsreader/internal/store"
)

type Store interface {
	ReleaseStaleClaims(ctx context.Context, ttl time.Duration) (int64, error)
	EligibleArticles(ctx context.Context, limit int) ([]store.Article, error)
	ClaimArticle(ctx context.Context, id string) (bool, error)
	ReplaceArtifacts(ctx context.Context, articleID string, art store.Artifacts) error
	CompleteArticle(ctx context.Context, id string) error
	FailArticle(ctx context.Context, id, reason string) (int, error)
	ShouldEvict(failedCount int) bool
	EvictArticle(ctx context.Context, id string) ([]string, error)
}

// Enricher returns the model's raw answer for an article.
type Enricher interface {
	EnrichArticle(ctx context.Context, a store.Article) (string, error)
}

// Stats summarizes one enrichment run.
type Stats struct {
	Eligible  int
	Claimed   int
	Lost      int
	Processed int
	Failed    int
	Evicted   int
	Released  int64
	Warnings  int
}

func (s Stats) String() string {
	return fmt.Sprintf("eligible=%d claimed=%d lost=%d processed=%d failed=%d evicted=%d released=%d warnings=%d",
		s.Eligible, s.Claimed, s.Lost, s.Processed, s.Failed, s.Evicted, s.Released, s.Warnings)
}

type Processor struct {
	store    Store
	enricher Enricher
	claimTTL time.Duration
	logger   *slog.Logger
	remove   func(string) error
}

func NewProcessor(st Store, enricher Enricher, claimTTL time.Duration, logger *slog.Logger) *Processor {
	return &Processor{
		store:    st,
		enricher: enricher,
		claimTTL: claimTTL,
		logger:   logger.With("component", "enrich"),
		remove:   os.Remove,
	}
}

// Run enriches up to limit eligible articles, oldest first. Per-article failures
// are recorded on the article; only bookkeeping errors abort the run.
func (p *Processor) Run(ctx context.Context, limit int) (Stats, error) {
	var stats Stats

	released, err := p.store.ReleaseStaleClaims(ctx, p.claimTTL)
	if err != nil {
		return stats, fmt.Errorf("release stale claims: %w", err)
	}
	stats.Released = released
	if released > 0 {
		p.logger.Warn("released stale claims", "count", released, "ttl", p.claimTTL)
	}

	articles, err := p.store.EligibleArticles(ctx, limit)
	if err != nil {
		return stats, fmt.Errorf("list eligible articles: %w", err)
	}
	stats.Eligible = len(articles)

	for _, a := range articles {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		if err := p.process(ctx, a, &stats); err != nil {
			return stats, err
		}
	}

	p.logger.Info("enrichment finished", "stats", stats.String())
	return stats, nil
}

// process handles one article. A returned error means bookkeeping failed.
func (p *Processor) process(ctx context.Context, a store.Article, stats *Stats) error {
	log := p.logger.With("id", a.ID)

	won, err := p.store.ClaimArticle(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("claim %s: %w", a.ID, err)
	}
	if !won {
		log.Info("article claimed elsewhere, skipping")
		stats.Lost++
		return nil
	}
	stats.Claimed++

	art, warnings, enrichErr := p.enrich(ctx, a)
	stats.Warnings += len(warnings)
	for _, w := range warnings {
		log.Debug("normalize warning", "warning", w)
	}
	if enrichErr == nil {
		if err := p.store.CompleteArticle(ctx, a.ID); err != nil {
			return fmt.Errorf("complete %s: %w", a.ID, err)
		}
		stats.Processed++
		log.Info("article enriched", "summaries", len(art.Summaries), "questions", len(art.Questions), "comments", len(art.Comments))
		return nil
	}

	if errors.Is(enrichErr, context.Canceled) {
		// Interrupted, not failed: leave the claim for ReleaseStaleClaims.
		return enrichErr
	}
	return p.fail(ctx, a, enrichErr, stats)
}

func (p *Processor) enrich(ctx context.Context, a store.Article) (store.Artifacts, []string, error) {
	raw, err := p.enricher.EnrichArticle(ctx, a)
	if err != nil {
		return store.Artifacts{}, nil, fmt.Errorf("enrichment call: %w", err)
	}
	payload, err := normalize.Parse(raw)
	if err != nil {
		return store.Artifacts{}, nil, err
	}
	art, warnings := normalize.Normalize(payload)
	if art.Empty() {
		return art, warnings, errors.New("answer produced no artifacts")
	}
	if err := p.store.ReplaceArtifacts(ctx, a.ID, art); err != nil {
		return art, warnings, fmt.Errorf("store artifacts: %w", err)
	}
	return art, warnings, nil
}

func (p *Processor) fail(ctx context.Context, a store.Article, cause error, stats *Stats) error {
	log := p.logger.With("id", a.ID)
	stats.Failed++

	count, err := p.store.FailArticle(ctx, a.ID, cause.Error())
	if err != nil {
		return fmt.Errorf("record failure for %s: %w", a.ID, err)
	}
	log.Warn("enrichment failed", "failed_count", count, "error", cause)
	if !p.store.ShouldEvict(count) {
		return nil
	}

	paths, err := p.store.EvictArticle(ctx, a.ID)
	if err != nil {
		return fmt.Errorf("evict %s: %w", a.ID, err)
	}
	stats.Evicted++
	for _, path := range paths {
		if err := p.remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
			log.Warn("remove evicted image failed", "path", path, "error", err)
		}
	}
	log.Warn("article evicted after repeated failures", "failed_count", count, "images_removed", len(paths))
	return nil
}
