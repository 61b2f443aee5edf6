package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
)

// eligible is the claimable predicate: not done, not owned, still under the failure threshold.
func (s *Store) eligible() sq.And {
	return sq.And{
		sq.Eq{"processed": 0},
		sq.Eq{"in_progress": 0},
		sq.LtOrEq{"failed_count": s.maxFailures},
	}
}

// ClaimArticle marks the article in progress if it is still eligible. The single conditional
// UPDATE is the compare-and-swap: exactly one concurrent caller sees a row affected.
func (s *Store) ClaimArticle(ctx context.Context, id string) (bool, error) {
	query, args, err := sq.Update("articles").
		Set("in_progress", 1).
		Set("claimed_at", s.stamp(s.now())).
		Where(sq.Eq{"id": id}).
		Where(s.eligible()).
		ToSql()
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim %s: %w", id, err)
	}
	return n == 1, nil
}

// CompleteArticle marks a claimed article processed and releases the claim.
func (s *Store) CompleteArticle(ctx context.Context, id string) error {
	query, args, err := sq.Update("articles").
		Set("processed", 1).
		Set("in_progress", 0).
		Set("processed_at", s.stamp(s.now())).
		Set("claimed_at", nil).
		Set("last_error", nil).
		Where(sq.Eq{"id": id, "in_progress": 1}).
		ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("complete %s: %w", id, ErrNotClaimed)
	}
	return nil
}

// FailArticle records a failed enrichment attempt, releases the claim and returns the new
// failure count. Callers evict when ShouldEvict reports true for that count. An article
// that is not claimed yields ErrNotClaimed and its count is left alone.
func (s *Store) FailArticle(ctx context.Context, id, reason string) (int, error) {
	query, args, err := sq.Update("articles").
		Set("failed_count", sq.Expr("failed_count + 1")).
		Set("last_error", reason).
		Set("in_progress", 0).
		Set("claimed_at", nil).
		Where(sq.Eq{"id": id, "processed": 0, "in_progress": 1}).
		Suffix("RETURNING failed_count").
		ToSql()
	if err != nil {
		return 0, err
	}
	var count int
	err = s.db.QueryRowxContext(ctx, query, args...).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("fail %s: %w", id, ErrNotClaimed)
	}
	if err != nil {
		return 0, fmt.Errorf("fail %s: %w", id, err)
	}
	return count, nil
}

// ShouldEvict reports whether failedCount is past the threshold.
func (s *Store) ShouldEvict(failedCount int) bool {
	return failedCount > s.maxFailures
}

// EvictArticle hard-deletes an article that exceeded the failure threshold together with every
// dependent row. It returns the local image paths that belonged to it.
func (s *Store) EvictArticle(ctx context.Context, id string) ([]string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	var images []ArticleImage
	if err := tx.SelectContext(ctx, &images,
		`SELECT article_id, source_url, local_path, compressed_path, byte_size FROM article_images WHERE article_id = ?`, id); err != nil {
		return nil, fmt.Errorf("evict %s: list images: %w", id, err)
	}

	query, args, err := sq.Delete("articles").
		Where(sq.Eq{"id": id}).
		Where(sq.Gt{"failed_count": s.maxFailures}).
		ToSql()
	if err != nil {
		return nil, err
	}
	res, err := tx.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("evict %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fmt.Errorf("evict %s: %w", id, ErrNotEvictable)
	}

	// Foreign keys cascade, but dependents are cleared explicitly so eviction does not
	// depend on the pragma being honoured by every connection.
	for _, table := range dependentTables {
		if _, err := tx.ExecContext(ctx, "DELETE FROM "+table+" WHERE article_id = ?", id); err != nil {
			return nil, fmt.Errorf("evict %s: clear %s: %w", id, table, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	var paths []string
	for _, img := range images {
		paths = append(paths, img.LocalPath)
		if img.CompressedPath.Valid && img.CompressedPath.String != "" {
			paths = append(paths, img.CompressedPath.String)
		}
	}
	return paths, nil
}

// dependentTables is ordered children first.
var dependentTables = []string{
	"choices", "questions", "keywords", "article_summaries", "background_read", "comments", "article_images",
}

// ReleaseStaleClaims clears claims older than ttl, left behind by a crashed worker.
func (s *Store) ReleaseStaleClaims(ctx context.Context, ttl time.Duration) (int64, error) {
	if ttl <= 0 {
		return 0, nil
	}
	cutoff := s.stamp(s.now().Add(-ttl))
	query, args, err := sq.Update("articles").
		Set("in_progress", 0).
		Set("claimed_at", nil).
		Where(sq.Eq{"in_progress": 1, "processed": 0}).
		Where(sq.Lt{"claimed_at": cutoff}).
		ToSql()
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return res.RowsAffected()
}
