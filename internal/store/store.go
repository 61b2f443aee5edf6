package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
)

// timeFormat is fixed-width UTC so that string comparison in SQL orders correctly.
const timeFormat = "2006-01-02 15:04:05-07:00"

const defaultMaxFailures = 3

var (
	ErrNotFound          = errors.New("store: article not found")
	ErrDuplicateURL      = errors.New("store: article url already stored")
	ErrDailyIDsExhausted = errors.New("store: more than 99 articles for one day")
	ErrNotClaimed        = errors.New("store: article is not claimed")
	ErrNotEvictable      = errors.New("store: article has not exceeded the failure threshold")
)

type Article struct {
	ID          string         `db:"id"`
	Title       string         `db:"title"`
	URL         string         `db:"url"`
	Description string         `db:"description"`
	Content     string         `db:"content"`
	Source      string         `db:"source"`
	Category    string         `db:"category"`
	PubDate     time.Time      `db:"pub_date"`
	CrawlDate   time.Time      `db:"crawl_date"`
	Processed   bool           `db:"processed"`
	InProgress  bool           `db:"in_progress"`
	FailedCount int            `db:"failed_count"`
	LastError   sql.NullString `db:"last_error"`
}

type ArticleImage struct {
	ArticleID      string         `db:"article_id"`
	SourceURL      string         `db:"source_url"`
	LocalPath      string         `db:"local_path"`
	CompressedPath sql.NullString `db:"compressed_path"`
	ByteSize       int64          `db:"byte_size"`
}

// Status names accepted by ListArticles.
const (
	StatusPending    = "pending"
	StatusInProgress = "in_progress"
	StatusProcessed  = "processed"
	StatusFailed     = "failed"
)

// Status reports the article's lifecycle state using the ListArticles names.
// A failed article may still be eligible for another attempt.
func (a Article) Status() string {
	switch {
	case a.Processed:
		return StatusProcessed
	case a.InProgress:
		return StatusInProgress
	case a.FailedCount > 0:
		return StatusFailed
	default:
		return StatusPending
	}
}

type Store struct {
	db          *sqlx.DB
	maxFailures int
	now         func() time.Time
}

type Option func(*Store)

// WithMaxFailures sets how many recorded failures an article survives. The failure that
// pushes failed_count above n evicts it.
func WithMaxFailures(n int) Option {
	return func(s *Store) { s.maxFailures = n }
}

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

func New(dbPath string, opts ...Option) (*Store, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
	}

	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// SQLite only allows one writer at a time. Limit pool to 1 connection
	// so callers queue at the Go level instead of hitting SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	s := &Store{db: db, maxFailures: defaultMaxFailures, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// MaxFailures reports the configured eviction threshold.
func (s *Store) MaxFailures() int {
	return s.maxFailures
}

func (s *Store) migrate() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS articles (
			id           TEXT PRIMARY KEY,
			title        TEXT NOT NULL,
			url          TEXT NOT NULL UNIQUE,
			description  TEXT NOT NULL DEFAULT '',
			content      TEXT NOT NULL DEFAULT '',
			source       TEXT NOT NULL DEFAULT '',
			category     TEXT NOT NULL DEFAULT '',
			pub_date     DATETIME NOT NULL,
			crawl_date   DATETIME NOT NULL,
			processed    INTEGER NOT NULL DEFAULT 0,
			in_progress  INTEGER NOT NULL DEFAULT 0,
			failed_count INTEGER NOT NULL DEFAULT 0,
			last_error   TEXT,
			claimed_at   DATETIME,
			processed_at DATETIME
		);

		CREATE INDEX IF NOT EXISTS idx_articles_state ON articles(processed, in_progress, failed_count);

		CREATE TABLE IF NOT EXISTS article_images (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			article_id      TEXT NOT NULL UNIQUE REFERENCES articles(id) ON DELETE CASCADE,
			source_url      TEXT NOT NULL,
			local_path      TEXT NOT NULL,
			compressed_path TEXT,
			byte_size       INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS article_summaries (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			article_id TEXT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
			language   TEXT NOT NULL,
			difficulty TEXT NOT NULL,
			summary    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS keywords (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			article_id  TEXT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
			difficulty  TEXT NOT NULL,
			term        TEXT NOT NULL,
			frequency   INTEGER NOT NULL DEFAULT 0,
			explanation TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS questions (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			article_id TEXT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
			difficulty TEXT NOT NULL,
			question   TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS choices (
			id          INTEGER PRIMARY KEY AUTOINCREMENT,
			question_id INTEGER NOT NULL REFERENCES questions(id) ON DELETE CASCADE,
			article_id  TEXT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
			position    INTEGER NOT NULL DEFAULT 0,
			choice_text TEXT NOT NULL,
			is_correct  INTEGER NOT NULL DEFAULT 0,
			explanation TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS background_read (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			article_id TEXT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
			difficulty TEXT NOT NULL,
			content    TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS comments (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			article_id TEXT NOT NULL REFERENCES articles(id) ON DELETE CASCADE,
			difficulty TEXT NOT NULL,
			who        TEXT NOT NULL,
			attitude   TEXT NOT NULL,
			content    TEXT NOT NULL
		);

		CREATE VIEW IF NOT EXISTS article_analysis AS
			SELECT id, article_id, difficulty, who, attitude, content FROM comments;

		CREATE INDEX IF NOT EXISTS idx_summaries_article ON article_summaries(article_id, difficulty);
		CREATE INDEX IF NOT EXISTS idx_keywords_article ON keywords(article_id, difficulty);
		CREATE INDEX IF NOT EXISTS idx_questions_article ON questions(article_id, difficulty);
		CREATE INDEX IF NOT EXISTS idx_choices_question ON choices(question_id);
		CREATE INDEX IF NOT EXISTS idx_background_article ON background_read(article_id, difficulty);
		CREATE INDEX IF NOT EXISTS idx_comments_article ON comments(article_id, difficulty);
	`)
	return err
}

func (s *Store) stamp(t time.Time) string {
	return t.UTC().Format(timeFormat)
}

var articleColumns = []string{
	"id", "title", "url", "description", "content", "source", "category",
	"pub_date", "crawl_date", "processed", "in_progress", "failed_count", "last_error",
}

// URLExists reports whether an article with this canonical URL is stored.
func (s *Store) URLExists(ctx context.Context, url string) (bool, error) {
	query, args, err := sq.Select("COUNT(*)").From("articles").Where(sq.Eq{"url": url}).ToSql()
	if err != nil {
		return false, err
	}
	var n int
	if err := s.db.GetContext(ctx, &n, query, args...); err != nil {
		return false, fmt.Errorf("check url: %w", err)
	}
	return n > 0, nil
}

// NextArticleID returns the next free id of the form YYYYMMDDnn for day.
func (s *Store) NextArticleID(ctx context.Context, day time.Time) (string, error) {
	prefix := day.Format("20060102")
	query, args, err := sq.Select("id").From("articles").
		Where(sq.Like{"id": prefix + "__"}).
		OrderBy("id DESC").Limit(1).ToSql()
	if err != nil {
		return "", err
	}

	var last string
	err = s.db.GetContext(ctx, &last, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return prefix + "01", nil
	}
	if err != nil {
		return "", fmt.Errorf("last id for %s: %w", prefix, err)
	}

	seq, err := strconv.Atoi(last[len(prefix):])
	if err != nil {
		return "", fmt.Errorf("malformed article id %q: %w", last, err)
	}
	if seq >= 99 {
		return "", fmt.Errorf("%w: %s", ErrDailyIDsExhausted, prefix)
	}
	return fmt.Sprintf("%s%02d", prefix, seq+1), nil
}

// CreateArticle assigns an id for day and inserts the article. It returns ErrDuplicateURL
// when the URL is already stored and retries when another writer took the id first.
func (s *Store) CreateArticle(ctx context.Context, a Article, day time.Time) (Article, error) {
	for attempt := 0; attempt < 3; attempt++ {
		id, err := s.NextArticleID(ctx, day)
		if err != nil {
			return Article{}, err
		}
		a.ID = id

		query, args, err := sq.Insert("articles").
			Columns("id", "title", "url", "description", "content", "source", "category", "pub_date", "crawl_date").
			Values(a.ID, a.Title, a.URL, a.Description, a.Content, a.Source, a.Category, s.stamp(a.PubDate), s.stamp(a.CrawlDate)).
			Suffix("ON CONFLICT DO NOTHING").ToSql()
		if err != nil {
			return Article{}, err
		}
		res, err := s.db.ExecContext(ctx, query, args...)
		if err != nil {
			return Article{}, fmt.Errorf("insert article %s: %w", a.URL, err)
		}
		if n, _ := res.RowsAffected(); n == 1 {
			return a, nil
		}

		exists, err := s.URLExists(ctx, a.URL)
		if err != nil {
			return Article{}, err
		}
		if exists {
			return Article{}, ErrDuplicateURL
		}
	}
	return Article{}, fmt.Errorf("insert article %s: id collisions persisted", a.URL)
}

// GetArticle returns a single article by id.
func (s *Store) GetArticle(ctx context.Context, id string) (*Article, error) {
	query, args, err := sq.Select(articleColumns...).From("articles").Where(sq.Eq{"id": id}).ToSql()
	if err != nil {
		return nil, err
	}
	var a Article
	err = s.db.GetContext(ctx, &a, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get article %s: %w", id, err)
	}
	return &a, nil
}

// ListArticles returns the newest articles, optionally narrowed to one status.
func (s *Store) ListArticles(ctx context.Context, status string, limit int) ([]Article, error) {
	b := sq.Select(articleColumns...).From("articles").OrderBy("crawl_date DESC", "id DESC")
	switch status {
	case "":
	case StatusPending:
		b = b.Where(s.eligible())
	case StatusInProgress:
		b = b.Where(sq.Eq{"in_progress": 1})
	case StatusProcessed:
		b = b.Where(sq.Eq{"processed": 1})
	case StatusFailed:
		b = b.Where(sq.And{sq.Eq{"processed": 0}, sq.Gt{"failed_count": 0}})
	default:
		return nil, fmt.Errorf("unsupported status: %s", status)
	}
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.selectArticles(ctx, b)
}

// EligibleArticles lists articles that could be claimed right now, oldest first.
func (s *Store) EligibleArticles(ctx context.Context, limit int) ([]Article, error) {
	b := sq.Select(articleColumns...).From("articles").Where(s.eligible()).OrderBy("crawl_date ASC", "id ASC")
	if limit > 0 {
		b = b.Limit(uint64(limit))
	}
	return s.selectArticles(ctx, b)
}

func (s *Store) selectArticles(ctx context.Context, b sq.SelectBuilder) ([]Article, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, err
	}
	var articles []Article
	if err := s.db.SelectContext(ctx, &articles, query, args...); err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}
	return articles, nil
}

// SaveImage records the article's image. The first image saved for an article wins.
func (s *Store) SaveImage(ctx context.Context, img ArticleImage) error {
	query, args, err := sq.Insert("article_images").
		Columns("article_id", "source_url", "local_path", "compressed_path", "byte_size").
		Values(img.ArticleID, img.SourceURL, img.LocalPath, img.CompressedPath, img.ByteSize).
		Suffix("ON CONFLICT(article_id) DO NOTHING").ToSql()
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save image for %s: %w", img.ArticleID, err)
	}
	return nil
}

// GetImage returns the article's image, or nil when it has none.
func (s *Store) GetImage(ctx context.Context, articleID string) (*ArticleImage, error) {
	query, args, err := sq.Select("article_id", "source_url", "local_path", "compressed_path", "byte_size").
		From("article_images").Where(sq.Eq{"article_id": articleID}).ToSql()
	if err != nil {
		return nil, err
	}
	var img ArticleImage
	err = s.db.GetContext(ctx, &img, query, args...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get image for %s: %w", articleID, err)
	}
	return &img, nil
}
