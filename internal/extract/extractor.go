package extract

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/chyiyaqing/newsreader/internal/config"
	readability "github.com/go-shiori/go-readability"
)

// maxPageBytes bounds how much of an article page is read.
const maxPageBytes = 5 << 20

// Result is the cleaned body of one article.
type Result struct {
	Paragraphs []string
	Text       string
	// FullLength is the rune count of the cleaned text before capping.
	FullLength int
}

func (r Result) Empty() bool {
	return len(r.Paragraphs) == 0
}

type Extractor struct {
	cleaner       Cleaner
	maxParagraphs int
	maxChars      int
	client        *http.Client
	userAgent     string
	logger        *slog.Logger
}

func New(cfg config.ExtractConfig, client *http.Client, userAgent string, logger *slog.Logger) *Extractor {
	if client == nil {
		client = http.DefaultClient
	}
	return &Extractor{
		cleaner:       NewCleaner(cfg.MinParagraphLength, cfg.Bylines, cfg.Boilerplate, cfg.StopMarkers),
		maxParagraphs: cfg.MaxParagraphs,
		maxChars:      cfg.MaxChars,
		client:        client,
		userAgent:     userAgent,
		logger:        logger.With("component", "extract"),
	}
}

// Extract cleans rawHTML. pageURL may be empty; it only helps byline detection.
func (e *Extractor) Extract(rawHTML, pageURL string) Result {
	cleaner := e.cleaner.WithByline(detectByline(rawHTML, pageURL))

	var all []string
	for p := range cleaner.Clean(Paragraphs(rawHTML)) {
		all = append(all, p)
	}
	if len(all) == 0 {
		return Result{}
	}

	full := strings.Join(all, "\n\n")
	kept := all
	if e.maxParagraphs > 0 && len(kept) > e.maxParagraphs {
		kept = kept[:e.maxParagraphs]
	}
	return Result{
		Paragraphs: kept,
		Text:       truncateRunes(strings.Join(kept, "\n\n"), e.maxChars),
		FullLength: utf8.RuneCountInString(full),
	}
}

// FromURL fetches pageURL and extracts it. Any failure yields an empty Result.
func (e *Extractor) FromURL(ctx context.Context, pageURL string) Result {
	body, err := e.fetch(ctx, pageURL)
	if err != nil {
		e.logger.Warn("fetch article page failed", "url", pageURL, "error", err)
		return Result{}
	}
	return e.Extract(body, pageURL)
}

func (e *Extractor) fetch(ctx context.Context, pageURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	req.Header.Set("User-Agent", e.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")

	resp, err := e.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxPageBytes))
	if err != nil {
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(data), nil
}

// detectByline asks readability for the document's author line. Failures are ignored.
func detectByline(rawHTML, pageURL string) string {
	var u *url.URL
	if pageURL != "" {
		u, _ = url.Parse(pageURL)
	}
	if u == nil {
		u = &url.URL{}
	}
	article, err := readability.FromReader(strings.NewReader(rawHTML), u)
	if err != nil {
		return ""
	}
	return strings.TrimPrefix(strings.TrimPrefix(strings.TrimSpace(article.Byline), "By "), "by ")
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
