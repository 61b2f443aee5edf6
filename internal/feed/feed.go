// Package feed fetches RSS and Atom feeds into raw items.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/araddon/dateparse"
	"github.com/mmcdole/gofeed"
)

// Item is one raw feed entry, before any filtering.
type Item struct {
	Title       string
	Link        string
	Description string
	// PubDate is zero when the feed carried no parseable date.
	PubDate    time.Time
	PubDateRaw string
	Content    string
	ImageHint  string
}

type Fetcher struct {
	client    *http.Client
	userAgent string
}

func NewFetcher(client *http.Client, userAgent string) *Fetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Fetcher{client: client, userAgent: userAgent}
}

// Fetch returns at most max items in feed order. On any network or parse
// failure it returns no items and the error.
func (f *Fetcher) Fetch(ctx context.Context, url string, max int) ([]Item, error) {
	fp := gofeed.NewParser()
	fp.Client = f.client
	fp.UserAgent = f.userAgent

	parsed, err := fp.ParseURLWithContext(url, ctx)
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}

	items := make([]Item, 0, len(parsed.Items))
	for _, it := range parsed.Items {
		if max > 0 && len(items) >= max {
			break
		}
		items = append(items, convert(it))
	}
	return items, nil
}

func convert(it *gofeed.Item) Item {
	link := strings.TrimSpace(it.Link)
	if link == "" && len(it.Links) > 0 {
		link = strings.TrimSpace(it.Links[0])
	}

	raw := it.Published
	if raw == "" {
		raw = it.Updated
	}

	return Item{
		Title:       strings.TrimSpace(it.Title),
		Link:        link,
		Description: strings.TrimSpace(it.Description),
		PubDate:     pubDate(it, raw),
		PubDateRaw:  raw,
		Content:     preferredContent(it),
		ImageHint:   imageHint(it),
	}
}

func pubDate(it *gofeed.Item, raw string) time.Time {
	switch {
	case it.PublishedParsed != nil:
		return it.PublishedParsed.UTC()
	case it.UpdatedParsed != nil:
		return it.UpdatedParsed.UTC()
	case raw != "":
		if t, err := dateparse.ParseAny(strings.TrimSpace(raw)); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// preferredContent picks content:encoded (or Atom content) over the summary.
func preferredContent(it *gofeed.Item) string {
	if c := strings.TrimSpace(it.Content); c != "" {
		return c
	}
	return strings.TrimSpace(it.Description)
}

func imageHint(it *gofeed.Item) string {
	if it.Image != nil && it.Image.URL != "" {
		return it.Image.URL
	}
	for _, enc := range it.Enclosures {
		if enc != nil && strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	for _, name := range []string{"content", "thumbnail"} {
		for _, ext := range it.Extensions["media"][name] {
			if u := ext.Attrs["url"]; u != "" {
				return u
			}
		}
	}
	return ""
}
