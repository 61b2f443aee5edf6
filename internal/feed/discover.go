package feed

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// commonFeedPaths are probed when a site does not advertise its feed.
var commonFeedPaths = []string{"/feed", "/rss", "/atom.xml", "/feed.xml", "/rss.xml", "/index.xml", "/feeds/all.atom.xml"}

var feedTypes = []string{"application/rss+xml", "application/atom+xml", "application/feed+json", "application/xml", "text/xml"}

// Discover finds feed URLs for a site, for filling in the feeds config. Feeds
// advertised with <link rel="alternate"> come first; otherwise the common
// paths are probed and the first one that parses is returned.
func (f *Fetcher) Discover(ctx context.Context, site string) ([]string, error) {
	if !strings.Contains(site, "://") {
		site = "https://" + site
	}
	base, err := url.Parse(site)
	if err != nil || base.Host == "" {
		return nil, fmt.Errorf("invalid site %q", site)
	}

	if advertised, err := f.advertised(ctx, base); err == nil && len(advertised) > 0 {
		return advertised, nil
	}

	for _, path := range commonFeedPaths {
		candidate := base.ResolveReference(&url.URL{Path: path}).String()
		if items, err := f.Fetch(ctx, candidate, 1); err == nil && len(items) > 0 {
			return []string{candidate}, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("no feed found for %s", base.Host)
}

func (f *Fetcher) advertised(ctx context.Context, base *url.URL) ([]string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base.String(), nil)
	if err != nil {
		return nil, err
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(io.LimitReader(resp.Body, 2<<20))
	if err != nil {
		return nil, err
	}

	var feeds []string
	seen := map[string]bool{}
	doc.Find(`link[rel~="alternate"][href]`).Each(func(_ int, s *goquery.Selection) {
		typ := strings.ToLower(strings.TrimSpace(s.AttrOr("type", "")))
		if !slices.Contains(feedTypes, typ) {
			return
		}
		ref, err := url.Parse(strings.TrimSpace(s.AttrOr("href", "")))
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref).String()
		if !seen[abs] {
			seen[abs] = true
			feeds = append(feeds, abs)
		}
	})
	return feeds, nil
}
