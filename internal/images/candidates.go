// Package images picks and downloads one representative image per article.
package images

import (
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

var metaImageKeys = []string{
	"og:image", "og:image:url", "og:image:secure_url", "twitter:image", "twitter:image:src",
}

// Candidates lists image URLs found in rawHTML in priority order: social meta
// tags, <picture> sources, then <img> tags, then the given hints. URLs are
// resolved against pageURL and de-duplicated.
func Candidates(rawHTML, pageURL string, hints ...string) []string {
	base, _ := url.Parse(pageURL)
	var (
		out  []string
		seen = map[string]bool{}
	)
	add := func(raw string) {
		u := resolve(base, raw)
		if u == "" || seen[u] {
			return
		}
		seen[u] = true
		out = append(out, u)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(rawHTML))
	if err == nil {
		for _, key := range metaImageKeys {
			doc.Find("meta").Each(func(_ int, m *goquery.Selection) {
				prop := m.AttrOr("property", m.AttrOr("name", ""))
				if strings.EqualFold(prop, key) {
					add(m.AttrOr("content", ""))
				}
			})
		}
		doc.Find("picture source[srcset]").Each(func(_ int, s *goquery.Selection) {
			add(BestSrcset(s.AttrOr("srcset", "")))
		})
		doc.Find("img").Each(func(_ int, img *goquery.Selection) {
			for _, attr := range []string{"src", "data-src", "data-original"} {
				add(img.AttrOr(attr, ""))
			}
			add(BestSrcset(img.AttrOr("srcset", "")))
		})
	}

	for _, h := range hints {
		add(h)
	}
	return out
}

// BestSrcset returns the entry with the largest width or density descriptor.
func BestSrcset(srcset string) string {
	var (
		best  string
		score float64 = -1
	)
	for _, entry := range strings.Split(srcset, ",") {
		fields := strings.Fields(entry)
		if len(fields) == 0 {
			continue
		}
		v := 1.0
		if len(fields) > 1 {
			d := strings.ToLower(fields[len(fields)-1])
			if n, err := strconv.ParseFloat(strings.TrimRight(d, "wx"), 64); err == nil {
				v = n
			}
		}
		if v > score {
			best, score = fields[0], v
		}
	}
	return best
}

// Rejected reports candidates that are skipped without a request: likely logos,
// icons and placeholders, and any PNG.
func Rejected(candidate string, denyTokens []string) bool {
	p := candidate
	if u, err := url.Parse(candidate); err == nil {
		p = u.Path
	}
	p = strings.ToLower(p)
	if path.Ext(p) == ".png" {
		return true
	}
	for _, tok := range denyTokens {
		if tok != "" && strings.Contains(p, strings.ToLower(tok)) {
			return true
		}
	}
	return false
}

func resolve(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "data:") {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		u = base.ResolveReference(u)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	return u.String()
}
