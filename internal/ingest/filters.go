package ingest

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// trackingParams are query keys stripped from canonical URLs. Keys ending in
// "_" match by prefix.
var trackingParams = []string{
	"utm_", "fbclid", "gclid", "dclid", "msclkid", "mc_cid", "mc_eid", "ocid", "cmpid",
	"smid", "smtyp", "at_medium", "at_campaign", "at_custom", "ref", "ref_src", "taid", "xtor",
}

// Canonicalize normalizes an article URL into its de-duplication key: lower-case
// scheme and host, no fragment, no tracking parameters, no trailing slash.
func Canonicalize(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("url %q is not absolute", raw)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""
	u.RawFragment = ""

	q := u.Query()
	for key := range q {
		if isTracking(strings.ToLower(key)) {
			q.Del(key)
		}
	}
	u.RawQuery = q.Encode()

	u.Path = strings.TrimRight(u.Path, "/")
	u.RawPath = ""
	return u.String(), nil
}

func isTracking(key string) bool {
	for _, p := range trackingParams {
		if strings.HasSuffix(p, "_") && strings.HasPrefix(key, p) || key == p {
			return true
		}
	}
	return false
}

// isFiller matches video, transcript and game pages by their title, summary or URL.
func isFiller(patterns []string, fields ...string) (string, bool) {
	haystack := strings.ToLower(strings.Join(fields, " "))
	for _, p := range patterns {
		if p = strings.ToLower(strings.TrimSpace(p)); p != "" && strings.Contains(haystack, p) {
			return p, true
		}
	}
	return "", false
}

// speakerRe matches a transcript line such as "JOHN SMITH: ..." or "Host: ...".
var speakerRe = regexp.MustCompile(`^(?:[A-Z][A-Za-z.'\-]*(?:\s+[A-Z][A-Za-z.'\-]*){0,3}|[A-Z][A-Z .'\-]{1,30}):\s`)

// isDialogue reports body text that reads like a transcript: at least minLines
// speaker-prefixed paragraphs making up at least ratio of all paragraphs.
func isDialogue(paragraphs []string, minLines int, ratio float64) bool {
	if len(paragraphs) == 0 || minLines <= 0 {
		return false
	}
	speakers := 0
	for _, p := range paragraphs {
		if speakerRe.MatchString(p) {
			speakers++
		}
	}
	return speakers >= minLines && float64(speakers)/float64(len(paragraphs)) >= ratio
}
