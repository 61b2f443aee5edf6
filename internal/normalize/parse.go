// Package normalize maps the loosely structured enrichment JSON onto store artifacts.
package normalize

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrNoJSONObject is returned when the answer holds no JSON object at all.
var ErrNoJSONObject = errors.New("normalize: no JSON object in answer")

// Payload is the decoded answer before any field resolution.
type Payload map[string]any

var codeFenceRe = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\n?(.*?)\\s*```")

// Parse extracts the first JSON object from a model answer. It tolerates
// Markdown code fences, prose around the object and typographic quotes.
func Parse(raw string) (Payload, error) {
	s := stripCodeFence(raw)

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSONObject
	}
	s = s[start : end+1]

	var p Payload
	err := json.Unmarshal([]byte(s), &p)
	if err == nil {
		return p, nil
	}
	if err2 := json.Unmarshal([]byte(sanitizeJSON(s)), &p); err2 == nil {
		return p, nil
	}
	return nil, fmt.Errorf("decode answer: %w", err)
}

// stripCodeFence returns the body of the first fenced block, or s unchanged.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if m := codeFenceRe.FindStringSubmatch(s); len(m) == 2 && strings.Contains(m[1], "{") {
		return strings.TrimSpace(m[1])
	}
	return s
}

// sanitizeJSON replaces Unicode smart quotes that models sometimes emit as JSON
// delimiters with their ASCII equivalents.
func sanitizeJSON(s string) string {
	return strings.NewReplacer(
		"“", `"`,
		"”", `"`,
		"‘", "'",
		"’", "'",
	).Replace(s)
}
