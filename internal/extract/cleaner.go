package extract

import (
	"iter"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	maxBylineWords     = 8
	maxShoutWords      = 6
	maxStopMarkerRunes = 160
)

// Cleaner filters a paragraph sequence down to article body text.
type Cleaner struct {
	MinLength   int
	Bylines     []string
	Boilerplate []string
	StopMarkers []string
}

// NewCleaner lower-cases the configured tables once.
func NewCleaner(minLength int, bylines, boilerplate, stopMarkers []string) Cleaner {
	return Cleaner{
		MinLength:   minLength,
		Bylines:     lowerAll(bylines),
		Boilerplate: lowerAll(boilerplate),
		StopMarkers: lowerAll(stopMarkers),
	}
}

// WithByline returns a copy that also drops paragraphs naming author.
func (c Cleaner) WithByline(author string) Cleaner {
	author = strings.ToLower(collapse(author))
	if author == "" {
		return c
	}
	bylines := make([]string, 0, len(c.Bylines)+2)
	bylines = append(bylines, c.Bylines...)
	c.Bylines = append(bylines, author, "by "+author)
	return c
}

// Clean drops short paragraphs, bylines and boilerplate, stops at the first
// comment-section or copyright marker and collapses consecutive duplicates.
func (c Cleaner) Clean(paras iter.Seq[string]) iter.Seq[string] {
	return func(yield func(string) bool) {
		var prev string
		for p := range paras {
			p = collapse(p)
			lower := strings.ToLower(p)
			if c.isStopMarker(lower) {
				return
			}
			if utf8.RuneCountInString(p) < c.MinLength {
				continue
			}
			if c.isByline(p, lower) || c.isBoilerplate(lower) {
				continue
			}
			if p == prev {
				continue
			}
			prev = p
			if !yield(p) {
				return
			}
		}
	}
}

func (c Cleaner) isStopMarker(lower string) bool {
	if utf8.RuneCountInString(lower) > maxStopMarkerRunes {
		return false
	}
	for _, m := range c.StopMarkers {
		if strings.HasPrefix(lower, m) {
			return true
		}
	}
	return false
}

func (c Cleaner) isByline(p, lower string) bool {
	words := strings.Fields(p)
	for _, b := range c.Bylines {
		if lower == b {
			return true
		}
	}
	if len(words) <= maxBylineWords && strings.HasPrefix(lower, "by ") {
		return true
	}
	if len(words) <= maxShoutWords && isShouting(p) {
		return true
	}
	return isRepeated(words)
}

func (c Cleaner) isBoilerplate(lower string) bool {
	for _, b := range c.Boilerplate {
		if strings.Contains(lower, b) {
			return true
		}
	}
	return false
}

// isShouting reports an all-caps phrase, the usual shape of a wire byline.
// Scripts without letter case (Han, kana) never count as shouting.
func isShouting(p string) bool {
	upper := 0
	for _, r := range p {
		switch {
		case unicode.IsLower(r):
			return false
		case unicode.IsUpper(r):
			upper++
		}
	}
	return upper > 0
}

// isRepeated catches names duplicated by collapsed markup, e.g. "Jane Doe Jane Doe".
func isRepeated(words []string) bool {
	n := len(words)
	if n < 2 || n%2 != 0 || n > 2*maxShoutWords {
		return false
	}
	half := n / 2
	for i := 0; i < half; i++ {
		if !strings.EqualFold(words[i], words[half+i]) {
			return false
		}
	}
	return true
}

func lowerAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.ToLower(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
