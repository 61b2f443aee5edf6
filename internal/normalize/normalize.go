package normalize

import (
	"fmt"
	"maps"
	"regexp"
	"slices"
	"strings"
	"unicode"

	"github.com/chyiyaqing/newsreader/internal/store"
)

var (
	// answerLetterRe matches "B", "b)", "(B)" and "B. text".
	answerLetterRe = regexp.MustCompile(`^\(?([A-Za-z])\)?(?:[.:)]|\s|$)`)
	// optionLabelRe matches a leading "A. ", "A) " or "(A) " on option text.
	optionLabelRe = regexp.MustCompile(`^(?:\(?[A-Za-z][.:)]\)?\s+|\([A-Za-z]\)\s*)`)
)

// Normalize resolves a payload into artifacts. Malformed parts are skipped and
// reported as warnings; it never fails outright.
func Normalize(p Payload) (store.Artifacts, []string) {
	n := &normalizer{}

	top := map[string]any(p)
	containers := []map[string]any{top}
	if c, ok := lookupMap(top, containerKeys); ok {
		containers = []map[string]any{c, top}
	}

	levels := n.collectLevels(containers)
	for _, lvl := range store.Levels {
		if body, ok := levels[lvl]; ok {
			n.level(lvl, body)
		}
	}

	// Commentary outside any level belongs to the article and is filed under mid.
	for _, c := range containers {
		if n.commentary(store.LevelMid, c) {
			break
		}
	}

	if n.art.Empty() {
		n.warn("payload produced no artifacts")
	}
	return n.art, n.warnings
}

type normalizer struct {
	art      store.Artifacts
	warnings []string
}

func (n *normalizer) warn(format string, args ...any) {
	n.warnings = append(n.warnings, fmt.Sprintf(format, args...))
}

// collectLevels merges the nested shape (levels.<name>) and the flat shape
// (<field>_<level>) into one field map per canonical level. Nested wins.
func (n *normalizer) collectLevels(containers []map[string]any) map[string]map[string]any {
	out := map[string]map[string]any{}
	put := func(lvl string, body map[string]any) {
		if _, dup := out[lvl]; !dup {
			out[lvl] = maps.Clone(body)
		}
	}

	for _, c := range containers {
		if v, ok := lookup(c, levelsKeys); ok {
			switch t := v.(type) {
			case map[string]any:
				for _, name := range slices.Sorted(maps.Keys(t)) {
					lvl, known := canonicalLevel(name)
					body, isMap := t[name].(map[string]any)
					if !known || !isMap {
						n.warn("skipping level %q", name)
						continue
					}
					put(lvl, body)
				}
			case []any:
				for i, e := range t {
					body, isMap := e.(map[string]any)
					if !isMap {
						n.warn("skipping level entry %d", i)
						continue
					}
					lvl, known := canonicalLevel(lookupString(body, levelNameKeys))
					if !known {
						n.warn("skipping level entry %d: unknown level", i)
						continue
					}
					put(lvl, body)
				}
			default:
				n.warn("levels has unexpected type %T", v)
			}
		}

		for key, val := range c {
			base, lvl, ok := splitLevelSuffix(key)
			if !ok {
				continue
			}
			if out[lvl] == nil {
				out[lvl] = map[string]any{}
			}
			if _, exists := out[lvl][base]; !exists {
				out[lvl][base] = val
			}
		}
	}
	return out
}

func splitLevelSuffix(key string) (string, string, bool) {
	for _, suffix := range levelSuffixes {
		base, found := strings.CutSuffix(key, "_"+suffix)
		if found && base != "" {
			lvl, _ := canonicalLevel(suffix)
			return base, lvl, true
		}
	}
	return "", "", false
}

func (n *normalizer) level(lvl string, body map[string]any) {
	n.summaries(lvl, body)
	n.keywords(lvl, body)
	n.questions(lvl, body)
	if v, ok := lookup(body, backgroundKeys); ok {
		if text := asString(v); text != "" {
			n.art.Background = append(n.art.Background, store.BackgroundReading{Difficulty: lvl, Content: text})
		} else {
			n.warn("%s: empty background reading", lvl)
		}
	}
	n.commentary(lvl, body)
}

func (n *normalizer) summaries(lvl string, body map[string]any) {
	seen := map[string]bool{}
	add := func(lang, text string) {
		lang = strings.ToLower(strings.TrimSpace(lang))
		if text == "" || seen[lang] {
			return
		}
		seen[lang] = true
		n.art.Summaries = append(n.art.Summaries, store.Summary{Language: lang, Difficulty: lvl, Text: text})
	}

	for _, sk := range summaryKeys {
		v, ok := body[sk.key]
		if !ok || v == nil {
			continue
		}
		switch t := v.(type) {
		case map[string]any:
			for _, lang := range slices.Sorted(maps.Keys(t)) {
				add(lang, asString(t[lang]))
			}
		default:
			add(sk.language, asString(t))
		}
	}
}

func (n *normalizer) keywords(lvl string, body map[string]any) {
	v, ok := lookup(body, keywordListKeys)
	if !ok {
		return
	}
	list, ok := asList(v)
	if !ok {
		n.warn("%s: keywords is %T, want a list", lvl, v)
		return
	}
	for i, e := range list {
		switch t := e.(type) {
		case string:
			if term := strings.TrimSpace(t); term != "" {
				n.art.Keywords = append(n.art.Keywords, store.Keyword{Difficulty: lvl, Term: term})
			}
		case map[string]any:
			term := lookupString(t, termKeys)
			if term == "" {
				n.warn("%s: keyword %d has no term", lvl, i)
				continue
			}
			kw := store.Keyword{Difficulty: lvl, Term: term, Explanation: lookupString(t, explanationKeys)}
			if fv, ok := lookup(t, frequencyKeys); ok {
				freq, err := asInt(fv)
				if err != nil {
					n.warn("%s: keyword %q frequency: %v", lvl, term, err)
				}
				kw.Frequency = freq
			}
			n.art.Keywords = append(n.art.Keywords, kw)
		default:
			n.warn("%s: keyword %d is %T", lvl, i, e)
		}
	}
}

func (n *normalizer) questions(lvl string, body map[string]any) {
	v, ok := lookup(body, quizKeys)
	if !ok {
		return
	}
	list, ok := asList(v)
	if !ok {
		n.warn("%s: questions is %T, want a list", lvl, v)
		return
	}
	for i, e := range list {
		qm, ok := e.(map[string]any)
		if !ok {
			n.warn("%s: question %d is %T", lvl, i, e)
			continue
		}
		q, ok := n.question(lvl, i, qm)
		if ok {
			n.art.Questions = append(n.art.Questions, q)
		}
	}
}

func (n *normalizer) question(lvl string, i int, qm map[string]any) (store.Question, bool) {
	text := lookupString(qm, questionKeys)
	if text == "" {
		n.warn("%s: question %d has no text", lvl, i)
		return store.Question{}, false
	}
	ov, _ := lookup(qm, optionKeys)
	rawOptions, ok := asList(ov)
	if !ok || len(rawOptions) == 0 {
		n.warn("%s: question %d has no options", lvl, i)
		return store.Question{}, false
	}

	var (
		options []string
		flagged = -1
	)
	for _, o := range rawOptions {
		switch t := o.(type) {
		case map[string]any:
			opt := lookupString(t, optionTextKeys)
			if opt == "" {
				continue
			}
			if flag, _ := t["is_correct"].(bool); flag && flagged < 0 {
				flagged = len(options)
			}
			options = append(options, opt)
		default:
			if opt := asString(t); opt != "" {
				options = append(options, opt)
			}
		}
	}
	if len(options) == 0 {
		n.warn("%s: question %d has only empty options", lvl, i)
		return store.Question{}, false
	}

	correct := -1
	if av, ok := lookup(qm, answerKeys); ok {
		correct = resolveAnswer(asString(av), options)
	}
	if correct < 0 {
		correct = flagged
	}
	if correct < 0 {
		n.warn("%s: question %d has no resolvable correct answer", lvl, i)
	}

	explanation := lookupString(qm, explanationKeys)
	q := store.Question{Difficulty: lvl, Text: text, Choices: make([]store.Choice, len(options))}
	for j, opt := range options {
		q.Choices[j] = store.Choice{Text: opt}
		if j == correct {
			q.Choices[j].IsCorrect = true
			q.Choices[j].Explanation = explanation
		}
	}
	return q, true
}

// resolveAnswer maps a correct_answer marker to an option index, or -1. Exact
// option text is tried before the letter reading so that an option starting
// with "A " still matches itself.
func resolveAnswer(answer string, options []string) int {
	if answer == "" {
		return -1
	}
	for i, o := range options {
		if strings.EqualFold(o, answer) || strings.EqualFold(stripOptionLabel(o), stripOptionLabel(answer)) {
			return i
		}
	}
	if m := answerLetterRe.FindStringSubmatch(answer); m != nil {
		idx := int(unicode.ToUpper(rune(m[1][0])) - 'A')
		if idx >= 0 && idx < len(options) {
			return idx
		}
	}
	return -1
}

func stripOptionLabel(s string) string {
	return strings.TrimSpace(optionLabelRe.ReplaceAllString(strings.TrimSpace(s), ""))
}

// commentary stores perspectives and a synthesis found in body. It reports
// whether anything was stored.
func (n *normalizer) commentary(lvl string, body map[string]any) bool {
	before := len(n.art.Comments)

	if v, ok := lookup(body, perspectiveKeys); ok {
		switch t := v.(type) {
		case []any:
			for i, e := range t {
				n.comment(lvl, fmt.Sprintf("perspective_%d", i+1), e)
			}
		case map[string]any:
			seq := 0
			for _, key := range slices.Sorted(maps.Keys(t)) {
				who := canonicalWho(key)
				if who == "" || strings.HasPrefix(who, "perspective_") {
					seq++
				}
				if who == "" {
					who = fmt.Sprintf("perspective_%d", seq)
				}
				n.comment(lvl, who, t[key])
			}
		default:
			n.warn("%s: perspectives is %T", lvl, v)
		}
	}
	if v, ok := lookup(body, synthesisKeys); ok {
		n.comment(lvl, "synthesis", v)
	}
	return len(n.art.Comments) > before
}

func (n *normalizer) comment(lvl, who string, v any) {
	c := store.Comment{Difficulty: lvl, Who: who, Attitude: "neutral"}
	switch t := v.(type) {
	case string:
		c.Content = strings.TrimSpace(t)
	case map[string]any:
		if w := canonicalWho(lookupString(t, whoKeys)); w != "" {
			c.Who = w
		}
		c.Attitude = normalizeAttitude(lookupString(t, attitudeKeys))
		c.Content = lookupString(t, contentKeys)
	default:
		n.warn("%s: %s is %T", lvl, who, v)
		return
	}
	if c.Content == "" {
		n.warn("%s: %s has no content", lvl, who)
		return
	}
	n.art.Comments = append(n.art.Comments, c)
}

func canonicalWho(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer(" ", "_", "-", "_").Replace(s)
	switch s {
	case "perspective_1", "perspective1", "first", "view_1":
		return "perspective_1"
	case "perspective_2", "perspective2", "second", "view_2":
		return "perspective_2"
	case "synthesis", "conclusion", "balanced_view":
		return "synthesis"
	}
	return ""
}

func normalizeAttitude(s string) string {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "positive", "supportive", "support", "pro", "optimistic", "favorable", "favourable":
		return "positive"
	case "negative", "critical", "against", "con", "opposed", "skeptical", "sceptical", "pessimistic":
		return "negative"
	default:
		return "neutral"
	}
}
