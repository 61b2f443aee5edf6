package normalize

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chyiyaqing/newsreader/internal/store"
)

// Candidate key names, most preferred first. The answer shape drifted across
// prompt revisions, so every historical name stays listed here.
var (
	containerKeys   = []string{"article_analysis", "analysis"}
	levelsKeys      = []string{"levels", "difficulty_levels", "by_level"}
	levelNameKeys   = []string{"level", "difficulty", "name"}
	keywordListKeys = []string{"keywords", "vocabulary", "key_terms", "words"}
	termKeys        = []string{"term", "word", "keyword"}
	frequencyKeys   = []string{"frequency", "count", "freq", "occurrences"}
	explanationKeys = []string{"explanation", "definition", "meaning", "rationale"}
	quizKeys        = []string{"questions", "quiz", "multiple_choice_questions"}
	questionKeys    = []string{"question", "text", "prompt", "stem"}
	optionKeys      = []string{"options", "choices", "answers"}
	optionTextKeys  = []string{"text", "option", "choice", "content"}
	answerKeys      = []string{"correct_answer", "answer", "correct", "correct_option"}
	backgroundKeys  = []string{"background_reading", "background", "context", "background_read"}
	perspectiveKeys = []string{"perspectives", "comments", "viewpoints", "opinions"}
	whoKeys         = []string{"who", "perspective", "speaker", "name", "role"}
	attitudeKeys    = []string{"attitude", "stance", "sentiment", "tone"}
	contentKeys     = []string{"content", "text", "comment", "opinion", "argument", "summary"}
	synthesisKeys   = []string{"synthesis", "conclusion", "balanced_view"}
)

// summaryKeys pairs each accepted summary key with the language it carries.
var summaryKeys = []struct{ key, language string }{
	{"summary", "en"},
	{"summary_en", "en"},
	{"summary_english", "en"},
	{"summary_zh", "zh"},
	{"summary_cn", "zh"},
	{"summary_chinese", "zh"},
	{"abstract", "en"},
}

// levelAliases maps accepted level names onto the stored levels.
var levelAliases = map[string]string{
	"easy":         store.LevelEasy,
	"beginner":     store.LevelEasy,
	"elementary":   store.LevelEasy,
	"mid":          store.LevelMid,
	"medium":       store.LevelMid,
	"middle":       store.LevelMid,
	"intermediate": store.LevelMid,
	"hard":         store.LevelHard,
	"advanced":     store.LevelHard,
	"difficult":    store.LevelHard,
}

// levelSuffixes are the flat-shape key suffixes, e.g. summary_easy.
var levelSuffixes = []string{"easy", "mid", "medium", "hard"}

func canonicalLevel(name string) (string, bool) {
	l, ok := levelAliases[strings.ToLower(strings.TrimSpace(name))]
	return l, ok
}

// lookup returns the first present, non-nil value among keys.
func lookup(m map[string]any, keys []string) (any, bool) {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v, true
		}
	}
	return nil, false
}

func lookupString(m map[string]any, keys []string) string {
	v, ok := lookup(m, keys)
	if !ok {
		return ""
	}
	return asString(v)
}

func lookupMap(m map[string]any, keys []string) (map[string]any, bool) {
	v, ok := lookup(m, keys)
	if !ok {
		return nil, false
	}
	mm, ok := v.(map[string]any)
	return mm, ok
}

// asString renders scalars as text and joins string lists into paragraphs.
func asString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		if t == math.Trunc(t) {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := asString(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n\n")
	case map[string]any:
		return lookupString(t, contentKeys)
	default:
		return ""
	}
}

func asInt(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		return int(t), nil
	case string:
		return strconv.Atoi(strings.TrimSpace(t))
	default:
		return 0, fmt.Errorf("unexpected %T", v)
	}
}

func asList(v any) ([]any, bool) {
	l, ok := v.([]any)
	return l, ok
}
