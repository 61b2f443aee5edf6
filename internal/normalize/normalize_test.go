package normalize

import (
	"testing"

	"github.com/chyiyaqing/newsreader/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const nestedAnswer = "Sure! Here is the analysis:\n```json\n" + `{
  "article_analysis": {
    "levels": {
      "easy": {
        "summary": "The bank kept rates the same.",
        "summary_zh": "银行维持利率不变。",
        "keywords": [
          {"term": "rate", "frequency": 4, "explanation": "price of borrowing"},
          {"word": "inflation", "frequency": "2"},
          "bank"
        ],
        "questions": [
          {
            "question": "What did the bank do?",
            "options": ["Raised rates", "Cut rates", "Kept rates unchanged", "Closed"],
            "correct_answer": "C",
            "explanation": "Paragraph one says so."
          }
        ],
        "background_reading": "Central banks set short-term rates."
      },
      "medium": {
        "summary": {"en": "Rates were held.", "es": "Se mantuvieron las tasas."},
        "vocabulary": [{"keyword": "benchmark", "count": 1}]
      },
      "hard": {
        "summary": "Policymakers held the benchmark rate amid sticky inflation.",
        "questions": [
          {"question": "Why?", "options": ["A. Inflation", "B. Growth"], "correct_answer": "A. Inflation"},
          {"question": "No options here"}
        ]
      }
    },
    "perspectives": [
      {"perspective": "Economists", "attitude": "supportive", "content": "Stability helps planning."},
      {"perspective": "Borrowers", "attitude": "critical", "content": "Loans stay expensive."}
    ],
    "synthesis": "Both sides agree inflation matters."
  }
}` + "\n```\nLet me know if you need more."

func TestParseStripsFenceAndProse(t *testing.T) {
	p, err := Parse(nestedAnswer)
	require.NoError(t, err)
	assert.Contains(t, p, "article_analysis")
}

func TestParseSmartQuotes(t *testing.T) {
	p, err := Parse("{“summary_easy”: “Short text”}")
	require.NoError(t, err)
	assert.Equal(t, "Short text", p["summary_easy"])
}

func TestParseKeepsTypographicQuotesInsideValidJSON(t *testing.T) {
	p, err := Parse(`{"summary_easy": "He said “no” twice"}`)
	require.NoError(t, err)
	assert.Equal(t, "He said “no” twice", p["summary_easy"])
}

func TestParseErrors(t *testing.T) {
	_, err := Parse("I could not analyse this article.")
	assert.ErrorIs(t, err, ErrNoJSONObject)

	_, err = Parse(`{"summary": "unterminated}`)
	assert.Error(t, err)
}

func TestNormalizeNestedShape(t *testing.T) {
	p, err := Parse(nestedAnswer)
	require.NoError(t, err)

	art, warnings := Normalize(p)

	summaries := map[string]string{}
	for _, s := range art.Summaries {
		summaries[s.Difficulty+"/"+s.Language] = s.Text
	}
	assert.Equal(t, map[string]string{
		"easy/en": "The bank kept rates the same.",
		"easy/zh": "银行维持利率不变。",
		"mid/en":  "Rates were held.",
		"mid/es":  "Se mantuvieron las tasas.",
		"hard/en": "Policymakers held the benchmark rate amid sticky inflation.",
	}, summaries)

	require.Len(t, art.Keywords, 4)
	assert.Equal(t, store.Keyword{Difficulty: "easy", Term: "rate", Frequency: 4, Explanation: "price of borrowing"}, art.Keywords[0])
	assert.Equal(t, 2, art.Keywords[1].Frequency)
	assert.Equal(t, "bank", art.Keywords[2].Term)
	assert.Equal(t, store.Keyword{Difficulty: "mid", Term: "benchmark", Frequency: 1}, art.Keywords[3])

	require.Len(t, art.Questions, 2)
	assert.Equal(t, "hard", art.Questions[1].Difficulty)
	assert.True(t, art.Questions[1].Choices[0].IsCorrect)

	require.Len(t, art.Background, 1)
	assert.Equal(t, "easy", art.Background[0].Difficulty)

	require.Len(t, art.Comments, 3)
	assert.Equal(t, store.Comment{Difficulty: "mid", Who: "perspective_1", Attitude: "positive", Content: "Stability helps planning."}, art.Comments[0])
	assert.Equal(t, store.Comment{Difficulty: "mid", Who: "perspective_2", Attitude: "negative", Content: "Loans stay expensive."}, art.Comments[1])
	assert.Equal(t, store.Comment{Difficulty: "mid", Who: "synthesis", Attitude: "neutral", Content: "Both sides agree inflation matters."}, art.Comments[2])

	assert.NotEmpty(t, warnings, "the option-less question is reported")
}

func TestLetterAnswerMarksExactlyOneChoice(t *testing.T) {
	p, err := Parse(nestedAnswer)
	require.NoError(t, err)
	art, _ := Normalize(p)

	q := art.Questions[0]
	require.Len(t, q.Choices, 4)
	var correct []int
	for i, c := range q.Choices {
		if c.IsCorrect {
			correct = append(correct, i)
		}
	}
	assert.Equal(t, []int{2}, correct)
	assert.Equal(t, "Paragraph one says so.", q.Choices[2].Explanation)
	assert.Empty(t, q.Choices[0].Explanation)
}

func TestNormalizeFlatShape(t *testing.T) {
	p, err := Parse(`{
		"summary_easy": "Easy summary.",
		"summary_hard": "Hard summary.",
		"keywords_mid": [{"term": "tariff", "frequency": 3}],
		"questions_easy": [{"question": "Q?", "options": ["yes", "no"], "correct_answer": "no"}],
		"background_reading_hard": ["First paragraph.", "Second paragraph."],
		"perspectives": {
			"perspective_1": {"attitude": "positive", "content": "Good for exporters."},
			"perspective_2": "Bad for consumers.",
			"synthesis": {"content": "Trade-offs everywhere."}
		}
	}`)
	require.NoError(t, err)

	art, _ := Normalize(p)
	assert.Len(t, art.Summaries, 2)
	require.Len(t, art.Keywords, 1)
	assert.Equal(t, "mid", art.Keywords[0].Difficulty)
	require.Len(t, art.Questions, 1)
	assert.True(t, art.Questions[0].Choices[1].IsCorrect)
	require.Len(t, art.Background, 1)
	assert.Equal(t, "First paragraph.\n\nSecond paragraph.", art.Background[0].Content)

	require.Len(t, art.Comments, 3)
	who := []string{art.Comments[0].Who, art.Comments[1].Who, art.Comments[2].Who}
	assert.Equal(t, []string{"perspective_1", "perspective_2", "synthesis"}, who)
	for _, c := range art.Comments {
		assert.Equal(t, "mid", c.Difficulty)
	}
}

func TestNormalizeTopLevelLevelsList(t *testing.T) {
	p, err := Parse(`{"levels": [
		{"level": "beginner", "summary": "Simple."},
		{"level": "expert", "summary": "Unknown level."},
		"garbage"
	]}`)
	require.NoError(t, err)

	art, warnings := Normalize(p)
	require.Len(t, art.Summaries, 1)
	assert.Equal(t, "easy", art.Summaries[0].Difficulty)
	assert.Len(t, warnings, 2)
}

func TestNormalizeNeverFails(t *testing.T) {
	art, warnings := Normalize(Payload{"levels": "nonsense", "keywords_easy": "not a list"})
	assert.True(t, art.Empty())
	assert.NotEmpty(t, warnings)
}

func TestResolveAnswer(t *testing.T) {
	options := []string{"Apples", "Bananas", "Cherries", "A bowl of dates"}
	cases := map[string]int{
		"B":               1,
		"b)":              1,
		"(C)":             2,
		"C. Cherries":     2,
		"cherries":        2,
		"A bowl of dates": 3,
		"Z":               -1,
		"Grapes":          -1,
		"":                -1,
	}
	for answer, want := range cases {
		assert.Equal(t, want, resolveAnswer(answer, options), "answer %q", answer)
	}
}

func TestResolveAnswerPrefersOptionText(t *testing.T) {
	// "A" is the text of the second option, not a pointer to the first.
	assert.Equal(t, 1, resolveAnswer("A", []string{"an", "a", "the", "this"}))
	assert.Equal(t, 0, resolveAnswer("A", []string{"apples", "bananas"}))
}
