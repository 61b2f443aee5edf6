package ai

import (
	"context"
	"fmt"
	"strings"
	"text/template"
	"unicode/utf8"

	"github.com/chyiyaqing/newsreader/internal/store"
)

// DefaultPromptKey names the template used when a category has none of its own.
const DefaultPromptKey = "default"

const defaultPrompt = `You are preparing an English news article for language learners at three reading levels.

Title: {{.Title}}
Source: {{.Source}}
Category: {{.Category}}

Article:
{{.Content}}

For each level "easy", "mid" and "hard" produce a summary, 5 keywords with how often they
appear and a short explanation, 3 multiple-choice questions with 4 options each, and a short
background reading. Then give two opposing perspectives on the story and a synthesis.

Respond ONLY with one JSON object using standard ASCII double quotes. No other text:
{"article_analysis":{"levels":{"easy":{"summary":"...","keywords":[{"term":"...","frequency":N,"explanation":"..."}],"questions":[{"question":"...","options":["...","...","...","..."],"correct_answer":"A","explanation":"..."}],"background_reading":"..."},"mid":{...},"hard":{...}},"perspectives":[{"perspective":"...","attitude":"positive|neutral|negative","content":"..."},{"perspective":"...","attitude":"positive|neutral|negative","content":"..."}],"synthesis":"..."}}`

// PromptData is what a prompt template can reference.
type PromptData struct {
	Title    string
	Source   string
	Category string
	Content  string
}

func parsePrompts(prompts map[string]string) (map[string]*template.Template, error) {
	out := map[string]*template.Template{}
	def, err := template.New(DefaultPromptKey).Parse(defaultPrompt)
	if err != nil {
		return nil, err
	}
	out[DefaultPromptKey] = def

	for category, text := range prompts {
		key := strings.ToLower(strings.TrimSpace(category))
		if strings.TrimSpace(text) == "" {
			continue
		}
		t, err := template.New(key).Option("missingkey=zero").Parse(text)
		if err != nil {
			return nil, fmt.Errorf("parse prompt %q: %w", category, err)
		}
		out[key] = t
	}
	return out, nil
}

// RenderPrompt fills the template chosen by the article's category. Content is
// cut to the configured rune budget.
func (c *Client) RenderPrompt(a store.Article) (string, error) {
	t, ok := c.prompts[strings.ToLower(a.Category)]
	if !ok {
		t = c.prompts[DefaultPromptKey]
	}
	var b strings.Builder
	err := t.Execute(&b, PromptData{
		Title:    a.Title,
		Source:   a.Source,
		Category: a.Category,
		Content:  truncateRunes(a.Content, c.contentBudget),
	})
	if err != nil {
		return "", fmt.Errorf("render prompt %s: %w", t.Name(), err)
	}
	return b.String(), nil
}

// EnrichArticle asks the model for the article's multi-level analysis and
// returns the raw answer.
func (c *Client) EnrichArticle(ctx context.Context, a store.Article) (string, error) {
	prompt, err := c.RenderPrompt(a)
	if err != nil {
		return "", err
	}
	return c.Complete(ctx, prompt)
}

func truncateRunes(s string, limit int) string {
	if limit <= 0 || utf8.RuneCountInString(s) <= limit {
		return s
	}
	return string([]rune(s)[:limit])
}
