package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "newsreader.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "data/newsreader.db", cfg.Database.Path)
	assert.Equal(t, 3, cfg.LLM.MaxAttempts)
	assert.Equal(t, 20*time.Second, cfg.LLM.BackoffStep)
	assert.Equal(t, 1500, cfg.LLM.ContentBudget)
	assert.Equal(t, 3, cfg.Enrich.MaxFailures)
	assert.Equal(t, 15, cfg.Extract.MaxParagraphs)
}

func TestLoadYAMLAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, `
database:
  path: /tmp/custom.db
feeds:
  - id: bbc-sport
    name: BBC Sport
    url: https://feeds.example.com/sport.xml
    category: sports
  - id: off
    url: https://feeds.example.com/off.xml
    enabled: false
ingest:
  max_items_per_feed: 5
  feed_timeout: 90s
  category_min_length:
    tech: 800
llm:
  model: yaml-model
`)
	t.Setenv("LLM_MODEL", "env-model")
	t.Setenv("LLM_API_KEY", "secret")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/tmp/custom.db", cfg.Database.Path)
	assert.Equal(t, 5, cfg.Ingest.MaxItemsPerFeed)
	assert.Equal(t, 90*time.Second, cfg.Ingest.FeedTimeout)
	assert.Equal(t, 800, cfg.Ingest.CategoryMinLength["tech"])
	assert.Equal(t, 250, cfg.Ingest.CategoryMinLength["sports"], "defaults merge with file entries")
	assert.Equal(t, "env-model", cfg.LLM.Model)
	assert.Equal(t, "secret", cfg.LLM.APIKey)

	enabled := cfg.EnabledFeeds()
	require.Len(t, enabled, 1)
	assert.Equal(t, "BBC Sport", enabled[0].Label())
	assert.NoError(t, cfg.RequireLLM())
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "feeds: [")
	_, err := Load(path)
	require.Error(t, err)
}

func TestValidateReturnsTypedError(t *testing.T) {
	cfg := Default()
	cfg.Feeds = []FeedSource{{Name: "broken"}}

	err := cfg.Validate()
	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "feeds[0].url", cfgErr.Field)
}

func TestRequireLLMWithoutKey(t *testing.T) {
	cfg := Default()
	err := cfg.RequireLLM()

	var cfgErr *Error
	require.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, "llm.api_key", cfgErr.Field)
}

func TestFeedSourceLabelFallbacks(t *testing.T) {
	assert.Equal(t, "id-only", FeedSource{ID: "id-only", URL: "u"}.Label())
	assert.Equal(t, "u", FeedSource{URL: "u"}.Label())
}
