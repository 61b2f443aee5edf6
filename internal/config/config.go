package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// DefaultUserAgent mimics a desktop browser; several publishers refuse bot agents.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

type Config struct {
	Database DatabaseConfig    `yaml:"database"`
	Feeds    []FeedSource      `yaml:"feeds"`
	Ingest   IngestConfig      `yaml:"ingest"`
	Extract  ExtractConfig     `yaml:"extract"`
	Images   ImagesConfig      `yaml:"images"`
	LLM      LLMConfig         `yaml:"llm"`
	Prompts  map[string]string `yaml:"prompts"`
	Enrich   EnrichConfig      `yaml:"enrich"`
	Telegram TelegramConfig    `yaml:"telegram"`
	Logging  LoggingConfig     `yaml:"logging"`
	Server   ServerConfig      `yaml:"server"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// FeedSource is one configured RSS/Atom feed. Read-only during a run.
type FeedSource struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	URL      string `yaml:"url"`
	Category string `yaml:"category"`
	Enabled  *bool  `yaml:"enabled"`
}

// IsEnabled treats a missing flag as enabled.
func (f FeedSource) IsEnabled() bool {
	return f.Enabled == nil || *f.Enabled
}

// Label is the name used for logs and text file prefixes.
func (f FeedSource) Label() string {
	if f.Name != "" {
		return f.Name
	}
	if f.ID != "" {
		return f.ID
	}
	return f.URL
}

type IngestConfig struct {
	MaxItemsPerFeed   int            `yaml:"max_items_per_feed"`
	FeedTimeout       time.Duration  `yaml:"feed_timeout"`
	RequestDelay      time.Duration  `yaml:"request_delay"`
	HTTPTimeout       time.Duration  `yaml:"http_timeout"`
	UserAgent         string         `yaml:"user_agent"`
	MinContentLength  int            `yaml:"min_content_length"`
	MaxContentLength  int            `yaml:"max_content_length"`
	CategoryMinLength map[string]int `yaml:"category_min_length"`
	FillerPatterns    []string       `yaml:"filler_patterns"`
	MinSpeakerLines   int            `yaml:"min_speaker_lines"`
	SpeakerRatio      float64        `yaml:"speaker_ratio"`
	TextDir           string         `yaml:"text_dir"`
}

type ExtractConfig struct {
	MinParagraphLength int      `yaml:"min_paragraph_length"`
	MaxParagraphs      int      `yaml:"max_paragraphs"`
	MaxChars           int      `yaml:"max_chars"`
	Bylines            []string `yaml:"bylines"`
	Boilerplate        []string `yaml:"boilerplate"`
	StopMarkers        []string `yaml:"stop_markers"`
}

type ImagesConfig struct {
	Dir             string        `yaml:"dir"`
	MinBytesBatch   int64         `yaml:"min_bytes_batch"`
	MinBytesPreview int64         `yaml:"min_bytes_preview"`
	MaxBytes        int64         `yaml:"max_bytes"`
	DenyTokens      []string      `yaml:"deny_tokens"`
	Timeout         time.Duration `yaml:"timeout"`
}

type LLMConfig struct {
	Address       string        `yaml:"address"`
	Model         string        `yaml:"model"`
	APIKey        string        `yaml:"api_key"`
	Timeout       time.Duration `yaml:"timeout"`
	MaxAttempts   int           `yaml:"max_attempts"`
	BackoffStep   time.Duration `yaml:"backoff_step"`
	ContentBudget int           `yaml:"content_budget"`
	Temperature   float64       `yaml:"temperature"`
}

type EnrichConfig struct {
	BatchSize   int           `yaml:"batch_size"`
	MaxFailures int           `yaml:"max_failures"`
	ClaimTTL    time.Duration `yaml:"claim_ttl"`
}

type TelegramConfig struct {
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	Schedule string `yaml:"schedule"`
}

// Error is returned for configuration that cannot be used. It is always fatal to the caller.
type Error struct {
	Field  string
	Reason string
}

func (e *Error) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Reason)
}

// Default returns the configuration used when no file overrides a field.
func Default() *Config {
	return &Config{
		Database: DatabaseConfig{Path: "data/newsreader.db"},
		Ingest: IngestConfig{
			MaxItemsPerFeed:   20,
			FeedTimeout:       5 * time.Minute,
			RequestDelay:      time.Second,
			HTTPTimeout:       15 * time.Second,
			UserAgent:         DefaultUserAgent,
			MinContentLength:  500,
			MaxContentLength:  30000,
			CategoryMinLength: map[string]int{"sports": 250},
			FillerPatterns: []string{
				"/video/", "/videos/", "/watch/", "video:", "watch:", "transcript",
				"podcast", "/live/", "live updates", "crossword", "sudoku", "wordle",
				"/games/", "puzzle", "quiz of the week", "connections hints",
			},
			MinSpeakerLines: 5,
			SpeakerRatio:    0.3,
		},
		Extract: ExtractConfig{
			MinParagraphLength: 25,
			MaxParagraphs:      15,
			MaxChars:           6000,
			Boilerplate: []string{
				"subscribe to", "sign up for", "newsletter", "read more", "click here",
				"follow us on", "privacy policy", "terms of use", "terms of service",
				"download the app", "advertisement", "support our journalism",
				"this article was amended", "contact us at",
			},
			StopMarkers: []string{
				"comments", "leave a comment", "join the conversation", "related articles",
				"more on this story", "copyright", "©", "all rights reserved",
			},
		},
		Images: ImagesConfig{
			Dir:             "data/images",
			MinBytesBatch:   100 * 1024,
			MinBytesPreview: 30 * 1024,
			MaxBytes:        10 * 1024 * 1024,
			DenyTokens:      []string{"logo", "icon", "placeholder", "favicon", "spacer"},
			Timeout:         20 * time.Second,
		},
		LLM: LLMConfig{
			Address:       "https://api.openai.com",
			Model:         "gpt-4o-mini",
			Timeout:       120 * time.Second,
			MaxAttempts:   3,
			BackoffStep:   20 * time.Second,
			ContentBudget: 1500,
			Temperature:   0.3,
		},
		Enrich: EnrichConfig{
			BatchSize:   10,
			MaxFailures: 3,
			ClaimTTL:    30 * time.Minute,
		},
		Logging: LoggingConfig{Level: "info"},
		Server:  ServerConfig{Addr: ":8080", Schedule: "0 */6 * * *"},
	}
}

// Load reads .env (without overriding the process environment), the YAML file at path
// (missing is fine), and environment overrides, in that order of increasing precedence.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("read %s: %w", path, err)
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	applyEnv(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overrides config fields with environment variables when set.
func applyEnv(cfg *Config) {
	if v := os.Getenv("NEWSREADER_DB"); v != "" {
		cfg.Database.Path = v
	}
	if v := os.Getenv("LLM_ADDRESS"); v != "" {
		cfg.LLM.Address = v
	}
	if v := os.Getenv("LLM_MODEL"); v != "" {
		cfg.LLM.Model = v
	}
	if v := os.Getenv("LLM_API_KEY"); v != "" {
		cfg.LLM.APIKey = v
	}
	if v := os.Getenv("TG_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TG_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate rejects values no component can work with.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Database.Path) == "" {
		return &Error{Field: "database.path", Reason: "must not be empty"}
	}
	for i, f := range c.Feeds {
		if strings.TrimSpace(f.URL) == "" {
			return &Error{Field: fmt.Sprintf("feeds[%d].url", i), Reason: "must not be empty"}
		}
	}
	if c.Ingest.MaxItemsPerFeed <= 0 {
		return &Error{Field: "ingest.max_items_per_feed", Reason: "must be positive"}
	}
	if c.Ingest.MaxContentLength > 0 && c.Ingest.MaxContentLength < c.Ingest.MinContentLength {
		return &Error{Field: "ingest.max_content_length", Reason: "must not be below min_content_length"}
	}
	if c.Images.MaxBytes > 0 && c.Images.MaxBytes < c.Images.MinBytesBatch {
		return &Error{Field: "images.max_bytes", Reason: "must not be below min_bytes_batch"}
	}
	if c.LLM.MaxAttempts <= 0 {
		return &Error{Field: "llm.max_attempts", Reason: "must be positive"}
	}
	if c.Enrich.MaxFailures < 0 {
		return &Error{Field: "enrich.max_failures", Reason: "must not be negative"}
	}
	return nil
}

// RequireLLM is the precondition for enrichment commands.
func (c *Config) RequireLLM() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return &Error{Field: "llm.api_key", Reason: "missing (set LLM_API_KEY)"}
	}
	if strings.TrimSpace(c.LLM.Address) == "" {
		return &Error{Field: "llm.address", Reason: "must not be empty"}
	}
	if strings.TrimSpace(c.LLM.Model) == "" {
		return &Error{Field: "llm.model", Reason: "must not be empty"}
	}
	return nil
}

// EnabledFeeds returns the feeds that take part in a run.
func (c *Config) EnabledFeeds() []FeedSource {
	feeds := make([]FeedSource, 0, len(c.Feeds))
	for _, f := range c.Feeds {
		if f.IsEnabled() {
			feeds = append(feeds, f)
		}
	}
	return feeds
}
