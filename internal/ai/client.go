package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"text/template"
	"time"

	"github.com/chyiyaqing/newsreader/internal/config"
)

// ErrUnparseableResponse means the endpoint answered 2xx with a body that is not
// a chat completion. It is not retried.
var ErrUnparseableResponse = errors.New("ai: unparseable completion response")

// StatusError is a non-2xx answer from the completion endpoint. It is not retried.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm returned %d: %s", e.StatusCode, e.Body)
}

// RetryPolicy decides how often and how patiently transport failures are retried.
type RetryPolicy struct {
	MaxAttempts int
	Backoff     func(attempt int) time.Duration
}

// LinearBackoff waits step, 2*step, 3*step, ... after successive failures.
func LinearBackoff(step time.Duration) func(int) time.Duration {
	return func(attempt int) time.Duration { return time.Duration(attempt) * step }
}

type Client struct {
	baseURL       string
	model         string
	apiKey        string
	temperature   float64
	contentBudget int
	httpClient    *http.Client
	retry         RetryPolicy
	prompts       map[string]*template.Template
	logger        *slog.Logger
}

type Option func(*Client)

func WithRetryPolicy(p RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient builds a client from cfg. prompts maps a category to a prompt
// template; the built-in default is used for categories without one.
func NewClient(cfg config.LLMConfig, prompts map[string]string, logger *slog.Logger, opts ...Option) (*Client, error) {
	tmpls, err := parsePrompts(prompts)
	if err != nil {
		return nil, err
	}
	c := &Client{
		baseURL:       strings.TrimRight(cfg.Address, "/"),
		model:         cfg.Model,
		apiKey:        cfg.APIKey,
		temperature:   cfg.Temperature,
		contentBudget: cfg.ContentBudget,
		httpClient:    &http.Client{Timeout: cfg.Timeout},
		retry:         RetryPolicy{MaxAttempts: cfg.MaxAttempts, Backoff: LinearBackoff(cfg.BackoffStep)},
		prompts:       tmpls,
		logger:        logger.With("component", "ai"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends prompt as a single user message and returns the raw answer
// text. Only transport failures are retried.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	attempts := max(c.retry.MaxAttempts, 1)
	for attempt := 1; ; attempt++ {
		answer, err := c.complete(ctx, prompt)
		if err == nil {
			return answer, nil
		}
		if !retryable(ctx, err) || attempt >= attempts {
			return "", fmt.Errorf("completion failed after %d attempt(s): %w", attempt, err)
		}

		var wait time.Duration
		if c.retry.Backoff != nil {
			wait = c.retry.Backoff(attempt)
		}
		c.logger.Warn("completion attempt failed, retrying", "attempt", attempt, "max_attempts", attempts, "wait", wait, "error", err)
		if err := sleep(ctx, wait); err != nil {
			return "", err
		}
	}
}

func (c *Client) complete(ctx context.Context, prompt string) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", &StatusError{StatusCode: resp.StatusCode, Body: snippet(string(data), 300)}
	}

	var chat chatResponse
	if err := json.Unmarshal(data, &chat); err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnparseableResponse, err)
	}
	if len(chat.Choices) == 0 || strings.TrimSpace(chat.Choices[0].Message.Content) == "" {
		return "", fmt.Errorf("%w: no answer in choices", ErrUnparseableResponse)
	}
	return chat.Choices[0].Message.Content, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) || errors.Is(err, ErrUnparseableResponse) {
		return false
	}
	return true
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func snippet(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
