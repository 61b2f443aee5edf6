package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"
)

const defaultBaseURL = "https://api.telegram.org"

// Client sends messages via the Telegram Bot API.
type Client struct {
	botToken   string
	chatID     string
	baseURL    string
	httpClient *http.Client
}

type Option func(*Client)

// WithBaseURL points the client at another Bot API host, e.g. a local test server.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// New creates a Telegram notifier. Returns nil if token or chatID is empty.
func New(botToken, chatID string, opts ...Option) *Client {
	if botToken == "" || chatID == "" {
		return nil
	}
	c := &Client{
		botToken:   botToken,
		chatID:     chatID,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendMessageRequest struct {
	ChatID                string `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

const maxMessageLen = 4096

// Send sends a message to the configured chat. Messages longer than 4096
// characters are split on paragraph boundaries.
func (c *Client) Send(ctx context.Context, title, body string) error {
	text := body
	if title != "" {
		text = "<b>" + escapeHTML(title) + "</b>\n\n" + body
	}

	for _, chunk := range splitMessage(text, maxMessageLen) {
		if err := c.sendRaw(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) sendRaw(ctx context.Context, text string) error {
	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.botToken)

	payload, err := json.Marshal(sendMessageRequest{
		ChatID:                c.chatID,
		Text:                  text,
		ParseMode:             "HTML",
		DisableWebPagePreview: true,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// The URL carries the bot token; keep it out of the error.
		return fmt.Errorf("telegram send: %w", redact(err, c.botToken))
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	var apiResp apiResponse
	_ = json.Unmarshal(respBody, &apiResp)
	if resp.StatusCode != http.StatusOK || !apiResp.OK {
		return fmt.Errorf("telegram API %d: %s", resp.StatusCode, apiResp.Description)
	}
	return nil
}

func redact(err error, token string) error {
	msg := err.Error()
	if token == "" || !strings.Contains(msg, token) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, token, "<token>"))
}

// splitMessage breaks text into chunks of at most maxLen runes,
// splitting on paragraph boundaries ("\n\n") when possible.
func splitMessage(text string, maxLen int) []string {
	var chunks []string
	for utf8.RuneCountInString(text) > maxLen {
		limit := byteOffset(text, maxLen)

		cut := limit
		if idx := strings.LastIndex(text[:limit], "\n\n"); idx > 0 {
			cut = idx
		} else if idx := strings.LastIndex(text[:limit], "\n"); idx > 0 {
			cut = idx
		}

		chunks = append(chunks, text[:cut])
		text = strings.TrimLeft(text[cut:], "\n")
	}
	if text != "" || len(chunks) == 0 {
		chunks = append(chunks, text)
	}
	return chunks
}

// byteOffset returns the byte index just past the first n runes of s.
func byteOffset(s string, n int) int {
	i := 0
	for range n {
		_, size := utf8.DecodeRuneInString(s[i:])
		i += size
	}
	return i
}

func escapeHTML(s string) string {
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")
	return s
}
