package images

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/chyiyaqing/newsreader/internal/config"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
)

// Mode selects the minimum size an image must exceed.
type Mode int

const (
	ModeBatch Mode = iota
	ModePreview
)

func (m Mode) String() string {
	if m == ModePreview {
		return "preview"
	}
	return "batch"
}

// Image is a downloaded, accepted candidate.
type Image struct {
	SourceURL   string
	LocalPath   string
	ByteSize    int64
	ContentType string
}

type Selector struct {
	cfg       config.ImagesConfig
	client    *http.Client
	userAgent string
	logger    *slog.Logger
}

func New(cfg config.ImagesConfig, client *http.Client, userAgent string, logger *slog.Logger) *Selector {
	if client == nil {
		client = http.DefaultClient
	}
	return &Selector{cfg: cfg, client: client, userAgent: userAgent, logger: logger.With("component", "images")}
}

// maxPageBytes bounds how much of an article page is read.
const maxPageBytes = 5 << 20

// SelectFromURL fetches the article page itself and selects from it. A page
// over maxPageBytes contributes no candidates; hints are still tried.
func (s *Selector) SelectFromURL(ctx context.Context, pageURL string, mode Mode, hints ...string) (*Image, error) {
	body, _, err := s.get(ctx, pageURL, maxPageBytes)
	if err != nil {
		s.logger.Warn("fetch page for images failed", "url", pageURL, "error", err)
		body = nil
	}
	return s.Select(ctx, string(body), pageURL, mode, hints...)
}

// Select downloads the first candidate that passes the size and type gates.
// It returns nil without error when nothing qualifies.
func (s *Selector) Select(ctx context.Context, rawHTML, pageURL string, mode Mode, hints ...string) (*Image, error) {
	minBytes := s.cfg.MinBytesBatch
	if mode == ModePreview {
		minBytes = s.cfg.MinBytesPreview
	}

	for _, candidate := range Candidates(rawHTML, pageURL, hints...) {
		if ctx.Err() != nil {
			return nil, nil
		}
		if Rejected(candidate, s.cfg.DenyTokens) {
			s.logger.Debug("image rejected by name", "url", candidate)
			continue
		}

		data, contentType, err := s.get(ctx, candidate, s.cfg.MaxBytes)
		if err != nil {
			s.logger.Debug("image fetch failed", "url", candidate, "error", err)
			continue
		}
		size := int64(len(data))
		if size <= minBytes {
			s.logger.Debug("image too small", "url", candidate, "size", humanize.IBytes(uint64(size)), "mode", mode)
			continue
		}
		if isPNG(contentType, data) {
			s.logger.Debug("image rejected as png", "url", candidate)
			continue
		}

		localPath, err := s.write(candidate, contentType, data)
		if err != nil {
			return nil, err
		}
		s.logger.Info("image saved", "url", candidate, "path", localPath, "size", humanize.IBytes(uint64(size)))
		return &Image{SourceURL: candidate, LocalPath: localPath, ByteSize: size, ContentType: contentType}, nil
	}
	return nil, nil
}

// get fetches target. With maxBytes > 0 bodies larger than maxBytes are an error.
func (s *Selector) get(ctx context.Context, target string, maxBytes int64) ([]byte, string, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", err
	}
	req.Header.Set("User-Agent", s.userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}

	var r io.Reader = resp.Body
	if maxBytes > 0 {
		r = io.LimitReader(resp.Body, maxBytes+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, "", fmt.Errorf("read body: %w", err)
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return nil, "", fmt.Errorf("larger than %s", humanize.IBytes(uint64(maxBytes)))
	}
	return data, resp.Header.Get("Content-Type"), nil
}

func (s *Selector) write(sourceURL, contentType string, data []byte) (string, error) {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return "", fmt.Errorf("create image dir: %w", err)
	}
	name := uuid.NewSHA1(uuid.NameSpaceURL, []byte(sourceURL)).String() + "." + extension(sourceURL, contentType)
	localPath := filepath.Join(s.cfg.Dir, name)
	if err := os.WriteFile(localPath, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return localPath, nil
}

func isPNG(contentType string, data []byte) bool {
	if mt, _, err := mime.ParseMediaType(contentType); err == nil && mt == "image/png" {
		return true
	}
	return http.DetectContentType(data) == "image/png"
}

func extension(sourceURL, contentType string) string {
	mt, _, _ := mime.ParseMediaType(contentType)
	switch mt {
	case "image/jpeg", "image/jpg", "image/pjpeg":
		return "jpg"
	case "image/webp":
		return "webp"
	case "image/gif":
		return "gif"
	case "image/avif":
		return "avif"
	}
	if u, err := url.Parse(sourceURL); err == nil {
		switch ext := strings.TrimPrefix(strings.ToLower(path.Ext(u.Path)), "."); ext {
		case "jpg", "jpeg", "webp", "gif", "avif":
			if ext == "jpeg" {
				return "jpg"
			}
			return ext
		}
	}
	return "jpg"
}
