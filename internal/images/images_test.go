package images

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/chyiyaqing/newsreader/internal/config"
	"github.com/chyiyaqing/newsreader/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jpegBytes(size int) []byte {
	return append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x42}, size-4)...)
}

func pngBytes(size int) []byte {
	return append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0x00}, size-8)...)
}

// imageServer serves fixed bodies per path and counts requests.
type imageServer struct {
	*httptest.Server
	mu    sync.Mutex
	hits  map[string]int
	pages map[string]string
	files map[string][]byte
	types map[string]string
}

func newImageServer(t *testing.T) *imageServer {
	s := &imageServer{hits: map[string]int{}, pages: map[string]string{}, files: map[string][]byte{}, types: map[string]string{}}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.hits[r.URL.Path]++
		s.mu.Unlock()
		if page, ok := s.pages[r.URL.Path]; ok {
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, page)
			return
		}
		data, ok := s.files[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		ct := s.types[r.URL.Path]
		if ct == "" {
			ct = "image/jpeg"
		}
		w.Header().Set("Content-Type", ct)
		w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

func (s *imageServer) count(path string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[path]
}

func newTestSelector(t *testing.T) *Selector {
	t.Helper()
	cfg := config.Default().Images
	cfg.Dir = t.TempDir()
	cfg.MinBytesBatch = 100 * 1024
	cfg.MinBytesPreview = 30 * 1024
	return New(cfg, nil, "test-agent", logging.Discard())
}

func TestCandidatesOrder(t *testing.T) {
	doc := `<html><head>
<meta property="og:image" content="/img/social.jpg">
<meta name="twitter:image" content="https://cdn.example.com/tw.jpg">
</head><body>
<picture>
  <source srcset="/img/pic-small.jpg 480w, /img/pic-large.jpg 1200w, /img/pic-mid.jpg 800w">
  <img src="/img/pic-fallback.jpg">
</picture>
<img data-src="/img/lazy.jpg" src="data:image/gif;base64,R0lGOD">
<img src="/img/social.jpg">
</body></html>`

	got := Candidates(doc, "https://news.example.com/story/1", "https://cdn.example.com/hint.jpg")
	assert.Equal(t, []string{
		"https://news.example.com/img/social.jpg",
		"https://cdn.example.com/tw.jpg",
		"https://news.example.com/img/pic-large.jpg",
		"https://news.example.com/img/pic-fallback.jpg",
		"https://news.example.com/img/lazy.jpg",
		"https://cdn.example.com/hint.jpg",
	}, got)
}

func TestBestSrcset(t *testing.T) {
	assert.Equal(t, "b.jpg", BestSrcset("a.jpg 1x, b.jpg 2x"))
	assert.Equal(t, "wide.jpg", BestSrcset("narrow.jpg 320w,wide.jpg 1024w"))
	assert.Equal(t, "only.jpg", BestSrcset("only.jpg"))
	assert.Empty(t, BestSrcset(""))
}

func TestRejected(t *testing.T) {
	deny := config.Default().Images.DenyTokens
	assert.True(t, Rejected("https://x.com/assets/site-logo.jpg", deny))
	assert.True(t, Rejected("https://x.com/photo.PNG?w=800", deny))
	assert.True(t, Rejected("https://x.com/favicon.ico", deny))
	assert.False(t, Rejected("https://x.com/photo-1500.jpg?src=logo", deny))
}

func TestSelectSkipsLogoAndAcceptsLargeJPEG(t *testing.T) {
	srv := newImageServer(t)
	srv.files["/logo.png"] = pngBytes(200 * 1024)
	srv.files["/photo-1500.jpg"] = jpegBytes(120 * 1024)
	srv.pages["/article"] = `<html><head><meta property="og:image" content="/logo.png"></head>
<body><img src="/photo-1500.jpg"></body></html>`

	sel := newTestSelector(t)
	img, err := sel.SelectFromURL(context.Background(), srv.URL+"/article", ModeBatch)
	require.NoError(t, err)
	require.NotNil(t, img)

	assert.Equal(t, srv.URL+"/photo-1500.jpg", img.SourceURL)
	assert.EqualValues(t, 120*1024, img.ByteSize)
	assert.Zero(t, srv.count("/logo.png"), "png must never be requested")
	assert.Equal(t, ".jpg", filepath.Ext(img.LocalPath))

	data, err := os.ReadFile(img.LocalPath)
	require.NoError(t, err)
	assert.Len(t, data, 120*1024)
}

func TestSelectFromURLIgnoresOversizedPage(t *testing.T) {
	srv := newImageServer(t)
	srv.files["/inline.jpg"] = jpegBytes(150 * 1024)
	srv.files["/hint.jpg"] = jpegBytes(150 * 1024)
	srv.pages["/huge"] = `<html><body><img src="/inline.jpg"><p>` + strings.Repeat("x", maxPageBytes) + `</p></body></html>`

	img, err := newTestSelector(t).SelectFromURL(context.Background(), srv.URL+"/huge", ModeBatch, srv.URL+"/hint.jpg")
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, srv.URL+"/hint.jpg", img.SourceURL)
	assert.Zero(t, srv.count("/inline.jpg"))
}

func TestSelectFilenameIsDeterministic(t *testing.T) {
	srv := newImageServer(t)
	srv.files["/a.jpg"] = jpegBytes(150 * 1024)
	doc := `<img src="/a.jpg">`

	sel := newTestSelector(t)
	first, err := sel.Select(context.Background(), doc, srv.URL+"/page", ModeBatch)
	require.NoError(t, err)
	second, err := sel.Select(context.Background(), doc, srv.URL+"/page", ModeBatch)
	require.NoError(t, err)
	require.NotNil(t, first)
	require.NotNil(t, second)
	assert.Equal(t, first.LocalPath, second.LocalPath)
}

func TestSelectModeThresholds(t *testing.T) {
	srv := newImageServer(t)
	srv.files["/medium.jpg"] = jpegBytes(50 * 1024)
	doc := `<img src="/medium.jpg">`
	sel := newTestSelector(t)

	img, err := sel.Select(context.Background(), doc, srv.URL+"/", ModeBatch)
	require.NoError(t, err)
	assert.Nil(t, img, "50 KiB is below the batch minimum")

	img, err = sel.Select(context.Background(), doc, srv.URL+"/", ModePreview)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.EqualValues(t, 50*1024, img.ByteSize)
}

func TestSelectRejectsPNGContent(t *testing.T) {
	srv := newImageServer(t)
	srv.files["/lying.jpg"] = pngBytes(150 * 1024)
	srv.files["/declared.jpg"] = jpegBytes(150 * 1024)
	srv.types["/declared.jpg"] = "image/png"
	srv.files["/missing-then-ok.jpg"] = jpegBytes(150 * 1024)
	doc := `<img src="/lying.jpg"><img src="/declared.jpg"><img src="/gone.jpg"><img src="/missing-then-ok.jpg">`

	img, err := newTestSelector(t).Select(context.Background(), doc, srv.URL+"/", ModeBatch)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.Equal(t, srv.URL+"/missing-then-ok.jpg", img.SourceURL)
	assert.Equal(t, 1, srv.count("/gone.jpg"))
}

func TestSelectEnforcesMaxBytes(t *testing.T) {
	srv := newImageServer(t)
	srv.files["/huge.jpg"] = jpegBytes(300 * 1024)
	sel := newTestSelector(t)
	sel.cfg.MaxBytes = 200 * 1024

	img, err := sel.Select(context.Background(), `<img src="/huge.jpg">`, srv.URL+"/", ModeBatch)
	require.NoError(t, err)
	assert.Nil(t, img)
}

func TestSelectNoCandidates(t *testing.T) {
	img, err := newTestSelector(t).Select(context.Background(), "<p>text only</p>", "https://example.com/", ModeBatch)
	require.NoError(t, err)
	assert.Nil(t, img)
}
