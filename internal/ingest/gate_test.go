package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/chyiyaqing/newsreader/internal/config"
	"github.com/chyiyaqing/newsreader/internal/extract"
	"github.com/chyiyaqing/newsreader/internal/feed"
	"github.com/chyiyaqing/newsreader/internal/images"
	"github.com/chyiyaqing/newsreader/internal/logging"
	"github.com/chyiyaqing/newsreader/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var crawlTime = time.Date(2026, time.October, 15, 6, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "ingest.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

type fakeFeeds struct {
	items map[string][]feed.Item
	err   error
}

func (f fakeFeeds) Fetch(_ context.Context, url string, max int) ([]feed.Item, error) {
	if f.err != nil {
		return nil, f.err
	}
	items := f.items[url]
	if max > 0 && len(items) > max {
		items = items[:max]
	}
	return items, nil
}

// fakeExtractor returns canned results per page and records fetch order.
type fakeExtractor struct {
	pages   map[string]extract.Result
	fetched []string
}

func (f *fakeExtractor) FromURL(_ context.Context, pageURL string) extract.Result {
	f.fetched = append(f.fetched, pageURL)
	return f.pages[pageURL]
}

func (f *fakeExtractor) Extract(rawHTML, _ string) extract.Result {
	if rawHTML == "" {
		return extract.Result{}
	}
	return result(rawHTML)
}

type fakeImages struct{ calls int }

func (f *fakeImages) SelectFromURL(context.Context, string, images.Mode, ...string) (*images.Image, error) {
	f.calls++
	return nil, nil
}

func result(paragraphs ...string) extract.Result {
	text := strings.Join(paragraphs, "\n\n")
	return extract.Result{Paragraphs: paragraphs, Text: text, FullLength: len([]rune(text))}
}

func longBody(n int) extract.Result {
	return result(strings.Repeat("The council approved the new transit budget after a long debate. ", n))
}

func testConfig() config.IngestConfig {
	cfg := config.Default().Ingest
	cfg.RequestDelay = time.Second
	cfg.MinContentLength = 200
	cfg.MaxContentLength = 5000
	cfg.CategoryMinLength = map[string]int{"sports": 50}
	return cfg
}

func newTestGate(t *testing.T, cfg config.IngestConfig, st Store, feeds FeedFetcher, ex ContentExtractor, im ImageSelector) (*Gate, *[]time.Duration) {
	t.Helper()
	var sleeps []time.Duration
	g := NewGate(cfg, st, feeds, ex, im, logging.Discard(),
		WithClock(func() time.Time { return crawlTime }),
		WithSleep(func(_ context.Context, d time.Duration) error { sleeps = append(sleeps, d); return nil }))
	return g, &sleeps
}

func TestIngestFeedAppliesGates(t *testing.T) {
	st := newTestStore(t)
	src := config.FeedSource{ID: "city", Name: "City Desk", URL: "feed://city", Category: "local"}
	feeds := fakeFeeds{items: map[string][]feed.Item{src.URL: {
		{Title: "Budget passes", Link: "https://News.Example.com/budget/?utm_source=rss#top", PubDate: crawlTime.Add(-time.Hour)},
		{Title: "Watch: the debate", Link: "https://news.example.com/video/debate"},
		{Title: "Tiny note", Link: "https://news.example.com/tiny"},
		{Title: "Budget passes again", Link: "https://news.example.com/budget"},
		{Title: "Interview", Link: "https://news.example.com/interview"},
		{Title: "Feed only", Link: "https://news.example.com/feed-only", Content: strings.Repeat("Content carried by the feed item itself. ", 10)},
	}}}
	interview := make([]string, 0, 8)
	for i := 0; i < 6; i++ {
		interview = append(interview, fmt.Sprintf("HOST: question number %d about the budget and the schedule ahead", i))
	}
	interview = append(interview, strings.Repeat("Narration. ", 30))
	ex := &fakeExtractor{pages: map[string]extract.Result{
		"https://News.Example.com/budget/?utm_source=rss#top": longBody(5),
		"https://news.example.com/tiny":                       result("Too short to keep."),
		"https://news.example.com/interview":                  result(interview...),
	}}
	im := &fakeImages{}

	g, sleeps := newTestGate(t, testConfig(), st, feeds, ex, im)
	stats, err := g.IngestFeed(context.Background(), src)
	require.NoError(t, err)

	assert.Equal(t, 6, stats.Fetched)
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 1, stats.Duplicates)
	assert.Equal(t, 2, stats.Filtered, "video and transcript")
	assert.Equal(t, 1, stats.LengthRejected)
	assert.Equal(t, 2, im.calls, "image pass runs once per created article")
	assert.Len(t, *sleeps, 3, "delay between crawled articles only")

	list, err := st.ListArticles(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	urls := []string{list[0].URL, list[1].URL}
	assert.Contains(t, urls, "https://news.example.com/budget")
	assert.Contains(t, urls, "https://news.example.com/feed-only")
	for _, a := range list {
		assert.Equal(t, "City Desk", a.Source)
		assert.Equal(t, "local", a.Category)
		assert.True(t, strings.HasPrefix(a.ID, "20261015"))
	}
}

func TestCategoryMinimumIsRelaxed(t *testing.T) {
	st := newTestStore(t)
	src := config.FeedSource{Name: "Sport", URL: "feed://sport", Category: "Sports"}
	link := "https://sport.example.com/result"
	feeds := fakeFeeds{items: map[string][]feed.Item{src.URL: {{Title: "Result", Link: link}}}}
	ex := &fakeExtractor{pages: map[string]extract.Result{link: result(strings.Repeat("Late goal wins it. ", 4))}}

	g, _ := newTestGate(t, testConfig(), st, feeds, ex, &fakeImages{})
	stats, err := g.IngestFeed(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
}

func TestFeedFailureIsZeroItems(t *testing.T) {
	st := newTestStore(t)
	g, _ := newTestGate(t, testConfig(), st, fakeFeeds{err: errors.New("connection refused")}, &fakeExtractor{}, &fakeImages{})

	stats, err := g.Run(context.Background(), []config.FeedSource{{URL: "feed://a"}, {URL: "feed://b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FeedErrors)
	assert.Zero(t, stats.Created)
}

func TestRunSkipsDisabledFeeds(t *testing.T) {
	st := newTestStore(t)
	off := false
	link := "https://news.example.com/one"
	feeds := fakeFeeds{items: map[string][]feed.Item{
		"feed://on":  {{Title: "One", Link: link}},
		"feed://off": {{Title: "Two", Link: "https://news.example.com/two"}},
	}}
	ex := &fakeExtractor{pages: map[string]extract.Result{link: longBody(5)}}
	g, _ := newTestGate(t, testConfig(), st, feeds, ex, &fakeImages{})

	stats, err := g.Run(context.Background(), []config.FeedSource{
		{URL: "feed://on"},
		{URL: "feed://off", Enabled: &off},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Feeds)
	assert.Equal(t, 1, stats.Created)
}

func TestFeedTimeoutStopsRemainingItems(t *testing.T) {
	st := newTestStore(t)
	src := config.FeedSource{URL: "feed://slow"}
	feeds := fakeFeeds{items: map[string][]feed.Item{src.URL: {
		{Title: "a", Link: "https://e.com/a"},
		{Title: "b", Link: "https://e.com/b"},
		{Title: "c", Link: "https://e.com/c"},
	}}}
	ex := &fakeExtractor{pages: map[string]extract.Result{
		"https://e.com/a": longBody(5), "https://e.com/b": longBody(5), "https://e.com/c": longBody(5),
	}}
	cfg := testConfig()
	cfg.FeedTimeout = 50 * time.Millisecond

	g := NewGate(cfg, st, feeds, ex, &fakeImages{}, logging.Discard(),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			<-ctx.Done()
			return ctx.Err()
		}))

	stats, err := g.IngestFeed(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 2, stats.Skipped)
	assert.Zero(t, stats.Errors)
}

type exhaustedStore struct{ Store }

func (exhaustedStore) URLExists(context.Context, string) (bool, error) { return false, nil }

func (exhaustedStore) CreateArticle(context.Context, store.Article, time.Time) (store.Article, error) {
	return store.Article{}, fmt.Errorf("next id: %w", store.ErrDailyIDsExhausted)
}

func TestDailyIDExhaustionAbortsRun(t *testing.T) {
	feeds := fakeFeeds{items: map[string][]feed.Item{
		"feed://a": {{Title: "a", Link: "https://e.com/a"}},
		"feed://b": {{Title: "b", Link: "https://e.com/b"}},
	}}
	ex := &fakeExtractor{pages: map[string]extract.Result{"https://e.com/a": longBody(5), "https://e.com/b": longBody(5)}}
	g, _ := newTestGate(t, testConfig(), exhaustedStore{}, feeds, ex, &fakeImages{})

	_, err := g.Run(context.Background(), []config.FeedSource{{URL: "feed://a"}, {URL: "feed://b"}})
	require.ErrorIs(t, err, store.ErrDailyIDsExhausted)
	assert.Equal(t, []string{"https://e.com/a"}, ex.fetched, "second feed never starts")
}

func TestWriteTextFile(t *testing.T) {
	st := newTestStore(t)
	cfg := testConfig()
	cfg.TextDir = t.TempDir()
	link := "https://e.com/story"
	feeds := fakeFeeds{items: map[string][]feed.Item{"feed://x": {{Title: "Story", Link: link}}}}
	ex := &fakeExtractor{pages: map[string]extract.Result{link: longBody(5)}}
	g, _ := newTestGate(t, cfg, st, feeds, ex, &fakeImages{})

	_, err := g.IngestFeed(context.Background(), config.FeedSource{Name: "The Wire!", URL: "feed://x"})
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(cfg.TextDir, "The_Wire_2026101501.txt"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(data), "Story\n\n"))
}

// TestEndToEndWithRealComponents drives the gate against an httptest site
// serving a feed, an article page and its photo.
func TestEndToEndWithRealComponents(t *testing.T) {
	mux := http.NewServeMux()
	srv := httptest.NewServer(mux)
	defer srv.Close()

	paragraph := "<p>The regional council voted on Tuesday to extend the night bus network to three new districts.</p>"
	mux.HandleFunc("/feed.xml", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<?xml version="1.0"?><rss version="2.0"><channel><title>Local</title>
<item><title>Night buses extended</title><link>%[1]s/news/night-buses?utm_medium=rss</link>
<description>&lt;p&gt;Council backs &lt;b&gt;late&lt;/b&gt; service.&lt;/p&gt;</description><pubDate>the other day</pubDate></item>
<item><title>Video: council highlights</title><link>%[1]s/video/highlights</link></item>
</channel></rss>`, srv.URL)
	})
	mux.HandleFunc("/news/night-buses", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `<html><head><meta property="og:image" content="/static/logo.png"></head><body>%s<img src="/photos/bus-1500.jpg"></body></html>`,
			paragraph+
				"<p>Services will run every thirty minutes between midnight and five in the morning from next month.</p>"+
				"<p>Officials said the pilot would be reviewed after six months using ridership data and resident surveys.</p>")
	})
	photo := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{1}, 120*1024)...)
	mux.HandleFunc("/photos/bus-1500.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(photo)
	})
	var pngHits int
	mux.HandleFunc("/static/logo.png", func(w http.ResponseWriter, r *http.Request) { pngHits++ })

	full := config.Default()
	full.Images.Dir = t.TempDir()
	cfg := testConfig()
	st := newTestStore(t)
	log := logging.Discard()

	g, _ := newTestGate(t, cfg, st,
		feed.NewFetcher(nil, cfg.UserAgent),
		extract.New(full.Extract, nil, cfg.UserAgent, log),
		images.New(full.Images, nil, cfg.UserAgent, log))

	src := config.FeedSource{Name: "Local", URL: srv.URL + "/feed.xml", Category: "local"}
	stats, err := g.IngestFeed(context.Background(), src)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Created)
	assert.Equal(t, 1, stats.Filtered)
	assert.Equal(t, 1, stats.Images)
	assert.Zero(t, pngHits)

	list, err := st.ListArticles(context.Background(), "", 0)
	require.NoError(t, err)
	require.Len(t, list, 1)
	a := list[0]
	assert.Equal(t, srv.URL+"/news/night-buses", a.URL)
	assert.True(t, a.PubDate.Equal(crawlTime), "unparseable pub date defaults to crawl time")
	assert.Equal(t, "Council backs late service.", a.Description)

	img, err := st.GetImage(context.Background(), a.ID)
	require.NoError(t, err)
	require.NotNil(t, img)
	assert.EqualValues(t, len(photo), img.ByteSize)

	again, err := g.IngestFeed(context.Background(), src)
	require.NoError(t, err)
	assert.Zero(t, again.Created)
	assert.Equal(t, 1, again.Duplicates)

	list, err = st.ListArticles(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Len(t, list, 1, "re-ingesting the same feed is idempotent")
}

func TestCanonicalize(t *testing.T) {
	cases := map[string]string{
		"HTTPS://News.Example.com/a/b/?utm_source=x&id=7#frag": "https://news.example.com/a/b?id=7",
		"https://example.com/path/":                            "https://example.com/path",
		"https://example.com/story?fbclid=abc&gclid=def":       "https://example.com/story",
		"https://example.com/story?page=2&ref=home":            "https://example.com/story?page=2",
	}
	for in, want := range cases {
		got, err := Canonicalize(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := Canonicalize("/relative/only")
	assert.Error(t, err)
}

func TestIsDialogue(t *testing.T) {
	transcript := []string{
		"ANDERSON: Welcome back to the programme.",
		"Dr. Jane Smith: Thank you for having me.",
		"ANDERSON: Let us begin with the numbers.",
		"Dr. Jane Smith: They are worse than expected.",
		"ANDERSON: How much worse?",
		"A narrative paragraph without a speaker.",
	}
	assert.True(t, isDialogue(transcript, 5, 0.3))
	assert.False(t, isDialogue(transcript[:4], 5, 0.3), "too few speaker lines")
	assert.False(t, isDialogue(append(transcript[:5:5], make([]string, 20)...), 5, 0.3), "speakers are a small share")
}
