package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscoverAdvertisedFeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `<html><head>
<link rel="stylesheet" href="/site.css">
<link rel="alternate" type="application/rss+xml" href="/news/rss.xml">
<link rel="alternate" type="application/atom+xml" href="https://cdn.example.com/atom">
<link rel="alternate" type="application/rss+xml" href="/news/rss.xml">
<link rel="alternate" hreflang="fr" href="/fr/">
</head><body></body></html>`)
	}))
	defer srv.Close()

	feeds, err := NewFetcher(nil, "TestAgent/1.0").Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/news/rss.xml", "https://cdn.example.com/atom"}, feeds)
}

func TestDiscoverProbesCommonPaths(t *testing.T) {
	var probed []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		probed = append(probed, r.URL.Path)
		switch r.URL.Path {
		case "/":
			fmt.Fprint(w, `<html><body>No feed links here.</body></html>`)
		case "/atom.xml":
			fmt.Fprint(w, atomFeed)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	feeds, err := NewFetcher(nil, "").Discover(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, []string{srv.URL + "/atom.xml"}, feeds)
	assert.Equal(t, []string{"/", "/feed", "/rss", "/atom.xml"}, probed)
}

func TestDiscoverNothing(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := NewFetcher(nil, "").Discover(context.Background(), srv.URL)
	assert.ErrorContains(t, err, "no feed found")

	_, err = NewFetcher(nil, "").Discover(context.Background(), "https://")
	assert.Error(t, err)
}
