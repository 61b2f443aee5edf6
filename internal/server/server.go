package server

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"time"

	"github.com/chyiyaqing/newsreader/internal/store"
	"github.com/dustin/go-humanize"
)

// Store is the read side of the article store.
type Store interface {
	ListArticles(ctx context.Context, status string, limit int) ([]store.Article, error)
	GetArticle(ctx context.Context, id string) (*store.Article, error)
	GetImage(ctx context.Context, articleID string) (*store.ArticleImage, error)
	LoadArtifacts(ctx context.Context, articleID string) (store.Artifacts, error)
}

var tmpl = template.Must(template.New("articles").Funcs(template.FuncMap{
	"ago": func(t time.Time) string {
		if t.IsZero() {
			return "-"
		}
		return humanize.Time(t)
	},
}).Parse(articlesHTML))

const articlesHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>Newsreader - Articles</title>
<style>
  * { margin: 0; padding: 0; box-sizing: border-box; }
  body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f5f5f5; color: #333; }
  .container { max-width: 960px; margin: 0 auto; padding: 20px; }
  h1 { margin-bottom: 16px; font-size: 24px; }
  .tabs { display: flex; gap: 8px; margin-bottom: 24px; }
  .tabs a {
    padding: 8px 20px; border-radius: 6px; text-decoration: none;
    background: #e0e0e0; color: #555; font-weight: 500; font-size: 14px;
  }
  .tabs a.active { background: #1a73e8; color: #fff; }
  .card {
    background: #fff; border-radius: 8px; padding: 16px 20px; margin-bottom: 12px;
    box-shadow: 0 1px 3px rgba(0,0,0,0.08);
  }
  .card-header { display: flex; align-items: baseline; gap: 12px; margin-bottom: 8px; }
  .id { font-size: 13px; color: #1a73e8; font-weight: 700; }
  .status { font-size: 13px; background: #e8f0fe; color: #1a73e8; padding: 2px 8px; border-radius: 4px; }
  .category { font-size: 13px; background: #fce8e6; color: #c5221f; padding: 2px 8px; border-radius: 4px; }
  .title a { font-size: 16px; font-weight: 600; color: #1a1a1a; text-decoration: none; }
  .title a:hover { color: #1a73e8; text-decoration: underline; }
  .error { font-size: 13px; color: #c5221f; margin-top: 6px; }
  .meta { font-size: 12px; color: #aaa; margin-top: 8px; }
  .empty { text-align: center; padding: 60px 20px; color: #999; }
</style>
</head>
<body>
<div class="container">
  <h1>Newsreader</h1>
  <div class="tabs">
    <a href="/articles" {{if eq .Status ""}}class="active"{{end}}>All</a>
    {{range .Statuses}}<a href="/articles?status={{.}}" {{if eq $.Status .}}class="active"{{end}}>{{.}}</a>
    {{end}}
  </div>
  {{if .Articles}}
  {{range .Articles}}
  <div class="card">
    <div class="card-header">
      <span class="id"><a href="/api/articles/{{.ID}}">{{.ID}}</a></span>
      <span class="status">{{.Status}}</span>
      {{if .Category}}<span class="category">{{.Category}}</span>{{end}}
    </div>
    <div class="title"><a href="{{.URL}}" target="_blank" rel="noopener">{{.Title}}</a></div>
    {{if .LastError.Valid}}<div class="error">failed {{.FailedCount}}x: {{.LastError.String}}</div>{{end}}
    <div class="meta">{{.Source}} &middot; published {{ago .PubDate}} &middot; crawled {{ago .CrawlDate}}</div>
  </div>
  {{end}}
  {{else}}
  <div class="empty">No articles found.</div>
  {{end}}
</div>
</body>
</html>`

var statuses = []string{store.StatusPending, store.StatusInProgress, store.StatusProcessed, store.StatusFailed}

type pageData struct {
	Status   string
	Statuses []string
	Articles []store.Article
}

type Server struct {
	db     Store
	srv    *http.Server
	logger *slog.Logger
}

func New(db Store, addr string, logger *slog.Logger) *Server {
	s := &Server{db: db, logger: logger.With("component", "server")}
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /articles", s.handleArticles)

	// REST API
	mux.HandleFunc("GET /api/articles", s.handleAPIArticles)
	mux.HandleFunc("GET /api/articles/{id}", s.handleAPIArticleDetail)
	return mux
}

// Handler exposes the routes, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.srv.Handler
}

// Start begins listening. It blocks until ctx is cancelled or the server fails.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.srv.Addr, err)
	}
	s.logger.Info("http server listening", "addr", ln.Addr().String())

	go func() {
		<-ctx.Done()
		s.Shutdown()
	}()

	if err := s.srv.Serve(ln); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		s.logger.Warn("http shutdown", "error", err)
	}
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/articles", http.StatusFound)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleArticles(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if !validStatus(status) {
		status = ""
	}

	articles, err := s.db.ListArticles(r.Context(), status, 50)
	if err != nil {
		http.Error(w, "Failed to load articles", http.StatusInternalServerError)
		s.logger.Error("load articles", "error", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := tmpl.Execute(w, pageData{Status: status, Statuses: statuses, Articles: articles}); err != nil {
		s.logger.Error("render template", "error", err)
	}
}

func validStatus(status string) bool {
	return status == "" || slices.Contains(statuses, status)
}
