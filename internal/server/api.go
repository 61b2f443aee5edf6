package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/chyiyaqing/newsreader/internal/store"
)

// JSON response types for the REST API.

type apiArticle struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	URL         string `json:"url"`
	Source      string `json:"source"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	Status      string `json:"status"`
	FailedCount int    `json:"failed_count"`
	LastError   string `json:"last_error,omitempty"`
	PubDate     string `json:"pub_date"`
	CrawlDate   string `json:"crawl_date"`
}

type apiImage struct {
	SourceURL string `json:"source_url"`
	LocalPath string `json:"local_path"`
	ByteSize  int64  `json:"byte_size"`
}

type apiListResponse struct {
	Status   string       `json:"status,omitempty"`
	Count    int          `json:"count"`
	Articles []apiArticle `json:"articles"`
}

type apiDetailResponse struct {
	Article   apiArticle       `json:"article"`
	Content   string           `json:"content"`
	Image     *apiImage        `json:"image,omitempty"`
	Artifacts *store.Artifacts `json:"artifacts,omitempty"`
}

type apiError struct {
	Error string `json:"error"`
}

// GET /api/articles?status=pending|in_progress|processed|failed&limit=20
func (s *Server) handleAPIArticles(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if !validStatus(status) {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "unknown status " + strconv.Quote(status)})
		return
	}

	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}

	articles, err := s.db.ListArticles(r.Context(), status, limit)
	if err != nil {
		s.logger.Error("api list articles", "error", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "failed to load articles"})
		return
	}

	items := make([]apiArticle, len(articles))
	for i, a := range articles {
		items[i] = toAPIArticle(a)
	}
	writeJSON(w, http.StatusOK, apiListResponse{
		Status:   status,
		Count:    len(items),
		Articles: items,
	})
}

// GET /api/articles/{id}
func (s *Server) handleAPIArticleDetail(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := strconv.ParseUint(id, 10, 64); err != nil || len(id) != 10 {
		writeJSON(w, http.StatusBadRequest, apiError{Error: "invalid article id"})
		return
	}

	ctx := r.Context()
	article, err := s.db.GetArticle(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		writeJSON(w, http.StatusNotFound, apiError{Error: "article not found"})
		return
	}
	if err != nil {
		s.logger.Error("api get article", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "failed to load article"})
		return
	}

	resp := apiDetailResponse{Article: toAPIArticle(*article), Content: article.Content}

	img, err := s.db.GetImage(ctx, id)
	if err != nil {
		s.logger.Error("api get image", "id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, apiError{Error: "failed to load image"})
		return
	}
	if img != nil {
		resp.Image = &apiImage{SourceURL: img.SourceURL, LocalPath: img.LocalPath, ByteSize: img.ByteSize}
	}

	if article.Processed {
		art, err := s.db.LoadArtifacts(ctx, id)
		if err != nil {
			s.logger.Error("api load artifacts", "id", id, "error", err)
			writeJSON(w, http.StatusInternalServerError, apiError{Error: "failed to load artifacts"})
			return
		}
		resp.Artifacts = &art
	}

	writeJSON(w, http.StatusOK, resp)
}

func toAPIArticle(a store.Article) apiArticle {
	return apiArticle{
		ID:          a.ID,
		Title:       a.Title,
		URL:         a.URL,
		Source:      a.Source,
		Category:    a.Category,
		Description: a.Description,
		Status:      a.Status(),
		FailedCount: a.FailedCount,
		LastError:   a.LastError.String,
		PubDate:     fmtTimeRFC3339(a.PubDate),
		CrawlDate:   fmtTimeRFC3339(a.CrawlDate),
	}
}

func fmtTimeRFC3339(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
