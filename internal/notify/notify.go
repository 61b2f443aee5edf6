package notify

import (
	"context"
	"time"

	"github.com/chyiyaqing/newsreader/internal/enrich"
	"github.com/chyiyaqing/newsreader/internal/ingest"
)

// Notifier defines a notification channel.
type Notifier interface {
	Send(ctx context.Context, title, body string) error
}

// Report describes one pipeline run. A nil stage did not run.
type Report struct {
	Command  string
	Started  time.Time
	Finished time.Time
	Ingest   *ingest.Stats
	Enrich   *enrich.Stats
	Err      error
}

// Quiet reports a run with nothing worth telling anyone about.
func (r Report) Quiet() bool {
	if r.Err != nil {
		return false
	}
	if r.Ingest != nil && (r.Ingest.Created > 0 || r.Ingest.FeedErrors > 0 || r.Ingest.Errors > 0) {
		return false
	}
	if r.Enrich != nil && (r.Enrich.Processed > 0 || r.Enrich.Failed > 0) {
		return false
	}
	return true
}
