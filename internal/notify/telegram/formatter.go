package telegram

import (
	"fmt"
	"strings"
	"time"

	"github.com/chyiyaqing/newsreader/internal/notify"
	"github.com/dustin/go-humanize"
)

// FormatReport builds an HTML-formatted Telegram message for a pipeline run.
func FormatReport(r notify.Report) string {
	var sb strings.Builder

	status := "✅"
	if r.Err != nil {
		status = "⚠️"
	}
	fmt.Fprintf(&sb, "<b>%s Newsreader %s</b>\n", status, escapeHTML(r.Command))
	if !r.Started.IsZero() {
		took := r.Finished.Sub(r.Started).Round(time.Second)
		fmt.Fprintf(&sb, "Started %s, took %s\n", r.Started.UTC().Format("2006-01-02 15:04 MST"), took)
	}
	sb.WriteString("\n")

	if s := r.Ingest; s != nil {
		sb.WriteString("<b>Ingest</b>\n")
		fmt.Fprintf(&sb, "   Feeds: %d (%d unavailable)\n", s.Feeds, s.FeedErrors)
		fmt.Fprintf(&sb, "   Items: %s fetched, %s created, %d with image\n",
			humanize.Comma(int64(s.Fetched)), humanize.Comma(int64(s.Created)), s.Images)
		fmt.Fprintf(&sb, "   Dropped: %d duplicate, %d filtered, %d by length\n", s.Duplicates, s.Filtered, s.LengthRejected)
		if s.Errors > 0 || s.Skipped > 0 {
			fmt.Fprintf(&sb, "   Errors: %d, timed out: %d\n", s.Errors, s.Skipped)
		}
		sb.WriteString("\n")
	}

	if s := r.Enrich; s != nil {
		sb.WriteString("<b>Enrich</b>\n")
		fmt.Fprintf(&sb, "   Processed: %d of %d eligible\n", s.Processed, s.Eligible)
		if s.Failed > 0 || s.Evicted > 0 {
			fmt.Fprintf(&sb, "   Failed: %d, evicted: %d\n", s.Failed, s.Evicted)
		}
		if s.Lost > 0 || s.Released > 0 {
			fmt.Fprintf(&sb, "   Claims: %d lost, %d stale released\n", s.Lost, s.Released)
		}
		sb.WriteString("\n")
	}

	if r.Err != nil {
		fmt.Fprintf(&sb, "<b>Error</b>\n   %s\n", escapeHTML(r.Err.Error()))
	}

	return strings.TrimRight(sb.String(), "\n")
}
