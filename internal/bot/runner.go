package bot

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"rowbot/internal/retry"
	"rowbot/internal/sheets"
)

// Outcome is the terminal result of one processed row.
type Outcome struct {
	Row       int
	Status    sheets.Status
	Note      string
	ResultRef string

	// fatal carries the run-aborting error when the row hit one. The row
	// still gets its terminal status before the run stops.
	fatal error
}

// Summary aggregates one run for the closing log line.
type Summary struct {
	Eligible int
	Done     int
	Failed   int
	Skipped  int
	Invalid  int
	Aborted  bool
}

// Fields renders the summary for structured logging.
func (s Summary) Fields() []zap.Field {
	return []zap.Field{
		zap.Int("eligible", s.Eligible),
		zap.Int("done", s.Done),
		zap.Int("failed", s.Failed),
		zap.Int("skipped", s.Skipped),
		zap.Int("invalid", s.Invalid),
		zap.Bool("aborted", s.Aborted),
	}
}

func (s *Summary) count(status sheets.Status) {
	switch status {
	case sheets.StatusDone:
		s.Done++
	case sheets.StatusFailed:
		s.Failed++
	case sheets.StatusSkipped:
		s.Skipped++
	}
}

// RunOptions bounds one orchestrator invocation.
type RunOptions struct {
	Collection string
	// MaxTasks caps eligible tasks, 0 means no cap.
	MaxTasks int
	// PageBudget bounds the open-target listing scan.
	PageBudget int
	// TaskDelay is the pause between consecutive tasks.
	TaskDelay time.Duration
	// Username is the logged-in account name, used for submit verification.
	Username string
}

// timestampLayout is the format written into timestamp cells.
const timestampLayout = "2006-01-02 15:04:05"

// failed builds a failed outcome from an error.
func failed(row int, err error) Outcome {
	return Outcome{Row: row, Status: sheets.StatusFailed, Note: err.Error()}
}

func skipped(row int, note string) Outcome {
	return Outcome{Row: row, Status: sheets.StatusSkipped, Note: note}
}

// errorOutcome routes a processing error to its terminal status. Business
// outcomes skip the row, fatal errors mark it failed and abort the run,
// everything else fails the row alone.
func errorOutcome(row int, err error) Outcome {
	switch retry.Classify(err) {
	case retry.ClassBusiness:
		return skipped(row, err.Error())
	case retry.ClassFatal:
		o := failed(row, err)
		o.fatal = err
		return o
	default:
		return failed(row, err)
	}
}

// verifySnippet trims content to a length safe to search for in page
// source. Long messages are truncated at submit time, so the probe must
// stay well under that cap.
func verifySnippet(content string) string {
	const limit = 60
	if len(content) > limit {
		return content[:limit]
	}
	return content
}

// pause sleeps the inter-task delay, returning early when ctx is done.
func pause(ctx context.Context, d time.Duration) error {
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

// readRows fetches the full collection snapshot through the retrier.
func readRows(ctx context.Context, client sheets.Client, retrier *retry.Controller, collection string) ([][]string, error) {
	var rows [][]string
	err := retrier.Do(ctx, "read "+collection, func() error {
		var readErr error
		rows, readErr = client.ReadRows(ctx, collection)
		return readErr
	})
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}
	return rows, nil
}
