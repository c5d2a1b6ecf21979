package sheets

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"rowbot/internal/retry"
)

// ResultWriter accumulates cell writes for one collection during a run and
// flushes them in as few remote calls as the client allows. Rows are
// processed strictly serially, so no two rows ever race for the same cell
// and each processed row gets exactly one terminal write per run.
type ResultWriter struct {
	client     Client
	collection string
	retrier    *retry.Controller
	log        *zap.Logger
	pending    []CellUpdate
}

// NewResultWriter builds a writer for one collection.
func NewResultWriter(client Client, collection string, retrier *retry.Controller, log *zap.Logger) *ResultWriter {
	if log == nil {
		log = zap.NewNop()
	}
	return &ResultWriter{client: client, collection: collection, retrier: retrier, log: log}
}

// Add queues cell writes for the next flush.
func (w *ResultWriter) Add(updates ...CellUpdate) {
	w.pending = append(w.pending, updates...)
}

// Pending reports how many cell writes are queued.
func (w *ResultWriter) Pending() int { return len(w.pending) }

// Flush writes everything queued in one batch call. If the batch fails
// after its retries, flushing degrades to row granularity so one bad cell
// cannot sink every other row's terminal status.
func (w *ResultWriter) Flush(ctx context.Context) error {
	if len(w.pending) == 0 {
		return nil
	}
	updates := w.pending
	w.pending = nil

	err := w.retrier.Do(ctx, "batch update "+w.collection, func() error {
		return w.client.BatchUpdate(ctx, w.collection, updates)
	})
	if err == nil {
		w.log.Debug("flushed results",
			zap.String("collection", w.collection), zap.Int("cells", len(updates)))
		return nil
	}
	w.log.Warn("batch flush failed, retrying per row",
		zap.String("collection", w.collection), zap.Error(err))

	var errs []error
	for _, group := range groupByRow(updates) {
		group := group
		rowErr := w.retrier.Do(ctx, fmt.Sprintf("update %s row %d", w.collection, group[0].Row), func() error {
			return w.client.BatchUpdate(ctx, w.collection, group)
		})
		if rowErr != nil {
			errs = append(errs, fmt.Errorf("row %d: %w", group[0].Row, rowErr))
		}
	}
	return errors.Join(errs...)
}

// groupByRow splits updates into per-row groups, preserving row order.
func groupByRow(updates []CellUpdate) [][]CellUpdate {
	byRow := make(map[int][]CellUpdate)
	var order []int
	for _, u := range updates {
		if _, seen := byRow[u.Row]; !seen {
			order = append(order, u.Row)
		}
		byRow[u.Row] = append(byRow[u.Row], u)
	}
	groups := make([][]CellUpdate, 0, len(order))
	for _, row := range order {
		groups = append(groups, byRow[row])
	}
	return groups
}
