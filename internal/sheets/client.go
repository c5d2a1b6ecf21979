// Package sheets bridges the remote spreadsheet and the task queue: a thin
// Sheet Client over the Google Sheets API, typed row schemas per mode, the
// pending-row queue reader, and the batched result writer.
package sheets

import "context"

// CellUpdate addresses one cell write. Row and Column are 1-based, matching
// the sheet UI.
type CellUpdate struct {
	Row    int
	Column int
	Value  string
}

// Client is the capability consumed from the remote tabular store. Rate-limit
// style transient failures are expected; callers route every method through
// the retry controller.
type Client interface {
	// ReadRows returns all rows of a collection in sheet order, header
	// row included. Trailing empty cells may be absent.
	ReadRows(ctx context.Context, collection string) ([][]string, error)
	// BatchUpdate applies cell writes in one remote call.
	BatchUpdate(ctx context.Context, collection string, updates []CellUpdate) error
	// AppendRow appends values as a new row at the bottom of a collection.
	AppendRow(ctx context.Context, collection string, values []string) error
}
