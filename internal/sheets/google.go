package sheets

import (
	"context"
	"fmt"
	"sync/atomic"

	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// GoogleClient implements Client against one Google spreadsheet using a
// service account credential.
type GoogleClient struct {
	svc           *sheets.Service
	spreadsheetID string
	log           *zap.Logger
	apiCalls      atomic.Int64
}

// NewGoogleClient authenticates with the service-account credentials file
// and binds to spreadsheetID.
func NewGoogleClient(ctx context.Context, credentialsFile, spreadsheetID string, log *zap.Logger) (*GoogleClient, error) {
	if log == nil {
		log = zap.NewNop()
	}
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsFile(credentialsFile),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	return &GoogleClient{svc: svc, spreadsheetID: spreadsheetID, log: log}, nil
}

// APICalls reports the number of remote calls made, for the run summary.
func (g *GoogleClient) APICalls() int64 { return g.apiCalls.Load() }

// ReadRows fetches every populated row of the collection.
func (g *GoogleClient) ReadRows(ctx context.Context, collection string) ([][]string, error) {
	g.apiCalls.Add(1)
	resp, err := g.svc.Spreadsheets.Values.Get(g.spreadsheetID, collection).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", collection, err)
	}
	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, 0, len(raw))
		for _, cell := range raw {
			row = append(row, fmt.Sprint(cell))
		}
		rows = append(rows, row)
	}
	g.log.Debug("read rows", zap.String("collection", collection), zap.Int("count", len(rows)))
	return rows, nil
}

// BatchUpdate writes all cells in a single values.batchUpdate call.
func (g *GoogleClient) BatchUpdate(ctx context.Context, collection string, updates []CellUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	data := make([]*sheets.ValueRange, 0, len(updates))
	for _, u := range updates {
		data = append(data, &sheets.ValueRange{
			Range:  fmt.Sprintf("%s!%s%d", collection, columnLetter(u.Column), u.Row),
			Values: [][]interface{}{{u.Value}},
		})
	}
	g.apiCalls.Add(1)
	_, err := g.svc.Spreadsheets.Values.BatchUpdate(g.spreadsheetID, &sheets.BatchUpdateValuesRequest{
		ValueInputOption: "RAW",
		Data:             data,
	}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("batch update %s (%d cells): %w", collection, len(updates), err)
	}
	g.log.Debug("batch update", zap.String("collection", collection), zap.Int("cells", len(updates)))
	return nil
}

// AppendRow appends one row after the last populated row.
func (g *GoogleClient) AppendRow(ctx context.Context, collection string, values []string) error {
	cells := make([]interface{}, len(values))
	for i, v := range values {
		cells[i] = v
	}
	g.apiCalls.Add(1)
	_, err := g.svc.Spreadsheets.Values.Append(g.spreadsheetID, collection, &sheets.ValueRange{
		Values: [][]interface{}{cells},
	}).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("append to %s: %w", collection, err)
	}
	return nil
}

// columnLetter converts a 1-based column index to its A1 letter form.
func columnLetter(col int) string {
	letters := ""
	for col > 0 {
		col--
		letters = string(rune('A'+col%26)) + letters
		col /= 26
	}
	return letters
}
