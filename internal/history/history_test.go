package history

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"rowbot/internal/retry"
	"rowbot/internal/sheets"
)

// fakeClient records appended rows.
type fakeClient struct {
	appended  [][]string
	appendErr error
}

func (f *fakeClient) ReadRows(context.Context, string) ([][]string, error) { return nil, nil }

func (f *fakeClient) BatchUpdate(context.Context, string, []sheets.CellUpdate) error { return nil }

func (f *fakeClient) AppendRow(_ context.Context, _ string, values []string) error {
	if f.appendErr != nil {
		return f.appendErr
	}
	f.appended = append(f.appended, values)
	return nil
}

type noSleep struct{}

func (noSleep) Now() time.Time                               { return time.Unix(0, 0) }
func (noSleep) Sleep(context.Context, time.Duration) error { return nil }

func testRetrier() *retry.Controller {
	return retry.New(retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond},
		zap.NewNop(), retry.WithClock(noSleep{}))
}

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()
	l, err := OpenLedger(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	return l
}

func sampleEntry() Entry {
	return Entry{
		Timestamp:   time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC),
		Nick:        "sara",
		Name:        "Sara",
		Content:     "Hi Sara",
		Destination: "https://example.pk/comments/text/12345",
		Outcome:     "done",
		ResultRef:   "https://example.pk/comments/text/12345",
	}
}

func TestLedgerSeenMark(t *testing.T) {
	l := openTestLedger(t)

	seen, err := l.Seen("k1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, l.Mark("k1", "sara", "done"))

	seen, err = l.Seen("k1")
	require.NoError(t, err)
	assert.True(t, seen)

	// Re-marking an existing key is a no-op.
	require.NoError(t, l.Mark("k1", "sara", "done"))
}

func TestEntryKeyStable(t *testing.T) {
	a, b := sampleEntry(), sampleEntry()
	assert.Equal(t, a.Key(), b.Key())

	b.Content = "different"
	assert.NotEqual(t, a.Key(), b.Key())
}

func TestRecordAppendsOncePerKey(t *testing.T) {
	client := &fakeClient{}
	rec := NewRecorder(client, "MsgHistory", openTestLedger(t), testRetrier(), zap.NewNop())

	e := sampleEntry()
	require.NoError(t, rec.Record(context.Background(), e))
	// Retried write of the same action must not duplicate the record.
	require.NoError(t, rec.Record(context.Background(), e))

	require.Len(t, client.appended, 1)
	assert.Equal(t, "sara", client.appended[0][1])
	assert.Equal(t, "done", client.appended[0][5])
}

func TestRecordFailedAppendLeavesKeyUnmarked(t *testing.T) {
	client := &fakeClient{appendErr: errors.New("comment closed")} // structural, no retry
	ledger := openTestLedger(t)
	rec := NewRecorder(client, "MsgHistory", ledger, testRetrier(), zap.NewNop())

	e := sampleEntry()
	require.Error(t, rec.Record(context.Background(), e))

	seen, err := ledger.Seen(e.Key())
	require.NoError(t, err)
	assert.False(t, seen, "a failed append must stay retryable on the next run")

	// Next run succeeds and appends exactly once.
	client.appendErr = nil
	require.NoError(t, rec.Record(context.Background(), e))
	assert.Len(t, client.appended, 1)
}

func TestRecorderWithoutLedgerStillAppends(t *testing.T) {
	client := &fakeClient{}
	rec := NewRecorder(client, "MsgHistory", nil, testRetrier(), zap.NewNop())

	require.NoError(t, rec.Record(context.Background(), sampleEntry()))
	assert.Len(t, client.appended, 1)
}

func TestSeenMatchesRecorded(t *testing.T) {
	client := &fakeClient{}
	rec := NewRecorder(client, "MsgHistory", openTestLedger(t), testRetrier(), zap.NewNop())

	e := sampleEntry()
	seen, err := rec.Seen(e)
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, rec.Record(context.Background(), e))

	seen, err = rec.Seen(e)
	require.NoError(t, err)
	assert.True(t, seen)
}
