package sheets

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowbot/internal/retry"
)

type noSleepClock struct{}

func (noSleepClock) Now() time.Time                              { return time.Unix(0, 0) }
func (noSleepClock) Sleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testRetrier(t *testing.T, attempts int) *retry.Controller {
	t.Helper()
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = attempts
	return retry.New(policy, nil, retry.WithClock(noSleepClock{}))
}

// fakeClient records calls and fails batches on demand.
type fakeClient struct {
	batches  [][]CellUpdate
	appends  [][]string
	failFunc func(updates []CellUpdate) error
}

func (c *fakeClient) ReadRows(ctx context.Context, collection string) ([][]string, error) {
	return nil, nil
}

func (c *fakeClient) BatchUpdate(ctx context.Context, collection string, updates []CellUpdate) error {
	c.batches = append(c.batches, updates)
	if c.failFunc != nil {
		return c.failFunc(updates)
	}
	return nil
}

func (c *fakeClient) AppendRow(ctx context.Context, collection string, values []string) error {
	c.appends = append(c.appends, values)
	return nil
}

func TestResultWriterFlushBatchesAll(t *testing.T) {
	client := &fakeClient{}
	w := NewResultWriter(client, "MsgList", testRetrier(t, 3), nil)

	w.Add(CellUpdate{Row: 2, Column: MsgColStatus, Value: string(StatusDone)})
	w.Add(CellUpdate{Row: 2, Column: MsgColResult, Value: "https://damadam.pk/comments/text/1"})
	w.Add(CellUpdate{Row: 3, Column: MsgColStatus, Value: string(StatusFailed)})
	require.Equal(t, 3, w.Pending())

	require.NoError(t, w.Flush(context.Background()))
	require.Len(t, client.batches, 1, "one remote call for the whole run")
	assert.Len(t, client.batches[0], 3)
	assert.Equal(t, 0, w.Pending())
}

func TestResultWriterFlushEmptyIsNoop(t *testing.T) {
	client := &fakeClient{}
	w := NewResultWriter(client, "MsgList", testRetrier(t, 3), nil)
	require.NoError(t, w.Flush(context.Background()))
	assert.Empty(t, client.batches)
}

func TestResultWriterFallsBackToPerRow(t *testing.T) {
	badRow := errors.New("cell rejected")
	client := &fakeClient{
		failFunc: func(updates []CellUpdate) error {
			// The full batch always fails; per-row groups fail only for row 3.
			if len(updates) > 2 || updates[0].Row == 3 {
				return badRow
			}
			return nil
		},
	}
	w := NewResultWriter(client, "MsgList", testRetrier(t, 1), nil)
	w.Add(CellUpdate{Row: 2, Column: MsgColStatus, Value: string(StatusDone)})
	w.Add(CellUpdate{Row: 2, Column: MsgColResult, Value: "ref"})
	w.Add(CellUpdate{Row: 3, Column: MsgColStatus, Value: string(StatusDone)})
	w.Add(CellUpdate{Row: 4, Column: MsgColStatus, Value: string(StatusSkipped)})

	err := w.Flush(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, badRow)
	assert.Contains(t, err.Error(), "row 3")

	// 1 failed batch + 3 per-row groups.
	require.Len(t, client.batches, 4)
	assert.Equal(t, 2, client.batches[1][0].Row)
	assert.Len(t, client.batches[1], 2, "row 2 cells stay grouped")
	assert.Equal(t, 3, client.batches[2][0].Row)
	assert.Equal(t, 4, client.batches[3][0].Row)
}

func TestResultWriterFlushClearsQueueOnFailure(t *testing.T) {
	boom := errors.New("remote down")
	client := &fakeClient{failFunc: func([]CellUpdate) error { return boom }}
	w := NewResultWriter(client, "PostQueue", testRetrier(t, 1), nil)
	w.Add(CellUpdate{Row: 2, Column: PostColStatus, Value: string(StatusFailed)})

	require.Error(t, w.Flush(context.Background()))
	assert.Equal(t, 0, w.Pending(), "failed updates are not retried on the next flush")
}

func TestGroupByRowPreservesOrder(t *testing.T) {
	groups := groupByRow([]CellUpdate{
		{Row: 5, Column: 1},
		{Row: 2, Column: 1},
		{Row: 5, Column: 2},
		{Row: 9, Column: 1},
	})
	require.Len(t, groups, 3)
	assert.Equal(t, 5, groups[0][0].Row)
	assert.Len(t, groups[0], 2)
	assert.Equal(t, 2, groups[1][0].Row)
	assert.Equal(t, 9, groups[2][0].Row)
}

func TestColumnLetter(t *testing.T) {
	tests := []struct {
		col  int
		want string
	}{
		{1, "A"},
		{2, "B"},
		{26, "Z"},
		{27, "AA"},
		{28, "AB"},
		{52, "AZ"},
		{53, "BA"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, columnLetter(tt.col), "col=%d", tt.col)
	}
}
