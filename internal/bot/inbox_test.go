package bot

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rowbot/internal/sheets"
)

const inboxCollection = "InboxQueue"

func inboxHeader() []string {
	return []string{"Nick", "Name", "LastMsg", "Reply", "Status", "Timestamp", "Notes", "Log"}
}

func inboxRunner(t *testing.T, client *fakeClient, driver *fakeDriver) *InboxRunner {
	t.Helper()
	r := NewInboxRunner(client, driver, testRetrier(t, 3), nil, RunOptions{Collection: inboxCollection})
	r.now = func() time.Time { return time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC) }
	return r
}

func TestInboxRunDiscoveryAppendsNew(t *testing.T) {
	client := newFakeClient()
	client.rows[inboxCollection] = [][]string{
		inboxHeader(),
		{"sara", "Sara", "hello", "", "pending", "", "", ""},
	}
	driver := newFakeDriver()
	driver.convs = []Conversation{
		{Nick: "Sara", LastMessage: "hello again"}, // known, case differs
		{Nick: "ali", LastMessage: "salaam", Timestamp: "2026-03-13"},
	}

	_, err := inboxRunner(t, client, driver).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, client.appends, 1, "only the unknown conversation is appended")
	row := client.appends[0].Values
	assert.Equal(t, "ali", row[sheets.InboxColNick-1])
	assert.Equal(t, "salaam", row[sheets.InboxColLastMsg-1])
	assert.Equal(t, "pending", row[sheets.InboxColStatus-1])
	assert.Empty(t, row[sheets.InboxColReply-1], "new rows await an operator reply")
}

func TestInboxRunDispatchesFilledReplies(t *testing.T) {
	client := newFakeClient()
	client.rows[inboxCollection] = [][]string{
		inboxHeader(),
		{"sara", "Sara", "hello", "walaikum salaam", "pending", "", "", ""},
	}
	driver := newFakeDriver()
	driver.pageText = "walaikum salaam"
	driver.convLogs[fakeBase+"/inbox/sara/"] = "sara: hello\nme: walaikum salaam"

	summary, err := inboxRunner(t, client, driver).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done)

	require.Len(t, driver.navigations, 1)
	assert.Equal(t, fakeBase+"/inbox/sara/", driver.navigations[0])
	require.Len(t, driver.submissions, 1)
	assert.Equal(t, IntentReply, driver.submissions[0].Intent)
	assert.Equal(t, "walaikum salaam", driver.submissions[0].Content.Body)

	status, _ := client.cellValue(2, sheets.InboxColStatus)
	assert.Equal(t, "done", status)
	ts, _ := client.cellValue(2, sheets.InboxColTimestamp)
	assert.Equal(t, "2026-03-14 09:30:00", ts)
	log, _ := client.cellValue(2, sheets.InboxColLog)
	assert.Contains(t, log, "walaikum salaam")
}

func TestInboxRunEmptyReplyUntouched(t *testing.T) {
	client := newFakeClient()
	client.rows[inboxCollection] = [][]string{
		inboxHeader(),
		{"sara", "Sara", "hello", "", "pending", "", "", ""},
	}
	driver := newFakeDriver()

	summary, err := inboxRunner(t, client, driver).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Eligible)
	assert.Empty(t, driver.submissions)
	assert.False(t, client.rowTouched(2), "pending row without a reply stays as-is")
}

func TestInboxRunInvalidRowsMarkedFailed(t *testing.T) {
	client := newFakeClient()
	client.rows[inboxCollection] = [][]string{
		inboxHeader(),
		{"", "Mystery", "hello", "my reply", "pending", "", "", ""},
		{"sara", "Sara", "hello", "walaikum salaam", "pending", "", "", ""},
	}
	driver := newFakeDriver()
	driver.pageText = "walaikum salaam"

	summary, err := inboxRunner(t, client, driver).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Invalid)
	assert.Equal(t, 1, summary.Done)

	status, _ := client.cellValue(2, sheets.InboxColStatus)
	assert.Equal(t, "failed", status)
	note, _ := client.cellValue(2, sheets.InboxColNotes)
	assert.Equal(t, "missing nickname", note)

	require.Len(t, driver.submissions, 1, "the row without a nickname is never dispatched")
	assert.Equal(t, "walaikum salaam", driver.submissions[0].Content.Body)
}

func TestInboxRunDoneRowsNotResent(t *testing.T) {
	client := newFakeClient()
	client.rows[inboxCollection] = [][]string{
		inboxHeader(),
		{"sara", "Sara", "hello", "old reply", "done", "2026-03-01 10:00:00", "", ""},
	}
	driver := newFakeDriver()

	summary, err := inboxRunner(t, client, driver).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Eligible)
	assert.Empty(t, driver.submissions)
}

func TestInboxRunUnverifiedReplyFails(t *testing.T) {
	client := newFakeClient()
	client.rows[inboxCollection] = [][]string{
		inboxHeader(),
		{"sara", "Sara", "hello", "my reply", "pending", "", "", ""},
	}
	driver := newFakeDriver()
	driver.pageText = "unrelated"

	summary, err := inboxRunner(t, client, driver).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	status, _ := client.cellValue(2, sheets.InboxColStatus)
	assert.Equal(t, "failed", status)
	_, tsWritten := client.cellValue(2, sheets.InboxColTimestamp)
	assert.False(t, tsWritten)
}

func TestInboxRunDiscoveryFailureStillDispatches(t *testing.T) {
	client := newFakeClient()
	client.rows[inboxCollection] = [][]string{
		inboxHeader(),
		{"sara", "Sara", "hello", "my reply", "pending", "", "", ""},
	}
	driver := newFakeDriver()
	driver.convErr = assertError("inbox page broken")
	driver.pageText = "my reply"

	summary, err := inboxRunner(t, client, driver).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Done, "known rows dispatch even when discovery fails")
}

type assertError string

func (e assertError) Error() string { return string(e) }
