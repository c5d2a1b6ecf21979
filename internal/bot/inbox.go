package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"rowbot/internal/retry"
	"rowbot/internal/sheets"
)

// InboxRunner keeps the inbox collection in sync with the remote inbox and
// dispatches operator-written replies. A run is two sweeps: discovery
// appends unknown conversations as pending rows, dispatch sends every
// pending row whose reply cell is filled in.
type InboxRunner struct {
	client  sheets.Client
	reader  *sheets.QueueReader
	driver  Driver
	retrier *retry.Controller
	log     *zap.Logger
	opts    RunOptions
	now     func() time.Time
}

// NewInboxRunner wires an inbox-reply run.
func NewInboxRunner(client sheets.Client, driver Driver, retrier *retry.Controller, log *zap.Logger, opts RunOptions) *InboxRunner {
	if log == nil {
		log = zap.NewNop()
	}
	return &InboxRunner{
		client:  client,
		reader:  sheets.NewQueueReader(log),
		driver:  driver,
		retrier: retrier,
		log:     log,
		opts:    opts,
		now:     time.Now,
	}
}

// Run executes one inbox sweep: discovery first, then dispatch.
func (r *InboxRunner) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	rows, err := readRows(ctx, r.client, r.retrier, r.opts.Collection)
	if err != nil {
		return summary, err
	}
	records, invalid := r.reader.InboxRecords(rows)
	summary.Invalid = len(invalid)

	if err := r.discover(ctx, records); err != nil {
		// Discovery failure leaves known rows dispatchable, so the run
		// continues unless the session itself is gone.
		if retry.Classify(err) == retry.ClassFatal {
			summary.Aborted = true
			return summary, err
		}
		r.log.Warn("inbox discovery incomplete", zap.Error(err))
	}

	writer := sheets.NewResultWriter(r.client, r.opts.Collection, r.retrier, r.log)
	for _, inv := range invalid {
		writer.Add(
			sheets.CellUpdate{Row: inv.Row, Column: sheets.InboxColStatus, Value: string(sheets.StatusFailed)},
			sheets.CellUpdate{Row: inv.Row, Column: sheets.InboxColNotes, Value: inv.Reason},
		)
	}

	runErr := r.dispatch(ctx, records, writer, &summary)

	if err := writer.Flush(ctx); err != nil {
		r.log.Error("result flush incomplete", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return summary, runErr
}

// discover fetches the remote inbox and appends conversations the
// collection does not know yet. Membership is by case-insensitive nickname.
func (r *InboxRunner) discover(ctx context.Context, records []sheets.InboxRecord) error {
	var conversations []Conversation
	err := r.retrier.Do(ctx, "fetch inbox", func() error {
		var fetchErr error
		conversations, fetchErr = r.driver.FetchConversations(ctx)
		return fetchErr
	})
	if err != nil {
		return err
	}

	known := make(map[string]bool, len(records))
	for _, rec := range records {
		known[strings.ToLower(rec.Nick)] = true
	}

	var appendErrs []error
	for _, conv := range conversations {
		key := strings.ToLower(conv.Nick)
		if key == "" || known[key] {
			continue
		}
		known[key] = true

		row := make([]string, sheets.InboxColLog)
		row[sheets.InboxColNick-1] = conv.Nick
		row[sheets.InboxColName-1] = conv.Nick
		row[sheets.InboxColLastMsg-1] = conv.LastMessage
		row[sheets.InboxColStatus-1] = string(sheets.StatusPending)
		row[sheets.InboxColTimestamp-1] = conv.Timestamp

		err := r.retrier.Do(ctx, "append conversation "+conv.Nick, func() error {
			return r.client.AppendRow(ctx, r.opts.Collection, row)
		})
		if err != nil {
			appendErrs = append(appendErrs, err)
			continue
		}
		r.log.Info("conversation discovered", zap.String("nick", conv.Nick))
	}
	return errors.Join(appendErrs...)
}

// dispatch sends every pending record with a filled reply cell. Pending
// rows with an empty reply are awaiting the operator and stay untouched.
func (r *InboxRunner) dispatch(ctx context.Context, records []sheets.InboxRecord, writer *sheets.ResultWriter, summary *Summary) error {
	var eligible []sheets.InboxRecord
	for _, rec := range records {
		if sheets.IsPending(rec.Status) && rec.Reply != "" {
			eligible = append(eligible, rec)
		}
	}
	if r.opts.MaxTasks > 0 && len(eligible) > r.opts.MaxTasks {
		eligible = eligible[:r.opts.MaxTasks]
	}
	summary.Eligible = len(eligible)

	for i, rec := range eligible {
		outcome := r.reply(ctx, rec)
		summary.count(outcome.Status)
		writer.Add(r.inboxUpdates(outcome)...)

		r.log.Info("inbox row processed",
			zap.Int("row", rec.Row),
			zap.String("nick", rec.Nick),
			zap.String("status", string(outcome.Status)),
			zap.String("note", outcome.Note))

		if outcome.fatal != nil {
			summary.Aborted = true
			return outcome.fatal
		}
		if i < len(eligible)-1 {
			if err := pause(ctx, r.opts.TaskDelay); err != nil {
				summary.Aborted = true
				return err
			}
		}
	}
	return nil
}

// inboxUpdates maps an outcome onto the inbox collection's columns. Done
// rows get the dispatch timestamp; the conversation log travels in
// ResultRef.
func (r *InboxRunner) inboxUpdates(o Outcome) []sheets.CellUpdate {
	updates := []sheets.CellUpdate{
		{Row: o.Row, Column: sheets.InboxColStatus, Value: string(o.Status)},
	}
	if o.Note != "" {
		updates = append(updates, sheets.CellUpdate{Row: o.Row, Column: sheets.InboxColNotes, Value: o.Note})
	}
	if o.Status == sheets.StatusDone {
		updates = append(updates, sheets.CellUpdate{
			Row: o.Row, Column: sheets.InboxColTimestamp, Value: r.now().Format(timestampLayout),
		})
		if o.ResultRef != "" {
			updates = append(updates, sheets.CellUpdate{Row: o.Row, Column: sheets.InboxColLog, Value: o.ResultRef})
		}
	}
	return updates
}

// reply sends one conversation reply and refreshes the thread log.
func (r *InboxRunner) reply(ctx context.Context, rec sheets.InboxRecord) Outcome {
	url := r.driver.ConversationURL(rec.Nick)

	err := r.retrier.Do(ctx, "send reply "+rec.Nick, func() error {
		if err := r.driver.Navigate(ctx, url); err != nil {
			return err
		}
		return r.driver.FillAndSubmit(ctx, IntentReply, Content{Body: rec.Reply})
	})
	if err != nil {
		return errorOutcome(rec.Row, err)
	}

	verified, err := r.driver.PageContains(ctx, verifySnippet(rec.Reply))
	if err != nil {
		return errorOutcome(rec.Row, err)
	}
	if !verified {
		return failed(rec.Row, errors.New("reply not confirmed on page"))
	}

	log, err := r.driver.ConversationLog(ctx, url)
	if err != nil {
		r.log.Warn("conversation log unavailable", zap.Int("row", rec.Row), zap.Error(err))
	}
	return Outcome{Row: rec.Row, Status: sheets.StatusDone, ResultRef: log}
}
