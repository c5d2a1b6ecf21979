package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"rowbot/internal/history"
	"rowbot/internal/locator"
	"rowbot/internal/retry"
	"rowbot/internal/sheets"
	"rowbot/internal/template"
)

// MessageRunner processes the message-send queue: each eligible row renders
// its template, resolves a destination and submits one comment.
type MessageRunner struct {
	client   sheets.Client
	reader   *sheets.QueueReader
	driver   Driver
	loc      *locator.Locator
	recorder *history.Recorder
	retrier  *retry.Controller
	log      *zap.Logger
	opts     RunOptions
}

// NewMessageRunner wires a message-send run.
func NewMessageRunner(client sheets.Client, driver Driver, recorder *history.Recorder, retrier *retry.Controller, log *zap.Logger, opts RunOptions) *MessageRunner {
	if log == nil {
		log = zap.NewNop()
	}
	return &MessageRunner{
		client:   client,
		reader:   sheets.NewQueueReader(log),
		driver:   driver,
		loc:      locator.New(driver, log),
		recorder: recorder,
		retrier:  retrier,
		log:      log,
		opts:     opts,
	}
}

// Run executes one message-send sweep. Terminal statuses are flushed even
// when the run aborts early.
func (r *MessageRunner) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	rows, err := readRows(ctx, r.client, r.retrier, r.opts.Collection)
	if err != nil {
		return summary, err
	}
	tasks, invalid := r.reader.PendingMessages(rows, r.opts.MaxTasks)
	summary.Eligible = len(tasks)
	summary.Invalid = len(invalid)

	writer := sheets.NewResultWriter(r.client, r.opts.Collection, r.retrier, r.log)
	for _, inv := range invalid {
		writer.Add(
			sheets.CellUpdate{Row: inv.Row, Column: sheets.MsgColStatus, Value: string(sheets.StatusFailed)},
			sheets.CellUpdate{Row: inv.Row, Column: sheets.MsgColNotes, Value: inv.Reason},
		)
	}

	var runErr error
	for i, task := range tasks {
		outcome := r.process(ctx, task, writer)
		summary.count(outcome.Status)
		writer.Add(messageUpdates(outcome)...)

		r.log.Info("message row processed",
			zap.Int("row", task.Row),
			zap.String("target", task.Target),
			zap.String("status", string(outcome.Status)),
			zap.String("note", outcome.Note))

		if outcome.fatal != nil {
			summary.Aborted = true
			runErr = outcome.fatal
			break
		}
		if i < len(tasks)-1 {
			if err := pause(ctx, r.opts.TaskDelay); err != nil {
				summary.Aborted = true
				runErr = err
				break
			}
		}
	}

	if err := writer.Flush(ctx); err != nil {
		r.log.Error("result flush incomplete", zap.Error(err))
		if runErr == nil {
			runErr = err
		}
	}
	return summary, runErr
}

// messageUpdates maps an outcome onto the message collection's columns.
func messageUpdates(o Outcome) []sheets.CellUpdate {
	updates := []sheets.CellUpdate{
		{Row: o.Row, Column: sheets.MsgColStatus, Value: string(o.Status)},
	}
	if o.Note != "" {
		updates = append(updates, sheets.CellUpdate{Row: o.Row, Column: sheets.MsgColNotes, Value: o.Note})
	}
	if o.ResultRef != "" {
		updates = append(updates, sheets.CellUpdate{Row: o.Row, Column: sheets.MsgColResult, Value: o.ResultRef})
	}
	return updates
}

// process runs the state machine for one message task.
func (r *MessageRunner) process(ctx context.Context, task sheets.MessageTask, writer *sheets.ResultWriter) Outcome {
	tctx := template.Context{
		"name":      task.Name,
		"nick":      task.Target,
		"city":      task.City,
		"posts":     task.Posts,
		"followers": task.Followers,
	}

	destination, outcome := r.resolveDestination(ctx, task, tctx, writer)
	if outcome != nil {
		return *outcome
	}

	body, missing := template.Render(task.Template, tctx)
	if len(missing) > 0 {
		r.log.Warn("template placeholders unresolved",
			zap.Int("row", task.Row), zap.Strings("placeholders", missing))
	}

	entry := history.Entry{
		Nick:        task.Target,
		Name:        task.Name,
		Content:     body,
		Destination: destination,
	}
	if seen, err := r.recorder.Seen(entry); err != nil {
		r.log.Warn("duplicate check failed", zap.Int("row", task.Row), zap.Error(err))
	} else if seen {
		return skipped(task.Row, "duplicate: already dispatched")
	}

	if err := r.submit(ctx, destination, body); err != nil {
		return errorOutcome(task.Row, err)
	}

	verified, err := r.verify(ctx, body)
	if err != nil {
		return errorOutcome(task.Row, err)
	}
	if !verified {
		return failed(task.Row, errors.New("submit not confirmed on page"))
	}

	ref, err := r.driver.ExtractResultReference(ctx)
	if err != nil {
		r.log.Warn("result reference unavailable", zap.Int("row", task.Row), zap.Error(err))
		ref = destination
	}

	entry.Timestamp = time.Now()
	entry.Outcome = string(sheets.StatusDone)
	entry.ResultRef = ref
	if err := r.recorder.Record(ctx, entry); err != nil {
		// The message is out; history lag must not fail the row.
		r.log.Warn("history record failed", zap.Int("row", task.Row), zap.Error(err))
	}
	return Outcome{Row: task.Row, Status: sheets.StatusDone, ResultRef: ref}
}

// resolveDestination returns the destination URL, or a terminal outcome when
// the row cannot proceed. Identity mode also enriches profile cells.
func (r *MessageRunner) resolveDestination(ctx context.Context, task sheets.MessageTask, tctx template.Context, writer *sheets.ResultWriter) (string, *Outcome) {
	if task.Mode == sheets.ModeDirect {
		clean := r.driver.CanonicalURL(task.Target)
		if !r.driver.IsPostURL(clean) {
			o := failed(task.Row, fmt.Errorf("not a recognized destination URL: %s", task.Target))
			return "", &o
		}
		return clean, nil
	}

	var profile Profile
	err := r.retrier.Do(ctx, "read profile "+task.Target, func() error {
		var readErr error
		profile, readErr = r.driver.ReadIdentityAttributes(ctx, task.Target)
		return readErr
	})
	if err != nil {
		o := errorOutcome(task.Row, err)
		return "", &o
	}
	if profile.Suspended {
		o := skipped(task.Row, "account suspended")
		return "", &o
	}
	if profile.Posts == 0 {
		o := skipped(task.Row, "no public posts")
		return "", &o
	}

	r.enrich(task, profile, tctx, writer)

	destination, err := r.loc.Locate(ctx, r.driver.ListingURL(task.Target), r.opts.PageBudget)
	if errors.Is(err, locator.ErrNotFound) {
		o := skipped(task.Row, fmt.Sprintf("no open posts (scanned up to %d pages)", r.opts.PageBudget))
		return "", &o
	}
	if err != nil {
		o := errorOutcome(task.Row, err)
		return "", &o
	}
	return destination, nil
}

// enrich writes the freshly scraped profile attributes back to the row and
// updates the template context so rendering sees live values.
func (r *MessageRunner) enrich(task sheets.MessageTask, profile Profile, tctx template.Context, writer *sheets.ResultWriter) {
	if profile.City != "" {
		tctx["city"] = profile.City
		writer.Add(sheets.CellUpdate{Row: task.Row, Column: sheets.MsgColCity, Value: profile.City})
	}
	posts := strconv.Itoa(profile.Posts)
	followers := strconv.Itoa(profile.Followers)
	tctx["posts"] = posts
	tctx["followers"] = followers
	writer.Add(
		sheets.CellUpdate{Row: task.Row, Column: sheets.MsgColPosts, Value: posts},
		sheets.CellUpdate{Row: task.Row, Column: sheets.MsgColFollowers, Value: followers},
	)
}

// submit navigates to the destination and posts the comment. Transient
// failures are retried as a unit so each attempt lands on a fresh page.
func (r *MessageRunner) submit(ctx context.Context, destination, body string) error {
	return r.retrier.Do(ctx, "send message", func() error {
		if err := r.driver.Navigate(ctx, destination); err != nil {
			return err
		}
		return r.driver.FillAndSubmit(ctx, IntentComment, Content{Body: body})
	})
}

// verify confirms the comment landed: the page must show both the sending
// account and the message content.
func (r *MessageRunner) verify(ctx context.Context, body string) (bool, error) {
	if r.opts.Username != "" {
		ok, err := r.driver.PageContains(ctx, r.opts.Username)
		if err != nil || !ok {
			return false, err
		}
	}
	return r.driver.PageContains(ctx, verifySnippet(body))
}
