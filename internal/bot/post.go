package bot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"rowbot/internal/retry"
	"rowbot/internal/sheets"
)

// PostRunner processes the post-create queue: each eligible row publishes
// one text or media post.
type PostRunner struct {
	client  sheets.Client
	reader  *sheets.QueueReader
	driver  Driver
	retrier *retry.Controller
	log     *zap.Logger
	opts    RunOptions
	now     func() time.Time
}

// NewPostRunner wires a post-create run.
func NewPostRunner(client sheets.Client, driver Driver, retrier *retry.Controller, log *zap.Logger, opts RunOptions) *PostRunner {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostRunner{
		client:  client,
		reader:  sheets.NewQueueReader(log),
		driver:  driver,
		retrier: retrier,
		log:     log,
		opts:    opts,
		now:     time.Now,
	}
}

// Run executes one post-create sweep.
func (r *PostRunner) Run(ctx context.Context) (Summary, error) {
	var summary Summary

	rows, err := readRows(ctx, r.client, r.retrier, r.opts.Collection)
	if err != nil {
		return summary, err
	}
	tasks, invalid := r.reader.PendingPosts(rows, r.opts.MaxTasks)
	summary.Eligible = len(tasks)
	summary.Invalid = len(invalid)

	writer := sheets.NewResultWriter(r.client, r.opts.Collection, r.retrier, r.log)
	for _, inv := range invalid {
		writer.Add(
			sheets.CellUpdate{Row: inv.Row, Column: sheets.PostColStatus, Value: string(sheets.StatusFailed)},
			sheets.CellUpdate{Row: inv.Row, Column: sheets.PostColNotes, Value: inv.Reason},
		)
	}

	var runErr error
	for i, task := range tasks {
		outcome := r.process(ctx, task)
		summary.count(outcome.Status)
		writer.Add(r.postUpdates(outcome)...)

		r.log.Info("post row processed",
			zap.Int("row", task.Row),
			zap.String("type", string(task.Type)),
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

// postUpdates maps an outcome onto the post collection's columns. Done rows
// additionally get the publish timestamp.
func (r *PostRunner) postUpdates(o Outcome) []sheets.CellUpdate {
	updates := []sheets.CellUpdate{
		{Row: o.Row, Column: sheets.PostColStatus, Value: string(o.Status)},
	}
	if o.Note != "" {
		updates = append(updates, sheets.CellUpdate{Row: o.Row, Column: sheets.PostColNotes, Value: o.Note})
	}
	if o.ResultRef != "" {
		updates = append(updates, sheets.CellUpdate{Row: o.Row, Column: sheets.PostColResult, Value: o.ResultRef})
	}
	if o.Status == sheets.StatusDone {
		updates = append(updates, sheets.CellUpdate{
			Row: o.Row, Column: sheets.PostColTimestamp, Value: r.now().Format(timestampLayout),
		})
	}
	return updates
}

// process runs the state machine for one post task.
func (r *PostRunner) process(ctx context.Context, task sheets.PostTask) Outcome {
	intent := IntentTextPost
	if task.Type == sheets.PostMedia {
		intent = IntentMediaPost
		// Local preconditions come first: a missing file fails the row
		// before any navigation or retry is spent on it.
		if _, err := os.Stat(task.MediaPath); err != nil {
			return failed(task.Row, fmt.Errorf("file not found: %s", task.MediaPath))
		}
	}

	content := Content{
		Title:     task.Title,
		Body:      task.Content,
		MediaPath: task.MediaPath,
		Tags:      task.Tags,
	}

	err := r.retrier.Do(ctx, "create post", func() error {
		if err := r.driver.Navigate(ctx, r.driver.ComposeURL(intent)); err != nil {
			return err
		}
		return r.driver.FillAndSubmit(ctx, intent, content)
	})
	if err != nil {
		return errorOutcome(task.Row, err)
	}

	verified, err := r.verify(ctx, task)
	if err != nil {
		return errorOutcome(task.Row, err)
	}
	if !verified {
		return failed(task.Row, errors.New("submit not confirmed on page"))
	}

	ref, err := r.driver.ExtractResultReference(ctx)
	if err != nil {
		r.log.Warn("result reference unavailable", zap.Int("row", task.Row), zap.Error(err))
	}
	return Outcome{Row: task.Row, Status: sheets.StatusDone, ResultRef: ref}
}

// verify confirms the post landed by probing the resulting page for its
// title, or its content when no title was given.
func (r *PostRunner) verify(ctx context.Context, task sheets.PostTask) (bool, error) {
	needle := task.Title
	if needle == "" {
		needle = task.Content
	}
	if needle == "" {
		// A media post with neither title nor caption has nothing textual
		// to probe; trust the navigation result.
		return true, nil
	}
	return r.driver.PageContains(ctx, verifySnippet(needle))
}
