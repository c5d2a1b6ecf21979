// Package history appends immutable audit records for dispatched actions.
// A local SQLite ledger keyed by a content hash makes the append idempotent:
// a retried write whose key is already present is a no-op, so a partial
// failure followed by a retry can never duplicate a history row.
package history

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"rowbot/internal/retry"
	"rowbot/internal/sheets"
)

// Entry is one audit record. Created only on dispatch; never updated or
// deleted.
type Entry struct {
	Timestamp   time.Time
	Nick        string
	Name        string
	Content     string
	Destination string
	Outcome     string
	ResultRef   string
}

// Key derives the idempotency key: identity + destination + content hash.
func (e Entry) Key() string {
	h := sha256.New()
	h.Write([]byte(e.Nick))
	h.Write([]byte{0})
	h.Write([]byte(e.Destination))
	h.Write([]byte{0})
	h.Write([]byte(e.Content))
	return hex.EncodeToString(h.Sum(nil))
}

// Ledger is the local dispatched-key store.
type Ledger struct {
	db *sql.DB
}

// OpenLedger opens (creating if needed) the ledger database at path.
func OpenLedger(path string) (*Ledger, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS dispatches (
		key        TEXT PRIMARY KEY,
		nick       TEXT NOT NULL,
		outcome    TEXT NOT NULL,
		created_at TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init ledger schema: %w", err)
	}
	return &Ledger{db: db}, nil
}

// Close releases the database handle.
func (l *Ledger) Close() error { return l.db.Close() }

// Seen reports whether key was already dispatched.
func (l *Ledger) Seen(key string) (bool, error) {
	var one int
	err := l.db.QueryRow(`SELECT 1 FROM dispatches WHERE key = ?`, key).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("ledger lookup: %w", err)
	}
	return true, nil
}

// Mark records key as dispatched. Marking an existing key is a no-op.
func (l *Ledger) Mark(key, nick, outcome string) error {
	_, err := l.db.Exec(
		`INSERT OR IGNORE INTO dispatches (key, nick, outcome, created_at) VALUES (?, ?, ?, ?)`,
		key, nick, outcome, time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("ledger mark: %w", err)
	}
	return nil
}

// Recorder appends entries to the remote history collection, guarded by the
// ledger.
type Recorder struct {
	client     sheets.Client
	collection string
	ledger     *Ledger
	retrier    *retry.Controller
	log        *zap.Logger
}

// NewRecorder builds a Recorder. ledger may be nil, in which case every
// append goes through (degraded but functional).
func NewRecorder(client sheets.Client, collection string, ledger *Ledger, retrier *retry.Controller, log *zap.Logger) *Recorder {
	if log == nil {
		log = zap.NewNop()
	}
	return &Recorder{
		client:     client,
		collection: collection,
		ledger:     ledger,
		retrier:    retrier,
		log:        log,
	}
}

// Seen reports whether an equivalent entry was already dispatched, used for
// duplicate-action detection before submitting.
func (r *Recorder) Seen(e Entry) (bool, error) {
	if r.ledger == nil {
		return false, nil
	}
	return r.ledger.Seen(e.Key())
}

// Record appends one audit row unless its key is already in the ledger.
func (r *Recorder) Record(ctx context.Context, e Entry) error {
	key := e.Key()
	if r.ledger != nil {
		seen, err := r.ledger.Seen(key)
		if err != nil {
			r.log.Warn("ledger lookup failed, appending anyway", zap.Error(err))
		} else if seen {
			r.log.Debug("history entry already recorded", zap.String("nick", e.Nick))
			return nil
		}
	}

	values := []string{
		e.Timestamp.Format("2006-01-02 15:04:05"),
		e.Nick,
		e.Name,
		e.Content,
		e.Destination,
		e.Outcome,
		e.ResultRef,
	}
	err := r.retrier.Do(ctx, "append history", func() error {
		return r.client.AppendRow(ctx, r.collection, values)
	})
	if err != nil {
		return err
	}

	if r.ledger != nil {
		if err := r.ledger.Mark(key, e.Nick, e.Outcome); err != nil {
			// The append already happened; a lost mark risks one
			// duplicate append on a later run, never a lost row.
			r.log.Warn("ledger mark failed", zap.Error(err))
		}
	}
	r.log.Debug("recorded history entry", zap.String("nick", e.Nick), zap.String("outcome", e.Outcome))
	return nil
}
