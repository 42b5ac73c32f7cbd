// Package events appends lifecycle records to the task event log. Rows are
// append-only; nothing in the codebase updates or deletes them.
package events

import (
	"context"
	"database/sql"
	"time"

	"pulse/internal/lifecycle"
)

type Writer struct {
	DB  *sql.DB
	Now func() time.Time
}

func (w Writer) Append(ctx context.Context, tx *sql.Tx, kind lifecycle.EventKind, taskID, causerID, note string) error {
	if w.Now == nil {
		w.Now = time.Now
	}
	ts := w.Now().UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO task_events(task_id,kind,ts,causer_id,note) VALUES (?,?,?,?,?)`,
		taskID, string(kind), ts, causerID, nullable(note))
	return err
}

// AppendAt writes a record with an explicit timestamp, for backfilled manual
// entries.
func (w Writer) AppendAt(ctx context.Context, tx *sql.Tx, kind lifecycle.EventKind, taskID, causerID, note string, at time.Time) error {
	ts := at.UTC().Format(time.RFC3339)
	_, err := tx.ExecContext(ctx, `INSERT INTO task_events(task_id,kind,ts,causer_id,note) VALUES (?,?,?,?,?)`,
		taskID, string(kind), ts, causerID, nullable(note))
	return err
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
