package repo

import (
	"context"
	"database/sql"
	"strings"

	"pulse/internal/domain"
)

type TaskEventFilters struct {
	TaskID   string
	CauserID string
	Kinds    []string
	From     string // inclusive RFC3339 lower bound
	To       string // exclusive RFC3339 upper bound
	Limit    int
}

// ListTaskEvents returns matching events in ascending timestamp order, the
// order session reconstruction replays them in.
func (r Repo) ListTaskEvents(ctx context.Context, f TaskEventFilters) ([]domain.TaskEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.CauserID != "" {
		clauses = append(clauses, "causer_id=?")
		args = append(args, f.CauserID)
	}
	if len(f.Kinds) > 0 {
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Kinds)), ",")
		clauses = append(clauses, "kind IN ("+placeholders+")")
		for _, k := range f.Kinds {
			args = append(args, k)
		}
	}
	if f.From != "" {
		clauses = append(clauses, "ts>=?")
		args = append(args, f.From)
	}
	if f.To != "" {
		clauses = append(clauses, "ts<?")
		args = append(args, f.To)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT id,task_id,kind,ts,causer_id,note FROM task_events ` + where + ` ORDER BY ts ASC, id ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// LatestTaskEvents returns the newest events first, for log tailing. A
// nonzero beforeID restricts the result to strictly older events, which
// pages the tail backwards.
func (r Repo) LatestTaskEvents(ctx context.Context, limit int, beforeID int64, taskID, kind string) ([]domain.TaskEvent, error) {
	clauses := []string{"1=1"}
	var args []any
	if beforeID > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, beforeID)
	}
	if taskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, taskID)
	}
	if kind != "" {
		clauses = append(clauses, "kind=?")
		args = append(args, kind)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	query := `SELECT id,task_id,kind,ts,causer_id,note FROM task_events ` + where + ` ORDER BY id DESC LIMIT ?`
	args = append(args, limit)
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// EventsAfter returns events with IDs greater than the cursor in ascending
// order, for webhook delivery.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.TaskEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	query := `SELECT id,task_id,kind,ts,causer_id,note FROM task_events WHERE id>? ORDER BY id ASC LIMIT ?`
	rows, err := r.DB.QueryContext(ctx, query, cursor, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectEvents(rows)
}

// DistinctCausers returns the causer IDs seen in the given timestamp window,
// sorted for stable report ordering.
func (r Repo) DistinctCausers(ctx context.Context, from, to string) ([]string, error) {
	clauses := []string{"causer_id<>''"}
	var args []any
	if from != "" {
		clauses = append(clauses, "ts>=?")
		args = append(args, from)
	}
	if to != "" {
		clauses = append(clauses, "ts<?")
		args = append(args, to)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	rows, err := r.DB.QueryContext(ctx, `SELECT DISTINCT causer_id FROM task_events `+where+` ORDER BY causer_id ASC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		res = append(res, id)
	}
	return res, rows.Err()
}

// LatestEventID returns the most recent event ID.
func (r Repo) LatestEventID(ctx context.Context) (int64, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(id),0) FROM task_events`)
	var id int64
	if err := row.Scan(&id); err != nil {
		return 0, err
	}
	return id, nil
}

func collectEvents(rows *sql.Rows) ([]domain.TaskEvent, error) {
	var res []domain.TaskEvent
	for rows.Next() {
		var e domain.TaskEvent
		var note sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Kind, &e.TS, &e.CauserID, &note); err != nil {
			return nil, err
		}
		if note.Valid {
			e.Note = note.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}
