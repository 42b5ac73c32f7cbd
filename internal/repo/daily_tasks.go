package repo

import (
	"context"
	"database/sql"
	"strings"

	"pulse/internal/domain"
)

func (r Repo) InsertDailyTask(ctx context.Context, tx *sql.Tx, d domain.DailyTask) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO daily_tasks(id,task_id,user_id,date,status,created_at,updated_at) VALUES (?,?,?,?,?,?,?)
ON CONFLICT(task_id,user_id,date) DO UPDATE SET status=excluded.status, updated_at=excluded.updated_at`,
		d.ID, d.TaskID, d.UserID, d.Date, d.Status, d.CreatedAt, d.UpdatedAt)
	return err
}

func (r Repo) GetDailyTask(ctx context.Context, id string) (domain.DailyTask, error) {
	var d domain.DailyTask
	err := r.DB.QueryRowContext(ctx, `SELECT id,task_id,user_id,date,status,created_at,updated_at FROM daily_tasks WHERE id=?`, id).
		Scan(&d.ID, &d.TaskID, &d.UserID, &d.Date, &d.Status, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

type DailyTaskFilters struct {
	TaskID string
	UserID string
	Date   string
	Status string
}

func (r Repo) ListDailyTasks(ctx context.Context, f DailyTaskFilters) ([]domain.DailyTask, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.TaskID != "" {
		clauses = append(clauses, "task_id=?")
		args = append(args, f.TaskID)
	}
	if f.UserID != "" {
		clauses = append(clauses, "user_id=?")
		args = append(args, f.UserID)
	}
	if f.Date != "" {
		clauses = append(clauses, "date=?")
		args = append(args, f.Date)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	where := "WHERE " + strings.Join(clauses, " AND ")
	rows, err := r.DB.QueryContext(ctx, `SELECT id,task_id,user_id,date,status,created_at,updated_at FROM daily_tasks `+where+` ORDER BY date DESC, id DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.DailyTask
	for rows.Next() {
		var d domain.DailyTask
		if err := rows.Scan(&d.ID, &d.TaskID, &d.UserID, &d.Date, &d.Status, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, err
		}
		res = append(res, d)
	}
	return res, rows.Err()
}

// SyncDailyTasksTx moves a task's work-log lines between statuses: pending
// lines become completed when the task completes, completed lines go back to
// pending when it is revised.
func (r Repo) SyncDailyTasksTx(ctx context.Context, tx *sql.Tx, taskID, fromStatus, toStatus, now string) error {
	_, err := tx.ExecContext(ctx, `UPDATE daily_tasks SET status=?, updated_at=? WHERE task_id=? AND status=?`,
		toStatus, now, taskID, fromStatus)
	return err
}

// UpdateDailyTaskStatus sets one line's status directly (push to next day).
func (r Repo) UpdateDailyTaskStatus(ctx context.Context, tx *sql.Tx, id, status, now string) error {
	exec := r.DB.ExecContext
	if tx != nil {
		exec = tx.ExecContext
	}
	res, err := exec(ctx, `UPDATE daily_tasks SET status=?, updated_at=? WHERE id=?`, status, now, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
