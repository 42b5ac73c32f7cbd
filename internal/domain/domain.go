package domain

type Project struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Status      string `json:"status" enum:"active,archived"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type Actor struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type Task struct {
	ID                   string  `json:"id"`
	ProjectID            string  `json:"project_id"`
	Title                string  `json:"title"`
	Description          string  `json:"description,omitempty"`
	Status               string  `json:"status" enum:"todo,in_progress,paused,blocked,done,archived"`
	PreviousStatus       *string `json:"previous_status,omitempty" enum:"todo,in_progress,paused,blocked,done,archived"`
	BlockReason          *string `json:"block_reason,omitempty"`
	AssigneeID           *string `json:"assignee_id,omitempty"`
	DueDate              *string `json:"due_date,omitempty" format:"date"`
	ActualCompletionDate *string `json:"actual_completion_date,omitempty" format:"date-time"`
	ManualEffortOverride *int64  `json:"manual_effort_override,omitempty"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

// TaskEvent is one append-only lifecycle record. Rows are never updated or
// deleted; session reconstruction replays them in timestamp order.
type TaskEvent struct {
	ID       int64  `json:"id"`
	TaskID   string `json:"task_id"`
	Kind     string `json:"kind" enum:"created,started,paused,resumed,completed,blocked,unblocked,revised,archived"`
	TS       string `json:"ts" format:"date-time"`
	CauserID string `json:"causer_id"`
	Note     string `json:"note,omitempty"`
}

type DailyTask struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	Date      string `json:"date" format:"date"`
	Status    string `json:"status" enum:"pending,completed,pushed_to_next_day"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
