package server

import (
	"pulse/internal/domain"
	"pulse/internal/report"
)

// Request payloads

type CreateProjectRequest struct {
	ID          string  `json:"id"`
	Name        string  `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}

type CreateTaskRequest struct {
	ID          *string `json:"id,omitempty"`
	Title       string  `json:"title"`
	Description *string `json:"description,omitempty"`
	AssigneeID  *string `json:"assignee_id,omitempty"`
	DueDate     *string `json:"due_date,omitempty" format:"date"`
}

type TransitionRequest struct {
	Action string  `json:"action" enum:"start,pause,resume,complete,block,unblock,revise,archive"`
	Reason *string `json:"reason,omitempty"`
}

type TaskEffortRequest struct {
	ManualEffortSeconds *int64  `json:"manual_effort_seconds,omitempty"`
	ManualEffortHours   *float64 `json:"manual_effort_hours,omitempty"`
	DueDate             *string `json:"due_date,omitempty" format:"date"`
}

type ManualTaskRequest struct {
	Title         string   `json:"title"`
	Description   *string  `json:"description,omitempty"`
	AssigneeID    *string  `json:"assignee_id,omitempty"`
	EffortHours   *float64 `json:"effort_hours,omitempty"`
	EffortSeconds *int64   `json:"effort_seconds,omitempty"`
	CompletedAt   *string  `json:"completed_at,omitempty" format:"date-time"`
}

type ScheduleDailyTaskRequest struct {
	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`
	Date   string `json:"date" format:"date"`
}

type CreateAPIKeyRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name,omitempty"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type ProjectResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Kind        string `json:"kind"`
	Status      string `json:"status"`
	Description string `json:"description,omitempty"`
	CreatedAt   string `json:"created_at" format:"date-time"`
}

type TaskResponse struct {
	ID                   string  `json:"id"`
	ProjectID            string  `json:"project_id"`
	Title                string  `json:"title"`
	Description          string  `json:"description,omitempty"`
	Status               string  `json:"status" enum:"todo,in_progress,paused,blocked,done,archived"`
	PreviousStatus       *string `json:"previous_status,omitempty"`
	BlockReason          *string `json:"block_reason,omitempty"`
	AssigneeID           *string `json:"assignee_id,omitempty"`
	DueDate              *string `json:"due_date,omitempty" format:"date"`
	ActualCompletionDate *string `json:"actual_completion_date,omitempty" format:"date-time"`
	ManualEffortOverride *int64  `json:"manual_effort_override,omitempty"`
	CreatedAt            string  `json:"created_at" format:"date-time"`
	UpdatedAt            string  `json:"updated_at" format:"date-time"`
}

type DailyTaskResponse struct {
	ID        string `json:"id"`
	TaskID    string `json:"task_id"`
	UserID    string `json:"user_id"`
	Date      string `json:"date" format:"date"`
	Status    string `json:"status" enum:"pending,completed,pushed_to_next_day"`
	CreatedAt string `json:"created_at" format:"date-time"`
	UpdatedAt string `json:"updated_at" format:"date-time"`
}

type EventResponse struct {
	ID       int64  `json:"id"`
	TaskID   string `json:"task_id"`
	Kind     string `json:"kind"`
	TS       string `json:"ts" format:"date-time"`
	CauserID string `json:"causer_id"`
	Note     string `json:"note,omitempty"`
}

type SessionsResponse struct {
	TaskID       string           `json:"task_id"`
	Sessions     []report.Session `json:"sessions"`
	TotalSeconds int64            `json:"total_seconds"`
}

type APIKeyResponse struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
	// Key is only present on creation; the server stores a hash.
	Key string `json:"key,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Source  string `json:"source"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type paginatedTasks struct {
	Items      []TaskResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

// Conversion helpers

func projectResponse(p domain.Project) ProjectResponse {
	return ProjectResponse(p)
}

func taskResponse(t domain.Task) TaskResponse {
	return TaskResponse(t)
}

func dailyTaskResponse(d domain.DailyTask) DailyTaskResponse {
	return DailyTaskResponse(d)
}

func eventResponse(e domain.TaskEvent) EventResponse {
	return EventResponse(e)
}

func mapProjects(items []domain.Project) []ProjectResponse {
	res := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		res = append(res, projectResponse(p))
	}
	return res
}

func mapTasks(items []domain.Task) []TaskResponse {
	res := make([]TaskResponse, 0, len(items))
	for _, t := range items {
		res = append(res, taskResponse(t))
	}
	return res
}

func mapDailyTasks(items []domain.DailyTask) []DailyTaskResponse {
	res := make([]DailyTaskResponse, 0, len(items))
	for _, d := range items {
		res = append(res, dailyTaskResponse(d))
	}
	return res
}

func nonNilSessions(in []report.Session) []report.Session {
	if in == nil {
		return []report.Session{}
	}
	return in
}
