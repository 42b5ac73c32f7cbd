package pulsesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal Pulse HTTP API client.
type Client struct {
	BaseURL     string
	ProjectID   string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, projectID string) *Client {
	return &Client{
		BaseURL:   baseURL,
		ProjectID: projectID,
		Timeout:   10 * time.Second,
	}
}

// Task represents the API task model (partial).
type Task struct {
	ID                   string  `json:"id"`
	ProjectID            string  `json:"project_id"`
	Title                string  `json:"title"`
	Status               string  `json:"status"`
	PreviousStatus       *string `json:"previous_status,omitempty"`
	BlockReason          *string `json:"block_reason,omitempty"`
	AssigneeID           *string `json:"assignee_id,omitempty"`
	DueDate              *string `json:"due_date,omitempty"`
	ActualCompletionDate *string `json:"actual_completion_date,omitempty"`
	ManualEffortOverride *int64  `json:"manual_effort_override,omitempty"`
}

// Session is one reconstructed work interval.
type Session struct {
	Start       string `json:"start"`
	End         string `json:"end"`
	Seconds     int64  `json:"seconds"`
	Kind        string `json:"kind"`
	OriginalEnd string `json:"original_end,omitempty"`
}

// Sessions is the reconstruction result for a task.
type Sessions struct {
	TaskID       string    `json:"task_id"`
	Sessions     []Session `json:"sessions"`
	TotalSeconds int64     `json:"total_seconds"`
}

// Event represents a lifecycle log entry.
type Event struct {
	ID       int64  `json:"id"`
	TaskID   string `json:"task_id"`
	Kind     string `json:"kind"`
	TS       string `json:"ts"`
	CauserID string `json:"causer_id"`
	Note     string `json:"note,omitempty"`
}

// DailyTask is one planned work-log line.
type DailyTask struct {
	ID     string `json:"id"`
	TaskID string `json:"task_id"`
	UserID string `json:"user_id"`
	Date   string `json:"date"`
	Status string `json:"status"`
}

// Report is the productivity report response (partial).
type Report struct {
	GeneratedAt string `json:"generated_at"`
	Seconds     int64  `json:"seconds"`
	Users       []struct {
		UserID  string `json:"user_id"`
		Name    string `json:"name,omitempty"`
		Seconds int64  `json:"seconds"`
		Tasks   []struct {
			TaskID   string    `json:"task_id"`
			Title    string    `json:"title"`
			Status   string    `json:"status"`
			Seconds  int64     `json:"seconds"`
			Override *int64    `json:"override,omitempty"`
			Sessions []Session `json:"sessions"`
		} `json:"tasks"`
	} `json:"users"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// PaginatedEvents wraps list responses with cursors.
type PaginatedEvents struct {
	Items      []Event `json:"items"`
	NextCursor string  `json:"next_cursor"`
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, title string) (Task, error) {
	body := map[string]any{"title": title}
	var resp Task
	err := c.do(ctx, http.MethodPost, c.projectPath("tasks"), body, &resp)
	return resp, err
}

// Transition applies a lifecycle action to a task. Reason is required for
// block and ignored elsewhere.
func (c *Client) Transition(ctx context.Context, taskID, action, reason string) (Task, error) {
	body := map[string]any{"action": action}
	if reason != "" {
		body["reason"] = reason
	}
	var resp Task
	endpoint := fmt.Sprintf("v0/tasks/%s/transition", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodPost, endpoint, body, &resp)
	return resp, err
}

// TaskSessions returns the reconstructed work sessions for a task.
func (c *Client) TaskSessions(ctx context.Context, taskID string) (Sessions, error) {
	var resp Sessions
	endpoint := fmt.Sprintf("v0/tasks/%s/sessions", url.PathEscape(taskID))
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// ScheduleDailyTask plans a task on a user's daily log.
func (c *Client) ScheduleDailyTask(ctx context.Context, taskID, userID, date string) (DailyTask, error) {
	body := map[string]any{
		"task_id": taskID,
		"user_id": userID,
		"date":    date,
	}
	var resp DailyTask
	err := c.do(ctx, http.MethodPost, "v0/daily-tasks", body, &resp)
	return resp, err
}

// ProductivityReport fetches a productivity report. Dates are inclusive
// YYYY-MM-DD; empty strings mean no bound and nil users means all causers.
func (c *Client) ProductivityReport(ctx context.Context, users []string, from, to string) (Report, error) {
	q := url.Values{}
	if len(users) > 0 {
		q.Set("users", strings.Join(users, ","))
	}
	if from != "" {
		q.Set("from", from)
	}
	if to != "" {
		q.Set("to", to)
	}
	endpoint := "v0/reports/productivity"
	if enc := q.Encode(); enc != "" {
		endpoint += "?" + enc
	}
	var resp Report
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	page, err := c.EventsPage(ctx, limit, "")
	return page.Items, err
}

// EventsPage returns a paginated event listing.
func (c *Client) EventsPage(ctx context.Context, limit int, cursor string) (PaginatedEvents, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	if cursor != "" {
		sep := "?"
		if strings.Contains(endpoint, "?") {
			sep = "&"
		}
		endpoint = fmt.Sprintf("%s%scursor=%s", endpoint, sep, url.QueryEscape(cursor))
	}
	var resp PaginatedEvents
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Health pings the server.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "v0/health", nil, nil)
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) projectPath(p string) string {
	project := url.PathEscape(c.ProjectID)
	return fmt.Sprintf("v0/projects/%s/%s", project, strings.TrimLeft(p, "/"))
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
