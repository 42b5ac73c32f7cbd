package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"pulse/internal/config"
	"pulse/internal/domain"
	"pulse/internal/engine/valueset"
	"pulse/internal/events"
	"pulse/internal/lifecycle"
	"pulse/internal/report"
	"pulse/internal/repo"
)

type Engine struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Config    *config.Config
	Validator lifecycle.Validator
	Now       func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:        db,
		Repo:      repo.Repo{DB: db},
		Events:    events.Writer{DB: db},
		Config:    cfg,
		Validator: valueset.FromConfig(cfg, log.Default()),
		Now:       time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// writer binds the event writer to the engine clock so overridden clocks
// stamp events too.
func (e Engine) writer() events.Writer {
	w := e.Events
	if w.Now == nil {
		w.Now = e.now
	}
	return w
}

func (e Engine) heuristics() report.Heuristics {
	h := report.DefaultHeuristics()
	if e.Config != nil {
		if v := e.Config.Reporting.OutlierThresholdHours; v > 0 {
			h.OutlierThresholdHours = v
		}
		if v := e.Config.Reporting.WorkdayCapHour; v > 0 {
			h.WorkdayCapHour = v
		}
	}
	return h
}

func (e Engine) location() *time.Location {
	return e.Config.Location()
}

func (e Engine) validate(model, field, value string) error {
	if e.Validator == nil {
		return nil
	}
	return e.Validator.Validate(model, field, value)
}

// InitProject initializes a new project with migrations already run.
func (e Engine) InitProject(ctx context.Context, projectID, name, description, actorID string) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC().Format(time.RFC3339)
	p := domain.Project{
		ID:          projectID,
		Name:        name,
		Kind:        "software-project",
		Status:      "active",
		Description: description,
		CreatedAt:   now,
	}
	if err := e.Repo.InsertProject(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Repo.UpsertProjectConfigTx(ctx, tx, p.ID, config.Default(p.ID)); err != nil {
		return domain.Project{}, fmt.Errorf("insert project config: %w", err)
	}
	if actorID != "" {
		if err := e.Repo.EnsureActor(ctx, tx, actorID, now); err != nil {
			return domain.Project{}, err
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	ID          string
	ProjectID   string
	Title       string
	Description string
	AssigneeID  string
	DueDate     string
	ActorID     string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, errors.New("project is required")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	id := opts.ID
	now := e.now().UTC().Format(time.RFC3339)
	if id == "" {
		id = uuid.NewSHA1(uuid.NameSpaceOID, []byte(opts.ProjectID+"|"+opts.Title+"|"+now)).String()
	}
	t := domain.Task{
		ID:          id,
		ProjectID:   opts.ProjectID,
		Title:       opts.Title,
		Description: opts.Description,
		Status:      string(lifecycle.StatusToDo),
		AssigneeID:  optionalString(opts.AssigneeID),
		DueDate:     optionalString(opts.DueDate),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := e.validate("Task", "status", t.Status); err != nil {
		return domain.Task{}, err
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if opts.ActorID != "" {
		if err := e.Repo.EnsureActor(ctx, tx, opts.ActorID, now); err != nil {
			return domain.Task{}, err
		}
	}
	if err := e.writer().Append(ctx, tx, lifecycle.EventCreated, t.ID, opts.ActorID, ""); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// Transition applies a lifecycle action to a task: validates legality against
// the current status, mutates state, appends the audit event, syncs daily
// work-log lines and pauses sibling in-progress tasks of the same assignee.
// The whole mutation is one transaction; a rejection leaves the task as-is.
func (e Engine) Transition(ctx context.Context, taskID string, action lifecycle.Action, actorID, reason string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	snap := lifecycle.Snapshot{Status: lifecycle.Status(t.Status)}
	if t.PreviousStatus != nil {
		snap.PreviousStatus = lifecycle.Status(*t.PreviousStatus)
	}
	ch, err := lifecycle.Apply(snap, action, reason)
	if err != nil {
		return t, err
	}
	if err := e.validate("Task", "status", string(ch.To)); err != nil {
		return t, err
	}

	now := e.now()
	nowStr := now.UTC().Format(time.RFC3339)
	t.Status = string(ch.To)
	if ch.SetPreviousStatus {
		t.PreviousStatus = optionalString(string(ch.PreviousStatus))
	}
	if ch.SetBlockReason {
		t.BlockReason = optionalString(ch.BlockReason)
	}
	if ch.SetCompletedNow {
		t.ActualCompletionDate = &nowStr
	}
	t.UpdatedAt = nowStr
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if actorID != "" {
		if err := e.Repo.EnsureActor(ctx, tx, actorID, nowStr); err != nil {
			return t, err
		}
	}
	if err := e.writer().Append(ctx, tx, ch.Event, t.ID, actorID, ch.BlockReason); err != nil {
		return t, err
	}

	switch ch.DailySync {
	case lifecycle.DailySyncCompleted:
		if err := e.validate("DailyTask", "status", "completed"); err != nil {
			return t, err
		}
		if err := e.Repo.SyncDailyTasksTx(ctx, tx, t.ID, "pending", "completed", nowStr); err != nil {
			return t, err
		}
	case lifecycle.DailySyncPending:
		if err := e.validate("DailyTask", "status", "pending"); err != nil {
			return t, err
		}
		if err := e.Repo.SyncDailyTasksTx(ctx, tx, t.ID, "completed", "pending", nowStr); err != nil {
			return t, err
		}
	}

	if ch.To == lifecycle.StatusInProgress && t.AssigneeID != nil {
		if err := e.pauseSiblings(ctx, tx, t, actorID, nowStr); err != nil {
			return t, err
		}
	}

	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// pauseSiblings pauses other in-progress tasks of the same assignee so one
// person never has two running clocks.
func (e Engine) pauseSiblings(ctx context.Context, tx *sql.Tx, t domain.Task, actorID, nowStr string) error {
	siblings, err := e.Repo.ListInProgressByAssigneeTx(ctx, tx, *t.AssigneeID, t.ID)
	if err != nil {
		return err
	}
	for _, sib := range siblings {
		ch, err := lifecycle.Apply(lifecycle.Snapshot{Status: lifecycle.Status(sib.Status)}, lifecycle.ActionPause, "")
		if err != nil {
			return err
		}
		sib.Status = string(ch.To)
		sib.UpdatedAt = nowStr
		if err := e.Repo.UpdateTask(ctx, tx, sib); err != nil {
			return err
		}
		if err := e.writer().Append(ctx, tx, ch.Event, sib.ID, actorID, "auto-paused: another task started"); err != nil {
			return err
		}
	}
	return nil
}

// SetTaskEffort updates the manual effort override and/or due date.
// A nil pointer leaves the field alone; pointing at the zero value clears it.
func (e Engine) SetTaskEffort(ctx context.Context, taskID string, overrideSeconds *int64, dueDate *string) (domain.Task, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()

	t, err := e.Repo.GetTaskTx(ctx, tx, taskID)
	if err != nil {
		return t, err
	}
	if overrideSeconds != nil {
		if *overrideSeconds < 0 {
			return t, errors.New("manual effort override must not be negative")
		}
		if *overrideSeconds == 0 {
			t.ManualEffortOverride = nil
		} else {
			t.ManualEffortOverride = overrideSeconds
		}
	}
	if dueDate != nil {
		if *dueDate == "" {
			t.DueDate = nil
		} else {
			if _, err := time.Parse("2006-01-02", *dueDate); err != nil {
				return t, fmt.Errorf("due date: %w", err)
			}
			t.DueDate = dueDate
		}
	}
	t.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateTask(ctx, tx, t); err != nil {
		return t, err
	}
	if err := tx.Commit(); err != nil {
		return t, err
	}
	return t, nil
}

// ManualTaskOptions describes an already-finished piece of work entered after
// the fact: the task lands in done with an effort override and a backfilled
// completion event.
type ManualTaskOptions struct {
	ProjectID     string
	Title         string
	Description   string
	AssigneeID    string
	EffortSeconds int64
	CompletedAt   time.Time
	ActorID       string
}

func (e Engine) CreateManualTask(ctx context.Context, opts ManualTaskOptions) (domain.Task, error) {
	if opts.Title == "" {
		return domain.Task{}, errors.New("title is required")
	}
	if opts.ProjectID == "" {
		return domain.Task{}, errors.New("project is required")
	}
	if opts.EffortSeconds <= 0 {
		return domain.Task{}, errors.New("effort must be positive")
	}
	if _, err := e.Repo.GetProject(ctx, opts.ProjectID); err != nil {
		return domain.Task{}, err
	}
	completedAt := opts.CompletedAt
	if completedAt.IsZero() {
		completedAt = e.now()
	}
	if err := e.validate("Task", "status", string(lifecycle.StatusDone)); err != nil {
		return domain.Task{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	completedStr := completedAt.UTC().Format(time.RFC3339)
	t := domain.Task{
		ID:                   uuid.New().String(),
		ProjectID:            opts.ProjectID,
		Title:                opts.Title,
		Description:          opts.Description,
		Status:               string(lifecycle.StatusDone),
		AssigneeID:           optionalString(opts.AssigneeID),
		ActualCompletionDate: &completedStr,
		ManualEffortOverride: &opts.EffortSeconds,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Task{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertTask(ctx, tx, t); err != nil {
		return domain.Task{}, err
	}
	if err := e.writer().AppendAt(ctx, tx, lifecycle.EventCompleted, t.ID, opts.ActorID, "manual entry", completedAt); err != nil {
		return domain.Task{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Task{}, err
	}
	return t, nil
}

// ScheduleDailyTask plans a task on a user's work log for a given day.
func (e Engine) ScheduleDailyTask(ctx context.Context, taskID, userID, date string) (domain.DailyTask, error) {
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return domain.DailyTask{}, fmt.Errorf("date: %w", err)
	}
	if _, err := e.Repo.GetTask(ctx, taskID); err != nil {
		return domain.DailyTask{}, err
	}
	if err := e.validate("DailyTask", "status", "pending"); err != nil {
		return domain.DailyTask{}, err
	}
	now := e.now().UTC().Format(time.RFC3339)
	d := domain.DailyTask{
		ID:        uuid.New().String(),
		TaskID:    taskID,
		UserID:    userID,
		Date:      date,
		Status:    "pending",
		CreatedAt: now,
		UpdatedAt: now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertDailyTask(ctx, tx, d); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	return d, nil
}

// PushDailyTask moves a pending line to the next day: the old line is marked
// pushed_to_next_day and a fresh pending line is planned for date+1.
func (e Engine) PushDailyTask(ctx context.Context, id string) (domain.DailyTask, error) {
	d, err := e.Repo.GetDailyTask(ctx, id)
	if err != nil {
		return d, err
	}
	if d.Status != "pending" {
		return d, fmt.Errorf("only pending daily tasks can be pushed, got %s", d.Status)
	}
	day, err := time.Parse("2006-01-02", d.Date)
	if err != nil {
		return d, fmt.Errorf("date: %w", err)
	}
	nextDate := day.AddDate(0, 0, 1).Format("2006-01-02")
	now := e.now().UTC().Format(time.RFC3339)
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return d, err
	}
	defer tx.Rollback()
	if err := e.Repo.UpdateDailyTaskStatus(ctx, tx, d.ID, "pushed_to_next_day", now); err != nil {
		return d, err
	}
	next := domain.DailyTask{
		ID:        uuid.New().String(),
		TaskID:    d.TaskID,
		UserID:    d.UserID,
		Date:      nextDate,
		Status:    "pending",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := e.Repo.InsertDailyTask(ctx, tx, next); err != nil {
		return d, err
	}
	if err := tx.Commit(); err != nil {
		return d, err
	}
	d.Status = "pushed_to_next_day"
	d.UpdatedAt = now
	return next, nil
}

// TaskSessions reconstructs the task's work sessions from its event log.
// The reported total honors a manual override; sessions stay raw for audit.
func (e Engine) TaskSessions(ctx context.Context, taskID string) ([]report.Session, int64, error) {
	t, err := e.Repo.GetTask(ctx, taskID)
	if err != nil {
		return nil, 0, err
	}
	rows, err := e.Repo.ListTaskEvents(ctx, repo.TaskEventFilters{TaskID: taskID})
	if err != nil {
		return nil, 0, err
	}
	evts, err := parseEvents(rows)
	if err != nil {
		return nil, 0, err
	}
	sessions, _ := e.heuristics().Reconstruct(evts, e.now(), e.location())
	return sessions, report.Total(sessions, t.ManualEffortOverride), nil
}

// ReportFilters selects whose work lands in a productivity report.
type ReportFilters struct {
	UserIDs []string
	From    string // inclusive date, YYYY-MM-DD
	To      string // inclusive date, YYYY-MM-DD
}

// ProductivityReport groups lifecycle events by causer and task, reconstructs
// sessions per task and assembles totals and chart aggregates.
func (e Engine) ProductivityReport(ctx context.Context, f ReportFilters) (report.Report, error) {
	fromTS, toTS, err := reportBounds(f, e.location())
	if err != nil {
		return report.Report{}, err
	}
	userIDs := f.UserIDs
	if len(userIDs) == 0 {
		userIDs, err = e.Repo.DistinctCausers(ctx, fromTS, toTS)
		if err != nil {
			return report.Report{}, err
		}
	}
	var inputs []report.UserInput
	taskCache := map[string]domain.Task{}
	for _, userID := range userIDs {
		rows, err := e.Repo.ListTaskEvents(ctx, repo.TaskEventFilters{CauserID: userID, From: fromTS, To: toTS})
		if err != nil {
			return report.Report{}, err
		}
		byTask := map[string][]domain.TaskEvent{}
		var taskOrder []string
		for _, ev := range rows {
			if _, seen := byTask[ev.TaskID]; !seen {
				taskOrder = append(taskOrder, ev.TaskID)
			}
			byTask[ev.TaskID] = append(byTask[ev.TaskID], ev)
		}
		in := report.UserInput{UserID: userID}
		if a, err := e.Repo.GetActor(ctx, userID); err == nil {
			in.Name = a.Name
		}
		for _, taskID := range taskOrder {
			t, ok := taskCache[taskID]
			if !ok {
				t, err = e.Repo.GetTask(ctx, taskID)
				if err != nil {
					if errors.Is(err, repo.ErrNotFound) {
						continue
					}
					return report.Report{}, err
				}
				taskCache[taskID] = t
			}
			evts, err := parseEvents(byTask[taskID])
			if err != nil {
				return report.Report{}, err
			}
			in.Tasks = append(in.Tasks, report.TaskInput{
				ID:       t.ID,
				Title:    t.Title,
				Status:   t.Status,
				Override: t.ManualEffortOverride,
				Events:   evts,
			})
		}
		inputs = append(inputs, in)
	}
	return report.Build(inputs, e.now(), e.location(), e.heuristics()), nil
}

func reportBounds(f ReportFilters, loc *time.Location) (string, string, error) {
	var fromTS, toTS string
	if f.From != "" {
		day, err := time.ParseInLocation("2006-01-02", f.From, loc)
		if err != nil {
			return "", "", fmt.Errorf("from: %w", err)
		}
		fromTS = day.UTC().Format(time.RFC3339)
	}
	if f.To != "" {
		day, err := time.ParseInLocation("2006-01-02", f.To, loc)
		if err != nil {
			return "", "", fmt.Errorf("to: %w", err)
		}
		toTS = day.AddDate(0, 0, 1).UTC().Format(time.RFC3339)
	}
	return fromTS, toTS, nil
}

func parseEvents(rows []domain.TaskEvent) ([]report.Event, error) {
	evts := make([]report.Event, 0, len(rows))
	for _, ev := range rows {
		at, err := time.Parse(time.RFC3339, ev.TS)
		if err != nil {
			return nil, fmt.Errorf("event %d timestamp: %w", ev.ID, err)
		}
		evts = append(evts, report.Event{Kind: lifecycle.EventKind(ev.Kind), At: at})
	}
	return evts, nil
}

// --- helpers ---

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
