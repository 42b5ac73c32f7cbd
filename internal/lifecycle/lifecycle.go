// Package lifecycle encodes the task status machine: which actions are legal
// from which statuses, and the state mutation each one produces. It is pure;
// persistence and event emission belong to the engine.
package lifecycle

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusToDo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusBlocked    Status = "blocked"
	StatusDone       Status = "done"
	StatusArchived   Status = "archived"
)

// Statuses returns all legal statuses in declaration order.
func Statuses() []Status {
	return []Status{StatusToDo, StatusInProgress, StatusPaused, StatusBlocked, StatusDone, StatusArchived}
}

func (s Status) Valid() bool {
	switch s {
	case StatusToDo, StatusInProgress, StatusPaused, StatusBlocked, StatusDone, StatusArchived:
		return true
	}
	return false
}

type Action string

const (
	ActionStart    Action = "start"
	ActionPause    Action = "pause"
	ActionResume   Action = "resume"
	ActionComplete Action = "complete"
	ActionBlock    Action = "block"
	ActionUnblock  Action = "unblock"
	ActionRevise   Action = "revise"
	ActionArchive  Action = "archive"
)

func Actions() []Action {
	return []Action{ActionStart, ActionPause, ActionResume, ActionComplete, ActionBlock, ActionUnblock, ActionRevise, ActionArchive}
}

// EventKind is the audit record written for a transition. Only the four
// session kinds (started, paused, resumed, completed) feed reconstruction.
type EventKind string

const (
	EventCreated   EventKind = "created"
	EventStarted   EventKind = "started"
	EventPaused    EventKind = "paused"
	EventResumed   EventKind = "resumed"
	EventCompleted EventKind = "completed"
	EventBlocked   EventKind = "blocked"
	EventUnblocked EventKind = "unblocked"
	EventRevised   EventKind = "revised"
	EventArchived  EventKind = "archived"
)

// SessionEvent reports whether the kind participates in session reconstruction.
func (k EventKind) SessionEvent() bool {
	switch k {
	case EventStarted, EventPaused, EventResumed, EventCompleted:
		return true
	}
	return false
}

// IllegalTransitionError rejects an action that is not valid from the current
// status. It is recoverable; the task is left untouched.
type IllegalTransitionError struct {
	Action  Action
	Status  Status
	message string
}

func (e IllegalTransitionError) Error() string { return e.message }

// MissingReasonError rejects a block request without a reason.
type MissingReasonError struct{}

func (e MissingReasonError) Error() string { return "A reason is required to block a task" }

// ValueRejectedError is returned by a Validator that refuses a value.
type ValueRejectedError struct {
	Model   string
	Field   string
	Value   string
	Allowed []string
}

func (e ValueRejectedError) Error() string {
	return fmt.Sprintf("Invalid value(s) for %s.%s: [%s]. Allowed: [%s]",
		e.Model, e.Field, e.Value, strings.Join(e.Allowed, ", "))
}

// Validator is consulted before a status write is committed. Deployments may
// restrict which enum values are active; a rejection aborts an otherwise
// legal transition.
type Validator interface {
	Validate(model, field, value string) error
}

// Snapshot is the slice of task state the machine needs.
type Snapshot struct {
	Status         Status
	PreviousStatus Status // zero value when no block memory is held
}

// Daily sync directives carried on a Change.
const (
	DailySyncNone      = ""
	DailySyncCompleted = "completed"
	DailySyncPending   = "pending"
)

// Change describes the mutation a legal transition produces. Pointer-free on
// purpose: Set* flags distinguish "clear the field" from "leave it alone".
type Change struct {
	From  Status
	To    Status
	Event EventKind

	SetPreviousStatus bool
	PreviousStatus    Status // empty clears
	SetBlockReason    bool
	BlockReason       string // empty clears
	SetCompletedNow   bool
	DailySync         string
}

type rule struct {
	from   []Status // empty slice means any status
	reject string
}

// transitions is the single source of transition legality. Keep every edge
// here; callers must not re-check statuses themselves.
var transitions = map[Action]rule{
	ActionStart:    {from: []Status{StatusToDo, StatusPaused}, reject: "Task can only be started from To Do or Paused"},
	ActionPause:    {from: []Status{StatusInProgress}, reject: "Only tasks in progress can be paused"},
	ActionResume:   {from: []Status{StatusPaused, StatusBlocked}, reject: "Only paused or blocked tasks can be resumed"},
	ActionComplete: {from: []Status{StatusInProgress}, reject: "Task must be started before it can be completed"},
	ActionBlock:    {from: []Status{StatusToDo, StatusInProgress, StatusPaused, StatusBlocked}, reject: "Completed or Archived tasks cannot be blocked"},
	ActionUnblock:  {from: []Status{StatusBlocked}, reject: "Only blocked tasks can be unblocked"},
	ActionRevise:   {from: []Status{StatusDone}, reject: "Only completed tasks can be revised"},
	ActionArchive:  {},
}

func (r rule) allows(s Status) bool {
	if len(r.from) == 0 {
		return true
	}
	for _, f := range r.from {
		if f == s {
			return true
		}
	}
	return false
}

// Apply validates action against the snapshot and returns the resulting
// Change. The snapshot is not mutated; the caller commits the change.
func Apply(s Snapshot, action Action, reason string) (Change, error) {
	r, ok := transitions[action]
	if !ok {
		return Change{}, fmt.Errorf("unknown action %q", action)
	}
	if !r.allows(s.Status) {
		return Change{}, IllegalTransitionError{Action: action, Status: s.Status, message: r.reject}
	}
	ch := Change{From: s.Status}
	switch action {
	case ActionStart:
		ch.To = StatusInProgress
		ch.Event = EventStarted
		if s.Status == StatusPaused {
			ch.Event = EventResumed
		}
	case ActionPause:
		ch.To = StatusPaused
		ch.Event = EventPaused
	case ActionResume:
		ch.To = StatusInProgress
		ch.Event = EventResumed
	case ActionComplete:
		ch.To = StatusDone
		ch.Event = EventCompleted
		ch.SetCompletedNow = true
		ch.DailySync = DailySyncCompleted
	case ActionBlock:
		if strings.TrimSpace(reason) == "" {
			return Change{}, MissingReasonError{}
		}
		ch.To = StatusBlocked
		ch.Event = EventBlocked
		ch.SetPreviousStatus = true
		ch.PreviousStatus = s.Status
		ch.SetBlockReason = true
		ch.BlockReason = strings.TrimSpace(reason)
	case ActionUnblock:
		to := s.PreviousStatus
		if to == "" {
			to = StatusToDo
		}
		ch.To = to
		ch.Event = EventUnblocked
		ch.SetPreviousStatus = true
		ch.SetBlockReason = true
	case ActionRevise:
		ch.To = StatusToDo
		ch.Event = EventRevised
		ch.DailySync = DailySyncPending
	case ActionArchive:
		ch.To = StatusArchived
		ch.Event = EventArchived
	}
	return ch, nil
}
