// Package report derives work sessions and productivity reports from the
// append-only task event log. Everything here is a pure function of
// (events, now, location); nothing touches storage.
package report

import (
	"sort"
	"time"

	"pulse/internal/lifecycle"
)

// Heuristic defaults. A raw span longer than the threshold is not trusted as
// continuous work and gets capped to the workday end.
const (
	DefaultOutlierThresholdHours = 12
	DefaultWorkdayCapHour        = 17
)

type Heuristics struct {
	OutlierThresholdHours int
	WorkdayCapHour        int
}

func DefaultHeuristics() Heuristics {
	return Heuristics{
		OutlierThresholdHours: DefaultOutlierThresholdHours,
		WorkdayCapHour:        DefaultWorkdayCapHour,
	}
}

// Event is one lifecycle record, timestamp already parsed. Kinds other than
// started/paused/resumed/completed are ignored by reconstruction.
type Event struct {
	Kind lifecycle.EventKind
	At   time.Time
}

type SessionKind string

const (
	SessionNormal  SessionKind = "normal"
	SessionOutlier SessionKind = "auto_capped_outlier"
	SessionCapped  SessionKind = "auto_capped"
	SessionOngoing SessionKind = "ongoing"
)

// Session is one continuous interval of active work. Derived, never stored.
type Session struct {
	Start   time.Time   `json:"start"`
	End     time.Time   `json:"end"`
	Seconds int64       `json:"seconds"`
	Kind    SessionKind `json:"kind"`
	// OriginalEnd keeps the untrusted raw end of an auto_capped_outlier
	// session for audit display. Nil for other kinds; auto_capped sessions
	// never had a recorded end.
	OriginalEnd *time.Time `json:"original_end,omitempty"`
}

// Reconstruct replays the event stream for one task and returns its sessions
// plus the summed duration in whole seconds. All timestamps are converted to
// loc once up front; now is the outer bound for open sessions.
//
// A start-like event while a session is already open is a no-op, and a close
// event without an open session is ignored. Historical streams contain both.
func (h Heuristics) Reconstruct(events []Event, now time.Time, loc *time.Location) ([]Session, int64) {
	if loc == nil {
		loc = time.UTC
	}
	now = now.In(loc)

	ordered := make([]Event, 0, len(events))
	for _, ev := range events {
		if !ev.Kind.SessionEvent() {
			continue
		}
		ev.At = ev.At.In(loc)
		ordered = append(ordered, ev)
	}
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].At.Before(ordered[j].At) })

	var sessions []Session
	var openStart *time.Time
	for _, ev := range ordered {
		switch ev.Kind {
		case lifecycle.EventStarted, lifecycle.EventResumed:
			if openStart == nil {
				at := ev.At
				openStart = &at
			}
		case lifecycle.EventPaused, lifecycle.EventCompleted:
			if openStart == nil {
				continue
			}
			sessions = append(sessions, h.closeSession(*openStart, ev.At))
			openStart = nil
		}
	}

	if openStart != nil {
		start := *openStart
		if sameDay(start, now) {
			sessions = append(sessions, Session{
				Start:   start,
				End:     now,
				Seconds: wholeSeconds(start, now),
				Kind:    SessionOngoing,
			})
		} else {
			end := h.capEnd(start, now)
			sessions = append(sessions, Session{
				Start:   start,
				End:     end,
				Seconds: wholeSeconds(start, end),
				Kind:    SessionCapped,
			})
		}
	}

	var total int64
	for _, s := range sessions {
		total += s.Seconds
	}
	return sessions, total
}

// Reconstruct runs with the default heuristics.
func Reconstruct(events []Event, now time.Time, loc *time.Location) ([]Session, int64) {
	return DefaultHeuristics().Reconstruct(events, now, loc)
}

// Total returns the reported effort: the session sum unless a manual override
// is present, in which case the override wins and sessions remain audit-only.
func Total(sessions []Session, overrideSeconds *int64) int64 {
	if overrideSeconds != nil {
		return *overrideSeconds
	}
	var total int64
	for _, s := range sessions {
		total += s.Seconds
	}
	return total
}

func (h Heuristics) closeSession(start, end time.Time) Session {
	threshold := time.Duration(h.OutlierThresholdHours) * time.Hour
	if end.Sub(start) <= threshold {
		return Session{Start: start, End: end, Seconds: wholeSeconds(start, end), Kind: SessionNormal}
	}
	original := end
	capped := h.capEnd(start, end)
	return Session{
		Start:       start,
		End:         capped,
		Seconds:     wholeSeconds(start, capped),
		Kind:        SessionOutlier,
		OriginalEnd: &original,
	}
}

// capEnd computes the trusted end for an untrusted span: the workday cap hour
// on start's day, or start+1h when start is already past the cap. The result
// never exceeds bound and never precedes start.
func (h Heuristics) capEnd(start, bound time.Time) time.Time {
	capped := time.Date(start.Year(), start.Month(), start.Day(), h.WorkdayCapHour, 0, 0, 0, start.Location())
	if !start.Before(capped) {
		capped = start.Add(time.Hour)
	}
	if capped.After(bound) {
		capped = bound
	}
	if capped.Before(start) {
		capped = start.Add(time.Hour)
	}
	return capped
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func wholeSeconds(start, end time.Time) int64 {
	d := end.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d / time.Second)
}
