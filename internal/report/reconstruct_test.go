package report

import (
	"testing"
	"time"

	"pulse/internal/lifecycle"
)

func ts(t *testing.T, value string) time.Time {
	t.Helper()
	at, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatal(err)
	}
	return at
}

func TestReconstructCleanPair(t *testing.T) {
	events := []Event{
		{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T09:00:00Z")},
		{Kind: lifecycle.EventPaused, At: ts(t, "2026-03-02T10:30:00Z")},
		{Kind: lifecycle.EventResumed, At: ts(t, "2026-03-02T11:00:00Z")},
		{Kind: lifecycle.EventCompleted, At: ts(t, "2026-03-02T12:00:00Z")},
	}
	now := ts(t, "2026-03-03T08:00:00Z")
	sessions, total := Reconstruct(events, now, time.UTC)
	if len(sessions) != 2 {
		t.Fatalf("got %d sessions", len(sessions))
	}
	if sessions[0].Kind != SessionNormal || sessions[0].Seconds != 5400 {
		t.Fatalf("first session: %s %d", sessions[0].Kind, sessions[0].Seconds)
	}
	if sessions[1].Kind != SessionNormal || sessions[1].Seconds != 3600 {
		t.Fatalf("second session: %s %d", sessions[1].Kind, sessions[1].Seconds)
	}
	if total != 9000 {
		t.Fatalf("total: %d", total)
	}
}

func TestReconstructIgnoresNonSessionEvents(t *testing.T) {
	events := []Event{
		{Kind: lifecycle.EventCreated, At: ts(t, "2026-03-02T08:00:00Z")},
		{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T09:00:00Z")},
		{Kind: lifecycle.EventBlocked, At: ts(t, "2026-03-02T09:30:00Z")},
		{Kind: lifecycle.EventUnblocked, At: ts(t, "2026-03-02T09:45:00Z")},
		{Kind: lifecycle.EventCompleted, At: ts(t, "2026-03-02T10:00:00Z")},
	}
	sessions, total := Reconstruct(events, ts(t, "2026-03-03T08:00:00Z"), time.UTC)
	if len(sessions) != 1 || total != 3600 {
		t.Fatalf("got %d sessions, total %d", len(sessions), total)
	}
}

func TestReconstructDuplicateStartIsNoOp(t *testing.T) {
	events := []Event{
		{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T09:00:00Z")},
		{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T09:30:00Z")},
		{Kind: lifecycle.EventResumed, At: ts(t, "2026-03-02T09:45:00Z")},
		{Kind: lifecycle.EventPaused, At: ts(t, "2026-03-02T10:00:00Z")},
	}
	sessions, total := Reconstruct(events, ts(t, "2026-03-03T08:00:00Z"), time.UTC)
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions", len(sessions))
	}
	if !sessions[0].Start.Equal(ts(t, "2026-03-02T09:00:00Z")) {
		t.Fatalf("open start overwritten: %v", sessions[0].Start)
	}
	if total != 3600 {
		t.Fatalf("total: %d", total)
	}
}

func TestReconstructStrayCloseIgnored(t *testing.T) {
	events := []Event{
		{Kind: lifecycle.EventPaused, At: ts(t, "2026-03-02T08:00:00Z")},
		{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T09:00:00Z")},
		{Kind: lifecycle.EventCompleted, At: ts(t, "2026-03-02T10:00:00Z")},
		{Kind: lifecycle.EventCompleted, At: ts(t, "2026-03-02T11:00:00Z")},
	}
	sessions, total := Reconstruct(events, ts(t, "2026-03-03T08:00:00Z"), time.UTC)
	if len(sessions) != 1 || total != 3600 {
		t.Fatalf("got %d sessions, total %d", len(sessions), total)
	}
}

func TestReconstructOutlierCappedToWorkday(t *testing.T) {
	// 09:00 -> 23:00 is a 14h span: cap at 17:00, keep the raw end for audit.
	events := []Event{
		{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T09:00:00Z")},
		{Kind: lifecycle.EventCompleted, At: ts(t, "2026-03-02T23:00:00Z")},
	}
	sessions, total := Reconstruct(events, ts(t, "2026-03-03T08:00:00Z"), time.UTC)
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions", len(sessions))
	}
	s := sessions[0]
	if s.Kind != SessionOutlier {
		t.Fatalf("kind: %s", s.Kind)
	}
	if !s.End.Equal(ts(t, "2026-03-02T17:00:00Z")) {
		t.Fatalf("end: %v", s.End)
	}
	if total != 8*3600 {
		t.Fatalf("total: %d", total)
	}
	if s.OriginalEnd == nil || !s.OriginalEnd.Equal(ts(t, "2026-03-02T23:00:00Z")) {
		t.Fatalf("original end: %v", s.OriginalEnd)
	}
}

func TestReconstructOutlierStartedAfterCapHour(t *testing.T) {
	// Start 20:00, raw end next morning: cap hour already past, grant one hour.
	events := []Event{
		{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T20:00:00Z")},
		{Kind: lifecycle.EventCompleted, At: ts(t, "2026-03-03T11:00:00Z")},
	}
	sessions, _ := Reconstruct(events, ts(t, "2026-03-04T08:00:00Z"), time.UTC)
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions", len(sessions))
	}
	s := sessions[0]
	if s.Kind != SessionOutlier {
		t.Fatalf("kind: %s", s.Kind)
	}
	if !s.End.Equal(ts(t, "2026-03-02T21:00:00Z")) || s.Seconds != 3600 {
		t.Fatalf("end %v seconds %d", s.End, s.Seconds)
	}
}

func TestReconstructCappedEndNeverExceedsRealEnd(t *testing.T) {
	// Start 01:00, raw end 14:00 same day: 13h span trips the threshold but
	// the 17:00 cap lies beyond the recorded end, so the real end wins.
	events := []Event{
		{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T01:00:00Z")},
		{Kind: lifecycle.EventCompleted, At: ts(t, "2026-03-02T14:00:00Z")},
	}
	sessions, _ := Reconstruct(events, ts(t, "2026-03-03T08:00:00Z"), time.UTC)
	s := sessions[0]
	if s.Kind != SessionOutlier {
		t.Fatalf("kind: %s", s.Kind)
	}
	if !s.End.Equal(ts(t, "2026-03-02T14:00:00Z")) {
		t.Fatalf("end: %v", s.End)
	}
}

func TestReconstructTrailingOpenSameDayIsOngoing(t *testing.T) {
	events := []Event{
		{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T14:00:00Z")},
	}
	now := ts(t, "2026-03-02T16:30:00Z")
	sessions, total := Reconstruct(events, now, time.UTC)
	if len(sessions) != 1 {
		t.Fatalf("got %d sessions", len(sessions))
	}
	s := sessions[0]
	if s.Kind != SessionOngoing {
		t.Fatalf("kind: %s", s.Kind)
	}
	if !s.End.Equal(now) || s.Seconds != 9000 {
		t.Fatalf("end %v seconds %d", s.End, s.Seconds)
	}
	if total != 9000 {
		t.Fatalf("total: %d", total)
	}
}

func TestReconstructForgottenOpenFromPastDay(t *testing.T) {
	// Started yesterday and never closed: cap to yesterday 17:00, no raw end.
	events := []Event{
		{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T09:00:00Z")},
	}
	sessions, total := Reconstruct(events, ts(t, "2026-03-03T10:00:00Z"), time.UTC)
	s := sessions[0]
	if s.Kind != SessionCapped {
		t.Fatalf("kind: %s", s.Kind)
	}
	if !s.End.Equal(ts(t, "2026-03-02T17:00:00Z")) || s.Seconds != 8*3600 {
		t.Fatalf("end %v seconds %d", s.End, s.Seconds)
	}
	if s.OriginalEnd != nil {
		t.Fatal("forgotten sessions have no recorded end")
	}
	if total != 8*3600 {
		t.Fatalf("total: %d", total)
	}
}

func TestReconstructDeterministic(t *testing.T) {
	events := []Event{
		{Kind: lifecycle.EventCompleted, At: ts(t, "2026-03-02T12:00:00Z")},
		{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T09:00:00Z")},
		{Kind: lifecycle.EventResumed, At: ts(t, "2026-03-02T11:00:00Z")},
		{Kind: lifecycle.EventPaused, At: ts(t, "2026-03-02T10:00:00Z")},
	}
	now := ts(t, "2026-03-03T08:00:00Z")
	first, firstTotal := Reconstruct(events, now, time.UTC)
	for i := 0; i < 5; i++ {
		again, againTotal := Reconstruct(events, now, time.UTC)
		if againTotal != firstTotal || len(again) != len(first) {
			t.Fatalf("run %d differs: %d sessions total %d", i, len(again), againTotal)
		}
		for j := range again {
			if !again[j].Start.Equal(first[j].Start) || !again[j].End.Equal(first[j].End) {
				t.Fatalf("run %d session %d differs", i, j)
			}
		}
	}
}

func TestReconstructTimezoneConversion(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Paris")
	if err != nil {
		t.Fatal(err)
	}
	// 08:00Z is 09:00 in Paris (winter); the 14h span caps at Paris 17:00.
	events := []Event{
		{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T08:00:00Z")},
		{Kind: lifecycle.EventCompleted, At: ts(t, "2026-03-02T22:30:00Z")},
	}
	sessions, _ := Reconstruct(events, ts(t, "2026-03-03T08:00:00Z"), loc)
	s := sessions[0]
	if s.Kind != SessionOutlier {
		t.Fatalf("kind: %s", s.Kind)
	}
	want := time.Date(2026, 3, 2, 17, 0, 0, 0, loc)
	if !s.End.Equal(want) {
		t.Fatalf("end: %v, want %v", s.End, want)
	}
}

func TestTotalHonorsOverride(t *testing.T) {
	sessions := []Session{
		{Seconds: 3600},
		{Seconds: 1800},
	}
	if got := Total(sessions, nil); got != 5400 {
		t.Fatalf("raw total: %d", got)
	}
	override := int64(7200)
	if got := Total(sessions, &override); got != 7200 {
		t.Fatalf("override total: %d", got)
	}
}
