package report

import (
	"testing"
	"time"

	"pulse/internal/lifecycle"
)

func TestBuildTotalsAndChart(t *testing.T) {
	inputs := []UserInput{
		{
			UserID: "alice",
			Name:   "Alice",
			Tasks: []TaskInput{
				{
					ID:     "t1",
					Title:  "API work",
					Status: "done",
					Events: []Event{
						{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T09:00:00Z")},
						{Kind: lifecycle.EventCompleted, At: ts(t, "2026-03-02T12:00:00Z")},
					},
				},
				{
					ID:     "t2",
					Title:  "Docs",
					Status: "done",
					Events: []Event{
						{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-03T10:00:00Z")},
						{Kind: lifecycle.EventCompleted, At: ts(t, "2026-03-03T11:00:00Z")},
					},
				},
			},
		},
	}
	now := ts(t, "2026-03-04T08:00:00Z")
	rep := Build(inputs, now, time.UTC, DefaultHeuristics())

	if len(rep.Users) != 1 {
		t.Fatalf("got %d users", len(rep.Users))
	}
	u := rep.Users[0]
	if u.Seconds != 4*3600 || rep.Seconds != 4*3600 {
		t.Fatalf("totals: user %d grand %d", u.Seconds, rep.Seconds)
	}
	if len(u.Tasks) != 2 || u.Tasks[0].TaskID != "t1" || u.Tasks[1].TaskID != "t2" {
		t.Fatalf("task order not preserved: %+v", u.Tasks)
	}

	if len(rep.Chart.Daily) != 2 {
		t.Fatalf("got %d daily points", len(rep.Chart.Daily))
	}
	if rep.Chart.Daily[0].Date != "2026-03-02" || rep.Chart.Daily[0].Hours != 3 {
		t.Fatalf("first daily point: %+v", rep.Chart.Daily[0])
	}
	if rep.Chart.Daily[1].Date != "2026-03-03" || rep.Chart.Daily[1].Hours != 1 {
		t.Fatalf("second daily point: %+v", rep.Chart.Daily[1])
	}

	if len(rep.Chart.Distribution) != 2 {
		t.Fatalf("got %d shares", len(rep.Chart.Distribution))
	}
	if rep.Chart.Distribution[0].Percent != 75 || rep.Chart.Distribution[1].Percent != 25 {
		t.Fatalf("shares: %+v", rep.Chart.Distribution)
	}
}

func TestBuildOverrideReplacesTotalKeepsSessions(t *testing.T) {
	override := int64(2 * 3600)
	inputs := []UserInput{
		{
			UserID: "bob",
			Tasks: []TaskInput{
				{
					ID:       "t1",
					Title:    "Migration",
					Status:   "done",
					Override: &override,
					Events: []Event{
						{Kind: lifecycle.EventStarted, At: ts(t, "2026-03-02T09:00:00Z")},
						{Kind: lifecycle.EventCompleted, At: ts(t, "2026-03-02T10:00:00Z")},
					},
				},
			},
		},
	}
	rep := Build(inputs, ts(t, "2026-03-03T08:00:00Z"), time.UTC, DefaultHeuristics())
	task := rep.Users[0].Tasks[0]
	if task.Seconds != override {
		t.Fatalf("override not applied: %d", task.Seconds)
	}
	if len(task.Sessions) != 1 || task.Sessions[0].Seconds != 3600 {
		t.Fatalf("raw sessions must survive the override: %+v", task.Sessions)
	}
	if rep.Seconds != override {
		t.Fatalf("grand total: %d", rep.Seconds)
	}
}

func TestBuildEmptyInput(t *testing.T) {
	rep := Build(nil, ts(t, "2026-03-03T08:00:00Z"), time.UTC, DefaultHeuristics())
	if rep.Seconds != 0 || len(rep.Users) != 0 {
		t.Fatalf("empty report: %+v", rep)
	}
	if len(rep.Chart.Daily) != 0 || len(rep.Chart.Distribution) != 0 {
		t.Fatalf("empty chart: %+v", rep.Chart)
	}
}
