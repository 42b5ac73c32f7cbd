package lifecycle

import (
	"errors"
	"testing"
)

func TestApplyLegalityGrid(t *testing.T) {
	legal := map[Action]map[Status]bool{
		ActionStart:    {StatusToDo: true, StatusPaused: true},
		ActionPause:    {StatusInProgress: true},
		ActionResume:   {StatusPaused: true, StatusBlocked: true},
		ActionComplete: {StatusInProgress: true},
		ActionBlock:    {StatusToDo: true, StatusInProgress: true, StatusPaused: true, StatusBlocked: true},
		ActionUnblock:  {StatusBlocked: true},
		ActionRevise:   {StatusDone: true},
		ActionArchive:  {StatusToDo: true, StatusInProgress: true, StatusPaused: true, StatusBlocked: true, StatusDone: true, StatusArchived: true},
	}
	for _, action := range Actions() {
		for _, status := range Statuses() {
			_, err := Apply(Snapshot{Status: status}, action, "stuck on review")
			if legal[action][status] {
				if err != nil {
					t.Errorf("%s from %s: unexpected error %v", action, status, err)
				}
				continue
			}
			var ite IllegalTransitionError
			if !errors.As(err, &ite) {
				t.Errorf("%s from %s: want IllegalTransitionError, got %v", action, status, err)
				continue
			}
			if ite.Action != action || ite.Status != status {
				t.Errorf("%s from %s: error carries %s/%s", action, status, ite.Action, ite.Status)
			}
		}
	}
}

func TestApplyRejectionMessages(t *testing.T) {
	cases := []struct {
		action Action
		status Status
		want   string
	}{
		{ActionStart, StatusInProgress, "Task can only be started from To Do or Paused"},
		{ActionStart, StatusDone, "Task can only be started from To Do or Paused"},
		{ActionPause, StatusToDo, "Only tasks in progress can be paused"},
		{ActionResume, StatusInProgress, "Only paused or blocked tasks can be resumed"},
		{ActionComplete, StatusToDo, "Task must be started before it can be completed"},
		{ActionBlock, StatusDone, "Completed or Archived tasks cannot be blocked"},
		{ActionBlock, StatusArchived, "Completed or Archived tasks cannot be blocked"},
		{ActionUnblock, StatusToDo, "Only blocked tasks can be unblocked"},
		{ActionRevise, StatusInProgress, "Only completed tasks can be revised"},
	}
	for _, tc := range cases {
		_, err := Apply(Snapshot{Status: tc.status}, tc.action, "reason")
		if err == nil {
			t.Fatalf("%s from %s: expected error", tc.action, tc.status)
		}
		if err.Error() != tc.want {
			t.Errorf("%s from %s: got %q, want %q", tc.action, tc.status, err.Error(), tc.want)
		}
	}
}

func TestStartEmitsResumedFromPaused(t *testing.T) {
	ch, err := Apply(Snapshot{Status: StatusToDo}, ActionStart, "")
	if err != nil {
		t.Fatal(err)
	}
	if ch.To != StatusInProgress || ch.Event != EventStarted {
		t.Fatalf("start from todo: got %s/%s", ch.To, ch.Event)
	}

	ch, err = Apply(Snapshot{Status: StatusPaused}, ActionStart, "")
	if err != nil {
		t.Fatal(err)
	}
	if ch.To != StatusInProgress || ch.Event != EventResumed {
		t.Fatalf("start from paused: got %s/%s, want in_progress/resumed", ch.To, ch.Event)
	}
}

func TestBlockRequiresReason(t *testing.T) {
	for _, reason := range []string{"", "   ", "\t\n"} {
		_, err := Apply(Snapshot{Status: StatusInProgress}, ActionBlock, reason)
		var mre MissingReasonError
		if !errors.As(err, &mre) {
			t.Fatalf("block with reason %q: want MissingReasonError, got %v", reason, err)
		}
		if err.Error() != "A reason is required to block a task" {
			t.Fatalf("unexpected message %q", err.Error())
		}
	}

	ch, err := Apply(Snapshot{Status: StatusInProgress}, ActionBlock, "  waiting on design  ")
	if err != nil {
		t.Fatal(err)
	}
	if ch.To != StatusBlocked || ch.Event != EventBlocked {
		t.Fatalf("got %s/%s", ch.To, ch.Event)
	}
	if !ch.SetBlockReason || ch.BlockReason != "waiting on design" {
		t.Fatalf("block reason not trimmed and stored: %q", ch.BlockReason)
	}
	if !ch.SetPreviousStatus || ch.PreviousStatus != StatusInProgress {
		t.Fatalf("previous status not captured: %q", ch.PreviousStatus)
	}
}

func TestReblockOverwritesMemory(t *testing.T) {
	ch, err := Apply(Snapshot{Status: StatusBlocked, PreviousStatus: StatusInProgress}, ActionBlock, "second reason")
	if err != nil {
		t.Fatal(err)
	}
	if ch.PreviousStatus != StatusBlocked {
		t.Fatalf("re-block should remember blocked, got %q", ch.PreviousStatus)
	}
}

func TestUnblockRestoresPreviousStatus(t *testing.T) {
	for _, prev := range []Status{StatusToDo, StatusInProgress, StatusPaused} {
		ch, err := Apply(Snapshot{Status: StatusBlocked, PreviousStatus: prev}, ActionUnblock, "")
		if err != nil {
			t.Fatal(err)
		}
		if ch.To != prev {
			t.Fatalf("unblock with memory %s: restored to %s", prev, ch.To)
		}
		if !ch.SetPreviousStatus || ch.PreviousStatus != "" {
			t.Fatal("unblock must clear the memory")
		}
		if !ch.SetBlockReason || ch.BlockReason != "" {
			t.Fatal("unblock must clear the block reason")
		}
	}
}

func TestUnblockDefaultsToToDo(t *testing.T) {
	ch, err := Apply(Snapshot{Status: StatusBlocked}, ActionUnblock, "")
	if err != nil {
		t.Fatal(err)
	}
	if ch.To != StatusToDo {
		t.Fatalf("unblock without memory: got %s, want todo", ch.To)
	}
}

func TestCompleteSetsCompletionAndDailySync(t *testing.T) {
	ch, err := Apply(Snapshot{Status: StatusInProgress}, ActionComplete, "")
	if err != nil {
		t.Fatal(err)
	}
	if ch.To != StatusDone || ch.Event != EventCompleted {
		t.Fatalf("got %s/%s", ch.To, ch.Event)
	}
	if !ch.SetCompletedNow {
		t.Fatal("complete must stamp the completion date")
	}
	if ch.DailySync != DailySyncCompleted {
		t.Fatalf("daily sync: got %q", ch.DailySync)
	}
}

func TestReviseReopensAndSyncsDaily(t *testing.T) {
	ch, err := Apply(Snapshot{Status: StatusDone}, ActionRevise, "")
	if err != nil {
		t.Fatal(err)
	}
	if ch.To != StatusToDo || ch.Event != EventRevised {
		t.Fatalf("got %s/%s", ch.To, ch.Event)
	}
	if ch.DailySync != DailySyncPending {
		t.Fatalf("daily sync: got %q", ch.DailySync)
	}
}

func TestArchiveKeepsBlockFields(t *testing.T) {
	ch, err := Apply(Snapshot{Status: StatusBlocked, PreviousStatus: StatusPaused}, ActionArchive, "")
	if err != nil {
		t.Fatal(err)
	}
	if ch.To != StatusArchived || ch.Event != EventArchived {
		t.Fatalf("got %s/%s", ch.To, ch.Event)
	}
	if ch.SetPreviousStatus || ch.SetBlockReason {
		t.Fatal("archive must not touch block memory")
	}
}

func TestValueRejectedErrorMessage(t *testing.T) {
	err := ValueRejectedError{
		Model:   "Task",
		Field:   "status",
		Value:   "on_hold",
		Allowed: []string{"todo", "in_progress", "done"},
	}
	want := "Invalid value(s) for Task.status: [on_hold]. Allowed: [todo, in_progress, done]"
	if err.Error() != want {
		t.Fatalf("got %q, want %q", err.Error(), want)
	}
}

func TestSessionEventKinds(t *testing.T) {
	session := map[EventKind]bool{
		EventStarted:   true,
		EventPaused:    true,
		EventResumed:   true,
		EventCompleted: true,
	}
	for _, k := range []EventKind{EventCreated, EventStarted, EventPaused, EventResumed, EventCompleted, EventBlocked, EventUnblocked, EventRevised, EventArchived} {
		if k.SessionEvent() != session[k] {
			t.Errorf("%s: SessionEvent=%v", k, k.SessionEvent())
		}
	}
}
