package tui

import (
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/state"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

func TestBoard_TracksActiveWorkers(t *testing.T) {
	b := NewBoard()
	b.Update(models.WorkerState{Project: "web", Slot: 1, Status: models.Working{TaskID: "T-2"}})
	b.Update(models.WorkerState{Project: "web", Slot: 0, Status: models.ChoosingTask{}})
	b.Update(models.WorkerState{Project: "api", Slot: 3, Status: models.Booting{}})

	active := b.Active()
	if len(active) != 3 {
		t.Fatalf("Active() len = %d, want 3", len(active))
	}
	if active[0].Project != "api" || active[1].Slot != 0 || active[2].Slot != 1 {
		t.Errorf("Active() order = %+v", active)
	}

	b.Update(models.WorkerState{Project: "web", Slot: 1, Status: models.Exited{TaskID: "T-2", Outcome: models.OutcomeSucceeded}})
	b.Update(models.WorkerState{Project: "web", Slot: 0, Status: models.Exited{Outcome: models.OutcomeNoWork}})

	if got := len(b.Active()); got != 1 {
		t.Errorf("Active() len after exits = %d, want 1", got)
	}
	outcomes := b.Outcomes()
	if outcomes[models.OutcomeSucceeded] != 1 || outcomes[models.OutcomeNoWork] != 1 {
		t.Errorf("Outcomes() = %v", outcomes)
	}
}

func TestBoard_Render(t *testing.T) {
	b := NewBoard()
	if out := b.Render(); !strings.Contains(out, "No active workers") {
		t.Errorf("empty board = %q", out)
	}

	b.Update(models.WorkerState{Project: "web", Slot: 2, Status: models.Working{TaskID: "T-9"}})
	b.Update(models.WorkerState{Project: "web", Slot: 1, Status: models.Exited{TaskID: "T-1", Outcome: models.OutcomeStalled}})

	out := b.Render()
	for _, want := range []string{"web #2", "working on T-9", "stalled 1"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() missing %q:\n%s", want, out)
		}
	}
}

func TestStatusIcon_Exhaustive(t *testing.T) {
	statuses := []models.WorkerStatus{
		nil,
		models.Booting{},
		models.ChoosingTask{},
		models.Working{TaskID: "T-1"},
		models.Reviewing{TaskID: "T-1"},
		models.Merging{TaskID: "T-1"},
		models.Exited{Outcome: models.OutcomeFailed},
	}
	for _, s := range statuses {
		if icon, _ := statusIcon(s); icon == "" {
			t.Errorf("statusIcon(%T) returned no icon", s)
		}
	}
}

func TestRenderTasks(t *testing.T) {
	out := RenderTasks([]models.Task{
		{ID: "T-1", Title: "Add login", State: models.TaskStateTodo, Priority: 1, BlockedBy: []string{"T-0"}},
		{ID: "T-2", Title: "Fix build", State: models.TaskStateInReview, PRNumber: models.IntPtr(4), Unmergable: true, UnmergableReason: "conflict"},
	})
	for _, want := range []string{"T-1", "Add login", "blocked by T-0", "PR #4", "unmergable: conflict"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderTasks() missing %q:\n%s", want, out)
		}
	}
	if out := RenderTasks(nil); !strings.Contains(out, "No tasks") {
		t.Errorf("RenderTasks(nil) = %q", out)
	}
}

func TestRenderRuns(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	out := RenderRuns([]state.Run{{
		ID: "abc", Project: "web", Slot: 3, TaskID: "T-7", Outcome: models.OutcomeTimedOut,
		Error: "run exceeded 1m0s\nmore", StartedAt: start, FinishedAt: start.Add(90 * time.Second),
	}})
	for _, want := range []string{"T-7", "timed_out", "1m30s", "run exceeded 1m0s"} {
		if !strings.Contains(out, want) {
			t.Errorf("RenderRuns() missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "more") {
		t.Errorf("RenderRuns() should only show the first error line:\n%s", out)
	}
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{5 * time.Second, "5s"},
		{90 * time.Second, "1m30s"},
		{2*time.Hour + 5*time.Minute, "2h5m"},
	}
	for _, tt := range tests {
		if got := formatDuration(tt.d); got != tt.want {
			t.Errorf("formatDuration(%v) = %q, want %q", tt.d, got, tt.want)
		}
	}
}
