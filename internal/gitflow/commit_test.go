package gitflow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

func commitContext(g *fakeGit, mem *backlog.Memory, target string) WorkContext {
	task, _ := mem.Get(context.Background(), "T-1")
	return WorkContext{Git: g, Source: mem, Task: task, TargetBranch: target}
}

func TestCommit_PostWork(t *testing.T) {
	tests := []struct {
		name      string
		changes   bool
		fail      string
		wantCalls string
		wantErr   bool
		wantFlag  bool
	}{
		{"clean tree", false, "", "status,fetch,rebase,push", false, false},
		{"stashes and restores changes", true, "", "status,stash,fetch,rebase,push,pop", false, false},
		{"status fails", true, "status", "status", true, true},
		{"stash fails", true, "stash", "status,stash", true, true},
		{"fetch fails keeps stash", true, "fetch", "status,stash,fetch", true, true},
		{"rebase fails aborts and keeps stash", true, "rebase", "status,stash,fetch,rebase,abort", true, true},
		{"push fails keeps stash", true, "push", "status,stash,fetch,rebase,push", true, true},
		{"pop failure only warns", true, "pop", "status,stash,fetch,rebase,push,pop", false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := &fakeGit{changes: tt.changes, fail: map[string]bool{tt.fail: true}}
			mem := backlog.NewMemory("test", models.Task{ID: "T-1", State: models.TaskStateInReview})

			err := (&Commit{}).PostWork(context.Background(), commitContext(g, mem, "main"))

			if (err != nil) != tt.wantErr {
				t.Fatalf("PostWork() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				if !errors.Is(err, ErrGitFlow) || !errors.Is(err, errStep) {
					t.Errorf("error %v should match ErrGitFlow and wrap the step error", err)
				}
				var gfErr *Error
				if !errors.As(err, &gfErr) || gfErr.Op != tt.fail {
					t.Errorf("Op = %v, want %s", gfErr, tt.fail)
				}
			}
			if got := strings.Join(g.calls, ","); got != tt.wantCalls {
				t.Errorf("calls = %s, want %s", got, tt.wantCalls)
			}
			task, _ := mem.Get(context.Background(), "T-1")
			if task.Unmergable != tt.wantFlag {
				t.Errorf("Unmergable = %v, want %v", task.Unmergable, tt.wantFlag)
			}
			if tt.wantFlag && !strings.Contains(task.UnmergableReason, tt.fail) {
				t.Errorf("reason %q should name the failed step", task.UnmergableReason)
			}
		})
	}
}

func TestCommit_PostWorkRebaseFailureLeavesStash(t *testing.T) {
	g := &fakeGit{changes: true, fail: map[string]bool{"rebase": true}}
	mem := backlog.NewMemory("test", models.Task{ID: "T-1"})

	_ = (&Commit{}).PostWork(context.Background(), commitContext(g, mem, "main"))

	for _, c := range g.calls {
		if c == "pop" {
			t.Fatal("stash must not be popped after a failed rebase")
		}
	}
}

func TestCommit_PostWorkWithoutTarget(t *testing.T) {
	g := &fakeGit{changes: true}
	mem := backlog.NewMemory("test", models.Task{ID: "T-1"})

	if err := (&Commit{}).PostWork(context.Background(), commitContext(g, mem, "")); err != nil {
		t.Fatal(err)
	}
	if len(g.calls) != 0 {
		t.Errorf("calls = %v, want none", g.calls)
	}
}

func TestCommit_AutoMerge(t *testing.T) {
	tests := []struct {
		state models.TaskState
		want  models.TaskState
	}{
		{models.TaskStateInReview, models.TaskStateDone},
		{models.TaskStateInProgress, models.TaskStateInProgress},
		{models.TaskStateTodo, models.TaskStateTodo},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			mem := backlog.NewMemory("test", models.Task{ID: "T-1", State: tt.state})
			if err := (&Commit{}).AutoMerge(context.Background(), commitContext(&fakeGit{}, mem, "main")); err != nil {
				t.Fatal(err)
			}
			task, _ := mem.Get(context.Background(), "T-1")
			if task.State != tt.want {
				t.Errorf("State = %s, want %s", task.State, tt.want)
			}
		})
	}
}

func TestCommit_Instructions(t *testing.T) {
	c := &Commit{}
	in := Instructions{Task: models.Task{ID: "T-7"}, Branch: c.WorktreeBranch(3), TargetBranch: "main"}

	if in.Branch != "taskpilot/slot-3" {
		t.Errorf("WorktreeBranch(3) = %q", in.Branch)
	}
	if got := (&Commit{Project: "web"}).WorktreeBranch(3); got != "taskpilot/web/slot-3" {
		t.Errorf("namespaced WorktreeBranch(3) = %q", got)
	}
	if s := c.SetupInstructions(in); !strings.Contains(s, "taskpilot/slot-3") {
		t.Errorf("setup = %q", s)
	}
	commit := c.CommitInstructions(in)
	if !strings.Contains(commit, "T-7:") || !strings.Contains(commit, "Do NOT push") {
		t.Errorf("commit instructions = %q", commit)
	}
	if c.RequiresPR() {
		t.Error("commit flow should not require a PR")
	}
}
