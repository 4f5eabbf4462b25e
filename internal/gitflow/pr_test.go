package gitflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/internal/github"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

func prContext(t *testing.T, task models.Task, g *fakeGit, prs *fakePRs, target string) (WorkContext, *backlog.Memory) {
	t.Helper()
	mem := backlog.NewMemory("test", task)
	return WorkContext{Git: g, PRs: prs, Source: mem, Task: task, TargetBranch: target}, mem
}

func TestPR_AutoMergeWithoutOpenPR(t *testing.T) {
	tests := []struct {
		name string
		task models.Task
		prs  *fakePRs
	}{
		{"no pr number and detached", models.Task{ID: "T-1"}, &fakePRs{}},
		{"unknown pr number", models.Task{ID: "T-1", PRNumber: models.IntPtr(9)}, &fakePRs{prs: map[int]*github.PullRequest{}}},
		{
			"closed pr",
			models.Task{ID: "T-1", PRNumber: models.IntPtr(9)},
			&fakePRs{prs: map[int]*github.PullRequest{9: {Number: 9, State: github.StateClosed}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wc, _ := prContext(t, tt.task, &fakeGit{}, tt.prs, "main")
			err := (&PR{}).AutoMerge(context.Background(), wc)
			if !errors.Is(err, ErrNoOpenPR) || !errors.Is(err, ErrGitFlow) {
				t.Fatalf("AutoMerge() error = %v, want ErrNoOpenPR", err)
			}
			if len(tt.prs.merges) != 0 {
				t.Error("merge must not be attempted without an open PR")
			}
		})
	}
}

func TestPR_AutoMergeMerged(t *testing.T) {
	prs := &fakePRs{
		prs:        map[int]*github.PullRequest{5: {Number: 5, State: github.StateOpen, BaseRefName: "develop"}},
		byBranch:   map[string]int{"T-1/login": 5},
		mergeWorks: true,
	}
	g := &fakeGit{branch: "T-1/login"}
	wc, mem := prContext(t, models.Task{ID: "T-1", State: models.TaskStateInReview, AutoMerge: true}, g, prs, "main")

	if err := (&PR{}).AutoMerge(context.Background(), wc); err != nil {
		t.Fatalf("AutoMerge() error = %v", err)
	}
	if len(prs.retargets) != 1 || prs.retargets[0] != "main" {
		t.Errorf("retargets = %v, want [main]", prs.retargets)
	}
	if len(prs.merges) != 1 {
		t.Errorf("merges = %v", prs.merges)
	}
	task, _ := mem.Get(context.Background(), "T-1")
	if task.State != models.TaskStateDone {
		t.Errorf("State = %s, want done", task.State)
	}
}

func TestPR_AutoMergeNotMerged(t *testing.T) {
	prs := &fakePRs{prs: map[int]*github.PullRequest{5: {Number: 5, State: github.StateOpen, BaseRefName: "main"}}}
	wc, mem := prContext(t, models.Task{ID: "T-1", PRNumber: models.IntPtr(5)}, &fakeGit{}, prs, "main")

	err := (&PR{}).AutoMerge(context.Background(), wc)
	if !errors.Is(err, ErrNotMerged) {
		t.Fatalf("AutoMerge() error = %v, want ErrNotMerged", err)
	}
	if len(prs.retargets) != 0 {
		t.Error("PR already on target should not be retargeted")
	}
	if len(prs.closes) != 1 || prs.closes[0] != 5 {
		t.Errorf("closes = %v", prs.closes)
	}
	task, _ := mem.Get(context.Background(), "T-1")
	if !task.Unmergable || !strings.Contains(task.UnmergableReason, "#5") {
		t.Errorf("task = %+v, want flagged unmergable", task)
	}
}

func TestPR_AutoMergeCancelled(t *testing.T) {
	prs := &fakePRs{prs: map[int]*github.PullRequest{5: {Number: 5, State: github.StateOpen}}}
	wc, _ := prContext(t, models.Task{ID: "T-1", PRNumber: models.IntPtr(5)}, &fakeGit{}, prs, "")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := (&PR{MergeSettle: time.Second}).AutoMerge(ctx, wc)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("AutoMerge() error = %v, want canceled", err)
	}
}

func TestPR_PostWorkIsNoop(t *testing.T) {
	g := &fakeGit{changes: true}
	if err := (&PR{}).PostWork(context.Background(), WorkContext{Git: g}); err != nil {
		t.Fatal(err)
	}
	if len(g.calls) != 0 {
		t.Errorf("calls = %v", g.calls)
	}
}

func TestPR_Instructions(t *testing.T) {
	p := &PR{}
	fresh := Instructions{Task: models.Task{ID: "T-4"}, TargetBranch: "main"}
	if s := p.SetupInstructions(fresh); !strings.Contains(s, `"T-4/<short-description>"`) {
		t.Errorf("setup = %q", s)
	}
	if s := p.CommitInstructions(fresh); !strings.Contains(s, "gh pr create") || !strings.Contains(s, "--base main") {
		t.Errorf("commit = %q", s)
	}

	resume := Instructions{Task: models.Task{ID: "T-4", PRNumber: models.IntPtr(11)}}
	if s := p.SetupInstructions(resume); !strings.Contains(s, "#11") {
		t.Errorf("resume setup = %q", s)
	}
	if s := p.CommitInstructions(resume); strings.Contains(s, "gh pr create") {
		t.Errorf("resume should not open a new PR: %q", s)
	}
	if p.WorktreeBranch(2) != "" || !p.RequiresPR() {
		t.Error("PR flow starts detached and requires a PR")
	}
}

func TestNew(t *testing.T) {
	s, err := New(models.GitFlowPR, Options{})
	if err != nil || s.Mode() != models.GitFlowPR {
		t.Fatalf("New(pr) = %v, %v", s, err)
	}
	if s.(*PR).MergeSettle <= 0 {
		t.Error("default merge settle not applied")
	}
	if s, err := New(models.GitFlowCommit, Options{}); err != nil || s.Mode() != models.GitFlowCommit {
		t.Fatalf("New(commit) = %v, %v", s, err)
	}
	if _, err := New("squash", Options{}); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestPR_AutoMergeLookupError(t *testing.T) {
	prs := &fakePRs{viewErr: errStep}
	wc, _ := prContext(t, models.Task{ID: "T-1", PRNumber: models.IntPtr(2)}, &fakeGit{}, prs, "main")

	err := (&PR{}).AutoMerge(context.Background(), wc)
	if !errors.Is(err, errStep) || !errors.Is(err, ErrGitFlow) {
		t.Errorf("AutoMerge() error = %v", err)
	}
}
