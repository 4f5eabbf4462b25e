// Package gitflow implements the two ways finished work is integrated:
// through an externally managed pull request, or by rebasing and pushing
// a local branch directly onto the target branch.
package gitflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/internal/git"
	"github.com/ShayCichocki/taskpilot/internal/github"
	"github.com/ShayCichocki/taskpilot/internal/logging"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

var (
	// ErrGitFlow matches every *Error.
	ErrGitFlow = errors.New("git flow failure")
	// ErrNoOpenPR is returned by the PR flow when there is nothing to merge.
	ErrNoOpenPR = errors.New("no open pull request")
	// ErrNotMerged is returned when a merge request did not take effect.
	ErrNotMerged = errors.New("pull request was not merged")
)

// Error is a failed integration step.
type Error struct {
	Op     string
	TaskID string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("git flow %s for %s: %v", e.Op, e.TaskID, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports whether target is ErrGitFlow.
func (e *Error) Is(target error) bool { return target == ErrGitFlow }

// PRService is the pull request host.
type PRService interface {
	View(ctx context.Context, number int) (*github.PullRequest, error)
	ForBranch(ctx context.Context, branch string) (*github.PullRequest, error)
	Merge(ctx context.Context, number int) error
	Close(ctx context.Context, number int, comment string) error
	EditBase(ctx context.Context, number int, base string) error
}

// WorkContext is everything an integration step operates on.
type WorkContext struct {
	// Git runs in the task's worktree.
	Git git.Runner
	// PRs is required by the PR flow only.
	PRs    PRService
	Source backlog.IssueSource
	Task   models.Task
	// TargetBranch is where work lands. Empty means no integration target.
	TargetBranch string
	// Remote defaults to origin.
	Remote string
	Log    *logging.Logger
}

func (wc WorkContext) remote() string {
	if wc.Remote == "" {
		return "origin"
	}
	return wc.Remote
}

func (wc WorkContext) log() *logging.Logger {
	if wc.Log == nil {
		return logging.Nop()
	}
	return wc.Log
}

// Instructions is the input to the instruction texts.
type Instructions struct {
	Task         models.Task
	Branch       string
	TargetBranch string
}

// Strategy is one integration workflow.
type Strategy interface {
	// Mode identifies the strategy.
	Mode() models.GitFlowMode
	// RequiresPR reports whether work is tracked in an external PR.
	RequiresPR() bool
	// WorktreeBranch names the branch a slot's worktree starts on. Empty
	// means a detached HEAD.
	WorktreeBranch(slot int) string
	SetupInstructions(in Instructions) string
	CommitInstructions(in Instructions) string
	ReviewInstructions(in Instructions) string
	// PostWork integrates what the agent left behind.
	PostWork(ctx context.Context, wc WorkContext) error
	// AutoMerge finalises the task without human intervention.
	AutoMerge(ctx context.Context, wc WorkContext) error
}

// Options tunes strategy behaviour.
type Options struct {
	// MergeSettle is how long the PR flow waits before re-checking a merge.
	MergeSettle time.Duration
	// Project namespaces commit-flow branches.
	Project string
}

// New returns the strategy for mode.
func New(mode models.GitFlowMode, opts Options) (Strategy, error) {
	switch mode {
	case models.GitFlowPR:
		settle := opts.MergeSettle
		if settle <= 0 {
			settle = 10 * time.Second
		}
		return &PR{MergeSettle: settle}, nil
	case models.GitFlowCommit:
		return &Commit{Project: opts.Project}, nil
	default:
		return nil, fmt.Errorf("unknown git flow %q", mode)
	}
}

// flag marks the task unmergable, logging rather than returning failures.
func flag(ctx context.Context, wc WorkContext, reason string) {
	if err := wc.Source.FlagUnmergable(context.WithoutCancel(ctx), wc.Task.ID, reason); err != nil {
		wc.log().Error("failed to flag task unmergable", "task", wc.Task.ID, "error", err)
	}
}
