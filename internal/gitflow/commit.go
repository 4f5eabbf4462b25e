package gitflow

import (
	"context"
	"fmt"

	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// Commit integrates by rebasing each slot's local branch onto the target
// branch and pushing it.
type Commit struct {
	// Project namespaces slot branches when several projects share a
	// repository.
	Project string
}

// Mode returns commit.
func (c *Commit) Mode() models.GitFlowMode { return models.GitFlowCommit }

// RequiresPR returns false.
func (c *Commit) RequiresPR() bool { return false }

// WorktreeBranch returns taskpilot/slot-N, or taskpilot/<project>/slot-N
// for a namespaced strategy.
func (c *Commit) WorktreeBranch(slot int) string {
	if c.Project != "" {
		return fmt.Sprintf("taskpilot/%s/slot-%d", c.Project, slot)
	}
	return fmt.Sprintf("taskpilot/slot-%d", slot)
}

// SetupInstructions pins the agent to its slot branch.
func (c *Commit) SetupInstructions(in Instructions) string {
	return fmt.Sprintf("You are on branch %q. Work on this branch only; do not create or switch branches.", in.Branch)
}

// CommitInstructions requires the task id in commit messages and forbids
// pushing.
func (c *Commit) CommitInstructions(in Instructions) string {
	target := in.TargetBranch
	if target == "" {
		target = "the target branch"
	}
	return fmt.Sprintf(`Commit your work with messages that reference the task id, for example "%s: add login handler".
Do NOT push. taskpilot rebases your commits onto %s and pushes them after you finish.`, in.Task.ID, target)
}

// ReviewInstructions asks the reviewer to fix the branch locally.
func (c *Commit) ReviewInstructions(in Instructions) string {
	return fmt.Sprintf(`Review the commits on %q for task %s. Fix any problems you find and commit the fixes.
Do NOT push.`, in.Branch, in.Task.ID)
}

// PostWork stashes leftovers, rebases onto the target, pushes, and
// restores the stash. Any failure before the pop flags the task
// unmergable and leaves the stash in place.
func (c *Commit) PostWork(ctx context.Context, wc WorkContext) error {
	if wc.TargetBranch == "" {
		return nil
	}
	log := wc.log()
	remote := wc.remote()

	fail := func(op string, err error) error {
		flag(ctx, wc, fmt.Sprintf("%s onto %s failed: %v", op, wc.TargetBranch, err))
		return &Error{Op: op, TaskID: wc.Task.ID, Err: err}
	}

	changed, err := wc.Git.HasChanges(ctx)
	if err != nil {
		return fail("status", err)
	}
	stashed := false
	if changed {
		if err := wc.Git.StashPush(ctx, "taskpilot: "+wc.Task.ID); err != nil {
			return fail("stash", err)
		}
		stashed = true
	}

	if err := wc.Git.Fetch(ctx, remote, wc.TargetBranch); err != nil {
		return fail("fetch", err)
	}
	if err := wc.Git.Rebase(ctx, remote+"/"+wc.TargetBranch); err != nil {
		if abortErr := wc.Git.RebaseAbort(context.WithoutCancel(ctx)); abortErr != nil {
			log.Warn("rebase abort failed", "error", abortErr)
		}
		return fail("rebase", err)
	}
	if err := wc.Git.Push(ctx, remote, wc.TargetBranch); err != nil {
		return fail("push", err)
	}

	if stashed {
		if err := wc.Git.StashPop(ctx); err != nil {
			log.Warn("stash pop failed, stash left for manual recovery", "task", wc.Task.ID, "error", err)
		}
	}
	log.Info("pushed work", "task", wc.Task.ID, "target", wc.TargetBranch)
	return nil
}

// AutoMerge moves an in-review task straight to done; the branch is
// already on the target.
func (c *Commit) AutoMerge(ctx context.Context, wc WorkContext) error {
	task, err := wc.Source.Get(ctx, wc.Task.ID)
	if err != nil {
		return &Error{Op: "auto-merge", TaskID: wc.Task.ID, Err: err}
	}
	if task.State != models.TaskStateInReview {
		return nil
	}
	if err := wc.Source.Update(ctx, task.ID, backlog.SetState(models.TaskStateDone)); err != nil {
		return &Error{Op: "auto-merge", TaskID: wc.Task.ID, Err: err}
	}
	return nil
}
