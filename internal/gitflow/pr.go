package gitflow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/internal/github"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// PR integrates through pull requests the agent opens and pushes to.
type PR struct {
	MergeSettle time.Duration
}

// Mode returns pr.
func (p *PR) Mode() models.GitFlowMode { return models.GitFlowPR }

// RequiresPR returns true.
func (p *PR) RequiresPR() bool { return true }

// WorktreeBranch returns "": the agent creates the task branch itself.
func (p *PR) WorktreeBranch(int) string { return "" }

// SetupInstructions resumes the task's PR or asks for a new branch.
func (p *PR) SetupInstructions(in Instructions) string {
	if in.Task.PRNumber != nil {
		return fmt.Sprintf(`This task already has pull request #%d and its branch is checked out.
Keep working on this branch. Address the reviewer feedback in .taskpilot/feedback.md if present.`, *in.Task.PRNumber)
	}
	return fmt.Sprintf(`Create a new branch named "%s/<short-description>" from the current HEAD before making changes:

    git checkout -b %s/<short-description>`, in.Task.ID, in.Task.ID)
}

// CommitInstructions describes pushing and opening the PR.
func (p *PR) CommitInstructions(in Instructions) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Commit your work with messages that start with the task id (%s: ...).\n", in.Task.ID)
	b.WriteString("Push the branch to origin")
	if in.Task.PRNumber != nil {
		fmt.Fprintf(&b, "; pull request #%d updates automatically.\n", *in.Task.PRNumber)
		return b.String()
	}
	b.WriteString(" and open a pull request with `gh pr create`")
	if in.TargetBranch != "" {
		fmt.Fprintf(&b, " --base %s", in.TargetBranch)
	}
	fmt.Fprintf(&b, ".\nInclude %q in the pull request title.\n", in.Task.ID)
	return b.String()
}

// ReviewInstructions asks the reviewer to review and fix the PR branch.
func (p *PR) ReviewInstructions(in Instructions) string {
	return fmt.Sprintf(`Review the changes on the current branch for task %s against its pull request.
Fix any problems you find, commit, and push to the same branch. Do not open a new pull request.`, in.Task.ID)
}

// PostWork does nothing: the agent pushed its own branch.
func (p *PR) PostWork(context.Context, WorkContext) error {
	return nil
}

// AutoMerge squash-merges the task's open PR. A PR that does not merge
// flags the task unmergable and is closed.
func (p *PR) AutoMerge(ctx context.Context, wc WorkContext) error {
	log := wc.log()
	pr, err := p.lookup(ctx, wc)
	if err != nil {
		return &Error{Op: "auto-merge", TaskID: wc.Task.ID, Err: err}
	}
	if !pr.Open() {
		return &Error{Op: "auto-merge", TaskID: wc.Task.ID, Err: ErrNoOpenPR}
	}

	if wc.TargetBranch != "" && pr.BaseRefName != wc.TargetBranch {
		log.Info("retargeting pull request", "pr", pr.Number, "from", pr.BaseRefName, "to", wc.TargetBranch)
		if err := wc.PRs.EditBase(ctx, pr.Number, wc.TargetBranch); err != nil {
			return &Error{Op: "retarget", TaskID: wc.Task.ID, Err: err}
		}
	}

	if err := wc.PRs.Merge(ctx, pr.Number); err != nil {
		log.Warn("merge request failed", "pr", pr.Number, "error", err)
	}

	select {
	case <-ctx.Done():
		return &Error{Op: "auto-merge", TaskID: wc.Task.ID, Err: context.Cause(ctx)}
	case <-time.After(p.MergeSettle):
	}

	after, err := wc.PRs.View(ctx, pr.Number)
	if err != nil {
		return &Error{Op: "auto-merge", TaskID: wc.Task.ID, Err: err}
	}
	if after.Merged() {
		log.Info("pull request merged", "pr", pr.Number)
		if err := wc.Source.Update(ctx, wc.Task.ID, backlog.SetState(models.TaskStateDone)); err != nil {
			return &Error{Op: "complete", TaskID: wc.Task.ID, Err: err}
		}
		return nil
	}

	reason := fmt.Sprintf("pull request #%d could not be merged automatically", pr.Number)
	flag(ctx, wc, reason)
	if err := wc.PRs.Close(context.WithoutCancel(ctx), pr.Number, "taskpilot: "+reason+"."); err != nil {
		log.Error("failed to close pull request", "pr", pr.Number, "error", err)
	}
	return &Error{Op: "auto-merge", TaskID: wc.Task.ID, Err: ErrNotMerged}
}

// lookup finds the PR by the task's recorded number, then by branch.
func (p *PR) lookup(ctx context.Context, wc WorkContext) (*github.PullRequest, error) {
	if wc.Task.PRNumber != nil {
		return wc.PRs.View(ctx, *wc.Task.PRNumber)
	}
	branch, err := wc.Git.CurrentBranch(ctx)
	if err != nil {
		return nil, err
	}
	if branch == "HEAD" {
		return nil, nil
	}
	return wc.PRs.ForBranch(ctx, branch)
}
