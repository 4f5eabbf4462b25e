package git

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/taskpilot/internal/exec"
)

// ExecRunner implements Runner by shelling out to git.
type ExecRunner struct {
	dir string
	cmd exec.CommandRunner
}

// NewRunner creates a git runner for the repository or worktree at dir.
func NewRunner(dir string, cmd exec.CommandRunner) *ExecRunner {
	if cmd == nil {
		cmd = exec.NewRunner()
	}
	return &ExecRunner{dir: dir, cmd: cmd}
}

// Error is returned when a git command exits unsuccessfully.
type Error struct {
	Args   []string
	Output string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, e.Output)
}

func (e *Error) Unwrap() error { return e.Err }

// ExitCode returns the exit code of the failed git process.
func (e *Error) ExitCode() int { return exec.ExitCode(e.Err) }

func (r *ExecRunner) run(ctx context.Context, args ...string) (string, error) {
	out, err := r.cmd.Run(ctx, r.dir, "git", args...)
	if err != nil {
		return "", &Error{Args: args, Output: strings.TrimSpace(string(out)), Err: err}
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *ExecRunner) runSilent(ctx context.Context, args ...string) error {
	_, err := r.run(ctx, args...)
	return err
}

// Dir returns the directory commands run in.
func (r *ExecRunner) Dir() string {
	return r.dir
}

// Run executes an arbitrary git command with the given arguments.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	return r.run(ctx, args...)
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch(ctx context.Context) (string, error) {
	return r.run(ctx, "rev-parse", "--abbrev-ref", "HEAD")
}

// DetachHead detaches HEAD at the current commit.
func (r *ExecRunner) DetachHead(ctx context.Context) error {
	return r.runSilent(ctx, "checkout", "--detach")
}

// BranchExists returns true if the branch exists.
func (r *ExecRunner) BranchExists(ctx context.Context, name string) (bool, error) {
	_, err := r.run(ctx, "show-ref", "--verify", "--quiet", "refs/heads/"+name)
	if err != nil {
		// Exit code 1 means branch doesn't exist (not an error)
		var gitErr *Error
		if errors.As(err, &gitErr) && gitErr.ExitCode() == 1 {
			return false, nil
		}
		return false, fmt.Errorf("check branch exists: %w", err)
	}
	return true, nil
}

// DeleteBranch deletes the specified branch.
func (r *ExecRunner) DeleteBranch(ctx context.Context, name string) error {
	return r.runSilent(ctx, "branch", "-D", name)
}

// HasChanges returns true if there are uncommitted changes.
func (r *ExecRunner) HasChanges(ctx context.Context) (bool, error) {
	status, err := r.run(ctx, "status", "--porcelain")
	if err != nil {
		return false, err
	}
	return len(status) > 0, nil
}

// StashPush stashes all changes including untracked files.
func (r *ExecRunner) StashPush(ctx context.Context, message string) error {
	return r.runSilent(ctx, "stash", "push", "--include-untracked", "-m", message)
}

// StashPop re-applies the most recent stash.
func (r *ExecRunner) StashPop(ctx context.Context) error {
	return r.runSilent(ctx, "stash", "pop")
}

// Fetch fetches ref from remote.
func (r *ExecRunner) Fetch(ctx context.Context, remote, ref string) error {
	return r.runSilent(ctx, "fetch", remote, ref)
}

// Rebase rebases the current branch onto the specified upstream.
func (r *ExecRunner) Rebase(ctx context.Context, upstream string) error {
	return r.runSilent(ctx, "rebase", upstream)
}

// RebaseAbort aborts an in-progress rebase.
func (r *ExecRunner) RebaseAbort(ctx context.Context) error {
	return r.runSilent(ctx, "rebase", "--abort")
}

// Push pushes HEAD to branch on remote.
func (r *ExecRunner) Push(ctx context.Context, remote, branch string) error {
	return r.runSilent(ctx, "push", remote, "HEAD:refs/heads/"+branch)
}

// WorktreeAdd creates a worktree at path with branch reset to startPoint.
// An empty branch creates a detached worktree.
func (r *ExecRunner) WorktreeAdd(ctx context.Context, path, branch, startPoint string) error {
	args := []string{"worktree", "add", "--detach", path}
	if branch != "" {
		args = []string{"worktree", "add", "-B", branch, path}
	}
	if startPoint != "" {
		args = append(args, startPoint)
	}
	return r.runSilent(ctx, args...)
}

// WorktreeRemove removes the worktree at the given path.
func (r *ExecRunner) WorktreeRemove(ctx context.Context, path string) error {
	return r.runSilent(ctx, "worktree", "remove", "--force", path)
}

// WorktreeUnlock unlocks a locked worktree.
func (r *ExecRunner) WorktreeUnlock(ctx context.Context, path string) error {
	return r.runSilent(ctx, "worktree", "unlock", path)
}

// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
func (r *ExecRunner) WorktreeListPorcelain(ctx context.Context) (string, error) {
	return r.run(ctx, "worktree", "list", "--porcelain")
}

// WorktreePrune prunes worktrees with --expire now.
func (r *ExecRunner) WorktreePrune(ctx context.Context) error {
	return r.runSilent(ctx, "worktree", "prune", "--expire", "now")
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
