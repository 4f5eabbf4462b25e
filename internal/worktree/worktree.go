// Package worktree manages the isolated git worktrees task runs execute in.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/exec"
	"github.com/ShayCichocki/taskpilot/internal/git"
)

// ControlDirName is the per-worktree directory agents and the orchestrator
// exchange signal files through.
const ControlDirName = ".taskpilot"

// Worktree is one isolated working copy plus the branch it was created on.
type Worktree struct {
	Path      string    // Absolute path to the worktree directory
	Branch    string    // Branch the worktree was created on
	Name      string    // Directory name under the manager's base dir
	CreatedAt time.Time // When the worktree was created

	git git.Runner
}

// Open wraps an existing worktree directory.
func Open(path, branch string, cmd exec.CommandRunner) *Worktree {
	return &Worktree{
		Path:   path,
		Branch: branch,
		Name:   filepath.Base(path),
		git:    git.NewRunner(path, cmd),
	}
}

// ControlDir returns the directory signal files are written to.
func (w *Worktree) ControlDir() string {
	return filepath.Join(w.Path, ControlDirName)
}

// ControlFile returns the path of a named signal file.
func (w *Worktree) ControlFile(name string) string {
	return filepath.Join(w.ControlDir(), name)
}

// Git returns a git runner bound to the worktree.
func (w *Worktree) Git() git.Runner {
	return w.git
}

// Exec runs a git command in the worktree and returns its exit code.
// The error is non-nil only when git could not be run at all.
func (w *Worktree) Exec(ctx context.Context, args ...string) (int, error) {
	_, err := w.git.Run(ctx, args...)
	if err == nil {
		return 0, nil
	}
	var gitErr *git.Error
	if errors.As(err, &gitErr) {
		if code := gitErr.ExitCode(); code > 0 {
			return code, nil
		}
	}
	return -1, err
}

// Output runs a git command in the worktree and returns its trimmed output.
func (w *Worktree) Output(ctx context.Context, args ...string) (string, error) {
	out, err := w.git.Run(ctx, args...)
	if err != nil {
		return "", fmt.Errorf("worktree %s: %w", w.Name, err)
	}
	return out, nil
}

// CurrentBranch returns the branch checked out in the worktree.
func (w *Worktree) CurrentBranch(ctx context.Context) (string, error) {
	return w.git.CurrentBranch(ctx)
}
