// Package git provides an interface for git operations.
package git

import "context"

// BranchOperations defines the interface for git branch operations.
type BranchOperations interface {
	// CurrentBranch returns the name of the current branch, or "HEAD" when
	// detached.
	CurrentBranch(ctx context.Context) (string, error)
	// DetachHead detaches HEAD at the current commit.
	DetachHead(ctx context.Context) error
	// BranchExists returns true if the local branch exists.
	BranchExists(ctx context.Context, name string) (bool, error)
	// DeleteBranch force-deletes the specified branch.
	DeleteBranch(ctx context.Context, name string) error
}

// StashOperations defines the interface for stashing uncommitted work.
type StashOperations interface {
	// HasChanges returns true if there are uncommitted or untracked changes.
	HasChanges(ctx context.Context) (bool, error)
	// StashPush stashes all changes, including untracked files.
	StashPush(ctx context.Context, message string) error
	// StashPop re-applies and drops the most recent stash.
	StashPop(ctx context.Context) error
}

// RemoteOperations defines the interface for syncing with a remote.
type RemoteOperations interface {
	// Fetch fetches a ref from a remote.
	Fetch(ctx context.Context, remote, ref string) error
	// Rebase rebases the current branch onto upstream.
	Rebase(ctx context.Context, upstream string) error
	// RebaseAbort aborts an in-progress rebase.
	RebaseAbort(ctx context.Context) error
	// Push pushes HEAD to the given branch on a remote.
	Push(ctx context.Context, remote, branch string) error
}

// WorktreeOperations defines the interface for git worktree operations.
type WorktreeOperations interface {
	// WorktreeAdd creates a worktree at path on branch, resetting the branch
	// to startPoint (git worktree add -B). An empty branch detaches HEAD.
	WorktreeAdd(ctx context.Context, path, branch, startPoint string) error
	// WorktreeRemove force-removes the worktree at path.
	WorktreeRemove(ctx context.Context, path string) error
	// WorktreeUnlock unlocks a locked worktree.
	WorktreeUnlock(ctx context.Context, path string) error
	// WorktreeListPorcelain returns the raw porcelain output for detailed parsing.
	WorktreeListPorcelain(ctx context.Context) (string, error)
	// WorktreePrune prunes stale worktree entries immediately.
	WorktreePrune(ctx context.Context) error
}

// Runner is the full set of git operations used by taskpilot.
type Runner interface {
	BranchOperations
	StashOperations
	RemoteOperations
	WorktreeOperations

	// Run executes an arbitrary git command and returns trimmed output.
	Run(ctx context.Context, args ...string) (string, error)
	// Dir returns the directory commands run in.
	Dir() string
}
