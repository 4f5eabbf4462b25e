package worktree

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/exec"
	"github.com/ShayCichocki/taskpilot/internal/git"
)

// Entry is one row of `git worktree list --porcelain`.
type Entry struct {
	Path   string
	Branch string
	Locked bool
}

// Manager creates and removes worktrees for a single repository.
type Manager struct {
	baseDir  string // Base directory for worktrees (e.g., ~/.cache/taskpilot/worktrees/<project>)
	repoPath string // Path to the main git repository
	git      git.Runner
	cmd      exec.CommandRunner
	mu       sync.Mutex
}

// NewManager creates a Manager. baseDir defaults to
// ~/.cache/taskpilot/worktrees.
func NewManager(baseDir, repoPath string, cmd exec.CommandRunner) (*Manager, error) {
	if cmd == nil {
		cmd = exec.NewRunner()
	}
	return NewManagerWithRunner(baseDir, repoPath, git.NewRunner(repoPath, cmd), cmd)
}

// NewManagerWithRunner creates a Manager with a custom git runner (for testing).
func NewManagerWithRunner(baseDir, repoPath string, runner git.Runner, cmd exec.CommandRunner) (*Manager, error) {
	if baseDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("get home directory: %w", err)
		}
		baseDir = filepath.Join(home, ".cache", "taskpilot", "worktrees")
	}

	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("create worktree base directory: %w", err)
	}

	return &Manager{
		baseDir:  baseDir,
		repoPath: repoPath,
		git:      runner,
		cmd:      cmd,
	}, nil
}

// BaseDir returns the base directory where worktrees are created.
func (m *Manager) BaseDir() string {
	return m.baseDir
}

// RepoPath returns the path to the main git repository.
func (m *Manager) RepoPath() string {
	return m.repoPath
}

// Create adds a worktree named name on branch, reset to startPoint.
// An empty startPoint uses the repository's HEAD.
func (m *Manager) Create(ctx context.Context, name, branch, startPoint string) (*Worktree, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.ensureExcludedLocked(ctx); err != nil {
		return nil, err
	}

	path := filepath.Join(m.baseDir, name)
	if err := m.git.WorktreeAdd(ctx, path, branch, startPoint); err != nil {
		return nil, fmt.Errorf("create worktree: %w", err)
	}

	wt := Open(path, branch, m.cmd)
	wt.CreatedAt = time.Now()
	if err := os.MkdirAll(wt.ControlDir(), 0755); err != nil {
		return nil, fmt.Errorf("create control directory: %w", err)
	}
	return wt, nil
}

// Remove force-removes a worktree. It falls back to deleting the directory
// when git no longer tracks it.
func (m *Manager) Remove(ctx context.Context, wt *Worktree) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(ctx, wt.Path)
}

func (m *Manager) removeLocked(ctx context.Context, path string) error {
	_ = m.git.WorktreeUnlock(ctx, path) // may not be locked

	if err := m.git.WorktreeRemove(ctx, path); err != nil {
		if rmErr := os.RemoveAll(path); rmErr != nil {
			return fmt.Errorf("remove worktree: %w", err)
		}
		_ = m.git.WorktreePrune(ctx)
	}
	return nil
}

// List returns all worktrees registered with the repository.
func (m *Manager) List(ctx context.Context) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	output, err := m.git.WorktreeListPorcelain(ctx)
	if err != nil {
		return nil, fmt.Errorf("list worktrees: %w", err)
	}
	return parseWorktreeList(output)
}

// parseWorktreeList parses the output of 'git worktree list --porcelain'.
func parseWorktreeList(output string) ([]Entry, error) {
	var entries []Entry
	var current *Entry

	scanner := bufio.NewScanner(strings.NewReader(output))
	for scanner.Scan() {
		line := scanner.Text()

		if line == "" {
			if current != nil {
				entries = append(entries, *current)
				current = nil
			}
			continue
		}

		switch {
		case strings.HasPrefix(line, "worktree "):
			current = &Entry{Path: strings.TrimPrefix(line, "worktree ")}
		case current == nil:
		case strings.HasPrefix(line, "branch "):
			current.Branch = strings.TrimPrefix(strings.TrimPrefix(line, "branch "), "refs/heads/")
		case line == "locked" || strings.HasPrefix(line, "locked "):
			current.Locked = true
		}
	}

	// Don't forget the last worktree if output doesn't end with blank line
	if current != nil {
		entries = append(entries, *current)
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("parse worktree list: %w", err)
	}
	return entries, nil
}

// ListOrphans returns worktrees under the base directory whose paths are
// not in active.
func (m *Manager) ListOrphans(ctx context.Context, active []string) ([]Entry, error) {
	entries, err := m.List(ctx)
	if err != nil {
		return nil, err
	}

	activeSet := make(map[string]bool, len(active))
	for _, p := range active {
		activeSet[filepath.Clean(p)] = true
	}

	base := filepath.Clean(m.baseDir) + string(filepath.Separator)
	var orphans []Entry
	for _, e := range entries {
		p := filepath.Clean(e.Path)
		if p == filepath.Clean(m.repoPath) || !strings.HasPrefix(p, base) {
			continue
		}
		if activeSet[p] {
			continue
		}
		orphans = append(orphans, e)
	}
	return orphans, nil
}

// CleanupOrphans removes orphaned worktrees and returns how many were
// removed. verbose, when set, is called with each removed path.
func (m *Manager) CleanupOrphans(ctx context.Context, active []string, verbose func(path string)) (int, error) {
	orphans, err := m.ListOrphans(ctx, active)
	if err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for _, e := range orphans {
		if err := m.removeLocked(ctx, e.Path); err != nil {
			continue
		}
		if e.Branch != "" {
			_ = m.git.DeleteBranch(ctx, e.Branch)
		}
		if verbose != nil {
			verbose(e.Path)
		}
		removed++
	}

	_ = m.git.WorktreePrune(ctx)
	return removed, nil
}

// ensureExcludedLocked keeps the control directory out of `git status` by
// listing it in the shared info/exclude file.
func (m *Manager) ensureExcludedLocked(ctx context.Context) error {
	commonDir, err := m.git.Run(ctx, "rev-parse", "--git-common-dir")
	if err != nil {
		return fmt.Errorf("resolve git common dir: %w", err)
	}
	if !filepath.IsAbs(commonDir) {
		commonDir = filepath.Join(m.repoPath, commonDir)
	}
	return appendExclude(filepath.Join(commonDir, "info", "exclude"), ControlDirName+"/")
}

func appendExclude(path, pattern string) error {
	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("read exclude file: %w", err)
	}
	for _, line := range strings.Split(string(data), "\n") {
		if strings.TrimSpace(line) == pattern {
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create info directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open exclude file: %w", err)
	}
	defer f.Close()

	prefix := ""
	if len(data) > 0 && !strings.HasSuffix(string(data), "\n") {
		prefix = "\n"
	}
	if _, err := f.WriteString(prefix + pattern + "\n"); err != nil {
		return fmt.Errorf("write exclude file: %w", err)
	}
	return nil
}
