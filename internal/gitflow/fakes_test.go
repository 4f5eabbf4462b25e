package gitflow

import (
	"context"
	"errors"

	"github.com/ShayCichocki/taskpilot/internal/github"
)

var errStep = errors.New("step failed")

// fakeGit records the integration steps and fails the ones listed in fail.
type fakeGit struct {
	changes bool
	branch  string
	fail    map[string]bool
	calls   []string
}

func (f *fakeGit) step(name string) error {
	f.calls = append(f.calls, name)
	if f.fail[name] {
		return errStep
	}
	return nil
}

func (f *fakeGit) Run(context.Context, ...string) (string, error) { return "", nil }
func (f *fakeGit) Dir() string                                    { return "/wt" }
func (f *fakeGit) CurrentBranch(context.Context) (string, error) {
	if f.branch == "" {
		return "HEAD", nil
	}
	return f.branch, nil
}
func (f *fakeGit) DetachHead(context.Context) error                   { return nil }
func (f *fakeGit) BranchExists(context.Context, string) (bool, error) { return true, nil }
func (f *fakeGit) DeleteBranch(context.Context, string) error         { return nil }
func (f *fakeGit) HasChanges(context.Context) (bool, error) {
	return f.changes, f.step("status")
}
func (f *fakeGit) StashPush(context.Context, string) error      { return f.step("stash") }
func (f *fakeGit) StashPop(context.Context) error               { return f.step("pop") }
func (f *fakeGit) Fetch(context.Context, string, string) error  { return f.step("fetch") }
func (f *fakeGit) Rebase(context.Context, string) error         { return f.step("rebase") }
func (f *fakeGit) RebaseAbort(context.Context) error            { return f.step("abort") }
func (f *fakeGit) Push(context.Context, string, string) error   { return f.step("push") }
func (f *fakeGit) WorktreeAdd(context.Context, string, string, string) error {
	return nil
}
func (f *fakeGit) WorktreeRemove(context.Context, string) error          { return nil }
func (f *fakeGit) WorktreeUnlock(context.Context, string) error          { return nil }
func (f *fakeGit) WorktreeListPorcelain(context.Context) (string, error) { return "", nil }
func (f *fakeGit) WorktreePrune(context.Context) error                   { return nil }

// fakePRs serves PRs from a map and records mutating calls.
type fakePRs struct {
	prs        map[int]*github.PullRequest
	byBranch   map[string]int
	mergeWorks bool
	merges     []int
	closes     []int
	retargets  []string
	viewErr    error
}

func (f *fakePRs) View(_ context.Context, n int) (*github.PullRequest, error) {
	if f.viewErr != nil {
		return nil, f.viewErr
	}
	pr, ok := f.prs[n]
	if !ok {
		return nil, nil
	}
	c := *pr
	return &c, nil
}

func (f *fakePRs) ForBranch(ctx context.Context, branch string) (*github.PullRequest, error) {
	n, ok := f.byBranch[branch]
	if !ok {
		return nil, nil
	}
	return f.View(ctx, n)
}

func (f *fakePRs) Merge(_ context.Context, n int) error {
	f.merges = append(f.merges, n)
	if f.mergeWorks {
		f.prs[n].State = github.StateMerged
		return nil
	}
	return errors.New("merge blocked by branch protection")
}

func (f *fakePRs) Close(_ context.Context, n int, _ string) error {
	f.closes = append(f.closes, n)
	f.prs[n].State = github.StateClosed
	return nil
}

func (f *fakePRs) EditBase(_ context.Context, n int, base string) error {
	f.retargets = append(f.retargets, base)
	f.prs[n].BaseRefName = base
	return nil
}
