package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/taskpilot/internal/agent"
	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/internal/github"
	"github.com/ShayCichocki/taskpilot/internal/gitflow"
	"github.com/ShayCichocki/taskpilot/internal/orchestrator/policy"
	"github.com/ShayCichocki/taskpilot/internal/state"
	"github.com/ShayCichocki/taskpilot/internal/worktree"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

func testPolicy() *policy.Config {
	return &policy.Config{
		Scheduling: policy.SchedulingPolicy{Backoff: 20 * time.Millisecond, Cooldown: 10 * time.Millisecond},
		Claim:      policy.ClaimPolicy{Timeout: 2 * time.Second},
		Merge:      policy.MergePolicy{Settle: 10 * time.Millisecond},
	}
}

type agentFunc func(ctx context.Context, inv agent.Invocation) error

// fakeAgents dispatches invocations to a handler per role.
type fakeAgents struct {
	mu       sync.Mutex
	handlers map[string]agentFunc
	calls    map[string]int
}

func newFakeAgents() *fakeAgents {
	return &fakeAgents{handlers: map[string]agentFunc{}, calls: map[string]int{}}
}

func (f *fakeAgents) on(role string, fn agentFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[role] = fn
}

func (f *fakeAgents) count(role string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[role]
}

func (f *fakeAgents) Run(ctx context.Context, inv agent.Invocation) error {
	f.mu.Lock()
	f.calls[inv.Role]++
	fn := f.handlers[inv.Role]
	f.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(ctx, inv)
}

func controlFile(inv agent.Invocation, name string) string {
	return filepath.Join(inv.Dir, worktree.ControlDirName, name)
}

// writeSelection publishes the chooser's answer atomically.
func writeSelection(inv agent.Invocation, content string) error {
	tmp := controlFile(inv, ".selection.tmp")
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return err
	}
	return os.Rename(tmp, controlFile(inv, SelectionFile))
}

// chooseFirst picks the first task of the backlog file.
func chooseFirst(_ context.Context, inv agent.Invocation) error {
	data, err := os.ReadFile(controlFile(inv, BacklogFile))
	if err != nil {
		return err
	}
	var file struct {
		Tasks []backlogEntry `yaml:"tasks"`
	}
	if err := yaml.Unmarshal(data, &file); err != nil {
		return err
	}
	if len(file.Tasks) == 0 {
		return writeSelection(inv, `{"id": ""}`)
	}
	return writeSelection(inv, fmt.Sprintf(`{"id": %q}`, file.Tasks[0].ID))
}

func chooseRaw(content string) agentFunc {
	return func(_ context.Context, inv agent.Invocation) error {
		return writeSelection(inv, content)
	}
}

func selectedID(inv agent.Invocation) (string, error) {
	data, err := os.ReadFile(controlFile(inv, SelectionFile))
	if err != nil {
		return "", err
	}
	sel, err := parseSelection(data)
	return sel.ID, err
}

// blockUntilDone simulates an agent that never finishes on its own.
func blockUntilDone(ctx context.Context, _ agent.Invocation) error {
	<-ctx.Done()
	return context.Cause(ctx)
}

// okCommands succeeds at every command with no output.
type okCommands struct{}

func (okCommands) Run(context.Context, string, string, ...string) ([]byte, error) { return nil, nil }

type fakeWorkspaces struct {
	base string

	mu      sync.Mutex
	created []string
	removed []string
}

func (f *fakeWorkspaces) Create(_ context.Context, name, branch, _ string) (*worktree.Worktree, error) {
	dir := filepath.Join(f.base, name)
	if err := os.MkdirAll(filepath.Join(dir, worktree.ControlDirName), 0755); err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.created = append(f.created, name)
	f.mu.Unlock()
	return worktree.Open(dir, branch, okCommands{}), nil
}

func (f *fakeWorkspaces) Remove(_ context.Context, wt *worktree.Worktree) error {
	f.mu.Lock()
	f.removed = append(f.removed, wt.Path)
	f.mu.Unlock()
	return os.RemoveAll(wt.Path)
}

func (f *fakeWorkspaces) counts() (created, removed int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.created), len(f.removed)
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []state.Run
}

func (f *fakeRecorder) RecordRun(_ context.Context, r state.Run) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, r)
	return nil
}

func (f *fakeRecorder) all() []state.Run {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]state.Run(nil), f.runs...)
}

type stateLog struct {
	mu     sync.Mutex
	states []models.WorkerState
}

func (l *stateLog) record(s models.WorkerState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) described(slot int) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, s := range l.states {
		if s.Slot == slot {
			out = append(out, models.DescribeStatus(s.Status))
		}
	}
	return out
}

// fakePRHost serves one pull request.
type fakePRHost struct {
	mu        sync.Mutex
	pr        github.PullRequest
	comments  []github.Comment
	checkouts []int
}

func (f *fakePRHost) View(_ context.Context, number int) (*github.PullRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if number != f.pr.Number {
		return nil, errors.New("no such pull request")
	}
	pr := f.pr
	return &pr, nil
}

func (f *fakePRHost) ForBranch(context.Context, string) (*github.PullRequest, error) {
	return nil, gitflow.ErrNoOpenPR
}

func (f *fakePRHost) Merge(context.Context, int) error { return nil }

func (f *fakePRHost) Close(context.Context, int, string) error { return nil }

func (f *fakePRHost) EditBase(context.Context, int, string) error { return nil }

func (f *fakePRHost) Checkout(_ context.Context, number int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkouts = append(f.checkouts, number)
	return nil
}

func (f *fakePRHost) ReviewComments(context.Context, int) ([]github.Comment, error) {
	return f.comments, nil
}

// rejectClaims fails every move to in-progress.
type rejectClaims struct {
	backlog.IssueSource
}

func (r rejectClaims) Update(ctx context.Context, id string, u backlog.Update) error {
	if u.State != nil && *u.State == models.TaskStateInProgress {
		return errors.New("backlog is read-only")
	}
	return r.IssueSource.Update(ctx, id, u)
}

type harness struct {
	mem    *backlog.Memory
	view   *backlog.View
	source backlog.IssueSource
	agents *fakeAgents
	ws     *fakeWorkspaces
	runs   *fakeRecorder
	states *stateLog
}

// newHarness builds a backlog of tasks whose chooser picks the first
// eligible task and whose worker moves it to review.
func newHarness(t *testing.T, tasks ...models.Task) *harness {
	t.Helper()
	mem := backlog.NewMemory("test", tasks...)
	view := startView(t, mem)
	h := &harness{
		mem:    mem,
		view:   view,
		source: backlog.NewNotifying(mem, view),
		agents: newFakeAgents(),
		ws:     &fakeWorkspaces{base: t.TempDir()},
		runs:   &fakeRecorder{},
		states: &stateLog{},
	}
	h.agents.on("chooser", chooseFirst)
	h.agents.on("worker", h.finishTask)
	return h
}

func (h *harness) finishTask(ctx context.Context, inv agent.Invocation) error {
	id, err := selectedID(inv)
	if err != nil {
		return err
	}
	return h.source.Update(ctx, id, backlog.SetState(models.TaskStateInReview))
}

func (h *harness) orchestrator(t *testing.T, project models.Project, opts ...Option) *Orchestrator {
	t.Helper()
	if project.ID == "" {
		project.ID = "web"
	}
	var strategy gitflow.Strategy = &gitflow.Commit{}
	if project.GitFlow == models.GitFlowPR {
		strategy = &gitflow.PR{MergeSettle: 10 * time.Millisecond}
	}
	base := []Option{
		WithLiveness(models.LivenessPolicy{StallTimeout: 2 * time.Second}),
		WithPolicy(testPolicy()),
		WithRunRecorder(h.runs),
		WithStatusListener(h.states.record),
	}
	o, err := New(RequiredConfig{
		Project:    project,
		Source:     h.source,
		View:       h.view,
		Agents:     h.agents,
		Workspaces: h.ws,
		Strategy:   strategy,
	}, append(base, opts...)...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func (h *harness) task(t *testing.T, id string) models.Task {
	t.Helper()
	task, err := h.mem.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s) error = %v", id, err)
	}
	return task
}

func statesEqual(got []models.TaskState, want ...models.TaskState) bool {
	if len(got) != len(want) {
		return false
	}
	for i := range want {
		if got[i] != want[i] {
			return false
		}
	}
	return true
}
