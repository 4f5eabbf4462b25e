package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/taskpilot/internal/agent"
	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/internal/github"
	"github.com/ShayCichocki/taskpilot/internal/gitflow"
	"github.com/ShayCichocki/taskpilot/internal/liveness"
	"github.com/ShayCichocki/taskpilot/internal/logging"
	"github.com/ShayCichocki/taskpilot/internal/race"
	"github.com/ShayCichocki/taskpilot/internal/state"
	"github.com/ShayCichocki/taskpilot/internal/worktree"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// taskRun is one pass through the task lifecycle. Its fields are only
// touched by the goroutine running execute, or by race operations that
// have finished before execute reads them.
type taskRun struct {
	o       *Orchestrator
	slot    int
	hs      *Handshake
	id      string
	log     *logging.Logger
	journal *backlog.Journal
	cleanup finalizers
	started time.Time

	status      models.WorkerStatus
	wt          *worktree.Worktree
	task        models.Task
	claimedID   string
	hasFeedback bool
	suppressed  bool
	err         error
}

func newTaskRun(o *Orchestrator, slot int, hs *Handshake) *taskRun {
	id := uuid.NewString()[:8]
	log := o.log.WithSlot(slot).With("run", id)
	return &taskRun{
		o:       o,
		slot:    slot,
		hs:      hs,
		id:      id,
		log:     log,
		journal: backlog.NewJournal(o.source),
		cleanup: finalizers{log: log},
		started: time.Now(),
	}
}

func (r *taskRun) execute(ctx context.Context) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.log.Error("task run panicked", "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("task run panicked: %v", p)
		}
		r.finish(ctx, err)
	}()

	r.setStatus(models.Booting{})
	if err := r.boot(ctx); err != nil {
		return err
	}

	r.setStatus(models.ChoosingTask{})
	task, err := r.choose(ctx)
	if err != nil {
		return err
	}
	if err := r.claim(ctx, task); err != nil {
		return err
	}
	r.hs.Resolve(nil)

	return r.run(ctx)
}

// boot creates the run's worktree and registers the cleanup stack:
// rollback, then branch release, then worktree removal.
func (r *taskRun) boot(ctx context.Context) error {
	name := fmt.Sprintf("%s-%d-%s", strings.ReplaceAll(r.o.project.ID, "/", "-"), r.slot, r.id)
	wt, err := r.o.workspaces.Create(ctx, name, r.o.strategy.WorktreeBranch(r.slot), r.o.startPoint)
	if err != nil {
		return fmt.Errorf("create worktree: %w", err)
	}
	r.wt = wt
	r.log.Debug("worktree ready", "path", wt.Path, "branch", wt.Branch)

	r.cleanup.add("remove worktree", func(ctx context.Context) error {
		return r.o.workspaces.Remove(ctx, wt)
	})
	r.cleanup.add("release branch", r.releaseBranch)
	r.cleanup.add("rollback", r.rollback)
	return nil
}

// choose runs the selection agent and resolves its choice against the
// backlog. The agent is raced against the selection file appearing, so a
// chooser that writes its answer and lingers does not hold up the run.
func (r *taskRun) choose(ctx context.Context) (models.Task, error) {
	if err := r.o.view.Refresh(ctx); err != nil {
		return models.Task{}, err
	}
	eligible := backlog.Eligible(r.o.view.Snapshot())
	if len(eligible) == 0 {
		return models.Task{}, ErrNoMoreWork
	}
	if err := writeBacklogFile(r.wt.ControlFile(BacklogFile), eligible); err != nil {
		return models.Task{}, fmt.Errorf("write %s: %w", BacklogFile, err)
	}

	prompt := render(chooserTmpl, promptData{
		Project:       r.o.project.ID,
		RequiresPR:    r.o.strategy.RequiresPR(),
		BacklogFile:   BacklogFile,
		SelectionFile: SelectionFile,
	})
	r.log.Info("choosing task", "eligible", len(eligible))

	controlDir := r.wt.ControlDir()
	var data []byte
	err := r.supervise(ctx, r.o.agents, "chooser", prompt, r.wt.ControlFile(BacklogFile), func(ctx context.Context, inv agent.Invocation, runner AgentRunner) error {
		_, err := race.First(ctx,
			func(ctx context.Context) error {
				return runner.Run(ctx, inv)
			},
			func(ctx context.Context) error {
				d, err := liveness.WaitForFile(ctx, controlDir, SelectionFile, validSelection)
				data = d
				return err
			},
		)
		return err
	})
	if errors.Is(err, liveness.ErrStalled) {
		return models.Task{}, err
	}
	if ctx.Err() != nil {
		return models.Task{}, context.Cause(ctx)
	}
	if data == nil {
		data, _ = os.ReadFile(r.wt.ControlFile(SelectionFile))
	}

	sel, perr := parseSelection(data)
	if perr != nil {
		reason := perr.Error()
		if len(data) == 0 {
			reason = SelectionFile + " was not written"
		}
		if err != nil {
			reason += ": " + err.Error()
		}
		return models.Task{}, &SelectionError{Reason: reason}
	}
	if err != nil {
		r.log.Debug("chooser exited with an error after writing its choice", "error", err)
	}
	if sel.ID == "" {
		r.log.Info("chooser found nothing to work on")
		return models.Task{}, ErrNoMoreWork
	}
	return r.resolve(ctx, sel)
}

func validSelection(data []byte) bool {
	_, err := parseSelection(data)
	return err == nil
}

// resolve looks the chosen id up in the backlog and applies the
// selection's speculative changes through the journal.
func (r *taskRun) resolve(ctx context.Context, sel selection) (models.Task, error) {
	task, err := r.o.source.Get(ctx, sel.ID)
	if errors.Is(err, backlog.ErrTaskNotFound) {
		return models.Task{}, &SelectionError{TaskID: sel.ID, Reason: "unknown to the backlog"}
	}
	if err != nil {
		return models.Task{}, fmt.Errorf("look up chosen task %s: %w", sel.ID, err)
	}
	switch {
	case len(task.BlockedBy) > 0:
		return models.Task{}, &SelectionError{TaskID: task.ID, Reason: "blocked by " + strings.Join(task.BlockedBy, ", ")}
	case task.State != models.TaskStateTodo:
		return models.Task{}, &SelectionError{TaskID: task.ID, Reason: "task is " + string(task.State)}
	case task.Unmergable:
		return models.Task{}, &SelectionError{TaskID: task.ID, Reason: "task is flagged unmergable"}
	}

	if sel.PRNumber != nil && (task.PRNumber == nil || *task.PRNumber != *sel.PRNumber) {
		if err := r.journal.Update(ctx, task.ID, backlog.Update{PRNumber: sel.PRNumber}); err != nil {
			return models.Task{}, fmt.Errorf("record PR #%d on %s: %w", *sel.PRNumber, task.ID, err)
		}
		task.PRNumber = sel.PRNumber
	}
	return task, nil
}

// claim moves the task to in-progress and waits for the view to confirm
// it. A confirmation that does not arrive in time is a stall.
func (r *taskRun) claim(ctx context.Context, task models.Task) error {
	timeout := r.o.policy.Claim.Timeout
	ctx, cancel := context.WithTimeoutCause(ctx, timeout, &liveness.StallError{Phase: "claim", Timeout: timeout})
	defer cancel()

	r.log = r.log.WithTask(task.ID)
	err := backlog.Claim(ctx, r.o.source, r.o.view, task.ID)
	var ce *backlog.ClaimError
	if !errors.As(err, &ce) {
		r.claimedID = task.ID
	}
	if err != nil {
		return err
	}
	r.journal.Commit()

	task.State = models.TaskStateInProgress
	r.task = task
	r.log.Info("claimed task", "title", task.Title)
	return nil
}

// run executes the claimed task, racing it against the state watcher.
func (r *taskRun) run(ctx context.Context) error {
	watcher := NewStateWatcher(r.o.view, r.task.ID)
	idx, err := race.First(ctx,
		func(ctx context.Context) error { return r.perform(ctx, watcher) },
		watcher.Watch,
	)
	if idx == 1 && errors.Is(err, ErrTaskStateChanged) {
		r.suppressed = true
		r.log.Warn("task changed outside this run, stopping", "reason", err)
	}
	return err
}

func (r *taskRun) perform(ctx context.Context, watcher *StateWatcher) error {
	if err := r.prepare(ctx); err != nil {
		return err
	}

	in := gitflow.Instructions{Task: r.task, Branch: r.wt.Branch, TargetBranch: r.o.project.TargetBranch}
	data := newPromptData(r.o.project.ID, r.task, r.o.strategy, in)
	data.SpecsDir = r.o.specsDir
	data.HasFeedback = r.hasFeedback
	if err := os.WriteFile(r.wt.ControlFile(InstructionsFile), []byte(render(instructionsTmpl, data)), 0644); err != nil {
		return fmt.Errorf("write %s: %w", InstructionsFile, err)
	}
	instructions := r.wt.ControlFile(InstructionsFile)

	r.setStatus(models.Working{TaskID: r.task.ID})
	err := liveness.WithRunTimeout(ctx, r.o.liveness.RunTimeout,
		func(ctx context.Context) error {
			if err := r.supervise(ctx, r.o.agents, "worker", render(workerTmpl, data), instructions, nil); err != nil {
				return err
			}
			if !r.o.project.ReviewAgent {
				return nil
			}
			r.setStatus(models.Reviewing{TaskID: r.task.ID})
			return r.supervise(ctx, r.o.reviewer, "reviewer", render(reviewerTmpl, data), instructions, nil)
		},
		func(ctx context.Context) error {
			r.log.Warn("run timeout reached, running timeout agent", "timeout", r.o.liveness.RunTimeout)
			return r.supervise(ctx, r.o.agents, "timeout", render(timeoutTmpl, data), instructions, nil)
		},
	)
	if err != nil {
		return err
	}

	r.setStatus(models.Merging{TaskID: r.task.ID})
	return r.integrate(ctx, watcher)
}

// prepare checks out an existing PR and writes its review feedback for
// the worker.
func (r *taskRun) prepare(ctx context.Context) error {
	if !r.o.strategy.RequiresPR() || r.task.PRNumber == nil {
		return nil
	}
	n := *r.task.PRNumber
	host := r.o.prs(r.wt.Path)
	if err := host.Checkout(ctx, n); err != nil {
		return fmt.Errorf("check out PR #%d: %w", n, err)
	}

	pr, err := host.View(ctx, n)
	if err != nil {
		r.log.Warn("could not read PR", "pr", n, "error", err)
	}
	comments, err := host.ReviewComments(ctx, n)
	if err != nil {
		r.log.Warn("could not fetch review feedback", "pr", n, "error", err)
		return nil
	}
	if err := os.WriteFile(r.wt.ControlFile(FeedbackFile), []byte(github.FormatFeedback(pr, comments)), 0644); err != nil {
		return fmt.Errorf("write %s: %w", FeedbackFile, err)
	}
	r.hasFeedback = true
	r.log.Info("resuming PR", "pr", n, "comments", len(comments))
	return nil
}

// integrate lands the work and reconciles the task's final state. A task
// the agents left in todo or in-progress is incomplete and is rolled back,
// even when it asks for auto-merge.
func (r *taskRun) integrate(ctx context.Context, watcher *StateWatcher) error {
	wc := gitflow.WorkContext{
		Git:          r.wt.Git(),
		Source:       r.o.source,
		Task:         r.task,
		TargetBranch: r.o.project.TargetBranch,
		Log:          r.log,
	}
	if r.o.prs != nil {
		wc.PRs = r.o.prs(r.wt.Path)
	}
	if err := r.o.strategy.PostWork(ctx, wc); err != nil {
		return err
	}

	task, err := r.o.source.Get(ctx, r.task.ID)
	if err != nil {
		return fmt.Errorf("re-read task: %w", err)
	}
	if task.State == models.TaskStateTodo || task.State == models.TaskStateInProgress {
		return fmt.Errorf("task %s is still %s after work: %w", task.ID, task.State, ErrWorkIncomplete)
	}
	if !task.AutoMerge {
		return nil
	}

	watcher.Disarm()
	wc.Task = task
	if err := r.o.strategy.AutoMerge(ctx, wc); err != nil {
		return err
	}
	r.log.Info("task auto-merged")
	return nil
}

// supervise runs one agent under the stall timeout. do defaults to a plain
// runner.Run.
func (r *taskRun) supervise(ctx context.Context, runner AgentRunner, role, prompt, taskFile string, do func(context.Context, agent.Invocation, AgentRunner) error) error {
	if do == nil {
		do = func(ctx context.Context, inv agent.Invocation, runner AgentRunner) error {
			return runner.Run(ctx, inv)
		}
	}
	return liveness.Supervise(ctx, r.o.liveness.StallTimeout, role, func(ctx context.Context, beat liveness.Beat) error {
		return do(ctx, agent.Invocation{
			Role:       role,
			Dir:        r.wt.Path,
			Prompt:     prompt,
			TaskFile:   taskFile,
			OnActivity: beat,
			Output:     r.o.output,
			Env:        r.o.env,
		}, runner)
	}, liveness.WatchDir(r.wt.ControlDir()))
}

// finish runs cleanup, resolves the handshake if selection never did, and
// reports the exit.
func (r *taskRun) finish(ctx context.Context, err error) {
	r.err = err
	outcome := outcomeOf(err)
	switch outcome {
	case models.OutcomeSucceeded:
		r.log.Info("task run finished", "duration", time.Since(r.started).Round(time.Second))
	case models.OutcomeNoWork:
		r.log.Debug("task run found no work")
	case models.OutcomeStateChanged:
		r.log.Info("task run stopped by backlog change")
	default:
		r.log.Error("task run failed", "outcome", outcome, "error", err)
	}

	r.cleanup.run(ctx)
	r.hs.Resolve(err)
	r.setStatus(models.Exited{TaskID: r.claimedID, Outcome: outcome})
	r.record(ctx, outcome, err)
}

// rollback undoes the run's backlog changes after a failure, unless the
// backlog itself moved the task.
func (r *taskRun) rollback(ctx context.Context) error {
	if r.err == nil || r.suppressed {
		return nil
	}
	if r.claimedID != "" {
		r.log.Info("reverting task to todo")
		return r.o.source.Update(ctx, r.claimedID, backlog.SetState(models.TaskStateTodo))
	}
	if n := r.journal.Len(); n > 0 {
		r.log.Info("reverting selection changes", "changes", n)
		return r.journal.Revert(ctx)
	}
	return nil
}

// releaseBranch detaches the worktree and deletes the branch the run
// worked on.
func (r *taskRun) releaseBranch(ctx context.Context) error {
	g := r.wt.Git()
	branch := r.wt.Branch
	if branch == "" {
		if cur, err := g.CurrentBranch(ctx); err == nil && cur != "HEAD" {
			branch = cur
		}
	}
	if err := g.DetachHead(ctx); err != nil {
		return fmt.Errorf("detach head: %w", err)
	}
	if branch == "" {
		return nil
	}
	// The agent may already have deleted or renamed it.
	exists, err := g.BranchExists(ctx, branch)
	if err != nil {
		return err
	}
	if !exists {
		r.log.Debug("branch already gone", "branch", branch)
		return nil
	}
	if err := g.DeleteBranch(ctx, branch); err != nil {
		return fmt.Errorf("delete branch %s: %w", branch, err)
	}
	return nil
}

func (r *taskRun) record(ctx context.Context, outcome models.Outcome, err error) {
	if r.o.runs == nil || outcome == models.OutcomeNoWork {
		return
	}
	run := state.Run{
		ID:         r.id,
		Project:    r.o.project.ID,
		Slot:       r.slot,
		TaskID:     r.claimedID,
		Outcome:    outcome,
		StartedAt:  r.started,
		FinishedAt: time.Now(),
	}
	if err != nil {
		run.Error = err.Error()
	}
	if err := r.o.runs.RecordRun(context.WithoutCancel(ctx), run); err != nil {
		r.log.Warn("failed to record run", "error", err)
	}
}

// setStatus emits a worker state change. Transitions that would move the
// worker backwards are dropped.
func (r *taskRun) setStatus(next models.WorkerStatus) {
	if !models.CanTransition(r.status, next) {
		r.log.Warn("dropping invalid worker transition", "from", models.DescribeStatus(r.status), "to", models.DescribeStatus(next))
		return
	}
	r.status = next
	r.log.Debug("worker status", "status", models.DescribeStatus(next))
	if r.o.onStatus != nil {
		r.o.onStatus(models.WorkerState{Slot: r.slot, Project: r.o.project.ID, Status: next})
	}
}
