package orchestrator

import (
	"context"
	"errors"
	"io"

	"github.com/ShayCichocki/taskpilot/internal/agent"
	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/internal/github"
	"github.com/ShayCichocki/taskpilot/internal/gitflow"
	"github.com/ShayCichocki/taskpilot/internal/liveness"
	"github.com/ShayCichocki/taskpilot/internal/logging"
	"github.com/ShayCichocki/taskpilot/internal/orchestrator/policy"
	"github.com/ShayCichocki/taskpilot/internal/state"
	"github.com/ShayCichocki/taskpilot/internal/worktree"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// AgentRunner spawns one agent invocation and waits for it.
// *agent.Runner implements it.
type AgentRunner interface {
	Run(ctx context.Context, inv agent.Invocation) error
}

// WorkspaceProvider creates and removes the isolated worktrees runs work
// in. *worktree.Manager implements it.
type WorkspaceProvider interface {
	Create(ctx context.Context, name, branch, startPoint string) (*worktree.Worktree, error)
	Remove(ctx context.Context, wt *worktree.Worktree) error
}

// PRHost is the pull request host bound to one worktree.
// *github.Client implements it.
type PRHost interface {
	gitflow.PRService
	Checkout(ctx context.Context, number int) error
	ReviewComments(ctx context.Context, number int) ([]github.Comment, error)
}

// PRHostFactory returns a PRHost operating in dir.
type PRHostFactory func(dir string) PRHost

// RunRecorder stores finished runs. *state.DB implements it.
type RunRecorder interface {
	RecordRun(ctx context.Context, r state.Run) error
}

// RequiredConfig contains the collaborators every Orchestrator needs.
type RequiredConfig struct {
	// Project is the project whose backlog is worked.
	Project models.Project
	// Source is the backlog. Mutations must become visible in View.
	Source backlog.IssueSource
	// View is the live read model of Source.
	View *backlog.View
	// Agents runs the chooser, worker and timeout agents.
	Agents AgentRunner
	// Workspaces provides per-run worktrees.
	Workspaces WorkspaceProvider
	// Strategy integrates finished work.
	Strategy gitflow.Strategy
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLiveness sets the stall and run timeouts.
func WithLiveness(p models.LivenessPolicy) Option {
	return func(o *Orchestrator) { o.liveness = p }
}

// WithPolicy sets the timing policy.
func WithPolicy(p *policy.Config) Option {
	return func(o *Orchestrator) { o.policy = p }
}

// WithReviewer sets the agent used for the review phase. Defaults to the
// worker agent.
func WithReviewer(r AgentRunner) Option {
	return func(o *Orchestrator) { o.reviewer = r }
}

// WithPRHosts sets the pull request host factory for the PR flow.
func WithPRHosts(f PRHostFactory) Option {
	return func(o *Orchestrator) { o.prs = f }
}

// WithRunRecorder records every finished run.
func WithRunRecorder(r RunRecorder) Option {
	return func(o *Orchestrator) { o.runs = r }
}

// WithSpecsDir points agents at the project's specifications.
func WithSpecsDir(dir string) Option {
	return func(o *Orchestrator) { o.specsDir = dir }
}

// WithStartPoint sets the commit new worktrees start from.
func WithStartPoint(ref string) Option {
	return func(o *Orchestrator) { o.startPoint = ref }
}

// WithAgentOutput copies agent output to w.
func WithAgentOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.output = w }
}

// WithAgentEnv adds environment variables to every agent process.
func WithAgentEnv(env ...string) Option {
	return func(o *Orchestrator) { o.env = append(o.env, env...) }
}

// WithStatusListener is called with every worker state change.
func WithStatusListener(fn func(models.WorkerState)) Option {
	return func(o *Orchestrator) { o.onStatus = fn }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(o *Orchestrator) { o.log = l }
}

// Orchestrator drives single task runs for one project.
type Orchestrator struct {
	project    models.Project
	source     backlog.IssueSource
	view       *backlog.View
	agents     AgentRunner
	reviewer   AgentRunner
	workspaces WorkspaceProvider
	strategy   gitflow.Strategy
	prs        PRHostFactory
	runs       RunRecorder

	liveness   models.LivenessPolicy
	policy     *policy.Config
	specsDir   string
	startPoint string
	output     io.Writer
	env        []string
	onStatus   func(models.WorkerState)
	log        *logging.Logger
}

// New creates an Orchestrator.
func New(req RequiredConfig, opts ...Option) (*Orchestrator, error) {
	if req.Source == nil || req.View == nil || req.Agents == nil || req.Workspaces == nil || req.Strategy == nil {
		return nil, errors.New("orchestrator: source, view, agents, workspaces and strategy are required")
	}
	o := &Orchestrator{
		project:    req.Project,
		source:     req.Source,
		view:       req.View,
		agents:     req.Agents,
		workspaces: req.Workspaces,
		strategy:   req.Strategy,
		liveness:   models.PolicyFromMinutes(5, 90),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.reviewer == nil {
		o.reviewer = o.agents
	}
	if o.policy == nil {
		o.policy = policy.Default()
	}
	if err := o.policy.Validate(); err != nil {
		return nil, err
	}
	if o.log == nil {
		o.log = logging.Nop()
	}
	if o.strategy.RequiresPR() && o.prs == nil {
		return nil, errors.New("orchestrator: the pr git flow needs a PR host")
	}
	return o, nil
}

// RunTask runs one task lifecycle for iteration slot and resolves hs once
// selection has finished, successfully or not. It always resolves hs
// before returning.
func (o *Orchestrator) RunTask(ctx context.Context, slot int, hs *Handshake) error {
	r := newTaskRun(o, slot, hs)
	return r.execute(ctx)
}

// outcomeOf classifies a run's error.
func outcomeOf(err error) models.Outcome {
	switch {
	case err == nil:
		return models.OutcomeSucceeded
	case errors.Is(err, ErrNoMoreWork):
		return models.OutcomeNoWork
	case errors.Is(err, ErrTaskStateChanged):
		return models.OutcomeStateChanged
	case errors.Is(err, liveness.ErrRunTimeout):
		return models.OutcomeTimedOut
	case errors.Is(err, liveness.ErrStalled):
		return models.OutcomeStalled
	default:
		return models.OutcomeFailed
	}
}
