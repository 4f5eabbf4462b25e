package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/ShayCichocki/taskpilot/internal/agent"
	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/internal/config"
	"github.com/ShayCichocki/taskpilot/internal/exec"
	"github.com/ShayCichocki/taskpilot/internal/git"
	"github.com/ShayCichocki/taskpilot/internal/gitflow"
	"github.com/ShayCichocki/taskpilot/internal/github"
	"github.com/ShayCichocki/taskpilot/internal/logging"
	"github.com/ShayCichocki/taskpilot/internal/orchestrator"
	"github.com/ShayCichocki/taskpilot/internal/signals"
	"github.com/ShayCichocki/taskpilot/internal/state"
	"github.com/ShayCichocki/taskpilot/internal/tui"
	"github.com/ShayCichocki/taskpilot/internal/version"
	"github.com/ShayCichocki/taskpilot/internal/worktree"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

var (
	runIterations   int
	runMaxMinutes   int
	runStallMinutes int
	runSpecs        string
	runProject      string
	runBoard        time.Duration
	runVerbose      bool
)

// errInterrupted is the cancellation cause of a second interrupt.
var errInterrupted = errors.New("interrupted")

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Work the backlog with coding agents",
	Long: `Work the backlog of every enabled project.

Each iteration boots a worktree, lets a chooser agent pick an eligible
task, claims it and runs a worker agent on it. Selection is serialized per
project; up to 'concurrency' tasks execute at once.

The first interrupt (or 'taskpilot quit') stops new iterations and waits
for running tasks. A second interrupt cancels them; their tasks are
returned to todo.

Examples:
  taskpilot run                  # Work until the backlog is empty or quit
  taskpilot run -i 5             # Stop after five iterations per project
  taskpilot run --project web    # Only work the web project
  taskpilot run --board 30s      # Print the worker board every 30 seconds`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().IntVarP(&runIterations, "iterations", "i", 0, "Iterations per project (0 = until empty or quit)")
	runCmd.Flags().IntVar(&runMaxMinutes, "max-minutes", 0, "Cap on a task's work and review phase (overrides config)")
	runCmd.Flags().IntVar(&runStallMinutes, "stall-minutes", 0, "Kill agents silent for this long (overrides config)")
	runCmd.Flags().StringVar(&runSpecs, "specs", "", "Specifications directory shown to agents (overrides config)")
	runCmd.Flags().StringVar(&runProject, "project", "", "Only work this project")
	runCmd.Flags().DurationVar(&runBoard, "board", 0, "Print the worker board at this interval")
	runCmd.Flags().BoolVarP(&runVerbose, "verbose", "v", false, "Stream agent output and log at debug level")
}

// runEnv holds what every project loop shares.
type runEnv struct {
	cfg       *config.Config
	root      string
	dbPath    string
	db        *state.DB
	cmd       exec.CommandRunner
	worktrees *worktree.Manager
	worker    orchestrator.AgentRunner
	reviewer  orchestrator.AgentRunner
	quit      *signals.Quit
	board     *tui.Board
	log       *logging.Logger
	namespace bool
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("max-minutes") {
		cfg.Run.MaxMinutes = runMaxMinutes
	}
	if cmd.Flags().Changed("stall-minutes") {
		cfg.Run.StallMinutes = runStallMinutes
	}
	if runSpecs != "" {
		cfg.Run.SpecsDir = runSpecs
	}
	if runIterations < 0 {
		return fmt.Errorf("--iterations must not be negative, got %d", runIterations)
	}

	projects := selectProjects(cfg.EnabledProjects(), runProject)
	if len(projects) == 0 {
		if runProject != "" {
			return fmt.Errorf("project %q is not configured or not enabled", runProject)
		}
		printStatus("!", "No enabled projects. Add one under 'projects:' in "+config.ProjectConfigName, color.FgYellow)
		return nil
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	root, err := repoRoot(ctx)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	level := cfg.Run.LogLevel
	if runVerbose {
		level = "debug"
	}
	log, err := logging.NewFile(filepath.Join(root, worktree.ControlDirName, "logs"), os.Stderr, level)
	if err != nil {
		return err
	}
	defer log.Close()
	log.Info("starting", "version", version.Get(), "repo", root, "projects", len(projects))

	env := &runEnv{
		cfg:       cfg,
		root:      root,
		dbPath:    backlogPath(cfg, root),
		cmd:       exec.NewRunner("GIT_TERMINAL_PROMPT=0", "GH_PROMPT_DISABLED=1"),
		board:     tui.NewBoard(),
		log:       log,
		namespace: len(cfg.Projects) > 1,
	}
	if env.worker, env.reviewer, err = buildAgents(cfg, log); err != nil {
		return err
	}

	env.db, err = openBacklog(cfg, root)
	if err != nil {
		return err
	}
	defer env.db.Close()

	env.worktrees, err = worktree.NewManager(cfg.Worktrees.BaseDir, root, env.cmd)
	if err != nil {
		return err
	}
	if n, err := env.worktrees.CleanupOrphans(ctx, nil, nil); err != nil {
		log.Warn("orphan worktree cleanup failed", "error", err)
	} else if n > 0 {
		printStatus("✓", fmt.Sprintf("Removed %d orphaned worktree(s)", n), color.FgGreen)
	}

	if err := signals.Clear(root); err != nil {
		log.Warn("clear stale quit signal", "error", err)
	}
	env.quit, err = signals.WatchQuit(ctx, root, log)
	if err != nil {
		return fmt.Errorf("watch quit signal: %w", err)
	}

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nStopping after running tasks finish. Interrupt again to cancel them.")
		env.quit.Trigger()
		select {
		case <-sigCh:
			fmt.Println("\nCancelling running tasks...")
			cancel(errInterrupted)
		case <-ctx.Done():
		}
	}()

	if runBoard > 0 {
		go printBoard(ctx, env.board, runBoard)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, p := range projects {
		g.Go(func() error {
			return runProjectLoop(gctx, env, p)
		})
	}
	err = g.Wait()

	fmt.Println(env.board.Render())
	if errors.Is(err, errInterrupted) {
		printStatus("!", "Interrupted; cancelled tasks were returned to the backlog", color.FgYellow)
		return nil
	}
	return err
}

func selectProjects(enabled []models.Project, only string) []models.Project {
	if only == "" {
		return enabled
	}
	for _, p := range enabled {
		if p.ID == only {
			return []models.Project{p}
		}
	}
	return nil
}

// buildAgents resolves the worker agent and, when configured, a distinct
// reviewer.
func buildAgents(cfg *config.Config, log *logging.Logger) (worker, reviewer orchestrator.AgentRunner, err error) {
	a, err := agent.Lookup(cfg.Agent.Name, cfg.Agent.Command, cfg.Agent.PlanCommand)
	if err != nil {
		return nil, nil, err
	}
	worker = agent.NewRunner(a, log)
	if cfg.Agent.Reviewer == "" || cfg.Agent.Reviewer == a.Name() {
		return worker, worker, nil
	}
	r, err := agent.Lookup(cfg.Agent.Reviewer, "", "")
	if err != nil {
		return nil, nil, fmt.Errorf("reviewer: %w", err)
	}
	return worker, agent.NewRunner(r, log), nil
}

// runProjectLoop schedules one project until its budget is spent, quit is
// requested or ctx ends.
func runProjectLoop(ctx context.Context, env *runEnv, project models.Project) error {
	log := env.log.WithProject(project.ID)

	source := env.db.Project(project.ID)
	view := backlog.NewView(source, env.cfg.Backlog.PollInterval, log)
	viewCtx, stopView := context.WithCancel(ctx)
	viewDone := make(chan struct{})
	go func() {
		defer close(viewDone)
		_ = view.Run(viewCtx)
	}()
	defer func() {
		stopView()
		<-viewDone
	}()

	if project.TargetBranch == "" && project.GitFlow == models.GitFlowCommit {
		branch, err := git.NewRunner(env.root, env.cmd).CurrentBranch(ctx)
		if err != nil {
			return fmt.Errorf("project %s: resolve target branch: %w", project.ID, err)
		}
		project.TargetBranch = branch
	}

	opts := gitflow.Options{MergeSettle: env.cfg.Scheduling.MergeSettle}
	if env.namespace {
		opts.Project = project.ID
	}
	strategy, err := gitflow.New(project.GitFlow, opts)
	if err != nil {
		return fmt.Errorf("project %s: %w", project.ID, err)
	}

	options := []orchestrator.Option{
		orchestrator.WithLiveness(env.cfg.Liveness()),
		orchestrator.WithPolicy(env.cfg.Policy()),
		orchestrator.WithReviewer(env.reviewer),
		orchestrator.WithRunRecorder(env.db),
		orchestrator.WithSpecsDir(env.cfg.Run.SpecsDir),
		orchestrator.WithAgentEnv(agentEnv(project, env.dbPath)...),
		orchestrator.WithStatusListener(func(s models.WorkerState) {
			env.board.Update(s)
			printWorkerState(s)
		}),
		orchestrator.WithLogger(log),
		orchestrator.WithPRHosts(func(dir string) orchestrator.PRHost {
			return github.NewClient(dir, env.cmd)
		}),
	}
	if project.TargetBranch != "" {
		options = append(options, orchestrator.WithStartPoint(project.TargetBranch))
	}
	if runVerbose {
		options = append(options, orchestrator.WithAgentOutput(os.Stdout))
	}

	o, err := orchestrator.New(orchestrator.RequiredConfig{
		Project:    project,
		Source:     backlog.NewNotifying(source, view),
		View:       view,
		Agents:     env.worker,
		Workspaces: env.worktrees,
		Strategy:   strategy,
	}, options...)
	if err != nil {
		return fmt.Errorf("project %s: %w", project.ID, err)
	}

	sched, err := orchestrator.NewScheduler(orchestrator.SchedulerConfig{
		Project:       project.ID,
		Concurrency:   project.Concurrency,
		MaxIterations: runIterations,
		Policy:        env.cfg.Policy(),
	}, o, view, env.quit, log)
	if err != nil {
		return fmt.Errorf("project %s: %w", project.ID, err)
	}

	printStatus("▶", fmt.Sprintf("%s: %s flow, concurrency %d", project.ID, project.GitFlow, project.Concurrency), color.FgCyan)
	summary, err := sched.Run(ctx)
	printStatus("■", fmt.Sprintf("%s: %d run(s), %d failed", project.ID, summary.Dispatched, summary.Failed), color.FgCyan)
	return err
}

func printWorkerState(s models.WorkerState) {
	msg := fmt.Sprintf("[%s #%d] %s", s.Project, s.Slot, models.DescribeStatus(s.Status))
	exited, ok := s.Status.(models.Exited)
	switch {
	case !ok:
		printStatus("•", msg, color.FgBlue)
	case exited.Outcome == models.OutcomeSucceeded:
		printStatus("✓", msg, color.FgGreen)
	case exited.Outcome == models.OutcomeNoWork:
		printStatus("-", msg, color.FgYellow)
	default:
		printStatus("✗", msg, color.FgRed)
	}
}

func printBoard(ctx context.Context, board *tui.Board, every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fmt.Println(board.Render())
		}
	}
}
