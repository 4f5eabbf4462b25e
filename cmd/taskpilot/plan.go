package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskpilot/internal/agent"
	"github.com/ShayCichocki/taskpilot/internal/logging"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

var planProject string

var planCmd = &cobra.Command{
	Use:   "plan [goal...]",
	Short: "Plan backlog tasks with an interactive agent session",
	Long: `Start the configured agent interactively in the repository root to
break a goal, or the project specifications, into backlog tasks.

The agent adds tasks with 'taskpilot task add'.`,
	RunE: runPlan,
}

func init() {
	planCmd.Flags().StringVarP(&planProject, "project", "p", "", "Project the tasks belong to")
}

func runPlan(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	root, err := repoRoot(ctx)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}
	db, err := openBacklog(cfg, root)
	if err != nil {
		return err
	}
	project, err := resolveProject(ctx, planProject, cfg, db)
	db.Close()
	if err != nil {
		return err
	}

	a, err := agent.Lookup(cfg.Agent.Name, cfg.Agent.Command, cfg.Agent.PlanCommand)
	if err != nil {
		return err
	}
	runner := agent.NewRunner(a, logging.New(os.Stderr, cfg.Run.LogLevel))
	return runner.RunPlan(ctx, agent.Invocation{
		Role:   "planner",
		Dir:    root,
		Prompt: planPrompt(project, cfg.Run.SpecsDir, strings.Join(args, " ")),
		Env:    agentEnv(models.Project{ID: project}, backlogPath(cfg, root)),
	})
}

func planPrompt(project, specsDir, goal string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are planning work for the %q backlog of this repository.\n\n", project)
	if goal != "" {
		fmt.Fprintf(&b, "Goal: %s\n\n", goal)
	} else {
		fmt.Fprintf(&b, "Read the specifications in %s and compare them with the code.\n\n", specsDir)
	}
	b.WriteString(`Review the current backlog with 'taskpilot task list --all' first so you do
not duplicate tasks. Then discuss the plan with me and, once agreed, add each
task with:

    taskpilot task add "<title>" --description "<what and how to verify>" [--priority N] [--blocked-by T-1,T-2]

Keep tasks small enough for one agent session. Do not write code.
`)
	return b.String()
}
