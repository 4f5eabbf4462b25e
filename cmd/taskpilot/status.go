package main

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskpilot/internal/signals"
	"github.com/ShayCichocki/taskpilot/internal/tui"
)

var (
	statusProject string
	statusRuns    int
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show backlogs and recent runs",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusProject, "project", "p", "", "Only show this project")
	statusCmd.Flags().IntVarP(&statusRuns, "runs", "n", 10, "Number of recent runs to show")
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
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
	defer db.Close()

	projects := []string{statusProject}
	if statusProject == "" {
		if projects, err = db.Projects(ctx); err != nil {
			return err
		}
	}
	if len(projects) == 0 {
		printStatus("!", "Backlog is empty. Add a task with 'taskpilot task add'", color.FgYellow)
	}

	header := color.New(color.Bold)
	for _, p := range projects {
		tasks, err := db.Project(p).List(ctx)
		if err != nil {
			return err
		}
		header.Printf("\n%s\n", p)
		fmt.Println(tui.RenderTasks(tasks))
	}

	runs, err := db.RecentRuns(ctx, statusProject, statusRuns)
	if err != nil {
		return err
	}
	header.Println("\nRecent runs")
	fmt.Println(tui.RenderRuns(runs))

	if _, err := os.Stat(signals.QuitPath(root)); err == nil {
		fmt.Println()
		printStatus("!", "A quit request is pending", color.FgYellow)
	}
	return nil
}
