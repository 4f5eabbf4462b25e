package main

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskpilot/internal/signals"
)

var quitCmd = &cobra.Command{
	Use:   "quit",
	Short: "Ask a running 'taskpilot run' to stop",
	Long: `Ask the 'taskpilot run' of this repository to stop dispatching new
iterations. Tasks already running finish normally.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, err := repoRoot(context.Background())
		if err != nil {
			return fmt.Errorf("find git repository: %w", err)
		}
		if err := signals.SendQuit(root); err != nil {
			return fmt.Errorf("send quit: %w", err)
		}
		printStatus("✓", "Quit requested; running tasks will finish first", color.FgGreen)
		return nil
	},
}
