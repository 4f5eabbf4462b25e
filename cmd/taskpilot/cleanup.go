package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskpilot/internal/exec"
	"github.com/ShayCichocki/taskpilot/internal/worktree"
)

var (
	cleanupForce   bool
	cleanupVerbose bool
	cleanupDryRun  bool
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned worktrees",
	Long: `Remove worktrees left behind by an interrupted 'taskpilot run'.

Every taskpilot worktree of this repository is treated as orphaned, so do
not run this while 'taskpilot run' is active. 'taskpilot run' performs the
same cleanup when it starts.

Examples:
  taskpilot cleanup              # Interactive cleanup with confirmation
  taskpilot cleanup --force      # Skip confirmation prompt
  taskpilot cleanup --dry-run    # Show what would be removed
  taskpilot cleanup -v           # Verbose output showing each removal`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVarP(&cleanupForce, "force", "f", false, "Skip confirmation prompt")
	cleanupCmd.Flags().BoolVarP(&cleanupVerbose, "verbose", "v", false, "Show each worktree as it's removed")
	cleanupCmd.Flags().BoolVar(&cleanupDryRun, "dry-run", false, "Show what would be removed without removing")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	repoPath, err := repoRoot(ctx)
	if err != nil {
		return fmt.Errorf("find git repository: %w", err)
	}

	wtManager, err := worktree.NewManager(cfg.Worktrees.BaseDir, repoPath, exec.NewRunner())
	if err != nil {
		return fmt.Errorf("create worktree manager: %w", err)
	}

	orphans, err := wtManager.ListOrphans(ctx, nil)
	if err != nil {
		return fmt.Errorf("list worktrees: %w", err)
	}
	if len(orphans) == 0 {
		printStatus("✓", "No orphaned worktrees", color.FgGreen)
		return nil
	}

	fmt.Printf("Found %d orphaned worktree(s):\n", len(orphans))
	for _, o := range orphans {
		branch := o.Branch
		if branch == "" {
			branch = "(detached)"
		}
		fmt.Printf("  %s  %s\n", o.Path, branch)
	}
	if cleanupDryRun {
		return nil
	}

	if !cleanupForce && !confirm("Remove them?") {
		fmt.Println("Aborted")
		return nil
	}

	var verbose func(string)
	if cleanupVerbose {
		verbose = func(path string) { fmt.Printf("  removed %s\n", path) }
	}
	removed, err := wtManager.CleanupOrphans(ctx, nil, verbose)
	if err != nil {
		return fmt.Errorf("cleanup: %w", err)
	}
	if removed < len(orphans) {
		printStatus("!", fmt.Sprintf("Removed %d of %d worktree(s)", removed, len(orphans)), color.FgYellow)
		return nil
	}
	printStatus("✓", fmt.Sprintf("Removed %d worktree(s)", removed), color.FgGreen)
	return nil
}

func confirm(question string) bool {
	fmt.Printf("%s [y/N] ", question)
	answer, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer = strings.ToLower(strings.TrimSpace(answer))
	return answer == "y" || answer == "yes"
}
