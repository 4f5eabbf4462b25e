package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/taskpilot/internal/config"
	"github.com/ShayCichocki/taskpilot/internal/exec"
	"github.com/ShayCichocki/taskpilot/internal/git"
	"github.com/ShayCichocki/taskpilot/internal/state"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// projectEnv names the project for `taskpilot task` commands run by
// agents inside a worktree.
const projectEnv = "TASKPILOT_PROJECT"

// backlogEnv carries the resolved backlog database path to agents.
const backlogEnv = "TASKPILOT_BACKLOG_PATH"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "taskpilot",
	Short: "Autonomous backlog worker for coding agents",
	Long: `taskpilot works a task backlog with coding agent CLIs.

For every iteration a chooser agent picks the next eligible task, a worker
agent implements it in an isolated git worktree, and the result is
integrated through a pull request or a direct commit.

Tasks live in a SQLite backlog inside the repository and are managed with
'taskpilot task'. Agents update their own task through the same command.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config merged with .taskpilot.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(quitCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// repoRoot returns the main repository of the working directory. Inside a
// linked worktree it resolves through the shared git directory, so agents
// reach the same backlog as the scheduler.
func repoRoot(ctx context.Context) (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	common, err := git.NewRunner(cwd, exec.NewRunner()).Run(ctx, "rev-parse", "--path-format=absolute", "--git-common-dir")
	if err != nil {
		return findGitRoot(cwd)
	}
	common = strings.TrimSpace(common)
	if filepath.Base(common) != ".git" {
		// Bare repository.
		return common, nil
	}
	return filepath.Dir(common), nil
}

// findGitRoot walks up from startDir to the directory holding .git.
func findGitRoot(startDir string) (string, error) {
	dir := startDir
	for {
		if _, err := os.Stat(filepath.Join(dir, ".git")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", errors.New("not in a git repository")
		}
		dir = parent
	}
}

// backlogPath returns the configured database path, defaulting to the
// repository's .taskpilot/backlog.db.
func backlogPath(cfg *config.Config, root string) string {
	if cfg.Backlog.Path == "" {
		return state.ProjectDBPath(root)
	}
	if filepath.IsAbs(cfg.Backlog.Path) {
		return cfg.Backlog.Path
	}
	return filepath.Join(root, cfg.Backlog.Path)
}

func openBacklog(cfg *config.Config, root string) (*state.DB, error) {
	db, err := state.Open(backlogPath(cfg, root))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate backlog: %w", err)
	}
	return db, nil
}

// resolveProject picks the project a task command works on: the flag,
// then $TASKPILOT_PROJECT, then the only configured or known project.
func resolveProject(ctx context.Context, flag string, cfg *config.Config, db *state.DB) (string, error) {
	if flag != "" {
		return flag, nil
	}
	if env := os.Getenv(projectEnv); env != "" {
		return env, nil
	}
	if enabled := cfg.EnabledProjects(); len(enabled) == 1 {
		return enabled[0].ID, nil
	}
	known, err := db.Projects(ctx)
	if err != nil {
		return "", err
	}
	if len(known) == 1 {
		return known[0], nil
	}
	return "", errors.New("cannot tell which project to use; pass --project or set " + projectEnv)
}

// agentEnv is the environment every agent process of project receives.
func agentEnv(project models.Project, dbPath string) []string {
	return []string{projectEnv + "=" + project.ID, backlogEnv + "=" + dbPath}
}

func printStatus(symbol, message string, colorAttr color.Attribute) {
	c := color.New(colorAttr)
	fmt.Printf("%s %s\n", c.Sprint(symbol), message)
}
