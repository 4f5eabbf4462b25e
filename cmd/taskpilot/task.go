package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/internal/state"
	"github.com/ShayCichocki/taskpilot/internal/tui"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

var taskProject string

var (
	taskListAll bool

	taskAddDescription string
	taskAddPriority    int
	taskAddBlockedBy   []string
	taskAddAutoMerge   bool

	taskUpdateState       string
	taskUpdateTitle       string
	taskUpdateDescription string
	taskUpdateAppend      string
	taskUpdatePR          int
	taskUpdateClearPR     bool
	taskUpdateAutoMerge   bool
	taskUpdateBlockedBy   []string
)

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Manage backlog tasks",
	Long: `Manage the tasks of a project's backlog.

The project is taken from --project, then $TASKPILOT_PROJECT (set for
agents by 'taskpilot run'), then the only configured project.`,
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List open tasks",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBacklog(cmd.Context(), func(ctx context.Context, b *state.ProjectBacklog) error {
			var (
				tasks []models.Task
				err   error
			)
			if taskListAll {
				tasks, err = b.ListAll(ctx)
			} else {
				tasks, err = b.List(ctx)
			}
			if err != nil {
				return err
			}
			fmt.Println(tui.RenderTasks(tasks))
			return nil
		})
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print one task as YAML",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBacklog(cmd.Context(), func(ctx context.Context, b *state.ProjectBacklog) error {
			task, err := b.Get(ctx, args[0])
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(task)
		})
	},
}

var taskAddCmd = &cobra.Command{
	Use:   "add <title>",
	Short: "Add a task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBacklog(cmd.Context(), func(ctx context.Context, b *state.ProjectBacklog) error {
			task, err := b.Create(ctx, models.Task{
				Title:       strings.Join(args, " "),
				Description: taskAddDescription,
				Priority:    taskAddPriority,
				BlockedBy:   splitIDs(taskAddBlockedBy),
				AutoMerge:   taskAddAutoMerge,
			})
			if err != nil {
				return err
			}
			printStatus("✓", fmt.Sprintf("Added %s: %s", task.ID, task.Title), color.FgGreen)
			return nil
		})
	},
}

var taskUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Update a task",
	Long: `Update a task's fields. Only the given flags change.

Agents use this to report progress:
  taskpilot task update T-4 --state in-review
  taskpilot task update T-4 --append-description "Remaining: migrate callers"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBacklog(cmd.Context(), func(ctx context.Context, b *state.ProjectBacklog) error {
			id := args[0]
			u, err := buildUpdate(cmd, func() (models.Task, error) { return b.Get(ctx, id) })
			if err != nil {
				return err
			}
			if u.IsZero() {
				return fmt.Errorf("nothing to update for %s", id)
			}
			if err := b.Update(ctx, id, u); err != nil {
				return err
			}
			printStatus("✓", "Updated "+id, color.FgGreen)
			return nil
		})
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withBacklog(cmd.Context(), func(ctx context.Context, b *state.ProjectBacklog) error {
			if err := b.Cancel(ctx, args[0]); err != nil {
				return err
			}
			printStatus("✓", "Cancelled "+args[0], color.FgGreen)
			return nil
		})
	},
}

func init() {
	taskCmd.PersistentFlags().StringVarP(&taskProject, "project", "p", "", "Project id")

	taskListCmd.Flags().BoolVarP(&taskListAll, "all", "a", false, "Include done tasks")

	taskAddCmd.Flags().StringVarP(&taskAddDescription, "description", "d", "", "Task description")
	taskAddCmd.Flags().IntVar(&taskAddPriority, "priority", 0, "Priority: 1 (urgent) to 4 (low), 0 for none")
	taskAddCmd.Flags().StringSliceVar(&taskAddBlockedBy, "blocked-by", nil, "Ids of tasks that must finish first")
	taskAddCmd.Flags().BoolVar(&taskAddAutoMerge, "auto-merge", false, "Integrate without human review")

	taskUpdateCmd.Flags().StringVar(&taskUpdateState, "state", "", "New state: todo, in-progress, in-review, done")
	taskUpdateCmd.Flags().StringVar(&taskUpdateTitle, "title", "", "New title")
	taskUpdateCmd.Flags().StringVar(&taskUpdateDescription, "description", "", "Replace the description")
	taskUpdateCmd.Flags().StringVar(&taskUpdateAppend, "append-description", "", "Append a paragraph to the description")
	taskUpdateCmd.Flags().IntVar(&taskUpdatePR, "pr", 0, "Pull request number")
	taskUpdateCmd.Flags().BoolVar(&taskUpdateClearPR, "clear-pr", false, "Remove the pull request reference")
	taskUpdateCmd.Flags().BoolVar(&taskUpdateAutoMerge, "auto-merge", false, "Integrate without human review")
	taskUpdateCmd.Flags().StringSliceVar(&taskUpdateBlockedBy, "blocked-by", nil, "Replace the blocking task ids")
	taskUpdateCmd.MarkFlagsMutuallyExclusive("description", "append-description")
	taskUpdateCmd.MarkFlagsMutuallyExclusive("pr", "clear-pr")

	taskCmd.AddCommand(taskListCmd, taskShowCmd, taskAddCmd, taskUpdateCmd, taskCancelCmd)
}

// withBacklog opens the backlog of the resolved project for fn.
func withBacklog(ctx context.Context, fn func(ctx context.Context, b *state.ProjectBacklog) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
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

	project, err := resolveProject(ctx, taskProject, cfg, db)
	if err != nil {
		return err
	}
	return fn(ctx, db.Project(project))
}

// buildUpdate turns the changed update flags into a backlog.Update. current
// is only called for --append-description.
func buildUpdate(cmd *cobra.Command, current func() (models.Task, error)) (backlog.Update, error) {
	var u backlog.Update
	flags := cmd.Flags()
	if flags.Changed("state") {
		s, err := models.ParseTaskState(taskUpdateState)
		if err != nil {
			return u, err
		}
		u.State = &s
	}
	if flags.Changed("title") {
		u.Title = &taskUpdateTitle
	}
	if flags.Changed("description") {
		u.Description = &taskUpdateDescription
	}
	if flags.Changed("append-description") {
		task, err := current()
		if err != nil {
			return u, err
		}
		desc := appendParagraph(task.Description, taskUpdateAppend)
		u.Description = &desc
	}
	if flags.Changed("pr") {
		u.PRNumber = &taskUpdatePR
	}
	if taskUpdateClearPR {
		u.ClearPRNumber = true
	}
	if flags.Changed("auto-merge") {
		u.AutoMerge = &taskUpdateAutoMerge
	}
	if flags.Changed("blocked-by") {
		ids := splitIDs(taskUpdateBlockedBy)
		u.BlockedBy = &ids
	}
	return u, u.Validate()
}

func appendParagraph(desc, para string) string {
	desc = strings.TrimRight(desc, "\n ")
	para = strings.TrimSpace(para)
	if desc == "" {
		return para
	}
	return desc + "\n\n" + para
}

// splitIDs trims ids, dropping empty entries.
func splitIDs(ids []string) []string {
	var out []string
	for _, id := range ids {
		if id = strings.TrimSpace(id); id != "" {
			out = append(out, id)
		}
	}
	return out
}
