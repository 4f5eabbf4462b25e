package tui

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/taskpilot/internal/state"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// RenderTasks lists backlog tasks, one per line.
func RenderTasks(tasks []models.Task) string {
	if len(tasks) == 0 {
		return labelStyle.Render("No tasks")
	}
	idWidth := 4
	for _, t := range tasks {
		idWidth = max(idWidth, len(t.ID))
	}
	idCol := lipgloss.NewStyle().Width(idWidth + 2)
	stateCol := lipgloss.NewStyle().Width(13)

	var b strings.Builder
	for _, t := range tasks {
		b.WriteString(idCol.Inherit(titleStyle).Render(t.ID))
		b.WriteString(stateCol.Inherit(stateStyle(t.State)).Render(string(t.State)))
		b.WriteString(labelStyle.Render(fmt.Sprintf("P%d ", t.Priority)))
		b.WriteString(valueStyle.Render(t.Title))
		var notes []string
		if len(t.BlockedBy) > 0 {
			notes = append(notes, "blocked by "+strings.Join(t.BlockedBy, ","))
		}
		if t.PRNumber != nil {
			notes = append(notes, fmt.Sprintf("PR #%d", *t.PRNumber))
		}
		if t.AutoMerge {
			notes = append(notes, "auto-merge")
		}
		if len(notes) > 0 {
			b.WriteString(labelStyle.Render("  (" + strings.Join(notes, "; ") + ")"))
		}
		if t.Unmergable {
			b.WriteString("  ")
			b.WriteString(failedStyle.Render("unmergable: " + t.UnmergableReason))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// RenderRuns lists finished task runs, newest first as given.
func RenderRuns(runs []state.Run) string {
	if len(runs) == 0 {
		return labelStyle.Render("No runs recorded")
	}
	var b strings.Builder
	for _, r := range runs {
		icon, style := outcomeIcon(r.Outcome)
		task := r.TaskID
		if task == "" {
			task = "-"
		}
		b.WriteString(style.Render(icon))
		b.WriteString(" ")
		b.WriteString(labelStyle.Render(r.StartedAt.Local().Format("01-02 15:04")))
		b.WriteString(" ")
		b.WriteString(valueStyle.Render(fmt.Sprintf("%-12s #%-3d %-8s", truncate(r.Project, 12), r.Slot, task)))
		b.WriteString(style.Render(fmt.Sprintf(" %-13s", r.Outcome)))
		b.WriteString(labelStyle.Render(formatDuration(r.Duration())))
		if r.Error != "" {
			b.WriteString("  ")
			b.WriteString(failedStyle.Render(truncate(firstLine(r.Error), 80)))
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
