package tui

import (
	"fmt"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// Status icons
const (
	iconRunning = "[●]"
	iconReview  = "[◐]"
	iconDone    = "[✓]"
	iconFailed  = "[✗]"
	iconPaused  = "[◌]"
	iconPending = "[○]"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("15"))

	labelStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240"))

	valueStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("252"))

	runningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("34")) // Green

	doneStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("28")) // Dark green

	failedStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")) // Red

	pendingStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("244")) // Gray

	warnStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")) // Orange

	cardStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1)
)

// statusIcon picks the icon and style for a worker status.
func statusIcon(s models.WorkerStatus) (string, lipgloss.Style) {
	switch v := s.(type) {
	case models.Booting, models.ChoosingTask:
		return iconPending, pendingStyle
	case models.Working:
		return iconRunning, runningStyle
	case models.Reviewing, models.Merging:
		return iconReview, runningStyle
	case models.Exited:
		return outcomeIcon(v.Outcome)
	case nil:
		return iconPending, pendingStyle
	default:
		panic(fmt.Sprintf("unhandled worker status %T", s))
	}
}

// outcomeIcon picks the icon and style for a finished run.
func outcomeIcon(o models.Outcome) (string, lipgloss.Style) {
	switch o {
	case models.OutcomeSucceeded:
		return iconDone, doneStyle
	case models.OutcomeNoWork:
		return iconPending, pendingStyle
	case models.OutcomeStateChanged:
		return iconPaused, warnStyle
	default:
		return iconFailed, failedStyle
	}
}

// stateStyle colours a backlog task state.
func stateStyle(s models.TaskState) lipgloss.Style {
	switch s {
	case models.TaskStateInProgress:
		return runningStyle
	case models.TaskStateInReview:
		return warnStyle
	case models.TaskStateDone:
		return doneStyle
	default:
		return valueStyle
	}
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if n <= 3 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
