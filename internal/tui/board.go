package tui

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// cardWidth is the rendered width of one worker card.
const cardWidth = 28

type slotKey struct {
	project string
	slot    int
}

type slotState struct {
	state models.WorkerState
	since time.Time
}

// Board keeps the latest state of every running worker slot plus a tally
// of finished runs. It is safe for concurrent use; Update can be passed
// directly as an orchestrator status listener.
type Board struct {
	mu       sync.Mutex
	active   map[slotKey]slotState
	outcomes map[models.Outcome]int
	now      func() time.Time
}

// NewBoard creates an empty Board.
func NewBoard() *Board {
	return &Board{
		active:   make(map[slotKey]slotState),
		outcomes: make(map[models.Outcome]int),
		now:      time.Now,
	}
}

// Update records a worker state change.
func (b *Board) Update(s models.WorkerState) {
	b.mu.Lock()
	defer b.mu.Unlock()
	key := slotKey{project: s.Project, slot: s.Slot}
	if exited, ok := s.Status.(models.Exited); ok {
		delete(b.active, key)
		b.outcomes[exited.Outcome]++
		return
	}
	b.active[key] = slotState{state: s, since: b.now()}
}

// Active returns the running workers ordered by project and slot.
func (b *Board) Active() []models.WorkerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]models.WorkerState, 0, len(b.active))
	for _, s := range b.active {
		out = append(out, s.state)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Project != out[j].Project {
			return out[i].Project < out[j].Project
		}
		return out[i].Slot < out[j].Slot
	})
	return out
}

// Outcomes returns how many runs finished with each outcome.
func (b *Board) Outcomes() map[models.Outcome]int {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make(map[models.Outcome]int, len(b.outcomes))
	for k, v := range b.outcomes {
		out[k] = v
	}
	return out
}

// Render draws one card per running worker followed by the finished-run
// tally.
func (b *Board) Render() string {
	b.mu.Lock()
	keys := make([]slotKey, 0, len(b.active))
	for k := range b.active {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].project != keys[j].project {
			return keys[i].project < keys[j].project
		}
		return keys[i].slot < keys[j].slot
	})
	cards := make([]string, 0, len(keys))
	now := b.now()
	for _, k := range keys {
		s := b.active[k]
		cards = append(cards, renderCard(s.state, now.Sub(s.since)))
	}
	tally := renderTally(b.outcomes)
	b.mu.Unlock()

	var parts []string
	if len(cards) == 0 {
		parts = append(parts, labelStyle.Render("No active workers"))
	} else {
		parts = append(parts, lipgloss.JoinHorizontal(lipgloss.Top, cards...))
	}
	if tally != "" {
		parts = append(parts, tally)
	}
	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func renderCard(s models.WorkerState, elapsed time.Duration) string {
	icon, style := statusIcon(s.Status)

	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s #%d", truncate(s.Project, cardWidth-8), s.Slot)))
	b.WriteString("\n")
	b.WriteString(style.Render(icon + " " + models.DescribeStatus(s.Status)))
	b.WriteString("\n")
	b.WriteString(labelStyle.Render("Time: "))
	b.WriteString(valueStyle.Render(formatDuration(elapsed)))

	return cardStyle.Width(cardWidth).Render(b.String())
}

func renderTally(outcomes map[models.Outcome]int) string {
	if len(outcomes) == 0 {
		return ""
	}
	names := make([]string, 0, len(outcomes))
	for o := range outcomes {
		names = append(names, string(o))
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		o := models.Outcome(name)
		icon, style := outcomeIcon(o)
		parts = append(parts, style.Render(fmt.Sprintf("%s %s %d", icon, name, outcomes[o])))
	}
	return labelStyle.Render("Finished: ") + strings.Join(parts, "  ")
}
