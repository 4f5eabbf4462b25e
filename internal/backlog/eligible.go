package backlog

import (
	"sort"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// Eligible returns the tasks a worker may select, most urgent first.
// Priority 1 sorts first and 0 (no priority) last; ties break on id.
func Eligible(tasks []models.Task) []models.Task {
	var out []models.Task
	for _, t := range tasks {
		if t.Eligible() {
			out = append(out, t.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := priorityRank(out[i].Priority), priorityRank(out[j].Priority)
		if pi != pj {
			return pi < pj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func priorityRank(p int) int {
	if p <= 0 || p > 4 {
		return 5
	}
	return p
}

// Find returns the task with id from tasks.
func Find(tasks []models.Task, id string) (models.Task, bool) {
	for _, t := range tasks {
		if t.ID == id {
			return t, true
		}
	}
	return models.Task{}, false
}
