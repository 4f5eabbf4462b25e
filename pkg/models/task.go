package models

import (
	"fmt"
	"time"
)

// TaskState represents where a task sits in the backlog workflow.
type TaskState string

const (
	// TaskStateTodo indicates the task is waiting to be picked up.
	TaskStateTodo TaskState = "todo"
	// TaskStateInProgress indicates a worker has claimed the task.
	TaskStateInProgress TaskState = "in-progress"
	// TaskStateInReview indicates the work is done and awaiting review or merge.
	TaskStateInReview TaskState = "in-review"
	// TaskStateDone indicates the task is finished.
	TaskStateDone TaskState = "done"
)

// Valid returns true if the state is a known value.
func (s TaskState) Valid() bool {
	switch s {
	case TaskStateTodo, TaskStateInProgress, TaskStateInReview, TaskStateDone:
		return true
	default:
		return false
	}
}

// Active returns true while a worker is expected to own the task.
func (s TaskState) Active() bool {
	return s == TaskStateInProgress || s == TaskStateInReview
}

// ParseTaskState converts user input into a TaskState.
func ParseTaskState(s string) (TaskState, error) {
	state := TaskState(s)
	switch s {
	case "in_progress", "inprogress":
		state = TaskStateInProgress
	case "in_review", "review":
		state = TaskStateInReview
	}
	if !state.Valid() {
		return "", fmt.Errorf("invalid task state %q (valid: todo, in-progress, in-review, done)", s)
	}
	return state, nil
}

// Task is a unit of backlog work.
type Task struct {
	// ID is assigned by the backlog; empty until the task has been created.
	ID string `json:"id" yaml:"id"`
	// Project is the project the task belongs to.
	Project string `json:"project,omitempty" yaml:"project,omitempty"`
	// Title is the short description of the task.
	Title string `json:"title" yaml:"title"`
	// Description provides detailed information about the task.
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
	// Priority ranges from 0 (none) through 1 (urgent) to 4 (low).
	Priority int `json:"priority" yaml:"priority"`
	// Estimate is an optional size estimate.
	Estimate *float64 `json:"estimate,omitempty" yaml:"estimate,omitempty"`
	// State is the current workflow state.
	State TaskState `json:"state" yaml:"state"`
	// BlockedBy lists unfinished tasks that must complete first.
	BlockedBy []string `json:"blocked_by,omitempty" yaml:"blockedBy,omitempty"`
	// AutoMerge requests integration without human intervention.
	AutoMerge bool `json:"auto_merge" yaml:"autoMerge"`
	// PRNumber references an existing pull request for the task.
	PRNumber *int `json:"pr_number,omitempty" yaml:"prNumber,omitempty"`
	// Unmergable is set when integration failed and needs a human.
	Unmergable bool `json:"unmergable,omitempty" yaml:"unmergable,omitempty"`
	// UnmergableReason explains why integration failed.
	UnmergableReason string `json:"unmergable_reason,omitempty" yaml:"unmergableReason,omitempty"`
	// UpdatedAt is the last time the backlog changed the task.
	UpdatedAt time.Time `json:"updated_at" yaml:"-"`
}

// Eligible reports whether the task may be selected by a worker. Tasks
// flagged unmergable wait for a human.
func (t *Task) Eligible() bool {
	return t.ID != "" && t.State == TaskStateTodo && len(t.BlockedBy) == 0 && !t.Unmergable
}

// Clone returns a deep copy of the task.
func (t Task) Clone() Task {
	c := t
	if t.Estimate != nil {
		v := *t.Estimate
		c.Estimate = &v
	}
	if t.PRNumber != nil {
		v := *t.PRNumber
		c.PRNumber = &v
	}
	if t.BlockedBy != nil {
		c.BlockedBy = append([]string(nil), t.BlockedBy...)
	}
	return c
}

// IntPtr returns a pointer to n.
func IntPtr(n int) *int {
	return &n
}
