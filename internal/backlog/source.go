// Package backlog defines the issue source contract and the read model the
// orchestrator observes it through.
package backlog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// ErrTaskNotFound is returned when a task id is unknown to the backlog.
var ErrTaskNotFound = errors.New("task not found")

// IssueSource is the backlog system. Implementations own their own
// consistency; callers never assume a write is visible before a re-read.
type IssueSource interface {
	// Name identifies the backlog in logs.
	Name() string
	// List returns every open task.
	List(ctx context.Context) ([]models.Task, error)
	// Get returns one task or ErrTaskNotFound.
	Get(ctx context.Context, id string) (models.Task, error)
	// Create adds a task and returns it with its assigned id.
	Create(ctx context.Context, task models.Task) (models.Task, error)
	// Update applies the set fields of u to a task.
	Update(ctx context.Context, id string, u Update) error
	// Cancel removes a task from the open backlog.
	Cancel(ctx context.Context, id string) error
	// FlagUnmergable marks a task as needing human integration.
	FlagUnmergable(ctx context.Context, id, reason string) error
}

// Update is a partial task mutation. Nil fields are left unchanged.
type Update struct {
	Title       *string
	Description *string
	State       *models.TaskState
	BlockedBy   *[]string
	AutoMerge   *bool
	PRNumber    *int
	// ClearPRNumber removes the task's PR reference.
	ClearPRNumber bool
}

// SetState returns an Update changing only the state.
func SetState(s models.TaskState) Update {
	return Update{State: &s}
}

// IsZero reports whether the update changes nothing.
func (u Update) IsZero() bool {
	return u.Title == nil && u.Description == nil && u.State == nil &&
		u.BlockedBy == nil && u.AutoMerge == nil && u.PRNumber == nil && !u.ClearPRNumber
}

// Validate rejects updates that would corrupt a task.
func (u Update) Validate() error {
	if u.State != nil && !u.State.Valid() {
		return fmt.Errorf("invalid state %q", *u.State)
	}
	if u.Title != nil && strings.TrimSpace(*u.Title) == "" {
		return errors.New("title cannot be empty")
	}
	if u.PRNumber != nil && u.ClearPRNumber {
		return errors.New("cannot both set and clear the PR number")
	}
	return nil
}

// Apply writes the update onto t.
func (u Update) Apply(t *models.Task) {
	if u.Title != nil {
		t.Title = *u.Title
	}
	if u.Description != nil {
		t.Description = *u.Description
	}
	if u.State != nil {
		t.State = *u.State
	}
	if u.BlockedBy != nil {
		t.BlockedBy = append([]string(nil), (*u.BlockedBy)...)
	}
	if u.AutoMerge != nil {
		t.AutoMerge = *u.AutoMerge
	}
	if u.PRNumber != nil {
		n := *u.PRNumber
		t.PRNumber = &n
	}
	if u.ClearPRNumber {
		t.PRNumber = nil
	}
}

// inverse returns the update that restores t after u is applied.
func (u Update) inverse(t models.Task) Update {
	var inv Update
	if u.Title != nil {
		inv.Title = &t.Title
	}
	if u.Description != nil {
		inv.Description = &t.Description
	}
	if u.State != nil {
		inv.State = &t.State
	}
	if u.BlockedBy != nil {
		blocked := append([]string{}, t.BlockedBy...)
		inv.BlockedBy = &blocked
	}
	if u.AutoMerge != nil {
		inv.AutoMerge = &t.AutoMerge
	}
	if u.PRNumber != nil || u.ClearPRNumber {
		if t.PRNumber != nil {
			n := *t.PRNumber
			inv.PRNumber = &n
		} else {
			inv.ClearPRNumber = true
		}
	}
	return inv
}
