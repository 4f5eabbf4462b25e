package backlog

import (
	"context"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// Notifying wraps a source so every successful mutation refreshes a view.
type Notifying struct {
	IssueSource
	view *View
}

// NewNotifying returns source decorated to refresh view after writes.
func NewNotifying(source IssueSource, view *View) *Notifying {
	return &Notifying{IssueSource: source, view: view}
}

// Create adds a task and refreshes the view.
func (n *Notifying) Create(ctx context.Context, task models.Task) (models.Task, error) {
	created, err := n.IssueSource.Create(ctx, task)
	if err == nil {
		n.notify(ctx)
	}
	return created, err
}

// Update mutates a task and refreshes the view.
func (n *Notifying) Update(ctx context.Context, id string, u Update) error {
	err := n.IssueSource.Update(ctx, id, u)
	if err == nil {
		n.notify(ctx)
	}
	return err
}

// Cancel removes a task and refreshes the view.
func (n *Notifying) Cancel(ctx context.Context, id string) error {
	err := n.IssueSource.Cancel(ctx, id)
	if err == nil {
		n.notify(ctx)
	}
	return err
}

// FlagUnmergable flags a task and refreshes the view.
func (n *Notifying) FlagUnmergable(ctx context.Context, id, reason string) error {
	err := n.IssueSource.FlagUnmergable(ctx, id, reason)
	if err == nil {
		n.notify(ctx)
	}
	return err
}

func (n *Notifying) notify(ctx context.Context) {
	if err := n.view.Refresh(context.WithoutCancel(ctx)); err != nil {
		n.view.Invalidate()
	}
}
