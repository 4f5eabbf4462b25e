package orchestrator

import (
	"context"
	"sync/atomic"

	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// StateWatcher fails a running task as soon as the backlog moves it out
// of in-progress or in-review, or drops it.
type StateWatcher struct {
	view     *backlog.View
	taskID   string
	disarmed atomic.Bool
}

// NewStateWatcher watches taskID in view.
func NewStateWatcher(view *backlog.View, taskID string) *StateWatcher {
	return &StateWatcher{view: view, taskID: taskID}
}

// Disarm stops the watcher from firing. It is called before the run makes
// its own terminal transition.
func (w *StateWatcher) Disarm() {
	w.disarmed.Store(true)
}

// Watch blocks until the task diverges, returning a *TaskStateChangedError,
// or until ctx ends, returning its cause. A disarmed watcher only returns
// when ctx ends.
func (w *StateWatcher) Watch(ctx context.Context) error {
	var (
		last  models.Task
		found bool
	)
	err := w.view.WaitForTask(ctx, w.taskID, func(t models.Task, ok bool) bool {
		if w.disarmed.Load() {
			return false
		}
		last, found = t, ok
		return !ok || !t.State.Active()
	})
	if err != nil {
		return err
	}
	if w.disarmed.Load() {
		<-ctx.Done()
		return context.Cause(ctx)
	}
	return &TaskStateChangedError{TaskID: w.taskID, State: last.State, Found: found}
}
