package orchestrator

import (
	"errors"
	"fmt"

	"github.com/ShayCichocki/taskpilot/pkg/models"
)

var (
	// ErrChosenTaskNotFound matches every *SelectionError.
	ErrChosenTaskNotFound = errors.New("chosen task not found")
	// ErrNoMoreWork means the backlog has nothing eligible. It is not a
	// failure.
	ErrNoMoreWork = errors.New("no more work")
	// ErrTaskStateChanged matches every *TaskStateChangedError.
	ErrTaskStateChanged = errors.New("task state changed externally")
	// ErrWorkIncomplete means the agents finished without moving the task
	// on from todo or in-progress.
	ErrWorkIncomplete = errors.New("work incomplete")
)

// SelectionError is returned when the selection artifact is missing,
// malformed, or names a task that cannot be worked on.
type SelectionError struct {
	TaskID string
	Reason string
}

func (e *SelectionError) Error() string {
	if e.TaskID == "" {
		return fmt.Sprintf("chosen task not found: %s", e.Reason)
	}
	return fmt.Sprintf("chosen task %s not found: %s", e.TaskID, e.Reason)
}

// Is reports whether target is ErrChosenTaskNotFound.
func (e *SelectionError) Is(target error) bool {
	return target == ErrChosenTaskNotFound
}

// TaskStateChangedError is returned by the watcher when the backlog moves
// a running task out of in-progress or in-review, or removes it.
type TaskStateChangedError struct {
	TaskID string
	State  models.TaskState
	Found  bool
}

func (e *TaskStateChangedError) Error() string {
	if !e.Found {
		return fmt.Sprintf("task %s is no longer in the backlog", e.TaskID)
	}
	return fmt.Sprintf("task %s moved to %s outside this run", e.TaskID, e.State)
}

// Is reports whether target is ErrTaskStateChanged.
func (e *TaskStateChangedError) Is(target error) bool {
	return target == ErrTaskStateChanged
}
