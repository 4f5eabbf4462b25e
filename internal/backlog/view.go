package backlog

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ShayCichocki/taskpilot/internal/logging"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

// DefaultPollInterval is how often a View re-reads its source.
const DefaultPollInterval = 5 * time.Second

// View caches the last known backlog snapshot. It refreshes on a timer and
// on demand, and lets callers block until a predicate over the snapshot
// holds.
type View struct {
	source   IssueSource
	interval time.Duration
	log      *logging.Logger

	// refreshing is held across List and publish so snapshots are published
	// in the order they were read.
	refreshing *semaphore.Weighted

	mu      sync.RWMutex
	tasks   []models.Task
	loaded  bool
	lastErr error
	changed chan struct{} // closed and replaced after every refresh

	kick chan struct{}
}

// NewView creates a View over source.
func NewView(source IssueSource, interval time.Duration, log *logging.Logger) *View {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if log == nil {
		log = logging.Nop()
	}
	return &View{
		source:     source,
		interval:   interval,
		log:        log,
		refreshing: semaphore.NewWeighted(1),
		changed:    make(chan struct{}),
		kick:       make(chan struct{}, 1),
	}
}

// Source returns the underlying issue source.
func (v *View) Source() IssueSource {
	return v.source
}

// Run polls the source until ctx is done.
func (v *View) Run(ctx context.Context) error {
	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		if err := v.Refresh(ctx); err != nil && ctx.Err() == nil {
			v.log.Warn("backlog refresh failed", "source", v.source.Name(), "error", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-v.kick:
		}
	}
}

// Invalidate asks Run to refresh as soon as possible.
func (v *View) Invalidate() {
	select {
	case v.kick <- struct{}{}:
	default:
	}
}

// Refresh re-reads the source and publishes the new snapshot. Concurrent
// refreshes run one at a time, so a read never replaces a later one.
func (v *View) Refresh(ctx context.Context) error {
	if err := v.refreshing.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("refresh %s backlog: %w", v.source.Name(), err)
	}
	defer v.refreshing.Release(1)

	tasks, err := v.source.List(ctx)

	v.mu.Lock()
	defer v.mu.Unlock()
	if err != nil {
		v.lastErr = err
		return fmt.Errorf("refresh %s backlog: %w", v.source.Name(), err)
	}
	v.tasks = tasks
	v.loaded = true
	v.lastErr = nil
	close(v.changed)
	v.changed = make(chan struct{})
	return nil
}

// Snapshot returns a copy of the cached tasks.
func (v *View) Snapshot() []models.Task {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return cloneAll(v.tasks)
}

// Task returns the cached task with id.
func (v *View) Task(id string) (models.Task, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	t, ok := Find(v.tasks, id)
	if !ok {
		return models.Task{}, false
	}
	return t.Clone(), true
}

// Err returns the error of the most recent failed refresh.
func (v *View) Err() error {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.lastErr
}

// WaitFor blocks until pred holds for a loaded snapshot or ctx is done.
func (v *View) WaitFor(ctx context.Context, pred func(tasks []models.Task) bool) error {
	for {
		v.mu.RLock()
		tasks, loaded, changed := v.tasks, v.loaded, v.changed
		v.mu.RUnlock()

		if loaded && pred(tasks) {
			return nil
		}
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case <-changed:
		}
	}
}

// WaitForTask blocks until pred holds for the task with id. found is false
// while the task is absent from the snapshot.
func (v *View) WaitForTask(ctx context.Context, id string, pred func(task models.Task, found bool) bool) error {
	return v.WaitFor(ctx, func(tasks []models.Task) bool {
		t, ok := Find(tasks, id)
		return pred(t, ok)
	})
}

// HasEligible refreshes the view and reports whether any task can be
// selected.
func (v *View) HasEligible(ctx context.Context) (bool, error) {
	if err := v.Refresh(ctx); err != nil {
		return false, err
	}
	v.mu.RLock()
	defer v.mu.RUnlock()
	for _, t := range v.tasks {
		if t.Eligible() {
			return true, nil
		}
	}
	return false, nil
}

// ClaimError reports a claim whose in-progress update was never applied.
type ClaimError struct {
	TaskID string
	Err    error
}

func (e *ClaimError) Error() string { return fmt.Sprintf("claim %s: %v", e.TaskID, e.Err) }

func (e *ClaimError) Unwrap() error { return e.Err }

// Claim moves a task to in-progress and blocks until the view confirms
// the transition. Bound it with a context deadline. A failed update is
// returned as a *ClaimError; any other error means the update was applied
// but not yet observed.
func Claim(ctx context.Context, source IssueSource, view *View, id string) error {
	if err := source.Update(ctx, id, SetState(models.TaskStateInProgress)); err != nil {
		return &ClaimError{TaskID: id, Err: err}
	}
	view.Invalidate()
	return view.WaitForTask(ctx, id, func(t models.Task, found bool) bool {
		return found && t.State == models.TaskStateInProgress
	})
}

func cloneAll(tasks []models.Task) []models.Task {
	out := make([]models.Task, len(tasks))
	for i, t := range tasks {
		out[i] = t.Clone()
	}
	return out
}
