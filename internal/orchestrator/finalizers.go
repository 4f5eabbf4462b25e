package orchestrator

import (
	"context"

	"github.com/ShayCichocki/taskpilot/internal/logging"
)

type finalizer struct {
	name string
	fn   func(ctx context.Context) error
}

// finalizers is a run's cleanup stack. Entries run last-registered first,
// on every exit path, and their failures are logged rather than returned.
type finalizers struct {
	log   *logging.Logger
	stack []finalizer
}

func (f *finalizers) add(name string, fn func(ctx context.Context) error) {
	f.stack = append(f.stack, finalizer{name: name, fn: fn})
}

// run executes the stack with a context that survives cancellation of
// ctx, so cleanup still happens after a run is cancelled.
func (f *finalizers) run(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	for i := len(f.stack) - 1; i >= 0; i-- {
		fin := f.stack[i]
		if err := fin.fn(ctx); err != nil {
			f.log.Warn("cleanup step failed", "step", fin.name, "error", err)
		}
	}
	f.stack = nil
}
