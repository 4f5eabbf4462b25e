// Package race runs competing operations and keeps the first to finish.
package race

import (
	"context"
	"errors"
)

// ErrLost is the cancellation cause seen by operations that did not win.
var ErrLost = errors.New("lost race")

// Op is one competitor. It must return promptly once ctx is cancelled.
type Op func(ctx context.Context) error

type result struct {
	index int
	err   error
}

// First runs every op concurrently and returns the index and error of the
// first to complete. The others are cancelled with ErrLost and First waits
// for them to return before it does.
func First(ctx context.Context, ops ...Op) (int, error) {
	if len(ops) == 0 {
		return -1, errors.New("race: no operations")
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	results := make(chan result, len(ops))
	for i, op := range ops {
		go func() {
			results <- result{index: i, err: op(ctx)}
		}()
	}

	winner := <-results
	cancel(ErrLost)
	for range len(ops) - 1 {
		<-results
	}
	return winner.index, winner.err
}
