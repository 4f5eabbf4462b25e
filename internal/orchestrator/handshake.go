package orchestrator

import (
	"context"
	"sync"
)

// Handshake is a one-shot signal that a run's selection has finished. The
// scheduler waits on it before dispatching the next iteration. Only the
// first Resolve counts.
type Handshake struct {
	once sync.Once
	done chan struct{}
	err  error
}

// NewHandshake returns an unresolved Handshake.
func NewHandshake() *Handshake {
	return &Handshake{done: make(chan struct{})}
}

// Resolve records the selection outcome. A nil err means a task was
// claimed.
func (h *Handshake) Resolve(err error) {
	h.once.Do(func() {
		h.err = err
		close(h.done)
	})
}

// Done is closed once the handshake resolves.
func (h *Handshake) Done() <-chan struct{} {
	return h.done
}

// Resolved reports whether Resolve has been called.
func (h *Handshake) Resolved() bool {
	select {
	case <-h.done:
		return true
	default:
		return false
	}
}

// Wait blocks until the handshake resolves and returns the selection
// outcome, or the cause of ctx ending first.
func (h *Handshake) Wait(ctx context.Context) error {
	select {
	case <-h.done:
		return h.err
	case <-ctx.Done():
		return context.Cause(ctx)
	}
}
