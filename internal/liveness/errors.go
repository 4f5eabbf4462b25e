// Package liveness bounds agent invocations with a stall timeout that
// resets on progress and a hard run timeout with a one-shot escalation.
package liveness

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStalled matches any StallError.
	ErrStalled = errors.New("stalled")
	// ErrRunTimeout matches any RunTimeoutError.
	ErrRunTimeout = errors.New("run timeout exceeded")
)

// StallError is returned when an invocation shows no progress within its
// stall window.
type StallError struct {
	Phase   string
	Timeout time.Duration
}

func (e *StallError) Error() string {
	return fmt.Sprintf("%s stalled: no progress for %s", e.Phase, e.Timeout)
}

// Is reports whether target is ErrStalled.
func (e *StallError) Is(target error) bool {
	return target == ErrStalled
}

// RunTimeoutError is returned when the work phase exceeds its hard ceiling.
type RunTimeoutError struct {
	Timeout time.Duration
}

func (e *RunTimeoutError) Error() string {
	return fmt.Sprintf("run exceeded %s", e.Timeout)
}

// Is reports whether target is ErrRunTimeout.
func (e *RunTimeoutError) Is(target error) bool {
	return target == ErrRunTimeout
}
