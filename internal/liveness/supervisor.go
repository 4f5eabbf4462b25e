package liveness

import (
	"context"
	"errors"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Beat records progress for the invocation it was handed to.
type Beat func()

// Option configures Supervise.
type Option func(*options)

type options struct {
	watchDirs []string
}

// WatchDir counts file creation and writes inside dir as progress.
func WatchDir(dir string) Option {
	return func(o *options) {
		o.watchDirs = append(o.watchDirs, dir)
	}
}

// Supervise runs fn and cancels it once stall elapses without a beat. fn
// must return promptly when its context is cancelled. A stall of zero
// disables the timer.
//
// On a stall, fn's context is cancelled with a *StallError cause and
// Supervise returns that error after fn has returned.
func Supervise(ctx context.Context, stall time.Duration, phase string, fn func(ctx context.Context, beat Beat) error, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	beats := make(chan struct{}, 1)
	beat := func() {
		select {
		case beats <- struct{}{}:
		default:
		}
	}

	for _, dir := range o.watchDirs {
		stop, err := watchDir(ctx, dir, beat)
		if err != nil {
			return err
		}
		defer stop()
	}

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx, beat)
	}()

	var timeout <-chan time.Time
	var timer *time.Timer
	if stall > 0 {
		timer = time.NewTimer(stall)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		select {
		case err := <-done:
			return err
		case <-beats:
			if timer != nil {
				timer.Reset(stall)
			}
		case <-timeout:
			stallErr := &StallError{Phase: phase, Timeout: stall}
			cancel(stallErr)
			<-done
			return stallErr
		}
	}
}

// watchDir forwards file events in dir to beat until ctx ends.
func watchDir(ctx context.Context, dir string, beat Beat) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) {
					beat()
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()

	return func() {
		watcher.Close()
		<-stopped
	}, nil
}

// WithRunTimeout runs fn under a hard ceiling. When the ceiling is hit,
// escalate runs exactly once with the parent context before the
// *RunTimeoutError is returned. Escalation failures are joined to it.
func WithRunTimeout(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) error, escalate func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}

	timeoutErr := &RunTimeoutError{Timeout: timeout}
	runCtx, cancel := context.WithTimeoutCause(ctx, timeout, timeoutErr)
	defer cancel()

	err := fn(runCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || !errors.Is(context.Cause(runCtx), ErrRunTimeout) {
		return err
	}

	if escalate != nil {
		if escErr := escalate(ctx); escErr != nil {
			return errors.Join(timeoutErr, escErr)
		}
	}
	return timeoutErr
}
