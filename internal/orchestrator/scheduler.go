package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ShayCichocki/taskpilot/internal/logging"
	"github.com/ShayCichocki/taskpilot/internal/orchestrator/policy"
)

// TaskRunner runs one task lifecycle. It must resolve hs once selection
// has finished. *Orchestrator implements it.
type TaskRunner interface {
	RunTask(ctx context.Context, slot int, hs *Handshake) error
}

// EligibilityChecker reports whether the backlog has selectable work.
// *backlog.View implements it.
type EligibilityChecker interface {
	HasEligible(ctx context.Context) (bool, error)
}

// QuitSignal is a stop request observed between iterations.
// *signals.Quit implements it.
type QuitSignal interface {
	Requested() bool
	Done() <-chan struct{}
}

// SchedulerConfig configures a Scheduler.
type SchedulerConfig struct {
	// Project labels logs.
	Project string
	// Concurrency is the number of task runs allowed to execute at once.
	Concurrency int
	// MaxIterations bounds the number of dispatched runs. Zero means
	// unbounded.
	MaxIterations int
	// Policy supplies backoff and cooldown durations.
	Policy *policy.Config
}

// Summary describes a finished scheduler run.
type Summary struct {
	Dispatched int
	Failed     int
}

// Scheduler dispatches task runs for one project. Selection is serialized
// through each run's Handshake; execution is bounded by Concurrency.
type Scheduler struct {
	cfg      SchedulerConfig
	runner   TaskRunner
	eligible EligibilityChecker
	quit     QuitSignal
	log      *logging.Logger

	idle idleTracker

	mu      sync.Mutex
	summary Summary
}

// NewScheduler creates a Scheduler. quit may be nil.
func NewScheduler(cfg SchedulerConfig, runner TaskRunner, eligible EligibilityChecker, quit QuitSignal, log *logging.Logger) (*Scheduler, error) {
	if cfg.Concurrency < 1 {
		return nil, fmt.Errorf("scheduler: concurrency must be at least 1, got %d", cfg.Concurrency)
	}
	if cfg.MaxIterations < 0 {
		return nil, fmt.Errorf("scheduler: iterations must not be negative, got %d", cfg.MaxIterations)
	}
	if cfg.Policy == nil {
		cfg.Policy = policy.Default()
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	if cfg.Project != "" {
		log = log.WithProject(cfg.Project)
	}
	return &Scheduler{cfg: cfg, runner: runner, eligible: eligible, quit: quit, log: log}, nil
}

// Run dispatches task runs until the iteration budget is spent, the
// backlog runs dry under a finite budget, quit is requested, or ctx ends.
// It returns after every dispatched run has finished. Task failures are
// logged, never returned; the error is non-nil only when ctx ended.
func (s *Scheduler) Run(ctx context.Context) (Summary, error) {
	sem := semaphore.NewWeighted(int64(s.cfg.Concurrency))
	// Pool slots name worktree branches, so they are reused rather than
	// growing with the iteration count. A slot is returned before its
	// permit, so one is always free after Acquire.
	slots := make(chan int, s.cfg.Concurrency)
	for i := range s.cfg.Concurrency {
		slots <- i
	}
	var wg sync.WaitGroup

	finite := s.cfg.MaxIterations > 0
	budget := s.cfg.MaxIterations
	iteration := 0

	s.log.Info("scheduler started", "concurrency", s.cfg.Concurrency, "iterations", budget)

loop:
	for {
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		if (finite && iteration >= budget) || s.quitRequested() {
			sem.Release(1)
			break
		}

		hs := NewHandshake()

		ok, err := s.eligible.HasEligible(ctx)
		if err != nil {
			sem.Release(1)
			if ctx.Err() != nil {
				break
			}
			s.log.Warn("backlog check failed", "error", err)
			if !s.sleep(ctx, s.cfg.Policy.Scheduling.Cooldown) {
				break
			}
			continue
		}
		if !ok {
			sem.Release(1)
			if finite {
				budget = iteration
				s.log.Info("no eligible tasks left, stopping", "iterations", iteration)
				continue
			}
			if !s.idleBackoff(ctx) {
				break
			}
			continue
		}

		slot := <-slots
		wg.Add(1)
		s.mu.Lock()
		s.summary.Dispatched++
		s.mu.Unlock()
		s.log.Debug("dispatching", "iteration", iteration, "slot", slot)
		go func() {
			defer sem.Release(1)
			defer func() { slots <- slot }()
			s.dispatch(ctx, slot, hs, &wg)
		}()

		err = hs.Wait(ctx)
		switch {
		case ctx.Err() != nil:
			break loop
		case errors.Is(err, ErrNoMoreWork):
			if finite {
				budget = iteration + 1
				s.log.Info("chooser found no work, stopping", "iterations", iteration+1)
			}
		}
		iteration++
	}

	wg.Wait()
	s.mu.Lock()
	summary := s.summary
	s.mu.Unlock()
	s.log.Info("scheduler finished", "dispatched", summary.Dispatched, "failed", summary.Failed)

	if ctx.Err() != nil {
		return summary, context.Cause(ctx)
	}
	return summary, nil
}

// dispatch runs one iteration in slot. The handshake is resolved on every
// exit path, including a panic.
func (s *Scheduler) dispatch(ctx context.Context, slot int, hs *Handshake, wg *sync.WaitGroup) {
	defer wg.Done()

	err := s.runTask(ctx, slot, hs)
	hs.Resolve(err)

	switch {
	case err == nil:
	case errors.Is(err, ErrNoMoreWork):
		if s.cfg.MaxIterations == 0 {
			s.idleBackoff(ctx)
		}
	case errors.Is(err, ErrTaskStateChanged):
		s.log.Info("task run stopped by backlog change", "slot", slot)
	default:
		s.mu.Lock()
		s.summary.Failed++
		s.mu.Unlock()
		s.log.Warn("task run failed, cooling down", "slot", slot, "cooldown", s.cfg.Policy.Scheduling.Cooldown, "error", err)
		s.sleep(ctx, s.cfg.Policy.Scheduling.Cooldown)
	}
}

func (s *Scheduler) runTask(ctx context.Context, slot int, hs *Handshake) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.log.Error("task run crashed", "slot", slot, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("task run crashed: %v", p)
		}
	}()
	return s.runner.RunTask(ctx, slot, hs)
}

func (s *Scheduler) quitRequested() bool {
	return s.quit != nil && s.quit.Requested()
}

// idleBackoff waits out an empty backlog. Only the first of a group of
// overlapping idle waits logs.
func (s *Scheduler) idleBackoff(ctx context.Context) bool {
	if s.idle.enter() {
		s.log.Info("backlog empty, waiting", "backoff", s.cfg.Policy.Scheduling.Backoff)
	}
	defer s.idle.leave()
	return s.sleep(ctx, s.cfg.Policy.Scheduling.Backoff)
}

// sleep waits for d. It returns false if ctx ended or quit was requested
// first.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	var quit <-chan struct{}
	if s.quit != nil {
		quit = s.quit.Done()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-quit:
		return false
	}
}

// idleTracker counts concurrent idle waits.
type idleTracker struct {
	mu sync.Mutex
	n  int
}

// enter reports whether no other wait was in progress.
func (t *idleTracker) enter() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.n++
	return t.n == 1
}

func (t *idleTracker) leave() {
	t.mu.Lock()
	t.n--
	t.mu.Unlock()
}
