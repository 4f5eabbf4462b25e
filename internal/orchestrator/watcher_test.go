package orchestrator

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ShayCichocki/taskpilot/internal/backlog"
	"github.com/ShayCichocki/taskpilot/pkg/models"
)

func startView(t *testing.T, source backlog.IssueSource) *backlog.View {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	v := backlog.NewView(source, 10*time.Millisecond, nil)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = v.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return v
}

func TestStateWatcher(t *testing.T) {
	tests := []struct {
		name      string
		change    func(ctx context.Context, mem *backlog.Memory) error
		wantState models.TaskState
		wantFound bool
	}{
		{
			name: "moved to done",
			change: func(ctx context.Context, mem *backlog.Memory) error {
				return mem.Update(ctx, "T-1", backlog.SetState(models.TaskStateDone))
			},
			wantState: models.TaskStateDone,
			wantFound: true,
		},
		{
			name: "moved back to todo",
			change: func(ctx context.Context, mem *backlog.Memory) error {
				return mem.Update(ctx, "T-1", backlog.SetState(models.TaskStateTodo))
			},
			wantState: models.TaskStateTodo,
			wantFound: true,
		},
		{
			name: "cancelled",
			change: func(ctx context.Context, mem *backlog.Memory) error {
				return mem.Cancel(ctx, "T-1")
			},
			wantFound: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()

			mem := backlog.NewMemory("test", models.Task{ID: "T-1", State: models.TaskStateInProgress})
			w := NewStateWatcher(startView(t, mem), "T-1")

			errc := make(chan error, 1)
			go func() { errc <- w.Watch(ctx) }()

			// Moving between active states does not fire.
			if err := mem.Update(ctx, "T-1", backlog.SetState(models.TaskStateInReview)); err != nil {
				t.Fatal(err)
			}
			select {
			case err := <-errc:
				t.Fatalf("Watch() fired early: %v", err)
			case <-time.After(50 * time.Millisecond):
			}

			if err := tt.change(ctx, mem); err != nil {
				t.Fatal(err)
			}
			err := <-errc
			var sce *TaskStateChangedError
			if !errors.As(err, &sce) {
				t.Fatalf("Watch() = %v, want *TaskStateChangedError", err)
			}
			if !errors.Is(err, ErrTaskStateChanged) {
				t.Error("error does not match ErrTaskStateChanged")
			}
			if sce.Found != tt.wantFound || (tt.wantFound && sce.State != tt.wantState) {
				t.Errorf("got found=%v state=%s, want found=%v state=%s", sce.Found, sce.State, tt.wantFound, tt.wantState)
			}
		})
	}
}

func TestStateWatcher_Disarmed(t *testing.T) {
	mem := backlog.NewMemory("test", models.Task{ID: "T-1", State: models.TaskStateInProgress})
	w := NewStateWatcher(startView(t, mem), "T-1")

	ctx, cancel := context.WithCancelCause(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- w.Watch(ctx) }()

	w.Disarm()
	if err := mem.Update(context.Background(), "T-1", backlog.SetState(models.TaskStateDone)); err != nil {
		t.Fatal(err)
	}
	select {
	case err := <-errc:
		t.Fatalf("disarmed watcher fired: %v", err)
	case <-time.After(80 * time.Millisecond):
	}

	stop := errors.New("run over")
	cancel(stop)
	select {
	case err := <-errc:
		if !errors.Is(err, stop) {
			t.Errorf("Watch() = %v, want %v", err, stop)
		}
	case <-time.After(time.Second):
		t.Fatal("Watch() did not return after cancel")
	}
}

// slowListSource holds one armed List result, read before a concurrent
// write, until release is closed.
type slowListSource struct {
	*backlog.Memory
	armed   atomic.Bool
	read    chan struct{}
	release chan struct{}
}

func (s *slowListSource) List(ctx context.Context) ([]models.Task, error) {
	tasks, err := s.Memory.List(ctx)
	if s.armed.CompareAndSwap(true, false) {
		close(s.read)
		<-s.release
	}
	return tasks, err
}

func TestStateWatcher_IgnoresRefreshStartedBeforeClaim(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	mem := backlog.NewMemory("test", models.Task{ID: "T-1", State: models.TaskStateTodo})
	src := &slowListSource{Memory: mem, read: make(chan struct{}), release: make(chan struct{})}
	view := backlog.NewView(src, time.Hour, nil)
	if err := view.Refresh(ctx); err != nil {
		t.Fatal(err)
	}

	src.armed.Store(true)
	slow := make(chan error, 1)
	go func() { slow <- view.Refresh(ctx) }()
	<-src.read

	claimed := make(chan error, 1)
	go func() { claimed <- backlog.Claim(ctx, backlog.NewNotifying(src, view), view, "T-1") }()
	for {
		if task, _ := mem.Get(ctx, "T-1"); task.State == models.TaskStateInProgress {
			break
		}
		if ctx.Err() != nil {
			t.Fatal("claim never wrote in-progress")
		}
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(src.release)

	if err := <-slow; err != nil {
		t.Fatalf("slow Refresh() error = %v", err)
	}
	if err := <-claimed; err != nil {
		t.Fatalf("Claim() error = %v", err)
	}

	w := NewStateWatcher(view, "T-1")
	errc := make(chan error, 1)
	go func() { errc <- w.Watch(ctx) }()
	select {
	case err := <-errc:
		t.Fatalf("Watch() fired on a claimed task: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	if err := backlog.NewNotifying(src, view).Update(ctx, "T-1", backlog.SetState(models.TaskStateTodo)); err != nil {
		t.Fatal(err)
	}
	var sce *TaskStateChangedError
	if err := <-errc; !errors.As(err, &sce) || sce.State != models.TaskStateTodo {
		t.Errorf("Watch() = %v, want a change to todo", err)
	}
}
