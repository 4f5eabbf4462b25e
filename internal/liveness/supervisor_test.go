package liveness

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func blockUntilCancelled(ctx context.Context, _ Beat) error {
	<-ctx.Done()
	return context.Cause(ctx)
}

func TestSupervise_StallsWithoutProgress(t *testing.T) {
	stall := 50 * time.Millisecond
	start := time.Now()

	err := Supervise(context.Background(), stall, "worker", blockUntilCancelled)

	var stallErr *StallError
	if !errors.As(err, &stallErr) {
		t.Fatalf("expected *StallError, got %v", err)
	}
	if !errors.Is(err, ErrStalled) {
		t.Error("errors.Is(err, ErrStalled) = false")
	}
	if stallErr.Phase != "worker" || stallErr.Timeout != stall {
		t.Errorf("StallError = %+v", stallErr)
	}
	if elapsed := time.Since(start); elapsed > stall+time.Second {
		t.Errorf("stall detected after %s, want about %s", elapsed, stall)
	}
}

func TestSupervise_FnSeesStallCause(t *testing.T) {
	var seen error
	_ = Supervise(context.Background(), 20*time.Millisecond, "chooser", func(ctx context.Context, _ Beat) error {
		<-ctx.Done()
		seen = context.Cause(ctx)
		return seen
	})
	if !errors.Is(seen, ErrStalled) {
		t.Errorf("fn observed cause %v, want stall", seen)
	}
}

func TestSupervise_BeatsKeepAlive(t *testing.T) {
	stall := 80 * time.Millisecond
	err := Supervise(context.Background(), stall, "worker", func(ctx context.Context, beat Beat) error {
		// Run for three stall windows while beating well inside each.
		deadline := time.Now().Add(3 * stall)
		for time.Now().Before(deadline) {
			beat()
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case <-time.After(stall / 4):
			}
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Supervise() error = %v, want nil", err)
	}
}

func TestSupervise_StallMeasuredFromLastBeat(t *testing.T) {
	stall := 60 * time.Millisecond
	var lastBeat atomic.Int64

	start := time.Now()
	err := Supervise(context.Background(), stall, "worker", func(ctx context.Context, beat Beat) error {
		for i := 0; i < 3; i++ {
			beat()
			lastBeat.Store(time.Now().UnixNano())
			time.Sleep(stall / 3)
		}
		<-ctx.Done()
		return context.Cause(ctx)
	})
	if !errors.Is(err, ErrStalled) {
		t.Fatalf("expected stall, got %v", err)
	}
	sinceLast := time.Since(time.Unix(0, lastBeat.Load()))
	if sinceLast < stall {
		t.Errorf("stalled %s after last beat, want at least %s", sinceLast, stall)
	}
	if time.Since(start) < stall {
		t.Error("stalled before the window elapsed")
	}
}

func TestSupervise_ReturnsFnError(t *testing.T) {
	boom := errors.New("boom")
	err := Supervise(context.Background(), time.Minute, "worker", func(context.Context, Beat) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Supervise() error = %v, want boom", err)
	}
}

func TestSupervise_ZeroStallDisablesTimer(t *testing.T) {
	err := Supervise(context.Background(), 0, "worker", func(context.Context, Beat) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	})
	if err != nil {
		t.Errorf("Supervise() error = %v", err)
	}
}

func TestSupervise_FileCreationCountsAsProgress(t *testing.T) {
	dir := t.TempDir()
	stall := 150 * time.Millisecond

	err := Supervise(context.Background(), stall, "chooser", func(ctx context.Context, _ Beat) error {
		for i := 0; i < 4; i++ {
			select {
			case <-ctx.Done():
				return context.Cause(ctx)
			case <-time.After(stall / 3):
			}
			name := filepath.Join(dir, "note"+string(rune('a'+i)))
			if err := os.WriteFile(name, []byte("x"), 0644); err != nil {
				return err
			}
		}
		return nil
	}, WatchDir(dir))
	if err != nil {
		t.Fatalf("Supervise() error = %v, want nil", err)
	}
}

func TestSupervise_WatchDirMissing(t *testing.T) {
	err := Supervise(context.Background(), time.Second, "worker", blockUntilCancelled, WatchDir(filepath.Join(t.TempDir(), "missing")))
	if err == nil {
		t.Fatal("expected error for missing watch dir")
	}
}

func TestWithRunTimeout_EscalatesExactlyOnce(t *testing.T) {
	var escalations atomic.Int32
	timeout := 30 * time.Millisecond

	err := WithRunTimeout(context.Background(), timeout, func(ctx context.Context) error {
		<-ctx.Done()
		return context.Cause(ctx)
	}, func(ctx context.Context) error {
		if ctx.Err() != nil {
			t.Error("escalation context should be live")
		}
		escalations.Add(1)
		return nil
	})

	if !errors.Is(err, ErrRunTimeout) {
		t.Fatalf("expected run timeout, got %v", err)
	}
	if escalations.Load() != 1 {
		t.Errorf("escalations = %d, want 1", escalations.Load())
	}
}

func TestWithRunTimeout_EscalationErrorJoined(t *testing.T) {
	escErr := errors.New("timeout agent failed")
	err := WithRunTimeout(context.Background(), 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}, func(context.Context) error { return escErr })

	if !errors.Is(err, ErrRunTimeout) || !errors.Is(err, escErr) {
		t.Errorf("error = %v, want both timeout and escalation error", err)
	}
}

func TestWithRunTimeout_NoEscalation(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name    string
		ctx     func() context.Context
		fn      func(ctx context.Context) error
		wantErr error
	}{
		{"success", context.Background, func(context.Context) error { return nil }, nil},
		{"ordinary failure", context.Background, func(context.Context) error { return boom }, boom},
		{
			"parent cancelled",
			func() context.Context {
				ctx, cancel := context.WithCancel(context.Background())
				cancel()
				return ctx
			},
			func(ctx context.Context) error { return ctx.Err() },
			context.Canceled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			called := false
			err := WithRunTimeout(tt.ctx(), time.Minute, tt.fn, func(context.Context) error {
				called = true
				return nil
			})
			if called {
				t.Error("escalation should not run")
			}
			if !errors.Is(err, tt.wantErr) && !(err == nil && tt.wantErr == nil) {
				t.Errorf("error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestWaitForFile(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	go func() {
		time.Sleep(20 * time.Millisecond)
		_ = os.WriteFile(filepath.Join(dir, "other.json"), []byte("{}"), 0644)
		_ = os.WriteFile(filepath.Join(dir, "task.json"), []byte(`{"id":"T-1"}`), 0644)
	}()

	data, err := WaitForFile(ctx, dir, "task.json", nil)
	if err != nil {
		t.Fatalf("WaitForFile() error = %v", err)
	}
	if string(data) != `{"id":"T-1"}` {
		t.Errorf("data = %q", data)
	}
}

func TestWaitForFile_AlreadyPresent(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "task.json"), []byte("id: T-2"), 0644); err != nil {
		t.Fatal(err)
	}
	data, err := WaitForFile(context.Background(), dir, "task.json", nil)
	if err != nil || string(data) != "id: T-2" {
		t.Errorf("WaitForFile() = %q, %v", data, err)
	}
}

func TestWaitForFile_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancelCause(context.Background())
	cause := errors.New("chooser exited")
	cancel(cause)

	_, err := WaitForFile(ctx, t.TempDir(), "task.json", nil)
	if !errors.Is(err, cause) {
		t.Errorf("WaitForFile() error = %v, want cause", err)
	}
}
