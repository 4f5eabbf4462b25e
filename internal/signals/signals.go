// Package signals implements file-based control signals for a running
// taskpilot, such as the quit request written by `taskpilot quit`.
package signals

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ShayCichocki/taskpilot/internal/logging"
	"github.com/ShayCichocki/taskpilot/internal/worktree"
)

const (
	// DirName is the signals directory inside the control directory.
	DirName = "signals"
	// QuitFile requests a graceful stop when present.
	QuitFile = "quit"
)

// pollInterval is the fallback check when fsnotify is unavailable or
// misses an event.
const pollInterval = 2 * time.Second

// Dir returns <root>/.taskpilot/signals.
func Dir(root string) string {
	return filepath.Join(root, worktree.ControlDirName, DirName)
}

// QuitPath returns the path of the quit signal file for root.
func QuitPath(root string) string {
	return filepath.Join(Dir(root), QuitFile)
}

// SendQuit asks the taskpilot running in root to stop after in-flight
// tasks finish.
func SendQuit(root string) error {
	if err := os.MkdirAll(Dir(root), 0755); err != nil {
		return err
	}
	return os.WriteFile(QuitPath(root), []byte(time.Now().Format(time.RFC3339)), 0644)
}

// Clear removes a stale quit signal.
func Clear(root string) error {
	err := os.Remove(QuitPath(root))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}

// Quit is a one-shot stop request. It fires when the quit file appears or
// Trigger is called.
type Quit struct {
	path string
	log  *logging.Logger

	once sync.Once
	done chan struct{}

	watcher *fsnotify.Watcher
}

// NewQuit returns a Quit that only fires through Trigger.
func NewQuit() *Quit {
	return &Quit{done: make(chan struct{}), log: logging.Nop()}
}

// WatchQuit returns a Quit that also fires when the quit file under root
// is created. It stops watching when ctx ends.
func WatchQuit(ctx context.Context, root string, log *logging.Logger) (*Quit, error) {
	if log == nil {
		log = logging.Nop()
	}
	dir := Dir(root)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}
	q := &Quit{path: QuitPath(root), log: log, done: make(chan struct{})}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Debug("fsnotify unavailable, polling for quit signal", "error", err)
	} else if err := watcher.Add(dir); err != nil {
		watcher.Close()
		log.Debug("cannot watch signals dir, polling for quit signal", "dir", dir, "error", err)
	} else {
		q.watcher = watcher
	}

	if q.present() {
		q.Trigger()
	}
	go q.watch(ctx)
	return q, nil
}

func (q *Quit) present() bool {
	if q.path == "" {
		return false
	}
	_, err := os.Stat(q.path)
	return err == nil
}

func (q *Quit) watch(ctx context.Context) {
	if q.watcher != nil {
		defer q.watcher.Close()
	}
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if q.watcher != nil {
		events = q.watcher.Events
		errs = q.watcher.Errors
	}
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if filepath.Base(ev.Name) == QuitFile && ev.Has(fsnotify.Create|fsnotify.Write) {
				q.Trigger()
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			q.log.Debug("signals watcher error", "error", err)
		case <-ticker.C:
			if q.present() {
				q.Trigger()
			}
		}
	}
}

// Trigger fires the quit request. Safe to call more than once.
func (q *Quit) Trigger() {
	q.once.Do(func() {
		q.log.Info("quit requested, finishing in-flight tasks")
		close(q.done)
	})
}

// Done is closed once quit has been requested.
func (q *Quit) Done() <-chan struct{} {
	return q.done
}

// Requested reports whether quit has been requested.
func (q *Quit) Requested() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
