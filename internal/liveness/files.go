package liveness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// WaitForFile blocks until dir/name exists and accept approves its
// contents. A nil accept takes any non-empty file.
func WaitForFile(ctx context.Context, dir, name string, accept func([]byte) bool) ([]byte, error) {
	if accept == nil {
		accept = func(b []byte) bool { return len(b) > 0 }
	}
	path := filepath.Join(dir, name)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	defer watcher.Close()
	if err := watcher.Add(dir); err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}

	// The file may have been written before the watch was registered.
	if data, ok := readAccepted(path, accept); ok {
		return data, nil
	}

	for {
		select {
		case <-ctx.Done():
			return nil, context.Cause(ctx)
		case event, ok := <-watcher.Events:
			if !ok {
				return nil, fmt.Errorf("watch %s: watcher closed", dir)
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if data, ok := readAccepted(path, accept); ok {
				return data, nil
			}
		case err, ok := <-watcher.Errors:
			if ok && err != nil {
				return nil, fmt.Errorf("watch %s: %w", dir, err)
			}
		}
	}
}

func readAccepted(path string, accept func([]byte) bool) ([]byte, bool) {
	data, err := os.ReadFile(path)
	if err != nil || !accept(data) {
		return nil, false
	}
	return data, true
}
