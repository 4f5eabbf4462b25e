package backlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

type journalEntry struct {
	id   string
	undo Update
}

// Journal records updates made through it so they can be reverted. It is
// used for speculative writes made before a task has been claimed.
type Journal struct {
	IssueSource

	mu      sync.Mutex
	entries []journalEntry
}

// NewJournal wraps source.
func NewJournal(source IssueSource) *Journal {
	return &Journal{IssueSource: source}
}

// Update applies u and remembers how to undo it.
func (j *Journal) Update(ctx context.Context, id string, u Update) error {
	before, err := j.IssueSource.Get(ctx, id)
	if err != nil {
		return err
	}
	if err := j.IssueSource.Update(ctx, id, u); err != nil {
		return err
	}
	j.mu.Lock()
	j.entries = append(j.entries, journalEntry{id: id, undo: u.inverse(before)})
	j.mu.Unlock()
	return nil
}

// Len returns the number of recorded updates.
func (j *Journal) Len() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return len(j.entries)
}

// Commit forgets every recorded update.
func (j *Journal) Commit() {
	j.mu.Lock()
	j.entries = nil
	j.mu.Unlock()
}

// Revert undoes recorded updates newest first. Every entry is attempted;
// failures are joined. Tasks that no longer exist are skipped.
func (j *Journal) Revert(ctx context.Context) error {
	j.mu.Lock()
	entries := j.entries
	j.entries = nil
	j.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		err := j.IssueSource.Update(ctx, e.id, e.undo)
		if err != nil && !errors.Is(err, ErrTaskNotFound) {
			errs = append(errs, fmt.Errorf("revert %s: %w", e.id, err))
		}
	}
	return errors.Join(errs...)
}
