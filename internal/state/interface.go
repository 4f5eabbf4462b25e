package state

import (
	"context"
	"io"

	"github.com/ShayCichocki/taskpilot/internal/backlog"
)

// RunStore persists finished task runs.
type RunStore interface {
	RecordRun(ctx context.Context, r Run) error
	RecentRuns(ctx context.Context, project string, limit int) ([]Run, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store is the full persistence surface used by the CLI.
type Store interface {
	io.Closer
	Migrator
	RunStore
	// Project returns the backlog of one project.
	Project(id string) *ProjectBacklog
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store               = (*DB)(nil)
	_ backlog.IssueSource = (*ProjectBacklog)(nil)
)
