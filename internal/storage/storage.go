// Package storage is the run history: reports, fix attempts and events of
// past scans.
package storage

import (
	"context"
	"time"

	"github.com/steveyegge/bughunter/internal/events"
	"github.com/steveyegge/bughunter/internal/storage/sqlite"
	"github.com/steveyegge/bughunter/internal/types"
)

// ErrRunNotFound is returned for an unknown run ID or prefix.
var ErrRunNotFound = sqlite.ErrRunNotFound

// EventFilter selects stored events
type EventFilter = sqlite.EventFilter

// Recurrence is a file/category pair reported by several runs
type Recurrence = sqlite.Recurrence

// Store defines the interface for run history backends
type Store interface {
	// Runs
	SaveReport(ctx context.Context, report *types.ProjectReport) error
	RecordRemediation(ctx context.Context, runID string, rem *types.Remediation) error
	ListRuns(ctx context.Context, limit int) ([]*types.RunSummary, error)
	GetRun(ctx context.Context, idOrPrefix string) (*types.ProjectReport, error)
	RecurringFindings(ctx context.Context, minRuns, limit int) ([]Recurrence, error)

	// Events
	StoreEvent(ctx context.Context, event *events.Event) error
	GetEvents(ctx context.Context, filter EventFilter) ([]*events.Event, error)

	// Retention
	DeleteRunsBefore(ctx context.Context, cutoff time.Time) (int, error)

	// Lifecycle
	Close() error
}

// Open opens the SQLite history at path, creating and migrating it if needed.
// The special value ":memory:" creates an in-memory database (useful for tests).
func Open(ctx context.Context, path string) (Store, error) {
	return sqlite.New(ctx, path)
}

// Prune deletes runs older than retentionDays. Zero keeps everything.
func Prune(ctx context.Context, s Store, retentionDays int, now time.Time) (int, error) {
	if retentionDays <= 0 {
		return 0, nil
	}
	return s.DeleteRunsBefore(ctx, now.Add(-time.Duration(retentionDays)*24*time.Hour))
}
