/*
store.go - Persistence and collaborator interfaces consumed by the engine

KEY INTERFACES:
  Repository:       timesheets, rows and entries
  Store:            Repository plus all-or-nothing transactions
  SettingsProvider: company settings lookup
  TimeCodeCatalog:  activity/time-code catalog
  UserDirectory:    display names
  HistoryLog:       append-only audit events

LOOKUP CONVENTION:
  Single-record getters return (nil, nil) when the record does not exist.
  Collaborator lookups (settings, time codes, users) return an error wrapping
  ErrNotFound instead.

IMPLEMENTATIONS:
  - store/sqlite: SQLite, migrations via golang-migrate
  - store/memory: in-memory, for tests
*/
package timesheet

import "context"

// =============================================================================
// REPOSITORY
// =============================================================================

type Repository interface {
	// FindTimesheet returns the timesheet for the exact period, or nil.
	FindTimesheet(ctx context.Context, companyID, userID string, period Period) (*Timesheet, error)
	GetTimesheet(ctx context.Context, id string) (*Timesheet, error)
	CreateTimesheet(ctx context.Context, ts *Timesheet) error
	UpdateTimesheet(ctx context.Context, ts *Timesheet) error

	// ListRows returns the timesheet's rows ordered by SortOrder.
	ListRows(ctx context.Context, timesheetID string) ([]Row, error)
	CreateRow(ctx context.Context, row *Row) error
	UpdateRow(ctx context.Context, row *Row) error
	// DeleteRow removes the row only; its entries must be deleted first.
	DeleteRow(ctx context.Context, id string) error

	// ListEntries returns every entry attached to the timesheet, legacy
	// entries included, ordered by day.
	ListEntries(ctx context.Context, timesheetID string) ([]Entry, error)
	GetEntry(ctx context.Context, id string) (*Entry, error)
	CreateEntry(ctx context.Context, e *Entry) error
	UpdateEntry(ctx context.Context, e *Entry) error
	DeleteEntry(ctx context.Context, id string) error
}

// Store wraps Repository with transaction support.
// If fn returns an error nothing it wrote is kept. Concurrent WithTx calls
// are serialized.
type Store interface {
	Repository
	WithTx(ctx context.Context, fn func(Repository) error) error
}

// =============================================================================
// COLLABORATORS
// =============================================================================

type SettingsProvider interface {
	GetCompanySettings(ctx context.Context, companyID string) (*CompanySettings, error)
}

type TimeCodeCatalog interface {
	GetTimeCode(ctx context.Context, timeCodeID string) (*TimeCode, error)
}

type UserDirectory interface {
	GetUserDisplayName(ctx context.Context, companyID, userID string) (string, error)
}

// HistoryLog stores audit events. Append-only.
type HistoryLog interface {
	Append(ctx context.Context, event HistoryEvent) error
	// LatestEvent returns the most recent matching event, or nil.
	LatestEvent(ctx context.Context, companyID string, target HistoryTarget, targetID string, action HistoryAction) (*HistoryEvent, error)
}
