/*
Package timesheet implements weekly time tracking: the row/entry model, the
week reconciler, the legacy backfill and the submit/approve/reject workflow.

KEY CONCEPTS IN THIS FILE (types.go):
  - Timesheet: per-user, per-week aggregate root and its workflow status
  - Row: one activity/time-code x location x country grouping for the week
  - Entry: minutes logged for one row on one calendar day

OWNERSHIP:
  Timesheet owns Rows, Row owns Entries. Deletes cascade top-down through
  the engine (entries first, then the row) rather than through database
  cascade rules, so invariants are checked before commit.

  Legacy entries have TimesheetID set but no RowID until backfilled.

SEE ALSO:
  - reconcile.go: week upsert
  - backfill.go: legacy entry migration
  - workflow.go: status transitions
*/
package timesheet

import "time"

// =============================================================================
// STATUSES
// =============================================================================

type TimesheetStatus string

const (
	TimesheetDraft     TimesheetStatus = "DRAFT"
	TimesheetSubmitted TimesheetStatus = "SUBMITTED"
	TimesheetApproved  TimesheetStatus = "APPROVED"
	TimesheetRejected  TimesheetStatus = "REJECTED"
)

type RowStatus string

const (
	RowDraft     RowStatus = "draft"
	RowSubmitted RowStatus = "submitted"
	RowApproved  RowStatus = "approved"
	RowRejected  RowStatus = "rejected"
)

// Valid reports whether s is a known row status.
func (s RowStatus) Valid() bool {
	switch s {
	case RowDraft, RowSubmitted, RowApproved, RowRejected:
		return true
	}
	return false
}

type EntryStatus string

const (
	EntrySaved           EntryStatus = "SAVED"
	EntryPendingApproval EntryStatus = "PENDING_APPROVAL"
	EntryApproved        EntryStatus = "APPROVED"
	EntryRejected        EntryStatus = "REJECTED"
	EntryInvoiced        EntryStatus = "INVOICED"
)

// =============================================================================
// LOCATION / WORK MODE / BILLING
// =============================================================================

type Location string

const (
	LocationOffice      Location = "OFFICE"
	LocationHomeworking Location = "HOMEWORKING"
	LocationHybrid      Location = "HYBRID"
)

// WorkMode is the per-entry mirror of the owning row's location.
type WorkMode string

const (
	WorkModeOffice WorkMode = "office"
	WorkModeRemote WorkMode = "remote"
	WorkModeHybrid WorkMode = "hybrid"
)

// WorkMode returns the entry work mode that mirrors this location.
func (l Location) WorkMode() WorkMode {
	switch l {
	case LocationHomeworking:
		return WorkModeRemote
	case LocationHybrid:
		return WorkModeHybrid
	default:
		return WorkModeOffice
	}
}

// Location returns the row location a legacy work mode maps to.
func (m WorkMode) Location() Location {
	switch m {
	case WorkModeRemote:
		return LocationHomeworking
	case WorkModeHybrid:
		return LocationHybrid
	default:
		return LocationOffice
	}
}

// RequiresOfficeCountry is true for locations that must use a configured
// office country.
func (l Location) RequiresOfficeCountry() bool {
	return l == LocationOffice || l == LocationHybrid
}

type BillingMode string

const (
	BillingBillable    BillingMode = "BILLABLE"
	BillingNonBillable BillingMode = "NON_BILLABLE"
	BillingAuto        BillingMode = "AUTO"
)

// =============================================================================
// PERSISTED SHAPES
// =============================================================================

// Timesheet is unique per (CompanyID, UserID, PeriodStart, PeriodEnd).
type Timesheet struct {
	ID          string
	CompanyID   string
	UserID      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	Status      TimesheetStatus

	SubmittedAt *time.Time
	SubmittedBy *string
	ApprovedAt  *time.Time
	ApproverID  *string

	// TotalMinutes caches the sum of DurationMin over all row entries.
	TotalMinutes int
	Notes        string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Period returns the timesheet's period.
func (t *Timesheet) Period() Period {
	return Period{Start: t.PeriodStart, End: t.PeriodEnd}
}

type Row struct {
	ID                  string
	TimesheetID         string
	ActivityLabel       string
	TimeCodeID          *string
	Billable            BillingMode
	Location            Location
	CountryCode         string
	EmployeeCountryCode *string // HYBRID rows, and HOMEWORKING rows created by backfill
	Status              RowStatus
	Locked              bool
	SortOrder           int

	CreatedAt time.Time
	UpdatedAt time.Time
}

type Entry struct {
	ID          string
	CompanyID   string
	UserID      string
	TimesheetID *string
	RowID       *string
	// TimeCodeID is only meaningful for legacy entries; it drives backfill
	// grouping.
	TimeCodeID *string

	Day         time.Time
	DurationMin int
	Note        *string
	Country     *string
	WorkMode    WorkMode

	Status          EntryStatus
	StatusUpdatedAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsLegacy is true for entries attached to a timesheet but not to a row.
func (e *Entry) IsLegacy() bool {
	return e.TimesheetID != nil && e.RowID == nil
}

// MaxDayMinutes bounds Entry.DurationMin.
const MaxDayMinutes = 24 * 60

// =============================================================================
// COLLABORATOR SHAPES
// =============================================================================

// CompanySettings is the raw settings record of a company.
type CompanySettings struct {
	CompanyID          string
	DefaultCountryCode *string
	DefaultLocation    Location
	MaxWeeklyMinutes   int
	OfficeCountryCodes []string
	AutoSubmitHour     *int
}

// TimeCode is an activity catalog entry.
type TimeCode struct {
	ID              string
	Label           string
	BillableDefault BillingMode
	// Type is the catalog's own classification; "NON_BILLABLE" forces AUTO
	// defaults to non-billable.
	Type string
}

type HistoryTarget string

const (
	TargetTimesheet HistoryTarget = "timesheet"
	TargetEntry     HistoryTarget = "entry"
)

type HistoryAction string

const (
	ActionSubmitted          HistoryAction = "submitted"
	ActionApproved           HistoryAction = "approved"
	ActionRejected           HistoryAction = "rejected"
	ActionBackfilled         HistoryAction = "backfilled"
	ActionEntryUpdated       HistoryAction = "entry_updated"
	ActionEntryStatusChanged HistoryAction = "entry_status_changed"
)

// HistoryEvent is one append-only audit record.
type HistoryEvent struct {
	ID          string
	CompanyID   string
	UserID      string
	TargetType  HistoryTarget
	TargetID    string
	Action      HistoryAction
	ActorUserID *string
	Reason      *string
	Diff        map[string]any
	Metadata    map[string]any
	OccurredAt  time.Time
}
