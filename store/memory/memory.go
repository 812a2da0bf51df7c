// Package memory provides an in-memory timesheet.Store and collaborator
// implementations (for testing/dev).
package memory

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"

	"github.com/warp/timesheet-engine/timesheet"
)

var (
	// ErrDuplicateDay mirrors the (row, day) uniqueness constraint.
	ErrDuplicateDay = errors.New("entry already exists for row and day")

	// ErrDurationOutOfRange mirrors the duration CHECK constraint.
	ErrDurationOutOfRange = errors.New("entry duration out of range")
)

// =============================================================================
// MEMORY STORE
// =============================================================================

type Memory struct {
	mu sync.RWMutex
	t  *tables

	settings  map[string]timesheet.CompanySettings
	timeCodes map[string]timesheet.TimeCode
	users     map[userKey]string
	history   []timesheet.HistoryEvent

	historyErr  error
	settingsErr error
}

type userKey struct {
	CompanyID string
	UserID    string
}

type tables struct {
	timesheets map[string]timesheet.Timesheet
	rows       map[string]timesheet.Row
	entries    map[string]timesheet.Entry
}

func newTables() *tables {
	return &tables{
		timesheets: make(map[string]timesheet.Timesheet),
		rows:       make(map[string]timesheet.Row),
		entries:    make(map[string]timesheet.Entry),
	}
}

func (t *tables) clone() *tables {
	return &tables{
		timesheets: maps.Clone(t.timesheets),
		rows:       maps.Clone(t.rows),
		entries:    maps.Clone(t.entries),
	}
}

func New() *Memory {
	return &Memory{
		t:         newTables(),
		settings:  make(map[string]timesheet.CompanySettings),
		timeCodes: make(map[string]timesheet.TimeCode),
		users:     make(map[userKey]string),
	}
}

// WithTx executes fn against a snapshot and restores it if fn fails.
// Transactions are serialized by the store mutex.
func (m *Memory) WithTx(ctx context.Context, fn func(timesheet.Repository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.t.clone()
	if err := fn(m.t); err != nil {
		m.t = snapshot
		return err
	}
	return nil
}

// =============================================================================
// REPOSITORY (locked wrappers)
// =============================================================================

func (m *Memory) FindTimesheet(ctx context.Context, companyID, userID string, period timesheet.Period) (*timesheet.Timesheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.FindTimesheet(ctx, companyID, userID, period)
}

func (m *Memory) GetTimesheet(ctx context.Context, id string) (*timesheet.Timesheet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetTimesheet(ctx, id)
}

func (m *Memory) CreateTimesheet(ctx context.Context, ts *timesheet.Timesheet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.CreateTimesheet(ctx, ts)
}

func (m *Memory) UpdateTimesheet(ctx context.Context, ts *timesheet.Timesheet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.UpdateTimesheet(ctx, ts)
}

func (m *Memory) ListRows(ctx context.Context, timesheetID string) ([]timesheet.Row, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListRows(ctx, timesheetID)
}

func (m *Memory) CreateRow(ctx context.Context, row *timesheet.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.CreateRow(ctx, row)
}

func (m *Memory) UpdateRow(ctx context.Context, row *timesheet.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.UpdateRow(ctx, row)
}

func (m *Memory) DeleteRow(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.DeleteRow(ctx, id)
}

func (m *Memory) ListEntries(ctx context.Context, timesheetID string) ([]timesheet.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.ListEntries(ctx, timesheetID)
}

func (m *Memory) GetEntry(ctx context.Context, id string) (*timesheet.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.t.GetEntry(ctx, id)
}

func (m *Memory) CreateEntry(ctx context.Context, e *timesheet.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.CreateEntry(ctx, e)
}

func (m *Memory) UpdateEntry(ctx context.Context, e *timesheet.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.UpdateEntry(ctx, e)
}

func (m *Memory) DeleteEntry(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.t.DeleteEntry(ctx, id)
}

// =============================================================================
// TABLES (unlocked, also the transactional view)
// =============================================================================

func (t *tables) FindTimesheet(_ context.Context, companyID, userID string, period timesheet.Period) (*timesheet.Timesheet, error) {
	for _, ts := range t.timesheets {
		if ts.CompanyID == companyID && ts.UserID == userID &&
			ts.PeriodStart.Equal(period.Start) && ts.PeriodEnd.Equal(period.End) {
			return &ts, nil
		}
	}
	return nil, nil
}

func (t *tables) GetTimesheet(_ context.Context, id string) (*timesheet.Timesheet, error) {
	ts, ok := t.timesheets[id]
	if !ok {
		return nil, nil
	}
	return &ts, nil
}

func (t *tables) CreateTimesheet(ctx context.Context, ts *timesheet.Timesheet) error {
	existing, _ := t.FindTimesheet(ctx, ts.CompanyID, ts.UserID, ts.Period())
	if existing != nil {
		return fmt.Errorf("timesheet already exists for %s/%s %s", ts.CompanyID, ts.UserID, ts.Period())
	}
	t.timesheets[ts.ID] = *ts
	return nil
}

func (t *tables) UpdateTimesheet(_ context.Context, ts *timesheet.Timesheet) error {
	if _, ok := t.timesheets[ts.ID]; !ok {
		return &timesheet.NotFoundError{Kind: "timesheet", ID: ts.ID}
	}
	t.timesheets[ts.ID] = *ts
	return nil
}

func (t *tables) ListRows(_ context.Context, timesheetID string) ([]timesheet.Row, error) {
	var rows []timesheet.Row
	for _, r := range t.rows {
		if r.TimesheetID == timesheetID {
			rows = append(rows, r)
		}
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].SortOrder != rows[j].SortOrder {
			return rows[i].SortOrder < rows[j].SortOrder
		}
		return rows[i].ID < rows[j].ID
	})
	return rows, nil
}

func (t *tables) CreateRow(_ context.Context, row *timesheet.Row) error {
	if _, ok := t.timesheets[row.TimesheetID]; !ok {
		return &timesheet.NotFoundError{Kind: "timesheet", ID: row.TimesheetID}
	}
	t.rows[row.ID] = *row
	return nil
}

func (t *tables) UpdateRow(_ context.Context, row *timesheet.Row) error {
	if _, ok := t.rows[row.ID]; !ok {
		return &timesheet.NotFoundError{Kind: "row", ID: row.ID}
	}
	t.rows[row.ID] = *row
	return nil
}

func (t *tables) DeleteRow(_ context.Context, id string) error {
	for _, e := range t.entries {
		if e.RowID != nil && *e.RowID == id {
			return fmt.Errorf("row %s still owns entry %s", id, e.ID)
		}
	}
	delete(t.rows, id)
	return nil
}

func (t *tables) ListEntries(_ context.Context, timesheetID string) ([]timesheet.Entry, error) {
	var entries []timesheet.Entry
	for _, e := range t.entries {
		if e.TimesheetID != nil && *e.TimesheetID == timesheetID {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].Day.Equal(entries[j].Day) {
			return entries[i].Day.Before(entries[j].Day)
		}
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID < entries[j].ID
	})
	return entries, nil
}

func (t *tables) GetEntry(_ context.Context, id string) (*timesheet.Entry, error) {
	e, ok := t.entries[id]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (t *tables) CreateEntry(_ context.Context, e *timesheet.Entry) error {
	if err := checkDuration(e); err != nil {
		return err
	}
	if err := t.checkDayUnique(e); err != nil {
		return err
	}
	t.entries[e.ID] = *e
	return nil
}

func (t *tables) UpdateEntry(_ context.Context, e *timesheet.Entry) error {
	if _, ok := t.entries[e.ID]; !ok {
		return &timesheet.NotFoundError{Kind: "entry", ID: e.ID}
	}
	if err := checkDuration(e); err != nil {
		return err
	}
	if err := t.checkDayUnique(e); err != nil {
		return err
	}
	t.entries[e.ID] = *e
	return nil
}

func (t *tables) DeleteEntry(_ context.Context, id string) error {
	delete(t.entries, id)
	return nil
}

func checkDuration(e *timesheet.Entry) error {
	if e.DurationMin < 0 || e.DurationMin > timesheet.MaxDayMinutes {
		return fmt.Errorf("entry %s: %d minutes: %w", e.ID, e.DurationMin, ErrDurationOutOfRange)
	}
	return nil
}

func (t *tables) checkDayUnique(e *timesheet.Entry) error {
	if e.RowID == nil {
		return nil
	}
	for _, other := range t.entries {
		if other.ID != e.ID && other.RowID != nil && *other.RowID == *e.RowID && other.Day.Equal(e.Day) {
			return ErrDuplicateDay
		}
	}
	return nil
}

// =============================================================================
// COLLABORATORS
// =============================================================================

func (m *Memory) SaveCompanySettings(s timesheet.CompanySettings) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[s.CompanyID] = s
}

// FailSettings makes GetCompanySettings return err until reset with nil.
func (m *Memory) FailSettings(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settingsErr = err
}

func (m *Memory) GetCompanySettings(_ context.Context, companyID string) (*timesheet.CompanySettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.settingsErr != nil {
		return nil, m.settingsErr
	}
	s, ok := m.settings[companyID]
	if !ok {
		return nil, &timesheet.NotFoundError{Kind: "company settings", ID: companyID}
	}
	return &s, nil
}

func (m *Memory) SaveTimeCode(tc timesheet.TimeCode) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.timeCodes[tc.ID] = tc
}

func (m *Memory) GetTimeCode(_ context.Context, id string) (*timesheet.TimeCode, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tc, ok := m.timeCodes[id]
	if !ok {
		return nil, &timesheet.NotFoundError{Kind: "time code", ID: id}
	}
	return &tc, nil
}

func (m *Memory) SaveUser(companyID, userID, displayName string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[userKey{companyID, userID}] = displayName
}

func (m *Memory) GetUserDisplayName(_ context.Context, companyID, userID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	name, ok := m.users[userKey{companyID, userID}]
	if !ok {
		return "", &timesheet.NotFoundError{Kind: "user", ID: userID}
	}
	return name, nil
}

// FailHistory makes Append return err until reset with nil.
func (m *Memory) FailHistory(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.historyErr = err
}

func (m *Memory) Append(_ context.Context, ev timesheet.HistoryEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.historyErr != nil {
		return m.historyErr
	}
	m.history = append(m.history, ev)
	return nil
}

func (m *Memory) LatestEvent(_ context.Context, companyID string, target timesheet.HistoryTarget, targetID string, action timesheet.HistoryAction) (*timesheet.HistoryEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for i := len(m.history) - 1; i >= 0; i-- {
		ev := m.history[i]
		if ev.CompanyID == companyID && ev.TargetType == target && ev.TargetID == targetID && ev.Action == action {
			return &ev, nil
		}
	}
	return nil, nil
}

// History returns a copy of every appended event, oldest first.
func (m *Memory) History() []timesheet.HistoryEvent {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]timesheet.HistoryEvent(nil), m.history...)
}

// =============================================================================
// AUTO-SUBMIT QUERIES
// =============================================================================

// ListCompanies returns every company with a settings record, sorted.
func (m *Memory) ListCompanies(_ context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.settings))
	for id := range m.settings {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// ListOpenTimesheetUsers returns the users of companyID whose timesheet for
// period is DRAFT or REJECTED, sorted.
func (m *Memory) ListOpenTimesheetUsers(_ context.Context, companyID string, period timesheet.Period) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var users []string
	for _, ts := range m.t.timesheets {
		if ts.CompanyID != companyID || !ts.PeriodStart.Equal(period.Start) || !ts.PeriodEnd.Equal(period.End) {
			continue
		}
		if ts.Status == timesheet.TimesheetDraft || ts.Status == timesheet.TimesheetRejected {
			users = append(users, ts.UserID)
		}
	}
	sort.Strings(users)
	return users, nil
}
