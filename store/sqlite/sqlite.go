/*
Package sqlite provides a SQLite-backed timesheet.Store and the collaborator
lookups the engine consumes.

INTERFACES IMPLEMENTED:
  timesheet.Store:            timesheets, rows, entries, transactions
  timesheet.SettingsProvider: company_settings
  timesheet.TimeCodeCatalog:  time_codes
  timesheet.UserDirectory:    users
  timesheet.HistoryLog:       history_events (append-only)

KEY TABLES:
  timesheets:      unique per (company_id, user_id, period_start, period_end)
  timesheet_rows:  owned by a timesheet
  entries:         owned by a row; legacy entries have row_id NULL
  history_events:  audit log, ordered by seq

CONSTRAINTS:
  - idx_entries_row_day: at most one entry per (row_id, day)
  - Foreign keys have no ON DELETE CASCADE; the engine deletes entries
    before their row.

CONCURRENCY:
  The pool is capped at one connection and WithTx holds the store mutex for
  the whole transaction. Code running inside WithTx must only use the
  Repository it is handed.

SCHEMA:
  Versioned migrations in migrations/files, applied on New() with
  golang-migrate.

FORMATS:
  Days are stored as YYYY-MM-DD, instants as RFC3339Nano UTC.
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/warp/timesheet-engine/store/sqlite/migrations"
	"github.com/warp/timesheet-engine/timesheet"
)

// ErrDuplicateDay is returned when a row already has an entry on that day.
var ErrDuplicateDay = errors.New("entry already exists for row and day")

// Store implements timesheet.Store and the collaborator interfaces.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// New opens the database at dbPath and applies pending migrations.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return &Store{db: db}, nil
}

// Open opens the database without migrating it.
func Open(dbPath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A second connection would see a different ":memory:" database and
	// would deadlock against an open transaction.
	db.SetMaxOpenConns(1)
	return db, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// repo implements timesheet.Repository over a querier.
type repo struct {
	q querier
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// WithTx runs fn inside a database transaction. Any error rolls back.
func (s *Store) WithTx(ctx context.Context, fn func(timesheet.Repository) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&repo{q: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Store) read() *repo { return &repo{q: s.db} }

func (s *Store) FindTimesheet(ctx context.Context, companyID, userID string, period timesheet.Period) (*timesheet.Timesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().FindTimesheet(ctx, companyID, userID, period)
}

func (s *Store) GetTimesheet(ctx context.Context, id string) (*timesheet.Timesheet, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetTimesheet(ctx, id)
}

func (s *Store) CreateTimesheet(ctx context.Context, ts *timesheet.Timesheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateTimesheet(ctx, ts)
}

func (s *Store) UpdateTimesheet(ctx context.Context, ts *timesheet.Timesheet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateTimesheet(ctx, ts)
}

func (s *Store) ListRows(ctx context.Context, timesheetID string) ([]timesheet.Row, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListRows(ctx, timesheetID)
}

func (s *Store) CreateRow(ctx context.Context, row *timesheet.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateRow(ctx, row)
}

func (s *Store) UpdateRow(ctx context.Context, row *timesheet.Row) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateRow(ctx, row)
}

func (s *Store) DeleteRow(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().DeleteRow(ctx, id)
}

func (s *Store) ListEntries(ctx context.Context, timesheetID string) ([]timesheet.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().ListEntries(ctx, timesheetID)
}

func (s *Store) GetEntry(ctx context.Context, id string) (*timesheet.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.read().GetEntry(ctx, id)
}

func (s *Store) CreateEntry(ctx context.Context, e *timesheet.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().CreateEntry(ctx, e)
}

func (s *Store) UpdateEntry(ctx context.Context, e *timesheet.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().UpdateEntry(ctx, e)
}

func (s *Store) DeleteEntry(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read().DeleteEntry(ctx, id)
}

// =============================================================================
// TIMESHEETS
// =============================================================================

const timesheetColumns = `id, company_id, user_id, period_start, period_end, status,
	submitted_at, submitted_by, approved_at, approver_id, total_minutes, notes,
	created_at, updated_at`

func (r *repo) FindTimesheet(ctx context.Context, companyID, userID string, period timesheet.Period) (*timesheet.Timesheet, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+timesheetColumns+` FROM timesheets
		WHERE company_id = ? AND user_id = ? AND period_start = ? AND period_end = ?`,
		companyID, userID, period.StartString(), period.EndString())
	return scanTimesheet(row)
}

func (r *repo) GetTimesheet(ctx context.Context, id string) (*timesheet.Timesheet, error) {
	row := r.q.QueryRowContext(ctx, `SELECT `+timesheetColumns+` FROM timesheets WHERE id = ?`, id)
	return scanTimesheet(row)
}

func (r *repo) CreateTimesheet(ctx context.Context, ts *timesheet.Timesheet) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO timesheets (`+timesheetColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ts.ID, ts.CompanyID, ts.UserID,
		timesheet.FormatDay(ts.PeriodStart), timesheet.FormatDay(ts.PeriodEnd), string(ts.Status),
		nullTime(ts.SubmittedAt), nullString(ts.SubmittedBy),
		nullTime(ts.ApprovedAt), nullString(ts.ApproverID),
		ts.TotalMinutes, ts.Notes,
		formatTime(ts.CreatedAt), formatTime(ts.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert timesheet: %w", err)
	}
	return nil
}

func (r *repo) UpdateTimesheet(ctx context.Context, ts *timesheet.Timesheet) error {
	res, err := r.q.ExecContext(ctx, `UPDATE timesheets SET
		status = ?, submitted_at = ?, submitted_by = ?, approved_at = ?, approver_id = ?,
		total_minutes = ?, notes = ?, updated_at = ?
		WHERE id = ?`,
		string(ts.Status), nullTime(ts.SubmittedAt), nullString(ts.SubmittedBy),
		nullTime(ts.ApprovedAt), nullString(ts.ApproverID),
		ts.TotalMinutes, ts.Notes, formatTime(ts.UpdatedAt), ts.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update timesheet: %w", err)
	}
	return expectOne(res, "timesheet", ts.ID)
}

func scanTimesheet(row *sql.Row) (*timesheet.Timesheet, error) {
	var (
		ts                      timesheet.Timesheet
		start, end, status      string
		submittedAt, approvedAt sql.NullString
		submittedBy, approverID sql.NullString
		createdAt, updatedAt    string
	)
	err := row.Scan(&ts.ID, &ts.CompanyID, &ts.UserID, &start, &end, &status,
		&submittedAt, &submittedBy, &approvedAt, &approverID, &ts.TotalMinutes, &ts.Notes,
		&createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan timesheet: %w", err)
	}

	ts.PeriodStart, _ = timesheet.ParseDay(start)
	ts.PeriodEnd, _ = timesheet.ParseDay(end)
	ts.Status = timesheet.TimesheetStatus(status)
	ts.SubmittedAt = parseNullTime(submittedAt)
	ts.SubmittedBy = stringPtr(submittedBy)
	ts.ApprovedAt = parseNullTime(approvedAt)
	ts.ApproverID = stringPtr(approverID)
	ts.CreatedAt = parseTime(createdAt)
	ts.UpdatedAt = parseTime(updatedAt)
	return &ts, nil
}

// =============================================================================
// ROWS
// =============================================================================

const rowColumns = `id, timesheet_id, activity_label, time_code_id, billable, location,
	country_code, employee_country_code, status, locked, sort_order, created_at, updated_at`

func (r *repo) ListRows(ctx context.Context, timesheetID string) ([]timesheet.Row, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+rowColumns+` FROM timesheet_rows
		WHERE timesheet_id = ? ORDER BY sort_order, id`, timesheetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query rows: %w", err)
	}
	defer rows.Close()

	var result []timesheet.Row
	for rows.Next() {
		var (
			row                         timesheet.Row
			billable, location, status  string
			timeCodeID, employeeCountry sql.NullString
			createdAt, updatedAt        string
		)
		if err := rows.Scan(&row.ID, &row.TimesheetID, &row.ActivityLabel, &timeCodeID, &billable, &location,
			&row.CountryCode, &employeeCountry, &status, &row.Locked, &row.SortOrder, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		row.TimeCodeID = stringPtr(timeCodeID)
		row.Billable = timesheet.BillingMode(billable)
		row.Location = timesheet.Location(location)
		row.EmployeeCountryCode = stringPtr(employeeCountry)
		row.Status = timesheet.RowStatus(status)
		row.CreatedAt = parseTime(createdAt)
		row.UpdatedAt = parseTime(updatedAt)
		result = append(result, row)
	}
	return result, rows.Err()
}

func (r *repo) CreateRow(ctx context.Context, row *timesheet.Row) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO timesheet_rows (`+rowColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		row.ID, row.TimesheetID, row.ActivityLabel, nullString(row.TimeCodeID),
		string(row.Billable), string(row.Location), row.CountryCode, nullString(row.EmployeeCountryCode),
		string(row.Status), row.Locked, row.SortOrder, formatTime(row.CreatedAt), formatTime(row.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert row: %w", err)
	}
	return nil
}

func (r *repo) UpdateRow(ctx context.Context, row *timesheet.Row) error {
	res, err := r.q.ExecContext(ctx, `UPDATE timesheet_rows SET
		activity_label = ?, time_code_id = ?, billable = ?, location = ?, country_code = ?,
		employee_country_code = ?, status = ?, locked = ?, sort_order = ?, updated_at = ?
		WHERE id = ?`,
		row.ActivityLabel, nullString(row.TimeCodeID), string(row.Billable), string(row.Location),
		row.CountryCode, nullString(row.EmployeeCountryCode), string(row.Status), row.Locked,
		row.SortOrder, formatTime(row.UpdatedAt), row.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update row: %w", err)
	}
	return expectOne(res, "row", row.ID)
}

func (r *repo) DeleteRow(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM timesheet_rows WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete row: %w", err)
	}
	return nil
}

// =============================================================================
// ENTRIES
// =============================================================================

const entryColumns = `id, company_id, user_id, timesheet_id, row_id, time_code_id, day,
	duration_min, note, country, work_mode, status, status_updated_at, created_at, updated_at`

func (r *repo) ListEntries(ctx context.Context, timesheetID string) ([]timesheet.Entry, error) {
	rows, err := r.q.QueryContext(ctx, `SELECT `+entryColumns+` FROM entries
		WHERE timesheet_id = ? ORDER BY day, created_at, id`, timesheetID)
	if err != nil {
		return nil, fmt.Errorf("failed to query entries: %w", err)
	}
	defer rows.Close()

	var result []timesheet.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *e)
	}
	return result, rows.Err()
}

func (r *repo) GetEntry(ctx context.Context, id string) (*timesheet.Entry, error) {
	e, err := scanEntry(r.q.QueryRowContext(ctx, `SELECT `+entryColumns+` FROM entries WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	return e, err
}

func (r *repo) CreateEntry(ctx context.Context, e *timesheet.Entry) error {
	_, err := r.q.ExecContext(ctx, `INSERT INTO entries (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CompanyID, e.UserID, nullString(e.TimesheetID), nullString(e.RowID), nullString(e.TimeCodeID),
		timesheet.FormatDay(e.Day), e.DurationMin, nullString(e.Note), nullString(e.Country),
		string(e.WorkMode), string(e.Status), formatTime(e.StatusUpdatedAt),
		formatTime(e.CreatedAt), formatTime(e.UpdatedAt),
	)
	if err != nil {
		return entryWriteError("insert", err)
	}
	return nil
}

func (r *repo) UpdateEntry(ctx context.Context, e *timesheet.Entry) error {
	res, err := r.q.ExecContext(ctx, `UPDATE entries SET
		timesheet_id = ?, row_id = ?, time_code_id = ?, day = ?, duration_min = ?, note = ?,
		country = ?, work_mode = ?, status = ?, status_updated_at = ?, updated_at = ?
		WHERE id = ?`,
		nullString(e.TimesheetID), nullString(e.RowID), nullString(e.TimeCodeID),
		timesheet.FormatDay(e.Day), e.DurationMin, nullString(e.Note), nullString(e.Country),
		string(e.WorkMode), string(e.Status), formatTime(e.StatusUpdatedAt), formatTime(e.UpdatedAt),
		e.ID,
	)
	if err != nil {
		return entryWriteError("update", err)
	}
	return expectOne(res, "entry", e.ID)
}

func (r *repo) DeleteEntry(ctx context.Context, id string) error {
	if _, err := r.q.ExecContext(ctx, `DELETE FROM entries WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete entry: %w", err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEntry(sc scanner) (*timesheet.Entry, error) {
	var (
		e                                   timesheet.Entry
		timesheetID, rowID, timeCodeID      sql.NullString
		note, country                       sql.NullString
		day, workMode, status               string
		statusUpdatedAt, createdAt, updated string
	)
	err := sc.Scan(&e.ID, &e.CompanyID, &e.UserID, &timesheetID, &rowID, &timeCodeID, &day,
		&e.DurationMin, &note, &country, &workMode, &status, &statusUpdatedAt, &createdAt, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan entry: %w", err)
	}

	e.TimesheetID = stringPtr(timesheetID)
	e.RowID = stringPtr(rowID)
	e.TimeCodeID = stringPtr(timeCodeID)
	e.Day, _ = timesheet.ParseDay(day)
	e.Note = stringPtr(note)
	e.Country = stringPtr(country)
	e.WorkMode = timesheet.WorkMode(workMode)
	e.Status = timesheet.EntryStatus(status)
	e.StatusUpdatedAt = parseTime(statusUpdatedAt)
	e.CreatedAt = parseTime(createdAt)
	e.UpdatedAt = parseTime(updated)
	return &e, nil
}

func entryWriteError(op string, err error) error {
	var se sqlite3.Error
	if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
		return ErrDuplicateDay
	}
	return fmt.Errorf("failed to %s entry: %w", op, err)
}

// =============================================================================
// HELPERS
// =============================================================================

func expectOne(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &timesheet.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func parseNullTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := parseTime(ns.String)
	return &t
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func encodeJSON(v map[string]any) (sql.NullString, error) {
	if len(v) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeJSON(ns sql.NullString) map[string]any {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var v map[string]any
	if err := json.Unmarshal([]byte(ns.String), &v); err != nil {
		return nil
	}
	return v
}
