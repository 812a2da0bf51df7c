package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/warp/timesheet-engine/timesheet"
)

// =============================================================================
// COMPANY SETTINGS
// =============================================================================

// SaveCompanySettings inserts or replaces the settings record of a company.
func (s *Store) SaveCompanySettings(ctx context.Context, cs timesheet.CompanySettings) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	offices := cs.OfficeCountryCodes
	if offices == nil {
		offices = []string{}
	}
	officesJSON, err := json.Marshal(offices)
	if err != nil {
		return fmt.Errorf("failed to marshal office countries: %w", err)
	}
	var hour sql.NullInt64
	if cs.AutoSubmitHour != nil {
		hour = sql.NullInt64{Int64: int64(*cs.AutoSubmitHour), Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO company_settings (company_id, default_country_code, default_location,
			max_weekly_minutes, office_country_codes, auto_submit_hour)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(company_id) DO UPDATE SET
			default_country_code = excluded.default_country_code,
			default_location = excluded.default_location,
			max_weekly_minutes = excluded.max_weekly_minutes,
			office_country_codes = excluded.office_country_codes,
			auto_submit_hour = excluded.auto_submit_hour`,
		cs.CompanyID, nullString(cs.DefaultCountryCode), string(cs.DefaultLocation),
		cs.MaxWeeklyMinutes, string(officesJSON), hour,
	)
	if err != nil {
		return fmt.Errorf("failed to save company settings: %w", err)
	}
	return nil
}

func (s *Store) GetCompanySettings(ctx context.Context, companyID string) (*timesheet.CompanySettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cs := timesheet.CompanySettings{CompanyID: companyID}
	var (
		defaultCountry sql.NullString
		location       string
		officesJSON    string
		hour           sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT default_country_code, default_location, max_weekly_minutes,
		       office_country_codes, auto_submit_hour
		FROM company_settings WHERE company_id = ?`, companyID,
	).Scan(&defaultCountry, &location, &cs.MaxWeeklyMinutes, &officesJSON, &hour)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &timesheet.NotFoundError{Kind: "company settings", ID: companyID}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load company settings: %w", err)
	}

	cs.DefaultCountryCode = stringPtr(defaultCountry)
	cs.DefaultLocation = timesheet.Location(location)
	if err := json.Unmarshal([]byte(officesJSON), &cs.OfficeCountryCodes); err != nil {
		return nil, fmt.Errorf("failed to decode office countries for %s: %w", companyID, err)
	}
	if hour.Valid {
		h := int(hour.Int64)
		cs.AutoSubmitHour = &h
	}
	return &cs, nil
}

// ListCompanies returns every company with a settings record.
func (s *Store) ListCompanies(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryStrings(ctx, `SELECT company_id FROM company_settings ORDER BY company_id`)
}

// ListOpenTimesheetUsers returns the users of companyID whose timesheet for
// period is DRAFT or REJECTED.
func (s *Store) ListOpenTimesheetUsers(ctx context.Context, companyID string, period timesheet.Period) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryStrings(ctx, `
		SELECT user_id FROM timesheets
		WHERE company_id = ? AND period_start = ? AND period_end = ? AND status IN (?, ?)
		ORDER BY user_id`,
		companyID, period.StartString(), period.EndString(),
		string(timesheet.TimesheetDraft), string(timesheet.TimesheetRejected),
	)
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// =============================================================================
// TIME CODES
// =============================================================================

func (s *Store) SaveTimeCode(ctx context.Context, tc timesheet.TimeCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	billable := tc.BillableDefault
	if billable == "" {
		billable = timesheet.BillingAuto
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO time_codes (id, label, billable_default, type) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			label = excluded.label,
			billable_default = excluded.billable_default,
			type = excluded.type`,
		tc.ID, tc.Label, string(billable), tc.Type,
	)
	if err != nil {
		return fmt.Errorf("failed to save time code: %w", err)
	}
	return nil
}

func (s *Store) GetTimeCode(ctx context.Context, id string) (*timesheet.TimeCode, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	tc := timesheet.TimeCode{ID: id}
	var billable string
	err := s.db.QueryRowContext(ctx,
		`SELECT label, billable_default, type FROM time_codes WHERE id = ?`, id,
	).Scan(&tc.Label, &billable, &tc.Type)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &timesheet.NotFoundError{Kind: "time code", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load time code: %w", err)
	}
	tc.BillableDefault = timesheet.BillingMode(billable)
	return &tc, nil
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) SaveUser(ctx context.Context, companyID, userID, displayName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (company_id, id, display_name) VALUES (?, ?, ?)
		ON CONFLICT(company_id, id) DO UPDATE SET display_name = excluded.display_name`,
		companyID, userID, displayName,
	)
	if err != nil {
		return fmt.Errorf("failed to save user: %w", err)
	}
	return nil
}

func (s *Store) GetUserDisplayName(ctx context.Context, companyID, userID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT display_name FROM users WHERE company_id = ? AND id = ?`, companyID, userID,
	).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", &timesheet.NotFoundError{Kind: "user", ID: userID}
	}
	if err != nil {
		return "", fmt.Errorf("failed to load user: %w", err)
	}
	return name, nil
}

// =============================================================================
// HISTORY (append-only)
// =============================================================================

func (s *Store) Append(ctx context.Context, ev timesheet.HistoryEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	diff, err := encodeJSON(ev.Diff)
	if err != nil {
		return fmt.Errorf("failed to marshal history diff: %w", err)
	}
	meta, err := encodeJSON(ev.Metadata)
	if err != nil {
		return fmt.Errorf("failed to marshal history metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO history_events (id, company_id, user_id, target_type, target_id, action,
			actor_user_id, reason, diff_json, metadata_json, occurred_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM history_events))`,
		ev.ID, ev.CompanyID, ev.UserID, string(ev.TargetType), ev.TargetID, string(ev.Action),
		nullString(ev.ActorUserID), nullString(ev.Reason), diff, meta, formatTime(ev.OccurredAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append history event: %w", err)
	}
	return nil
}

func (s *Store) LatestEvent(ctx context.Context, companyID string, target timesheet.HistoryTarget, targetID string, action timesheet.HistoryAction) (*timesheet.HistoryEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ev := timesheet.HistoryEvent{CompanyID: companyID, TargetType: target, TargetID: targetID, Action: action}
	var (
		actor, reason      sql.NullString
		diffJSON, metaJSON sql.NullString
		occurredAt         string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, user_id, actor_user_id, reason, diff_json, metadata_json, occurred_at
		FROM history_events
		WHERE company_id = ? AND target_type = ? AND target_id = ? AND action = ?
		ORDER BY seq DESC LIMIT 1`,
		companyID, string(target), targetID, string(action),
	).Scan(&ev.ID, &ev.UserID, &actor, &reason, &diffJSON, &metaJSON, &occurredAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load history event: %w", err)
	}

	ev.ActorUserID = stringPtr(actor)
	ev.Reason = stringPtr(reason)
	ev.Diff = decodeJSON(diffJSON)
	ev.Metadata = decodeJSON(metaJSON)
	ev.OccurredAt = parseTime(occurredAt)
	return &ev, nil
}
