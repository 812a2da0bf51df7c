/*
reconcile.go - Week upsert: diff a desired row set against persisted rows

ALGORITHM (per payload row):
  1. Normalize entries into a day -> {minutes, note} map
  2. Normalize location, resolve country (payload, else company default)
  3. Enforce office-country and HYBRID employee-country rules
  4. Existing id: row must exist and be unlocked; update, sync entries
  5. No id: create row with next sort order, sync entries from empty

  Afterwards every existing unlocked row missing from the payload is
  deleted (entries first), and the timesheet total is recomputed.

Any error aborts the surrounding transaction, so a payload is applied
completely or not at all.
*/
package timesheet

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// RowInput is one desired row of a week upsert.
type RowInput struct {
	ID                  *string
	ActivityLabel       string
	TimeCodeID          *string
	Billable            BillingMode
	Location            string
	CountryCode         string
	EmployeeCountryCode *string
	// Status applies to new rows only.
	Status  *RowStatus
	Entries []EntryInput
}

// EntryInput is the minutes logged on one day of a desired row.
type EntryInput struct {
	Day     string
	Minutes float64
	Note    *string
}

type dayValue struct {
	minutes int
	note    *string
}

type reconcileStats struct {
	created int
	updated int
	deleted int
}

type reconciler struct {
	repo     Repository
	ts       *Timesheet
	period   Period
	settings Settings
	now      time.Time
	newID    func() string

	existing      map[string]*Row
	entriesByRow  map[string][]Entry
	nextSortOrder int
	seen          map[string]bool
	stats         reconcileStats
}

func (r *reconciler) apply(ctx context.Context, inputs []RowInput) error {
	if err := r.load(ctx); err != nil {
		return err
	}

	for i, in := range inputs {
		if err := r.applyRow(ctx, in); err != nil {
			return fmt.Errorf("row %d: %w", i, err)
		}
	}

	if err := r.deleteMissing(ctx); err != nil {
		return err
	}
	return recomputeTotals(ctx, r.repo, r.ts, r.now)
}

func (r *reconciler) load(ctx context.Context) error {
	rows, err := r.repo.ListRows(ctx, r.ts.ID)
	if err != nil {
		return fmt.Errorf("failed to list rows: %w", err)
	}
	entries, err := r.repo.ListEntries(ctx, r.ts.ID)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}

	r.existing = make(map[string]*Row, len(rows))
	r.seen = make(map[string]bool, len(rows))
	for i := range rows {
		r.existing[rows[i].ID] = &rows[i]
		if rows[i].SortOrder >= r.nextSortOrder {
			r.nextSortOrder = rows[i].SortOrder + 1
		}
	}
	r.entriesByRow = make(map[string][]Entry)
	for _, e := range entries {
		if e.RowID != nil {
			r.entriesByRow[*e.RowID] = append(r.entriesByRow[*e.RowID], e)
		}
	}
	return nil
}

func (r *reconciler) applyRow(ctx context.Context, in RowInput) error {
	desired, err := r.normalizeEntries(in.Entries)
	if err != nil {
		return err
	}

	location := normalizeLocation(in.Location, r.settings.DefaultLocation)
	country := normalizeCountry(in.CountryCode)
	if country == "" {
		country = r.settings.DefaultCountryCode
	}
	if country == "" {
		return invalid("countryCode", "no country code given and the company has no default country")
	}
	if location.RequiresOfficeCountry() && !r.settings.IsOfficeCountry(country) {
		return invalid("countryCode", "%s is not an office country of the company (allowed: %s)",
			country, strings.Join(r.settings.OfficeCountryCodes, ", "))
	}

	var employeeCountry *string
	if location == LocationHybrid {
		if in.EmployeeCountryCode == nil || normalizeCountry(*in.EmployeeCountryCode) == "" {
			return invalid("employeeCountryCode", "HYBRID rows require an employee country")
		}
		employeeCountry = strPtr(normalizeCountry(*in.EmployeeCountryCode))
	}

	billable, err := normalizeBilling(in.Billable)
	if err != nil {
		return err
	}

	var row *Row
	if in.ID != nil && *in.ID != "" {
		row = r.existing[*in.ID]
		if row == nil {
			return &NotFoundError{Kind: "row", ID: *in.ID}
		}
		if r.seen[row.ID] {
			return invalid("id", "row %s appears twice in the payload", row.ID)
		}
		if row.Locked {
			return invalid("row", "row %s is locked (%s) and cannot be edited", row.ID, row.Status)
		}
		r.seen[row.ID] = true

		row.ActivityLabel = strings.TrimSpace(in.ActivityLabel)
		row.TimeCodeID = blankToNil(in.TimeCodeID)
		row.Billable = billable
		row.Location = location
		row.CountryCode = country
		row.EmployeeCountryCode = employeeCountry
		row.UpdatedAt = r.now
		if err := r.repo.UpdateRow(ctx, row); err != nil {
			return fmt.Errorf("failed to update row: %w", err)
		}
		r.stats.updated++
		return r.syncEntries(ctx, row, r.entriesByRow[row.ID], desired)
	}

	status := RowDraft
	if in.Status != nil {
		if !in.Status.Valid() {
			return invalid("status", "unknown row status %q", *in.Status)
		}
		status = *in.Status
	}
	row = &Row{
		ID:                  r.newID(),
		TimesheetID:         r.ts.ID,
		ActivityLabel:       strings.TrimSpace(in.ActivityLabel),
		TimeCodeID:          blankToNil(in.TimeCodeID),
		Billable:            billable,
		Location:            location,
		CountryCode:         country,
		EmployeeCountryCode: employeeCountry,
		Status:              status,
		Locked:              LocksRow(status),
		SortOrder:           r.nextSortOrder,
		CreatedAt:           r.now,
		UpdatedAt:           r.now,
	}
	r.nextSortOrder++
	if err := r.repo.CreateRow(ctx, row); err != nil {
		return fmt.Errorf("failed to create row: %w", err)
	}
	r.stats.created++
	return r.syncEntries(ctx, row, nil, desired)
}

// normalizeEntries floors minutes at zero, rounds to the nearest minute
// and drops blank notes. A later input for the same day wins.
func (r *reconciler) normalizeEntries(inputs []EntryInput) (map[string]dayValue, error) {
	desired := make(map[string]dayValue, len(inputs))
	for _, in := range inputs {
		day, err := ParseDay(in.Day)
		if err != nil {
			return nil, invalid("day", "%q is not a valid ISO date", in.Day)
		}
		if !r.period.Contains(day) {
			return nil, invalid("day", "%s is outside the week %s", FormatDay(day), r.period)
		}
		// Bound the float before converting to int.
		rounded := math.Round(math.Max(0, in.Minutes))
		if math.IsNaN(rounded) || rounded > MaxDayMinutes {
			return nil, invalid("minutes", "%g minutes on %s is not between 0 and %d", in.Minutes, FormatDay(day), MaxDayMinutes)
		}
		desired[FormatDay(day)] = dayValue{minutes: int(rounded), note: blankToNil(in.Note)}
	}
	return desired, nil
}

// syncEntries makes the row's entries match desired: positive minutes are
// created or updated (status back to SAVED), zero or absent days deleted.
func (r *reconciler) syncEntries(ctx context.Context, row *Row, existing []Entry, desired map[string]dayValue) error {
	byDay := make(map[string]*Entry, len(existing))
	for i := range existing {
		byDay[FormatDay(existing[i].Day)] = &existing[i]
	}

	days := make([]string, 0, len(desired))
	for day := range desired {
		days = append(days, day)
	}
	sort.Strings(days)

	for _, day := range days {
		want := desired[day]
		e := byDay[day]
		delete(byDay, day)

		if want.minutes <= 0 {
			if e != nil {
				if err := r.deleteEntry(ctx, e); err != nil {
					return err
				}
			}
			continue
		}

		if e == nil {
			d, _ := ParseDay(day)
			e = &Entry{
				ID:          r.newID(),
				CompanyID:   r.ts.CompanyID,
				UserID:      r.ts.UserID,
				TimesheetID: strPtr(r.ts.ID),
				RowID:       strPtr(row.ID),
				TimeCodeID:  row.TimeCodeID,
				Day:         d,
				CreatedAt:   r.now,
			}
			r.mirrorRow(e, row, want)
			if err := r.repo.CreateEntry(ctx, e); err != nil {
				return fmt.Errorf("failed to create entry for %s: %w", day, err)
			}
			continue
		}

		if !EntryEditable(e.Status) {
			if e.DurationMin == want.minutes && equalNote(e.Note, want.note) {
				continue
			}
			return checkEntryEditable(e)
		}
		r.mirrorRow(e, row, want)
		if err := r.repo.UpdateEntry(ctx, e); err != nil {
			return fmt.Errorf("failed to update entry for %s: %w", day, err)
		}
	}

	for _, e := range byDay {
		if err := r.deleteEntry(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (r *reconciler) mirrorRow(e *Entry, row *Row, want dayValue) {
	e.DurationMin = want.minutes
	e.Note = want.note
	e.Country = strPtr(row.CountryCode)
	e.WorkMode = row.Location.WorkMode()
	e.TimeCodeID = row.TimeCodeID
	e.Status = EntrySaved
	e.StatusUpdatedAt = r.now
	e.UpdatedAt = r.now
}

func (r *reconciler) deleteEntry(ctx context.Context, e *Entry) error {
	if err := checkEntryEditable(e); err != nil {
		return err
	}
	if err := r.repo.DeleteEntry(ctx, e.ID); err != nil {
		return fmt.Errorf("failed to delete entry %s: %w", e.ID, err)
	}
	return nil
}

// deleteMissing removes unlocked rows the payload no longer mentions.
func (r *reconciler) deleteMissing(ctx context.Context) error {
	ids := make([]string, 0, len(r.existing))
	for id := range r.existing {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		row := r.existing[id]
		if r.seen[id] || row.Locked {
			continue
		}
		entries := r.entriesByRow[id]
		for i := range entries {
			if err := r.deleteEntry(ctx, &entries[i]); err != nil {
				return err
			}
		}
		if err := r.repo.DeleteRow(ctx, id); err != nil {
			return fmt.Errorf("failed to delete row %s: %w", id, err)
		}
		r.stats.deleted++
	}
	return nil
}

func normalizeBilling(b BillingMode) (BillingMode, error) {
	switch BillingMode(strings.ToUpper(strings.TrimSpace(string(b)))) {
	case "", BillingAuto:
		return BillingAuto, nil
	case BillingBillable:
		return BillingBillable, nil
	case BillingNonBillable, "NON-BILLABLE", "NONBILLABLE":
		return BillingNonBillable, nil
	}
	return "", invalid("billable", "unknown billing mode %q", b)
}

func blankToNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

func equalNote(a, b *string) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
