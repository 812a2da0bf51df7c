/*
backfill.go - One-time migration of flat legacy entries into rows

Runs only for a timesheet with zero rows. Legacy entries (timesheet set, no
row) are grouped by (time code, work mode, country); each group becomes one
row and its entries are re-homed under it, merging entries that share a day.
Once rows exist the backfill never runs again for that timesheet.

ROW DERIVATION:
  location      work mode: office -> OFFICE, remote -> HOMEWORKING,
                hybrid -> HYBRID
  country       group country, else company default, else first office
                country, else "US"
  employee ctry the row country, HOMEWORKING and HYBRID only
  billable      time code default; AUTO is billable unless the catalog
                type is NON_BILLABLE
  status        highest rank over member entries and the timesheet
  locked        status is submitted or approved

Merged days above MaxDayMinutes are capped at MaxDayMinutes and logged as
a warning.
*/
package timesheet

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"
)

const unassignedActivity = "Unassigned"

type legacyGroupKey struct {
	timeCodeID string
	workMode   WorkMode
	country    string
}

type legacyGroup struct {
	key     legacyGroupKey
	entries []Entry
}

// backfill returns the number of rows created. codes holds the catalog
// entries prefetched for the legacy time codes; a missing id is treated as
// an unknown time code.
func (s *Service) backfill(ctx context.Context, repo Repository, ts *Timesheet, settings Settings, codes map[string]*TimeCode) (int, error) {
	all, err := repo.ListEntries(ctx, ts.ID)
	if err != nil {
		return 0, fmt.Errorf("failed to list legacy entries: %w", err)
	}
	var legacy []Entry
	for _, e := range all {
		if e.IsLegacy() {
			legacy = append(legacy, e)
		}
	}
	if len(legacy) == 0 {
		return 0, nil
	}

	now := s.now().UTC()
	groups := groupLegacyEntries(legacy)
	for i, g := range groups {
		row := s.legacyRow(ts, g, settings, codes, i, now)
		if err := repo.CreateRow(ctx, row); err != nil {
			return 0, fmt.Errorf("failed to create backfilled row: %w", err)
		}
		if err := s.rehomeEntries(ctx, repo, row, g.entries, now); err != nil {
			return 0, err
		}
	}

	if err := recomputeTotals(ctx, repo, ts, now); err != nil {
		return 0, err
	}
	return len(groups), nil
}

// groupLegacyEntries groups entries in order of first appearance by day.
func groupLegacyEntries(entries []Entry) []*legacyGroup {
	sorted := append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].Day.Equal(sorted[j].Day) {
			return sorted[i].Day.Before(sorted[j].Day)
		}
		return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
	})

	index := make(map[legacyGroupKey]*legacyGroup)
	var groups []*legacyGroup
	for _, e := range sorted {
		key := legacyGroupKey{workMode: e.WorkMode}
		if e.TimeCodeID != nil {
			key.timeCodeID = *e.TimeCodeID
		}
		if e.Country != nil {
			key.country = normalizeCountry(*e.Country)
		}
		g, ok := index[key]
		if !ok {
			g = &legacyGroup{key: key}
			index[key] = g
			groups = append(groups, g)
		}
		g.entries = append(g.entries, e)
	}
	return groups
}

func (s *Service) legacyRow(ts *Timesheet, g *legacyGroup, settings Settings, codes map[string]*TimeCode, sortOrder int, now time.Time) *Row {
	location := g.key.workMode.Location()

	country := g.key.country
	if country == "" {
		country = settings.FallbackCountry()
	}
	var employeeCountry *string
	if location == LocationHomeworking || location == LocationHybrid {
		employeeCountry = strPtr(country)
	}

	var timeCodeID *string
	var tc *TimeCode
	if g.key.timeCodeID != "" {
		timeCodeID = strPtr(g.key.timeCodeID)
		tc = codes[g.key.timeCodeID]
	}

	label := unassignedActivity
	switch {
	case tc != nil && tc.Label != "":
		label = tc.Label
	case timeCodeID != nil:
		label = *timeCodeID
	}

	statuses := []RowStatus{RowStatusForTimesheet(ts.Status)}
	for _, e := range g.entries {
		statuses = append(statuses, RowStatusForEntry(e.Status))
	}
	status := DeriveRowStatus(statuses...)

	return &Row{
		ID:                  s.newID(),
		TimesheetID:         ts.ID,
		ActivityLabel:       label,
		TimeCodeID:          timeCodeID,
		Billable:            resolveBilling(tc),
		Location:            location,
		CountryCode:         country,
		EmployeeCountryCode: employeeCountry,
		Status:              status,
		Locked:              LocksRow(status),
		SortOrder:           sortOrder,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// prefetchTimeCodes loads the catalog entries referenced by the legacy
// entries of a row-less timesheet, outside any transaction. A missing
// catalog entry is treated as absent; other catalog failures propagate.
func (s *Service) prefetchTimeCodes(ctx context.Context, companyID, userID string, period Period) (map[string]*TimeCode, error) {
	codes := make(map[string]*TimeCode)
	if s.catalog == nil {
		return codes, nil
	}
	ts, err := s.store.FindTimesheet(ctx, companyID, userID, period)
	if err != nil || ts == nil {
		return codes, err
	}
	rows, err := s.store.ListRows(ctx, ts.ID)
	if err != nil || len(rows) > 0 {
		return codes, err
	}
	entries, err := s.store.ListEntries(ctx, ts.ID)
	if err != nil {
		return codes, err
	}

	for _, e := range entries {
		if !e.IsLegacy() || e.TimeCodeID == nil {
			continue
		}
		id := *e.TimeCodeID
		if _, done := codes[id]; done {
			continue
		}
		tc, err := s.catalog.GetTimeCode(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				return nil, fmt.Errorf("failed to load time code %s: %w", id, err)
			}
			s.log.Warn("legacy entries reference unknown time code", zap.String("time_code_id", id))
		}
		codes[id] = tc
	}
	return codes, nil
}

// resolveBilling derives a concrete billing mode from a catalog entry.
func resolveBilling(tc *TimeCode) BillingMode {
	if tc == nil {
		return BillingBillable
	}
	switch tc.BillableDefault {
	case BillingBillable:
		return BillingBillable
	case BillingNonBillable:
		return BillingNonBillable
	}
	if tc.Type == string(BillingNonBillable) {
		return BillingNonBillable
	}
	return BillingBillable
}

// rehomeEntries attaches the group's entries to row. Entries sharing a day
// collapse into the first one: minutes are summed and capped at
// MaxDayMinutes, the first non-empty note is kept and the extras are
// deleted.
func (s *Service) rehomeEntries(ctx context.Context, repo Repository, row *Row, entries []Entry, now time.Time) error {
	byDay := make(map[string][]Entry)
	var days []string
	for _, e := range entries {
		day := FormatDay(e.Day)
		if _, ok := byDay[day]; !ok {
			days = append(days, day)
		}
		byDay[day] = append(byDay[day], e)
	}

	for _, day := range days {
		group := byDay[day]
		keep := group[0]
		total := 0
		var note *string
		for _, e := range group {
			total += e.DurationMin
			if note == nil {
				note = blankToNil(e.Note)
			}
		}

		for _, extra := range group[1:] {
			if err := repo.DeleteEntry(ctx, extra.ID); err != nil {
				return fmt.Errorf("failed to delete merged entry %s: %w", extra.ID, err)
			}
		}
		if total > MaxDayMinutes {
			s.log.Warn("legacy minutes exceed the daily maximum, capping",
				zap.String("timesheet_id", row.TimesheetID),
				zap.String("row_id", row.ID),
				zap.String("day", day),
				zap.Int("minutes", total),
				zap.Int("max_minutes", MaxDayMinutes),
			)
			total = MaxDayMinutes
		}
		if total <= 0 {
			if err := repo.DeleteEntry(ctx, keep.ID); err != nil {
				return fmt.Errorf("failed to delete empty entry %s: %w", keep.ID, err)
			}
			continue
		}

		keep.RowID = strPtr(row.ID)
		keep.DurationMin = total
		keep.Note = note
		keep.WorkMode = row.Location.WorkMode()
		keep.Country = strPtr(row.CountryCode)
		keep.UpdatedAt = now
		if err := repo.UpdateEntry(ctx, &keep); err != nil {
			return fmt.Errorf("failed to re-home entry %s: %w", keep.ID, err)
		}
	}
	return nil
}
