package timesheet_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet-engine/store/memory"
	"github.com/warp/timesheet-engine/timesheet"
)

// =============================================================================
// LEGACY FIXTURES
// =============================================================================

func seedLegacyTimesheet(t *testing.T, mem *memory.Memory, status timesheet.TimesheetStatus) string {
	t.Helper()
	p, err := timesheet.ResolveWeek(week)
	require.NoError(t, err)
	ts := &timesheet.Timesheet{
		ID:          "ts-legacy",
		CompanyID:   company,
		UserID:      user,
		PeriodStart: p.Start,
		PeriodEnd:   p.End,
		Status:      status,
		CreatedAt:   testNow,
		UpdatedAt:   testNow,
	}
	require.NoError(t, mem.CreateTimesheet(context.Background(), ts))
	return ts.ID
}

type legacy struct {
	day      string
	minutes  int
	timeCode string
	mode     timesheet.WorkMode
	country  string
	note     string
	status   timesheet.EntryStatus
}

func seedLegacyEntries(t *testing.T, mem *memory.Memory, timesheetID string, entries ...legacy) {
	t.Helper()
	for i, l := range entries {
		e := &timesheet.Entry{
			ID:          fmt.Sprintf("legacy-%d", i),
			CompanyID:   company,
			UserID:      user,
			TimesheetID: ptr(timesheetID),
			Day:         day(l.day),
			DurationMin: l.minutes,
			WorkMode:    l.mode,
			Status:      l.status,
			CreatedAt:   testNow.Add(time.Duration(i) * time.Minute),
		}
		if e.WorkMode == "" {
			e.WorkMode = timesheet.WorkModeOffice
		}
		if e.Status == "" {
			e.Status = timesheet.EntrySaved
		}
		if l.timeCode != "" {
			e.TimeCodeID = ptr(l.timeCode)
		}
		if l.country != "" {
			e.Country = ptr(l.country)
		}
		if l.note != "" {
			e.Note = ptr(l.note)
		}
		require.NoError(t, mem.CreateEntry(context.Background(), e))
	}
}

// =============================================================================
// BACKFILL
// =============================================================================

func TestBackfill_MergesSameDayEntries(t *testing.T) {
	// GIVEN: two legacy entries of time code A on the same day
	f := newFixture(t)
	f.mem.SaveTimeCode(timesheet.TimeCode{ID: "A", Label: "Client A", BillableDefault: timesheet.BillingBillable})
	tsID := seedLegacyTimesheet(t, f.mem, timesheet.TimesheetDraft)
	seedLegacyEntries(t, f.mem, tsID,
		legacy{day: "2024-01-01", minutes: 240, timeCode: "A"},
		legacy{day: "2024-01-01", minutes: 120, timeCode: "A", note: "afternoon"},
	)

	// WHEN
	view, err := f.svc.GetWeek(context.Background(), company, user, week)
	require.NoError(t, err)

	// THEN: one row, one entry of 360 minutes
	require.Len(t, view.Rows, 1)
	row := view.Rows[0]
	assert.Equal(t, "Client A", row.ActivityLabel)
	assert.Equal(t, "A", *row.TimeCodeID)
	assert.Equal(t, timesheet.BillingBillable, row.Billable)
	assert.Equal(t, timesheet.LocationOffice, row.Location)
	assert.Equal(t, "FR", row.CountryCode, "company default country")
	require.Len(t, row.Entries, 1)
	assert.Equal(t, "2024-01-01", row.Entries[0].Day)
	assert.Equal(t, 360, row.Entries[0].Minutes)
	assert.Equal(t, "afternoon", *row.Entries[0].Note, "first non-empty note is kept")
	assert.Equal(t, 360, view.TotalMinutes)

	all, err := f.mem.ListEntries(context.Background(), tsID)
	require.NoError(t, err)
	require.Len(t, all, 1, "extra legacy entry is deleted")
	assert.False(t, all[0].IsLegacy())
}

func TestBackfill_GroupsByTimeCodeWorkModeAndCountry(t *testing.T) {
	f := newFixture(t)
	f.mem.SaveTimeCode(timesheet.TimeCode{ID: "A", Label: "Client A", BillableDefault: timesheet.BillingAuto})
	f.mem.SaveTimeCode(timesheet.TimeCode{ID: "INT", Label: "Internal", BillableDefault: timesheet.BillingAuto, Type: "NON_BILLABLE"})
	tsID := seedLegacyTimesheet(t, f.mem, timesheet.TimesheetDraft)
	seedLegacyEntries(t, f.mem, tsID,
		legacy{day: "2024-01-01", minutes: 60, timeCode: "A", mode: timesheet.WorkModeOffice, country: "de"},
		legacy{day: "2024-01-02", minutes: 60, timeCode: "A", mode: timesheet.WorkModeOffice, country: "DE"},
		legacy{day: "2024-01-01", minutes: 30, timeCode: "A", mode: timesheet.WorkModeRemote, country: "PT"},
		legacy{day: "2024-01-03", minutes: 45, timeCode: "INT", mode: timesheet.WorkModeHybrid},
		legacy{day: "2024-01-04", minutes: 15, timeCode: "GONE"},
		legacy{day: "2024-01-05", minutes: 10},
	)

	view, err := f.svc.GetWeek(context.Background(), company, user, week)
	require.NoError(t, err)
	require.Len(t, view.Rows, 5)
	assertTotalsConsistent(t, view)

	office := view.Rows[0]
	assert.Equal(t, timesheet.LocationOffice, office.Location)
	assert.Equal(t, "DE", office.CountryCode)
	assert.Nil(t, office.EmployeeCountryCode)
	assert.Equal(t, timesheet.BillingBillable, office.Billable, "AUTO is billable by default")
	assert.Len(t, office.Entries, 2)

	remote := view.Rows[1]
	assert.Equal(t, timesheet.LocationHomeworking, remote.Location)
	assert.Equal(t, "PT", remote.CountryCode)
	assert.Equal(t, "PT", *remote.EmployeeCountryCode)

	hybrid := view.Rows[2]
	assert.Equal(t, timesheet.LocationHybrid, hybrid.Location)
	assert.Equal(t, "Internal", hybrid.ActivityLabel)
	assert.Equal(t, timesheet.BillingNonBillable, hybrid.Billable, "catalog type overrides AUTO")
	assert.Equal(t, "FR", hybrid.CountryCode)
	assert.Equal(t, "FR", *hybrid.EmployeeCountryCode)

	unknown := view.Rows[3]
	assert.Equal(t, "GONE", unknown.ActivityLabel, "unknown time code falls back to its id")
	assert.Equal(t, timesheet.BillingBillable, unknown.Billable)

	unassigned := view.Rows[4]
	assert.Equal(t, "Unassigned", unassigned.ActivityLabel)
	assert.Nil(t, unassigned.TimeCodeID)

	for i, rv := range view.Rows {
		assert.Equal(t, i, rv.SortOrder)
	}
	assert.Equal(t, 1, f.logs.FilterMessage("legacy entries reference unknown time code").Len())
}

func TestBackfill_CapsMergedDayAtMaximum(t *testing.T) {
	// GIVEN: two legacy entries that together exceed a day
	f := newFixture(t)
	ctx := context.Background()
	tsID := seedLegacyTimesheet(t, f.mem, timesheet.TimesheetDraft)
	seedLegacyEntries(t, f.mem, tsID,
		legacy{day: "2024-01-01", minutes: 900},
		legacy{day: "2024-01-01", minutes: 900},
	)

	// WHEN
	view, err := f.svc.GetWeek(ctx, company, user, week)
	require.NoError(t, err)

	// THEN: the merged entry is capped and the week stays readable
	require.Len(t, view.Rows, 1)
	require.Len(t, view.Rows[0].Entries, 1)
	assert.Equal(t, timesheet.MaxDayMinutes, view.Rows[0].Entries[0].Minutes)
	assert.Equal(t, timesheet.MaxDayMinutes, view.TotalMinutes)
	assert.Equal(t, 1, f.logs.FilterMessage("legacy minutes exceed the daily maximum, capping").Len())

	again, err := f.svc.GetWeek(ctx, company, user, week)
	require.NoError(t, err)
	assert.Equal(t, view.Rows, again.Rows)
}

func TestBackfill_EntriesTakeRowCountry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tsID := seedLegacyTimesheet(t, f.mem, timesheet.TimesheetDraft)
	seedLegacyEntries(t, f.mem, tsID,
		legacy{day: "2024-01-01", minutes: 60, mode: timesheet.WorkModeOffice},
		legacy{day: "2024-01-02", minutes: 60, mode: timesheet.WorkModeRemote, country: "pt"},
	)

	view, err := f.svc.GetWeek(ctx, company, user, week)
	require.NoError(t, err)
	require.Len(t, view.Rows, 2)

	byRow := map[string]string{}
	for _, rv := range view.Rows {
		byRow[rv.ID] = rv.CountryCode
	}
	entries, err := f.mem.ListEntries(ctx, tsID)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		require.NotNil(t, e.RowID)
		require.NotNil(t, e.Country, "entry %s", e.ID)
		assert.Equal(t, byRow[*e.RowID], *e.Country)
	}
	assert.Equal(t, "FR", byRow[view.Rows[0].ID])
	assert.Equal(t, "PT", byRow[view.Rows[1].ID])
}

func TestBackfill_DerivesStatusAndLock(t *testing.T) {
	tests := []struct {
		name      string
		timesheet timesheet.TimesheetStatus
		entries   []timesheet.EntryStatus
		want      timesheet.RowStatus
		locked    bool
	}{
		{"all saved", timesheet.TimesheetDraft, []timesheet.EntryStatus{timesheet.EntrySaved}, timesheet.RowDraft, false},
		{"pending entry", timesheet.TimesheetDraft, []timesheet.EntryStatus{timesheet.EntrySaved, timesheet.EntryPendingApproval}, timesheet.RowSubmitted, true},
		{"submitted timesheet", timesheet.TimesheetSubmitted, []timesheet.EntryStatus{timesheet.EntrySaved}, timesheet.RowSubmitted, true},
		{"rejected beats submitted", timesheet.TimesheetSubmitted, []timesheet.EntryStatus{timesheet.EntryRejected}, timesheet.RowRejected, false},
		{"approved beats rejected", timesheet.TimesheetRejected, []timesheet.EntryStatus{timesheet.EntryApproved}, timesheet.RowApproved, true},
		{"invoiced counts as approved", timesheet.TimesheetDraft, []timesheet.EntryStatus{timesheet.EntryInvoiced}, timesheet.RowApproved, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			tsID := seedLegacyTimesheet(t, f.mem, tt.timesheet)
			var entries []legacy
			for i, s := range tt.entries {
				entries = append(entries, legacy{day: fmt.Sprintf("2024-01-0%d", i+1), minutes: 60, status: s})
			}
			seedLegacyEntries(t, f.mem, tsID, entries...)

			view, err := f.svc.GetWeek(context.Background(), company, user, week)
			require.NoError(t, err)
			require.Len(t, view.Rows, 1)
			assert.Equal(t, tt.want, view.Rows[0].Status)
			assert.Equal(t, tt.locked, view.Rows[0].Locked)
		})
	}
}

func TestBackfill_RunsOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tsID := seedLegacyTimesheet(t, f.mem, timesheet.TimesheetDraft)
	seedLegacyEntries(t, f.mem, tsID, legacy{day: "2024-01-01", minutes: 60})

	first, err := f.svc.GetWeek(ctx, company, user, week)
	require.NoError(t, err)
	second, err := f.svc.GetWeek(ctx, company, user, week)
	require.NoError(t, err)

	assert.Equal(t, first.Rows, second.Rows)
	events := 0
	for _, ev := range f.mem.History() {
		if ev.Action == timesheet.ActionBackfilled {
			events++
			assert.Equal(t, tsID, ev.TargetID)
		}
	}
	assert.Equal(t, 1, events)
}

func TestBackfill_BeforeUpsert(t *testing.T) {
	// GIVEN: a week that was never viewed, only legacy entries
	f := newFixture(t)
	ctx := context.Background()
	tsID := seedLegacyTimesheet(t, f.mem, timesheet.TimesheetDraft)
	seedLegacyEntries(t, f.mem, tsID, legacy{day: "2024-01-01", minutes: 60, status: timesheet.EntryApproved})

	// WHEN: an upsert arrives without the legacy row
	view, err := f.svc.UpsertWeek(ctx, company, user, week, []timesheet.RowInput{officeRow("Development", 0, 120)})
	require.NoError(t, err)

	// THEN: the approved legacy row was backfilled, locked, and kept
	require.Len(t, view.Rows, 2)
	assert.Equal(t, timesheet.RowApproved, view.Rows[0].Status)
	assert.Equal(t, 180, view.TotalMinutes)
	all, err := f.mem.ListEntries(ctx, tsID)
	require.NoError(t, err)
	for _, e := range all {
		assert.False(t, e.IsLegacy())
	}
}

type failingCatalog struct{ err error }

func (c failingCatalog) GetTimeCode(context.Context, string) (*timesheet.TimeCode, error) {
	return nil, c.err
}

func TestBackfill_CatalogOutagePropagates(t *testing.T) {
	mem := memory.New()
	tsID := seedLegacyTimesheet(t, mem, timesheet.TimesheetDraft)
	seedLegacyEntries(t, mem, tsID, legacy{day: "2024-01-01", minutes: 60, timeCode: "A"})

	outage := errors.New("catalog unavailable")
	svc := timesheet.NewService(mem, timesheet.Dependencies{Catalog: failingCatalog{err: outage}})

	_, err := svc.GetWeek(context.Background(), company, user, week)
	assert.ErrorIs(t, err, outage)

	rows, err := mem.ListRows(context.Background(), tsID)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestGetWeek_CreatesDraftLazily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	view, err := f.svc.GetWeek(ctx, company, user, week)
	require.NoError(t, err)
	assert.Equal(t, timesheet.TimesheetDraft, view.Status)
	assert.Empty(t, view.Rows)
	assert.Nil(t, view.Rejection)
	assert.Equal(t, []string{"FR", "DE"}, view.Settings.OfficeCountryCodes)

	again, err := f.svc.GetWeek(ctx, company, user, week)
	require.NoError(t, err)
	assert.Equal(t, view.TimesheetID, again.TimesheetID)
}
