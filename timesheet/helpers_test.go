package timesheet_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/timesheet-engine/store/memory"
	"github.com/warp/timesheet-engine/timesheet"
)

// =============================================================================
// TEST HELPERS
// =============================================================================

const (
	company = "acme"
	user    = "u-1"
	week    = "2024-01-01"
)

var testNow = time.Date(2024, time.January, 8, 9, 0, 0, 0, time.UTC)

type fixture struct {
	svc  *timesheet.Service
	mem  *memory.Memory
	logs *observer.ObservedLogs
}

// newFixture wires a service over the in-memory store with a fixed clock,
// sequential ids and an observed logger. The company has FR and DE offices
// with FR as default.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memory.New()
	mem.SaveCompanySettings(timesheet.CompanySettings{
		CompanyID:          company,
		DefaultCountryCode: ptr("FR"),
		OfficeCountryCodes: []string{"FR", "DE"},
	})
	mem.SaveUser(company, "mgr", "Dana Manager")

	core, logs := observer.New(zap.DebugLevel)
	n := 0
	svc := timesheet.NewService(mem, timesheet.Dependencies{
		Settings: mem,
		Catalog:  mem,
		Users:    mem,
		History:  mem,
	},
		timesheet.WithLogger(zap.New(core)),
		timesheet.WithClock(func() time.Time { return testNow }),
		timesheet.WithIDGenerator(func() string { n++; return fmt.Sprintf("id-%03d", n) }),
	)
	return &fixture{svc: svc, mem: mem, logs: logs}
}

func ptr[T any](v T) *T { return &v }

func day(s string) time.Time {
	d, err := timesheet.ParseDay(s)
	if err != nil {
		panic(err)
	}
	return d
}

func officeRow(label string, minutes ...float64) timesheet.RowInput {
	in := timesheet.RowInput{ActivityLabel: label, Location: "OFFICE", CountryCode: "FR"}
	start := day(week)
	for i, m := range minutes {
		in.Entries = append(in.Entries, timesheet.EntryInput{
			Day:     timesheet.FormatDay(start.AddDate(0, 0, i)),
			Minutes: m,
		})
	}
	return in
}

// withID turns a row view back into an update payload.
func withID(rv timesheet.RowView) timesheet.RowInput {
	in := timesheet.RowInput{
		ID:                  ptr(rv.ID),
		ActivityLabel:       rv.ActivityLabel,
		TimeCodeID:          rv.TimeCodeID,
		Billable:            rv.Billable,
		Location:            string(rv.Location),
		CountryCode:         rv.CountryCode,
		EmployeeCountryCode: rv.EmployeeCountryCode,
	}
	for _, e := range rv.Entries {
		in.Entries = append(in.Entries, timesheet.EntryInput{Day: e.Day, Minutes: float64(e.Minutes), Note: e.Note})
	}
	return in
}

// assertTotalsConsistent checks the cached total against the entries.
func assertTotalsConsistent(t *testing.T, view *timesheet.WeekView) {
	t.Helper()
	sum := 0
	for _, rv := range view.Rows {
		for _, e := range rv.Entries {
			sum += e.Minutes
		}
	}
	require.Equal(t, sum, view.TotalMinutes, "totalMinutes must equal the sum of row entries")
}
