package timesheet

import (
	"sort"
	"time"
)

// WeekView is the derived shape returned by the week operations.
type WeekView struct {
	TimesheetID  string
	WeekStart    string
	WeekEnd      string
	Status       TimesheetStatus
	TotalMinutes int
	SubmittedAt  *time.Time
	SubmittedBy  *string
	ApprovedAt   *time.Time
	ApproverID   *string
	Rows         []RowView
	Settings     Settings
	Rejection    *RejectionInfo
}

type RowView struct {
	ID                  string
	ActivityLabel       string
	TimeCodeID          *string
	Billable            BillingMode
	Location            Location
	CountryCode         string
	EmployeeCountryCode *string
	Status              RowStatus
	Locked              bool
	SortOrder           int
	TotalMinutes        int
	Entries             []EntryView
}

type EntryView struct {
	ID      string
	Day     string
	Minutes int
	Note    *string
	Status  EntryStatus
}

// buildWeekView assembles rows by sort order with entries by day.
func buildWeekView(ts *Timesheet, rows []Row, entries []Entry, settings Settings) *WeekView {
	view := &WeekView{
		TimesheetID:  ts.ID,
		WeekStart:    FormatDay(ts.PeriodStart),
		WeekEnd:      FormatDay(ts.PeriodEnd),
		Status:       ts.Status,
		TotalMinutes: ts.TotalMinutes,
		SubmittedAt:  ts.SubmittedAt,
		SubmittedBy:  ts.SubmittedBy,
		ApprovedAt:   ts.ApprovedAt,
		ApproverID:   ts.ApproverID,
		Settings:     settings,
		Rows:         make([]RowView, 0, len(rows)),
	}

	byRow := groupEntriesByRow(entries)
	sorted := append([]Row(nil), rows...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].SortOrder < sorted[j].SortOrder })

	for _, row := range sorted {
		rv := RowView{
			ID:                  row.ID,
			ActivityLabel:       row.ActivityLabel,
			TimeCodeID:          row.TimeCodeID,
			Billable:            row.Billable,
			Location:            row.Location,
			CountryCode:         row.CountryCode,
			EmployeeCountryCode: row.EmployeeCountryCode,
			Status:              row.Status,
			Locked:              row.Locked,
			SortOrder:           row.SortOrder,
			Entries:             []EntryView{},
		}
		rowEntries := byRow[row.ID]
		sort.SliceStable(rowEntries, func(i, j int) bool { return rowEntries[i].Day.Before(rowEntries[j].Day) })
		for _, e := range rowEntries {
			rv.TotalMinutes += e.DurationMin
			rv.Entries = append(rv.Entries, EntryView{
				ID:      e.ID,
				Day:     FormatDay(e.Day),
				Minutes: e.DurationMin,
				Note:    e.Note,
				Status:  e.Status,
			})
		}
		view.Rows = append(view.Rows, rv)
	}
	return view
}
