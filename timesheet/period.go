package timesheet

import (
	"strings"
	"time"
)

// DateLayout is the ISO-8601 calendar date format used at every boundary.
const DateLayout = "2006-01-02"

// WeekLength is the number of days in a week-mode period.
const WeekLength = 7

// =============================================================================
// PERIOD - Inclusive [Start, End] range of calendar days, anchored at
// midnight UTC
// =============================================================================

type Period struct {
	Start time.Time
	End   time.Time
}

// ResolveWeek turns an ISO date denoting the first day of a week into the
// 7-day inclusive period starting on that day.
func ResolveWeek(weekStart string) (Period, error) {
	start, err := ParseDay(weekStart)
	if err != nil {
		return Period{}, invalid("weekStart", "%q is not a valid ISO date (YYYY-MM-DD)", weekStart)
	}
	return Period{Start: start, End: start.AddDate(0, 0, WeekLength-1)}, nil
}

// ParseDay parses an ISO calendar date at midnight UTC.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DateLayout, strings.TrimSpace(s))
}

// Day truncates t to midnight UTC of its calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// FormatDay renders a day as an ISO date.
func FormatDay(t time.Time) string {
	return t.UTC().Format(DateLayout)
}

// Contains returns true if the day is within [Start, End].
func (p Period) Contains(day time.Time) bool {
	d := Day(day)
	return !d.Before(p.Start) && !d.After(p.End)
}

// Days returns every day in the period.
func (p Period) Days() []time.Time {
	var days []time.Time
	for d := p.Start; !d.After(p.End); d = d.AddDate(0, 0, 1) {
		days = append(days, d)
	}
	return days
}

func (p Period) StartString() string { return FormatDay(p.Start) }
func (p Period) EndString() string   { return FormatDay(p.End) }

func (p Period) String() string {
	return "[" + p.StartString() + ", " + p.EndString() + "]"
}

// WeekContaining returns the Monday-based week that contains t.
func WeekContaining(t time.Time) Period {
	d := Day(t)
	offset := (int(d.Weekday()) + 6) % 7
	start := d.AddDate(0, 0, -offset)
	return Period{Start: start, End: start.AddDate(0, 0, WeekLength-1)}
}
