package timesheet_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/timesheet-engine/timesheet"
)

func TestResolveWeek(t *testing.T) {
	tests := []struct {
		start string
		end   string
	}{
		{"2024-01-01", "2024-01-07"},
		{"2024-02-26", "2024-03-03"}, // leap year
		{"2023-12-25", "2023-12-31"},
		{"2024-12-30", "2025-01-05"},
		{" 2024-01-01 ", "2024-01-07"},
	}
	for _, tt := range tests {
		t.Run(tt.start, func(t *testing.T) {
			p, err := timesheet.ResolveWeek(tt.start)
			require.NoError(t, err)
			assert.Equal(t, tt.end, p.EndString())
			assert.Equal(t, 6*24*time.Hour, p.End.Sub(p.Start))
			assert.Len(t, p.Days(), timesheet.WeekLength)
			assert.Equal(t, time.UTC, p.Start.Location())
		})
	}
}

func TestResolveWeek_InvalidDate(t *testing.T) {
	for _, in := range []string{"", "2024-02-30", "2024-13-01", "01/01/2024", "2024-1-1", "monday"} {
		t.Run(in, func(t *testing.T) {
			_, err := timesheet.ResolveWeek(in)
			assert.True(t, timesheet.IsValidation(err), "expected validation error for %q", in)
		})
	}
}

func TestPeriod_Contains(t *testing.T) {
	p, err := timesheet.ResolveWeek("2024-01-01")
	require.NoError(t, err)

	assert.True(t, p.Contains(day("2024-01-01")))
	assert.True(t, p.Contains(day("2024-01-07")))
	assert.True(t, p.Contains(time.Date(2024, 1, 7, 23, 59, 0, 0, time.UTC)))
	assert.False(t, p.Contains(day("2023-12-31")))
	assert.False(t, p.Contains(day("2024-01-08")))
}

func TestWeekContaining(t *testing.T) {
	// 2024-01-03 is a Wednesday, 2024-01-07 a Sunday.
	for _, d := range []string{"2024-01-01", "2024-01-03", "2024-01-07"} {
		p := timesheet.WeekContaining(day(d))
		assert.Equal(t, "2024-01-01", p.StartString(), d)
		assert.Equal(t, "2024-01-07", p.EndString(), d)
	}
}
