/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the engine's model from the external API contract.

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

DURATIONS:
  Minutes are the unit of record. Week and row DTOs also carry total_hours,
  a decimal rounded to two places and serialized as a string.

VALIDATION:
  Validation is done by the engine, not in DTOs. DTOs are pure data carriers.

SEE ALSO:
  - handlers.go: Uses these types
  - timesheet/view.go: WeekView
*/
package api

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/warp/timesheet-engine/timesheet"
)

// =============================================================================
// REQUEST TYPES
// =============================================================================

// UpsertWeekRequest is the desired state of a week's rows.
type UpsertWeekRequest struct {
	Rows []RowRequest `json:"rows"`
}

type RowRequest struct {
	ID                  *string        `json:"id,omitempty"`
	ActivityLabel       string         `json:"activity_label"`
	TimeCodeID          *string        `json:"time_code_id,omitempty"`
	Billable            string         `json:"billable,omitempty"`
	Location            string         `json:"location"`
	CountryCode         string         `json:"country_code"`
	EmployeeCountryCode *string        `json:"employee_country_code,omitempty"`
	Status              *string        `json:"status,omitempty"`
	Entries             []EntryRequest `json:"entries"`
}

type EntryRequest struct {
	Day     string  `json:"day"`
	Minutes float64 `json:"minutes"`
	Note    *string `json:"note,omitempty"`
}

type SubmitWeekRequest struct {
	Force   bool   `json:"force"`
	ActorID string `json:"actor_id,omitempty"`
}

// ActorRequest carries the acting user for approve and submit.
type ActorRequest struct {
	ActorID string `json:"actor_id,omitempty"`
}

type RejectRequest struct {
	ActorID string `json:"actor_id,omitempty"`
	Reason  string `json:"reason"`
}

// UpdateEntryRequest patches an entry; absent fields are left unchanged.
type UpdateEntryRequest struct {
	Minutes *int    `json:"minutes,omitempty"`
	Note    *string `json:"note,omitempty"`
}

type TransitionEntryRequest struct {
	Status  string `json:"status"`
	ActorID string `json:"actor_id,omitempty"`
}

// =============================================================================
// RESPONSE TYPES
// =============================================================================

// WeekDTO is the week view returned by the week endpoints.
type WeekDTO struct {
	TimesheetID  string          `json:"timesheet_id"`
	WeekStart    string          `json:"week_start"`
	WeekEnd      string          `json:"week_end"`
	Status       string          `json:"status"`
	TotalMinutes int             `json:"total_minutes"`
	TotalHours   decimal.Decimal `json:"total_hours"`
	SubmittedAt  *string         `json:"submitted_at,omitempty"`
	SubmittedBy  *string         `json:"submitted_by,omitempty"`
	ApprovedAt   *string         `json:"approved_at,omitempty"`
	ApproverID   *string         `json:"approver_id,omitempty"`
	Rows         []RowDTO        `json:"rows"`
	Settings     SettingsDTO     `json:"settings"`
	Rejection    *RejectionDTO   `json:"rejection,omitempty"`
}

type RowDTO struct {
	ID                  string          `json:"id"`
	ActivityLabel       string          `json:"activity_label"`
	TimeCodeID          *string         `json:"time_code_id,omitempty"`
	Billable            string          `json:"billable"`
	Location            string          `json:"location"`
	CountryCode         string          `json:"country_code"`
	EmployeeCountryCode *string         `json:"employee_country_code,omitempty"`
	Status              string          `json:"status"`
	Locked              bool            `json:"locked"`
	SortOrder           int             `json:"sort_order"`
	TotalMinutes        int             `json:"total_minutes"`
	TotalHours          decimal.Decimal `json:"total_hours"`
	Entries             []DayDTO        `json:"entries"`
}

// DayDTO is one day of a row in the week view.
type DayDTO struct {
	ID      string  `json:"id"`
	Day     string  `json:"day"`
	Minutes int     `json:"minutes"`
	Note    *string `json:"note,omitempty"`
	Status  string  `json:"status"`
}

type SettingsDTO struct {
	DefaultCountryCode string   `json:"default_country_code,omitempty"`
	DefaultLocation    string   `json:"default_location"`
	MaxWeeklyMinutes   int      `json:"max_weekly_minutes"`
	OfficeCountryCodes []string `json:"office_country_codes"`
	AutoSubmitTime     string   `json:"auto_submit_time"`
}

type RejectionDTO struct {
	Reason     string `json:"reason"`
	ActorID    string `json:"actor_id,omitempty"`
	ActorName  string `json:"actor_name,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

// TimesheetDTO is returned by the timesheet-mode transitions.
type TimesheetDTO struct {
	ID           string          `json:"id"`
	UserID       string          `json:"user_id"`
	PeriodStart  string          `json:"period_start"`
	PeriodEnd    string          `json:"period_end"`
	Status       string          `json:"status"`
	TotalMinutes int             `json:"total_minutes"`
	TotalHours   decimal.Decimal `json:"total_hours"`
	SubmittedAt  *string         `json:"submitted_at,omitempty"`
	SubmittedBy  *string         `json:"submitted_by,omitempty"`
	ApprovedAt   *string         `json:"approved_at,omitempty"`
	ApproverID   *string         `json:"approver_id,omitempty"`
}

type EntryDTO struct {
	ID              string  `json:"id"`
	TimesheetID     *string `json:"timesheet_id,omitempty"`
	RowID           *string `json:"row_id,omitempty"`
	Day             string  `json:"day"`
	Minutes         int     `json:"minutes"`
	Note            *string `json:"note,omitempty"`
	WorkMode        string  `json:"work_mode"`
	Status          string  `json:"status"`
	StatusUpdatedAt string  `json:"status_updated_at,omitempty"`
}

// ErrorResponse is the standard error response.
type ErrorResponse struct {
	Error   string `json:"error"`
	Field   string `json:"field,omitempty"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// CONVERSIONS
// =============================================================================

var minutesPerHour = decimal.NewFromInt(60)

// hours converts minutes to hours rounded to two places.
func hours(minutes int) decimal.Decimal {
	return decimal.NewFromInt(int64(minutes)).DivRound(minutesPerHour, 2)
}

func formatTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

func toWeekDTO(v *timesheet.WeekView) WeekDTO {
	dto := WeekDTO{
		TimesheetID:  v.TimesheetID,
		WeekStart:    v.WeekStart,
		WeekEnd:      v.WeekEnd,
		Status:       string(v.Status),
		TotalMinutes: v.TotalMinutes,
		TotalHours:   hours(v.TotalMinutes),
		SubmittedAt:  formatTimestamp(v.SubmittedAt),
		SubmittedBy:  v.SubmittedBy,
		ApprovedAt:   formatTimestamp(v.ApprovedAt),
		ApproverID:   v.ApproverID,
		Rows:         make([]RowDTO, 0, len(v.Rows)),
		Settings: SettingsDTO{
			DefaultCountryCode: v.Settings.DefaultCountryCode,
			DefaultLocation:    string(v.Settings.DefaultLocation),
			MaxWeeklyMinutes:   v.Settings.MaxWeeklyMinutes,
			OfficeCountryCodes: v.Settings.OfficeCountryCodes,
			AutoSubmitTime:     v.Settings.AutoSubmitTime(),
		},
	}
	if dto.Settings.OfficeCountryCodes == nil {
		dto.Settings.OfficeCountryCodes = []string{}
	}

	for _, rv := range v.Rows {
		row := RowDTO{
			ID:                  rv.ID,
			ActivityLabel:       rv.ActivityLabel,
			TimeCodeID:          rv.TimeCodeID,
			Billable:            string(rv.Billable),
			Location:            string(rv.Location),
			CountryCode:         rv.CountryCode,
			EmployeeCountryCode: rv.EmployeeCountryCode,
			Status:              string(rv.Status),
			Locked:              rv.Locked,
			SortOrder:           rv.SortOrder,
			TotalMinutes:        rv.TotalMinutes,
			TotalHours:          hours(rv.TotalMinutes),
			Entries:             make([]DayDTO, 0, len(rv.Entries)),
		}
		for _, e := range rv.Entries {
			row.Entries = append(row.Entries, DayDTO{
				ID:      e.ID,
				Day:     e.Day,
				Minutes: e.Minutes,
				Note:    e.Note,
				Status:  string(e.Status),
			})
		}
		dto.Rows = append(dto.Rows, row)
	}

	if r := v.Rejection; r != nil {
		dto.Rejection = &RejectionDTO{
			Reason:     r.Reason,
			ActorID:    r.ActorID,
			ActorName:  r.ActorName,
			OccurredAt: r.OccurredAt.UTC().Format(time.RFC3339),
		}
	}
	return dto
}

func toTimesheetDTO(ts *timesheet.Timesheet) TimesheetDTO {
	return TimesheetDTO{
		ID:           ts.ID,
		UserID:       ts.UserID,
		PeriodStart:  timesheet.FormatDay(ts.PeriodStart),
		PeriodEnd:    timesheet.FormatDay(ts.PeriodEnd),
		Status:       string(ts.Status),
		TotalMinutes: ts.TotalMinutes,
		TotalHours:   hours(ts.TotalMinutes),
		SubmittedAt:  formatTimestamp(ts.SubmittedAt),
		SubmittedBy:  ts.SubmittedBy,
		ApprovedAt:   formatTimestamp(ts.ApprovedAt),
		ApproverID:   ts.ApproverID,
	}
}

func toEntryDTO(e *timesheet.Entry) EntryDTO {
	dto := EntryDTO{
		ID:          e.ID,
		TimesheetID: e.TimesheetID,
		RowID:       e.RowID,
		Day:         timesheet.FormatDay(e.Day),
		Minutes:     e.DurationMin,
		Note:        e.Note,
		WorkMode:    string(e.WorkMode),
		Status:      string(e.Status),
	}
	if !e.StatusUpdatedAt.IsZero() {
		dto.StatusUpdatedAt = e.StatusUpdatedAt.UTC().Format(time.RFC3339)
	}
	return dto
}

func toRowInputs(rows []RowRequest) []timesheet.RowInput {
	out := make([]timesheet.RowInput, 0, len(rows))
	for _, r := range rows {
		in := timesheet.RowInput{
			ID:                  r.ID,
			ActivityLabel:       r.ActivityLabel,
			TimeCodeID:          r.TimeCodeID,
			Billable:            timesheet.BillingMode(r.Billable),
			Location:            r.Location,
			CountryCode:         r.CountryCode,
			EmployeeCountryCode: r.EmployeeCountryCode,
		}
		if r.Status != nil {
			s := timesheet.RowStatus(*r.Status)
			in.Status = &s
		}
		for _, e := range r.Entries {
			in.Entries = append(in.Entries, timesheet.EntryInput{Day: e.Day, Minutes: e.Minutes, Note: e.Note})
		}
		out = append(out, in)
	}
	return out
}
