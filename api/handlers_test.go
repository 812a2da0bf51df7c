package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/warp/timesheet-engine/api"
	"github.com/warp/timesheet-engine/store/sqlite"
	"github.com/warp/timesheet-engine/timesheet"
)

// =============================================================================
// TEST SETUP
// =============================================================================

const weekPath = "/api/companies/acme/users/u-1/weeks/2024-01-01"

type testServer struct {
	router http.Handler
	store  *sqlite.Store
	logs   *observer.ObservedLogs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ctx := context.Background()
	fr := "FR"
	require.NoError(t, store.SaveCompanySettings(ctx, timesheet.CompanySettings{
		CompanyID:          "acme",
		DefaultCountryCode: &fr,
		OfficeCountryCodes: []string{"FR", "DE"},
	}))
	require.NoError(t, store.SaveUser(ctx, "acme", "mgr", "Dana Manager"))

	core, logs := observer.New(zap.InfoLevel)
	log := zap.New(core)
	svc := timesheet.NewService(store, timesheet.Dependencies{
		Settings: store,
		Catalog:  store,
		Users:    store,
		History:  store,
	}, timesheet.WithLogger(log))

	return &testServer{
		router: api.NewRouter(api.NewHandler(svc, log), api.RouterOptions{}),
		store:  store,
		logs:   logs,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func officeWeek() api.UpsertWeekRequest {
	return api.UpsertWeekRequest{Rows: []api.RowRequest{
		{
			ActivityLabel: "Development",
			Location:      "OFFICE",
			CountryCode:   "FR",
			Entries: []api.EntryRequest{
				{Day: "2024-01-01", Minutes: 480},
				{Day: "2024-01-02", Minutes: 30},
			},
		},
	}}
}

// =============================================================================
// WEEK ENDPOINTS
// =============================================================================

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetWeek_CreatesDraft(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, weekPath, nil)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	week := decode[api.WeekDTO](t, rec)
	assert.Equal(t, "2024-01-01", week.WeekStart)
	assert.Equal(t, "2024-01-07", week.WeekEnd)
	assert.Equal(t, "DRAFT", week.Status)
	assert.Empty(t, week.Rows)
	assert.Equal(t, []string{"FR", "DE"}, week.Settings.OfficeCountryCodes)
	assert.Equal(t, "18:00", week.Settings.AutoSubmitTime)
}

func TestUpsertAndSubmitWeek(t *testing.T) {
	// GIVEN
	s := newTestServer(t)

	// WHEN: the week is saved
	rec := s.do(t, http.MethodPut, weekPath, officeWeek())

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	week := decode[api.WeekDTO](t, rec)
	assert.Equal(t, 510, week.TotalMinutes)
	assert.True(t, decimal.RequireFromString("8.5").Equal(week.TotalHours), week.TotalHours.String())
	require.Len(t, week.Rows, 1)
	assert.Len(t, week.Rows[0].Entries, 2)
	assert.False(t, week.Rows[0].Locked)

	// WHEN: the week is submitted
	rec = s.do(t, http.MethodPost, weekPath+"/submit", nil, api.ActorHeader, "u-1")

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	week = decode[api.WeekDTO](t, rec)
	assert.Equal(t, "SUBMITTED", week.Status)
	assert.Equal(t, "u-1", *week.SubmittedBy)
	assert.True(t, week.Rows[0].Locked)
	assert.Equal(t, "PENDING_APPROVAL", week.Rows[0].Entries[0].Status)
}

func TestSubmitWeek_EmptyWeekNeedsForce(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, weekPath+"/submit", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, weekPath+"/submit", api.SubmitWeekRequest{Force: true, ActorID: "u-1"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "SUBMITTED", decode[api.WeekDTO](t, rec).Status)
}

func TestUpsertWeek_Errors(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		path   string
		body   any
		status int
		field  string
	}{
		{
			name:   "office country outside the office set",
			path:   weekPath,
			body:   api.UpsertWeekRequest{Rows: []api.RowRequest{{ActivityLabel: "Dev", Location: "OFFICE", CountryCode: "ES"}}},
			status: http.StatusBadRequest,
			field:  "countryCode",
		},
		{
			name:   "hybrid row without employee country",
			path:   weekPath,
			body:   api.UpsertWeekRequest{Rows: []api.RowRequest{{ActivityLabel: "Dev", Location: "HYBRID", CountryCode: "FR"}}},
			status: http.StatusBadRequest,
			field:  "employeeCountryCode",
		},
		{
			name:   "invalid week start",
			path:   "/api/companies/acme/users/u-1/weeks/2024-13-01",
			body:   api.UpsertWeekRequest{},
			status: http.StatusBadRequest,
		},
		{
			name:   "unknown row id",
			path:   weekPath,
			body:   api.UpsertWeekRequest{Rows: []api.RowRequest{{ID: strPtr("nope"), ActivityLabel: "Dev", Location: "OFFICE", CountryCode: "FR"}}},
			status: http.StatusNotFound,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPut, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			if tt.field != "" {
				assert.Equal(t, tt.field, decode[api.ErrorResponse](t, rec).Field)
			}
		})
	}
}

func TestUpsertWeek_MalformedBody(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPut, weekPath, bytes.NewBufferString("{not json"))
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid request body", decode[api.ErrorResponse](t, rec).Error)
}

// =============================================================================
// TIMESHEET ENDPOINTS
// =============================================================================

func submittedTimesheet(t *testing.T, s *testServer) string {
	t.Helper()
	require.Equal(t, http.StatusOK, s.do(t, http.MethodPut, weekPath, officeWeek()).Code)
	rec := s.do(t, http.MethodPost, weekPath+"/submit", nil, api.ActorHeader, "u-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	return decode[api.WeekDTO](t, rec).TimesheetID
}

func TestRejectTimesheet_ProjectsRejection(t *testing.T) {
	// GIVEN
	s := newTestServer(t)
	id := submittedTimesheet(t, s)

	// WHEN
	rec := s.do(t, http.MethodPost, "/api/companies/acme/timesheets/"+id+"/reject",
		api.RejectRequest{Reason: "Missing Friday"}, api.ActorHeader, "mgr")

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "REJECTED", decode[api.TimesheetDTO](t, rec).Status)

	week := decode[api.WeekDTO](t, s.do(t, http.MethodGet, weekPath, nil))
	require.NotNil(t, week.Rejection)
	assert.Equal(t, "Missing Friday", week.Rejection.Reason)
	assert.Equal(t, "mgr", week.Rejection.ActorID)
	assert.Equal(t, "Dana Manager", week.Rejection.ActorName)
	assert.False(t, week.Rows[0].Locked)
	assert.Equal(t, "rejected", week.Rows[0].Status)
}

func TestRejectTimesheet_RequiresReason(t *testing.T) {
	s := newTestServer(t)
	id := submittedTimesheet(t, s)

	rec := s.do(t, http.MethodPost, "/api/companies/acme/timesheets/"+id+"/reject",
		api.RejectRequest{Reason: "  "}, api.ActorHeader, "mgr")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "reason", decode[api.ErrorResponse](t, rec).Field)
}

func TestApproveTimesheet(t *testing.T) {
	s := newTestServer(t)
	id := submittedTimesheet(t, s)

	rec := s.do(t, http.MethodPost, "/api/companies/acme/timesheets/"+id+"/approve",
		api.ActorRequest{ActorID: "mgr"})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	ts := decode[api.TimesheetDTO](t, rec)
	assert.Equal(t, "APPROVED", ts.Status)
	assert.Equal(t, "mgr", *ts.ApproverID)
	assert.True(t, decimal.RequireFromString("8.5").Equal(ts.TotalHours))

	// A second approval is an illegal transition.
	rec = s.do(t, http.MethodPost, "/api/companies/acme/timesheets/"+id+"/approve", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTimesheetEndpoints_NotFound(t *testing.T) {
	s := newTestServer(t)
	id := submittedTimesheet(t, s)

	for _, path := range []string{
		"/api/companies/acme/timesheets/missing/approve",
		"/api/companies/other/timesheets/" + id + "/approve",
		"/api/companies/acme/timesheets/missing/submit",
	} {
		rec := s.do(t, http.MethodPost, path, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
}

// =============================================================================
// ENTRY ENDPOINTS
// =============================================================================

func TestEntryEndpoints(t *testing.T) {
	// GIVEN
	s := newTestServer(t)
	week := decode[api.WeekDTO](t, s.do(t, http.MethodPut, weekPath, officeWeek()))
	monday := week.Rows[0].Entries[0].ID
	tuesday := week.Rows[0].Entries[1].ID

	// WHEN: minutes are edited
	rec := s.do(t, http.MethodPatch, "/api/companies/acme/entries/"+monday, api.UpdateEntryRequest{Minutes: intPtr(420)})

	// THEN
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, 420, decode[api.EntryDTO](t, rec).Minutes)

	// Zero minutes deletes.
	rec = s.do(t, http.MethodPatch, "/api/companies/acme/entries/"+tuesday, api.UpdateEntryRequest{Minutes: intPtr(0)})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	week = decode[api.WeekDTO](t, s.do(t, http.MethodGet, weekPath, nil))
	assert.Equal(t, 420, week.TotalMinutes)

	// Status transitions follow the entry state machine.
	rec = s.do(t, http.MethodPost, "/api/companies/acme/entries/"+monday+"/status", api.TransitionEntryRequest{Status: "PENDING_APPROVAL"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "PENDING_APPROVAL", decode[api.EntryDTO](t, rec).Status)

	rec = s.do(t, http.MethodPost, "/api/companies/acme/entries/"+monday+"/status", api.TransitionEntryRequest{Status: "INVOICED"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPatch, "/api/companies/other/entries/"+monday, api.UpdateEntryRequest{Minutes: intPtr(60)})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRequestLog(t *testing.T) {
	s := newTestServer(t)

	s.do(t, http.MethodGet, "/healthz", nil)
	s.do(t, http.MethodGet, "/api/companies/acme/users/u-1/weeks/bad", nil)

	completed := s.logs.FilterMessage("request completed").All()
	require.Len(t, completed, 1)
	assert.Equal(t, int64(http.StatusOK), completed[0].ContextMap()["status"])
	assert.Equal(t, 1, s.logs.FilterMessage("client error").Len())
}

func strPtr(s string) *string { return &s }
func intPtr(i int) *int       { return &i }
