/*
handlers.go - HTTP API handlers for the timesheet engine

PURPOSE:
  Exposes the timesheet engine via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to timesheet.Service.

ENDPOINTS:
  Weeks:
    GET    /api/companies/{companyID}/users/{userID}/weeks/{weekStart}         Week view
    PUT    /api/companies/{companyID}/users/{userID}/weeks/{weekStart}         Reconcile rows
    POST   /api/companies/{companyID}/users/{userID}/weeks/{weekStart}/submit  Submit week

  Timesheets:
    POST   /api/companies/{companyID}/timesheets/{id}/submit    Submit as a whole
    POST   /api/companies/{companyID}/timesheets/{id}/approve   Approve
    POST   /api/companies/{companyID}/timesheets/{id}/reject    Reject with reason

  Entries:
    PATCH  /api/companies/{companyID}/entries/{id}          Edit minutes/note
    POST   /api/companies/{companyID}/entries/{id}/status   Status transition

ACTOR:
  The acting user comes from the request body (actor_id) or the X-User-ID
  header. There is no authentication layer.

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, illegal transitions, malformed bodies
  - 404: Timesheet or entry not found in the company
  - 500: Store or collaborator failures

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/warp/timesheet-engine/timesheet"
)

// ActorHeader names the acting user when the body does not.
const ActorHeader = "X-User-ID"

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Service *timesheet.Service
	log     *zap.Logger
}

func NewHandler(svc *timesheet.Service, log *zap.Logger) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{Service: svc, log: log}
}

// =============================================================================
// WEEK HANDLERS
// =============================================================================

// GetWeek returns the week view, backfilling legacy entries on first read.
// GET /api/companies/{companyID}/users/{userID}/weeks/{weekStart}
func (h *Handler) GetWeek(w http.ResponseWriter, r *http.Request) {
	view, err := h.Service.GetWeek(r.Context(),
		chi.URLParam(r, "companyID"), chi.URLParam(r, "userID"), chi.URLParam(r, "weekStart"))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWeekDTO(view))
}

// UpsertWeek reconciles the week against the posted rows.
// PUT /api/companies/{companyID}/users/{userID}/weeks/{weekStart}
func (h *Handler) UpsertWeek(w http.ResponseWriter, r *http.Request) {
	var req UpsertWeekRequest
	if !decodeBody(w, r, &req) {
		return
	}

	view, err := h.Service.UpsertWeek(r.Context(),
		chi.URLParam(r, "companyID"), chi.URLParam(r, "userID"), chi.URLParam(r, "weekStart"),
		toRowInputs(req.Rows))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWeekDTO(view))
}

// SubmitWeek locks every open row of the week.
// POST /api/companies/{companyID}/users/{userID}/weeks/{weekStart}/submit
func (h *Handler) SubmitWeek(w http.ResponseWriter, r *http.Request) {
	var req SubmitWeekRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}

	view, err := h.Service.SubmitWeek(r.Context(),
		chi.URLParam(r, "companyID"), chi.URLParam(r, "userID"), chi.URLParam(r, "weekStart"),
		timesheet.SubmitOptions{Force: req.Force, ActorID: actorID(r, req.ActorID)})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toWeekDTO(view))
}

// =============================================================================
// TIMESHEET HANDLERS
// =============================================================================

// POST /api/companies/{companyID}/timesheets/{id}/submit
func (h *Handler) SubmitTimesheet(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	ts, err := h.Service.SubmitTimesheet(r.Context(),
		chi.URLParam(r, "companyID"), chi.URLParam(r, "id"), actorID(r, req.ActorID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimesheetDTO(ts))
}

// POST /api/companies/{companyID}/timesheets/{id}/approve
func (h *Handler) ApproveTimesheet(w http.ResponseWriter, r *http.Request) {
	var req ActorRequest
	if !decodeOptionalBody(w, r, &req) {
		return
	}
	ts, err := h.Service.ApproveTimesheet(r.Context(),
		chi.URLParam(r, "companyID"), chi.URLParam(r, "id"), actorID(r, req.ActorID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimesheetDTO(ts))
}

// RejectTimesheet reopens the timesheet; the reason is required.
// POST /api/companies/{companyID}/timesheets/{id}/reject
func (h *Handler) RejectTimesheet(w http.ResponseWriter, r *http.Request) {
	var req RejectRequest
	if !decodeBody(w, r, &req) {
		return
	}
	ts, err := h.Service.RejectTimesheet(r.Context(),
		chi.URLParam(r, "companyID"), chi.URLParam(r, "id"), actorID(r, req.ActorID), req.Reason)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTimesheetDTO(ts))
}

// =============================================================================
// ENTRY HANDLERS
// =============================================================================

// PATCH /api/companies/{companyID}/entries/{id}
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req UpdateEntryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.Service.UpdateEntry(r.Context(),
		chi.URLParam(r, "companyID"), chi.URLParam(r, "id"),
		timesheet.EntryPatch{Minutes: req.Minutes, Note: req.Note})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if entry.DurationMin == 0 {
		// Zero minutes deleted the entry.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// POST /api/companies/{companyID}/entries/{id}/status
func (h *Handler) TransitionEntry(w http.ResponseWriter, r *http.Request) {
	var req TransitionEntryRequest
	if !decodeBody(w, r, &req) {
		return
	}
	entry, err := h.Service.TransitionEntry(r.Context(),
		chi.URLParam(r, "companyID"), chi.URLParam(r, "id"),
		timesheet.EntryStatus(req.Status), actorID(r, req.ActorID))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toEntryDTO(entry))
}

// Healthz reports liveness.
func (h *Handler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

func actorID(r *http.Request, fromBody string) string {
	if fromBody != "" {
		return fromBody
	}
	return r.Header.Get(ActorHeader)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// decodeOptionalBody accepts an empty body.
func decodeOptionalBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	err := json.NewDecoder(r.Body).Decode(dst)
	if err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	return true
}

// writeServiceError maps engine error kinds onto HTTP statuses.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var verr *timesheet.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: verr.Message, Field: verr.Field})
	case timesheet.IsValidation(err):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	case timesheet.IsNotFound(err):
		writeError(w, http.StatusNotFound, "Not found", err)
	default:
		h.log.Error("timesheet operation failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
