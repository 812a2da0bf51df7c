/*
workflow.go - Timesheet, row and entry status transitions

TIMESHEET:
  DRAFT -> SUBMITTED -> APPROVED | REJECTED

  REJECTED is not terminal: a week-mode submit moves it back to SUBMITTED.

WEEK-MODE SUBMIT:
  Runs regardless of timesheet status and is row-granular. Rows already
  approved or locked are skipped; every other row becomes submitted/locked
  and its entries PENDING_APPROVAL.

REJECT:
  Every non-approved row becomes rejected/unlocked and all its entries
  REJECTED. The reason is stored on the history event.

Row-driven entry changes set entry statuses directly; they do not go
through the fine-grained entry state machine in entry_workflow.go.
*/
package timesheet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
)

var timesheetTransitions = map[TimesheetStatus][]TimesheetStatus{
	TimesheetDraft:     {TimesheetSubmitted},
	TimesheetSubmitted: {TimesheetApproved, TimesheetRejected},
}

// CheckTimesheetTransition validates a timesheet-mode transition.
func CheckTimesheetTransition(from, to TimesheetStatus) error {
	for _, allowed := range timesheetTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{Kind: "timesheet", From: string(from), To: string(to)}
}

// SubmitOptions tune a week-mode submit.
type SubmitOptions struct {
	// Force submits even when no minutes are logged for the week.
	Force bool
	// ActorID defaults to the timesheet owner.
	ActorID string
}

// =============================================================================
// WEEK-MODE SUBMIT
// =============================================================================

// SubmitWeek submits every unlocked, non-approved row of the week.
func (s *Service) SubmitWeek(ctx context.Context, companyID, userID, weekStart string, opts SubmitOptions) (*WeekView, error) {
	period, err := ResolveWeek(weekStart)
	if err != nil {
		return nil, err
	}
	settings := s.Settings(ctx, companyID)
	actor := opts.ActorID
	if actor == "" {
		actor = userID
	}
	codes, err := s.prefetchTimeCodes(ctx, companyID, userID, period)
	if err != nil {
		return nil, err
	}

	var (
		ts         *Timesheet
		previous   TimesheetStatus
		submitted  int
		backfilled int
	)
	err = s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if ts, err = s.ensureTimesheet(ctx, repo, companyID, userID, period); err != nil {
			return err
		}
		var rows []Row
		var entries []Entry
		if rows, entries, backfilled, err = s.loadWeek(ctx, repo, ts, settings, codes); err != nil {
			return err
		}
		previous = ts.Status
		if !opts.Force && ts.TotalMinutes == 0 {
			return invalid("week", "no time logged for %s", period)
		}

		now := s.now().UTC()
		byRow := groupEntriesByRow(entries)
		for i := range rows {
			row := &rows[i]
			if row.Status == RowApproved || row.Locked {
				continue
			}
			row.Status = RowSubmitted
			row.Locked = true
			row.UpdatedAt = now
			if err := repo.UpdateRow(ctx, row); err != nil {
				return fmt.Errorf("failed to submit row %s: %w", row.ID, err)
			}
			if err := setEntryStatuses(ctx, repo, byRow[row.ID], EntryPendingApproval, now); err != nil {
				return err
			}
			submitted++
		}

		ts.Status = TimesheetSubmitted
		ts.SubmittedAt = timePtr(now)
		ts.SubmittedBy = strPtr(actor)
		ts.UpdatedAt = now
		if err := repo.UpdateTimesheet(ctx, ts); err != nil {
			return fmt.Errorf("failed to submit timesheet: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if backfilled > 0 {
		s.recordBackfill(ctx, ts, backfilled)
	}

	if previous == TimesheetApproved {
		s.log.Warn("week submit moved an approved timesheet back to submitted",
			zap.String("timesheet_id", ts.ID),
			zap.String("actor_id", actor),
		)
	}
	s.log.Info("week submitted",
		zap.String("timesheet_id", ts.ID),
		zap.String("actor_id", actor),
		zap.Int("rows_submitted", submitted),
		zap.Bool("force", opts.Force),
	)
	s.recordHistory(ctx, HistoryEvent{
		CompanyID:   companyID,
		UserID:      userID,
		TargetType:  TargetTimesheet,
		TargetID:    ts.ID,
		Action:      ActionSubmitted,
		ActorUserID: strPtr(actor),
		Metadata: map[string]any{
			"mode":            "week",
			"rows_submitted":  submitted,
			"force":           opts.Force,
			"previous_status": string(previous),
		},
	})
	return s.GetWeek(ctx, companyID, userID, weekStart)
}

// =============================================================================
// TIMESHEET-MODE TRANSITIONS
// =============================================================================

// SubmitTimesheet submits a DRAFT timesheet as a whole.
func (s *Service) SubmitTimesheet(ctx context.Context, companyID, timesheetID, actorID string) (*Timesheet, error) {
	var ts *Timesheet
	err := s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if ts, err = getCompanyTimesheet(ctx, repo, companyID, timesheetID); err != nil {
			return err
		}
		if err := CheckTimesheetTransition(ts.Status, TimesheetSubmitted); err != nil {
			return err
		}
		now := s.now().UTC()
		ts.Status = TimesheetSubmitted
		ts.SubmittedAt = timePtr(now)
		ts.SubmittedBy = strPtr(actorID)
		ts.UpdatedAt = now
		return repo.UpdateTimesheet(ctx, ts)
	})
	if err != nil {
		return nil, err
	}

	s.recordHistory(ctx, HistoryEvent{
		CompanyID:   companyID,
		UserID:      ts.UserID,
		TargetType:  TargetTimesheet,
		TargetID:    ts.ID,
		Action:      ActionSubmitted,
		ActorUserID: strPtr(actorID),
		Metadata:    map[string]any{"mode": "timesheet"},
	})
	return ts, nil
}

// ApproveTimesheet approves a SUBMITTED timesheet. Submitted rows become
// approved and their pending entries APPROVED.
func (s *Service) ApproveTimesheet(ctx context.Context, companyID, timesheetID, approverID string) (*Timesheet, error) {
	var ts *Timesheet
	err := s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if ts, err = getCompanyTimesheet(ctx, repo, companyID, timesheetID); err != nil {
			return err
		}
		if err := CheckTimesheetTransition(ts.Status, TimesheetApproved); err != nil {
			return err
		}

		now := s.now().UTC()
		rows, err := repo.ListRows(ctx, ts.ID)
		if err != nil {
			return fmt.Errorf("failed to list rows: %w", err)
		}
		entries, err := repo.ListEntries(ctx, ts.ID)
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}
		byRow := groupEntriesByRow(entries)
		for i := range rows {
			row := &rows[i]
			if row.Status != RowSubmitted {
				continue
			}
			row.Status = RowApproved
			row.Locked = true
			row.UpdatedAt = now
			if err := repo.UpdateRow(ctx, row); err != nil {
				return fmt.Errorf("failed to approve row %s: %w", row.ID, err)
			}
			var pending []Entry
			for _, e := range byRow[row.ID] {
				if e.Status == EntryPendingApproval {
					pending = append(pending, e)
				}
			}
			if err := setEntryStatuses(ctx, repo, pending, EntryApproved, now); err != nil {
				return err
			}
		}

		ts.Status = TimesheetApproved
		ts.ApprovedAt = timePtr(now)
		ts.ApproverID = strPtr(approverID)
		ts.UpdatedAt = now
		return repo.UpdateTimesheet(ctx, ts)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("timesheet approved", zap.String("timesheet_id", ts.ID), zap.String("approver_id", approverID))
	s.recordHistory(ctx, HistoryEvent{
		CompanyID:   companyID,
		UserID:      ts.UserID,
		TargetType:  TargetTimesheet,
		TargetID:    ts.ID,
		Action:      ActionApproved,
		ActorUserID: strPtr(approverID),
	})
	return ts, nil
}

// RejectTimesheet rejects a SUBMITTED timesheet with a reason, reopening
// every non-approved row.
func (s *Service) RejectTimesheet(ctx context.Context, companyID, timesheetID, actorID, reason string) (*Timesheet, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, invalid("reason", "a rejection reason is required")
	}

	var (
		ts       *Timesheet
		reopened int
	)
	err := s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if ts, err = getCompanyTimesheet(ctx, repo, companyID, timesheetID); err != nil {
			return err
		}
		if err := CheckTimesheetTransition(ts.Status, TimesheetRejected); err != nil {
			return err
		}

		now := s.now().UTC()
		rows, err := repo.ListRows(ctx, ts.ID)
		if err != nil {
			return fmt.Errorf("failed to list rows: %w", err)
		}
		entries, err := repo.ListEntries(ctx, ts.ID)
		if err != nil {
			return fmt.Errorf("failed to list entries: %w", err)
		}
		byRow := groupEntriesByRow(entries)
		for i := range rows {
			row := &rows[i]
			if row.Status == RowApproved {
				continue
			}
			row.Status = RowRejected
			row.Locked = false
			row.UpdatedAt = now
			if err := repo.UpdateRow(ctx, row); err != nil {
				return fmt.Errorf("failed to reject row %s: %w", row.ID, err)
			}
			if err := setEntryStatuses(ctx, repo, byRow[row.ID], EntryRejected, now); err != nil {
				return err
			}
			reopened++
		}

		ts.Status = TimesheetRejected
		ts.UpdatedAt = now
		return repo.UpdateTimesheet(ctx, ts)
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("timesheet rejected",
		zap.String("timesheet_id", ts.ID),
		zap.String("actor_id", actorID),
		zap.Int("rows_reopened", reopened),
	)
	s.recordHistory(ctx, HistoryEvent{
		CompanyID:   companyID,
		UserID:      ts.UserID,
		TargetType:  TargetTimesheet,
		TargetID:    ts.ID,
		Action:      ActionRejected,
		ActorUserID: strPtr(actorID),
		Reason:      strPtr(reason),
		Metadata:    map[string]any{"rows_reopened": reopened},
	})
	return ts, nil
}

// =============================================================================
// FINE-GRAINED ENTRY WORKFLOW
// =============================================================================

// EntryPatch is an ordinary field edit of one entry. Nil fields are kept.
type EntryPatch struct {
	Minutes *int
	Note    *string
}

// UpdateEntry edits an entry outside week mode. Setting minutes to zero
// deletes the entry; the returned entry then has DurationMin 0.
func (s *Service) UpdateEntry(ctx context.Context, companyID, entryID string, patch EntryPatch) (*Entry, error) {
	if patch.Minutes != nil && (*patch.Minutes < 0 || *patch.Minutes > MaxDayMinutes) {
		return nil, invalid("minutes", "must be between 0 and %d", MaxDayMinutes)
	}

	var (
		e    *Entry
		diff = map[string]any{}
	)
	err := s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if e, err = getCompanyEntry(ctx, repo, companyID, entryID); err != nil {
			return err
		}
		if err := checkEntryEditable(e); err != nil {
			return err
		}
		if err := checkRowUnlocked(ctx, repo, e); err != nil {
			return err
		}

		now := s.now().UTC()
		if patch.Minutes != nil && *patch.Minutes != e.DurationMin {
			diff["minutes"] = map[string]any{"from": e.DurationMin, "to": *patch.Minutes}
			e.DurationMin = *patch.Minutes
		}
		if patch.Note != nil {
			note := blankToNil(patch.Note)
			if !equalNote(note, e.Note) {
				diff["note"] = map[string]any{"from": e.Note, "to": note}
				e.Note = note
			}
		}
		e.UpdatedAt = now

		if e.DurationMin == 0 {
			if err := repo.DeleteEntry(ctx, e.ID); err != nil {
				return fmt.Errorf("failed to delete entry: %w", err)
			}
		} else if err := repo.UpdateEntry(ctx, e); err != nil {
			return fmt.Errorf("failed to update entry: %w", err)
		}
		return s.recomputeEntryTimesheet(ctx, repo, e, now)
	})
	if err != nil {
		return nil, err
	}

	s.recordHistory(ctx, HistoryEvent{
		CompanyID:  companyID,
		UserID:     e.UserID,
		TargetType: TargetEntry,
		TargetID:   e.ID,
		Action:     ActionEntryUpdated,
		Diff:       diff,
	})
	return e, nil
}

// TransitionEntry moves an entry through the fine-grained state machine.
func (s *Service) TransitionEntry(ctx context.Context, companyID, entryID string, to EntryStatus, actorID string) (*Entry, error) {
	var (
		e    *Entry
		from EntryStatus
	)
	err := s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if e, err = getCompanyEntry(ctx, repo, companyID, entryID); err != nil {
			return err
		}
		from = e.Status
		if err := CheckEntryTransition(from, to); err != nil {
			return err
		}
		now := s.now().UTC()
		e.Status = to
		e.StatusUpdatedAt = now
		e.UpdatedAt = now
		return repo.UpdateEntry(ctx, e)
	})
	if err != nil {
		return nil, err
	}

	s.recordHistory(ctx, HistoryEvent{
		CompanyID:   companyID,
		UserID:      e.UserID,
		TargetType:  TargetEntry,
		TargetID:    e.ID,
		Action:      ActionEntryStatusChanged,
		ActorUserID: strPtr(actorID),
		Diff:        map[string]any{"status": map[string]any{"from": from, "to": to}},
	})
	return e, nil
}

func getCompanyEntry(ctx context.Context, repo Repository, companyID, id string) (*Entry, error) {
	e, err := repo.GetEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load entry: %w", err)
	}
	if e == nil || e.CompanyID != companyID {
		return nil, &NotFoundError{Kind: "entry", ID: id}
	}
	return e, nil
}

// checkRowUnlocked rejects edits to entries of a locked row.
func checkRowUnlocked(ctx context.Context, repo Repository, e *Entry) error {
	if e.RowID == nil || e.TimesheetID == nil {
		return nil
	}
	rows, err := repo.ListRows(ctx, *e.TimesheetID)
	if err != nil {
		return fmt.Errorf("failed to list rows: %w", err)
	}
	for _, row := range rows {
		if row.ID == *e.RowID && row.Locked {
			return invalid("row", "row %s is locked (%s) and cannot be edited", row.ID, row.Status)
		}
	}
	return nil
}

func (s *Service) recomputeEntryTimesheet(ctx context.Context, repo Repository, e *Entry, now time.Time) error {
	if e.TimesheetID == nil {
		return nil
	}
	ts, err := repo.GetTimesheet(ctx, *e.TimesheetID)
	if err != nil {
		return fmt.Errorf("failed to load timesheet: %w", err)
	}
	if ts == nil {
		return nil
	}
	return recomputeTotals(ctx, repo, ts, now)
}

func groupEntriesByRow(entries []Entry) map[string][]Entry {
	byRow := make(map[string][]Entry)
	for _, e := range entries {
		if e.RowID != nil {
			byRow[*e.RowID] = append(byRow[*e.RowID], e)
		}
	}
	return byRow
}

func setEntryStatuses(ctx context.Context, repo Repository, entries []Entry, status EntryStatus, now time.Time) error {
	for i := range entries {
		e := &entries[i]
		e.Status = status
		e.StatusUpdatedAt = now
		e.UpdatedAt = now
		if err := repo.UpdateEntry(ctx, e); err != nil {
			return fmt.Errorf("failed to set entry %s to %s: %w", e.ID, status, err)
		}
	}
	return nil
}
