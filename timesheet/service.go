/*
service.go - Entry points of the timesheet engine

OPERATIONS:
  GetWeek          week view (lazily creates the timesheet, runs backfill)
  UpsertWeek       reconcile a desired row set against persisted state
  SubmitWeek       row-granular week submission
  SubmitTimesheet  timesheet-mode submission (DRAFT only)
  ApproveTimesheet / RejectTimesheet
  UpdateEntry / TransitionEntry  fine-grained entry workflow

TRANSACTIONS:
  Every operation runs its reads and writes inside one Store.WithTx call.
  History events are appended after commit and are best-effort: a failed
  append is logged and never fails the operation.

The service is stateless between calls.
*/
package timesheet

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Dependencies are the external collaborators of the engine. Any of them
// may be nil; a nil SettingsProvider yields default settings, a nil
// HistoryLog disables history.
type Dependencies struct {
	Settings SettingsProvider
	Catalog  TimeCodeCatalog
	Users    UserDirectory
	History  HistoryLog
}

type Service struct {
	store    Store
	settings SettingsProvider
	catalog  TimeCodeCatalog
	users    UserDirectory
	history  HistoryLog

	log   *zap.Logger
	now   func() time.Time
	newID func() string
}

type Option func(*Service)

func WithLogger(l *zap.Logger) Option {
	return func(s *Service) { s.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithIDGenerator overrides record id generation.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) { s.newID = gen }
}

func NewService(store Store, deps Dependencies, opts ...Option) *Service {
	s := &Service{
		store:    store,
		settings: deps.Settings,
		catalog:  deps.Catalog,
		users:    deps.Users,
		history:  deps.History,
		log:      zap.NewNop(),
		now:      time.Now,
		newID:    uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Settings returns the effective settings of a company.
func (s *Service) Settings(ctx context.Context, companyID string) Settings {
	return ResolveSettings(loadSettings(ctx, s.settings, companyID, s.log))
}

// =============================================================================
// WEEK VIEW
// =============================================================================

// GetWeek returns the week view for a user, creating the timesheet on
// first access and backfilling legacy entries when it has no rows.
func (s *Service) GetWeek(ctx context.Context, companyID, userID, weekStart string) (*WeekView, error) {
	period, err := ResolveWeek(weekStart)
	if err != nil {
		return nil, err
	}
	settings := s.Settings(ctx, companyID)
	codes, err := s.prefetchTimeCodes(ctx, companyID, userID, period)
	if err != nil {
		return nil, err
	}

	var (
		ts         *Timesheet
		rows       []Row
		entries    []Entry
		backfilled int
	)
	err = s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if ts, err = s.ensureTimesheet(ctx, repo, companyID, userID, period); err != nil {
			return err
		}
		rows, entries, backfilled, err = s.loadWeek(ctx, repo, ts, settings, codes)
		return err
	})
	if err != nil {
		return nil, err
	}
	if backfilled > 0 {
		s.recordBackfill(ctx, ts, backfilled)
	}

	view := buildWeekView(ts, rows, entries, settings)
	if ts.Status == TimesheetRejected {
		if view.Rejection, err = s.projectRejection(ctx, ts); err != nil {
			return nil, err
		}
	}
	return view, nil
}

// UpsertWeek reconciles the desired rows against the persisted week and
// returns the refreshed view. Either every row is applied or none is.
func (s *Service) UpsertWeek(ctx context.Context, companyID, userID, weekStart string, rows []RowInput) (*WeekView, error) {
	period, err := ResolveWeek(weekStart)
	if err != nil {
		return nil, err
	}
	settings := s.Settings(ctx, companyID)
	codes, err := s.prefetchTimeCodes(ctx, companyID, userID, period)
	if err != nil {
		return nil, err
	}

	var (
		ts         *Timesheet
		backfilled int
	)
	err = s.store.WithTx(ctx, func(repo Repository) error {
		var err error
		if ts, err = s.ensureTimesheet(ctx, repo, companyID, userID, period); err != nil {
			return err
		}
		// Legacy entries are moved into rows first so the payload is
		// reconciled against them instead of leaving them orphaned.
		if _, _, backfilled, err = s.loadWeek(ctx, repo, ts, settings, codes); err != nil {
			return err
		}
		rec := &reconciler{
			repo:     repo,
			ts:       ts,
			period:   period,
			settings: settings,
			now:      s.now().UTC(),
			newID:    s.newID,
		}
		if err := rec.apply(ctx, rows); err != nil {
			return err
		}
		s.log.Debug("week upserted",
			zap.String("timesheet_id", ts.ID),
			zap.Int("created", rec.stats.created),
			zap.Int("updated", rec.stats.updated),
			zap.Int("deleted", rec.stats.deleted),
		)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if backfilled > 0 {
		s.recordBackfill(ctx, ts, backfilled)
	}
	return s.GetWeek(ctx, companyID, userID, weekStart)
}

// ensureTimesheet returns the timesheet for the period, creating a DRAFT
// one if none exists.
func (s *Service) ensureTimesheet(ctx context.Context, repo Repository, companyID, userID string, period Period) (*Timesheet, error) {
	ts, err := repo.FindTimesheet(ctx, companyID, userID, period)
	if err != nil {
		return nil, fmt.Errorf("failed to load timesheet: %w", err)
	}
	if ts != nil {
		return ts, nil
	}

	now := s.now().UTC()
	ts = &Timesheet{
		ID:          s.newID(),
		CompanyID:   companyID,
		UserID:      userID,
		PeriodStart: period.Start,
		PeriodEnd:   period.End,
		Status:      TimesheetDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.CreateTimesheet(ctx, ts); err != nil {
		return nil, fmt.Errorf("failed to create timesheet: %w", err)
	}
	return ts, nil
}

// loadWeek reads rows and row entries, running the legacy backfill when
// the timesheet has no rows yet.
func (s *Service) loadWeek(ctx context.Context, repo Repository, ts *Timesheet, settings Settings, codes map[string]*TimeCode) ([]Row, []Entry, int, error) {
	rows, err := repo.ListRows(ctx, ts.ID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to list rows: %w", err)
	}

	backfilled := 0
	if len(rows) == 0 {
		if backfilled, err = s.backfill(ctx, repo, ts, settings, codes); err != nil {
			return nil, nil, 0, err
		}
		if backfilled > 0 {
			if rows, err = repo.ListRows(ctx, ts.ID); err != nil {
				return nil, nil, 0, fmt.Errorf("failed to list rows: %w", err)
			}
		}
	}

	all, err := repo.ListEntries(ctx, ts.ID)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("failed to list entries: %w", err)
	}
	var entries []Entry
	for _, e := range all {
		if e.RowID != nil {
			entries = append(entries, e)
		}
	}
	return rows, entries, backfilled, nil
}

// getCompanyTimesheet loads a timesheet by id, hiding other companies'.
func getCompanyTimesheet(ctx context.Context, repo Repository, companyID, id string) (*Timesheet, error) {
	ts, err := repo.GetTimesheet(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load timesheet: %w", err)
	}
	if ts == nil || ts.CompanyID != companyID {
		return nil, &NotFoundError{Kind: "timesheet", ID: id}
	}
	return ts, nil
}

// recomputeTotals sets TotalMinutes to the sum over all row entries.
func recomputeTotals(ctx context.Context, repo Repository, ts *Timesheet, now time.Time) error {
	entries, err := repo.ListEntries(ctx, ts.ID)
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}
	total := 0
	for _, e := range entries {
		if e.RowID != nil {
			total += e.DurationMin
		}
	}
	ts.TotalMinutes = total
	ts.UpdatedAt = now
	if err := repo.UpdateTimesheet(ctx, ts); err != nil {
		return fmt.Errorf("failed to update timesheet totals: %w", err)
	}
	return nil
}

// =============================================================================
// HISTORY
// =============================================================================

// recordHistory appends an event. Failures are logged, not returned.
func (s *Service) recordHistory(ctx context.Context, ev HistoryEvent) {
	if s.history == nil {
		return
	}
	ev.ID = s.newID()
	ev.OccurredAt = s.now().UTC()
	if err := s.history.Append(ctx, ev); err != nil {
		s.log.Error("failed to append history event",
			zap.String("company_id", ev.CompanyID),
			zap.String("target_type", string(ev.TargetType)),
			zap.String("target_id", ev.TargetID),
			zap.String("action", string(ev.Action)),
			zap.Error(err),
		)
	}
}

func (s *Service) recordBackfill(ctx context.Context, ts *Timesheet, rows int) {
	s.log.Info("legacy entries backfilled",
		zap.String("timesheet_id", ts.ID),
		zap.Int("rows", rows),
	)
	s.recordHistory(ctx, HistoryEvent{
		CompanyID:  ts.CompanyID,
		UserID:     ts.UserID,
		TargetType: TargetTimesheet,
		TargetID:   ts.ID,
		Action:     ActionBackfilled,
		Metadata:   map[string]any{"rows_created": rows},
	})
}

func strPtr(s string) *string {
	return &s
}

func timePtr(t time.Time) *time.Time {
	return &t
}
