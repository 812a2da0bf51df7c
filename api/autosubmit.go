/*
autosubmit.go - Hourly auto-submit trigger

PURPOSE:
  Submits open weeks on behalf of their owners at each company's configured
  auto-submit hour. This is a caller of the engine's SubmitWeek, not part of
  the engine.

DESIGN:
  - Runs a background goroutine with configurable check interval
  - On each tick, picks the companies whose effective auto-submit hour
    equals the current UTC hour
  - Submits every DRAFT or REJECTED timesheet of the current week with
    actor "system"
  - Failures are logged and not retried within the tick

USAGE:
  as := NewAutoSubmitter(store, svc, logger)
  as.Start()
  // ... later
  as.Stop()

SEE ALSO:
  - timesheet/workflow.go: SubmitWeek
*/
package api

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/warp/timesheet-engine/timesheet"
)

// SystemActor is recorded as the submitter of auto-submitted weeks.
const SystemActor = "system"

// OpenWeekLister finds the candidates of an auto-submit run.
type OpenWeekLister interface {
	ListCompanies(ctx context.Context) ([]string, error)
	ListOpenTimesheetUsers(ctx context.Context, companyID string, period timesheet.Period) ([]string, error)
}

// AutoSubmitter handles automated week submission.
type AutoSubmitter struct {
	Lister        OpenWeekLister
	Service       *timesheet.Service
	CheckInterval time.Duration
	Enabled       bool
	Now           func() time.Time

	log    *zap.Logger
	ticker *time.Ticker
	stop   chan struct{}
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// RunResult counts the outcome of one run.
type RunResult struct {
	Companies int
	Submitted int
	Failed    int
}

func NewAutoSubmitter(lister OpenWeekLister, svc *timesheet.Service, log *zap.Logger) *AutoSubmitter {
	if log == nil {
		log = zap.NewNop()
	}
	return &AutoSubmitter{
		Lister:        lister,
		Service:       svc,
		CheckInterval: time.Hour,
		Enabled:       true,
		Now:           time.Now,
		log:           log,
		stop:          make(chan struct{}),
	}
}

// Start begins the scheduler.
func (as *AutoSubmitter) Start() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if !as.Enabled {
		as.log.Info("auto-submit disabled, not starting")
		return
	}

	as.ticker = time.NewTicker(as.CheckInterval)
	as.wg.Add(1)

	go as.run()

	as.log.Info("auto-submit started", zap.Duration("interval", as.CheckInterval))
}

// Stop stops the scheduler and waits for an in-flight run.
func (as *AutoSubmitter) Stop() {
	as.mu.Lock()
	defer as.mu.Unlock()

	if as.ticker != nil {
		as.ticker.Stop()
		close(as.stop)
		as.wg.Wait()
		as.ticker = nil
		as.log.Info("auto-submit stopped")
	}
}

func (as *AutoSubmitter) run() {
	defer as.wg.Done()

	for {
		select {
		case <-as.ticker.C:
			as.RunNow(context.Background())
		case <-as.stop:
			return
		}
	}
}

// RunNow performs one auto-submit pass for the current hour.
func (as *AutoSubmitter) RunNow(ctx context.Context) RunResult {
	var result RunResult
	now := as.Now().UTC()
	period := timesheet.WeekContaining(now)

	companies, err := as.Lister.ListCompanies(ctx)
	if err != nil {
		as.log.Error("auto-submit failed to list companies", zap.Error(err))
		return result
	}

	for _, companyID := range companies {
		if as.Service.Settings(ctx, companyID).AutoSubmitHour != now.Hour() {
			continue
		}
		result.Companies++

		users, err := as.Lister.ListOpenTimesheetUsers(ctx, companyID, period)
		if err != nil {
			as.log.Error("auto-submit failed to list open timesheets",
				zap.String("company_id", companyID), zap.Error(err))
			continue
		}
		for _, userID := range users {
			_, err := as.Service.SubmitWeek(ctx, companyID, userID, period.StartString(),
				timesheet.SubmitOptions{ActorID: SystemActor})
			if err != nil {
				result.Failed++
				as.log.Warn("auto-submit failed",
					zap.String("company_id", companyID),
					zap.String("user_id", userID),
					zap.Error(err))
				continue
			}
			result.Submitted++
		}
	}

	if result.Submitted > 0 || result.Failed > 0 {
		as.log.Info("auto-submit completed",
			zap.Int("submitted", result.Submitted),
			zap.Int("failed", result.Failed))
	}
	return result
}
