package timesheet

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// RejectionInfo describes the last rejection of a timesheet, for display.
type RejectionInfo struct {
	Reason     string
	ActorID    string
	ActorName  string
	OccurredAt time.Time
}

// projectRejection rebuilds the last rejection of ts from history. A
// failed display-name lookup only omits the name.
func (s *Service) projectRejection(ctx context.Context, ts *Timesheet) (*RejectionInfo, error) {
	if s.history == nil {
		return nil, nil
	}
	ev, err := s.history.LatestEvent(ctx, ts.CompanyID, TargetTimesheet, ts.ID, ActionRejected)
	if err != nil {
		return nil, fmt.Errorf("failed to load rejection event: %w", err)
	}
	if ev == nil {
		return nil, nil
	}

	info := &RejectionInfo{OccurredAt: ev.OccurredAt}
	if ev.Reason != nil {
		info.Reason = *ev.Reason
	}
	if ev.ActorUserID != nil {
		info.ActorID = *ev.ActorUserID
		if s.users != nil {
			name, err := s.users.GetUserDisplayName(ctx, ts.CompanyID, info.ActorID)
			if err != nil {
				s.log.Debug("rejection actor name unavailable",
					zap.String("actor_id", info.ActorID), zap.Error(err))
			} else {
				info.ActorName = name
			}
		}
	}
	return info, nil
}
