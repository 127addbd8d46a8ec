package service

import (
	"context"

	"github.com/Shivanand-hulikatti/session-lottery/internal/apperror"
	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/Shivanand-hulikatti/session-lottery/internal/repository"
	"github.com/Shivanand-hulikatti/session-lottery/pkg/logger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// StatsService serves the organizer's read-only rollups.
type StatsService struct {
	store repository.Store
	log   *zap.Logger
}

// NewStatsService constructs a StatsService with its dependencies.
func NewStatsService(store repository.Store, log *zap.Logger) *StatsService {
	return &StatsService{store: store, log: log}
}

// GetSlotStatus returns the check-in counts of one slot.
func (s *StatsService) GetSlotStatus(ctx context.Context, slotID, callerID string) (*model.SlotCheckInStatus, error) {
	if err := requireID("slot id", slotID); err != nil {
		return nil, err
	}
	slot, err := s.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, translate(err, "slot", slotID)
	}
	if _, err := authorizeOrganizer(ctx, s.store, slot.SessionID, callerID); err != nil {
		return nil, err
	}
	st, err := s.store.SlotCheckInStatus(ctx, slotID)
	if err != nil {
		return nil, translate(err, "slot", slotID)
	}
	return st, nil
}

// GetSessionStatus returns the check-in counts of every slot of a photo
// session plus their totals.
func (s *StatsService) GetSessionStatus(ctx context.Context, sessionID, callerID string) (*model.SessionCheckInStatus, error) {
	if err := requireID("session id", sessionID); err != nil {
		return nil, err
	}
	if _, err := authorizeOrganizer(ctx, s.store, sessionID, callerID); err != nil {
		return nil, err
	}
	slots, err := s.store.SessionCheckInStatus(ctx, sessionID)
	if err != nil {
		return nil, apperror.Internal("session check-in status", err)
	}

	out := &model.SessionCheckInStatus{SessionID: sessionID, Slots: slots}
	if out.Slots == nil {
		out.Slots = []model.SlotCheckInStatus{}
	}
	for _, st := range slots {
		out.Total += st.Total
		out.CheckedIn += st.CheckedIn
		out.CheckedOut += st.CheckedOut
	}
	return out, nil
}

// GetLotterySummary returns applicant and winner counts of a lottery session.
// The independent reads run concurrently.
func (s *StatsService) GetLotterySummary(ctx context.Context, lotterySessionID, callerID string) (*model.LotterySummary, error) {
	if err := requireID("lottery session id", lotterySessionID); err != nil {
		return nil, err
	}
	ls, err := s.store.GetLotterySession(ctx, lotterySessionID)
	if err != nil {
		return nil, translate(err, "lottery session", lotterySessionID)
	}
	if _, err := authorizeOrganizer(ctx, s.store, ls.ParentSessionID, callerID); err != nil {
		return nil, err
	}

	summary := &model.LotterySummary{LotterySession: ls}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		counts, err := s.store.GroupStatusCounts(gctx, lotterySessionID)
		summary.GroupCounts = counts
		return err
	})
	g.Go(func() error {
		slots, err := s.store.SlotLotteryStats(gctx, lotterySessionID)
		summary.Slots = slots
		return err
	})
	if ls.Status == model.LotteryCompleted {
		g.Go(func() error {
			res, err := s.store.GetAllocationResult(gctx, lotterySessionID)
			summary.Result = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.log.Error("load lottery summary",
			zap.String(logger.FieldLotterySessionID, lotterySessionID),
			zap.Error(err),
		)
		return nil, apperror.Internal("lottery summary", err)
	}
	return summary, nil
}
