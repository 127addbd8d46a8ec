package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/apperror"
	"github.com/Shivanand-hulikatti/session-lottery/internal/config"
	"github.com/Shivanand-hulikatti/session-lottery/internal/lottery"
	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/Shivanand-hulikatti/session-lottery/internal/repository"
	"github.com/Shivanand-hulikatti/session-lottery/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// errCompletedElsewhere aborts a materialization whose session was completed
// by another runner in the meantime.
var errCompletedElsewhere = errors.New("lottery session completed by another run")

// AllocationService runs the lottery draw for a session and materializes the
// winners as confirmed bookings.
type AllocationService struct {
	store    repository.Store
	notifier Notifier
	log      *zap.Logger
	cfg      config.Allocation
	clock    clock
	newSeed  func() int64
}

// NewAllocationService constructs an AllocationService with its dependencies.
func NewAllocationService(store repository.Store, notifier Notifier, cfg config.Allocation, log *zap.Logger) *AllocationService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &AllocationService{
		store:    store,
		notifier: notifier,
		log:      log,
		cfg:      cfg,
		newSeed:  lottery.NewSeed,
	}
}

// RunAllocation is the organizer-facing entry point: it checks that callerID
// organizes the parent photo session and then runs Allocate.
func (s *AllocationService) RunAllocation(ctx context.Context, lotterySessionID, callerID string) (*model.AllocationResult, error) {
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
	return s.Allocate(ctx, lotterySessionID)
}

// Allocate runs the draw for a lottery session exactly once.
//
// The session is frozen by moving it to drawing with a fresh seed. A session
// that is already completed returns its stored result. A session that is
// drawing under a live lease reports ErrAlreadyRunning; one whose lease has
// expired is taken over and replayed with the seed it was frozen with, which
// reproduces the interrupted run.
func (s *AllocationService) Allocate(ctx context.Context, lotterySessionID string) (*model.AllocationResult, error) {
	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}
	log := s.log.With(zap.String(logger.FieldLotterySessionID, lotterySessionID))

	now := s.clock.now()
	seed := s.newSeed()
	began, err := s.store.BeginDrawing(ctx, lotterySessionID, seed, now)
	if err != nil {
		return nil, apperror.Internal("freeze lottery session", err)
	}
	if !began {
		resumed, done, err := s.resume(ctx, lotterySessionID, now)
		if err != nil || done != nil {
			return done, err
		}
		seed = resumed
		log.Warn("resuming interrupted allocation", zap.Int64(logger.FieldSeed, seed))
	}

	log.Info("allocation started", zap.Int64(logger.FieldSeed, seed))
	result, notes, err := s.materialize(ctx, lotterySessionID, seed, now)
	if errors.Is(err, errCompletedElsewhere) {
		return s.storedResult(ctx, lotterySessionID)
	}
	if err != nil {
		log.Error("allocation failed, session left drawing for resumption",
			zap.Int64(logger.FieldSeed, seed), zap.Error(err))
		return nil, translate(err, "lottery session", lotterySessionID)
	}

	log.Info("allocation completed",
		zap.Int64(logger.FieldSeed, seed),
		zap.Int("passes", result.Passes),
		zap.Int("won_groups", result.WonGroups),
		zap.Int("partial_won_groups", result.PartialWonGroups),
		zap.Int("lost_groups", result.LostGroups),
		zap.Int("cancelled_groups", result.CancelledGroups),
		zap.Int("bookings_created", result.BookingsCreated),
	)
	for _, n := range notes {
		s.notifier.Notify(ctx, n)
	}
	return result, nil
}

// resume decides what to do when the freeze did not apply. It returns either
// the stored result of a completed run, or the seed of a stale run whose lease
// this caller now holds.
func (s *AllocationService) resume(ctx context.Context, id string, now time.Time) (int64, *model.AllocationResult, error) {
	ls, err := s.store.GetLotterySession(ctx, id)
	if err != nil {
		return 0, nil, translate(err, "lottery session", id)
	}

	switch ls.Status {
	case model.LotteryCompleted:
		res, err := s.storedResult(ctx, id)
		return 0, res, err
	case model.LotteryDrawing:
		took, err := s.store.TakeOverDrawing(ctx, id, now.Add(-s.cfg.Lease), now)
		if err != nil {
			return 0, nil, apperror.Internal("take over allocation lease", err)
		}
		if !took {
			return 0, nil, apperror.ErrAlreadyRunning
		}
		if ls.DrawSeed == nil {
			return 0, nil, apperror.Internal("drawing lottery session has no seed", nil)
		}
		return *ls.DrawSeed, nil, nil
	default:
		// Lost a race with a concurrent freeze that has not yet become visible.
		return 0, nil, apperror.ErrAlreadyRunning
	}
}

func (s *AllocationService) storedResult(ctx context.Context, id string) (*model.AllocationResult, error) {
	res, err := s.store.GetAllocationResult(ctx, id)
	if err != nil {
		return nil, translate(err, "allocation result", id)
	}
	return res, nil
}

// materialize draws, reconciles and persists one complete run in a single
// transaction. Any failure rolls it back and leaves the session drawing.
func (s *AllocationService) materialize(ctx context.Context, id string, seed int64, now time.Time) (*model.AllocationResult, []model.Notification, error) {
	var (
		result *model.AllocationResult
		notes  []model.Notification
	)
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		ls, err := q.GetLotterySession(ctx, id)
		if err != nil {
			return fmt.Errorf("load lottery session: %w", err)
		}
		slots, err := q.LockSlots(ctx, ls.ParentSessionID)
		if err != nil {
			return fmt.Errorf("lock slots: %w", err)
		}
		groups, err := q.ListEntryGroups(ctx, id)
		if err != nil {
			return fmt.Errorf("load entry groups: %w", err)
		}

		in, users := drawInput(seed, s.cfg.MaxPasses, slots, groups)
		out := lottery.Allocate(in)

		if err := q.SetEntryStatuses(ctx, out.Entries); err != nil {
			return err
		}
		if err := q.SetGroupStatuses(ctx, out.Groups, now); err != nil {
			return err
		}

		created := make(map[string]int)
		for _, w := range out.Winners {
			ok, err := q.InsertLotteryBooking(ctx, &model.Booking{
				ID:        uuid.NewString(),
				SlotID:    w.SlotID,
				UserID:    users[w.EntryID],
				Status:    model.BookingConfirmed,
				Source:    model.SourceLottery,
				CreatedAt: now,
			})
			if err != nil {
				return err
			}
			if ok {
				created[w.SlotID]++
			}
		}
		slotIDs := make([]string, 0, len(created))
		for slotID := range created {
			slotIDs = append(slotIDs, slotID)
		}
		sort.Strings(slotIDs)
		for _, slotID := range slotIDs {
			ok, err := q.IncrementParticipants(ctx, slotID, created[slotID])
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("slot %s cannot take %d lottery bookings", slotID, created[slotID])
			}
		}

		result = summarize(id, seed, out, created, now)
		ok, err := q.CompleteDrawing(ctx, id, seed, result)
		if err != nil {
			return err
		}
		if !ok {
			return errCompletedElsewhere
		}

		notes = make([]model.Notification, 0, len(groups))
		for _, g := range groups {
			notes = append(notes, model.Notification{
				Type:             model.NotifyLotteryResult,
				UserID:           g.UserID,
				LotterySessionID: id,
				EntryGroupID:     g.ID,
				Status:           string(out.Groups[g.ID]),
				OccurredAt:       now,
			})
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return result, notes, nil
}

// drawInput converts persisted state into the pure draw input. Inactive slots
// take part with zero capacity, so their entries lose.
func drawInput(seed int64, maxPasses int, slots []model.Slot, groups []model.EntryGroup) (lottery.Input, map[string]string) {
	in := lottery.Input{
		Seed:      seed,
		Capacity:  make(map[string]int, len(slots)),
		MaxPasses: maxPasses,
	}
	for _, sl := range slots {
		if sl.IsActive {
			in.Capacity[sl.ID] = sl.Remaining()
		} else {
			in.Capacity[sl.ID] = 0
		}
	}

	users := make(map[string]string)
	for _, g := range groups {
		in.Groups = append(in.Groups, lottery.Group{ID: g.ID, Policy: g.CancellationPolicy})
		for _, e := range g.Entries {
			users[e.ID] = e.UserID
			in.Entries = append(in.Entries, lottery.Candidate{
				EntryID:   e.ID,
				GroupID:   g.ID,
				SlotID:    e.SlotID,
				Weight:    e.LotteryWeight,
				CreatedAt: e.CreatedAt,
			})
		}
	}
	return in, users
}

func summarize(id string, seed int64, out *lottery.Outcome, created map[string]int, now time.Time) *model.AllocationResult {
	res := &model.AllocationResult{
		LotterySessionID: id,
		Seed:             seed,
		Passes:           out.Passes,
		CompletedAt:      now,
	}
	for _, st := range out.Groups {
		switch st {
		case model.GroupWon:
			res.WonGroups++
		case model.GroupPartialWon:
			res.PartialWonGroups++
		case model.GroupLost:
			res.LostGroups++
		case model.GroupCancelled:
			res.CancelledGroups++
		}
	}
	for _, st := range out.Entries {
		if st == model.EntryWon {
			res.WonEntries++
		} else {
			res.LostEntries++
		}
	}
	for _, n := range created {
		res.BookingsCreated += n
	}
	return res
}

// CloseDue closes lotteries whose entry window has passed and allocates those
// whose draw date has come, plus any whose previous run went stale. It returns
// the number of sessions allocated.
func (s *AllocationService) CloseDue(ctx context.Context) (int, error) {
	now := s.clock.now()
	closed, err := s.store.CloseEntryWindows(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("close entry windows: %w", err)
	}
	for _, id := range closed {
		s.log.Info("entry window closed", zap.String(logger.FieldLotterySessionID, id))
	}

	due, err := s.store.ListDueLotteries(ctx, now, now.Add(-s.cfg.Lease))
	if err != nil {
		return 0, fmt.Errorf("list due lotteries: %w", err)
	}
	allocated := 0
	for _, id := range due {
		if ctx.Err() != nil {
			return allocated, ctx.Err()
		}
		if _, err := s.Allocate(ctx, id); err != nil {
			if errors.Is(err, apperror.ErrAlreadyRunning) {
				s.log.Debug("allocation already running", zap.String(logger.FieldLotterySessionID, id))
				continue
			}
			s.log.Error("scheduled allocation failed",
				zap.String(logger.FieldLotterySessionID, id), zap.Error(err))
			continue
		}
		allocated++
	}
	return allocated, nil
}

// RunScheduler calls CloseDue every interval until ctx is cancelled.
func (s *AllocationService) RunScheduler(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Info("allocation scheduler started", zap.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("allocation scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.CloseDue(ctx); err != nil && ctx.Err() == nil {
				s.log.Error("allocation scheduler tick failed", zap.Error(err))
			}
		}
	}
}
