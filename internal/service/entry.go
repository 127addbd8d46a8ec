package service

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/apperror"
	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/Shivanand-hulikatti/session-lottery/internal/repository"
	"github.com/Shivanand-hulikatti/session-lottery/pkg/logger"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// EntryService manages an applicant's multi-slot lottery submission.
type EntryService struct {
	store repository.Store
	log   *zap.Logger
	clock clock
}

// NewEntryService constructs an EntryService with its dependencies.
func NewEntryService(store repository.Store, log *zap.Logger) *EntryService {
	return &EntryService{store: store, log: log}
}

// Submit creates the caller's entry group and its slot entries in one
// transaction.
func (s *EntryService) Submit(ctx context.Context, lotterySessionID, userID string, req model.SubmitEntryRequest) (*model.EntryGroup, error) {
	if err := requireID("lottery session id", lotterySessionID); err != nil {
		return nil, err
	}
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	now := s.clock.now()
	group := &model.EntryGroup{
		ID:                 uuid.NewString(),
		LotterySessionID:   lotterySessionID,
		UserID:             userID,
		CancellationPolicy: req.CancellationPolicy,
		TotalSlotsApplied:  len(req.Entries),
		GroupStatus:        model.GroupEntered,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err := s.store.InTx(ctx, func(q repository.Queries) error {
		ls, err := q.LockLotterySession(ctx, lotterySessionID)
		if err != nil {
			return translate(err, "lottery session", lotterySessionID)
		}
		if !ls.AcceptsEntriesAt(now) {
			return apperror.ErrEntryWindowClosed
		}
		if err := checkSlotSelection(ctx, q, ls.ParentSessionID, req.Entries); err != nil {
			return err
		}

		if err := q.InsertEntryGroup(ctx, group); err != nil {
			if errors.Is(err, repository.ErrDuplicateEntry) {
				return apperror.ErrDuplicateEntry
			}
			return apperror.Internal("create entry group", err)
		}
		group.Entries = buildEntries(group, req.Entries, nil, now)
		if err := q.InsertSlotEntries(ctx, group.Entries); err != nil {
			return apperror.Internal("create slot entries", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("entry group submitted",
		zap.String(logger.FieldEntryGroupID, group.ID),
		zap.String(logger.FieldLotterySessionID, lotterySessionID),
		zap.String(logger.FieldUserID, userID),
		zap.Int("slots", group.TotalSlotsApplied),
	)
	return group, nil
}

// Update replaces the slot entries of a group. It is allowed while the entry
// window is open and the group has been edited fewer than MaxEntryUpdates
// times. Weights of slots kept across the edit are preserved.
func (s *EntryService) Update(ctx context.Context, groupID, userID string, req model.UpdateEntryRequest) (*model.EntryGroup, error) {
	if err := requireID("entry group id", groupID); err != nil {
		return nil, err
	}
	if err := requireUser(userID); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	now := s.clock.now()
	var updated *model.EntryGroup
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		group, err := q.GetEntryGroup(ctx, groupID)
		if err != nil {
			return translate(err, "entry group", groupID)
		}
		if group.UserID != userID {
			return apperror.Forbidden("only the applicant may edit this entry")
		}

		ls, err := q.LockLotterySession(ctx, group.LotterySessionID)
		if err != nil {
			return translate(err, "lottery session", group.LotterySessionID)
		}
		if !ls.AcceptsEntriesAt(now) {
			return apperror.ErrEntryWindowClosed
		}
		if err := checkSlotSelection(ctx, q, ls.ParentSessionID, req.Entries); err != nil {
			return err
		}

		policy := req.CancellationPolicy
		if policy == "" {
			policy = group.CancellationPolicy
		}
		ok, err := q.IncrementUpdateCount(ctx, groupID, policy, len(req.Entries), now)
		if err != nil {
			return apperror.Internal("update entry group", err)
		}
		if !ok {
			return apperror.ErrUpdateLimitExceeded
		}

		weights := make(map[string]float64, len(group.Entries))
		for _, e := range group.Entries {
			weights[e.SlotID] = e.LotteryWeight
		}
		if err := q.DeleteSlotEntries(ctx, groupID); err != nil {
			return apperror.Internal("replace slot entries", err)
		}
		if err := q.InsertSlotEntries(ctx, buildEntries(group, req.Entries, weights, now)); err != nil {
			return apperror.Internal("replace slot entries", err)
		}

		updated, err = q.GetEntryGroup(ctx, groupID)
		if err != nil {
			return apperror.Internal("reload entry group", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("entry group updated",
		zap.String(logger.FieldEntryGroupID, groupID),
		zap.String(logger.FieldUserID, userID),
		zap.Int("update_count", updated.UpdateCount),
	)
	return updated, nil
}

// Get returns an entry group with its entries to its applicant.
func (s *EntryService) Get(ctx context.Context, groupID, userID string) (*model.EntryGroup, error) {
	if err := requireID("entry group id", groupID); err != nil {
		return nil, err
	}
	group, err := s.store.GetEntryGroup(ctx, groupID)
	if err != nil {
		return nil, translate(err, "entry group", groupID)
	}
	if group.UserID != userID {
		return nil, apperror.Forbidden("only the applicant may view this entry")
	}
	return group, nil
}

// SetWeight lets the session organizer change the lottery weight of one slot
// entry before the draw starts.
func (s *EntryService) SetWeight(ctx context.Context, entryID, callerID string, req model.SetWeightRequest) (*model.SlotEntry, error) {
	if err := requireID("slot entry id", entryID); err != nil {
		return nil, err
	}
	if err := validateStruct(req); err != nil {
		return nil, err
	}

	var entry *model.SlotEntry
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		var err error
		entry, err = q.GetSlotEntry(ctx, entryID)
		if err != nil {
			return translate(err, "slot entry", entryID)
		}
		ls, err := q.LockLotterySession(ctx, entry.LotterySessionID)
		if err != nil {
			return translate(err, "lottery session", entry.LotterySessionID)
		}
		if _, err := authorizeOrganizer(ctx, q, ls.ParentSessionID, callerID); err != nil {
			return err
		}
		if ls.Status != model.LotteryAccepting && ls.Status != model.LotteryClosed {
			return apperror.InvalidState("weights are frozen once the draw has started")
		}
		if err := q.SetEntryWeight(ctx, entryID, req.Weight); err != nil {
			return translate(err, "slot entry", entryID)
		}
		entry.LotteryWeight = req.Weight
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// checkSlotSelection verifies every chosen slot is an active slot of the
// photo session and that no more slots are chosen than are active.
func checkSlotSelection(ctx context.Context, q repository.Queries, photoSessionID string, entries []model.EntryOptions) error {
	slots, err := q.ListSlots(ctx, photoSessionID)
	if err != nil {
		return apperror.Internal("list slots", err)
	}
	active := make(map[string]bool, len(slots))
	for _, sl := range slots {
		if sl.IsActive {
			active[sl.ID] = true
		}
	}
	if len(entries) == 0 || len(entries) > len(active) {
		return apperror.ErrInvalidSlotSelection.WithMessage("slot count must be between 1 and the number of open slots")
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if seen[e.SlotID] {
			return apperror.ErrInvalidSlotSelection.WithMessage("slot " + e.SlotID + " chosen twice")
		}
		seen[e.SlotID] = true
		if !active[e.SlotID] {
			return apperror.ErrInvalidSlotSelection.WithMessage("slot " + e.SlotID + " is not an open slot of this session")
		}
	}
	return nil
}

func buildEntries(g *model.EntryGroup, opts []model.EntryOptions, weights map[string]float64, now time.Time) []model.SlotEntry {
	entries := make([]model.SlotEntry, len(opts))
	for i, o := range opts {
		w, ok := weights[o.SlotID]
		if !ok {
			w = model.DefaultLotteryWeight
		}
		entries[i] = model.SlotEntry{
			ID:                 uuid.NewString(),
			EntryGroupID:       g.ID,
			LotterySessionID:   g.LotterySessionID,
			SlotID:             o.SlotID,
			UserID:             g.UserID,
			Status:             model.EntryEntered,
			LotteryWeight:      w,
			PreferredModelID:   o.PreferredModelID,
			ChekiUnsignedCount: o.ChekiUnsignedCount,
			ChekiSignedCount:   o.ChekiSignedCount,
			// Entries of one submission keep their order for tie-breaking.
			CreatedAt: now.Add(time.Duration(i) * time.Microsecond),
		}
	}
	return entries
}
