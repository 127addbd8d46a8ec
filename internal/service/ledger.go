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

// maxCheckInSteps bounds the check-in state machine. Each lost CAS moves the
// booking one state forward, so three steps always reach a terminal answer.
const maxCheckInSteps = 3

// LedgerService owns slot capacity and the venue check-in state of bookings.
type LedgerService struct {
	store    repository.Store
	notifier Notifier
	log      *zap.Logger
	clock    clock
}

// NewLedgerService constructs a LedgerService with its dependencies.
func NewLedgerService(store repository.Store, notifier Notifier, log *zap.Logger) *LedgerService {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &LedgerService{store: store, notifier: notifier, log: log}
}

// ConfirmBooking takes one place on the slot and records the user's
// confirmed booking in the same transaction. A pending reservation is
// promoted; otherwise a new confirmed booking is written.
//
// The place is claimed with a single conditional increment, so concurrent
// confirmations can never push the slot past capacity. A duplicate confirmed
// booking reports ErrAlreadyBooked whether or not the slot is full; when the
// increment applied it is rolled back.
func (s *LedgerService) ConfirmBooking(ctx context.Context, slotID, userID string) (*model.Booking, error) {
	if err := requireID("slot id", slotID); err != nil {
		return nil, err
	}
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	now := s.clock.now()
	var booking *model.Booking
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		ok, err := q.IncrementParticipants(ctx, slotID, 1)
		if err != nil {
			return apperror.Internal("claim slot place", err)
		}
		if !ok {
			if _, err := q.GetSlot(ctx, slotID); err != nil {
				return translate(err, "slot", slotID)
			}
			// A redelivered confirmation for the holder of the last place.
			_, err := q.FindBooking(ctx, slotID, userID, model.BookingConfirmed)
			switch {
			case err == nil:
				return apperror.ErrAlreadyBooked
			case !errors.Is(err, repository.ErrNotFound):
				return apperror.Internal("find booking", err)
			}
			return apperror.ErrSlotFull
		}

		pending, err := q.FindBooking(ctx, slotID, userID, model.BookingPending)
		switch {
		case err == nil:
			promoted, err := q.ConfirmPendingBooking(ctx, pending.ID)
			if errors.Is(err, repository.ErrDuplicateBooking) {
				return apperror.ErrAlreadyBooked
			}
			if err != nil {
				return apperror.Internal("confirm booking", err)
			}
			if promoted {
				pending.Status = model.BookingConfirmed
				booking = pending
				return nil
			}
		case !errors.Is(err, repository.ErrNotFound):
			return apperror.Internal("find pending booking", err)
		}

		b := &model.Booking{
			ID:        uuid.NewString(),
			SlotID:    slotID,
			UserID:    userID,
			Status:    model.BookingConfirmed,
			Source:    model.SourceDirect,
			CreatedAt: now,
		}
		if err := q.InsertBooking(ctx, b); err != nil {
			if errors.Is(err, repository.ErrDuplicateBooking) {
				return apperror.ErrAlreadyBooked
			}
			return apperror.Internal("insert booking", err)
		}
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("booking confirmed",
		zap.String(logger.FieldBookingID, booking.ID),
		zap.String(logger.FieldSlotID, slotID),
		zap.String(logger.FieldUserID, userID),
	)
	s.notifier.Notify(ctx, model.Notification{
		Type:       model.NotifyBookingConfirmed,
		UserID:     userID,
		SlotID:     slotID,
		BookingID:  booking.ID,
		Status:     string(booking.Status),
		OccurredAt: now,
	})
	return booking, nil
}

// ReserveBooking records a pending booking ahead of payment. It does not
// claim capacity; a repeated reservation returns the existing one.
func (s *LedgerService) ReserveBooking(ctx context.Context, slotID, userID string) (*model.Booking, error) {
	if err := requireID("slot id", slotID); err != nil {
		return nil, err
	}
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	slot, err := s.store.GetSlot(ctx, slotID)
	if err != nil {
		return nil, translate(err, "slot", slotID)
	}
	if !slot.IsActive {
		return nil, apperror.InvalidState("slot is not open for booking")
	}
	if slot.IsFull() {
		return nil, apperror.ErrSlotFull
	}
	if _, err := s.store.FindBooking(ctx, slotID, userID, model.BookingConfirmed); err == nil {
		return nil, apperror.ErrAlreadyBooked
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, apperror.Internal("find booking", err)
	}

	b := &model.Booking{
		ID:        uuid.NewString(),
		SlotID:    slotID,
		UserID:    userID,
		Status:    model.BookingPending,
		Source:    model.SourceDirect,
		CreatedAt: s.clock.now(),
	}
	if err := s.store.InsertBooking(ctx, b); err != nil {
		if !errors.Is(err, repository.ErrDuplicateBooking) {
			return nil, apperror.Internal("insert booking", err)
		}
		existing, err := s.store.FindBooking(ctx, slotID, userID, model.BookingPending)
		if err != nil {
			return nil, translate(err, "pending booking", slotID)
		}
		return existing, nil
	}
	return b, nil
}

// CancelBooking cancels the caller's booking. Cancelling a confirmed booking
// releases its place in the same transaction. Checked-in bookings cannot be
// cancelled.
func (s *LedgerService) CancelBooking(ctx context.Context, bookingID, userID string) (*model.Booking, error) {
	if err := requireID("booking id", bookingID); err != nil {
		return nil, err
	}

	var booking *model.Booking
	err := s.store.InTx(ctx, func(q repository.Queries) error {
		b, err := q.GetBooking(ctx, bookingID)
		if err != nil {
			return translate(err, "booking", bookingID)
		}
		if b.UserID != userID {
			return apperror.Forbidden("only the booking holder may cancel it")
		}
		if b.Status == model.BookingCancelled {
			return apperror.InvalidState("booking is already cancelled")
		}
		if b.CheckedInAt != nil {
			return apperror.InvalidState("checked-in bookings cannot be cancelled")
		}

		ok, err := q.CancelBooking(ctx, bookingID, b.Status)
		if err != nil {
			return apperror.Internal("cancel booking", err)
		}
		if !ok {
			return apperror.InvalidState("booking changed while cancelling, retry")
		}
		if b.Status == model.BookingConfirmed {
			released, err := q.DecrementParticipants(ctx, b.SlotID)
			if err != nil {
				return apperror.Internal("release slot place", err)
			}
			if !released {
				return apperror.Internal("slot counter already at zero", nil)
			}
		}
		b.Status = model.BookingCancelled
		booking = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("booking cancelled",
		zap.String(logger.FieldBookingID, bookingID),
		zap.String(logger.FieldSlotID, booking.SlotID),
		zap.String(logger.FieldUserID, userID),
	)
	s.notifier.Notify(ctx, model.Notification{
		Type:       model.NotifyBookingCancelled,
		UserID:     userID,
		SlotID:     booking.SlotID,
		BookingID:  bookingID,
		Status:     string(model.BookingCancelled),
		OccurredAt: s.clock.now(),
	})
	return booking, nil
}

// CheckIn toggles the venue state of the user's confirmed booking on a slot:
// the first scan checks in, the second checks out, later scans report
// already_completed.
//
// Each transition is a conditional update. When one loses a race the booking
// is re-read and the next transition is attempted, so concurrent scans yield
// exactly one check-in and one check-out.
func (s *LedgerService) CheckIn(ctx context.Context, slotID, userID string) (*model.CheckInResult, error) {
	if err := requireID("slot id", slotID); err != nil {
		return nil, err
	}
	if err := requireUser(userID); err != nil {
		return nil, err
	}

	b, err := s.store.FindBooking(ctx, slotID, userID, model.BookingConfirmed)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperror.NotFound("confirmed booking for this slot")
		}
		return nil, apperror.Internal("find booking", err)
	}

	for step := 0; step < maxCheckInSteps; step++ {
		switch b.CheckInState() {
		case model.NotCheckedIn:
			at, err := s.store.MarkCheckedIn(ctx, b.ID)
			if err != nil {
				return nil, apperror.Internal("check in", err)
			}
			if at != nil {
				return s.checkedIn(ctx, b, model.ActionCheckIn, at, nil), nil
			}
		case model.CheckedIn:
			at, err := s.store.MarkCheckedOut(ctx, b.ID)
			if err != nil {
				return nil, apperror.Internal("check out", err)
			}
			if at != nil {
				return s.checkedIn(ctx, b, model.ActionCheckOut, b.CheckedInAt, at), nil
			}
		case model.CheckedOut:
			return &model.CheckInResult{
				Action:       model.ActionAlreadyCompleted,
				BookingID:    b.ID,
				CheckedInAt:  b.CheckedInAt,
				CheckedOutAt: b.CheckedOutAt,
			}, nil
		}

		id := b.ID
		if b, err = s.store.GetBooking(ctx, id); err != nil {
			return nil, translate(err, "booking", id)
		}
		if b.Status != model.BookingConfirmed {
			return nil, apperror.InvalidState("booking is no longer confirmed")
		}
	}
	return nil, apperror.Internal("check-in state did not settle", nil)
}

func (s *LedgerService) checkedIn(ctx context.Context, b *model.Booking, action model.CheckInAction, in, out *time.Time) *model.CheckInResult {
	typ := model.NotifyCheckIn
	if action == model.ActionCheckOut {
		typ = model.NotifyCheckOut
	}
	s.log.Info("venue scan",
		zap.String(logger.FieldBookingID, b.ID),
		zap.String(logger.FieldSlotID, b.SlotID),
		zap.String("action", string(action)),
	)
	s.notifier.Notify(ctx, model.Notification{
		Type:       typ,
		UserID:     b.UserID,
		SlotID:     b.SlotID,
		BookingID:  b.ID,
		Status:     string(action),
		OccurredAt: s.clock.now(),
	})
	return &model.CheckInResult{
		Action:       action,
		BookingID:    b.ID,
		CheckedInAt:  in,
		CheckedOutAt: out,
	}
}
