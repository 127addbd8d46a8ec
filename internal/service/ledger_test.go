package service

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/Shivanand-hulikatti/session-lottery/internal/apperror"
	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// The in-memory store serializes whole transactions, so this checks the
// service's accounting under contention, not the conditional UPDATE itself.
// The row-level race is covered by TestPostgres_IncrementParticipantsNeverExceedsCapacity
// in the repository package, which needs TEST_DATABASE_URL.
func TestConfirmBooking_NeverOverbooksUnderConcurrency(t *testing.T) {
	f := newFixture(t, 5)
	slotID := f.slots[0].ID

	const callers = 50
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs = map[string]int{}
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.ledger.ConfirmBooking(context.Background(), slotID, fmt.Sprintf("user-%d", i))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				errs["ok"]++
			case assert.ErrorIs(t, err, apperror.ErrSlotFull):
				errs["full"]++
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 5, errs["ok"])
	assert.Equal(t, callers-5, errs["full"])
	assert.Equal(t, 5, f.slot(0).CurrentParticipants)
	assert.Len(t, f.confirmed(0), 5)
}

func TestConfirmBooking_DuplicateLeavesCounterUntouched(t *testing.T) {
	f := newFixture(t, 3)
	slotID := f.slots[0].ID

	b, err := f.ledger.ConfirmBooking(context.Background(), slotID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.BookingConfirmed, b.Status)
	assert.Equal(t, model.SourceDirect, b.Source)

	_, err = f.ledger.ConfirmBooking(context.Background(), slotID, "alice")
	assert.ErrorIs(t, err, apperror.ErrAlreadyBooked)
	assert.Equal(t, 1, f.slot(0).CurrentParticipants)
	assert.Len(t, f.confirmed(0), 1)
}

func TestConfirmBooking_RepeatForLastPlaceIsDuplicateNotFull(t *testing.T) {
	f := newFixture(t, 1)
	slotID := f.slots[0].ID

	_, err := f.ledger.ConfirmBooking(context.Background(), slotID, "alice")
	require.NoError(t, err)

	_, err = f.ledger.ConfirmBooking(context.Background(), slotID, "alice")
	assert.ErrorIs(t, err, apperror.ErrAlreadyBooked)

	_, err = f.ledger.ConfirmBooking(context.Background(), slotID, "bob")
	assert.ErrorIs(t, err, apperror.ErrSlotFull)
	assert.Equal(t, 1, f.slot(0).CurrentParticipants)
	assert.Len(t, f.confirmed(0), 1)
}

func TestConfirmBooking_PromotesPendingReservation(t *testing.T) {
	f := newFixture(t, 2)
	slotID := f.slots[0].ID

	pending, err := f.ledger.ReserveBooking(context.Background(), slotID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.BookingPending, pending.Status)
	assert.Zero(t, f.slot(0).CurrentParticipants, "reservations do not claim capacity")

	again, err := f.ledger.ReserveBooking(context.Background(), slotID, "alice")
	require.NoError(t, err)
	assert.Equal(t, pending.ID, again.ID)

	confirmed, err := f.ledger.ConfirmBooking(context.Background(), slotID, "alice")
	require.NoError(t, err)
	assert.Equal(t, pending.ID, confirmed.ID)
	assert.Equal(t, model.BookingConfirmed, confirmed.Status)
	assert.Equal(t, 1, f.slot(0).CurrentParticipants)
	assert.Len(t, f.store.Bookings(slotID), 1)
	assert.Len(t, f.notifier.byType(model.NotifyBookingConfirmed), 1)
}

func TestConfirmBooking_Errors(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.ledger.ConfirmBooking(context.Background(), uuid.NewString(), "alice")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))

	_, err = f.ledger.ConfirmBooking(context.Background(), "slot-1", "alice")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))

	_, err = f.ledger.ConfirmBooking(context.Background(), f.slots[0].ID, "")
	assert.Equal(t, apperror.KindValidation, apperror.KindOf(err))
}

func TestReserveBooking_Rejections(t *testing.T) {
	f := newFixture(t, 1, 1)
	_, err := f.ledger.ConfirmBooking(context.Background(), f.slots[0].ID, "alice")
	require.NoError(t, err)

	_, err = f.ledger.ReserveBooking(context.Background(), f.slots[0].ID, "bob")
	assert.ErrorIs(t, err, apperror.ErrSlotFull)

	f.store.AddSlot(func() model.Slot { s := f.slots[1]; s.IsActive = false; return s }())
	_, err = f.ledger.ReserveBooking(context.Background(), f.slots[1].ID, "bob")
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
}

func TestCancelBooking(t *testing.T) {
	f := newFixture(t, 2)
	slotID := f.slots[0].ID
	b, err := f.ledger.ConfirmBooking(context.Background(), slotID, "alice")
	require.NoError(t, err)

	_, err = f.ledger.CancelBooking(context.Background(), b.ID, "bob")
	assert.Equal(t, apperror.KindAuthorization, apperror.KindOf(err))

	cancelled, err := f.ledger.CancelBooking(context.Background(), b.ID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.BookingCancelled, cancelled.Status)
	assert.Zero(t, f.slot(0).CurrentParticipants)

	_, err = f.ledger.CancelBooking(context.Background(), b.ID, "alice")
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Zero(t, f.slot(0).CurrentParticipants)

	// The freed place can be taken again, including by the same user.
	_, err = f.ledger.ConfirmBooking(context.Background(), slotID, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, f.slot(0).CurrentParticipants)
}

func TestCancelBooking_PendingDoesNotTouchCounter(t *testing.T) {
	f := newFixture(t, 2)
	_, err := f.ledger.ConfirmBooking(context.Background(), f.slots[0].ID, "alice")
	require.NoError(t, err)
	pending, err := f.ledger.ReserveBooking(context.Background(), f.slots[0].ID, "bob")
	require.NoError(t, err)

	_, err = f.ledger.CancelBooking(context.Background(), pending.ID, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1, f.slot(0).CurrentParticipants)
}

func TestCancelBooking_CheckedInIsFinal(t *testing.T) {
	f := newFixture(t, 2)
	b, err := f.ledger.ConfirmBooking(context.Background(), f.slots[0].ID, "alice")
	require.NoError(t, err)
	_, err = f.ledger.CheckIn(context.Background(), f.slots[0].ID, "alice")
	require.NoError(t, err)

	_, err = f.ledger.CancelBooking(context.Background(), b.ID, "alice")
	assert.Equal(t, apperror.KindConflict, apperror.KindOf(err))
	assert.Equal(t, 1, f.slot(0).CurrentParticipants)
}

func TestCheckIn_TogglesThenCompletes(t *testing.T) {
	f := newFixture(t, 2)
	slotID := f.slots[0].ID
	_, err := f.ledger.ConfirmBooking(context.Background(), slotID, "alice")
	require.NoError(t, err)

	in, err := f.ledger.CheckIn(context.Background(), slotID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.ActionCheckIn, in.Action)
	require.NotNil(t, in.CheckedInAt)
	assert.Nil(t, in.CheckedOutAt)

	out, err := f.ledger.CheckIn(context.Background(), slotID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.ActionCheckOut, out.Action)
	require.NotNil(t, out.CheckedOutAt)
	assert.Equal(t, *in.CheckedInAt, *out.CheckedInAt)

	done, err := f.ledger.CheckIn(context.Background(), slotID, "alice")
	require.NoError(t, err)
	assert.Equal(t, model.ActionAlreadyCompleted, done.Action)
	assert.Equal(t, out.CheckedOutAt, done.CheckedOutAt)

	assert.Len(t, f.notifier.byType(model.NotifyCheckIn), 1)
	assert.Len(t, f.notifier.byType(model.NotifyCheckOut), 1)
}

func TestCheckIn_ExactlyOnceUnderConcurrency(t *testing.T) {
	for _, n := range []int{2, 5, 32} {
		t.Run(fmt.Sprintf("%d scans", n), func(t *testing.T) {
			f := newFixture(t, 1)
			slotID := f.slots[0].ID
			_, err := f.ledger.ConfirmBooking(context.Background(), slotID, "alice")
			require.NoError(t, err)

			var (
				wg      sync.WaitGroup
				mu      sync.Mutex
				actions = map[model.CheckInAction]int{}
			)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					res, err := f.ledger.CheckIn(context.Background(), slotID, "alice")
					if !assert.NoError(t, err) {
						return
					}
					mu.Lock()
					actions[res.Action]++
					mu.Unlock()
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, actions[model.ActionCheckIn])
			assert.Equal(t, 1, actions[model.ActionCheckOut])
			assert.Equal(t, n-2, actions[model.ActionAlreadyCompleted])
		})
	}
}

func TestCheckIn_RequiresConfirmedBooking(t *testing.T) {
	f := newFixture(t, 1)
	_, err := f.ledger.ReserveBooking(context.Background(), f.slots[0].ID, "alice")
	require.NoError(t, err)

	_, err = f.ledger.CheckIn(context.Background(), f.slots[0].ID, "alice")
	assert.Equal(t, apperror.KindNotFound, apperror.KindOf(err))
}
