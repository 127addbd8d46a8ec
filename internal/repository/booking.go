package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/jackc/pgx/v5"
)

const bookingColumns = `id, slot_id, user_id, status, source, checked_in_at, checked_out_at, created_at`

func scanBooking(row pgx.Row) (*model.Booking, error) {
	var b model.Booking
	err := row.Scan(&b.ID, &b.SlotID, &b.UserID, &b.Status, &b.Source,
		&b.CheckedInAt, &b.CheckedOutAt, &b.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// IncrementParticipants claims n places on a slot.
//
// ─────────────────────────────────────────────────────────────────────────────
// WHY A SINGLE STATEMENT
// ─────────────────────────────────────────────────────────────────────────────
//
// Naive read-then-write approach (BROKEN):
//
//	request A: SELECT current_participants → 9   (max 10)
//	request B: SELECT current_participants → 9
//	request A: UPDATE ... SET current_participants = 10
//	request B: UPDATE ... SET current_participants = 10
//	Result: two bookings, counter says one. Lost update, and the slot can be
//	overbooked by every request that read the stale value.
//
// The guard and the increment are one UPDATE, so Postgres evaluates the
// predicate against the row version it is about to write. A concurrent
// writer blocks on the row lock, re-checks the predicate after the first
// commits and affects zero rows if the slot filled up in the meantime.
// Zero rows affected means "full", not an error.
// ─────────────────────────────────────────────────────────────────────────────
func (q *queries) IncrementParticipants(ctx context.Context, slotID string, n int) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE slots SET current_participants = current_participants + $2
		 WHERE id = $1 AND current_participants + $2 <= max_participants`,
		slotID, n,
	)
	if err != nil {
		if isCheckViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("increment participants: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// DecrementParticipants releases one place on a slot.
func (q *queries) DecrementParticipants(ctx context.Context, slotID string) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE slots SET current_participants = current_participants - 1
		 WHERE id = $1 AND current_participants > 0`,
		slotID,
	)
	if err != nil {
		return false, fmt.Errorf("decrement participants: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// InsertBooking creates a booking. A second pending or confirmed booking for
// the same slot and user fails with ErrDuplicateBooking.
func (q *queries) InsertBooking(ctx context.Context, b *model.Booking) error {
	_, err := q.db.Exec(ctx,
		`INSERT INTO bookings (id, slot_id, user_id, status, source, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		b.ID, b.SlotID, b.UserID, b.Status, b.Source, b.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "") {
			return ErrDuplicateBooking
		}
		return fmt.Errorf("insert booking: %w", err)
	}
	return nil
}

// InsertLotteryBooking creates a confirmed booking for a lottery winner and
// reports false, without error, when the user already holds a confirmed
// booking on the slot.
func (q *queries) InsertLotteryBooking(ctx context.Context, b *model.Booking) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`INSERT INTO bookings (id, slot_id, user_id, status, source, created_at)
		 VALUES ($1, $2, $3, 'confirmed', 'lottery', $4)
		 ON CONFLICT (slot_id, user_id) WHERE status = 'confirmed' DO NOTHING`,
		b.ID, b.SlotID, b.UserID, b.CreatedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert lottery booking: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetBooking returns a booking or ErrNotFound.
func (q *queries) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(q.db.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, "get booking")
	}
	return b, nil
}

// FindBooking returns the user's booking on a slot in the given status.
func (q *queries) FindBooking(ctx context.Context, slotID, userID string, status model.BookingStatus) (*model.Booking, error) {
	b, err := scanBooking(q.db.QueryRow(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE slot_id = $1 AND user_id = $2 AND status = $3
		 ORDER BY created_at DESC LIMIT 1`,
		slotID, userID, status,
	))
	if err != nil {
		return nil, notFound(err, "find booking")
	}
	return b, nil
}

// ConfirmPendingBooking is the pending → confirmed CAS.
func (q *queries) ConfirmPendingBooking(ctx context.Context, id string) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE bookings SET status = 'confirmed' WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		if isUniqueViolation(err, "") {
			return false, ErrDuplicateBooking
		}
		return false, fmt.Errorf("confirm booking: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelBooking is the from → cancelled CAS. Bookings already checked in
// cannot be cancelled.
func (q *queries) CancelBooking(ctx context.Context, id string, from model.BookingStatus) (bool, error) {
	tag, err := q.db.Exec(ctx,
		`UPDATE bookings SET status = 'cancelled'
		 WHERE id = $1 AND status = $2 AND checked_in_at IS NULL`,
		id, from,
	)
	if err != nil {
		return false, fmt.Errorf("cancel booking: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkCheckedIn is the NotCheckedIn → CheckedIn CAS. It returns the stored
// timestamp, or nil when another request already moved the booking on.
func (q *queries) MarkCheckedIn(ctx context.Context, id string) (*time.Time, error) {
	var at time.Time
	err := q.db.QueryRow(ctx,
		`UPDATE bookings SET checked_in_at = now()
		 WHERE id = $1 AND status = 'confirmed' AND checked_in_at IS NULL
		 RETURNING checked_in_at`,
		id,
	).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("mark checked in: %w", err)
	}
	return &at, nil
}

// MarkCheckedOut is the CheckedIn → CheckedOut CAS.
func (q *queries) MarkCheckedOut(ctx context.Context, id string) (*time.Time, error) {
	var at time.Time
	err := q.db.QueryRow(ctx,
		`UPDATE bookings SET checked_out_at = now()
		 WHERE id = $1 AND status = 'confirmed'
		   AND checked_in_at IS NOT NULL AND checked_out_at IS NULL
		 RETURNING checked_out_at`,
		id,
	).Scan(&at)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("mark checked out: %w", err)
	}
	return &at, nil
}
