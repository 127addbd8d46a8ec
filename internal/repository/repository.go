// Package repository implements all database queries for lottery entry,
// allocation and the booking ledger. It uses pgx directly (no ORM).
//
// Every mutation of shared counters or check-in timestamps is a single
// conditional UPDATE; callers learn whether it applied from the returned bool
// and never read-modify-write those columns themselves.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateEntry is returned when a user already has an entry group for a
// lottery session.
var ErrDuplicateEntry = errors.New("entry group already exists for this user and lottery session")

// ErrDuplicateBooking is returned when a booking with the same slot, user and
// status already exists.
var ErrDuplicateBooking = errors.New("booking already exists for this slot and user")

// PostgreSQL error codes.
const (
	pgErrUniqueViolation = "23505"
	pgErrCheckViolation  = "23514"
)

// Constraint names referenced when mapping unique violations.
const (
	constraintEntryGroupUser = "entry_groups_session_user_key"
)

// Queries is the set of statements the services run, either directly on the
// pool or inside a transaction.
type Queries interface {
	// Sessions and slots.
	GetPhotoSession(ctx context.Context, id string) (*model.PhotoSession, error)
	GetLotterySession(ctx context.Context, id string) (*model.LotterySession, error)
	LockLotterySession(ctx context.Context, id string) (*model.LotterySession, error)
	GetSlot(ctx context.Context, id string) (*model.Slot, error)
	ListSlots(ctx context.Context, sessionID string) ([]model.Slot, error)
	LockSlots(ctx context.Context, sessionID string) ([]model.Slot, error)

	// Lottery session state machine.
	CloseEntryWindows(ctx context.Context, now time.Time) ([]string, error)
	ListDueLotteries(ctx context.Context, now, staleBefore time.Time) ([]string, error)
	BeginDrawing(ctx context.Context, id string, seed int64, now time.Time) (bool, error)
	TakeOverDrawing(ctx context.Context, id string, staleBefore, now time.Time) (bool, error)
	CompleteDrawing(ctx context.Context, id string, seed int64, result *model.AllocationResult) (bool, error)
	GetAllocationResult(ctx context.Context, id string) (*model.AllocationResult, error)

	// Entry groups.
	InsertEntryGroup(ctx context.Context, g *model.EntryGroup) error
	InsertSlotEntries(ctx context.Context, entries []model.SlotEntry) error
	GetEntryGroup(ctx context.Context, id string) (*model.EntryGroup, error)
	ListEntryGroups(ctx context.Context, lotterySessionID string) ([]model.EntryGroup, error)
	IncrementUpdateCount(ctx context.Context, id string, policy model.CancellationPolicy, totalSlots int, now time.Time) (bool, error)
	DeleteSlotEntries(ctx context.Context, groupID string) error
	GetSlotEntry(ctx context.Context, id string) (*model.SlotEntry, error)
	SetEntryWeight(ctx context.Context, id string, weight float64) error
	SetEntryStatuses(ctx context.Context, statuses map[string]model.EntryStatus) error
	SetGroupStatuses(ctx context.Context, statuses map[string]model.GroupStatus, now time.Time) error

	// Bookings and counters.
	IncrementParticipants(ctx context.Context, slotID string, n int) (bool, error)
	DecrementParticipants(ctx context.Context, slotID string) (bool, error)
	InsertBooking(ctx context.Context, b *model.Booking) error
	InsertLotteryBooking(ctx context.Context, b *model.Booking) (bool, error)
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	FindBooking(ctx context.Context, slotID, userID string, status model.BookingStatus) (*model.Booking, error)
	ConfirmPendingBooking(ctx context.Context, id string) (bool, error)
	CancelBooking(ctx context.Context, id string, from model.BookingStatus) (bool, error)
	MarkCheckedIn(ctx context.Context, id string) (*time.Time, error)
	MarkCheckedOut(ctx context.Context, id string) (*time.Time, error)

	// Read models.
	SlotCheckInStatus(ctx context.Context, slotID string) (*model.SlotCheckInStatus, error)
	SessionCheckInStatus(ctx context.Context, sessionID string) ([]model.SlotCheckInStatus, error)
	GroupStatusCounts(ctx context.Context, lotterySessionID string) (map[model.GroupStatus]int, error)
	SlotLotteryStats(ctx context.Context, lotterySessionID string) ([]model.SlotLotteryStats, error)
}

// Store is Queries on the pool plus the ability to run a unit of work in a
// transaction.
type Store interface {
	Queries
	InTx(ctx context.Context, fn func(q Queries) error) error
}

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type queries struct {
	db DBTX
}

// Postgres is the pgx-backed Store.
type Postgres struct {
	*queries
	pool *pgxpool.Pool
}

// NewPostgres constructs a Postgres store.
func NewPostgres(pool *pgxpool.Pool) *Postgres {
	return &Postgres{queries: &queries{db: pool}, pool: pool}
}

// InTx runs fn inside a READ COMMITTED transaction. The transaction commits
// when fn returns nil and rolls back otherwise.
func (p *Postgres) InTx(ctx context.Context, fn func(q Queries) error) (err error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	// Ensure the transaction is always resolved.
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&queries{db: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgErrUniqueViolation {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}

func isCheckViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrCheckViolation
}

func notFound(err error, what string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return fmt.Errorf("%s: %w", what, err)
}
