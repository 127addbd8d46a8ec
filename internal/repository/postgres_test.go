package repository_test

import (
	"context"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/database"
	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/Shivanand-hulikatti/session-lottery/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newStore connects to TEST_DATABASE_URL and migrates it. Tests are skipped
// when the variable is unset.
func newStore(t *testing.T) (*repository.Postgres, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, database.Migrate(ctx, pool))
	return repository.NewPostgres(pool), pool
}

func seedSlot(t *testing.T, pool *pgxpool.Pool, capacity int) (sessionID, slotID string) {
	t.Helper()
	ctx := context.Background()
	sessionID, slotID = uuid.NewString(), uuid.NewString()
	_, err := pool.Exec(ctx,
		`INSERT INTO photo_sessions (id, organizer_id, title) VALUES ($1, 'organizer-1', 'it')`, sessionID)
	require.NoError(t, err)
	start := time.Now().Add(24 * time.Hour)
	_, err = pool.Exec(ctx,
		`INSERT INTO slots (id, session_id, slot_number, start_time, end_time, max_participants)
		 VALUES ($1, $2, 1, $3, $4, $5)`,
		slotID, sessionID, start, start.Add(time.Hour), capacity)
	require.NoError(t, err)
	return sessionID, slotID
}

func TestPostgres_IncrementParticipantsNeverExceedsCapacity(t *testing.T) {
	store, pool := newStore(t)
	_, slotID := seedSlot(t, pool, 3)

	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := store.IncrementParticipants(context.Background(), slotID, 1)
			assert.NoError(t, err)
			if ok {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 3, won)
	slot, err := store.GetSlot(context.Background(), slotID)
	require.NoError(t, err)
	assert.Equal(t, 3, slot.CurrentParticipants)
}

func TestPostgres_BookingConstraints(t *testing.T) {
	store, pool := newStore(t)
	_, slotID := seedSlot(t, pool, 2)
	ctx := context.Background()

	b := &model.Booking{
		ID: uuid.NewString(), SlotID: slotID, UserID: "alice",
		Status: model.BookingConfirmed, Source: model.SourceDirect, CreatedAt: time.Now(),
	}
	require.NoError(t, store.InsertBooking(ctx, b))

	dup := *b
	dup.ID = uuid.NewString()
	assert.ErrorIs(t, store.InsertBooking(ctx, &dup), repository.ErrDuplicateBooking)

	inserted, err := store.InsertLotteryBooking(ctx, &dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	in, err := store.MarkCheckedIn(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, in)
	again, err := store.MarkCheckedIn(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, again)

	out, err := store.MarkCheckedOut(ctx, b.ID)
	require.NoError(t, err)
	require.NotNil(t, out)

	cancelled, err := store.CancelBooking(ctx, b.ID, model.BookingConfirmed)
	require.NoError(t, err)
	assert.False(t, cancelled)
}

func TestPostgres_InTxRollsBack(t *testing.T) {
	store, pool := newStore(t)
	_, slotID := seedSlot(t, pool, 1)
	ctx := context.Background()

	err := store.InTx(ctx, func(q repository.Queries) error {
		ok, err := q.IncrementParticipants(ctx, slotID, 1)
		require.NoError(t, err)
		require.True(t, ok)
		return repository.ErrNotFound
	})
	require.ErrorIs(t, err, repository.ErrNotFound)

	slot, err := store.GetSlot(ctx, slotID)
	require.NoError(t, err)
	assert.Equal(t, 0, slot.CurrentParticipants)
}

func TestPostgres_InsertSlotEntriesBatch(t *testing.T) {
	store, pool := newStore(t)
	sessionID, slotA := seedSlot(t, pool, 2)
	ctx := context.Background()

	slotB := uuid.NewString()
	start := time.Now().Add(48 * time.Hour)
	_, err := pool.Exec(ctx,
		`INSERT INTO slots (id, session_id, slot_number, start_time, end_time, max_participants)
		 VALUES ($1, $2, 2, $3, $4, 2)`, slotB, sessionID, start, start.Add(time.Hour))
	require.NoError(t, err)

	lotteryID := uuid.NewString()
	now := time.Now().UTC()
	_, err = pool.Exec(ctx,
		`INSERT INTO lottery_sessions (id, parent_session_id, entry_start_time, entry_end_time, lottery_date)
		 VALUES ($1, $2, $3, $4, $5)`,
		lotteryID, sessionID, now.Add(-time.Hour), now.Add(time.Hour), now.Add(2*time.Hour))
	require.NoError(t, err)

	g := &model.EntryGroup{
		ID: uuid.NewString(), LotterySessionID: lotteryID, UserID: "alice",
		CancellationPolicy: model.PolicyPartialOK, TotalSlotsApplied: 2,
		GroupStatus: model.GroupEntered, CreatedAt: now, UpdatedAt: now,
	}
	entry := func(slotID string) model.SlotEntry {
		return model.SlotEntry{
			ID: uuid.NewString(), EntryGroupID: g.ID, LotterySessionID: lotteryID, SlotID: slotID,
			UserID: "alice", Status: model.EntryEntered, LotteryWeight: 1, CreatedAt: now,
		}
	}

	// a failing row aborts the whole unit of work
	err = store.InTx(ctx, func(q repository.Queries) error {
		require.NoError(t, q.InsertEntryGroup(ctx, g))
		return q.InsertSlotEntries(ctx, []model.SlotEntry{entry(slotA), entry(slotA)})
	})
	require.Error(t, err)
	_, err = store.GetEntryGroup(ctx, g.ID)
	require.ErrorIs(t, err, repository.ErrNotFound)

	require.NoError(t, store.InTx(ctx, func(q repository.Queries) error {
		if err := q.InsertEntryGroup(ctx, g); err != nil {
			return err
		}
		return q.InsertSlotEntries(ctx, []model.SlotEntry{entry(slotA), entry(slotB)})
	}))
	stored, err := store.GetEntryGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Len(t, stored.Entries, 2)
}
