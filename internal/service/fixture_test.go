package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/config"
	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/Shivanand-hulikatti/session-lottery/internal/repository/repotest"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const organizer = "organizer-1"

// fakeClock is a settable clock shared by the store and the services.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type recordingNotifier struct {
	mu    sync.Mutex
	notes []model.Notification
}

func (r *recordingNotifier) Notify(_ context.Context, n model.Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recordingNotifier) byType(typ model.NotificationType) []model.Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Notification
	for _, n := range r.notes {
		if n.Type == typ {
			out = append(out, n)
		}
	}
	return out
}

type fixture struct {
	t        *testing.T
	clock    *fakeClock
	store    *repotest.Memory
	notifier *recordingNotifier
	photo    model.PhotoSession
	lottery  model.LotterySession
	slots    []model.Slot

	entries    *EntryService
	allocation *AllocationService
	ledger     *LedgerService
	stats      *StatsService
}

// newFixture builds a photo session with one slot per capacity and an
// accepting lottery whose entry window contains the current time.
func newFixture(t *testing.T, capacities ...int) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)}
	store := repotest.New(clock.Now)
	notifier := &recordingNotifier{}
	log := zap.NewNop()

	f := &fixture{t: t, clock: clock, store: store, notifier: notifier}
	f.photo = model.PhotoSession{ID: uuid.NewString(), OrganizerID: organizer, Title: "Spring shoot"}
	store.AddPhotoSession(f.photo)

	now := clock.Now()
	for i, c := range capacities {
		sl := model.Slot{
			ID:              uuid.NewString(),
			SessionID:       f.photo.ID,
			SlotNumber:      i + 1,
			StartTime:       now.Add(48*time.Hour + time.Duration(i)*time.Hour),
			EndTime:         now.Add(49*time.Hour + time.Duration(i)*time.Hour),
			MaxParticipants: c,
			IsActive:        true,
		}
		store.AddSlot(sl)
		f.slots = append(f.slots, sl)
	}

	f.lottery = model.LotterySession{
		ID:              uuid.NewString(),
		ParentSessionID: f.photo.ID,
		Status:          model.LotteryAccepting,
		EntryStartTime:  now.Add(-time.Hour),
		EntryEndTime:    now.Add(time.Hour),
		LotteryDate:     now.Add(2 * time.Hour),
	}
	store.AddLotterySession(f.lottery)

	f.entries = NewEntryService(store, log)
	f.entries.clock = clock.Now
	f.allocation = NewAllocationService(store, notifier, config.Allocation{
		Timeout:   time.Minute,
		MaxPasses: 5,
		Lease:     5 * time.Minute,
	}, log)
	f.allocation.clock = clock.Now
	f.ledger = NewLedgerService(store, notifier, log)
	f.ledger.clock = clock.Now
	f.stats = NewStatsService(store, log)
	return f
}

func (f *fixture) slotIDs(idx ...int) []model.EntryOptions {
	opts := make([]model.EntryOptions, len(idx))
	for i, n := range idx {
		opts[i] = model.EntryOptions{SlotID: f.slots[n].ID}
	}
	return opts
}

// submit enters userID for the given slot indexes and fails the test on error.
func (f *fixture) submit(userID string, policy model.CancellationPolicy, idx ...int) *model.EntryGroup {
	f.t.Helper()
	g, err := f.entries.Submit(context.Background(), f.lottery.ID, userID, model.SubmitEntryRequest{
		CancellationPolicy: policy,
		Entries:            f.slotIDs(idx...),
	})
	if err != nil {
		f.t.Fatalf("submit %s: %v", userID, err)
	}
	return g
}

func (f *fixture) slot(idx int) model.Slot {
	f.t.Helper()
	sl, err := f.store.GetSlot(context.Background(), f.slots[idx].ID)
	if err != nil {
		f.t.Fatalf("get slot: %v", err)
	}
	return *sl
}

func (f *fixture) confirmed(idx int) []model.Booking {
	var out []model.Booking
	for _, b := range f.store.Bookings(f.slots[idx].ID) {
		if b.Status == model.BookingConfirmed {
			out = append(out, b)
		}
	}
	return out
}
