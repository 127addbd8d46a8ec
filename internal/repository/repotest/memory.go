// Package repotest provides an in-memory repository.Store for service tests.
//
// Each Queries method is atomic, matching the single-statement guarantees
// of the Postgres store. InTx holds the store lock for the whole unit of work
// and restores a snapshot when fn fails, so transactions are serializable and
// roll back cleanly.
package repotest

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/Shivanand-hulikatti/session-lottery/internal/repository"
)

type lotteryRow struct {
	session model.LotterySession
	result  *model.AllocationResult
}

type state struct {
	photoSessions map[string]model.PhotoSession
	lotteries     map[string]lotteryRow
	slots         map[string]model.Slot
	groups        map[string]model.EntryGroup
	entries       map[string]model.SlotEntry
	bookings      map[string]model.Booking
}

func newState() *state {
	return &state{
		photoSessions: map[string]model.PhotoSession{},
		lotteries:     map[string]lotteryRow{},
		slots:         map[string]model.Slot{},
		groups:        map[string]model.EntryGroup{},
		entries:       map[string]model.SlotEntry{},
		bookings:      map[string]model.Booking{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (s *state) clone() *state {
	return &state{
		photoSessions: cloneMap(s.photoSessions),
		lotteries:     cloneMap(s.lotteries),
		slots:         cloneMap(s.slots),
		groups:        cloneMap(s.groups),
		entries:       cloneMap(s.entries),
		bookings:      cloneMap(s.bookings),
	}
}

// Memory is an in-memory repository.Store.
type Memory struct {
	*view

	mu       sync.Mutex
	st       *state
	clock    func() time.Time
	failures map[string]error
}

var _ repository.Store = (*Memory)(nil)

// New returns an empty store whose database clock is clock.
func New(clock func() time.Time) *Memory {
	if clock == nil {
		clock = time.Now
	}
	m := &Memory{st: newState(), clock: clock, failures: map[string]error{}}
	m.view = &view{m: m}
	return m
}

// FailOn makes the named Queries method return err until cleared with nil.
func (m *Memory) FailOn(op string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err == nil {
		delete(m.failures, op)
		return
	}
	m.failures[op] = err
}

// InTx runs fn with the store locked and rolls back on error.
func (m *Memory) InTx(ctx context.Context, fn func(q repository.Queries) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}
	snapshot := m.st.clone()
	if err := fn(&view{m: m, inTx: true}); err != nil {
		m.st = snapshot
		return err
	}
	return nil
}

// ─── Fixtures and inspection ─────────────────────────────────────────────────

func (m *Memory) AddPhotoSession(s model.PhotoSession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.photoSessions[s.ID] = s
}

func (m *Memory) AddLotterySession(s model.LotterySession) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.lotteries[s.ID] = lotteryRow{session: s}
}

func (m *Memory) AddSlot(s model.Slot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.slots[s.ID] = s
}

func (m *Memory) AddBooking(b model.Booking) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.st.bookings[b.ID] = b
}

// Bookings returns a snapshot of every booking on a slot.
func (m *Memory) Bookings(slotID string) []model.Booking {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.st.bookings {
		if b.SlotID == slotID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Snapshot returns a deep-enough copy for before/after comparisons.
func (m *Memory) Snapshot() any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.st.clone()
}

// ─── Queries ─────────────────────────────────────────────────────────────────

type view struct {
	m    *Memory
	inTx bool
}

func (v *view) lock(op string) (func(), error) {
	unlock := func() {}
	if !v.inTx {
		v.m.mu.Lock()
		unlock = v.m.mu.Unlock
	}
	if err := v.m.failures[op]; err != nil {
		unlock()
		return nil, err
	}
	return unlock, nil
}

func (v *view) GetPhotoSession(ctx context.Context, id string) (*model.PhotoSession, error) {
	unlock, err := v.lock("GetPhotoSession")
	if err != nil {
		return nil, err
	}
	defer unlock()
	s, ok := v.m.st.photoSessions[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (v *view) GetLotterySession(ctx context.Context, id string) (*model.LotterySession, error) {
	unlock, err := v.lock("GetLotterySession")
	if err != nil {
		return nil, err
	}
	defer unlock()
	row, ok := v.m.st.lotteries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	s := row.session
	return &s, nil
}

func (v *view) LockLotterySession(ctx context.Context, id string) (*model.LotterySession, error) {
	return v.GetLotterySession(ctx, id)
}

func (v *view) GetSlot(ctx context.Context, id string) (*model.Slot, error) {
	unlock, err := v.lock("GetSlot")
	if err != nil {
		return nil, err
	}
	defer unlock()
	s, ok := v.m.st.slots[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &s, nil
}

func (v *view) ListSlots(ctx context.Context, sessionID string) ([]model.Slot, error) {
	unlock, err := v.lock("ListSlots")
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []model.Slot
	for _, s := range v.m.st.slots {
		if s.SessionID == sessionID {
			out = append(out, s)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SlotNumber != out[j].SlotNumber {
			return out[i].SlotNumber < out[j].SlotNumber
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (v *view) LockSlots(ctx context.Context, sessionID string) ([]model.Slot, error) {
	return v.ListSlots(ctx, sessionID)
}

func (v *view) CloseEntryWindows(ctx context.Context, now time.Time) ([]string, error) {
	unlock, err := v.lock("CloseEntryWindows")
	if err != nil {
		return nil, err
	}
	defer unlock()
	var ids []string
	for id, row := range v.m.st.lotteries {
		if row.session.Status == model.LotteryAccepting && row.session.EntryEndTime.Before(now) {
			row.session.Status = model.LotteryClosed
			v.m.st.lotteries[id] = row
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (v *view) ListDueLotteries(ctx context.Context, now, staleBefore time.Time) ([]string, error) {
	unlock, err := v.lock("ListDueLotteries")
	if err != nil {
		return nil, err
	}
	defer unlock()
	var ids []string
	for id, row := range v.m.st.lotteries {
		s := row.session
		due := s.Status == model.LotteryClosed && !s.LotteryDate.After(now)
		stale := s.Status == model.LotteryDrawing && s.DrawingStartedAt != nil && s.DrawingStartedAt.Before(staleBefore)
		if due || stale {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (v *view) BeginDrawing(ctx context.Context, id string, seed int64, now time.Time) (bool, error) {
	unlock, err := v.lock("BeginDrawing")
	if err != nil {
		return false, err
	}
	defer unlock()
	row, ok := v.m.st.lotteries[id]
	if !ok || (row.session.Status != model.LotteryAccepting && row.session.Status != model.LotteryClosed) {
		return false, nil
	}
	row.session.Status = model.LotteryDrawing
	row.session.DrawSeed = &seed
	row.session.DrawingStartedAt = &now
	v.m.st.lotteries[id] = row
	return true, nil
}

func (v *view) TakeOverDrawing(ctx context.Context, id string, staleBefore, now time.Time) (bool, error) {
	unlock, err := v.lock("TakeOverDrawing")
	if err != nil {
		return false, err
	}
	defer unlock()
	row, ok := v.m.st.lotteries[id]
	if !ok || row.session.Status != model.LotteryDrawing ||
		row.session.DrawingStartedAt == nil || !row.session.DrawingStartedAt.Before(staleBefore) {
		return false, nil
	}
	row.session.DrawingStartedAt = &now
	v.m.st.lotteries[id] = row
	return true, nil
}

func (v *view) CompleteDrawing(ctx context.Context, id string, seed int64, result *model.AllocationResult) (bool, error) {
	unlock, err := v.lock("CompleteDrawing")
	if err != nil {
		return false, err
	}
	defer unlock()
	row, ok := v.m.st.lotteries[id]
	if !ok || row.session.Status != model.LotteryDrawing ||
		row.session.DrawSeed == nil || *row.session.DrawSeed != seed {
		return false, nil
	}
	completedAt := result.CompletedAt
	stored := *result
	row.session.Status = model.LotteryCompleted
	row.session.CompletedAt = &completedAt
	row.result = &stored
	v.m.st.lotteries[id] = row
	return true, nil
}

func (v *view) GetAllocationResult(ctx context.Context, id string) (*model.AllocationResult, error) {
	unlock, err := v.lock("GetAllocationResult")
	if err != nil {
		return nil, err
	}
	defer unlock()
	row, ok := v.m.st.lotteries[id]
	if !ok || row.session.Status != model.LotteryCompleted || row.result == nil {
		return nil, repository.ErrNotFound
	}
	res := *row.result
	return &res, nil
}

func (v *view) InsertEntryGroup(ctx context.Context, g *model.EntryGroup) error {
	unlock, err := v.lock("InsertEntryGroup")
	if err != nil {
		return err
	}
	defer unlock()
	for _, existing := range v.m.st.groups {
		if existing.LotterySessionID == g.LotterySessionID && existing.UserID == g.UserID {
			return repository.ErrDuplicateEntry
		}
	}
	stored := *g
	stored.Entries = nil
	v.m.st.groups[g.ID] = stored
	return nil
}

func (v *view) InsertSlotEntries(ctx context.Context, entries []model.SlotEntry) error {
	unlock, err := v.lock("InsertSlotEntries")
	if err != nil {
		return err
	}
	defer unlock()
	for _, e := range entries {
		for _, existing := range v.m.st.entries {
			if existing.EntryGroupID == e.EntryGroupID && existing.SlotID == e.SlotID {
				return errors.New("duplicate slot entry")
			}
		}
		v.m.st.entries[e.ID] = e
	}
	return nil
}

func (v *view) groupEntries(groupID string) []model.SlotEntry {
	var out []model.SlotEntry
	for _, e := range v.m.st.entries {
		if e.EntryGroupID == groupID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (v *view) GetEntryGroup(ctx context.Context, id string) (*model.EntryGroup, error) {
	unlock, err := v.lock("GetEntryGroup")
	if err != nil {
		return nil, err
	}
	defer unlock()
	g, ok := v.m.st.groups[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	g.Entries = v.groupEntries(id)
	return &g, nil
}

func (v *view) ListEntryGroups(ctx context.Context, lotterySessionID string) ([]model.EntryGroup, error) {
	unlock, err := v.lock("ListEntryGroups")
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []model.EntryGroup
	for _, g := range v.m.st.groups {
		if g.LotterySessionID == lotterySessionID {
			g.Entries = v.groupEntries(g.ID)
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (v *view) IncrementUpdateCount(ctx context.Context, id string, policy model.CancellationPolicy, totalSlots int, now time.Time) (bool, error) {
	unlock, err := v.lock("IncrementUpdateCount")
	if err != nil {
		return false, err
	}
	defer unlock()
	g, ok := v.m.st.groups[id]
	if !ok || g.UpdateCount >= model.MaxEntryUpdates {
		return false, nil
	}
	g.UpdateCount++
	g.CancellationPolicy = policy
	g.TotalSlotsApplied = totalSlots
	g.UpdatedAt = now
	v.m.st.groups[id] = g
	return true, nil
}

func (v *view) DeleteSlotEntries(ctx context.Context, groupID string) error {
	unlock, err := v.lock("DeleteSlotEntries")
	if err != nil {
		return err
	}
	defer unlock()
	for id, e := range v.m.st.entries {
		if e.EntryGroupID == groupID {
			delete(v.m.st.entries, id)
		}
	}
	return nil
}

func (v *view) GetSlotEntry(ctx context.Context, id string) (*model.SlotEntry, error) {
	unlock, err := v.lock("GetSlotEntry")
	if err != nil {
		return nil, err
	}
	defer unlock()
	e, ok := v.m.st.entries[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &e, nil
}

func (v *view) SetEntryWeight(ctx context.Context, id string, weight float64) error {
	unlock, err := v.lock("SetEntryWeight")
	if err != nil {
		return err
	}
	defer unlock()
	e, ok := v.m.st.entries[id]
	if !ok {
		return repository.ErrNotFound
	}
	e.LotteryWeight = weight
	v.m.st.entries[id] = e
	return nil
}

func (v *view) SetEntryStatuses(ctx context.Context, statuses map[string]model.EntryStatus) error {
	unlock, err := v.lock("SetEntryStatuses")
	if err != nil {
		return err
	}
	defer unlock()
	for id, st := range statuses {
		if e, ok := v.m.st.entries[id]; ok {
			e.Status = st
			v.m.st.entries[id] = e
		}
	}
	return nil
}

func (v *view) SetGroupStatuses(ctx context.Context, statuses map[string]model.GroupStatus, now time.Time) error {
	unlock, err := v.lock("SetGroupStatuses")
	if err != nil {
		return err
	}
	defer unlock()
	for id, st := range statuses {
		if g, ok := v.m.st.groups[id]; ok {
			g.GroupStatus = st
			g.UpdatedAt = now
			v.m.st.groups[id] = g
		}
	}
	return nil
}

func (v *view) IncrementParticipants(ctx context.Context, slotID string, n int) (bool, error) {
	unlock, err := v.lock("IncrementParticipants")
	if err != nil {
		return false, err
	}
	defer unlock()
	s, ok := v.m.st.slots[slotID]
	if !ok || s.CurrentParticipants+n > s.MaxParticipants {
		return false, nil
	}
	s.CurrentParticipants += n
	v.m.st.slots[slotID] = s
	return true, nil
}

func (v *view) DecrementParticipants(ctx context.Context, slotID string) (bool, error) {
	unlock, err := v.lock("DecrementParticipants")
	if err != nil {
		return false, err
	}
	defer unlock()
	s, ok := v.m.st.slots[slotID]
	if !ok || s.CurrentParticipants <= 0 {
		return false, nil
	}
	s.CurrentParticipants--
	v.m.st.slots[slotID] = s
	return true, nil
}

func (v *view) hasBooking(slotID, userID string, status model.BookingStatus) bool {
	for _, b := range v.m.st.bookings {
		if b.SlotID == slotID && b.UserID == userID && b.Status == status {
			return true
		}
	}
	return false
}

func (v *view) InsertBooking(ctx context.Context, b *model.Booking) error {
	unlock, err := v.lock("InsertBooking")
	if err != nil {
		return err
	}
	defer unlock()
	if b.Status != model.BookingCancelled && v.hasBooking(b.SlotID, b.UserID, b.Status) {
		return repository.ErrDuplicateBooking
	}
	v.m.st.bookings[b.ID] = *b
	return nil
}

func (v *view) InsertLotteryBooking(ctx context.Context, b *model.Booking) (bool, error) {
	unlock, err := v.lock("InsertLotteryBooking")
	if err != nil {
		return false, err
	}
	defer unlock()
	if v.hasBooking(b.SlotID, b.UserID, model.BookingConfirmed) {
		return false, nil
	}
	stored := *b
	stored.Status = model.BookingConfirmed
	stored.Source = model.SourceLottery
	v.m.st.bookings[b.ID] = stored
	return true, nil
}

func (v *view) GetBooking(ctx context.Context, id string) (*model.Booking, error) {
	unlock, err := v.lock("GetBooking")
	if err != nil {
		return nil, err
	}
	defer unlock()
	b, ok := v.m.st.bookings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &b, nil
}

func (v *view) FindBooking(ctx context.Context, slotID, userID string, status model.BookingStatus) (*model.Booking, error) {
	unlock, err := v.lock("FindBooking")
	if err != nil {
		return nil, err
	}
	defer unlock()
	var found *model.Booking
	for _, b := range v.m.st.bookings {
		if b.SlotID == slotID && b.UserID == userID && b.Status == status {
			if found == nil || b.CreatedAt.After(found.CreatedAt) {
				b := b
				found = &b
			}
		}
	}
	if found == nil {
		return nil, repository.ErrNotFound
	}
	return found, nil
}

func (v *view) ConfirmPendingBooking(ctx context.Context, id string) (bool, error) {
	unlock, err := v.lock("ConfirmPendingBooking")
	if err != nil {
		return false, err
	}
	defer unlock()
	b, ok := v.m.st.bookings[id]
	if !ok || b.Status != model.BookingPending {
		return false, nil
	}
	if v.hasBooking(b.SlotID, b.UserID, model.BookingConfirmed) {
		return false, repository.ErrDuplicateBooking
	}
	b.Status = model.BookingConfirmed
	v.m.st.bookings[id] = b
	return true, nil
}

func (v *view) CancelBooking(ctx context.Context, id string, from model.BookingStatus) (bool, error) {
	unlock, err := v.lock("CancelBooking")
	if err != nil {
		return false, err
	}
	defer unlock()
	b, ok := v.m.st.bookings[id]
	if !ok || b.Status != from || b.CheckedInAt != nil {
		return false, nil
	}
	b.Status = model.BookingCancelled
	v.m.st.bookings[id] = b
	return true, nil
}

func (v *view) MarkCheckedIn(ctx context.Context, id string) (*time.Time, error) {
	unlock, err := v.lock("MarkCheckedIn")
	if err != nil {
		return nil, err
	}
	defer unlock()
	b, ok := v.m.st.bookings[id]
	if !ok || b.Status != model.BookingConfirmed || b.CheckedInAt != nil {
		return nil, nil
	}
	now := v.m.clock()
	b.CheckedInAt = &now
	v.m.st.bookings[id] = b
	return &now, nil
}

func (v *view) MarkCheckedOut(ctx context.Context, id string) (*time.Time, error) {
	unlock, err := v.lock("MarkCheckedOut")
	if err != nil {
		return nil, err
	}
	defer unlock()
	b, ok := v.m.st.bookings[id]
	if !ok || b.Status != model.BookingConfirmed || b.CheckedInAt == nil || b.CheckedOutAt != nil {
		return nil, nil
	}
	now := v.m.clock()
	b.CheckedOutAt = &now
	v.m.st.bookings[id] = b
	return &now, nil
}

func (v *view) slotCheckIn(s model.Slot) model.SlotCheckInStatus {
	st := model.SlotCheckInStatus{SlotID: s.ID, SlotNumber: s.SlotNumber, MaxParticipants: s.MaxParticipants}
	for _, b := range v.m.st.bookings {
		if b.SlotID != s.ID || b.Status != model.BookingConfirmed {
			continue
		}
		st.Total++
		if b.CheckedInAt != nil {
			st.CheckedIn++
		}
		if b.CheckedOutAt != nil {
			st.CheckedOut++
		}
	}
	return st
}

func (v *view) SlotCheckInStatus(ctx context.Context, slotID string) (*model.SlotCheckInStatus, error) {
	unlock, err := v.lock("SlotCheckInStatus")
	if err != nil {
		return nil, err
	}
	defer unlock()
	s, ok := v.m.st.slots[slotID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	st := v.slotCheckIn(s)
	return &st, nil
}

func (v *view) SessionCheckInStatus(ctx context.Context, sessionID string) ([]model.SlotCheckInStatus, error) {
	unlock, err := v.lock("SessionCheckInStatus")
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []model.SlotCheckInStatus
	for _, s := range v.m.st.slots {
		if s.SessionID == sessionID {
			out = append(out, v.slotCheckIn(s))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotNumber < out[j].SlotNumber })
	return out, nil
}

func (v *view) GroupStatusCounts(ctx context.Context, lotterySessionID string) (map[model.GroupStatus]int, error) {
	unlock, err := v.lock("GroupStatusCounts")
	if err != nil {
		return nil, err
	}
	defer unlock()
	counts := map[model.GroupStatus]int{}
	for _, g := range v.m.st.groups {
		if g.LotterySessionID == lotterySessionID {
			counts[g.GroupStatus]++
		}
	}
	return counts, nil
}

func (v *view) SlotLotteryStats(ctx context.Context, lotterySessionID string) ([]model.SlotLotteryStats, error) {
	unlock, err := v.lock("SlotLotteryStats")
	if err != nil {
		return nil, err
	}
	defer unlock()
	row, ok := v.m.st.lotteries[lotterySessionID]
	if !ok {
		return nil, nil
	}
	var out []model.SlotLotteryStats
	for _, s := range v.m.st.slots {
		if s.SessionID != row.session.ParentSessionID {
			continue
		}
		st := model.SlotLotteryStats{SlotID: s.ID, SlotNumber: s.SlotNumber, MaxParticipants: s.MaxParticipants}
		for _, e := range v.m.st.entries {
			if e.SlotID == s.ID && e.LotterySessionID == lotterySessionID {
				st.Applicants++
				if e.Status == model.EntryWon {
					st.Winners++
				}
			}
		}
		out = append(out, st)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SlotNumber < out[j].SlotNumber })
	return out, nil
}
