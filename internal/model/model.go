// Package model defines the core domain types for lottery entry, allocation
// and the booking ledger.
package model

import "time"

// LotteryStatus is the lifecycle of a lottery session. It only moves forward.
type LotteryStatus string

const (
	LotteryAccepting LotteryStatus = "accepting"
	LotteryClosed    LotteryStatus = "closed"
	LotteryDrawing   LotteryStatus = "drawing"
	LotteryCompleted LotteryStatus = "completed"
)

// CancellationPolicy decides how a multi-slot entry group is reconciled.
type CancellationPolicy string

const (
	PolicyAllOrNothing CancellationPolicy = "all_or_nothing"
	PolicyPartialOK    CancellationPolicy = "partial_ok"
)

// GroupStatus is the outcome of an entry group.
type GroupStatus string

const (
	GroupEntered    GroupStatus = "entered"
	GroupWon        GroupStatus = "won"
	GroupPartialWon GroupStatus = "partial_won"
	GroupLost       GroupStatus = "lost"
	GroupCancelled  GroupStatus = "cancelled"
)

// EntryStatus is the outcome of a single slot entry.
type EntryStatus string

const (
	EntryEntered EntryStatus = "entered"
	EntryWon     EntryStatus = "won"
	EntryLost    EntryStatus = "lost"
)

// BookingStatus is the payment/confirmation state of a booking.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
)

// BookingSource records how a booking came to exist.
type BookingSource string

const (
	SourceLottery BookingSource = "lottery"
	SourceDirect  BookingSource = "direct"
)

// MaxEntryUpdates bounds how often an entry group may be edited.
const MaxEntryUpdates = 3

// DefaultLotteryWeight is assigned to new slot entries.
const DefaultLotteryWeight = 1.0

// PhotoSession is the parent session that owns slots and lotteries.
type PhotoSession struct {
	ID          string    `json:"id"`
	OrganizerID string    `json:"organizer_id"`
	Title       string    `json:"title"`
	CreatedAt   time.Time `json:"created_at"`
}

// LotterySession is the time-boxed draw tied to one photo session.
type LotterySession struct {
	ID               string        `json:"id"`
	ParentSessionID  string        `json:"parent_session_id"`
	Status           LotteryStatus `json:"status"`
	EntryStartTime   time.Time     `json:"entry_start_time"`
	EntryEndTime     time.Time     `json:"entry_end_time"`
	LotteryDate      time.Time     `json:"lottery_date"`
	DrawSeed         *int64        `json:"draw_seed,omitempty"`
	DrawingStartedAt *time.Time    `json:"drawing_started_at,omitempty"`
	CompletedAt      *time.Time    `json:"completed_at,omitempty"`
}

// AcceptsEntriesAt reports whether entries may be created or edited at now.
func (s *LotterySession) AcceptsEntriesAt(now time.Time) bool {
	return s.Status == LotteryAccepting &&
		!now.Before(s.EntryStartTime) &&
		!now.After(s.EntryEndTime)
}

// EntryGroup is one applicant's bundled submission across slots.
type EntryGroup struct {
	ID                 string             `json:"id"`
	LotterySessionID   string             `json:"lottery_session_id"`
	UserID             string             `json:"user_id"`
	CancellationPolicy CancellationPolicy `json:"cancellation_policy"`
	TotalSlotsApplied  int                `json:"total_slots_applied"`
	GroupStatus        GroupStatus        `json:"group_status"`
	UpdateCount        int                `json:"update_count"`
	CreatedAt          time.Time          `json:"created_at"`
	UpdatedAt          time.Time          `json:"updated_at"`
	Entries            []SlotEntry        `json:"entries,omitempty"`
}

// SlotEntry is one (group, slot) pairing with its own weight and outcome.
type SlotEntry struct {
	ID                 string      `json:"id"`
	EntryGroupID       string      `json:"entry_group_id"`
	LotterySessionID   string      `json:"lottery_session_id"`
	SlotID             string      `json:"slot_id"`
	UserID             string      `json:"user_id"`
	Status             EntryStatus `json:"status"`
	LotteryWeight      float64     `json:"lottery_weight"`
	PreferredModelID   *string     `json:"preferred_model_id,omitempty"`
	ChekiUnsignedCount int         `json:"cheki_unsigned_count"`
	ChekiSignedCount   int         `json:"cheki_signed_count"`
	CreatedAt          time.Time   `json:"created_at"`
}

// Slot is a capacity-bounded time window within a photo session.
type Slot struct {
	ID                  string    `json:"id"`
	SessionID           string    `json:"session_id"`
	SlotNumber          int       `json:"slot_number"`
	StartTime           time.Time `json:"start_time"`
	EndTime             time.Time `json:"end_time"`
	MaxParticipants     int       `json:"max_participants"`
	CurrentParticipants int       `json:"current_participants"`
	IsActive            bool      `json:"is_active"`
}

// Remaining returns the number of free places.
func (s *Slot) Remaining() int {
	if r := s.MaxParticipants - s.CurrentParticipants; r > 0 {
		return r
	}
	return 0
}

// IsFull returns true when no places remain.
func (s *Slot) IsFull() bool {
	return s.CurrentParticipants >= s.MaxParticipants
}

// Booking is a user's place in a slot.
type Booking struct {
	ID           string        `json:"id"`
	SlotID       string        `json:"slot_id"`
	UserID       string        `json:"user_id"`
	Status       BookingStatus `json:"status"`
	Source       BookingSource `json:"source"`
	CheckedInAt  *time.Time    `json:"checked_in_at,omitempty"`
	CheckedOutAt *time.Time    `json:"checked_out_at,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// CheckInState is derived from the booking's timestamps.
type CheckInState int

const (
	NotCheckedIn CheckInState = iota
	CheckedIn
	CheckedOut
)

// CheckInState derives the venue state of the booking.
func (b *Booking) CheckInState() CheckInState {
	switch {
	case b.CheckedOutAt != nil:
		return CheckedOut
	case b.CheckedInAt != nil:
		return CheckedIn
	default:
		return NotCheckedIn
	}
}

// ─── Requests ────────────────────────────────────────────────────────────────

// EntryOptions carries the per-slot choices of an applicant.
type EntryOptions struct {
	SlotID             string  `json:"slot_id" validate:"required,uuid"`
	PreferredModelID   *string `json:"preferred_model_id,omitempty" validate:"omitempty,uuid"`
	ChekiUnsignedCount int     `json:"cheki_unsigned_count" validate:"min=0,max=100"`
	ChekiSignedCount   int     `json:"cheki_signed_count" validate:"min=0,max=100"`
}

// SubmitEntryRequest is the payload for creating an entry group.
type SubmitEntryRequest struct {
	CancellationPolicy CancellationPolicy `json:"cancellation_policy" validate:"required,oneof=all_or_nothing partial_ok"`
	Entries            []EntryOptions     `json:"entries" validate:"dive"`
}

// UpdateEntryRequest is the payload for replacing an entry group's slots.
type UpdateEntryRequest struct {
	CancellationPolicy CancellationPolicy `json:"cancellation_policy,omitempty" validate:"omitempty,oneof=all_or_nothing partial_ok"`
	Entries            []EntryOptions     `json:"entries" validate:"dive"`
}

// SetWeightRequest adjusts a slot entry's lottery weight.
type SetWeightRequest struct {
	Weight float64 `json:"weight" validate:"gt=0,lte=1000"`
}

// PaymentConfirmed is the external signal that a direct booking was paid.
type PaymentConfirmed struct {
	PaymentID string `json:"payment_id" validate:"required"`
	SlotID    string `json:"slot_id" validate:"required,uuid"`
	UserID    string `json:"user_id" validate:"required"`
}

// ─── Responses ───────────────────────────────────────────────────────────────

// AllocationResult summarises one allocation run.
type AllocationResult struct {
	LotterySessionID string    `json:"lottery_session_id"`
	Seed             int64     `json:"seed"`
	Passes           int       `json:"passes"`
	WonGroups        int       `json:"won_groups"`
	PartialWonGroups int       `json:"partial_won_groups"`
	LostGroups       int       `json:"lost_groups"`
	CancelledGroups  int       `json:"cancelled_groups"`
	WonEntries       int       `json:"won_entries"`
	LostEntries      int       `json:"lost_entries"`
	BookingsCreated  int       `json:"bookings_created"`
	CompletedAt      time.Time `json:"completed_at"`
}

// CheckInAction is the transition a scan performed.
type CheckInAction string

const (
	ActionCheckIn          CheckInAction = "checkin"
	ActionCheckOut         CheckInAction = "checkout"
	ActionAlreadyCompleted CheckInAction = "already_completed"
)

// CheckInResult is returned by a venue scan.
type CheckInResult struct {
	Action       CheckInAction `json:"action"`
	BookingID    string        `json:"booking_id"`
	CheckedInAt  *time.Time    `json:"checked_in_at,omitempty"`
	CheckedOutAt *time.Time    `json:"checked_out_at,omitempty"`
}

// SlotCheckInStatus aggregates venue progress for one slot.
type SlotCheckInStatus struct {
	SlotID          string `json:"slot_id"`
	SlotNumber      int    `json:"slot_number"`
	MaxParticipants int    `json:"max_participants"`
	Total           int    `json:"total"`
	CheckedIn       int    `json:"checked_in"`
	CheckedOut      int    `json:"checked_out"`
}

// SessionCheckInStatus aggregates venue progress over a photo session.
type SessionCheckInStatus struct {
	SessionID  string              `json:"session_id"`
	Total      int                 `json:"total"`
	CheckedIn  int                 `json:"checked_in"`
	CheckedOut int                 `json:"checked_out"`
	Slots      []SlotCheckInStatus `json:"slots"`
}

// SlotLotteryStats counts applicants and winners for one slot.
type SlotLotteryStats struct {
	SlotID          string `json:"slot_id"`
	SlotNumber      int    `json:"slot_number"`
	MaxParticipants int    `json:"max_participants"`
	Applicants      int    `json:"applicants"`
	Winners         int    `json:"winners"`
}

// LotterySummary is the organizer's view of a lottery session.
type LotterySummary struct {
	LotterySession *LotterySession     `json:"lottery_session"`
	GroupCounts    map[GroupStatus]int `json:"group_counts"`
	Slots          []SlotLotteryStats  `json:"slots"`
	Result         *AllocationResult   `json:"result,omitempty"`
}

// ErrorResponse is a standard JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}

// NotificationType names a state transition users are told about.
type NotificationType string

const (
	NotifyLotteryResult    NotificationType = "lottery_result"
	NotifyBookingConfirmed NotificationType = "booking_confirmed"
	NotifyBookingCancelled NotificationType = "booking_cancelled"
	NotifyCheckIn          NotificationType = "check_in"
	NotifyCheckOut         NotificationType = "check_out"
)

// Notification is handed to the dispatcher after a committed state change.
type Notification struct {
	Type             NotificationType `json:"type"`
	UserID           string           `json:"user_id"`
	LotterySessionID string           `json:"lottery_session_id,omitempty"`
	EntryGroupID     string           `json:"entry_group_id,omitempty"`
	SlotID           string           `json:"slot_id,omitempty"`
	BookingID        string           `json:"booking_id,omitempty"`
	Status           string           `json:"status,omitempty"`
	OccurredAt       time.Time        `json:"occurred_at"`
}
