package handler

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/apperror"
	"github.com/Shivanand-hulikatti/session-lottery/internal/config"
	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/Shivanand-hulikatti/session-lottery/internal/payment"
	"github.com/Shivanand-hulikatti/session-lottery/internal/repository/repotest"
	"github.com/Shivanand-hulikatti/session-lottery/internal/service"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const organizer = "organizer-1"

type testAPI struct {
	t       *testing.T
	router  http.Handler
	store   *repotest.Memory
	photo   model.PhotoSession
	lottery model.LotterySession
	slots   []model.Slot
}

func newTestAPI(t *testing.T, capacities ...int) *testAPI {
	t.Helper()
	store := repotest.New(time.Now)
	log := zap.NewNop()
	now := time.Now().UTC()

	api := &testAPI{t: t, store: store}
	api.photo = model.PhotoSession{ID: uuid.NewString(), OrganizerID: organizer, Title: "Studio day"}
	store.AddPhotoSession(api.photo)
	for i, c := range capacities {
		sl := model.Slot{
			ID:              uuid.NewString(),
			SessionID:       api.photo.ID,
			SlotNumber:      i + 1,
			StartTime:       now.Add(24 * time.Hour),
			EndTime:         now.Add(25 * time.Hour),
			MaxParticipants: c,
			IsActive:        true,
		}
		store.AddSlot(sl)
		api.slots = append(api.slots, sl)
	}
	api.lottery = model.LotterySession{
		ID:              uuid.NewString(),
		ParentSessionID: api.photo.ID,
		Status:          model.LotteryAccepting,
		EntryStartTime:  now.Add(-time.Hour),
		EntryEndTime:    now.Add(time.Hour),
		LotteryDate:     now.Add(2 * time.Hour),
	}
	store.AddLotterySession(api.lottery)

	ledger := service.NewLedgerService(store, nil, log)
	h := New(
		service.NewEntryService(store, log),
		service.NewAllocationService(store, nil, config.Allocation{Timeout: time.Minute, MaxPasses: 5, Lease: 5 * time.Minute}, log),
		ledger,
		service.NewStatsService(store, log),
		payment.NewProcessor(ledger, log),
		log,
	)
	api.router = h.Router()
	return api
}

func (a *testAPI) do(method, path, user string, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(HeaderUserID, user)
	}
	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(t)
	rec := api.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAuthenticate_RequiresUserHeader(t *testing.T) {
	api := newTestAPI(t, 1)
	rec := api.do(http.MethodPost, "/slots/"+api.slots[0].ID+"/check-in", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthenticated", decode[model.ErrorResponse](t, rec).Code)
}

func TestSubmitEntry(t *testing.T) {
	api := newTestAPI(t, 2, 2)
	path := "/lottery-sessions/" + api.lottery.ID + "/entries"
	req := model.SubmitEntryRequest{
		CancellationPolicy: model.PolicyPartialOK,
		Entries:            []model.EntryOptions{{SlotID: api.slots[0].ID}, {SlotID: api.slots[1].ID}},
	}

	rec := api.do(http.MethodPost, path, "alice", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	group := decode[model.EntryGroup](t, rec)
	assert.Equal(t, "alice", group.UserID)
	assert.Len(t, group.Entries, 2)

	rec = api.do(http.MethodPost, path, "alice", req)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperror.CodeDuplicateEntry, decode[model.ErrorResponse](t, rec).Code)

	rec = api.do(http.MethodGet, "/entries/"+group.ID, "alice", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = api.do(http.MethodGet, "/entries/"+group.ID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestSubmitEntry_BadRequests(t *testing.T) {
	api := newTestAPI(t, 1)
	path := "/lottery-sessions/" + api.lottery.ID + "/entries"

	tests := []struct {
		name string
		body any
		code string
	}{
		{"unknown field", map[string]any{"bogus": true}, apperror.CodeInvalidInput},
		{"missing policy", model.SubmitEntryRequest{Entries: []model.EntryOptions{{SlotID: api.slots[0].ID}}}, apperror.CodeInvalidInput},
		{"foreign slot", model.SubmitEntryRequest{
			CancellationPolicy: model.PolicyAllOrNothing,
			Entries:            []model.EntryOptions{{SlotID: uuid.NewString()}},
		}, apperror.CodeInvalidSlotSelection},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(http.MethodPost, path, "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, tt.code, decode[model.ErrorResponse](t, rec).Code)
		})
	}
}

func TestUnknownLotterySession_Returns404(t *testing.T) {
	api := newTestAPI(t, 1)
	rec := api.do(http.MethodPost, "/lottery-sessions/"+uuid.NewString()+"/entries", "alice", model.SubmitEntryRequest{
		CancellationPolicy: model.PolicyAllOrNothing,
		Entries:            []model.EntryOptions{{SlotID: api.slots[0].ID}},
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunAllocation(t *testing.T) {
	api := newTestAPI(t, 1)
	for _, user := range []string{"alice", "bob"} {
		rec := api.do(http.MethodPost, "/lottery-sessions/"+api.lottery.ID+"/entries", user, model.SubmitEntryRequest{
			CancellationPolicy: model.PolicyAllOrNothing,
			Entries:            []model.EntryOptions{{SlotID: api.slots[0].ID}},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	}

	path := "/lottery-sessions/" + api.lottery.ID + "/allocate"
	rec := api.do(http.MethodPost, path, "alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodPost, path, organizer, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	first := decode[model.AllocationResult](t, rec)
	assert.Equal(t, 1, first.WonGroups)
	assert.Equal(t, 1, first.LostGroups)

	rec = api.do(http.MethodPost, path, organizer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, first.Seed, decode[model.AllocationResult](t, rec).Seed)

	rec = api.do(http.MethodGet, "/lottery-sessions/"+api.lottery.ID+"/summary", organizer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[model.LotterySummary](t, rec)
	require.Len(t, summary.Slots, 1)
	assert.Equal(t, 2, summary.Slots[0].Applicants)
	assert.Equal(t, 1, summary.Slots[0].Winners)
}

func TestBookingLifecycle(t *testing.T) {
	api := newTestAPI(t, 1)
	slotID := api.slots[0].ID

	rec := api.do(http.MethodPost, "/slots/"+slotID+"/bookings", "alice", nil)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, model.BookingPending, decode[model.Booking](t, rec).Status)

	ev := model.PaymentConfirmed{PaymentID: "pay-1", SlotID: slotID, UserID: "alice"}
	rec = api.do(http.MethodPost, "/payments/confirmed", "", ev)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[paymentResponse](t, rec)
	assert.Equal(t, payment.OutcomeConfirmed, res.Outcome)
	require.NotNil(t, res.Booking)

	rec = api.do(http.MethodPost, "/payments/confirmed", "", ev)
	assert.Equal(t, payment.OutcomeDuplicate, decode[paymentResponse](t, rec).Outcome)

	rec = api.do(http.MethodPost, "/payments/confirmed", "", model.PaymentConfirmed{PaymentID: "pay-2", SlotID: slotID, UserID: "bob"})
	assert.Equal(t, payment.OutcomeSlotFull, decode[paymentResponse](t, rec).Outcome)

	rec = api.do(http.MethodPost, "/slots/"+slotID+"/check-in", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.ActionCheckIn, decode[model.CheckInResult](t, rec).Action)

	rec = api.do(http.MethodGet, "/slots/"+slotID+"/check-in-status", organizer, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	st := decode[model.SlotCheckInStatus](t, rec)
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.CheckedIn)

	rec = api.do(http.MethodGet, "/sessions/"+api.photo.ID+"/check-in-status", "alice", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodDelete, "/bookings/"+res.Booking.ID, "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, apperror.CodeInvalidState, decode[model.ErrorResponse](t, rec).Code)
}

func TestCancelBooking_ReleasesPlace(t *testing.T) {
	api := newTestAPI(t, 1)
	slotID := api.slots[0].ID

	rec := api.do(http.MethodPost, "/payments/confirmed", "", model.PaymentConfirmed{PaymentID: "p", SlotID: slotID, UserID: "alice"})
	b := decode[paymentResponse](t, rec).Booking
	require.NotNil(t, b)

	rec = api.do(http.MethodDelete, "/bookings/"+b.ID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = api.do(http.MethodDelete, "/bookings/"+b.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, model.BookingCancelled, decode[model.Booking](t, rec).Status)

	rec = api.do(http.MethodPost, "/slots/"+slotID+"/bookings", "bob", nil)
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestPaymentConfirmed_InvalidEvent(t *testing.T) {
	api := newTestAPI(t, 1)
	rec := api.do(http.MethodPost, "/payments/confirmed", "", model.PaymentConfirmed{SlotID: "not-a-uuid"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusFor(apperror.KindValidation))
	assert.Equal(t, http.StatusForbidden, statusFor(apperror.KindAuthorization))
	assert.Equal(t, http.StatusConflict, statusFor(apperror.KindConflict))
	assert.Equal(t, http.StatusNotFound, statusFor(apperror.KindNotFound))
	assert.Equal(t, http.StatusBadGateway, statusFor(apperror.KindExternalService))
	assert.Equal(t, http.StatusInternalServerError, statusFor(apperror.KindInternal))
}
