// Package handler contains chi HTTP handlers that translate HTTP
// requests/responses to and from the service layer.
package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Shivanand-hulikatti/session-lottery/internal/apperror"
	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/Shivanand-hulikatti/session-lottery/internal/payment"
	"github.com/Shivanand-hulikatti/session-lottery/internal/service"
	"github.com/Shivanand-hulikatti/session-lottery/pkg/logger"
	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Handler holds all HTTP handlers of the lottery and ledger API.
type Handler struct {
	entries    *service.EntryService
	allocation *service.AllocationService
	ledger     *service.LedgerService
	stats      *service.StatsService
	payments   *payment.Processor
	log        *zap.Logger
}

// New constructs a Handler.
func New(
	entries *service.EntryService,
	allocation *service.AllocationService,
	ledger *service.LedgerService,
	stats *service.StatsService,
	payments *payment.Processor,
	log *zap.Logger,
) *Handler {
	return &Handler{
		entries:    entries,
		allocation: allocation,
		ledger:     ledger,
		stats:      stats,
		payments:   payments,
		log:        log,
	}
}

// Router builds the chi router with the global middleware stack.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()

	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(Logger(h.log))
	r.Use(CORS)

	r.Get("/health", HealthCheck)

	// Called by the payment provider, not by end users.
	r.Post("/payments/confirmed", h.PaymentConfirmed)

	r.Group(func(r chi.Router) {
		r.Use(Authenticate)

		r.Route("/lottery-sessions/{id}", func(r chi.Router) {
			r.Post("/entries", h.SubmitEntry)
			r.Post("/allocate", h.RunAllocation)
			r.Get("/summary", h.LotterySummary)
		})
		r.Get("/entries/{id}", h.GetEntry)
		r.Put("/entries/{id}", h.UpdateEntry)
		r.Put("/slot-entries/{id}/weight", h.SetWeight)

		r.Post("/slots/{id}/bookings", h.ReserveBooking)
		r.Post("/slots/{id}/check-in", h.CheckIn)
		r.Get("/slots/{id}/check-in-status", h.SlotCheckInStatus)
		r.Get("/sessions/{id}/check-in-status", h.SessionCheckInStatus)
		r.Delete("/bookings/{id}", h.CancelBooking)
	})
	return r
}

// ─── Helper utilities ─────────────────────────────────────────────────────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, model.ErrorResponse{Error: msg, Code: code})
}

func decodeJSON(r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(nil, r.Body, 1<<20) // 1 MB limit
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// statusFor maps an error kind to its HTTP status.
func statusFor(kind apperror.Kind) int {
	switch kind {
	case apperror.KindValidation:
		return http.StatusBadRequest
	case apperror.KindAuthorization:
		return http.StatusForbidden
	case apperror.KindConflict:
		return http.StatusConflict
	case apperror.KindNotFound:
		return http.StatusNotFound
	case apperror.KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// writeServiceError renders a service error. Internal details are logged,
// never sent to the client.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var appErr *apperror.Error
	if !errors.As(err, &appErr) {
		appErr = apperror.Internal("internal error", err)
	}
	status := statusFor(appErr.Kind)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String(logger.FieldRequestID, chimiddleware.GetReqID(r.Context())),
			zap.Error(err),
		)
		writeError(w, status, "internal error", appErr.Code)
		return
	}
	writeError(w, status, appErr.Message, appErr.Code)
}

func badBody(w http.ResponseWriter, err error) {
	writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), apperror.CodeInvalidInput)
}

// ─── Entries ──────────────────────────────────────────────────────────────────

// SubmitEntry handles POST /lottery-sessions/{id}/entries
func (h *Handler) SubmitEntry(w http.ResponseWriter, r *http.Request) {
	var req model.SubmitEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, err)
		return
	}

	group, err := h.entries.Submit(r.Context(), chi.URLParam(r, "id"), callerID(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

// GetEntry handles GET /entries/{id}
func (h *Handler) GetEntry(w http.ResponseWriter, r *http.Request) {
	group, err := h.entries.Get(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// UpdateEntry handles PUT /entries/{id}
// Replaces the slots of an entry group; at most three edits are allowed.
func (h *Handler) UpdateEntry(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateEntryRequest
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, err)
		return
	}

	group, err := h.entries.Update(r.Context(), chi.URLParam(r, "id"), callerID(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

// SetWeight handles PUT /slot-entries/{id}/weight
func (h *Handler) SetWeight(w http.ResponseWriter, r *http.Request) {
	var req model.SetWeightRequest
	if err := decodeJSON(r, &req); err != nil {
		badBody(w, err)
		return
	}

	entry, err := h.entries.SetWeight(r.Context(), chi.URLParam(r, "id"), callerID(r), req)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// ─── Allocation ───────────────────────────────────────────────────────────────

// RunAllocation handles POST /lottery-sessions/{id}/allocate
// Idempotent: a completed session answers with its stored result.
func (h *Handler) RunAllocation(w http.ResponseWriter, r *http.Request) {
	res, err := h.allocation.RunAllocation(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// LotterySummary handles GET /lottery-sessions/{id}/summary
func (h *Handler) LotterySummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.stats.GetLotterySummary(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	if summary.Slots == nil {
		summary.Slots = []model.SlotLotteryStats{}
	}
	writeJSON(w, http.StatusOK, summary)
}

// ─── Bookings and venue ───────────────────────────────────────────────────────

// ReserveBooking handles POST /slots/{id}/bookings
// Creates a pending booking; capacity is claimed when payment is confirmed.
func (h *Handler) ReserveBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.ledger.ReserveBooking(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

// CancelBooking handles DELETE /bookings/{id}
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	b, err := h.ledger.CancelBooking(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// CheckIn handles POST /slots/{id}/check-in
// Each scan toggles between entry and exit for the caller's booking.
func (h *Handler) CheckIn(w http.ResponseWriter, r *http.Request) {
	res, err := h.ledger.CheckIn(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// SlotCheckInStatus handles GET /slots/{id}/check-in-status
func (h *Handler) SlotCheckInStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.GetSlotStatus(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// SessionCheckInStatus handles GET /sessions/{id}/check-in-status
func (h *Handler) SessionCheckInStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.stats.GetSessionStatus(r.Context(), chi.URLParam(r, "id"), callerID(r))
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// ─── Payments ─────────────────────────────────────────────────────────────────

type paymentResponse struct {
	Outcome payment.Outcome `json:"outcome"`
	Booking *model.Booking  `json:"booking,omitempty"`
}

// PaymentConfirmed handles POST /payments/confirmed
// A redelivered or unfulfillable confirmation still answers 200 so the
// provider stops retrying; the outcome tells it whether to refund.
func (h *Handler) PaymentConfirmed(w http.ResponseWriter, r *http.Request) {
	var ev model.PaymentConfirmed
	if err := decodeJSON(r, &ev); err != nil {
		badBody(w, err)
		return
	}

	outcome, b, err := h.payments.Process(r.Context(), ev)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, paymentResponse{Outcome: outcome, Booking: b})
}

// ─── Health check ─────────────────────────────────────────────────────────────

// HealthCheck handles GET /health
func HealthCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
