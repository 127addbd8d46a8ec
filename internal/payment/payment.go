// Package payment turns external payment confirmations into confirmed
// bookings. Confirmations arrive from a Kafka topic or the HTTP webhook and
// are processed the same way.
package payment

import (
	"context"
	"errors"
	"fmt"

	"github.com/Shivanand-hulikatti/session-lottery/internal/apperror"
	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/Shivanand-hulikatti/session-lottery/pkg/logger"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// Outcome is what a confirmation did to the ledger.
type Outcome string

const (
	OutcomeConfirmed Outcome = "confirmed"
	// OutcomeDuplicate means the booking was already confirmed, usually by a
	// redelivered event.
	OutcomeDuplicate Outcome = "duplicate"
	// OutcomeSlotFull means the payment cannot be honoured and must be
	// refunded upstream.
	OutcomeSlotFull Outcome = "slot_full"
)

// Confirmer is the ledger operation a payment triggers.
type Confirmer interface {
	ConfirmBooking(ctx context.Context, slotID, userID string) (*model.Booking, error)
}

// Processor applies payment confirmations to the ledger.
type Processor struct {
	ledger   Confirmer
	log      *zap.Logger
	validate *validator.Validate
}

// NewProcessor constructs a Processor.
func NewProcessor(ledger Confirmer, log *zap.Logger) *Processor {
	return &Processor{
		ledger:   ledger,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Process confirms the booking paid for by ev. Redeliveries and full slots
// are outcomes, not errors; an error means the event may be retried.
func (p *Processor) Process(ctx context.Context, ev model.PaymentConfirmed) (Outcome, *model.Booking, error) {
	if err := p.validate.Struct(ev); err != nil {
		return "", nil, apperror.InvalidInput(fmt.Sprintf("invalid payment event: %v", err))
	}

	log := p.log.With(
		zap.String("payment_id", ev.PaymentID),
		zap.String(logger.FieldSlotID, ev.SlotID),
		zap.String(logger.FieldUserID, ev.UserID),
	)

	b, err := p.ledger.ConfirmBooking(ctx, ev.SlotID, ev.UserID)
	switch {
	case err == nil:
		log.Info("payment applied", zap.String(logger.FieldBookingID, b.ID))
		return OutcomeConfirmed, b, nil
	case errors.Is(err, apperror.ErrAlreadyBooked):
		log.Info("payment already applied")
		return OutcomeDuplicate, nil, nil
	case errors.Is(err, apperror.ErrSlotFull):
		log.Warn("payment for full slot, refund required")
		return OutcomeSlotFull, nil, nil
	default:
		return "", nil, err
	}
}
