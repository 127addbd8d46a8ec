// Package service implements business logic, validation, and orchestration
// between HTTP handlers and the repository layer.
//
// Services return *apperror.Error for every failure a caller can act on;
// anything else is wrapped as an internal error.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Shivanand-hulikatti/session-lottery/internal/apperror"
	"github.com/Shivanand-hulikatti/session-lottery/internal/model"
	"github.com/Shivanand-hulikatti/session-lottery/internal/repository"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

// Notifier hands a committed state change to the notification dispatcher.
// Implementations must not block the caller for long and never fail it.
type Notifier interface {
	Notify(ctx context.Context, n model.Notification)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, model.Notification) {}

var validate = validator.New(validator.WithRequiredStructEnabled())

// validateStruct runs the validator tags of a request and renders the first
// failures as a single ValidationError.
func validateStruct(v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperror.InvalidInput(err.Error())
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return apperror.InvalidInput("invalid request: " + strings.Join(msgs, "; "))
}

func requireID(name, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return apperror.InvalidInput(name + " must be a valid uuid")
	}
	return nil
}

func requireUser(userID string) error {
	if strings.TrimSpace(userID) == "" {
		return apperror.InvalidInput("user id is required")
	}
	return nil
}

// translate maps repository errors onto the service taxonomy. Errors that
// already carry a Kind pass through untouched.
func translate(err error, resource, id string) error {
	var appErr *apperror.Error
	switch {
	case err == nil:
		return nil
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, repository.ErrNotFound):
		return apperror.NotFoundWithID(resource, id)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return apperror.Internal("operation timed out", err)
	default:
		return apperror.Internal(fmt.Sprintf("%s %s", resource, id), err)
	}
}

// authorizeOrganizer checks that callerID organizes the photo session.
func authorizeOrganizer(ctx context.Context, q repository.Queries, photoSessionID, callerID string) (*model.PhotoSession, error) {
	ps, err := q.GetPhotoSession(ctx, photoSessionID)
	if err != nil {
		return nil, translate(err, "photo session", photoSessionID)
	}
	if ps.OrganizerID != callerID {
		return nil, apperror.Forbidden("only the session organizer may do this")
	}
	return ps, nil
}

type clock func() time.Time

func (c clock) now() time.Time {
	if c == nil {
		return time.Now().UTC()
	}
	return c().UTC()
}
