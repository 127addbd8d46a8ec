// Package apperror defines the error taxonomy returned by the service layer.
// Handlers translate a Kind into an HTTP status; Code is a stable machine
// identifier clients can branch on.
package apperror

import (
	"errors"
	"fmt"
)

// Kind classifies an error for transport mapping.
type Kind int

const (
	KindInternal Kind = iota
	KindValidation
	KindAuthorization
	KindConflict
	KindNotFound
	KindExternalService
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindAuthorization:
		return "authorization"
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindExternalService:
		return "external_service"
	default:
		return "internal"
	}
}

// Machine-readable codes.
const (
	CodeInvalidInput         = "invalid_input"
	CodeForbidden            = "forbidden"
	CodeNotFound             = "not_found"
	CodeInternal             = "internal"
	CodeExternal             = "external_service"
	CodeEntryWindowClosed    = "entry_window_closed"
	CodeInvalidSlotSelection = "invalid_slot_selection"
	CodeDuplicateEntry       = "duplicate_entry"
	CodeUpdateLimitExceeded  = "update_limit_exceeded"
	CodeAlreadyRunning       = "already_running"
	CodeSlotFull             = "slot_full"
	CodeAlreadyBooked        = "already_booked"
	CodeInvalidState         = "invalid_state"
)

// Error is the concrete error type returned by services.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by Kind and Code, so sentinel values such as
// ErrDuplicateEntry work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Code == t.Code
}

// Sentinels for the named domain failures.
var (
	ErrEntryWindowClosed    = &Error{Kind: KindConflict, Code: CodeEntryWindowClosed, Message: "entry window is closed"}
	ErrInvalidSlotSelection = &Error{Kind: KindValidation, Code: CodeInvalidSlotSelection, Message: "invalid slot selection"}
	ErrDuplicateEntry       = &Error{Kind: KindConflict, Code: CodeDuplicateEntry, Message: "an entry already exists for this lottery session"}
	ErrUpdateLimitExceeded  = &Error{Kind: KindConflict, Code: CodeUpdateLimitExceeded, Message: "entry update limit exceeded"}
	ErrAlreadyRunning       = &Error{Kind: KindConflict, Code: CodeAlreadyRunning, Message: "allocation is already running for this lottery session"}
	ErrSlotFull             = &Error{Kind: KindConflict, Code: CodeSlotFull, Message: "slot is full"}
	ErrAlreadyBooked        = &Error{Kind: KindConflict, Code: CodeAlreadyBooked, Message: "a confirmed booking already exists for this slot"}
)

// WithMessage returns a copy of a sentinel carrying a more specific message.
func (e *Error) WithMessage(msg string) *Error {
	c := *e
	c.Message = msg
	return &c
}

func InvalidInput(msg string) *Error {
	return &Error{Kind: KindValidation, Code: CodeInvalidInput, Message: msg}
}

func Forbidden(msg string) *Error {
	return &Error{Kind: KindAuthorization, Code: CodeForbidden, Message: msg}
}

func NotFound(resource string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: resource + " not found"}
}

func NotFoundWithID(resource, id string) *Error {
	return &Error{Kind: KindNotFound, Code: CodeNotFound, Message: fmt.Sprintf("%s %s not found", resource, id)}
}

func InvalidState(msg string) *Error {
	return &Error{Kind: KindConflict, Code: CodeInvalidState, Message: msg}
}

func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Code: CodeInternal, Message: msg, Err: err}
}

func External(msg string, err error) *Error {
	return &Error{Kind: KindExternalService, Code: CodeExternal, Message: msg, Err: err}
}

// KindOf returns the Kind of err, or KindInternal for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
