package errors

import (
	"errors"
)

// Domain errors
var (
	ErrNotFound          = errors.New("resource not found")
	ErrAlreadyExists     = errors.New("resource already exists")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrForbidden         = errors.New("forbidden")
	ErrInvalidAddress    = errors.New("invalid address")
	ErrInsufficientPool  = errors.New("insufficient pool balance")
	ErrProtocolInactive  = errors.New("protocol not active")
	ErrAgentInactive     = errors.New("agent not active")
	ErrFeeRequired       = errors.New("fee payment required")
	ErrFeeExpired        = errors.New("fee request expired")
	ErrScanCanceled      = errors.New("scan canceled")
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Transient marks an error as retryable by the queue: network failures,
// timeouts, missing artifacts that a later attempt can produce.
type Transient struct {
	Err error
}

func (e *Transient) Error() string { return e.Err.Error() }
func (e *Transient) Unwrap() error { return e.Err }

// NewTransient wraps err as retryable.
func NewTransient(err error) error {
	if err == nil {
		return nil
	}
	return &Transient{Err: err}
}

// IsTransient reports whether the queue should retry after err. Permanent
// errors move the owning row to a terminal state and ack the job instead.
func IsTransient(err error) bool {
	var t *Transient
	return errors.As(err, &t)
}

// AppError represents an application error with a stable code for the
// structured error envelope rendered by API collaborators.
type AppError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Err     error  `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Message
}

func (e *AppError) Unwrap() error { return e.Err }

// NewAppError creates a new app error
func NewAppError(code int, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func NotFound(message string) *AppError {
	return NewAppError(404, message, ErrNotFound)
}

func BadRequest(message string) *AppError {
	return NewAppError(400, message, ErrInvalidInput)
}

func Unauthorized(message string) *AppError {
	return NewAppError(401, message, ErrUnauthorized)
}

func Forbidden(message string) *AppError {
	return NewAppError(403, message, ErrForbidden)
}

func InternalError(err error) *AppError {
	return NewAppError(500, "internal server error", err)
}

// NewError creates a new error with a custom message wrapping an existing error
func NewError(message string, err error) error {
	return &AppError{
		Code:    400,
		Message: message,
		Err:     err,
	}
}
