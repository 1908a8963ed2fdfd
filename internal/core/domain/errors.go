package domain

import (
	"errors"
	"fmt"
)

// Domain errors - used across all layers
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates the input is invalid
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidEntry indicates a persisted entry violates the status invariants
	ErrInvalidEntry = errors.New("invalid installation entry")

	// ErrNotRegistered indicates the backend no longer recognizes this installation
	ErrNotRegistered = errors.New("installation is not registered")

	// ErrRegistrationRejected indicates the backend rejected the registration of this FID
	ErrRegistrationRejected = errors.New("installation registration was rejected")

	// ErrUnregistered indicates the FID could not be registered yet
	ErrUnregistered = errors.New("installation could not be registered")

	// ErrClosed indicates the service was closed
	ErrClosed = errors.New("installations service closed")
)

// Status classifies a structured failure.
type Status string

const (
	// StatusBadConfig means the backend rejected the request because of the app configuration.
	StatusBadConfig Status = "BAD_CONFIG"

	// StatusUnavailable means the backend could not honour the request right now.
	StatusUnavailable Status = "UNAVAILABLE"

	// StatusTooManyRequests means the backend throttled the request.
	StatusTooManyRequests Status = "TOO_MANY_REQUESTS"
)

// Error is a structured failure: the backend answered, and the answer was a rejection.
type Error struct {
	Status  Status
	Message string
	Err     error
}

// NewError creates a structured failure.
func NewError(status Status, message string, err error) *Error {
	return &Error{Status: status, Message: message, Err: err}
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return fmt.Sprintf("installations: %s", e.Status)
	}
	return fmt.Sprintf("installations: %s: %s", e.Status, msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// TransportError is a failure to reach the backend or to read its answer.
// It is transient; the persisted state is left as it was so a later call can retry.
type TransportError struct {
	Op  string
	Err error
}

// NewTransportError wraps err as a transport-origin failure of op.
func NewTransportError(op string, err error) *TransportError {
	return &TransportError{Op: op, Err: err}
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: transport: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// StatusOf returns the status of a structured failure anywhere in err's chain.
func StatusOf(err error) (Status, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Status, true
	}
	return "", false
}

// IsTransport reports whether err originates from the transport rather than from the backend.
func IsTransport(err error) bool {
	var e *TransportError
	return errors.As(err, &e)
}
