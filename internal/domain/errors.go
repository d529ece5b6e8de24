package domain

import (
	"errors"
	"fmt"
)

// Error types for consistent error handling across the BFA.

// UnknownErrorMessage is what the user sees when a remote call fails without
// a structured message.
const UnknownErrorMessage = "An unknown error occurred"

// ErrNotFound indicates a resource was not found.
type ErrNotFound struct {
	Resource string
	ID       string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrValidation indicates a client-side validation error. It is raised before
// any remote call is made.
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error on '%s': %s", e.Field, e.Message)
}

// ErrComputation indicates that an EMI could not be computed from the inputs.
type ErrComputation struct {
	Reason string
}

func (e *ErrComputation) Error() string {
	return fmt.Sprintf("cannot compute installment: %s", e.Reason)
}

// ErrRemoteRejection is returned when the bank API answered with
// {success: false, message}. Message is shown to the user verbatim.
type ErrRemoteRejection struct {
	Service    string
	StatusCode int
	Message    string
}

func (e *ErrRemoteRejection) Error() string {
	return e.Message
}

// ErrExternalService indicates a transport-level failure in an external
// service call (network error, timeout, unexpected body).
type ErrExternalService struct {
	Service string
	Err     error
}

func (e *ErrExternalService) Error() string {
	return fmt.Sprintf("external service error [%s]: %v", e.Service, e.Err)
}

func (e *ErrExternalService) Unwrap() error {
	return e.Err
}

// UserMessage is the normalized message for transport failures.
func (e *ErrExternalService) UserMessage() string {
	return UnknownErrorMessage
}

// ErrCircuitOpen indicates the circuit breaker is open.
type ErrCircuitOpen struct {
	Service string
}

func (e *ErrCircuitOpen) Error() string {
	return fmt.Sprintf("circuit breaker open for service: %s", e.Service)
}

// ErrConflict indicates the action is not allowed in the current state
// (e.g. a second submit while one is in flight).
type ErrConflict struct {
	Message string
}

func (e *ErrConflict) Error() string {
	return e.Message
}

// ErrStaleResponse is returned when a response arrived for a request that no
// longer matches the session state. The result was discarded.
type ErrStaleResponse struct {
	Operation string
}

func (e *ErrStaleResponse) Error() string {
	return fmt.Sprintf("stale response discarded: %s", e.Operation)
}

// UserMessage returns the text a user should see for err. Rejections and
// validation failures keep their own wording; anything else is normalized.
func UserMessage(err error) string {
	var (
		rej   *ErrRemoteRejection
		val   *ErrValidation
		comp  *ErrComputation
		conf  *ErrConflict
		nf    *ErrNotFound
		stale *ErrStaleResponse
	)
	switch {
	case err == nil:
		return ""
	case errors.As(err, &rej):
		return rej.Message
	case errors.As(err, &val):
		return val.Error()
	case errors.As(err, &comp):
		return comp.Error()
	case errors.As(err, &conf):
		return conf.Message
	case errors.As(err, &nf):
		return nf.Error()
	case errors.As(err, &stale):
		return stale.Error()
	}
	return UnknownErrorMessage
}
