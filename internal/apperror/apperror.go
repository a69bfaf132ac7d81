// Package apperror defines the error taxonomy shared by every layer.
//
// Each failure class is a sentinel error. Constructors return an *AppError
// that carries a human-readable message and unwraps to its sentinel, so
// callers classify with errors.Is and handlers map the class to a response.
package apperror

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrForbidden  = errors.New("forbidden")

	// ErrUnauthorized means the caller presented no usable credentials.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrIncompatibleIdentities is raised when more than one credential proof
	// is presented at once. It is recovered by the request layer, never shown
	// to end users.
	ErrIncompatibleIdentities = errors.New("incompatible identities")

	// ErrBanned means the identity resolved but access is denied. It is not an
	// authentication failure.
	ErrBanned = errors.New("banned")

	// ErrProviderFetch wraps failures talking to Facebook or Twitter.
	ErrProviderFetch = errors.New("provider fetch failed")

	// ErrPrecondition marks operator or programming errors such as an empty
	// release name. They abort the current operation.
	ErrPrecondition = errors.New("precondition failed")
)

type AppError struct {
	Err     error  // sentinel class
	Message string // human-readable error message
	Field   string // optional: field causing the error
}

func (e *AppError) Error() string {
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

// IncompatibleIdentities reports how many proofs were presented together.
func IncompatibleIdentities(count int) *AppError {
	return &AppError{
		Err:     ErrIncompatibleIdentities,
		Message: fmt.Sprintf("%d credential proofs presented at once", count),
	}
}

func Banned(identityID string) *AppError {
	return &AppError{
		Err:     ErrBanned,
		Message: fmt.Sprintf("identity %s is banned", identityID),
	}
}

// ProviderFetch wraps a transport or decoding error from an identity provider.
// The cause is kept in the message only; errors.Is matches ErrProviderFetch.
func ProviderFetch(provider string, cause error) *AppError {
	return &AppError{
		Err:     ErrProviderFetch,
		Message: fmt.Sprintf("%s: %v", provider, cause),
	}
}

func Precondition(message string) *AppError {
	return &AppError{
		Err:     ErrPrecondition,
		Message: message,
	}
}
