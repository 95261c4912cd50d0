// Package shared contains common domain types, errors, and events used
// across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")

	// Validation errors
	ErrValidation    = errors.New("validation error")
	ErrInvalidInput  = errors.New("invalid input")
	ErrEmptyValue    = errors.New("value cannot be empty")
	ErrNegativeValue = errors.New("value cannot be negative")
	ErrInvalidFormat = errors.New("invalid format")

	// Identity errors
	ErrUnauthenticated = errors.New("no authenticated identity")
	ErrForbidden       = errors.New("forbidden")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "progress", "identity", "store"
	Op      string // Operation that failed, e.g., "Submit", "Fetch"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// Progress domain errors
var (
	ErrLessonNotFound      = NewDomainError("progress", "Project", ErrNotFound, "lesson definition not found")
	ErrInvalidLessonID     = NewDomainError("progress", "Validate", ErrInvalidInput, "invalid lesson ID")
	ErrInvalidDayIndex     = NewDomainError("progress", "Validate", ErrNegativeValue, "day index cannot be negative")
	ErrInvalidActivityIdx  = NewDomainError("progress", "Validate", ErrNegativeValue, "activity index cannot be negative")
	ErrUnknownActivityType = NewDomainError("progress", "Validate", ErrInvalidInput, "unknown activity type")
)

// Identity errors
var (
	ErrNoIdentity      = NewDomainError("identity", "Resolve", ErrUnauthenticated, "no signed-in identity")
	ErrTokenExpired    = NewDomainError("identity", "Resolve", ErrUnauthenticated, "identity token expired")
	ErrUserUnresolved  = NewDomainError("identity", "Resolve", ErrNotFound, "external identity has no store user")
	ErrIdentityService = NewDomainError("identity", "Resolve", ErrExternalService, "identity provider unavailable")
)

// Remote store errors
var (
	ErrStoreUnavailable = NewDomainError("store", "Request", ErrServiceUnavailable, "progress store is unavailable")
	ErrStoreRateLimited = NewDomainError("store", "Request", ErrRateLimited, "progress store rate limit exceeded")
	ErrStoreTimeout     = NewDomainError("store", "Request", ErrTimeout, "progress store request timeout")
	ErrStoreBadResponse = NewDomainError("store", "Parse", ErrInvalidFormat, "invalid response from progress store")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrEmptyValue) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrInvalidFormat)
}

// IsUnauthenticated checks if the error is an identity precondition failure.
// These short-circuit before any network call and are the only errors the
// submitter surfaces as errors rather than structured results.
func IsUnauthenticated(err error) bool {
	return errors.Is(err, ErrUnauthenticated)
}

// IsRateLimited checks if the error is a rate-limit response.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// IsExternalService checks if the error is from an external service.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService) ||
		errors.Is(err, ErrServiceUnavailable) ||
		errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrRateLimited)
}
