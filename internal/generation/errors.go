package generation

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/enrich/internal/schema"
)

// Common errors returned by AI task clients
var (
	// ErrTransientFailure is returned for temporary errors that might resolve on retry
	// (rate limits, timeouts, 5xx responses).
	ErrTransientFailure = errors.New("transient provider failure")

	// ErrProviderFatal is returned for errors that will not resolve on retry
	// (authentication, quota exhaustion, invalid requests).
	ErrProviderFatal = errors.New("fatal provider failure")

	// ErrInvalidResponse is returned when the provider response has no usable content.
	ErrInvalidResponse = errors.New("invalid response from language model")

	// ErrContentBlocked is returned when the provider blocks the content due to safety filters
	ErrContentBlocked = errors.New("content blocked by language model safety filters")

	// ErrInvalidConfig is returned when the client configuration is invalid
	ErrInvalidConfig = errors.New("invalid client configuration")
)

// ProviderError carries the provider's classification of a failed call.
type ProviderError struct {
	Provider   string
	StatusCode int
	Transient  bool
	Err        error
}

func (e *ProviderError) Error() string {
	kind := "fatal"
	if e.Transient {
		kind = "transient"
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Provider, kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Provider, kind, e.Err)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Is matches ErrTransientFailure or ErrProviderFatal according to Transient.
func (e *ProviderError) Is(target error) bool {
	switch target {
	case ErrTransientFailure:
		return e.Transient
	case ErrProviderFatal:
		return !e.Transient
	}
	return false
}

// NewTransientError wraps err as a retryable provider failure.
func NewTransientError(provider string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, StatusCode: status, Transient: true, Err: err}
}

// NewFatalError wraps err as a non-retryable provider failure.
func NewFatalError(provider string, status int, err error) *ProviderError {
	return &ProviderError{Provider: provider, StatusCode: status, Err: err}
}

// IsTransient reports whether err is a provider failure worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransientFailure)
}

// IsFatal reports whether err is a provider failure that must not be retried.
func IsFatal(err error) bool {
	return errors.Is(err, ErrProviderFatal) ||
		errors.Is(err, ErrContentBlocked) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsRetryable reports whether a failed attempt should be retried: transient
// provider failures and responses that did not satisfy their schema.
func IsRetryable(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	return IsTransient(err) || errors.Is(err, schema.ErrValidation) || errors.Is(err, ErrInvalidResponse)
}
