package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/phrazzld/enrich/internal/generation"
	"github.com/phrazzld/enrich/internal/schema"
)

// ErrInvalidOptions is returned when a call is configured with unusable options.
var ErrInvalidOptions = errors.New("invalid dispatch options")

// ErrorKind classifies why an item failed.
type ErrorKind string

// Item failure kinds
const (
	KindValidation        ErrorKind = "validation"
	KindProviderTransient ErrorKind = "provider_transient"
	KindProviderFatal     ErrorKind = "provider_fatal"
	KindCanceled          ErrorKind = "canceled"
)

// ItemError is the explicit failure record for one item.
type ItemError struct {
	Kind     ErrorKind `json:"kind"`
	Reason   string    `json:"reason"`
	Attempts int       `json:"attempts"`
	Err      error     `json:"-"`
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s after %d attempt(s): %s", e.Kind, e.Attempts, e.Reason)
}

func (e *ItemError) Unwrap() error {
	return e.Err
}

// classify maps the last error of a batch to the kind reported for its items.
func classify(ctx context.Context, err error) ErrorKind {
	switch {
	case ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)):
		return KindCanceled
	case errors.Is(err, schema.ErrValidation), errors.Is(err, generation.ErrInvalidResponse):
		return KindValidation
	case generation.IsTransient(err):
		return KindProviderTransient
	default:
		return KindProviderFatal
	}
}

func isValidation(err error) bool {
	return errors.Is(err, schema.ErrValidation)
}
