package dispatch

import (
	"fmt"

	"github.com/phrazzld/enrich/internal/generation"
)

// Defaults applied when neither the Dispatcher nor the call sets a value.
const (
	DefaultBatchSize        = 10
	DefaultConcurrencyLimit = 4
)

// ProgressReport is pushed to the progress callback after each batch settles.
type ProgressReport struct {
	CompletedBatches int `json:"completed_batches"`
	TotalBatches     int `json:"total_batches"`
	SucceededItems   int `json:"succeeded_items"`
	FailedItems      int `json:"failed_items"`
}

// ProgressFunc receives progress reports. Calls are sequential and never
// overlap; a panic inside the callback is recovered and logged.
type ProgressFunc func(ProgressReport)

type options struct {
	batchSize        int
	concurrencyLimit int
	retry            generation.RetryPolicy
	progress         ProgressFunc
}

// Option configures a Dispatcher or a single call.
type Option func(*options)

// WithBatchSize sets how many items are sent per provider call.
func WithBatchSize(n int) Option {
	return func(o *options) { o.batchSize = n }
}

// WithConcurrencyLimit caps how many batches are in flight at once.
func WithConcurrencyLimit(n int) Option {
	return func(o *options) { o.concurrencyLimit = n }
}

// WithRetryPolicy sets the per-batch retry budget and backoff.
func WithRetryPolicy(p generation.RetryPolicy) Option {
	return func(o *options) { o.retry = p }
}

// WithProgress registers a callback invoked once per settled batch.
func WithProgress(fn ProgressFunc) Option {
	return func(o *options) { o.progress = fn }
}

func (o options) validate() error {
	if o.batchSize <= 0 {
		return fmt.Errorf("%w: batch size must be positive, got %d", ErrInvalidOptions, o.batchSize)
	}
	if o.concurrencyLimit <= 0 {
		return fmt.Errorf("%w: concurrency limit must be positive, got %d", ErrInvalidOptions, o.concurrencyLimit)
	}
	if o.retry.MaxAttempts < 0 {
		return fmt.Errorf("%w: max attempts must not be negative", ErrInvalidOptions)
	}
	return nil
}
