package dispatch

import (
	"context"
	"log/slog"

	"github.com/phrazzld/enrich/internal/generation"
	"github.com/phrazzld/enrich/internal/metrics"
	"github.com/phrazzld/enrich/internal/redact"
	"github.com/phrazzld/enrich/internal/schema"
	"golang.org/x/sync/errgroup"
)

// Result is the outcome for one input item. Exactly one of Record and Err is set.
type Result struct {
	Index  int           `json:"index"`
	Record schema.Record `json:"record,omitempty"`
	Err    *ItemError    `json:"error,omitempty"`
}

// OK reports whether the item produced a validated record.
func (r Result) OK() bool {
	return r.Err == nil
}

// Dispatcher issues batched structured calls to an AI task client.
type Dispatcher struct {
	client   generation.Client
	logger   *slog.Logger
	metrics  *metrics.Metrics
	defaults []Option
}

// NewDispatcher creates a Dispatcher. defaults apply to every call and can be
// overridden per call.
func NewDispatcher(client generation.Client, logger *slog.Logger, m *metrics.Metrics, defaults ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{
		client:   client,
		logger:   logger.With("component", "dispatcher"),
		metrics:  m,
		defaults: defaults,
	}
}

func (d *Dispatcher) resolve(opts []Option) options {
	o := options{
		batchSize:        DefaultBatchSize,
		concurrencyLimit: DefaultConcurrencyLimit,
		retry:            generation.DefaultRetryPolicy(),
	}
	for _, opt := range d.defaults {
		opt(&o)
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type settlement struct {
	succeeded int
	failed    int
}

// ProcessBatches enriches items with task and returns one Result per item,
// aligned with items regardless of completion order.
//
// A failed batch never aborts the call: its items carry an *ItemError. The
// returned error is non-nil only for invalid options, or when ctx ended
// before every batch settled; in the latter case the results are still
// complete and unsettled items report KindCanceled.
func (d *Dispatcher) ProcessBatches(ctx context.Context, task Task, items []string, opts ...Option) ([]Result, error) {
	o := d.resolve(opts)
	if err := o.validate(); err != nil {
		return nil, err
	}
	if err := task.validate(); err != nil {
		return nil, err
	}

	results := make([]Result, len(items))
	if len(items) == 0 {
		return results, nil
	}

	batches := partition(items, o.batchSize)
	envelope := schema.BatchEnvelope(task.Schema)
	log := d.logger.With("task", task.Name)
	log.Info("dispatching batches",
		"items", len(items),
		"batches", len(batches),
		"batch_size", o.batchSize,
		"concurrency_limit", o.concurrencyLimit)

	// Buffered to len(batches) so settling never waits on the callback.
	settled := make(chan settlement, len(batches))
	progressDone := make(chan struct{})
	go func() {
		defer close(progressDone)
		d.reportProgress(log, o.progress, len(batches), settled)
	}()

	var g errgroup.Group
	g.SetLimit(o.concurrencyLimit)

	for _, b := range batches {
		if ctx.Err() != nil {
			d.settleCanceled(ctx, task, b, results, settled)
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				d.settleCanceled(ctx, task, b, results, settled)
				return nil
			}
			d.runBatch(ctx, log, task, envelope, o.retry, b, results, settled)
			return nil
		})
	}

	_ = g.Wait()
	close(settled)
	<-progressDone

	if err := ctx.Err(); err != nil {
		return results, err
	}
	return results, nil
}

// runBatch calls the provider for one batch until it validates or the retry
// budget is spent, then writes the batch members' result slots.
func (d *Dispatcher) runBatch(
	ctx context.Context,
	log *slog.Logger,
	task Task,
	envelope *schema.Schema,
	policy generation.RetryPolicy,
	b batch,
	results []Result,
	settled chan<- settlement,
) {
	log = log.With("batch_index", b.index, "batch_items", len(b.items))
	d.metrics.BatchStarted(task.Name)

	var records []schema.Record
	var lastErr error
	attempts, err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		// Retries carry the previous failure so the model can repair its output
		prompt, err := b.prompt(repairNote(lastErr))
		if err != nil {
			return err
		}
		raw, err := d.client.StructuredCall(ctx, generation.StructuredRequest{
			Task:        task.Name,
			Instruction: task.Instruction,
			Prompt:      prompt,
			Schema:      envelope,
		})
		if err == nil {
			records, err = b.decode(envelope, task.Schema, raw)
		}
		if err != nil {
			lastErr = err
			log.Warn("batch attempt failed", "attempt", attempt, "error", err)
			return err
		}
		log.Debug("batch attempt succeeded", "attempt", attempt)
		return nil
	})

	// Every item in a failed batch shares the same failure
	if err != nil {
		kind := classify(ctx, err)
		log.Error("batch failed", "attempts", attempts, "error_kind", kind, "error", redact.Error(err))
		for _, idx := range b.indices {
			results[idx] = Result{Index: idx, Err: &ItemError{
				Kind:     kind,
				Reason:   redact.Error(err),
				Attempts: attempts,
				Err:      err,
			}}
		}
		d.metrics.BatchSettled(task.Name, false, attempts, len(b.items))
		settled <- settlement{failed: len(b.items)}
		return
	}

	// Records come back in prompt order; map them to their input positions
	for i, idx := range b.indices {
		results[idx] = Result{Index: idx, Record: records[i]}
	}
	d.metrics.BatchSettled(task.Name, true, attempts, len(b.items))
	settled <- settlement{succeeded: len(b.items)}
}

func (d *Dispatcher) settleCanceled(ctx context.Context, task Task, b batch, results []Result, settled chan<- settlement) {
	for _, idx := range b.indices {
		results[idx] = Result{Index: idx, Err: &ItemError{
			Kind:   KindCanceled,
			Reason: "not dispatched: " + context.Cause(ctx).Error(),
			Err:    ctx.Err(),
		}}
	}
	d.metrics.BatchSkipped(task.Name, len(b.items))
	settled <- settlement{failed: len(b.items)}
}

// reportProgress is the single writer of the progress accumulator.
func (d *Dispatcher) reportProgress(log *slog.Logger, fn ProgressFunc, total int, settled <-chan settlement) {
	var report ProgressReport
	report.TotalBatches = total
	for s := range settled {
		report.CompletedBatches++
		report.SucceededItems += s.succeeded
		report.FailedItems += s.failed
		if fn != nil {
			invokeProgress(log, fn, report)
		}
	}
	log.Info("batches settled",
		"batches", report.CompletedBatches,
		"succeeded_items", report.SucceededItems,
		"failed_items", report.FailedItems)
}

func invokeProgress(log *slog.Logger, fn ProgressFunc, report ProgressReport) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("progress callback panicked", "panic", r, "completed_batches", report.CompletedBatches)
		}
	}()
	fn(report)
}

// repairNote returns the validation failure to quote back to the model, if any.
func repairNote(err error) error {
	if err == nil || !isValidation(err) {
		return nil
	}
	return err
}
