package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/phrazzld/enrich/internal/events"
	"github.com/phrazzld/enrich/internal/metrics"
	"github.com/phrazzld/enrich/internal/redact"
)

// WorkerConfig holds the timing knobs of a Worker.
type WorkerConfig struct {
	// ID identifies this worker in claims. Defaults to hostname-pid.
	ID string

	// PollInterval is the sleep between empty polls.
	PollInterval time.Duration

	// LeaseTimeout is how long a job may stay running without an update
	// before it is failed with LeaseExpiredDetail. Zero disables reaping.
	LeaseTimeout time.Duration

	// ReapInterval is how often expired leases are checked.
	ReapInterval time.Duration

	// HeartbeatInterval is how often a running job's lease is renewed.
	// Defaults to a third of LeaseTimeout.
	HeartbeatInterval time.Duration
}

// DefaultWorkerConfig returns a WorkerConfig with reasonable defaults
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		PollInterval: 2 * time.Second,
		LeaseTimeout: 30 * time.Minute,
		ReapInterval: time.Minute,
	}
}

// DefaultWorkerID derives a worker ID from the host name and process ID.
func DefaultWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// errLeaseLost cancels a handler whose job was reaped while it ran.
var errLeaseLost = errors.New("job lease lost")

// finishTimeout bounds the store write that records a job interrupted by
// shutdown.
const finishTimeout = 5 * time.Second

// Worker claims pending jobs one at a time and runs them through the handler
// registered for their kind.
type Worker struct {
	store    Store
	registry *Registry
	emitter  events.EventEmitter
	metrics  *metrics.Metrics
	logger   *slog.Logger
	cfg      WorkerConfig

	wake     chan struct{}
	lastReap time.Time
}

// NewWorker creates a Worker. emitter and m may be nil.
func NewWorker(
	store Store,
	registry *Registry,
	emitter events.EventEmitter,
	m *metrics.Metrics,
	logger *slog.Logger,
	cfg WorkerConfig,
) *Worker {
	defaults := DefaultWorkerConfig()
	if cfg.ID == "" {
		cfg.ID = DefaultWorkerID()
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaults.ReapInterval
	}
	if cfg.HeartbeatInterval <= 0 && cfg.LeaseTimeout > 0 {
		cfg.HeartbeatInterval = cfg.LeaseTimeout / 3
	}
	if emitter == nil {
		emitter = events.NopEmitter{}
	}
	return &Worker{
		store:    store,
		registry: registry,
		emitter:  emitter,
		metrics:  m,
		logger:   logger.With("component", "job_worker", "worker_id", cfg.ID),
		cfg:      cfg,
		wake:     make(chan struct{}, 1),
	}
}

// ID returns the identifier this worker claims jobs under.
func (w *Worker) ID() string {
	return w.cfg.ID
}

// Notify wakes the worker if it is sleeping between polls. It never blocks.
func (w *Worker) Notify() {
	select {
	case w.wake <- struct{}{}:
	default:
	}
}

// HandleEvent implements events.EventHandler so a worker can subscribe to
// job.enqueued notifications.
func (w *Worker) HandleEvent(_ context.Context, event *events.JobEvent) error {
	if event != nil && event.Type == events.JobEnqueued {
		w.Notify()
	}
	return nil
}

// Run polls the store until ctx is canceled. A failing job never stops the
// loop; store errors are logged and retried on the next poll.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started",
		"poll_interval", w.cfg.PollInterval,
		"lease_timeout", w.cfg.LeaseTimeout)
	defer w.logger.Info("worker stopped")

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
		case <-w.wake:
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
		}

		w.maybeReap(ctx)

		// Drain the queue before sleeping again.
		for ctx.Err() == nil {
			worked, err := w.RunOnce(ctx)
			if err != nil {
				w.logger.Error("poll failed", "error", err)
				break
			}
			if !worked {
				break
			}
			w.maybeReap(ctx)
		}
		timer.Reset(w.cfg.PollInterval)
	}
}

func (w *Worker) maybeReap(ctx context.Context) {
	if w.cfg.LeaseTimeout <= 0 || time.Since(w.lastReap) < w.cfg.ReapInterval {
		return
	}
	w.lastReap = time.Now()
	if _, err := w.Reap(ctx); err != nil && ctx.Err() == nil {
		w.logger.Error("failed to reap expired leases", "error", err)
	}
}

// Reap fails running jobs whose lease has expired and announces them.
func (w *Worker) Reap(ctx context.Context) (int, error) {
	if w.cfg.LeaseTimeout <= 0 {
		return 0, nil
	}
	expired, err := w.store.FailExpired(ctx, w.cfg.LeaseTimeout)
	if err != nil {
		return 0, fmt.Errorf("fail expired jobs: %w", err)
	}
	w.metrics.JobsExpired(len(expired))
	for _, j := range expired {
		w.logger.Warn("job lease expired",
			"job_id", j.ID,
			"job_kind", j.Kind,
			"claimed_by", j.ClaimedBy)
		w.announce(ctx, events.JobFailed, j, LeaseExpiredDetail)
	}
	return len(expired), nil
}

// RunOnce claims and runs at most one job. It reports whether a job was
// claimed. The returned error covers store failures only; job failures are
// recorded on the job.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	j, err := w.store.ClaimNext(ctx, w.cfg.ID)
	if err != nil {
		return false, fmt.Errorf("claim next job: %w", err)
	}
	if j == nil {
		return false, nil
	}
	w.process(ctx, j)
	return true, nil
}

func (w *Worker) process(ctx context.Context, j *Job) {
	log := w.logger.With("job_id", j.ID, "job_kind", j.Kind)
	log.Info("job claimed")
	start := time.Now()

	jobCtx, stopHeartbeat := w.keepAlive(ctx, log, j)
	result, runErr := w.execute(jobCtx, log, j)
	stopHeartbeat()

	if errors.Is(context.Cause(jobCtx), errLeaseLost) {
		// The reaper already failed the job and announced it.
		log.Warn("abandoned job after losing its lease", "duration_ms", time.Since(start).Milliseconds())
		return
	}

	// Record the outcome even when shutdown interrupted the handler.
	storeCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		storeCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), finishTimeout)
		defer cancel()
	}

	if runErr == nil {
		if err := w.store.Complete(storeCtx, j.ID, w.cfg.ID, result); err != nil {
			log.Error("failed to record job success", "error", err)
			return
		}
		w.metrics.JobFinished(j.Kind, string(StatusSucceeded), time.Since(start))
		log.Info("job succeeded", "duration_ms", time.Since(start).Milliseconds())
		w.announce(storeCtx, events.JobSucceeded, j, "")
		return
	}

	detail := redact.Error(runErr)
	if err := w.store.Fail(storeCtx, j.ID, w.cfg.ID, detail); err != nil {
		log.Error("failed to record job failure", "error", err, "job_error", detail)
		return
	}
	w.metrics.JobFinished(j.Kind, string(StatusFailed), time.Since(start))
	log.Warn("job failed", "error", detail, "duration_ms", time.Since(start).Milliseconds())
	w.announce(storeCtx, events.JobFailed, j, detail)
}

// keepAlive renews the lease of j every HeartbeatInterval until stop is
// called. If the job is reaped meanwhile, the returned context is canceled
// with errLeaseLost.
func (w *Worker) keepAlive(ctx context.Context, log *slog.Logger, j *Job) (jobCtx context.Context, stop func()) {
	jobCtx, cancel := context.WithCancelCause(ctx)
	if w.cfg.HeartbeatInterval <= 0 {
		return jobCtx, func() { cancel(nil) }
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go func() {
		defer close(stopped)
		ticker := time.NewTicker(w.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-jobCtx.Done():
				return
			case <-ticker.C:
			}

			err := w.store.Heartbeat(jobCtx, j.ID, w.cfg.ID)
			switch {
			case err == nil:
				log.Debug("job lease renewed")
			case errors.Is(err, ErrIllegalTransition),
				errors.Is(err, ErrNotOwner),
				errors.Is(err, ErrJobNotFound):
				log.Warn("job lease lost", "error", err)
				cancel(errLeaseLost)
				return
			case jobCtx.Err() == nil:
				// Transient store trouble; the next tick tries again.
				log.Warn("failed to renew job lease", "error", err)
			}
		}
	}()

	return jobCtx, func() {
		close(done)
		<-stopped
		cancel(nil)
	}
}

func (w *Worker) execute(ctx context.Context, log *slog.Logger, j *Job) (result json.RawMessage, err error) {
	h, err := w.registry.Lookup(j.Kind)
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error("job handler panicked", "panic", r, "stack", string(debug.Stack()))
			result, err = nil, fmt.Errorf("handler panicked: %v", r)
		}
	}()

	result, err = h.Handle(ctx, j)
	if err != nil {
		if errors.Is(context.Cause(ctx), errLeaseLost) {
			return nil, errLeaseLost
		}
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, fmt.Errorf("interrupted by worker shutdown: %w", err)
		}
		return nil, err
	}
	if len(result) == 0 || !json.Valid(result) {
		return nil, errors.New("handler returned a result that is not valid JSON")
	}
	return result, nil
}

func (w *Worker) announce(ctx context.Context, t events.Type, j *Job, detail string) {
	event := events.NewJobEvent(t, j.ID, j.Kind)
	event.Detail = detail
	if err := w.emitter.EmitEvent(ctx, event); err != nil {
		w.logger.Warn("failed to announce job event",
			"job_id", j.ID,
			"event_type", t,
			"error", err)
	}
}
