package job_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/phrazzld/enrich/internal/events"
	"github.com/phrazzld/enrich/internal/job"
	"github.com/phrazzld/enrich/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workerFixture struct {
	store   *job.MemoryStore
	worker  *job.Worker
	rec     *recorder
	metrics *metrics.Metrics
	emitter *events.InMemoryEventEmitter
}

func newWorkerFixture(t *testing.T, cfg job.WorkerConfig, handlers ...job.Handler) *workerFixture {
	t.Helper()
	f := &workerFixture{
		store:   job.NewMemoryStore(),
		rec:     &recorder{},
		metrics: metrics.New(),
		emitter: events.NewInMemoryEventEmitter(discardLogger()),
	}
	f.emitter.RegisterHandler(f.rec)
	if cfg.ID == "" {
		cfg.ID = "worker-test"
	}
	f.worker = job.NewWorker(f.store, job.NewRegistry(handlers...), f.emitter, f.metrics, discardLogger(), cfg)
	return f
}

func (f *workerFixture) enqueue(t *testing.T, kind, payload string) *job.Job {
	t.Helper()
	j, err := f.store.Enqueue(context.Background(), kind, json.RawMessage(payload))
	require.NoError(t, err)
	return j
}

func (f *workerFixture) get(t *testing.T, j *job.Job) *job.Job {
	t.Helper()
	got, err := f.store.Get(context.Background(), j.ID)
	require.NoError(t, err)
	return got
}

func echoHandler() *funcHandler {
	return &funcHandler{
		kind: "echo",
		handle: func(_ context.Context, j *job.Job) (json.RawMessage, error) {
			return j.Payload, nil
		},
	}
}

func TestWorkerRunOnceSucceeds(t *testing.T) {
	t.Parallel()
	f := newWorkerFixture(t, job.WorkerConfig{}, echoHandler())
	j := f.enqueue(t, "echo", `{"text":"hi"}`)

	worked, err := f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.True(t, worked)

	got := f.get(t, j)
	assert.Equal(t, job.StatusSucceeded, got.Status)
	assert.JSONEq(t, `{"text":"hi"}`, string(got.Result))
	assert.Equal(t, "worker-test", got.ClaimedBy)
	assert.Equal(t, []events.Type{events.JobSucceeded}, f.rec.types())
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.JobsFinished.WithLabelValues("echo", "succeeded")))

	worked, err = f.worker.RunOnce(context.Background())
	require.NoError(t, err)
	assert.False(t, worked)
}

func TestWorkerRecordsFailures(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		handle  func(context.Context, *job.Job) (json.RawMessage, error)
		kind    string
		want    string
		notWant string
	}{
		{
			name: "handler error is redacted",
			handle: func(context.Context, *job.Job) (json.RawMessage, error) {
				return nil, errors.New("dial postgres://admin:hunter2@db:5432 refused")
			},
			want:    "refused",
			notWant: "hunter2",
		},
		{
			name: "panic",
			handle: func(context.Context, *job.Job) (json.RawMessage, error) {
				panic("nil map")
			},
			want: "handler panicked: nil map",
		},
		{
			name: "invalid result",
			handle: func(context.Context, *job.Job) (json.RawMessage, error) {
				return json.RawMessage(`{"unterminated":`), nil
			},
			want: "not valid JSON",
		},
		{
			name: "empty result",
			handle: func(context.Context, *job.Job) (json.RawMessage, error) {
				return nil, nil
			},
			want: "not valid JSON",
		},
		{
			name: "unknown kind",
			kind: "mystery",
			want: "unknown job kind",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := &funcHandler{kind: "flaky", handle: tc.handle}
			f := newWorkerFixture(t, job.WorkerConfig{}, h)
			kind := tc.kind
			if kind == "" {
				kind = "flaky"
			}
			j := f.enqueue(t, kind, `{}`)

			worked, err := f.worker.RunOnce(context.Background())
			require.NoError(t, err)
			assert.True(t, worked)

			got := f.get(t, j)
			assert.Equal(t, job.StatusFailed, got.Status)
			assert.Contains(t, got.Error, tc.want)
			if tc.notWant != "" {
				assert.NotContains(t, got.Error, tc.notWant)
			}
			assert.Nil(t, got.Result)

			last := f.rec.last()
			require.NotNil(t, last)
			assert.Equal(t, events.JobFailed, last.Type)
			assert.Equal(t, got.Error, last.Detail)
		})
	}
}

func TestWorkerRunKeepsPollingAfterFailures(t *testing.T) {
	t.Parallel()

	boom := &funcHandler{
		kind: "boom",
		handle: func(context.Context, *job.Job) (json.RawMessage, error) {
			return nil, errors.New("provider rejected the request")
		},
	}
	f := newWorkerFixture(t, job.WorkerConfig{PollInterval: 10 * time.Millisecond}, echoHandler(), boom)

	var queued []*job.Job
	for i := 0; i < 3; i++ {
		queued = append(queued, f.enqueue(t, "boom", `{}`), f.enqueue(t, "echo", `{"n":1}`))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, j := range queued {
			if !f.get(t, j).Status.Terminal() {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	// Jobs enqueued later are still picked up.
	late := f.enqueue(t, "echo", `{"late":true}`)
	require.Eventually(t, func() bool {
		return f.get(t, late).Status == job.StatusSucceeded
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancellation")
	}

	for _, j := range queued {
		got := f.get(t, j)
		if got.Kind == "boom" {
			assert.Equal(t, job.StatusFailed, got.Status)
		} else {
			assert.Equal(t, job.StatusSucceeded, got.Status)
		}
	}
}

func TestWorkerWakesOnEnqueueEvent(t *testing.T) {
	t.Parallel()
	f := newWorkerFixture(t, job.WorkerConfig{PollInterval: time.Hour}, echoHandler())
	f.emitter.RegisterHandler(f.worker)

	svc := job.NewService(f.store, job.NewRegistry(echoHandler()), f.emitter, nil, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.worker.Run(ctx) }()

	// Let the first poll find nothing so the worker goes to sleep.
	time.Sleep(20 * time.Millisecond)

	j, err := svc.Enqueue(context.Background(), "echo", json.RawMessage(`{"text":"wake up"}`))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return f.get(t, j).Status == job.StatusSucceeded
	}, time.Second, 5*time.Millisecond)
}

func TestWorkerReapsExpiredLeases(t *testing.T) {
	t.Parallel()
	f := newWorkerFixture(t, job.WorkerConfig{LeaseTimeout: 10 * time.Millisecond}, echoHandler())
	j := f.enqueue(t, "echo", `{}`)

	// Another worker claims the job and never reports back.
	_, err := f.store.ClaimNext(context.Background(), "crashed-worker")
	require.NoError(t, err)

	time.Sleep(30 * time.Millisecond)
	n, err := f.worker.Reap(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got := f.get(t, j)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, job.LeaseExpiredDetail, got.Error)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.JobsReaped))

	last := f.rec.last()
	require.NotNil(t, last)
	assert.Equal(t, events.JobFailed, last.Type)
	assert.Equal(t, job.LeaseExpiredDetail, last.Detail)
}

func TestWorkerReapDisabled(t *testing.T) {
	t.Parallel()
	f := newWorkerFixture(t, job.WorkerConfig{}, echoHandler())
	f.enqueue(t, "echo", `{}`)
	_, err := f.store.ClaimNext(context.Background(), "crashed-worker")
	require.NoError(t, err)

	n, err := f.worker.Reap(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestWorkerFailsJobInterruptedByShutdown(t *testing.T) {
	t.Parallel()

	var started atomic.Bool
	slow := &funcHandler{
		kind: "slow",
		handle: func(ctx context.Context, _ *job.Job) (json.RawMessage, error) {
			started.Store(true)
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	f := newWorkerFixture(t, job.WorkerConfig{PollInterval: 10 * time.Millisecond}, slow)
	j := f.enqueue(t, "slow", `{}`)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.worker.Run(ctx) }()

	require.Eventually(t, started.Load, time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	got := f.get(t, j)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "interrupted by worker shutdown")
}

func TestWorkerHeartbeatKeepsLongJobAlive(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	var started atomic.Bool
	long := &funcHandler{
		kind: "long",
		handle: func(ctx context.Context, _ *job.Job) (json.RawMessage, error) {
			started.Store(true)
			select {
			case <-release:
				return json.RawMessage(`{"done":true}`), nil
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		},
	}
	f := newWorkerFixture(t, job.WorkerConfig{
		LeaseTimeout:      60 * time.Millisecond,
		HeartbeatInterval: 10 * time.Millisecond,
	}, long)
	j := f.enqueue(t, "long", `{}`)

	done := make(chan error, 1)
	go func() {
		_, err := f.worker.RunOnce(context.Background())
		done <- err
	}()
	require.Eventually(t, started.Load, time.Second, 5*time.Millisecond)

	// A second worker sharing the store reaps well past the lease timeout.
	reaper := job.NewWorker(f.store, job.NewRegistry(), nil, nil, discardLogger(),
		job.WorkerConfig{ID: "reaper", LeaseTimeout: 60 * time.Millisecond})
	deadline := time.Now().Add(200 * time.Millisecond)
	for time.Now().Before(deadline) {
		n, err := reaper.Reap(context.Background())
		require.NoError(t, err)
		require.Zero(t, n, "a job with a live heartbeat was reaped")
		time.Sleep(20 * time.Millisecond)
	}

	close(release)
	require.NoError(t, <-done)

	got := f.get(t, j)
	assert.Equal(t, job.StatusSucceeded, got.Status)
	assert.JSONEq(t, `{"done":true}`, string(got.Result))
}

func TestWorkerAbandonsJobAfterLosingLease(t *testing.T) {
	t.Parallel()

	var started atomic.Bool
	var sawCancel atomic.Bool
	stuck := &funcHandler{
		kind: "stuck",
		handle: func(ctx context.Context, _ *job.Job) (json.RawMessage, error) {
			started.Store(true)
			<-ctx.Done()
			sawCancel.Store(true)
			return nil, ctx.Err()
		},
	}
	f := newWorkerFixture(t, job.WorkerConfig{
		LeaseTimeout:      time.Hour,
		HeartbeatInterval: 10 * time.Millisecond,
	}, stuck)
	j := f.enqueue(t, "stuck", `{}`)

	done := make(chan error, 1)
	go func() {
		_, err := f.worker.RunOnce(context.Background())
		done <- err
	}()
	require.Eventually(t, started.Load, time.Second, 5*time.Millisecond)

	// Another process decides the lease is gone.
	time.Sleep(5 * time.Millisecond)
	reaped, err := f.store.FailExpired(context.Background(), time.Nanosecond)
	require.NoError(t, err)
	require.Len(t, reaped, 1)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not canceled after its lease was lost")
	}
	assert.True(t, sawCancel.Load())

	got := f.get(t, j)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, job.LeaseExpiredDetail, got.Error)
	assert.NotContains(t, f.rec.types(), events.JobSucceeded)
}

func TestWorkerHandleEventIgnoresOtherTypes(t *testing.T) {
	t.Parallel()
	f := newWorkerFixture(t, job.WorkerConfig{}, echoHandler())

	require.NoError(t, f.worker.HandleEvent(context.Background(), &events.JobEvent{Type: events.JobSucceeded}))
	require.NoError(t, f.worker.HandleEvent(context.Background(), nil))
	assert.Equal(t, "worker-test", f.worker.ID())
}
