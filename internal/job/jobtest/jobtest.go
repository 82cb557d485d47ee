// Package jobtest holds a conformance suite that every job.Store
// implementation must pass.
package jobtest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/enrich/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Opener returns an empty store for one subtest. reopen, when non-nil,
// returns a second store over the same persisted data, as a restarted
// process would see it.
type Opener func(t *testing.T) (store job.Store, reopen func() job.Store)

// Run exercises the store returned by open. Subtests run sequentially so
// that durable stores may share a database between them.
func Run(t *testing.T, open Opener) {
	t.Helper()

	tests := []struct {
		name string
		fn   func(t *testing.T, open Opener)
	}{
		{"EnqueueAndGet", testEnqueueAndGet},
		{"EnqueueRejectsInvalidInput", testEnqueueRejectsInvalidInput},
		{"GetMissing", testGetMissing},
		{"ClaimNextEmpty", testClaimNextEmpty},
		{"ClaimsOldestFirst", testClaimsOldestFirst},
		{"ExactlyOnceClaim", testExactlyOnceClaim},
		{"ConcurrentClaimsAreDistinct", testConcurrentClaimsAreDistinct},
		{"Complete", testComplete},
		{"Fail", testFail},
		{"TerminalStatesAreFinal", testTerminalStatesAreFinal},
		{"FinishRequiresClaim", testFinishRequiresClaim},
		{"FinishRequiresOwner", testFinishRequiresOwner},
		{"FinishMissing", testFinishMissing},
		{"FailExpired", testFailExpired},
		{"HeartbeatRenewsLease", testHeartbeatRenewsLease},
		{"HeartbeatRequiresLiveClaim", testHeartbeatRequiresLiveClaim},
		{"List", testList},
		{"SurvivesReopen", testSurvivesReopen},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, open)
		})
	}
}

func payload(t *testing.T, v map[string]any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	require.NoError(t, err)
	return raw
}

// enqueueSpaced enqueues n jobs with distinct creation times.
func enqueueSpaced(t *testing.T, s job.Store, kind string, n int) []*job.Job {
	t.Helper()
	ctx := context.Background()
	jobs := make([]*job.Job, 0, n)
	for i := 0; i < n; i++ {
		j, err := s.Enqueue(ctx, kind, payload(t, map[string]any{"n": i}))
		require.NoError(t, err)
		jobs = append(jobs, j)
		time.Sleep(2 * time.Millisecond)
	}
	return jobs
}

func testEnqueueAndGet(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()

	created, err := s.Enqueue(ctx, "postulation", payload(t, map[string]any{"topic": "solid-state batteries"}))
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, job.StatusPending, created.Status)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := s.Get(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, "postulation", got.Kind)
	assert.Equal(t, job.StatusPending, got.Status)
	assert.JSONEq(t, `{"topic":"solid-state batteries"}`, string(got.Payload))
	assert.Nil(t, got.Result)
	assert.Empty(t, got.Error)
	assert.Empty(t, got.ClaimedBy)
	assert.WithinDuration(t, created.CreatedAt, got.CreatedAt, time.Millisecond)
}

func testEnqueueRejectsInvalidInput(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()

	_, err := s.Enqueue(ctx, "postulation", json.RawMessage(`["not","an","object"]`))
	assert.ErrorIs(t, err, job.ErrInvalidPayload)

	_, err = s.Enqueue(ctx, "postulation", json.RawMessage(`{broken`))
	assert.ErrorIs(t, err, job.ErrInvalidPayload)

	_, err = s.Enqueue(ctx, "", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, job.ErrUnknownKind)

	jobs, err := s.List(ctx, job.Filter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func testGetMissing(t *testing.T, open Opener) {
	s, _ := open(t)

	_, err := s.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func testClaimNextEmpty(t *testing.T, open Opener) {
	s, _ := open(t)

	j, err := s.ClaimNext(context.Background(), "worker-1")
	require.NoError(t, err)
	assert.Nil(t, j)
}

func testClaimsOldestFirst(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()
	jobs := enqueueSpaced(t, s, "postulation", 3)

	for i, want := range jobs {
		got, err := s.ClaimNext(ctx, "worker-1")
		require.NoError(t, err)
		require.NotNil(t, got, "claim %d", i)
		assert.Equal(t, want.ID, got.ID, "claim %d", i)
		assert.Equal(t, job.StatusRunning, got.Status)
		assert.Equal(t, "worker-1", got.ClaimedBy)
		assert.False(t, got.UpdatedAt.Before(got.CreatedAt))
	}

	got, err := s.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func testExactlyOnceClaim(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()
	only := enqueueSpaced(t, s, "postulation", 1)[0]

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
		errs    []error
		start   = make(chan struct{})
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			<-start
			j, err := s.ClaimNext(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			if j != nil {
				winners = append(winners, id)
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	close(start)
	wg.Wait()

	require.Empty(t, errs)
	require.Len(t, winners, 1)

	got, err := s.Get(ctx, only.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, got.Status)
	assert.Equal(t, winners[0], got.ClaimedBy)
}

func testConcurrentClaimsAreDistinct(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()

	const total = 20
	for i := 0; i < total; i++ {
		_, err := s.Enqueue(ctx, "postulation", payload(t, map[string]any{"n": i}))
		require.NoError(t, err)
	}

	const workers = 6
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		claimed = make(map[uuid.UUID]int)
		errs    []error
	)
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for {
				j, err := s.ClaimNext(ctx, id)
				mu.Lock()
				if err != nil {
					errs = append(errs, err)
					mu.Unlock()
					return
				}
				if j == nil {
					mu.Unlock()
					return
				}
				claimed[j.ID]++
				mu.Unlock()
			}
		}(fmt.Sprintf("worker-%d", w))
	}
	wg.Wait()

	require.Empty(t, errs)
	assert.Len(t, claimed, total)
	for id, n := range claimed {
		assert.Equal(t, 1, n, "job %s claimed %d times", id, n)
	}
}

func claimOne(t *testing.T, s job.Store, workerID string) *job.Job {
	t.Helper()
	enqueueSpaced(t, s, "postulation", 1)
	j, err := s.ClaimNext(context.Background(), workerID)
	require.NoError(t, err)
	require.NotNil(t, j)
	return j
}

func testComplete(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()
	j := claimOne(t, s, "worker-1")

	result := json.RawMessage(`{"title":"t","confidence":0.5}`)
	require.NoError(t, s.Complete(ctx, j.ID, "worker-1", result))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, got.Status)
	assert.JSONEq(t, string(result), string(got.Result))
	assert.Empty(t, got.Error)
	assert.False(t, got.UpdatedAt.Before(j.UpdatedAt))
}

func testFail(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()
	j := claimOne(t, s, "worker-1")

	require.NoError(t, s.Fail(ctx, j.ID, "worker-1", "provider rejected the request"))

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, "provider rejected the request", got.Error)
	assert.Nil(t, got.Result)
}

func testTerminalStatesAreFinal(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()

	done := claimOne(t, s, "worker-1")
	require.NoError(t, s.Complete(ctx, done.ID, "worker-1", json.RawMessage(`{}`)))

	err := s.Complete(ctx, done.ID, "worker-1", json.RawMessage(`{"again":true}`))
	assert.ErrorIs(t, err, job.ErrIllegalTransition)
	err = s.Fail(ctx, done.ID, "worker-1", "late failure")
	assert.ErrorIs(t, err, job.ErrIllegalTransition)

	var te *job.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, job.StatusSucceeded, te.From)
	assert.Equal(t, job.StatusFailed, te.To)

	failed := claimOne(t, s, "worker-1")
	require.NoError(t, s.Fail(ctx, failed.ID, "worker-1", "boom"))
	err = s.Complete(ctx, failed.ID, "worker-1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, job.ErrIllegalTransition)

	// A terminal job is never handed out again.
	next, err := s.ClaimNext(ctx, "worker-2")
	require.NoError(t, err)
	assert.Nil(t, next)

	got, err := s.Get(ctx, done.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusSucceeded, got.Status)
	assert.JSONEq(t, `{}`, string(got.Result))
}

func testFinishRequiresClaim(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()
	pending := enqueueSpaced(t, s, "postulation", 1)[0]

	err := s.Complete(ctx, pending.ID, "worker-1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, job.ErrIllegalTransition)
	err = s.Fail(ctx, pending.ID, "worker-1", "skipped")
	assert.ErrorIs(t, err, job.ErrIllegalTransition)

	got, err := s.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)
}

func testFinishRequiresOwner(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()
	j := claimOne(t, s, "worker-1")

	err := s.Complete(ctx, j.ID, "worker-2", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, job.ErrNotOwner)
	err = s.Fail(ctx, j.ID, "worker-2", "not mine")
	assert.ErrorIs(t, err, job.ErrNotOwner)

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, got.Status)
	assert.Equal(t, "worker-1", got.ClaimedBy)
}

func testFinishMissing(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()

	err := s.Complete(ctx, uuid.New(), "worker-1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, job.ErrJobNotFound)
	err = s.Fail(ctx, uuid.New(), "worker-1", "gone")
	assert.ErrorIs(t, err, job.ErrJobNotFound)
}

func testFailExpired(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()

	stale := claimOne(t, s, "worker-1")
	pending := enqueueSpaced(t, s, "postulation", 1)[0]

	reaped, err := s.FailExpired(ctx, time.Hour)
	require.NoError(t, err)
	assert.Empty(t, reaped)

	time.Sleep(30 * time.Millisecond)
	reaped, err = s.FailExpired(ctx, 10*time.Millisecond)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, stale.ID, reaped[0].ID)
	assert.Equal(t, job.StatusFailed, reaped[0].Status)
	assert.Equal(t, "worker-1", reaped[0].ClaimedBy)

	got, err := s.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, job.LeaseExpiredDetail, got.Error)

	// The late worker cannot resurrect the job.
	err = s.Complete(ctx, stale.ID, "worker-1", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, job.ErrIllegalTransition)

	got, err = s.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)
}

func testHeartbeatRenewsLease(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()
	j := claimOne(t, s, "worker-1")

	time.Sleep(40 * time.Millisecond)
	require.NoError(t, s.Heartbeat(ctx, j.ID, "worker-1"))

	reaped, err := s.FailExpired(ctx, 30*time.Millisecond)
	require.NoError(t, err)
	assert.Empty(t, reaped, "a renewed lease must not be reaped")

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusRunning, got.Status)
	assert.Equal(t, "worker-1", got.ClaimedBy)
	assert.True(t, got.UpdatedAt.After(j.UpdatedAt))

	require.NoError(t, s.Complete(ctx, j.ID, "worker-1", json.RawMessage(`{}`)))
}

func testHeartbeatRequiresLiveClaim(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()

	assert.ErrorIs(t, s.Heartbeat(ctx, uuid.New(), "worker-1"), job.ErrJobNotFound)

	pending := enqueueSpaced(t, s, "postulation", 1)[0]
	assert.ErrorIs(t, s.Heartbeat(ctx, pending.ID, "worker-1"), job.ErrIllegalTransition)

	j := claimOne(t, s, "worker-1")
	assert.ErrorIs(t, s.Heartbeat(ctx, j.ID, "worker-2"), job.ErrNotOwner)

	require.NoError(t, s.Fail(ctx, j.ID, "worker-1", "boom"))
	assert.ErrorIs(t, s.Heartbeat(ctx, j.ID, "worker-1"), job.ErrIllegalTransition)

	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
}

func testList(t *testing.T, open Opener) {
	s, _ := open(t)
	ctx := context.Background()

	postulations := enqueueSpaced(t, s, "postulation", 3)
	searches := enqueueSpaced(t, s, "company_search", 2)

	claimed, err := s.ClaimNext(ctx, "worker-1")
	require.NoError(t, err)
	require.Equal(t, postulations[0].ID, claimed.ID)

	all, err := s.List(ctx, job.Filter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, searches[1].ID, all[0].ID, "newest first")
	assert.Equal(t, postulations[0].ID, all[4].ID)

	running, err := s.List(ctx, job.Filter{Status: job.StatusRunning})
	require.NoError(t, err)
	require.Len(t, running, 1)
	assert.Equal(t, claimed.ID, running[0].ID)

	byKind, err := s.List(ctx, job.Filter{Kind: "company_search"})
	require.NoError(t, err)
	require.Len(t, byKind, 2)
	for _, j := range byKind {
		assert.Equal(t, "company_search", j.Kind)
	}

	both, err := s.List(ctx, job.Filter{Kind: "postulation", Status: job.StatusPending})
	require.NoError(t, err)
	assert.Len(t, both, 2)

	limited, err := s.List(ctx, job.Filter{Limit: 2})
	require.NoError(t, err)
	require.Len(t, limited, 2)
	assert.Equal(t, searches[1].ID, limited[0].ID)
	assert.Equal(t, searches[0].ID, limited[1].ID)
}

func testSurvivesReopen(t *testing.T, open Opener) {
	s, reopen := open(t)
	if reopen == nil {
		t.Skip("store is not durable")
	}
	ctx := context.Background()

	pending := enqueueSpaced(t, s, "postulation", 1)[0]

	restarted := reopen()
	got, err := restarted.Get(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusPending, got.Status)

	claimed, err := restarted.ClaimNext(ctx, "worker-after-restart")
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, pending.ID, claimed.ID)
	require.NoError(t, restarted.Complete(ctx, claimed.ID, "worker-after-restart", json.RawMessage(`{"ok":true}`)))
}
