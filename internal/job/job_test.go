package job

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatusTransitions(t *testing.T) {
	t.Parallel()

	allowed := map[Status][]Status{
		StatusPending: {StatusRunning},
		StatusRunning: {StatusSucceeded, StatusFailed},
	}
	for _, from := range Statuses {
		for _, to := range Statuses {
			want := false
			for _, ok := range allowed[from] {
				if ok == to {
					want = true
				}
			}
			assert.Equal(t, want, from.CanTransitionTo(to), "%s -> %s", from, to)
		}
	}

	assert.True(t, StatusSucceeded.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.False(t, Status("paused").Valid())
}

func TestParseStatus(t *testing.T) {
	t.Parallel()

	s, err := ParseStatus(" Running ")
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, s)

	_, err = ParseStatus("done")
	assert.Error(t, err)
}

func TestNewJob(t *testing.T) {
	t.Parallel()

	j, err := New("postulation", json.RawMessage(`  {"topic":"x"} `))
	require.NoError(t, err)
	assert.Equal(t, StatusPending, j.Status)
	assert.Equal(t, `{"topic":"x"}`, string(j.Payload))
	assert.Equal(t, j.CreatedAt, j.UpdatedAt)

	for _, bad := range []string{``, `null`, `"x"`, `[1]`, `{"open":`} {
		_, err := New("postulation", json.RawMessage(bad))
		assert.ErrorIs(t, err, ErrInvalidPayload, "payload %q", bad)
	}

	_, err = New(" padded", json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
	_, err = New(string(make([]byte, MaxKindLength+1)), json.RawMessage(`{}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestCloneIsDeep(t *testing.T) {
	t.Parallel()

	j, err := New("postulation", json.RawMessage(`{"a":1}`))
	require.NoError(t, err)
	j.Result = json.RawMessage(`{"b":2}`)

	c := j.Clone()
	c.Payload[2] = 'z'
	c.Result[2] = 'z'
	assert.Equal(t, `{"a":1}`, string(j.Payload))
	assert.Equal(t, `{"b":2}`, string(j.Result))
}

func TestExplainMiss(t *testing.T) {
	t.Parallel()

	id := uuid.New()
	assert.ErrorIs(t, ExplainMiss(id, nil, "w1", StatusSucceeded), ErrJobNotFound)

	pending := &Job{ID: id, Status: StatusPending}
	assert.ErrorIs(t, ExplainMiss(id, pending, "w1", StatusSucceeded), ErrIllegalTransition)

	held := &Job{ID: id, Status: StatusRunning, ClaimedBy: "w2"}
	assert.ErrorIs(t, ExplainMiss(id, held, "w1", StatusFailed), ErrNotOwner)

	done := &Job{ID: id, Status: StatusFailed, ClaimedBy: "w1"}
	err := ExplainMiss(id, done, "w1", StatusSucceeded)
	var te *TransitionError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, StatusFailed, te.From)
	assert.Equal(t, StatusSucceeded, te.To)
}

func TestFilterEffectiveLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, DefaultListLimit, Filter{}.EffectiveLimit())
	assert.Equal(t, 7, Filter{Limit: 7}.EffectiveLimit())
	assert.Equal(t, MaxListLimit, Filter{Limit: MaxListLimit + 1}.EffectiveLimit())
}

func TestMemoryStoreLeaseUsesUpdatedAt(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemoryStore()
	s.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := s.Enqueue(ctx, "postulation", json.RawMessage(`{}`))
	require.NoError(t, err)
	now = now.Add(time.Hour)
	claimed, err := s.ClaimNext(ctx, "w1")
	require.NoError(t, err)
	require.NotNil(t, claimed)

	// Created two hours ago but claimed one hour ago.
	now = now.Add(time.Hour)
	reaped, err := s.FailExpired(ctx, 90*time.Minute)
	require.NoError(t, err)
	assert.Empty(t, reaped)

	now = now.Add(time.Hour)
	reaped, err = s.FailExpired(ctx, 90*time.Minute)
	require.NoError(t, err)
	require.Len(t, reaped, 1)
	assert.Equal(t, LeaseExpiredDetail, reaped[0].Error)
	assert.Equal(t, now, reaped[0].UpdatedAt)
}

func TestMemoryStoreReturnsCopies(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	j, err := s.Enqueue(ctx, "postulation", json.RawMessage(`{}`))
	require.NoError(t, err)

	j.Status = StatusSucceeded
	got, err := s.Get(ctx, j.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}

func TestMemoryStoreClaimHonorsContext(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ClaimNext(ctx, "w1")
	assert.ErrorIs(t, err, context.Canceled)
}
