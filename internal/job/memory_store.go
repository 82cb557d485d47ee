package job

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStore keeps jobs in process memory. It satisfies Store for tests and
// single-process deployments; jobs do not survive a restart.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*memoryEntry
	seq  uint64
	now  func() time.Time
}

type memoryEntry struct {
	job *Job
	seq uint64
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		jobs: make(map[uuid.UUID]*memoryEntry),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

var _ Store = (*MemoryStore)(nil)

// Enqueue implements Store.
func (s *MemoryStore) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*Job, error) {
	j, err := New(kind, payload)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	j.CreatedAt, j.UpdatedAt = now, now
	s.seq++
	s.jobs[j.ID] = &memoryEntry{job: j, seq: s.seq}
	return j.Clone(), nil
}

// ClaimNext implements Store.
func (s *MemoryStore) ClaimNext(ctx context.Context, workerID string) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var oldest *memoryEntry
	for _, e := range s.jobs {
		if e.job.Status != StatusPending {
			continue
		}
		if oldest == nil || e.job.CreatedAt.Before(oldest.job.CreatedAt) ||
			(e.job.CreatedAt.Equal(oldest.job.CreatedAt) && e.seq < oldest.seq) {
			oldest = e
		}
	}
	if oldest == nil {
		return nil, nil
	}

	oldest.job.Status = StatusRunning
	oldest.job.ClaimedBy = workerID
	oldest.job.UpdatedAt = s.now()
	return oldest.job.Clone(), nil
}

// Complete implements Store.
func (s *MemoryStore) Complete(ctx context.Context, id uuid.UUID, workerID string, result json.RawMessage) error {
	return s.finish(id, workerID, StatusSucceeded, func(j *Job) {
		j.Result = append(json.RawMessage(nil), result...)
	})
}

// Fail implements Store.
func (s *MemoryStore) Fail(ctx context.Context, id uuid.UUID, workerID string, detail string) error {
	return s.finish(id, workerID, StatusFailed, func(j *Job) {
		j.Error = detail
	})
}

func (s *MemoryStore) finish(id uuid.UUID, workerID string, to Status, apply func(*Job)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return ExplainMiss(id, nil, workerID, to)
	}
	if e.job.Status != StatusRunning || e.job.ClaimedBy != workerID {
		return ExplainMiss(id, e.job, workerID, to)
	}
	apply(e.job)
	e.job.Status = to
	e.job.UpdatedAt = s.now()
	return nil
}

// Heartbeat implements Store.
func (s *MemoryStore) Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error {
	return s.finish(id, workerID, StatusRunning, func(*Job) {})
}

// Get implements Store.
func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.jobs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, id)
	}
	return e.job.Clone(), nil
}

// List implements Store.
func (s *MemoryStore) List(ctx context.Context, f Filter) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entries := make([]*memoryEntry, 0, len(s.jobs))
	for _, e := range s.jobs {
		if f.Status != "" && e.job.Status != f.Status {
			continue
		}
		if f.Kind != "" && e.job.Kind != f.Kind {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(a, b int) bool {
		ja, jb := entries[a].job, entries[b].job
		if !ja.CreatedAt.Equal(jb.CreatedAt) {
			return ja.CreatedAt.After(jb.CreatedAt)
		}
		return entries[a].seq > entries[b].seq
	})

	limit := min(f.EffectiveLimit(), len(entries))
	out := make([]*Job, 0, limit)
	for _, e := range entries[:limit] {
		out = append(out, e.job.Clone())
	}
	return out, nil
}

// FailExpired implements Store.
func (s *MemoryStore) FailExpired(ctx context.Context, lease time.Duration) ([]*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	cutoff := now.Add(-lease)
	var reaped []*Job
	for _, e := range s.jobs {
		if e.job.Status != StatusRunning || !e.job.UpdatedAt.Before(cutoff) {
			continue
		}
		e.job.Status = StatusFailed
		e.job.Error = LeaseExpiredDetail
		e.job.UpdatedAt = now
		reaped = append(reaped, e.job.Clone())
	}
	return reaped, nil
}
