package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/enrich/internal/job"
	"github.com/phrazzld/enrich/internal/platform/logger"
	"github.com/phrazzld/enrich/internal/store"
)

const jobColumns = `id, kind, payload, status, result, error, claimed_by, created_at, updated_at`

// JobStore implements job.Store using PostgreSQL.
type JobStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ job.Store = (*JobStore)(nil)

// NewJobStore creates a JobStore over an open pool.
func NewJobStore(db *sql.DB, logger *slog.Logger) *JobStore {
	return &JobStore{
		db:     db,
		logger: logger.With("component", "postgres_job_store"),
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j                    job.Job
		status               string
		payload, result      []byte
		errDetail, claimedBy sql.NullString
	)
	err := row.Scan(&j.ID, &j.Kind, &payload, &status, &result, &errDetail, &claimedBy, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return nil, err
	}
	j.Payload = json.RawMessage(payload)
	j.Status = job.Status(status)
	if result != nil {
		j.Result = json.RawMessage(result)
	}
	j.Error = errDetail.String
	j.ClaimedBy = claimedBy.String
	j.CreatedAt = j.CreatedAt.UTC()
	j.UpdatedAt = j.UpdatedAt.UTC()
	return &j, nil
}

// Enqueue implements job.Store.
func (s *JobStore) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*job.Job, error) {
	j, err := job.New(kind, payload)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, kind, payload, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		j.ID, j.Kind, string(j.Payload), string(j.Status), j.CreatedAt, j.UpdatedAt,
	)
	if err != nil {
		logger.FromContext(ctx).Error("failed to insert job",
			"job_id", j.ID,
			"job_kind", kind,
			"error", err)
		return nil, fmt.Errorf("failed to insert job: %w", MapError(err))
	}
	return j, nil
}

// ClaimNext implements job.Store. The inner select locks the oldest pending
// row and skips rows other claimers hold, so each job goes to one caller.
func (s *JobStore) ClaimNext(ctx context.Context, workerID string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'running', claimed_by = $1, updated_at = $2
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			ORDER BY created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'pending'
		RETURNING `+jobColumns,
		workerID, time.Now().UTC(),
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", MapError(err))
	}
	s.logger.Debug("job claimed", "job_id", j.ID, "job_kind", j.Kind, "worker_id", workerID)
	return j, nil
}

// Complete implements job.Store.
func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, workerID string, result json.RawMessage) error {
	return s.finish(ctx, id, workerID, job.StatusSucceeded, `
		UPDATE jobs SET status = 'succeeded', result = $1, updated_at = $2
		WHERE id = $3 AND status = 'running' AND claimed_by = $4`,
		string(result))
}

// Fail implements job.Store.
func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, workerID string, detail string) error {
	return s.finish(ctx, id, workerID, job.StatusFailed, `
		UPDATE jobs SET status = 'failed', error = $1, updated_at = $2
		WHERE id = $3 AND status = 'running' AND claimed_by = $4`,
		detail)
}

// Heartbeat implements job.Store. claimed_by is rewritten to itself so the
// statement keeps the parameter layout finish expects.
func (s *JobStore) Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error {
	return s.finish(ctx, id, workerID, job.StatusRunning, `
		UPDATE jobs SET claimed_by = $1, updated_at = $2
		WHERE id = $3 AND status = 'running' AND claimed_by = $4`,
		workerID)
}

// finish runs the conditional update. When it matches no row the current row
// is read in the same transaction to explain the miss.
func (s *JobStore) finish(ctx context.Context, id uuid.UUID, workerID string, to job.Status, query, value string) error {
	return store.RunInTransaction(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, value, time.Now().UTC(), id, workerID)
		if err != nil {
			return fmt.Errorf("failed to update job %s: %w", id, MapError(err))
		}
		n, err := CheckRowsAffected(res)
		if err != nil {
			return err
		}
		if n == 1 {
			return nil
		}

		current, err := getJob(ctx, tx, id, true)
		if err != nil && !errors.Is(err, job.ErrJobNotFound) {
			return err
		}
		return job.ExplainMiss(id, current, workerID, to)
	})
}

func getJob(ctx context.Context, db store.DBTX, id uuid.UUID, lock bool) (*job.Job, error) {
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE id = $1`
	if lock {
		query += ` FOR SHARE`
	}
	j, err := scanJob(db.QueryRowContext(ctx, query, id))
	if err != nil {
		if IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", job.ErrJobNotFound, id)
		}
		return nil, fmt.Errorf("failed to get job: %w", MapError(err))
	}
	return j, nil
}

// Get implements job.Store.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	return getJob(ctx, s.db, id, false)
}

// List implements job.Store.
func (s *JobStore) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, string(f.Status))
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Kind != "" {
		args = append(args, f.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.EffectiveLimit())
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d`, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	return collect(rows)
}

func collect(rows *sql.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jobs: %w", err)
	}
	return jobs, nil
}

// FailExpired implements job.Store.
func (s *JobStore) FailExpired(ctx context.Context, lease time.Duration) ([]*job.Job, error) {
	now := time.Now().UTC()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs
		SET status = 'failed', error = $1, updated_at = $2
		WHERE status = 'running' AND updated_at < $3
		RETURNING `+jobColumns,
		job.LeaseExpiredDetail, now, now.Add(-lease),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to fail expired jobs: %w", MapError(err))
	}
	defer func() { _ = rows.Close() }()

	return collect(rows)
}
