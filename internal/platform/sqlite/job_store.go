package sqlite

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
	"github.com/phrazzld/enrich/internal/store"
)

const jobColumns = `id, kind, payload, status, result, error, claimed_by, created_at, updated_at`

// JobStore implements job.Store on SQLite.
type JobStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ job.Store = (*JobStore)(nil)

// NewJobStore creates a JobStore over an open database.
func NewJobStore(db *sql.DB, logger *slog.Logger) *JobStore {
	return &JobStore{
		db:     db,
		logger: logger.With("component", "sqlite_job_store"),
	}
}

func nanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*job.Job, error) {
	var (
		j                   job.Job
		id, payload, status string
		result, errDetail   sql.NullString
		claimedBy           sql.NullString
		created, updated    int64
	)
	if err := row.Scan(&id, &j.Kind, &payload, &status, &result, &errDetail, &claimedBy, &created, &updated); err != nil {
		return nil, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%w: bad job id %q: %v", store.ErrInvalidEntity, id, err)
	}
	j.ID = parsed
	j.Payload = json.RawMessage(payload)
	j.Status = job.Status(status)
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	j.Error = errDetail.String
	j.ClaimedBy = claimedBy.String
	j.CreatedAt = fromNanos(created)
	j.UpdatedAt = fromNanos(updated)
	return &j, nil
}

// Enqueue implements job.Store.
func (s *JobStore) Enqueue(ctx context.Context, kind string, payload json.RawMessage) (*job.Job, error) {
	j, err := job.New(kind, payload)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, kind, payload, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		j.ID.String(), j.Kind, string(j.Payload), string(j.Status), nanos(j.CreatedAt), nanos(j.UpdatedAt),
	)
	if err != nil {
		s.logger.Error("failed to insert job", "job_kind", kind, "error", err)
		return nil, fmt.Errorf("insert job: %w", err)
	}
	return j, nil
}

// ClaimNext implements job.Store with a single conditional update, so two
// processes sharing the file never claim the same job.
func (s *JobStore) ClaimNext(ctx context.Context, workerID string) (*job.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		UPDATE jobs
		SET status = 'running', claimed_by = ?, updated_at = ?
		WHERE status = 'pending'
		  AND id = (
			SELECT id FROM jobs
			WHERE status = 'pending'
			ORDER BY created_at, rowid
			LIMIT 1
		  )
		RETURNING `+jobColumns,
		workerID, nanos(time.Now()),
	)
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return j, nil
}

// Complete implements job.Store.
func (s *JobStore) Complete(ctx context.Context, id uuid.UUID, workerID string, result json.RawMessage) error {
	return s.finish(ctx, id, workerID, job.StatusSucceeded,
		`UPDATE jobs SET status = 'succeeded', result = ?, updated_at = ?
		 WHERE id = ? AND status = 'running' AND claimed_by = ?`,
		string(result))
}

// Fail implements job.Store.
func (s *JobStore) Fail(ctx context.Context, id uuid.UUID, workerID string, detail string) error {
	return s.finish(ctx, id, workerID, job.StatusFailed,
		`UPDATE jobs SET status = 'failed', error = ?, updated_at = ?
		 WHERE id = ? AND status = 'running' AND claimed_by = ?`,
		detail)
}

// Heartbeat implements job.Store.
func (s *JobStore) Heartbeat(ctx context.Context, id uuid.UUID, workerID string) error {
	return s.finish(ctx, id, workerID, job.StatusRunning,
		`UPDATE jobs SET claimed_by = ?, updated_at = ?
		 WHERE id = ? AND status = 'running' AND claimed_by = ?`,
		workerID)
}

// finish runs the conditional update and, when it matches nothing, reads the
// row in the same transaction to explain why.
func (s *JobStore) finish(ctx context.Context, id uuid.UUID, workerID string, to job.Status, query string, value string) error {
	err := store.RunInTransaction(ctx, s.db, nil, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, query, value, nanos(time.Now()), id.String(), workerID)
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update job: %w", err)
		}
		if n == 1 {
			return nil
		}

		current, err := getJob(ctx, tx, id)
		if err != nil && !errors.Is(err, job.ErrJobNotFound) {
			return err
		}
		return job.ExplainMiss(id, current, workerID, to)
	})
	if err != nil {
		s.logger.Debug("job transition rejected",
			"job_id", id,
			"worker_id", workerID,
			"to", to,
			"error", err)
	}
	return err
}

func getJob(ctx context.Context, db store.DBTX, id uuid.UUID) (*job.Job, error) {
	row := db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id.String())
	j, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", job.ErrJobNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

// Get implements job.Store.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*job.Job, error) {
	return getJob(ctx, s.db, id)
}

// List implements job.Store.
func (s *JobStore) List(ctx context.Context, f job.Filter) ([]*job.Job, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Kind != "" {
		where = append(where, "kind = ?")
		args = append(args, f.Kind)
	}

	query := `SELECT ` + jobColumns + ` FROM jobs`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, f.EffectiveLimit())

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collect(rows)
}

func collect(rows *sql.Rows) ([]*job.Job, error) {
	var jobs []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

// FailExpired implements job.Store.
func (s *JobStore) FailExpired(ctx context.Context, lease time.Duration) ([]*job.Job, error) {
	now := time.Now()
	rows, err := s.db.QueryContext(ctx, `
		UPDATE jobs
		SET status = 'failed', error = ?, updated_at = ?
		WHERE status = 'running' AND updated_at < ?
		RETURNING `+jobColumns,
		job.LeaseExpiredDetail, nanos(now), nanos(now.Add(-lease)),
	)
	if err != nil {
		return nil, fmt.Errorf("fail expired jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return collect(rows)
}
