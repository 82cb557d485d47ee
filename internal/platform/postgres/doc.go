// Package postgres provides the PostgreSQL implementation of job.Store. It
// handles connection setup through the pgx stdlib driver, the embedded goose
// migrations, and mapping between job records and rows.
//
// Claims use SELECT ... FOR UPDATE SKIP LOCKED inside a single UPDATE, so any
// number of workers can poll the same table without claiming a job twice.
package postgres
