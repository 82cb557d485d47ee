// Package sqlite provides a job.Store backed by a single SQLite file using the
// pure Go modernc.org/sqlite driver. It suits single-host deployments where
// the enqueuing process and the worker share a disk.
package sqlite
