// Package job implements the durable job queue: the Job state machine, the
// Store contract every persistence backend satisfies, the Service used by
// enqueuing callers, and the Worker loop that claims and runs jobs.
//
// A job moves strictly pending -> running -> succeeded|failed. Only a worker
// that claimed a job may complete or fail it, and every transition is a single
// conditional update in the store, so concurrent claimers never share a job.
package job
