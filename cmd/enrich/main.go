// Package main implements the enrich command: an HTTP server and worker for
// durable research jobs, plus CLI access to the job queue and to synchronous
// batch enrichment.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
