// Package api handles incoming HTTP requests, request validation and
// response formatting for the job queue and the synchronous batch
// enrichment endpoints. Handlers depend on small interfaces over the job
// service and the batch dispatcher and translate their errors into status
// codes and safe messages.
package api
