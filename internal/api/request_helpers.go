package api

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/enrich/internal/job"
)

var errInvalidParam = errors.New("invalid request parameter")

// getPathUUID extracts and parses a UUID path parameter.
func getPathUUID(r *http.Request, paramName string) (uuid.UUID, error) {
	pathParam := chi.URLParam(r, paramName)
	if pathParam == "" {
		return uuid.Nil, fmt.Errorf("%w: %s is required", errInvalidParam, paramName)
	}
	id, err := uuid.Parse(pathParam)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %s has invalid format", errInvalidParam, paramName)
	}
	return id, nil
}

// parseJobFilter reads the status, kind and limit query parameters.
func parseJobFilter(r *http.Request) (job.Filter, error) {
	q := r.URL.Query()
	var f job.Filter

	if v := q.Get("status"); v != "" {
		status, err := job.ParseStatus(v)
		if err != nil {
			return f, fmt.Errorf("%w: %v", errInvalidParam, err)
		}
		f.Status = status
	}

	f.Kind = q.Get("kind")

	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit < 0 {
			return f, fmt.Errorf("%w: limit must be a non-negative integer", errInvalidParam)
		}
		f.Limit = limit
	}
	return f, nil
}
