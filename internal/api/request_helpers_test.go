package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/phrazzld/enrich/internal/job"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func withURLParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestGetPathUUID(t *testing.T) {
	t.Parallel()
	id := uuid.New()

	r := withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", id.String())
	got, err := getPathUUID(r, "id")
	require.NoError(t, err)
	assert.Equal(t, id, got)

	r = withURLParam(httptest.NewRequest(http.MethodGet, "/", nil), "id", "xyz")
	_, err = getPathUUID(r, "id")
	assert.ErrorIs(t, err, errInvalidParam)

	_, err = getPathUUID(httptest.NewRequest(http.MethodGet, "/", nil), "id")
	assert.ErrorIs(t, err, errInvalidParam)
}

func TestParseJobFilter(t *testing.T) {
	t.Parallel()

	f, err := parseJobFilter(httptest.NewRequest(http.MethodGet, "/api/jobs?status=failed&kind=postulation&limit=20", nil))
	require.NoError(t, err)
	assert.Equal(t, job.Filter{Status: job.StatusFailed, Kind: "postulation", Limit: 20}, f)

	f, err = parseJobFilter(httptest.NewRequest(http.MethodGet, "/api/jobs", nil))
	require.NoError(t, err)
	assert.Equal(t, job.Filter{}, f)
}
