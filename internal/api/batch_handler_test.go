package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"github.com/phrazzld/enrich/internal/dispatch"
	"github.com/phrazzld/enrich/internal/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func TestClassify(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.dispatcher.results = []dispatch.Result{
		{Index: 0, Record: schema.Record{"category": "praise", "confidence": 0.9, "rationale": "positive"}},
		{Index: 1, Err: &dispatch.ItemError{Kind: dispatch.KindValidation, Reason: "missing category", Attempts: 3}},
	}

	w := s.do(t, http.MethodPost, "/api/batch/classify",
		`{"items":["great app","meh"],"categories":["praise","complaint"],"batch_size":5}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeBody[BatchResponse](t, w)
	assert.Equal(t, schema.OpinionClassificationName, resp.Task)
	assert.Equal(t, 1, resp.Succeeded)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "praise", resp.Results[0].Record["category"])
	require.NotNil(t, resp.Results[1].Err)
	assert.Equal(t, dispatch.KindValidation, resp.Results[1].Err.Kind)
	assert.Equal(t, 3, resp.Results[1].Err.Attempts)

	assert.Equal(t, []string{"great app", "meh"}, s.dispatcher.items)
	assert.Equal(t, []string{"praise", "complaint"}, s.dispatcher.task.Schema.Fields[0].Enum)
	assert.Equal(t, 1, s.dispatcher.opts)
}

func TestClassifyRejects(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	for _, body := range []string{
		`{"items":[]}`,
		`{"categories":["a"]}`,
		`{"items":["a"],"categories":[""]}`,
		`{"items":["a"],"batch_size":1000}`,
		`{"items":"a"}`,
	} {
		w := s.do(t, http.MethodPost, "/api/batch/classify", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Nil(t, s.dispatcher.items)
}

func TestClassifyDispatchFailure(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.dispatcher.err = fmt.Errorf("%w: batch size must be positive", dispatch.ErrInvalidOptions)

	w := s.do(t, http.MethodPost, "/api/batch/classify", `{"items":["a"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid batch request", errorBody(t, w).Error)
}

func TestClassifyReturnsPartialResultsOnCancel(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.dispatcher.err = context.Canceled
	s.dispatcher.results = []dispatch.Result{
		{Index: 0, Err: &dispatch.ItemError{Kind: dispatch.KindCanceled, Reason: "not dispatched: context canceled"}},
	}

	w := s.do(t, http.MethodPost, "/api/batch/classify", `{"items":["a"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decodeBody[BatchResponse](t, w).Failed)
}

func TestEnrichWithRegisteredSchema(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.dispatcher.results = []dispatch.Result{{Index: 0, Record: schema.Record{"translatedText": "Hallo"}}}

	w := s.do(t, http.MethodPost, "/api/batch/enrich",
		`{"schema":"translation","instruction":"Translate into German.","items":["Hello"]}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, schema.TranslationName, s.dispatcher.task.Name)
	assert.Equal(t, "Translate into German.", s.dispatcher.task.Instruction)
	assert.Zero(t, s.dispatcher.opts)

	w = s.do(t, http.MethodPost, "/api/batch/enrich", `{"schema":"company_profile","items":["Acme"]}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, dispatch.CompanyProfileTask().Instruction, s.dispatcher.task.Instruction)
}

func TestEnrichUnknownSchema(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/batch/enrich", `{"schema":"horoscope","items":["Leo"]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Unknown schema", errorBody(t, w).Error)
	assert.Nil(t, s.dispatcher.items)
}

func TestTranslate(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	s.dispatcher.cells = []dispatch.TranslatedCell{
		{Row: 2, Text: strPtr("Bonjour")},
		{Row: 3, Text: nil, Skipped: true},
		{Row: 4, Text: strPtr("Goodbye"), Err: &dispatch.ItemError{Kind: dispatch.KindProviderFatal, Reason: "blocked"}},
	}

	w := s.do(t, http.MethodPost, "/api/batch/translate", `{
		"column": "greeting",
		"target_language": "French",
		"cells": [{"row":2,"text":"Hello"},{"row":3,"text":null},{"row":4,"text":"Goodbye"}]
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decodeBody[TranslateResponse](t, w)
	assert.Equal(t, "greeting", resp.Column)
	assert.Equal(t, 1, resp.Translated)
	assert.Equal(t, 1, resp.Skipped)
	assert.Equal(t, 1, resp.Failed)
	require.Len(t, resp.Cells, 3)
	assert.Equal(t, 3, resp.Cells[1].Row)
	assert.Nil(t, resp.Cells[1].Text)

	req := s.dispatcher.translate
	assert.Equal(t, "French", req.TargetLanguage)
	require.Len(t, req.Cells, 3)
	assert.Nil(t, req.Cells[1].Text)
}

func TestTranslateRejects(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)

	w := s.do(t, http.MethodPost, "/api/batch/translate", `{"cells":[{"row":1,"text":"hi"}]}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "Invalid TargetLanguage: required field", errorBody(t, w).Error)

	s.dispatcher.err = errors.New("dial postgres://u:secret@db/x refused")
	w = s.do(t, http.MethodPost, "/api/batch/translate", `{"target_language":"French","cells":[{"row":1,"text":"hi"}]}`)
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "Translation failed", errorBody(t, w).Error)
	assert.False(t, strings.Contains(w.Body.String(), "secret"))
}
