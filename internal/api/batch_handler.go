package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/phrazzld/enrich/internal/api/shared"
	"github.com/phrazzld/enrich/internal/dispatch"
	"github.com/phrazzld/enrich/internal/schema"
)

// BatchDispatcher runs synchronous batch enrichment.
type BatchDispatcher interface {
	ProcessBatches(ctx context.Context, task dispatch.Task, items []string, opts ...dispatch.Option) ([]dispatch.Result, error)
	Translate(ctx context.Context, req dispatch.TranslateRequest, opts ...dispatch.Option) ([]dispatch.TranslatedCell, error)
}

// ClassifyRequest is the body of POST /api/batch/classify.
type ClassifyRequest struct {
	Items      []string `json:"items"                validate:"required,min=1,max=5000"`
	Categories []string `json:"categories,omitempty" validate:"max=50,dive,required,max=100"`
	BatchSize  int      `json:"batch_size,omitempty" validate:"gte=0,lte=100"`
}

// EnrichRequest is the body of POST /api/batch/enrich. Schema names a
// registered schema; Instruction defaults to the schema description.
type EnrichRequest struct {
	Schema      string   `json:"schema"                validate:"required,max=100"`
	Instruction string   `json:"instruction,omitempty" validate:"max=4000"`
	Items       []string `json:"items"                 validate:"required,min=1,max=5000"`
	BatchSize   int      `json:"batch_size,omitempty"  validate:"gte=0,lte=100"`
}

// TranslateRequest is the body of POST /api/batch/translate.
type TranslateRequest struct {
	Column         string          `json:"column,omitempty"     validate:"max=200"`
	TargetLanguage string          `json:"target_language"      validate:"required,max=50"`
	Cells          []dispatch.Cell `json:"cells"                validate:"required,min=1,max=5000"`
	BatchSize      int             `json:"batch_size,omitempty" validate:"gte=0,lte=100"`
}

// BatchResponse carries one result per input item, in input order.
type BatchResponse struct {
	Task      string            `json:"task"`
	Results   []dispatch.Result `json:"results"`
	Succeeded int               `json:"succeeded"`
	Failed    int               `json:"failed"`
}

// TranslateResponse carries one cell per input cell, in input order.
type TranslateResponse struct {
	Column     string                    `json:"column,omitempty"`
	Cells      []dispatch.TranslatedCell `json:"cells"`
	Translated int                       `json:"translated"`
	Skipped    int                       `json:"skipped"`
	Failed     int                       `json:"failed"`
}

// BatchHandler serves the synchronous batch endpoints.
type BatchHandler struct {
	dispatcher BatchDispatcher
	schemas    *schema.Registry
	logger     *slog.Logger
}

// NewBatchHandler creates a BatchHandler. schemas resolves the schema names
// accepted by the enrich endpoint.
func NewBatchHandler(dispatcher BatchDispatcher, schemas *schema.Registry, logger *slog.Logger) *BatchHandler {
	return &BatchHandler{
		dispatcher: dispatcher,
		schemas:    schemas,
		logger:     logger.With("component", "batch_handler"),
	}
}

func batchOptions(size int) []dispatch.Option {
	if size > 0 {
		return []dispatch.Option{dispatch.WithBatchSize(size)}
	}
	return nil
}

// Classify handles POST /api/batch/classify.
func (h *BatchHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req ClassifyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	h.run(w, r, dispatch.OpinionTask(req.Categories), req.Items, batchOptions(req.BatchSize))
}

// Enrich handles POST /api/batch/enrich.
func (h *BatchHandler) Enrich(w http.ResponseWriter, r *http.Request) {
	var req EnrichRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	s, err := h.schemas.Get(req.Schema)
	if err != nil {
		HandleAPIError(w, r, err, "")
		return
	}

	task := dispatch.CustomTask(s, req.Instruction)
	if s.Name == schema.CompanyProfileName && req.Instruction == "" {
		task = dispatch.CompanyProfileTask()
	}
	h.run(w, r, task, req.Items, batchOptions(req.BatchSize))
}

func (h *BatchHandler) run(w http.ResponseWriter, r *http.Request, task dispatch.Task, items []string, opts []dispatch.Option) {
	results, err := h.dispatcher.ProcessBatches(r.Context(), task, items, opts...)
	if results == nil {
		HandleAPIError(w, r, err, "Batch processing failed")
		return
	}

	resp := BatchResponse{Task: task.Name, Results: results}
	for _, res := range results {
		if res.OK() {
			resp.Succeeded++
		} else {
			resp.Failed++
		}
	}
	if err != nil {
		h.logger.Warn("batch ended early", "task", task.Name, "error", err, "failed", resp.Failed)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// Translate handles POST /api/batch/translate.
func (h *BatchHandler) Translate(w http.ResponseWriter, r *http.Request) {
	var req TranslateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	cells, err := h.dispatcher.Translate(r.Context(), dispatch.TranslateRequest{
		Column:         req.Column,
		TargetLanguage: req.TargetLanguage,
		Cells:          req.Cells,
	}, batchOptions(req.BatchSize)...)
	if cells == nil {
		HandleAPIError(w, r, err, "Translation failed")
		return
	}

	resp := TranslateResponse{Column: req.Column, Cells: cells}
	for _, c := range cells {
		switch {
		case c.Skipped:
			resp.Skipped++
		case c.Err != nil:
			resp.Failed++
		default:
			resp.Translated++
		}
	}
	if err != nil {
		h.logger.Warn("translation ended early", "column", req.Column, "error", err, "failed", resp.Failed)
	}
	shared.RespondWithJSON(w, r, http.StatusOK, resp)
}

// decodeAndValidate writes a 400 response and returns false when the body
// cannot be decoded or fails validation.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := shared.DecodeJSON(r, v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return false
	}
	if err := shared.ValidateRequest(v); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return false
	}
	return true
}
