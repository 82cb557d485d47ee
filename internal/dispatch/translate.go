package dispatch

import (
	"context"
	"fmt"
	"strings"
)

// Cell is one value of the column being translated. Row identifies where the
// translation is written back; a nil Text is an empty cell.
type Cell struct {
	Row  int     `json:"row"`
	Text *string `json:"text"`
}

// TranslateRequest translates the cells of a single column.
type TranslateRequest struct {
	Column         string `json:"column"`
	TargetLanguage string `json:"target_language"`
	Cells          []Cell `json:"cells"`
}

// TranslatedCell is the outcome for one input cell.
type TranslatedCell struct {
	Row  int     `json:"row"`
	Text *string `json:"text"`
	// Skipped is set for empty cells, which are passed through unchanged.
	Skipped bool       `json:"skipped,omitempty"`
	Err     *ItemError `json:"error,omitempty"`
}

// Translate dispatches the non-empty cells of req and returns one
// TranslatedCell per input cell in input order. Empty or whitespace-only cells
// are never sent to the provider and keep their original value. A cell whose
// batch failed keeps its original text and carries the error.
func (d *Dispatcher) Translate(ctx context.Context, req TranslateRequest, opts ...Option) ([]TranslatedCell, error) {
	if strings.TrimSpace(req.TargetLanguage) == "" {
		return nil, fmt.Errorf("%w: target language is required", ErrInvalidOptions)
	}

	out := make([]TranslatedCell, len(req.Cells))
	texts := make([]string, 0, len(req.Cells))
	positions := make([]int, 0, len(req.Cells))
	for i, cell := range req.Cells {
		out[i] = TranslatedCell{Row: cell.Row, Text: cell.Text}
		if cell.Text == nil || strings.TrimSpace(*cell.Text) == "" {
			out[i].Skipped = true
			continue
		}
		texts = append(texts, *cell.Text)
		positions = append(positions, i)
	}

	if len(texts) == 0 {
		return out, nil
	}

	task := TranslationTask(req.TargetLanguage)
	if req.Column != "" {
		task.Instruction += fmt.Sprintf(" The inputs are values of the %q column.", req.Column)
	}

	d.logger.Debug("translating column",
		"column", req.Column,
		"target_language", req.TargetLanguage,
		"cells", len(req.Cells),
		"dispatched", len(texts))

	results, err := d.ProcessBatches(ctx, task, texts, opts...)
	if results == nil {
		return nil, err
	}

	for j, res := range results {
		cell := &out[positions[j]]
		if !res.OK() {
			cell.Err = res.Err
			continue
		}
		translated := res.Record.String("translatedText")
		cell.Text = &translated
	}
	return out, err
}
