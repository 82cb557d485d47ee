package dispatch

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/phrazzld/enrich/internal/schema"
)

// batch is an immutable group of items together with their positions in the
// caller's input.
type batch struct {
	index   int
	indices []int
	items   []string
}

// partition splits items into consecutive batches of at most size items.
func partition(items []string, size int) []batch {
	if len(items) == 0 {
		return nil
	}
	batches := make([]batch, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		indices := make([]int, 0, end-start)
		for i := start; i < end; i++ {
			indices = append(indices, i)
		}
		batches = append(batches, batch{
			index:   len(batches),
			indices: indices,
			items:   items[start:end],
		})
	}
	return batches
}

type promptInput struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// prompt renders the batch for the provider. Inputs are numbered from zero
// within the batch and the model echoes that number back in each record.
func (b batch) prompt(repair error) (string, error) {
	inputs := make([]promptInput, len(b.items))
	for i, text := range b.items {
		inputs[i] = promptInput{Index: i, Text: text}
	}
	encoded, err := json.MarshalIndent(inputs, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode batch inputs: %w", err)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Process each of the following %d inputs. ", len(b.items))
	fmt.Fprintf(&sb, "Respond with a JSON object whose %q array holds exactly one record per input, ", schema.BatchResultsField)
	fmt.Fprintf(&sb, "with %q set to the input's index.\n\nInputs:\n", schema.BatchIndexField)
	sb.Write(encoded)

	if repair != nil {
		sb.WriteString("\n\nYour previous response was rejected: ")
		sb.WriteString(repair.Error())
		sb.WriteString("\nReturn a corrected response that satisfies the required structure.")
	}
	return sb.String(), nil
}

// decode validates a batch response against the envelope schema and returns
// one item record per batch member, ordered as the batch. Any violation
// fails the whole batch.
func (b batch) decode(envelope, item *schema.Schema, raw []byte) ([]schema.Record, error) {
	rec, err := schema.Validate(envelope, raw)
	if err != nil {
		return nil, err
	}

	records := make([]schema.Record, len(b.items))
	var issues []schema.Issue
	for i, r := range rec.Records(schema.BatchResultsField) {
		path := fmt.Sprintf("%s[%d].%s", schema.BatchResultsField, i, schema.BatchIndexField)
		idx, _ := r.Int(schema.BatchIndexField)
		switch {
		case idx < 0 || idx >= len(b.items):
			issues = append(issues, schema.Issue{Path: path, Code: schema.IssueConstraint,
				Message: fmt.Sprintf("index %d is outside the batch of %d inputs", idx, len(b.items))})
		case records[idx] != nil:
			issues = append(issues, schema.Issue{Path: path, Code: schema.IssueConstraint,
				Message: fmt.Sprintf("index %d answered more than once", idx)})
		default:
			records[idx] = stripIndex(r)
		}
	}
	for i, r := range records {
		if r == nil {
			issues = append(issues, schema.Issue{Path: schema.BatchResultsField, Code: schema.IssueMissingField,
				Message: fmt.Sprintf("no record for input %d", i)})
		}
	}
	if len(issues) > 0 {
		return nil, &schema.ValidationError{Schema: envelope.Name, Issues: issues}
	}

	// Strict item schemas are only enforced here.
	for i, r := range records {
		if err := item.ValidateValue(r); err != nil {
			return nil, fmt.Errorf("record for input %d: %w", i, err)
		}
	}
	return records, nil
}

func stripIndex(r schema.Record) schema.Record {
	out := make(schema.Record, len(r))
	for k, v := range r {
		if k != schema.BatchIndexField {
			out[k] = v
		}
	}
	return out
}
