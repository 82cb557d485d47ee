package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/phrazzld/enrich/internal/generation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string { return &s }

func translatingClient() *fakeClient {
	client := newFakeClient()
	client.record = func(text string) map[string]any {
		return map[string]any{"translatedText": strings.ToUpper(text)}
	}
	return client
}

func TestTranslate_PassesThroughEmptyCells(t *testing.T) {
	t.Parallel()

	client := translatingClient()
	d := NewDispatcher(client, quietLogger(), nil)

	req := TranslateRequest{
		Column:         "comment",
		TargetLanguage: "German",
		Cells: []Cell{
			{Row: 4, Text: strPtr("good")},
			{Row: 5, Text: nil},
			{Row: 6, Text: strPtr("   ")},
			{Row: 7, Text: strPtr("bad")},
			{Row: 9, Text: strPtr("")},
			{Row: 12, Text: strPtr("fine")},
		},
	}

	out, err := d.Translate(context.Background(), req, WithBatchSize(2), WithRetryPolicy(fastRetry(1)))
	require.NoError(t, err)
	require.Len(t, out, len(req.Cells))

	for i, cell := range out {
		assert.Equal(t, req.Cells[i].Row, cell.Row)
	}
	assert.Equal(t, "GOOD", *out[0].Text)
	assert.Nil(t, out[1].Text)
	assert.True(t, out[1].Skipped)
	assert.Equal(t, "   ", *out[2].Text)
	assert.True(t, out[2].Skipped)
	assert.Equal(t, "BAD", *out[3].Text)
	assert.Equal(t, "", *out[4].Text)
	assert.Equal(t, "FINE", *out[5].Text)
	assert.False(t, out[5].Skipped)

	// Three non-empty cells in batches of two.
	assert.Equal(t, int32(2), client.calls.Load())
	for _, prompt := range client.allPrompts() {
		assert.NotContains(t, prompt, `"text": "   "`)
	}
}

func TestTranslate_SingleColumnSegment(t *testing.T) {
	t.Parallel()

	client := translatingClient()
	d := NewDispatcher(client, quietLogger(), nil)

	out, err := d.Translate(context.Background(), TranslateRequest{
		TargetLanguage: "French",
		Cells:          []Cell{{Row: 0, Text: strPtr("only")}},
	})
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, "ONLY", *out[0].Text)
	assert.Equal(t, int32(1), client.calls.Load())
}

func TestTranslate_AllEmptyDispatchesNothing(t *testing.T) {
	t.Parallel()

	client := translatingClient()
	d := NewDispatcher(client, quietLogger(), nil)

	out, err := d.Translate(context.Background(), TranslateRequest{
		TargetLanguage: "French",
		Cells:          []Cell{{Row: 1}, {Row: 2, Text: strPtr(" ")}},
	})
	require.NoError(t, err)
	assert.Len(t, out, 2)
	assert.Zero(t, client.calls.Load())
}

func TestTranslate_FailedBatchKeepsOriginalText(t *testing.T) {
	t.Parallel()

	client := translatingClient()
	client.fail = func(string, int) error {
		return generation.NewFatalError("fake", 400, errors.New("bad request"))
	}
	d := NewDispatcher(client, quietLogger(), nil)

	out, err := d.Translate(context.Background(), TranslateRequest{
		TargetLanguage: "Spanish",
		Cells:          []Cell{{Row: 3, Text: strPtr("hello")}, {Row: 8}},
	})
	require.NoError(t, err)
	require.NotNil(t, out[0].Err)
	assert.Equal(t, KindProviderFatal, out[0].Err.Kind)
	assert.Equal(t, "hello", *out[0].Text)
	assert.Nil(t, out[1].Err)
}

func TestTranslate_RequiresTargetLanguage(t *testing.T) {
	t.Parallel()

	d := NewDispatcher(translatingClient(), quietLogger(), nil)
	_, err := d.Translate(context.Background(), TranslateRequest{Cells: []Cell{{Row: 1, Text: strPtr("x")}}})
	assert.ErrorIs(t, err, ErrInvalidOptions)
}
