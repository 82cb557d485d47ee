package dispatch

import (
	"testing"

	"github.com/phrazzld/enrich/internal/schema"
	"github.com/stretchr/testify/assert"
)

func TestBuiltinTasksAreValid(t *testing.T) {
	t.Parallel()

	custom := &schema.Schema{
		Name:        "sentiment",
		Description: "Sentiment of a review",
		Fields:      []schema.Field{{Name: "sentiment", Type: schema.TypeString, Required: true}},
	}

	for _, task := range []Task{
		OpinionTask([]string{"bug", "feature"}),
		OpinionTask(nil),
		CompanyProfileTask(),
		TranslationTask("Japanese"),
		CustomTask(custom, ""),
	} {
		assert.NoError(t, task.validate(), task.Name)
		assert.NotEmpty(t, task.Instruction, task.Name)
	}

	assert.Contains(t, OpinionTask([]string{"bug", "feature"}).Instruction, "bug, feature")
	assert.Equal(t, "Sentiment of a review", CustomTask(custom, "").Instruction)
}

func TestPartition(t *testing.T) {
	t.Parallel()

	batches := partition(makeItems(7), 3)
	assert.Len(t, batches, 3)
	assert.Equal(t, []int{0, 1, 2}, batches[0].indices)
	assert.Equal(t, []int{6}, batches[2].indices)
	assert.Equal(t, []string{"item-006"}, batches[2].items)
	assert.Equal(t, 2, batches[2].index)

	assert.Nil(t, partition(nil, 3))
}
