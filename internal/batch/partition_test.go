package batch

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsheet/promptsheet/internal/llm"
)

func makeItems(n int, prompt string) []llm.BatchItem {
	items := make([]llm.BatchItem, n)
	for i := range items {
		items[i] = llm.BatchItem{
			CustomID: ItemID{JobID: "job", Index: i}.String(),
			Request:  llm.Request{Prompt: prompt},
		}
	}
	return items
}

func TestPartitionByCount(t *testing.T) {
	items := makeItems(2501, "p")
	chunks := Partition(items, 1000, 1<<30)

	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 1000)
	assert.Len(t, chunks[1], 1000)
	assert.Len(t, chunks[2], 501)

	// order preserved across the chunk boundary
	assert.Equal(t, "job_item_999", chunks[0][999].CustomID)
	assert.Equal(t, "job_item_1000", chunks[1][0].CustomID)
}

func TestPartitionBySize(t *testing.T) {
	big := strings.Repeat("x", 4000)
	items := makeItems(10, big)
	perItem := itemSize(items[0])

	// budget fits exactly three items per chunk
	chunks := Partition(items, 1000, perItem*3)
	require.Len(t, chunks, 4)
	for _, chunk := range chunks[:3] {
		assert.Len(t, chunk, 3)
	}
	assert.Len(t, chunks[3], 1)
}

func TestPartitionOversizedItemGetsOwnChunk(t *testing.T) {
	items := makeItems(3, "small")
	items[1].Request.Prompt = strings.Repeat("y", 10000)

	chunks := Partition(items, 1000, 500)
	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		require.Len(t, chunk, 1)
		assert.Equal(t, items[i].CustomID, chunk[0].CustomID)
	}
}

func TestPartitionEmpty(t *testing.T) {
	assert.Empty(t, Partition(nil, 1000, 1<<20))
}
