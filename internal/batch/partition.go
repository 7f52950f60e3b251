package batch

import (
	"encoding/json"

	"github.com/promptsheet/promptsheet/internal/llm"
)

// Partition splits items into chunks bounded by both a maximum item count and
// a maximum serialized size. A chunk closes the moment either bound would be
// exceeded by adding the next item; an item is never split across chunks, so
// a single oversized item still occupies a chunk of its own.
func Partition(items []llm.BatchItem, maxItems, maxBytes int) [][]llm.BatchItem {
	var chunks [][]llm.BatchItem
	var current []llm.BatchItem
	currentBytes := 0

	for _, item := range items {
		size := itemSize(item)
		if len(current) > 0 && (len(current)+1 > maxItems || currentBytes+size > maxBytes) {
			chunks = append(chunks, current)
			current = nil
			currentBytes = 0
		}
		current = append(current, item)
		currentBytes += size
	}
	if len(current) > 0 {
		chunks = append(chunks, current)
	}
	return chunks
}

// itemSize approximates the item's wire size via its JSON encoding (image
// bytes marshal to base64, matching what actually goes on the wire).
func itemSize(item llm.BatchItem) int {
	b, err := json.Marshal(item)
	if err != nil {
		// unmarshalable items cannot happen with our types; be pessimistic
		return len(item.CustomID) + len(item.Request.Prompt)
	}
	return len(b)
}
