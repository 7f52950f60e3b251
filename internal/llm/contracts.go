package llm

import (
	"context"
	"fmt"
	"time"

	"github.com/promptsheet/promptsheet/constants"
)

// ModelConfig is the snapshot of how a run calls a backend. It is persisted
// verbatim with bulk jobs so a restarted process can keep polling with the
// same settings.
type ModelConfig struct {
	Provider      constants.Provider `json:"provider"`
	Model         string             `json:"model"`
	MaxTokens     int                `json:"max_tokens,omitempty"`
	SystemPrompt  string             `json:"system_prompt,omitempty"`
	VisionEnabled bool               `json:"vision_enabled,omitempty"`
	VisionModel   string             `json:"vision_model,omitempty"`
}

// Image is a fetched attachment, inlined as raw bytes. Each client encodes it
// in its own wire shape (data URL, base64 source block, inline_data).
type Image struct {
	MediaType string
	Data      []byte
}

// Request is one unit of model work.
type Request struct {
	Prompt string
	Config ModelConfig
	Images []Image
}

// Result is a normalized completion. Token counts are provider-reported when
// available, estimated otherwise.
type Result struct {
	Text         string
	InputTokens  int
	OutputTokens int
}

// Provider is the interface each backend client implements.
type Provider interface {
	Name() constants.Provider
	Complete(ctx context.Context, req Request) (Result, error)
}

// RateLimitError signals an upstream 429. RetryAfter carries the
// provider-suggested wait, or zero when the provider did not suggest one.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited: %s (retry after %s)", e.Message, e.RetryAfter)
}

// BatchItem is one request inside a bulk submission, tagged with a
// caller-assigned custom id the provider round-trips with the result.
type BatchItem struct {
	CustomID string
	Request  Request
}

// Batch result types as reported by the provider.
const (
	BatchResultSucceeded = "succeeded"
	BatchResultErrored   = "errored"
	BatchResultExpired   = "expired"
)

// BatchResult is one per-item outcome from the provider's result stream.
// Arrival order is unrelated to submission order.
type BatchResult struct {
	CustomID string
	Type     string
	Text     string
	Error    string
}

// BatchService is the asynchronous bulk-inference surface of a bulk-capable
// backend.
type BatchService interface {
	CreateBatch(ctx context.Context, items []BatchItem) (string, error)
	// BatchEnded reports whether the provider considers the batch terminal.
	BatchEnded(ctx context.Context, batchID string) (bool, error)
	BatchResults(ctx context.Context, batchID string) ([]BatchResult, error)
}
