package anthropic

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsheet/promptsheet/internal/llm"
)

func testClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient(Config{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Model:   "claude-3-5-haiku-latest",
	}, slog.New(slog.DiscardHandler))
}

func TestComplete(t *testing.T) {
	var gotBody map[string]any
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		assert.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))

		_, _ = w.Write([]byte(`{
			"content": [{"type": "text", "text": "The answer."}],
			"usage": {"input_tokens": 20, "output_tokens": 7}
		}`))
	})

	res, err := c.Complete(context.Background(), llm.Request{
		Prompt: "question?",
		Config: llm.ModelConfig{SystemPrompt: "be brief", MaxTokens: 256},
	})
	require.NoError(t, err)
	assert.Equal(t, "The answer.", res.Text)
	assert.Equal(t, 20, res.InputTokens)
	assert.Equal(t, 7, res.OutputTokens)

	assert.Equal(t, "claude-3-5-haiku-latest", gotBody["model"])
	assert.Equal(t, float64(256), gotBody["max_tokens"])
	assert.Equal(t, "be brief", gotBody["system"])
}

func TestCompleteRateLimited(t *testing.T) {
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error": {"type": "rate_limit_error"}}`))
	})

	_, err := c.Complete(context.Background(), llm.Request{Prompt: "p"})
	require.Error(t, err)

	var rle *llm.RateLimitError
	require.ErrorAs(t, err, &rle)
	assert.Equal(t, 7*time.Second, rle.RetryAfter)
}

func TestCreateBatch(t *testing.T) {
	var gotBody struct {
		Requests []struct {
			CustomID string         `json:"custom_id"`
			Params   map[string]any `json:"params"`
		} `json:"requests"`
	}
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages/batches", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		_, _ = w.Write([]byte(`{"id": "msgbatch_123", "processing_status": "in_progress"}`))
	})

	id, err := c.CreateBatch(context.Background(), []llm.BatchItem{
		{CustomID: "job_item_0", Request: llm.Request{Prompt: "first"}},
		{CustomID: "job_item_1", Request: llm.Request{Prompt: "second"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "msgbatch_123", id)

	require.Len(t, gotBody.Requests, 2)
	assert.Equal(t, "job_item_0", gotBody.Requests[0].CustomID)
	assert.Equal(t, "job_item_1", gotBody.Requests[1].CustomID)
	// every item carries full message params
	assert.NotNil(t, gotBody.Requests[0].Params["messages"])
	assert.NotNil(t, gotBody.Requests[0].Params["max_tokens"])
}

func TestBatchEnded(t *testing.T) {
	status := "in_progress"
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages/batches/msgbatch_123", r.URL.Path)
		_, _ = w.Write([]byte(`{"processing_status": "` + status + `"}`))
	})

	ended, err := c.BatchEnded(context.Background(), "msgbatch_123")
	require.NoError(t, err)
	assert.False(t, ended)

	status = "ended"
	ended, err = c.BatchEnded(context.Background(), "msgbatch_123")
	require.NoError(t, err)
	assert.True(t, ended)
}

func TestBatchResults(t *testing.T) {
	jsonl := `{"custom_id": "job_item_1", "result": {"type": "succeeded", "message": {"content": [{"type": "text", "text": "two"}]}}}
{"custom_id": "job_item_0", "result": {"type": "succeeded", "message": {"content": [{"type": "text", "text": "one"}]}}}
{"custom_id": "job_item_2", "result": {"type": "errored", "error": {"error": {"type": "invalid_request", "message": "prompt too long"}}}}
{"custom_id": "job_item_3", "result": {"type": "expired"}}
`
	c := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages/batches/msgbatch_123/results", r.URL.Path)
		_, _ = w.Write([]byte(jsonl))
	})

	results, err := c.BatchResults(context.Background(), "msgbatch_123")
	require.NoError(t, err)
	require.Len(t, results, 4)

	// stream order is preserved here; reordering is the coordinator's job
	assert.Equal(t, "job_item_1", results[0].CustomID)
	assert.Equal(t, "two", results[0].Text)
	assert.Equal(t, llm.BatchResultSucceeded, results[0].Type)

	assert.Equal(t, llm.BatchResultErrored, results[2].Type)
	assert.Equal(t, "prompt too long", results[2].Error)

	assert.Equal(t, llm.BatchResultExpired, results[3].Type)
	assert.Empty(t, results[3].Text)
}
