package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/promptsheet/promptsheet/internal/llm"
)

// CreateBatch submits every item as one message-batches request and returns
// the provider batch id. Custom ids are round-tripped with the results.
func (c *Client) CreateBatch(ctx context.Context, items []llm.BatchItem) (string, error) {
	start := time.Now()

	requests := make([]map[string]any, 0, len(items))
	for _, item := range items {
		requests = append(requests, map[string]any{
			"custom_id": item.CustomID,
			"params":    c.messageParams(item.Request),
		})
	}
	body := map[string]any{"requests": requests}

	raw, err := llm.SendJSON(ctx, c.http, http.MethodPost, c.endpoint("/v1/messages/batches"), body, c.headers(), c.logger)
	if err != nil {
		c.logger.Error("anthropic.batch.create_error", "items", len(items), "error", err)
		return "", fmt.Errorf("create batch: %w", err)
	}

	var resp struct {
		ID               string `json:"id"`
		ProcessingStatus string `json:"processing_status"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode batch response: %w", err)
	}
	if resp.ID == "" {
		return "", fmt.Errorf("batch response missing id")
	}

	c.logger.Info("anthropic.batch.created",
		"batch_id", resp.ID,
		"items", len(items),
		"processing_status", resp.ProcessingStatus,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return resp.ID, nil
}

// BatchEnded reports whether the provider has finished processing the batch.
func (c *Client) BatchEnded(ctx context.Context, batchID string) (bool, error) {
	raw, err := llm.SendJSON(ctx, c.http, http.MethodGet, c.endpoint("/v1/messages/batches/"+batchID), nil, c.headers(), c.logger)
	if err != nil {
		return false, fmt.Errorf("get batch %s: %w", batchID, err)
	}

	var resp struct {
		ProcessingStatus string `json:"processing_status"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return false, fmt.Errorf("decode batch status: %w", err)
	}
	return resp.ProcessingStatus == "ended", nil
}

// BatchResults fetches the JSONL result stream and normalizes each line.
// The provider makes no ordering promise: entries are matched by custom id.
func (c *Client) BatchResults(ctx context.Context, batchID string) ([]llm.BatchResult, error) {
	raw, err := llm.SendJSON(ctx, c.http, http.MethodGet, c.endpoint("/v1/messages/batches/"+batchID+"/results"), nil, c.headers(), c.logger)
	if err != nil {
		return nil, fmt.Errorf("get batch results %s: %w", batchID, err)
	}

	var results []llm.BatchResult
	scanner := bufio.NewScanner(bytes.NewReader(raw))
	scanner.Buffer(make([]byte, 0, 1024*1024), 16*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var entry struct {
			CustomID string `json:"custom_id"`
			Result   struct {
				Type    string `json:"type"`
				Message struct {
					Content []contentBlock `json:"content"`
				} `json:"message"`
				Error struct {
					Error struct {
						Type    string `json:"type"`
						Message string `json:"message"`
					} `json:"error"`
				} `json:"error"`
			} `json:"result"`
		}
		if err := json.Unmarshal(line, &entry); err != nil {
			c.logger.Warn("anthropic.batch.bad_result_line", "batch_id", batchID, "error", err)
			continue
		}

		results = append(results, llm.BatchResult{
			CustomID: entry.CustomID,
			Type:     entry.Result.Type,
			Text:     textFromContent(entry.Result.Message.Content),
			Error:    entry.Result.Error.Error.Message,
		})
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan batch results: %w", err)
	}

	c.logger.Info("anthropic.batch.results", "batch_id", batchID, "entries", len(results))
	return results, nil
}

var _ llm.BatchService = (*Client)(nil)
