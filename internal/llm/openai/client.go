package openai

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/llm"
)

// Config for the OpenAI client.
type Config struct {
	APIKey  string        // if empty, falls back to env OPENAI_API_KEY
	BaseURL string        // default https://api.openai.com/v1
	Model   string        // e.g., "gpt-4o-mini"
	Timeout time.Duration // http client timeout
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "gpt-4o-mini"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (c *Client) Name() constants.Provider {
	return constants.ProviderOpenAI
}

// Complete calls chat/completions and returns the first choice. Images are
// attached as data URLs on the user message.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Result, error) {
	rid := uuid.New().String()
	start := time.Now()

	model := req.Config.Model
	if model == "" {
		model = c.cfg.Model
	}

	c.logger.Info("openai.complete.start",
		"req_id", rid,
		"model", model,
		"prompt_len", len(req.Prompt),
		"images", len(req.Images),
	)

	var messages []map[string]any
	if req.Config.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.Config.SystemPrompt})
	}
	messages = append(messages, map[string]any{"role": "user", "content": userContent(req)})

	body := map[string]any{
		"model":    model,
		"messages": messages,
	}
	if req.Config.MaxTokens > 0 {
		body["max_tokens"] = req.Config.MaxTokens
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := llm.SendJSON(ctx, c.http, http.MethodPost, endpoint, body, map[string]string{
		"Authorization": "Bearer " + c.cfg.APIKey,
	}, c.logger)
	if err != nil {
		var he *llm.HTTPError
		if errors.As(err, &he) && he.Status == http.StatusTooManyRequests {
			return llm.Result{}, &llm.RateLimitError{RetryAfter: he.RetryAfter, Message: string(he.Body)}
		}
		c.logger.Error("openai.complete.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Result{}, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return llm.Result{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return llm.Result{}, fmt.Errorf("no choices in openai response")
	}

	c.logger.Info("openai.complete.ok",
		"req_id", rid,
		"input_tokens", cc.Usage.PromptTokens,
		"output_tokens", cc.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return llm.Result{
		Text:         strings.TrimSpace(cc.Choices[0].Message.Content),
		InputTokens:  cc.Usage.PromptTokens,
		OutputTokens: cc.Usage.CompletionTokens,
	}, nil
}

// userContent builds either a plain string or the multi-part content array
// used for vision requests.
func userContent(req llm.Request) any {
	if len(req.Images) == 0 {
		return req.Prompt
	}
	parts := []map[string]any{
		{"type": "text", "text": req.Prompt},
	}
	for _, img := range req.Images {
		dataURL := "data:" + img.MediaType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
		parts = append(parts, map[string]any{
			"type":      "image_url",
			"image_url": map[string]any{"url": dataURL},
		})
	}
	return parts
}

var _ llm.Provider = (*Client)(nil)
