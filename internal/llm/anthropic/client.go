package anthropic

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

const apiVersion = "2023-06-01"

// defaultMaxTokens is used when the caller does not set a ceiling; the
// messages API requires max_tokens on every request.
const defaultMaxTokens = 1024

// Config for the Anthropic client.
type Config struct {
	APIKey  string        // if empty, falls back to env ANTHROPIC_API_KEY
	BaseURL string        // default https://api.anthropic.com
	Model   string        // e.g., "claude-3-5-haiku-latest"
	Timeout time.Duration // http client timeout
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.anthropic.com"
	}
	if cfg.Model == "" {
		cfg.Model = "claude-3-5-haiku-latest"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
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
	return constants.ProviderAnthropic
}

func (c *Client) headers() map[string]string {
	return map[string]string{
		"x-api-key":         c.cfg.APIKey,
		"anthropic-version": apiVersion,
	}
}

func (c *Client) endpoint(path string) string {
	return strings.TrimRight(c.cfg.BaseURL, "/") + path
}

// Complete calls the messages API once. Images are attached as base64 source
// blocks ahead of the prompt text.
func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Result, error) {
	rid := uuid.New().String()
	start := time.Now()

	params := c.messageParams(req)
	c.logger.Info("anthropic.complete.start",
		"req_id", rid,
		"model", params["model"],
		"prompt_len", len(req.Prompt),
		"images", len(req.Images),
	)

	raw, err := llm.SendJSON(ctx, c.http, http.MethodPost, c.endpoint("/v1/messages"), params, c.headers(), c.logger)
	if err != nil {
		var he *llm.HTTPError
		if errors.As(err, &he) && he.Status == http.StatusTooManyRequests {
			return llm.Result{}, &llm.RateLimitError{RetryAfter: he.RetryAfter, Message: string(he.Body)}
		}
		c.logger.Error("anthropic.complete.http_error",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Result{}, err
	}

	var msg struct {
		Content []contentBlock `json:"content"`
		Usage   struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return llm.Result{}, fmt.Errorf("decode anthropic response: %w", err)
	}

	text := textFromContent(msg.Content)
	if text == "" {
		return llm.Result{}, fmt.Errorf("no text content in anthropic response")
	}

	c.logger.Info("anthropic.complete.ok",
		"req_id", rid,
		"input_tokens", msg.Usage.InputTokens,
		"output_tokens", msg.Usage.OutputTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return llm.Result{
		Text:         text,
		InputTokens:  msg.Usage.InputTokens,
		OutputTokens: msg.Usage.OutputTokens,
	}, nil
}

// messageParams builds the messages API body shared by single calls and batch
// items.
func (c *Client) messageParams(req llm.Request) map[string]any {
	model := req.Config.Model
	if model == "" {
		model = c.cfg.Model
	}
	maxTokens := req.Config.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := map[string]any{
		"model":      model,
		"max_tokens": maxTokens,
		"messages": []map[string]any{
			{"role": "user", "content": userContent(req)},
		},
	}
	if req.Config.SystemPrompt != "" {
		params["system"] = req.Config.SystemPrompt
	}
	return params
}

func userContent(req llm.Request) any {
	if len(req.Images) == 0 {
		return req.Prompt
	}
	var blocks []map[string]any
	for _, img := range req.Images {
		blocks = append(blocks, map[string]any{
			"type": "image",
			"source": map[string]any{
				"type":       "base64",
				"media_type": img.MediaType,
				"data":       base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}
	blocks = append(blocks, map[string]any{"type": "text", "text": req.Prompt})
	return blocks
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

func textFromContent(content []contentBlock) string {
	var parts []string
	for _, block := range content {
		if block.Type == "text" && block.Text != "" {
			parts = append(parts, block.Text)
		}
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

var _ llm.Provider = (*Client)(nil)
