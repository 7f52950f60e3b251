package ollama

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/llm"
)

// Config for the Ollama client. Local server, no auth.
type Config struct {
	BaseURL string // default http://localhost:11434
	Model   string
	Timeout time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "http://localhost:11434"
	}
	if cfg.Model == "" {
		cfg.Model = "llama3.1"
	}
	if cfg.Timeout <= 0 {
		// local generation can be slow
		cfg.Timeout = 120 * time.Second
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
	return constants.ProviderOllama
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()

	model := req.Config.Model
	if model == "" {
		model = c.cfg.Model
	}

	userMsg := map[string]any{"role": "user", "content": req.Prompt}
	if len(req.Images) > 0 {
		var images []string
		for _, img := range req.Images {
			images = append(images, base64.StdEncoding.EncodeToString(img.Data))
		}
		userMsg["images"] = images
	}

	var messages []map[string]any
	if req.Config.SystemPrompt != "" {
		messages = append(messages, map[string]any{"role": "system", "content": req.Config.SystemPrompt})
	}
	messages = append(messages, userMsg)

	body := map[string]any{
		"model":    model,
		"messages": messages,
		"stream":   false,
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/api/chat"
	raw, err := llm.SendJSON(ctx, c.http, http.MethodPost, endpoint, body, nil, c.logger)
	if err != nil {
		c.logger.Error("ollama.complete.http_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.Result{}, err
	}

	var resp struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		PromptEvalCount int `json:"prompt_eval_count"`
		EvalCount       int `json:"eval_count"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return llm.Result{}, fmt.Errorf("decode ollama response: %w", err)
	}
	if resp.Message.Content == "" {
		return llm.Result{}, fmt.Errorf("empty ollama response")
	}

	c.logger.Info("ollama.complete.ok", "model", model, "elapsed_ms", time.Since(start).Milliseconds())
	return llm.Result{
		Text:         strings.TrimSpace(resp.Message.Content),
		InputTokens:  resp.PromptEvalCount,
		OutputTokens: resp.EvalCount,
	}, nil
}

var _ llm.Provider = (*Client)(nil)
