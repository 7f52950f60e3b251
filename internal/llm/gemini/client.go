package gemini

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

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/llm"
)

// Config for the Gemini client.
type Config struct {
	APIKey  string // if empty, falls back to env GEMINI_API_KEY
	BaseURL string // default https://generativelanguage.googleapis.com/v1beta
	Model   string
	Timeout time.Duration
}

type Client struct {
	cfg    Config
	http   *http.Client
	logger *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("GEMINI_API_KEY")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-2.0-flash"
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
	return constants.ProviderGemini
}

func (c *Client) Complete(ctx context.Context, req llm.Request) (llm.Result, error) {
	start := time.Now()

	model := req.Config.Model
	if model == "" {
		model = c.cfg.Model
	}

	parts := []map[string]any{{"text": req.Prompt}}
	for _, img := range req.Images {
		parts = append(parts, map[string]any{
			"inline_data": map[string]any{
				"mime_type": img.MediaType,
				"data":      base64.StdEncoding.EncodeToString(img.Data),
			},
		})
	}

	body := map[string]any{
		"contents": []map[string]any{
			{"role": "user", "parts": parts},
		},
	}
	if req.Config.SystemPrompt != "" {
		body["system_instruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.Config.SystemPrompt}},
		}
	}
	if req.Config.MaxTokens > 0 {
		body["generationConfig"] = map[string]any{"maxOutputTokens": req.Config.MaxTokens}
	}

	endpoint := fmt.Sprintf("%s/models/%s:generateContent",
		strings.TrimRight(c.cfg.BaseURL, "/"), model)
	raw, err := llm.SendJSON(ctx, c.http, http.MethodPost, endpoint, body, map[string]string{
		"x-goog-api-key": c.cfg.APIKey,
	}, c.logger)
	if err != nil {
		var he *llm.HTTPError
		if errors.As(err, &he) && he.Status == http.StatusTooManyRequests {
			return llm.Result{}, &llm.RateLimitError{RetryAfter: he.RetryAfter, Message: string(he.Body)}
		}
		c.logger.Error("gemini.complete.http_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.Result{}, err
	}

	var resp struct {
		Candidates []struct {
			Content struct {
				Parts []struct {
					Text string `json:"text"`
				} `json:"parts"`
			} `json:"content"`
		} `json:"candidates"`
		UsageMetadata struct {
			PromptTokenCount     int `json:"promptTokenCount"`
			CandidatesTokenCount int `json:"candidatesTokenCount"`
		} `json:"usageMetadata"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return llm.Result{}, fmt.Errorf("decode gemini response: %w", err)
	}
	if len(resp.Candidates) == 0 {
		return llm.Result{}, fmt.Errorf("no candidates in gemini response")
	}

	var texts []string
	for _, p := range resp.Candidates[0].Content.Parts {
		if p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	text := strings.TrimSpace(strings.Join(texts, ""))
	if text == "" {
		return llm.Result{}, fmt.Errorf("empty gemini candidate")
	}

	c.logger.Info("gemini.complete.ok",
		"model", model,
		"input_tokens", resp.UsageMetadata.PromptTokenCount,
		"output_tokens", resp.UsageMetadata.CandidatesTokenCount,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return llm.Result{
		Text:         text,
		InputTokens:  resp.UsageMetadata.PromptTokenCount,
		OutputTokens: resp.UsageMetadata.CandidatesTokenCount,
	}, nil
}

var _ llm.Provider = (*Client)(nil)
