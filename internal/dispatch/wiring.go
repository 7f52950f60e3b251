package dispatch

import (
	"log/slog"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/common"
	"github.com/promptsheet/promptsheet/internal/llm"
	"github.com/promptsheet/promptsheet/internal/llm/anthropic"
	"github.com/promptsheet/promptsheet/internal/llm/gemini"
	"github.com/promptsheet/promptsheet/internal/llm/ollama"
	"github.com/promptsheet/promptsheet/internal/llm/openai"
	"github.com/promptsheet/promptsheet/internal/ratelimit"
)

// FromConfig builds a dispatcher with all four backends registered. The
// shared anthropic client is passed in so the batch coordinator can reuse
// the same instance.
func FromConfig(cfg *common.Config, anthropicClient *anthropic.Client, logger *slog.Logger) *Dispatcher {
	d := NewDispatcher(llm.NewUsage(), logger)
	d.Register(openai.NewClient(openai.Config{
		APIKey:  cfg.OpenAI.APIKey,
		BaseURL: cfg.OpenAI.BaseURL,
		Model:   cfg.OpenAI.Model,
		Timeout: cfg.OpenAI.Timeout,
	}, logger), ratelimit.NewDelayBudget(constants.RequestDelay[constants.ProviderOpenAI]))
	d.Register(anthropicClient, ratelimit.NewTokenBudget(cfg.Anthropic.TokensPerMinute, constants.TokenWindow))
	d.Register(gemini.NewClient(gemini.Config{
		APIKey:  cfg.Gemini.APIKey,
		BaseURL: cfg.Gemini.BaseURL,
		Model:   cfg.Gemini.Model,
		Timeout: cfg.Gemini.Timeout,
	}, logger), ratelimit.NewDelayBudget(constants.RequestDelay[constants.ProviderGemini]))
	d.Register(ollama.NewClient(ollama.Config{
		BaseURL: cfg.Ollama.BaseURL,
		Model:   cfg.Ollama.Model,
		Timeout: cfg.Ollama.Timeout,
	}, logger), ratelimit.NewDelayBudget(constants.RequestDelay[constants.ProviderOllama]))
	return d
}
