package dispatch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/common"
	"github.com/promptsheet/promptsheet/internal/llm"
	"github.com/promptsheet/promptsheet/internal/ratelimit"
)

// Request is one unit of work: an already-expanded prompt aimed at one output
// column.
type Request struct {
	Prompt       string
	Config       llm.ModelConfig
	ImageURLs    []string
	TargetColumn string
}

// Dispatcher performs rate-limited, retried calls against a registered set of
// backends and normalizes the outcome to a single result string.
type Dispatcher struct {
	providers map[constants.Provider]llm.Provider
	budgets   map[constants.Provider]ratelimit.Budget
	usage     *llm.Usage
	http      *http.Client
	logger    *slog.Logger
}

func NewDispatcher(usage *llm.Usage, logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if usage == nil {
		usage = llm.NewUsage()
	}
	return &Dispatcher{
		providers: make(map[constants.Provider]llm.Provider),
		budgets:   make(map[constants.Provider]ratelimit.Budget),
		usage:     usage,
		http:      &http.Client{Timeout: 30 * time.Second},
		logger:    logger,
	}
}

// Register wires a backend and its rate budget into the dispatcher.
func (d *Dispatcher) Register(p llm.Provider, budget ratelimit.Budget) {
	d.providers[p.Name()] = p
	d.budgets[p.Name()] = budget
}

// Usage exposes the process-wide accumulator for reporting.
func (d *Dispatcher) Usage() *llm.Usage {
	return d.usage
}

// Dispatch runs one request to completion. Rate-limit errors from the backend
// are retried with the provider-suggested wait up to the attempt cap; every
// other failure surfaces immediately. A canceled context surfaces as
// common.ErrStopped, which callers treat as a silent halt, not a failure.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request, rowIndex int) (string, error) {
	if req.Prompt == "" {
		return "", common.NewAppError("DISPATCH_ERROR", "prompt is required", common.ErrInvalidInput)
	}
	provider, ok := d.providers[req.Config.Provider]
	if !ok {
		return "", common.NewAppError("DISPATCH_ERROR",
			fmt.Sprintf("unsupported backend %q", req.Config.Provider), common.ErrInvalidInput)
	}

	call := llm.Request{Prompt: req.Prompt, Config: req.Config}
	call.Config.Model, call.Images = d.resolveVision(ctx, req, rowIndex)

	var lastErr error
	for attempt := 1; attempt <= constants.MaxDispatchAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", common.ErrStopped
		}

		if budget := d.budgets[req.Config.Provider]; budget != nil {
			if err := budget.Wait(ctx, req.Prompt); err != nil {
				if common.IsStopped(err) || errors.Is(err, context.Canceled) {
					return "", common.ErrStopped
				}
				// a request that alone exceeds the token ceiling can never
				// succeed, so fail without calling
				return "", err
			}
		}

		result, err := provider.Complete(ctx, call)
		if err == nil {
			d.usage.Add(req.Config.Provider, result.InputTokens, result.OutputTokens)
			d.logger.Info("dispatch.call.ok",
				"provider", req.Config.Provider,
				"row", rowIndex,
				"column", req.TargetColumn,
				"attempt", attempt,
			)
			return result.Text, nil
		}
		if ctx.Err() != nil || common.IsStopped(err) {
			return "", common.ErrStopped
		}

		var rle *llm.RateLimitError
		if !errors.As(err, &rle) {
			d.logger.Error("dispatch.call.failed",
				"provider", req.Config.Provider,
				"row", rowIndex,
				"column", req.TargetColumn,
				"error", err,
			)
			return "", err
		}

		lastErr = err
		wait := rle.RetryAfter
		if wait <= 0 {
			wait = constants.DefaultRetryAfter
		}
		d.logger.Warn("dispatch.call.rate_limited",
			"provider", req.Config.Provider,
			"row", rowIndex,
			"attempt", attempt,
			"retry_after", wait,
		)
		select {
		case <-ctx.Done():
			return "", common.ErrStopped
		case <-time.After(wait):
		}
	}

	return "", fmt.Errorf("rate limit retries exhausted after %d attempts: %w",
		constants.MaxDispatchAttempts, lastErr)
}

// resolveVision returns the model and inline images to use. The vision path is
// taken only when the prompt asks for it, a vision model is configured, and at
// least one image URL validates; otherwise the request silently falls back to
// text-only. The original behavior is silent, so the fallback is only logged.
func (d *Dispatcher) resolveVision(ctx context.Context, req Request, rowIndex int) (string, []llm.Image) {
	if !req.Config.VisionEnabled || req.Config.VisionModel == "" || len(req.ImageURLs) == 0 {
		return req.Config.Model, nil
	}

	images := llm.FetchImages(ctx, d.http, req.ImageURLs, d.logger)
	if len(images) == 0 {
		d.logger.Warn("dispatch.vision.no_valid_images",
			"row", rowIndex,
			"candidates", len(req.ImageURLs),
			"hint", "falling back to text-only",
		)
		return req.Config.Model, nil
	}
	return req.Config.VisionModel, images
}
