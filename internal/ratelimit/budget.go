package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/promptsheet/promptsheet/internal/llm"
)

// ErrTokenBudget is returned without waiting when a single request's estimated
// tokens alone exceed the per-minute ceiling. Waiting could never help.
var ErrTokenBudget = errors.New("request exceeds token-per-minute ceiling")

// Budget gates a backend call. Wait suspends the caller until the call fits
// the backend's budget, or fails fast when it never can.
type Budget interface {
	Wait(ctx context.Context, text string) error
}

// DelayBudget enforces a minimum inter-call delay. Cooperative, not precise.
type DelayBudget struct {
	mu    sync.Mutex
	delay time.Duration
	last  time.Time
}

func NewDelayBudget(delay time.Duration) *DelayBudget {
	return &DelayBudget{delay: delay}
}

func (b *DelayBudget) Wait(ctx context.Context, _ string) error {
	b.mu.Lock()
	wait := b.delay - time.Since(b.last)
	b.last = time.Now()
	if wait > 0 {
		b.last = b.last.Add(wait)
	}
	b.mu.Unlock()

	if wait <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// TokenBudget tracks estimated input tokens consumed in the current window and
// suspends callers that would push the running count past the ceiling until
// the window rolls over.
type TokenBudget struct {
	ceiling int
	window  time.Duration

	mu          sync.Mutex
	used        int
	windowStart time.Time
}

func NewTokenBudget(ceiling int, window time.Duration) *TokenBudget {
	return &TokenBudget{ceiling: ceiling, window: window}
}

func (b *TokenBudget) Wait(ctx context.Context, text string) error {
	est := llm.EstimateTokens(text)
	if est > b.ceiling {
		return fmt.Errorf("%w: estimated %d tokens, ceiling %d", ErrTokenBudget, est, b.ceiling)
	}

	for {
		b.mu.Lock()
		now := time.Now()
		if b.windowStart.IsZero() || now.Sub(b.windowStart) >= b.window {
			b.windowStart = now
			b.used = 0
		}
		if b.used+est <= b.ceiling {
			b.used += est
			b.mu.Unlock()
			return nil
		}
		wait := b.window - now.Sub(b.windowStart)
		b.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}
