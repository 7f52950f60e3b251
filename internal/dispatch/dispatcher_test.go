package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/promptsheet/promptsheet/constants"
	"github.com/promptsheet/promptsheet/internal/common"
	"github.com/promptsheet/promptsheet/internal/llm"
)

// fakeProvider scripts per-call outcomes for dispatcher tests.
type fakeProvider struct {
	name  constants.Provider
	calls int
	// script is consumed one entry per call; the last entry repeats.
	script []func(llm.Request) (llm.Result, error)
}

func (f *fakeProvider) Name() constants.Provider { return f.name }

func (f *fakeProvider) Complete(_ context.Context, req llm.Request) (llm.Result, error) {
	step := f.calls
	if step >= len(f.script) {
		step = len(f.script) - 1
	}
	f.calls++
	return f.script[step](req)
}

func ok(text string, in, out int) func(llm.Request) (llm.Result, error) {
	return func(llm.Request) (llm.Result, error) {
		return llm.Result{Text: text, InputTokens: in, OutputTokens: out}, nil
	}
}

func rateLimited(after time.Duration) func(llm.Request) (llm.Result, error) {
	return func(llm.Request) (llm.Result, error) {
		return llm.Result{}, &llm.RateLimitError{RetryAfter: after, Message: "rate limited"}
	}
}

func newTestDispatcher(p *fakeProvider) *Dispatcher {
	d := NewDispatcher(llm.NewUsage(), slog.New(slog.DiscardHandler))
	d.Register(p, nil)
	return d
}

func TestDispatchSuccess(t *testing.T) {
	p := &fakeProvider{name: constants.ProviderOpenAI, script: []func(llm.Request) (llm.Result, error){ok("hello", 12, 5)}}
	d := newTestDispatcher(p)

	got, err := d.Dispatch(context.Background(), Request{
		Prompt: "say hello",
		Config: llm.ModelConfig{Provider: constants.ProviderOpenAI},
	}, 0)
	require.NoError(t, err)
	assert.Equal(t, "hello", got)
	assert.Equal(t, 1, p.calls)

	snap := d.Usage().Snapshot()
	assert.Equal(t, int64(12), snap.InputTokens)
	assert.Equal(t, int64(5), snap.OutputTokens)
}

func TestDispatchRetriesRateLimit(t *testing.T) {
	p := &fakeProvider{name: constants.ProviderOpenAI, script: []func(llm.Request) (llm.Result, error){
		rateLimited(time.Millisecond),
		rateLimited(time.Millisecond),
		ok("finally", 1, 1),
	}}
	d := newTestDispatcher(p)

	got, err := d.Dispatch(context.Background(), Request{
		Prompt: "p",
		Config: llm.ModelConfig{Provider: constants.ProviderOpenAI},
	}, 3)
	require.NoError(t, err)
	assert.Equal(t, "finally", got)
	assert.Equal(t, 3, p.calls)
}

func TestDispatchGivesUpAfterAttemptCap(t *testing.T) {
	p := &fakeProvider{name: constants.ProviderOpenAI, script: []func(llm.Request) (llm.Result, error){
		rateLimited(time.Millisecond),
	}}
	d := newTestDispatcher(p)

	_, err := d.Dispatch(context.Background(), Request{
		Prompt: "p",
		Config: llm.ModelConfig{Provider: constants.ProviderOpenAI},
	}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retries exhausted")
	assert.Equal(t, constants.MaxDispatchAttempts, p.calls)
}

func TestDispatchOtherErrorsAreImmediate(t *testing.T) {
	boom := errors.New("schema mismatch")
	p := &fakeProvider{name: constants.ProviderOpenAI, script: []func(llm.Request) (llm.Result, error){
		func(llm.Request) (llm.Result, error) { return llm.Result{}, boom },
	}}
	d := newTestDispatcher(p)

	_, err := d.Dispatch(context.Background(), Request{
		Prompt: "p",
		Config: llm.ModelConfig{Provider: constants.ProviderOpenAI},
	}, 0)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 1, p.calls)
}

func TestDispatchUnknownProvider(t *testing.T) {
	d := newTestDispatcher(&fakeProvider{name: constants.ProviderOpenAI, script: []func(llm.Request) (llm.Result, error){ok("x", 0, 0)}})

	_, err := d.Dispatch(context.Background(), Request{
		Prompt: "p",
		Config: llm.ModelConfig{Provider: "mystery"},
	}, 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestDispatchEmptyPrompt(t *testing.T) {
	d := newTestDispatcher(&fakeProvider{name: constants.ProviderOpenAI, script: []func(llm.Request) (llm.Result, error){ok("x", 0, 0)}})

	_, err := d.Dispatch(context.Background(), Request{
		Config: llm.ModelConfig{Provider: constants.ProviderOpenAI},
	}, 0)
	assert.ErrorIs(t, err, common.ErrInvalidInput)
}

func TestDispatchCanceledContext(t *testing.T) {
	p := &fakeProvider{name: constants.ProviderOpenAI, script: []func(llm.Request) (llm.Result, error){ok("x", 0, 0)}}
	d := newTestDispatcher(p)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := d.Dispatch(ctx, Request{
		Prompt: "p",
		Config: llm.ModelConfig{Provider: constants.ProviderOpenAI},
	}, 0)
	assert.ErrorIs(t, err, common.ErrStopped)
	assert.Zero(t, p.calls)
}

func TestDispatchTokenBudgetFailFast(t *testing.T) {
	p := &fakeProvider{name: constants.ProviderAnthropic, script: []func(llm.Request) (llm.Result, error){ok("x", 0, 0)}}
	d := NewDispatcher(llm.NewUsage(), slog.New(slog.DiscardHandler))
	d.Register(p, budgetFunc(func(context.Context, string) error {
		return errors.New("request exceeds token-per-minute ceiling")
	}))

	_, err := d.Dispatch(context.Background(), Request{
		Prompt: "huge",
		Config: llm.ModelConfig{Provider: constants.ProviderAnthropic},
	}, 0)
	require.Error(t, err)
	assert.Zero(t, p.calls)
}

type budgetFunc func(ctx context.Context, text string) error

func (f budgetFunc) Wait(ctx context.Context, text string) error { return f(ctx, text) }
