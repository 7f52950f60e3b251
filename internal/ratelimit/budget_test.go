package ratelimit

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelayBudgetFirstCallImmediate(t *testing.T) {
	b := NewDelayBudget(time.Hour)
	start := time.Now()
	require.NoError(t, b.Wait(context.Background(), "x"))
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestDelayBudgetSpacesCalls(t *testing.T) {
	b := NewDelayBudget(30 * time.Millisecond)
	require.NoError(t, b.Wait(context.Background(), "x"))

	start := time.Now()
	require.NoError(t, b.Wait(context.Background(), "x"))
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestDelayBudgetCanceled(t *testing.T) {
	b := NewDelayBudget(time.Hour)
	require.NoError(t, b.Wait(context.Background(), "x"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := b.Wait(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestTokenBudgetFailsFastWhenRequestCannotFit(t *testing.T) {
	b := NewTokenBudget(10, time.Minute)
	// well over 10 estimated tokens; waiting could never help
	err := b.Wait(context.Background(), strings.Repeat("a", 1000))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTokenBudget)
}

func TestTokenBudgetAdmitsWithinCeiling(t *testing.T) {
	b := NewTokenBudget(100, time.Minute)
	start := time.Now()
	for i := 0; i < 4; i++ {
		// 25 estimated tokens each, exactly filling the window
		require.NoError(t, b.Wait(context.Background(), strings.Repeat("a", 100)))
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestTokenBudgetBlocksUntilWindowRollsOver(t *testing.T) {
	b := NewTokenBudget(25, 40*time.Millisecond)
	require.NoError(t, b.Wait(context.Background(), strings.Repeat("a", 100)))

	start := time.Now()
	require.NoError(t, b.Wait(context.Background(), strings.Repeat("a", 100)))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
}

func TestTokenBudgetCanceledWhileWaiting(t *testing.T) {
	b := NewTokenBudget(25, time.Hour)
	require.NoError(t, b.Wait(context.Background(), strings.Repeat("a", 100)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := b.Wait(ctx, strings.Repeat("a", 100))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
