package llm

import (
	"sync"

	"github.com/promptsheet/promptsheet/constants"
)

// Usage accumulates token counts and the running cost estimate across a
// process. It reports aggregate usage only; there is no per-job isolation.
type Usage struct {
	mu           sync.Mutex
	inputTokens  int64
	outputTokens int64
	cost         float64
}

// UsageSnapshot is a point-in-time copy of the counters.
type UsageSnapshot struct {
	InputTokens  int64   `json:"input_tokens"`
	OutputTokens int64   `json:"output_tokens"`
	CostUSD      float64 `json:"cost_usd"`
}

func NewUsage() *Usage {
	return &Usage{}
}

// Add records one successful call's token counts and recomputes the cost
// estimate. Purely additive bookkeeping, never gating.
func (u *Usage) Add(p constants.Provider, inputTokens, outputTokens int) {
	pricing := constants.ProviderPricing[p]
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inputTokens += int64(inputTokens)
	u.outputTokens += int64(outputTokens)
	u.cost += float64(inputTokens)*pricing.InputPerToken + float64(outputTokens)*pricing.OutputPerToken
}

func (u *Usage) Snapshot() UsageSnapshot {
	u.mu.Lock()
	defer u.mu.Unlock()
	return UsageSnapshot{
		InputTokens:  u.inputTokens,
		OutputTokens: u.outputTokens,
		CostUSD:      u.cost,
	}
}

func (u *Usage) Reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.inputTokens, u.outputTokens, u.cost = 0, 0, 0
}
