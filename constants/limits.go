package constants

import "time"

// Batch partitioning bounds. A chunk closes the moment adding the next item
// would exceed either bound; items are never split.
const (
	MaxBatchItems = 1000
	MaxBatchBytes = 32 * 1024 * 1024
)

// Batch polling policy.
const (
	BatchPollInterval    = 5 * time.Second
	MaxBatchPollAttempts = 60
)

// Per-row dispatch retry policy. Only rate-limit errors are retried locally.
const (
	MaxDispatchAttempts = 5
	DefaultRetryAfter   = 60 * time.Second
)

// RetentionDays is how long completed jobs are kept before the purge sweep
// removes them.
const RetentionDays = 29

// Token budgeting for the Anthropic backend.
const (
	TokenWindow = 60 * time.Second
	// TokensPerChar: input tokens are estimated as ceil(len(text)/4).
	TokenEstimateDivisor = 4
)

// RequestDelay is the cooperative inter-call floor for backends without a
// token budget.
var RequestDelay = map[Provider]time.Duration{
	ProviderOpenAI: 500 * time.Millisecond,
	ProviderGemini: 1000 * time.Millisecond,
	ProviderOllama: 100 * time.Millisecond,
}
