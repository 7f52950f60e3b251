package constants

// Provider is the canonical name for a model backend.
type Provider string

// Stable values (store these exact strings in DB and configs).
const (
	ProviderOpenAI    Provider = "openai"
	ProviderAnthropic Provider = "anthropic"
	ProviderGemini    Provider = "gemini"
	ProviderOllama    Provider = "ollama"
)

// Providers holds every supported backend, in display order.
var Providers = []Provider{ProviderOpenAI, ProviderAnthropic, ProviderGemini, ProviderOllama}

// IsValidProvider reports whether p is one of the supported backends.
func IsValidProvider(p Provider) bool {
	for _, known := range Providers {
		if p == known {
			return true
		}
	}
	return false
}

// IsBulkCapable reports whether the backend offers asynchronous batch submission.
// Only Anthropic exposes a message-batches API today.
func IsBulkCapable(p Provider) bool {
	return p == ProviderAnthropic
}

// Pricing holds per-token USD prices; input and output are priced independently.
type Pricing struct {
	InputPerToken  float64
	OutputPerToken float64
}

// ProviderPricing is used for the running cost estimate only, never for gating.
var ProviderPricing = map[Provider]Pricing{
	ProviderOpenAI:    {InputPerToken: 2.50 / 1e6, OutputPerToken: 10.00 / 1e6},
	ProviderAnthropic: {InputPerToken: 3.00 / 1e6, OutputPerToken: 15.00 / 1e6},
	ProviderGemini:    {InputPerToken: 1.25 / 1e6, OutputPerToken: 5.00 / 1e6},
	ProviderOllama:    {}, // local models are free
}
