package llm

import "github.com/promptsheet/promptsheet/constants"

// EstimateTokens approximates the provider token count of text as
// ceil(len/4). Good enough for budget tracking; providers report exact usage
// after the fact.
func EstimateTokens(text string) int {
	n := len(text)
	if n == 0 {
		return 0
	}
	return (n + constants.TokenEstimateDivisor - 1) / constants.TokenEstimateDivisor
}
