package model

import (
	"github.com/cloudwego/eino/schema"
)

// Pricing defines USD cost per 1M tokens for input/output.
type Pricing struct {
	InputPerM  float64
	OutputPerM float64
}

// defaultPricing provides hardcoded USD pricing per 1M tokens (text tokens).
var defaultPricing = map[string]Pricing{
	"gemini-2.5-pro":        {InputPerM: 1.25, OutputPerM: 10.00},
	"gemini-2.5-flash":      {InputPerM: 0.30, OutputPerM: 2.50},
	"gemini-2.5-flash-lite": {InputPerM: 0.10, OutputPerM: 0.40},
}

// ResolvePricing returns hardcoded pricing for a model, zero if unknown.
func ResolvePricing(model string) Pricing {
	return defaultPricing[model]
}

// ComputeCost converts token usage to USD cost using per-1M Pricing.
func ComputeCost(usage *schema.TokenUsage, p Pricing) (inputCost, outputCost, total float64) {
	if usage == nil {
		return 0, 0, 0
	}
	inputCost = p.InputPerM * float64(usage.PromptTokens) / 1_000_000.0
	outputCost = p.OutputPerM * float64(usage.CompletionTokens) / 1_000_000.0
	total = inputCost + outputCost
	return
}

// EstimateTokens is the crude chars/4 approximation used when the provider
// reports no usage.
func EstimateTokens(promptChars, responseChars int) int {
	n := promptChars + responseChars
	if n <= 0 {
		return 0
	}
	return (n + 3) / 4
}

// TokensFor returns the provider-reported total for a response when present,
// otherwise the chars/4 estimate.
func TokensFor(out *schema.Message, promptChars int) int {
	if out == nil {
		return EstimateTokens(promptChars, 0)
	}
	if out.ResponseMeta != nil && out.ResponseMeta.Usage != nil && out.ResponseMeta.Usage.TotalTokens > 0 {
		return out.ResponseMeta.Usage.TotalTokens
	}
	return EstimateTokens(promptChars, len(out.Content))
}

// PromptChars counts the characters sent to the model for a call.
func PromptChars(msgs []*schema.Message) int {
	n := 0
	for _, m := range msgs {
		if m != nil {
			n += len(m.Content)
		}
	}
	return n
}
