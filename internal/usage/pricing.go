package usage

import (
	"sort"
	"strings"
)

// ModelPricing defines the cost per million tokens for a model.
type ModelPricing struct {
	InputPerMillion  float64 // Cost per 1M input tokens
	OutputPerMillion float64 // Cost per 1M output tokens
	CachedPerMillion float64 // Cost per 1M cached input tokens
}

// PricingTable maps Vertex Claude model ids to list prices in USD per million tokens.
var PricingTable = map[string]ModelPricing{
	"claude-opus-4":        {15.00, 75.00, 1.50},
	"claude-sonnet-4":      {3.00, 15.00, 0.30},
	"claude-3-7-sonnet":    {3.00, 15.00, 0.30},
	"claude-3-5-sonnet-v2": {3.00, 15.00, 0.30},
	"claude-3-5-sonnet":    {3.00, 15.00, 0.30},
	"claude-3-5-haiku":     {0.80, 4.00, 0.08},
	"claude-3-opus":        {15.00, 75.00, 1.50},
	"claude-3-haiku":       {0.25, 1.25, 0.03},
}

// pricingPrefixes holds the table keys longest first so prefix matches are deterministic.
var pricingPrefixes = func() []string {
	keys := make([]string, 0, len(PricingTable))
	for k := range PricingTable {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if len(keys[i]) != len(keys[j]) {
			return len(keys[i]) > len(keys[j])
		}
		return keys[i] < keys[j]
	})
	return keys
}()

// GetModelPricing returns the pricing for a model. Versioned ids such as
// "claude-sonnet-4@20250514" match their base entry.
func GetModelPricing(model string) (ModelPricing, bool) {
	m := strings.ToLower(strings.TrimSpace(model))
	if pricing, ok := PricingTable[m]; ok {
		return pricing, true
	}
	for _, prefix := range pricingPrefixes {
		if strings.HasPrefix(m, prefix) {
			return PricingTable[prefix], true
		}
	}
	return ModelPricing{}, false
}

// CalculateCost calculates the cost for given token usage.
func CalculateCost(pricing ModelPricing, inputTokens, outputTokens, cachedTokens int64) float64 {
	inputCost := float64(inputTokens) * pricing.InputPerMillion / 1_000_000
	outputCost := float64(outputTokens) * pricing.OutputPerMillion / 1_000_000
	cachedCost := float64(cachedTokens) * pricing.CachedPerMillion / 1_000_000
	return inputCost + outputCost + cachedCost
}

// EstimateCost prices token usage for model, or returns 0 for unknown models.
func EstimateCost(model string, inputTokens, outputTokens, cachedTokens int64) float64 {
	pricing, ok := GetModelPricing(model)
	if !ok {
		return 0
	}
	return CalculateCost(pricing, inputTokens, outputTokens, cachedTokens)
}
