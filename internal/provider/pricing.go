package provider

import "strings"

// CostModel is a model's price in US dollars per million tokens.
type CostModel struct {
	InputPerMTok  float64 `json:"input_per_mtok"`
	OutputPerMTok float64 `json:"output_per_mtok"`
}

// EstimateCost returns the dollar cost of the given token counts.
func (m CostModel) EstimateCost(inputTokens, outputTokens int) float64 {
	return (float64(inputTokens)*m.InputPerMTok + float64(outputTokens)*m.OutputPerMTok) / 1_000_000
}

type priceEntry struct {
	prefix string
	cost   CostModel
}

// Longest prefixes first within each table.
var pricing = map[string][]priceEntry{
	Anthropic: {
		{"claude-opus-4", CostModel{15, 75}},
		{"claude-sonnet-4", CostModel{3, 15}},
		{"claude-haiku-4", CostModel{1, 5}},
		{"claude-3-7-sonnet", CostModel{3, 15}},
		{"claude-3-5-sonnet", CostModel{3, 15}},
		{"claude-3-5-haiku", CostModel{0.8, 4}},
		{"claude-3-opus", CostModel{15, 75}},
		{"claude-3-haiku", CostModel{0.25, 1.25}},
	},
	OpenAI: {
		{"gpt-4o-mini", CostModel{0.15, 0.6}},
		{"gpt-4o", CostModel{2.5, 10}},
		{"gpt-4.1-nano", CostModel{0.1, 0.4}},
		{"gpt-4.1-mini", CostModel{0.4, 1.6}},
		{"gpt-4.1", CostModel{2, 8}},
		{"gpt-4-turbo", CostModel{10, 30}},
	},
}

// fallbackPricing is used for models missing from the tables, so cost
// thresholds err on the expensive side.
var fallbackPricing = CostModel{15, 75}

// LookupPricing returns the cost model for a backend's model.
func LookupPricing(backend, model string) CostModel {
	for _, e := range pricing[backend] {
		if strings.HasPrefix(model, e.prefix) {
			return e.cost
		}
	}
	return fallbackPricing
}
