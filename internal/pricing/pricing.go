// Package pricing holds the static per-million-token price table and the
// cost function that the usage ledger applies at insert time.
package pricing

import "strings"

// Rate holds per-million-token USD prices for one model class.
type Rate struct {
	InputPerMillion       float64
	OutputPerMillion      float64
	CacheReadPerMillion   float64
	CacheWritePerMillion  float64
}

// table is keyed by pricing class. RateFor first classifies an effective
// target model name into one of these buckets with ModelClass below, which
// matches case-insensitively on substrings of the name.
var table = map[string]Rate{
	"sonnet-class":          {3, 15, 0.3, 3.75},
	"haiku-class":           {0.8, 4, 0.08, 1},
	"opus-class":            {15, 75, 1.5, 18.75},
	"local":                 {0, 0, 0, 0},
	"openai-sonnet-mirror":  {3.5, 16, 0, 0},
	"openai-haiku-mirror":   {1, 5, 0, 0},
}

const defaultRateKey = "sonnet-class"

// ModelClass maps a free-form model name to a pricing bucket, defaulting to
// the primary-Sonnet price when nothing matches.
func ModelClass(model string) string {
	m := strings.ToLower(model)
	switch {
	case strings.Contains(m, "opus"):
		return "opus-class"
	case strings.Contains(m, "haiku"):
		if strings.Contains(m, "openai") || strings.Contains(m, "gpt") {
			return "openai-haiku-mirror"
		}
		return "haiku-class"
	case strings.Contains(m, "sonnet"):
		if strings.Contains(m, "openai") || strings.Contains(m, "gpt") {
			return "openai-sonnet-mirror"
		}
		return "sonnet-class"
	case strings.Contains(m, "local") || strings.Contains(m, "llama") || strings.Contains(m, "ollama"):
		return "local"
	default:
		return defaultRateKey
	}
}

// RateFor returns the Rate for a model, falling back to the default when the
// model's class is unrecognized.
func RateFor(model string) Rate {
	class := ModelClass(model)
	if r, ok := table[class]; ok {
		return r
	}
	return table[defaultRateKey]
}

// Cost computes cost in USD as a pure function of model and token count
// inputs and the static pricing table.
func Cost(model string, inputTokens, outputTokens, cacheReadTokens, cacheWriteTokens int64) float64 {
	r := RateFor(model)
	return float64(inputTokens)/1_000_000*r.InputPerMillion +
		float64(outputTokens)/1_000_000*r.OutputPerMillion +
		float64(cacheReadTokens)/1_000_000*r.CacheReadPerMillion +
		float64(cacheWriteTokens)/1_000_000*r.CacheWritePerMillion
}

// NominalSavings estimates the USD saved by routing a 10,000-token nominal
// request from one model to another, split evenly between input and output.
func NominalSavings(fromModel, toModel string) float64 {
	const nominalTokens = 10_000
	half := int64(nominalTokens / 2)
	from := Cost(fromModel, half, half, 0, 0)
	to := Cost(toModel, half, half, 0, 0)
	saved := from - to
	if saved < 0 {
		return 0
	}
	return saved
}
