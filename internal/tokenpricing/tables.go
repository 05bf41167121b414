package tokenpricing

import "strings"

// EncodingFamily names a BPE vocabulary family.
type EncodingFamily string

const (
	EncodingCl100kBase EncodingFamily = "cl100k_base"
	EncodingO200kBase  EncodingFamily = "o200k_base"
)

// encodingPrefixes maps a model-name prefix to its encoding family. Ties
// are broken by longest-prefix match in encodingFamilyFor.
var encodingPrefixes = map[string]EncodingFamily{
	"gpt-4o":          EncodingO200kBase,
	"gpt-5":           EncodingO200kBase,
	"o1":              EncodingO200kBase,
	"o3":              EncodingO200kBase,
	"o4":              EncodingO200kBase,
	"gpt-4":           EncodingCl100kBase,
	"gpt-3.5":         EncodingCl100kBase,
	"claude":          EncodingCl100kBase,
	"gemini":          EncodingCl100kBase,
	"text-embedding":  EncodingCl100kBase,
}

// encodingFamilyFor resolves a model string to its tokenizer encoding
// family by longest-prefix match, defaulting to cl100k_base when unknown.
func encodingFamilyFor(model string) EncodingFamily {
	best := ""
	family := EncodingCl100kBase
	for prefix, fam := range encodingPrefixes {
		if strings.HasPrefix(model, prefix) && len(prefix) > len(best) {
			best = prefix
			family = fam
		}
	}
	return family
}

// modelPricing holds per-million-token USD prices. Base input/output are
// always charged; cache multipliers are applied on top of baseInput per
// the provider's documented discount.
type modelPricing struct {
	baseInputPerM  float64
	baseOutputPerM float64
	cacheReadMul   float64
	cacheWriteMul  float64
	contextLimit   int
}

// pricingTable is longest-substring matched against the model string.
// These rates are a point-in-time snapshot kept here so the estimator and
// cost functions have something concrete to compute against; a production
// deployment would refresh this from a provider-published pricing feed.
var pricingTable = map[string]modelPricing{
	"claude-opus-4":      {baseInputPerM: 15, baseOutputPerM: 75, cacheReadMul: 0.10, cacheWriteMul: 0.25, contextLimit: 200_000},
	"claude-sonnet-4":    {baseInputPerM: 3, baseOutputPerM: 15, cacheReadMul: 0.10, cacheWriteMul: 0.25, contextLimit: 200_000},
	"claude-haiku":       {baseInputPerM: 0.8, baseOutputPerM: 4, cacheReadMul: 0.10, cacheWriteMul: 0.25, contextLimit: 200_000},
	"gemini-2.5-pro":     {baseInputPerM: 1.25, baseOutputPerM: 10, cacheReadMul: 0.25, cacheWriteMul: 0, contextLimit: 1_048_576},
	"gemini-2.5-flash":   {baseInputPerM: 0.3, baseOutputPerM: 2.5, cacheReadMul: 0.25, cacheWriteMul: 0, contextLimit: 1_048_576},
	"gemini-2.0-flash":   {baseInputPerM: 0.1, baseOutputPerM: 0.4, cacheReadMul: 0.25, cacheWriteMul: 0, contextLimit: 1_048_576},
	"gpt-5":              {baseInputPerM: 1.25, baseOutputPerM: 10, cacheReadMul: 0.10, cacheWriteMul: 0, contextLimit: 400_000},
	"gpt-4o":             {baseInputPerM: 2.5, baseOutputPerM: 10, cacheReadMul: 0.5, cacheWriteMul: 0, contextLimit: 128_000},
	"gpt-4-turbo":        {baseInputPerM: 10, baseOutputPerM: 30, cacheReadMul: 1, cacheWriteMul: 0, contextLimit: 128_000},
	"gpt-3.5-turbo":      {baseInputPerM: 0.5, baseOutputPerM: 1.5, cacheReadMul: 1, cacheWriteMul: 0, contextLimit: 16_385},
}

func lookupPricing(model string) (modelPricing, bool) {
	best := ""
	var price modelPricing
	found := false
	for prefix, p := range pricingTable {
		if strings.Contains(model, prefix) && len(prefix) > len(best) {
			best = prefix
			price = p
			found = true
		}
	}
	return price, found
}
