// Package tokenpricing estimates token counts for arbitrary request
// content and prices a (model, usage) tuple against static tables.
package tokenpricing

import (
	"encoding/json"
	"math"

	"github.com/context-lens/sidecar/internal/normalizer"
)

// imageTokenFixedEstimate is the flat per-image token count used in place
// of real vision-model token accounting, which varies by resolution and
// provider in ways not worth modeling here.
const imageTokenFixedEstimate = 1600

// Estimator implements normalizer.Estimator. It is safe for concurrent use.
type Estimator struct {
	tokenizers *tokenizerCache
}

// NewEstimator builds an Estimator. vocabDir, if non-empty, is searched
// for per-encoding-family BPE vocabulary files; when present they back
// exact token counts instead of the ceil(len/4) heuristic.
func NewEstimator(vocabDir string) *Estimator {
	return &Estimator{tokenizers: newTokenizerCache(vocabDir)}
}

// EstimateTokens implements normalizer.Estimator.
func (e *Estimator) EstimateTokens(value any, model string) int {
	switch v := value.(type) {
	case string:
		return e.estimateString(v, model)
	case normalizer.ContentBlock:
		if v.Kind == normalizer.BlockImage {
			return imageTokenFixedEstimate
		}
		return e.estimateGeneric(v, model)
	case nil:
		return 0
	default:
		return e.estimateGeneric(v, model)
	}
}

func (e *Estimator) estimateString(s string, model string) int {
	if s == "" {
		return 0
	}
	family := encodingFamilyFor(model)
	if tok := e.tokenizers.get(family); tok != nil {
		if n, ok := tok.count(s); ok {
			return n
		}
	}
	return int(math.Ceil(float64(len(s)) / 4))
}

// estimateGeneric handles non-string values. A value that is itself
// image content costs imageTokenFixedEstimate. Otherwise: strip image
// sub-trees to a sentinel, canonical-JSON stringify what remains, apply
// the string rule, then add imageTokenFixedEstimate per stripped image.
func (e *Estimator) estimateGeneric(value any, model string) int {
	raw, err := json.Marshal(value)
	if err != nil {
		return 0
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return e.estimateString(string(raw), model)
	}
	if m, ok := generic.(map[string]any); ok && looksLikeImage(m) {
		return imageTokenFixedEstimate
	}

	imageCount := 0
	stripped := stripImages(generic, &imageCount)

	canonical, err := json.Marshal(stripped)
	if err != nil {
		canonical = raw
	}

	return e.estimateString(string(canonical), model) + imageCount*imageTokenFixedEstimate
}

// imageSentinel is substituted for any sub-tree that looks like image
// content.
var imageSentinel = map[string]any{"type": "image", "_image": true}

func stripImages(v any, count *int) any {
	switch t := v.(type) {
	case map[string]any:
		if looksLikeImage(t) {
			*count++
			return imageSentinel
		}
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = stripImages(val, count)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = stripImages(val, count)
		}
		return out
	default:
		return v
	}
}

func looksLikeImage(m map[string]any) bool {
	if t, ok := m["type"].(string); ok && t == "image" {
		return true
	}
	if _, ok := m["inlineData"]; ok {
		return true
	}
	if _, ok := m["inline_data"]; ok {
		return true
	}
	if src, ok := m["source"].(map[string]any); ok {
		if t, ok := src["type"].(string); ok && t == "base64" {
			return true
		}
	}
	return false
}

// GetContextLimit returns the context window size for a model, matched by
// longest substring match against the pricing table.
func GetContextLimit(model string) (int, bool) {
	p, ok := lookupPricing(model)
	if !ok {
		return 0, false
	}
	return p.contextLimit, true
}

// Usage is the subset of normalizer.Usage relevant to cost calculation.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// EstimateCost prices a (model, usage) tuple. Cache tokens are charged as
// a provider-specific multiplier of the base input rate. Returns
// (cost, true) or (0, false) for an unrecognized model.
func EstimateCost(model string, usage Usage) (float64, bool) {
	p, ok := lookupPricing(model)
	if !ok {
		return 0, false
	}

	perTokenIn := p.baseInputPerM / 1_000_000
	perTokenOut := p.baseOutputPerM / 1_000_000

	cost := float64(usage.InputTokens) * perTokenIn
	cost += float64(usage.OutputTokens) * perTokenOut
	cost += float64(usage.CacheReadTokens) * perTokenIn * p.cacheReadMul
	cost += float64(usage.CacheWriteTokens) * perTokenIn * p.cacheWriteMul

	return math.Round(cost*1_000_000) / 1_000_000, true
}
