// Package analysis categorizes captured content, scans it for prompt
// injection signatures, and scores conversation health.
package analysis

import (
	"sort"
	"strings"

	"github.com/context-lens/sidecar/internal/normalizer"
)

// Category names a slice of a request's token budget.
type Category string

const (
	CategorySystemPrompt    Category = "system_prompt"
	CategoryToolDefinitions Category = "tool_definitions"
	CategoryToolResults     Category = "tool_results"
	CategoryToolCalls       Category = "tool_calls"
	CategoryAssistantText   Category = "assistant_text"
	CategoryUserText        Category = "user_text"
	CategoryThinking        Category = "thinking"
	CategorySystemInjection Category = "system_injections"
	CategoryImages          Category = "images"
	CategoryCacheMarkers    Category = "cache_markers"
	CategoryOther           Category = "other"
)

// Entry is one category's share of a request's tokens.
type Entry struct {
	Category Category `json:"category"`
	Tokens   int      `json:"tokens"`
	Pct      float64  `json:"pct"`
	Count    int      `json:"count"`
}

const systemReminderMarker = "<system-reminder>"

// ComputeComposition categorizes every element of ctx into the fixed
// category set, tallies tokens per category via est, and returns entries
// sorted by tokens descending.
func ComputeComposition(ctx *normalizer.ContextInfo, est normalizer.Estimator) []Entry {
	totals := map[Category]int{}
	counts := map[Category]int{}

	add := func(cat Category, tokens int) {
		totals[cat] += tokens
		counts[cat]++
	}

	for _, sp := range ctx.SystemPrompts {
		cat := CategorySystemPrompt
		if strings.Contains(sp.Content, systemReminderMarker) {
			cat = CategorySystemInjection
		}
		add(cat, est.EstimateTokens(sp.Content, ctx.Model))
	}

	for _, tool := range ctx.Tools {
		add(CategoryToolDefinitions, est.EstimateTokens(tool, ctx.Model))
	}

	for _, m := range ctx.Messages {
		if len(m.ContentBlocks) == 0 {
			add(categorizeText(m.Role, m.Content), est.EstimateTokens(m.Content, ctx.Model))
			continue
		}
		for _, b := range m.ContentBlocks {
			categorizeBlock(b, m.Role, ctx.Model, est, add)
		}
	}

	total := 0
	for _, t := range totals {
		total += t
	}

	entries := make([]Entry, 0, len(totals))
	for cat, tokens := range totals {
		pct := 0.0
		if total > 0 {
			pct = float64(tokens) / float64(total) * 100
		}
		entries = append(entries, Entry{Category: cat, Tokens: tokens, Pct: pct, Count: counts[cat]})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Tokens != entries[j].Tokens {
			return entries[i].Tokens > entries[j].Tokens
		}
		return entries[i].Category < entries[j].Category
	})

	return entries
}

func categorizeText(role, text string) Category {
	if strings.Contains(text, systemReminderMarker) {
		return CategorySystemInjection
	}
	if role == "assistant" {
		return CategoryAssistantText
	}
	return CategoryUserText
}

func categorizeBlock(b normalizer.ContentBlock, role, model string, est normalizer.Estimator, add func(Category, int)) {
	switch b.Kind {
	case normalizer.BlockImage:
		add(CategoryImages, est.EstimateTokens(b, model))
	case normalizer.BlockToolUse:
		tokens := est.EstimateTokens(b.ToolUse, model)
		if hasCacheControl(b.ToolUse.Input) {
			add(CategoryCacheMarkers, 0)
		}
		add(CategoryToolCalls, tokens)
	case normalizer.BlockToolResult:
		if b.ToolResult == nil {
			return
		}
		if len(b.ToolResult.Content) == 0 {
			add(CategoryToolResults, 0)
			return
		}
		for _, nested := range b.ToolResult.Content {
			categorizeBlock(nested, role, model, est, func(cat Category, tokens int) {
				if cat == CategoryToolCalls || cat == CategoryAssistantText || cat == CategoryUserText {
					cat = CategoryToolResults
				}
				add(cat, tokens)
			})
		}
	case normalizer.BlockThinking:
		add(CategoryThinking, est.EstimateTokens(b.Text, model))
	case normalizer.BlockText, normalizer.BlockInputText:
		add(categorizeText(role, b.Text), est.EstimateTokens(b.Text, model))
	case normalizer.BlockFallback:
		if hasCacheControl(b.Fallback) {
			add(CategoryCacheMarkers, 0)
			return
		}
		add(CategoryOther, est.EstimateTokens(b.Fallback, model))
	default:
		add(CategoryOther, est.EstimateTokens(b.Text, model))
	}
}

func hasCacheControl(v any) bool {
	m, ok := v.(map[string]any)
	if !ok {
		return false
	}
	_, ok = m["cache_control"]
	return ok
}

// NormalizeComposition rescales entries so their token sum equals
// authoritativeTotal, preserving each entry's relative share. The rounding
// residual left by integer truncation is assigned to the largest entry.
func NormalizeComposition(entries []Entry, authoritativeTotal int) []Entry {
	if len(entries) == 0 {
		return entries
	}

	currentTotal := 0
	for _, e := range entries {
		currentTotal += e.Tokens
	}
	if currentTotal == 0 || currentTotal == authoritativeTotal {
		return entries
	}

	scaled := make([]Entry, len(entries))
	scaledSum := 0
	largestIdx := 0
	for i, e := range entries {
		tokens := int(float64(e.Tokens) / float64(currentTotal) * float64(authoritativeTotal))
		scaled[i] = e
		scaled[i].Tokens = tokens
		scaledSum += tokens
		if e.Tokens > entries[largestIdx].Tokens {
			largestIdx = i
		}
	}

	scaled[largestIdx].Tokens += authoritativeTotal - scaledSum

	for i := range scaled {
		if authoritativeTotal > 0 {
			scaled[i].Pct = float64(scaled[i].Tokens) / float64(authoritativeTotal) * 100
		} else {
			scaled[i].Pct = 0
		}
	}

	return scaled
}
