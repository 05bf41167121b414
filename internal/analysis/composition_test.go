package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/context-lens/sidecar/internal/normalizer"
)

type charEstimator struct{}

func (charEstimator) EstimateTokens(value any, model string) int {
	switch v := value.(type) {
	case string:
		return (len(v) + 3) / 4
	case normalizer.ContentBlock:
		if v.Kind == normalizer.BlockImage {
			return 1600
		}
		return 1
	default:
		return 5
	}
}

func TestComputeCompositionCategorizesAndSorts(t *testing.T) {
	ctx := &normalizer.ContextInfo{
		SystemPrompts: []normalizer.SystemPrompt{{Content: "You are a careful assistant."}},
		Tools:         []any{map[string]any{"name": "bash"}},
		Messages: []normalizer.ParsedMessage{
			{Role: "user", Content: "Please help me write a very long function that does many things"},
			{Role: "assistant", ContentBlocks: []normalizer.ContentBlock{
				{Kind: normalizer.BlockToolUse, ToolUse: &normalizer.ToolUseBlock{Name: "bash", Input: "ls"}},
			}},
			{Role: "user", ContentBlocks: []normalizer.ContentBlock{
				{Kind: normalizer.BlockToolResult, ToolResult: &normalizer.ToolResultBlock{
					Content: []normalizer.ContentBlock{{Kind: normalizer.BlockText, Text: "file1\nfile2"}},
				}},
			}},
			{Role: "user", Content: "<system-reminder>stay focused</system-reminder>"},
		},
	}

	entries := ComputeComposition(ctx, charEstimator{})
	require.NotEmpty(t, entries)

	var sawInjection, sawToolResult bool
	total := 0
	for i, e := range entries {
		total += e.Tokens
		if e.Category == CategorySystemInjection {
			sawInjection = true
		}
		if e.Category == CategoryToolResults {
			sawToolResult = true
		}
		if i > 0 {
			assert.GreaterOrEqual(t, entries[i-1].Tokens, e.Tokens)
		}
	}
	assert.True(t, sawInjection)
	assert.True(t, sawToolResult)
	assert.Greater(t, total, 0)
}

func TestNormalizeCompositionPreservesTotal(t *testing.T) {
	entries := []Entry{
		{Category: CategoryUserText, Tokens: 600},
		{Category: CategorySystemPrompt, Tokens: 300},
		{Category: CategoryToolCalls, Tokens: 100},
	}

	scaled := NormalizeComposition(entries, 2000)

	sum := 0
	for _, e := range scaled {
		sum += e.Tokens
	}
	assert.Equal(t, 2000, sum)
}

func TestNormalizeCompositionNoopWhenEmpty(t *testing.T) {
	assert.Empty(t, NormalizeComposition(nil, 100))
}
