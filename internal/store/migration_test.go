package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/context-lens/sidecar/internal/normalizer"
	"github.com/context-lens/sidecar/internal/tokenpricing"
)

func TestRunImageTokenMigrationRecomputesAffectedEntriesOnly(t *testing.T) {
	est := tokenpricing.NewEstimator("")

	imageBlock := normalizer.ContentBlock{Kind: normalizer.BlockImage, Image: &normalizer.ImageBlock{Placeholder: "[image omitted]"}}
	textEntry := &CapturedEntry{
		Model:          "claude-sonnet-4-20250514",
		SystemTokens:   10,
		ToolsTokens:    5,
		Messages:       []normalizer.ParsedMessage{{Role: "user", Content: "plain text, no images here"}},
		MessagesTokens: 9999, // deliberately wrong; should be left untouched since no image block
	}
	textEntry.TotalTokens = textEntry.SystemTokens + textEntry.ToolsTokens + textEntry.MessagesTokens

	imageEntry := &CapturedEntry{
		Model:        "claude-sonnet-4-20250514",
		SystemTokens: 10,
		ToolsTokens:  0,
		Messages: []normalizer.ParsedMessage{
			{Role: "user", ContentBlocks: []normalizer.ContentBlock{imageBlock}, Tokens: 999999},
		},
	}
	imageEntry.MessagesTokens = 999999
	imageEntry.TotalTokens = imageEntry.SystemTokens + imageEntry.ToolsTokens + imageEntry.MessagesTokens

	s := &Store{
		estimator: est,
		entries: map[uint64]*CapturedEntry{
			1: textEntry,
			2: imageEntry,
		},
	}

	s.runImageTokenMigration()

	assert.Equal(t, 9999, textEntry.MessagesTokens, "entry without images should be untouched")

	assert.Equal(t, 1600, imageEntry.Messages[0].Tokens, "image tokens should be recomputed to the fixed estimate")
	assert.Equal(t, 1600, imageEntry.MessagesTokens)
	assert.Equal(t, imageEntry.SystemTokens+imageEntry.ToolsTokens+imageEntry.MessagesTokens, imageEntry.TotalTokens)
}

func TestNeedsImageMigrationDetectsNestedToolResultImages(t *testing.T) {
	nested := normalizer.ContentBlock{
		Kind: normalizer.BlockToolResult,
		ToolResult: &normalizer.ToolResultBlock{
			ToolUseID: "tu_1",
			Content: []normalizer.ContentBlock{
				{Kind: normalizer.BlockImage, Image: &normalizer.ImageBlock{Placeholder: "[image omitted]"}},
			},
		},
	}
	messages := []normalizer.ParsedMessage{{Role: "user", ContentBlocks: []normalizer.ContentBlock{nested}}}
	assert.True(t, needsImageMigration(messages))

	plain := []normalizer.ParsedMessage{{Role: "user", Content: "no images anywhere"}}
	assert.False(t, needsImageMigration(plain))
}
