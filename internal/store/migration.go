package store

import "github.com/context-lens/sidecar/internal/normalizer"

// runImageTokenMigration fixes legacy inflated-image token counts left
// over from an older estimator: any message whose content blocks (or
// nested tool_result content) contain an image block has its tokens
// recomputed, then messagesTokens/totalTokens are rebuilt from scratch.
func (s *Store) runImageTokenMigration() {
	for _, e := range s.entries {
		if !needsImageMigration(e.Messages) {
			continue
		}

		total := 0
		for i := range e.Messages {
			m := &e.Messages[i]
			m.Tokens = normalizer.RecomputeMessageTokens(m, e.Model, s.estimator)
			total += m.Tokens
		}
		e.MessagesTokens = total
		e.TotalTokens = e.SystemTokens + e.ToolsTokens + e.MessagesTokens
	}
}

func needsImageMigration(messages []normalizer.ParsedMessage) bool {
	for _, m := range messages {
		if blocksContainImage(m.ContentBlocks) {
			return true
		}
	}
	return false
}

func blocksContainImage(blocks []normalizer.ContentBlock) bool {
	for _, b := range blocks {
		if b.Kind == normalizer.BlockImage {
			return true
		}
		if b.Kind == normalizer.BlockToolResult && b.ToolResult != nil {
			if blocksContainImage(b.ToolResult.Content) {
				return true
			}
		}
	}
	return false
}
