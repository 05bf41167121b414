package normalizer

import "strings"

// parseAnthropicMessages handles the Anthropic /v1/messages request shape:
// a top-level "system" (string or array of text blocks), a "tools" array,
// and a "messages" array whose content is either a plain string or an
// array of typed content blocks.
func parseAnthropicMessages(body map[string]any, provider Provider, model string, est Estimator) *ContextInfo {
	ctx := &ContextInfo{Model: stringField(body, "model")}

	switch sys := body["system"].(type) {
	case string:
		if sys != "" {
			ctx.SystemPrompts = append(ctx.SystemPrompts, SystemPrompt{Content: sys})
		}
	case []any:
		for _, item := range sys {
			if block, ok := item.(map[string]any); ok {
				if text, ok := block["text"].(string); ok {
					ctx.SystemPrompts = append(ctx.SystemPrompts, SystemPrompt{Content: text})
				}
			}
		}
	}

	if tools, ok := body["tools"].([]any); ok {
		ctx.Tools = tools
	}

	if msgs, ok := body["messages"].([]any); ok {
		for _, raw := range msgs {
			m, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			ctx.Messages = append(ctx.Messages, parseAnthropicMessage(m))
		}
	}

	return ctx
}

func parseAnthropicMessage(m map[string]any) ParsedMessage {
	role, _ := m["role"].(string)
	pm := ParsedMessage{Role: role}

	switch content := m["content"].(type) {
	case string:
		pm.Content = content
	case []any:
		pm.ContentBlocks = parseAnthropicContentArray(content)
		pm.Content = renderBlocksAsText(pm.ContentBlocks)
	}
	return pm
}

func parseAnthropicContentArray(arr []any) []ContentBlock {
	blocks := make([]ContentBlock, 0, len(arr))
	for _, raw := range arr {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		blocks = append(blocks, parseAnthropicBlock(item))
	}
	return blocks
}

func parseAnthropicBlock(item map[string]any) ContentBlock {
	kind, _ := item["type"].(string)
	switch kind {
	case "text":
		text, _ := item["text"].(string)
		return ContentBlock{Kind: BlockText, Text: text}
	case "thinking":
		text, _ := item["thinking"].(string)
		return ContentBlock{Kind: BlockThinking, Text: text}
	case "image":
		return NewImageBlock()
	case "tool_use":
		id, _ := item["id"].(string)
		name, _ := item["name"].(string)
		return ContentBlock{Kind: BlockToolUse, ToolUse: &ToolUseBlock{
			ID: id, Name: name, Input: item["input"],
		}}
	case "tool_result":
		toolUseID, _ := item["tool_use_id"].(string)
		isErr, _ := item["is_error"].(bool)
		tr := &ToolResultBlock{ToolUseID: toolUseID, IsError: isErr}
		switch c := item["content"].(type) {
		case string:
			tr.Content = []ContentBlock{{Kind: BlockText, Text: c}}
		case []any:
			tr.Content = parseAnthropicContentArray(c)
		}
		return ContentBlock{Kind: BlockToolResult, ToolResult: tr}
	default:
		return ContentBlock{Kind: BlockFallback, Fallback: item}
	}
}

// renderBlocksAsText builds a human-scannable string representation of a
// content-block array for display and for the raw-message fallback path —
// it is never used for token counting, which walks the typed blocks
// directly.
func renderBlocksAsText(blocks []ContentBlock) string {
	var sb strings.Builder
	for i, b := range blocks {
		if i > 0 {
			sb.WriteString("\n")
		}
		switch b.Kind {
		case BlockText, BlockInputText, BlockThinking:
			sb.WriteString(b.Text)
		case BlockToolUse:
			if b.ToolUse != nil {
				sb.WriteString("[tool_use:" + b.ToolUse.Name + "]")
			}
		case BlockToolResult:
			sb.WriteString("[tool_result]")
		case BlockImage:
			sb.WriteString("[image]")
		default:
			sb.WriteString("[content]")
		}
	}
	return sb.String()
}

func stringField(m map[string]any, key string) string {
	if v, ok := m[key].(string); ok {
		return v
	}
	return ""
}
