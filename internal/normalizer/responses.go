package normalizer

import (
	"encoding/json"
	"strings"
)

// parseResponsesOrChatGPT handles both the OpenAI Responses API and the
// ChatGPT backend-api shape. Both use "instructions"/"system" for system
// prompts and either a typed "input" item array or a plain "messages"
// array for the conversation.
func parseResponsesOrChatGPT(body map[string]any, provider Provider, model string, est Estimator) *ContextInfo {
	ctx := &ContextInfo{Model: stringField(body, "model")}

	if instr := stringField(body, "instructions"); instr != "" {
		ctx.SystemPrompts = append(ctx.SystemPrompts, SystemPrompt{Content: instr})
	}
	if sys := stringField(body, "system"); sys != "" {
		ctx.SystemPrompts = append(ctx.SystemPrompts, SystemPrompt{Content: sys})
	}

	switch input := body["input"].(type) {
	case string:
		if input != "" {
			ctx.Messages = append(ctx.Messages, ParsedMessage{Role: "user", Content: input})
		}
	case []any:
		for _, raw := range input {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if m, ok := parseResponsesItem(item); ok {
				ctx.Messages = append(ctx.Messages, m)
			}
		}
	default:
		if msgs, ok := body["messages"].([]any); ok {
			for _, raw := range msgs {
				if m, ok := raw.(map[string]any); ok {
					ctx.Messages = append(ctx.Messages, parseAnthropicMessage(m))
				}
			}
		}
	}

	return ctx
}

// parseResponsesItem dispatches on the typed item's "type" field. Returns
// ok=false for item shapes that carry no representable message content.
func parseResponsesItem(item map[string]any) (ParsedMessage, bool) {
	itemType, _ := item["type"].(string)

	switch itemType {
	case "message", "":
		role, _ := item["role"].(string)
		if role == "" {
			role = "user"
		}
		switch content := item["content"].(type) {
		case string:
			return ParsedMessage{Role: role, Content: content}, true
		case []any:
			blocks := parseResponsesContentArray(content)
			return ParsedMessage{Role: role, ContentBlocks: blocks, Content: renderBlocksAsText(blocks)}, true
		}
		return ParsedMessage{}, false

	case "function_call", "custom_tool_call":
		name, _ := item["name"].(string)
		id, _ := item["call_id"].(string)
		var input any
		if args, ok := item["arguments"].(string); ok {
			var parsed any
			if json.Unmarshal([]byte(args), &parsed) == nil {
				input = parsed
			} else {
				input = args
			}
		} else {
			input = item["arguments"]
		}
		block := ContentBlock{Kind: BlockToolUse, ToolUse: &ToolUseBlock{ID: id, Name: name, Input: input}}
		return ParsedMessage{Role: "assistant", ContentBlocks: []ContentBlock{block}, Content: renderBlocksAsText([]ContentBlock{block})}, true

	case "function_call_output", "custom_tool_call_output":
		id, _ := item["call_id"].(string)
		var content []ContentBlock
		switch out := item["output"].(type) {
		case string:
			content = []ContentBlock{{Kind: BlockText, Text: out}}
		case []any:
			content = parseResponsesContentArray(out)
		}
		block := ContentBlock{Kind: BlockToolResult, ToolResult: &ToolResultBlock{ToolUseID: id, Content: content}}
		return ParsedMessage{Role: "user", ContentBlocks: []ContentBlock{block}, Content: renderBlocksAsText([]ContentBlock{block})}, true

	case "reasoning":
		var parts []string
		if summary, ok := item["summary"].([]any); ok {
			for _, raw := range summary {
				if s, ok := raw.(map[string]any); ok {
					if text, ok := s["text"].(string); ok {
						parts = append(parts, text)
					}
				}
			}
		}
		text := strings.Join(parts, "\n")
		block := ContentBlock{Kind: BlockThinking, Text: text}
		return ParsedMessage{Role: "assistant", ContentBlocks: []ContentBlock{block}, Content: text}, true

	case "output_text", "input_text":
		kind := BlockText
		if itemType == "input_text" {
			kind = BlockInputText
		}
		text, _ := item["text"].(string)
		block := ContentBlock{Kind: kind, Text: text}
		role := "assistant"
		if itemType == "input_text" {
			role = "user"
		}
		return ParsedMessage{Role: role, ContentBlocks: []ContentBlock{block}, Content: text}, true

	default:
		return ParsedMessage{}, false
	}
}

func parseResponsesContentArray(arr []any) []ContentBlock {
	blocks := make([]ContentBlock, 0, len(arr))
	for _, raw := range arr {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		itemType, _ := item["type"].(string)
		switch itemType {
		case "output_text", "input_text", "text":
			text, _ := item["text"].(string)
			kind := BlockText
			if itemType == "input_text" {
				kind = BlockInputText
			}
			blocks = append(blocks, ContentBlock{Kind: kind, Text: text})
		case "input_image", "output_image", "image":
			blocks = append(blocks, NewImageBlock())
		default:
			blocks = append(blocks, ContentBlock{Kind: BlockFallback, Fallback: item})
		}
	}
	return blocks
}

// isResponsesBoilerplate reports whether an input_text item is one of the
// Responses API's boilerplate preambles (AGENTS.md dumps, environment
// blocks) that should be skipped when hunting for the "first real user
// prompt" used by the fingerprint and label heuristics.
func isResponsesBoilerplate(text string) bool {
	return IsBoilerplateText(text)
}

// IsBoilerplateText is the exported form of isResponsesBoilerplate, used
// by internal/convo to locate the first real user prompt in a message set.
func IsBoilerplateText(text string) bool {
	trimmed := strings.TrimSpace(text)
	return strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "<environment")
}
