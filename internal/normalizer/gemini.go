package normalizer

// parseGemini handles Gemini's generateContent/streamGenerateContent
// request shape, including the Code Assist wrapper (body.request) used by
// the Gemini CLI and Cloud Code Assist clients.
func parseGemini(body map[string]any, provider Provider, model string, est Estimator) *ContextInfo {
	if wrapped, ok := body["request"].(map[string]any); ok {
		body = wrapped
	}

	ctx := &ContextInfo{Model: stringField(body, "model")}

	if sysInstr, ok := body["systemInstruction"].(map[string]any); ok {
		if parts, ok := sysInstr["parts"].([]any); ok {
			for _, raw := range parts {
				if part, ok := raw.(map[string]any); ok {
					if text, ok := part["text"].(string); ok {
						ctx.SystemPrompts = append(ctx.SystemPrompts, SystemPrompt{Content: text})
					}
				}
			}
		}
	}

	if tools, ok := body["tools"].([]any); ok {
		for _, raw := range tools {
			toolEntry, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			if decls, ok := toolEntry["functionDeclarations"].([]any); ok {
				ctx.Tools = append(ctx.Tools, decls...)
			} else {
				ctx.Tools = append(ctx.Tools, toolEntry)
			}
		}
	}

	if contents, ok := body["contents"].([]any); ok {
		for _, raw := range contents {
			c, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			ctx.Messages = append(ctx.Messages, parseGeminiContent(c))
		}
	}

	return ctx
}

func parseGeminiContent(c map[string]any) ParsedMessage {
	role, _ := c["role"].(string)
	if role == "model" {
		role = "assistant"
	}
	if role == "" {
		role = "user"
	}

	pm := ParsedMessage{Role: role}
	if parts, ok := c["parts"].([]any); ok {
		for _, raw := range parts {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			pm.ContentBlocks = append(pm.ContentBlocks, parseGeminiPart(part))
		}
		pm.Content = renderBlocksAsText(pm.ContentBlocks)
	}
	return pm
}

func parseGeminiPart(part map[string]any) ContentBlock {
	if text, ok := part["text"].(string); ok {
		return ContentBlock{Kind: BlockText, Text: text}
	}
	if fc, ok := part["functionCall"].(map[string]any); ok {
		name, _ := fc["name"].(string)
		return ContentBlock{Kind: BlockToolUse, ToolUse: &ToolUseBlock{Name: name, Input: fc["args"]}}
	}
	if fr, ok := part["functionResponse"].(map[string]any); ok {
		name, _ := fr["name"].(string)
		response := fr["response"]
		if respMap, ok := response.(map[string]any); ok {
			if out, ok := respMap["output"].(string); ok {
				response = out
			} else if errMsg, ok := respMap["error"].(string); ok {
				response = errMsg
			}
		}
		var content []ContentBlock
		if text, ok := response.(string); ok {
			content = []ContentBlock{{Kind: BlockText, Text: text}}
		} else {
			content = []ContentBlock{{Kind: BlockFallback, Fallback: response}}
		}
		return ContentBlock{Kind: BlockToolResult, ToolResult: &ToolResultBlock{ToolUseID: name, Content: content}}
	}
	if _, ok := part["inlineData"].(map[string]any); ok {
		return NewImageBlock()
	}
	if _, ok := part["fileData"].(map[string]any); ok {
		return NewImageBlock()
	}
	return ContentBlock{Kind: BlockFallback, Fallback: part}
}
