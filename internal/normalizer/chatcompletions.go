package normalizer

// parseChatCompletions handles the OpenAI Chat Completions request shape.
// "system" and "developer" roled messages are pulled out into
// SystemPrompts; everything else stays in Messages. Legacy "functions" is
// accepted alongside "tools".
func parseChatCompletions(body map[string]any, provider Provider, model string, est Estimator) *ContextInfo {
	ctx := &ContextInfo{Model: stringField(body, "model")}

	if tools, ok := body["tools"].([]any); ok {
		ctx.Tools = tools
	} else if fns, ok := body["functions"].([]any); ok {
		ctx.Tools = fns
	}

	msgs, ok := body["messages"].([]any)
	if !ok {
		return ctx
	}

	for _, raw := range msgs {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		role, _ := m["role"].(string)

		if role == "system" || role == "developer" {
			if content, ok := m["content"].(string); ok && content != "" {
				ctx.SystemPrompts = append(ctx.SystemPrompts, SystemPrompt{Content: content})
				continue
			}
		}

		ctx.Messages = append(ctx.Messages, parseAnthropicMessage(m))
	}

	return ctx
}
