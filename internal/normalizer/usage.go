package normalizer

import (
	"bufio"
	"encoding/json"
	"strings"
)

// anthropicUsagePayload mirrors the subset of Anthropic's usage shape we
// read from both non-streaming responses and message_start/message_delta
// streaming events.
type anthropicUsagePayload struct {
	InputTokens              int `json:"input_tokens"`
	OutputTokens             int `json:"output_tokens"`
	CacheReadInputTokens     int `json:"cache_read_input_tokens"`
	CacheCreationInputTokens int `json:"cache_creation_input_tokens"`
}

type openAIUsagePayload struct {
	PromptTokens            int `json:"prompt_tokens"`
	CompletionTokens        int `json:"completion_tokens"`
	CompletionTokensDetails struct {
		ReasoningTokens int `json:"reasoning_tokens"`
	} `json:"completion_tokens_details"`
	PromptTokensDetails struct {
		CachedTokens int `json:"cached_tokens"`
	} `json:"prompt_tokens_details"`
}

type geminiUsageMetadata struct {
	PromptTokenCount       int `json:"promptTokenCount"`
	CandidatesTokenCount   int `json:"candidatesTokenCount"`
	CachedContentTokenCount int `json:"cachedContentTokenCount"`
	ThoughtsTokenCount     int `json:"thoughtsTokenCount"`
}

// ParseResponseUsage normalizes a captured response body into a Usage.
// stream indicates whether body is an SSE blob ("data: {...}\n\n" lines)
// rather than a single JSON document.
func ParseResponseUsage(body []byte, stream bool) *Usage {
	if stream {
		return parseStreamingUsage(body)
	}
	return parseNonStreamingUsage(body)
}

func parseNonStreamingUsage(body []byte) *Usage {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return &Usage{}
	}

	u := &Usage{Model: stringField(doc, "model")}

	if usage, ok := doc["usage"].(map[string]any); ok {
		applyGenericUsage(u, usage)
	}

	metaDoc := doc
	if inner, ok := doc["response"].(map[string]any); ok {
		metaDoc = inner
	}
	if meta, ok := metaDoc["usageMetadata"].(map[string]any); ok {
		applyGeminiUsage(u, meta)
	}

	if reason := stringField(doc, "stop_reason"); reason != "" {
		u.FinishReasons = append(u.FinishReasons, reason)
	}
	if choices, ok := doc["choices"].([]any); ok {
		for _, raw := range choices {
			if c, ok := raw.(map[string]any); ok {
				if r := stringField(c, "finish_reason"); r != "" {
					u.FinishReasons = append(u.FinishReasons, r)
				}
			}
		}
	}
	if candidates, ok := metaDoc["candidates"].([]any); ok {
		for _, raw := range candidates {
			if c, ok := raw.(map[string]any); ok {
				if r := stringField(c, "finishReason"); r != "" {
					u.FinishReasons = append(u.FinishReasons, r)
				}
			}
		}
	}

	return u
}

func applyGenericUsage(u *Usage, usage map[string]any) {
	b, _ := json.Marshal(usage)

	var a anthropicUsagePayload
	_ = json.Unmarshal(b, &a)
	var o openAIUsagePayload
	_ = json.Unmarshal(b, &o)

	if a.InputTokens > 0 || a.OutputTokens > 0 {
		u.InputTokens = a.InputTokens
		u.OutputTokens = a.OutputTokens
		u.CacheReadTokens = a.CacheReadInputTokens
		u.CacheWriteTokens = a.CacheCreationInputTokens
		return
	}
	if o.PromptTokens > 0 || o.CompletionTokens > 0 {
		u.InputTokens = o.PromptTokens
		u.OutputTokens = o.CompletionTokens
		u.CacheReadTokens = o.PromptTokensDetails.CachedTokens
		u.ThinkingTokens = o.CompletionTokensDetails.ReasoningTokens
	}
}

// applyGeminiUsage applies Gemini's usageMetadata, computing a
// cache-adjusted effective input token count:
// inputTokens = promptTokenCount - cachedContentTokenCount.
func applyGeminiUsage(u *Usage, meta map[string]any) {
	b, _ := json.Marshal(meta)
	var g geminiUsageMetadata
	_ = json.Unmarshal(b, &g)

	u.InputTokens = g.PromptTokenCount - g.CachedContentTokenCount
	if u.InputTokens < 0 {
		u.InputTokens = 0
	}
	u.OutputTokens = g.CandidatesTokenCount
	u.CacheReadTokens = g.CachedContentTokenCount
	u.ThinkingTokens = g.ThoughtsTokenCount
}

// parseStreamingUsage walks an SSE blob line by line, updating running
// totals from whichever dialect's events appear.
func parseStreamingUsage(body []byte) *Usage {
	u := &Usage{Stream: true}

	scanner := bufio.NewScanner(strings.NewReader(string(body)))
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			continue
		}

		var event map[string]any
		if err := json.Unmarshal([]byte(payload), &event); err != nil {
			continue
		}

		applyStreamEvent(u, event)
	}

	return u
}

func applyStreamEvent(u *Usage, event map[string]any) {
	eventType, _ := event["type"].(string)

	switch eventType {
	case "message_start":
		if msg, ok := event["message"].(map[string]any); ok {
			if model := stringField(msg, "model"); model != "" {
				u.Model = model
			}
			if usage, ok := msg["usage"].(map[string]any); ok {
				applyGenericUsage(u, usage)
			}
		}
		return
	case "message_delta":
		if delta, ok := event["delta"].(map[string]any); ok {
			if reason := stringField(delta, "stop_reason"); reason != "" {
				u.FinishReasons = append(u.FinishReasons, reason)
			}
		}
		if usage, ok := event["usage"].(map[string]any); ok {
			// message_delta usage carries only the output token count;
			// preserve whatever input/cache counts message_start set.
			var a anthropicUsagePayload
			b, _ := json.Marshal(usage)
			_ = json.Unmarshal(b, &a)
			if a.OutputTokens > 0 {
				u.OutputTokens = a.OutputTokens
			}
		}
		return
	}

	// OpenAI-style final chunk: top-level "usage" and per-choice
	// "finish_reason", no discriminating "type" field.
	if usage, ok := event["usage"].(map[string]any); ok {
		applyGenericUsage(u, usage)
	}
	if model := stringField(event, "model"); model != "" {
		u.Model = model
	}
	if choices, ok := event["choices"].([]any); ok {
		for _, raw := range choices {
			if c, ok := raw.(map[string]any); ok {
				if r := stringField(c, "finish_reason"); r != "" {
					u.FinishReasons = append(u.FinishReasons, r)
				}
			}
		}
	}

	// Gemini streaming: usageMetadata on every chunk, last one wins.
	if meta, ok := event["usageMetadata"].(map[string]any); ok {
		applyGeminiUsage(u, meta)
	}
	if candidates, ok := event["candidates"].([]any); ok {
		for _, raw := range candidates {
			if c, ok := raw.(map[string]any); ok {
				if r := stringField(c, "finishReason"); r != "" {
					u.FinishReasons = append(u.FinishReasons, r)
				}
			}
		}
	}
}
