package normalizer

import (
	"encoding/json"
)

// Estimator counts tokens in an arbitrary value for a given model. The
// normalizer depends only on this interface (implemented by
// internal/tokenpricing) to avoid importing the pricing package, which in
// turn imports normalizer's types.
type Estimator interface {
	EstimateTokens(value any, model string) int
}

// ParseFunc parses a raw JSON request body for one (provider, apiFormat)
// combination into a ContextInfo with token tallies filled in.
type ParseFunc func(body map[string]any, provider Provider, model string, est Estimator) *ContextInfo

// FormatKey identifies a registered parser.
type FormatKey struct {
	Provider  Provider
	APIFormat APIFormat
}

// registry maps (provider, apiFormat) to its parser. Declared as a package
// var initialized in init() so new formats can be added without touching
// the dispatch logic in ParseRequest.
var registry = map[FormatKey]ParseFunc{}

func register(p Provider, f APIFormat, fn ParseFunc) {
	registry[FormatKey{Provider: p, APIFormat: f}] = fn
}

func init() {
	register(ProviderAnthropic, FormatAnthropicMessages, parseAnthropicMessages)
	register(ProviderOpenAI, FormatResponses, parseResponsesOrChatGPT)
	register(ProviderChatGPT, FormatChatGPTBackend, parseResponsesOrChatGPT)
	register(ProviderGemini, FormatGemini, parseGemini)
	register(ProviderVertex, FormatGemini, parseGemini)
	register(ProviderOpenAI, FormatChatCompletions, parseChatCompletions)
}

// ParseRequest parses rawBody (JSON) for the given provider/apiFormat pair
// and model, returning a fully token-counted ContextInfo. If rawBody is
// not valid JSON, callers should use ParseRaw instead.
func ParseRequest(rawBody []byte, provider Provider, apiFormat APIFormat, model string, est Estimator) *ContextInfo {
	var body map[string]any
	if err := json.Unmarshal(rawBody, &body); err != nil {
		return ParseRaw(rawBody)
	}

	fn, ok := registry[FormatKey{Provider: provider, APIFormat: apiFormat}]
	if !ok {
		fn = parseGenericFallback
	}

	ctx := fn(body, provider, model, est)
	ctx.Provider = provider
	ctx.APIFormat = apiFormat
	if ctx.Model == "" {
		ctx.Model = model
	}
	finalizeTokens(ctx, est)
	return ctx
}

// finalizeTokens computes the token tallies for a freshly parsed
// ContextInfo, enforcing the TotalTokens == System + Tools + Messages
// invariant and MessagesTokens == sum(msg.Tokens).
func finalizeTokens(c *ContextInfo, est Estimator) {
	systemTokens := 0
	for _, sp := range c.SystemPrompts {
		systemTokens += est.EstimateTokens(sp.Content, c.Model)
	}
	c.SystemTokens = systemTokens

	toolsTokens := 0
	for _, tool := range c.Tools {
		toolsTokens += est.EstimateTokens(tool, c.Model)
	}
	c.ToolsTokens = toolsTokens

	messagesTokens := 0
	for i := range c.Messages {
		m := &c.Messages[i]
		if m.Tokens == 0 {
			m.Tokens = RecomputeMessageTokens(m, c.Model, est)
		}
		messagesTokens += m.Tokens
	}
	c.MessagesTokens = messagesTokens
	c.TotalTokens = c.SystemTokens + c.ToolsTokens + c.MessagesTokens
}

// RecomputeMessageTokens re-estimates a single message's token count from
// its content blocks (or plain Content if it has none), recursing into
// tool_result nesting. Exported so callers outside this package — the
// store's legacy-image-estimate migration, in particular — can redo a
// message's token count without duplicating the block-walk logic.
func RecomputeMessageTokens(m *ParsedMessage, model string, est Estimator) int {
	if len(m.ContentBlocks) == 0 {
		return est.EstimateTokens(m.Content, model)
	}
	total := 0
	for _, b := range m.ContentBlocks {
		total += blockTokens(b, model, est)
	}
	return total
}

func blockTokens(b ContentBlock, model string, est Estimator) int {
	switch b.Kind {
	case BlockImage:
		return est.EstimateTokens(b, model)
	case BlockToolUse:
		return est.EstimateTokens(b.ToolUse, model)
	case BlockToolResult:
		if b.ToolResult == nil {
			return 0
		}
		total := 0
		for _, nested := range b.ToolResult.Content {
			total += blockTokens(nested, model, est)
		}
		return total
	default:
		return est.EstimateTokens(b.Text, model)
	}
}

// parseGenericFallback handles a recognized-but-unimplemented format
// combination by treating the whole body as a single raw message, the
// same degenerate behavior as apiFormat "unknown".
func parseGenericFallback(body map[string]any, provider Provider, model string, est Estimator) *ContextInfo {
	raw, _ := json.Marshal(body)
	return ParseRaw(raw)
}

// maxRawBytes bounds how much of a non-JSON body is captured as the single
// raw message.
const maxRawBytes = 2000

// ParseRaw builds a ContextInfo for a non-JSON (or otherwise
// unrecognized) body: the first maxRawBytes bytes become one message.
func ParseRaw(rawBody []byte) *ContextInfo {
	text := string(rawBody)
	if len(text) > maxRawBytes {
		text = text[:maxRawBytes]
	}
	return &ContextInfo{
		APIFormat: FormatRaw,
		Provider:  ProviderUnknown,
		Messages: []ParsedMessage{
			{Role: "raw", Content: text},
		},
	}
}
