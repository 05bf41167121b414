// Package normalizer maps five distinct on-the-wire LLM request/response
// schemas (Anthropic Messages, OpenAI Responses/ChatGPT backend, Gemini,
// OpenAI Chat Completions, and an opaque raw fallback) into one internal
// representation: ContextInfo and ParsedMessage.
package normalizer

// Provider identifies which upstream produced or will receive a request.
type Provider string

const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
	ProviderChatGPT   Provider = "chatgpt"
	ProviderGemini    Provider = "gemini"
	ProviderVertex    Provider = "vertex"
	ProviderUnknown   Provider = "unknown"
)

// APIFormat identifies the wire schema of a request body.
type APIFormat string

const (
	FormatAnthropicMessages APIFormat = "anthropic-messages"
	FormatChatGPTBackend    APIFormat = "chatgpt-backend"
	FormatResponses         APIFormat = "responses"
	FormatChatCompletions   APIFormat = "chat-completions"
	FormatGemini            APIFormat = "gemini"
	FormatRaw               APIFormat = "raw"
	FormatUnknown           APIFormat = "unknown"
)

// BlockKind discriminates the variant stored in a ContentBlock. Go has no
// union types, so every field a variant might need lives on ContentBlock
// and only the fields relevant to Kind are populated — the same "decode
// into a wrapper, branch on a type string" shape used for stream events.
type BlockKind string

const (
	BlockText       BlockKind = "text"
	BlockInputText  BlockKind = "input_text"
	BlockToolUse    BlockKind = "tool_use"
	BlockToolResult BlockKind = "tool_result"
	BlockImage      BlockKind = "image"
	BlockThinking   BlockKind = "thinking"
	BlockFallback   BlockKind = "fallback"
)

// ContentBlock is one unit of message content. tool_result.Content may
// recursively nest further content blocks (notably images returned from a
// tool call).
type ContentBlock struct {
	Kind BlockKind `json:"type"`

	// Text carries the payload for BlockText, BlockInputText, and
	// BlockThinking.
	Text string `json:"text,omitempty"`

	ToolUse    *ToolUseBlock    `json:"tool_use,omitempty"`
	ToolResult *ToolResultBlock `json:"tool_result,omitempty"`
	Image      *ImageBlock      `json:"image,omitempty"`

	// Fallback holds an opaque representation for anything that didn't
	// match a known shape, so round-tripping never silently drops data.
	Fallback any `json:"fallback,omitempty"`
}

// ToolUseBlock is an assistant-issued tool call.
type ToolUseBlock struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Input any    `json:"input"`
}

// ToolResultBlock is the result of a tool call fed back to the model.
type ToolResultBlock struct {
	ToolUseID string         `json:"tool_use_id"`
	IsError   bool           `json:"is_error,omitempty"`
	Content   []ContentBlock `json:"content,omitempty"`
}

// ImageBlock never carries base64 image bytes — per the data-model
// invariant that image content is replaced by a placeholder at parse time.
type ImageBlock struct {
	Placeholder string `json:"placeholder"`
}

// NewImageBlock returns the canonical image content block.
func NewImageBlock() ContentBlock {
	return ContentBlock{Kind: BlockImage, Image: &ImageBlock{Placeholder: "[image omitted]"}}
}

// SystemPrompt is one system-level instruction segment.
type SystemPrompt struct {
	Content string `json:"content"`
}

// ParsedMessage is one normalized conversation turn.
type ParsedMessage struct {
	Role          string         `json:"role"`
	Content       string         `json:"content"`
	ContentBlocks []ContentBlock `json:"contentBlocks,omitempty"`
	Tokens        int            `json:"tokens"`
}

// ContextInfo is the normalized, provider-agnostic view of one outbound
// LLM request. Invariant: TotalTokens == SystemTokens + ToolsTokens +
// MessagesTokens, and MessagesTokens == sum of each message's Tokens.
type ContextInfo struct {
	Provider Provider  `json:"provider"`
	APIFormat APIFormat `json:"apiFormat"`
	Model    string    `json:"model"`

	SystemPrompts []SystemPrompt  `json:"systemPrompts"`
	Tools         []any           `json:"tools"`
	Messages      []ParsedMessage `json:"messages"`

	SystemTokens   int `json:"systemTokens"`
	ToolsTokens    int `json:"toolsTokens"`
	MessagesTokens int `json:"messagesTokens"`
	TotalTokens    int `json:"totalTokens"`
}

// RecomputeMessagesTokens rebuilds MessagesTokens from the per-message
// tallies and restores the total-tokens invariant. Used by the store's
// load-time migration pass after adjusting individual message tokens.
func (c *ContextInfo) RecomputeMessagesTokens() {
	sum := 0
	for _, m := range c.Messages {
		sum += m.Tokens
	}
	c.MessagesTokens = sum
	c.TotalTokens = c.SystemTokens + c.ToolsTokens + c.MessagesTokens
}

// Usage is the normalized token/cost accounting for one response.
type Usage struct {
	InputTokens      int     `json:"inputTokens"`
	OutputTokens     int     `json:"outputTokens"`
	CacheReadTokens  int     `json:"cacheReadTokens"`
	CacheWriteTokens int     `json:"cacheWriteTokens"`
	ThinkingTokens   int     `json:"thinkingTokens"`
	Model            string  `json:"model"`
	FinishReasons    []string `json:"finishReasons,omitempty"`
	Stream           bool    `json:"stream"`
}
