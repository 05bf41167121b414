// Package lhar builds and exports LHAR (LLM HTTP Archive) records: one
// per captured request/response pair, grouped under a per-conversation
// session header, with three privacy levels gating how much of the raw
// traffic survives the export.
package lhar

import (
	"time"

	"github.com/context-lens/sidecar/internal/analysis"
	"github.com/context-lens/sidecar/internal/convo"
	"github.com/context-lens/sidecar/internal/normalizer"
)

// Privacy selects how much of a record's raw traffic is exported.
type Privacy string

const (
	// PrivacyMinimal exports no headers and no raw bodies at all.
	PrivacyMinimal Privacy = "minimal"
	// PrivacyStandard exports redacted headers but no raw bodies.
	PrivacyStandard Privacy = "standard"
	// PrivacyFull exports redacted headers and raw request/response bodies.
	PrivacyFull Privacy = "full"
)

const (
	version = "1.0"
	creator = "context-lens"
)

// SessionHeader precedes a conversation's entries in a JSONL export.
type SessionHeader struct {
	Type             string    `json:"type"`
	TraceID          string    `json:"trace_id"`
	ConversationID   string    `json:"conversationId"`
	Label            string    `json:"label"`
	WorkingDirectory string    `json:"workingDirectory,omitempty"`
	FirstSeen        time.Time `json:"firstSeen"`
	LastSeen         time.Time `json:"lastSeen"`
	Tags             []string  `json:"tags,omitempty"`
}

// Record is one LHAR entry: a CapturedEntry reshaped with the
// per-conversation growth and sequencing fields an offline analyzer
// needs, and gated by the chosen Privacy level.
type Record struct {
	Type   string `json:"type"`
	TraceID string `json:"trace_id"`

	ID             uint64               `json:"id"`
	Sequence       int                  `json:"sequence"`
	Timestamp      time.Time            `json:"timestamp"`
	ConversationID string               `json:"conversationId"`
	AgentKey       string               `json:"agentKey"`
	AgentRole      convo.Role           `json:"agent_role,omitempty"`
	Source         string               `json:"source"`
	Provider       normalizer.Provider  `json:"provider"`
	APIFormat      normalizer.APIFormat `json:"apiFormat"`
	Model          string               `json:"model"`

	SystemTokens   int `json:"systemTokens"`
	ToolsTokens    int `json:"toolsTokens"`
	MessagesTokens int `json:"messagesTokens"`
	TotalTokens    int `json:"totalTokens"`

	CumulativeTokens    int  `json:"cumulative_tokens"`
	TokensAddedThisTurn *int `json:"tokens_added_this_turn"`
	CompactionDetected  bool `json:"compaction_detected"`

	Composition    []analysis.Entry `json:"composition"`
	SecurityAlerts []analysis.Alert `json:"securityAlerts,omitempty"`
	Health         analysis.Result  `json:"health"`
	ContextLimit   int              `json:"contextLimit,omitempty"`
	Cost           float64          `json:"cost,omitempty"`
	Usage          *normalizer.Usage `json:"usage,omitempty"`

	HTTPStatus    int     `json:"httpStatus,omitempty"`
	TargetURL     string  `json:"targetUrl,omitempty"`
	RequestBytes  int     `json:"requestBytes,omitempty"`
	ResponseBytes int     `json:"responseBytes,omitempty"`
	TokensPerSecond *float64 `json:"tokens_per_second,omitempty"`
	StopReason      string   `json:"stop_reason,omitempty"`
	DurationMs      int64    `json:"duration_ms,omitempty"`

	RequestHeaders  map[string]string `json:"requestHeaders,omitempty"`
	ResponseHeaders map[string]string `json:"responseHeaders,omitempty"`
	RequestBody     []byte            `json:"requestBody,omitempty"`
	ResponseBody    []byte            `json:"responseBody,omitempty"`
}

// Document is the wrapped-JSON export shape: {"lhar": {...}}.
type Document struct {
	LHAR Archive `json:"lhar"`
}

// Archive is the body of a wrapped-JSON export.
type Archive struct {
	Version  string          `json:"version"`
	Creator  string          `json:"creator"`
	Sessions []SessionHeader `json:"sessions"`
	Entries  []Record        `json:"entries"`
}
