// Package store holds captured request/response entries in memory,
// backed by an append-only JSONL log, and groups them into conversations.
package store

import (
	"net/http"
	"time"

	"github.com/context-lens/sidecar/internal/analysis"
	"github.com/context-lens/sidecar/internal/convo"
	"github.com/context-lens/sidecar/internal/normalizer"
)

// Timings records how long each phase of a proxied round-trip took.
type Timings struct {
	SendMs    int64 `json:"send_ms"`
	WaitMs    int64 `json:"wait_ms"`
	ReceiveMs int64 `json:"receive_ms"`
	TotalMs   int64 `json:"total_ms"`
}

// CompactResponse is the keep-set retained from a response body after
// compaction: enough to reconstruct finish state without holding the full
// payload in memory.
type CompactResponse struct {
	Model      string          `json:"model,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
	Usage      *normalizer.Usage `json:"usage,omitempty"`
	Streaming  bool            `json:"streaming"`
}

// CapturedEntry is one stored request/response pair, compacted for
// long-term in-memory and on-disk retention. systemPrompts and tools are
// dropped at store time (SystemTokens/ToolsTokens counts survive);
// RequestHeaders are already redacted before they ever reach this
// struct (see redactHeaders) — a copy with the raw bodies (and headers
// again stripped of secrets) is written separately by the proxy to the
// captures directory for LHAR "full" privacy exports, keyed by ID.
type CapturedEntry struct {
	ID                 uint64                     `json:"id"`
	Timestamp          time.Time                  `json:"timestamp"`
	ConversationID     string                     `json:"conversationId"`
	AgentKey           string                     `json:"agentKey"`
	Source             string                     `json:"source"`
	Provider           normalizer.Provider        `json:"provider"`
	APIFormat          normalizer.APIFormat       `json:"apiFormat"`
	Model              string                     `json:"model"`
	SystemTokens       int                        `json:"systemTokens"`
	ToolsTokens        int                        `json:"toolsTokens"`
	MessagesTokens     int                        `json:"messagesTokens"`
	TotalTokens        int                        `json:"totalTokens"`
	Messages           []normalizer.ParsedMessage `json:"messages"`
	Composition        []analysis.Entry           `json:"composition"`
	SecurityAlerts     []analysis.Alert           `json:"securityAlerts,omitempty"`
	Health             analysis.Result            `json:"health"`
	ContextLimit       int                        `json:"contextLimit,omitempty"`
	Cost               float64                    `json:"cost,omitempty"`
	Usage              *normalizer.Usage          `json:"usage,omitempty"`
	Response           CompactResponse            `json:"response"`
	Timings            Timings                    `json:"timings"`
	HTTPStatus         int                        `json:"httpStatus,omitempty"`
	TargetURL          string                     `json:"targetUrl,omitempty"`
	RequestBytes       int                        `json:"requestBytes,omitempty"`
	ResponseBytes      int                        `json:"responseBytes,omitempty"`
	RequestHeaders     map[string]string          `json:"requestHeaders,omitempty"`
}

// Conversation groups entries that share a fingerprint.
type Conversation struct {
	ID               string                `json:"id"`
	Label            string                `json:"label"`
	Source           string                `json:"source,omitempty"`
	WorkingDirectory string                `json:"workingDirectory,omitempty"`
	SessionID        string                `json:"sessionId,omitempty"`
	FirstSeen        time.Time             `json:"firstSeen"`
	LastSeen         time.Time             `json:"lastSeen"`
	EntryIDs         []uint64              `json:"entryIds"`
	AgentEntryCounts map[string]int        `json:"agentEntryCounts"`
	AgentOrder       []string              `json:"agentOrder"`
	Roles            map[string]convo.Role `json:"roles"`
	Tags             []string              `json:"tags,omitempty"`

	lastTotalTokens int
	turnCount       int
}

// ChangeEvent is broadcast to subscribers after every committed mutation.
type ChangeEvent struct {
	Type           string `json:"type"`
	Revision       uint64 `json:"revision"`
	ConversationID string `json:"conversationId,omitempty"`
}

const (
	ChangeEntryAdded          = "entry-added"
	ChangeConversationDeleted = "conversation-deleted"
	ChangeReset               = "reset"
	ChangeTagsUpdated         = "tags-updated"
)

// ResponseCapture is the upstream response data the proxy hands to
// StoreRequest: enough to build usage, composition, and a compact record.
type ResponseCapture struct {
	Body        []byte
	ContentType string
	Streaming   bool
}

// StoreRequestParams bundles everything StoreRequest needs beyond the
// already-parsed ContextInfo.
type StoreRequestParams struct {
	ContextInfo    *normalizer.ContextInfo
	RawBody        []byte
	Response       ResponseCapture
	Source         string
	RequestHeaders http.Header
	Timings        Timings
	HTTPStatus     int
	TargetURL      string
}
