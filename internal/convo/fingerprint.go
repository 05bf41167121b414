// Package convo derives conversation and agent identity from a captured
// request: which session it belongs to, which agent within that session
// produced it, a human-readable label, and the working directory the
// client tool was invoked from.
package convo

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru"

	"github.com/context-lens/sidecar/internal/normalizer"
)

// ResponseIDCache remembers which conversation a response.id belonged to,
// so a later request's previous_response_id can be chained back to the
// same conversation without re-deriving a content hash. It is a cache,
// not the source of truth — the content hash always wins when the id
// isn't found.
type ResponseIDCache struct {
	cache *lru.Cache
}

// NewResponseIDCache builds a bounded previous_response_id -> conversationId
// cache. capacity 1024 comfortably covers a single long-running agent
// session's worth of turns.
func NewResponseIDCache() *ResponseIDCache {
	c, _ := lru.New(1024)
	return &ResponseIDCache{cache: c}
}

// Record associates a response id with the conversation it belongs to, so
// a future request chaining off that id resolves to the same conversation.
func (c *ResponseIDCache) Record(responseID, conversationID string) {
	if c == nil || c.cache == nil || responseID == "" {
		return
	}
	c.cache.Add(responseID, conversationID)
}

func (c *ResponseIDCache) lookup(previousResponseID string) (string, bool) {
	if c == nil || c.cache == nil || previousResponseID == "" {
		return "", false
	}
	v, ok := c.cache.Get(previousResponseID)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

var (
	anthropicSessionIDRe = regexp.MustCompile(`^session_[0-9a-fA-F-]{36}$`)
	geminiSessionIDRe    = regexp.MustCompile(`^gemini_`)
)

// ExtractSessionID looks for an explicit, provider-issued session
// identifier embedded in the raw request body.
func ExtractSessionID(rawBody []byte) (string, bool) {
	var doc map[string]any
	if err := json.Unmarshal(rawBody, &doc); err != nil {
		return "", false
	}

	if metadata, ok := doc["metadata"].(map[string]any); ok {
		if userID, ok := metadata["user_id"].(string); ok && anthropicSessionIDRe.MatchString(userID) {
			return userID, true
		}
	}

	target := doc
	if inner, ok := doc["request"].(map[string]any); ok {
		target = inner
	}
	if sessionID, ok := target["session_id"].(string); ok && geminiSessionIDRe.MatchString(sessionID) {
		return sessionID, true
	}

	return "", false
}

func extractPreviousResponseID(rawBody []byte) (string, bool) {
	var doc map[string]any
	if err := json.Unmarshal(rawBody, &doc); err != nil {
		return "", false
	}
	id, ok := doc["previous_response_id"].(string)
	return id, ok && id != ""
}

// FirstRealUserText returns the first user-authored message text that
// isn't Responses-API boilerplate (an AGENTS.md dump or an
// <environment_details> block), or "" if none exists.
func FirstRealUserText(ctx *normalizer.ContextInfo) string {
	for _, m := range ctx.Messages {
		if m.Role != "user" && m.Role != "raw" {
			continue
		}
		text := strings.TrimSpace(m.Content)
		if text == "" || normalizer.IsBoilerplateText(text) {
			continue
		}
		return text
	}
	return ""
}

func systemText(ctx *normalizer.ContextInfo) string {
	parts := make([]string, 0, len(ctx.SystemPrompts))
	for _, sp := range ctx.SystemPrompts {
		parts = append(parts, sp.Content)
	}
	return strings.Join(parts, "\n")
}

// fingerprintLen is the width of every conversation id this package
// hands out, whether it's derived from a provider session id or from a
// content hash — callers downstream (storage keys, URLs, tags) never
// need to special-case one kind against the other.
const fingerprintLen = 16

// hashSessionID collapses a provider-issued session id (which can be an
// arbitrary length and carry characters that aren't safe to reuse
// directly in URLs or file names) down to the same 16-hex-char shape as
// a content-hash fingerprint.
func hashSessionID(sessionID string) string {
	sum := sha256.Sum256([]byte(sessionID))
	return hex.EncodeToString(sum[:])[:fingerprintLen]
}

// Fingerprint derives the conversation identity for a captured entry.
// source is the client-source tag from router.ExtractSource (used only to
// decide whether the working directory is mixed into the content hash,
// since codex sessions reuse the same system prompt across working
// directories far more often than other tools do).
//
// The returned conversation id is always a fingerprintLen-hex-char
// string. When the request carries an explicit provider session id, that
// raw id is also returned (for Conversation.SessionID) alongside its
// hash; every other path returns "" for the raw session id.
func Fingerprint(rawBody []byte, ctx *normalizer.ContextInfo, source string, workingDirectory string, cache *ResponseIDCache) (conversationID string, sessionID string, ok bool) {
	if sessionID, ok := ExtractSessionID(rawBody); ok {
		return hashSessionID(sessionID), sessionID, true
	}

	if prevID, ok := extractPreviousResponseID(rawBody); ok {
		if conversationID, ok := cache.lookup(prevID); ok {
			return conversationID, "", true
		}
	}

	sys := systemText(ctx)
	firstPrompt := FirstRealUserText(ctx)
	if sys == "" && firstPrompt == "" {
		return "", "", false
	}

	// No provider session id to key off, so fall back to hashing
	// content that's stable across a conversation's turns: the system
	// prompt plus the first real user message. This is the same idea
	// as hashing a cache key in JS with something like
	// crypto.createHash('sha256').update(a).update(b).digest('hex') —
	// Go's hash.Hash just exposes the incremental Write() calls instead
	// of a chained builder.
	h := sha256.New()
	h.Write([]byte(sys))
	h.Write([]byte{0})
	h.Write([]byte(firstPrompt))
	if source == "codex" && workingDirectory != "" {
		h.Write([]byte{0})
		h.Write([]byte(workingDirectory))
	}

	return hex.EncodeToString(h.Sum(nil))[:fingerprintLen], "", true
}

// AgentKey distinguishes subagents operating within the same conversation.
func AgentKey(firstUserText string) string {
	if firstUserText == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(firstUserText))
	return hex.EncodeToString(sum[:])[:12]
}

const maxLabelLen = 80

// Label produces a short human-readable conversation title.
func Label(firstUserText string) string {
	text := strings.TrimSpace(firstUserText)
	if text == "" {
		return "Unnamed conversation"
	}
	runes := []rune(text)
	if len(runes) > maxLabelLen {
		return string(runes[:maxLabelLen])
	}
	return text
}
