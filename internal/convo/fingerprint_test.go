package convo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/context-lens/sidecar/internal/normalizer"
)

func TestExtractSessionIDAnthropic(t *testing.T) {
	body := []byte(`{"metadata":{"user_id":"session_123e4567-e89b-12d3-a456-426614174000"}}`)
	id, ok := ExtractSessionID(body)
	require.True(t, ok)
	assert.Equal(t, "session_123e4567-e89b-12d3-a456-426614174000", id)
}

func TestExtractSessionIDGeminiWrapped(t *testing.T) {
	body := []byte(`{"request":{"session_id":"gemini_abc123"}}`)
	id, ok := ExtractSessionID(body)
	require.True(t, ok)
	assert.Equal(t, "gemini_abc123", id)
}

func TestExtractSessionIDAbsent(t *testing.T) {
	_, ok := ExtractSessionID([]byte(`{"model":"claude-sonnet-4"}`))
	assert.False(t, ok)
}

func TestFingerprintPrefersSessionID(t *testing.T) {
	body := []byte(`{"metadata":{"user_id":"session_123e4567-e89b-12d3-a456-426614174000"}}`)
	ctx := &normalizer.ContextInfo{}
	id, sessionID, ok := Fingerprint(body, ctx, "claude-code", "", NewResponseIDCache())
	require.True(t, ok)
	assert.Len(t, id, 16)
	assert.Equal(t, hashSessionID("session_123e4567-e89b-12d3-a456-426614174000"), id)
	assert.Equal(t, "session_123e4567-e89b-12d3-a456-426614174000", sessionID)
}

func TestFingerprintChainsPreviousResponseID(t *testing.T) {
	cache := NewResponseIDCache()
	cache.Record("resp_1", "convo-abc")

	body := []byte(`{"previous_response_id":"resp_1"}`)
	ctx := &normalizer.ContextInfo{}
	id, sessionID, ok := Fingerprint(body, ctx, "codex", "", cache)
	require.True(t, ok)
	assert.Equal(t, "convo-abc", id)
	assert.Empty(t, sessionID)
}

func TestFingerprintFallsBackToContentHash(t *testing.T) {
	ctx := &normalizer.ContextInfo{
		SystemPrompts: []normalizer.SystemPrompt{{Content: "You are helpful."}},
		Messages:      []normalizer.ParsedMessage{{Role: "user", Content: "Fix the bug"}},
	}
	id, sessionID, ok := Fingerprint([]byte(`{}`), ctx, "claude-code", "", NewResponseIDCache())
	require.True(t, ok)
	assert.Len(t, id, 16)
	assert.Empty(t, sessionID)

	// deterministic: identical inputs produce identical fingerprints.
	id2, _, _ := Fingerprint([]byte(`{}`), ctx, "claude-code", "", NewResponseIDCache())
	assert.Equal(t, id, id2)
}

func TestFingerprintCodexMixesWorkingDirectory(t *testing.T) {
	ctx := &normalizer.ContextInfo{
		Messages: []normalizer.ParsedMessage{{Role: "user", Content: "Fix the bug"}},
	}
	idA, _, _ := Fingerprint([]byte(`{}`), ctx, "codex", "/home/user/project-a", NewResponseIDCache())
	idB, _, _ := Fingerprint([]byte(`{}`), ctx, "codex", "/home/user/project-b", NewResponseIDCache())
	assert.NotEqual(t, idA, idB)
}

func TestFingerprintReturnsFalseWhenNoText(t *testing.T) {
	_, _, ok := Fingerprint([]byte(`{}`), &normalizer.ContextInfo{}, "claude-code", "", NewResponseIDCache())
	assert.False(t, ok)
}

func TestFirstRealUserTextSkipsBoilerplate(t *testing.T) {
	ctx := &normalizer.ContextInfo{
		Messages: []normalizer.ParsedMessage{
			{Role: "user", Content: "# AGENTS.md"},
			{Role: "user", Content: "<environment_details>stuff</environment_details>"},
			{Role: "user", Content: "Please refactor this function"},
		},
	}
	assert.Equal(t, "Please refactor this function", FirstRealUserText(ctx))
}

func TestAgentKeyDeterministic(t *testing.T) {
	k1 := AgentKey("hello world")
	k2 := AgentKey("hello world")
	k3 := AgentKey("something else")
	assert.Equal(t, k1, k2)
	assert.NotEqual(t, k1, k3)
	assert.Len(t, k1, 12)
}

func TestLabelTruncatesAndDefaults(t *testing.T) {
	assert.Equal(t, "Unnamed conversation", Label(""))
	assert.Equal(t, "hi", Label("hi"))

	long := make([]byte, 200)
	for i := range long {
		long[i] = 'a'
	}
	assert.Len(t, Label(string(long)), 80)
}
