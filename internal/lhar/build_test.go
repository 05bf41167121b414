package lhar

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/context-lens/sidecar/internal/convo"
	"github.com/context-lens/sidecar/internal/normalizer"
	"github.com/context-lens/sidecar/internal/store"
)

func TestTraceIDDeterministicForAttributedConversation(t *testing.T) {
	a := TraceID("abc123")
	b := TraceID("abc123")
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestTraceIDRandomForUnattributedConversation(t *testing.T) {
	a := TraceID("unattributed-1")
	b := TraceID("unattributed-1")
	assert.NotEqual(t, a, b, "unattributed conversations should not get a stable trace id")
	assert.Len(t, a, 32)
}

func baseEntry(id uint64, ts time.Time, agentKey string, total int) *store.CapturedEntry {
	return &store.CapturedEntry{
		ID:             id,
		Timestamp:      ts,
		ConversationID: "convo-1",
		AgentKey:       agentKey,
		Source:         "claude-code",
		Provider:       normalizer.ProviderAnthropic,
		APIFormat:      normalizer.FormatAnthropicMessages,
		Model:          "claude-sonnet-4-20250514",
		TotalTokens:    total,
	}
}

func TestBuildRecordsOrdersBySequenceAndDetectsCompaction(t *testing.T) {
	c := &store.Conversation{
		ID:    "convo-1",
		Roles: map[string]convo.Role{"agent-a": convo.RoleMain},
	}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	e1 := baseEntry(1, t0, "agent-a", 1000)
	e2 := baseEntry(2, t0.Add(time.Minute), "agent-a", 1500)
	e3 := baseEntry(3, t0.Add(2*time.Minute), "agent-a", 400) // compaction: dropped below e2's total

	records := BuildRecords(c, []*store.CapturedEntry{e3, e1, e2}, PrivacyMinimal, nil)

	require.Len(t, records, 3)
	assert.Equal(t, uint64(1), records[0].ID)
	assert.Equal(t, uint64(2), records[1].ID)
	assert.Equal(t, uint64(3), records[2].ID)

	assert.Nil(t, records[0].TokensAddedThisTurn, "first entry in its role's sequence has no prior total")
	require.NotNil(t, records[1].TokensAddedThisTurn)
	assert.Equal(t, 500, *records[1].TokensAddedThisTurn)
	assert.False(t, records[1].CompactionDetected)

	require.NotNil(t, records[2].TokensAddedThisTurn)
	assert.Equal(t, -1100, *records[2].TokensAddedThisTurn)
	assert.True(t, records[2].CompactionDetected)
}

func TestBuildRecordsTracksGrowthPerRoleIndependently(t *testing.T) {
	c := &store.Conversation{
		ID: "convo-1",
		Roles: map[string]convo.Role{
			"main-agent": convo.RoleMain,
			"sub-agent":  convo.RoleSubagent,
		},
	}
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	main1 := baseEntry(1, t0, "main-agent", 1000)
	sub1 := baseEntry(2, t0.Add(time.Minute), "sub-agent", 200)
	main2 := baseEntry(3, t0.Add(2*time.Minute), "main-agent", 1300)

	records := BuildRecords(c, []*store.CapturedEntry{main1, sub1, main2}, PrivacyMinimal, nil)

	assert.Nil(t, records[0].TokensAddedThisTurn)
	assert.Nil(t, records[1].TokensAddedThisTurn, "subagent's first entry is also unseeded")
	require.NotNil(t, records[2].TokensAddedThisTurn)
	assert.Equal(t, 300, *records[2].TokensAddedThisTurn)
}

func TestTokensPerSecondRoundedToTenth(t *testing.T) {
	e := baseEntry(1, time.Now().UTC(), "a", 100)
	e.Usage = &normalizer.Usage{OutputTokens: 77}
	e.Timings = store.Timings{ReceiveMs: 5000}

	rec := BuildRecords(&store.Conversation{ID: "c", Roles: map[string]convo.Role{}}, []*store.CapturedEntry{e}, PrivacyMinimal, nil)[0]
	require.NotNil(t, rec.TokensPerSecond)
	assert.InDelta(t, 15.4, *rec.TokensPerSecond, 0.01)
}

func TestTokensPerSecondNilWhenMissingData(t *testing.T) {
	e := baseEntry(1, time.Now().UTC(), "a", 100)
	rec := BuildRecords(&store.Conversation{ID: "c", Roles: map[string]convo.Role{}}, []*store.CapturedEntry{e}, PrivacyMinimal, nil)[0]
	assert.Nil(t, rec.TokensPerSecond)
}

type fakeCaptureReader struct {
	raw RawCapture
	ok  bool
}

func (f fakeCaptureReader) ReadCapture(entryID uint64) (RawCapture, bool) {
	return f.raw, f.ok
}

func TestApplyPrivacyMinimalStripsEverything(t *testing.T) {
	e := baseEntry(1, time.Now().UTC(), "a", 10)
	e.RequestHeaders = map[string]string{"User-Agent": "x"}
	rec := BuildRecords(&store.Conversation{ID: "c", Roles: map[string]convo.Role{}}, []*store.CapturedEntry{e}, PrivacyMinimal, nil)[0]
	assert.Nil(t, rec.RequestHeaders)
	assert.Nil(t, rec.ResponseHeaders)
	assert.Nil(t, rec.RequestBody)
}

func TestApplyPrivacyStandardIncludesHeadersNotBodies(t *testing.T) {
	e := baseEntry(1, time.Now().UTC(), "a", 10)
	e.RequestHeaders = map[string]string{"User-Agent": "x"}
	rec := BuildRecords(&store.Conversation{ID: "c", Roles: map[string]convo.Role{}}, []*store.CapturedEntry{e}, PrivacyStandard, nil)[0]
	assert.Equal(t, map[string]string{"User-Agent": "x"}, rec.RequestHeaders)
	assert.Nil(t, rec.RequestBody)
}

func TestApplyPrivacyFullIncludesRawBodiesFromCapture(t *testing.T) {
	e := baseEntry(1, time.Now().UTC(), "a", 10)
	e.RequestHeaders = map[string]string{"User-Agent": "x"}
	reader := fakeCaptureReader{raw: RawCapture{RequestBody: []byte(`{"a":1}`), ResponseBody: []byte(`{"b":2}`)}, ok: true}
	rec := BuildRecords(&store.Conversation{ID: "c", Roles: map[string]convo.Role{}}, []*store.CapturedEntry{e}, PrivacyFull, reader)[0]
	assert.Equal(t, map[string]string{"User-Agent": "x"}, rec.RequestHeaders)
	assert.Equal(t, []byte(`{"a":1}`), rec.RequestBody)
	assert.Equal(t, []byte(`{"b":2}`), rec.ResponseBody)
}

func TestBuildSessionHeader(t *testing.T) {
	c := &store.Conversation{ID: "convo-1", Label: "fix the bug", WorkingDirectory: "/repo", Tags: []string{"reviewed"}}
	h := BuildSessionHeader(c)
	assert.Equal(t, "session", h.Type)
	assert.Equal(t, TraceID("convo-1"), h.TraceID)
	assert.True(t, strings.HasPrefix(h.Label, "fix"))
}
