package session

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/context-lens/sidecar/internal/convo"
	"github.com/context-lens/sidecar/internal/lhar"
	"github.com/context-lens/sidecar/internal/normalizer"
)

func rec(seq, totalTokens, cumulative int, compaction bool, stopReason string, ts time.Time, usage *normalizer.Usage) lhar.Record {
	return lhar.Record{
		Type:               "entry",
		ConversationID:     "conv-1",
		AgentRole:          convo.RoleMain,
		Sequence:           seq,
		Timestamp:          ts,
		TotalTokens:        totalTokens,
		CumulativeTokens:   cumulative,
		CompactionDetected: compaction,
		StopReason:         stopReason,
		Usage:              usage,
	}
}

func TestReadJSONLRoundTripsHeadersAndRecords(t *testing.T) {
	input := `{"type":"session","conversationId":"conv-1","label":"demo"}
{"type":"entry","conversationId":"conv-1","sequence":0}
{"type":"entry","conversationId":"conv-1","sequence":1}
`
	headers, records, err := ReadJSONL(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, headers, 1)
	require.Len(t, records, 2)
	assert.Equal(t, "demo", headers[0].Label)
	assert.Equal(t, 1, records[1].Sequence)
}

func TestReadJSONLSkipsBlankLinesAndRejectsMalformedLines(t *testing.T) {
	_, _, err := ReadJSONL(strings.NewReader("\n\n{\"type\":\"entry\"}\n\n"))
	require.NoError(t, err)

	_, _, err = ReadJSONL(strings.NewReader("not json"))
	assert.Error(t, err)
}

func TestCompactionsFindsNearestSameRoleHighWaterMark(t *testing.T) {
	base := time.Now()
	recs := []lhar.Record{
		rec(0, 1000, 1000, false, "end_turn", base, nil),
		rec(1, 4000, 4000, false, "end_turn", base.Add(time.Minute), nil),
		rec(2, 500, 500, true, "end_turn", base.Add(2*time.Minute), nil),
	}

	got := compactions(recs)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].Sequence)
	assert.Equal(t, 4000, got[0].BeforeTokens)
	assert.Equal(t, 500, got[0].AfterTokens)
}

func TestCompactionsIgnoresOtherRoles(t *testing.T) {
	base := time.Now()
	recs := []lhar.Record{
		rec(0, 9000, 9000, false, "end_turn", base, nil),
		{Type: "entry", Sequence: 1, AgentRole: convo.RoleSubagent, TotalTokens: 10, CumulativeTokens: 10, Timestamp: base.Add(time.Minute)},
		rec(2, 300, 300, true, "end_turn", base.Add(2*time.Minute), nil),
	}

	got := compactions(recs)
	require.Len(t, got, 1)
	assert.Equal(t, 9000, got[0].BeforeTokens)
}

func TestGrowthBlocksSplitsOnCompactionBoundaries(t *testing.T) {
	base := time.Now()
	recs := []lhar.Record{
		rec(0, 100, 100, false, "", base, nil),
		rec(1, 500, 500, false, "", base, nil),
		rec(2, 200, 200, true, "", base, nil),
		rec(3, 900, 900, false, "", base, nil),
	}

	blocks := growthBlocks(recs)
	require.Len(t, blocks, 2)
	assert.Equal(t, GrowthBlock{StartSequence: 0, EndSequence: 1, StartTokens: 100, EndTokens: 500}, blocks[0])
	assert.Equal(t, GrowthBlock{StartSequence: 2, EndSequence: 3, StartTokens: 200, EndTokens: 900}, blocks[1])
}

func TestGrowthBlocksSingleBlockWhenNoCompactions(t *testing.T) {
	base := time.Now()
	recs := []lhar.Record{
		rec(0, 10, 10, false, "", base, nil),
		rec(1, 20, 20, false, "", base, nil),
	}
	blocks := growthBlocks(recs)
	require.Len(t, blocks, 1)
	assert.Equal(t, 10, blocks[0].StartTokens)
	assert.Equal(t, 20, blocks[0].EndTokens)
}

func TestUserTurnsSegmentsOnEndTurnBoundaries(t *testing.T) {
	base := time.Now()
	recs := []lhar.Record{
		rec(0, 100, 100, false, "tool_use", base, nil),
		rec(1, 150, 150, false, "end_turn", base.Add(time.Minute), nil),
		rec(2, 160, 160, false, "tool_use", base.Add(2*time.Minute), nil),
		rec(3, 170, 170, false, "end_turn", base.Add(3*time.Minute), nil),
		rec(4, 50, 50, true, "", base.Add(4*time.Minute), nil),
	}

	turns := userTurns(recs)
	require.Len(t, turns, 3)

	assert.Equal(t, 0, turns[0].StartSequence)
	assert.Equal(t, 1, turns[0].EndSequence)
	assert.Equal(t, []PathStep{{Sequence: 0, Action: "tool_use"}, {Sequence: 1, Action: "end_turn"}}, turns[0].Path)

	assert.Equal(t, 2, turns[1].StartSequence)
	assert.Equal(t, 3, turns[1].EndSequence)

	assert.Equal(t, 4, turns[2].StartSequence)
	assert.Equal(t, "compaction", turns[2].Path[0].Action)
}

func TestUserTurnsTrailingEndTurnDoesNotProduceEmptyFinalTurn(t *testing.T) {
	base := time.Now()
	recs := []lhar.Record{
		rec(0, 100, 100, false, "tool_use", base, nil),
		rec(1, 150, 150, false, "end_turn", base.Add(time.Minute), nil),
	}
	turns := userTurns(recs)
	require.Len(t, turns, 1)
	assert.Equal(t, 1, turns[0].EndSequence)
}

func TestClassifyActionCoversAllFourNamedKindsPlusRaw(t *testing.T) {
	assert.Equal(t, "compaction", classifyAction(lhar.Record{CompactionDetected: true, StopReason: "end_turn"}))
	assert.Equal(t, "tool_use", classifyAction(lhar.Record{StopReason: "tool_use"}))
	assert.Equal(t, "end_turn", classifyAction(lhar.Record{StopReason: "end_turn"}))
	assert.Equal(t, "no_response", classifyAction(lhar.Record{StopReason: ""}))
	assert.Equal(t, "max_tokens", classifyAction(lhar.Record{StopReason: "max_tokens"}))
}

func TestTimingComputesWallAsLastMinusFirstPlusLastDuration(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	recs := []lhar.Record{
		rec(0, 10, 10, false, "", base, nil),
		{Type: "entry", Sequence: 1, Timestamp: base.Add(10 * time.Second), DurationMs: 2000},
	}

	ts := timing(recs)
	assert.Equal(t, base, ts.FirstTimestamp)
	assert.Equal(t, base.Add(10*time.Second), ts.LastTimestamp)
	assert.Equal(t, 12*time.Second, ts.Wall)
	assert.Equal(t, 2, ts.EntryCount)
}

func TestTimingEmptyRecordsReturnsZeroValue(t *testing.T) {
	assert.Equal(t, TimingSummary{}, timing(nil))
}

func TestCacheStatsComputesHitRate(t *testing.T) {
	recs := []lhar.Record{
		rec(0, 10, 10, false, "", time.Now(), &normalizer.Usage{InputTokens: 100, CacheReadTokens: 300, CacheWriteTokens: 100}),
		rec(1, 20, 20, false, "", time.Now(), &normalizer.Usage{InputTokens: 50, CacheReadTokens: 150}),
		rec(2, 30, 30, false, "", time.Now(), nil),
	}

	stats := cacheStats(recs)
	assert.Equal(t, 150, stats.InputTokens)
	assert.Equal(t, 450, stats.CacheReadTokens)
	assert.Equal(t, 100, stats.CacheWriteTokens)
	assert.InDelta(t, 450.0/700.0, stats.HitRate, 0.0001)
}

func TestCacheStatsAllZeroUsageLeavesHitRateZero(t *testing.T) {
	stats := cacheStats(nil)
	assert.Zero(t, stats.HitRate)
}

func TestAnalyzeGroupsByConversationAndSortsByID(t *testing.T) {
	base := time.Now()
	headers := []lhar.SessionHeader{
		{Type: "session", ConversationID: "conv-b", Label: "second"},
		{Type: "session", ConversationID: "conv-a", Label: "first"},
	}
	records := []lhar.Record{
		{Type: "entry", ConversationID: "conv-b", Sequence: 0, Timestamp: base},
		{Type: "entry", ConversationID: "conv-a", Sequence: 0, Timestamp: base},
		{Type: "entry", ConversationID: "conv-a", Sequence: 1, Timestamp: base.Add(time.Second)},
	}

	analyses := Analyze(headers, records)
	require.Len(t, analyses, 2)
	assert.Equal(t, "conv-a", analyses[0].ConversationID)
	assert.Equal(t, "first", analyses[0].Label)
	assert.Equal(t, 2, analyses[0].EntryCount)
	assert.Equal(t, "conv-b", analyses[1].ConversationID)
	assert.Equal(t, 1, analyses[1].EntryCount)
}
