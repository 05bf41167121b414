package main

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/context-lens/sidecar/internal/session"
)

func newBufferedCmd() (*cobra.Command, *bytes.Buffer) {
	buf := &bytes.Buffer{}
	cmd := &cobra.Command{Use: "test"}
	cmd.SetOut(buf)
	return cmd, buf
}

func TestWriteTextWithNoConversationsReportsEmpty(t *testing.T) {
	cmd, buf := newBufferedCmd()
	writeText(cmd, nil)
	assert.Contains(t, buf.String(), "no conversations found")
}

func TestWriteTextIncludesCompactionsGrowthBlocksAndTurns(t *testing.T) {
	cmd, buf := newBufferedCmd()
	analyses := []session.SessionAnalysis{
		{
			ConversationID: "conv-1",
			Label:          "demo",
			EntryCount:     2,
			Compactions:    []session.Compaction{{Sequence: 1, BeforeTokens: 900, AfterTokens: 100}},
			GrowthBlocks:   []session.GrowthBlock{{StartSequence: 0, EndSequence: 1, StartTokens: 0, EndTokens: 900}},
			UserTurns:      []session.UserTurn{{Index: 0, StartSequence: 0, EndSequence: 1, Path: []session.PathStep{{Sequence: 0, Action: "tool_use"}, {Sequence: 1, Action: "end_turn"}}}},
			Cache:          session.CacheStats{HitRate: 0.5},
		},
	}

	writeText(cmd, analyses)
	out := buf.String()
	assert.Contains(t, out, "conv-1")
	assert.Contains(t, out, "demo")
	assert.Contains(t, out, "900 -> 100 tokens")
	assert.Contains(t, out, "50.0%")
}

func TestWriteJSONEncodesFullAnalysis(t *testing.T) {
	cmd, buf := newBufferedCmd()
	analyses := []session.SessionAnalysis{{ConversationID: "conv-1", EntryCount: 3}}

	require.NoError(t, writeJSON(cmd, analyses))

	var decoded []session.SessionAnalysis
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	require.Len(t, decoded, 1)
	assert.Equal(t, "conv-1", decoded[0].ConversationID)
	assert.Equal(t, 3, decoded[0].EntryCount)
}

func TestFilterConversationReturnsMatchOrNil(t *testing.T) {
	analyses := []session.SessionAnalysis{{ConversationID: "a"}, {ConversationID: "b"}}

	got := filterConversation(analyses, "b")
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ConversationID)

	assert.Nil(t, filterConversation(analyses, "missing"))
}
