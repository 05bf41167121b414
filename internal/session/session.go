// Package session reads a closed LHAR export and reconstructs the shape
// of the agent session that produced it: where context was compacted,
// how the window grew between compactions, where user turns began and
// ended, and how much of the traffic was served from a prompt cache.
// It never touches a live store — everything here works off a finished
// JSONL export. The wrapped {"lhar":...} JSON form is not read.
package session

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"
	"time"

	"github.com/context-lens/sidecar/internal/convo"
	"github.com/context-lens/sidecar/internal/lhar"
)

// Compaction marks one point where an agent's cumulative token count
// dropped: the conversation was summarized or trimmed by the client.
type Compaction struct {
	Sequence     int        `json:"sequence"`
	AgentRole    convo.Role `json:"agentRole"`
	BeforeTokens int        `json:"beforeTokens"`
	AfterTokens  int        `json:"afterTokens"`
}

// GrowthBlock is a contiguous run of entries bounded by compactions (or
// by the start/end of the session), showing how the window size moved
// across that stretch.
type GrowthBlock struct {
	StartSequence int `json:"startSequence"`
	EndSequence   int `json:"endSequence"`
	StartTokens   int `json:"startTokens"`
	EndTokens     int `json:"endTokens"`
}

// PathStep is one classified entry within a user turn's trace.
type PathStep struct {
	Sequence int    `json:"sequence"`
	Action   string `json:"action"`
}

// UserTurn is the run of entries between one end-of-turn and the next.
type UserTurn struct {
	Index         int        `json:"index"`
	StartSequence int        `json:"startSequence"`
	EndSequence   int        `json:"endSequence"`
	Path          []PathStep `json:"path"`
}

// TimingSummary aggregates wall-clock span across a conversation.
type TimingSummary struct {
	FirstTimestamp time.Time     `json:"firstTimestamp"`
	LastTimestamp  time.Time     `json:"lastTimestamp"`
	Wall           time.Duration `json:"wall"`
	EntryCount     int           `json:"entryCount"`
}

// CacheStats summarizes prompt-cache effectiveness across a conversation.
type CacheStats struct {
	InputTokens      int     `json:"inputTokens"`
	CacheReadTokens  int     `json:"cacheReadTokens"`
	CacheWriteTokens int     `json:"cacheWriteTokens"`
	HitRate          float64 `json:"hitRate"`
}

// SessionAnalysis is the full offline analysis of one conversation.
type SessionAnalysis struct {
	ConversationID string        `json:"conversationId"`
	Label          string        `json:"label"`
	EntryCount     int           `json:"entryCount"`
	Compactions    []Compaction  `json:"compactions"`
	GrowthBlocks   []GrowthBlock `json:"growthBlocks"`
	UserTurns      []UserTurn    `json:"userTurns"`
	Timing         TimingSummary `json:"timing"`
	Cache          CacheStats    `json:"cache"`
}

type typeProbe struct {
	Type string `json:"type"`
}

// ReadJSONL parses an LHAR JSONL export (one "session" header line per
// conversation, then one "entry" line per record) into its two slices.
func ReadJSONL(r io.Reader) ([]lhar.SessionHeader, []lhar.Record, error) {
	var headers []lhar.SessionHeader
	var records []lhar.Record

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}

		var probe typeProbe
		if err := json.Unmarshal(line, &probe); err != nil {
			return nil, nil, fmt.Errorf("session: decode line: %w", err)
		}

		switch probe.Type {
		case "session":
			var h lhar.SessionHeader
			if err := json.Unmarshal(line, &h); err != nil {
				return nil, nil, fmt.Errorf("session: decode header: %w", err)
			}
			headers = append(headers, h)
		case "entry":
			var rec lhar.Record
			if err := json.Unmarshal(line, &rec); err != nil {
				return nil, nil, fmt.Errorf("session: decode record: %w", err)
			}
			records = append(records, rec)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, err
	}
	return headers, records, nil
}

// ReadFile reads an LHAR JSONL export from disk.
func ReadFile(path string) ([]lhar.SessionHeader, []lhar.Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()
	return ReadJSONL(f)
}

// Analyze groups records by conversation and runs the full analysis on
// each, returned sorted by conversation ID.
func Analyze(headers []lhar.SessionHeader, records []lhar.Record) []SessionAnalysis {
	labels := make(map[string]string, len(headers))
	for _, h := range headers {
		labels[h.ConversationID] = h.Label
	}

	byConv := map[string][]lhar.Record{}
	for _, r := range records {
		byConv[r.ConversationID] = append(byConv[r.ConversationID], r)
	}

	out := make([]SessionAnalysis, 0, len(byConv))
	for convID, recs := range byConv {
		sort.Slice(recs, func(i, j int) bool { return recs[i].Sequence < recs[j].Sequence })
		out = append(out, analyzeConversation(convID, labels[convID], recs))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConversationID < out[j].ConversationID })
	return out
}

func analyzeConversation(conversationID, label string, recs []lhar.Record) SessionAnalysis {
	return SessionAnalysis{
		ConversationID: conversationID,
		Label:          label,
		EntryCount:     len(recs),
		Compactions:    compactions(recs),
		GrowthBlocks:   growthBlocks(recs),
		UserTurns:      userTurns(recs),
		Timing:         timing(recs),
		Cache:          cacheStats(recs),
	}
}

// compactions finds every entry flagged as a cumulative-token drop and,
// for each, scans backward for the nearest entry from the same agent
// role whose cumulative tokens were higher — that's the "before" side
// of the drop.
func compactions(recs []lhar.Record) []Compaction {
	var out []Compaction
	for i, r := range recs {
		if !r.CompactionDetected {
			continue
		}
		before := r.CumulativeTokens
		for j := i - 1; j >= 0; j-- {
			if recs[j].AgentRole != r.AgentRole {
				continue
			}
			if recs[j].CumulativeTokens > r.CumulativeTokens {
				before = recs[j].CumulativeTokens
				break
			}
		}
		out = append(out, Compaction{
			Sequence:     r.Sequence,
			AgentRole:    r.AgentRole,
			BeforeTokens: before,
			AfterTokens:  r.CumulativeTokens,
		})
	}
	return out
}

// growthBlocks splits the sequence into contiguous stretches bounded by
// compaction entries; each block reports how the token count moved from
// its first entry to its last.
func growthBlocks(recs []lhar.Record) []GrowthBlock {
	if len(recs) == 0 {
		return nil
	}
	var out []GrowthBlock
	start := 0
	for i, r := range recs {
		if r.CompactionDetected && i > start {
			out = append(out, growthBlock(recs, start, i-1))
			start = i
		}
	}
	out = append(out, growthBlock(recs, start, len(recs)-1))
	return out
}

func growthBlock(recs []lhar.Record, start, end int) GrowthBlock {
	return GrowthBlock{
		StartSequence: recs[start].Sequence,
		EndSequence:   recs[end].Sequence,
		StartTokens:   recs[start].TotalTokens,
		EndTokens:     recs[end].TotalTokens,
	}
}

// userTurns segments entries on end_turn boundaries. An end_turn entry
// closes the current turn unless the next entry's sequence does not move
// forward past it, in which case the turn continues. A trailing end_turn
// closes the final turn, and no empty turn is produced after it.
func userTurns(recs []lhar.Record) []UserTurn {
	var out []UserTurn
	start := 0
	for i, r := range recs {
		if r.StopReason != "end_turn" {
			continue
		}
		if i+1 < len(recs) && recs[i+1].Sequence <= r.Sequence {
			continue
		}
		out = append(out, buildTurn(len(out), recs[start:i+1]))
		start = i + 1
	}
	if start < len(recs) {
		out = append(out, buildTurn(len(out), recs[start:]))
	}
	return out
}

func buildTurn(index int, recs []lhar.Record) UserTurn {
	path := make([]PathStep, 0, len(recs))
	for _, r := range recs {
		path = append(path, PathStep{Sequence: r.Sequence, Action: classifyAction(r)})
	}
	return UserTurn{
		Index:         index,
		StartSequence: recs[0].Sequence,
		EndSequence:   recs[len(recs)-1].Sequence,
		Path:          path,
	}
}

func classifyAction(r lhar.Record) string {
	if r.CompactionDetected {
		return "compaction"
	}
	if r.StopReason == "" {
		return "no_response"
	}
	return r.StopReason
}

func timing(recs []lhar.Record) TimingSummary {
	if len(recs) == 0 {
		return TimingSummary{}
	}
	first := recs[0].Timestamp
	last := recs[len(recs)-1]
	lastDuration := time.Duration(last.DurationMs) * time.Millisecond
	return TimingSummary{
		FirstTimestamp: first,
		LastTimestamp:  last.Timestamp,
		Wall:           last.Timestamp.Sub(first) + lastDuration,
		EntryCount:     len(recs),
	}
}

func cacheStats(recs []lhar.Record) CacheStats {
	var stats CacheStats
	for _, r := range recs {
		if r.Usage == nil {
			continue
		}
		stats.InputTokens += r.Usage.InputTokens
		stats.CacheReadTokens += r.Usage.CacheReadTokens
		stats.CacheWriteTokens += r.Usage.CacheWriteTokens
	}
	if denom := stats.InputTokens + stats.CacheReadTokens + stats.CacheWriteTokens; denom > 0 {
		stats.HitRate = float64(stats.CacheReadTokens) / float64(denom)
	}
	return stats
}
