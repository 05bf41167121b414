package lhar

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"sort"
	"strings"

	"github.com/google/uuid"

	"github.com/context-lens/sidecar/internal/convo"
	"github.com/context-lens/sidecar/internal/store"
)

// TraceID derives a conversation's trace_id: a deterministic truncated
// content hash, or a random one when the conversation was never
// attributed to a real session/content fingerprint.
func TraceID(conversationID string) string {
	if strings.HasPrefix(conversationID, "unattributed-") {
		return strings.ReplaceAll(uuid.NewString(), "-", "")
	}
	sum := sha256.Sum256([]byte(conversationID))
	return hex.EncodeToString(sum[:])[:32]
}

// BuildSessionHeader reshapes a Conversation into its LHAR preamble line.
func BuildSessionHeader(c *store.Conversation) SessionHeader {
	return SessionHeader{
		Type:             "session",
		TraceID:          TraceID(c.ID),
		ConversationID:   c.ID,
		Label:            c.Label,
		WorkingDirectory: c.WorkingDirectory,
		FirstSeen:        c.FirstSeen,
		LastSeen:         c.LastSeen,
		Tags:             c.Tags,
	}
}

// BuildRecords reshapes a conversation's entries into LHAR records,
// ordered by (timestamp, id), with sequence numbers and growth fields
// filled in. privacy gates headers and raw bodies; capture supplies the
// raw bodies for PrivacyFull (nil is fine for the other two levels).
func BuildRecords(c *store.Conversation, entries []*store.CapturedEntry, privacy Privacy, capture RawCaptureReader) []Record {
	ordered := make([]*store.CapturedEntry, len(entries))
	copy(ordered, entries)
	sort.Slice(ordered, func(i, j int) bool {
		if !ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Timestamp.Before(ordered[j].Timestamp)
		}
		return ordered[i].ID < ordered[j].ID
	})

	traceID := TraceID(c.ID)
	lastTotalByRole := map[convo.Role]int{}

	records := make([]Record, 0, len(ordered))
	for i, e := range ordered {
		role := c.Roles[e.AgentKey]

		var tokensAdded *int
		compaction := false
		if prev, ok := lastTotalByRole[role]; ok {
			delta := e.TotalTokens - prev
			tokensAdded = &delta
			compaction = delta < 0
		}
		lastTotalByRole[role] = e.TotalTokens

		rec := Record{
			Type:                "entry",
			TraceID:             traceID,
			ID:                  e.ID,
			Sequence:            i,
			Timestamp:           e.Timestamp,
			ConversationID:      e.ConversationID,
			AgentKey:            e.AgentKey,
			AgentRole:           role,
			Source:              e.Source,
			Provider:            e.Provider,
			APIFormat:           e.APIFormat,
			Model:               e.Model,
			SystemTokens:        e.SystemTokens,
			ToolsTokens:         e.ToolsTokens,
			MessagesTokens:      e.MessagesTokens,
			TotalTokens:         e.TotalTokens,
			CumulativeTokens:    e.TotalTokens,
			TokensAddedThisTurn: tokensAdded,
			CompactionDetected:  compaction,
			Composition:         e.Composition,
			SecurityAlerts:      e.SecurityAlerts,
			Health:              e.Health,
			ContextLimit:        e.ContextLimit,
			Cost:                e.Cost,
			Usage:               e.Usage,
			HTTPStatus:          e.HTTPStatus,
			TargetURL:           e.TargetURL,
			RequestBytes:        e.RequestBytes,
			ResponseBytes:       e.ResponseBytes,
			TokensPerSecond:     tokensPerSecond(e),
			StopReason:          e.Response.StopReason,
			DurationMs:          e.Timings.TotalMs,
		}

		applyPrivacy(&rec, e, privacy, capture)
		records = append(records, rec)
	}

	return records
}

func tokensPerSecond(e *store.CapturedEntry) *float64 {
	if e.Usage == nil || e.Usage.OutputTokens <= 0 || e.Timings.ReceiveMs <= 0 {
		return nil
	}
	tps := float64(e.Usage.OutputTokens) / float64(e.Timings.ReceiveMs) * 1000
	rounded := math.Round(tps*10) / 10
	return &rounded
}

func applyPrivacy(rec *Record, e *store.CapturedEntry, privacy Privacy, capture RawCaptureReader) {
	switch privacy {
	case PrivacyStandard:
		rec.RequestHeaders = e.RequestHeaders
	case PrivacyFull:
		rec.RequestHeaders = e.RequestHeaders
		if capture != nil {
			if raw, ok := capture.ReadCapture(e.ID); ok {
				rec.ResponseHeaders = raw.ResponseHeaders
				rec.RequestBody = raw.RequestBody
				rec.ResponseBody = raw.ResponseBody
			}
		}
	case PrivacyMinimal:
		// headers and bodies stay empty
	}
}
