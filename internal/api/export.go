package api

import (
	"net/http"
	"strings"

	"github.com/context-lens/sidecar/internal/lhar"
)

// handleExportLHAR writes an LHAR export of one conversation
// (?conversation=<id>) or every conversation. The .json suffix selects the
// wrapped {lhar:{...}} document; the bare path selects newline-delimited
// JSON (one session header line per session, then one line per entry).
func (s *Server) handleExportLHAR(w http.ResponseWriter, r *http.Request) {
	conversationID := r.URL.Query().Get("conversation")
	privacy := lhar.Privacy(r.URL.Query().Get("privacy"))
	if privacy == "" {
		privacy = s.defaultPrivacy
	}
	if privacy != lhar.PrivacyMinimal && privacy != lhar.PrivacyStandard && privacy != lhar.PrivacyFull {
		writeError(w, http.StatusBadRequest, "invalid privacy level: "+string(privacy))
		return
	}

	headers, records := lhar.BuildExport(s.store, conversationID, privacy, s.capture)
	if conversationID != "" && headers == nil {
		writeError(w, http.StatusNotFound, "unknown conversation: "+conversationID)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	if strings.HasSuffix(r.URL.Path, ".json") {
		_ = lhar.WriteWrapped(w, headers, records)
		return
	}
	_ = lhar.WriteJSONL(w, headers, records)
}
