package api

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// sseSubscriberBuffer bounds how many change events a slow SSE client can
// fall behind by before the store drops it rather than blocking writers.
const sseSubscriberBuffer = 32

// handleEvents streams store change events as Server-Sent Events. The
// first event sent is always {type:"connected", revision}; every
// subsequent store mutation follows as its own event until the client
// disconnects.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	subID, ch := s.store.On(sseSubscriberBuffer)
	defer s.store.Off(subID)

	if s.metrics != nil {
		s.metrics.SSESubscribers.Inc()
		defer s.metrics.SSESubscribers.Dec()
	}

	writeSSE(w, map[string]any{"type": "connected", "revision": s.store.GetRevision()})
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, open := <-ch:
			if !open {
				return
			}
			writeSSE(w, evt)
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", data)
}
