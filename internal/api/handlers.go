package api

import (
	"encoding/json"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"

	"github.com/context-lens/sidecar/internal/apperror"
	"github.com/context-lens/sidecar/internal/normalizer"
	"github.com/context-lens/sidecar/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// statusForKind maps an apperror.Kind to the HTTP status the API returns
// for it, so every handler's error path goes through one switch.
func statusForKind(k apperror.Kind) int {
	switch k {
	case apperror.KindValidation, apperror.KindClient:
		return http.StatusBadRequest
	case apperror.KindStore:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

type ingestRequest struct {
	Provider  string          `json:"provider"`
	APIFormat string          `json:"apiFormat"`
	Source    string          `json:"source"`
	Body      json.RawMessage `json:"body"`
	Response  json.RawMessage `json:"response"`
}

// handleIngest runs a request/response pair through the same normalize
// and store path the proxy uses, for capture sources that write directly
// to this API instead of routing traffic through the proxy listener.
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid ingest body: "+err.Error())
		return
	}

	provider := normalizer.Provider(req.Provider)
	if provider == "" {
		provider = normalizer.ProviderUnknown
	}
	apiFormat := normalizer.APIFormat(req.APIFormat)
	if apiFormat == "" {
		apiFormat = normalizer.FormatUnknown
	}

	ctx := normalizer.ParseRequest(req.Body, provider, apiFormat, "", s.est)

	entry, err := s.store.StoreRequest(store.StoreRequestParams{
		ContextInfo: ctx,
		RawBody:     req.Body,
		Response:    store.ResponseCapture{Body: req.Response},
		Source:      req.Source,
	})
	if err != nil {
		writeError(w, statusForKind(apperror.KindOf(err)), err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, entry)
}

type conversationView struct {
	*store.Conversation
	Entries []*store.CapturedEntry `json:"entries,omitempty"`
}

// handleListRequests returns every known conversation, each with its
// entries attached. summary=true omits the entries, returning only
// conversation-level metadata, for a cheaper list view.
func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	summary := r.URL.Query().Get("summary") == "true"

	convos := s.store.GetConversations()
	entriesByConvo := map[string][]*store.CapturedEntry{}
	if !summary {
		for _, e := range s.store.GetCapturedRequests() {
			entriesByConvo[e.ConversationID] = append(entriesByConvo[e.ConversationID], e)
		}
	}

	views := make([]conversationView, 0, len(convos))
	for _, c := range convos {
		v := conversationView{Conversation: c}
		if !summary {
			entries := entriesByConvo[c.ID]
			sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })
			v.Entries = entries
		}
		views = append(views, v)
	}
	sort.Slice(views, func(i, j int) bool { return views[i].LastSeen.After(views[j].LastSeen) })

	writeJSON(w, http.StatusOK, map[string]any{"conversations": views})
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c, entries, ok := s.store.GetConversation(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown conversation: "+id)
		return
	}
	writeJSON(w, http.StatusOK, conversationView{Conversation: c, Entries: entries})
}

func (s *Server) handleDeleteConversation(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !s.store.DeleteConversation(id) {
		writeError(w, http.StatusNotFound, "unknown conversation: "+id)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

func (s *Server) handleSetTags(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req tagsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tags body: "+err.Error())
		return
	}
	if err := s.store.SetTags(id, req.Tags); err != nil {
		writeError(w, statusForKind(apperror.KindOf(err)), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "tags": req.Tags})
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.store.ResetAll(); err != nil {
		writeError(w, statusForKind(apperror.KindOf(err)), err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
