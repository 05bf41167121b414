package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/context-lens/sidecar/internal/analysis"
	"github.com/context-lens/sidecar/internal/apperror"
	"github.com/context-lens/sidecar/internal/config"
	"github.com/context-lens/sidecar/internal/convo"
	"github.com/context-lens/sidecar/internal/normalizer"
	"github.com/context-lens/sidecar/internal/telemetry"
	"github.com/context-lens/sidecar/internal/tokenpricing"
)

// Store is the single-writer, in-memory home for captured entries and
// conversations, backed by a JSONL append log.
type Store struct {
	cfg       config.StoreConfig
	estimator *tokenpricing.Estimator
	logger    telemetry.Logger
	metrics   *telemetry.Metrics

	mu            sync.Mutex
	conversations map[string]*Conversation
	entries       map[uint64]*CapturedEntry
	order         []uint64 // insertion order, oldest first
	nextID        uint64
	revision      uint64
	responseIDs   *convo.ResponseIDCache

	persist *persister
	tags    *tagStore

	listenersMu sync.Mutex
	listeners   map[int]chan ChangeEvent
	nextSubID   int
}

// New builds a Store, opens its state and tags files, and replays any
// existing state file contents.
func New(cfg config.StoreConfig, estimator *tokenpricing.Estimator, logger telemetry.Logger, metrics *telemetry.Metrics) (*Store, error) {
	s := &Store{
		cfg:           cfg,
		estimator:     estimator,
		logger:        logger,
		metrics:       metrics,
		conversations: make(map[string]*Conversation),
		entries:       make(map[uint64]*CapturedEntry),
		responseIDs:   convo.NewResponseIDCache(),
		listeners:     make(map[int]chan ChangeEvent),
	}

	p, err := openPersister(cfg.StateFilePath)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindStore, fmt.Errorf("opening state file: %w", err))
	}
	s.persist = p

	tags, err := openTagStore(cfg.TagsFilePath)
	if err != nil {
		return nil, apperror.Wrap(apperror.KindStore, fmt.Errorf("opening tags file: %w", err))
	}
	s.tags = tags

	if err := s.loadState(); err != nil {
		return nil, apperror.Wrap(apperror.KindStore, fmt.Errorf("loading state: %w", err))
	}
	s.applyTags()
	s.runImageTokenMigration()

	return s, nil
}

// Close flushes and closes the underlying files.
func (s *Store) Close() error {
	if err := s.persist.Close(); err != nil {
		return err
	}
	return s.tags.Close()
}

// StoreRequest runs the full capture pipeline and returns the stored
// (already compacted) entry.
func (s *Store) StoreRequest(p StoreRequestParams) (*CapturedEntry, error) {
	ctx := p.ContextInfo

	alerts := analysis.ScanMessages(ctx.Messages)
	composition := analysis.ComputeComposition(ctx, s.estimator)

	usage := normalizer.ParseResponseUsage(p.Response.Body, p.Response.Streaming)
	if usage != nil && usage.InputTokens+usage.OutputTokens > 0 {
		normalizer.RescaleContextTokens(ctx, usage.InputTokens+usage.OutputTokens+usage.CacheReadTokens+usage.CacheWriteTokens)
		composition = analysis.NormalizeComposition(composition, ctx.TotalTokens)
	}

	source := p.Source
	if source == "" {
		source = convo.DetectSourceTool(p.RequestHeaders, ctx)
	}

	workingDirectory := convo.WorkingDirectory(ctx, p.RawBody)
	firstUserText := convo.FirstRealUserText(ctx)
	agentKey := convo.AgentKey(firstUserText)
	label := convo.Label(firstUserText)

	conversationID, sessionID, ok := convo.Fingerprint(p.RawBody, ctx, source, workingDirectory, s.responseIDs)
	if !ok {
		conversationID = fmt.Sprintf("unattributed-%d", s.nextEntryID())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	convoRecord, isNew := s.getOrCreateConversationLocked(conversationID, label, source, workingDirectory, sessionID, now)

	if agentKey != "" {
		convoRecord.AgentEntryCounts[agentKey]++
		if _, seen := indexOf(convoRecord.AgentOrder, agentKey); !seen {
			convoRecord.AgentOrder = append(convoRecord.AgentOrder, agentKey)
		}
		convoRecord.Roles = convo.AssignRoles(convoRecord.AgentEntryCounts, convoRecord.AgentOrder)
	}
	convoRecord.turnCount++

	entryID := s.nextID + 1
	s.nextID = entryID

	contextLimit, _ := tokenpricing.GetContextLimit(ctx.Model)
	var cost float64
	if usage != nil {
		if c, ok := tokenpricing.EstimateCost(ctx.Model, tokenpricing.Usage{
			InputTokens:      usage.InputTokens,
			OutputTokens:     usage.OutputTokens,
			CacheReadTokens:  usage.CacheReadTokens,
			CacheWriteTokens: usage.CacheWriteTokens,
		}); ok {
			cost = c
		}
	}

	health := analysis.ComputeHealth(ctx, composition, contextLimit, convoRecord.lastTotalTokens, convoRecord.turnCount)

	entry := &CapturedEntry{
		ID:             entryID,
		Timestamp:      now,
		ConversationID: conversationID,
		AgentKey:       agentKey,
		Source:         source,
		Provider:       ctx.Provider,
		APIFormat:      ctx.APIFormat,
		Model:          ctx.Model,
		SystemTokens:   ctx.SystemTokens,
		ToolsTokens:    ctx.ToolsTokens,
		MessagesTokens: ctx.MessagesTokens,
		TotalTokens:    ctx.TotalTokens,
		Messages:       compactMessages(ctx.Messages, s.cfg.MaxMessagesKept),
		Composition:    composition,
		SecurityAlerts: alerts,
		Health:         health,
		ContextLimit:   contextLimit,
		Cost:           cost,
		Usage:          usage,
		Response:       compactResponse(p.Response, usage),
		Timings:        p.Timings,
		HTTPStatus:     p.HTTPStatus,
		TargetURL:      p.TargetURL,
		RequestBytes:   len(p.RawBody),
		ResponseBytes:  len(p.Response.Body),
		RequestHeaders: redactHeaders(p.RequestHeaders),
	}

	convoRecord.lastTotalTokens = ctx.TotalTokens
	convoRecord.LastSeen = now
	convoRecord.EntryIDs = append(convoRecord.EntryIDs, entryID)

	s.entries[entryID] = entry
	s.order = append(s.order, entryID)

	if err := s.persist.writeConversation(convoRecord, isNew); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist conversation record")
	}
	if err := s.persist.writeEntry(entry); err != nil {
		s.logger.Warn().Err(err).Msg("failed to persist entry record")
	}

	s.evictIfOverCapacityLocked()

	s.revision++
	if s.metrics != nil {
		s.metrics.EntriesTotal.Inc()
		s.metrics.StoreRevision.Set(float64(s.revision))
		for _, a := range alerts {
			s.metrics.SecurityAlerts.WithLabelValues(string(a.Severity)).Inc()
		}
	}
	s.broadcast(ChangeEvent{Type: ChangeEntryAdded, Revision: s.revision, ConversationID: conversationID})

	if resp, ok := decodeResponseID(p.Response.Body); ok {
		s.responseIDs.Record(resp, conversationID)
	}

	return entry, nil
}

func (s *Store) nextEntryID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID
}

func (s *Store) getOrCreateConversationLocked(id, label, source, workingDirectory, sessionID string, now time.Time) (*Conversation, bool) {
	if c, ok := s.conversations[id]; ok {
		// A later entry in the same conversation may be the one that
		// carries the explicit session id (e.g. the first entry fell
		// back to a content hash before the provider's id showed up).
		if c.SessionID == "" && sessionID != "" {
			c.SessionID = sessionID
		}
		return c, false
	}
	c := &Conversation{
		ID:               id,
		Label:            label,
		Source:           source,
		WorkingDirectory: workingDirectory,
		SessionID:        sessionID,
		FirstSeen:        now,
		LastSeen:         now,
		AgentEntryCounts: make(map[string]int),
		Roles:            make(map[string]convo.Role),
	}
	s.conversations[id] = c
	return c, true
}

func indexOf(s []string, v string) (int, bool) {
	for i, x := range s {
		if x == v {
			return i, true
		}
	}
	return -1, false
}

func compactMessages(messages []normalizer.ParsedMessage, max int) []normalizer.ParsedMessage {
	if max <= 0 || len(messages) <= max {
		return messages
	}
	return messages[len(messages)-max:]
}

func compactResponse(r ResponseCapture, usage *normalizer.Usage) CompactResponse {
	cr := CompactResponse{Streaming: r.Streaming, Usage: usage}
	var doc map[string]any
	if json.Unmarshal(r.Body, &doc) == nil {
		if m, ok := doc["model"].(string); ok {
			cr.Model = m
		}
		if sr, ok := doc["stop_reason"].(string); ok {
			cr.StopReason = sr
		}
	}
	return cr
}

func decodeResponseID(body []byte) (string, bool) {
	var doc map[string]any
	if json.Unmarshal(body, &doc) != nil {
		return "", false
	}
	id, ok := doc["id"].(string)
	return id, ok && id != ""
}

func (s *Store) evictIfOverCapacityLocked() {
	if s.cfg.MaxSessions <= 0 || len(s.conversations) <= s.cfg.MaxSessions {
		return
	}

	var oldestID string
	var oldestTime time.Time
	for id, c := range s.conversations {
		if oldestID == "" || c.FirstSeen.Before(oldestTime) {
			oldestID = id
			oldestTime = c.FirstSeen
		}
	}
	if oldestID == "" {
		return
	}
	s.deleteConversationLocked(oldestID)
	if s.metrics != nil {
		s.metrics.ConversationsEvicted.Inc()
	}
}

func (s *Store) deleteConversationLocked(id string) {
	c, ok := s.conversations[id]
	if !ok {
		return
	}
	for _, entryID := range c.EntryIDs {
		delete(s.entries, entryID)
	}
	delete(s.conversations, id)

	filtered := s.order[:0]
	for _, eid := range s.order {
		if _, ok := s.entries[eid]; ok {
			filtered = append(filtered, eid)
		}
	}
	s.order = filtered
}

// DeleteConversation removes a conversation and all its entries.
func (s *Store) DeleteConversation(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return false
	}
	s.deleteConversationLocked(id)
	s.revision++
	s.broadcast(ChangeEvent{Type: ChangeConversationDeleted, Revision: s.revision, ConversationID: id})
	return true
}

// ResetAll clears every conversation and entry and truncates the state file.
func (s *Store) ResetAll() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.conversations = make(map[string]*Conversation)
	s.entries = make(map[uint64]*CapturedEntry)
	s.order = nil
	s.nextID = 0

	if err := s.persist.truncate(); err != nil {
		return apperror.Wrap(apperror.KindStore, err)
	}

	s.revision++
	s.broadcast(ChangeEvent{Type: ChangeReset, Revision: s.revision})
	return nil
}

// GetCapturedRequests returns all entries, newest first.
func (s *Store) GetCapturedRequests() []*CapturedEntry {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]*CapturedEntry, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		if e, ok := s.entries[s.order[i]]; ok {
			out = append(out, e)
		}
	}
	return out
}

// GetConversations returns a snapshot of every known conversation.
func (s *Store) GetConversations() map[string]*Conversation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]*Conversation, len(s.conversations))
	for id, c := range s.conversations {
		cp := *c
		out[id] = &cp
	}
	return out
}

// GetConversation returns one conversation and its entries, if present.
func (s *Store) GetConversation(id string) (*Conversation, []*CapturedEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.conversations[id]
	if !ok {
		return nil, nil, false
	}
	entries := make([]*CapturedEntry, 0, len(c.EntryIDs))
	for _, eid := range c.EntryIDs {
		if e, ok := s.entries[eid]; ok {
			entries = append(entries, e)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].ID < entries[j].ID })

	cp := *c
	return &cp, entries, true
}

// GetRevision returns the current monotonic revision counter.
func (s *Store) GetRevision() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revision
}

// On registers a change-event subscriber with a bounded buffer; a full
// buffer causes the subscriber to be dropped rather than stalling writers.
func (s *Store) On(buffer int) (id int, ch <-chan ChangeEvent) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	s.nextSubID++
	id = s.nextSubID
	c := make(chan ChangeEvent, buffer)
	s.listeners[id] = c
	return id, c
}

// Off unregisters a change-event subscriber.
func (s *Store) Off(id int) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	if c, ok := s.listeners[id]; ok {
		close(c)
		delete(s.listeners, id)
	}
}

// broadcast fans evt out to every registered subscriber. In Node.js
// terms this is an EventEmitter.emit() call, except Go gives each
// listener its own buffered channel instead of calling every handler
// inline on the emitter's own call stack — so one slow subscriber can't
// block the mutation that triggered the event. The select's default
// case is what makes that true: a write that would block on a full
// channel takes the default branch and drops the subscriber instead.
func (s *Store) broadcast(evt ChangeEvent) {
	s.listenersMu.Lock()
	defer s.listenersMu.Unlock()

	for id, ch := range s.listeners {
		select {
		case ch <- evt:
		default:
			close(ch)
			delete(s.listeners, id)
		}
	}
}

// SetTags replaces a conversation's tags and persists the change.
func (s *Store) SetTags(conversationID string, tags []string) error {
	s.mu.Lock()
	c, ok := s.conversations[conversationID]
	if ok {
		c.Tags = tags
	}
	s.mu.Unlock()
	if !ok {
		return apperror.Wrap(apperror.KindValidation, fmt.Errorf("unknown conversation: %s", conversationID))
	}

	if err := s.tags.write(conversationID, tags); err != nil {
		return apperror.Wrap(apperror.KindStore, err)
	}

	s.mu.Lock()
	s.revision++
	rev := s.revision
	s.mu.Unlock()

	s.broadcast(ChangeEvent{Type: ChangeTagsUpdated, Revision: rev, ConversationID: conversationID})
	return nil
}

func (s *Store) applyTags() {
	for id, tags := range s.tags.snapshot() {
		if c, ok := s.conversations[id]; ok {
			c.Tags = tags
		}
	}
}
