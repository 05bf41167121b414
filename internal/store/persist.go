package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"slices"

	"github.com/context-lens/sidecar/internal/convo"
)

// stateLine is the tagged-union envelope written to state.jsonl: every
// line is either a conversation snapshot or an entry snapshot.
type stateLine struct {
	Type         string        `json:"type"`
	Conversation *Conversation `json:"conversation,omitempty"`
	Entry        *CapturedEntry `json:"entry,omitempty"`
}

// persister owns the append-only state file. All writes are line-atomic:
// the full line is built in memory, then written in a single Write call.
type persister struct {
	path string
	f    *os.File
}

func openPersister(path string) (*persister, error) {
	if path == "" {
		return &persister{}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	return &persister{path: path, f: f}, nil
}

func (p *persister) Close() error {
	if p.f == nil {
		return nil
	}
	return p.f.Close()
}

func (p *persister) writeLine(v any) error {
	if p.f == nil {
		return nil
	}
	line, err := json.Marshal(v)
	if err != nil {
		return err
	}
	line = append(line, '\n')
	_, err = p.f.Write(line)
	return err
}

func (p *persister) writeConversation(c *Conversation, isNew bool) error {
	if !isNew {
		return nil
	}
	return p.writeLine(stateLine{Type: "conversation", Conversation: c})
}

func (p *persister) writeEntry(e *CapturedEntry) error {
	return p.writeLine(stateLine{Type: "entry", Entry: e})
}

func (p *persister) truncate() error {
	if p.f == nil {
		return nil
	}
	if err := p.f.Truncate(0); err != nil {
		return err
	}
	_, err := p.f.Seek(0, 0)
	return err
}

// loadState replays state.jsonl into memory. Invalid lines are skipped
// with a warning; conversations are expected (but not required) to
// precede their entries, and both are applied idempotently by id.
func (s *Store) loadState() error {
	if s.persist.f == nil {
		return nil
	}

	if _, err := s.persist.f.Seek(0, 0); err != nil {
		return err
	}

	scanner := bufio.NewScanner(s.persist.f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	var maxID uint64
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var sl stateLine
		if err := json.Unmarshal(line, &sl); err != nil {
			s.logger.Warn().Err(err).Msg("skipping invalid state.jsonl line")
			continue
		}

		switch sl.Type {
		case "conversation":
			if sl.Conversation == nil || sl.Conversation.ID == "" {
				continue
			}
			if _, seen := s.conversations[sl.Conversation.ID]; seen {
				continue
			}
			if sl.Conversation.AgentEntryCounts == nil {
				sl.Conversation.AgentEntryCounts = make(map[string]int)
			}
			if sl.Conversation.Roles == nil {
				sl.Conversation.Roles = make(map[string]convo.Role)
			}
			s.conversations[sl.Conversation.ID] = sl.Conversation
		case "entry":
			if sl.Entry == nil {
				continue
			}
			if _, seen := s.entries[sl.Entry.ID]; !seen {
				s.order = append(s.order, sl.Entry.ID)
			}
			s.entries[sl.Entry.ID] = sl.Entry
			if c, ok := s.conversations[sl.Entry.ConversationID]; ok && !slices.Contains(c.EntryIDs, sl.Entry.ID) {
				c.EntryIDs = append(c.EntryIDs, sl.Entry.ID)
			}
			if sl.Entry.ID > maxID {
				maxID = sl.Entry.ID
			}
		default:
			s.logger.Warn().Str("type", sl.Type).Msg("skipping unknown state.jsonl line type")
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanning state file: %w", err)
	}

	s.nextID = maxID
	return nil
}
