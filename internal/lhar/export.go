package lhar

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/context-lens/sidecar/internal/store"
)

// ConversationSource is the subset of Store's read API an export needs.
type ConversationSource interface {
	GetConversation(id string) (*store.Conversation, []*store.CapturedEntry, bool)
	GetConversations() map[string]*store.Conversation
}

// BuildExport gathers session headers and records for one conversation
// (conversationID != "") or every conversation in the store.
func BuildExport(src ConversationSource, conversationID string, privacy Privacy, capture RawCaptureReader) ([]SessionHeader, []Record) {
	var conversations []*store.Conversation
	if conversationID != "" {
		c, entries, ok := src.GetConversation(conversationID)
		if !ok {
			return nil, nil
		}
		return []SessionHeader{BuildSessionHeader(c)}, BuildRecords(c, entries, privacy, capture)
	}

	all := src.GetConversations()
	for _, c := range all {
		conversations = append(conversations, c)
	}

	var headers []SessionHeader
	var records []Record
	for _, c := range conversations {
		_, entries, ok := src.GetConversation(c.ID)
		if !ok {
			continue
		}
		headers = append(headers, BuildSessionHeader(c))
		records = append(records, BuildRecords(c, entries, privacy, capture)...)
	}
	return headers, records
}

// WriteJSONL writes one {"type":"session",...} line per session header
// followed by one {"type":"entry",...} line per record.
func WriteJSONL(w io.Writer, headers []SessionHeader, records []Record) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, h := range headers {
		if err := enc.Encode(h); err != nil {
			return err
		}
	}
	for _, r := range records {
		if err := enc.Encode(r); err != nil {
			return err
		}
	}
	return bw.Flush()
}

// WriteWrapped writes the {"lhar": {version, creator, sessions, entries}}
// document form.
func WriteWrapped(w io.Writer, headers []SessionHeader, records []Record) error {
	doc := Document{LHAR: Archive{
		Version:  version,
		Creator:  creator,
		Sessions: headers,
		Entries:  records,
	}}
	if headers == nil {
		doc.LHAR.Sessions = []SessionHeader{}
	}
	if records == nil {
		doc.LHAR.Entries = []Record{}
	}
	enc := json.NewEncoder(w)
	return enc.Encode(doc)
}
