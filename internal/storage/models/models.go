package models

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	SenderUser = "user"
	SenderAI   = "ai"
)

// DocumentMetadata is the typed view of a document's metadata blob. Keywords
// is the canonical field; the legal-domain fields are optional extension data
// carried through from extraction when the model returns them. Unknown keys
// survive round-trips via Extra.
type DocumentMetadata struct {
	Keywords []string
	Summary  string
	Location string
	Date     string
	Domain   string
	Ruling   string
	Extra    map[string]interface{}
}

func (m *DocumentMetadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]interface{}, len(m.Extra)+6)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.Keywords != nil {
		out["keywords"] = m.Keywords
	}
	if m.Summary != "" {
		out["summary"] = m.Summary
	}
	if m.Location != "" {
		out["locatie"] = m.Location
	}
	if m.Date != "" {
		out["data"] = m.Date
	}
	if m.Domain != "" {
		out["domeniu"] = m.Domain
	}
	if m.Ruling != "" {
		out["hotarare"] = m.Ruling
	}
	return json.Marshal(out)
}

func (m *DocumentMetadata) UnmarshalJSON(data []byte) error {
	raw := map[string]json.RawMessage{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	take := func(key string, dst interface{}) bool {
		v, ok := raw[key]
		if !ok {
			return false
		}
		if err := json.Unmarshal(v, dst); err != nil {
			return false
		}
		delete(raw, key)
		return true
	}

	take("keywords", &m.Keywords)
	take("summary", &m.Summary)
	take("locatie", &m.Location)
	take("data", &m.Date)
	take("domeniu", &m.Domain)
	take("hotarare", &m.Ruling)

	if len(raw) > 0 {
		m.Extra = make(map[string]interface{}, len(raw))
		for k, v := range raw {
			var val interface{}
			if err := json.Unmarshal(v, &val); err == nil {
				m.Extra[k] = val
			}
		}
	}
	return nil
}

// HasKeywords reports whether keyword extraction has run for this document.
// An empty list still counts: the extractor stores [] for short documents.
func (m *DocumentMetadata) HasKeywords() bool {
	return m != nil && m.Keywords != nil
}

// FlattenKeywords gathers the keyword list plus any populated extension
// fields into one deduplicated, lowercased list for chunk metadata.
func (m *DocumentMetadata) FlattenKeywords() []string {
	if m == nil {
		return nil
	}
	seen := make(map[string]bool)
	var out []string
	add := func(v string) {
		v = strings.ToLower(strings.TrimSpace(v))
		if v == "" || seen[v] {
			return
		}
		seen[v] = true
		out = append(out, v)
	}
	for _, kw := range m.Keywords {
		add(kw)
	}
	add(m.Location)
	add(m.Date)
	add(m.Domain)
	add(m.Ruling)
	return out
}

// Document is a file discovered by a folder scan. Metadata is nil until the
// extraction phase has run; IsUploaded flips once every chunk is in the
// vector store.
type Document struct {
	ID             string
	FilePath       string
	FileExtension  string
	ConversationID string
	Metadata       *DocumentMetadata
	IsUploaded     bool
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// KeywordIndexItem is the projection of a Document used by the in-memory
// keyword index. Metadata carries the keyword list as a JSON string, matching
// the shape the keyword search consumes.
type KeywordIndexItem struct {
	ID       string
	Metadata map[string]string
}

type Conversation struct {
	ID        string
	Title     string
	Summary   string
	CreatedAt time.Time
	UpdatedAt time.Time
}

type Message struct {
	ID             int64
	ConversationID string
	Sender         string
	Text           string
	Metadata       map[string]interface{}
	CreatedAt      time.Time
}
