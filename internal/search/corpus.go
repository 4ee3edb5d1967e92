package search

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/storage/models"
	"github.com/lexchat/backend/pkg/logger"
)

// DocumentLister is the slice of the document store the corpus needs.
type DocumentLister interface {
	ListUploadedDocuments() ([]models.Document, error)
}

// Corpus is the in-memory view of the indexed documents: the keyword index
// items consumed by keyword search and the lowercase topic set consulted by
// intent identification. It is rebuilt after every ingestion run and read
// under a lock by concurrent chat requests.
type Corpus struct {
	mu     sync.RWMutex
	items  []models.KeywordIndexItem
	topics map[string]bool
}

func NewCorpus() *Corpus {
	return &Corpus{topics: map[string]bool{}}
}

// Rebuild replaces the corpus contents from the uploaded documents in the
// store. Documents without metadata contribute nothing.
func (c *Corpus) Rebuild(store DocumentLister) error {
	docs, err := store.ListUploadedDocuments()
	if err != nil {
		return err
	}

	items := make([]models.KeywordIndexItem, 0, len(docs))
	topics := make(map[string]bool)

	for _, doc := range docs {
		keywords := doc.Metadata.FlattenKeywords()
		if len(keywords) == 0 {
			continue
		}

		encoded, err := json.Marshal(keywords)
		if err != nil {
			logger.Warn("Failed to encode keywords for index",
				zap.String("doc_id", doc.ID),
				zap.Error(err),
			)
			continue
		}

		items = append(items, models.KeywordIndexItem{
			ID:       doc.ID,
			Metadata: map[string]string{"keywords": string(encoded)},
		})
		for _, kw := range keywords {
			topics[kw] = true
		}
	}

	c.mu.Lock()
	c.items = items
	c.topics = topics
	c.mu.Unlock()

	logger.Info("Keyword corpus rebuilt",
		zap.Int("documents", len(items)),
		zap.Int("topics", len(topics)),
	)

	return nil
}

// Items returns a snapshot of the keyword index. Searches run against the
// snapshot, so a rebuild mid-search never tears a result set.
func (c *Corpus) Items() []models.KeywordIndexItem {
	c.mu.RLock()
	defer c.mu.RUnlock()

	snapshot := make([]models.KeywordIndexItem, len(c.items))
	copy(snapshot, c.items)
	return snapshot
}

// Topics returns the lowercase topic list.
func (c *Corpus) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]string, 0, len(c.topics))
	for t := range c.topics {
		out = append(out, t)
	}
	return out
}

// HasTopic reports whether the lowercase term is a known corpus topic.
func (c *Corpus) HasTopic(term string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[term]
}
