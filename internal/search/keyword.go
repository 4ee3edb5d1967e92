package search

import (
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/storage/models"
	"github.com/lexchat/backend/pkg/logger"
)

// KeywordSearch matches documents whose keyword list contains a term. It runs
// over an index snapshot, so results are stable even while the corpus is
// being rebuilt.
type KeywordSearch struct {
	limit int
}

// NewKeywordSearch builds a searcher. A non-positive limit means no
// truncation.
func NewKeywordSearch(limit int) *KeywordSearch {
	return &KeywordSearch{limit: limit}
}

// Search returns documents whose keyword list contains term, compared
// case-insensitively, in input order. Keyword hits carry no similarity score.
// Items with missing or malformed keyword metadata are skipped, never fatal.
func (s *KeywordSearch) Search(items []models.KeywordIndexItem, term string) []Result {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "" {
		return nil
	}

	var results []Result
	for _, item := range items {
		raw, ok := item.Metadata["keywords"]
		if !ok {
			continue
		}

		var keywords []string
		if err := json.Unmarshal([]byte(raw), &keywords); err != nil {
			logger.Debug("Skipping item with malformed keyword metadata",
				zap.String("id", item.ID),
				zap.Error(err),
			)
			continue
		}

		if containsKeyword(keywords, term) {
			results = append(results, Result{
				ID:       item.ID,
				DocID:    item.ID,
				Keywords: keywords,
			})
			if s.limit > 0 && len(results) == s.limit {
				break
			}
		}
	}

	logger.Debug("Keyword search completed",
		zap.String("term", term),
		zap.Int("matches", len(results)),
	)

	return results
}

func containsKeyword(keywords []string, term string) bool {
	for _, kw := range keywords {
		if strings.ToLower(strings.TrimSpace(kw)) == term {
			return true
		}
	}
	return false
}
