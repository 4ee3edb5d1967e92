package search

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/lexchat/backend/pkg/logger"
)

// HybridSearch runs the same unfiltered semantic query as VectorSearch and,
// when keywords are supplied, a second vector-store query restricted to chunks
// tagged with those keywords. The two result sets are merged by id: an id
// present in both gets the boost added to its semantic-pass score, so a chunk
// that is both semantically close and keyword-tagged outranks either signal
// alone. The semantic pass is authoritative; a failing keyword pass only costs
// the boosts.
type HybridSearch struct {
	vector *VectorSearch
	boost  float64
	topK   int
}

func NewHybridSearch(vector *VectorSearch, boost float64, topK int) *HybridSearch {
	if topK <= 0 {
		topK = 3
	}
	return &HybridSearch{
		vector: vector,
		boost:  boost,
		topK:   topK,
	}
}

func (s *HybridSearch) Search(ctx context.Context, query string, keywords []string) ([]Result, error) {
	base, err := s.vector.Search(ctx, query, nil)
	if err != nil {
		return nil, err
	}

	var filtered []Result
	if len(keywords) > 0 {
		filtered, err = s.vector.Search(ctx, query, keywords)
		if err != nil {
			logger.Warn("Keyword-filtered pass failed, using semantic results only",
				zap.Strings("keywords", keywords),
				zap.Error(err),
			)
			filtered = nil
		}
	}

	index := make(map[string]int, len(base))
	for i, r := range base {
		index[r.ID] = i
	}

	boosted := 0
	for _, f := range filtered {
		if i, ok := index[f.ID]; ok {
			score := scoreValue(base[i]) + s.boost
			base[i].Score = &score
			boosted++
		} else {
			base = append(base, f)
			index[f.ID] = len(base) - 1
		}
	}

	sort.SliceStable(base, func(i, j int) bool {
		return scoreValue(base[i]) > scoreValue(base[j])
	})
	if len(base) > s.topK {
		base = base[:s.topK]
	}

	logger.Debug("Hybrid search completed",
		zap.Strings("keywords", keywords),
		zap.Int("semantic", len(index)),
		zap.Int("filtered", len(filtered)),
		zap.Int("boosted", boosted),
	)

	return base, nil
}
