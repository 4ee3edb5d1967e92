package search

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/vector/milvus"
	"github.com/lexchat/backend/pkg/logger"
	"github.com/lexchat/backend/pkg/utils"
)

// EmbeddingCache is the optional cache in front of the embedding API.
type EmbeddingCache interface {
	GetEmbedding(ctx context.Context, textHash string) ([]float32, bool, error)
	SetEmbedding(ctx context.Context, textHash string, embedding []float32, ttl time.Duration) error
}

const embeddingCacheTTL = 24 * time.Hour

// VectorSearch embeds the query and retrieves the closest chunks from the
// vector store. Matches under the score threshold are dropped, except that an
// empty post-filter set falls back to the single best raw match so the caller
// always sees the nearest neighbour when anything matched at all.
type VectorSearch struct {
	embedder  Embedder
	querier   VectorQuerier
	cache     EmbeddingCache
	namespace string
	topK      int
	threshold float64
}

func NewVectorSearch(embedder Embedder, querier VectorQuerier, cache EmbeddingCache, namespace string, topK int, threshold float64) *VectorSearch {
	if topK <= 0 {
		topK = 3
	}
	return &VectorSearch{
		embedder:  embedder,
		querier:   querier,
		cache:     cache,
		namespace: namespace,
		topK:      topK,
		threshold: threshold,
	}
}

// Search runs the similarity query. A non-empty keywords list restricts
// matches to chunks tagged with any of the terms. An embedding failure is
// fatal: without a vector there is nothing to search with.
func (s *VectorSearch) Search(ctx context.Context, query string, keywords []string) ([]Result, error) {
	vector, err := s.embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	matches, err := s.querier.Query(ctx, s.namespace, vector, s.topK, keywords)
	if err != nil {
		return nil, fmt.Errorf("failed to query vector store: %w", err)
	}

	results := make([]Result, 0, len(matches))
	for _, m := range matches {
		if m.Score < s.threshold {
			continue
		}
		results = append(results, projectMatch(m))
	}

	if len(results) == 0 && len(matches) > 0 {
		best := matches[0]
		for _, m := range matches[1:] {
			if m.Score > best.Score {
				best = m
			}
		}
		logger.Debug("No match above threshold, falling back to best raw match",
			zap.Float64("score", best.Score),
			zap.Float64("threshold", s.threshold),
		)
		results = append(results, projectMatch(best))
	}

	sort.SliceStable(results, func(i, j int) bool {
		return scoreValue(results[i]) > scoreValue(results[j])
	})

	return results, nil
}

func projectMatch(m milvus.QueryMatch) Result {
	score := m.Score
	return Result{
		ID:       m.ChunkID,
		DocID:    m.DocID,
		Score:    &score,
		Keywords: m.Keywords,
		Summary:  m.Summary,
		Text:     m.Text,
	}
}

func (s *VectorSearch) embed(ctx context.Context, query string) ([]float32, error) {
	if s.cache == nil {
		return s.embedder.GenerateEmbedding(ctx, query)
	}

	hash := utils.HashString(query)
	if cached, ok, err := s.cache.GetEmbedding(ctx, hash); err == nil && ok {
		return cached, nil
	} else if err != nil {
		logger.Warn("Embedding cache read failed", zap.Error(err))
	}

	vector, err := s.embedder.GenerateEmbedding(ctx, query)
	if err != nil {
		return nil, err
	}

	if err := s.cache.SetEmbedding(ctx, hash, vector, embeddingCacheTTL); err != nil {
		logger.Warn("Embedding cache write failed", zap.Error(err))
	}

	return vector, nil
}
