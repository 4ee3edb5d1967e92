package search

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lexchat/backend/internal/metrics"
	"github.com/lexchat/backend/pkg/logger"
	"github.com/lexchat/backend/pkg/utils"
)

// ResultCache is the optional cache for routed search responses.
type ResultCache interface {
	GetSearch(ctx context.Context, queryHash string, response interface{}) (bool, error)
	SetSearch(ctx context.Context, queryHash string, response interface{}, ttl time.Duration) error
}

const searchCacheTTL = 10 * time.Minute

// RouteResult is the routed retrieval outcome. Topic is set only for keyword
// intent; Results is nil for conversational queries, where the answer comes
// from conversation context alone.
type RouteResult struct {
	Intent  string   `json:"intent"`
	Topic   string   `json:"topic,omitempty"`
	Results []Result `json:"results"`
}

// Router branches on the query's intent: keyword intent goes to the in-memory
// keyword index, semantic intent to vector search (hybrid when the query
// yields extractable topic terms), and conversational queries skip retrieval
// entirely.
type Router struct {
	processor *QueryProcessor
	keyword   *KeywordSearch
	vector    *VectorSearch
	hybrid    *HybridSearch
	corpus    *Corpus
	cache     ResultCache
}

func NewRouter(processor *QueryProcessor, keyword *KeywordSearch, vector *VectorSearch, hybrid *HybridSearch, corpus *Corpus, cache ResultCache) *Router {
	return &Router{
		processor: processor,
		keyword:   keyword,
		vector:    vector,
		hybrid:    hybrid,
		corpus:    corpus,
		cache:     cache,
	}
}

func (r *Router) Route(ctx context.Context, query string) (*RouteResult, error) {
	queryHash := utils.HashString(query)

	if r.cache != nil {
		var cached RouteResult
		if ok, err := r.cache.GetSearch(ctx, queryHash, &cached); err == nil && ok {
			return &cached, nil
		} else if err != nil {
			logger.Warn("Search cache read failed", zap.Error(err))
		}
	}

	intent, topic := r.processor.IdentifyIntent(ctx, query, r.corpus)
	metrics.SearchIntentTotal.WithLabelValues(intent).Inc()

	if intent == IntentConversational {
		logger.Debug("Conversational query, skipping retrieval")
		return &RouteResult{Intent: IntentConversational}, nil
	}

	var (
		results []Result
		err     error
	)

	if intent == IntentKeyword {
		results = r.keyword.Search(r.corpus.Items(), topic)
	} else {
		keywords := r.processor.ExtractKeywords(ctx, query, r.corpus.Topics())
		if len(keywords) > 0 {
			results, err = r.hybrid.Search(ctx, query, keywords)
		} else {
			results, err = r.vector.Search(ctx, query, nil)
		}
		if err != nil {
			return nil, err
		}
	}

	metrics.RetrievalResultsCount.Observe(float64(len(results)))

	out := &RouteResult{Intent: intent, Topic: topic, Results: results}

	if r.cache != nil {
		if err := r.cache.SetSearch(ctx, queryHash, out, searchCacheTTL); err != nil {
			logger.Warn("Search cache write failed", zap.Error(err))
		}
	}

	logger.Info("Query routed",
		zap.String("intent", intent),
		zap.String("topic", topic),
		zap.Int("results", len(results)),
	)

	return out, nil
}
