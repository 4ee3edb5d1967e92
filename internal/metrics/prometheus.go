package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ChatDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lexchat_chat_duration_seconds",
			Help:    "Chat turn duration in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
	)

	ChatTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexchat_chat_total",
			Help: "Total chat turns processed",
		},
		[]string{"status"},
	)

	SearchIntentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexchat_search_intent_total",
			Help: "Routed queries by resolved intent kind",
		},
		[]string{"intent"},
	)

	RetrievalResultsCount = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lexchat_retrieval_results_count",
			Help:    "Number of retrieval results per routed query",
			Buckets: []float64{0, 1, 2, 3, 5, 10},
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexchat_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexchat_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexchat_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	ProcessingRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lexchat_processing_runs_total",
			Help: "Total folder processing runs by outcome",
		},
		[]string{"status"},
	)

	DocumentsProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lexchat_documents_processed_total",
			Help: "Total documents processed",
		},
	)

	ChunksUpserted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "lexchat_chunks_upserted_total",
			Help: "Total chunks written to the vector store",
		},
	)
)

func Init() {
	prometheus.MustRegister(ChatDuration)
	prometheus.MustRegister(ChatTotal)
	prometheus.MustRegister(SearchIntentTotal)
	prometheus.MustRegister(RetrievalResultsCount)
	prometheus.MustRegister(LLMTokensUsed)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(ProcessingRunsTotal)
	prometheus.MustRegister(DocumentsProcessed)
	prometheus.MustRegister(ChunksUpserted)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
