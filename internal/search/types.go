package search

import (
	"context"

	"github.com/lexchat/backend/internal/llm"
	"github.com/lexchat/backend/internal/vector/milvus"
)

// Intent values produced by the query processor.
const (
	IntentKeyword        = "keyword"
	IntentSemantic       = "semantic"
	IntentConversational = "conversational"
)

// Result is one retrieved item in the unified result shape. Score is nil for
// keyword-index hits, which carry no similarity score.
type Result struct {
	ID       string   `json:"id"`
	DocID    string   `json:"doc_id"`
	Score    *float64 `json:"score"`
	Keywords []string `json:"keywords"`
	Summary  string   `json:"summary,omitempty"`
	Text     string   `json:"text"`
}

func scoreValue(r Result) float64 {
	if r.Score == nil {
		return 0
	}
	return *r.Score
}

// ChatService is the slice of the LLM client the query processor needs.
type ChatService interface {
	Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error)
}

// Embedder produces query embeddings.
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) ([]float32, error)
}

// VectorQuerier runs similarity queries against the vector store. A non-empty
// keyword list restricts matches to chunks tagged with any of the terms.
type VectorQuerier interface {
	Query(ctx context.Context, namespace string, vector []float32, topK int, keywords []string) ([]milvus.QueryMatch, error)
}
