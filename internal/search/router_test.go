package search

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexchat/backend/internal/vector/milvus"
)

func newTestRouter(chat *fakeChat, querier *fakeQuerier, corpus *Corpus) *Router {
	vector := NewVectorSearch(&fakeEmbedder{}, querier, nil, "ns", 3, 0.35)
	hybrid := NewHybridSearch(vector, 0.2, 3)
	return NewRouter(NewQueryProcessor(chat), NewKeywordSearch(0), vector, hybrid, corpus, nil)
}

func TestRouteConversationalSkipsRetrieval(t *testing.T) {
	chat := &fakeChat{replies: []string{"none", "conversational"}}
	querier := &fakeQuerier{matches: []milvus.QueryMatch{match("c1", "d1", 0.9)}}
	router := newTestRouter(chat, querier, corpusWithTopics(t, "contract"))

	out, err := router.Route(context.Background(), "hello there")
	require.NoError(t, err)

	assert.Equal(t, IntentConversational, out.Intent)
	assert.Nil(t, out.Results)
	assert.Empty(t, querier.filters, "conversational queries never hit the vector store")
}

func TestRouteKeywordUsesKeywordIndex(t *testing.T) {
	chat := &fakeChat{replies: []string{"contract"}}
	querier := &fakeQuerier{matches: []milvus.QueryMatch{match("c1", "d1", 0.9)}}
	router := newTestRouter(chat, querier, corpusWithTopics(t, "contract"))

	out, err := router.Route(context.Background(), "what does my contract say")
	require.NoError(t, err)

	assert.Equal(t, IntentKeyword, out.Intent)
	assert.Equal(t, "contract", out.Topic)
	require.Len(t, out.Results, 1)
	assert.Equal(t, "a", out.Results[0].ID, "hit comes from the keyword index, not the vector store")
	assert.Nil(t, out.Results[0].Score, "keyword hits carry no similarity score")
	assert.Empty(t, querier.filters, "keyword intent never hits the vector store")
}

func TestRouteSemanticWithoutExtractedKeywords(t *testing.T) {
	// Topic pick says none, classifier says semantic, extraction finds no
	// topic terms: a single unfiltered vector query.
	chat := &fakeChat{replies: []string{"none", "semantic", "none"}}
	querier := &fakeQuerier{matches: []milvus.QueryMatch{match("c1", "d1", 0.9)}}
	router := newTestRouter(chat, querier, corpusWithTopics(t, "contract"))

	out, err := router.Route(context.Background(), "what do the files say")
	require.NoError(t, err)

	assert.Equal(t, IntentSemantic, out.Intent)
	assert.Empty(t, out.Topic)
	require.Len(t, out.Results, 1)
	require.Len(t, querier.filters, 1)
	assert.Empty(t, querier.filters[0], "semantic search carries no keyword filter")
}

func TestRouteSemanticWithExtractedKeywordsUsesHybrid(t *testing.T) {
	chat := &fakeChat{replies: []string{"none", "semantic", "contract"}}
	querier := &fakeQuerier{matches: []milvus.QueryMatch{match("c1", "d1", 0.9)}}
	router := newTestRouter(chat, querier, corpusWithTopics(t, "contract"))

	out, err := router.Route(context.Background(), "what does the agreement cover")
	require.NoError(t, err)

	assert.Equal(t, IntentSemantic, out.Intent)
	require.Len(t, querier.filters, 2, "hybrid runs an unfiltered and a filtered pass")
	assert.Empty(t, querier.filters[0])
	assert.Equal(t, []string{"contract"}, querier.filters[1])
}
