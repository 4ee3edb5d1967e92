package search

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexchat/backend/internal/vector/milvus"
)

func twoPassQuerier(base, filtered []milvus.QueryMatch, filteredErr error) *fakeQuerier {
	return &fakeQuerier{
		queryFn: func(keywords []string) ([]milvus.QueryMatch, error) {
			if len(keywords) == 0 {
				return base, nil
			}
			return filtered, filteredErr
		},
	}
}

func TestHybridSearchBoostsMergedIDs(t *testing.T) {
	querier := twoPassQuerier(
		[]milvus.QueryMatch{match("c1", "d1", 0.60), match("c2", "d2", 0.70)},
		[]milvus.QueryMatch{match("c1", "d1", 0.55)},
		nil,
	)
	vector := NewVectorSearch(&fakeEmbedder{}, querier, nil, "ns", 3, 0.35)
	hybrid := NewHybridSearch(vector, 0.2, 3)

	results, err := hybrid.Search(context.Background(), "query", []string{"contract"})
	require.NoError(t, err)
	require.Len(t, results, 2)

	// c1 appears in both passes, so its semantic score gains the boost and
	// it outranks c2 (0.60+0.2=0.80 over 0.70).
	assert.Equal(t, "c1", results[0].ID)
	require.NotNil(t, results[0].Score)
	assert.InDelta(t, 0.80, *results[0].Score, 1e-9)
	assert.Equal(t, "c2", results[1].ID)
	assert.InDelta(t, 0.70, *results[1].Score, 1e-9)
}

func TestHybridSearchRunsUnfilteredBasePass(t *testing.T) {
	// An untagged chunk that is semantically close must come from the
	// unfiltered pass even though it never matches the keyword filter.
	querier := twoPassQuerier(
		[]milvus.QueryMatch{match("untagged", "d9", 0.95), match("c1", "d1", 0.60)},
		[]milvus.QueryMatch{match("c1", "d1", 0.58)},
		nil,
	)
	vector := NewVectorSearch(&fakeEmbedder{}, querier, nil, "ns", 3, 0.35)
	hybrid := NewHybridSearch(vector, 0.2, 3)

	results, err := hybrid.Search(context.Background(), "query", []string{"contract"})
	require.NoError(t, err)

	require.Len(t, querier.filters, 2)
	assert.Empty(t, querier.filters[0], "first pass runs without a filter")
	assert.Equal(t, []string{"contract"}, querier.filters[1])

	ids := make(map[string]bool)
	for _, r := range results {
		ids[r.ID] = true
	}
	assert.True(t, ids["untagged"])
	assert.Equal(t, "untagged", results[0].ID, "the untagged chunk still wins on raw score")
}

func TestHybridSearchFilteredOnlyMatchIsKept(t *testing.T) {
	querier := twoPassQuerier(
		[]milvus.QueryMatch{match("c1", "d1", 0.60)},
		[]milvus.QueryMatch{match("c3", "d3", 0.50)},
		nil,
	)
	vector := NewVectorSearch(&fakeEmbedder{}, querier, nil, "ns", 3, 0.35)
	hybrid := NewHybridSearch(vector, 0.2, 3)

	results, err := hybrid.Search(context.Background(), "query", []string{"contract"})
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "c1", results[0].ID)
	assert.Equal(t, "c3", results[1].ID)
	assert.InDelta(t, 0.50, *results[1].Score, 1e-9)
}

func TestHybridSearchFilteredPassErrorDegrades(t *testing.T) {
	querier := twoPassQuerier(
		[]milvus.QueryMatch{match("c1", "d1", 0.60)},
		nil,
		errors.New("filter expression rejected"),
	)
	vector := NewVectorSearch(&fakeEmbedder{}, querier, nil, "ns", 3, 0.35)
	hybrid := NewHybridSearch(vector, 0.2, 3)

	results, err := hybrid.Search(context.Background(), "query", []string{"contract"})
	require.NoError(t, err, "a failing keyword pass only costs the boosts")
	require.Len(t, results, 1)
	assert.InDelta(t, 0.60, *results[0].Score, 1e-9)
}

func TestHybridSearchEmptyKeywordsSkipsFilteredPass(t *testing.T) {
	querier := &fakeQuerier{matches: []milvus.QueryMatch{match("c1", "d1", 0.60)}}
	vector := NewVectorSearch(&fakeEmbedder{}, querier, nil, "ns", 3, 0.35)
	hybrid := NewHybridSearch(vector, 0.2, 3)

	results, err := hybrid.Search(context.Background(), "query", nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Len(t, querier.filters, 1, "no keywords means a single semantic pass")
}

func TestHybridSearchTruncatesToTopK(t *testing.T) {
	querier := twoPassQuerier(
		[]milvus.QueryMatch{match("c1", "d1", 0.60), match("c2", "d2", 0.70)},
		[]milvus.QueryMatch{match("c3", "d3", 0.50)},
		nil,
	)
	vector := NewVectorSearch(&fakeEmbedder{}, querier, nil, "ns", 3, 0.35)
	hybrid := NewHybridSearch(vector, 0.2, 2)

	results, err := hybrid.Search(context.Background(), "query", []string{"contract"})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
