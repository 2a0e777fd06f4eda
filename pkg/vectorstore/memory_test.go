package vectorstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_upsertAndSearchRanksBySimilarity(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.EnsureCollection(ctx, "kg_nodes_v1", 3))

	require.NoError(t, store.Upsert(ctx, "kg_nodes_v1", []Record{
		{ID: "a", Embedding: []float32{1, 0, 0}},
		{ID: "b", Embedding: []float32{0, 1, 0}},
		{ID: "c", Embedding: []float32{0.9, 0.1, 0}},
	}))

	results, err := store.Search(ctx, "kg_nodes_v1", []float32{1, 0, 0}, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "a", results[0].ID)
	assert.Equal(t, "c", results[1].ID)
}

func TestMemoryStore_searchFilteredRespectsPayloadFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, "requirements_v2", []Record{
		{ID: "r1", Embedding: []float32{1, 0}, Payload: map[string]any{"tag": "security"}},
		{ID: "r2", Embedding: []float32{1, 0}, Payload: map[string]any{"tag": "ux"}},
	}))

	results, err := store.SearchFiltered(ctx, "requirements_v2", []float32{1, 0}, 10, map[string]string{"tag": "security"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "r1", results[0].ID)
}

func TestHashEmbedder_deterministicAndCorrectDimensionality(t *testing.T) {
	e := NewHashEmbedder(64)
	a, err := e.Embed(context.Background(), "the system shall")
	require.NoError(t, err)
	b, err := e.Embed(context.Background(), "the system shall")
	require.NoError(t, err)

	assert.Equal(t, 64, len(a))
	assert.Equal(t, a, b)
}

func TestHashEmbedder_differentTextsYieldDifferentVectors(t *testing.T) {
	e := NewHashEmbedder(32)
	a, _ := e.Embed(context.Background(), "alpha")
	b, _ := e.Embed(context.Background(), "beta")
	assert.NotEqual(t, a, b)
}
