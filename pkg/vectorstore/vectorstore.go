// Package vectorstore defines the VectorStore and Embedder external
// collaborator contracts used by KGBuilder's node/edge persistence, the
// DuplicateDetector's embeddings, and the Planner/Solver/Verifier
// triad's top-k context retrieval. A concrete adapter lives in
// pkg/vectorstore/qdrant.
package vectorstore

import "context"

// Record is one point to upsert: an embedding vector plus an opaque
// payload and collection-scoped ID.
type Record struct {
	ID        string
	Embedding []float32
	Payload   map[string]any
}

// SearchResult is one hit from a similarity search.
type SearchResult struct {
	ID      string
	Score   float32
	Payload map[string]any
}

// VectorStore is the vector-database external collaborator. Collection
// names are the ones fixed by spec.md §6: requirements_v2, kg_nodes_v1,
// kg_edges_v1, arch_trace.
type VectorStore interface {
	EnsureCollection(ctx context.Context, collection string, dims int) error
	Upsert(ctx context.Context, collection string, records []Record) error
	Search(ctx context.Context, collection string, embedding []float32, topK int) ([]SearchResult, error)
	SearchFiltered(ctx context.Context, collection string, embedding []float32, topK int, filters map[string]string) ([]SearchResult, error)
}

// Embedder is the embedding-model external collaborator. Vector
// dimension matches the configured model (spec.md §6: 384 for a compact
// sentence-transformer, 1536 for OpenAI-style).
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimensions() int
}
