// Package tools holds the built-in Workbench occupants: qdrant_search
// (semantic retrieval over arch_trace) and python_code_execution (an
// inert sandboxed-execution slot), grounded on
// arch_team/workbench/tools/qdrant_search.py and
// arch_team/workbench/tools/python_code_execution.py.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/codeready-toolchain/reqminer/pkg/vectorstore"
	"github.com/codeready-toolchain/reqminer/pkg/workbench"
)

// ArchTraceCollection is the VectorStore collection QdrantSearch queries
// (spec.md §6).
const ArchTraceCollection = "arch_trace"

var qdrantSearchSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"query": map[string]any{"type": "string"},
		"top_k": map[string]any{"type": "integer", "default": 5},
	},
	"required":             []string{"query"},
	"additionalProperties": false,
}

// QdrantSearch is the semantic-search tool used by the Planner/Solver/
// Verifier triad for top-k context retrieval.
type QdrantSearch struct {
	store    vectorstore.VectorStore
	embedder vectorstore.Embedder
}

// NewQdrantSearch builds a QdrantSearch tool over the given store and
// embedder.
func NewQdrantSearch(store vectorstore.VectorStore, embedder vectorstore.Embedder) *QdrantSearch {
	return &QdrantSearch{store: store, embedder: embedder}
}

func (t *QdrantSearch) Name() string        { return "qdrant_search" }
func (t *QdrantSearch) Description() string {
	return "Semantic search (Qdrant). Returns minimal hits with id, snippet, source, score."
}
func (t *QdrantSearch) InputSchema() map[string]any { return qdrantSearchSchema }

func (t *QdrantSearch) Validate(args map[string]any) string {
	query, _ := args["query"].(string)
	if strings.TrimSpace(query) == "" {
		return "field 'query' must be a non-empty string"
	}
	if raw, present := args["top_k"]; present {
		n, ok := asInt(raw)
		if !ok || n <= 0 {
			return "field 'top_k' must be a positive integer"
		}
	}
	return ""
}

func (t *QdrantSearch) Run(ctx context.Context, args map[string]any) workbench.Result {
	if t.store == nil || t.embedder == nil {
		return workbench.Fail("retrieval not configured", nil)
	}

	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	topK := 5
	if raw, present := args["top_k"]; present {
		if n, ok := asInt(raw); ok {
			topK = n
		}
	}

	embedding, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return workbench.Fail(fmt.Sprintf("embed query: %v", err), nil)
	}

	hits, err := t.store.Search(ctx, ArchTraceCollection, embedding, topK)
	if err != nil {
		return workbench.Fail(fmt.Sprintf("search arch_trace: %v", err), nil)
	}

	results := make([]map[string]any, 0, len(hits))
	for _, h := range hits {
		snippet, _ := h.Payload["text"].(string)
		snippet = strings.TrimSpace(strings.ReplaceAll(snippet, "\n", " "))
		if len(snippet) > 300 {
			snippet = snippet[:300]
		}
		source, _ := h.Payload["sourceFile"].(string)
		results = append(results, map[string]any{
			"id":      h.ID,
			"snippet": snippet,
			"source":  source,
			"score":   h.Score,
		})
	}
	return workbench.Ok(results, nil)
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	default:
		return 0, false
	}
}
