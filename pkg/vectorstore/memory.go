package vectorstore

import (
	"context"
	"crypto/sha256"
	"math"
	"sort"
	"sync"
)

// MemoryStore is an in-process VectorStore used by tests and by
// deployments that haven't wired qdrant yet. It implements the same
// cosine-similarity search contract the qdrant adapter does, so
// KGBuilder/MiningAgent/the triad can depend on the interface alone.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Record
}

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]Record)}
}

// EnsureCollection implements VectorStore.
func (m *MemoryStore) EnsureCollection(ctx context.Context, collection string, dims int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[collection]; !ok {
		m.collections[collection] = make(map[string]Record)
	}
	return nil
}

// Upsert implements VectorStore.
func (m *MemoryStore) Upsert(ctx context.Context, collection string, records []Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	coll, ok := m.collections[collection]
	if !ok {
		coll = make(map[string]Record)
		m.collections[collection] = coll
	}
	for _, r := range records {
		coll[r.ID] = r
	}
	return nil
}

// Search implements VectorStore.
func (m *MemoryStore) Search(ctx context.Context, collection string, embedding []float32, topK int) ([]SearchResult, error) {
	return m.SearchFiltered(ctx, collection, embedding, topK, nil)
}

// SearchFiltered implements VectorStore.
func (m *MemoryStore) SearchFiltered(ctx context.Context, collection string, embedding []float32, topK int, filters map[string]string) ([]SearchResult, error) {
	m.mu.Lock()
	coll := m.collections[collection]
	records := make([]Record, 0, len(coll))
	for _, r := range coll {
		records = append(records, r)
	}
	m.mu.Unlock()

	var out []SearchResult
	for _, r := range records {
		if !matchesFilters(r.Payload, filters) {
			continue
		}
		out = append(out, SearchResult{
			ID:      r.ID,
			Score:   cosineSimilarity(embedding, r.Embedding),
			Payload: r.Payload,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if topK > 0 && len(out) > topK {
		out = out[:topK]
	}
	return out, nil
}

func matchesFilters(payload map[string]any, filters map[string]string) bool {
	for k, v := range filters {
		pv, ok := payload[k]
		if !ok || pv != v {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float32 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(magA) * math.Sqrt(magB)))
}

// HashEmbedder is a deterministic, dependency-free Embedder stand-in: it
// maps text to a fixed-width vector via repeated SHA-256 hashing. It is
// not semantically meaningful and exists only so the pipeline can be
// exercised end-to-end without a real embedding-model collaborator.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder builds a HashEmbedder producing vectors of the given
// dimensionality.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = 384
	}
	return &HashEmbedder{dims: dims}
}

// Dimensions implements Embedder.
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed implements Embedder.
func (h *HashEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	out := make([]float32, h.dims)
	block := []byte(text)
	for i := 0; i < h.dims; i += 32 {
		sum := sha256.Sum256(append(block, byte(i/32)))
		for j := 0; j < 32 && i+j < h.dims; j++ {
			out[i+j] = float32(sum[j])/127.5 - 1
		}
	}
	return out, nil
}
