package persistence

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/reqminer/pkg/models"
)

// MemoryStore is an in-process Persistence implementation for
// deployments that haven't wired PostgreSQL yet, mirroring
// pkg/vectorstore.MemoryStore's "same interface, in-memory backing"
// shape. Evaluation rows stay append-only in a per-checksum slice, same
// as the postgres adapter's append-only table (spec.md §3 invariant 4).
type MemoryStore struct {
	mu            sync.Mutex
	criteria      []models.Criterion
	evaluations   map[string][]models.Evaluation
	aggregates    map[string]models.AggregateEvaluation
	suggestions   map[string][]models.Suggestion
	rewrites      map[string][]models.RewrittenRequirementRecord
	cache         map[string][]models.CacheRecord
	traces        []models.TraceRecord
}

// NewMemoryStore builds an empty MemoryStore seeded with the default
// rubric weights (1.0 for every spec.md §4.7 default criterion).
func NewMemoryStore() *MemoryStore {
	criteria := make([]models.Criterion, 0, len(models.DefaultCriteriaKeys))
	for _, key := range models.DefaultCriteriaKeys {
		criteria = append(criteria, models.Criterion{Key: key, Weight: 1.0})
	}
	return &MemoryStore{
		criteria:    criteria,
		evaluations: make(map[string][]models.Evaluation),
		aggregates:  make(map[string]models.AggregateEvaluation),
		suggestions: make(map[string][]models.Suggestion),
		rewrites:    make(map[string][]models.RewrittenRequirementRecord),
		cache:       make(map[string][]models.CacheRecord),
	}
}

// LoadCriteria implements Persistence.
func (m *MemoryStore) LoadCriteria(ctx context.Context) ([]models.Criterion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Criterion, len(m.criteria))
	copy(out, m.criteria)
	return out, nil
}

// SaveEvaluationDetail implements Persistence.
func (m *MemoryStore) SaveEvaluationDetail(ctx context.Context, eval models.Evaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if eval.EvaluationID == "" {
		eval.EvaluationID = uuid.NewString()
	}
	if eval.CreatedAt.IsZero() {
		eval.CreatedAt = time.Now()
	}
	m.evaluations[eval.RequirementChecksum] = append(m.evaluations[eval.RequirementChecksum], eval)
	return nil
}

// LatestEvaluationDetails implements Persistence: the newest row per
// criterion for requirementChecksum.
func (m *MemoryStore) LatestEvaluationDetails(ctx context.Context, requirementChecksum string) ([]models.Evaluation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	latest := make(map[string]models.Evaluation)
	for _, eval := range m.evaluations[requirementChecksum] {
		cur, ok := latest[eval.CriterionKey]
		if !ok || eval.CreatedAt.After(cur.CreatedAt) {
			latest[eval.CriterionKey] = eval
		}
	}
	out := make([]models.Evaluation, 0, len(latest))
	for _, eval := range latest {
		out = append(out, eval)
	}
	return out, nil
}

// SaveAggregateEvaluation implements Persistence.
func (m *MemoryStore) SaveAggregateEvaluation(ctx context.Context, agg models.AggregateEvaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if agg.CreatedAt.IsZero() {
		agg.CreatedAt = time.Now()
	}
	m.aggregates[agg.RequirementChecksum] = agg
	return nil
}

// SaveSuggestion implements Persistence.
func (m *MemoryStore) SaveSuggestion(ctx context.Context, s models.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.suggestions[s.RequirementChecksum] = append(m.suggestions[s.RequirementChecksum], s)
	return nil
}

// SuggestionsForChecksum implements Persistence.
func (m *MemoryStore) SuggestionsForChecksum(ctx context.Context, requirementChecksum string) ([]models.Suggestion, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]models.Suggestion, len(m.suggestions[requirementChecksum]))
	copy(out, m.suggestions[requirementChecksum])
	return out, nil
}

// SaveRewrittenRequirement implements Persistence.
func (m *MemoryStore) SaveRewrittenRequirement(ctx context.Context, rec models.RewrittenRequirementRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.rewrites[rec.RequirementChecksum] = append(m.rewrites[rec.RequirementChecksum], rec)
	return nil
}

// GetLatestByChecksum implements Persistence: ArtifactCache's read path.
// Concurrent writes for the same checksum resolve by latest timestamp
// (spec.md §5).
func (m *MemoryStore) GetLatestByChecksum(ctx context.Context, checksum string, scope models.CacheScope) (*models.CacheRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var latest *models.CacheRecord
	for i := range m.cache[checksum] {
		rec := m.cache[checksum][i]
		if rec.Scope != scope {
			continue
		}
		if latest == nil || rec.CreatedAt.After(latest.CreatedAt) {
			recCopy := rec
			latest = &recCopy
		}
	}
	return latest, nil
}

// PutCacheRecord implements Persistence.
func (m *MemoryStore) PutCacheRecord(ctx context.Context, rec models.CacheRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.cache[rec.Checksum] = append(m.cache[rec.Checksum], rec)
	return nil
}

// SaveTraceRecord implements Persistence. Append-only, matching the
// postgres adapter; never read back through this package (spec.md §3
// invariant 5 — trace audit data is a write-only sink from the core's
// perspective).
func (m *MemoryStore) SaveTraceRecord(ctx context.Context, rec models.TraceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	m.traces = append(m.traces, rec)
	return nil
}
