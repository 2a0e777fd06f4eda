// Package persistence defines the relational-storage external
// collaborator contract: the `evaluation`, `evaluation_detail`,
// `suggestion`, `rewritten_requirement`, and `criterion` tables of
// spec.md §6, plus the checksum-addressed cache records ArtifactCache
// needs. A concrete adapter lives in pkg/persistence/postgres.
package persistence

import (
	"context"

	"github.com/codeready-toolchain/reqminer/pkg/models"
)

// Persistence is the relational store collaborator. All methods must be
// safe for concurrent use; KG persistence batches are transactional per
// call (spec.md §5).
type Persistence interface {
	// LoadCriteria returns the configured rubric weights. Criteria absent
	// from the store default to weight 1.0 at the call site.
	LoadCriteria(ctx context.Context) ([]models.Criterion, error)

	// SaveEvaluationDetail appends one per-criterion evaluation row.
	// Evaluations are append-only (spec.md §3 invariant 4).
	SaveEvaluationDetail(ctx context.Context, eval models.Evaluation) error

	// LatestEvaluationDetails returns the newest row per criterion for
	// requirementChecksum.
	LatestEvaluationDetails(ctx context.Context, requirementChecksum string) ([]models.Evaluation, error)

	// SaveAggregateEvaluation upserts the rolled-up verdict for a
	// requirement checksum.
	SaveAggregateEvaluation(ctx context.Context, agg models.AggregateEvaluation) error

	// SaveSuggestion persists one atomic improvement suggestion.
	SaveSuggestion(ctx context.Context, s models.Suggestion) error

	// SuggestionsForChecksum returns all suggestions recorded for a
	// requirement checksum.
	SuggestionsForChecksum(ctx context.Context, requirementChecksum string) ([]models.Suggestion, error)

	// SaveRewrittenRequirement persists one rewrite attempt's outcome.
	SaveRewrittenRequirement(ctx context.Context, rec models.RewrittenRequirementRecord) error

	// GetLatestByChecksum implements ArtifactCache's read path: the most
	// recent CacheRecord for (checksum, scope), or nil if none exists.
	GetLatestByChecksum(ctx context.Context, checksum string, scope models.CacheScope) (*models.CacheRecord, error)

	// PutCacheRecord implements ArtifactCache's write path. Writes are
	// idempotent; concurrent writes for the same checksum are resolved
	// by "latest timestamp wins" in read queries (spec.md §5).
	PutCacheRecord(ctx context.Context, rec models.CacheRecord) error

	// SaveTraceRecord persists one Planner/Solver/Verifier round for
	// audit (spec.md §4.12's CoT privacy rule: full blocks are retained
	// here even though they never reach the client stream). Append-only.
	SaveTraceRecord(ctx context.Context, rec models.TraceRecord) error
}
