package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/codeready-toolchain/reqminer/pkg/models"
	"github.com/google/uuid"
)

// LoadCriteria implements persistence.Persistence.
func (c *Client) LoadCriteria(ctx context.Context) ([]models.Criterion, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT key, weight FROM criterion`)
	if err != nil {
		return nil, fmt.Errorf("load criteria: %w", err)
	}
	defer rows.Close()

	var out []models.Criterion
	for rows.Next() {
		var cr models.Criterion
		if err := rows.Scan(&cr.Key, &cr.Weight); err != nil {
			return nil, fmt.Errorf("scan criterion: %w", err)
		}
		out = append(out, cr)
	}
	return out, rows.Err()
}

// SaveEvaluationDetail implements persistence.Persistence.
func (c *Client) SaveEvaluationDetail(ctx context.Context, eval models.Evaluation) error {
	if eval.EvaluationID == "" {
		eval.EvaluationID = uuid.NewString()
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO evaluation_detail
			(evaluation_id, requirement_checksum, criterion_key, score, passed, feedback, model_id, latency_ms, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		eval.EvaluationID, eval.RequirementChecksum, eval.CriterionKey, eval.Score,
		eval.Passed, eval.Feedback, eval.ModelID, eval.LatencyMs,
	)
	if err != nil {
		return fmt.Errorf("save evaluation detail: %w", err)
	}
	return nil
}

// LatestEvaluationDetails implements persistence.Persistence: the newest
// row per criterion for requirementChecksum (spec.md §3 invariant 4).
func (c *Client) LatestEvaluationDetails(ctx context.Context, requirementChecksum string) ([]models.Evaluation, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT DISTINCT ON (criterion_key)
			evaluation_id, requirement_checksum, criterion_key, score, passed, feedback, model_id, latency_ms, created_at
		FROM evaluation_detail
		WHERE requirement_checksum = $1
		ORDER BY criterion_key, created_at DESC`, requirementChecksum)
	if err != nil {
		return nil, fmt.Errorf("latest evaluation details: %w", err)
	}
	defer rows.Close()

	var out []models.Evaluation
	for rows.Next() {
		var e models.Evaluation
		if err := rows.Scan(&e.EvaluationID, &e.RequirementChecksum, &e.CriterionKey,
			&e.Score, &e.Passed, &e.Feedback, &e.ModelID, &e.LatencyMs, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evaluation detail: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveAggregateEvaluation implements persistence.Persistence.
func (c *Client) SaveAggregateEvaluation(ctx context.Context, agg models.AggregateEvaluation) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO evaluation (requirement_checksum, aggregate_score, verdict, created_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (requirement_checksum) DO UPDATE
			SET aggregate_score = EXCLUDED.aggregate_score,
			    verdict = EXCLUDED.verdict,
			    created_at = EXCLUDED.created_at`,
		agg.RequirementChecksum, agg.AggregateScore, string(agg.Verdict),
	)
	if err != nil {
		return fmt.Errorf("save aggregate evaluation: %w", err)
	}
	return nil
}

// SaveSuggestion implements persistence.Persistence.
func (c *Client) SaveSuggestion(ctx context.Context, s models.Suggestion) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO suggestion (requirement_checksum, criterion_key, text, created_at)
		VALUES ($1, $2, $3, now())`,
		s.RequirementChecksum, s.CriterionKey, s.Text,
	)
	if err != nil {
		return fmt.Errorf("save suggestion: %w", err)
	}
	return nil
}

// SuggestionsForChecksum implements persistence.Persistence.
func (c *Client) SuggestionsForChecksum(ctx context.Context, requirementChecksum string) ([]models.Suggestion, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT requirement_checksum, criterion_key, text
		FROM suggestion WHERE requirement_checksum = $1 ORDER BY id`, requirementChecksum)
	if err != nil {
		return nil, fmt.Errorf("suggestions for checksum: %w", err)
	}
	defer rows.Close()

	var out []models.Suggestion
	for rows.Next() {
		var s models.Suggestion
		if err := rows.Scan(&s.RequirementChecksum, &s.CriterionKey, &s.Text); err != nil {
			return nil, fmt.Errorf("scan suggestion: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SaveRewrittenRequirement implements persistence.Persistence.
func (c *Client) SaveRewrittenRequirement(ctx context.Context, rec models.RewrittenRequirementRecord) error {
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO rewritten_requirement
			(requirement_checksum, req_id, original_text, rewritten_text, attempt, new_score, improvement_summary, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())`,
		rec.RequirementChecksum, rec.Result.ReqID, rec.Result.OriginalText, rec.Result.RewrittenText,
		rec.Result.Attempt, rec.Result.NewScore, rec.Result.ImprovementSummary, rec.Result.Error,
	)
	if err != nil {
		return fmt.Errorf("save rewritten requirement: %w", err)
	}
	return nil
}

// SaveTraceRecord implements persistence.Persistence.
func (c *Client) SaveTraceRecord(ctx context.Context, rec models.TraceRecord) error {
	meta, err := json.Marshal(rec.Meta)
	if err != nil {
		return fmt.Errorf("marshal trace meta: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		INSERT INTO trace_record
			(req_id, session_id, agent_type, thoughts, plan, evidence, final, critique, decision, meta, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())`,
		rec.ReqID, rec.SessionID, rec.AgentType, rec.Thoughts, rec.Plan,
		rec.Evidence, rec.Final, rec.Critique, rec.Decision, meta,
	)
	if err != nil {
		return fmt.Errorf("save trace record: %w", err)
	}
	return nil
}

// GetLatestByChecksum implements persistence.Persistence (ArtifactCache's
// read path).
func (c *Client) GetLatestByChecksum(ctx context.Context, checksum string, scope models.CacheScope) (*models.CacheRecord, error) {
	var rec models.CacheRecord
	var payload []byte
	row := c.db.QueryRowContext(ctx, `
		SELECT checksum, scope, payload, created_at
		FROM artifact_cache
		WHERE checksum = $1 AND scope = $2
		ORDER BY created_at DESC
		LIMIT 1`, checksum, string(scope))

	if err := row.Scan(&rec.Checksum, (*string)(&rec.Scope), &payload, &rec.CreatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get latest by checksum: %w", err)
	}
	rec.Payload = payload
	return &rec, nil
}

// PutCacheRecord implements persistence.Persistence (ArtifactCache's
// write path). Inserts are append-only; reads resolve ties by newest
// created_at, so concurrent writers for the same checksum never block
// each other (spec.md §5).
func (c *Client) PutCacheRecord(ctx context.Context, rec models.CacheRecord) error {
	var payload json.RawMessage = rec.Payload
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO artifact_cache (checksum, scope, payload, created_at)
		VALUES ($1, $2, $3, now())`,
		rec.Checksum, string(rec.Scope), payload,
	)
	if err != nil {
		return fmt.Errorf("put cache record: %w", err)
	}
	return nil
}
