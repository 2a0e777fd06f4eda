// Package validation implements ValidationDelegator: parallel scoring of
// requirements against a weighted rubric (spec.md §4.7).
package validation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/codeready-toolchain/reqminer/pkg/cache"
	"github.com/codeready-toolchain/reqminer/pkg/llm"
	"github.com/codeready-toolchain/reqminer/pkg/models"
	"github.com/codeready-toolchain/reqminer/pkg/persistence"
	"github.com/codeready-toolchain/reqminer/pkg/workerpool"
)

// RequirementResult is the per-requirement outcome of one Validate call.
type RequirementResult struct {
	ReqID          string
	Title          string
	AggregateScore float64
	Verdict        models.Verdict
	Evaluations    []models.Evaluation
	Error          string
}

// BatchResult is the aggregate outcome of one Validate call (spec.md §4.7).
type BatchResult struct {
	Total       int
	Passed      int
	Failed      int
	ErrorCount  int
	Results     []RequirementResult
	TotalTimeMs int64
}

// Delegator is the ValidationDelegator.
type Delegator struct {
	client  llm.ChatClient
	store   persistence.Persistence
	cache   *cache.Cache
	flight  singleflight.Group
}

// New builds a Delegator from its collaborators.
func New(client llm.ChatClient, store persistence.Persistence, artifactCache *cache.Cache) *Delegator {
	return &Delegator{client: client, store: store, cache: artifactCache}
}

type evaluatedCriterion struct {
	Criterion string  `json:"criterion"`
	Score     float64 `json:"score"`
	Passed    bool    `json:"passed"`
	Feedback  string  `json:"feedback"`
}

type evaluationPayload struct {
	Evaluations []evaluatedCriterion `json:"evaluations"`
}

var submitEvaluationSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"evaluations": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"criterion": map[string]any{"type": "string"},
					"score":     map[string]any{"type": "number"},
					"passed":    map[string]any{"type": "boolean"},
					"feedback":  map[string]any{"type": "string"},
				},
			},
		},
	},
}

// Validate scores requirements against the rubric in parallel, up to
// maxConcurrent at a time, each task bounded by perTaskTimeout (spec.md
// §4.5/§4.7). A zero criteriaKeys slice uses models.DefaultCriteriaKeys;
// a non-positive threshold defaults to 0.7; a non-positive maxConcurrent
// defaults to 5; a non-positive perTaskTimeout means no per-task deadline.
func (d *Delegator) Validate(ctx context.Context, requirements []models.Requirement, criteriaKeys []string, threshold float64, maxConcurrent int, perTaskTimeout time.Duration) (BatchResult, error) {
	start := time.Now()
	if len(criteriaKeys) == 0 {
		criteriaKeys = models.DefaultCriteriaKeys
	}
	if threshold <= 0 {
		threshold = 0.7
	}
	if maxConcurrent <= 0 {
		maxConcurrent = 5
	}

	weights, err := d.weights(ctx)
	if err != nil {
		return BatchResult{}, fmt.Errorf("validation: load criteria: %w", err)
	}

	outcomes := workerpool.Run(ctx, requirements, func(ctx context.Context, req models.Requirement) (RequirementResult, error) {
		return d.validateOne(ctx, req, criteriaKeys, weights, threshold)
	}, maxConcurrent, perTaskTimeout, nil)

	batch := BatchResult{Total: len(requirements), TotalTimeMs: time.Since(start).Milliseconds()}
	for _, o := range outcomes {
		r := o.Value
		batch.Results = append(batch.Results, r)
		switch r.Verdict {
		case models.VerdictPass:
			batch.Passed++
		case models.VerdictFail:
			batch.Failed++
		default:
			batch.ErrorCount++
		}
	}
	return batch, nil
}

// ValidateOne re-scores a single requirement title against criteriaKeys,
// bypassing the cache so a rewritten draft is always freshly evaluated.
// It satisfies rewrite.Validator for RewriteDelegator's re-validation loop
// (spec.md §4.8 step 3).
func (d *Delegator) ValidateOne(ctx context.Context, title string, criteriaKeys []string) (float64, []models.Evaluation, error) {
	weights, err := d.weights(ctx)
	if err != nil {
		return 0, nil, fmt.Errorf("validation: load criteria: %w", err)
	}
	evals, err := d.evaluate(ctx, models.Requirement{Title: title}, criteriaKeys)
	if err != nil {
		return 0, nil, err
	}
	return aggregate(evals, weights), evals, nil
}

func (d *Delegator) weights(ctx context.Context) (map[string]float64, error) {
	criteria, err := d.store.LoadCriteria(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(criteria))
	for _, c := range criteria {
		out[c.Key] = c.Weight
	}
	return out, nil
}

func weightOf(weights map[string]float64, key string) float64 {
	if w, ok := weights[key]; ok {
		return w
	}
	return 1.0
}

// validateOne scores a single requirement. A cache hit for the title's
// checksum short-circuits the LLM call entirely; the cache lookup does not
// take criteriaKeys into account, so a cached evaluation is reused
// whatever criteria it was scored against. An in-flight duplicate with
// the same checksum and criteriaKeys within the same batch is coalesced
// via singleflight so two identical requirement titles issue only one
// evaluation call (spec.md §4.2 read-path determinism).
func (d *Delegator) validateOne(ctx context.Context, req models.Requirement, criteriaKeys []string, weights map[string]float64, threshold float64) (RequirementResult, error) {
	checksum := cache.Checksum(req.Title)

	if cached, ok := d.fromCache(ctx, checksum); ok {
		return d.toResult(req, cached, weights, threshold), nil
	}

	flightKey := checksum + "|" + joinKeys(criteriaKeys)
	raw, err, _ := d.flight.Do(flightKey, func() (any, error) {
		if cached, ok := d.fromCache(ctx, checksum); ok {
			return cached, nil
		}
		evals, err := d.evaluate(ctx, req, criteriaKeys)
		if err != nil {
			return nil, err
		}
		d.persist(ctx, checksum, evals, weights, threshold)
		return evals, nil
	})
	if err != nil {
		return RequirementResult{
			ReqID:   req.ReqID,
			Title:   req.Title,
			Verdict: models.VerdictError,
			Error:   err.Error(),
		}, nil
	}

	return d.toResult(req, raw.([]models.Evaluation), weights, threshold), nil
}

func (d *Delegator) fromCache(ctx context.Context, checksum string) ([]models.Evaluation, bool) {
	rec, err := d.cache.GetLatestByChecksum(ctx, checksum, models.CacheScopeEvaluation)
	if err != nil || rec == nil {
		return nil, false
	}
	var evals []models.Evaluation
	if err := json.Unmarshal(rec.Payload, &evals); err != nil {
		return nil, false
	}
	return evals, true
}

func (d *Delegator) persist(ctx context.Context, checksum string, evals []models.Evaluation, weights map[string]float64, threshold float64) {
	for _, e := range evals {
		_ = d.store.SaveEvaluationDetail(ctx, e)
	}
	agg := aggregate(evals, weights)
	_ = d.store.SaveAggregateEvaluation(ctx, models.AggregateEvaluation{
		RequirementChecksum: checksum,
		AggregateScore:      agg,
		Verdict:             verdictFor(agg, threshold),
		CreatedAt:           time.Now(),
	})
	if payload, err := json.Marshal(evals); err == nil {
		_ = d.cache.Put(ctx, models.CacheRecord{
			Checksum:  checksum,
			Scope:     models.CacheScopeEvaluation,
			Payload:   payload,
			CreatedAt: time.Now(),
		})
	}
}

func (d *Delegator) toResult(req models.Requirement, evals []models.Evaluation, weights map[string]float64, threshold float64) RequirementResult {
	agg := aggregate(evals, weights)
	return RequirementResult{
		ReqID:          req.ReqID,
		Title:          req.Title,
		AggregateScore: agg,
		Verdict:        verdictFor(agg, threshold),
		Evaluations:    evals,
	}
}

func aggregate(evals []models.Evaluation, weights map[string]float64) float64 {
	if len(evals) == 0 {
		return 0
	}
	var sumScore, sumWeight float64
	for _, e := range evals {
		w := weightOf(weights, e.CriterionKey)
		sumScore += e.Score * w
		sumWeight += w
	}
	if sumWeight == 0 {
		return 0
	}
	return sumScore / sumWeight
}

func verdictFor(aggregate, threshold float64) models.Verdict {
	if aggregate >= threshold {
		return models.VerdictPass
	}
	return models.VerdictFail
}

func (d *Delegator) evaluate(ctx context.Context, req models.Requirement, criteriaKeys []string) ([]models.Evaluation, error) {
	resp := d.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.ConversationMessage{
			{Role: llm.RoleSystem, Content: "Score the requirement against each listed criterion in [0,1]."},
			{Role: llm.RoleUser, Content: promptFor(req, criteriaKeys)},
		},
		Tools: []llm.ToolDefinition{{
			Name:        "submit_evaluation",
			Description: "Submit the per-criterion scores for this requirement.",
			Schema:      submitEvaluationSchema,
		}},
		ToolChoice:  "submit_evaluation",
		Temperature: 0.0,
	})

	completion, err := resp.Unwrap()
	if err != nil {
		return nil, err
	}

	var items []evaluatedCriterion
	for _, call := range completion.ToolCalls {
		if call.Name == "submit_evaluation" {
			items = itemsFromArgs(call.Args)
			break
		}
	}
	if items == nil {
		var payload evaluationPayload
		if err := json.Unmarshal([]byte(completion.Content), &payload); err != nil {
			return nil, fmt.Errorf("validation: no tool call and unparsable content: %w", err)
		}
		items = payload.Evaluations
	}

	checksum := cache.Checksum(req.Title)
	now := time.Now()
	evals := make([]models.Evaluation, 0, len(items))
	for _, it := range items {
		evals = append(evals, models.Evaluation{
			RequirementChecksum: checksum,
			CriterionKey:        it.Criterion,
			Score:                it.Score,
			Passed:               it.Passed,
			Feedback:             it.Feedback,
			ModelID:              completion.ModelID,
			LatencyMs:            completion.LatencyMs,
			CreatedAt:            now,
		})
	}
	return evals, nil
}

func itemsFromArgs(args map[string]any) []evaluatedCriterion {
	raw, ok := args["evaluations"]
	if !ok {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var items []evaluatedCriterion
	if err := json.Unmarshal(encoded, &items); err != nil {
		return nil
	}
	return items
}

func promptFor(req models.Requirement, criteriaKeys []string) string {
	return fmt.Sprintf("Requirement: %q\nCriteria: %s", req.Title, joinKeys(criteriaKeys))
}

func joinKeys(keys []string) string {
	out := ""
	for i, k := range keys {
		if i > 0 {
			out += ","
		}
		out += k
	}
	return out
}
