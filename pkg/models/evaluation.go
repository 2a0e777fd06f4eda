package models

import "time"

// Verdict is the derived pass/fail/error outcome of scoring a requirement
// against the quality rubric.
type Verdict string

const (
	VerdictPass  Verdict = "pass"
	VerdictFail  Verdict = "fail"
	VerdictError Verdict = "error"
)

// Evaluation is a single criterion score for a requirement, identified by
// the SHA-256 checksum of its NFC-normalized title. Evaluations are
// append-only; the latest row per (RequirementChecksum, CriterionKey) is
// authoritative (spec.md §3 invariant 4).
type Evaluation struct {
	EvaluationID         string    `json:"evaluationId"`
	RequirementChecksum  string    `json:"requirementChecksum"`
	CriterionKey         string    `json:"criterionKey"`
	Score                float64   `json:"score"`
	Passed               bool      `json:"passed"`
	Feedback             string    `json:"feedback"`
	ModelID              string    `json:"modelId"`
	LatencyMs            int64     `json:"latencyMs"`
	CreatedAt            time.Time `json:"createdAt"`
}

// Criterion is a weighted rubric dimension used to compute an aggregate
// score. Missing weights default to 1.0 (spec.md §4.7).
type Criterion struct {
	Key    string
	Weight float64
}

// DefaultCriteriaKeys is the rubric used when ValidationDelegator.Validate
// is called without an explicit criteria set (spec.md §4.7).
var DefaultCriteriaKeys = []string{
	"clarity", "testability", "measurability", "atomic", "concise",
	"unambiguous", "consistent_language", "follows_template",
	"design_independent", "purpose_independent",
}

// RewriteResult is the outcome of one rewrite attempt for a requirement
// that failed validation.
type RewriteResult struct {
	ReqID              string   `json:"req_id"`
	OriginalText       string   `json:"originalText"`
	RewrittenText      string   `json:"rewrittenText"`
	AddressedCriteria  []string `json:"addressedCriteria"`
	Attempt            int      `json:"attempt"`
	NewScore           *float64 `json:"newScore,omitempty"`
	Error              string   `json:"error,omitempty"`
	ImprovementSummary string   `json:"improvement_summary,omitempty"`
}
