package models

import "time"

// CacheScope distinguishes the two kinds of artifacts ArtifactCache stores.
type CacheScope string

const (
	CacheScopeEvaluation CacheScope = "evaluation"
	CacheScopeRewrite    CacheScope = "rewrite"
)

// CacheRecord is one checksum-addressed cache entry. Payload is an
// opaque, caller-defined JSON blob (a serialized Evaluation or
// RewriteResult); ArtifactCache never interprets it.
type CacheRecord struct {
	Checksum  string     `json:"checksum"`
	Scope     CacheScope `json:"scope"`
	Payload   []byte     `json:"payload"`
	CreatedAt time.Time  `json:"createdAt"`
}

// AggregateEvaluation is the rolled-up verdict for one requirement
// checksum: the weighted mean of its per-criterion Evaluation rows
// (spec.md §4.7).
type AggregateEvaluation struct {
	RequirementChecksum string    `json:"requirementChecksum"`
	AggregateScore      float64   `json:"aggregateScore"`
	Verdict             Verdict   `json:"verdict"`
	CreatedAt           time.Time `json:"createdAt"`
}

// Suggestion is one atomic improvement suggestion for a single
// requirement, stored and read by requirement checksum through
// Persistence.
type Suggestion struct {
	RequirementChecksum string `json:"requirementChecksum"`
	CriterionKey        string `json:"criterionKey"`
	Text                string `json:"text"`
}

// RewrittenRequirementRecord is the persisted form of a RewriteResult,
// keyed by the checksum of the requirement it rewrote.
type RewrittenRequirementRecord struct {
	RequirementChecksum string    `json:"requirementChecksum"`
	Result              RewriteResult `json:"result"`
	CreatedAt           time.Time `json:"createdAt"`
}
