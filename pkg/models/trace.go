package models

import "time"

// TraceRecord is the full audit record of one Planner/Solver/Verifier
// round, persisted for observability but never surfaced to end-user UI in
// full (spec.md §3 invariant 5). Use blocks.UIPayload to derive the
// client-safe projection.
type TraceRecord struct {
	Thoughts  string
	Plan      string
	Evidence  string
	Final     string
	Critique  string
	Decision  string
	Meta      map[string]string
	ReqID     string
	AgentType string
	SessionID string
	CreatedAt time.Time
}

// ClarificationQuestion represents one outstanding question the guided
// pipeline has posed to the operator for a session. Only one may be
// outstanding per SessionID at a time (spec.md §3).
type ClarificationQuestion struct {
	QuestionID  string     `json:"questionId"`
	SessionID   string     `json:"sessionId"`
	Question    string     `json:"question"`
	Suggestions []string   `json:"suggestions,omitempty"`
	CreatedAt   time.Time  `json:"createdAt"`
	Answer      *string    `json:"answer,omitempty"`
	AnsweredAt  *time.Time `json:"answeredAt,omitempty"`
}
