// Package events defines the PipelineOrchestrator's per-session event
// stream: discriminated event types delivered over SSE, and the bounded
// queue that applies spec.md §4.11's back-pressure policy (droppable
// agent_message events, guaranteed workflow_status/workflow_result).
//
// Grounded on the teacher's pkg/events (PostgreSQL NOTIFY/LISTEN +
// WebSocket fan-out): this package keeps the discriminated-event-type
// vocabulary and channel-per-session addressing but trades the
// WebSocket/NOTIFY transport for the spec's SSE framing and an in-memory
// bounded queue, since reqminer's stream is single-pod and
// request-scoped rather than cross-pod.
package events

import "time"

// Type discriminates the four event shapes a session's stream carries
// (spec.md §4.11).
type Type string

const (
	TypeWorkflowStatus        Type = "workflow_status"
	TypeAgentMessage          Type = "agent_message"
	TypeWorkflowResult        Type = "workflow_result"
	TypeClarificationQuestion Type = "clarification_question"
)

// Status values for a StatusPayload.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// StatusPayload is the payload of a workflow_status event.
type StatusPayload struct {
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// AgentMessagePayload is the payload of an agent_message event.
type AgentMessagePayload struct {
	Agent     string    `json:"agent"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// ResultPayload is the payload of a workflow_result event: the final
// aggregated pipeline output, opaque to this package (the orchestrator
// supplies its own Report struct as Data).
type ResultPayload struct {
	Data any `json:"data"`
}

// ClarificationQuestion is one guided-mode question posed mid-workflow
// (spec.md §4.11; the polling/timeout contract lives in spec.md §5:
// a 300-second hard timeout after which the workflow proceeds with
// defaults and emits an agent_message "no answer (timeout)").
type ClarificationQuestion struct {
	ID       string   `json:"id"`
	Prompt   string   `json:"prompt"`
	Options  []string `json:"options,omitempty"`
}

// ClarificationPayload is the payload of a clarification_question event.
type ClarificationPayload struct {
	Question ClarificationQuestion `json:"question"`
}

// Event is one message on a session's stream. Exactly one of the typed
// payload fields is populated, matching Type.
type Event struct {
	Type      Type      `json:"type"`
	SessionID string    `json:"-"`
	Status    *StatusPayload        `json:"status,omitempty"`
	Message   *AgentMessagePayload  `json:"message,omitempty"`
	Result    *ResultPayload        `json:"result,omitempty"`
	Question  *ClarificationPayload `json:"question,omitempty"`
}

// NewStatus builds a workflow_status event.
func NewStatus(status, errMsg string) Event {
	return Event{Type: TypeWorkflowStatus, Status: &StatusPayload{Status: status, Error: errMsg}}
}

// NewAgentMessage builds an agent_message event.
func NewAgentMessage(agent, message string) Event {
	return Event{Type: TypeAgentMessage, Message: &AgentMessagePayload{Agent: agent, Message: message, Timestamp: timeNow()}}
}

// NewResult builds a workflow_result event.
func NewResult(data any) Event {
	return Event{Type: TypeWorkflowResult, Result: &ResultPayload{Data: data}}
}

// NewClarification builds a clarification_question event.
func NewClarification(q ClarificationQuestion) Event {
	return Event{Type: TypeClarificationQuestion, Question: &ClarificationPayload{Question: q}}
}

// critical reports whether ev's type must never be dropped by a full
// Stream queue (spec.md §4.11's back-pressure rule).
func (e Event) critical() bool {
	return e.Type == TypeWorkflowStatus || e.Type == TypeWorkflowResult
}

// timeNow is a seam so tests can avoid depending on wall-clock time by
// constructing Event literals directly instead of via NewAgentMessage.
var timeNow = time.Now
