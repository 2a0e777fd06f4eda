package llm

import "context"

// Role is the speaker of a ConversationMessage.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ConversationMessage is one turn of a chat completion request.
type ConversationMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
	// ToolCallID links a RoleTool message back to the ToolCall it answers.
	ToolCallID string `json:"tool_call_id,omitempty"`
}

// ToolDefinition describes a callable tool offered to the model, in the
// shape ChatClient.Complete expects for forced/auto tool selection.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Schema      map[string]any `json:"schema"`
}

// ToolCall is a model-requested invocation of one of the offered tools.
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// CompletionRequest is the input to ChatClient.Complete.
type CompletionRequest struct {
	Messages    []ConversationMessage
	Tools       []ToolDefinition
	// ToolChoice names a tool the model must call, e.g. "submit_requirements"
	// for the mining pipeline's forced tool-call contract (spec.md §4.6).
	ToolChoice  string
	Temperature float64
	Model       string
}

// CompletionResponse is a successful ChatClient.Complete outcome.
type CompletionResponse struct {
	Content   string
	ToolCalls []ToolCall
	ModelID   string
	LatencyMs int64
}

// ChatClient is the external LLM provider collaborator. Implementations
// must not panic on provider errors — they return Err via the Result
// sum type, and callers (MiningAgent, ValidationDelegator, RewriteDelegator,
// KGBuilder, the Planner/Solver/Verifier triad) branch on it explicitly.
type ChatClient interface {
	Complete(ctx context.Context, req CompletionRequest) Result[CompletionResponse]
}
