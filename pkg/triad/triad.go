// Package triad implements the Planner/Solver/Verifier reflective
// single-requirement refinement loop (spec.md §4.12), re-expressed per
// spec.md §9's redesign note as an explicit state machine rather than
// the original's async coroutine chain: each transition posts to the
// bus and the next stage runs synchronously, bounded by a per-round
// timeout.
//
// Grounded on arch_team/runtime/sequencer.py (round/reflection control
// flow) and arch_team/agents/{planner,solver,verifier}.py (per-role
// prompts and tool-call handling).
package triad

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/reqminer/pkg/agentctx"
	"github.com/codeready-toolchain/reqminer/pkg/blocks"
	"github.com/codeready-toolchain/reqminer/pkg/bus"
	"github.com/codeready-toolchain/reqminer/pkg/llm"
	"github.com/codeready-toolchain/reqminer/pkg/models"
	"github.com/codeready-toolchain/reqminer/pkg/persistence"
	"github.com/codeready-toolchain/reqminer/pkg/vectorstore"
	"github.com/codeready-toolchain/reqminer/pkg/workbench"
)

// State is a node of the Planning/Solving/Verifying/Done/Failed machine
// (spec.md §9 redesign note).
type State string

const (
	StatePlanning  State = "planning"
	StateSolving   State = "solving"
	StateVerifying State = "verifying"
	StateDone      State = "done"
	StateFailed    State = "failed"
)

const archTraceCollection = "arch_trace"

const basePromptGuard = "General rules for all agents:\n" +
	"- Keep outputs concise and structured.\n" +
	"- Requirements MUST be labeled REQ-### to enable traceability.\n" +
	"- Do not invent tools or APIs; stick to widely used patterns.\n" +
	"- Never remove existing REQ IDs; only add or refine.\n"

// Options configures one Run call. A non-positive MaxRounds or
// RoundTimeout is replaced with its default.
type Options struct {
	MaxRounds    int
	RoundTimeout time.Duration
	Model        string
	Temperature  float64
}

func (o Options) withDefaults() Options {
	if o.MaxRounds <= 0 {
		o.MaxRounds = 3
	}
	if o.RoundTimeout <= 0 {
		o.RoundTimeout = 30 * time.Second
	}
	if o.Temperature <= 0 {
		o.Temperature = 0.2
	}
	return o
}

// Round is one Planner/Solver/Verifier round's blocks, kept for audit.
// THOUGHTS and CRITIQUE never leave this struct into a client-facing
// payload (spec.md §3 invariant 5, §4.12's CoT privacy rule).
type Round struct {
	Index int
	Agent string
	Blocks map[string]string
}

// Outcome is the result of one Run call.
type Outcome struct {
	ReqID     string
	State     State
	Accepted  bool
	TimedOut  bool
	Rounds    []Round
	UIPayload string
	Error     string
}

// Triad drives one reflective refinement loop.
type Triad struct {
	client   llm.ChatClient
	bus      *bus.Bus
	store    persistence.Persistence
	tools    *workbench.Registry
	vstore   vectorstore.VectorStore
	embedder vectorstore.Embedder
	logger   *slog.Logger
}

// New builds a Triad. tools, vstore, and embedder are optional: a nil
// tools registry disables tool invocation, a nil vstore/embedder pair
// disables the Solver's top-k retrieval.
func New(client llm.ChatClient, b *bus.Bus, store persistence.Persistence, tools *workbench.Registry, vstore vectorstore.VectorStore, embedder vectorstore.Embedder) *Triad {
	return &Triad{client: client, bus: b, store: store, tools: tools, vstore: vstore, embedder: embedder, logger: slog.Default()}
}

// Run executes the Planner -> Solver -> Verifier loop for one task/
// requirement, reflecting Solver<->Verifier until PASS, an empty
// critique, max rounds, or a per-round timeout (spec.md §4.12).
func (t *Triad) Run(ctx context.Context, task, reqID, sessionID string, opts Options) (Outcome, error) {
	opts = opts.withDefaults()
	if strings.TrimSpace(task) == "" {
		return Outcome{}, fmt.Errorf("triad: task must not be empty")
	}
	if reqID == "" {
		reqID = "REQ-001"
	}

	correlationID := uuid.NewString()
	mem := agentctx.New(agentctx.DefaultMaxLen)
	outcome := Outcome{ReqID: reqID}

	planBlocks, err := t.plan(ctx, task, reqID, sessionID, correlationID, mem, opts)
	if err != nil {
		outcome.State = StateFailed
		outcome.Error = err.Error()
		return outcome, nil
	}
	outcome.Rounds = append(outcome.Rounds, Round{Index: 0, Agent: "planner", Blocks: planBlocks})
	plan := planBlocks[blocks.Plan]

	var critique string
	for round := 1; round <= opts.MaxRounds; round++ {
		solveBlocks, timedOut, err := t.solve(ctx, task, reqID, sessionID, correlationID, plan, critique, mem, opts)
		if err != nil {
			outcome.State = StateFailed
			outcome.Error = err.Error()
			return outcome, nil
		}
		outcome.Rounds = append(outcome.Rounds, Round{Index: round, Agent: "solver", Blocks: solveBlocks})
		if timedOut {
			outcome.State = StateDone
			outcome.TimedOut = true
			break
		}

		verifyBlocks, timedOut, err := t.verify(ctx, task, reqID, sessionID, correlationID,
			solveBlocks[blocks.FinalAnswer], solveBlocks[blocks.Evidence], mem, opts)
		if err != nil {
			outcome.State = StateFailed
			outcome.Error = err.Error()
			return outcome, nil
		}
		outcome.Rounds = append(outcome.Rounds, Round{Index: round, Agent: "verifier", Blocks: verifyBlocks})
		if timedOut {
			outcome.State = StateDone
			outcome.TimedOut = true
			break
		}

		decision := verifyBlocks[blocks.Decision]
		critique = strings.TrimSpace(verifyBlocks[blocks.Critique])
		if isAccepted(decision) || critique == "" || round == opts.MaxRounds {
			outcome.State = StateDone
			outcome.Accepted = isAccepted(decision)
			break
		}
	}

	outcome.UIPayload = blocks.UIPayloadSequence(roundBlocks(outcome.Rounds))
	return outcome, nil
}

func isAccepted(decision string) bool {
	d := strings.ToUpper(decision)
	return strings.Contains(d, "PASS") || strings.Contains(d, "ACCEPT")
}

func roundBlocks(rounds []Round) []map[string]string {
	out := make([]map[string]string, len(rounds))
	for i, r := range rounds {
		out[i] = r.Blocks
	}
	return out
}

func (t *Triad) plan(ctx context.Context, task, reqID, sessionID, correlationID string, mem *agentctx.Context, opts Options) (map[string]string, error) {
	system := basePromptGuard +
		"You are the Planner. Produce a short execution plan for the team to derive refined requirements.\n" +
		"Output strictly with the following sections:\nTHOUGHTS:\nPLAN:\n"
	user := fmt.Sprintf("Task:\n%s\n\nConstraints:\n- Keep plan minimal (3-6 bullets)\n- Do not include implementation code\n", task)

	content, err := t.completeTurn(ctx, system, user, mem, opts)
	if err != nil {
		return nil, fmt.Errorf("planner: %w", err)
	}

	parsed := blocks.Extract(content)
	if strings.TrimSpace(parsed[blocks.Plan]) == "" {
		parsed[blocks.Plan] = "- Analyze\n- Retrieve context\n- Propose refined requirement\n- Verify\n"
	}

	t.emitTrace(ctx, "planner", reqID, sessionID, correlationID, parsed)
	t.publish(ctx, bus.TopicSolve, reqID, sessionID, correlationID, map[string]any{"agent": "planner", "plan": parsed[blocks.Plan], "req_id": reqID})
	return parsed, nil
}

func (t *Triad) solve(ctx context.Context, task, reqID, sessionID, correlationID, plan, critique string, mem *agentctx.Context, opts Options) (map[string]string, bool, error) {
	memorySection := t.retrieveMemory(ctx, reqID, task)

	system := basePromptGuard +
		"You are the Solver. Use the provided MEMORY (if any) and PLAN to craft a refined requirement.\n" +
		"If you need a tool, you may propose one TOOL_CALL: {\"tool\": \"...\", \"args\": {...}}.\n" +
		"Output strictly with the following sections:\nTHOUGHTS:\nEVIDENCE:\nFINAL_ANSWER:\n"
	user := fmt.Sprintf("Task:\n%s\n\nPlan:\n%s\n\n%sConstraints:\n- Keep output short and actionable\n- Avoid code\n", task, plan, memorySection)
	if critique != "" {
		user += fmt.Sprintf("\nPRIOR_CRITIQUE:\n%s\n", critique)
	}

	roundCtx, cancel := context.WithTimeout(ctx, opts.RoundTimeout)
	defer cancel()

	content, err := t.completeTurn(roundCtx, system, user, mem, opts)
	if err != nil {
		if errors.Is(roundCtx.Err(), context.DeadlineExceeded) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("solver: %w", err)
	}

	parsed := blocks.Extract(content)
	parsed = t.applyToolCall(roundCtx, content, system, mem, opts, parsed)

	t.emitTrace(ctx, "solver", reqID, sessionID, correlationID, parsed)
	t.publish(ctx, bus.TopicVerify, reqID, sessionID, correlationID, map[string]any{
		"agent": "solver", "final_answer": parsed[blocks.FinalAnswer], "evidence": parsed[blocks.Evidence], "req_id": reqID,
	})
	t.publish(ctx, bus.TopicDTO, reqID, sessionID, correlationID, map[string]any{"req_id": reqID, "title": parsed[blocks.FinalAnswer]})
	return parsed, false, nil
}

func (t *Triad) verify(ctx context.Context, task, reqID, sessionID, correlationID, finalAnswer, evidence string, mem *agentctx.Context, opts Options) (map[string]string, bool, error) {
	if strings.TrimSpace(finalAnswer) == "" {
		return map[string]string{blocks.Decision: "REJECT", blocks.Critique: "no final answer produced"}, false, nil
	}

	system := basePromptGuard +
		"You are the Verifier. Given FINAL_ANSWER and EVIDENCE, decide if the requirement is acceptable.\n" +
		"If insufficient or risky, write CRITIQUE with specific issues; else write DECISION with PASS and one-line rationale.\n" +
		"Output strictly with the following sections:\nCRITIQUE:\nDECISION:\n"
	user := fmt.Sprintf("FINAL_ANSWER:\n%s\n\nEVIDENCE:\n%s\n", finalAnswer, evidence)

	roundCtx, cancel := context.WithTimeout(ctx, opts.RoundTimeout)
	defer cancel()

	content, err := t.completeTurn(roundCtx, system, user, mem, opts)
	if err != nil {
		if errors.Is(roundCtx.Err(), context.DeadlineExceeded) {
			return nil, true, nil
		}
		return nil, false, fmt.Errorf("verifier: %w", err)
	}

	parsed := blocks.Extract(content)
	t.emitTrace(ctx, "verifier", reqID, sessionID, correlationID, parsed)
	return parsed, false, nil
}

// completeTurn runs one LLM completion, folding conversation memory in
// and recording both sides of the exchange, matching the original
// agents' ChatCompletionContext usage.
func (t *Triad) completeTurn(ctx context.Context, system, user string, mem *agentctx.Context, opts Options) (string, error) {
	messages := []llm.ConversationMessage{{Role: llm.RoleSystem, Content: system}}
	for _, m := range mem.GetMessages(0) {
		messages = append(messages, llm.ConversationMessage{Role: llm.Role(m.Role), Content: m.Content})
	}
	messages = append(messages, llm.ConversationMessage{Role: llm.RoleUser, Content: user})

	mem.AddMessage(agentctx.RoleUser, user)

	result := t.client.Complete(ctx, llm.CompletionRequest{
		Messages:    messages,
		Temperature: opts.Temperature,
		Model:       opts.Model,
	})
	resp, err := result.Unwrap()
	if err != nil {
		return "", err
	}
	mem.AddMessage(agentctx.RoleAssistant, resp.Content)
	return resp.Content, nil
}

// applyToolCall detects an optional TOOL_CALL block, invokes the named
// tool, and re-issues the Solver turn with the tool evidence folded in,
// whose output supersedes the first (spec.md §4.12). Tool errors never
// surface past this function — only the refined blocks matter upstream.
func (t *Triad) applyToolCall(ctx context.Context, firstContent, system string, mem *agentctx.Context, opts Options, parsed map[string]string) map[string]string {
	if t.tools == nil {
		return parsed
	}
	raw := parsed[blocks.ToolCall]
	if raw == "" {
		raw = firstContent
	}
	invocation, ok := blocks.ParseToolCall(raw)
	if !ok {
		return parsed
	}

	result := t.tools.Call(ctx, invocation.Tool, invocation.Args)
	summary := summarizeToolResult(invocation.Tool, result)
	if summary == "" {
		return parsed
	}
	mem.AddMessage(agentctx.RoleAssistant, fmt.Sprintf("TOOL_EVIDENCE (%s):\n%s", invocation.Tool, summary))

	followUp := fmt.Sprintf("Incorporate the following tool evidence into EVIDENCE and refine FINAL_ANSWER.\n%s\n\nOutput sections: THOUGHTS, EVIDENCE, FINAL_ANSWER.", summary)
	content2, err := t.completeTurn(ctx, system, followUp, mem, opts)
	if err != nil {
		t.logger.Warn("triad: follow-up after tool call failed", "tool", invocation.Tool, "error", err)
		return parsed
	}

	parsed2 := blocks.Extract(content2)
	for _, key := range []string{blocks.Thoughts, blocks.Evidence, blocks.FinalAnswer} {
		if v := strings.TrimSpace(parsed2[key]); v != "" {
			parsed[key] = parsed2[key]
		}
	}
	return parsed
}

func summarizeToolResult(name string, result workbench.Result) string {
	if result.Status != workbench.StatusSuccess {
		return fmt.Sprintf("status=%s error=%s", result.Status, result.Error)
	}
	switch name {
	case "qdrant_search":
		hits, ok := result.Content.([]map[string]any)
		if !ok {
			break
		}
		var lines []string
		for i, h := range hits {
			if i >= 3 {
				break
			}
			lines = append(lines, fmt.Sprintf("- %v | %v | %v | %v", h["id"], h["score"], h["source"], h["snippet"]))
		}
		return strings.Join(lines, "\n")
	case "python_exec":
		content, ok := result.Content.(map[string]any)
		if !ok {
			break
		}
		return fmt.Sprintf("stdout: %v", content["stdout"])
	}
	return fmt.Sprintf("%v", result.Content)
}

// retrieveMemory fetches the Solver's top-k (k=5) context from the
// arch_trace collection, returning a ready-to-embed MEMORY section or
// "" when no store/embedder is configured or nothing is found.
func (t *Triad) retrieveMemory(ctx context.Context, reqID, task string) string {
	if t.vstore == nil || t.embedder == nil {
		return ""
	}
	query := task
	if reqID != "" {
		query = reqID + " " + task
	}
	embedding, err := t.embedder.Embed(ctx, query)
	if err != nil {
		return ""
	}
	hits, err := t.vstore.Search(ctx, archTraceCollection, embedding, 5)
	if err != nil || len(hits) == 0 {
		return ""
	}

	var lines []string
	for _, h := range hits {
		if text, ok := h.Payload["text"].(string); ok && text != "" {
			lines = append(lines, "- "+text)
		}
	}
	if len(lines) == 0 {
		return ""
	}
	return "MEMORY:\n" + strings.Join(lines, "\n") + "\n"
}

// publish is emitTrace's counterpart for the app-level topics (spec.md
// §4.12: the Planner publishes requirements.solve, the Solver publishes
// requirements.verify and requirements.dto). A nil bus is a no-op so the
// triad stays usable in tests that don't wire one.
func (t *Triad) publish(ctx context.Context, topic bus.Topic, reqID, sessionID, correlationID string, message any) {
	if t.bus == nil {
		return
	}
	mctx := bus.MessageContext{CorrelationID: correlationID, ReqID: reqID, SessionID: sessionID}
	_ = t.bus.Publish(ctx, topic, mctx, message)
}

// emitTrace publishes a TOPIC_TRACE event for live observers and
// persists the full round for audit (spec.md §4.12's CoT privacy rule:
// retained here, stripped from any client-facing payload).
func (t *Triad) emitTrace(ctx context.Context, agent, reqID, sessionID, correlationID string, b map[string]string) {
	if t.bus != nil {
		mctx := bus.MessageContext{CorrelationID: correlationID, ReqID: reqID, SessionID: sessionID}
		_ = t.bus.Publish(ctx, bus.TopicTrace, mctx, map[string]any{"agent": agent, "blocks": b, "req_id": reqID})
	}
	if t.store == nil {
		return
	}
	rec := models.TraceRecord{
		Thoughts:  b[blocks.Thoughts],
		Plan:      b[blocks.Plan],
		Evidence:  b[blocks.Evidence],
		Final:     b[blocks.FinalAnswer],
		Critique:  b[blocks.Critique],
		Decision:  b[blocks.Decision],
		Meta:      map[string]string{"correlationId": correlationID},
		ReqID:     reqID,
		AgentType: agent,
		SessionID: sessionID,
		CreatedAt: time.Now(),
	}
	if err := t.store.SaveTraceRecord(ctx, rec); err != nil {
		t.logger.Warn("triad: save trace record failed", "agent", agent, "error", err)
	}
}
