package triad

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/reqminer/pkg/bus"
	"github.com/codeready-toolchain/reqminer/pkg/llm"
	"github.com/codeready-toolchain/reqminer/pkg/models"
	"github.com/codeready-toolchain/reqminer/pkg/workbench"
)

type sequenceClient struct {
	responses []string
	calls     int
}

func (s *sequenceClient) Complete(ctx context.Context, req llm.CompletionRequest) llm.Result[llm.CompletionResponse] {
	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++
	return llm.Ok(llm.CompletionResponse{Content: s.responses[idx]})
}

type erroringClient struct{}

func (erroringClient) Complete(ctx context.Context, req llm.CompletionRequest) llm.Result[llm.CompletionResponse] {
	return llm.Err[llm.CompletionResponse](assertError{})
}

type assertError struct{}

func (assertError) Error() string { return "provider unavailable" }

type memStore struct {
	traces []models.TraceRecord
}

func (m *memStore) LoadCriteria(ctx context.Context) ([]models.Criterion, error) { return nil, nil }
func (m *memStore) SaveEvaluationDetail(ctx context.Context, eval models.Evaluation) error {
	return nil
}
func (m *memStore) LatestEvaluationDetails(ctx context.Context, checksum string) ([]models.Evaluation, error) {
	return nil, nil
}
func (m *memStore) SaveAggregateEvaluation(ctx context.Context, agg models.AggregateEvaluation) error {
	return nil
}
func (m *memStore) SaveSuggestion(ctx context.Context, s models.Suggestion) error { return nil }
func (m *memStore) SuggestionsForChecksum(ctx context.Context, checksum string) ([]models.Suggestion, error) {
	return nil, nil
}
func (m *memStore) SaveRewrittenRequirement(ctx context.Context, rec models.RewrittenRequirementRecord) error {
	return nil
}
func (m *memStore) GetLatestByChecksum(ctx context.Context, checksum string, scope models.CacheScope) (*models.CacheRecord, error) {
	return nil, nil
}
func (m *memStore) PutCacheRecord(ctx context.Context, rec models.CacheRecord) error { return nil }
func (m *memStore) SaveTraceRecord(ctx context.Context, rec models.TraceRecord) error {
	m.traces = append(m.traces, rec)
	return nil
}

type recordingTool struct {
	calls int
}

func (t *recordingTool) Name() string                    { return "lookup" }
func (t *recordingTool) Description() string              { return "test tool" }
func (t *recordingTool) InputSchema() map[string]any       { return nil }
func (t *recordingTool) Validate(args map[string]any) string { return "" }
func (t *recordingTool) Run(ctx context.Context, args map[string]any) workbench.Result {
	t.calls++
	return workbench.Ok("looked up result", nil)
}

func TestTriad_Run_emptyTaskReturnsError(t *testing.T) {
	tr := New(&sequenceClient{}, nil, nil, nil, nil, nil)
	_, err := tr.Run(context.Background(), "", "REQ-1", "sess-1", Options{})
	assert.Error(t, err)
}

func TestTriad_Run_plannerFailureYieldsFailedStateNotGoError(t *testing.T) {
	tr := New(erroringClient{}, nil, nil, nil, nil, nil)
	outcome, err := tr.Run(context.Background(), "build a login flow", "REQ-1", "sess-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, StateFailed, outcome.State)
	assert.Contains(t, outcome.Error, "provider unavailable")
}

func TestTriad_Run_acceptsOnFirstRoundWhenVerifierPasses(t *testing.T) {
	client := &sequenceClient{responses: []string{
		"THOUGHTS: plan it\nPLAN:\n- step one\n- step two\n",
		"THOUGHTS: solving\nEVIDENCE: some evidence\nFINAL_ANSWER: the system shall log in users\n",
		"CRITIQUE:\nDECISION: PASS, looks good\n",
	}}
	store := &memStore{}
	tr := New(client, nil, store, nil, nil, nil)

	outcome, err := tr.Run(context.Background(), "build a login flow", "REQ-1", "sess-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, StateDone, outcome.State)
	assert.True(t, outcome.Accepted)
	assert.Equal(t, "the system shall log in users", outcome.UIPayload)
	assert.Len(t, outcome.Rounds, 3) // planner, solver, verifier
	assert.Len(t, store.traces, 3)
}

func TestTriad_Run_reflectsOnCritiqueThenAccepts(t *testing.T) {
	client := &sequenceClient{responses: []string{
		"THOUGHTS: plan it\nPLAN:\n- step one\n",
		"THOUGHTS: first pass\nEVIDENCE: thin\nFINAL_ANSWER: draft answer\n",
		"CRITIQUE: too vague\nDECISION: REJECT\n",
		"THOUGHTS: refined\nEVIDENCE: stronger\nFINAL_ANSWER: the system shall authenticate users via OAuth2\n",
		"CRITIQUE:\nDECISION: PASS\n",
	}}
	tr := New(client, nil, nil, nil, nil, nil)

	outcome, err := tr.Run(context.Background(), "build a login flow", "REQ-1", "sess-1", Options{MaxRounds: 3})
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)
	assert.Equal(t, "the system shall authenticate users via OAuth2", outcome.UIPayload)
	assert.Len(t, outcome.Rounds, 5) // planner + 2 solver rounds + 2 verifier rounds
}

func TestTriad_Run_exhaustsMaxRoundsWithoutAccept(t *testing.T) {
	client := &sequenceClient{responses: []string{
		"PLAN:\n- step\n",
		"FINAL_ANSWER: draft 1\n",
		"CRITIQUE: still bad\nDECISION: REJECT\n",
		"FINAL_ANSWER: draft 2\n",
		"CRITIQUE: still bad\nDECISION: REJECT\n",
	}}
	tr := New(client, nil, nil, nil, nil, nil)

	outcome, err := tr.Run(context.Background(), "build a login flow", "REQ-1", "sess-1", Options{MaxRounds: 2})
	require.NoError(t, err)
	assert.Equal(t, StateDone, outcome.State)
	assert.False(t, outcome.Accepted)
}

func TestTriad_Run_emptyCritiqueStopsReflectionEvenWithoutPass(t *testing.T) {
	client := &sequenceClient{responses: []string{
		"PLAN:\n- step\n",
		"FINAL_ANSWER: draft\n",
		"CRITIQUE:\nDECISION: REJECT\n", // no critique text -> loop stops anyway
	}}
	tr := New(client, nil, nil, nil, nil, nil)

	outcome, err := tr.Run(context.Background(), "build a login flow", "REQ-1", "sess-1", Options{MaxRounds: 5})
	require.NoError(t, err)
	assert.False(t, outcome.Accepted)
	assert.Len(t, outcome.Rounds, 3)
}

func TestTriad_Run_toolCallInvokesRegistryAndFollowUpSupersedesFirstAnswer(t *testing.T) {
	client := &sequenceClient{responses: []string{
		"PLAN:\n- step\n",
		"THOUGHTS: need data\nEVIDENCE: none yet\nFINAL_ANSWER: draft\nTOOL_CALL: {\"tool\": \"lookup\", \"args\": {\"q\": \"x\"}}\n",
		"THOUGHTS: updated\nEVIDENCE: combined\nFINAL_ANSWER: refined answer using tool evidence\n",
		"CRITIQUE:\nDECISION: PASS\n",
	}}
	tool := &recordingTool{}
	registry := workbench.New()
	require.NoError(t, registry.Register(tool))

	tr := New(client, nil, nil, registry, nil, nil)
	outcome, err := tr.Run(context.Background(), "build a login flow", "REQ-1", "sess-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, tool.calls)
	assert.Equal(t, "refined answer using tool evidence", outcome.UIPayload)
}

func TestTriad_Run_publishesSolveVerifyAndDTOTopics(t *testing.T) {
	client := &sequenceClient{responses: []string{
		"THOUGHTS: plan it\nPLAN:\n- step one\n",
		"THOUGHTS: solving\nEVIDENCE: some evidence\nFINAL_ANSWER: the system shall log in users\n",
		"CRITIQUE:\nDECISION: PASS\n",
	}}
	b := bus.New(nil)

	var mu sync.Mutex
	seen := map[bus.Topic]int{}
	for _, topic := range []bus.Topic{bus.TopicSolve, bus.TopicVerify, bus.TopicDTO} {
		topic := topic
		b.Subscribe(topic, "test-observer", func(ctx context.Context, mctx bus.MessageContext, message any) error {
			mu.Lock()
			defer mu.Unlock()
			seen[topic]++
			assert.Equal(t, "REQ-1", mctx.ReqID)
			return nil
		})
	}

	tr := New(client, b, nil, nil, nil, nil)
	outcome, err := tr.Run(context.Background(), "build a login flow", "REQ-1", "sess-1", Options{})
	require.NoError(t, err)
	assert.True(t, outcome.Accepted)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, seen[bus.TopicSolve])
	assert.Equal(t, 1, seen[bus.TopicVerify])
	assert.Equal(t, 1, seen[bus.TopicDTO])
}

func TestTriad_Run_defaultReqIDWhenOmitted(t *testing.T) {
	client := &sequenceClient{responses: []string{
		"PLAN:\n- step\n",
		"FINAL_ANSWER: draft\n",
		"DECISION: PASS\n",
	}}
	tr := New(client, nil, nil, nil, nil, nil)
	outcome, err := tr.Run(context.Background(), "task", "", "sess-1", Options{})
	require.NoError(t, err)
	assert.Equal(t, "REQ-001", outcome.ReqID)
}
