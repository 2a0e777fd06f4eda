package validation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/reqminer/pkg/cache"
	"github.com/codeready-toolchain/reqminer/pkg/llm"
	"github.com/codeready-toolchain/reqminer/pkg/models"
)

type memStore struct {
	criteria []models.Criterion
	cache    map[string]models.CacheRecord
}

func newMemStore(criteria []models.Criterion) *memStore {
	return &memStore{criteria: criteria, cache: make(map[string]models.CacheRecord)}
}

func (m *memStore) LoadCriteria(ctx context.Context) ([]models.Criterion, error) { return m.criteria, nil }
func (m *memStore) SaveEvaluationDetail(ctx context.Context, eval models.Evaluation) error { return nil }
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
	rec, ok := m.cache[checksum+"|"+string(scope)]
	if !ok {
		return nil, nil
	}
	return &rec, nil
}
func (m *memStore) PutCacheRecord(ctx context.Context, rec models.CacheRecord) error {
	m.cache[rec.Checksum+"|"+string(rec.Scope)] = rec
	return nil
}
func (m *memStore) SaveTraceRecord(ctx context.Context, rec models.TraceRecord) error { return nil }

type stubClient struct {
	calls int
	build func(call int) llm.Result[llm.CompletionResponse]
}

func (s *stubClient) Complete(ctx context.Context, req llm.CompletionRequest) llm.Result[llm.CompletionResponse] {
	i := s.calls
	s.calls++
	return s.build(i)
}

func passAllResponse() llm.Result[llm.CompletionResponse] {
	return llm.Ok(llm.CompletionResponse{
		ToolCalls: []llm.ToolCall{{
			Name: "submit_evaluation",
			Args: map[string]any{"evaluations": []any{
				map[string]any{"criterion": "clarity", "score": 0.9, "passed": true, "feedback": "clear"},
				map[string]any{"criterion": "testability", "score": 0.8, "passed": true, "feedback": "ok"},
			}},
		}},
	})
}

func TestDelegator_Validate_passVerdictAboveThreshold(t *testing.T) {
	store := newMemStore([]models.Criterion{{Key: "clarity", Weight: 1}, {Key: "testability", Weight: 1}})
	client := &stubClient{build: func(int) llm.Result[llm.CompletionResponse] { return passAllResponse() }}
	d := New(client, store, cache.New(store))

	result, err := d.Validate(context.Background(), []models.Requirement{
		{ReqID: "REQ-abc123-000", Title: "The system shall log in users."},
	}, nil, 0.7, 2, 0)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, models.VerdictPass, result.Results[0].Verdict)
	assert.Equal(t, 1, result.Passed)
	assert.InDelta(t, 0.85, result.Results[0].AggregateScore, 0.001)
}

func TestDelegator_Validate_failVerdictBelowThreshold(t *testing.T) {
	store := newMemStore(nil)
	client := &stubClient{build: func(int) llm.Result[llm.CompletionResponse] {
		return llm.Ok(llm.CompletionResponse{
			ToolCalls: []llm.ToolCall{{
				Name: "submit_evaluation",
				Args: map[string]any{"evaluations": []any{
					map[string]any{"criterion": "clarity", "score": 0.2, "passed": false, "feedback": "vague"},
				}},
			}},
		})
	}}
	d := New(client, store, cache.New(store))

	result, err := d.Validate(context.Background(), []models.Requirement{
		{ReqID: "REQ-x", Title: "It should be nice."},
	}, []string{"clarity"}, 0.7, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, models.VerdictFail, result.Results[0].Verdict)
	assert.Equal(t, 1, result.Failed)
}

func TestDelegator_Validate_errorOnOneRequirementIsolatedFromSiblings(t *testing.T) {
	store := newMemStore(nil)
	client := &stubClient{build: func(call int) llm.Result[llm.CompletionResponse] {
		if call == 0 {
			return llm.Err[llm.CompletionResponse](errors.New("provider down"))
		}
		return passAllResponse()
	}}
	d := New(client, store, cache.New(store))

	result, err := d.Validate(context.Background(), []models.Requirement{
		{ReqID: "REQ-1", Title: "Title one"},
		{ReqID: "REQ-2", Title: "Title two"},
	}, nil, 0.7, 2, 0)
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	assert.Equal(t, 1, result.ErrorCount)
	assert.Equal(t, 1, result.Passed)
}

func TestDelegator_Validate_missingWeightDefaultsToOne(t *testing.T) {
	store := newMemStore([]models.Criterion{{Key: "clarity", Weight: 2}})
	client := &stubClient{build: func(int) llm.Result[llm.CompletionResponse] { return passAllResponse() }}
	d := New(client, store, cache.New(store))

	result, err := d.Validate(context.Background(), []models.Requirement{
		{ReqID: "REQ-1", Title: "Some title"},
	}, nil, 0.7, 1, 0)
	require.NoError(t, err)
	// clarity weight=2 score=0.9, testability weight=1(default) score=0.8
	// weighted mean = (0.9*2 + 0.8*1) / 3
	assert.InDelta(t, (0.9*2+0.8)/3, result.Results[0].AggregateScore, 0.001)
}

func TestDelegator_Validate_perTaskTimeoutAbortsSlowCompletion(t *testing.T) {
	store := newMemStore(nil)
	slow := &slowClient{delay: 200 * time.Millisecond}
	d := New(slow, store, cache.New(store))

	start := time.Now()
	result, err := d.Validate(context.Background(), []models.Requirement{
		{ReqID: "REQ-slow", Title: "The system shall respond within budget."},
	}, nil, 0.7, 1, 20*time.Millisecond)
	require.NoError(t, err)
	elapsed := time.Since(start)

	require.Len(t, result.Results, 1)
	assert.Equal(t, models.VerdictError, result.Results[0].Verdict)
	assert.Less(t, elapsed, 150*time.Millisecond, "per-task timeout should have aborted the slow call well before its own delay elapsed")
}

// slowClient blocks past any configured per-task timeout unless ctx is
// canceled first, so it can assert workerpool.Run actually enforces
// perTaskTimeout rather than letting a stuck ChatClient.Complete hang.
type slowClient struct {
	delay time.Duration
}

func (s *slowClient) Complete(ctx context.Context, req llm.CompletionRequest) llm.Result[llm.CompletionResponse] {
	select {
	case <-time.After(s.delay):
		return passAllResponse()
	case <-ctx.Done():
		return llm.Err[llm.CompletionResponse](ctx.Err())
	}
}

func TestDelegator_Validate_secondIdenticalTitleReadsCacheNotSecondLLMCall(t *testing.T) {
	store := newMemStore(nil)
	client := &stubClient{build: func(int) llm.Result[llm.CompletionResponse] { return passAllResponse() }}
	d := New(client, store, cache.New(store))

	_, err := d.Validate(context.Background(), []models.Requirement{{ReqID: "REQ-1", Title: "Same title"}}, nil, 0.7, 1, 0)
	require.NoError(t, err)
	firstCalls := client.calls

	_, err = d.Validate(context.Background(), []models.Requirement{{ReqID: "REQ-2", Title: "Same title"}}, nil, 0.7, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, firstCalls, client.calls)
}
