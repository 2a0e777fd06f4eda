package rewrite

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/reqminer/pkg/llm"
	"github.com/codeready-toolchain/reqminer/pkg/models"
)

type stubStore struct {
	saved []models.RewrittenRequirementRecord
}

func (s *stubStore) LoadCriteria(ctx context.Context) ([]models.Criterion, error) { return nil, nil }
func (s *stubStore) SaveEvaluationDetail(ctx context.Context, eval models.Evaluation) error {
	return nil
}
func (s *stubStore) LatestEvaluationDetails(ctx context.Context, checksum string) ([]models.Evaluation, error) {
	return nil, nil
}
func (s *stubStore) SaveAggregateEvaluation(ctx context.Context, agg models.AggregateEvaluation) error {
	return nil
}
func (s *stubStore) SaveSuggestion(ctx context.Context, sug models.Suggestion) error { return nil }
func (s *stubStore) SuggestionsForChecksum(ctx context.Context, checksum string) ([]models.Suggestion, error) {
	return nil, nil
}
func (s *stubStore) SaveRewrittenRequirement(ctx context.Context, rec models.RewrittenRequirementRecord) error {
	s.saved = append(s.saved, rec)
	return nil
}
func (s *stubStore) GetLatestByChecksum(ctx context.Context, checksum string, scope models.CacheScope) (*models.CacheRecord, error) {
	return nil, nil
}
func (s *stubStore) PutCacheRecord(ctx context.Context, rec models.CacheRecord) error { return nil }
func (s *stubStore) SaveTraceRecord(ctx context.Context, rec models.TraceRecord) error { return nil }

type stubClient struct {
	texts []string
	calls int
}

func (s *stubClient) Complete(ctx context.Context, req llm.CompletionRequest) llm.Result[llm.CompletionResponse] {
	i := s.calls
	s.calls++
	text := "rewritten"
	if i < len(s.texts) {
		text = s.texts[i]
	}
	return llm.Ok(llm.CompletionResponse{Content: text})
}

type stubValidator struct {
	scores []float64
	calls  int
}

func (v *stubValidator) ValidateOne(ctx context.Context, title string, criteriaKeys []string) (float64, []models.Evaluation, error) {
	i := v.calls
	v.calls++
	score := 0.9
	if i < len(v.scores) {
		score = v.scores[i]
	}
	return score, []models.Evaluation{{CriterionKey: "clarity", Score: score, Passed: score >= 0.7}}, nil
}

func oneFailedReq() RequirementWithEvaluation {
	return RequirementWithEvaluation{
		Requirement: models.Requirement{ReqID: "REQ-1", Title: "It should work well."},
		Evaluations: []models.Evaluation{
			{CriterionKey: "clarity", Score: 0.2, Passed: false, Feedback: "too vague"},
		},
	}
}

func TestDelegator_Rewrite_succeedsOnFirstAttemptWhenTargetReached(t *testing.T) {
	client := &stubClient{texts: []string{"The system shall authenticate users within 2 seconds."}}
	validator := &stubValidator{scores: []float64{0.9}}
	store := &stubStore{}
	d := New(client, validator, store)

	result, err := d.Rewrite(context.Background(), []RequirementWithEvaluation{oneFailedReq()}, Options{EnableRevalidation: true})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, 1, result.Results[0].Attempt)
	require.NotNil(t, result.Results[0].NewScore)
	assert.InDelta(t, 0.9, *result.Results[0].NewScore, 0.001)
	assert.Equal(t, "The system shall authenticate users within 2 seconds.", result.Results[0].RewrittenText)
	assert.Len(t, store.saved, 1)
}

func TestDelegator_Rewrite_loopsUntilMaxAttemptsWhenScoreNeverReachesTarget(t *testing.T) {
	client := &stubClient{texts: []string{"attempt1", "attempt2", "attempt3"}}
	validator := &stubValidator{scores: []float64{0.3, 0.4, 0.5}}
	store := &stubStore{}
	d := New(client, validator, store)

	result, err := d.Rewrite(context.Background(), []RequirementWithEvaluation{oneFailedReq()}, Options{
		EnableRevalidation: true,
		MaxAttempts:        3,
		TargetScore:        0.7,
	})
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, 3, result.Results[0].Attempt)
	assert.InDelta(t, 0.5, *result.Results[0].NewScore, 0.001)
	assert.Contains(t, result.Results[0].ImprovementSummary, "max attempts")
}

func TestDelegator_Rewrite_stripsMarkdownFences(t *testing.T) {
	client := &stubClient{texts: []string{"```\nThe system shall log events.\n```"}}
	validator := &stubValidator{scores: []float64{0.9}}
	store := &stubStore{}
	d := New(client, validator, store)

	result, err := d.Rewrite(context.Background(), []RequirementWithEvaluation{oneFailedReq()}, Options{EnableRevalidation: true})
	require.NoError(t, err)
	assert.Equal(t, "The system shall log events.", result.Results[0].RewrittenText)
}

func TestDelegator_Rewrite_skipsRevalidationWhenDisabled(t *testing.T) {
	client := &stubClient{texts: []string{"rewritten text"}}
	store := &stubStore{}
	d := New(client, nil, store)

	result, err := d.Rewrite(context.Background(), []RequirementWithEvaluation{oneFailedReq()}, Options{EnableRevalidation: false})
	require.NoError(t, err)
	assert.Nil(t, result.Results[0].NewScore)
	assert.Equal(t, "rewritten text", result.Results[0].RewrittenText)
}

type slowClient struct {
	delay time.Duration
}

func (s *slowClient) Complete(ctx context.Context, req llm.CompletionRequest) llm.Result[llm.CompletionResponse] {
	select {
	case <-time.After(s.delay):
		return llm.Ok(llm.CompletionResponse{Content: "The system shall respond eventually."})
	case <-ctx.Done():
		return llm.Err[llm.CompletionResponse](ctx.Err())
	}
}

func TestDelegator_Rewrite_perTaskTimeoutAbortsSlowCompletion(t *testing.T) {
	validator := &stubValidator{scores: []float64{0.9}}
	store := &stubStore{}
	d := New(&slowClient{delay: 200 * time.Millisecond}, validator, store)

	start := time.Now()
	result, err := d.Rewrite(context.Background(), []RequirementWithEvaluation{oneFailedReq()}, Options{
		EnableRevalidation: true,
		Timeout:            20 * time.Millisecond,
	})
	require.NoError(t, err)
	elapsed := time.Since(start)

	require.Len(t, result.Results, 1)
	assert.Equal(t, context.DeadlineExceeded.Error(), result.Results[0].Error)
	assert.Less(t, elapsed, 150*time.Millisecond, "per-task timeout should have aborted the slow call well before its own delay elapsed")
}

type erroringClient struct{}

func (erroringClient) Complete(ctx context.Context, req llm.CompletionRequest) llm.Result[llm.CompletionResponse] {
	return llm.Err[llm.CompletionResponse](assertError{})
}

type assertError struct{}

func (assertError) Error() string { return "provider unavailable" }

func TestDelegator_Rewrite_llmErrorRecordedWithoutAffectingSiblings(t *testing.T) {
	validator := &stubValidator{scores: []float64{0.9}}
	store := &stubStore{}
	d := New(erroringClient{}, validator, store)

	reqs := []RequirementWithEvaluation{oneFailedReq(), {
		Requirement: models.Requirement{ReqID: "REQ-2", Title: "Another vague one."},
		Evaluations: []models.Evaluation{{CriterionKey: "clarity", Score: 0.1, Passed: false}},
	}}
	result, err := d.Rewrite(context.Background(), reqs, Options{EnableRevalidation: true})
	require.NoError(t, err)
	require.Len(t, result.Results, 2)
	for _, r := range result.Results {
		assert.Equal(t, "provider unavailable", r.Error)
	}
}
