// Package rewrite implements RewriteDelegator: feedback-driven rewriting
// of requirements that failed validation, with an optional re-validation
// loop (spec.md §4.8).
package rewrite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/codeready-toolchain/reqminer/pkg/cache"
	"github.com/codeready-toolchain/reqminer/pkg/llm"
	"github.com/codeready-toolchain/reqminer/pkg/models"
	"github.com/codeready-toolchain/reqminer/pkg/persistence"
	"github.com/codeready-toolchain/reqminer/pkg/workerpool"
)

// ieee29148Template is appended to every rewrite prompt, grounded on
// arch_team/agents/rewrite_worker.py's IEEE_29148_TEMPLATE constant.
const ieee29148Template = `
The system shall [ACTION] [OBJECT] [CONSTRAINT].

Acceptance Criteria:
- GIVEN [precondition]
- WHEN [trigger]
- THEN [expected outcome]
- AND [additional verification]
`

// criteriaImprovements is the fixed lookup table of canonical improvement
// hints per criterion (spec.md §4.8 step 1).
var criteriaImprovements = map[string]string{
	"clarity":              "Use precise, unambiguous language. Define all technical terms.",
	"testability":          "Add specific acceptance criteria with GIVEN-WHEN-THEN format.",
	"measurability":        "Include quantifiable metrics (numbers, percentages, time limits).",
	"atomic":                "Focus on a single, indivisible requirement. Split compound requirements.",
	"design_independent":   "Describe WHAT, not HOW. Avoid implementation details.",
	"unambiguous":          "Remove vague terms like 'should', 'may', 'approximately'. Be explicit.",
	"concise":              "Remove unnecessary words while keeping all essential information.",
	"consistent_language":  "Use standard terminology consistently throughout.",
	"purpose_independent":  "Focus on the requirement itself, not the business rationale.",
	"follows_template":     "Use structured format: Actor + Action + Object + Constraint + Acceptance.",
}

func improvementHint(criterion string) string {
	if hint, ok := criteriaImprovements[criterion]; ok {
		return hint
	}
	return "Improve this aspect."
}

// RequirementWithEvaluation is one RewriteDelegator input: a requirement
// that failed validation, paired with its per-criterion evaluation rows.
type RequirementWithEvaluation struct {
	Requirement models.Requirement
	Evaluations []models.Evaluation
}

// Validator re-scores a rewritten requirement text. RewriteDelegator
// depends on it only through this narrow interface so re-validation can
// be swapped independently of ValidationDelegator's full batch API.
type Validator interface {
	ValidateOne(ctx context.Context, title string, criteriaKeys []string) (score float64, evaluations []models.Evaluation, err error)
}

// Options configures one Rewrite call (spec.md §4.8).
type Options struct {
	MaxConcurrent      int
	MaxAttempts        int
	TargetScore        float64
	EnableRevalidation bool
	// RevalidationConcurrency sizes the separate re-validation semaphore
	// that keeps re-scoring from starving the rewrite pool.
	RevalidationConcurrency int
	// Timeout bounds each requirement's rewrite task (spec.md §4.5/§5); a
	// non-positive value means no per-task deadline.
	Timeout time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxConcurrent <= 0 {
		o.MaxConcurrent = 3
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.TargetScore <= 0 {
		o.TargetScore = 0.7
	}
	if o.RevalidationConcurrency <= 0 {
		o.RevalidationConcurrency = 5
	}
	return o
}

// BatchRewriteResult is the aggregate outcome of one Rewrite call.
type BatchRewriteResult struct {
	Total       int
	Results     []models.RewriteResult
	TotalTimeMs int64
}

// Delegator is the RewriteDelegator.
type Delegator struct {
	client    llm.ChatClient
	validator Validator
	store     persistence.Persistence
}

// New builds a Delegator from its collaborators. validator may be nil
// only if opts.EnableRevalidation is always false.
func New(client llm.ChatClient, validator Validator, store persistence.Persistence) *Delegator {
	return &Delegator{client: client, validator: validator, store: store}
}

// Rewrite implements RewriteDelegator.Rewrite (spec.md §4.8). Attempts
// within one requirement are sequential; requirements run in parallel up
// to opts.MaxConcurrent.
func (d *Delegator) Rewrite(ctx context.Context, failed []RequirementWithEvaluation, opts Options) (BatchRewriteResult, error) {
	start := time.Now()
	opts = opts.withDefaults()

	revalSem := make(chan struct{}, opts.RevalidationConcurrency)

	outcomes := workerpool.Run(ctx, failed, func(ctx context.Context, item RequirementWithEvaluation) (models.RewriteResult, error) {
		return d.rewriteOne(ctx, item, opts, revalSem), nil
	}, opts.MaxConcurrent, opts.Timeout, nil)

	batch := BatchRewriteResult{Total: len(failed), TotalTimeMs: time.Since(start).Milliseconds()}
	for _, o := range outcomes {
		batch.Results = append(batch.Results, o.Value)
		_ = d.store.SaveRewrittenRequirement(ctx, models.RewrittenRequirementRecord{
			RequirementChecksum: cache.Checksum(o.Value.OriginalText),
			Result:              o.Value,
			CreatedAt:           time.Now(),
		})
	}
	return batch, nil
}

func (d *Delegator) rewriteOne(ctx context.Context, item RequirementWithEvaluation, opts Options, revalSem chan struct{}) models.RewriteResult {
	originalText := item.Requirement.Title
	currentText := originalText
	currentEvals := item.Evaluations

	var best models.RewriteResult
	best.ReqID = item.Requirement.ReqID
	best.OriginalText = originalText

	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		prompt := buildPrompt(currentText, currentEvals)

		resp := d.client.Complete(ctx, llm.CompletionRequest{
			Messages: []llm.ConversationMessage{
				{Role: llm.RoleSystem, Content: "You are a Requirements Engineering expert following IEEE 29148 standards."},
				{Role: llm.RoleUser, Content: prompt},
			},
			Temperature: 0.3,
		})

		completion, err := resp.Unwrap()
		if err != nil {
			best.Error = err.Error()
			best.Attempt = attempt
			return best
		}

		rewritten := stripFences(completion.Content)
		best.RewrittenText = rewritten
		best.Attempt = attempt
		best.AddressedCriteria = failedCriteriaKeys(currentEvals)

		if !opts.EnableRevalidation || d.validator == nil {
			best.ImprovementSummary = fmt.Sprintf("attempt %d, re-validation disabled", attempt)
			return best
		}

		newScore, newEvals, err := d.revalidate(ctx, rewritten, criteriaKeysOf(currentEvals), revalSem)
		if err != nil {
			best.Error = err.Error()
			return best
		}
		best.NewScore = &newScore

		if newScore >= opts.TargetScore {
			best.ImprovementSummary = fmt.Sprintf("reached target score %.2f on attempt %d", newScore, attempt)
			return best
		}

		if attempt < opts.MaxAttempts {
			currentText = rewritten
			currentEvals = newEvals
			continue
		}

		best.ImprovementSummary = fmt.Sprintf("max attempts (%d) reached, best score %.2f", opts.MaxAttempts, newScore)
	}

	return best
}

func (d *Delegator) revalidate(ctx context.Context, text string, criteriaKeys []string, sem chan struct{}) (float64, []models.Evaluation, error) {
	sem <- struct{}{}
	defer func() { <-sem }()
	return d.validator.ValidateOne(ctx, text, criteriaKeys)
}

func buildPrompt(originalText string, evals []models.Evaluation) string {
	var failing []models.Evaluation
	for _, e := range evals {
		if !e.Passed {
			failing = append(failing, e)
		}
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TASK: Rewrite the following requirement to address ALL failed quality criteria.\n\n")
	fmt.Fprintf(&b, "ORIGINAL REQUIREMENT:\n%q\n\n", originalText)
	fmt.Fprintf(&b, "FAILED QUALITY CRITERIA (%d issues):\n", len(failing))
	for i, e := range failing {
		fmt.Fprintf(&b, "%d. %s (Score: %.2f)\n   Problem: %s\n   Solution: %s\n",
			i+1, strings.ToUpper(e.CriterionKey), e.Score, e.Feedback, improvementHint(e.CriterionKey))
	}
	fmt.Fprintf(&b, "\nREQUIRED OUTPUT FORMAT (IEEE 29148):\n%s\n", ieee29148Template)
	b.WriteString("RULES:\n")
	b.WriteString("1. Address EVERY failed criterion listed above\n")
	b.WriteString("2. Use precise, measurable language (specific numbers, not \"fast\" or \"small\")\n")
	b.WriteString("3. Include acceptance criteria in GIVEN-WHEN-THEN format\n")
	b.WriteString("4. Keep the original intent and functionality\n")
	b.WriteString("5. Output ONLY the rewritten requirement, nothing else\n")
	return b.String()
}

func failedCriteriaKeys(evals []models.Evaluation) []string {
	var out []string
	for _, e := range evals {
		if !e.Passed {
			out = append(out, e.CriterionKey)
		}
	}
	return out
}

func criteriaKeysOf(evals []models.Evaluation) []string {
	out := make([]string, len(evals))
	for i, e := range evals {
		out[i] = e.CriterionKey
	}
	return out
}

// stripFences removes a single leading/trailing markdown code fence (with
// an optional language tag) and trims surrounding whitespace.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	lines := strings.Split(s, "\n")
	if len(lines) < 2 {
		return s
	}
	lines = lines[1:]
	if len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "```" {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
