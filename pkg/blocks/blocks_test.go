package blocks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtract_allSections(t *testing.T) {
	text := "THOUGHTS: the user wants X\n" +
		"PLAN:\nstep one\nstep two\n" +
		"EVIDENCE:\n```\nchunk-007\n```\n" +
		"FINAL_ANSWER: the system shall do X\n" +
		"CRITIQUE: missing measurability\n" +
		"DECISION: PASS\n"

	got := Extract(text)
	assert.Equal(t, "the user wants X", got[Thoughts])
	assert.Equal(t, "step one\nstep two", got[Plan])
	assert.Equal(t, "chunk-007", got[Evidence])
	assert.Equal(t, "the system shall do X", got[FinalAnswer])
	assert.Equal(t, "missing measurability", got[Critique])
	assert.Equal(t, "PASS", got[Decision])
}

func TestExtract_caseInsensitiveAndDashSeparator(t *testing.T) {
	text := "final answer - the system shall log errors\n"
	got := Extract(text)
	assert.Equal(t, "the system shall log errors", got[FinalAnswer])
}

func TestExtract_noHeadersFallsBackToFinalAnswer(t *testing.T) {
	got := Extract("just some plain prose with no labels")
	assert.Equal(t, "just some plain prose with no labels", got[FinalAnswer])
}

func TestExtract_emptyTextYieldsNoSections(t *testing.T) {
	got := Extract("   \n\t ")
	assert.Empty(t, got)
}

func TestUIPayload_prefersFinalAnswer(t *testing.T) {
	b := map[string]string{FinalAnswer: "answer", Decision: "PASS"}
	assert.Equal(t, "answer", UIPayload(b))
}

func TestUIPayload_fallsBackToDecision(t *testing.T) {
	b := map[string]string{Decision: "ACCEPT"}
	assert.Equal(t, "ACCEPT", UIPayload(b))
}

func TestUIPayload_emptyWhenNeitherPresent(t *testing.T) {
	b := map[string]string{Thoughts: "secret reasoning", Critique: "secret critique"}
	assert.Equal(t, "", UIPayload(b))
}

func TestUIPayloadSequence_lastNonEmptyWins(t *testing.T) {
	rounds := []map[string]string{
		{FinalAnswer: "round one answer"},
		{Decision: "PASS"},
		{},
	}
	assert.Equal(t, "round one answer", UIPayloadSequence(rounds))
}

func TestUIPayloadSequence_decisionFallbackAcrossRounds(t *testing.T) {
	rounds := []map[string]string{
		{Decision: "REJECT"},
		{Decision: "ACCEPT"},
	}
	assert.Equal(t, "ACCEPT", UIPayloadSequence(rounds))
}

func TestParseToolCall_canonicalShape(t *testing.T) {
	inv, ok := ParseToolCall(`{"tool": "qdrant_search", "args": {"query": "auth", "limit": 5}}`)
	require.True(t, ok)
	assert.Equal(t, "qdrant_search", inv.Tool)
	assert.Equal(t, "auth", inv.Args["query"])
}

func TestParseToolCall_legacyShape(t *testing.T) {
	inv, ok := ParseToolCall(`{"name": "python_code_execution", "arguments": {"code": "print(1)"}}`)
	require.True(t, ok)
	assert.Equal(t, "python_code_execution", inv.Tool)
	assert.Equal(t, "print(1)", inv.Args["code"])
}

func TestParseToolCall_fencedJSON(t *testing.T) {
	inv, ok := ParseToolCall("```json\n{\"tool\": \"qdrant_search\", \"args\": {}}\n```")
	require.True(t, ok)
	assert.Equal(t, "qdrant_search", inv.Tool)
}

func TestParseToolCall_invalidInputReturnsNotOK(t *testing.T) {
	_, ok := ParseToolCall("not json at all")
	assert.False(t, ok)
}

func TestParseToolCall_emptyInputReturnsNotOK(t *testing.T) {
	_, ok := ParseToolCall("")
	assert.False(t, ok)
}
