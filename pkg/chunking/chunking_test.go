package chunking

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngine_Chunk_whitespaceRoundTrip(t *testing.T) {
	e := New(WithTokenizer(WhitespaceTokenizer))
	text := "one two three four five six seven eight nine ten"

	windows := e.Chunk(text, 1, 4, 0)
	require.NotEmpty(t, windows)

	var rejoined []string
	for _, w := range windows {
		rejoined = append(rejoined, w)
	}
	assert.Equal(t, "one two three four five six seven eight nine ten", joinSpace(rejoined))
}

func joinSpace(ws []string) string {
	out := ws[0]
	for _, w := range ws[1:] {
		out += " " + w
	}
	return out
}

func TestEngine_Chunk_overlapProducesOverlappingWindows(t *testing.T) {
	e := New(WithTokenizer(WhitespaceTokenizer))
	text := "a b c d e f g h"
	windows := e.Chunk(text, 1, 4, 2)
	require.GreaterOrEqual(t, len(windows), 2)
	assert.Contains(t, windows[1], "c")
}

func TestEngine_Chunk_dropsShortWindowsUnlessEmpty(t *testing.T) {
	e := New(WithTokenizer(WhitespaceTokenizer))
	windows := e.Chunk("a b c d e f g", 4, 4, 0)
	for _, w := range windows {
		assert.GreaterOrEqual(t, len(wordsIn(w)), 4)
	}
}

func TestEngine_Chunk_singleShortWindowKeptWhenResultWouldBeEmpty(t *testing.T) {
	e := New(WithTokenizer(WhitespaceTokenizer))
	windows := e.Chunk("a b", 10, 10, 0)
	require.Len(t, windows, 1)
	assert.Equal(t, "a b", windows[0])
}

func TestEngine_Chunk_clampsInvalidParams(t *testing.T) {
	e := New(WithTokenizer(WhitespaceTokenizer))
	windows := e.Chunk("a b c d e f", 10, 4, 10)
	assert.NotEmpty(t, windows)
}

func TestEngine_Chunk_emptyTextYieldsNoWindows(t *testing.T) {
	e := New(WithTokenizer(WhitespaceTokenizer))
	assert.Empty(t, e.Chunk("   ", 1, 4, 0))
}

func TestEngine_NeighborRechunk_forcesSplitWhenStillSingleWindow(t *testing.T) {
	e := New(WithTokenizer(WhitespaceTokenizer))
	windows := e.NeighborRechunk("alpha beta")
	assert.Len(t, windows, 2)
}

func TestEngine_NeighborRechunk_usesTightWindowWhenItProducesMultiple(t *testing.T) {
	e := New(WithTokenizer(WhitespaceTokenizer))
	text := "one two three four five six seven eight nine ten eleven twelve"
	windows := e.NeighborRechunk(text)
	assert.Greater(t, len(windows), 1)
}

func TestBPETokenizer_deterministic(t *testing.T) {
	tok := DefaultBPETokenizer
	a := tok.Encode("the input and the output")
	b := tok.Encode("the input and the output")
	assert.Equal(t, a, b)
}

func TestBPETokenizer_decodeReconstructsWordBoundaries(t *testing.T) {
	tok := DefaultBPETokenizer
	text := "hello world"
	tokens := tok.Encode(text)
	assert.Equal(t, text, tok.Decode(tokens))
}

func wordsIn(s string) []string {
	var out []string
	cur := ""
	for _, r := range s {
		if r == ' ' {
			if cur != "" {
				out = append(out, cur)
				cur = ""
			}
			continue
		}
		cur += string(r)
	}
	if cur != "" {
		out = append(out, cur)
	}
	return out
}
