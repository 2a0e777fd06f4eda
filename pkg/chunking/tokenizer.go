package chunking

import "strings"

// Tokenizer splits text into tokens and decodes a token slice back into
// text. Implementations must be deterministic for identical input
// (spec.md §4.1).
type Tokenizer interface {
	Encode(text string) []string
	Decode(tokens []string) string
}

// whitespaceTokenizer splits on whitespace runs and rejoins with a single
// space. This is the fallback used whenever a BPE table is unavailable.
type whitespaceTokenizer struct{}

func (whitespaceTokenizer) Encode(text string) []string {
	return strings.Fields(text)
}

func (whitespaceTokenizer) Decode(tokens []string) string {
	return strings.Join(tokens, " ")
}

// WhitespaceTokenizer is the always-available fallback tokenizer.
var WhitespaceTokenizer Tokenizer = whitespaceTokenizer{}

// bpeTokenizer is a minimal, dependency-free byte-pair-encoding tokenizer:
// a fixed merge table learned once (here, a small built-in table of common
// English subword merges) applied greedily, highest-priority (earliest
// table entry) merge first. It is
// deterministic: the same input byte sequence always yields the same
// token sequence, because merge priority is a total order over the table.
//
// This stands in for the production BPE vocabulary (e.g. a tiktoken-style
// table) that spec.md §4.1 calls for; the merge table itself is an
// implementation detail the contract does not pin down, only that
// tokenization be deterministic and that a whitespace fallback exist.
type bpeTokenizer struct {
	merges map[string]int // "a b" -> priority, lower merges first
}

// NewBPETokenizer builds a tokenizer from an explicit ordered merge list
// (each entry "left right", highest-priority first). A nil or empty table
// is a valid, if degenerate, BPE tokenizer — it falls through to
// one token per character (rune).
func NewBPETokenizer(orderedMerges []string) Tokenizer {
	m := make(map[string]int, len(orderedMerges))
	for i, pair := range orderedMerges {
		m[pair] = i
	}
	return &bpeTokenizer{merges: m}
}

// DefaultBPETokenizer is a small built-in merge table covering common
// English affixes and punctuation boundaries, used when the caller does
// not supply one of its own.
var DefaultBPETokenizer = NewBPETokenizer([]string{
	"t h", "i n", "e r", "a n", "r e", "o n", "a t", "e n", "i s", "o r",
	"t i", "e s", "i t", "a r", "t e", "i ng", "ti on", "th e", "an d",
	"f or", "e d", "t o", "o f", "w h",
})

func (b *bpeTokenizer) Encode(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}
	var tokens []string
	for i, word := range strings.Fields(text) {
		if i > 0 {
			tokens = append(tokens, " ")
		}
		tokens = append(tokens, b.encodeWord(word)...)
	}
	return tokens
}

func (b *bpeTokenizer) encodeWord(word string) []string {
	symbols := make([]string, 0, len(word))
	for _, r := range word {
		symbols = append(symbols, string(r))
	}
	for len(symbols) > 1 {
		bestIdx, bestPriority := -1, len(b.merges)+1
		for i := 0; i < len(symbols)-1; i++ {
			pair := symbols[i] + " " + symbols[i+1]
			if p, ok := b.merges[pair]; ok && p < bestPriority {
				bestIdx, bestPriority = i, p
			}
		}
		if bestIdx == -1 {
			break
		}
		merged := symbols[bestIdx] + symbols[bestIdx+1]
		symbols = append(symbols[:bestIdx], append([]string{merged}, symbols[bestIdx+2:]...)...)
	}
	return symbols
}

func (b *bpeTokenizer) Decode(tokens []string) string {
	return strings.Join(tokens, "")
}
