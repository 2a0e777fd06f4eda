// Package chunking implements token-aware windowing with overlap over raw
// text blocks (spec.md §4.1). The tokenizer is a fixed BPE table with a
// deterministic whitespace fallback; the windowing algorithm is
// tokenizer-agnostic.
package chunking

import (
	"log/slog"
	"strings"
)

// Engine produces overlapping token windows from raw text and decodes
// them back into strings.
type Engine struct {
	tokenizer Tokenizer
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithTokenizer overrides the default BPE-with-whitespace-fallback
// tokenizer.
func WithTokenizer(t Tokenizer) Option {
	return func(e *Engine) { e.tokenizer = t }
}

// WithLogger overrides the default slog.Default() logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// New builds a ChunkingEngine. The default tokenizer is DefaultBPETokenizer;
// if it ever returns an empty token slice for non-empty text, Chunk falls
// back to WhitespaceTokenizer for that call, satisfying the "falls back to
// whitespace splitting" contract deterministically.
func New(opts ...Option) *Engine {
	e := &Engine{
		tokenizer: DefaultBPETokenizer,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// clampWindow enforces 0 <= overlapTokens < maxTokens and
// minTokens <= maxTokens, logging one warning per call if any bound had to
// move.
func (e *Engine) clampWindow(minTokens, maxTokens, overlapTokens int) (int, int, int) {
	violated := false

	if maxTokens < 1 {
		maxTokens = 1
		violated = true
	}
	if overlapTokens < 0 {
		overlapTokens = 0
		violated = true
	}
	if overlapTokens >= maxTokens {
		overlapTokens = maxTokens - 1
		violated = true
	}
	if minTokens < 1 {
		minTokens = 1
		violated = true
	}
	if minTokens > maxTokens {
		minTokens = maxTokens
		violated = true
	}

	if violated {
		e.logger.Warn("chunking window parameters out of range, clamped",
			"minTokens", minTokens, "maxTokens", maxTokens, "overlapTokens", overlapTokens)
	}
	return minTokens, maxTokens, overlapTokens
}

// Chunk tokenizes text and splits it into overlapping windows of at most
// maxTokens tokens, with consecutive windows advancing by
// maxTokens-overlapTokens tokens. Windows shorter than minTokens are
// dropped unless doing so would leave the result empty, in which case the
// single remaining (short) window is kept.
func (e *Engine) Chunk(text string, minTokens, maxTokens, overlapTokens int) []string {
	minTokens, maxTokens, overlapTokens = e.clampWindow(minTokens, maxTokens, overlapTokens)

	tokens := e.tokenizer.Encode(text)
	if len(tokens) == 0 && strings.TrimSpace(text) != "" {
		tokens = WhitespaceTokenizer.Encode(text)
	}
	if len(tokens) == 0 {
		return nil
	}

	stride := maxTokens - overlapTokens
	if stride < 1 {
		stride = 1
	}

	var windows [][]string
	for start := 0; start < len(tokens); start += stride {
		end := start + maxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		windows = append(windows, tokens[start:end])
		if end == len(tokens) {
			break
		}
	}

	var kept [][]string
	for _, w := range windows {
		if len(w) >= minTokens {
			kept = append(kept, w)
		}
	}
	if len(kept) == 0 && len(windows) > 0 {
		kept = windows[len(windows)-1:]
	}

	out := make([]string, 0, len(kept))
	for _, w := range kept {
		out = append(out, e.decode(w))
	}
	return out
}

func (e *Engine) decode(tokens []string) string {
	return strings.TrimSpace(e.tokenizer.Decode(tokens))
}

// NeighborRechunk implements the MiningAgent fallback-split contract
// (spec.md §4.1): when a caller needs neighbor evidence but text was
// delivered as a single chunk, re-chunk with a tight window; if that still
// yields one chunk, force a whitespace split into two halves.
func (e *Engine) NeighborRechunk(text string) []string {
	windows := e.Chunk(text, 1, 8, 1)
	if len(windows) > 1 {
		return windows
	}
	return forceSplitInTwo(text)
}

func forceSplitInTwo(text string) []string {
	fields := strings.Fields(text)
	if len(fields) < 2 {
		return []string{text}
	}
	mid := len(fields) / 2
	return []string{
		strings.Join(fields[:mid], " "),
		strings.Join(fields[mid:], " "),
	}
}
