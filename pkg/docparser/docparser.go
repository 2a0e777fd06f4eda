// Package docparser defines the DocumentParser external collaborator
// contract: turning PDF/DOCX/Markdown/plain-text/JSON input bytes into
// RawBlocks tagged with source provenance. The concrete parser
// implementations (PDF layout extraction, DOCX XML walking, ...) are out
// of scope for the core (spec.md: "External collaborators ... out of
// scope to implement"); this package only fixes the contract MiningAgent
// depends on, plus a text/markdown parser the core can exercise directly.
package docparser

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"

	"github.com/codeready-toolchain/reqminer/pkg/models"
)

// Input is one normalized document handed to a Parser.
type Input struct {
	Filename    string
	Data        []byte
	ContentType string
}

// Parser extracts RawBlocks from one Input. Implementations must tag
// every returned block with sha1(data) and sourceFile (spec.md §4.6 step 2).
type Parser interface {
	Extract(ctx context.Context, input Input) ([]models.RawBlock, error)
}

// ErrUnsupportedContentType is returned by a Parser that cannot handle the
// given Input.ContentType.
type ErrUnsupportedContentType struct {
	ContentType string
}

func (e *ErrUnsupportedContentType) Error() string {
	return fmt.Sprintf("unsupported content type: %s", e.ContentType)
}

// Checksum computes the sha1 hex digest DocumentParser implementations
// must stamp onto every RawBlock derived from data.
func Checksum(data []byte) string {
	sum := sha1.Sum(data)
	return hex.EncodeToString(sum[:])
}

// Registry dispatches Extract calls to the Parser registered for an
// Input's content type, falling back to a plain-text parser for anything
// unrecognized (documents of unknown type are still text, per the
// pipeline's "never raise" error policy).
type Registry struct {
	parsers map[string]Parser
	fallback Parser
}

// NewRegistry builds a Registry with the plain-text/markdown parser
// registered for "text/plain", "text/markdown" and "application/json", and
// as the fallback
// for anything else.
func NewRegistry() *Registry {
	text := &TextParser{}
	return &Registry{
		parsers: map[string]Parser{
			"text/plain":    text,
			"text/markdown": text,
			"application/json": text,
		},
		fallback: text,
	}
}

// Register installs or overrides the Parser used for contentType — the
// hook through which a caller plugs in real PDF/DOCX extraction.
func (r *Registry) Register(contentType string, p Parser) {
	r.parsers[contentType] = p
}

// Extract dispatches to the registered Parser for input.ContentType,
// falling back to the plain-text parser if none is registered.
func (r *Registry) Extract(ctx context.Context, input Input) ([]models.RawBlock, error) {
	if p, ok := r.parsers[input.ContentType]; ok {
		return p.Extract(ctx, input)
	}
	return r.fallback.Extract(ctx, input)
}
