package docparser

import (
	"context"
	"strings"
	"time"

	"github.com/codeready-toolchain/reqminer/pkg/models"
)

// TextParser extracts a single RawBlock spanning the whole input for
// plain text, Markdown, and JSON documents. Real layout-aware extraction
// (page-by-page PDF text, DOCX paragraph walking) is an external
// collaborator's concern; this parser is the one DocumentParser
// implementation the core ships and exercises directly.
type TextParser struct{}

// Extract implements Parser.
func (TextParser) Extract(ctx context.Context, input Input) ([]models.RawBlock, error) {
	text := strings.ReplaceAll(string(input.Data), "\r\n", "\n")
	sha1sum := Checksum(input.Data)

	return []models.RawBlock{{
		Text: text,
		Meta: models.BlockMeta{
			SourceFile:  input.Filename,
			ContentType: input.ContentType,
			SHA1:        sha1sum,
			CreatedAt:   time.Now(),
		},
	}}, nil
}
