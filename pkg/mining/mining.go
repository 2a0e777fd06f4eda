// Package mining implements MiningAgent: the document-to-requirements
// pipeline (spec.md §4.6). It normalizes inputs, extracts raw text via
// DocumentParser, windows it via ChunkingEngine, and drives ChatClient
// with a forced submit_requirements tool call per chunk, falling back to
// bare-JSON parsing when the model declines the tool call.
package mining

import (
	"bytes"
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/codeready-toolchain/reqminer/pkg/chunking"
	"github.com/codeready-toolchain/reqminer/pkg/docparser"
	"github.com/codeready-toolchain/reqminer/pkg/llm"
	"github.com/codeready-toolchain/reqminer/pkg/models"
)

// FileOrText is one normalized mining input. Filename is assigned
// "input_{i}.txt" by Normalize when the caller supplied a bare string.
type FileOrText struct {
	Filename    string
	Data        []byte
	ContentType string
}

// Normalize maps a list of raw inputs — []byte payloads with an optional
// filename, or bare strings — to FileOrText records (spec.md §4.6 step 1).
func Normalize(inputs []any) []FileOrText {
	out := make([]FileOrText, 0, len(inputs))
	for i, in := range inputs {
		switch v := in.(type) {
		case FileOrText:
			out = append(out, v)
		case string:
			out = append(out, FileOrText{
				Filename:    fmt.Sprintf("input_%d.txt", i),
				Data:        []byte(v),
				ContentType: "text/plain",
			})
		case []byte:
			out = append(out, FileOrText{
				Filename:    fmt.Sprintf("input_%d.txt", i),
				Data:        v,
				ContentType: "text/plain",
			})
		}
	}
	return out
}

// Options configures one Mine invocation.
type Options struct {
	MinTokens     int
	MaxTokens     int
	OverlapTokens int
	NeighborRefs  bool
	Model         string

	// WorkerEndpoint mirrors REQ_WORKER_ENDPOINT (spec.md §9 open
	// question): when non-empty, every mined requirement DTO is POSTed
	// to it best-effort. Delivery is fire-and-forget — no retry, no
	// propagated error — since the spec leaves this as an external
	// collaborator with no retry contract.
	WorkerEndpoint string
}

func (o Options) withDefaults() Options {
	if o.MinTokens <= 0 {
		o.MinTokens = 200
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = 400
	}
	if o.Model == "" {
		o.Model = "gpt-4o-mini"
	}
	return o
}

// submitRequirementsSchema is the fixed tool schema of spec.md §4.6 step 4.
var submitRequirementsSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"requirements": map[string]any{
			"type": "array",
			"items": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"title":                map[string]any{"type": "string"},
					"tag":                  map[string]any{"type": "string"},
					"priority":             map[string]any{"type": "string"},
					"measurable_criteria":  map[string]any{"type": "string"},
					"actors":               map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
				},
			},
		},
	},
}

type submittedItem struct {
	Title              string   `json:"title"`
	Tag                string   `json:"tag"`
	Priority           string   `json:"priority"`
	MeasurableCriteria string   `json:"measurable_criteria"`
	Actors             []string `json:"actors"`
}

type submitRequirementsPayload struct {
	Requirements []submittedItem `json:"requirements"`
}

// Agent is the MiningAgent.
type Agent struct {
	parser   docparser.Parser
	chunker  *chunking.Engine
	client   llm.ChatClient
}

// New builds a MiningAgent from its collaborators.
func New(parser docparser.Parser, chunker *chunking.Engine, client llm.ChatClient) *Agent {
	return &Agent{parser: parser, chunker: chunker, client: client}
}

// Mine implements the MiningAgent.Mine contract (spec.md §4.6). The
// pipeline is re-entrant: two concurrent Mine calls on disjoint inputs
// are safe because Agent holds no mutable per-call state.
func (a *Agent) Mine(ctx context.Context, inputs []any, opts Options) ([]models.Requirement, error) {
	opts = opts.withDefaults()
	normalized := Normalize(inputs)

	var out []models.Requirement
	for _, input := range normalized {
		blocks, err := a.parser.Extract(ctx, docparser.Input{
			Filename:    input.Filename,
			Data:        input.Data,
			ContentType: input.ContentType,
		})
		if err != nil {
			continue // a single bad input never aborts the whole run
		}

		for _, block := range blocks {
			chunks := a.chunksFor(block, opts)
			reqs := a.mineChunks(ctx, block, chunks, opts)
			out = append(out, reqs...)
		}
	}

	if opts.WorkerEndpoint != "" {
		for _, req := range out {
			notifyWorker(opts.WorkerEndpoint, req)
		}
	}

	return out, nil
}

var workerHTTPClient = &http.Client{Timeout: 5 * time.Second}

// notifyWorker POSTs req's JSON encoding to endpoint on its own goroutine
// and discards the outcome; a worker that is slow or unreachable must
// never hold up Mine's caller.
func notifyWorker(endpoint string, req models.Requirement) {
	body, err := json.Marshal(req)
	if err != nil {
		return
	}
	go func() {
		httpReq, err := http.NewRequest(http.MethodPost, endpoint, bytes.NewReader(body))
		if err != nil {
			return
		}
		httpReq.Header.Set("Content-Type", "application/json")
		resp, err := workerHTTPClient.Do(httpReq)
		if err != nil {
			slog.Default().Warn("worker endpoint notification failed", "endpoint", endpoint, "error", err)
			return
		}
		resp.Body.Close()
	}()
}

func (a *Agent) chunksFor(block models.RawBlock, opts Options) []models.Chunk {
	windows := a.chunker.Chunk(block.Text, opts.MinTokens, opts.MaxTokens, opts.OverlapTokens)
	chunks := make([]models.Chunk, len(windows))
	for i, w := range windows {
		chunks[i] = models.Chunk{
			Text: w,
			Payload: models.ChunkPayload{
				SourceFile: block.Meta.SourceFile,
				SHA1:       block.Meta.SHA1,
				ChunkIndex: i,
				TokenLen:   len(w),
				PageNo:     block.Meta.PageNo,
			},
		}
	}
	return chunks
}

func (a *Agent) mineChunks(ctx context.Context, block models.RawBlock, chunks []models.Chunk, opts Options) []models.Requirement {
	var out []models.Requirement
	for _, chunk := range chunks {
		items := a.mineOneChunk(ctx, chunk, opts)
		out = append(out, a.toRequirements(items, chunk, chunks, opts)...)
	}
	return out
}

func (a *Agent) mineOneChunk(ctx context.Context, chunk models.Chunk, opts Options) []submittedItem {
	resp := a.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.ConversationMessage{
			{Role: llm.RoleSystem, Content: "Extract atomic requirements. Each title must begin with a subject and a modal verb."},
			{Role: llm.RoleUser, Content: chunk.Text},
		},
		Tools: []llm.ToolDefinition{{
			Name:        "submit_requirements",
			Description: "Submit the requirements extracted from this chunk.",
			Schema:      submitRequirementsSchema,
		}},
		ToolChoice:  "submit_requirements",
		Temperature: 0.2,
		Model:       opts.Model,
	})

	completion, err := resp.Unwrap()
	if err != nil {
		return nil
	}

	for _, call := range completion.ToolCalls {
		if call.Name != "submit_requirements" {
			continue
		}
		return itemsFromArgs(call.Args)
	}

	// Fallback: no tool call returned, try parsing the content as the
	// same JSON schema (spec.md §4.6 step 7).
	var payload submitRequirementsPayload
	if err := json.Unmarshal([]byte(completion.Content), &payload); err != nil {
		return nil // never raise; zero requirements for this chunk
	}
	return payload.Requirements
}

func itemsFromArgs(args map[string]any) []submittedItem {
	raw, ok := args["requirements"]
	if !ok {
		return nil
	}
	encoded, err := json.Marshal(raw)
	if err != nil {
		return nil
	}
	var items []submittedItem
	if err := json.Unmarshal(encoded, &items); err != nil {
		return nil
	}
	return items
}

// suffixFor returns the multi-item suffix for the n-th (0-indexed) item
// in a chunk: "a".."z" then "26", "27", ... (spec.md §4.6 step 5).
func suffixFor(n int) string {
	if n < 26 {
		return string(rune('a' + n))
	}
	return fmt.Sprintf("%d", n)
}

func (a *Agent) toRequirements(items []submittedItem, chunk models.Chunk, siblings []models.Chunk, opts Options) []models.Requirement {
	var out []models.Requirement
	multi := len(items) > 1

	for i, item := range items {
		if item.Title == "" {
			continue // empty title -> skip the item
		}

		reqID := fmt.Sprintf("REQ-%s-%03d", shortSHA1(chunk.Payload.SHA1), chunk.Payload.ChunkIndex)
		if multi {
			reqID += "-" + suffixFor(i)
		}

		req := models.Requirement{
			ReqID:              reqID,
			Title:              item.Title,
			Tag:                models.NormalizeTag(item.Tag),
			Priority:           models.Priority(item.Priority),
			MeasurableCriteria: item.MeasurableCriteria,
			Actors:             item.Actors,
			EvidenceRefs:       a.evidenceRefs(chunk, siblings, opts),
		}
		out = append(out, req)
	}
	return out
}

func (a *Agent) evidenceRefs(chunk models.Chunk, siblings []models.Chunk, opts Options) []models.EvidenceRef {
	refs := []models.EvidenceRef{{
		SourceFile: chunk.Payload.SourceFile,
		SHA1:       chunk.Payload.SHA1,
		ChunkIndex: chunk.Payload.ChunkIndex,
	}}

	if !opts.NeighborRefs {
		return refs
	}

	for _, want := range []int{chunk.Payload.ChunkIndex - 1, chunk.Payload.ChunkIndex + 1} {
		for _, sib := range siblings {
			if sib.Payload.SourceFile == chunk.Payload.SourceFile &&
				sib.Payload.SHA1 == chunk.Payload.SHA1 &&
				sib.Payload.ChunkIndex == want {
				refs = append(refs, models.EvidenceRef{
					SourceFile: sib.Payload.SourceFile,
					SHA1:       sib.Payload.SHA1,
					ChunkIndex: sib.Payload.ChunkIndex,
				})
			}
		}
	}

	sort.Slice(refs, func(i, j int) bool { return refs[i].ChunkIndex < refs[j].ChunkIndex })
	return refs
}

func shortSHA1(full string) string {
	if len(full) >= 6 {
		return full[:6]
	}
	// full may already be short (e.g. a hand-constructed test fixture);
	// pad deterministically rather than index out of range.
	sum := sha1.Sum([]byte(full))
	return hex.EncodeToString(sum[:])[:6]
}
