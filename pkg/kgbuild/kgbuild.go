// Package kgbuild implements KGBuilder: heuristic plus optional-LLM
// entity/relation extraction over requirements, deduplicated and
// persisted to the vector store (spec.md §4.9).
//
// Grounded on arch_team/agents/kg_agent.py's KGAbstractionAgent.
package kgbuild

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/codeready-toolchain/reqminer/pkg/llm"
	"github.com/codeready-toolchain/reqminer/pkg/models"
	"github.com/codeready-toolchain/reqminer/pkg/vectorstore"
)

const (
	nodesCollection = "kg_nodes_v1"
	edgesCollection = "kg_edges_v1"
)

// Options configures one Build call.
type Options struct {
	// UseLLM forces the optional LLM expansion pass even when the
	// heuristic pass found something.
	UseLLM bool
	// Lexicon supplies the actor/entity/action heuristics. Defaults to
	// EnglishLexicon when nil.
	Lexicon *Lexicon
	// Persist, when equal to "qdrant", upserts nodes/edges into the
	// VectorStore after dedup.
	Persist string
	Model   string
}

// Stats is the build summary returned alongside nodes/edges.
type Stats struct {
	Nodes          int
	Edges          int
	Deduped        int
	PersistedNodes *int
	PersistedEdges *int
	PersistError   string
}

// BuildResult is the outcome of one Build call.
type BuildResult struct {
	Nodes []models.KGNode
	Edges []models.KGEdge
	Stats Stats
}

// Builder is the KGBuilder.
type Builder struct {
	client   llm.ChatClient
	store    vectorstore.VectorStore
	embedder vectorstore.Embedder
}

// New builds a KGBuilder. client/store/embedder may be nil if the caller
// never sets opts.UseLLM / opts.Persist.
func New(client llm.ChatClient, store vectorstore.VectorStore, embedder vectorstore.Embedder) *Builder {
	return &Builder{client: client, store: store, embedder: embedder}
}

// Build implements KGBuilder.Build (spec.md §4.9).
func (b *Builder) Build(ctx context.Context, requirements []models.Requirement, opts Options) (BuildResult, error) {
	lex := opts.Lexicon
	if lex == nil {
		lex = &EnglishLexicon
	}

	var nodes []models.KGNode
	var edges []models.KGEdge

	for _, req := range requirements {
		n, e := b.mapRequirement(ctx, req, *lex, opts)
		nodes = append(nodes, n...)
		edges = append(edges, e...)
	}

	dedupedNodes, dedupedNodeCount := dedupeNodes(nodes)
	dedupedEdges, dedupedEdgeCount := dedupeEdges(edges)

	stats := Stats{
		Nodes:   len(dedupedNodes),
		Edges:   len(dedupedEdges),
		Deduped: dedupedNodeCount + dedupedEdgeCount,
	}

	result := BuildResult{Nodes: dedupedNodes, Edges: dedupedEdges, Stats: stats}

	if opts.Persist == "qdrant" {
		b.persist(ctx, &result)
	}

	return result, nil
}

func (b *Builder) mapRequirement(ctx context.Context, req models.Requirement, lex Lexicon, opts Options) ([]models.KGNode, []models.KGEdge) {
	var nodes []models.KGNode
	var edges []models.KGEdge

	nodes = append(nodes, models.KGNode{
		ID:        req.ReqID,
		Type:      models.NodeTypeRequirement,
		Name:      req.Title,
		EmbedText: req.Title,
	})

	tagID := nodeID(models.NodeTypeTag, string(req.Tag))
	nodes = append(nodes, models.KGNode{ID: tagID, Type: models.NodeTypeTag, Name: string(req.Tag)})
	edges = append(edges, edge(req.ReqID, models.RelHasTag, tagID, req.EvidenceRefs))

	extraNodes, extraEdges := heuristicPass(req, lex)
	nodes = append(nodes, extraNodes...)
	edges = append(edges, extraEdges...)

	sparse := len(extraNodes) == 0 && len(extraEdges) == 0
	if b.client != nil && (opts.UseLLM || sparse) {
		llmNodes, llmEdges := b.llmExpand(ctx, req, opts.Model)
		nodes = append(nodes, llmNodes...)
		edges = append(edges, llmEdges...)
	}

	return nodes, edges
}

func heuristicPass(req models.Requirement, lex Lexicon) ([]models.KGNode, []models.KGEdge) {
	var nodes []models.KGNode
	var edges []models.KGEdge

	if actor := lex.detectActor(req.Title); actor != "" {
		id := nodeID(models.NodeTypeActor, actor)
		nodes = append(nodes, models.KGNode{ID: id, Type: models.NodeTypeActor, Name: actor})
		edges = append(edges, edge(req.ReqID, models.RelHasActor, id, req.EvidenceRefs))
	}

	for _, entity := range lex.detectEntities(req.Title) {
		id := nodeID(models.NodeTypeEntity, entity)
		nodes = append(nodes, models.KGNode{ID: id, Type: models.NodeTypeEntity, Name: entity})
		edges = append(edges, edge(req.ReqID, models.RelOnEntity, id, req.EvidenceRefs))
	}

	if action := lex.detectAction(req.Title); action != "" {
		id := nodeID(models.NodeTypeAction, action)
		nodes = append(nodes, models.KGNode{ID: id, Type: models.NodeTypeAction, Name: action})
		edges = append(edges, edge(req.ReqID, models.RelHasAction, id, req.EvidenceRefs))
	}

	return nodes, edges
}

type rawLLMNode struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Name string `json:"name"`
}

type rawLLMEdge struct {
	From string `json:"from"`
	To   string `json:"to"`
	Rel  string `json:"rel"`
}

type rawLLMGraph struct {
	Nodes []rawLLMNode `json:"nodes"`
	Edges []rawLLMEdge `json:"edges"`
}

func (b *Builder) llmExpand(ctx context.Context, req models.Requirement, model string) ([]models.KGNode, []models.KGEdge) {
	resp := b.client.Complete(ctx, llm.CompletionRequest{
		Messages: []llm.ConversationMessage{
			{Role: llm.RoleSystem, Content: "Extract a strict JSON knowledge graph fragment for this requirement: {\"nodes\":[{\"id\"?,\"type\",\"name\"}],\"edges\":[{\"from\",\"to\",\"rel\"}]}."},
			{Role: llm.RoleUser, Content: req.Title},
		},
		Temperature: 0.0,
		Model:       model,
	})
	completion, err := resp.Unwrap()
	if err != nil {
		return nil, nil
	}

	var graph rawLLMGraph
	if err := json.Unmarshal([]byte(completion.Content), &graph); err != nil {
		return nil, nil // invalid JSON -> ignored
	}

	var nodes []models.KGNode
	for _, n := range graph.Nodes {
		id := n.ID
		if id == "" {
			id = canonicalKey(models.NodeType(n.Type), n.Name)
		}
		nodes = append(nodes, models.KGNode{ID: id, Type: models.NodeType(n.Type), Name: n.Name})
	}

	var edges []models.KGEdge
	for _, e := range graph.Edges {
		edges = append(edges, edge(e.From, models.Relation(e.Rel), e.To, req.EvidenceRefs))
	}

	return nodes, edges
}

func edge(from string, rel models.Relation, to string, evidence []models.EvidenceRef) models.KGEdge {
	return models.KGEdge{
		ID:   models.EdgeID(from, rel, to),
		From: from,
		To:   to,
		Rel:  rel,
		Payload: map[string]any{
			"evidence": evidence,
		},
	}
}

// normalizeName lowercases, collapses whitespace, and strips characters
// outside [a-z0-9 :-_/.äöüß], matching the teacher's _norm_key.
var disallowedChars = regexp.MustCompile(`[^a-z0-9 :\-_/.äöüß]`)
var multiSpace = regexp.MustCompile(`\s+`)

func normalizeName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = multiSpace.ReplaceAllString(s, " ")
	s = disallowedChars.ReplaceAllString(s, "")
	return s
}

// nodeID computes the canonical "{type lowercased}:{normalized(name)}" id
// for a non-requirement node (spec.md §3).
func nodeID(t models.NodeType, name string) string {
	return fmt.Sprintf("%s:%s", strings.ToLower(string(t)), strings.ReplaceAll(normalizeName(name), " ", "_"))
}

// canonicalKey computes the "{type}#{normalized(name)}" fallback used only
// to synthesize an id for an LLM-sourced node that omitted one (spec.md
// §4.9 step 6).
func canonicalKey(t models.NodeType, name string) string {
	return fmt.Sprintf("%s#%s", strings.ToLower(string(t)), normalizeName(name))
}

func dedupeNodes(nodes []models.KGNode) ([]models.KGNode, int) {
	index := make(map[string]int, len(nodes))
	var out []models.KGNode
	deduped := 0
	for _, n := range nodes {
		if i, ok := index[n.ID]; ok {
			out[i].Payload = mergeEvidence(out[i].Payload, n.Payload)
			deduped++
			continue
		}
		index[n.ID] = len(out)
		out = append(out, n)
	}
	return out, deduped
}

func dedupeEdges(edges []models.KGEdge) ([]models.KGEdge, int) {
	index := make(map[string]int, len(edges))
	var out []models.KGEdge
	deduped := 0
	for _, e := range edges {
		if i, ok := index[e.ID]; ok {
			out[i].Payload = mergeEvidence(out[i].Payload, e.Payload)
			deduped++
			continue
		}
		index[e.ID] = len(out)
		out = append(out, e)
	}
	return out, deduped
}

func mergeEvidence(a, b map[string]any) map[string]any {
	existing := models.EvidenceFromPayload(a)
	incoming := models.EvidenceFromPayload(b)
	if len(incoming) == 0 {
		return a
	}

	seen := make(map[string]bool, len(existing))
	merged := make([]models.EvidenceRef, 0, len(existing)+len(incoming))
	for _, ref := range existing {
		if !seen[ref.Key()] {
			seen[ref.Key()] = true
			merged = append(merged, ref)
		}
	}
	for _, ref := range incoming {
		if !seen[ref.Key()] {
			seen[ref.Key()] = true
			merged = append(merged, ref)
		}
	}

	if a == nil {
		a = make(map[string]any, 1)
	}
	a["evidence"] = merged
	return a
}

func (b *Builder) persist(ctx context.Context, result *BuildResult) {
	if b.store == nil || b.embedder == nil {
		result.Stats.PersistError = "persist requested but no VectorStore/Embedder configured"
		return
	}

	dims := b.embedder.Dimensions()
	if err := b.store.EnsureCollection(ctx, nodesCollection, dims); err != nil {
		result.Stats.PersistError = err.Error()
		return
	}
	if err := b.store.EnsureCollection(ctx, edgesCollection, dims); err != nil {
		result.Stats.PersistError = err.Error()
		return
	}

	nodeRecords := make([]vectorstore.Record, 0, len(result.Nodes))
	for _, n := range result.Nodes {
		text := n.EmbedText
		if text == "" {
			text = n.Name
		}
		vec, err := b.embedder.Embed(ctx, text)
		if err != nil {
			result.Stats.PersistError = err.Error()
			continue
		}
		nodeRecords = append(nodeRecords, vectorstore.Record{
			ID:        n.ID,
			Embedding: vec,
			Payload:   map[string]any{"type": string(n.Type), "name": n.Name},
		})
	}
	if err := b.store.Upsert(ctx, nodesCollection, nodeRecords); err != nil {
		result.Stats.PersistError = err.Error()
	} else {
		count := len(nodeRecords)
		result.Stats.PersistedNodes = &count
	}

	edgeRecords := make([]vectorstore.Record, 0, len(result.Edges))
	zeroVec := make([]float32, dims)
	for _, e := range result.Edges {
		edgeRecords = append(edgeRecords, vectorstore.Record{
			ID:        e.ID,
			Embedding: zeroVec,
			Payload:   map[string]any{"from": e.From, "to": e.To, "rel": string(e.Rel)},
		})
	}
	if err := b.store.Upsert(ctx, edgesCollection, edgeRecords); err != nil {
		result.Stats.PersistError = err.Error()
	} else {
		count := len(edgeRecords)
		result.Stats.PersistedEdges = &count
	}
}
