// Package dedup implements DuplicateDetector: embedding-based
// near-duplicate clustering of requirements via union-find over a
// cosine-similarity threshold graph, with a Jaccard fallback when no
// embedder is available (spec.md §4.10).
package dedup

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/codeready-toolchain/reqminer/pkg/models"
	"github.com/codeready-toolchain/reqminer/pkg/vectorstore"
)

// Method identifies which similarity metric produced a Result's groups
// (Open Question decision recorded in DESIGN.md).
type Method string

const (
	MethodEmbedding Method = "embedding"
	MethodJaccard   Method = "jaccard"
)

// GroupMember is one requirement within a DuplicateGroup.
type GroupMember struct {
	ReqID                  string
	Title                  string
	SimilarityToRepresentative float64
}

// DuplicateGroup is one connected component of size >= 2 in the
// similarity graph.
type DuplicateGroup struct {
	GroupID      string
	Requirements []GroupMember
	AvgSimilarity float64
}

// Result is the outcome of one FindDuplicates call.
type Result struct {
	Groups []DuplicateGroup
	Method Method
}

// Detector is the DuplicateDetector.
type Detector struct {
	embedder vectorstore.Embedder
}

// New builds a Detector. A nil embedder forces the Jaccard fallback.
func New(embedder vectorstore.Embedder) *Detector {
	return &Detector{embedder: embedder}
}

// FindDuplicates implements DuplicateDetector.FindDuplicates (spec.md
// §4.10). A non-positive threshold defaults to 0.90.
func (d *Detector) FindDuplicates(ctx context.Context, requirements []models.Requirement, threshold float64) (Result, error) {
	if threshold <= 0 {
		threshold = 0.90
	}
	if len(requirements) < 2 {
		return Result{Method: d.method()}, nil
	}

	vectors, method, err := d.vectorsFor(ctx, requirements)
	if err != nil {
		return Result{}, fmt.Errorf("dedup: compute similarity vectors: %w", err)
	}

	uf := newUnionFind(len(requirements))
	pairSim := make(map[[2]int]float64)

	// Pair ordering is i ascending, j ascending (spec.md §4.10 determinism).
	for i := 0; i < len(requirements); i++ {
		for j := i + 1; j < len(requirements); j++ {
			var sim float64
			if method == MethodJaccard {
				sim = jaccardSimilarity(requirements[i].Title, requirements[j].Title)
			} else {
				sim = cosineSimilarity(vectors[i], vectors[j])
			}
			if sim >= threshold {
				uf.union(i, j)
				pairSim[[2]int{i, j}] = sim
			}
		}
	}

	groups := buildGroups(requirements, uf, pairSim)
	return Result{Groups: groups, Method: method}, nil
}

func (d *Detector) method() Method {
	if d.embedder != nil {
		return MethodEmbedding
	}
	return MethodJaccard
}

func (d *Detector) vectorsFor(ctx context.Context, requirements []models.Requirement) ([][]float32, Method, error) {
	if d.embedder == nil {
		return nil, MethodJaccard, nil
	}
	vectors := make([][]float32, len(requirements))
	for i, r := range requirements {
		vec, err := d.embedder.Embed(ctx, r.Title)
		if err != nil {
			return nil, "", err
		}
		vectors[i] = vec
	}
	return vectors, MethodEmbedding, nil
}

// buildGroups emits connected components of size >= 2, picking the
// lowest-req_id member as the representative (ties in union-find break
// by lower req_id lex order, spec.md §4.10 determinism).
func buildGroups(requirements []models.Requirement, uf *unionFind, pairSim map[[2]int]float64) []DuplicateGroup {
	components := make(map[int][]int)
	for i := range requirements {
		root := uf.find(i)
		components[root] = append(components[root], i)
	}

	var roots []int
	for root, members := range components {
		if len(members) >= 2 {
			roots = append(roots, root)
		}
	}
	sort.Slice(roots, func(i, j int) bool {
		return requirements[representativeOf(components[roots[i]], requirements)].ReqID <
			requirements[representativeOf(components[roots[j]], requirements)].ReqID
	})

	var groups []DuplicateGroup
	for _, root := range roots {
		members := components[root]
		sort.Slice(members, func(i, j int) bool {
			return requirements[members[i]].ReqID < requirements[members[j]].ReqID
		})
		repIdx := members[0]

		var groupMembers []GroupMember
		var simSum float64
		var simCount int
		for _, idx := range members {
			sim := 1.0
			if idx != repIdx {
				sim = similarityBetween(repIdx, idx, pairSim)
				simSum += sim
				simCount++
			}
			groupMembers = append(groupMembers, GroupMember{
				ReqID:                      requirements[idx].ReqID,
				Title:                      requirements[idx].Title,
				SimilarityToRepresentative: sim,
			})
		}

		avg := 1.0
		if simCount > 0 {
			avg = simSum / float64(simCount)
		}

		groups = append(groups, DuplicateGroup{
			GroupID:       "dup-" + requirements[repIdx].ReqID,
			Requirements:  groupMembers,
			AvgSimilarity: avg,
		})
	}

	return groups
}

func representativeOf(members []int, requirements []models.Requirement) int {
	best := members[0]
	for _, m := range members[1:] {
		if requirements[m].ReqID < requirements[best].ReqID {
			best = m
		}
	}
	return best
}

func similarityBetween(a, b int, pairSim map[[2]int]float64) float64 {
	i, j := a, b
	if i > j {
		i, j = j, i
	}
	return pairSim[[2]int{i, j}]
}

func cosineSimilarity(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, magA, magB float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}

// jaccardSimilarity is the fallback metric when no Embedder is available:
// token-set Jaccard similarity over lowercased whitespace-split titles.
func jaccardSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 && len(setB) == 0 {
		return 1
	}

	intersection := 0
	union := make(map[string]bool, len(setA)+len(setB))
	for tok := range setA {
		union[tok] = true
		if setB[tok] {
			intersection++
		}
	}
	for tok := range setB {
		union[tok] = true
	}
	if len(union) == 0 {
		return 0
	}
	return float64(intersection) / float64(len(union))
}

func tokenSet(s string) map[string]bool {
	out := make(map[string]bool)
	for _, tok := range strings.Fields(strings.ToLower(s)) {
		out[tok] = true
	}
	return out
}

// unionFind is a standard path-compressing, union-by-rank disjoint-set.
type unionFind struct {
	parent []int
	rank   []int
}

func newUnionFind(n int) *unionFind {
	uf := &unionFind{parent: make([]int, n), rank: make([]int, n)}
	for i := range uf.parent {
		uf.parent[i] = i
	}
	return uf
}

func (uf *unionFind) find(x int) int {
	if uf.parent[x] != x {
		uf.parent[x] = uf.find(uf.parent[x])
	}
	return uf.parent[x]
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra == rb {
		return
	}
	if uf.rank[ra] < uf.rank[rb] {
		ra, rb = rb, ra
	}
	uf.parent[rb] = ra
	if uf.rank[ra] == uf.rank[rb] {
		uf.rank[ra]++
	}
}
