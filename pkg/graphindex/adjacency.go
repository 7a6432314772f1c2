// Package graphindex implements the forward/reverse adjacency-list index
// spec.md §4.3 describes for graph traversal over entity relationships.
package graphindex

import (
	"sort"
	"sync"

	"github.com/polyquery/polyquery/pkg/model"
)

// Edge is one directed, typed relationship between two entity ids.
type Edge struct {
	RelationID string
	To         string
	Type       string
	Weight     float32
}

// adjacency holds one node's outgoing and incoming edges, guarded by its
// own lock so unrelated nodes never contend.
type adjacency struct {
	mu  sync.RWMutex
	out []Edge
	in  []Edge
}

// Index is the adjacency-list index over the full relationship graph.
type Index struct {
	mu    sync.RWMutex
	nodes map[string]*adjacency
}

// New creates an empty graph index.
func New() *Index {
	return &Index{nodes: make(map[string]*adjacency)}
}

func (ix *Index) nodeFor(id string, create bool) *adjacency {
	ix.mu.RLock()
	n, ok := ix.nodes[id]
	ix.mu.RUnlock()
	if ok || !create {
		return n
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if n, ok = ix.nodes[id]; ok {
		return n
	}
	n = &adjacency{}
	ix.nodes[id] = n
	return n
}

// AddRelationship indexes a directed relationship: rel.Source -> rel.Target.
func (ix *Index) AddRelationship(rel *model.Relationship) {
	from := ix.nodeFor(rel.Source, true)
	to := ix.nodeFor(rel.Target, true)

	weight := rel.Weight
	if weight == 0 {
		weight = model.DefaultWeight
	}

	from.mu.Lock()
	from.out = append(from.out, Edge{RelationID: rel.ID, To: rel.Target, Type: rel.Type, Weight: weight})
	from.mu.Unlock()

	to.mu.Lock()
	to.in = append(to.in, Edge{RelationID: rel.ID, To: rel.Source, Type: rel.Type, Weight: weight})
	to.mu.Unlock()
}

// RemoveRelationship un-indexes a previously added relationship.
func (ix *Index) RemoveRelationship(rel *model.Relationship) {
	if from := ix.nodeFor(rel.Source, false); from != nil {
		from.mu.Lock()
		from.out = removeByRelationID(from.out, rel.ID)
		from.mu.Unlock()
	}
	if to := ix.nodeFor(rel.Target, false); to != nil {
		to.mu.Lock()
		to.in = removeByRelationID(to.in, rel.ID)
		to.mu.Unlock()
	}
}

func removeByRelationID(edges []Edge, relID string) []Edge {
	out := edges[:0:0]
	for _, e := range edges {
		if e.RelationID != relID {
			out = append(out, e)
		}
	}
	return out
}

// Neighbors returns id's outgoing, incoming, or both edges, optionally
// restricted to edgeTypes (empty means any type). Results are sorted by
// target id for determinism.
func (ix *Index) Neighbors(id string, dir model.Direction, edgeTypes []string) []Edge {
	n := ix.nodeFor(id, false)
	if n == nil {
		return nil
	}
	n.mu.RLock()
	defer n.mu.RUnlock()

	var edges []Edge
	switch dir {
	case model.DirOut:
		edges = n.out
	case model.DirIn:
		edges = n.in
	default:
		edges = make([]Edge, 0, len(n.out)+len(n.in))
		edges = append(edges, n.out...)
		edges = append(edges, n.in...)
	}

	out := make([]Edge, 0, len(edges))
	for _, e := range edges {
		if len(edgeTypes) > 0 && !containsType(edgeTypes, e.Type) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].To < out[j].To })
	return out
}

func containsType(types []string, t string) bool {
	for _, want := range types {
		if want == t {
			return true
		}
	}
	return false
}

// HasNode reports whether id has ever appeared as a relationship
// endpoint.
func (ix *Index) HasNode(id string) bool {
	return ix.nodeFor(id, false) != nil
}

// NodeCount is the number of distinct entities that participate in at
// least one relationship, used by the planner's branching-factor
// estimate.
func (ix *Index) NodeCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nodes)
}

// AverageBranching estimates the average out-degree across indexed
// nodes, used by the planner's cost model (branching^depth).
func (ix *Index) AverageBranching() float64 {
	ix.mu.RLock()
	ids := make([]*adjacency, 0, len(ix.nodes))
	for _, n := range ix.nodes {
		ids = append(ids, n)
	}
	ix.mu.RUnlock()

	if len(ids) == 0 {
		return 0
	}
	var total int
	for _, n := range ids {
		n.mu.RLock()
		total += len(n.out)
		n.mu.RUnlock()
	}
	return float64(total) / float64(len(ids))
}

// Stats reports index shape for the planner's cost model and for
// observability, the graph-index analog of pkg/vectorindex.Index.Stats.
type Stats struct {
	NodeCount    int
	EdgeCount    int
	AvgBranching float64
}

func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	nodes := make([]*adjacency, 0, len(ix.nodes))
	for _, n := range ix.nodes {
		nodes = append(nodes, n)
	}
	ix.mu.RUnlock()

	var edges int
	for _, n := range nodes {
		n.mu.RLock()
		edges += len(n.out)
		n.mu.RUnlock()
	}
	return Stats{NodeCount: len(nodes), EdgeCount: edges, AvgBranching: ix.AverageBranching()}
}
