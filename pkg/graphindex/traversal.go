package graphindex

import (
	"context"

	"github.com/polyquery/polyquery/pkg/model"
)

// depthDecay is the per-hop score multiplier spec.md §4.3 specifies:
// score(d) = startScore * depthDecay^d.
const depthDecay = 0.8

// Scored is one entity reached during traversal, with its graph score
// and the depth at which it was first discovered.
type Scored struct {
	ID    string
	Score float64
	Depth int
}

type queueItem struct {
	id    string
	depth int
}

// Traverse runs breadth-first search seeded from spec.From, following
// edges of spec.Type (empty means any type) in spec.Direction, up to
// spec.MaxDepth hops. When spec.To is non-empty, results are restricted
// to that id set. It yields to ctx cancellation every 100 nodes
// processed.
func (ix *Index) Traverse(ctx context.Context, spec model.ConnectedSpec) ([]Scored, error) {
	maxDepth := spec.MaxDepth
	if maxDepth <= 0 {
		maxDepth = 1
	}

	var allow map[string]struct{}
	if len(spec.To) > 0 {
		allow = make(map[string]struct{}, len(spec.To))
		for _, id := range spec.To {
			allow[id] = struct{}{}
		}
	}

	visited := make(map[string]int, len(spec.From))
	queue := make([]queueItem, 0, len(spec.From))
	for _, s := range spec.From {
		if _, ok := visited[s]; ok {
			continue
		}
		visited[s] = 0
		queue = append(queue, queueItem{id: s, depth: 0})
	}

	results := make([]Scored, 0, len(spec.From)*4)
	processed := 0

	for len(queue) > 0 {
		if processed%100 == 0 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			default:
			}
		}
		processed++

		cur := queue[0]
		queue = queue[1:]

		// The seed itself (depth 0) is part of the result set, scored at
		// full strength — spec.md's worked traversal example includes the
		// starting node alongside what it reaches.
		if allow == nil {
			results = append(results, Scored{ID: cur.id, Score: scoreAtDepth(cur.depth), Depth: cur.depth})
		} else if _, ok := allow[cur.id]; ok {
			results = append(results, Scored{ID: cur.id, Score: scoreAtDepth(cur.depth), Depth: cur.depth})
		}

		if cur.depth >= maxDepth {
			continue
		}

		for _, e := range ix.Neighbors(cur.id, spec.Direction, spec.Type) {
			if prevDepth, seen := visited[e.To]; seen && prevDepth <= cur.depth+1 {
				continue
			}
			visited[e.To] = cur.depth + 1
			queue = append(queue, queueItem{id: e.To, depth: cur.depth + 1})
		}
	}

	return results, nil
}

func scoreAtDepth(depth int) float64 {
	score := 1.0
	for i := 0; i < depth; i++ {
		score *= depthDecay
	}
	return score
}
