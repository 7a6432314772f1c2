// Package executor runs a planner.Plan against the three index
// primitives (spec.md §5): the progressive strategy threads candidate
// sets from one signal into the next, while the parallel strategy
// over-fetches each signal independently and lets fusion reconcile them.
package executor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/polyquery/polyquery/pkg/graphindex"
	"github.com/polyquery/polyquery/pkg/metaindex"
	"github.com/polyquery/polyquery/pkg/model"
	"github.com/polyquery/polyquery/pkg/vectorindex"
)

// overFetchFactor is the per-signal over-fetch multiplier the parallel
// strategy applies before fusion narrows back down to Query.Limit
// (spec.md §5: "limit * 3").
const overFetchFactor = 3

// Candidate accumulates the per-signal scores found for one entity id as
// a plan executes; fusion consumes these directly.
type Candidate struct {
	ID          string
	VectorScore *float64
	GraphScore  *float64
}

// Executor runs plans against live indexes.
type Executor struct {
	vectors *vectorindex.Index
	fields  *metaindex.Index
	graph   *graphindex.Index
}

// New wires an Executor to the three index primitives it reads from.
func New(vectors *vectorindex.Index, fields *metaindex.Index, graph *graphindex.Index) *Executor {
	return &Executor{vectors: vectors, fields: fields, graph: graph}
}

// embedLike resolves Query.Like to a query vector. Embedding free text or
// resolving an entity-id seed is the engine's job (it owns the Embed
// capability and entitystore lookups); by the time a query reaches the
// executor, Like has already been normalized to a vector.
func embedLike(like any) ([]float32, error) {
	switch v := like.(type) {
	case []float32:
		return v, nil
	case nil:
		return nil, nil
	default:
		return nil, fmt.Errorf("executor: Like must already be resolved to a []float32, got %T", like)
	}
}

// Execute runs plan against q, returning every surviving candidate's
// per-signal scores.
func (ex *Executor) Execute(ctx context.Context, q model.Query, plan model.Plan) ([]Candidate, error) {
	if len(plan.Steps) == 0 {
		return nil, nil
	}
	if plan.Parallel {
		return ex.executeParallel(ctx, q)
	}
	return ex.executeProgressive(ctx, q, plan)
}

func candidateLimit(q model.Query) int {
	limit := q.Limit
	if limit <= 0 {
		limit = model.DefaultLimit
	}
	return limit
}

func searchEf(limit int) int {
	ef := limit * overFetchFactor
	if ef < limit {
		ef = limit
	}
	return ef
}

// executeProgressive threads a shrinking candidate set through each
// active signal in plan order. A nil candidate set means "unconstrained
// so far"; an empty-but-non-nil set short-circuits to an empty result.
func (ex *Executor) executeProgressive(ctx context.Context, q model.Query, plan model.Plan) ([]Candidate, error) {
	limit := candidateLimit(q)
	scores := make(map[string]*Candidate)
	var candidateIDs []string // nil = unconstrained
	constrained := false

	for _, step := range plan.Steps {
		if constrained && len(candidateIDs) == 0 {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		switch step.Kind {
		case model.SignalVector:
			vec, err := embedLike(q.Like)
			if err != nil {
				return nil, err
			}
			if vec == nil {
				continue
			}
			var results []vectorindex.Result
			if constrained {
				results, err = ex.vectors.SearchWithin(vec, limit, candidateIDs)
			} else {
				results, err = ex.vectors.Search(vec, limit, searchEf(limit))
			}
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(results))
			for _, r := range results {
				r := r
				c := getOrCreate(scores, r.ID)
				score := r.Score
				c.VectorScore = &score
				ids = append(ids, r.ID)
			}
			candidateIDs, constrained = narrow(candidateIDs, constrained, ids)

		case model.SignalField:
			ids, err := ex.fields.Evaluate(q.Where)
			if err != nil {
				return nil, err
			}
			if constrained {
				ids = intersectSorted(candidateIDs, ids)
			}
			for _, id := range ids {
				getOrCreate(scores, id)
			}
			candidateIDs, constrained = ids, true

		case model.SignalGraph:
			spec := *q.Connected
			if constrained {
				spec.From = intersectSorted(sortedCopyOf(spec.From), candidateIDs)
			}
			results, err := ex.graph.Traverse(ctx, spec)
			if err != nil {
				return nil, err
			}
			ids := make([]string, 0, len(results))
			for _, r := range results {
				r := r
				c := getOrCreate(scores, r.ID)
				score := r.Score
				c.GraphScore = &score
				ids = append(ids, r.ID)
			}
			sort.Strings(ids)
			if constrained {
				ids = intersectSorted(candidateIDs, ids)
			}
			candidateIDs, constrained = ids, true
		}
	}

	return finalize(scores, candidateIDs, constrained), nil
}

// executeParallel over-fetches each active signal independently, then
// intersects the field filter in as a hard mask over whatever vector and
// graph found.
func (ex *Executor) executeParallel(ctx context.Context, q model.Query) ([]Candidate, error) {
	limit := candidateLimit(q)
	scores := make(map[string]*Candidate)
	var mu sync.Mutex
	var fieldIDs []string
	var haveFieldFilter bool

	g, gctx := errgroup.WithContext(ctx)

	if q.Like != nil {
		g.Go(func() error {
			vec, err := embedLike(q.Like)
			if err != nil {
				return err
			}
			results, err := ex.vectors.Search(vec, limit*overFetchFactor, searchEf(limit*overFetchFactor))
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range results {
				r := r
				c := getOrCreate(scores, r.ID)
				score := r.Score
				c.VectorScore = &score
			}
			return nil
		})
	}

	if q.Connected != nil {
		g.Go(func() error {
			results, err := ex.graph.Traverse(gctx, *q.Connected)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			for _, r := range results {
				r := r
				c := getOrCreate(scores, r.ID)
				score := r.Score
				c.GraphScore = &score
			}
			return nil
		})
	}

	if q.Where != nil {
		g.Go(func() error {
			ids, err := ex.fields.Evaluate(q.Where)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			fieldIDs = ids
			haveFieldFilter = true
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	allIDs := make([]string, 0, len(scores))
	for id := range scores {
		allIDs = append(allIDs, id)
	}
	sort.Strings(allIDs)

	if haveFieldFilter {
		allIDs = intersectSorted(allIDs, fieldIDs)
	}

	return finalize(scores, allIDs, true), nil
}

func getOrCreate(scores map[string]*Candidate, id string) *Candidate {
	c, ok := scores[id]
	if !ok {
		c = &Candidate{ID: id}
		scores[id] = c
	}
	return c
}

func finalize(scores map[string]*Candidate, ids []string, constrained bool) []Candidate {
	if !constrained {
		ids = make([]string, 0, len(scores))
		for id := range scores {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}
	out := make([]Candidate, 0, len(ids))
	for _, id := range ids {
		if c, ok := scores[id]; ok {
			out = append(out, *c)
		}
	}
	return out
}

// narrow folds newIDs into the running candidate set: the first signal
// to produce ids establishes the set, later signals intersect into it.
func narrow(candidateIDs []string, constrained bool, newIDs []string) ([]string, bool) {
	sort.Strings(newIDs)
	if !constrained {
		return newIDs, true
	}
	return intersectSorted(candidateIDs, newIDs), true
}

func sortedCopyOf(ids []string) []string {
	out := make([]string, len(ids))
	copy(out, ids)
	sort.Strings(out)
	return out
}

// intersectSorted intersects two sorted, deduplicated id slices in
// linear time.
func intersectSorted(a, b []string) []string {
	out := make([]string, 0, min(len(a), len(b)))
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			out = append(out, a[i])
			i++
			j++
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return out
}

