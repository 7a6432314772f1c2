// Package planner implements the cost-based query planner described in
// spec.md §5: it estimates a per-signal cost, applies deterministic
// plan-selection rules, and caches the resulting Plan per query
// fingerprint.
package planner

import (
	"math"
	"sort"

	"github.com/polyquery/polyquery/pkg/model"
)

// Stats is the shape of index-shape information the planner needs from
// each subsystem to estimate cost, kept deliberately narrow so the
// planner doesn't import the index packages directly.
type Stats struct {
	CorpusSize        int
	VectorEfSearch    int
	GraphAvgBranching float64
}

// SelectivityEstimator estimates the fraction of the corpus a filter
// expression matches; satisfied by *metaindex.Index.
type SelectivityEstimator interface {
	EstimateSelectivity(expr *model.FilterExpr) float64
}

// parallelCostRatio is the threshold below which two signals' costs are
// considered close enough to run in parallel rather than progressively
// (spec.md §5: "parallel if costs within 10x of each other").
const parallelCostRatio = 10.0

// selectiveThreshold is the selectivity below which a field filter is
// considered so selective it should run first and alone (spec.md §5:
// "most selective signal below 1%").
const selectiveThreshold = 0.01

// Planner builds execution plans from a Query plus live index stats.
type Planner struct {
	selectivity SelectivityEstimator
}

// New creates a Planner backed by the given selectivity estimator.
func New(selectivity SelectivityEstimator) *Planner {
	return &Planner{selectivity: selectivity}
}

// costs holds the estimated per-signal cost of a query, in arbitrary
// comparable units (spec.md §5's cost model, not wall-clock time).
type costs struct {
	vector float64
	field  float64
	graph  float64
}

func (p *Planner) estimateCosts(q model.Query, stats Stats) costs {
	var c costs
	n := float64(stats.CorpusSize)
	if n < 1 {
		n = 1
	}

	if q.Like != nil {
		ef := float64(stats.VectorEfSearch)
		if ef <= 0 {
			ef = float64(model.DefaultLimit)
		}
		c.vector = math.Log2(n+1) * ef
	}

	if q.Where != nil {
		sel := p.selectivity.EstimateSelectivity(q.Where)
		// Resolving the filter costs about selectivity*N ids, with
		// log2(N) (one index lookup) as the floor for very selective
		// filters.
		cost := sel * n
		if idxCost := math.Log2(n + 1); idxCost > cost {
			cost = idxCost
		}
		c.field = cost
	}

	if q.Connected != nil {
		depth := q.Connected.MaxDepth
		if depth <= 0 {
			depth = 1
		}
		branch := stats.GraphAvgBranching
		if branch <= 0 {
			branch = 1
		}
		c.graph = math.Pow(branch, float64(depth))
	}

	return c
}

// Plan chooses an execution shape for q given the current stats.
func (p *Planner) Plan(q model.Query, stats Stats) model.Plan {
	sigs := q.ActiveSignals()
	c := p.estimateCosts(q, stats)

	switch len(sigs) {
	case 0:
		return model.Plan{SkipFusion: true}
	case 1:
		return p.singleSignalPlan(sigs[0], c)
	}

	// Rule: a field filter selective below 1% runs first, alone, and
	// everything else narrows against its output (progressive).
	if q.Where != nil {
		sel := p.selectivity.EstimateSelectivity(q.Where)
		if sel < selectiveThreshold {
			return p.progressivePlan(sigs, c, model.SignalField)
		}
	}

	// Rule: if the two most expensive active signals' costs are within
	// 10x of each other, run them independently in parallel and fuse.
	if costsWithinRatio(sigs, c, parallelCostRatio) {
		return p.parallelPlan(sigs, c)
	}

	// Default: progressive, cheapest signal first, each subsequent
	// signal narrowing the prior signal's candidate set.
	start := cheapestSignal(sigs, c)
	return p.progressivePlan(sigs, c, start)
}

func costsWithinRatio(sigs []model.Signal, c costs, ratio float64) bool {
	vals := make([]float64, 0, len(sigs))
	for _, s := range sigs {
		vals = append(vals, costOf(s, c))
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(vals)))
	top, second := vals[0], vals[1]
	if second <= 0 {
		return top <= 0
	}
	return top/second <= ratio
}

func costOf(s model.Signal, c costs) float64 {
	switch s {
	case model.SignalVector:
		return c.vector
	case model.SignalField:
		return c.field
	case model.SignalGraph:
		return c.graph
	default:
		return 0
	}
}

func cheapestSignal(sigs []model.Signal, c costs) model.Signal {
	best := sigs[0]
	bestCost := costOf(best, c)
	for _, s := range sigs[1:] {
		if v := costOf(s, c); v < bestCost {
			best, bestCost = s, v
		}
	}
	return best
}

func (p *Planner) singleSignalPlan(sig model.Signal, c costs) model.Plan {
	op := opForSignal(sig)
	return model.Plan{
		Start:         sig,
		SkipFusion:    true,
		EstimatedCost: costOf(sig, c),
		Steps:         []model.PlanStep{{Kind: sig, Op: op, EstimatedCost: costOf(sig, c)}},
	}
}

func (p *Planner) parallelPlan(sigs []model.Signal, c costs) model.Plan {
	var total float64
	steps := make([]model.PlanStep, 0, len(sigs)+1)
	for _, s := range sigs {
		cost := costOf(s, c)
		total += cost
		steps = append(steps, model.PlanStep{Kind: s, Op: opForSignal(s), EstimatedCost: cost})
	}
	steps = append(steps, model.PlanStep{Kind: model.SignalFusion, Op: "rank", EstimatedCost: 0})
	return model.Plan{Parallel: true, EstimatedCost: total, Steps: steps}
}

func (p *Planner) progressivePlan(sigs []model.Signal, c costs, start model.Signal) model.Plan {
	ordered := orderStartingWith(sigs, start)
	var total float64
	steps := make([]model.PlanStep, 0, len(ordered)+1)
	for _, s := range ordered {
		cost := costOf(s, c)
		total += cost
		steps = append(steps, model.PlanStep{Kind: s, Op: opForSignal(s), EstimatedCost: cost})
	}
	steps = append(steps, model.PlanStep{Kind: model.SignalFusion, Op: "rank", EstimatedCost: 0})
	return model.Plan{Start: start, EstimatedCost: total, Steps: steps}
}

// orderStartingWith places start first and the remaining signals after
// it, cheapest-to-most-expensive is handled by the caller picking start;
// remaining order follows the canonical vector/field/graph priority so
// plans are deterministic across runs of the same query shape.
func orderStartingWith(sigs []model.Signal, start model.Signal) []model.Signal {
	canonical := []model.Signal{model.SignalVector, model.SignalField, model.SignalGraph}
	present := make(map[model.Signal]bool, len(sigs))
	for _, s := range sigs {
		present[s] = true
	}
	ordered := make([]model.Signal, 0, len(sigs))
	ordered = append(ordered, start)
	for _, s := range canonical {
		if s != start && present[s] {
			ordered = append(ordered, s)
		}
	}
	return ordered
}

func opForSignal(s model.Signal) string {
	switch s {
	case model.SignalVector:
		return "search"
	case model.SignalField:
		return "filter"
	case model.SignalGraph:
		return "traverse"
	default:
		return "rank"
	}
}
