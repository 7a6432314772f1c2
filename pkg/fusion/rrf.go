// Package fusion implements the Reciprocal Rank Fusion ranker described
// in spec.md §4.7: per-signal ranks are combined with adaptive weights,
// multiplicative boosts are applied, and results are sorted with a fully
// deterministic tie-break.
package fusion

import (
	"sort"

	"github.com/polyquery/polyquery/pkg/executor"
	"github.com/polyquery/polyquery/pkg/model"
)

// RRFConstant is the k in RRF's 1/(k+rank) term; 60 is the standard value
// from the original Cormack/Clarke/Buettcher RRF paper and spec.md §4.7.
const RRFConstant = 60.0

// Weights is the per-signal contribution weight applied before summing
// reciprocal ranks.
type Weights struct {
	Vector float64
	Graph  float64
	Field  float64
}

// weightsForCombo returns spec.md §4.7's adaptive weight set for exactly
// the signals present in sigs.
func weightsForCombo(sigs map[model.Signal]bool) Weights {
	switch {
	case sigs[model.SignalVector] && sigs[model.SignalGraph] && sigs[model.SignalField]:
		return Weights{Vector: 0.40, Graph: 0.35, Field: 0.25}
	case sigs[model.SignalVector] && sigs[model.SignalGraph]:
		return Weights{Vector: 0.60, Graph: 0.40}
	case sigs[model.SignalVector] && sigs[model.SignalField]:
		return Weights{Vector: 0.50, Field: 0.50}
	case sigs[model.SignalGraph] && sigs[model.SignalField]:
		return Weights{Graph: 0.60, Field: 0.40}
	case sigs[model.SignalVector]:
		return Weights{Vector: 1.0}
	case sigs[model.SignalGraph]:
		return Weights{Graph: 1.0}
	case sigs[model.SignalField]:
		return Weights{Field: 1.0}
	default:
		return Weights{}
	}
}

// Ranked is one fused candidate, carrying the raw per-signal scores
// alongside the combined FusionScore for explain mode.
type Ranked struct {
	ID          string
	FusionScore float64
	VectorScore *float64
	GraphScore  *float64
	FieldScore  *float64
}

// Fuse combines per-signal candidate scores into a single ranked list
// using Reciprocal Rank Fusion, applying boosts and sorting by fusion
// score descending with a deterministic tie-break.
func Fuse(candidates []executor.Candidate, fieldMatched map[string]bool, boosts []Boost) []Ranked {
	present := activeSignals(candidates, fieldMatched)
	w := weightsForCombo(present)

	vectorRanks := rankByScore(candidates, func(c executor.Candidate) *float64 { return c.VectorScore })
	graphRanks := rankByScore(candidates, func(c executor.Candidate) *float64 { return c.GraphScore })

	var fieldRanks map[string]int
	if fieldMatched != nil {
		fieldRanks = make(map[string]int, len(fieldMatched))
		rank := 1
		ids := make([]string, 0, len(fieldMatched))
		for id, matched := range fieldMatched {
			if matched {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		for _, id := range ids {
			fieldRanks[id] = rank
			rank++
		}
	}

	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		var score float64
		if r, ok := vectorRanks[c.ID]; ok {
			score += w.Vector / (RRFConstant + float64(r))
		}
		if r, ok := graphRanks[c.ID]; ok {
			score += w.Graph / (RRFConstant + float64(r))
		}
		if r, ok := fieldRanks[c.ID]; ok {
			score += w.Field / (RRFConstant + float64(r))
		}

		var fieldScore *float64
		if fieldMatched != nil {
			v := 0.0
			if fieldMatched[c.ID] {
				v = 1.0
			}
			fieldScore = &v
		}

		r := Ranked{
			ID: c.ID, FusionScore: score,
			VectorScore: c.VectorScore, GraphScore: c.GraphScore, FieldScore: fieldScore,
		}
		out = append(out, r)
	}

	for _, b := range boosts {
		b.Apply(out)
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].FusionScore != out[j].FusionScore {
			return out[i].FusionScore > out[j].FusionScore
		}
		if pi, pj := signalPriority(out[i]), signalPriority(out[j]); pi != pj {
			return pi < pj
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// activeSignals reports which signal kinds actually produced any score
// across the candidate set, so weightsForCombo picks the right combo even
// when a plan step ran but found nothing.
func activeSignals(candidates []executor.Candidate, fieldMatched map[string]bool) map[model.Signal]bool {
	sigs := make(map[model.Signal]bool, 3)
	for _, c := range candidates {
		if c.VectorScore != nil {
			sigs[model.SignalVector] = true
		}
		if c.GraphScore != nil {
			sigs[model.SignalGraph] = true
		}
	}
	if fieldMatched != nil {
		sigs[model.SignalField] = true
	}
	return sigs
}

// rankByScore assigns a 1-based descending rank to every candidate that
// has a non-nil score under get, with ties broken by id for determinism.
func rankByScore(candidates []executor.Candidate, get func(executor.Candidate) *float64) map[string]int {
	type scored struct {
		id    string
		score float64
	}
	scoredList := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if v := get(c); v != nil {
			scoredList = append(scoredList, scored{id: c.ID, score: *v})
		}
	}
	sort.Slice(scoredList, func(i, j int) bool {
		if scoredList[i].score != scoredList[j].score {
			return scoredList[i].score > scoredList[j].score
		}
		return scoredList[i].id < scoredList[j].id
	})
	ranks := make(map[string]int, len(scoredList))
	for i, s := range scoredList {
		ranks[s.id] = i + 1
	}
	return ranks
}

// signalPriority breaks fusion-score ties deterministically: vector- over
// graph- over field-only matches, per spec.md §5's tie-breaking rule.
func signalPriority(r Ranked) int {
	switch {
	case r.VectorScore != nil:
		return 0
	case r.GraphScore != nil:
		return 1
	default:
		return 2
	}
}
