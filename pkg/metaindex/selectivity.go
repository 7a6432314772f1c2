package metaindex

import "github.com/polyquery/polyquery/pkg/model"

// defaultSelectivity is used for contains filters and for range filters on
// a field that has gone mixed or is absent (equals, oneOf and exists on an
// absent field estimate 0).
const defaultSelectivity = 0.3

// Stats reports index shape for the planner's cost model and for
// observability, the metadata-index analog of pkg/vectorindex.Index.Stats.
type Stats struct {
	TotalEntities int
	FieldCount    int
	MixedFields   int
	// Cardinality maps each field name to its distinct-value count (hash
	// bucket count), 0 for fields that have degraded to mixed.
	Cardinality map[string]int
}

func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	fields := make(map[string]*fieldIndex, len(ix.fields))
	for name, f := range ix.fields {
		fields[name] = f
	}
	total := ix.total
	ix.mu.RUnlock()

	s := Stats{TotalEntities: total, FieldCount: len(fields), Cardinality: make(map[string]int, len(fields))}
	for name, f := range fields {
		f.mu.RLock()
		if f.mixed {
			s.MixedFields++
		} else {
			s.Cardinality[name] = len(f.hash)
		}
		f.mu.RUnlock()
	}
	return s
}

// EstimateSelectivity returns the fraction of the corpus expr is expected
// to match, in [0, 1], for the planner's cost model (spec.md §5).
func (ix *Index) EstimateSelectivity(expr *model.FilterExpr) float64 {
	total := ix.Total()
	if total == 0 {
		return 0
	}
	return clamp01(ix.estimateCount(expr) / float64(total))
}

func (ix *Index) estimateCount(expr *model.FilterExpr) float64 {
	total := float64(ix.Total())
	if expr == nil {
		return total
	}
	switch expr.Op {
	case model.OpEquals:
		fi := ix.fieldFor(expr.Field, false)
		if fi == nil {
			return 0
		}
		return float64(fi.equalsCount(expr.Value))
	case model.OpOneOf:
		fi := ix.fieldFor(expr.Field, false)
		if fi == nil {
			return 0
		}
		var sum float64
		for _, v := range expr.Values {
			sum += float64(fi.equalsCount(v))
		}
		if sum > total {
			sum = total
		}
		return sum
	case model.OpExists:
		fi := ix.fieldFor(expr.Field, false)
		if fi == nil {
			return 0
		}
		return float64(fi.count())
	case model.OpGreaterThan, model.OpGreaterOrEqual, model.OpLessThan, model.OpLessOrEqual, model.OpBetween:
		fi := ix.fieldFor(expr.Field, false)
		if fi == nil || fi.mixed {
			return defaultSelectivity * total
		}
		// Count exactly by evaluating the range against the sorted index;
		// this materializes the matching ids.
		ids, err := ix.Evaluate(expr)
		if err != nil {
			return defaultSelectivity * total
		}
		return float64(len(ids))
	case model.OpAllOf:
		if len(expr.Children) == 0 {
			return total
		}
		min := total
		for _, c := range expr.Children {
			if v := ix.estimateCount(c); v < min {
				min = v
			}
		}
		return min
	case model.OpAnyOf:
		var sum float64
		for _, c := range expr.Children {
			sum += ix.estimateCount(c)
		}
		if sum > total {
			sum = total
		}
		return sum
	case model.OpNot:
		if len(expr.Children) != 1 {
			return total
		}
		return total - ix.estimateCount(expr.Children[0])
	case model.OpContains:
		return defaultSelectivity * total
	default:
		return defaultSelectivity * total
	}
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
