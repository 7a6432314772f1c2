package metaindex

import (
	"fmt"
	"sort"
	"strings"

	"github.com/polyquery/polyquery/pkg/model"
)

// Evaluate resolves a filter expression tree against the index, returning
// the sorted, deduplicated set of matching entity ids.
func (ix *Index) Evaluate(expr *model.FilterExpr) ([]string, error) {
	if expr == nil {
		return nil, nil
	}
	switch expr.Op {
	case model.OpEquals:
		return ix.equals(expr.Field, expr.Value)
	case model.OpGreaterThan:
		return ix.rangeQuery(expr.Field, &expr.Value, true, nil, false)
	case model.OpGreaterOrEqual:
		return ix.rangeQuery(expr.Field, &expr.Value, false, nil, false)
	case model.OpLessThan:
		return ix.rangeQuery(expr.Field, nil, false, &expr.Value, true)
	case model.OpLessOrEqual:
		return ix.rangeQuery(expr.Field, nil, false, &expr.Value, false)
	case model.OpBetween:
		if len(expr.Values) != 2 {
			return nil, fmt.Errorf("between requires exactly 2 values, got %d", len(expr.Values))
		}
		return ix.rangeQuery(expr.Field, &expr.Values[0], false, &expr.Values[1], false)
	case model.OpOneOf:
		return ix.oneOf(expr.Field, expr.Values)
	case model.OpContains:
		return ix.contains(expr.Field, expr.Value)
	case model.OpExists:
		return ix.exists(expr.Field, expr.Exists)
	case model.OpNot:
		if len(expr.Children) != 1 {
			return nil, fmt.Errorf("not requires exactly 1 child, got %d", len(expr.Children))
		}
		return ix.not(expr.Children[0])
	case model.OpAllOf:
		return ix.allOf(expr.Children)
	case model.OpAnyOf:
		return ix.anyOf(expr.Children)
	default:
		return nil, fmt.Errorf("unsupported operator %q", expr.Op)
	}
}

func (ix *Index) equals(field string, val model.Scalar) ([]string, error) {
	fi := ix.fieldFor(field, false)
	if fi == nil {
		return nil, nil
	}
	return fi.equalsIDs(val), nil
}

func (ix *Index) contains(field string, val model.Scalar) ([]string, error) {
	fi := ix.fieldFor(field, false)
	if fi == nil {
		return nil, nil
	}
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	ids := make([]string, 0)
	for id, v := range fi.values {
		switch v.Kind {
		case model.KindList:
			for _, item := range v.List {
				if item.Equal(val) {
					ids = append(ids, id)
					break
				}
			}
		case model.KindString:
			if val.Kind == model.KindString && strings.Contains(v.Str, val.Str) {
				ids = append(ids, id)
			}
		}
	}
	sort.Strings(ids)
	return ids, nil
}

func (ix *Index) oneOf(field string, vals []model.Scalar) ([]string, error) {
	fi := ix.fieldFor(field, false)
	if fi == nil {
		return nil, nil
	}
	seen := make(map[string]struct{})
	for _, v := range vals {
		for _, id := range fi.equalsIDs(v) {
			seen[id] = struct{}{}
		}
	}
	return sortedKeys(seen), nil
}

// exists(field, false) mirrors not(): it has no sorted/hash bucket to look
// up directly, so it falls back to the same corpus-wide complement allKnownIDs
// builds for the not operator.
func (ix *Index) exists(field string, want bool) ([]string, error) {
	fi := ix.fieldFor(field, false)
	if fi == nil {
		if want {
			return nil, nil
		}
		return ix.allKnownIDs(), nil
	}
	present := toSet(fi.existsIDs())
	if want {
		return sortedKeys(present), nil
	}
	out := make([]string, 0)
	for _, id := range ix.allKnownIDs() {
		if _, ok := present[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// rangeQuery applies inclusive bounds via the sorted/linear-scan index and
// then, for strict bounds, removes exact matches on the excluded boundary
// value(s).
func (ix *Index) rangeQuery(field string, lo *model.Scalar, loStrict bool, hi *model.Scalar, hiStrict bool) ([]string, error) {
	fi := ix.fieldFor(field, false)
	if fi == nil {
		return nil, nil
	}
	ids := fi.rangeIDs(lo, hi)
	if !loStrict && !hiStrict {
		return ids, nil
	}
	out := ids[:0:0]
	for _, id := range ids {
		v, ok := fi.lookup(id)
		if !ok {
			continue
		}
		if loStrict && lo != nil && model.Compare(v, *lo) == 0 {
			continue
		}
		if hiStrict && hi != nil && model.Compare(v, *hi) == 0 {
			continue
		}
		out = append(out, id)
	}
	return out, nil
}

func (fi *fieldIndex) lookup(id string) (model.Scalar, bool) {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	v, ok := fi.values[id]
	return v, ok
}

func (ix *Index) allOf(children []*model.FilterExpr) ([]string, error) {
	if len(children) == 0 {
		return nil, nil
	}
	var result map[string]struct{}
	for _, c := range children {
		ids, err := ix.Evaluate(c)
		if err != nil {
			return nil, err
		}
		set := toSet(ids)
		if result == nil {
			result = set
			continue
		}
		result = intersect(result, set)
		if len(result) == 0 {
			return nil, nil
		}
	}
	return sortedKeys(result), nil
}

func (ix *Index) anyOf(children []*model.FilterExpr) ([]string, error) {
	union := make(map[string]struct{})
	for _, c := range children {
		ids, err := ix.Evaluate(c)
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			union[id] = struct{}{}
		}
	}
	return sortedKeys(union), nil
}

// not returns every id in the corpus minus the child's matches. This is
// the one operator that must scan the whole corpus by construction.
func (ix *Index) not(child *model.FilterExpr) ([]string, error) {
	matched, err := ix.Evaluate(child)
	if err != nil {
		return nil, err
	}
	exclude := toSet(matched)
	all := ix.allKnownIDs()
	out := make([]string, 0, len(all))
	for _, id := range all {
		if _, ok := exclude[id]; !ok {
			out = append(out, id)
		}
	}
	return out, nil
}

// allKnownIDs unions every field's indexed ids, which may undercount ids
// that carry no indexed metadata fields at all; callers needing an exact
// corpus-wide complement should source the full id set from entitystore.
func (ix *Index) allKnownIDs() []string {
	ix.mu.RLock()
	fields := make([]*fieldIndex, 0, len(ix.fields))
	for _, f := range ix.fields {
		fields = append(fields, f)
	}
	ix.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, f := range fields {
		for _, id := range f.existsIDs() {
			seen[id] = struct{}{}
		}
	}
	return sortedKeys(seen)
}

func toSet(ids []string) map[string]struct{} {
	s := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

func intersect(a, b map[string]struct{}) map[string]struct{} {
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	out := make(map[string]struct{})
	for id := range small {
		if _, ok := big[id]; ok {
			out[id] = struct{}{}
		}
	}
	return out
}

func sortedKeys(s map[string]struct{}) []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
