package metaindex

import (
	"fmt"

	"github.com/polyquery/polyquery/pkg/model"
)

// shorthandAliases maps the Mongo-style shorthand operator spellings
// spec.md's filter grammar allows to their canonical model.Operator form.
var shorthandAliases = map[string]model.Operator{
	"$eq":      model.OpEquals,
	"$gt":      model.OpGreaterThan,
	"$gte":     model.OpGreaterOrEqual,
	"$lt":      model.OpLessThan,
	"$lte":     model.OpLessOrEqual,
	"$between": model.OpBetween,
	"$in":      model.OpOneOf,
	"$contains": model.OpContains,
	"$exists":  model.OpExists,
	"$not":     model.OpNot,
	"$and":     model.OpAllOf,
	"$or":      model.OpAnyOf,
}

// ParseOperator normalizes either a canonical operator name ("equals") or
// a shorthand alias ("$eq") to its canonical model.Operator form.
func ParseOperator(raw string) (model.Operator, error) {
	if canonical, ok := shorthandAliases[raw]; ok {
		return canonical, nil
	}
	switch model.Operator(raw) {
	case model.OpEquals, model.OpGreaterThan, model.OpGreaterOrEqual,
		model.OpLessThan, model.OpLessOrEqual, model.OpBetween,
		model.OpOneOf, model.OpContains, model.OpExists,
		model.OpNot, model.OpAllOf, model.OpAnyOf:
		return model.Operator(raw), nil
	default:
		return "", fmt.Errorf("unknown filter operator %q", raw)
	}
}
