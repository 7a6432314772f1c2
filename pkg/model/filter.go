package model

// Operator names the supported filter predicates. Canonical names are
// used internally; a parser layer (see metaindex.ParseOperator) accepts
// legacy shorthand aliases ("$gt", "$in", ...) and normalizes them to one
// of these.
type Operator string

const (
	OpEquals        Operator = "equals"
	OpGreaterThan   Operator = "greaterThan"
	OpGreaterOrEqual Operator = "greaterOrEqual"
	OpLessThan      Operator = "lessThan"
	OpLessOrEqual   Operator = "lessOrEqual"
	OpBetween       Operator = "between"
	OpOneOf         Operator = "oneOf"
	OpContains      Operator = "contains"
	OpExists        Operator = "exists"
	OpNot           Operator = "not"
	OpAllOf         Operator = "allOf"
	OpAnyOf         Operator = "anyOf"
)

// FilterExpr is a node in the filter expression tree. Leaf nodes carry a
// Field and Value(s); composition nodes (allOf/anyOf/not) carry Children.
type FilterExpr struct {
	Op       Operator
	Field    string
	Value    Scalar   // equals, greaterThan, ..., contains
	Values   []Scalar // between (len 2: lo, hi), oneOf (len N)
	Exists   bool     // exists(bool)
	Children []*FilterExpr
}

// Equals builds an equality predicate on field.
func Equals(field string, v Scalar) *FilterExpr {
	return &FilterExpr{Op: OpEquals, Field: field, Value: v}
}

// GreaterThan builds a > predicate.
func GreaterThan(field string, v Scalar) *FilterExpr {
	return &FilterExpr{Op: OpGreaterThan, Field: field, Value: v}
}

// GreaterOrEqual builds a >= predicate.
func GreaterOrEqual(field string, v Scalar) *FilterExpr {
	return &FilterExpr{Op: OpGreaterOrEqual, Field: field, Value: v}
}

// LessThan builds a < predicate.
func LessThan(field string, v Scalar) *FilterExpr {
	return &FilterExpr{Op: OpLessThan, Field: field, Value: v}
}

// LessOrEqual builds a <= predicate.
func LessOrEqual(field string, v Scalar) *FilterExpr {
	return &FilterExpr{Op: OpLessOrEqual, Field: field, Value: v}
}

// Between builds an inclusive range predicate.
func Between(field string, lo, hi Scalar) *FilterExpr {
	return &FilterExpr{Op: OpBetween, Field: field, Values: []Scalar{lo, hi}}
}

// OneOf builds a set-membership predicate.
func OneOf(field string, values ...Scalar) *FilterExpr {
	return &FilterExpr{Op: OpOneOf, Field: field, Values: values}
}

// Contains builds an array-containment predicate.
func Contains(field string, v Scalar) *FilterExpr {
	return &FilterExpr{Op: OpContains, Field: field, Value: v}
}

// Exists builds an existence predicate.
func Exists(field string, want bool) *FilterExpr {
	return &FilterExpr{Op: OpExists, Field: field, Exists: want}
}

// Not negates a child expression.
func Not(child *FilterExpr) *FilterExpr {
	return &FilterExpr{Op: OpNot, Children: []*FilterExpr{child}}
}

// AllOf is a logical AND over its children.
func AllOf(children ...*FilterExpr) *FilterExpr {
	return &FilterExpr{Op: OpAllOf, Children: children}
}

// AnyOf is a logical OR over its children.
func AnyOf(children ...*FilterExpr) *FilterExpr {
	return &FilterExpr{Op: OpAnyOf, Children: children}
}

// Fields returns the set of field names this expression references,
// deduplicated, used by the planner to look up per-field statistics.
func (f *FilterExpr) Fields() []string {
	seen := map[string]struct{}{}
	var walk func(*FilterExpr)
	walk = func(e *FilterExpr) {
		if e == nil {
			return
		}
		if e.Field != "" {
			seen[e.Field] = struct{}{}
		}
		for _, c := range e.Children {
			walk(c)
		}
	}
	walk(f)
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	return out
}
