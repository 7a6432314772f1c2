package polyquery

import "github.com/polyquery/polyquery/pkg/model"

// These aliases re-export pkg/model's public types under the root
// package, so callers write polyquery.Query{...} without importing
// pkg/model directly. The types themselves live in pkg/model because
// every index and query subsystem (planner, executor, fusion) shares
// them without depending on the root package.
type (
	Entity        = model.Entity
	Relationship  = model.Relationship
	Metadata      = model.Metadata
	Scalar        = model.Scalar
	FilterExpr    = model.FilterExpr
	ConnectedSpec = model.ConnectedSpec
	Query         = model.Query
	RankedResult  = model.RankedResult
	Explanation   = model.Explanation
	Direction     = model.Direction
	Mode          = model.Mode
	Operator      = model.Operator
)

// Direction and Mode constants, re-exported for the same reason.
const (
	DirIn   = model.DirIn
	DirOut  = model.DirOut
	DirBoth = model.DirBoth

	ModeAuto   = model.ModeAuto
	ModeVector = model.ModeVector
	ModeGraph  = model.ModeGraph
	ModeField  = model.ModeField
	ModeFusion = model.ModeFusion
)

// Filter constructors, re-exported from pkg/model for ergonomic query
// building: polyquery.Equals("category", polyquery.String("tech")).
var (
	Equals         = model.Equals
	GreaterThan    = model.GreaterThan
	GreaterOrEqual = model.GreaterOrEqual
	LessThan       = model.LessThan
	LessOrEqual    = model.LessOrEqual
	Between        = model.Between
	OneOf          = model.OneOf
	Contains       = model.Contains
	Exists         = model.Exists
	Not            = model.Not
	AllOf          = model.AllOf
	AnyOf          = model.AnyOf

	String    = model.String
	Int64     = model.Int64
	Float64   = model.Float64
	Bool      = model.Bool
	Timestamp = model.Timestamp
	List      = model.List
)
