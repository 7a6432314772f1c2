package polyquery

import (
	"github.com/polyquery/polyquery/pkg/model"
	"github.com/polyquery/polyquery/pkg/planner"
	"github.com/polyquery/polyquery/pkg/storage"
	"github.com/polyquery/polyquery/pkg/vectorindex"
)

// DimensionPolicy governs how the engine reacts when an inserted vector's
// length doesn't match the corpus dimension D.
type DimensionPolicy int

const (
	// DimensionWarnOnly preserves spec.md's strict behavior: a mismatch is
	// ErrDimensionMismatch. This is the default.
	DimensionWarnOnly DimensionPolicy = iota
	// DimensionAutoTruncate drops trailing components to fit D.
	DimensionAutoTruncate
	// DimensionAutoPad zero-pads short vectors to fit D.
	DimensionAutoPad
	// DimensionSmartAdapt truncates long vectors and zero-pads short ones.
	DimensionSmartAdapt
)

// HNSWConfig tunes the vector index (pkg/vectorindex), wrapping its Config
// with the corpus dimension supplied separately by Config.Dim.
type HNSWConfig struct {
	M               int
	EfConstruction  int
	EfSearch        int
	WithinThreshold float64
}

// DefaultHNSWConfig returns spec.md §4.1's documented HNSW defaults.
func DefaultHNSWConfig() HNSWConfig {
	return HNSWConfig{M: 16, EfConstruction: 200, EfSearch: 50, WithinThreshold: 0.05}
}

func (c HNSWConfig) toIndexConfig(dim int) vectorindex.Config {
	return vectorindex.Config{
		Dim:             dim,
		M:               c.M,
		EfConstruction:  c.EfConstruction,
		EfSearch:        c.EfSearch,
		Distance:        vectorindex.CosineDistance,
		WithinThreshold: c.WithinThreshold,
	}
}

// MetadataConfig reserves room for metaindex tuning; the hash+sorted
// index design (pkg/metaindex) currently has no tunable parameters beyond
// what's inferred per field, but this keeps the sub-config shape uniform
// with HNSWConfig/GraphConfig for forward compatibility.
type MetadataConfig struct{}

// GraphConfig tunes the graph traversal signal (pkg/graphindex).
type GraphConfig struct {
	// DefaultMaxDepth is used when a ConnectedSpec omits MaxDepth.
	DefaultMaxDepth int
	// DefaultBranching feeds the planner's cost model when the graph
	// index hasn't yet observed enough edges to estimate it empirically.
	DefaultBranching float64
}

// DefaultGraphConfig returns spec.md §6's documented default traversal
// depth and §4.3's default branching factor.
func DefaultGraphConfig() GraphConfig {
	return GraphConfig{DefaultMaxDepth: 2, DefaultBranching: 10}
}

// PlannerConfig tunes the cost-based planner (pkg/planner).
type PlannerConfig struct {
	// PlanCacheSize bounds the LRU plan cache; 0 disables caching.
	PlanCacheSize int
}

// DefaultPlannerConfig returns the planner's default bounded-cache size.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{PlanCacheSize: 1024}
}

func (c PlannerConfig) newCache() (*planner.Cache, error) {
	if c.PlanCacheSize <= 0 {
		return nil, nil
	}
	return planner.NewCache(c.PlanCacheSize)
}

// EmbedFunc is the injected text-to-vector capability (spec.md §6's
// embedding-function contract). The engine never implements embedding
// itself.
type EmbedFunc func(text string) ([]float32, error)

// Config configures a new Engine. Zero-value fields are filled in by
// DefaultConfig.
type Config struct {
	// Dim is the corpus's fixed embedding dimension.
	Dim int

	// Storage is the injected blob-KV adapter (pkg/storage.Adapter). If
	// nil, an in-memory adapter is used.
	Storage storage.Adapter

	// Embed resolves free text passed as Query.Like/insert seeds to a
	// vector. Required only if callers pass text rather than vectors.
	Embed EmbedFunc

	// Logger receives structured diagnostic output; defaults to
	// NopLogger().
	Logger Logger

	HNSW     HNSWConfig
	Metadata MetadataConfig
	Graph    GraphConfig
	Planner  PlannerConfig

	// DimensionPolicy governs mismatched-vector handling on insert.
	DimensionPolicy DimensionPolicy

	// MaxLimit rejects a Query.Limit above this as InvalidArgument.
	// Limit == 0 is a literal "return no results" (spec.md §8), not bound
	// by this.
	MaxLimit int

	// MaxInFlightWrites bounds concurrent insert/update/delete calls; once
	// reached, further writes return ErrBusy until a slot frees up
	// (spec.md §5's write-queue high-water mark).
	MaxInFlightWrites int

	// CustomBoosts maps a caller-chosen Query.Boost label to a scoring
	// function evaluated against an entity's metadata. An unrecognized
	// label (not one of "recent"/"popular"/"verified" and absent here) is
	// a no-op per spec.md §4.7.
	CustomBoosts map[string]func(model.Metadata) float64
}

// DefaultConfig returns a Config with spec.md's documented defaults. Dim
// must still be set by the caller (default 384 per spec.md §3, applied
// here as a starting point).
func DefaultConfig() Config {
	return Config{
		Dim:               384,
		Logger:            NopLogger(),
		HNSW:              DefaultHNSWConfig(),
		Graph:             DefaultGraphConfig(),
		Planner:           DefaultPlannerConfig(),
		DimensionPolicy:   DimensionWarnOnly,
		MaxLimit:          10_000,
		MaxInFlightWrites: 256,
	}
}
