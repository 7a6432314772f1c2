package fusion

import (
	"math"
	"time"

	"github.com/polyquery/polyquery/pkg/model"
)

// Boost multiplicatively adjusts a Ranked's FusionScore in place, after
// RRF has combined the raw signal scores and before the final sort.
type Boost interface {
	Apply(results []Ranked)
	Name() string
}

// entityLookup resolves an id to its entity, used by every built-in boost
// to reach metadata the fusion stage doesn't otherwise see.
type entityLookup func(id string) (*model.Entity, bool)

// thirtyDaysMillis is the decay constant in spec.md §4.7's recent boost.
const thirtyDaysMillis = 30 * 24 * 60 * 60 * 1000.0

// RecentBoost implements spec.md §4.7's recent boost:
// exp(-age_ms / 30_days_ms) against metadata.timestamp, or a boost of 0
// when the field is absent.
type RecentBoost struct {
	Lookup entityLookup
	now    func() time.Time
}

// NewRecentBoost builds a RecentBoost evaluated relative to now.
func NewRecentBoost(lookup entityLookup, now time.Time) *RecentBoost {
	return &RecentBoost{Lookup: lookup, now: func() time.Time { return now }}
}

func (b *RecentBoost) Name() string { return "recent" }

func (b *RecentBoost) Apply(results []Ranked) {
	if b.Lookup == nil {
		return
	}
	now := b.now()
	for i := range results {
		e, ok := b.Lookup(results[i].ID)
		if !ok {
			results[i].FusionScore = 0
			continue
		}
		ts, ok := e.Metadata["timestamp"]
		if !ok || ts.Kind != model.KindTimestamp {
			results[i].FusionScore = 0
			continue
		}
		ageMs := float64(now.Sub(ts.Time).Milliseconds())
		if ageMs < 0 {
			ageMs = 0
		}
		results[i].FusionScore *= math.Exp(-ageMs / thirtyDaysMillis)
	}
}

// PopularBoost implements spec.md §4.7's popular boost:
// log10((metadata.views ?? 0) + 10) / 2.
type PopularBoost struct {
	Lookup entityLookup
}

// NewPopularBoost builds a PopularBoost.
func NewPopularBoost(lookup entityLookup) *PopularBoost {
	return &PopularBoost{Lookup: lookup}
}

func (b *PopularBoost) Name() string { return "popular" }

func (b *PopularBoost) Apply(results []Ranked) {
	if b.Lookup == nil {
		return
	}
	for i := range results {
		views := 0.0
		if e, ok := b.Lookup(results[i].ID); ok {
			if v, ok := e.Metadata["views"]; ok && v.Numeric() {
				views = numericValue(v)
			}
		}
		results[i].FusionScore *= math.Log10(views+10) / 2
	}
}

func numericValue(v model.Scalar) float64 {
	switch v.Kind {
	case model.KindInt:
		return float64(v.Int)
	case model.KindFloat:
		return v.Flt
	default:
		return 0
	}
}

// VerifiedBoost implements spec.md §4.7's verified boost: 1.5 if
// metadata.verified is true, otherwise 1.0 (a no-op multiplier).
type VerifiedBoost struct {
	Lookup entityLookup
}

// NewVerifiedBoost builds a VerifiedBoost.
func NewVerifiedBoost(lookup entityLookup) *VerifiedBoost {
	return &VerifiedBoost{Lookup: lookup}
}

func (b *VerifiedBoost) Name() string { return "verified" }

func (b *VerifiedBoost) Apply(results []Ranked) {
	if b.Lookup == nil {
		return
	}
	for i := range results {
		e, ok := b.Lookup(results[i].ID)
		if !ok {
			continue
		}
		v, ok := e.Metadata["verified"]
		if ok && v.Kind == model.KindBool && v.Bln {
			results[i].FusionScore *= 1.5
		}
	}
}

// CustomBoost evaluates a caller-registered label against an entity's
// metadata. Per spec.md §4.7, an unknown label is a no-op: Fn is nil and
// Apply leaves every score untouched.
type CustomBoost struct {
	BoostName string
	Fn        func(metadata model.Metadata) float64
	Lookup    entityLookup
}

func (b *CustomBoost) Name() string {
	if b.BoostName != "" {
		return b.BoostName
	}
	return "custom"
}

func (b *CustomBoost) Apply(results []Ranked) {
	if b.Fn == nil {
		return
	}
	for i := range results {
		var md model.Metadata
		if b.Lookup != nil {
			if e, ok := b.Lookup(results[i].ID); ok {
				md = e.Metadata
			}
		}
		if mult := b.Fn(md); mult != 0 {
			results[i].FusionScore *= mult
		}
	}
}
