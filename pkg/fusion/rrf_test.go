package fusion

import (
	"testing"
	"time"

	"github.com/polyquery/polyquery/pkg/executor"
	"github.com/polyquery/polyquery/pkg/model"
)

func scorePtr(v float64) *float64 { return &v }

func TestFuseVectorOnly(t *testing.T) {
	candidates := []executor.Candidate{
		{ID: "a", VectorScore: scorePtr(0.9)},
		{ID: "b", VectorScore: scorePtr(0.5)},
	}
	ranked := Fuse(candidates, nil, nil)
	if len(ranked) != 2 {
		t.Fatalf("len(ranked) = %d, want 2", len(ranked))
	}
	if ranked[0].ID != "a" {
		t.Errorf("ranked[0].ID = %s, want a (higher vector score)", ranked[0].ID)
	}
	if ranked[0].FusionScore <= ranked[1].FusionScore {
		t.Errorf("expected a's fusion score to exceed b's")
	}
}

func TestFuseVectorGraphFieldWeights(t *testing.T) {
	candidates := []executor.Candidate{
		{ID: "a", VectorScore: scorePtr(0.9), GraphScore: scorePtr(0.8)},
		{ID: "b", VectorScore: scorePtr(0.1), GraphScore: scorePtr(0.1)},
	}
	fieldMatched := map[string]bool{"a": true, "b": true}
	ranked := Fuse(candidates, fieldMatched, nil)

	if ranked[0].ID != "a" {
		t.Errorf("ranked[0].ID = %s, want a", ranked[0].ID)
	}
	if ranked[0].FieldScore == nil || *ranked[0].FieldScore != 1.0 {
		t.Errorf("expected a's field score to be 1.0")
	}
}

func TestFuseTieBreaksBySignalPriorityThenID(t *testing.T) {
	// A recent boost with no entity to look up zeroes every fusion score,
	// forcing a tie: the vector-only candidate outranks the graph-only
	// ones, and among the graph-only ties the lower id wins.
	candidates := []executor.Candidate{
		{ID: "z", GraphScore: scorePtr(0.5)},
		{ID: "y", VectorScore: scorePtr(0.5)},
		{ID: "x", GraphScore: scorePtr(0.4)},
	}
	noEntities := func(string) (*model.Entity, bool) { return nil, false }
	ranked := Fuse(candidates, nil, []Boost{NewRecentBoost(noEntities, time.Now())})
	if ranked[0].ID != "y" {
		t.Errorf("expected vector-signal candidate y to rank above graph-signal z on equal score, got order %+v", ranked)
	}
	if ranked[1].ID != "x" {
		t.Errorf("expected x to rank above z among equal-score graph-signal candidates, got order %+v", ranked)
	}
}

func TestFuseAppliesBoostMultiplicatively(t *testing.T) {
	entities := map[string]*model.Entity{
		"a": {ID: "a", Metadata: model.Metadata{"views": model.Int64(0)}},
		"b": {ID: "b", Metadata: model.Metadata{"views": model.Int64(999_999)}},
	}
	lookup := func(id string) (*model.Entity, bool) { e, ok := entities[id]; return e, ok }

	candidates := []executor.Candidate{
		{ID: "a", VectorScore: scorePtr(0.9)},
		{ID: "b", VectorScore: scorePtr(0.85)},
	}
	boost := NewPopularBoost(lookup)
	ranked := Fuse(candidates, nil, []Boost{boost})

	if ranked[0].ID != "b" {
		t.Errorf("expected boosted candidate b to rank first, got %+v", ranked)
	}
}

func TestRecentBoostFavorsFreshEntities(t *testing.T) {
	now := time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC)
	entities := map[string]*model.Entity{
		"old": {ID: "old", Metadata: model.Metadata{"timestamp": model.Timestamp(now.AddDate(0, -6, 0))}},
		"new": {ID: "new", Metadata: model.Metadata{"timestamp": model.Timestamp(now.AddDate(0, 0, -1))}},
	}
	lookup := func(id string) (*model.Entity, bool) { e, ok := entities[id]; return e, ok }

	candidates := []executor.Candidate{
		{ID: "old", VectorScore: scorePtr(0.9)},
		{ID: "new", VectorScore: scorePtr(0.88)},
	}
	boost := NewRecentBoost(lookup, now)
	ranked := Fuse(candidates, nil, []Boost{boost})

	if ranked[0].ID != "new" {
		t.Errorf("expected recently-created entity to rank first, got %+v", ranked)
	}
}

func TestRecentBoostZerosEntitiesMissingTimestamp(t *testing.T) {
	entities := map[string]*model.Entity{
		"tagged":   {ID: "tagged", Metadata: model.Metadata{"timestamp": model.Timestamp(time.Date(2026, 7, 29, 0, 0, 0, 0, time.UTC))}},
		"untagged": {ID: "untagged"},
	}
	lookup := func(id string) (*model.Entity, bool) { e, ok := entities[id]; return e, ok }

	candidates := []executor.Candidate{
		{ID: "tagged", VectorScore: scorePtr(0.5)},
		{ID: "untagged", VectorScore: scorePtr(0.9)},
	}
	boost := NewRecentBoost(lookup, time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC))
	ranked := Fuse(candidates, nil, []Boost{boost})

	if ranked[0].ID != "tagged" {
		t.Errorf("expected tagged entity to outrank the zeroed untagged one, got %+v", ranked)
	}
}

func TestVerifiedBoostRequiresTruthyField(t *testing.T) {
	entities := map[string]*model.Entity{
		"a": {ID: "a", Metadata: model.Metadata{"verified": model.Bool(true)}},
		"b": {ID: "b", Metadata: model.Metadata{"verified": model.Bool(false)}},
	}
	lookup := func(id string) (*model.Entity, bool) { e, ok := entities[id]; return e, ok }

	candidates := []executor.Candidate{
		{ID: "a", VectorScore: scorePtr(0.5)},
		{ID: "b", VectorScore: scorePtr(0.52)},
	}
	boost := NewVerifiedBoost(lookup)
	ranked := Fuse(candidates, nil, []Boost{boost})

	if ranked[0].ID != "a" {
		t.Errorf("expected verified entity a to outrank unverified b despite lower base score, got %+v", ranked)
	}
}

func TestCustomBoostUnknownLabelIsNoOp(t *testing.T) {
	candidates := []executor.Candidate{
		{ID: "a", VectorScore: scorePtr(0.9)},
		{ID: "b", VectorScore: scorePtr(0.5)},
	}
	boost := &CustomBoost{BoostName: "does-not-exist"} // Fn left nil, as the engine does for unresolved labels
	ranked := Fuse(candidates, nil, []Boost{boost})

	if ranked[0].ID != "a" {
		t.Errorf("expected unboosted ranking to survive a no-op custom boost, got %+v", ranked)
	}
}

func TestExplainSummarizesPlan(t *testing.T) {
	plan := model.Plan{
		Start: model.SignalField,
		Steps: []model.PlanStep{
			{Kind: model.SignalField, Op: "filter"},
			{Kind: model.SignalVector, Op: "search"},
		},
	}
	explain := Explain(plan, []Boost{NewPopularBoost(nil)}, 12*time.Millisecond)

	if explain.ElapsedMillis != 12 {
		t.Errorf("ElapsedMillis = %v, want 12", explain.ElapsedMillis)
	}
	if len(explain.BoostsApplied) != 1 || explain.BoostsApplied[0] != "popular" {
		t.Errorf("BoostsApplied = %v, want [popular]", explain.BoostsApplied)
	}
	if explain.PlanSummary == "" {
		t.Error("expected a non-empty plan summary")
	}
}

func TestExplainEmptyPlan(t *testing.T) {
	explain := Explain(model.Plan{}, nil, 0)
	if explain.PlanSummary == "" {
		t.Error("expected a non-empty summary even for an empty plan")
	}
}
