package executor

import (
	"context"
	"testing"

	"github.com/polyquery/polyquery/pkg/graphindex"
	"github.com/polyquery/polyquery/pkg/metaindex"
	"github.com/polyquery/polyquery/pkg/model"
	"github.com/polyquery/polyquery/pkg/vectorindex"
)

func buildFixture(t *testing.T) *Executor {
	t.Helper()
	vecs := vectorindex.New(vectorindex.DefaultConfig(2))
	fields := metaindex.New()
	graph := graphindex.New()

	entities := map[string][]float32{
		"e1": {1, 0},
		"e2": {0.9, 0.1},
		"e3": {0, 1},
		"e4": {0.1, 0.9},
	}
	for id, v := range entities {
		if err := vecs.Insert(id, v); err != nil {
			t.Fatal(err)
		}
	}
	fields.Put("e1", model.Metadata{"category": model.String("a")})
	fields.Put("e2", model.Metadata{"category": model.String("a")})
	fields.Put("e3", model.Metadata{"category": model.String("b")})
	fields.Put("e4", model.Metadata{"category": model.String("b")})

	graph.AddRelationship(&model.Relationship{ID: "r1", Source: "e1", Target: "e2", Type: "similar", Weight: model.DefaultWeight})
	graph.AddRelationship(&model.Relationship{ID: "r2", Source: "e1", Target: "e3", Type: "similar", Weight: model.DefaultWeight})

	return New(vecs, fields, graph)
}

func TestProgressiveVectorOnly(t *testing.T) {
	ex := buildFixture(t)
	plan := model.Plan{Start: model.SignalVector, Steps: []model.PlanStep{{Kind: model.SignalVector}}}
	q := model.Query{Like: []float32{1, 0}, Limit: 2}

	results, err := ex.Execute(context.Background(), q, plan)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].VectorScore == nil {
		t.Error("expected a vector score on result")
	}
}

func TestProgressiveFieldThenVector(t *testing.T) {
	ex := buildFixture(t)
	plan := model.Plan{
		Start: model.SignalField,
		Steps: []model.PlanStep{{Kind: model.SignalField}, {Kind: model.SignalVector}},
	}
	q := model.Query{
		Like:  []float32{1, 0},
		Where: model.Equals("category", model.String("b")),
		Limit: 10,
	}

	results, err := ex.Execute(context.Background(), q, plan)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ID != "e3" && r.ID != "e4" {
			t.Errorf("unexpected result %s outside category b", r.ID)
		}
	}
}

func TestProgressiveEmptyIntermediateShortCircuits(t *testing.T) {
	ex := buildFixture(t)
	plan := model.Plan{
		Start: model.SignalField,
		Steps: []model.PlanStep{{Kind: model.SignalField}, {Kind: model.SignalVector}},
	}
	q := model.Query{
		Like:  []float32{1, 0},
		Where: model.Equals("category", model.String("nonexistent")),
		Limit: 10,
	}

	results, err := ex.Execute(context.Background(), q, plan)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results, got %+v", results)
	}
}

func TestParallelStrategyIntersectsFieldMask(t *testing.T) {
	ex := buildFixture(t)
	plan := model.Plan{
		Parallel: true,
		Steps: []model.PlanStep{
			{Kind: model.SignalVector}, {Kind: model.SignalField}, {Kind: model.SignalFusion},
		},
	}
	q := model.Query{
		Like:  []float32{1, 0},
		Where: model.Equals("category", model.String("a")),
		Limit: 10,
	}

	results, err := ex.Execute(context.Background(), q, plan)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ID != "e1" && r.ID != "e2" {
			t.Errorf("unexpected result %s outside category a mask", r.ID)
		}
	}
}

func TestGraphSignalScoring(t *testing.T) {
	ex := buildFixture(t)
	plan := model.Plan{Start: model.SignalGraph, Steps: []model.PlanStep{{Kind: model.SignalGraph}}}
	q := model.Query{
		Connected: &model.ConnectedSpec{From: []string{"e1"}, Direction: model.DirOut, MaxDepth: 1},
		Limit:     10,
	}
	results, err := ex.Execute(context.Background(), q, plan)
	if err != nil {
		t.Fatal(err)
	}
	// The seed e1 is included at depth 0 alongside e2 and e3.
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	for _, r := range results {
		if r.GraphScore == nil {
			t.Errorf("expected a graph score on %s", r.ID)
		}
	}
}
