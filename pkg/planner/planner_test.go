package planner

import (
	"testing"

	"github.com/polyquery/polyquery/pkg/model"
)

type fakeSelectivity struct{ sel float64 }

func (f fakeSelectivity) EstimateSelectivity(*model.FilterExpr) float64 { return f.sel }

func TestPlanSingleSignal(t *testing.T) {
	p := New(fakeSelectivity{sel: 0.5})
	q := model.Query{Like: []float32{1, 2, 3}}
	plan := p.Plan(q, Stats{CorpusSize: 1000, VectorEfSearch: 50})

	if plan.Start != model.SignalVector {
		t.Errorf("Start = %v, want vector", plan.Start)
	}
	if !plan.SkipFusion {
		t.Error("expected SkipFusion for a single-signal query")
	}
}

func TestPlanHighlySelectiveFieldRunsFirst(t *testing.T) {
	p := New(fakeSelectivity{sel: 0.001})
	q := model.Query{
		Like:  []float32{1, 2},
		Where: model.Equals("sku", model.String("x")),
	}
	plan := p.Plan(q, Stats{CorpusSize: 100000, VectorEfSearch: 50})

	if plan.Start != model.SignalField {
		t.Errorf("Start = %v, want field for a highly selective filter", plan.Start)
	}
	if plan.Parallel {
		t.Error("expected progressive plan, not parallel")
	}
}

func TestPlanParallelWhenCostsClose(t *testing.T) {
	p := New(fakeSelectivity{sel: 0.5})
	q := model.Query{
		Like:      []float32{1, 2},
		Where:     model.Equals("sku", model.String("x")),
		Connected: &model.ConnectedSpec{From: []string{"a"}, MaxDepth: 1},
	}
	// Small corpus: the two most expensive signals, vector
	// (log2(11)*10 ≈ 34.6) and field (0.5*10 = 5), are within the
	// parallel-eligible ratio of each other; graph costs 1.
	plan := p.Plan(q, Stats{CorpusSize: 10, VectorEfSearch: 10, GraphAvgBranching: 1})

	if !plan.Parallel {
		t.Errorf("expected a parallel plan, got %+v", plan)
	}
	if !hasStep(plan, model.SignalFusion) {
		t.Error("expected a fusion step appended to a parallel plan")
	}
}

func TestPlanNoSignalsSkipsFusion(t *testing.T) {
	p := New(fakeSelectivity{})
	plan := p.Plan(model.Query{}, Stats{CorpusSize: 100})
	if !plan.SkipFusion {
		t.Error("expected SkipFusion for a query with no active signals")
	}
}

func TestFingerprintStableAcrossFilterValues(t *testing.T) {
	q1 := model.Query{Where: model.Equals("sku", model.String("a")), Limit: 10}
	q2 := model.Query{Where: model.Equals("sku", model.String("b")), Limit: 10}
	if Fingerprint(q1) != Fingerprint(q2) {
		t.Error("expected fingerprints to match for queries differing only in filter value")
	}
}

func TestFingerprintDiffersAcrossShape(t *testing.T) {
	q1 := model.Query{Where: model.Equals("sku", model.String("a"))}
	q2 := model.Query{Where: model.GreaterThan("sku", model.String("a"))}
	if Fingerprint(q1) == Fingerprint(q2) {
		t.Error("expected fingerprints to differ across operator shape")
	}
}

func TestCachePutGet(t *testing.T) {
	c, err := NewCache(4)
	if err != nil {
		t.Fatal(err)
	}
	plan := model.Plan{Start: model.SignalVector}
	c.Put("fp1", plan)

	got, ok := c.Get("fp1")
	if !ok || got.Start != model.SignalVector {
		t.Errorf("got %+v, ok=%v", got, ok)
	}
	if _, ok := c.Get("missing"); ok {
		t.Error("expected cache miss for unknown fingerprint")
	}
}

func hasStep(plan model.Plan, kind model.Signal) bool {
	for _, s := range plan.Steps {
		if s.Kind == kind {
			return true
		}
	}
	return false
}
