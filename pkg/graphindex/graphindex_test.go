package graphindex

import (
	"context"
	"math"
	"testing"

	"github.com/polyquery/polyquery/pkg/model"
)

func rel(id, from, to, typ string) *model.Relationship {
	return &model.Relationship{ID: id, Source: from, Target: to, Type: typ, Weight: model.DefaultWeight}
}

func TestAddAndNeighbors(t *testing.T) {
	ix := New()
	ix.AddRelationship(rel("r1", "a", "b", "likes"))
	ix.AddRelationship(rel("r2", "a", "c", "follows"))

	out := ix.Neighbors("a", model.DirOut, nil)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}

	likesOnly := ix.Neighbors("a", model.DirOut, []string{"likes"})
	if len(likesOnly) != 1 || likesOnly[0].To != "b" {
		t.Errorf("likesOnly = %+v, want [{To: b}]", likesOnly)
	}

	in := ix.Neighbors("b", model.DirIn, nil)
	if len(in) != 1 || in[0].To != "a" {
		t.Errorf("in = %+v, want [{To: a}]", in)
	}
}

func TestRemoveRelationship(t *testing.T) {
	ix := New()
	r := rel("r1", "a", "b", "likes")
	ix.AddRelationship(r)
	ix.RemoveRelationship(r)

	if len(ix.Neighbors("a", model.DirOut, nil)) != 0 {
		t.Error("expected no outgoing edges after removal")
	}
	if len(ix.Neighbors("b", model.DirIn, nil)) != 0 {
		t.Error("expected no incoming edges after removal")
	}
}

func TestTraverseDepthDecay(t *testing.T) {
	ix := New()
	ix.AddRelationship(rel("r1", "a", "b", "knows"))
	ix.AddRelationship(rel("r2", "b", "c", "knows"))
	ix.AddRelationship(rel("r3", "c", "d", "knows"))

	results, err := ix.Traverse(context.Background(), model.ConnectedSpec{
		From: []string{"a"}, Type: []string{"knows"}, Direction: model.DirOut, MaxDepth: 3,
	})
	if err != nil {
		t.Fatal(err)
	}

	byID := make(map[string]Scored, len(results))
	for _, r := range results {
		byID[r.ID] = r
	}

	if r, ok := byID["b"]; !ok || math.Abs(r.Score-0.8) > 1e-9 {
		t.Errorf("b score = %+v, want ~0.8", r)
	}
	if r, ok := byID["c"]; !ok || math.Abs(r.Score-0.64) > 1e-9 {
		t.Errorf("c score = %+v, want ~0.64", r)
	}
	if r, ok := byID["d"]; !ok || math.Abs(r.Score-0.512) > 1e-9 {
		t.Errorf("d score = %+v, want ~0.512", r)
	}
	if r, ok := byID["a"]; !ok || math.Abs(r.Score-1.0) > 1e-9 {
		t.Errorf("a (seed) score = %+v, want 1.0", r)
	}
}

func TestTraverseRespectsMaxDepth(t *testing.T) {
	ix := New()
	ix.AddRelationship(rel("r1", "a", "b", "knows"))
	ix.AddRelationship(rel("r2", "b", "c", "knows"))

	results, err := ix.Traverse(context.Background(), model.ConnectedSpec{
		From: []string{"a"}, Direction: model.DirOut, MaxDepth: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, r := range results {
		ids[r.ID] = true
	}
	if len(results) != 2 || !ids["a"] || !ids["b"] {
		t.Errorf("results = %+v, want seed a and b at depth 1", results)
	}
}

func TestTraverseBothDirections(t *testing.T) {
	ix := New()
	ix.AddRelationship(rel("r1", "a", "b", "knows"))
	ix.AddRelationship(rel("r2", "c", "a", "knows"))

	results, err := ix.Traverse(context.Background(), model.ConnectedSpec{
		From: []string{"a"}, Direction: model.DirBoth, MaxDepth: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	ids := map[string]bool{}
	for _, r := range results {
		ids[r.ID] = true
	}
	if !ids["b"] || !ids["c"] {
		t.Errorf("expected both b and c reachable, got %+v", results)
	}
}

func TestTraverseRestrictedToTargets(t *testing.T) {
	ix := New()
	ix.AddRelationship(rel("r1", "a", "b", "knows"))
	ix.AddRelationship(rel("r2", "a", "c", "knows"))

	results, err := ix.Traverse(context.Background(), model.ConnectedSpec{
		From: []string{"a"}, To: []string{"c"}, Direction: model.DirOut, MaxDepth: 1,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].ID != "c" {
		t.Errorf("results = %+v, want only c", results)
	}
}

func TestAverageBranching(t *testing.T) {
	ix := New()
	ix.AddRelationship(rel("r1", "a", "b", "knows"))
	ix.AddRelationship(rel("r2", "a", "c", "knows"))
	ix.AddRelationship(rel("r3", "b", "c", "knows"))

	avg := ix.AverageBranching()
	if avg <= 0 {
		t.Errorf("expected positive average branching, got %f", avg)
	}
}
