package entitystore

import (
	"context"
	"reflect"
	"sort"
	"testing"

	"github.com/polyquery/polyquery/pkg/model"
	"github.com/polyquery/polyquery/pkg/storage"
)

func TestPutAndGetEntity(t *testing.T) {
	ctx := context.Background()
	store := New(storage.NewMemoryAdapter())

	e := &model.Entity{
		ID:     "e1",
		Vector: []float32{1, 2, 3},
		Type:   "product",
		Metadata: model.Metadata{
			"name": model.String("Widget"),
		},
	}
	if err := store.PutEntity(ctx, e); err != nil {
		t.Fatalf("PutEntity: %v", err)
	}

	got, ok, err := store.GetEntity(ctx, "e1")
	if err != nil {
		t.Fatalf("GetEntity: %v", err)
	}
	if !ok {
		t.Fatal("expected entity to be found")
	}
	if got.Type != "product" || !reflect.DeepEqual(got.Vector, e.Vector) {
		t.Errorf("got %+v, want type=product vector=%v", got, e.Vector)
	}
	if !got.Metadata["name"].Equal(model.String("Widget")) {
		t.Errorf("metadata round trip mismatch: %+v", got.Metadata)
	}
}

func TestGetEntityMissing(t *testing.T) {
	store := New(storage.NewMemoryAdapter())
	_, ok, err := store.GetEntity(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected ok=false for missing entity")
	}
}

func TestDeleteEntity(t *testing.T) {
	ctx := context.Background()
	store := New(storage.NewMemoryAdapter())
	e := &model.Entity{ID: "e1", Vector: []float32{1, 2}}
	if err := store.PutEntity(ctx, e); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteEntity(ctx, "e1"); err != nil {
		t.Fatal(err)
	}
	_, ok, err := store.GetEntity(ctx, "e1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected entity to be gone after delete")
	}
}

func TestListEntityIDs(t *testing.T) {
	ctx := context.Background()
	store := New(storage.NewMemoryAdapter())
	ids := []string{"aa1", "bb2", "cc3"}
	for _, id := range ids {
		if err := store.PutEntity(ctx, &model.Entity{ID: id}); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.ListEntityIDs(ctx)
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(got)
	sort.Strings(ids)
	if !reflect.DeepEqual(got, ids) {
		t.Errorf("got %v, want %v", got, ids)
	}
}

func TestPutAndGetRelationship(t *testing.T) {
	ctx := context.Background()
	store := New(storage.NewMemoryAdapter())
	r := &model.Relationship{
		ID: "rel1", Source: "a", Target: "b", Type: "purchased",
		Metadata: model.Metadata{"amount": model.Int64(42)},
	}
	if err := store.PutRelationship(ctx, r); err != nil {
		t.Fatal(err)
	}
	got, ok, err := store.GetRelationship(ctx, "rel1")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected relationship to be found")
	}
	if got.Source != "a" || got.Target != "b" || got.Type != "purchased" {
		t.Errorf("got %+v", got)
	}
	if got.Weight != model.DefaultWeight {
		t.Errorf("expected default weight, got %f", got.Weight)
	}
}

func TestListRelationships(t *testing.T) {
	ctx := context.Background()
	store := New(storage.NewMemoryAdapter())
	rels := []*model.Relationship{
		{ID: "r1", Source: "a", Target: "b", Type: "knows"},
		{ID: "r2", Source: "b", Target: "c", Type: "knows"},
	}
	for _, r := range rels {
		if err := store.PutRelationship(ctx, r); err != nil {
			t.Fatal(err)
		}
	}
	got, err := store.ListRelationships(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Fatalf("len(got) = %d, want 2", len(got))
	}
}
