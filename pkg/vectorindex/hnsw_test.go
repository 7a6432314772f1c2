package vectorindex

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/polyquery/polyquery/internal/encoding"
)

func normalize(v []float32) []float32 {
	var sum float32
	for _, x := range v {
		sum += x * x
	}
	norm := float32(math.Sqrt(float64(sum)))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x / norm
	}
	return out
}

func TestInsertAndSearchBasic(t *testing.T) {
	cfg := DefaultConfig(4)
	cfg.Distance = EuclideanDistance
	ix := New(cfg)

	samples := map[string][]float32{
		"vec1": {1.0, 0.0, 0.0, 0.0},
		"vec2": {0.0, 1.0, 0.0, 0.0},
		"vec3": {0.0, 0.0, 1.0, 0.0},
		"vec4": {0.5, 0.5, 0.0, 0.0},
		"vec5": {0.5, 0.0, 0.5, 0.0},
	}
	for id, v := range samples {
		if err := ix.Insert(id, v); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	if got := ix.Size(); got != 5 {
		t.Fatalf("Size() = %d, want 5", got)
	}

	results, err := ix.Search([]float32{0.9, 0.1, 0.0, 0.0}, 3, 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results[0].ID != "vec1" {
		t.Errorf("closest result = %s, want vec1", results[0].ID)
	}
	for i := 1; i < len(results); i++ {
		if results[i].Score > results[i-1].Score {
			t.Errorf("results not sorted by descending score at index %d", i)
		}
	}
}

func TestSearchCosine(t *testing.T) {
	cfg := DefaultConfig(4)
	ix := New(cfg) // default distance is cosine

	samples := map[string][]float32{
		"doc1": normalize([]float32{1, 0, 0, 0}),
		"doc2": normalize([]float32{1, 1, 0, 0}),
		"doc3": normalize([]float32{0, 1, 0, 0}),
		"doc4": normalize([]float32{1, 0, 1, 0}),
		"doc5": normalize([]float32{1, 1, 1, 1}),
	}
	for id, v := range samples {
		if err := ix.Insert(id, v); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	results, err := ix.Search(normalize([]float32{1, 0, 0, 0}), 1, 50)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(results) != 1 || results[0].ID != "doc1" {
		t.Fatalf("expected exact match doc1, got %+v", results)
	}
	if results[0].Score < 0.99 {
		t.Errorf("expected near-1.0 score for an exact match, got %f", results[0].Score)
	}
}

func TestInsertValidation(t *testing.T) {
	ix := New(DefaultConfig(3))

	if err := ix.Insert("bad-dim", []float32{1, 2}); err != ErrDimensionMismatch {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if err := ix.Insert("zero", []float32{0, 0, 0}); err != ErrInvalidVector {
		t.Errorf("expected ErrInvalidVector for an all-zero vector, got %v", err)
	}
	if err := ix.Insert("nan", []float32{float32(math.NaN()), 0, 0}); err != ErrInvalidVector {
		t.Errorf("expected ErrInvalidVector for NaN component, got %v", err)
	}
}

func TestReinsertReplaces(t *testing.T) {
	ix := New(DefaultConfig(2))
	if err := ix.Insert("a", []float32{1, 0}); err != nil {
		t.Fatal(err)
	}
	if err := ix.Insert("a", []float32{0, 1}); err != nil {
		t.Fatal(err)
	}
	if ix.Size() != 1 {
		t.Fatalf("expected size 1 after re-insert, got %d", ix.Size())
	}
	results, err := ix.Search([]float32{0, 1}, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 1 || results[0].Score < 0.99 {
		t.Errorf("re-inserted vector not reflected in search, got %+v", results)
	}
}

func TestDeleteRemovesFromResults(t *testing.T) {
	ix := New(DefaultConfig(2))
	for i := 0; i < 10; i++ {
		v := []float32{float32(i), float32(10 - i)}
		if err := ix.Insert(fmt.Sprintf("n%d", i), v); err != nil {
			t.Fatal(err)
		}
	}
	ix.Delete("n5")
	if ix.Size() != 9 {
		t.Fatalf("Size() = %d, want 9", ix.Size())
	}
	results, err := ix.Search([]float32{5, 5}, 10, 50)
	if err != nil {
		t.Fatal(err)
	}
	for _, r := range results {
		if r.ID == "n5" {
			t.Errorf("deleted node n5 still present in results")
		}
	}
}

func TestDeleteElectsNewEntryPoint(t *testing.T) {
	ix := New(DefaultConfig(2))
	ids := []string{"a", "b", "c", "d", "e"}
	for i, id := range ids {
		if err := ix.Insert(id, []float32{float32(i + 1), float32(i + 1)}); err != nil {
			t.Fatal(err)
		}
	}
	for _, id := range ids {
		ix.Delete(id)
	}
	if ix.Size() != 0 {
		t.Fatalf("expected empty index, got size %d", ix.Size())
	}
	results, err := ix.Search([]float32{1, 1}, 1, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 0 {
		t.Errorf("expected no results on empty index, got %+v", results)
	}
}

func TestSearchWithinBruteForcePath(t *testing.T) {
	ix := New(DefaultConfig(2))
	for i := 0; i < 200; i++ {
		v := []float32{float32(i), 1}
		if err := ix.Insert(fmt.Sprintf("p%d", i), v); err != nil {
			t.Fatal(err)
		}
	}

	// Fewer than WithinThreshold*N candidates: exercises the brute-force path.
	candidates := []string{"p1", "p2", "p3"}
	results, err := ix.SearchWithin([]float32{2, 0}, 2, candidates)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	for _, r := range results {
		found := false
		for _, c := range candidates {
			if r.ID == c {
				found = true
			}
		}
		if !found {
			t.Errorf("result %s not in candidate restriction", r.ID)
		}
	}
}

func TestSearchWithinFilteredHNSWPath(t *testing.T) {
	ix := New(DefaultConfig(2))
	n := 400
	for i := 0; i < n; i++ {
		v := []float32{float32(i), 1}
		if err := ix.Insert(fmt.Sprintf("p%d", i), v); err != nil {
			t.Fatal(err)
		}
	}

	candidates := make([]string, 0, n/2)
	for i := 0; i < n; i += 2 {
		candidates = append(candidates, fmt.Sprintf("p%d", i))
	}
	results, err := ix.SearchWithin([]float32{0, 1}, 5, candidates)
	if err != nil {
		t.Fatal(err)
	}
	allowed := make(map[string]bool, len(candidates))
	for _, c := range candidates {
		allowed[c] = true
	}
	for _, r := range results {
		if !allowed[r.ID] {
			t.Errorf("result %s outside candidate restriction", r.ID)
		}
	}
}

func TestRandomizedRecallSanity(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	dim := 8
	cfg := DefaultConfig(dim)
	cfg.EfConstruction = 100
	ix := New(cfg)

	type item struct {
		id  string
		vec []float32
	}
	items := make([]item, 0, 200)
	for i := 0; i < 200; i++ {
		v := make([]float32, dim)
		for d := range v {
			v[d] = rng.Float32()
		}
		id := fmt.Sprintf("item%d", i)
		items = append(items, item{id, v})
		if err := ix.Insert(id, v); err != nil {
			t.Fatal(err)
		}
	}

	query := items[0].vec
	results, err := ix.Search(query, 5, 100)
	if err != nil {
		t.Fatal(err)
	}
	if len(results) == 0 {
		t.Fatal("expected at least one result")
	}
	// The query vector is itself in the index, so it should usually surface
	// at or near the top; this is a recall smoke test, not an exact check.
	top := false
	for _, r := range results[:min(3, len(results))] {
		if r.ID == items[0].id {
			top = true
		}
	}
	if !top {
		t.Errorf("expected %s near top of results for its own vector, got %+v", items[0].id, results)
	}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

func TestExportImportNodeRoundTrip(t *testing.T) {
	ix := New(DefaultConfig(3))
	for i := 0; i < 20; i++ {
		v := []float32{float32(i), float32(20 - i), 1}
		if err := ix.Insert(fmt.Sprintf("n%d", i), v); err != nil {
			t.Fatal(err)
		}
	}

	rec, ok := ix.ExportNode("n5")
	if !ok {
		t.Fatal("expected n5 to export")
	}
	encoded, err := encoding.EncodeHNSWNode(rec)
	if err != nil {
		t.Fatalf("EncodeHNSWNode: %v", err)
	}
	decoded, err := encoding.DecodeHNSWNode(encoded)
	if err != nil {
		t.Fatalf("DecodeHNSWNode: %v", err)
	}

	restored := New(DefaultConfig(3))
	if err := restored.ImportNode("n5", decoded); err != nil {
		t.Fatalf("ImportNode: %v", err)
	}
	got, ok := restored.ExportNode("n5")
	if !ok {
		t.Fatal("expected n5 to be present after import")
	}
	if len(got.Vector) != len(rec.Vector) {
		t.Fatalf("restored vector length = %d, want %d", len(got.Vector), len(rec.Vector))
	}
	for i := range rec.Vector {
		if got.Vector[i] != rec.Vector[i] {
			t.Errorf("restored vector[%d] = %v, want %v", i, got.Vector[i], rec.Vector[i])
		}
	}
	if got.Level != rec.Level {
		t.Errorf("restored level = %d, want %d", got.Level, rec.Level)
	}
}

func TestImportNodeRejectsWrongDimension(t *testing.T) {
	ix := New(DefaultConfig(4))
	rec := encoding.HNSWNodeRecord{Dim: 3, Level: 0, Vector: []float32{1, 2, 3}, Neighbors: [][]string{{}}}
	if err := ix.ImportNode("bad", rec); err != ErrDimensionMismatch {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
}
