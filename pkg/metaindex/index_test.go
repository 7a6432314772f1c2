package metaindex

import (
	"reflect"
	"testing"

	"github.com/polyquery/polyquery/pkg/model"
)

func seedIndex(t *testing.T) *Index {
	t.Helper()
	ix := New()
	entities := map[string]model.Metadata{
		"e1": {"category": model.String("fiction"), "pages": model.Int64(200), "verified": model.Bool(true)},
		"e2": {"category": model.String("fiction"), "pages": model.Int64(350), "verified": model.Bool(false)},
		"e3": {"category": model.String("nonfiction"), "pages": model.Int64(120), "verified": model.Bool(true)},
		"e4": {"category": model.String("poetry"), "pages": model.Int64(50), "verified": model.Bool(true)},
	}
	for id, md := range entities {
		ix.Put(id, md)
	}
	return ix
}

func TestEqualsFilter(t *testing.T) {
	ix := seedIndex(t)
	ids, err := ix.Evaluate(model.Equals("category", model.String("fiction")))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"e1", "e2"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
}

func TestRangeFilters(t *testing.T) {
	ix := seedIndex(t)

	gt, err := ix.Evaluate(model.GreaterThan("pages", model.Int64(120)))
	if err != nil {
		t.Fatal(err)
	}
	wantGT := []string{"e1", "e2"}
	if !reflect.DeepEqual(gt, wantGT) {
		t.Errorf("greaterThan(120): got %v, want %v", gt, wantGT)
	}

	between, err := ix.Evaluate(model.Between("pages", model.Int64(100), model.Int64(300)))
	if err != nil {
		t.Fatal(err)
	}
	wantBetween := []string{"e1", "e3"}
	if !reflect.DeepEqual(between, wantBetween) {
		t.Errorf("between(100,300): got %v, want %v", between, wantBetween)
	}
}

func TestAllOfIntersects(t *testing.T) {
	ix := seedIndex(t)
	ids, err := ix.Evaluate(model.AllOf(
		model.Equals("verified", model.Bool(true)),
		model.LessThan("pages", model.Int64(150)),
	))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"e3", "e4"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
}

func TestAnyOfUnions(t *testing.T) {
	ix := seedIndex(t)
	ids, err := ix.Evaluate(model.AnyOf(
		model.Equals("category", model.String("poetry")),
		model.Equals("category", model.String("nonfiction")),
	))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"e3", "e4"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
}

func TestOneOf(t *testing.T) {
	ix := seedIndex(t)
	ids, err := ix.Evaluate(model.OneOf("category", model.String("poetry"), model.String("fiction")))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"e1", "e2", "e4"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
}

func TestContainsFilter(t *testing.T) {
	ix := seedIndex(t)
	ids, err := ix.Evaluate(model.Contains("category", model.String("fic")))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"e1", "e2", "e3"} // "nonfiction" also contains "fic"
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("contains(category, \"fic\"): got %v, want %v", ids, want)
	}

	ix.Put("e5", model.Metadata{"tags": model.List(model.String("a"), model.String("b"))})
	listIDs, err := ix.Evaluate(model.Contains("tags", model.String("b")))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(listIDs, []string{"e5"}) {
		t.Errorf("contains(tags, \"b\"): got %v, want [e5]", listIDs)
	}
}

func TestExistsFilter(t *testing.T) {
	ix := seedIndex(t)
	ix.Put("e5", model.Metadata{"pages": model.Int64(10)})

	present, err := ix.Evaluate(model.Exists("verified", true))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"e1", "e2", "e3", "e4"}
	if !reflect.DeepEqual(present, want) {
		t.Errorf("exists(verified, true): got %v, want %v", present, want)
	}

	absent, err := ix.Evaluate(model.Exists("verified", false))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(absent, []string{"e5"}) {
		t.Errorf("exists(verified, false): got %v, want [e5]", absent)
	}
}

func TestMixedTypeFieldDegrades(t *testing.T) {
	ix := New()
	ix.Put("a", model.Metadata{"mixed": model.String("hello")})
	ix.Put("b", model.Metadata{"mixed": model.Int64(5)})

	ids, err := ix.Evaluate(model.Equals("mixed", model.String("hello")))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"a"}) {
		t.Errorf("equals on mixed field: got %v", ids)
	}

	// Range queries on a mixed-type field fall back to a linear scan
	// rather than erroring.
	ids, err = ix.Evaluate(model.GreaterThan("mixed", model.Int64(0)))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"b"}) {
		t.Errorf("range on mixed field: got %v", ids)
	}
}

func TestDeleteRemovesFromAllStructures(t *testing.T) {
	ix := seedIndex(t)
	md := model.Metadata{"category": model.String("fiction"), "pages": model.Int64(200), "verified": model.Bool(true)}
	ix.Delete("e1", md)

	ids, err := ix.Evaluate(model.Equals("category", model.String("fiction")))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"e2"}) {
		t.Errorf("got %v, want [e2]", ids)
	}
	if ix.Total() != 3 {
		t.Errorf("Total() = %d, want 3", ix.Total())
	}
}

func TestUpdateReindexes(t *testing.T) {
	ix := seedIndex(t)
	old := model.Metadata{"category": model.String("fiction"), "pages": model.Int64(200), "verified": model.Bool(true)}
	next := model.Metadata{"category": model.String("nonfiction"), "pages": model.Int64(200), "verified": model.Bool(true)}
	ix.Update("e1", old, next)

	ids, err := ix.Evaluate(model.Equals("category", model.String("fiction")))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(ids, []string{"e2"}) {
		t.Errorf("got %v, want [e2]", ids)
	}
	ids, err = ix.Evaluate(model.Equals("category", model.String("nonfiction")))
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"e1", "e3"}
	if !reflect.DeepEqual(ids, want) {
		t.Errorf("got %v, want %v", ids, want)
	}
}

func TestEstimateSelectivity(t *testing.T) {
	ix := seedIndex(t)
	sel := ix.EstimateSelectivity(model.Equals("category", model.String("fiction")))
	if sel != 0.5 {
		t.Errorf("selectivity = %f, want 0.5", sel)
	}
}

func TestParseOperatorShorthand(t *testing.T) {
	cases := map[string]model.Operator{
		"$eq":     model.OpEquals,
		"$gt":     model.OpGreaterThan,
		"$in":     model.OpOneOf,
		"equals":  model.OpEquals,
		"allOf":   model.OpAllOf,
	}
	for raw, want := range cases {
		got, err := ParseOperator(raw)
		if err != nil {
			t.Fatalf("ParseOperator(%q): %v", raw, err)
		}
		if got != want {
			t.Errorf("ParseOperator(%q) = %q, want %q", raw, got, want)
		}
	}
	if _, err := ParseOperator("$bogus"); err == nil {
		t.Error("expected error for unknown operator")
	}
}
