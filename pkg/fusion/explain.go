package fusion

import (
	"fmt"
	"strings"
	"time"

	"github.com/polyquery/polyquery/pkg/model"
)

// Explain builds the per-query Explanation spec.md §4.7 attaches to
// results when Query.Explain is set: a human-readable plan summary, the
// raw steps, elapsed wall time, and the names of boosts that ran.
func Explain(plan model.Plan, boosts []Boost, elapsed time.Duration) *model.Explanation {
	names := make([]string, 0, len(boosts))
	for _, b := range boosts {
		names = append(names, b.Name())
	}
	return &model.Explanation{
		PlanSummary:   summarize(plan),
		Steps:         plan.Steps,
		ElapsedMillis: float64(elapsed) / float64(time.Millisecond),
		BoostsApplied: names,
	}
}

// summarize renders a plan's shape as a short arrow-delimited string, e.g.
// "field(filter) -> vector(search) -> fusion(rank) [progressive]".
func summarize(plan model.Plan) string {
	if len(plan.Steps) == 0 {
		return "empty plan (no active signals)"
	}
	parts := make([]string, 0, len(plan.Steps))
	for _, s := range plan.Steps {
		parts = append(parts, fmt.Sprintf("%s(%s)", s.Kind, s.Op))
	}
	strategy := "progressive"
	if plan.Parallel {
		strategy = "parallel"
	}
	summary := strings.Join(parts, " -> ")
	if plan.SkipFusion {
		return fmt.Sprintf("%s [%s, fusion skipped]", summary, strategy)
	}
	return fmt.Sprintf("%s [%s]", summary, strategy)
}
