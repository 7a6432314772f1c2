// Command polyquery-demo is a thin example binary showing the engine's
// insert/find lifecycle end to end. It is a demonstration harness, not a
// production query service.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"

	"github.com/spf13/cobra"

	"github.com/polyquery/polyquery/pkg/model"
	"github.com/polyquery/polyquery/pkg/storage"

	polyquery "github.com/polyquery/polyquery"
)

var (
	dim    int
	dbPath string
)

func main() {
	root := &cobra.Command{
		Use:   "polyquery-demo",
		Short: "Demonstrates polyquery's fused vector/field/graph search",
	}
	root.PersistentFlags().IntVar(&dim, "dim", 8, "embedding dimension for the demo corpus")
	root.PersistentFlags().StringVar(&dbPath, "db", "polyquery-demo.sqlite", "SQLite file backing the demo corpus")
	root.AddCommand(seedCmd(), findCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newEngine() (*polyquery.Engine, error) {
	adapter, err := storage.OpenSQLiteAdapter(dbPath)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	cfg := polyquery.DefaultConfig()
	cfg.Dim = dim
	cfg.Storage = adapter
	return polyquery.New(cfg)
}

func seedCmd() *cobra.Command {
	var n int
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert n random entities, linked by a small relationship graph",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx := context.Background()
			rng := rand.New(rand.NewSource(1))
			ids := make([]string, 0, n)
			for i := 0; i < n; i++ {
				vec := randomVector(rng, dim)
				md := model.Metadata{
					"category": model.String(categoryFor(i)),
					"views":    model.Int64(int64(i * 7 % 500)),
				}
				id, err := eng.InsertEntity(ctx, "", vec, md, "doc")
				if err != nil {
					return fmt.Errorf("insert entity %d: %w", i, err)
				}
				ids = append(ids, id)
			}
			for i := 1; i < len(ids); i++ {
				if _, err := eng.InsertRelation(ctx, "", ids[i-1], ids[i], "related", nil, 1.0); err != nil {
					return fmt.Errorf("insert relation %d: %w", i, err)
				}
			}
			fmt.Printf("seeded %d entities and %d relations\n", len(ids), len(ids)-1)
			return nil
		},
	}
	cmd.Flags().IntVar(&n, "n", 50, "number of entities to seed")
	return cmd
}

func findCmd() *cobra.Command {
	var limit int
	var category string
	cmd := &cobra.Command{
		Use:   "find",
		Short: "Run a fused vector+field query against the corpus stored by seed",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, err := newEngine()
			if err != nil {
				return err
			}
			defer eng.Close()

			ctx := context.Background()
			rng := rand.New(rand.NewSource(2))
			seed := randomVector(rng, dim)

			q := model.Query{Like: seed, Limit: limit, Explain: true}
			if category != "" {
				q.Where = model.Equals("category", model.String(category))
			}

			results, err := eng.Find(ctx, q)
			if err != nil {
				return err
			}
			for _, r := range results {
				fmt.Printf("%s  score=%.4f\n", r.ID, r.Score)
			}
			if len(results) > 0 && results[0].Explanation != nil {
				fmt.Println("plan:", results[0].Explanation.PlanSummary)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 5, "max results")
	cmd.Flags().StringVar(&category, "category", "", "optional category filter")
	return cmd
}

func randomVector(rng *rand.Rand, dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = rng.Float32()
	}
	return v
}

func categoryFor(i int) string {
	cats := []string{"tech", "news", "sports"}
	return cats[i%len(cats)]
}
