// Package polyquery implements a unified query engine that fuses vector
// similarity search, metadata filtering, and graph traversal over a single
// entity corpus.
//
// Three index primitives back the engine: an HNSW graph for approximate
// nearest-neighbor search (pkg/vectorindex), hash/sorted indexes for scalar
// metadata filters (pkg/metaindex), and adjacency lists for typed directed
// edges (pkg/graphindex). A cost-based planner (pkg/planner) chooses how to
// combine active signals for a given Query, an executor (pkg/executor) runs
// the resulting plan, and a reciprocal-rank-fusion ranker (pkg/fusion)
// merges per-signal rankings into a single ordered result set.
//
// The embedding function and physical storage are injected: storage through
// the pkg/storage.Adapter contract, embeddings through the Embed capability
// in Config. Neither is implemented here beyond reference adapters.
//
// # Quick start
//
//	cfg := polyquery.DefaultConfig()
//	cfg.Dim = 3
//	eng, _ := polyquery.New(cfg)
//	id, _ := eng.InsertEntity(ctx, "", []float32{0.1, 0.2, 0.3}, nil, "doc")
//	results, _ := eng.Find(ctx, polyquery.Query{Like: []float32{0.1, 0.2, 0.3}, Limit: 5})
package polyquery
