// Package vectorindex implements the HNSW (Hierarchical Navigable Small
// World) approximate nearest-neighbor index described in spec.md §4.1.
package vectorindex

import (
	"container/heap"
	"errors"
	"math"
	"math/rand"
	"sort"
	"sync"

	"github.com/polyquery/polyquery/internal/encoding"
	"github.com/polyquery/polyquery/pkg/quantization"
)

// Sentinel errors surfaced to the engine's error taxonomy.
var (
	ErrInvalidVector     = errors.New("invalid vector")
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// nodeState is the per-node lifecycle spec.md §4.1 describes: search
// ignores nodes that are Inserting or Deleting.
type nodeState int

const (
	stateInserting nodeState = iota
	stateLive
	stateDeleting
	stateGone
)

type node struct {
	id        string
	vector    []float32
	quantized []byte
	level     int
	neighbors [][]string // neighbors[l] for l in [0, level]
	state     nodeState
}

// Config tunes HNSW's recall/speed/memory tradeoffs.
type Config struct {
	Dim            int
	M              int // default 16; layer-0 width is 2M
	EfConstruction int // default 200
	EfSearch       int // default 50, adjustable per search
	Distance       DistanceFunc
	Quantizer      quantization.Quantizer

	// WithinThreshold is the fraction of N below which search_within does
	// brute-force scoring instead of filtered HNSW search (spec.md §4.1,
	// threshold ≈ 0.05).
	WithinThreshold float64
}

// DefaultConfig returns spec.md's documented HNSW defaults for dimension
// dim.
func DefaultConfig(dim int) Config {
	return Config{
		Dim:             dim,
		M:               16,
		EfConstruction:  200,
		EfSearch:        50,
		Distance:        CosineDistance,
		WithinThreshold: 0.05,
	}
}

// Index is a concurrency-safe HNSW graph over (id, vector) pairs.
type Index struct {
	cfg Config
	mL  float64

	mu         sync.RWMutex
	nodes      map[string]*node
	entryPoint string
	rng        *rand.Rand
}

// New creates an empty HNSW index.
func New(cfg Config) *Index {
	if cfg.M <= 0 {
		cfg.M = 16
	}
	if cfg.EfConstruction <= 0 {
		cfg.EfConstruction = 200
	}
	if cfg.EfSearch <= 0 {
		cfg.EfSearch = 50
	}
	if cfg.Distance == nil {
		cfg.Distance = CosineDistance
	}
	if cfg.WithinThreshold <= 0 {
		cfg.WithinThreshold = 0.05
	}
	return &Index{
		cfg:   cfg,
		mL:    1.0 / math.Log(float64(cfg.M)),
		nodes: make(map[string]*node),
		rng:   rand.New(rand.NewSource(1)),
	}
}

// maxM returns the neighbor cap for level (layer 0 gets 2M).
func (ix *Index) maxM(level int) int {
	if level == 0 {
		return ix.cfg.M * 2
	}
	return ix.cfg.M
}

func validateVector(v []float32, dim int) error {
	if len(v) != dim {
		return ErrDimensionMismatch
	}
	allZero := true
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return ErrInvalidVector
		}
		if f != 0 {
			allZero = false
		}
	}
	if allZero {
		return ErrInvalidVector
	}
	return nil
}

// sampleLevel draws a level via the standard exponential decay:
// floor(-ln(U(0,1)) * mL).
func (ix *Index) sampleLevel() int {
	u := ix.rng.Float64()
	for u <= 0 {
		u = ix.rng.Float64()
	}
	level := int(math.Floor(-math.Log(u) * ix.mL))
	if level > 32 {
		level = 32 // defensive cap; astronomically unlikely in practice
	}
	return level
}

// Insert adds or replaces (id, v). Re-inserting an existing id deletes the
// old node first, per spec.md's "insert is idempotent on id".
func (ix *Index) Insert(id string, v []float32) error {
	if err := validateVector(v, ix.cfg.Dim); err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	if _, exists := ix.nodes[id]; exists {
		ix.deleteLocked(id)
	}

	var quantized []byte
	storedVector := v
	if ix.cfg.Quantizer != nil {
		if enc, err := ix.cfg.Quantizer.Encode(v); err == nil {
			quantized = enc
			storedVector = nil
		}
	}

	level := ix.sampleLevel()
	n := &node{
		id:        id,
		vector:    storedVector,
		quantized: quantized,
		level:     level,
		neighbors: make([][]string, level+1),
		state:     stateInserting,
	}
	for i := range n.neighbors {
		n.neighbors[i] = []string{}
	}
	ix.nodes[id] = n

	if ix.entryPoint == "" {
		ix.entryPoint = id
		n.state = stateLive
		return nil
	}

	entry := ix.nodes[ix.entryPoint]
	current := []string{ix.entryPoint}
	for lc := entry.level; lc > level; lc-- {
		current = ix.searchLayer(v, current, 1, lc)
	}

	for lc := level; lc >= 0; lc-- {
		candidates := ix.searchLayer(v, current, ix.cfg.EfConstruction, lc)
		selected := ix.selectNeighbors(v, candidates, ix.maxM(lc))
		n.neighbors[lc] = selected

		for _, nb := range selected {
			ix.connect(nb, id, lc)
			ix.pruneIfNeeded(nb, lc)
		}
		if len(selected) > 0 {
			current = selected
		}
	}

	if level > ix.nodes[ix.entryPoint].level {
		ix.entryPoint = id
	}
	n.state = stateLive
	return nil
}

// connect adds a symmetric back-edge from -> to at level, if from exists
// and doesn't already carry that edge.
func (ix *Index) connect(from, to string, level int) {
	fn, ok := ix.nodes[from]
	if !ok || level >= len(fn.neighbors) {
		return
	}
	for _, existing := range fn.neighbors[level] {
		if existing == to {
			return
		}
	}
	fn.neighbors[level] = append(fn.neighbors[level], to)
}

// pruneIfNeeded re-applies the diversity-preserving heuristic to keep id's
// neighbor list at level within its cap after a new back-edge was added.
func (ix *Index) pruneIfNeeded(id string, level int) {
	n, ok := ix.nodes[id]
	if !ok || level >= len(n.neighbors) {
		return
	}
	cap := ix.maxM(level)
	if len(n.neighbors[level]) <= cap {
		return
	}
	vec := ix.vectorOf(n)
	if vec == nil {
		return
	}
	n.neighbors[level] = ix.selectNeighbors(vec, n.neighbors[level], cap)
}

// vectorOf returns n's vector, decoding from the quantizer if the raw
// vector was dropped to save memory.
func (ix *Index) vectorOf(n *node) []float32 {
	if n.vector != nil {
		return n.vector
	}
	if n.quantized != nil && ix.cfg.Quantizer != nil {
		if v, err := ix.cfg.Quantizer.Decode(n.quantized); err == nil {
			return v
		}
	}
	return nil
}

func (ix *Index) distanceTo(query []float32, n *node) float32 {
	vec := ix.vectorOf(n)
	if vec == nil {
		return float32(math.Inf(1))
	}
	return ix.cfg.Distance(query, vec)
}

// selectNeighbors implements the robust-prune heuristic: keep a candidate
// only if no already-selected neighbor is strictly closer to it than to
// the query, capped at m. Ties break by id to keep selection deterministic.
func (ix *Index) selectNeighbors(query []float32, candidates []string, m int) []string {
	type scored struct {
		id   string
		dist float32
	}
	uniq := make(map[string]struct{}, len(candidates))
	pairs := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		if _, dup := uniq[c]; dup {
			continue
		}
		uniq[c] = struct{}{}
		n, ok := ix.nodes[c]
		if !ok {
			continue
		}
		pairs = append(pairs, scored{id: c, dist: ix.distanceTo(query, n)})
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].dist != pairs[j].dist {
			return pairs[i].dist < pairs[j].dist
		}
		return pairs[i].id < pairs[j].id
	})

	selected := make([]string, 0, m)
	for _, cand := range pairs {
		if len(selected) >= m {
			break
		}
		candVec := ix.vectorOf(ix.nodes[cand.id])
		if candVec == nil {
			continue
		}
		keep := true
		for _, s := range selected {
			sVec := ix.vectorOf(ix.nodes[s])
			if sVec == nil {
				continue
			}
			if ix.cfg.Distance(sVec, candVec) < cand.dist {
				keep = false
				break
			}
		}
		if keep {
			selected = append(selected, cand.id)
		}
	}
	// Backfill with the closest remaining candidates if the heuristic
	// pruned below m and slots remain, matching standard HNSW practice.
	if len(selected) < m {
		have := make(map[string]struct{}, len(selected))
		for _, s := range selected {
			have[s] = struct{}{}
		}
		for _, cand := range pairs {
			if len(selected) >= m {
				break
			}
			if _, ok := have[cand.id]; ok {
				continue
			}
			selected = append(selected, cand.id)
		}
	}
	return selected
}

// heapItem is a (id, distance) pair ordered for a min-heap by distance,
// with id as a deterministic tiebreaker.
type heapItem struct {
	id   string
	dist float32
}

type minHeap []heapItem

func (h minHeap) Len() int { return len(h) }
func (h minHeap) Less(i, j int) bool {
	if h[i].dist != h[j].dist {
		return h[i].dist < h[j].dist
	}
	return h[i].id < h[j].id
}
func (h minHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *minHeap) Push(x any)        { *h = append(*h, x.(heapItem)) }
func (h *minHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

type maxHeap struct{ minHeap }

func (h maxHeap) Less(i, j int) bool {
	if h.minHeap[i].dist != h.minHeap[j].dist {
		return h.minHeap[i].dist > h.minHeap[j].dist
	}
	return h.minHeap[i].id > h.minHeap[j].id
}

// searchLayer runs best-first search at level starting from entryPoints,
// keeping the ef closest live candidates found.
func (ix *Index) searchLayer(query []float32, entryPoints []string, ef int, level int) []string {
	visited := make(map[string]bool)
	candidates := &minHeap{}
	found := &maxHeap{}

	for _, id := range entryPoints {
		n, ok := ix.nodes[id]
		if !ok || visited[id] {
			continue
		}
		visited[id] = true
		d := ix.distanceTo(query, n)
		heap.Push(candidates, heapItem{id: id, dist: d})
		if n.state == stateLive {
			heap.Push(found, heapItem{id: id, dist: d})
		}
	}

	for candidates.Len() > 0 {
		if found.Len() >= ef {
			nearestUnexplored := (*candidates)[0].dist
			worstFound := found.minHeap[0].dist
			if nearestUnexplored > worstFound {
				break
			}
		}
		cur := heap.Pop(candidates).(heapItem)
		curNode, ok := ix.nodes[cur.id]
		if !ok || level >= len(curNode.neighbors) {
			continue
		}
		for _, nb := range curNode.neighbors[level] {
			if visited[nb] {
				continue
			}
			visited[nb] = true
			nbNode, ok := ix.nodes[nb]
			if !ok {
				continue
			}
			d := ix.distanceTo(query, nbNode)
			if found.Len() < ef || d < found.minHeap[0].dist {
				heap.Push(candidates, heapItem{id: nb, dist: d})
				if nbNode.state == stateLive {
					heap.Push(found, heapItem{id: nb, dist: d})
					if found.Len() > ef {
						heap.Pop(found)
					}
				}
			}
		}
	}

	items := make([]heapItem, len(found.minHeap))
	copy(items, found.minHeap)
	sort.Slice(items, func(i, j int) bool {
		if items[i].dist != items[j].dist {
			return items[i].dist < items[j].dist
		}
		return items[i].id < items[j].id
	})
	ids := make([]string, len(items))
	for i, it := range items {
		ids[i] = it.id
	}
	return ids
}

// Result is one (id, score) pair from a search. Score is monotone —
// higher is better — per spec.md §4.1.
type Result struct {
	ID    string
	Score float64
}

// Search returns the k nearest live neighbors of q, searching with
// candidate width max(ef, k).
func (ix *Index) Search(q []float32, k int, ef int) ([]Result, error) {
	if err := validateVector(q, ix.cfg.Dim); err != nil {
		return nil, err
	}
	if ef < k {
		ef = k
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.entryPoint == "" {
		return nil, nil
	}

	entry := ix.nodes[ix.entryPoint]
	current := []string{ix.entryPoint}
	for lc := entry.level; lc > 0; lc-- {
		current = ix.searchLayer(q, current, 1, lc)
		if len(current) == 0 {
			current = []string{ix.entryPoint}
		}
	}
	candidates := ix.searchLayer(q, current, ef, 0)

	if len(candidates) > k {
		candidates = candidates[:k]
	}
	results := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		n := ix.nodes[id]
		d := ix.distanceTo(q, n)
		results = append(results, Result{ID: id, Score: ScoreFromDistance(d)})
	}
	return results, nil
}

// SearchWithin restricts search to candidateIDs. Below cfg.WithinThreshold
// of the corpus size it brute-forces distance scoring; otherwise it runs
// HNSW search with an extended ef and post-filters to the candidate set.
func (ix *Index) SearchWithin(q []float32, k int, candidateIDs []string) ([]Result, error) {
	if err := validateVector(q, ix.cfg.Dim); err != nil {
		return nil, err
	}

	ix.mu.RLock()
	defer ix.mu.RUnlock()

	n := len(ix.nodes)
	if n == 0 || len(candidateIDs) == 0 {
		return nil, nil
	}

	if float64(len(candidateIDs)) <= ix.cfg.WithinThreshold*float64(n) {
		results := make([]Result, 0, len(candidateIDs))
		for _, id := range candidateIDs {
			nd, ok := ix.nodes[id]
			if !ok || nd.state == stateGone || nd.state == stateDeleting {
				continue
			}
			d := ix.distanceTo(q, nd)
			results = append(results, Result{ID: id, Score: ScoreFromDistance(d)})
		}
		sort.Slice(results, func(i, j int) bool {
			if results[i].Score != results[j].Score {
				return results[i].Score > results[j].Score
			}
			return results[i].ID < results[j].ID
		})
		if len(results) > k {
			results = results[:k]
		}
		return results, nil
	}

	allowed := make(map[string]struct{}, len(candidateIDs))
	for _, id := range candidateIDs {
		allowed[id] = struct{}{}
	}
	extendedEf := k * 4
	if extendedEf < ix.cfg.EfSearch {
		extendedEf = ix.cfg.EfSearch
	}
	broad, err := ix.searchLocked(q, extendedEf*4, extendedEf)
	if err != nil {
		return nil, err
	}
	results := make([]Result, 0, k)
	for _, r := range broad {
		if _, ok := allowed[r.ID]; ok {
			results = append(results, r)
			if len(results) == k {
				break
			}
		}
	}
	return results, nil
}

// searchLocked is Search's body without the lock, for reuse by
// SearchWithin which already holds the read lock.
func (ix *Index) searchLocked(q []float32, k int, ef int) ([]Result, error) {
	if ef < k {
		ef = k
	}
	if ix.entryPoint == "" {
		return nil, nil
	}
	entry := ix.nodes[ix.entryPoint]
	current := []string{ix.entryPoint}
	for lc := entry.level; lc > 0; lc-- {
		current = ix.searchLayer(q, current, 1, lc)
		if len(current) == 0 {
			current = []string{ix.entryPoint}
		}
	}
	candidates := ix.searchLayer(q, current, ef, 0)
	if len(candidates) > k {
		candidates = candidates[:k]
	}
	results := make([]Result, 0, len(candidates))
	for _, id := range candidates {
		n := ix.nodes[id]
		d := ix.distanceTo(q, n)
		results = append(results, Result{ID: id, Score: ScoreFromDistance(d)})
	}
	return results, nil
}

// Delete removes id from the graph, reconnecting orphaned neighbors. A
// delete of an unknown id is a no-op.
func (ix *Index) Delete(id string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.deleteLocked(id)
}

func (ix *Index) deleteLocked(id string) {
	n, ok := ix.nodes[id]
	if !ok {
		return
	}
	n.state = stateDeleting

	for level, nbs := range n.neighbors {
		for _, nb := range nbs {
			nbNode, ok := ix.nodes[nb]
			if !ok || level >= len(nbNode.neighbors) {
				continue
			}
			nbNode.neighbors[level] = removeID(nbNode.neighbors[level], id)
		}
		// Reconnect this level's orphaned neighbors to each other using
		// the same diversity heuristic used at insert time, so removing
		// a well-connected hub doesn't fragment the graph.
		for _, nb := range nbs {
			nbNode, ok := ix.nodes[nb]
			if !ok || level >= len(nbNode.neighbors) {
				continue
			}
			vec := ix.vectorOf(nbNode)
			if vec == nil {
				continue
			}
			candidates := append([]string{}, nbNode.neighbors[level]...)
			for _, other := range nbs {
				if other != nb {
					candidates = append(candidates, other)
				}
			}
			nbNode.neighbors[level] = ix.selectNeighbors(vec, candidates, ix.maxM(level))
		}
	}

	n.state = stateGone
	delete(ix.nodes, id)

	if ix.entryPoint == id {
		ix.entryPoint = ix.electEntryPoint()
	}
}

func (ix *Index) electEntryPoint() string {
	best := ""
	bestLevel := -1
	for nid, n := range ix.nodes {
		if n.state != stateLive {
			continue
		}
		if n.level > bestLevel || (n.level == bestLevel && nid < best) {
			best = nid
			bestLevel = n.level
		}
	}
	return best
}

func removeID(ids []string, target string) []string {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// ExportNode serializes id's graph-layer membership to spec.md §6's
// on-disk HNSW node record, for storage adapters that snapshot the index
// rather than rebuilding it from scratch on startup. ok is false if id is
// unknown or its vector isn't currently resident (e.g. quantized-only with
// no decoder configured).
func (ix *Index) ExportNode(id string) (rec encoding.HNSWNodeRecord, ok bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	n, exists := ix.nodes[id]
	if !exists {
		return encoding.HNSWNodeRecord{}, false
	}
	vec := ix.vectorOf(n)
	if vec == nil {
		return encoding.HNSWNodeRecord{}, false
	}
	return encoding.HNSWNodeRecord{
		Dim:       uint32(ix.cfg.Dim),
		Level:     uint32(n.level),
		Vector:    vec,
		Neighbors: n.neighbors,
	}, true
}

// ImportNode restores a node from a previously exported record without
// re-running level sampling or neighbor selection, used to reload a
// snapshotted index. Each call re-evaluates the entry point against the
// imported node's level, so importing the full node set (in any order)
// leaves the index with a correct entry point once the batch completes.
func (ix *Index) ImportNode(id string, rec encoding.HNSWNodeRecord) error {
	if int(rec.Dim) != ix.cfg.Dim {
		return ErrDimensionMismatch
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()

	n := &node{
		id:        id,
		vector:    rec.Vector,
		level:     int(rec.Level),
		neighbors: make([][]string, rec.Level+1),
		state:     stateLive,
	}
	for lvl := range n.neighbors {
		if lvl < len(rec.Neighbors) {
			n.neighbors[lvl] = rec.Neighbors[lvl]
		} else {
			n.neighbors[lvl] = []string{}
		}
	}
	ix.nodes[id] = n
	if ix.entryPoint == "" || n.level > ix.nodes[ix.entryPoint].level {
		ix.entryPoint = id
	}
	return nil
}

// Size returns the number of live nodes.
func (ix *Index) Size() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.nodes)
}

// Stats reports index shape for the planner's cost model and for
// observability.
type Stats struct {
	NodeCount  int
	MaxLevel   int
	EntryPoint string
}

func (ix *Index) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	s := Stats{NodeCount: len(ix.nodes), EntryPoint: ix.entryPoint}
	for _, n := range ix.nodes {
		if n.level > s.MaxLevel {
			s.MaxLevel = n.level
		}
	}
	return s
}
