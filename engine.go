package polyquery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/polyquery/polyquery/pkg/entitystore"
	"github.com/polyquery/polyquery/pkg/executor"
	"github.com/polyquery/polyquery/pkg/fusion"
	"github.com/polyquery/polyquery/pkg/graphindex"
	"github.com/polyquery/polyquery/pkg/metaindex"
	"github.com/polyquery/polyquery/pkg/model"
	"github.com/polyquery/polyquery/pkg/planner"
	"github.com/polyquery/polyquery/pkg/storage"
	"github.com/polyquery/polyquery/pkg/vectorindex"
)

// Engine is the unified query engine: it owns the three index primitives,
// the persistence facade over the injected storage adapter, and the
// planner/executor/fusion pipeline that answers Find.
type Engine struct {
	cfg Config

	store   *entitystore.Store
	vectors *vectorindex.Index
	fields  *metaindex.Index
	graph   *graphindex.Index
	exec    *executor.Executor
	plan    *planner.Planner
	cache   *planner.Cache

	idLocks    keyedMutex
	writeSlots chan struct{}

	// statsMu serializes writes to the single, non-id-keyed
	// _system/counts and _system/statistics records (spec.md §4.4).
	statsMu sync.Mutex

	mu     sync.RWMutex
	closed bool
}

// persistedCounts is the _system/counts record: one corpus-wide entity
// total and one relation total, kept in sync with every Insert/Delete so a
// restart doesn't need a full corpus scan just to report corpus size. The
// totals are not broken down by entity type or relation type.
type persistedCounts struct {
	Entities  int64 `json:"entities"`
	Relations int64 `json:"relations"`
}

// bumpCounts applies a delta to the persisted entity/relation totals.
// Failures are logged, not returned: the in-memory indexes (e.fields.Total,
// e.graph.NodeCount) remain the source of truth for request-serving; this
// record is a cheap startup/observability convenience, not load-bearing.
func (e *Engine) bumpCounts(ctx context.Context, dEntities, dRelations int64) {
	if dEntities == 0 && dRelations == 0 {
		return
	}
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	var c persistedCounts
	if blob, ok, err := e.cfg.Storage.Get(ctx, storage.CountsKey()); err == nil && ok {
		_ = json.Unmarshal(blob, &c)
	}
	c.Entities += dEntities
	c.Relations += dRelations

	blob, err := json.Marshal(c)
	if err != nil {
		return
	}
	if err := e.cfg.Storage.Put(ctx, storage.CountsKey(), blob); err != nil {
		e.cfg.Logger.Warn("persist counts", "err", err)
	}
}

// persistStatistics snapshots the metadata index's current field
// cardinalities to _system/statistics, for operators inspecting a store
// without replaying every entity.
func (e *Engine) persistStatistics(ctx context.Context) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	blob, err := json.Marshal(e.fields.Stats())
	if err != nil {
		return
	}
	if err := e.cfg.Storage.Put(ctx, storage.StatisticsKey(), blob); err != nil {
		e.cfg.Logger.Warn("persist statistics", "err", err)
	}
}

// New builds an Engine from cfg, opening an in-memory storage adapter if
// none was supplied and rebuilding every in-memory index from whatever
// the adapter already holds (spec.md's "indexes rebuild from the
// persisted corpus on startup").
func New(cfg Config) (*Engine, error) {
	if cfg.Dim <= 0 {
		return nil, wrapError("New", fmt.Errorf("%w: Dim must be positive", ErrInvalidArgument))
	}
	if cfg.Storage == nil {
		cfg.Storage = storage.NewMemoryAdapter()
	}
	if cfg.Logger == nil {
		cfg.Logger = NopLogger()
	}
	if cfg.MaxLimit <= 0 {
		cfg.MaxLimit = model.MaxLimit
	}
	if cfg.MaxInFlightWrites <= 0 {
		cfg.MaxInFlightWrites = 256
	}

	vectors := vectorindex.New(cfg.HNSW.toIndexConfig(cfg.Dim))
	fields := metaindex.New()
	graph := graphindex.New()

	cache, err := cfg.Planner.newCache()
	if err != nil {
		return nil, wrapError("New", err)
	}

	eng := &Engine{
		cfg:        cfg,
		store:      entitystore.New(cfg.Storage),
		vectors:    vectors,
		fields:     fields,
		graph:      graph,
		exec:       executor.New(vectors, fields, graph),
		plan:       planner.New(fields),
		cache:      cache,
		idLocks:    newKeyedMutex(),
		writeSlots: make(chan struct{}, cfg.MaxInFlightWrites),
	}

	if err := eng.rebuild(context.Background()); err != nil {
		return nil, wrapError("New", err)
	}
	return eng, nil
}

// rebuild reloads every in-memory index from the entity/relationship store,
// used at startup and available to callers recovering from IndexCorrupt.
func (e *Engine) rebuild(ctx context.Context) error {
	entityIDs, err := e.store.ListEntityIDs(ctx)
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}
	for _, id := range entityIDs {
		ent, ok, err := e.store.GetEntity(ctx, id)
		if err != nil {
			return fmt.Errorf("load entity %s: %w", id, err)
		}
		if !ok {
			continue
		}
		if len(ent.Vector) > 0 {
			if err := e.vectors.Insert(id, ent.Vector); err != nil {
				e.cfg.Logger.Warn("skipping vector on rebuild", "id", id, "err", err)
			}
		}
		if ent.Metadata != nil {
			e.fields.Put(id, ent.Metadata)
		}
	}

	rels, err := e.store.ListRelationships(ctx)
	if err != nil {
		return fmt.Errorf("list relationships: %w", err)
	}
	for _, r := range rels {
		e.graph.AddRelationship(r)
	}
	return nil
}

// Close releases the underlying storage adapter. The engine must not be
// used afterward.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.cfg.Storage.Close()
}

func (e *Engine) checkOpen() error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrEngineClosed
	}
	return nil
}

// acquireWriteSlot enforces spec.md §5's write-queue high-water mark:
// once MaxInFlightWrites writes are outstanding, further writes return
// ErrBusy immediately rather than blocking.
func (e *Engine) acquireWriteSlot() (release func(), err error) {
	select {
	case e.writeSlots <- struct{}{}:
		return func() { <-e.writeSlots }, nil
	default:
		return nil, ErrBusy
	}
}

// resolveVectorOrText normalizes an insert/update seed to a concrete
// vector: a []float32 passes through, a string is embedded via
// Config.Embed. Anything else is InvalidArgument.
func (e *Engine) resolveVectorOrText(ctx context.Context, v any) ([]float32, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case []float32:
		return val, nil
	case string:
		if val == "" {
			return nil, nil
		}
		if e.cfg.Embed == nil {
			return nil, fmt.Errorf("%w: text seed given but no Embed function configured", ErrInvalidArgument)
		}
		vec, err := e.cfg.Embed(val)
		if err != nil {
			return nil, fmt.Errorf("embed text: %w", err)
		}
		return vec, nil
	default:
		return nil, fmt.Errorf("%w: unsupported vector_or_text type %T", ErrInvalidArgument, v)
	}
}

// adaptDimension applies Config.DimensionPolicy to a vector whose length
// doesn't match the corpus dimension, returning it unchanged (or an
// ErrDimensionMismatch) when the policy doesn't apply.
func (e *Engine) adaptDimension(v []float32) ([]float32, error) {
	if len(v) == e.cfg.Dim {
		return v, nil
	}
	switch e.cfg.DimensionPolicy {
	case DimensionAutoTruncate:
		if len(v) > e.cfg.Dim {
			return v[:e.cfg.Dim], nil
		}
	case DimensionAutoPad:
		if len(v) < e.cfg.Dim {
			return padVector(v, e.cfg.Dim), nil
		}
	case DimensionSmartAdapt:
		if len(v) > e.cfg.Dim {
			return v[:e.cfg.Dim], nil
		}
		return padVector(v, e.cfg.Dim), nil
	}
	return nil, ErrDimensionMismatch
}

func padVector(v []float32, dim int) []float32 {
	out := make([]float32, dim)
	copy(out, v)
	return out
}

// InsertEntity stores a new entity (or replaces an existing one, per
// spec.md's insert-is-idempotent-on-id rule). An empty id generates a new
// uuid. vectorOrText may be a []float32, a string to embed, or nil for an
// entity with no vector signal.
func (e *Engine) InsertEntity(ctx context.Context, id string, vectorOrText any, metadata model.Metadata, typ string) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	release, err := e.acquireWriteSlot()
	if err != nil {
		return "", err
	}
	defer release()

	if id == "" {
		id = uuid.New().String()
	}

	vec, err := e.resolveVectorOrText(ctx, vectorOrText)
	if err != nil {
		return "", wrapError("InsertEntity", err)
	}
	if vec != nil {
		if vec, err = e.adaptDimension(vec); err != nil {
			return "", wrapError("InsertEntity", err)
		}
	}

	unlock := e.idLocks.lock(id)
	defer unlock()

	previous, existed, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return "", wrapError("InsertEntity", fmt.Errorf("%w: %v", ErrStorageError, err))
	}

	ent := &model.Entity{ID: id, Vector: vec, Metadata: metadata, Type: typ, CreatedAt: time.Now().UTC()}
	if err := e.store.PutEntity(ctx, ent); err != nil {
		return "", wrapError("InsertEntity", fmt.Errorf("%w: %v", ErrStorageError, err))
	}
	if len(vec) > 0 {
		if err := e.vectors.Insert(id, vec); err != nil {
			return "", wrapError("InsertEntity", err)
		}
	} else {
		e.vectors.Delete(id)
	}
	// Re-inserting an already-indexed id updates its fields in place;
	// only a genuinely new id grows the corpus total.
	if existed {
		e.fields.Update(id, previous.Metadata, metadata)
	} else {
		e.fields.Put(id, metadata)
		e.bumpCounts(ctx, 1, 0)
	}
	e.persistStatistics(ctx)
	return id, nil
}

// GetEntity loads an entity by id. ok is false when the id is unknown.
func (e *Engine) GetEntity(ctx context.Context, id string) (*model.Entity, bool, error) {
	if err := e.checkOpen(); err != nil {
		return nil, false, err
	}
	ent, ok, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return nil, false, wrapError("GetEntity", fmt.Errorf("%w: %v", ErrStorageError, err))
	}
	return ent, ok, nil
}

// UpdateEntity partially updates an existing entity: a nil vectorOrText or
// nil metadata leaves that half unchanged. Updating an unknown id is
// ErrNotFound.
func (e *Engine) UpdateEntity(ctx context.Context, id string, vectorOrText any, metadata model.Metadata) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	release, err := e.acquireWriteSlot()
	if err != nil {
		return err
	}
	defer release()

	unlock := e.idLocks.lock(id)
	defer unlock()

	existing, ok, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return wrapError("UpdateEntity", fmt.Errorf("%w: %v", ErrStorageError, err))
	}
	if !ok {
		return wrapError("UpdateEntity", ErrNotFound)
	}

	oldMetadata := existing.Metadata
	if vectorOrText != nil {
		vec, err := e.resolveVectorOrText(ctx, vectorOrText)
		if err != nil {
			return wrapError("UpdateEntity", err)
		}
		if vec, err = e.adaptDimension(vec); err != nil {
			return wrapError("UpdateEntity", err)
		}
		existing.Vector = vec
	}
	if metadata != nil {
		existing.Metadata = metadata
	}

	if err := e.store.PutEntity(ctx, existing); err != nil {
		return wrapError("UpdateEntity", fmt.Errorf("%w: %v", ErrStorageError, err))
	}
	if len(existing.Vector) > 0 {
		if err := e.vectors.Insert(id, existing.Vector); err != nil {
			return wrapError("UpdateEntity", err)
		}
	}
	e.fields.Update(id, oldMetadata, existing.Metadata)
	e.persistStatistics(ctx)
	return nil
}

// DeleteEntity removes an entity from the store and every in-memory index.
// Deleting an unknown id is a no-op, not an error. By default incident
// relationships are cascade-deleted; pass orphan=true to instead retain
// them with Orphaned=true (spec.md §7's dangling-reference opt-out).
func (e *Engine) DeleteEntity(ctx context.Context, id string, orphan bool) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	release, err := e.acquireWriteSlot()
	if err != nil {
		return err
	}
	defer release()

	unlock := e.idLocks.lock(id)
	defer unlock()

	existing, ok, err := e.store.GetEntity(ctx, id)
	if err != nil {
		return wrapError("DeleteEntity", fmt.Errorf("%w: %v", ErrStorageError, err))
	}
	if !ok {
		return nil
	}

	var cascadeDeleted int64
	for _, dir := range []model.Direction{model.DirOut, model.DirIn} {
		for _, edge := range e.graph.Neighbors(id, dir, nil) {
			rel, ok, err := e.store.GetRelationship(ctx, edge.RelationID)
			if err != nil || !ok {
				continue
			}
			if orphan {
				rel.Orphaned = true
				_ = e.store.PutRelationship(ctx, rel)
				continue
			}
			e.graph.RemoveRelationship(rel)
			_ = e.store.DeleteRelationship(ctx, rel.ID)
			cascadeDeleted++
		}
	}

	if err := e.store.DeleteEntity(ctx, id); err != nil {
		return wrapError("DeleteEntity", fmt.Errorf("%w: %v", ErrStorageError, err))
	}
	e.vectors.Delete(id)
	e.fields.Delete(id, existing.Metadata)
	e.bumpCounts(ctx, -1, -cascadeDeleted)
	e.persistStatistics(ctx)
	return nil
}

// InsertRelation stores a new typed directed edge between two existing
// entities. An empty id generates a new uuid; source/target must already
// exist.
func (e *Engine) InsertRelation(ctx context.Context, id, source, target, typ string, metadata model.Metadata, weight float32) (string, error) {
	if err := e.checkOpen(); err != nil {
		return "", err
	}
	release, err := e.acquireWriteSlot()
	if err != nil {
		return "", err
	}
	defer release()

	if _, ok, err := e.store.GetEntity(ctx, source); err != nil {
		return "", wrapError("InsertRelation", fmt.Errorf("%w: %v", ErrStorageError, err))
	} else if !ok {
		return "", wrapError("InsertRelation", fmt.Errorf("%w: source %q does not exist", ErrInvalidArgument, source))
	}
	if _, ok, err := e.store.GetEntity(ctx, target); err != nil {
		return "", wrapError("InsertRelation", fmt.Errorf("%w: %v", ErrStorageError, err))
	} else if !ok {
		return "", wrapError("InsertRelation", fmt.Errorf("%w: target %q does not exist", ErrInvalidArgument, target))
	}

	if id == "" {
		id = uuid.New().String()
	}
	if weight == 0 {
		weight = model.DefaultWeight
	}

	rel := &model.Relationship{
		ID: id, Source: source, Target: target, Type: typ,
		Weight: weight, Metadata: metadata, CreatedAt: time.Now().UTC(),
	}
	if err := e.store.PutRelationship(ctx, rel); err != nil {
		return "", wrapError("InsertRelation", fmt.Errorf("%w: %v", ErrStorageError, err))
	}
	e.graph.AddRelationship(rel)
	e.bumpCounts(ctx, 0, 1)
	return id, nil
}

// GetRelation loads a relationship by its own id.
func (e *Engine) GetRelation(ctx context.Context, id string) (*model.Relationship, bool, error) {
	if err := e.checkOpen(); err != nil {
		return nil, false, err
	}
	rel, ok, err := e.store.GetRelationship(ctx, id)
	if err != nil {
		return nil, false, wrapError("GetRelation", fmt.Errorf("%w: %v", ErrStorageError, err))
	}
	return rel, ok, nil
}

// DeleteRelation removes a relationship. Deleting an unknown id is a no-op.
func (e *Engine) DeleteRelation(ctx context.Context, id string) error {
	if err := e.checkOpen(); err != nil {
		return err
	}
	release, err := e.acquireWriteSlot()
	if err != nil {
		return err
	}
	defer release()

	rel, ok, err := e.store.GetRelationship(ctx, id)
	if err != nil {
		return wrapError("DeleteRelation", fmt.Errorf("%w: %v", ErrStorageError, err))
	}
	if !ok {
		return nil
	}
	e.graph.RemoveRelationship(rel)
	if err := e.store.DeleteRelationship(ctx, id); err != nil {
		return wrapError("DeleteRelation", fmt.Errorf("%w: %v", ErrStorageError, err))
	}
	e.bumpCounts(ctx, 0, -1)
	return nil
}

// Stats is a point-in-time snapshot of every in-memory index's shape,
// combining each subsystem's own Stats() for operators and diagnostics.
type Stats struct {
	Vectors vectorindex.Stats
	Fields  metaindex.Stats
	Graph   graphindex.Stats
}

// Stats reports the current shape of the vector, metadata, and graph
// indexes.
func (e *Engine) Stats() Stats {
	return Stats{
		Vectors: e.vectors.Stats(),
		Fields:  e.fields.Stats(),
		Graph:   e.graph.Stats(),
	}
}

// entityLookup adapts GetEntity to fusion's entityLookup shape, swallowing
// storage errors as "not found" since boosts degrade gracefully.
func (e *Engine) entityLookup(id string) (*model.Entity, bool) {
	ent, ok, err := e.store.GetEntity(context.Background(), id)
	if err != nil || !ok {
		return nil, false
	}
	return ent, true
}

// resolveLike normalizes Query.Like to a concrete vector: a []float32
// passes through, a string is first tried as an existing entity id (whose
// stored vector is the seed) and otherwise embedded as free text.
func (e *Engine) resolveLike(ctx context.Context, like any) ([]float32, error) {
	switch v := like.(type) {
	case nil:
		return nil, nil
	case []float32:
		return v, nil
	case string:
		if ent, ok, err := e.store.GetEntity(ctx, v); err == nil && ok {
			return ent.Vector, nil
		}
		if e.cfg.Embed == nil {
			return nil, fmt.Errorf("%w: Like is text but no Embed function configured", ErrInvalidArgument)
		}
		vec, err := e.cfg.Embed(v)
		if err != nil {
			return nil, fmt.Errorf("embed text: %w", err)
		}
		return vec, nil
	default:
		return nil, fmt.Errorf("%w: unsupported Like type %T", ErrInvalidArgument, like)
	}
}

// resolveBoost maps Query.Boost to a fusion.Boost; an unrecognized label
// that isn't registered in Config.CustomBoosts is a no-op, per spec.md.
func (e *Engine) resolveBoost(label string) fusion.Boost {
	switch label {
	case "":
		return nil
	case "recent":
		return fusion.NewRecentBoost(e.entityLookup, time.Now())
	case "popular":
		return fusion.NewPopularBoost(e.entityLookup)
	case "verified":
		return fusion.NewVerifiedBoost(e.entityLookup)
	default:
		fn := e.cfg.CustomBoosts[label]
		return &fusion.CustomBoost{BoostName: label, Fn: fn, Lookup: e.entityLookup}
	}
}

// validateQuery applies spec.md §7/§8's query-shape and boundary checks.
// Limit==0 is left untouched here (it's a literal "return []", handled by
// Find once mode validation has had a chance to reject a malformed query
// first) rather than normalized to a default.
func (e *Engine) validateQuery(q model.Query) (model.Query, error) {
	if q.Like == nil && q.Where == nil && q.Connected == nil {
		return q, fmt.Errorf("%w: at least one of Like, Where, Connected is required", ErrInvalidArgument)
	}
	if q.Limit < 0 {
		return q, fmt.Errorf("%w: Limit must be non-negative", ErrInvalidArgument)
	}
	if q.Limit > e.cfg.MaxLimit {
		return q, fmt.Errorf("%w: Limit %d exceeds MaxLimit %d", ErrInvalidArgument, q.Limit, e.cfg.MaxLimit)
	}
	if q.Connected != nil && q.Connected.MaxDepth <= 0 {
		q.Connected.MaxDepth = e.cfg.Graph.DefaultMaxDepth
	}
	if q.Connected != nil && q.Connected.Direction == "" {
		q.Connected.Direction = model.DirBoth
	}
	return q, nil
}

// applyMode pins Query.Mode to a single execution strategy per spec.md
// §6: vector/graph/field restrict the query to that one signal, fusion
// forces every active signal to run in parallel and be ranked together
// regardless of what the planner's cost model would otherwise pick.
// auto (the default) leaves q and plan selection untouched.
func applyMode(q model.Query) (model.Query, *model.Plan, error) {
	switch q.Mode {
	case "", model.ModeAuto:
		return q, nil, nil
	case model.ModeVector:
		if q.Like == nil {
			return q, nil, fmt.Errorf("%w: mode=vector requires Like", ErrInvalidArgument)
		}
		q.Where, q.Connected = nil, nil
		return q, nil, nil
	case model.ModeField:
		if q.Where == nil {
			return q, nil, fmt.Errorf("%w: mode=field requires Where", ErrInvalidArgument)
		}
		q.Like, q.Connected = nil, nil
		return q, nil, nil
	case model.ModeGraph:
		if q.Connected == nil {
			return q, nil, fmt.Errorf("%w: mode=graph requires Connected", ErrInvalidArgument)
		}
		q.Like, q.Where = nil, nil
		return q, nil, nil
	case model.ModeFusion:
		sigs := q.ActiveSignals()
		if len(sigs) < 2 {
			return q, nil, fmt.Errorf("%w: mode=fusion requires at least two active signals", ErrInvalidArgument)
		}
		plan := forcedParallelPlan(sigs)
		return q, &plan, nil
	default:
		return q, nil, fmt.Errorf("%w: unknown Mode %q", ErrInvalidArgument, q.Mode)
	}
}

// forcedParallelPlan builds the Plan mode=fusion pins: every active signal
// runs independently and is reconciled by fusion, bypassing the planner's
// cost-based progressive/parallel choice.
func forcedParallelPlan(sigs []model.Signal) model.Plan {
	steps := make([]model.PlanStep, 0, len(sigs)+1)
	for _, s := range sigs {
		op := "search"
		switch s {
		case model.SignalField:
			op = "filter"
		case model.SignalGraph:
			op = "traverse"
		}
		steps = append(steps, model.PlanStep{Kind: s, Op: op})
	}
	steps = append(steps, model.PlanStep{Kind: model.SignalFusion, Op: "rank"})
	return model.Plan{Parallel: true, Steps: steps}
}

// Find runs q through the planner, executor, and fusion ranker, returning
// ranked, hydrated results.
func (e *Engine) Find(ctx context.Context, q model.Query) ([]model.RankedResult, error) {
	start := time.Now()
	if err := e.checkOpen(); err != nil {
		return nil, err
	}
	q, err := e.validateQuery(q)
	if err != nil {
		return nil, wrapError("Find", err)
	}

	if q.Like != nil {
		vec, err := e.resolveLike(ctx, q.Like)
		if err != nil {
			return nil, wrapError("Find", err)
		}
		q.Like = vec
	}

	q, forcedPlan, err := applyMode(q)
	if err != nil {
		return nil, wrapError("Find", err)
	}

	// spec.md §8: Limit==0 is a literal request for zero results, not "use
	// the default" — distinct from MaxLimit/negative-Limit, which are
	// argument errors caught by validateQuery above.
	if q.Limit == 0 {
		return []model.RankedResult{}, nil
	}

	var p model.Plan
	if forcedPlan != nil {
		p = *forcedPlan
	} else {
		p = e.planFor(planner.Fingerprint(q), q)
	}

	candidates, err := e.exec.Execute(ctx, q, p)
	if err != nil {
		return nil, wrapError("Find", fmt.Errorf("%w: %v", mapExecErr(err), err))
	}

	var fieldMatched map[string]bool
	if q.Where != nil {
		ids, err := e.fields.Evaluate(q.Where)
		if err != nil {
			return nil, wrapError("Find", err)
		}
		fieldMatched = make(map[string]bool, len(ids))
		for _, id := range ids {
			fieldMatched[id] = true
		}
	}

	var boosts []fusion.Boost
	if b := e.resolveBoost(q.Boost); b != nil {
		boosts = append(boosts, b)
	}

	ranked := fusion.Fuse(candidates, fieldMatched, boosts)

	if q.Threshold != 0 {
		kept := ranked[:0:0]
		for _, r := range ranked {
			if r.FusionScore >= float64(q.Threshold) {
				kept = append(kept, r)
			}
		}
		ranked = kept
	}

	ranked = paginate(ranked, q.Offset, q.Limit)

	var explanation *model.Explanation
	if q.Explain {
		explanation = fusion.Explain(p, boosts, time.Since(start))
	}

	return e.hydrate(ctx, ranked, explanation)
}

// planFor consults the plan cache (when configured) before asking the
// planner to build a fresh plan from current index statistics.
func (e *Engine) planFor(fingerprint string, q model.Query) model.Plan {
	if e.cache != nil {
		if p, ok := e.cache.Get(fingerprint); ok {
			return p
		}
	}
	stats := planner.Stats{
		CorpusSize:        e.fields.Total(),
		VectorEfSearch:    e.cfg.HNSW.EfSearch,
		GraphAvgBranching: e.graph.AverageBranching(),
	}
	if stats.GraphAvgBranching <= 0 {
		stats.GraphAvgBranching = e.cfg.Graph.DefaultBranching
	}
	p := e.plan.Plan(q, stats)
	if e.cache != nil {
		e.cache.Put(fingerprint, p)
	}
	return p
}

func mapExecErr(err error) error {
	if err == context.Canceled || err == context.DeadlineExceeded {
		return ErrCancelled
	}
	return ErrStorageError
}

// paginate applies offset then limit, per spec.md's "apply offset then
// limit after fusion and boosts".
func paginate(ranked []fusion.Ranked, offset, limit int) []fusion.Ranked {
	if offset >= len(ranked) {
		return nil
	}
	ranked = ranked[offset:]
	if limit > 0 && limit < len(ranked) {
		ranked = ranked[:limit]
	}
	return ranked
}

// hydrate loads each ranked id's entity and assembles the public result
// shape, attaching the shared explanation (if any) to every row.
func (e *Engine) hydrate(ctx context.Context, ranked []fusion.Ranked, explanation *model.Explanation) ([]model.RankedResult, error) {
	out := make([]model.RankedResult, 0, len(ranked))
	for _, r := range ranked {
		ent, ok, err := e.store.GetEntity(ctx, r.ID)
		if err != nil {
			return nil, wrapError("Find", fmt.Errorf("%w: %v", ErrStorageError, err))
		}
		if !ok {
			continue
		}
		score := r.FusionScore
		rr := model.RankedResult{
			ID: r.ID, Score: score,
			VectorScore: r.VectorScore, GraphScore: r.GraphScore, FieldScore: r.FieldScore,
			FusionScore: &score,
			Entity:      ent, Metadata: ent.Metadata,
			Explanation: explanation,
		}
		out = append(out, rr)
	}
	return out, nil
}

// Search is a convenience wrapper over Find for the common "similar to
// this" case: textOrVector may be a []float32 or a string (entity id or
// free text).
func (e *Engine) Search(ctx context.Context, textOrVector any, limit int) ([]model.RankedResult, error) {
	return e.Find(ctx, model.Query{Like: textOrVector, Limit: limit})
}

// keyedMutex serializes concurrent operations on the same id (spec.md
// §5's "concurrent writes to the same id are linearized by a per-id
// lock"), while letting operations on distinct ids proceed in parallel.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() keyedMutex {
	return keyedMutex{locks: make(map[string]*sync.Mutex)}
}

// lock blocks until id's lock is held and returns a function that
// releases it.
func (k *keyedMutex) lock(id string) func() {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
