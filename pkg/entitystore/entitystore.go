// Package entitystore is the persistence facade (spec.md's C4) over a
// storage.Adapter: it turns Entity/Relationship CRUD into sharded blob
// reads and writes, and is the source of truth the in-memory indexes
// (vectorindex, metaindex, graphindex) get rebuilt from on startup.
package entitystore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/polyquery/polyquery/internal/encoding"
	"github.com/polyquery/polyquery/pkg/model"
	"github.com/polyquery/polyquery/pkg/storage"
)

// Store is a thin, concurrency-agnostic wrapper around a storage.Adapter;
// callers (engine.go) are responsible for serializing writes per id.
type Store struct {
	adapter storage.Adapter
}

// New wraps adapter as an entity/relationship store.
func New(adapter storage.Adapter) *Store {
	return &Store{adapter: adapter}
}

type entityEnvelope struct {
	Type      string          `json:"type"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  json.RawMessage `json:"metadata"`
}

// PutEntity persists e's vector and metadata under its sharded keys.
func (s *Store) PutEntity(ctx context.Context, e *model.Entity) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	if len(e.Vector) > 0 {
		vecBytes, err := encoding.EncodeVector(e.Vector)
		if err != nil {
			return fmt.Errorf("encode vector: %w", err)
		}
		if err := s.adapter.Put(ctx, storage.EntityVectorKey(e.ID), vecBytes); err != nil {
			return fmt.Errorf("put vector: %w", err)
		}
	}

	mdBytes, err := encoding.EncodeMetadata(e.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	env := entityEnvelope{Type: e.Type, CreatedAt: e.CreatedAt, Metadata: mdBytes}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := s.adapter.Put(ctx, storage.EntityMetadataKey(e.ID), envBytes); err != nil {
		return fmt.Errorf("put metadata: %w", err)
	}
	return nil
}

// GetEntity loads e's vector and metadata. It returns (nil, false, nil)
// when e.ID isn't present.
func (s *Store) GetEntity(ctx context.Context, id string) (*model.Entity, bool, error) {
	envBytes, ok, err := s.adapter.Get(ctx, storage.EntityMetadataKey(id))
	if err != nil {
		return nil, false, fmt.Errorf("get metadata: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var env entityEnvelope
	if err := json.Unmarshal(envBytes, &env); err != nil {
		return nil, false, fmt.Errorf("decode envelope: %w", err)
	}
	md, err := encoding.DecodeMetadata(env.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("decode metadata: %w", err)
	}

	e := &model.Entity{ID: id, Type: env.Type, CreatedAt: env.CreatedAt, Metadata: md}

	vecBytes, ok, err := s.adapter.Get(ctx, storage.EntityVectorKey(id))
	if err != nil {
		return nil, false, fmt.Errorf("get vector: %w", err)
	}
	if ok {
		vec, err := encoding.DecodeVector(vecBytes)
		if err != nil {
			return nil, false, fmt.Errorf("decode vector: %w", err)
		}
		e.Vector = vec
	}
	return e, true, nil
}

// DeleteEntity removes both of id's shards. Deleting an unknown id is a
// no-op.
func (s *Store) DeleteEntity(ctx context.Context, id string) error {
	if err := s.adapter.Delete(ctx, storage.EntityVectorKey(id)); err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	if err := s.adapter.Delete(ctx, storage.EntityMetadataKey(id)); err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	return nil
}

// ListEntityIDs enumerates every persisted entity id, for index rebuild
// on startup.
func (s *Store) ListEntityIDs(ctx context.Context) ([]string, error) {
	return s.listIDs(ctx, storage.EntityMetadataPrefix())
}

type relationshipEnvelope struct {
	Source    string          `json:"source"`
	Target    string          `json:"target"`
	Type      string          `json:"type"`
	Weight    float32         `json:"weight"`
	Orphaned  bool            `json:"orphaned"`
	CreatedAt time.Time       `json:"created_at"`
	Metadata  json.RawMessage `json:"metadata"`
}

// PutRelationship persists r's structural fields, optional vector, and
// metadata.
func (s *Store) PutRelationship(ctx context.Context, r *model.Relationship) error {
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}
	if r.Weight == 0 {
		r.Weight = model.DefaultWeight
	}
	if len(r.Vector) > 0 {
		vecBytes, err := encoding.EncodeVector(r.Vector)
		if err != nil {
			return fmt.Errorf("encode vector: %w", err)
		}
		if err := s.adapter.Put(ctx, storage.RelationVectorKey(r.ID), vecBytes); err != nil {
			return fmt.Errorf("put vector: %w", err)
		}
	}

	mdBytes, err := encoding.EncodeMetadata(r.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	env := relationshipEnvelope{
		Source: r.Source, Target: r.Target, Type: r.Type,
		Weight: r.Weight, Orphaned: r.Orphaned, CreatedAt: r.CreatedAt,
		Metadata: mdBytes,
	}
	envBytes, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if err := s.adapter.Put(ctx, storage.RelationMetadataKey(r.ID), envBytes); err != nil {
		return fmt.Errorf("put metadata: %w", err)
	}
	return nil
}

// GetRelationship loads a relationship by its own id.
func (s *Store) GetRelationship(ctx context.Context, id string) (*model.Relationship, bool, error) {
	envBytes, ok, err := s.adapter.Get(ctx, storage.RelationMetadataKey(id))
	if err != nil {
		return nil, false, fmt.Errorf("get metadata: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	var env relationshipEnvelope
	if err := json.Unmarshal(envBytes, &env); err != nil {
		return nil, false, fmt.Errorf("decode envelope: %w", err)
	}
	md, err := encoding.DecodeMetadata(env.Metadata)
	if err != nil {
		return nil, false, fmt.Errorf("decode metadata: %w", err)
	}

	r := &model.Relationship{
		ID: id, Source: env.Source, Target: env.Target, Type: env.Type,
		Weight: env.Weight, Orphaned: env.Orphaned, CreatedAt: env.CreatedAt,
		Metadata: md,
	}

	vecBytes, ok, err := s.adapter.Get(ctx, storage.RelationVectorKey(id))
	if err != nil {
		return nil, false, fmt.Errorf("get vector: %w", err)
	}
	if ok {
		vec, err := encoding.DecodeVector(vecBytes)
		if err != nil {
			return nil, false, fmt.Errorf("decode vector: %w", err)
		}
		r.Vector = vec
	}
	return r, true, nil
}

// DeleteRelationship removes both of id's shards.
func (s *Store) DeleteRelationship(ctx context.Context, id string) error {
	if err := s.adapter.Delete(ctx, storage.RelationVectorKey(id)); err != nil {
		return fmt.Errorf("delete vector: %w", err)
	}
	if err := s.adapter.Delete(ctx, storage.RelationMetadataKey(id)); err != nil {
		return fmt.Errorf("delete metadata: %w", err)
	}
	return nil
}

// ListRelationships loads every persisted relationship, for index rebuild
// on startup.
func (s *Store) ListRelationships(ctx context.Context) ([]*model.Relationship, error) {
	ids, err := s.listIDs(ctx, storage.RelationMetadataPrefix())
	if err != nil {
		return nil, err
	}
	out := make([]*model.Relationship, 0, len(ids))
	for _, id := range ids {
		r, ok, err := s.GetRelationship(ctx, id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}
	return out, nil
}

// listIDs walks every key under prefix and recovers the id portion from
// its shard+prefix structure.
func (s *Store) listIDs(ctx context.Context, prefix string) ([]string, error) {
	it, err := s.adapter.List(ctx, prefix)
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	defer it.Close()

	ids := make([]string, 0)
	for it.Next() {
		key := it.Key()
		id, ok := storage.IDFromKey(prefix, key)
		if !ok {
			continue
		}
		ids = append(ids, id)
	}
	if err := it.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", prefix, err)
	}
	return ids, nil
}
