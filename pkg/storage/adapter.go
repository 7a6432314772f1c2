// Package storage defines the blob-keyed KV contract the core consumes
// (spec.md §4.4/§6) and ships two reference adapters: an in-memory map and
// a modernc.org/sqlite-backed blob table. Physical storage is explicitly
// out of scope for the core's query logic — everything here is a thin,
// swappable collaborator.
package storage

import "context"

// Adapter is the storage contract the engine is built against. Blobs are
// opaque byte slices; the core owns their schema (see internal/encoding).
type Adapter interface {
	// Get returns the blob stored at key, or ok=false if absent.
	Get(ctx context.Context, key string) (blob []byte, ok bool, err error)

	// Put writes blob at key, creating or overwriting it.
	Put(ctx context.Context, key string, blob []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// List returns every key with the given prefix, in lexicographic
	// order, as a lazily-advanced iterator.
	List(ctx context.Context, prefix string) (Iterator, error)

	// Close releases resources held by the adapter.
	Close() error
}

// Iterator yields keys one at a time.
type Iterator interface {
	// Next advances the iterator and reports whether a key is available.
	Next() bool
	// Key returns the current key. Valid only after a true Next().
	Key() string
	// Err returns the first error encountered during iteration, if any.
	Err() error
	// Close releases resources held by the iterator.
	Close() error
}

// sliceIterator adapts a pre-materialized, sorted key slice to Iterator.
// Used by MemoryAdapter and anywhere a full key list is cheap to gather
// upfront.
type sliceIterator struct {
	keys []string
	pos  int
}

func newSliceIterator(keys []string) *sliceIterator {
	return &sliceIterator{keys: keys, pos: -1}
}

func (it *sliceIterator) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *sliceIterator) Key() string {
	if it.pos < 0 || it.pos >= len(it.keys) {
		return ""
	}
	return it.keys[it.pos]
}

func (it *sliceIterator) Err() error   { return nil }
func (it *sliceIterator) Close() error { return nil }
