// Package metaindex implements the hash + sorted metadata index described
// in spec.md §4.2: per-field equality lookups backed by a hash index, and
// range/ordering queries backed by a sorted index, with graceful
// degradation to hash-only ("mixed") when a field's values don't share a
// single scalar kind.
package metaindex

import (
	"sort"
	"sync"

	"github.com/polyquery/polyquery/pkg/model"
)

// fieldIndex holds both index structures for one metadata field.
type fieldIndex struct {
	mu      sync.RWMutex
	kind    model.ScalarKind
	kindSet bool
	mixed   bool
	hash    map[string]map[string]struct{} // HashKey() -> set of ids
	sorted  []sortedEntry                  // valid only while !mixed
	values  map[string]model.Scalar        // id -> current value, always kept
}

type sortedEntry struct {
	value model.Scalar
	id    string
}

func newFieldIndex() *fieldIndex {
	return &fieldIndex{
		hash:   make(map[string]map[string]struct{}),
		values: make(map[string]model.Scalar),
	}
}

// Index is the metadata index over an entire entity corpus, one fieldIndex
// per distinct field name.
type Index struct {
	mu     sync.RWMutex
	fields map[string]*fieldIndex
	total  int // live entity count, for selectivity estimation
}

// New creates an empty metadata index.
func New() *Index {
	return &Index{fields: make(map[string]*fieldIndex)}
}

func (ix *Index) fieldFor(name string, create bool) *fieldIndex {
	ix.mu.RLock()
	f, ok := ix.fields[name]
	ix.mu.RUnlock()
	if ok || !create {
		return f
	}
	ix.mu.Lock()
	defer ix.mu.Unlock()
	if f, ok = ix.fields[name]; ok {
		return f
	}
	f = newFieldIndex()
	ix.fields[name] = f
	return f
}

// Put indexes a newly inserted entity's metadata and counts it once toward
// Total. Re-indexing an already indexed id goes through Update: a second
// Put for the same id counts it again and keeps fields missing from md.
func (ix *Index) Put(id string, md model.Metadata) {
	ix.mu.Lock()
	ix.total++
	ix.mu.Unlock()
	for field, val := range md {
		fi := ix.fieldFor(field, true)
		fi.put(id, val)
	}
}

// Update re-indexes id, given its old and new metadata.
func (ix *Index) Update(id string, old, next model.Metadata) {
	for field := range old {
		if _, stillPresent := next[field]; !stillPresent {
			if fi := ix.fieldFor(field, false); fi != nil {
				fi.remove(id)
			}
		}
	}
	for field, val := range next {
		fi := ix.fieldFor(field, true)
		fi.put(id, val)
	}
}

// Delete removes id from every field it was indexed under.
func (ix *Index) Delete(id string, md model.Metadata) {
	for field := range md {
		if fi := ix.fieldFor(field, false); fi != nil {
			fi.remove(id)
		}
	}
	ix.mu.Lock()
	if ix.total > 0 {
		ix.total--
	}
	ix.mu.Unlock()
}

// Total is the live entity count tracked for selectivity estimation.
func (ix *Index) Total() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.total
}

func (fi *fieldIndex) put(id string, val model.Scalar) {
	fi.mu.Lock()
	defer fi.mu.Unlock()

	if old, had := fi.values[id]; had {
		fi.removeLocked(id, old)
	}

	fi.values[id] = val
	switch {
	case !fi.kindSet:
		fi.kind = val.Kind
		fi.kindSet = true
	case !fi.mixed && fi.kind != val.Kind:
		fi.mixed = true
		fi.sorted = nil
	}

	key := val.HashKey()
	bucket, ok := fi.hash[key]
	if !ok {
		bucket = make(map[string]struct{})
		fi.hash[key] = bucket
	}
	bucket[id] = struct{}{}

	if !fi.mixed {
		idx := sort.Search(len(fi.sorted), func(i int) bool {
			return model.Compare(fi.sorted[i].value, val) >= 0
		})
		fi.sorted = append(fi.sorted, sortedEntry{})
		copy(fi.sorted[idx+1:], fi.sorted[idx:])
		fi.sorted[idx] = sortedEntry{value: val, id: id}
	}
}

func (fi *fieldIndex) remove(id string) {
	fi.mu.Lock()
	defer fi.mu.Unlock()
	val, ok := fi.values[id]
	if !ok {
		return
	}
	fi.removeLocked(id, val)
}

// removeLocked requires fi.mu held for writing.
func (fi *fieldIndex) removeLocked(id string, val model.Scalar) {
	delete(fi.values, id)
	if bucket, ok := fi.hash[val.HashKey()]; ok {
		delete(bucket, id)
		if len(bucket) == 0 {
			delete(fi.hash, val.HashKey())
		}
	}
	if !fi.mixed {
		for i, e := range fi.sorted {
			if e.id == id {
				fi.sorted = append(fi.sorted[:i], fi.sorted[i+1:]...)
				break
			}
		}
	}
}

// equalsIDs returns every id whose field value hashes equal to val.
func (fi *fieldIndex) equalsIDs(val model.Scalar) []string {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	bucket := fi.hash[val.HashKey()]
	ids := make([]string, 0, len(bucket))
	for id := range bucket {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// rangeIDs returns ids whose value satisfies lo <= v <= hi (either bound
// may be nil to mean unbounded). Falls back to a linear scan of values
// when the field's type has gone mixed; that scan skips values whose kind
// cannot be ordered against the bounds.
func (fi *fieldIndex) rangeIDs(lo, hi *model.Scalar) []string {
	fi.mu.RLock()
	defer fi.mu.RUnlock()

	if fi.mixed {
		ids := make([]string, 0)
		for id, v := range fi.values {
			if inRange(v, lo, hi) {
				ids = append(ids, id)
			}
		}
		sort.Strings(ids)
		return ids
	}

	start := 0
	if lo != nil {
		start = sort.Search(len(fi.sorted), func(i int) bool {
			return model.Compare(fi.sorted[i].value, *lo) >= 0
		})
	}
	end := len(fi.sorted)
	if hi != nil {
		end = sort.Search(len(fi.sorted), func(i int) bool {
			return model.Compare(fi.sorted[i].value, *hi) > 0
		})
	}
	if start >= end {
		return nil
	}
	ids := make([]string, 0, end-start)
	for _, e := range fi.sorted[start:end] {
		ids = append(ids, e.id)
	}
	sort.Strings(ids)
	return ids
}

func inRange(v model.Scalar, lo, hi *model.Scalar) bool {
	ordered := func(b model.Scalar) bool {
		return (v.Numeric() && b.Numeric()) || v.Kind == b.Kind
	}
	if lo != nil && (!ordered(*lo) || model.Compare(v, *lo) < 0) {
		return false
	}
	if hi != nil && (!ordered(*hi) || model.Compare(v, *hi) > 0) {
		return false
	}
	return true
}

// existsIDs returns every id indexed for the field at all.
func (fi *fieldIndex) existsIDs() []string {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	ids := make([]string, 0, len(fi.values))
	for id := range fi.values {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (fi *fieldIndex) count() int {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	return len(fi.values)
}

func (fi *fieldIndex) equalsCount(val model.Scalar) int {
	fi.mu.RLock()
	defer fi.mu.RUnlock()
	return len(fi.hash[val.HashKey()])
}
