package planner

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/polyquery/polyquery/pkg/model"
)

// defaultCacheSize bounds the number of distinct query shapes whose plans
// are memoized, per spec.md §5's "bounded LRU plan cache."
const defaultCacheSize = 1024

// Cache memoizes Plans by query fingerprint so repeated query shapes skip
// re-planning.
type Cache struct {
	lru *lru.Cache[string, model.Plan]
}

// NewCache creates a plan cache holding up to size entries (defaultCacheSize
// if size <= 0).
func NewCache(size int) (*Cache, error) {
	if size <= 0 {
		size = defaultCacheSize
	}
	c, err := lru.New[string, model.Plan](size)
	if err != nil {
		return nil, fmt.Errorf("create plan cache: %w", err)
	}
	return &Cache{lru: c}, nil
}

// Get returns a cached plan for fingerprint, if present.
func (c *Cache) Get(fingerprint string) (model.Plan, bool) {
	return c.lru.Get(fingerprint)
}

// Put memoizes plan under fingerprint.
func (c *Cache) Put(fingerprint string, plan model.Plan) {
	c.lru.Add(fingerprint, plan)
}

// Len reports the number of cached entries.
func (c *Cache) Len() int { return c.lru.Len() }

// Fingerprint derives a cache key from a query's shape: which signals are
// active, the filter's field/operator structure (not its literal values,
// so queries differing only in a filtered value still share a plan), the
// graph spec's type/direction/depth, and the requested mode.
func Fingerprint(q model.Query) string {
	var b strings.Builder
	b.WriteString("mode=")
	b.WriteString(string(q.Mode))
	b.WriteString(";like=")
	if q.Like != nil {
		b.WriteString("1")
	} else {
		b.WriteString("0")
	}
	b.WriteString(";where=")
	b.WriteString(filterShape(q.Where))
	b.WriteString(";graph=")
	if q.Connected != nil {
		b.WriteString(fmt.Sprintf("%s:%d:%s", q.Connected.Direction, q.Connected.MaxDepth, strings.Join(sortedCopy(q.Connected.Type), ",")))
	}
	b.WriteString(";limit=")
	b.WriteString(fmt.Sprintf("%d", q.Limit))

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func filterShape(expr *model.FilterExpr) string {
	if expr == nil {
		return ""
	}
	var b strings.Builder
	var walk func(*model.FilterExpr)
	walk = func(e *model.FilterExpr) {
		if e == nil {
			return
		}
		b.WriteString(string(e.Op))
		b.WriteString(":")
		b.WriteString(e.Field)
		b.WriteString("[")
		for _, c := range e.Children {
			walk(c)
			b.WriteString(",")
		}
		b.WriteString("]")
	}
	walk(expr)
	return b.String()
}

func sortedCopy(ss []string) []string {
	out := make([]string, len(ss))
	copy(out, ss)
	sort.Strings(out)
	return out
}
