package discovery

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

// CachedIntrospector memoizes introspection results for the lifetime of a run.
// Per-table lookups repeat across pipeline nodes (dataset generation, sample
// injection, candidate detection); caching keeps each table to one round trip
// against the source database.
type CachedIntrospector struct {
	inner   Introspector
	columns *lru.Cache[string, []Column]
	fks     *lru.Cache[string, []ForeignKey]
	samples *lru.Cache[string, map[string][]string]
}

// NewCached wraps inner with LRU caches of the given capacity per kind.
func NewCached(inner Introspector, capacity int) (*CachedIntrospector, error) {
	if inner == nil {
		return nil, fmt.Errorf("discovery: inner introspector is required")
	}
	if capacity <= 0 {
		capacity = 256
	}
	cols, err := lru.New[string, []Column](capacity)
	if err != nil {
		return nil, err
	}
	fks, err := lru.New[string, []ForeignKey](capacity)
	if err != nil {
		return nil, err
	}
	samples, err := lru.New[string, map[string][]string](capacity)
	if err != nil {
		return nil, err
	}
	return &CachedIntrospector{inner: inner, columns: cols, fks: fks, samples: samples}, nil
}

func (c *CachedIntrospector) Columns(ctx context.Context, table TableRef) ([]Column, error) {
	key := table.String()
	if v, ok := c.columns.Get(key); ok {
		return v, nil
	}
	v, err := c.inner.Columns(ctx, table)
	if err != nil {
		return nil, err
	}
	c.columns.Add(key, v)
	return v, nil
}

func (c *CachedIntrospector) ForeignKeys(ctx context.Context, schemas []string) ([]ForeignKey, error) {
	key := fmt.Sprintf("%v", schemas)
	if v, ok := c.fks.Get(key); ok {
		return v, nil
	}
	v, err := c.inner.ForeignKeys(ctx, schemas)
	if err != nil {
		return nil, err
	}
	c.fks.Add(key, v)
	return v, nil
}

func (c *CachedIntrospector) SampleValues(ctx context.Context, table TableRef, limit int) (map[string][]string, error) {
	key := fmt.Sprintf("%s#%d", table.String(), limit)
	if v, ok := c.samples.Get(key); ok {
		return v, nil
	}
	v, err := c.inner.SampleValues(ctx, table, limit)
	if err != nil {
		return nil, err
	}
	c.samples.Add(key, v)
	return v, nil
}
