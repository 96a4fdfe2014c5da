package repository

import (
	"context"
	"strings"
	"sync"

	"nestedLiquidity/internal/model"
)

// Cache holds resolved pools keyed by lookup attribute and value.
type Cache struct {
	mu   sync.RWMutex
	data map[string]model.Pool
}

func NewCache() *Cache {
	return &Cache{data: make(map[string]model.Pool)}
}

func (c *Cache) Get(attr Attribute, value string) (model.Pool, bool) {
	c.mu.RLock()
	pool, ok := c.data[cacheKey(attr, value)]
	c.mu.RUnlock()
	return pool, ok
}

func (c *Cache) Set(attr Attribute, value string, pool model.Pool) {
	c.mu.Lock()
	c.data[cacheKey(attr, value)] = pool
	c.mu.Unlock()
}

// Invalidate drops every cached pool.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.data = make(map[string]model.Pool)
	c.mu.Unlock()
}

func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data)
}

func cacheKey(attr Attribute, value string) string {
	return string(attr) + ":" + strings.ToLower(strings.TrimSpace(value))
}

// CachedRepository fronts a slower repository with a Cache. Misses are not
// cached, so a pool created after the first lookup is still found.
type CachedRepository struct {
	backend PoolRepository
	cache   *Cache
}

func NewCachedRepository(backend PoolRepository, cache *Cache) *CachedRepository {
	if cache == nil {
		cache = NewCache()
	}
	return &CachedRepository{backend: backend, cache: cache}
}

func (r *CachedRepository) Find(ctx context.Context, id string) (model.Pool, bool, error) {
	return r.FindBy(ctx, AttributeID, id)
}

func (r *CachedRepository) FindBy(ctx context.Context, attr Attribute, value string) (model.Pool, bool, error) {
	if pool, ok := r.cache.Get(attr, value); ok {
		return pool.Clone(), true, nil
	}

	pool, ok, err := r.backend.FindBy(ctx, attr, value)
	if err != nil || !ok {
		return pool, ok, err
	}

	r.cache.Set(AttributeID, pool.ID, pool)
	r.cache.Set(AttributeAddress, pool.Address.Hex(), pool)
	return pool.Clone(), true, nil
}
