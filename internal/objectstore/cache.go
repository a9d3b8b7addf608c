package objectstore

import (
	"slices"
	"strings"
	"sync"

	"reclameaqui-pipeline/internal/models"

	lru "github.com/hashicorp/golang-lru/v2"
)

type cacheKey struct {
	layer  models.Layer
	prefix string
}

// listCache remembers complete listings per (layer, category prefix).
//
// Every mutation goes through the mutex. The generation counter is bumped on
// each invalidation so a listing that started before a write cannot be stored
// after that write invalidated it.
type listCache struct {
	mutex      sync.Mutex
	entries    *lru.Cache[cacheKey, []models.StoredObjectRef]
	generation uint64
}

func newListCache(size int) (*listCache, error) {
	if size <= 0 {
		size = 256
	}
	entries, err := lru.New[cacheKey, []models.StoredObjectRef](size)
	if err != nil {
		return nil, err
	}
	return &listCache{entries: entries}, nil
}

func (c *listCache) get(key cacheKey) ([]models.StoredObjectRef, bool) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	refs, ok := c.entries.Get(key)
	if !ok {
		return nil, false
	}
	return slices.Clone(refs), true
}

func (c *listCache) currentGeneration() uint64 {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.generation
}

// store keeps refs unless an invalidation happened since generation was read.
func (c *listCache) store(key cacheKey, refs []models.StoredObjectRef, generation uint64) bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if generation != c.generation {
		return false
	}
	c.entries.Add(key, slices.Clone(refs))
	return true
}

// invalidate drops every listing of layer that could contain category.
func (c *listCache) invalidate(layer models.Layer, category string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.generation++
	for _, key := range c.entries.Keys() {
		if key.layer != layer {
			continue
		}
		if strings.HasPrefix(category, key.prefix) || strings.HasPrefix(key.prefix, category+"/") {
			c.entries.Remove(key)
		}
	}
}

func (c *listCache) len() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.entries.Len()
}
