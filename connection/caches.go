// connection/caches.go
package connection

import (
	"runtime"
	"sync"

	"github.com/deploymenttheory/go-jamfpro-api-client/logger"
	"go.uber.org/zap"
)

// cacheStore holds every cache partition for one Connection. Partitions are
// strictly per-Connection: two Connections never share cache state, even to
// the same server under the same credentials.
type cacheStore struct {
	mu sync.Mutex

	// lists caches all-objects list responses per resource-type key.
	lists map[string]interface{}

	// maps caches derived id-to-field lookups, keyed by resource-type key then
	// target field. Invalidated together with the parent list.
	maps map[string]map[string]map[int]string

	// singletons caches singleton-resource data per resource-type key.
	singletons map[string]interface{}

	// extAttrs caches extension-attribute definitions per attribute class.
	extAttrs map[string]interface{}
}

// store returns the cache partitions, creating them on first use so a
// zero-value Connection degrades to errors instead of panics.
func (c *Connection) store() *cacheStore {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.caches == nil {
		c.caches = newCacheStore()
	}
	return c.caches
}

// logger returns the connection's logger, or a no-op one for a zero-value
// Connection.
func (c *Connection) logger() logger.Logger {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.log == nil {
		c.log = logger.NewNopLogger()
	}
	return c.log
}

func newCacheStore() *cacheStore {
	return &cacheStore{
		lists:      make(map[string]interface{}),
		maps:       make(map[string]map[string]map[int]string),
		singletons: make(map[string]interface{}),
		extAttrs:   make(map[string]interface{}),
	}
}

func (cs *cacheStore) cachedList(key string) (interface{}, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	v, ok := cs.lists[key]
	return v, ok
}

func (cs *cacheStore) setCachedList(key string, v interface{}) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.lists[key] = v
	// A new list invalidates every map derived from the old one.
	delete(cs.maps, key)
}

func (cs *cacheStore) cachedMap(key, field string) (map[int]string, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	byField, ok := cs.maps[key]
	if !ok {
		return nil, false
	}
	m, ok := byField[field]
	return m, ok
}

func (cs *cacheStore) setCachedMap(key, field string, m map[int]string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.maps[key] == nil {
		cs.maps[key] = make(map[string]map[int]string)
	}
	cs.maps[key][field] = m
}

func (cs *cacheStore) cachedSingleton(key string) (interface{}, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	v, ok := cs.singletons[key]
	return v, ok
}

func (cs *cacheStore) setCachedSingleton(key string, v interface{}) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.singletons[key] = v
}

func (cs *cacheStore) cachedExtAttr(class string) (interface{}, bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	v, ok := cs.extAttrs[class]
	return v, ok
}

func (cs *cacheStore) setCachedExtAttr(class string, v interface{}) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.extAttrs[class] = v
}

// flush clears one partition by resource-type key or extension-attribute
// class.
func (cs *cacheStore) flush(key string) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	delete(cs.lists, key)
	delete(cs.maps, key)
	delete(cs.singletons, key)
	delete(cs.extAttrs, key)
}

// flushAll clears every partition.
func (cs *cacheStore) flushAll() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.lists = make(map[string]interface{})
	cs.maps = make(map[string]map[string]map[int]string)
	cs.singletons = make(map[string]interface{})
	cs.extAttrs = make(map[string]interface{})
}

// CachedGet fetches a Classic API list resource through the per-type list
// cache. The first fetch for a key issues a network request and caches the
// parsed body; later fetches return the cached value until refresh is
// requested, which replaces it.
func (c *Connection) CachedGet(key, resource string, refresh bool) (map[string]interface{}, error) {
	if !refresh {
		if v, ok := c.store().cachedList(key); ok {
			c.logger().Debug("cache hit", zap.String("key", key))
			return v.(map[string]interface{}), nil
		}
	}

	parsed, err := c.Get(resource)
	if err != nil {
		return nil, err
	}
	c.store().setCachedList(key, parsed)
	return parsed, nil
}

// CachedMap returns the cached id-to-field mapping for a resource-type key,
// building and caching it from the supplied builder on first use. The mapping
// is invalidated whenever the parent list cache is replaced.
func (c *Connection) CachedMap(key, field string, build func() (map[int]string, error)) (map[int]string, error) {
	if m, ok := c.store().cachedMap(key, field); ok {
		return m, nil
	}
	m, err := build()
	if err != nil {
		return nil, err
	}
	c.store().setCachedMap(key, field, m)
	return m, nil
}

// CachedSingleton fetches a singleton Classic API resource through the
// singleton cache partition.
func (c *Connection) CachedSingleton(key, resource string, refresh bool) (map[string]interface{}, error) {
	if !refresh {
		if v, ok := c.store().cachedSingleton(key); ok {
			return v.(map[string]interface{}), nil
		}
	}
	parsed, err := c.Get(resource)
	if err != nil {
		return nil, err
	}
	c.store().setCachedSingleton(key, parsed)
	return parsed, nil
}

// CachedExtAttrDefinition caches extension-attribute definitions per attribute
// class, fetched through the supplied loader on first use.
func (c *Connection) CachedExtAttrDefinition(class string, load func() (interface{}, error)) (interface{}, error) {
	if v, ok := c.store().cachedExtAttr(class); ok {
		return v, nil
	}
	v, err := load()
	if err != nil {
		return nil, err
	}
	c.store().setCachedExtAttr(class, v)
	return v, nil
}

// FlushCache clears one named cache partition, or every partition when no key
// is given. Cached lists can be very large, so a garbage-collection pass is
// requested after eviction.
func (c *Connection) FlushCache(keys ...string) {
	if len(keys) == 0 {
		c.store().flushAll()
	} else {
		for _, key := range keys {
			c.store().flush(key)
		}
	}
	runtime.GC()
}
