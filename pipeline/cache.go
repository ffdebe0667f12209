package pipeline

import (
	"container/list"
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// DefaultCacheCapacity is the default bound on unpinned cache entries.
const DefaultCacheCapacity = 1024

// CacheKeyer lets a bound value contribute a stable identity token to
// cache keys. Distributed dataset handles should implement it so that
// logically-identical inputs hit the same cache entries across processes
// of the same evaluation.
type CacheKeyer interface {
	CacheKey() string
}

// resultCache memoizes node outputs keyed by
// (graph identity, node id, input-binding identity).
//
// Entries for nodes carrying an explicit cache hint are pinned and never
// evicted; all other entries live under an LRU policy bounded by capacity.
type resultCache struct {
	mu       sync.Mutex
	capacity int // max unpinned entries; <= 0 means unbounded
	entries  map[string]*cacheEntry
	lru      *list.List // unpinned entries, front = most recently used
}

type cacheEntry struct {
	key    string
	value  any
	pinned bool
	elem   *list.Element // nil for pinned entries
}

func newResultCache(capacity int) *resultCache {
	return &resultCache{
		capacity: capacity,
		entries:  make(map[string]*cacheEntry),
		lru:      list.New(),
	}
}

func (c *resultCache) get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if e.elem != nil {
		c.lru.MoveToFront(e.elem)
	}
	return e.value, true
}

func (c *resultCache) put(key string, value any, pinned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[key]; ok {
		e.value = value
		if pinned && !e.pinned {
			// Upgrade: the stronger hint wins.
			if e.elem != nil {
				c.lru.Remove(e.elem)
				e.elem = nil
			}
			e.pinned = true
		}
		return
	}

	e := &cacheEntry{key: key, value: value, pinned: pinned}
	if !pinned {
		e.elem = c.lru.PushFront(e)
		if c.capacity > 0 && c.lru.Len() > c.capacity {
			oldest := c.lru.Back()
			if oldest != nil {
				evicted := oldest.Value.(*cacheEntry)
				c.lru.Remove(oldest)
				delete(c.entries, evicted.key)
			}
		}
	}
	c.entries[key] = e
}

// purge drops every entry, pinned included, whose key belongs to graphID.
func (c *resultCache) purge(graphID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	prefix := graphID + "|"
	for key, e := range c.entries {
		if strings.HasPrefix(key, prefix) {
			if e.elem != nil {
				c.lru.Remove(e.elem)
			}
			delete(c.entries, key)
		}
	}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// bindingToken derives an identity token for a bound value. Values may
// implement CacheKeyer for a stable logical identity; reference types fall
// back to pointer identity (datasets are cacheable by reference), and
// remaining scalars to their formatted value.
func bindingToken(v any) string {
	if k, ok := v.(CacheKeyer); ok {
		return k.CacheKey()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Map, reflect.Slice, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return fmt.Sprintf("%T@%x", v, rv.Pointer())
	default:
		return fmt.Sprintf("%T:%v", v, v)
	}
}

// cacheKey builds the memoization key for a node: graph identity, node id
// and the binding tokens of the sources in the node's transitive closure,
// in source-id order. Restricting the fingerprint to relevant inputs lets
// a shared prefix cached under one binding set be reused when unrelated
// bindings differ.
func cacheKey(graphID string, node NodeID, relevant []SourceID, bindings Bindings) string {
	var sb strings.Builder
	sb.WriteString(graphID)
	sb.WriteString("|")
	sb.WriteString(node.String())
	for _, src := range relevant {
		sb.WriteString("|")
		sb.WriteString(src.String())
		sb.WriteString("=")
		sb.WriteString(bindingToken(bindings[src]))
	}
	return sb.String()
}
