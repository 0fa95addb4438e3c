// Package pipeline implements the orchestration core of bookforge: a
// shared per-run artifact cache, a stage-based task orchestrator with
// bounded parallelism, an append-only structured run log, and the
// aggregate performance report.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"bookforge/internal/logging"
)

// Loader loads a shared artifact from durable storage by logical key.
// Agents and tests plug their own sources; the pipeline ships a
// file-backed implementation in FileLoader.
type Loader interface {
	Load(ctx context.Context, key string) (any, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, key string) (any, error)

// Load implements Loader.
func (f LoaderFunc) Load(ctx context.Context, key string) (any, error) {
	return f(ctx, key)
}

// Context is the shared, thread-safe artifact cache for one pipeline
// run. Artifacts produced by earlier stages (corpus index, chapter
// plan, briefs) are loaded once and served from memory afterwards, so
// later stages never redundantly hit durable storage.
//
// One Context is built per run and injected into the orchestrator and
// every task; there is no process-wide instance.
type Context struct {
	loader Loader

	mu      sync.Mutex
	entries map[string]*cacheEntry
}

// cacheEntry holds one loaded value plus the per-key lock that
// serializes its first load.
type cacheEntry struct {
	mu     sync.Mutex
	loaded bool
	value  any
}

// KeyStats describes one cache entry for diagnostics.
type KeyStats struct {
	Present bool `json:"present"`
	Size    int  `json:"size"`
}

// NewContext creates a shared context backed by the given loader.
func NewContext(loader Loader) *Context {
	return &Context{
		loader:  loader,
		entries: make(map[string]*cacheEntry),
	}
}

// Get returns the cached value for key, loading it from durable storage
// on first access. Concurrent callers for the same key block until the
// first loader finishes and then share the cached value; callers for
// different keys proceed independently. A load failure is returned to
// the caller and leaves no entry behind, so a later Get can retry.
func (c *Context) Get(ctx context.Context, key string) (any, error) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &cacheEntry{}
		c.entries[key] = entry
	}
	c.mu.Unlock()

	entry.mu.Lock()
	defer entry.mu.Unlock()

	// Re-check under the per-key lock: another caller may have finished
	// the load while we waited.
	if entry.loaded {
		return entry.value, nil
	}

	value, err := c.loader.Load(ctx, key)
	if err != nil {
		// Drop the placeholder so the next Get retries the load.
		c.mu.Lock()
		if cur, ok := c.entries[key]; ok && cur == entry {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, fmt.Errorf("failed to load %q: %w", key, err)
	}

	entry.value = value
	entry.loaded = true
	logging.Cache("loaded %q (cached)", key)
	return value, nil
}

// Put stores a value directly, bypassing the loader. Stages use it to
// publish results for later stages without a round trip through durable
// storage.
func (c *Context) Put(key string, value any) {
	c.mu.Lock()
	entry, ok := c.entries[key]
	if !ok {
		entry = &cacheEntry{}
		c.entries[key] = entry
	}
	c.mu.Unlock()

	entry.mu.Lock()
	entry.value = value
	entry.loaded = true
	entry.mu.Unlock()
}

// Invalidate removes one cached entry; the next Get reloads it.
func (c *Context) Invalidate(key string) {
	c.mu.Lock()
	delete(c.entries, key)
	c.mu.Unlock()
	logging.Cache("invalidated %q", key)
}

// InvalidateAll removes every cached entry.
func (c *Context) InvalidateAll() {
	c.mu.Lock()
	c.entries = make(map[string]*cacheEntry)
	c.mu.Unlock()
	logging.Cache("invalidated all entries")
}

// Stats returns a consistent snapshot of the cache: every per-key lock
// is held briefly so in-flight loads are either fully visible or absent.
func (c *Context) Stats() map[string]KeyStats {
	c.mu.Lock()
	keys := make([]string, 0, len(c.entries))
	entries := make([]*cacheEntry, 0, len(c.entries))
	for k, e := range c.entries {
		keys = append(keys, k)
		entries = append(entries, e)
	}
	c.mu.Unlock()

	stats := make(map[string]KeyStats, len(keys))
	for i, e := range entries {
		e.mu.Lock()
		stats[keys[i]] = KeyStats{
			Present: e.loaded,
			Size:    approxSize(e.value),
		}
		e.mu.Unlock()
	}
	return stats
}

// Keys returns the cached keys in sorted order.
func (c *Context) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// approxSize estimates the in-memory footprint of a cached value.
func approxSize(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return len(t)
	case []byte:
		return len(t)
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return 0
		}
		return len(data)
	}
}
