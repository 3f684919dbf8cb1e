package context

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"sync"
	"time"
)

// idempotencyEntry holds a cached tool result plus the bookkeeping needed
// for TTL and LRU eviction.
type idempotencyEntry struct {
	toolName   string
	value      interface{}
	insertedAt time.Time
	lastHitAt  time.Time
	hits       int
}

// IdempotencyStats reports cache health for a given tool or the cache as a
// whole.
type IdempotencyStats struct {
	Size int
	Hits int
}

// IdempotencyCache is a TTL+LRU map keyed by hash(toolName,
// canonicalize(args)), in the same spirit as the teacher's
// internal/cache.DedupeCache (which tracked presence-only timestamps) but
// value-carrying, since idempotent tools need their previous result
// returned, not just a duplicate flag. DedupeCache itself was dead code
// (no production caller) and has been removed; this type is a fresh
// implementation, not an adaptation of that file.
type IdempotencyCache struct {
	mu      sync.Mutex
	entries map[string]*idempotencyEntry
	ttl     time.Duration
	maxSize int
}

const (
	DefaultIdempotencyTTL     = 5 * time.Minute
	DefaultIdempotencyMaxSize = 512
)

func NewIdempotencyCache(ttl time.Duration, maxSize int) *IdempotencyCache {
	if ttl <= 0 {
		ttl = DefaultIdempotencyTTL
	}
	if maxSize <= 0 {
		maxSize = DefaultIdempotencyMaxSize
	}
	return &IdempotencyCache{
		entries: make(map[string]*idempotencyEntry),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// Canonicalize stringifies args with object keys sorted recursively, so
// semantically identical argument sets produce identical keys regardless of
// field order.
func Canonicalize(args interface{}) string {
	return canonicalizeValue(args)
}

func canonicalizeValue(v interface{}) string {
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	var generic interface{}
	if err := json.Unmarshal(b, &generic); err != nil {
		return string(b)
	}
	out, _ := json.Marshal(sortKeys(generic))
	return string(out)
}

// sortKeys recursively rebuilds maps as ordered slices of key/value pairs so
// json.Marshal's deterministic map key ordering (Go already sorts map keys
// alphabetically when marshaling) is made explicit, and recurses into
// nested maps/slices.
func sortKeys(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ordered := make([]interface{}, 0, len(keys)*2)
		for _, k := range keys {
			ordered = append(ordered, k, sortKeys(val[k]))
		}
		return ordered
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, e := range val {
			out[i] = sortKeys(e)
		}
		return out
	default:
		return val
	}
}

// Key builds the cache key for a tool invocation.
func Key(toolName string, args interface{}) string {
	sum := sha256.Sum256([]byte(toolName + "\x00" + canonicalizeValue(args)))
	return hex.EncodeToString(sum[:])
}

// Get returns the cached value and true on a live hit; a miss never
// returns an error, it simply reports (nil, false).
func (c *IdempotencyCache) Get(toolName string, args interface{}) (interface{}, bool) {
	key := Key(toolName, args)
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	if c.ttl > 0 && time.Since(e.insertedAt) > c.ttl {
		delete(c.entries, key)
		return nil, false
	}
	e.hits++
	e.lastHitAt = time.Now()
	return e.value, true
}

// Set stores a value under the cache key, evicting expired and then
// least-recently-used entries if the cache is at capacity.
func (c *IdempotencyCache) Set(toolName string, args interface{}, value interface{}) {
	key := Key(toolName, args)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pruneLocked()
	c.entries[key] = &idempotencyEntry{
		toolName:   toolName,
		value:      value,
		insertedAt: time.Now(),
		lastHitAt:  time.Now(),
	}
	for len(c.entries) > c.maxSize {
		c.evictOldestLocked()
	}
}

// Invalidate removes every cached entry for a given tool name.
func (c *IdempotencyCache) Invalidate(toolName string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, e := range c.entries {
		if e.toolName == toolName {
			delete(c.entries, k)
		}
	}
}

// Stats reports size and cumulative hits, optionally scoped to one tool.
func (c *IdempotencyCache) Stats(toolName string) IdempotencyStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	var stats IdempotencyStats
	for _, e := range c.entries {
		if toolName != "" && e.toolName != toolName {
			continue
		}
		stats.Size++
		stats.Hits += e.hits
	}
	return stats
}

func (c *IdempotencyCache) pruneLocked() {
	if c.ttl <= 0 {
		return
	}
	for k, e := range c.entries {
		if time.Since(e.insertedAt) > c.ttl {
			delete(c.entries, k)
		}
	}
}

func (c *IdempotencyCache) evictOldestLocked() {
	var oldestKey string
	var oldestAt time.Time
	first := true
	for k, e := range c.entries {
		if first || e.lastHitAt.Before(oldestAt) {
			oldestKey = k
			oldestAt = e.lastHitAt
			first = false
		}
	}
	if oldestKey != "" {
		delete(c.entries, oldestKey)
	}
}
