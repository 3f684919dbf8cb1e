package context

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// Tier is the prefix-encoded eviction precedence class of a memory key.
// raw sorts before the neutral tier, which sorts before findings/summary,
// per the Glossary's "raw < neutral < findings/summary" ordering.
type Tier string

const (
	TierRaw     Tier = "raw"
	TierNeutral Tier = "neutral"
	TierCurated Tier = "curated" // findings.* and summary.*
)

// tierOf derives the Tier from a key's prefix, per SPEC_FULL.md §4.2.
func tierOf(key string) Tier {
	switch {
	case strings.HasPrefix(key, "raw."):
		return TierRaw
	case strings.HasPrefix(key, "findings."), strings.HasPrefix(key, "summary."):
		return TierCurated
	default:
		return TierNeutral
	}
}

// evictionRank orders tiers for eviction: raw first, then neutral, then
// curated last.
func evictionRank(t Tier) int {
	switch t {
	case TierRaw:
		return 0
	case TierNeutral:
		return 1
	default:
		return 2
	}
}

// Priority is the relative importance of a Working Memory entry.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// Scope controls whether an entry survives a session boundary.
type Scope string

const (
	ScopeSession    Scope = "session"
	ScopePersistent Scope = "persistent"
	ScopeTurn       Scope = "turn"
)

// Entry is a single Working Memory record.
type Entry struct {
	Key            string      `json:"key"`
	Description    string      `json:"description"`
	Value          interface{} `json:"value"`
	Priority       Priority    `json:"priority"`
	Pinned         bool        `json:"pinned"`
	Tier           Tier        `json:"tier"`
	Scope          Scope       `json:"scope"`
	DerivedFrom    []string    `json:"derived_from,omitempty"`
	LastAccessTime time.Time   `json:"last_access_time"`
	SizeBytes      int         `json:"size_bytes"`
}

// EntryOptions configures a set() call.
type EntryOptions struct {
	Scope       Scope
	Priority    Priority
	Pinned      bool
	DerivedFrom []string
}

// ListRecord is the projection returned by list(), used to render the
// memory index fed into the LLM prompt.
type ListRecord struct {
	Key               string
	Description       string
	EffectivePriority Priority
	Pinned            bool
	Tier              Tier
}

// EvictPolicy names an eviction ordering strategy. Only "lru" is defined by
// the spec; it is kept as a string type to allow future named policies
// without changing the WorkingMemory API.
type EvictPolicy string

const PolicyLRU EvictPolicy = "lru"

// WorkingMemory is the tiered key-value store described in SPEC_FULL.md
// §4.2, grounded on the teacher's truncation/eviction ordering idiom in
// internal/context/truncation.go (pinned-aware ordering) generalized from a
// message-truncator into a general KV store.
type WorkingMemory struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	order   []string // insertion order, for list() tie-breaking within a tier
	softCap int
	hardCap int
}

// DefaultSoftCapBytes and DefaultHardCapBytes bound total Working Memory
// size before eviction is triggered (soft) and before set() fails outright
// after eviction has already run (hard).
const (
	DefaultSoftCapBytes = 256 * 1024
	DefaultHardCapBytes = 1024 * 1024
)

func NewWorkingMemory(softCap, hardCap int) *WorkingMemory {
	if softCap <= 0 {
		softCap = DefaultSoftCapBytes
	}
	if hardCap <= 0 {
		hardCap = DefaultHardCapBytes
	}
	return &WorkingMemory{
		entries: make(map[string]*Entry),
		softCap: softCap,
		hardCap: hardCap,
	}
}

func estimateSize(value interface{}) int {
	if s, ok := value.(string); ok {
		return len(s)
	}
	// Fallback: a rough size via the token estimator's char-count rule is
	// overkill here; approximate structured values by their JSON-ish cost.
	return estimateStructuredSize(value)
}

func estimateStructuredSize(value interface{}) int {
	switch v := value.(type) {
	case nil:
		return 4
	case []byte:
		return len(v)
	default:
		return 64
	}
}

func (wm *WorkingMemory) totalBytes() int {
	total := 0
	for _, e := range wm.entries {
		total += e.SizeBytes
	}
	return total
}

// Set upserts an entry. If total size crosses the soft cap afterward, an
// lru eviction pass runs; if the hard cap is still exceeded, ErrStorageFull
// is returned (the entry remains stored — the caller decides whether to
// drop it or demote it and let compaction handle it).
func (wm *WorkingMemory) Set(key, description string, value interface{}, opts EntryOptions) error {
	wm.mu.Lock()
	defer wm.mu.Unlock()

	if opts.Scope == "" {
		opts.Scope = ScopeSession
	}
	if opts.Priority == "" {
		opts.Priority = PriorityNormal
	}

	_, existed := wm.entries[key]
	e := &Entry{
		Key:            key,
		Description:    description,
		Value:          value,
		Priority:       opts.Priority,
		Pinned:         opts.Pinned,
		Tier:           tierOf(key),
		Scope:          opts.Scope,
		DerivedFrom:    opts.DerivedFrom,
		LastAccessTime: time.Now(),
		SizeBytes:      estimateSize(value),
	}
	wm.entries[key] = e
	if !existed {
		wm.order = append(wm.order, key)
	}

	if wm.totalBytes() > wm.softCap {
		wm.evictLocked(4, PolicyLRU)
	}
	if wm.totalBytes() > wm.hardCap {
		return ErrStorageFull
	}
	return nil
}

// Get returns the entry for key, touching its lastAccessTime.
func (wm *WorkingMemory) Get(key string) (*Entry, bool) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	e, ok := wm.entries[key]
	if !ok {
		return nil, false
	}
	e.LastAccessTime = time.Now()
	copied := *e
	return &copied, true
}

func (wm *WorkingMemory) Has(key string) bool {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	_, ok := wm.entries[key]
	return ok
}

func (wm *WorkingMemory) Delete(key string) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	if _, ok := wm.entries[key]; !ok {
		return
	}
	delete(wm.entries, key)
	for i, k := range wm.order {
		if k == key {
			wm.order = append(wm.order[:i], wm.order[i+1:]...)
			break
		}
	}
}

// List returns every entry's projection ordered by tier (raw, neutral,
// curated) then by insertion order within a tier.
func (wm *WorkingMemory) List() []ListRecord {
	wm.mu.RLock()
	defer wm.mu.RUnlock()

	keys := make([]string, len(wm.order))
	copy(keys, wm.order)
	sort.SliceStable(keys, func(i, j int) bool {
		return evictionRank(tierOf(keys[i])) < evictionRank(tierOf(keys[j]))
	})

	out := make([]ListRecord, 0, len(keys))
	for _, k := range keys {
		e, ok := wm.entries[k]
		if !ok {
			continue
		}
		out = append(out, ListRecord{
			Key:               e.Key,
			Description:       e.Description,
			EffectivePriority: e.Priority,
			Pinned:            e.Pinned,
			Tier:              e.Tier,
		})
	}
	return out
}

// Evict selects up to batchSize eligible entries and deletes them,
// returning the deleted keys. Eligibility per SPEC_FULL.md §4.2:
//   - pinned entries are never selected unless no other candidates remain
//   - priority=high is skipped unless no other candidates remain
//   - scope=persistent is skipped unless explicitly allowed (never, here —
//     the spec gives no caller-facing override, so persistent entries are
//     only ever evicted as an absolute last resort alongside pinned/high)
//   - raw tier is preferred over any other tier
//   - within eligibility, lru: lastAccessTime ascending, ties broken by
//     larger sizeBytes first
func (wm *WorkingMemory) Evict(batchSize int, policy EvictPolicy) []string {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	return wm.evictLocked(batchSize, policy)
}

func (wm *WorkingMemory) evictLocked(batchSize int, policy EvictPolicy) []string {
	type candidate struct {
		key      string
		e        *Entry
		fallback bool // true if only selectable as a last resort
	}

	var primary, fallback []candidate
	for k, e := range wm.entries {
		isFallback := e.Pinned || e.Priority == PriorityHigh || e.Scope == ScopePersistent
		c := candidate{key: k, e: e, fallback: isFallback}
		if isFallback {
			fallback = append(fallback, c)
		} else {
			primary = append(primary, c)
		}
	}

	sortCandidates := func(cs []candidate) {
		sort.SliceStable(cs, func(i, j int) bool {
			ti, tj := evictionRank(cs[i].e.Tier), evictionRank(cs[j].e.Tier)
			if ti != tj {
				return ti < tj
			}
			if !cs[i].e.LastAccessTime.Equal(cs[j].e.LastAccessTime) {
				return cs[i].e.LastAccessTime.Before(cs[j].e.LastAccessTime)
			}
			return cs[i].e.SizeBytes > cs[j].e.SizeBytes
		})
	}
	sortCandidates(primary)
	sortCandidates(fallback)

	pool := primary
	if len(pool) == 0 {
		pool = fallback
	}

	var removed []string
	for i := 0; i < batchSize && i < len(pool); i++ {
		removed = append(removed, pool[i].key)
	}
	for _, k := range removed {
		delete(wm.entries, k)
		for i, ok := range wm.order {
			if ok == k {
				wm.order = append(wm.order[:i], wm.order[i+1:]...)
				break
			}
		}
	}
	return removed
}

// serializedMemory is the wire format produced by Serialize/consumed by Restore.
type serializedMemory struct {
	Entries []*Entry `json:"entries"`
	Order   []string `json:"order"`
}

func (wm *WorkingMemory) Serialize() *serializedMemory {
	wm.mu.RLock()
	defer wm.mu.RUnlock()
	out := &serializedMemory{Order: append([]string(nil), wm.order...)}
	for _, k := range wm.order {
		e := *wm.entries[k]
		out.Entries = append(out.Entries, &e)
	}
	return out
}

func (wm *WorkingMemory) Restore(blob *serializedMemory) {
	wm.mu.Lock()
	defer wm.mu.Unlock()
	wm.entries = make(map[string]*Entry, len(blob.Entries))
	for _, e := range blob.Entries {
		cp := *e
		wm.entries[cp.Key] = &cp
	}
	wm.order = append([]string(nil), blob.Order...)
}
