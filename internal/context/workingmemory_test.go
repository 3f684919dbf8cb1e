package context

import "testing"

func TestWorkingMemorySetAndGet(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	if err := wm.Set("raw.notes", "scratch notes", "hello", EntryOptions{}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	entry, ok := wm.Get("raw.notes")
	if !ok {
		t.Fatalf("Get() ok = false, want true")
	}
	if entry.Value != "hello" || entry.Tier != TierRaw {
		t.Fatalf("entry = %+v, want value=hello tier=raw", entry)
	}
	if entry.Priority != PriorityNormal {
		t.Fatalf("Priority = %q, want default %q", entry.Priority, PriorityNormal)
	}
}

func TestWorkingMemoryTierDerivedFromKeyPrefix(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	cases := map[string]Tier{
		"raw.blob":        TierRaw,
		"findings.report": TierCurated,
		"summary.report":  TierCurated,
		"misc.thing":       TierNeutral,
	}
	for key, want := range cases {
		if err := wm.Set(key, "d", "v", EntryOptions{}); err != nil {
			t.Fatalf("Set(%q) error = %v", key, err)
		}
		entry, _ := wm.Get(key)
		if entry.Tier != want {
			t.Errorf("tierOf(%q) = %q, want %q", key, entry.Tier, want)
		}
	}
}

// TestWorkingMemoryPinnedNeverEvictedWhileAlternativesExist is Invariant 6:
// a pinned entry is only ever evicted as a last resort, never ahead of an
// unpinned candidate.
func TestWorkingMemoryPinnedNeverEvictedWhileAlternativesExist(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	if err := wm.Set("raw.pinned", "pinned entry", "keep me", EntryOptions{Pinned: true}); err != nil {
		t.Fatalf("Set(pinned) error = %v", err)
	}
	if err := wm.Set("raw.evictable", "evictable entry", "drop me", EntryOptions{}); err != nil {
		t.Fatalf("Set(evictable) error = %v", err)
	}

	removed := wm.Evict(1, PolicyLRU)
	if len(removed) != 1 || removed[0] != "raw.evictable" {
		t.Fatalf("Evict() removed %v, want [raw.evictable]", removed)
	}
	if !wm.Has("raw.pinned") {
		t.Fatalf("pinned entry was evicted while an unpinned alternative existed")
	}
}

func TestWorkingMemoryPinnedEvictedAsLastResort(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	if err := wm.Set("raw.only", "only entry", "value", EntryOptions{Pinned: true}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	removed := wm.Evict(1, PolicyLRU)
	if len(removed) != 1 || removed[0] != "raw.only" {
		t.Fatalf("Evict() with no unpinned candidates = %v, want the pinned entry evicted as last resort", removed)
	}
}

func TestWorkingMemoryEvictPrefersRawTierOverCurated(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	wm.Set("findings.report", "d", "v", EntryOptions{})
	wm.Set("raw.blob", "d", "v", EntryOptions{})

	removed := wm.Evict(1, PolicyLRU)
	if len(removed) != 1 || removed[0] != "raw.blob" {
		t.Fatalf("Evict() = %v, want raw tier evicted before curated", removed)
	}
}

func TestWorkingMemorySerializeRoundTrip(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	wm.Set("raw.a", "a", "1", EntryOptions{Pinned: true})
	wm.Set("summary.b", "b", "2", EntryOptions{})

	blob := wm.Serialize()

	restored := NewWorkingMemory(0, 0)
	restored.Restore(blob)

	if !restored.Has("raw.a") || !restored.Has("summary.b") {
		t.Fatalf("Restore() did not recreate both entries")
	}
	entry, _ := restored.Get("raw.a")
	if !entry.Pinned {
		t.Fatalf("Restore() dropped Pinned flag")
	}
}

func TestWorkingMemoryDeleteRemovesFromOrder(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	wm.Set("raw.a", "a", "1", EntryOptions{})
	wm.Delete("raw.a")
	if wm.Has("raw.a") {
		t.Fatalf("Has() = true after Delete()")
	}
	list := wm.List()
	if len(list) != 0 {
		t.Fatalf("List() = %v, want empty after delete", list)
	}
}
