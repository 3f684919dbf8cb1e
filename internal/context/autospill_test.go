package context

import "testing"

func TestAutoSpillBelowThresholdIsNotSpilled(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	spill := NewAutoSpill(wm, 100, nil)

	key := spill.OnToolOutput("read_file", "tiny", `{"path":"a.txt"}`, nil)
	if key != "" {
		t.Fatalf("OnToolOutput() returned key %q for output below threshold, want empty", key)
	}
	if len(spill.Records()) != 0 {
		t.Fatalf("Records() = %v, want none recorded", spill.Records())
	}
}

func TestAutoSpillAboveThresholdWritesToMemoryAndRecords(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	spill := NewAutoSpill(wm, 4, nil)

	key := spill.OnToolOutput("read_file", "a long file body", `{"path":"src/main.go"}`, nil)
	if key == "" {
		t.Fatalf("OnToolOutput() returned empty key for output above threshold")
	}
	if !wm.Has(key) {
		t.Fatalf("spilled key %q was not written to Working Memory", key)
	}
	entry, _ := wm.Get(key)
	if entry.Tier != TierRaw {
		t.Fatalf("spilled entry tier = %q, want raw (key must carry the raw. prefix)", entry.Tier)
	}

	records := spill.Records()
	if len(records) != 1 || records[0].MemoryKey != key {
		t.Fatalf("Records() = %+v, want one record for %q", records, key)
	}
	if records[0].Consumed {
		t.Fatalf("freshly spilled record reports Consumed = true")
	}
}

func TestAutoSpillIneligibleToolIsSkipped(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	spill := NewAutoSpill(wm, 1, []string{"web_fetch"})

	key := spill.OnToolOutput("read_file", "long enough output", "{}", nil)
	if key != "" {
		t.Fatalf("OnToolOutput() spilled a tool not on the allow-list: %q", key)
	}
}

func TestAutoSpillUsesRegisteredDescriber(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	spill := NewAutoSpill(wm, 1, nil)
	spill.RegisterDescriber("custom_tool", func(args, output string) string {
		return "custom description"
	})

	key := spill.OnToolOutput("custom_tool", "some output here", "{}", nil)
	entry, ok := wm.Get(key)
	if !ok {
		t.Fatalf("spilled entry missing from Working Memory")
	}
	if entry.Description != "custom description" {
		t.Fatalf("Description = %q, want custom description", entry.Description)
	}
}

func TestAutoSpillProcessMarksConsumedAndWritesSummary(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	spill := NewAutoSpill(wm, 1, nil)

	key := spill.OnToolOutput("web_search", "long search result body", `{"query":"go concurrency"}`, nil)
	if err := spill.Process(key, "three relevant results found", ""); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	records := spill.Records()
	if len(records) != 1 || !records[0].Consumed {
		t.Fatalf("record not marked consumed after Process(): %+v", records)
	}
	if len(records[0].DerivedSummaries) != 1 {
		t.Fatalf("DerivedSummaries = %v, want one summary key", records[0].DerivedSummaries)
	}
	summaryKey := records[0].DerivedSummaries[0]
	if !wm.Has(summaryKey) {
		t.Fatalf("summary key %q was not written to Working Memory", summaryKey)
	}
}

func TestAutoSpillProcessUnknownKeyReturnsErrNotFound(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	spill := NewAutoSpill(wm, 1, nil)

	if err := spill.Process("raw.does_not_exist", "summary", ""); err != ErrNotFound {
		t.Fatalf("Process() error = %v, want ErrNotFound", err)
	}
}

func TestAutoSpillCleanupRemovesConsumedRawEntries(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	spill := NewAutoSpill(wm, 1, nil)

	key := spill.OnToolOutput("web_search", "long search result body", `{"query":"x"}`, nil)
	if err := spill.Process(key, "summary text", ""); err != nil {
		t.Fatalf("Process() error = %v", err)
	}

	spill.Cleanup()

	if wm.Has(key) {
		t.Fatalf("raw spill entry %q still present in Working Memory after Cleanup()", key)
	}
	if len(spill.Records()) != 0 {
		t.Fatalf("Records() = %v, want consumed record dropped after Cleanup()", spill.Records())
	}
}

func TestAutoSpillGetComponentListsOnlyUnconsumed(t *testing.T) {
	wm := NewWorkingMemory(0, 0)
	spill := NewAutoSpill(wm, 1, nil)

	if c := spill.GetComponent(); c != nil {
		t.Fatalf("GetComponent() = %+v before any spill, want nil", c)
	}

	key := spill.OnToolOutput("web_search", "long search result body", `{"query":"x"}`, nil)
	component := spill.GetComponent()
	if component == nil {
		t.Fatalf("GetComponent() = nil, want a component listing the unconsumed spill")
	}

	if err := spill.Process(key, "summary", ""); err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if c := spill.GetComponent(); c != nil {
		t.Fatalf("GetComponent() = %+v after the only spill was consumed, want nil", c)
	}
}
