package context

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"
)

// DefaultSpillThresholdBytes is the size at or above which a tool output is
// spilled into Working Memory instead of staying inline.
const DefaultSpillThresholdBytes = 5 * 1024

// SpillRecord tracks one spilled tool output and its eventual consumption.
type SpillRecord struct {
	MemoryKey        string    `json:"memory_key"`
	SourceTool       string    `json:"source_tool"`
	HumanDescription string    `json:"human_description"`
	ToolArgs         string    `json:"tool_args"`
	SizeBytes        int       `json:"size_bytes"`
	Timestamp        time.Time `json:"timestamp"`
	Consumed         bool      `json:"consumed"`
	DerivedSummaries []string  `json:"derived_summaries,omitempty"`
}

// DescribeFunc generates a human description for a tool's output. Tools
// register one of these, or Auto-Spill falls back to a generic rule.
type DescribeFunc func(args string, output string) string

// AutoSpill implements the §4.7 hook: intercepts tool outputs above
// threshold, writes them into Working Memory, and records a Spill Record.
// Grounded on the teacher's per-tool describe/slug idioms in
// internal/context/truncation.go's content summarization pattern, extended
// with tool-specific description rules the spec calls out by name.
type AutoSpill struct {
	BasePlugin
	mu          sync.Mutex
	memory      *WorkingMemory
	threshold   int
	allowTools  map[string]bool // empty means allow-all
	describers  map[string]DescribeFunc
	records     []*SpillRecord
	seq         int
}

func NewAutoSpill(memory *WorkingMemory, threshold int, allowTools []string) *AutoSpill {
	if threshold <= 0 {
		threshold = DefaultSpillThresholdBytes
	}
	allow := make(map[string]bool, len(allowTools))
	for _, t := range allowTools {
		allow[t] = true
	}
	return &AutoSpill{
		memory:     memory,
		threshold:  threshold,
		allowTools: allow,
		describers: defaultDescribers(),
	}
}

func defaultDescribers() map[string]DescribeFunc {
	return map[string]DescribeFunc{
		"web_fetch": func(args, _ string) string {
			u := extractArg(args, "url")
			parsed, err := url.Parse(u)
			if err != nil || parsed.Host == "" {
				return "fetched content"
			}
			return parsed.Host + parsed.Path
		},
		"web_search": func(args, _ string) string {
			q := extractArg(args, "query")
			if q == "" {
				return "search results"
			}
			return fmt.Sprintf("%q", q)
		},
		"read_file": func(args, _ string) string {
			p := extractArg(args, "path")
			if p == "" {
				return "file contents"
			}
			return path.Base(p)
		},
	}
}

// extractArg does a cheap, dependency-free scrape of a JSON-ish args string
// for a named string field, sufficient for description purposes without
// needing a full schema.
func extractArg(args, field string) string {
	re := regexp.MustCompile(fmt.Sprintf(`"%s"\s*:\s*"([^"]*)"`, regexp.QuoteMeta(field)))
	m := re.FindStringSubmatch(args)
	if len(m) == 2 {
		return m[1]
	}
	return ""
}

// RegisterDescriber overrides or adds a per-tool description rule.
func (a *AutoSpill) RegisterDescriber(toolName string, fn DescribeFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.describers[toolName] = fn
}

// eligible reports whether toolName is allowed to be spilled; an empty
// allow-list means every tool is eligible.
func (a *AutoSpill) eligible(toolName string) bool {
	if len(a.allowTools) == 0 {
		return true
	}
	return a.allowTools[toolName]
}

func slugify(s string) string {
	s = strings.ToLower(s)
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	for strings.Contains(out, "__") {
		out = strings.ReplaceAll(out, "__", "_")
	}
	return strings.Trim(out, "_")
}

// OnToolOutput is the interception hook. It returns the memory key the
// output was stored under, or "" if the output was not spilled (below
// threshold or tool not eligible).
func (a *AutoSpill) OnToolOutput(toolName, output, toolArgs string, describeCall DescribeFunc) string {
	if len(output) < a.threshold || !a.eligible(toolName) {
		return ""
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	var description string
	switch {
	case describeCall != nil:
		description = describeCall(toolArgs, output)
	case a.describers[toolName] != nil:
		description = a.describers[toolName](toolArgs, output)
	default:
		description = toolName + " output"
	}

	a.seq++
	key := fmt.Sprintf("raw.autospill_%s_%s_%d", toolName, slugify(description), a.seq)

	_ = a.memory.Set(key, description, output, EntryOptions{Priority: PriorityLow})

	rec := &SpillRecord{
		MemoryKey:        key,
		SourceTool:       toolName,
		HumanDescription: description,
		ToolArgs:         toolArgs,
		SizeBytes:        len(output),
		Timestamp:        time.Now(),
	}
	a.records = append(a.records, rec)
	return key
}

// Process implements autospill_process(key, summary, summary_key?): it
// stores the summary in Working Memory under summary_key (defaulting to
// "summary.<key without its raw.autospill_ prefix>") and marks the Spill Record consumed.
func (a *AutoSpill) Process(key, summary, summaryKey string) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	var rec *SpillRecord
	for _, r := range a.records {
		if r.MemoryKey == key {
			rec = r
			break
		}
	}
	if rec == nil {
		return ErrNotFound
	}

	if summaryKey == "" {
		summaryKey = "summary." + strings.TrimPrefix(strings.TrimPrefix(key, "raw."), "autospill_")
	}
	if err := a.memory.Set(summaryKey, "summary of "+rec.HumanDescription, summary, EntryOptions{
		Priority:    PriorityNormal,
		DerivedFrom: []string{key},
	}); err != nil {
		return err
	}

	rec.Consumed = true
	rec.DerivedSummaries = append(rec.DerivedSummaries, summaryKey)
	return nil
}

// Cleanup deletes the raw memory entry for every consumed Spill Record
// whose key is still tier raw (it may have been reclassified), and drops
// the record once cleaned.
func (a *AutoSpill) Cleanup() {
	a.mu.Lock()
	defer a.mu.Unlock()

	kept := a.records[:0]
	for _, rec := range a.records {
		if rec.Consumed && len(rec.DerivedSummaries) > 0 {
			if entry, ok := a.memory.Get(rec.MemoryKey); ok && entry.Tier == TierRaw {
				a.memory.Delete(rec.MemoryKey)
			}
			continue
		}
		kept = append(kept, rec)
	}
	a.records = kept
}

// Records returns a snapshot of all current Spill Records.
func (a *AutoSpill) Records() []*SpillRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*SpillRecord, len(a.records))
	copy(out, a.records)
	return out
}

// ContextPlugin surface: Auto-Spill contributes a component enumerating
// unconsumed Spill Records so the LLM knows these keys exist and must be
// processed via autospill_process.
func (a *AutoSpill) Name() string      { return "autospill_index" }
func (a *AutoSpill) Priority() int     { return 2 }
func (a *AutoSpill) Compactable() bool { return false }

func (a *AutoSpill) GetComponent() *Component {
	a.mu.Lock()
	defer a.mu.Unlock()
	var unconsumed []*SpillRecord
	for _, r := range a.records {
		if !r.Consumed {
			unconsumed = append(unconsumed, r)
		}
	}
	if len(unconsumed) == 0 {
		return nil
	}
	var b strings.Builder
	b.WriteString("Unprocessed spilled tool outputs (call autospill_process to consume):\n")
	for _, r := range unconsumed {
		fmt.Fprintf(&b, "- %s: %s (%d bytes)\n", r.MemoryKey, r.HumanDescription, r.SizeBytes)
	}
	return &Component{Name: a.Name(), Content: b.String(), Priority: a.Priority(), Compactable: false}
}
