package context

import "fmt"

// TrackedOutput is one entry in the Tool Output Tracker's ring buffer.
type TrackedOutput struct {
	ToolName string
	Output   string
	Tokens   int
}

// HighestCompactionPriority is reserved for the Tool Output Tracker: among
// plugins, PluginHost.CompactByPriority reduces it first, since the same
// information is usually already recoverable via Auto-Spill and the memory
// index (SPEC_FULL.md §4.6).
const HighestCompactionPriority = 1000

// DefaultMaxOutputs bounds the logical number of outputs retained for
// situational awareness; the ring buffer itself holds 2x this to absorb a
// halving compaction pass without losing the most recent entries.
const DefaultMaxOutputs = 20

// DefaultPerOutputTokenCap is the truncation ceiling applied to any
// remaining oversized entry after halving the ring.
const DefaultPerOutputTokenCap = 200

// ToolOutputTracker is a ContextPlugin maintaining a ring of recent tool
// outputs. Grounded on the ring/slice-window idiom the teacher uses for
// bounded history (internal/context/truncation.go keepLast accounting),
// generalized into a fixed-capacity ring rather than a one-shot truncation.
type ToolOutputTracker struct {
	BasePlugin
	maxOutputs  int
	perOutputCap int
	ring        []TrackedOutput
}

func NewToolOutputTracker(maxOutputs int) *ToolOutputTracker {
	if maxOutputs <= 0 {
		maxOutputs = DefaultMaxOutputs
	}
	return &ToolOutputTracker{maxOutputs: maxOutputs, perOutputCap: DefaultPerOutputTokenCap}
}

func (t *ToolOutputTracker) Name() string     { return "tool_outputs" }
func (t *ToolOutputTracker) Priority() int    { return HighestCompactionPriority }
func (t *ToolOutputTracker) Compactable() bool { return true }

// Record appends a tool output, dropping the oldest entry once the ring
// reaches 2x maxOutputs capacity.
func (t *ToolOutputTracker) Record(toolName, output string) {
	tokens := EstimateTokens(output, ClassCode)
	t.ring = append(t.ring, TrackedOutput{ToolName: toolName, Output: output, Tokens: tokens})
	cap := 2 * t.maxOutputs
	if len(t.ring) > cap {
		t.ring = t.ring[len(t.ring)-cap:]
	}
}

func (t *ToolOutputTracker) GetComponent() *Component {
	if len(t.ring) == 0 {
		return nil
	}
	content := ""
	start := 0
	if len(t.ring) > t.maxOutputs {
		start = len(t.ring) - t.maxOutputs
	}
	for _, o := range t.ring[start:] {
		content += fmt.Sprintf("[%s] %s\n", o.ToolName, o.Output)
	}
	return &Component{
		Name:        t.Name(),
		Content:     content,
		Priority:    t.Priority(),
		Compactable: true,
	}
}

// Compact first halves the ring, then truncates remaining entries to
// perOutputCap tokens, per SPEC_FULL.md §4.6.
func (t *ToolOutputTracker) Compact(targetTokens int, estimate func(string, ContentClass) int) int {
	if estimate == nil {
		estimate = EstimateTokens
	}
	before := t.totalTokens(estimate)

	if len(t.ring) > 1 {
		half := len(t.ring) / 2
		t.ring = t.ring[half:]
	}

	for i := range t.ring {
		if t.ring[i].Tokens > t.perOutputCap {
			t.ring[i].Output = truncateToApproxTokens(t.ring[i].Output, t.perOutputCap)
			t.ring[i].Tokens = estimate(t.ring[i].Output, ClassCode)
		}
	}

	after := t.totalTokens(estimate)
	return before - after
}

func (t *ToolOutputTracker) totalTokens(estimate func(string, ContentClass) int) int {
	total := 0
	for _, o := range t.ring {
		total += estimate(o.Output, ClassCode)
	}
	return total
}

// truncateToApproxTokens trims text to roughly capTokens worth of
// characters using the code ratio, keeping the prefix and marking the cut.
func truncateToApproxTokens(text string, capTokens int) string {
	maxChars := capTokens * 3
	if len(text) <= maxChars {
		return text
	}
	return text[:maxChars] + "...[truncated]"
}
