package context

import "fmt"

// trackedResult is the per-tool_use bookkeeping kept by Tool Result
// Eviction between iterations.
type trackedResult struct {
	toolUseID         string
	toolName          string
	resultContent     string
	messageIndex      int
	iterationsObserved int
}

// DefaultMinIterationsAge is the number of iterations a tool pair survives
// before it becomes eligible for eviction.
const DefaultMinIterationsAge = 3

// DefaultByteCeiling bounds total tracked tool_result content before
// eviction is forced regardless of age.
const DefaultByteCeiling = 64 * 1024

// EvictionResult is returned by EvictOldResults.
type EvictionResult struct {
	Evicted      int
	TokensFreed  int
	MemoryKeys   []string
	Log          []string
}

// ToolResultEvictor tracks tool_use/tool_result pairs and reaps old,
// low-value ones at iteration boundaries while preserving conversation
// integrity: the atomic unit of removal is always the whole pair, coming
// from removeToolPair on the Context Manager, never a result alone.
// Grounded on the pinned-aware, age-ordered eviction idiom the teacher's
// (deleted, dead) truncation.go Truncator used, generalized from a
// one-shot truncation pass into incremental per-iteration tracking — a
// fresh implementation, not an adaptation of that file.
type ToolResultEvictor struct {
	tracked         map[string]*trackedResult
	minIterations   int
	byteCeiling     int
	removePair      func(toolUseID string) (tokensFreed int, err error)
	writeToMemory   func(key, description string, value interface{}) error
}

// NewToolResultEvictor wires the evictor to its two callbacks into the
// Context Manager / Working Memory, kept one-way per SPEC_FULL.md §9.
func NewToolResultEvictor(
	minIterations, byteCeiling int,
	removePair func(string) (int, error),
	writeToMemory func(string, string, interface{}) error,
) *ToolResultEvictor {
	if minIterations <= 0 {
		minIterations = DefaultMinIterationsAge
	}
	if byteCeiling <= 0 {
		byteCeiling = DefaultByteCeiling
	}
	return &ToolResultEvictor{
		tracked:       make(map[string]*trackedResult),
		minIterations: minIterations,
		byteCeiling:   byteCeiling,
		removePair:    removePair,
		writeToMemory: writeToMemory,
	}
}

// OnToolResult registers a freshly added tool result.
func (e *ToolResultEvictor) OnToolResult(id, name, content string, messageIndex int) {
	e.tracked[id] = &trackedResult{
		toolUseID:    id,
		toolName:     name,
		resultContent: content,
		messageIndex: messageIndex,
	}
}

// OnIteration increments iterationsObserved for every tracked record.
func (e *ToolResultEvictor) OnIteration() {
	for _, r := range e.tracked {
		r.iterationsObserved++
	}
}

// ShouldEvict is true when any tracked record is >= minIterationsAge, or
// total tracked content exceeds byteCeiling.
func (e *ToolResultEvictor) ShouldEvict() bool {
	totalBytes := 0
	for _, r := range e.tracked {
		if r.iterationsObserved >= e.minIterations {
			return true
		}
		totalBytes += len(r.resultContent)
	}
	return totalBytes > e.byteCeiling
}

// EvictOldResults selects eligible records (age-eligible, oldest first; if
// eviction was triggered purely by byte ceiling, the oldest-by-age records
// are still preferred), writes each into Working Memory under
// tool_results.<toolName>_<id>, and asks the Context Manager to remove the
// pair atomically via removePair.
func (e *ToolResultEvictor) EvictOldResults() EvictionResult {
	var eligible []*trackedResult
	totalBytes := 0
	for _, r := range e.tracked {
		totalBytes += len(r.resultContent)
		if r.iterationsObserved >= e.minIterations {
			eligible = append(eligible, r)
		}
	}
	// byte-ceiling trigger with nothing age-eligible: every record is a
	// candidate, and eviction stops once the total is back under the ceiling
	forced := len(eligible) == 0 && totalBytes > e.byteCeiling
	if forced {
		for _, r := range e.tracked {
			eligible = append(eligible, r)
		}
	}
	// oldest (most iterations observed) first
	for i := 1; i < len(eligible); i++ {
		j := i
		for j > 0 && eligible[j-1].iterationsObserved < eligible[j].iterationsObserved {
			eligible[j-1], eligible[j] = eligible[j], eligible[j-1]
			j--
		}
	}

	result := EvictionResult{}
	for _, r := range eligible {
		if forced && totalBytes <= e.byteCeiling {
			break
		}
		key := fmt.Sprintf("tool_results.%s_%s", r.toolName, r.toolUseID)
		desc := fmt.Sprintf("evicted result of %s (call id %s)", r.toolName, r.toolUseID)
		if err := e.writeToMemory(key, desc, r.resultContent); err != nil {
			result.Log = append(result.Log, fmt.Sprintf("skip %s: memory write failed: %v", r.toolUseID, err))
			continue
		}
		freed, err := e.removePair(r.toolUseID)
		if err != nil {
			result.Log = append(result.Log, fmt.Sprintf("skip %s: removePair failed: %v", r.toolUseID, err))
			continue
		}
		delete(e.tracked, r.toolUseID)
		totalBytes -= len(r.resultContent)
		result.Evicted++
		result.TokensFreed += freed
		result.MemoryKeys = append(result.MemoryKeys, key)
		result.Log = append(result.Log, fmt.Sprintf("evicted %s (%s)", r.toolUseID, r.toolName))
	}
	return result
}

// UpdateMessageIndices is the callback the Context Manager invokes after
// any removal (including non-eviction compaction) so the evictor's own
// stored indices stay correct. removedIndices is the set of message
// indices removed, each shifting surviving indices left by one.
func (e *ToolResultEvictor) UpdateMessageIndices(removedIndices map[int]bool) {
	for _, r := range e.tracked {
		shift := 0
		for idx := range removedIndices {
			if idx < r.messageIndex {
				shift++
			}
		}
		r.messageIndex -= shift
	}
}

// TrackedCount reports how many pairs are currently tracked (test/debug use).
func (e *ToolResultEvictor) TrackedCount() int { return len(e.tracked) }
