package context

import "regexp"

// TaskType names one of the enumerated task-type priority profiles.
type TaskType string

const (
	TaskResearch TaskType = "research"
	TaskCoding   TaskType = "coding"
	TaskAnalysis TaskType = "analysis"
	TaskGeneral  TaskType = "general"
)

// PriorityProfile maps named components to a compaction priority (higher
// compacts sooner) and carries the short preamble injected into the system
// prompt for that task type.
type PriorityProfile struct {
	Type             TaskType
	ComponentPriority map[string]int
	Preamble         string
	PreambleNoMemory string
}

// profiles is grounded on SPEC_FULL.md §4.10's worked research example and
// generalized in the same shape for coding/analysis/general.
var profiles = map[TaskType]PriorityProfile{
	TaskResearch: {
		Type: TaskResearch,
		ComponentPriority: map[string]int{
			"memory_index":       3,
			"tool_outputs":       5,
			"conversation_history": 10,
		},
		Preamble:         "You are conducting research. Prefer consulting the memory index for prior findings before re-fetching sources.",
		PreambleNoMemory: "You are conducting research. Work from the conversation directly; no persistent memory index is available.",
	},
	TaskCoding: {
		Type: TaskCoding,
		ComponentPriority: map[string]int{
			"memory_index":       4,
			"tool_outputs":       3,
			"conversation_history": 6,
		},
		Preamble:         "You are working on a coding task. Keep recent tool outputs (diffs, test results) available; prefer trimming older narrative history first.",
		PreambleNoMemory: "You are working on a coding task. Keep recent tool outputs available; prefer trimming older narrative history first.",
	},
	TaskAnalysis: {
		Type: TaskAnalysis,
		ComponentPriority: map[string]int{
			"memory_index":       2,
			"tool_outputs":       6,
			"conversation_history": 8,
		},
		Preamble:         "You are performing analysis. Lean on the memory index for derived findings over raw tool output history.",
		PreambleNoMemory: "You are performing analysis. Work from the conversation directly.",
	},
	TaskGeneral: {
		Type: TaskGeneral,
		ComponentPriority: map[string]int{
			"memory_index":       5,
			"tool_outputs":       5,
			"conversation_history": 5,
		},
		Preamble:         "",
		PreambleNoMemory: "",
	},
}

func ProfileFor(t TaskType) PriorityProfile {
	if p, ok := profiles[t]; ok {
		return p
	}
	return profiles[TaskGeneral]
}

// Detection regexes. Kept deliberately small and literal, mirroring the
// teacher's routing.HeuristicClassifier tagging approach — a pure regex
// classification that never invokes an LLM.
var (
	researchRegex = regexp.MustCompile(`(?i)\b(research|investigate|survey|competitors|literature|sources)\b`)
	codingRegex   = regexp.MustCompile(`(?i)\b(implement|refactor|bug|function|debug|code|test|compile|build)\b`)
	analysisRegex = regexp.MustCompile(`(?i)\b(analyze|compare|evaluate|assess|trend|metrics|breakdown)\b`)
)

// DetectTaskType runs a pure regex classification over a plan goal string
// (or any free text), returning the best-matching TaskType or
// TaskGeneral if nothing matches.
func DetectTaskType(goal string) TaskType {
	switch {
	case researchRegex.MatchString(goal):
		return TaskResearch
	case codingRegex.MatchString(goal):
		return TaskCoding
	case analysisRegex.MatchString(goal):
		return TaskAnalysis
	default:
		return TaskGeneral
	}
}
