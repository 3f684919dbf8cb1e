package context

import "time"

// Storage is the opaque blob store the Context Manager persists session
// state through. Concrete backends (sessions.MemoryContextStore,
// sessions.FileContextStore, sessions.PostgresContextStore) satisfy this by
// storing State unexamined.
type Storage interface {
	Save(id string, state *PersistedState, metadata map[string]string) error
	Load(id string) (*PersistedState, map[string]string, error)
	Exists(id string) (bool, error)
	Delete(id string) error
	List() ([]StorageSummary, error)
}

// StorageSummary is the lightweight record List() returns.
type StorageSummary struct {
	ID        string
	UpdatedAt time.Time
}

// CurrentStateVersion is the version written by this implementation.
const CurrentStateVersion = 2

// PersistedState is the v2 wire layout from SPEC_FULL.md §6.
type PersistedState struct {
	Version int `json:"version"`
	Core    struct {
		SystemPrompt    string                 `json:"system_prompt"`
		Instructions    string                 `json:"instructions"`
		Conversation    []*Message             `json:"conversation"`
		MessageMetadata map[string]MessageMeta `json:"message_metadata"`
		ToolCalls       []ToolCallRecord       `json:"tool_calls"`
	} `json:"core"`
	Tools       []string                  `json:"tools,omitempty"`
	Memory      *serializedMemory         `json:"memory,omitempty"`
	Permissions map[string]bool           `json:"permissions,omitempty"`
	Plugins     map[string]interface{}    `json:"plugins,omitempty"`
	AgentState  interface{}               `json:"agent_state,omitempty"`
	Config      PersistedConfig           `json:"config"`
}

// PersistedConfig is the small config echo stored alongside state.
type PersistedConfig struct {
	Model           string            `json:"model"`
	MaxContextTokens int              `json:"max_context_tokens"`
	Strategy        string            `json:"strategy"`
	Features        map[string]bool   `json:"features"`
}

// ToolCallRecord is the persisted form of a tracked tool_use/tool_result
// pair, independent of the live ToolResultEvictor bookkeeping.
type ToolCallRecord struct {
	ToolUseID       string `json:"tool_use_id"`
	ToolName        string `json:"tool_name"`
	ResultContent   string `json:"result_content"`
	MessageIndex    int    `json:"message_index"`
	IterationsAgo   int    `json:"iterations_ago"`
	EstimatedTokens int    `json:"estimated_tokens"`
}

// legacyV1State is the shape a pre-v2 persisted blob took: a flat per-
// message history list instead of a typed content-part conversation.
type legacyV1State struct {
	Version int `json:"version"`
	Core    struct {
		SystemPrompt string             `json:"system_prompt"`
		Instructions string             `json:"instructions"`
		History      []legacyV1Message  `json:"history"`
	} `json:"core"`
	Config PersistedConfig `json:"config"`
}

type legacyV1Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// UpgradeLegacyState converts a v1 blob into an equivalent v2
// PersistedState: each legacy message becomes a single input_text-part
// message. A legacy "tool" role maps to user per the resolved open
// question in SPEC_FULL.md §9, with the original tag preserved
// informationally in MessageMetadata.LegacyRole.
func UpgradeLegacyState(v1 *legacyV1State) *PersistedState {
	out := &PersistedState{Version: CurrentStateVersion}
	out.Core.SystemPrompt = v1.Core.SystemPrompt
	out.Core.Instructions = v1.Core.Instructions
	out.Core.MessageMetadata = make(map[string]MessageMeta)
	out.Config = v1.Config

	for i, lm := range v1.Core.History {
		role := Role(lm.Role)
		legacyRole := ""
		if lm.Role == "tool" {
			role = RoleUser
			legacyRole = "tool"
		}
		id := legacyMessageID(i)
		msg := &Message{
			ID:   id,
			Role: role,
			Parts: []ContentPart{NewInputText(lm.Content)},
			Meta: MessageMeta{LegacyRole: legacyRole},
		}
		out.Core.Conversation = append(out.Core.Conversation, msg)
		out.Core.MessageMetadata[id] = msg.Meta
	}
	return out
}

func legacyMessageID(i int) string {
	const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	if i < len(alphabet) {
		return "legacy_" + string(alphabet[i])
	}
	return "legacy_n" + string(rune('0'+i%10))
}
