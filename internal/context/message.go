// Package context implements the context and execution core of the agent
// runtime: the Token Estimator, Working Memory, Idempotency Cache,
// Compaction Strategy, Plugin Host, Tool Output Tracker, Auto-Spill, Tool
// Result Eviction, and the Context Manager that orchestrates them.
package context

import (
	"fmt"
	"time"
)

// PartKind discriminates the variants of ContentPart.
type PartKind string

const (
	PartInputText  PartKind = "input_text"
	PartOutputText PartKind = "output_text"
	PartToolUse    PartKind = "tool_use"
	PartToolResult PartKind = "tool_result"
	PartImageURL   PartKind = "image_url"
)

// Role identifies who produced a Message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleDeveloper Role = "developer"
)

// ContentPart is a discriminated union over the five part kinds the spec
// names. Only the fields relevant to Kind are populated.
type ContentPart struct {
	Kind PartKind `json:"kind"`

	// input_text / output_text
	Text string `json:"text,omitempty"`

	// tool_use
	ToolUseID   string `json:"tool_use_id,omitempty"`
	ToolName    string `json:"tool_name,omitempty"`
	ToolInput   string `json:"tool_input,omitempty"` // JSON-encoded
	// tool_result
	ToolResultForID string `json:"tool_result_for_id,omitempty"`
	ToolResultText  string `json:"tool_result_text,omitempty"`
	ToolResultError bool   `json:"tool_result_error,omitempty"`

	// image_url
	ImageURL    string `json:"image_url,omitempty"`
	ImageDetail string `json:"image_detail,omitempty"`
}

func NewInputText(text string) ContentPart {
	return ContentPart{Kind: PartInputText, Text: text}
}

func NewOutputText(text string) ContentPart {
	return ContentPart{Kind: PartOutputText, Text: text}
}

func NewToolUse(id, name, input string) ContentPart {
	return ContentPart{Kind: PartToolUse, ToolUseID: id, ToolName: name, ToolInput: input}
}

func NewToolResult(toolUseID, content string, isError bool) ContentPart {
	return ContentPart{Kind: PartToolResult, ToolResultForID: toolUseID, ToolResultText: content, ToolResultError: isError}
}

func NewImageURL(url, detail string) ContentPart {
	return ContentPart{Kind: PartImageURL, ImageURL: url, ImageDetail: detail}
}

// MessageMeta carries per-message bookkeeping that is not part of the wire
// content but is needed by the Context Manager.
type MessageMeta struct {
	Timestamp       time.Time `json:"timestamp"`
	EstimatedTokens int       `json:"estimated_tokens"`
	// LegacyRole preserves a v1 "tool" role tag informationally only; it is
	// never consulted by any invariant check (see SPEC_FULL.md §9 design note).
	LegacyRole string `json:"legacy_role,omitempty"`
}

// Message is an ordered sequence of typed content parts with a stable id.
type Message struct {
	ID    string        `json:"id"`
	Role  Role          `json:"role"`
	Parts []ContentPart `json:"parts"`
	Meta  MessageMeta   `json:"meta"`
}

// ToolUseIDs returns every tool_use id carried by this message, in order.
func (m *Message) ToolUseIDs() []string {
	var ids []string
	for _, p := range m.Parts {
		if p.Kind == PartToolUse {
			ids = append(ids, p.ToolUseID)
		}
	}
	return ids
}

// ToolResultIDs returns every tool_result's referenced tool_use id.
func (m *Message) ToolResultIDs() []string {
	var ids []string
	for _, p := range m.Parts {
		if p.Kind == PartToolResult {
			ids = append(ids, p.ToolResultForID)
		}
	}
	return ids
}

// Conversation is an ordered sequence of Messages with a monotonically
// increasing protectedFromIndex: messages at or after this index are
// immutable to compaction.
type Conversation struct {
	Messages           []*Message `json:"messages"`
	ProtectedFromIndex int        `json:"protected_from_index"`
}

// NewConversation returns an empty conversation.
func NewConversation() *Conversation {
	return &Conversation{Messages: nil, ProtectedFromIndex: 0}
}

// Len returns the number of messages.
func (c *Conversation) Len() int { return len(c.Messages) }

// Append adds a message to the end of the conversation.
func (c *Conversation) Append(m *Message) {
	c.Messages = append(c.Messages, m)
}

// Protect sets protectedFromIndex to the current conversation length.
func (c *Conversation) Protect() {
	c.ProtectedFromIndex = len(c.Messages)
}

// PairGroup is the set of message indices that together hold one tool_use
// and its matching tool_result (or just the tool_use, if no result has been
// produced yet). It is the atomic unit of tool-call removal.
type PairGroup struct {
	ToolUseID string
	Indices   map[int]bool
}

// pairGroups walks the conversation and builds the tool_use/tool_result
// pair-group index described in SPEC_FULL.md §4.9 step 1 of
// compactConversation.
func pairGroups(c *Conversation) map[string]*PairGroup {
	groups := make(map[string]*PairGroup)
	for i, m := range c.Messages {
		for _, id := range m.ToolUseIDs() {
			g, ok := groups[id]
			if !ok {
				g = &PairGroup{ToolUseID: id, Indices: map[int]bool{}}
				groups[id] = g
			}
			g.Indices[i] = true
		}
		for _, id := range m.ToolResultIDs() {
			g, ok := groups[id]
			if !ok {
				g = &PairGroup{ToolUseID: id, Indices: map[int]bool{}}
				groups[id] = g
			}
			g.Indices[i] = true
		}
	}
	return groups
}

// validatePairIntegrity checks invariants 1 and 2 from spec.md §8: every
// tool_result references a tool_use that either precedes it or has no
// trace anywhere, and every non-removed tool_use still has its result (if
// one was ever produced) present.
func validatePairIntegrity(c *Conversation) error {
	seenToolUse := make(map[string]int)
	for i, m := range c.Messages {
		for _, id := range m.ToolUseIDs() {
			seenToolUse[id] = i
		}
	}
	for i, m := range c.Messages {
		for _, id := range m.ToolResultIDs() {
			useIdx, ok := seenToolUse[id]
			if !ok {
				return fmt.Errorf("invariant_violation: tool_result at index %d references unknown tool_use %q", i, id)
			}
			if useIdx > i {
				return fmt.Errorf("invariant_violation: tool_result at index %d precedes its tool_use %q at index %d", i, id, useIdx)
			}
		}
	}
	return nil
}
