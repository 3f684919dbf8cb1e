// Package multiagent implements SPEC_FULL.md §4.13's sub-agent delegation:
// a registry of named specialists and a capability router that picks one
// from a task description, scoped to the single-process Agent Driver's own
// iteration loop. It deliberately does not implement the teacher's
// multi-channel swarm/supervisor/peer-handoff system (see DESIGN.md).
package multiagent

import "fmt"

// Specialist is one named sub-agent a Task can be delegated to: its own
// system prompt, an optional model override, and a tool allow-list
// expanded against the parent Driver's ToolRegistry via MatchNames-style
// glob patterns ("*" matches every tool the parent has).
type Specialist struct {
	ID            string
	Name          string
	Description   string
	SystemPrompt  string
	Model         string
	ToolPatterns  []string
	MaxIterations int

	// Keywords drive CapabilityRouter selection: a task description
	// matching any Keyword (case-insensitive word match) routes to this
	// specialist.
	Keywords []string
}

func (s *Specialist) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("multiagent: specialist ID is required")
	}
	if s.SystemPrompt == "" {
		return fmt.Errorf("multiagent: specialist %q needs a SystemPrompt", s.ID)
	}
	if len(s.ToolPatterns) == 0 {
		s.ToolPatterns = []string{"*"}
	}
	if s.MaxIterations <= 0 {
		s.MaxIterations = 6
	}
	return nil
}
