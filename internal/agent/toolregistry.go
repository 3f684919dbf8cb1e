package agent

import (
	"context"
	"strings"
	"sync"
)

// IdempotencyDecl declares whether a tool is safe to cache by
// (toolName, canonicalized args).
type IdempotencyDecl struct {
	Safe bool
}

// ExpectedSize hints at a tool's typical output size, used by Auto-Spill
// allow-list decisions and by the Tool Output Tracker's per-output cap.
type ExpectedSize string

const (
	SizeSmall    ExpectedSize = "small"
	SizeVariable ExpectedSize = "variable"
)

// OutputDecl declares a tool's expected output size class.
type OutputDecl struct {
	ExpectedSize ExpectedSize
}

// DescribeCallFunc generates a human description of a tool invocation from
// its arguments, consumed by Auto-Spill when a tool-specific rule is not
// registered.
type DescribeCallFunc func(args string) string

// ToolSpec wraps a Tool with the metadata the Context Manager's Auto-Spill
// and Idempotency Cache subsystems consume, per the Tool interface
// contract in SPEC_FULL.md §6.
type ToolSpec struct {
	Tool         Tool
	Idempotency  IdempotencyDecl
	Output       OutputDecl
	DescribeCall DescribeCallFunc
}

// ToolRegistry holds the tools available to the Agent Driver for a turn,
// grounded on the teacher's policy.Resolver wildcard/group matching idiom
// (internal/tools/policy/resolver.go ExpandGroups/matchPattern), narrowed
// from multi-source (mcp:/edge:/group:) expansion down to plain tool-name
// globs since this core has no MCP/edge concept.
type ToolRegistry struct {
	mu    sync.RWMutex
	specs map[string]*ToolSpec
}

func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{specs: make(map[string]*ToolSpec)}
}

func (r *ToolRegistry) Register(spec *ToolSpec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.specs[spec.Tool.Name()] = spec
}

func (r *ToolRegistry) Get(name string) (*ToolSpec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.specs[name]
	return s, ok
}

// AllTools returns every registered tool's underlying Tool implementation,
// for advertising to the LLM provider in a CompletionRequest.
func (r *ToolRegistry) AllTools() []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Tool, 0, len(r.specs))
	for _, s := range r.specs {
		out = append(out, s.Tool)
	}
	return out
}

// Names returns all registered tool names.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.specs))
	for n := range r.specs {
		out = append(out, n)
	}
	return out
}

// MatchNames expands a list of plain-glob patterns ("*" universal, "prefix*"
// suffix wildcard, or exact names) against registered tool names.
func (r *ToolRegistry) MatchNames(patterns []string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]bool)
	var out []string
	for _, pattern := range patterns {
		for name := range r.specs {
			if matchPattern(pattern, name) && !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}
	return out
}

func matchPattern(pattern, name string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasSuffix(pattern, "*") {
		return strings.HasPrefix(name, strings.TrimSuffix(pattern, "*"))
	}
	return pattern == name
}

// Execute runs the named tool. An unknown tool yields a ToolResult with
// IsError=true and a nil error. An error returned by the tool is returned
// as is, and a panic is recovered and returned as a ToolError of type
// ToolErrorPanic, so the caller can classify or retry it and still produce
// a well-formed tool_result with IsError=true.
func (r *ToolRegistry) Execute(ctx context.Context, name string, params []byte) (result *ToolResult, execErr error) {
	spec, ok := r.Get(name)
	if !ok {
		return &ToolResult{Content: "unknown tool: " + name, IsError: true}, nil
	}

	defer func() {
		if rec := recover(); rec != nil {
			result = nil
			execErr = NewToolError(name, ErrToolPanic)
		}
	}()

	res, err := spec.Tool.Execute(ctx, params)
	if err != nil {
		return nil, err
	}
	return res, nil
}
