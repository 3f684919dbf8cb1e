package context

import "errors"

// Error kinds per SPEC_FULL.md §7. Configuration and invariant_violation are
// programmer errors and are returned (callers at the construction/command
// boundary are expected to panic or abort startup on them, mirroring the
// teacher's fail-fast construction pattern in internal/config); the rest are
// ordinary data-carrying errors threaded through normal Go error returns.
var (
	ErrConfiguration       = errors.New("configuration: invalid feature combination")
	ErrNotFound            = errors.New("not_found")
	ErrStorageFull         = errors.New("storage_full")
	ErrInvariantViolation  = errors.New("invariant_violation")
)

// ToolExecutionError wraps a tool failure (panic, error return, or timeout)
// so it can be captured as a tool_result with IsError=true without breaking
// conversation integrity.
type ToolExecutionError struct {
	ToolName string
	Cause    error
}

func (e *ToolExecutionError) Error() string {
	return "tool_execution: " + e.ToolName + ": " + e.Cause.Error()
}

func (e *ToolExecutionError) Unwrap() error { return e.Cause }

// LLMTransportError wraps a transport-layer failure. The current iteration
// is aborted without committing a partial assistant message.
type LLMTransportError struct {
	Cause error
}

func (e *LLMTransportError) Error() string { return "llm_transport: " + e.Cause.Error() }
func (e *LLMTransportError) Unwrap() error { return e.Cause }
