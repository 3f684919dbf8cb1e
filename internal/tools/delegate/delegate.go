// Package delegate implements the "delegate" tool of SPEC_FULL.md §4.13:
// handing a Task off to a named specialist sub-agent that runs its own
// bounded prepare -> LLM call -> execute tools loop, scoped to the calling
// Driver's own iteration (no separate process, no swarm).
package delegate

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ctxcore/agentcore/internal/agent"
	agentctx "github.com/ctxcore/agentcore/internal/context"
	"github.com/ctxcore/agentcore/internal/multiagent"
)

// Tool is the "delegate" Tool: it looks up a specialist (by explicit ID or,
// if omitted, by CapabilityRouter keyword match against the task), builds a
// scratch Context Manager and Driver scoped to that specialist's system
// prompt, model, and tool allow-list, and runs one turn to completion.
type Tool struct {
	router      *multiagent.CapabilityRouter
	log         *multiagent.DelegationLog
	provider    agent.LLMProvider
	parentTools *agent.ToolRegistry
	totalTokens int
	logger      *slog.Logger
}

// Config configures a delegate Tool.
type Config struct {
	Router      *multiagent.CapabilityRouter
	Log         *multiagent.DelegationLog
	Provider    agent.LLMProvider
	ParentTools *agent.ToolRegistry
	TotalTokens int
	Logger      *slog.Logger
}

func New(cfg Config) *Tool {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	totalTokens := cfg.TotalTokens
	if totalTokens <= 0 {
		totalTokens = 32_000
	}
	if cfg.Log == nil {
		cfg.Log = multiagent.NewDelegationLog()
	}
	return &Tool{
		router:      cfg.Router,
		log:         cfg.Log,
		provider:    cfg.Provider,
		parentTools: cfg.ParentTools,
		totalTokens: totalTokens,
		logger:      logger,
	}
}

func (t *Tool) Name() string { return "delegate" }

func (t *Tool) Description() string {
	return "Hands a task off to a named specialist sub-agent (researcher, coder, etc.) " +
		"and returns its final response. Omit specialist to let capability routing pick one."
}

func (t *Tool) Schema() json.RawMessage {
	return json.RawMessage(`{
  "type": "object",
  "properties": {
    "task": {"type": "string", "description": "The task to hand off, in enough detail for the specialist to act on its own"},
    "specialist": {"type": "string", "description": "Specialist ID to target explicitly; if omitted, routed by keyword match"}
  },
  "required": ["task"]
}`)
}

type delegateInput struct {
	Task       string `json:"task"`
	Specialist string `json:"specialist"`
}

// Log exposes the delegation log for diagnostics and tests.
func (t *Tool) Log() *multiagent.DelegationLog { return t.log }

func (t *Tool) Execute(ctx context.Context, params json.RawMessage) (*agent.ToolResult, error) {
	var in delegateInput
	if err := json.Unmarshal(params, &in); err != nil {
		return nil, fmt.Errorf("delegate: invalid params: %w", err)
	}
	if in.Task == "" {
		return &agent.ToolResult{Content: "task is required", IsError: true}, nil
	}

	var specialist *multiagent.Specialist
	var ok bool
	if in.Specialist != "" {
		specialist, ok = t.router.RouteTo(in.Specialist)
	} else {
		specialist, ok = t.router.Route(in.Task)
	}
	if !ok {
		return &agent.ToolResult{Content: fmt.Sprintf("no specialist available for %q", in.Specialist), IsError: true}, nil
	}

	started := time.Now()
	text, err := t.run(ctx, specialist, in.Task)
	record := multiagent.DelegationRecord{
		SpecialistID: specialist.ID,
		Task:         in.Task,
		StartedAt:    started,
		Duration:     time.Since(started),
	}
	if err != nil {
		record.Outcome = multiagent.OutcomeError
		record.Error = err.Error()
		t.log.Record(record)
		return &agent.ToolResult{Content: err.Error(), IsError: true}, nil
	}
	record.Outcome = multiagent.OutcomeOK
	t.log.Record(record)
	return &agent.ToolResult{Content: text}, nil
}

// run builds a scratch Manager and Driver scoped to the specialist and
// executes one bounded turn, returning the concatenated assistant text.
func (t *Tool) run(ctx context.Context, specialist *multiagent.Specialist, task string) (string, error) {
	mgr, err := agentctx.NewManager(agentctx.ManagerConfig{
		SystemPrompt: specialist.SystemPrompt,
		TotalTokens:  t.totalTokens,
		Strategy:     agentctx.StrategyAdaptive,
		Features:     agentctx.Features{History: true},
		Logger:       t.logger,
	})
	if err != nil {
		return "", fmt.Errorf("delegate: building specialist context: %w", err)
	}

	tools := agent.NewToolRegistry()
	if t.parentTools != nil {
		for _, name := range t.parentTools.MatchNames(specialist.ToolPatterns) {
			if name == t.Name() {
				continue // a specialist never gets its own recursive delegate tool
			}
			if spec, ok := t.parentTools.Get(name); ok {
				tools.Register(spec)
			}
		}
	}

	driver := agent.NewDriver(agent.DriverConfig{
		Provider:      t.provider,
		Tools:         tools,
		Manager:       mgr,
		Model:         specialist.Model,
		MaxIterations: specialist.MaxIterations,
		Logger:        t.logger,
		RunID:         "delegate-" + specialist.ID,
	})

	events := make(chan agent.ProgressEvent, 16)
	var out string
	done := make(chan struct{})
	go func() {
		defer close(done)
		for e := range events {
			if e.Kind == "text:delta" {
				out += e.Text
			}
		}
	}()

	err = driver.Turn(ctx, task, events)
	close(events)
	<-done
	if err != nil {
		return "", fmt.Errorf("delegate: specialist %s: %w", specialist.ID, err)
	}
	return out, nil
}
