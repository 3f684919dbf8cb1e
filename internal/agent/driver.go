package agent

import (
	"context"
	"fmt"
	"log/slog"

	agentctx "github.com/ctxcore/agentcore/internal/context"
	"github.com/ctxcore/agentcore/pkg/models"
)

// ProgressEvent is one streamed event from a Driver turn, per the kinds
// enumerated in SPEC_FULL.md §4.11: text:delta, tool:start, tool:complete,
// task:started|progress|completed|failed, mode:changed, plan:*,
// execution:done.
type ProgressEvent struct {
	Kind    string
	Text    string
	Tool    string
	TaskID  string
	Mode    Mode
	Payload interface{}
}

// DriverConfig configures an Agent Driver.
type DriverConfig struct {
	Provider      LLMProvider
	Tools         *ToolRegistry
	Manager       *agentctx.Manager
	MaxIterations int
	Model         string
	Logger        *slog.Logger

	// RunID identifies this driver's run for the emitted AgentEvent stream.
	// If empty, it defaults to "driver-" followed by the model name.
	RunID string
	// Plugins, if set, receives the AgentEvent stream (run/iter/model/tool
	// lifecycle events) alongside the ProgressEvent channel passed to Turn.
	// Callers register a TracePlugin here for JSONL run recording.
	Plugins *PluginRegistry
}

// Driver is the Agent Driver: per turn it classifies intent, dispatches to
// the recommended mode, and runs the prepare -> LLM call -> addAssistantResponse
// -> execute tools -> addToolResults loop bounded by MaxIterations. Grounded
// on the teacher's internal/agent/loop.go per-turn streaming pipeline idiom
// (suspension points confined to LLM calls and tool execution), rebuilt
// without the deleted job-queue/runtime-option machinery it depended on.
type Driver struct {
	provider      LLMProvider
	tools         *ToolRegistry
	executor      *Executor
	manager       *agentctx.Manager
	modes         *ModeManager
	plan          *Plan
	maxIterations int
	model         string
	logger        *slog.Logger
	events        *EventEmitter
	iter          int
}

func NewDriver(cfg DriverConfig) *Driver {
	maxIter := cfg.MaxIterations
	if maxIter <= 0 {
		maxIter = 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	var executor *Executor
	if cfg.Tools != nil {
		executor = NewExecutor(cfg.Tools, DefaultExecutorConfig())
	}
	runID := cfg.RunID
	if runID == "" {
		runID = "driver-" + cfg.Model
	}
	var emitter *EventEmitter
	if cfg.Plugins != nil {
		emitter = NewEventEmitterWithPlugins(runID, cfg.Plugins)
	} else {
		emitter = NewEventEmitter(runID, nil)
	}
	return &Driver{
		provider:      cfg.Provider,
		tools:         cfg.Tools,
		executor:      executor,
		manager:       cfg.Manager,
		modes:         NewModeManager(),
		maxIterations: maxIter,
		model:         cfg.Model,
		logger:        logger,
		events:        emitter,
	}
}

func (d *Driver) Modes() *ModeManager { return d.modes }
func (d *Driver) Plan() *Plan         { return d.plan }

// Turn runs one full user turn, emitting ProgressEvents on events (events
// may be nil to discard them) and returning once the model stops
// requesting tool calls or maxIterations is reached.
func (d *Driver) Turn(ctx context.Context, userInput string, events chan<- ProgressEvent) error {
	emit := func(e ProgressEvent) {
		if events != nil {
			select {
			case events <- e:
			case <-ctx.Done():
			}
		}
	}

	intent := ClassifyIntent(userInput)
	recommended := d.modes.RecommendMode(intent, d.plan)
	if recommended != d.modes.Mode() {
		d.dispatchModeChange(recommended)
		emit(ProgressEvent{Kind: "mode:changed", Mode: recommended})
	}

	d.manager.AddUserMessage(userInput)

	d.events.RunStarted(ctx)
	for i := 0; i < d.maxIterations; i++ {
		d.iter = i
		d.events.SetIter(i)
		d.events.IterStarted(ctx)

		prep := d.manager.Prepare(agentctx.PrepareOptions{ReturnFormat: agentctx.ReturnLLMInput})

		req := d.buildCompletionRequest(prep.LLMInput)
		chunks, err := d.provider.Complete(ctx, req)
		if err != nil {
			wrapped := &LLMTransportErrorAlias{Cause: err}
			d.events.RunError(ctx, wrapped, true)
			return wrapped
		}

		assistantParts, toolCalls, err := d.drainCompletion(ctx, chunks, emit)
		if err != nil {
			d.events.RunError(ctx, err, false)
			return err
		}

		d.manager.AddAssistantResponse(assistantParts)
		d.events.IterFinished(ctx)

		if len(toolCalls) == 0 {
			emit(ProgressEvent{Kind: "execution:done"})
			d.events.RunFinished(ctx, nil)
			return nil
		}

		results := d.executeToolCalls(ctx, toolCalls, emit)
		d.manager.AddToolResults(results)
	}

	emit(ProgressEvent{Kind: "execution:done", Payload: "max_iterations_reached"})
	d.events.RunFinished(ctx, nil)
	return nil
}

func (d *Driver) dispatchModeChange(next Mode) {
	switch next {
	case ModePlanning:
		d.modes.EnterPlanning()
	case ModeExecuting:
		d.modes.EnterExecuting()
	default:
		d.modes.ReturnToInteractive()
	}
}

func (d *Driver) buildCompletionRequest(input []*agentctx.Message) *CompletionRequest {
	req := &CompletionRequest{Model: d.model}
	if d.tools != nil {
		req.Tools = d.tools.AllTools()
	}
	for _, m := range input {
		cm := CompletionMessage{Role: string(m.Role)}
		for _, p := range m.Parts {
			switch p.Kind {
			case agentctx.PartInputText, agentctx.PartOutputText:
				cm.Content += p.Text
			}
		}
		req.Messages = append(req.Messages, cm)
	}
	return req
}

// drainCompletion consumes the streaming channel, emitting text:delta
// events, and returns the assembled assistant content parts plus any tool
// calls requested.
func (d *Driver) drainCompletion(ctx context.Context, chunks <-chan *CompletionChunk, emit func(ProgressEvent)) ([]agentctx.ContentPart, []toolCallRequest, error) {
	var parts []agentctx.ContentPart
	var calls []toolCallRequest
	var text string
	var inputTokens, outputTokens int

	for chunk := range chunks {
		if chunk.Error != nil {
			return nil, nil, &LLMTransportErrorAlias{Cause: chunk.Error}
		}
		if chunk.Text != "" {
			text += chunk.Text
			emit(ProgressEvent{Kind: "text:delta", Text: chunk.Text})
			d.events.ModelDelta(ctx, chunk.Text)
		}
		if chunk.ToolCall != nil {
			calls = append(calls, toolCallRequest{
				ID:    chunk.ToolCall.ID,
				Name:  chunk.ToolCall.Name,
				Input: []byte(chunk.ToolCall.Input),
			})
		}
		if chunk.Done {
			inputTokens = chunk.InputTokens
			outputTokens = chunk.OutputTokens
		}
	}
	d.events.ModelCompleted(ctx, "", d.model, inputTokens, outputTokens)

	if text != "" {
		parts = append(parts, agentctx.NewOutputText(text))
	}
	for _, c := range calls {
		parts = append(parts, agentctx.NewToolUse(c.ID, c.Name, string(c.Input)))
	}
	return parts, calls, nil
}

type toolCallRequest struct {
	ID    string
	Name  string
	Input []byte
}

// executeToolCalls runs calls concurrently within the turn via the
// Executor's semaphore-bounded, retrying worker pool (the driver's choice
// of concurrency per SPEC_FULL.md §5), but result ingestion is serialized
// by the caller collecting into a single slice before calling
// addToolResults.
func (d *Driver) executeToolCalls(ctx context.Context, calls []toolCallRequest, emit func(ProgressEvent)) []agentctx.ContentPart {
	for _, c := range calls {
		emit(ProgressEvent{Kind: "tool:start", Tool: c.Name})
		d.events.ToolStarted(ctx, c.ID, c.Name, c.Input)
	}

	modelCalls := make([]models.ToolCall, len(calls))
	for i, c := range calls {
		modelCalls[i] = models.ToolCall{ID: c.ID, Name: c.Name, Input: c.Input}
	}

	var execResults []*ExecutionResult
	if d.executor != nil {
		execResults = d.executor.ExecuteAll(ctx, modelCalls)
	} else {
		execResults = make([]*ExecutionResult, len(calls))
		for i, c := range calls {
			res, err := d.tools.Execute(ctx, c.Name, c.Input)
			execResults[i] = &ExecutionResult{ToolCallID: c.ID, ToolName: c.Name, Result: res, Error: err}
		}
	}

	results := make([]agentctx.ContentPart, len(execResults))
	for i, r := range execResults {
		isErr := r.Error != nil || (r.Result != nil && r.Result.IsError)
		content := ""
		if r.Result != nil {
			content = r.Result.Content
		}
		if r.Error != nil {
			content = r.Error.Error()
		}
		content = SanitizeToolResult(content)
		results[i] = agentctx.NewToolResult(r.ToolCallID, content, isErr)
		emit(ProgressEvent{Kind: "tool:complete", Tool: r.ToolName})
		d.events.ToolFinished(ctx, r.ToolCallID, r.ToolName, !isErr, []byte(content), r.Duration)
	}
	return results
}

// LLMTransportErrorAlias mirrors context.LLMTransportError without an
// import cycle (internal/context cannot import internal/agent). The driver
// surfaces it with the same "llm_transport" semantics: the current
// iteration is aborted and no partial assistant message is committed.
type LLMTransportErrorAlias struct {
	Cause error
}

func (e *LLMTransportErrorAlias) Error() string {
	return fmt.Sprintf("llm_transport: %v", e.Cause)
}

func (e *LLMTransportErrorAlias) Unwrap() error { return e.Cause }
