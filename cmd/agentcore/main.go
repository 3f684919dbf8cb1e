// Command agentcore runs the context and execution core of the agent
// runtime as a standalone interactive CLI session.
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ctxcore/agentcore/internal/agent"
	"github.com/ctxcore/agentcore/internal/agent/providers"
	agentctx "github.com/ctxcore/agentcore/internal/context"
	"github.com/ctxcore/agentcore/internal/multiagent"
	"github.com/ctxcore/agentcore/internal/sessions"
	"github.com/ctxcore/agentcore/internal/tools/delegate"
	"github.com/ctxcore/agentcore/internal/tools/facts"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, sessionID string

	root := &cobra.Command{
		Use:   "agentcore",
		Short: "Run the agent context core interactively",
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "path to an agentcore config file")
	root.PersistentFlags().StringVar(&sessionID, "session-id", "default", "context state id to load/save across runs")

	root.AddCommand(newChatCmd(&configPath, &sessionID))
	root.AddCommand(newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the agentcore version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println("agentcore dev")
			return nil
		},
	}
}

func newChatCmd(configPath, sessionID *string) *cobra.Command {
	return &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat session against the context core",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			return runChat(cmd.Context(), cfg, *sessionID)
		},
	}
}

func runChat(ctx context.Context, cfg *Config, sessionID string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	mgr, err := agentctx.NewManager(agentctx.ManagerConfig{
		SystemPrompt:       cfg.SystemPrompt,
		TotalTokens:        cfg.MaxContextTokens,
		Strategy:           agentctx.StrategyName(cfg.Strategy),
		AutoCompact:        true,
		Features:           cfg.toFeatures(),
		Logger:             logger,
		MaxOutputs:         agentctx.DefaultMaxOutputs,
		SpillThresholdBytes: agentctx.DefaultSpillThresholdBytes,
	})
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	mgr.On(func(name string, payload interface{}) {
		logger.Debug("context event", "name", name)
	})

	stateDir := filepath.Join(os.Getenv("HOME"), ".agentcore", "state")
	store, err := sessions.NewFileContextStore(stateDir)
	if err != nil {
		return err
	}
	if exists, _ := store.Exists(sessionID); exists {
		if _, err := mgr.Load(store, sessionID); err != nil {
			logger.Warn("failed to restore prior session state", "error", err)
		}
	}
	defer func() {
		if err := mgr.Save(store, sessionID, map[string]string{"model": cfg.Model}); err != nil {
			logger.Warn("failed to persist session state", "error", err)
		}
	}()

	primary, err := providers.NewAnthropicProvider(providers.AnthropicConfig{
		APIKey:       os.Getenv("ANTHROPIC_API_KEY"),
		DefaultModel: cfg.Model,
	})
	if err != nil {
		return fmt.Errorf("llm provider: %w", err)
	}

	var provider agent.LLMProvider = primary
	if openaiKey := os.Getenv("OPENAI_API_KEY"); openaiKey != "" {
		failover := agent.NewFailoverOrchestrator(primary, agent.DefaultFailoverConfig())
		failover.AddProvider(providers.NewOpenAIProvider(openaiKey))
		provider = failover
	}

	tools := agent.NewToolRegistry()
	tools.Register(&agent.ToolSpec{
		Tool:        facts.NewExtractTool(10),
		Idempotency: agent.IdempotencyDecl{Safe: true},
		Output:      agent.OutputDecl{ExpectedSize: agent.SizeSmall},
	})

	specialists := multiagent.NewSpecialistRegistry()
	specialists.Register(&multiagent.Specialist{
		ID:           "researcher",
		Name:         "Researcher",
		Description:  "Investigates sources and prior findings before acting.",
		SystemPrompt: "You are a research specialist. Consult available tools for sources before answering, and cite what you found.",
		Keywords:     []string{"research", "investigate", "survey", "sources"},
	})
	specialists.Register(&multiagent.Specialist{
		ID:           "coder",
		Name:         "Coder",
		Description:  "Implements, debugs, and tests code changes.",
		SystemPrompt: "You are a coding specialist. Prefer small, testable changes and report exactly what you changed.",
		Keywords:     []string{"implement", "refactor", "bug", "function", "debug", "code", "test"},
	})
	specialists.Register(&multiagent.Specialist{
		ID:           "general",
		Name:         "General",
		Description:  "Fallback specialist for tasks that don't match a narrower one.",
		SystemPrompt: cfg.SystemPrompt,
	})
	router := multiagent.NewCapabilityRouter(specialists)
	tools.Register(&agent.ToolSpec{
		Tool: delegate.New(delegate.Config{
			Router:      router,
			Provider:    provider,
			ParentTools: tools,
			TotalTokens: cfg.MaxContextTokens,
			Logger:      logger,
		}),
		Idempotency: agent.IdempotencyDecl{Safe: false},
		Output:      agent.OutputDecl{ExpectedSize: agent.SizeVariable},
	})

	driver := agent.NewDriver(agent.DriverConfig{
		Provider: provider,
		Tools:    tools,
		Manager:  mgr,
		Model:    cfg.Model,
		Logger:   logger,
	})

	events := make(chan agent.ProgressEvent, 16)
	go func() {
		for e := range events {
			switch e.Kind {
			case "text:delta":
				fmt.Print(e.Text)
			case "tool:start":
				fmt.Printf("\n[tool: %s]\n", e.Tool)
			case "mode:changed":
				fmt.Printf("\n[mode: %s]\n", e.Mode)
			case "execution:done":
				fmt.Println()
			}
		}
	}()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Println("agentcore chat (Ctrl-D to exit)")
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			close(events)
			return nil
		}
		line := scanner.Text()
		if line == "" {
			continue
		}
		if err := driver.Turn(ctx, line, events); err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
	}
}
