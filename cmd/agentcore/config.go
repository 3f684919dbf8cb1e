package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/ctxcore/agentcore/internal/agent"
	agentctx "github.com/ctxcore/agentcore/internal/context"
)

// Config is the on-disk configuration for the agentcore CLI, covering the
// Context Manager's feature flags, budget, and compaction strategy plus the
// Agent Driver's model selection.
type Config struct {
	SystemPrompt     string `yaml:"systemPrompt"`
	Workspace        string `yaml:"workspace"`
	Model            string `yaml:"model"`
	MaxContextTokens int    `yaml:"maxContextTokens"`
	Strategy         string `yaml:"strategy"`

	Features struct {
		Memory                 bool `yaml:"memory"`
		InContextMemory        bool `yaml:"inContextMemory"`
		History                bool `yaml:"history"`
		Permissions            bool `yaml:"permissions"`
		PersistentInstructions bool `yaml:"persistentInstructions"`
		ToolOutputTracking     bool `yaml:"toolOutputTracking"`
		AutoSpill              bool `yaml:"autoSpill"`
		ToolResultEviction     bool `yaml:"toolResultEviction"`
	} `yaml:"features"`
}

// defaultConfig returns the configuration used when no file is given, with
// History the only feature enabled so a bare `agentcore chat` still keeps a
// running transcript.
func defaultConfig() *Config {
	cfg := &Config{
		SystemPrompt:     "You are a careful, concise coding assistant.",
		Model:            "",
		MaxContextTokens: 128_000,
		Strategy:         string(agentctx.StrategyAdaptive),
	}
	cfg.Features.History = true
	return cfg
}

// loadConfig reads a YAML config file, or returns defaultConfig if path is
// empty. If the workspace directory carries an IDENTITY.md, its persona
// preamble is prepended to SystemPrompt.
func loadConfig(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	}

	if cfg.Workspace != "" {
		if id, err := agent.LoadIdentityFromWorkspace(cfg.Workspace); err == nil && id != nil {
			if preamble := id.SystemPromptPreamble(); preamble != "" {
				cfg.SystemPrompt = preamble + "\n\n" + cfg.SystemPrompt
			}
		}
	}

	return cfg, nil
}

func (c *Config) toFeatures() agentctx.Features {
	return agentctx.Features{
		Memory:                 c.Features.Memory,
		InContextMemory:        c.Features.InContextMemory,
		History:                c.Features.History,
		Permissions:            c.Features.Permissions,
		PersistentInstructions: c.Features.PersistentInstructions,
		ToolOutputTracking:     c.Features.ToolOutputTracking,
		AutoSpill:              c.Features.AutoSpill,
		ToolResultEviction:     c.Features.ToolResultEviction,
	}
}
