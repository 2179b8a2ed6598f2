// internal/adapter/adapters.go
package adapter

import (
	"encoding/json"
	"fmt"
	"io"
)

// Rendering defaults shared by the JSON-configured CLIs.
const (
	defaultMaxTokens   = 4096
	defaultTemperature = 0.7
)

// cliSettings is the native settings document for JSON-configured CLIs.
// Struct (and sorted map) marshaling keeps rendering byte-deterministic.
type cliSettings struct {
	Model       string               `json:"model"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature float64              `json:"temperature"`
	GitHubApp   string               `json:"github_app"`
	MCPServers  map[string]mcpServer `json:"mcp_servers,omitempty"`
}

type mcpServer struct {
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env,omitempty"`
}

// jsonAdapter implements the shared behavior of every JSON-configured CLI.
// Per-CLI differences are the capability profile, the settings path, and
// the argument layout.
type jsonAdapter struct {
	base
	settingsPath string
	buildArgs    func(cfg AgentConfig, promptRef string) []string
}

func (a *jsonAdapter) settings(cfg AgentConfig) cliSettings {
	s := cliSettings{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		GitHubApp:   cfg.GitHubApp,
	}
	if s.MaxTokens == 0 {
		s.MaxTokens = defaultMaxTokens
	}
	if s.Temperature == 0 {
		s.Temperature = defaultTemperature
	}
	return s
}

func (a *jsonAdapter) RenderConfig(cfg AgentConfig) (*ConfigArtifactSet, error) {
	if err := a.validateRequired(cfg); err != nil {
		return nil, err
	}
	content, err := marshalSettings(a.settings(cfg))
	if err != nil {
		return nil, fmt.Errorf("rendering %s settings: %w", a.cliType, err)
	}
	return &ConfigArtifactSet{
		Artifacts: []ConfigArtifact{
			{Filename: a.settingsPath, Content: content},
			a.memoryArtifact(cfg),
		},
	}, nil
}

func marshalSettings(s cliSettings) ([]byte, error) {
	content, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(content, '\n'), nil
}

func (a *jsonAdapter) BuildInvocation(cfg AgentConfig, promptRef string) (*Invocation, error) {
	artifacts, err := a.RenderConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Invocation{
		Command:     a.executable,
		Args:        a.buildArgs(cfg, promptRef),
		Env:         a.buildEnv(cfg),
		ConfigFiles: artifacts.Artifacts,
	}, nil
}

func (a *jsonAdapter) ParseOutputStream(raw io.Reader) *EventStream {
	return newEventStream(raw)
}

func (a *jsonAdapter) ValidateModel(model string) error {
	return permissiveValidateModel(a.cliType, model)
}

func newCursorAdapter() Adapter {
	return &jsonAdapter{
		base: base{
			cliType:    CLICursor,
			executable: "cursor-agent",
			toolsURL:   defaultToolsURL,
			caps: Capabilities{
				Streaming:       true,
				FunctionCalling: true,
				ContextWindow:   128_000,
				ConfigFormat:    FormatJSON,
				MemoryFilename:  "AGENTS.md",
			},
		},
		settingsPath: ".cursor/cli.json",
		buildArgs: func(cfg AgentConfig, promptRef string) []string {
			return []string{"--model", cfg.Model, "--output-format", "stream-json", "-p", promptRef}
		},
	}
}

func newFactoryAdapter() Adapter {
	return &jsonAdapter{
		base: base{
			cliType:    CLIFactory,
			executable: "droid",
			toolsURL:   defaultToolsURL,
			caps: Capabilities{
				Streaming:       true,
				FunctionCalling: true,
				ContextWindow:   128_000,
				ConfigFormat:    FormatJSON,
				MemoryFilename:  "AGENTS.md",
			},
		},
		settingsPath: ".factory/config.json",
		buildArgs: func(cfg AgentConfig, promptRef string) []string {
			return []string{"exec", "--model", cfg.Model, promptRef}
		},
	}
}

func newGeminiAdapter() Adapter {
	return &jsonAdapter{
		base: base{
			cliType:    CLIGemini,
			executable: "gemini",
			toolsURL:   defaultToolsURL,
			caps: Capabilities{
				Streaming:       true,
				Multimodal:      true,
				FunctionCalling: true,
				ContextWindow:   1_000_000,
				ConfigFormat:    FormatJSON,
				MemoryFilename:  "GEMINI.md",
			},
		},
		settingsPath: ".gemini/settings.json",
		buildArgs: func(cfg AgentConfig, promptRef string) []string {
			return []string{"--model", cfg.Model, "--prompt", promptRef}
		},
	}
}

func newOpenCodeAdapter() Adapter {
	return &jsonAdapter{
		base: base{
			cliType:    CLIOpenCode,
			executable: "opencode",
			toolsURL:   defaultToolsURL,
			caps: Capabilities{
				Streaming:       true,
				Multimodal:      true,
				FunctionCalling: true,
				ContextWindow:   128_000,
				ConfigFormat:    FormatJSON,
				MemoryFilename:  "OPENCODE.md",
			},
		},
		settingsPath: "opencode.json",
		buildArgs: func(cfg AgentConfig, promptRef string) []string {
			return []string{"run", "--model", cfg.Model, promptRef}
		},
	}
}
