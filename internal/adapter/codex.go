// internal/adapter/codex.go
package adapter

import (
	"bytes"
	"fmt"
	"io"

	"github.com/BurntSushi/toml"
)

// codexAdapter is the one TOML-configured CLI. It also has no streaming
// support: output only appears after the process exits, so callers must
// drain the event stream instead of forwarding events incrementally.
type codexAdapter struct {
	base
}

// codexSettings mirrors the CLI's config.toml layout. Fixed struct order
// keeps the encoder output byte-deterministic.
type codexSettings struct {
	Model       string      `toml:"model"`
	MaxTokens   int         `toml:"max_tokens"`
	Temperature float64     `toml:"temperature"`
	GitHub      codexGitHub `toml:"github"`
}

type codexGitHub struct {
	App string `toml:"app"`
}

func newCodexAdapter() Adapter {
	return &codexAdapter{
		base: base{
			cliType:    CLICodex,
			executable: "codex",
			toolsURL:   defaultToolsURL,
			caps: Capabilities{
				Streaming:       false,
				FunctionCalling: true,
				ContextWindow:   128_000,
				ConfigFormat:    FormatTOML,
				MemoryFilename:  "AGENTS.md",
			},
		},
	}
}

func (a *codexAdapter) RenderConfig(cfg AgentConfig) (*ConfigArtifactSet, error) {
	if err := a.validateRequired(cfg); err != nil {
		return nil, err
	}

	settings := codexSettings{
		Model:       cfg.Model,
		MaxTokens:   cfg.MaxTokens,
		Temperature: cfg.Temperature,
		GitHub:      codexGitHub{App: cfg.GitHubApp},
	}
	if settings.MaxTokens == 0 {
		settings.MaxTokens = defaultMaxTokens
	}
	if settings.Temperature == 0 {
		settings.Temperature = defaultTemperature
	}

	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(settings); err != nil {
		return nil, fmt.Errorf("rendering codex settings: %w", err)
	}

	return &ConfigArtifactSet{
		Artifacts: []ConfigArtifact{
			{Filename: ".codex/config.toml", Content: buf.Bytes()},
			a.memoryArtifact(cfg),
		},
	}, nil
}

func (a *codexAdapter) BuildInvocation(cfg AgentConfig, promptRef string) (*Invocation, error) {
	artifacts, err := a.RenderConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &Invocation{
		Command:     a.executable,
		Args:        []string{"exec", "--model", cfg.Model, promptRef},
		Env:         a.buildEnv(cfg),
		ConfigFiles: artifacts.Artifacts,
	}, nil
}

func (a *codexAdapter) ParseOutputStream(raw io.Reader) *EventStream {
	return newEventStream(raw)
}

func (a *codexAdapter) ValidateModel(model string) error {
	return permissiveValidateModel(a.cliType, model)
}
