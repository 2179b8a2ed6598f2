// internal/adapter/claude.go
package adapter

import (
	"fmt"
	"regexp"
	"strings"
)

// claudeAdapter extends the JSON adapter with MCP server wiring and a
// model check that knows Claude's naming prefixes. Unlike the other CLIs,
// Claude names follow a stable prefix convention worth checking.
type claudeAdapter struct {
	jsonAdapter
	modelPatterns []*regexp.Regexp
}

// Any claude-prefixed name is accepted so newly released snapshot
// models work without a code change; bare family aliases too.
var claudeModelPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^claude-`),
	regexp.MustCompile(`^(opus|sonnet|haiku)$`),
}

func newClaudeAdapter() Adapter {
	a := &claudeAdapter{
		jsonAdapter: jsonAdapter{
			base: base{
				cliType:    CLIClaude,
				executable: "claude",
				toolsURL:   defaultToolsURL,
				caps: Capabilities{
					Streaming:       true,
					FunctionCalling: true,
					ContextWindow:   200_000,
					ConfigFormat:    FormatJSON,
					MemoryFilename:  "CLAUDE.md",
				},
			},
			settingsPath: ".claude/settings.json",
		},
		modelPatterns: claudeModelPatterns,
	}
	a.buildArgs = func(cfg AgentConfig, promptRef string) []string {
		return []string{"-p", promptRef, "--model", cfg.Model, "--output-format", "stream-json"}
	}
	return a
}

func (a *claudeAdapter) RenderConfig(cfg AgentConfig) (*ConfigArtifactSet, error) {
	if err := a.validateRequired(cfg); err != nil {
		return nil, err
	}
	set, err := a.jsonAdapter.RenderConfig(cfg)
	if err != nil {
		return nil, err
	}
	if len(cfg.RemoteTools) == 0 {
		return set, nil
	}

	servers := make(map[string]mcpServer, len(cfg.RemoteTools))
	for _, tool := range sortedTools(cfg.RemoteTools) {
		servers[tool] = mcpServer{
			Command: "tools",
			Args:    []string{"--url", a.toolsURL, "--tool", tool},
			Env:     map[string]string{"TOOLS_SERVER_URL": a.toolsURL},
		}
	}
	settings := a.settings(cfg)
	settings.MCPServers = servers
	return a.renderWithSettings(cfg, settings)
}

func (a *claudeAdapter) renderWithSettings(cfg AgentConfig, settings cliSettings) (*ConfigArtifactSet, error) {
	content, err := marshalSettings(settings)
	if err != nil {
		return nil, fmt.Errorf("rendering claude settings: %w", err)
	}
	return &ConfigArtifactSet{
		Artifacts: []ConfigArtifact{
			{Filename: a.settingsPath, Content: content},
			a.memoryArtifact(cfg),
		},
	}, nil
}

func (a *claudeAdapter) BuildInvocation(cfg AgentConfig, promptRef string) (*Invocation, error) {
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

func (a *claudeAdapter) ValidateModel(model string) error {
	trimmed := strings.TrimSpace(model)
	if trimmed == "" {
		return fmt.Errorf("%w: model (cli %s)", ErrMissingField, a.cliType)
	}
	for _, p := range a.modelPatterns {
		if p.MatchString(trimmed) {
			return nil
		}
	}
	return fmt.Errorf("unknown claude model %q (expected a claude-* name, opus, sonnet, or haiku)", model)
}
