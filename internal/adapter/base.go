// internal/adapter/base.go
package adapter

import (
	"fmt"
	"sort"
	"strings"
)

// defaultToolsURL is where MCP tool servers are reached unless overridden
// at adapter construction. Invocation building stays a pure function by
// binding this at startup rather than reading the environment per call.
const defaultToolsURL = "http://tools.orchestrd.svc.cluster.local:3000/mcp"

// base carries the pieces every adapter shares.
type base struct {
	cliType    CLIType
	executable string
	caps       Capabilities
	toolsURL   string
}

func (b *base) Type() CLIType {
	return b.cliType
}

func (b *base) Capabilities() Capabilities {
	return b.caps
}

// validateRequired enforces the fail-fast contract: github identity and
// model must be present before any rendering happens.
func (b *base) validateRequired(cfg AgentConfig) error {
	if strings.TrimSpace(cfg.GitHubApp) == "" {
		return fmt.Errorf("%w: github_app (cli %s)", ErrMissingField, b.cliType)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return fmt.Errorf("%w: model (cli %s)", ErrMissingField, b.cliType)
	}
	return nil
}

// memoryArtifact renders the CLI's guidance file under its own filename
// convention.
func (b *base) memoryArtifact(cfg AgentConfig) ConfigArtifact {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Agent Guidance\n\n")
	fmt.Fprintf(&sb, "GitHub identity: %s\n", cfg.GitHubApp)
	if cfg.Guidance != "" {
		sb.WriteString("\n")
		sb.WriteString(cfg.Guidance)
		if !strings.HasSuffix(cfg.Guidance, "\n") {
			sb.WriteString("\n")
		}
	}
	return ConfigArtifact{
		Filename: b.caps.MemoryFilename,
		Content:  []byte(sb.String()),
	}
}

// buildEnv produces the invocation environment, sorted for deterministic
// output.
func (b *base) buildEnv(cfg AgentConfig) []string {
	env := []string{
		"AGENT_GITHUB_APP=" + cfg.GitHubApp,
		"AGENT_MODEL=" + cfg.Model,
	}
	if len(cfg.RemoteTools) > 0 {
		env = append(env, "TOOLS_SERVER_URL="+b.toolsURL)
	}
	sort.Strings(env)
	return env
}

// permissiveValidateModel rejects only empty or whitespace model names.
func permissiveValidateModel(cliType CLIType, model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("%w: model (cli %s)", ErrMissingField, cliType)
	}
	return nil
}

// sortedTools returns a stable copy of the remote tool list.
func sortedTools(tools []string) []string {
	out := make([]string, len(tools))
	copy(out, tools)
	sort.Strings(out)
	return out
}
