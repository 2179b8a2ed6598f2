// internal/reconciler/catalog.go
package reconciler

import (
	"fmt"
	"path"
	"sync"

	"github.com/fyrsmithlabs/orchestrd/internal/adapter"
	"github.com/fyrsmithlabs/orchestrd/internal/task"
)

// AgentCatalog maps agent roles to their configurations and prompt
// artifacts. Loaded once at startup and sealed; runtime patching would
// race concurrent reconciliations.
type AgentCatalog struct {
	mu         sync.Mutex
	agents     map[string]AgentEntry
	promptBase string
	sealed     bool
}

// AgentEntry is one catalog row: the agent's configuration and the CLI
// it runs on.
type AgentEntry struct {
	Config  adapter.AgentConfig
	CLIType adapter.CLIType
}

// NewAgentCatalog returns an empty catalog. promptBase roots the prompt
// artifact tree; refs are built as
// <base>/<agent_role>/<cli_type>/<stage>.md.
func NewAgentCatalog(promptBase string) *AgentCatalog {
	return &AgentCatalog{
		agents:     make(map[string]AgentEntry),
		promptBase: promptBase,
	}
}

// Add registers an agent role. Fails after sealing or on duplicates.
func (c *AgentCatalog) Add(role string, cliType adapter.CLIType, cfg adapter.AgentConfig) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sealed {
		return fmt.Errorf("catalog is sealed, cannot add role %q", role)
	}
	if _, exists := c.agents[role]; exists {
		return fmt.Errorf("agent role %q already registered", role)
	}
	c.agents[role] = AgentEntry{Config: cfg, CLIType: cliType}
	return nil
}

// Seal freezes the catalog.
func (c *AgentCatalog) Seal() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sealed = true
}

// AgentFor resolves the configuration and CLI for a role.
func (c *AgentCatalog) AgentFor(role string) (adapter.AgentConfig, adapter.CLIType, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.agents[role]
	if !ok {
		return adapter.AgentConfig{}, "", fmt.Errorf("unknown agent role %q", role)
	}
	return entry.Config, entry.CLIType, nil
}

// PromptRef selects the prompt artifact for (role, cli, stage). Content
// behind the ref is authored externally and treated as opaque.
func (c *AgentCatalog) PromptRef(role string, cliType adapter.CLIType, stage task.Stage) string {
	return path.Join(c.promptBase, role, string(cliType), stage.String()+".md")
}
