// cmd/orchestrd/serve_test.go
package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestrd/internal/adapter"
	"github.com/fyrsmithlabs/orchestrd/internal/config"
)

func TestBuildCatalogValidatesModels(t *testing.T) {
	registry, err := adapter.NewDefaultRegistry()
	require.NoError(t, err)

	cfg := config.AgentsConfig{
		PromptBase: "prompts",
		Roles: map[string]config.AgentRoleConfig{
			"language": {CLI: "claude", GitHubApp: "remediator", Model: "claude-sonnet-4-20250514"},
			"qa":       {CLI: "codex", GitHubApp: "qa-bot", Model: "gpt-5-codex"},
		},
	}
	catalog, err := buildCatalog(registry, cfg)
	require.NoError(t, err)
	assert.NotNil(t, catalog)

	cfg.Roles["language"] = config.AgentRoleConfig{CLI: "claude", GitHubApp: "remediator", Model: "gpt-4o"}
	_, err = buildCatalog(registry, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown claude model")

	cfg.Roles["language"] = config.AgentRoleConfig{CLI: "claude", GitHubApp: "remediator", Model: "  "}
	_, err = buildCatalog(registry, cfg)
	require.Error(t, err)
}

func TestBuildCatalogRejectsUnknownCLI(t *testing.T) {
	registry, err := adapter.NewDefaultRegistry()
	require.NoError(t, err)

	cfg := config.AgentsConfig{
		Roles: map[string]config.AgentRoleConfig{
			"language": {CLI: "copilot", GitHubApp: "x", Model: "m"},
		},
	}
	_, err = buildCatalog(registry, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "agents.roles.language")
}
