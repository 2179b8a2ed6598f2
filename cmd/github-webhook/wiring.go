package main

import (
	"context"
	"fmt"

	gogithub "github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"

	"github.com/fyrsmithlabs/orchestrd/internal/adapter"
	"github.com/fyrsmithlabs/orchestrd/internal/config"
	"github.com/fyrsmithlabs/orchestrd/internal/reconciler"
)

func buildCatalog(registry *adapter.Registry, cfg config.AgentsConfig) (*reconciler.AgentCatalog, error) {
	catalog := reconciler.NewAgentCatalog(cfg.PromptBase)
	for role, rc := range cfg.Roles {
		cliType, err := adapter.ParseCLIType(rc.CLI)
		if err != nil {
			return nil, fmt.Errorf("agents.roles.%s: %w", role, err)
		}
		a, err := registry.Resolve(cliType)
		if err != nil {
			return nil, fmt.Errorf("agents.roles.%s: %w", role, err)
		}
		if err := a.ValidateModel(rc.Model); err != nil {
			return nil, fmt.Errorf("agents.roles.%s: %w", role, err)
		}
		err = catalog.Add(role, cliType, adapter.AgentConfig{
			GitHubApp:   rc.GitHubApp,
			Model:       rc.Model,
			MaxTokens:   rc.MaxTokens,
			Temperature: rc.Temperature,
			RemoteTools: rc.RemoteTools,
			Guidance:    rc.Guidance,
		})
		if err != nil {
			return nil, fmt.Errorf("agents.roles.%s: %w", role, err)
		}
	}
	catalog.Seal()
	return catalog, nil
}

func githubClient(ctx context.Context, token config.Secret) *gogithub.Client {
	if token == "" {
		return nil
	}
	ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token.Value()})
	return gogithub.NewClient(oauth2.NewClient(ctx, ts))
}
