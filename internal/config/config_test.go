package config

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyDefaults(t *testing.T) {
	var cfg Config
	applyDefaults(&cfg)

	assert.Equal(t, "orchestrd", cfg.Store.Bucket)
	assert.Equal(t, "localhost:7233", cfg.Temporal.HostPort)
	assert.Equal(t, "orchestrd-pipeline", cfg.Temporal.TaskQueue)
	assert.Equal(t, 3000, cfg.Webhook.Port)
	assert.Equal(t, 3, cfg.Remediation.MaxAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Remediation.DedupWindow.Duration())
	assert.Equal(t, []Duration{
		Duration(5 * time.Second),
		Duration(30 * time.Second),
		Duration(2 * time.Minute),
	}, cfg.Reconciler.SubmitBackoff)
}

func TestApplyDefaultsPreservesExplicitValues(t *testing.T) {
	cfg := Config{
		Remediation: RemediationConfig{
			MaxAttempts: 5,
			DedupWindow: Duration(time.Minute),
		},
	}
	applyDefaults(&cfg)

	assert.Equal(t, 5, cfg.Remediation.MaxAttempts)
	assert.Equal(t, time.Minute, cfg.Remediation.DedupWindow.Duration())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "defaults valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "zero max attempts",
			mutate:  func(c *Config) { c.Remediation.MaxAttempts = -1 },
			wantErr: "max_attempts",
		},
		{
			name:    "bad port",
			mutate:  func(c *Config) { c.Webhook.Port = 99999 },
			wantErr: "port",
		},
		{
			name:    "bad log format",
			mutate:  func(c *Config) { c.Logging.Format = "xml" },
			wantErr: "logging.format",
		},
		{
			name:    "negative backoff",
			mutate:  func(c *Config) { c.Reconciler.SubmitBackoff = []Duration{0} },
			wantErr: "submit_backoff",
		},
		{
			name: "agent role missing cli",
			mutate: func(c *Config) {
				c.Agents.Roles = map[string]AgentRoleConfig{
					"implementation": {GitHubApp: "impl-bot", Model: "sonnet"},
				}
			},
			wantErr: "agents.roles.implementation.cli",
		},
		{
			name: "agent role missing github app",
			mutate: func(c *Config) {
				c.Agents.Roles = map[string]AgentRoleConfig{
					"quality": {CLI: "claude", Model: "sonnet"},
				}
			},
			wantErr: "agents.roles.quality.github_app",
		},
		{
			name: "agent role missing model",
			mutate: func(c *Config) {
				c.Agents.Roles = map[string]AgentRoleConfig{
					"quality": {CLI: "claude", GitHubApp: "quality-bot"},
				}
			},
			wantErr: "agents.roles.quality.model",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var cfg Config
			applyDefaults(&cfg)
			tt.mutate(&cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
			}
		})
	}
}

func TestSecretRedaction(t *testing.T) {
	s := Secret("ghp_supersecret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "ghp_supersecret", s.Value())
	assert.True(t, s.IsSet())

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.JSONEq(t, `"[REDACTED]"`, string(data))

	var empty Secret
	assert.False(t, empty.IsSet())
	assert.Equal(t, "", empty.String())
}

func TestDurationUnmarshalText(t *testing.T) {
	var d Duration
	require.NoError(t, d.UnmarshalText([]byte("2m30s")))
	assert.Equal(t, 2*time.Minute+30*time.Second, d.Duration())

	assert.Error(t, d.UnmarshalText([]byte("not-a-duration")))
	assert.Error(t, d.UnmarshalText([]byte("-5s")))
}
