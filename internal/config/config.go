// Package config provides configuration loading for orchestrd.
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the orchestrd daemon.
type Config struct {
	Store       StoreConfig       `koanf:"store"`
	Temporal    TemporalConfig    `koanf:"temporal"`
	Webhook     WebhookConfig     `koanf:"webhook"`
	Reconciler  ReconcilerConfig  `koanf:"reconciler"`
	Remediation RemediationConfig `koanf:"remediation"`
	Agents      AgentsConfig      `koanf:"agents"`
	Logging     LoggingConfig     `koanf:"logging"`
	Telemetry   TelemetryConfig   `koanf:"telemetry"`
}

// TelemetryConfig switches OTel export on and points it at a collector.
// The telemetry package carries the full exporter settings; these are
// the knobs deployments actually turn.
type TelemetryConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
}

// AgentsConfig is the agent catalog: role name to agent definition.
type AgentsConfig struct {
	// PromptBase is the root directory of the prompt template tree.
	PromptBase string `koanf:"prompt_base"`

	// Roles maps an agent role to its definition.
	Roles map[string]AgentRoleConfig `koanf:"roles"`
}

// AgentRoleConfig defines one agent role.
type AgentRoleConfig struct {
	CLI         string   `koanf:"cli"`
	GitHubApp   string   `koanf:"github_app"`
	Model       string   `koanf:"model"`
	MaxTokens   int      `koanf:"max_tokens"`
	Temperature float64  `koanf:"temperature"`
	RemoteTools []string `koanf:"remote_tools"`
	Guidance    string   `koanf:"guidance"`
}

// StoreConfig configures the durable resource store.
type StoreConfig struct {
	// NATSURL is the NATS server to connect to. Empty means embedded
	// in-process server (local mode).
	NATSURL string `koanf:"nats_url"`

	// Bucket is the JetStream KV bucket holding task executions and
	// remediation tasks.
	Bucket string `koanf:"bucket"`

	// DataDir is where the embedded server keeps its JetStream state
	// and where job workspaces and logs live.
	DataDir string `koanf:"data_dir"`
}

// TemporalConfig configures the workflow runtime connection.
type TemporalConfig struct {
	HostPort  string `koanf:"host_port"`
	Namespace string `koanf:"namespace"`
	TaskQueue string `koanf:"task_queue"`
}

// WebhookConfig configures the GitHub webhook ingress server.
type WebhookConfig struct {
	Port          int    `koanf:"port"`
	WebhookSecret Secret `koanf:"webhook_secret"`
	GitHubToken   Secret `koanf:"github_token"`
}

// ReconcilerConfig configures reconciliation retry behavior.
type ReconcilerConfig struct {
	// MaxSubmitRetries bounds job submission retries before a task
	// execution is marked Degraded.
	MaxSubmitRetries int `koanf:"max_submit_retries"`

	// SubmitBackoff is the backoff schedule between submission retries.
	// The last entry repeats once the schedule is exhausted.
	SubmitBackoff []Duration `koanf:"submit_backoff"`
}

// RemediationConfig configures failure classification and remediation.
type RemediationConfig struct {
	// MaxAttempts is the hard cap on remediation attempts per task.
	MaxAttempts int `koanf:"max_attempts"`

	// DedupWindow suppresses duplicate failure signals sharing a dedup key.
	DedupWindow Duration `koanf:"dedup_window"`

	// MemoryPath is the on-disk location of the pattern memory store.
	// Empty disables persistence (in-memory only).
	MemoryPath string `koanf:"memory_path"`

	// MemoryTimeout bounds best-effort memory lookups during context
	// gathering.
	MemoryTimeout Duration `koanf:"memory_timeout"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Store.Bucket == "" {
		cfg.Store.Bucket = "orchestrd"
	}
	if cfg.Store.DataDir == "" {
		cfg.Store.DataDir = "data"
	}

	if cfg.Temporal.HostPort == "" {
		cfg.Temporal.HostPort = "localhost:7233"
	}
	if cfg.Temporal.Namespace == "" {
		cfg.Temporal.Namespace = "default"
	}
	if cfg.Temporal.TaskQueue == "" {
		cfg.Temporal.TaskQueue = "orchestrd-pipeline"
	}

	if cfg.Webhook.Port == 0 {
		cfg.Webhook.Port = 3000
	}

	if cfg.Reconciler.MaxSubmitRetries == 0 {
		cfg.Reconciler.MaxSubmitRetries = 5
	}
	if len(cfg.Reconciler.SubmitBackoff) == 0 {
		cfg.Reconciler.SubmitBackoff = []Duration{
			Duration(5 * time.Second),
			Duration(30 * time.Second),
			Duration(2 * time.Minute),
		}
	}

	if cfg.Remediation.MaxAttempts == 0 {
		cfg.Remediation.MaxAttempts = 3
	}
	if cfg.Remediation.DedupWindow == 0 {
		cfg.Remediation.DedupWindow = Duration(10 * time.Minute)
	}
	if cfg.Remediation.MemoryTimeout == 0 {
		cfg.Remediation.MemoryTimeout = Duration(2 * time.Second)
	}

	if cfg.Agents.PromptBase == "" {
		cfg.Agents.PromptBase = "prompts"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.Store.Bucket == "" {
		return fmt.Errorf("store.bucket is required")
	}
	if c.Webhook.Port < 0 || c.Webhook.Port > 65535 {
		return fmt.Errorf("webhook.port out of range: %d", c.Webhook.Port)
	}
	if c.Reconciler.MaxSubmitRetries < 1 {
		return fmt.Errorf("reconciler.max_submit_retries must be >= 1, got %d", c.Reconciler.MaxSubmitRetries)
	}
	for i, d := range c.Reconciler.SubmitBackoff {
		if d.Duration() <= 0 {
			return fmt.Errorf("reconciler.submit_backoff[%d] must be > 0", i)
		}
	}
	if c.Remediation.MaxAttempts < 1 {
		return fmt.Errorf("remediation.max_attempts must be >= 1, got %d", c.Remediation.MaxAttempts)
	}
	if c.Remediation.DedupWindow.Duration() <= 0 {
		return fmt.Errorf("remediation.dedup_window must be > 0")
	}
	for role, agent := range c.Agents.Roles {
		if agent.CLI == "" {
			return fmt.Errorf("agents.roles.%s.cli is required", role)
		}
		if agent.GitHubApp == "" {
			return fmt.Errorf("agents.roles.%s.github_app is required", role)
		}
		if agent.Model == "" {
			return fmt.Errorf("agents.roles.%s.model is required", role)
		}
	}
	if c.Logging.Format != "json" && c.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", c.Logging.Format)
	}
	return nil
}
