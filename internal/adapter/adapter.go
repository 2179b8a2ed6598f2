// internal/adapter/adapter.go
package adapter

import (
	"errors"
	"fmt"
	"io"
)

// CLIType identifies one supported agent CLI. The set is closed: adapters
// are registered at startup and never discovered at runtime.
type CLIType string

const (
	CLIClaude   CLIType = "claude"
	CLICodex    CLIType = "codex"
	CLICursor   CLIType = "cursor"
	CLIFactory  CLIType = "factory"
	CLIGemini   CLIType = "gemini"
	CLIOpenCode CLIType = "opencode"
)

// AllCLITypes returns the closed set of supported CLIs.
func AllCLITypes() []CLIType {
	return []CLIType{CLIClaude, CLICodex, CLICursor, CLIFactory, CLIGemini, CLIOpenCode}
}

// ParseCLIType validates a CLI name against the closed set.
func ParseCLIType(s string) (CLIType, error) {
	for _, t := range AllCLITypes() {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrAdapterNotFound, s)
}

var (
	// ErrDuplicateAdapter is returned when a CLI type is registered twice.
	ErrDuplicateAdapter = errors.New("adapter already registered")
	// ErrAdapterNotFound is returned for CLI types outside the closed set.
	ErrAdapterNotFound = errors.New("adapter not found")
	// ErrMissingField is returned when a required agent field is empty.
	// Callers must treat it as a configuration error: fail fast, never
	// retry, never default.
	ErrMissingField = errors.New("required agent field missing")
	// ErrRegistrySealed is returned when registering after initialization.
	ErrRegistrySealed = errors.New("registry is sealed")
)

// ConfigFormat is the CLI's native configuration file format.
type ConfigFormat string

const (
	FormatJSON ConfigFormat = "json"
	FormatTOML ConfigFormat = "toml"
)

// Capabilities describes what one CLI supports. Immutable after registry
// initialization.
type Capabilities struct {
	Streaming       bool
	Multimodal      bool
	FunctionCalling bool
	ContextWindow   int
	ConfigFormat    ConfigFormat
	MemoryFilename  string
}

// AgentConfig is the adapter-independent description of one agent the
// orchestrator wants to run.
type AgentConfig struct {
	GitHubApp   string
	Model       string
	MaxTokens   int
	Temperature float64
	RemoteTools []string
	Guidance    string
}

// ConfigArtifact is one rendered native config file.
type ConfigArtifact struct {
	Filename string
	Content  []byte
}

// ConfigArtifactSet is everything an adapter renders for a job: the CLI's
// native settings file plus its markdown guidance file.
type ConfigArtifactSet struct {
	Artifacts []ConfigArtifact
}

// Invocation is the fully materialized job submission. Building one is a
// pure function of its inputs.
type Invocation struct {
	Command     string
	Args        []string
	Env         []string
	ConfigFiles []ConfigArtifact
}

// Adapter wraps one CLI's config format, invocation pattern, and output
// parsing behind a uniform contract.
type Adapter interface {
	Type() CLIType
	Capabilities() Capabilities

	// RenderConfig produces the CLI's native config files. Missing
	// required fields (github identity, model) fail with ErrMissingField.
	RenderConfig(cfg AgentConfig) (*ConfigArtifactSet, error)

	// BuildInvocation is deterministic: identical inputs yield identical
	// command, args, env, and config files.
	BuildInvocation(cfg AgentConfig, promptRef string) (*Invocation, error)

	// ParseOutputStream wraps raw CLI output in a single-consumption
	// normalized event stream.
	ParseOutputStream(raw io.Reader) *EventStream

	// ValidateModel checks a model name. Policy is per-adapter; the
	// default is permissive because each CLI's catalog evolves on its
	// own and the subprocess is the authority on hard rejection.
	ValidateModel(model string) error
}
