// internal/adapter/registry_test.go
package adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultRegistryCoversClosedSet(t *testing.T) {
	r, err := NewDefaultRegistry()
	require.NoError(t, err)

	for _, cliType := range AllCLITypes() {
		a, err := r.Resolve(cliType)
		require.NoError(t, err, "cli %s", cliType)
		assert.Equal(t, cliType, a.Type())
		assert.Positive(t, a.Capabilities().ContextWindow)
		assert.NotEmpty(t, a.Capabilities().MemoryFilename)
	}
}

func TestResolveUnknown(t *testing.T) {
	r, err := NewDefaultRegistry()
	require.NoError(t, err)

	_, err = r.Resolve("copilot")
	require.ErrorIs(t, err, ErrAdapterNotFound)
}

func TestRegisterDuplicate(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newClaudeAdapter()))
	err := r.Register(newClaudeAdapter())
	require.ErrorIs(t, err, ErrDuplicateAdapter)
}

func TestRegisterAfterSeal(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(newClaudeAdapter()))
	r.Seal()
	err := r.Register(newCodexAdapter())
	require.ErrorIs(t, err, ErrRegistrySealed)
}

func TestParseCLIType(t *testing.T) {
	parsed, err := ParseCLIType("gemini")
	require.NoError(t, err)
	assert.Equal(t, CLIGemini, parsed)

	_, err = ParseCLIType("aider")
	require.ErrorIs(t, err, ErrAdapterNotFound)
}

func TestMemoryFilenameConventions(t *testing.T) {
	r, err := NewDefaultRegistry()
	require.NoError(t, err)

	want := map[CLIType]string{
		CLIClaude:   "CLAUDE.md",
		CLICodex:    "AGENTS.md",
		CLICursor:   "AGENTS.md",
		CLIFactory:  "AGENTS.md",
		CLIGemini:   "GEMINI.md",
		CLIOpenCode: "OPENCODE.md",
	}
	for cliType, filename := range want {
		a, err := r.Resolve(cliType)
		require.NoError(t, err)
		assert.Equal(t, filename, a.Capabilities().MemoryFilename, "cli %s", cliType)
	}
}
