// internal/remediation/memory_test.go
package remediation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/orchestrd/internal/logging"
)

// hashEmbedder produces deterministic embeddings so similarity search is
// exercised without a model.
type hashEmbedder struct {
	fail bool
}

func (e *hashEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errors.New("model unavailable")
	}
	vec := make([]float32, 8)
	for i, r := range text {
		vec[i%8] += float32(r) / 1000
	}
	return vec, nil
}

func newTestMemory(t *testing.T, embedder Embedder) *PatternMemory {
	t.Helper()
	m, err := NewPatternMemory(t.TempDir(), embedder, 5*time.Second, logging.NewNop())
	require.NoError(t, err)
	return m
}

func TestPatternMemoryRecordAndLookup(t *testing.T) {
	m := newTestMemory(t, &hashEmbedder{})
	ctx := context.Background()

	task := NewRemediationTask(FailureSignal{
		WorkflowRunID: 11,
		WorkflowName:  "ci",
		JobName:       "go test",
		Branch:        "feature/task-1",
		Repository:    "fyrsmithlabs/widget",
		LogExcerpt:    "FAIL: TestParse expected 3 got 4",
	}, FailureLanguage)
	m.Record(ctx, task, "fixed off-by-one in parser")

	fixes := m.Lookup(ctx, FailureSignal{
		WorkflowName: "ci",
		JobName:      "go test",
		Branch:       "feature/task-9",
		LogExcerpt:   "FAIL: TestParse expected 5 got 6",
	}, 3)

	require.Len(t, fixes, 1)
	assert.Equal(t, FailureLanguage, fixes[0].FailureType)
	assert.Equal(t, "fixed off-by-one in parser", fixes[0].Fix)
	assert.Contains(t, fixes[0].Pattern, "go test")
	assert.Greater(t, fixes[0].Similarity, float32(0))
}

func TestPatternMemoryLookupEmptyStore(t *testing.T) {
	m := newTestMemory(t, &hashEmbedder{})

	fixes := m.Lookup(context.Background(), testSignal(), 3)

	assert.Nil(t, fixes)
}

func TestPatternMemoryLookupCapsLimit(t *testing.T) {
	m := newTestMemory(t, &hashEmbedder{})
	ctx := context.Background()

	task := NewRemediationTask(testSignal(), FailureLanguage)
	m.Record(ctx, task, "bumped fixture")

	// limit exceeds stored documents; lookup must clamp, not error.
	fixes := m.Lookup(ctx, testSignal(), 10)

	assert.Len(t, fixes, 1)
}

func TestPatternMemoryDegradesOnEmbedderFailure(t *testing.T) {
	embedder := &hashEmbedder{}
	m := newTestMemory(t, embedder)
	ctx := context.Background()

	m.Record(ctx, NewRemediationTask(testSignal(), FailureLanguage), "fixed it")

	embedder.fail = true
	fixes := m.Lookup(ctx, testSignal(), 3)

	assert.Nil(t, fixes)
}

func TestPatternMemoryRecordSwallowsEmbedderFailure(t *testing.T) {
	m := newTestMemory(t, &hashEmbedder{fail: true})

	// Must not panic or block; Record is fire-and-forget.
	m.Record(context.Background(), NewRemediationTask(testSignal(), FailureInfra), "fixed it")
}
