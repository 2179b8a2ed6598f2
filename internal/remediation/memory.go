// internal/remediation/memory.go
package remediation

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/philippgille/chromem-go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/logging"
)

const patternCollection = "remediation-patterns"

// Embedder generates query embeddings for pattern lookups.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// PriorFix is one historical "similar failure was fixed this way" record.
type PriorFix struct {
	FailureType FailureType
	Pattern     string
	Fix         string
	Similarity  float32
}

// PatternMemory persists failure-pattern → fix associations in an
// embedded vector store and answers best-effort similarity lookups.
// Lookups run under a short timeout and degrade to nothing on any error:
// memory unavailability must never block remediation.
type PatternMemory struct {
	db       *chromem.DB
	embedder Embedder
	timeout  time.Duration
	logger   *logging.Logger
}

// NewPatternMemory opens (or creates) the persistent store at path.
func NewPatternMemory(path string, embedder Embedder, timeout time.Duration, logger *logging.Logger) (*PatternMemory, error) {
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating memory directory %s: %w", path, err)
	}
	db, err := chromem.NewPersistentDB(path, false)
	if err != nil {
		return nil, fmt.Errorf("opening pattern memory: %w", err)
	}
	return &PatternMemory{
		db:       db,
		embedder: embedder,
		timeout:  timeout,
		logger:   logger.Named("memory"),
	}, nil
}

func (m *PatternMemory) embeddingFunc() chromem.EmbeddingFunc {
	return func(ctx context.Context, text string) ([]float32, error) {
		return m.embedder.EmbedQuery(ctx, text)
	}
}

func (m *PatternMemory) collection() (*chromem.Collection, error) {
	return m.db.GetOrCreateCollection(patternCollection, nil, m.embeddingFunc())
}

// Record persists a pattern → fix association. Callers invoke it
// fire-and-forget after a remediation succeeds; errors are logged, never
// propagated.
func (m *PatternMemory) Record(ctx context.Context, task *RemediationTask, fixSummary string) {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	col, err := m.collection()
	if err != nil {
		m.logger.Warn(ctx, "pattern memory unavailable, skipping record", zap.Error(err))
		return
	}

	doc := chromem.Document{
		ID:      task.ID,
		Content: patternText(task.Signal),
		Metadata: map[string]string{
			"failure_type": string(task.FailureType),
			"fix":          fixSummary,
			"repository":   task.Signal.Repository,
		},
	}
	if err := col.AddDocument(ctx, doc); err != nil {
		m.logger.Warn(ctx, "failed to record remediation pattern", zap.Error(err))
	}
}

// Lookup returns prior fixes for similar failures, best effort. A nil
// slice simply means "no prior context".
func (m *PatternMemory) Lookup(ctx context.Context, signal FailureSignal, limit int) []PriorFix {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	col, err := m.collection()
	if err != nil {
		m.logger.Warn(ctx, "pattern memory unavailable, proceeding without prior context", zap.Error(err))
		return nil
	}
	if col.Count() == 0 {
		return nil
	}
	if limit > col.Count() {
		limit = col.Count()
	}

	results, err := col.Query(ctx, patternText(signal), limit, nil, nil)
	if err != nil {
		m.logger.Warn(ctx, "pattern lookup failed, proceeding without prior context", zap.Error(err))
		return nil
	}

	fixes := make([]PriorFix, 0, len(results))
	for _, r := range results {
		fixes = append(fixes, PriorFix{
			FailureType: FailureType(r.Metadata["failure_type"]),
			Pattern:     r.Content,
			Fix:         r.Metadata["fix"],
			Similarity:  r.Similarity,
		})
	}
	return fixes
}

// patternText is the embedded representation of a failure.
func patternText(signal FailureSignal) string {
	return fmt.Sprintf("%s / %s on %s: %s",
		signal.WorkflowName, signal.JobName, signal.Branch, signal.LogExcerpt)
}
