// internal/remediation/context.go
package remediation

import (
	"context"
	"strings"

	"github.com/google/go-github/v57/github"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/orchestrd/internal/logging"
)

// EnrichedContext is everything an agent gets about the failure it is
// asked to fix.
type EnrichedContext struct {
	Signal       FailureSignal
	PRTitle      string
	PRAuthor     string
	ChangedFiles []string
	PriorFixes   []PriorFix
}

// ContextGatherer assembles remediation context. Every source is best
// effort: a missing GitHub client, an API failure, or an unavailable
// pattern memory degrades to less context, never to a blocked
// remediation.
type ContextGatherer struct {
	github *github.Client
	memory *PatternMemory
	logger *logging.Logger
}

// NewContextGatherer wires the gatherer. Both github and memory may be
// nil.
func NewContextGatherer(gh *github.Client, memory *PatternMemory, logger *logging.Logger) *ContextGatherer {
	return &ContextGatherer{
		github: gh,
		memory: memory,
		logger: logger.Named("context"),
	}
}

// Gather assembles the context for one failure signal.
func (g *ContextGatherer) Gather(ctx context.Context, signal FailureSignal) *EnrichedContext {
	enriched := &EnrichedContext{Signal: signal}

	if g.github != nil && signal.PRNumber > 0 {
		g.addPRMetadata(ctx, enriched)
	}
	if g.memory != nil {
		enriched.PriorFixes = g.memory.Lookup(ctx, signal, 3)
	}
	return enriched
}

func (g *ContextGatherer) addPRMetadata(ctx context.Context, enriched *EnrichedContext) {
	owner, repo, ok := splitRepository(enriched.Signal.Repository)
	if !ok {
		g.logger.Warn(ctx, "malformed repository, skipping PR metadata",
			zap.String("repository", enriched.Signal.Repository))
		return
	}

	pr, _, err := g.github.PullRequests.Get(ctx, owner, repo, enriched.Signal.PRNumber)
	if err != nil {
		g.logger.Warn(ctx, "failed to fetch PR metadata, proceeding without",
			zap.Int("pr_number", enriched.Signal.PRNumber),
			zap.Error(err))
		return
	}
	enriched.PRTitle = pr.GetTitle()
	enriched.PRAuthor = pr.GetUser().GetLogin()

	files, _, err := g.github.PullRequests.ListFiles(ctx, owner, repo,
		enriched.Signal.PRNumber, &github.ListOptions{PerPage: 100})
	if err != nil {
		g.logger.Warn(ctx, "failed to list changed files, proceeding without",
			zap.Int("pr_number", enriched.Signal.PRNumber),
			zap.Error(err))
		return
	}
	for _, f := range files {
		enriched.ChangedFiles = append(enriched.ChangedFiles, f.GetFilename())
	}
}

func splitRepository(full string) (owner, repo string, ok bool) {
	parts := strings.SplitN(full, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", false
	}
	return parts[0], parts[1], true
}
