// internal/remediation/classify.go
package remediation

import (
	"regexp"
	"strings"
)

// Classification rule table. Deterministic: rules are checked in a fixed
// order against check/job names and log text, and the first matching
// bucket wins. Integration is the fallback for anything unclassified.
var (
	languagePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)clippy`),
		regexp.MustCompile(`(?i)cargo\s+(test|build|check)`),
		regexp.MustCompile(`(?i)rustc`),
		regexp.MustCompile(`error\[E\d+\]`),
		regexp.MustCompile(`warning:\s*unused`),
		regexp.MustCompile(`cannot\s+find\s+(crate|type|value)`),
		regexp.MustCompile(`Cargo\.toml`),
		regexp.MustCompile(`(?i)go\s+(test|build|vet)`),
		regexp.MustCompile(`(?i)golangci-lint`),
	}

	frontendPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)npm\s+(install|run|test|build)`),
		regexp.MustCompile(`(?i)pnpm`),
		regexp.MustCompile(`(?i)yarn`),
		regexp.MustCompile(`(?i)typescript|tsc`),
		regexp.MustCompile(`(?i)eslint`),
		regexp.MustCompile(`TS\d{4}:`),
		regexp.MustCompile(`SyntaxError.*\.tsx?`),
		regexp.MustCompile(`Module not found`),
	}

	infraPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)docker\s+(build|push|pull)`),
		regexp.MustCompile(`(?i)helm\s+(template|install|upgrade)`),
		regexp.MustCompile(`(?i)kubectl`),
		regexp.MustCompile(`(?i)argocd`),
		regexp.MustCompile(`(?i)OutOfSync|sync\s+failed`),
		regexp.MustCompile(`Dockerfile`),
		regexp.MustCompile(`(?i)yaml\s*(syntax|error|invalid)`),
		regexp.MustCompile(`Chart\.yaml`),
	}

	securityPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)dependabot`),
		regexp.MustCompile(`(?i)vulnerability|CVE-\d{4}`),
		regexp.MustCompile(`(?i)security\s*advisory`),
		regexp.MustCompile(`(?i)code[\s_-]?scanning`),
		regexp.MustCompile(`(?i)secret[\s_-]?scanning`),
	}

	mergePatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)merge\s+conflict`),
		regexp.MustCompile(`(?i)CONFLICT\s*\(`),
		regexp.MustCompile(`(?i)cannot\s+merge`),
		regexp.MustCompile(`(?i)automatic\s+merge\s+failed`),
	}
)

// Classify maps a failure signal to its specialist bucket. Security and
// merge-conflict signals are checked first: a security alert inside a
// frontend job is still a security problem, and a conflict is always for
// the integration agent regardless of which check tripped on it.
func Classify(signal FailureSignal) FailureType {
	haystack := signal.WorkflowName + "\n" + signal.JobName + "\n" + signal.LogExcerpt

	switch {
	case matchAny(securityPatterns, haystack):
		return FailureSecurity
	case matchAny(mergePatterns, haystack):
		return FailureIntegration
	case matchAny(languagePatterns, haystack):
		return FailureLanguage
	case matchAny(frontendPatterns, haystack):
		return FailureFrontend
	case matchAny(infraPatterns, haystack):
		return FailureInfra
	default:
		return FailureIntegration
	}
}

func matchAny(patterns []*regexp.Regexp, s string) bool {
	for _, p := range patterns {
		if p.MatchString(s) {
			return true
		}
	}
	return false
}

// RotateAgent picks the agent for a retry after the current one failed.
// Security work never leaves the security agent; the language and
// frontend agents hand off to infra when the changed files point there,
// and everything else falls back to the integration agent.
func RotateAgent(current string, changedFiles []string) string {
	hasInfraFiles := false
	for _, f := range changedFiles {
		if strings.Contains(f, "infra/") ||
			strings.HasSuffix(f, "Dockerfile") ||
			strings.Contains(f, "charts/") {
			hasInfraFiles = true
			break
		}
	}

	switch FailureType(current) {
	case FailureSecurity:
		return string(FailureSecurity)
	case FailureLanguage, FailureFrontend:
		if hasInfraFiles {
			return string(FailureInfra)
		}
		return string(FailureIntegration)
	case FailureInfra:
		return string(FailureIntegration)
	default:
		return string(FailureIntegration)
	}
}
