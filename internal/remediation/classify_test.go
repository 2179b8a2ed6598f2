// internal/remediation/classify_test.go
package remediation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		signal FailureSignal
		want   FailureType
	}{
		{
			name:   "go test failure",
			signal: FailureSignal{JobName: "unit", LogExcerpt: "go test ./... exit 1"},
			want:   FailureLanguage,
		},
		{
			name:   "golangci-lint failure",
			signal: FailureSignal{WorkflowName: "golangci-lint"},
			want:   FailureLanguage,
		},
		{
			name:   "clippy failure",
			signal: FailureSignal{JobName: "clippy"},
			want:   FailureLanguage,
		},
		{
			name:   "rustc error code",
			signal: FailureSignal{LogExcerpt: "error[E0308]: mismatched types"},
			want:   FailureLanguage,
		},
		{
			name:   "typescript error",
			signal: FailureSignal{LogExcerpt: "src/app.tsx TS2345: Argument of type"},
			want:   FailureFrontend,
		},
		{
			name:   "eslint job",
			signal: FailureSignal{JobName: "eslint"},
			want:   FailureFrontend,
		},
		{
			name:   "docker build failure",
			signal: FailureSignal{LogExcerpt: "docker build failed: step 4/9"},
			want:   FailureInfra,
		},
		{
			name:   "helm template failure",
			signal: FailureSignal{LogExcerpt: "helm template rendered invalid manifest"},
			want:   FailureInfra,
		},
		{
			name:   "dependabot alert",
			signal: FailureSignal{WorkflowName: "Dependabot Updates"},
			want:   FailureSecurity,
		},
		{
			name:   "cve in logs",
			signal: FailureSignal{LogExcerpt: "found CVE-2024-12345 in lodash"},
			want:   FailureSecurity,
		},
		{
			name:   "merge conflict",
			signal: FailureSignal{LogExcerpt: "CONFLICT (content): Merge conflict in main.go"},
			want:   FailureIntegration,
		},
		{
			name:   "unclassified falls back to integration",
			signal: FailureSignal{WorkflowName: "mystery", LogExcerpt: "something exploded"},
			want:   FailureIntegration,
		},
		{
			name: "security wins over frontend in same job",
			signal: FailureSignal{
				JobName:    "eslint",
				LogExcerpt: "npm audit found vulnerability GHSA-xxxx",
			},
			want: FailureSecurity,
		},
		{
			name: "merge conflict wins over language",
			signal: FailureSignal{
				JobName:    "go test",
				LogExcerpt: "Automatic merge failed; fix conflicts and then commit",
			},
			want: FailureIntegration,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.signal))
		})
	}
}

func TestRotateAgent(t *testing.T) {
	tests := []struct {
		name         string
		current      string
		changedFiles []string
		want         string
	}{
		{
			name:    "security never rotates away",
			current: "security",
			want:    "security",
		},
		{
			name:    "language rotates to integration",
			current: "language",
			want:    "integration",
		},
		{
			name:         "language rotates to infra when infra files changed",
			current:      "language",
			changedFiles: []string{"cmd/main.go", "infra/deploy.yaml"},
			want:         "infra",
		},
		{
			name:         "frontend rotates to infra on dockerfile change",
			current:      "frontend",
			changedFiles: []string{"Dockerfile"},
			want:         "infra",
		},
		{
			name:         "frontend rotates to infra on chart change",
			current:      "frontend",
			changedFiles: []string{"charts/app/values.yaml"},
			want:         "infra",
		},
		{
			name:    "infra rotates to integration",
			current: "infra",
			want:    "integration",
		},
		{
			name:    "integration stays integration",
			current: "integration",
			want:    "integration",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RotateAgent(tt.current, tt.changedFiles))
		})
	}
}
