// internal/embeddings/embeddings_test.go
package embeddings

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestModelDimension(t *testing.T) {
	tests := []struct {
		model string
		dim   int
		known bool
	}{
		{"BAAI/bge-small-en-v1.5", 384, true},
		{"BAAI/bge-base-en-v1.5", 768, true},
		{"sentence-transformers/all-MiniLM-L6-v2", 384, true},
		{"openai/text-embedding-3-small", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			dim, known := modelDimension(tt.model)
			assert.Equal(t, tt.known, known)
			assert.Equal(t, tt.dim, dim)
		})
	}
}
