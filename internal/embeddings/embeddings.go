// internal/embeddings/embeddings.go

// Package embeddings provides the local embedding provider backing the
// remediation pattern memory.
package embeddings

import "context"

// Provider generates embeddings for pattern memory records and lookups.
type Provider interface {
	// EmbedQuery embeds a single lookup query.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	// EmbedDocuments embeds a batch of stored patterns.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	// Dimension returns the embedding dimension of the configured model.
	Dimension() int
	// Close releases model resources.
	Close() error
}

// Config selects and locates the embedding model.
type Config struct {
	// Model is the embedding model name. Defaults to BAAI/bge-small-en-v1.5.
	Model string
	// CacheDir is where model files are cached.
	CacheDir string
	// MaxLength caps the input sequence length. Defaults to 512.
	MaxLength int
}

const defaultModel = "BAAI/bge-small-en-v1.5"

// modelDimension returns the embedding dimension for known model names.
func modelDimension(model string) (int, bool) {
	dims := map[string]int{
		"BAAI/bge-small-en-v1.5":                 384,
		"BAAI/bge-small-en":                      384,
		"BAAI/bge-base-en-v1.5":                  768,
		"BAAI/bge-base-en":                       768,
		"sentence-transformers/all-MiniLM-L6-v2": 384,
	}
	dim, ok := dims[model]
	return dim, ok
}
