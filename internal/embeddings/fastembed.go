//go:build cgo

// internal/embeddings/fastembed.go
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"
)

var (
	// ErrEmptyInput is returned when there is nothing to embed.
	ErrEmptyInput = errors.New("embeddings: empty input")
	// ErrEmbeddingFailed wraps model inference failures.
	ErrEmbeddingFailed = errors.New("embeddings: inference failed")
)

// modelMapping maps model names to fastembed constants.
var modelMapping = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5":                 fastembed.BGESmallENV15,
	"BAAI/bge-small-en":                      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":                  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":                       fastembed.BGEBaseEN,
	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

// FastEmbed runs a local ONNX embedding model. It keeps remediation
// pattern lookups off the network entirely.
type FastEmbed struct {
	mu        sync.RWMutex
	model     *fastembed.FlagEmbedding
	modelName string
	dimension int
}

// NewFastEmbed loads the configured model, downloading it into the cache
// directory on first use.
func NewFastEmbed(cfg Config) (*FastEmbed, error) {
	name := cfg.Model
	if name == "" {
		name = defaultModel
	}
	model, ok := modelMapping[name]
	if !ok {
		return nil, fmt.Errorf("unsupported embedding model %q", name)
	}
	dimension, _ := modelDimension(name)

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "model_cache")
	}
	maxLength := cfg.MaxLength
	if maxLength == 0 {
		maxLength = 512
	}

	showProgress := false
	flagEmbed, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            maxLength,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing embedding model: %w", err)
	}

	return &FastEmbed{
		model:     flagEmbed,
		modelName: name,
		dimension: dimension,
	}, nil
}

// EmbedQuery embeds one lookup query. The model prepends its query
// prefix itself.
func (f *FastEmbed) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if text == "" {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	embedding, err := f.model.QueryEmbed(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return embedding, nil
}

// EmbedDocuments embeds a batch of stored patterns with the model's
// passage prefix.
func (f *FastEmbed) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.RLock()
	defer f.mu.RUnlock()

	embeddings, err := f.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbeddingFailed, err)
	}
	return embeddings, nil
}

// Dimension returns the embedding dimension of the loaded model.
func (f *FastEmbed) Dimension() int {
	return f.dimension
}

// Close releases the ONNX session.
func (f *FastEmbed) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.model != nil {
		return f.model.Destroy()
	}
	return nil
}
