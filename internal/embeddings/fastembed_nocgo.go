//go:build !cgo

// internal/embeddings/fastembed_nocgo.go
package embeddings

import (
	"context"
	"errors"
)

// ErrFastEmbedNotAvailable is returned when the binary was built without
// CGO. The pattern memory runs without prior-fix context in that case.
var ErrFastEmbedNotAvailable = errors.New("embeddings: fastembed requires a cgo build")

// FastEmbed is a stub for non-CGO builds.
type FastEmbed struct{}

// NewFastEmbed fails on non-CGO builds.
func NewFastEmbed(_ Config) (*FastEmbed, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (f *FastEmbed) EmbedQuery(_ context.Context, _ string) ([]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (f *FastEmbed) EmbedDocuments(_ context.Context, _ []string) ([][]float32, error) {
	return nil, ErrFastEmbedNotAvailable
}

func (f *FastEmbed) Dimension() int { return 0 }

func (f *FastEmbed) Close() error { return nil }
