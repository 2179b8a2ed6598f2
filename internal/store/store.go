// internal/store/store.go

// Package store provides the durable resource store backing the
// reconciler, stage engine, and remediation router. Every write carries
// the revision observed at read time; the store rejects stale revisions so
// concurrent mutators are forced to re-read and retry.
package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when a key does not exist.
	ErrNotFound = errors.New("resource not found")
	// ErrConflict is returned on a stale-revision write or a create over
	// an existing key. Callers re-read and retry with bounded backoff.
	ErrConflict = errors.New("revision conflict")
)

// Entry is one stored resource with its revision token.
type Entry struct {
	Key      string
	Value    []byte
	Revision uint64
}

// Change is one observed mutation on the store.
type Change struct {
	Key      string
	Value    []byte
	Revision uint64
	Deleted  bool
}

// Store is a watchable key-value resource store with conditional writes.
type Store interface {
	// Get returns the entry for key, or ErrNotFound.
	Get(ctx context.Context, key string) (*Entry, error)

	// Create writes a new key. Returns the new revision, or ErrConflict
	// if the key already exists.
	Create(ctx context.Context, key string, value []byte) (uint64, error)

	// Update is a conditional write: it succeeds only if the stored
	// revision still equals expectedRevision, returning the new revision.
	// Stale revisions fail with ErrConflict; missing keys with
	// ErrNotFound.
	Update(ctx context.Context, key string, value []byte, expectedRevision uint64) (uint64, error)

	// Delete removes a key. Deleting a missing key returns ErrNotFound.
	Delete(ctx context.Context, key string) error

	// Watch streams changes for keys under the given prefix until ctx is
	// done. The returned channel is closed on cancellation.
	Watch(ctx context.Context, prefix string) (<-chan Change, error)

	// Close releases the store's resources.
	Close() error
}
