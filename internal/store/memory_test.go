// internal/store/memory_test.go
package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCreateGet(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	rev, err := s.Create(ctx, "taskexec.a", []byte(`{"stage":"pending"}`))
	require.NoError(t, err)
	assert.Positive(t, rev)

	entry, err := s.Get(ctx, "taskexec.a")
	require.NoError(t, err)
	assert.Equal(t, []byte(`{"stage":"pending"}`), entry.Value)
	assert.Equal(t, rev, entry.Revision)
}

func TestMemoryCreateExisting(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_, err := s.Create(ctx, "taskexec.a", []byte("x"))
	require.NoError(t, err)

	_, err = s.Create(ctx, "taskexec.a", []byte("y"))
	require.ErrorIs(t, err, ErrConflict)
}

func TestMemoryGetMissing(t *testing.T) {
	s := NewMemory()
	_, err := s.Get(context.Background(), "taskexec.missing")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryConditionalUpdate(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	rev, err := s.Create(ctx, "taskexec.a", []byte("v1"))
	require.NoError(t, err)

	rev2, err := s.Update(ctx, "taskexec.a", []byte("v2"), rev)
	require.NoError(t, err)
	assert.Greater(t, rev2, rev)

	// Stale revision is rejected.
	_, err = s.Update(ctx, "taskexec.a", []byte("v3"), rev)
	require.ErrorIs(t, err, ErrConflict)

	entry, err := s.Get(ctx, "taskexec.a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), entry.Value)
}

func TestMemoryUpdateMissing(t *testing.T) {
	s := NewMemory()
	_, err := s.Update(context.Background(), "taskexec.gone", []byte("x"), 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryDelete(t *testing.T) {
	s := NewMemory()
	ctx := context.Background()

	_, err := s.Create(ctx, "taskexec.a", []byte("x"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "taskexec.a"))

	_, err = s.Get(ctx, "taskexec.a")
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, s.Delete(ctx, "taskexec.a"), ErrNotFound)
}

func TestMemoryWatchPrefix(t *testing.T) {
	s := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx, "taskexec.")
	require.NoError(t, err)

	_, err = s.Create(ctx, "taskexec.a", []byte("x"))
	require.NoError(t, err)
	_, err = s.Create(ctx, "remed.b", []byte("y"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "taskexec.a"))

	var changes []Change
	timeout := time.After(time.Second)
	for len(changes) < 2 {
		select {
		case c := <-ch:
			changes = append(changes, c)
		case <-timeout:
			t.Fatalf("timed out, got %d changes", len(changes))
		}
	}

	assert.Equal(t, "taskexec.a", changes[0].Key)
	assert.False(t, changes[0].Deleted)
	assert.Equal(t, "taskexec.a", changes[1].Key)
	assert.True(t, changes[1].Deleted)
}

func TestMemoryWatchClosedOnCancel(t *testing.T) {
	s := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := s.Watch(ctx, "")
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("watch channel not closed after cancel")
	}
}
