// internal/store/nats_test.go
package store

import (
	"context"
	"testing"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// startTestNATSServer starts an embedded NATS server for testing.
func startTestNATSServer(t *testing.T) *natsserver.Server {
	opts := &natsserver.Options{
		Host:      "127.0.0.1",
		Port:      -1, // Random port
		NoLog:     true,
		NoSigs:    true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	}

	server, err := natsserver.NewServer(opts)
	require.NoError(t, err)

	go server.Start()

	if !server.ReadyForConnections(5 * time.Second) {
		t.Fatal("NATS server not ready")
	}

	t.Cleanup(func() {
		server.Shutdown()
		server.WaitForShutdown()
	})

	return server
}

func newTestNATSStore(t *testing.T) *NATS {
	server := startTestNATSServer(t)
	nc, err := nats.Connect(server.ClientURL())
	require.NoError(t, err)

	s, err := NewNATSWithConn(nc, "orchestrd-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestNATSCreateGetUpdate(t *testing.T) {
	s := newTestNATSStore(t)
	ctx := context.Background()

	rev, err := s.Create(ctx, "taskexec.a", []byte("v1"))
	require.NoError(t, err)

	entry, err := s.Get(ctx, "taskexec.a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v1"), entry.Value)
	assert.Equal(t, rev, entry.Revision)

	rev2, err := s.Update(ctx, "taskexec.a", []byte("v2"), rev)
	require.NoError(t, err)
	assert.Greater(t, rev2, rev)
}

func TestNATSConditionalWriteRejectsStaleRevision(t *testing.T) {
	s := newTestNATSStore(t)
	ctx := context.Background()

	rev, err := s.Create(ctx, "taskexec.a", []byte("v1"))
	require.NoError(t, err)

	_, err = s.Update(ctx, "taskexec.a", []byte("v2"), rev)
	require.NoError(t, err)

	// Second writer still holding the old revision loses.
	_, err = s.Update(ctx, "taskexec.a", []byte("v3"), rev)
	require.ErrorIs(t, err, ErrConflict)

	entry, err := s.Get(ctx, "taskexec.a")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), entry.Value)
}

func TestNATSCreateExisting(t *testing.T) {
	s := newTestNATSStore(t)
	ctx := context.Background()

	_, err := s.Create(ctx, "taskexec.a", []byte("x"))
	require.NoError(t, err)
	_, err = s.Create(ctx, "taskexec.a", []byte("y"))
	require.ErrorIs(t, err, ErrConflict)
}

func TestNATSNotFound(t *testing.T) {
	s := newTestNATSStore(t)
	ctx := context.Background()

	_, err := s.Get(ctx, "taskexec.missing")
	require.ErrorIs(t, err, ErrNotFound)

	_, err = s.Update(ctx, "taskexec.missing", []byte("x"), 1)
	require.ErrorIs(t, err, ErrNotFound)

	require.ErrorIs(t, s.Delete(ctx, "taskexec.missing"), ErrNotFound)
}

func TestNATSWatch(t *testing.T) {
	s := newTestNATSStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.Watch(ctx, "taskexec.")
	require.NoError(t, err)

	_, err = s.Create(ctx, "taskexec.a", []byte("v1"))
	require.NoError(t, err)
	_, err = s.Create(ctx, "remed.ignored", []byte("z"))
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "taskexec.a"))

	var changes []Change
	timeout := time.After(5 * time.Second)
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
	assert.True(t, changes[1].Deleted)
}
