// internal/store/nats.go
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
)

// NATS is the JetStream key-value backed Store. KV revisions give true
// conditional writes: an update carrying a stale revision is rejected by
// the server, not detected after the fact by a read-back.
type NATS struct {
	nc     *nats.Conn
	kv     nats.KeyValue
	bucket string
}

// NATSConfig configures the JetStream-backed store.
type NATSConfig struct {
	URL    string
	Bucket string
}

// NewNATS connects and binds (or creates) the KV bucket.
func NewNATS(cfg NATSConfig) (*NATS, error) {
	nc, err := nats.Connect(cfg.URL, nats.Name("orchestrd-store"))
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	s, err := NewNATSWithConn(nc, cfg.Bucket)
	if err != nil {
		nc.Close()
		return nil, err
	}
	return s, nil
}

// NewNATSWithConn binds the store to an existing connection. Close will
// close the connection.
func NewNATSWithConn(nc *nats.Conn, bucket string) (*NATS, error) {
	js, err := nc.JetStream()
	if err != nil {
		return nil, fmt.Errorf("opening jetstream context: %w", err)
	}

	kv, err := js.KeyValue(bucket)
	if errors.Is(err, nats.ErrBucketNotFound) {
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:  bucket,
			History: 1,
		})
	}
	if err != nil {
		return nil, fmt.Errorf("binding kv bucket %q: %w", bucket, err)
	}

	return &NATS{nc: nc, kv: kv, bucket: bucket}, nil
}

func (s *NATS) Get(_ context.Context, key string) (*Entry, error) {
	entry, err := s.kv.Get(key)
	if errors.Is(err, nats.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("getting %s: %w", key, err)
	}
	return &Entry{Key: key, Value: entry.Value(), Revision: entry.Revision()}, nil
}

func (s *NATS) Create(_ context.Context, key string, value []byte) (uint64, error) {
	rev, err := s.kv.Create(key, value)
	if errors.Is(err, nats.ErrKeyExists) {
		return 0, fmt.Errorf("%w: key %s already exists", ErrConflict, key)
	}
	if err != nil {
		return 0, fmt.Errorf("creating %s: %w", key, err)
	}
	return rev, nil
}

func (s *NATS) Update(_ context.Context, key string, value []byte, expectedRevision uint64) (uint64, error) {
	rev, err := s.kv.Update(key, value, expectedRevision)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		if isWrongSequence(err) {
			// JetStream rejects updates of missing keys with the same
			// wrong-last-sequence error as stale revisions. Probe the key
			// so callers can tell a miss from a lost race.
			if _, getErr := s.kv.Get(key); errors.Is(getErr, nats.ErrKeyNotFound) {
				return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
			}
			return 0, fmt.Errorf("%w: key %s, write expected revision %d",
				ErrConflict, key, expectedRevision)
		}
		return 0, fmt.Errorf("updating %s: %w", key, err)
	}
	return rev, nil
}

func (s *NATS) Delete(ctx context.Context, key string) error {
	// KV delete markers succeed on missing keys; probe first to keep the
	// miss visible to callers.
	if _, err := s.Get(ctx, key); err != nil {
		return err
	}
	if err := s.kv.Delete(key); err != nil {
		return fmt.Errorf("deleting %s: %w", key, err)
	}
	return nil
}

func (s *NATS) Watch(ctx context.Context, prefix string) (<-chan Change, error) {
	watcher, err := s.kv.WatchAll(nats.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("watching bucket %q: %w", s.bucket, err)
	}

	ch := make(chan Change, 64)
	go func() {
		defer close(ch)
		defer func() { _ = watcher.Stop() }()
		for {
			select {
			case <-ctx.Done():
				return
			case entry, ok := <-watcher.Updates():
				if !ok {
					return
				}
				if entry == nil {
					// Initial replay done.
					continue
				}
				if !strings.HasPrefix(entry.Key(), prefix) {
					continue
				}
				change := Change{
					Key:      entry.Key(),
					Value:    entry.Value(),
					Revision: entry.Revision(),
					Deleted:  entry.Operation() != nats.KeyValuePut,
				}
				select {
				case ch <- change:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func (s *NATS) Close() error {
	s.nc.Close()
	return nil
}

// isWrongSequence detects the server's stale-revision rejection.
func isWrongSequence(err error) bool {
	var apiErr *nats.APIError
	return errors.As(err, &apiErr) && apiErr.ErrorCode == nats.JSErrCodeStreamWrongLastSequence
}
