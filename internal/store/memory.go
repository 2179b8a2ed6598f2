// internal/store/memory.go
package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Memory is an in-process Store with the same conditional-write semantics
// as the NATS-backed implementation. Used in tests and single-node runs.
type Memory struct {
	mu       sync.Mutex
	entries  map[string]*Entry
	revision uint64
	watchers []*memWatcher
}

type memWatcher struct {
	prefix string
	ch     chan Change
	done   <-chan struct{}
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]*Entry)}
}

func (m *Memory) Get(_ context.Context, key string) (*Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	cp := *entry
	cp.Value = append([]byte(nil), entry.Value...)
	return &cp, nil
}

func (m *Memory) Create(_ context.Context, key string, value []byte) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.entries[key]; exists {
		return 0, fmt.Errorf("%w: key %s already exists", ErrConflict, key)
	}
	m.revision++
	m.entries[key] = &Entry{Key: key, Value: append([]byte(nil), value...), Revision: m.revision}
	m.notify(Change{Key: key, Value: value, Revision: m.revision})
	return m.revision, nil
}

func (m *Memory) Update(_ context.Context, key string, value []byte, expectedRevision uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.entries[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if entry.Revision != expectedRevision {
		return 0, fmt.Errorf("%w: key %s at revision %d, write expected %d",
			ErrConflict, key, entry.Revision, expectedRevision)
	}
	m.revision++
	m.entries[key] = &Entry{Key: key, Value: append([]byte(nil), value...), Revision: m.revision}
	m.notify(Change{Key: key, Value: value, Revision: m.revision})
	return m.revision, nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.entries[key]; !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	delete(m.entries, key)
	m.revision++
	m.notify(Change{Key: key, Revision: m.revision, Deleted: true})
	return nil
}

func (m *Memory) Watch(ctx context.Context, prefix string) (<-chan Change, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	w := &memWatcher{
		prefix: prefix,
		ch:     make(chan Change, 64),
		done:   ctx.Done(),
	}
	m.watchers = append(m.watchers, w)

	go func() {
		<-ctx.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, existing := range m.watchers {
			if existing == w {
				m.watchers = append(m.watchers[:i], m.watchers[i+1:]...)
				close(w.ch)
				return
			}
		}
	}()

	return w.ch, nil
}

// notify fans a change out to matching watchers. Callers hold m.mu. Slow
// watchers drop changes rather than block writers; the reconciler treats
// watch events as triggers, not as the source of truth, so a dropped
// change only delays the next reconcile.
func (m *Memory) notify(change Change) {
	for _, w := range m.watchers {
		if !strings.HasPrefix(change.Key, w.prefix) {
			continue
		}
		select {
		case w.ch <- change:
		default:
		}
	}
}

func (m *Memory) Close() error {
	return nil
}
