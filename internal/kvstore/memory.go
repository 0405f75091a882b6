package kvstore

import (
	"sync"
	"time"

	"qp-go/internal/qp"
)

// MemoryStore is an in-process implementation of the qp.FastStore contract:
// an expiring key/value map with FIFO lists. It backs tests and single-node
// deployments; multi-process setups are expected to plug in an external
// service instead.
//
// Expiry is lazy: expired entries are dropped when read or overwritten. TTL
// counts from Set only — Get never refreshes it. This implementation is safe
// for concurrent use.
type MemoryStore struct {
	clock  qp.Clock
	mu     sync.RWMutex
	values map[string]entry
	lists  map[string][][]byte
}

type entry struct {
	data      []byte
	expiresAt time.Time // zero when the entry does not expire
}

// NewMemoryStore creates an empty store using the given clock (nil selects
// the real clock).
func NewMemoryStore(clock qp.Clock) *MemoryStore {
	if clock == nil {
		clock = qp.RealClock{}
	}
	return &MemoryStore{
		clock:  clock,
		values: make(map[string]entry),
		lists:  make(map[string][][]byte),
	}
}

func (e entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

// Get returns the value for key, or nil when absent or expired.
func (m *MemoryStore) Get(key string) ([]byte, error) {
	m.mu.RLock()
	e, ok := m.values[key]
	m.mu.RUnlock()

	if !ok || e.expired(m.clock.Now()) {
		return nil, nil
	}
	out := make([]byte, len(e.data))
	copy(out, e.data)
	return out, nil
}

// Set writes value under key with the given TTL, replacing any previous
// value and deadline. A zero ttl stores the value without expiry.
func (m *MemoryStore) Set(key string, value []byte, ttl time.Duration) error {
	data := make([]byte, len(value))
	copy(data, value)

	e := entry{data: data}
	if ttl > 0 {
		e.expiresAt = m.clock.Now().Add(ttl)
	}

	m.mu.Lock()
	m.values[key] = e
	m.mu.Unlock()
	return nil
}

// Remove deletes the key. Removing an absent key is not an error.
func (m *MemoryStore) Remove(key string) error {
	m.mu.Lock()
	delete(m.values, key)
	m.mu.Unlock()
	return nil
}

// ListAppend appends item to the tail of the list at key.
func (m *MemoryStore) ListAppend(key string, item []byte) error {
	data := make([]byte, len(item))
	copy(data, item)

	m.mu.Lock()
	m.lists[key] = append(m.lists[key], data)
	m.mu.Unlock()
	return nil
}

// ListPop removes and returns the head of the list at key, or nil when the
// list is empty.
func (m *MemoryStore) ListPop(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	list := m.lists[key]
	if len(list) == 0 {
		return nil, nil
	}
	head := list[0]
	m.lists[key] = list[1:]
	return head, nil
}

// ListLen returns the length of the list at key.
func (m *MemoryStore) ListLen(key string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.lists[key]), nil
}

// Compile-time check that MemoryStore implements qp.FastStore.
var _ qp.FastStore = (*MemoryStore)(nil)
