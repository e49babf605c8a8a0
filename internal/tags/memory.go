package tags

import (
	"sync"
	"time"
)

// MemStore keeps tags in memory. It also serves as a test double: setting
// WriteErr makes writes fail.
type MemStore struct {
	mu   sync.Mutex
	tags map[string]any

	// WriteErr, if set, fails writes to FailKey, or to every key if FailKey
	// is empty.
	WriteErr error
	FailKey  string

	// Writes counts the tag writes applied.
	Writes int

	// Closed tracks if Close was called.
	Closed bool
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{tags: make(map[string]any)}
}

// Read returns the value stored under key.
func (m *MemStore) Read(key string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	v, ok := m.tags[key]
	if !ok {
		return nil, &NotFoundError{Key: key}
	}
	return v, nil
}

// Write stores value under key.
func (m *MemStore) Write(key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.check(key); err != nil {
		return err
	}
	m.set(key, value)
	return nil
}

// WriteBatch applies all writes, or none if any would fail.
func (m *MemStore) WriteBatch(writes []Write) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range writes {
		if err := m.check(w.Key); err != nil {
			return err
		}
	}
	for _, w := range writes {
		m.set(w.Key, w.Value)
	}
	return nil
}

// Delete removes a key. Used to simulate provisioning gaps.
func (m *MemStore) Delete(key string) {
	m.mu.Lock()
	delete(m.tags, key)
	m.mu.Unlock()
}

// Len returns the number of stored tags.
func (m *MemStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tags)
}

// Close marks the store as closed.
func (m *MemStore) Close() error {
	m.mu.Lock()
	m.Closed = true
	m.mu.Unlock()
	return nil
}

func (m *MemStore) check(key string) error {
	if m.WriteErr != nil && (m.FailKey == "" || m.FailKey == key) {
		return &WriteError{Key: key, Err: m.WriteErr}
	}
	return nil
}

func (m *MemStore) set(key string, value any) {
	// Normalize timestamps so reads compare equal regardless of the
	// caller's location or monotonic reading.
	if t, ok := value.(time.Time); ok {
		value = t.UTC().Round(0)
	}
	m.tags[key] = value
	m.Writes++
}
