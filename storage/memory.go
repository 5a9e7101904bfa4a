package storage

import (
	"sort"
	"strings"
	"sync"
)

// MemoryBackend is a session-scoped Backend which lives as long as the process.
type MemoryBackend struct {
	mu    sync.RWMutex
	items map[string]string
}

var _ Backend = &MemoryBackend{} // MemoryBackend is-a Backend.
var _ Lister = &MemoryBackend{}  // MemoryBackend is-a Lister.

// NewMemoryBackend returns an empty MemoryBackend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{items: make(map[string]string)}
}

// GetItem implements Backend.
func (m *MemoryBackend) GetItem(key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var v, ok = m.items[key]
	return v, ok, nil
}

// SetItem implements Backend.
func (m *MemoryBackend) SetItem(key, value string) error {
	m.mu.Lock()
	m.items[key] = value
	m.mu.Unlock()
	return nil
}

// RemoveItem implements Backend.
func (m *MemoryBackend) RemoveItem(key string) error {
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

// Keys implements Lister.
func (m *MemoryBackend) Keys(prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []string
	for k := range m.items {
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out, nil
}
