package cache

import (
	"container/list"
	"sync"

	"github.com/dgnsrekt/ttscache/internal/tts"
)

// MemoryIndex is an LRU of recently seen entries so that hot lookups do not
// read sidecars from disk. Entries are immutable, so the index never needs
// invalidation, only eviction.
type MemoryIndex struct {
	capacity int

	items    map[tts.Fingerprint]*list.Element
	eviction *list.List

	mu sync.Mutex
}

// NewMemoryIndex creates an index holding up to capacity entries. A
// capacity of zero or less disables the index.
func NewMemoryIndex(capacity int) *MemoryIndex {
	return &MemoryIndex{
		capacity: capacity,
		items:    make(map[tts.Fingerprint]*list.Element),
		eviction: list.New(),
	}
}

// Get returns the entry for fp and marks it recently used.
func (m *MemoryIndex) Get(fp tts.Fingerprint) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	elem, ok := m.items[fp]
	if !ok {
		return nil, false
	}
	m.eviction.MoveToFront(elem)
	return elem.Value.(*Entry), true
}

// Put adds an entry, evicting the least recently used one when full.
func (m *MemoryIndex) Put(e *Entry) {
	if m.capacity <= 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[e.Fingerprint]; ok {
		elem.Value = e
		m.eviction.MoveToFront(elem)
		return
	}

	m.items[e.Fingerprint] = m.eviction.PushFront(e)

	for m.eviction.Len() > m.capacity {
		oldest := m.eviction.Back()
		m.eviction.Remove(oldest)
		delete(m.items, oldest.Value.(*Entry).Fingerprint)
	}
}

// Remove drops fp from the index.
func (m *MemoryIndex) Remove(fp tts.Fingerprint) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if elem, ok := m.items[fp]; ok {
		m.eviction.Remove(elem)
		delete(m.items, fp)
	}
}

// Len returns the number of indexed entries.
func (m *MemoryIndex) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.eviction.Len()
}
