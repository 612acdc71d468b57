package cache

import (
	"container/list"
	"context"
	"sync"
	"time"
)

type memoryEntry struct {
	key        string
	value      []byte
	insertedAt time.Time
}

// MemoryStore is a bounded in-memory store with per-entry TTL and
// least-recently-used eviction. Expired entries are purged lazily on the
// next access or under capacity pressure; there is no background sweeper,
// so memory is only reclaimed on those paths.
//
// TTL expiry takes precedence over recency: an entry past its TTL is never
// returned, even if it was touched a moment ago.
type MemoryStore struct {
	mu       sync.Mutex
	items    map[string]*list.Element
	order    *list.List // front = most recently used
	capacity int
	ttl      time.Duration

	// now is swappable for expiry tests.
	now func() time.Time
}

// NewMemoryStore creates an in-memory store holding at most capacity
// entries, each valid for ttl after insertion.
func NewMemoryStore(capacity int, ttl time.Duration) *MemoryStore {
	if capacity <= 0 {
		capacity = 1
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &MemoryStore{
		items:    make(map[string]*list.Element, capacity),
		order:    list.New(),
		capacity: capacity,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get retrieves a value. A hit refreshes the entry's LRU position. An entry
// whose TTL has elapsed is removed and reported as a miss.
func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	elem, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}

	entry := elem.Value.(*memoryEntry)
	if s.now().Sub(entry.insertedAt) > s.ttl {
		s.removeLocked(elem)
		return nil, false, nil
	}

	s.order.MoveToFront(elem)
	return entry.value, true, nil
}

// Set inserts or replaces a value. Replacing an existing key updates its
// value and insertion time in place without touching capacity accounting.
// Inserting a new key into a full store first evicts the single
// least-recently-used entry, regardless of its remaining TTL.
func (s *MemoryStore) Set(_ context.Context, key string, value []byte) error {
	// Copy to decouple from caller's buffer
	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		entry := elem.Value.(*memoryEntry)
		entry.value = valueCopy
		entry.insertedAt = s.now()
		s.order.MoveToFront(elem)
		return nil
	}

	if s.order.Len() >= s.capacity {
		if oldest := s.order.Back(); oldest != nil {
			s.removeLocked(oldest)
		}
	}

	elem := s.order.PushFront(&memoryEntry{
		key:        key,
		value:      valueCopy,
		insertedAt: s.now(),
	})
	s.items[key] = elem
	return nil
}

// Delete removes a key if present.
func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if elem, ok := s.items[key]; ok {
		s.removeLocked(elem)
	}
	return nil
}

// Len returns the number of items currently in the store, including
// entries that have expired but not yet been purged.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.order.Len()
}

// Clear removes all items. Useful for tests or manual resets.
func (s *MemoryStore) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = make(map[string]*list.Element, s.capacity)
	s.order.Init()
}

func (s *MemoryStore) removeLocked(elem *list.Element) {
	entry := elem.Value.(*memoryEntry)
	delete(s.items, entry.key)
	s.order.Remove(elem)
}
