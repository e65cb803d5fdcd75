package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// memoryStore is a size-bounded LRU of transform results.
type memoryStore struct {
	entries     map[string]*memoryEntry
	mutex       sync.Mutex
	maxSize     int64
	currentSize int64
	// LRU implementation
	head *memoryEntry
	tail *memoryEntry
	// Statistics tracking (atomic for thread safety)
	hits      int64
	misses    int64
	sets      int64
	evictions int64
}

type memoryEntry struct {
	key        string
	entry      Entry
	size       int64
	accessedAt time.Time
	// LRU doubly-linked list pointers
	prev *memoryEntry
	next *memoryEntry
}

func newMemoryStore(maxSize int64) *memoryStore {
	store := &memoryStore{
		entries: make(map[string]*memoryEntry),
		maxSize: maxSize,
	}

	// Dummy head and tail keep list operations branch free
	store.head = &memoryEntry{}
	store.tail = &memoryEntry{}
	store.head.next = store.tail
	store.tail.prev = store.head

	return store
}

// get returns the stored entry regardless of freshness. Freshness is the
// caller's decision so that a stale hit still counts as a miss.
func (s *memoryStore) get(key string) (Entry, bool) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	e, exists := s.entries[key]
	if !exists {
		return Entry{}, false
	}

	s.moveToFront(e)
	e.accessedAt = time.Now()
	return e.entry, true
}

// put replaces the whole entry for key.
func (s *memoryStore) put(key string, entry Entry) {
	size := int64(len(entry.Data))

	s.mutex.Lock()
	defer s.mutex.Unlock()

	atomic.AddInt64(&s.sets, 1)

	if existing, exists := s.entries[key]; exists {
		s.currentSize += size - existing.size
		existing.entry = entry
		existing.size = size
		existing.accessedAt = time.Now()
		s.moveToFront(existing)
		s.evictIfNeeded(0)
		return
	}

	// Entries larger than the whole store are not kept
	if s.maxSize > 0 && size > s.maxSize {
		return
	}

	s.evictIfNeeded(size)

	e := &memoryEntry{
		key:        key,
		entry:      entry,
		size:       size,
		accessedAt: time.Now(),
	}
	s.entries[key] = e
	s.currentSize += size
	s.addToFront(e)
}

// evictIfNeeded evicts entries until newSize more bytes fit. A zero maxSize
// means unbounded.
func (s *memoryStore) evictIfNeeded(newSize int64) {
	if s.maxSize <= 0 || s.currentSize+newSize <= s.maxSize {
		return
	}

	for s.currentSize+newSize > s.maxSize && s.tail.prev != s.head {
		lru := s.tail.prev
		s.removeFromList(lru)
		delete(s.entries, lru.key)
		s.currentSize -= lru.size
		atomic.AddInt64(&s.evictions, 1)
	}
}

func (s *memoryStore) stats() Stats {
	s.mutex.Lock()
	count := len(s.entries)
	size := s.currentSize
	s.mutex.Unlock()

	return Stats{
		Entries:   count,
		Size:      size,
		MaxSize:   s.maxSize,
		Hits:      atomic.LoadInt64(&s.hits),
		Misses:    atomic.LoadInt64(&s.misses),
		Sets:      atomic.LoadInt64(&s.sets),
		Evictions: atomic.LoadInt64(&s.evictions),
	}
}

// LRU doubly-linked list operations
func (s *memoryStore) addToFront(e *memoryEntry) {
	e.prev = s.head
	e.next = s.head.next
	s.head.next.prev = e
	s.head.next = e
}

func (s *memoryStore) removeFromList(e *memoryEntry) {
	e.prev.next = e.next
	e.next.prev = e.prev
}

func (s *memoryStore) moveToFront(e *memoryEntry) {
	s.removeFromList(e)
	s.addToFront(e)
}
