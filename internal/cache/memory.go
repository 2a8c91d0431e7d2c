package cache

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// MemoryStore is an in-process LRU cache, size-bounded with a hard TTL
// ceiling enforced by the LRU itself; per-entry Fresh/Stale is checked at
// read time on top of that.
type MemoryStore struct {
	lru       *expirable.LRU[string, *Entry]
	mu        sync.Mutex // guards DeleteByPrefix's iterate-then-remove
	evictions atomic.Int64
	maxSize   int
}

// NewMemoryStore creates a store holding up to maxSize entries, each
// evicted by the LRU no later than maxTTL regardless of its own
// TTL/stale window.
func NewMemoryStore(maxSize int, maxTTL time.Duration) *MemoryStore {
	if maxSize <= 0 {
		maxSize = 1000
	}
	s := &MemoryStore{maxSize: maxSize}
	s.lru = expirable.NewLRU[string, *Entry](maxSize, func(string, *Entry) {
		s.evictions.Add(1)
	}, maxTTL)
	return s
}

func (s *MemoryStore) Get(key string) (*Entry, bool) {
	e, ok := s.lru.Get(key)
	if !ok {
		return nil, false
	}
	now := time.Now()
	if !e.Fresh(now) && !e.Stale(now) {
		s.lru.Remove(key)
		return nil, false
	}
	return e, true
}

func (s *MemoryStore) Set(key string, entry *Entry) {
	if entry.StoredAt.IsZero() {
		entry.StoredAt = time.Now()
	}
	s.lru.Add(key, entry)
}

func (s *MemoryStore) Delete(key string) {
	s.lru.Remove(key)
}

func (s *MemoryStore) DeleteByPrefix(prefix string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, key := range s.lru.Keys() {
		if strings.HasPrefix(key, prefix) {
			s.lru.Remove(key)
			removed++
		}
	}
	return removed
}

func (s *MemoryStore) Purge() {
	s.lru.Purge()
}

func (s *MemoryStore) Stats() StoreStats {
	return StoreStats{Size: s.lru.Len(), MaxSize: s.maxSize, Evictions: s.evictions.Load()}
}
