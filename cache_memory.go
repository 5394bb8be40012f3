package breakwater

import (
	"hash/fnv"
	"sync"
	"time"
)

// MemoryStore is the default in-memory Store: a sharded map with lazy expiry.
// Entries are dropped when read past their stale bound; there is no background
// sweeper.
type MemoryStore struct {
	shards    []*memoryShard
	numShards int
}

type memoryShard struct {
	mu    sync.RWMutex
	store map[string]*Entry
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	numShards := 16
	shards := make([]*memoryShard, numShards)
	for i := range shards {
		shards[i] = &memoryShard{store: make(map[string]*Entry)}
	}
	return &MemoryStore{shards: shards, numShards: numShards}
}

func (s *MemoryStore) getShard(key string) *memoryShard {
	hash := fnv.New32a()
	hash.Write([]byte(key))
	return s.shards[hash.Sum32()%uint32(s.numShards)]
}

// Get returns the entry for key. Entries past their stale bound are evicted
// and reported absent; expired-but-stale-servable entries are returned so the
// cache plugin can decide whether to serve them.
func (s *MemoryStore) Get(key string) (*Entry, bool) {
	shard := s.getShard(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, exists := shard.store[key]
	if !exists {
		return nil, false
	}

	if !time.Now().Before(entry.StaleUntil) {
		delete(shard.store, key)
		return nil, false
	}

	return entry, true
}

// Set stores the entry under key. The ttl is the outer retention bound; the
// entry's own StoredAt/TTL/StaleUntil fields govern freshness.
func (s *MemoryStore) Set(key string, entry *Entry, ttl time.Duration) {
	shard := s.getShard(key)
	shard.mu.Lock()
	shard.store[key] = entry
	shard.mu.Unlock()
}

// Delete removes the entry for key.
func (s *MemoryStore) Delete(key string) {
	shard := s.getShard(key)
	shard.mu.Lock()
	delete(shard.store, key)
	shard.mu.Unlock()
}

// Clear drops all entries.
func (s *MemoryStore) Clear() {
	for _, shard := range s.shards {
		shard.mu.Lock()
		shard.store = make(map[string]*Entry)
		shard.mu.Unlock()
	}
}

// Len reports the current entry count across shards.
func (s *MemoryStore) Len() int {
	total := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		total += len(shard.store)
		shard.mu.RUnlock()
	}
	return total
}
