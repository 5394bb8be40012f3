package breakwater

import (
	"time"

	"github.com/dgraph-io/ristretto"
)

// RistrettoStore is a bounded in-process Store on ristretto. Admission is
// cost-based (body size), so hot responses stay resident under memory
// pressure. Ristretto may decline to admit an entry; the cache plugin treats
// that as an ordinary miss on the next read.
type RistrettoStore struct {
	cache *ristretto.Cache
}

// RistrettoStoreConfig sizes the underlying cache.
type RistrettoStoreConfig struct {
	// NumCounters is the number of admission counters. Default 100_000.
	NumCounters int64
	// MaxCost is the total body-byte budget. Default 64 MiB.
	MaxCost int64
	// BufferItems is ristretto's Get buffer size. Default 64.
	BufferItems int64
}

// NewRistrettoStore creates a RistrettoStore.
func NewRistrettoStore(cfg RistrettoStoreConfig) (*RistrettoStore, error) {
	if cfg.NumCounters <= 0 {
		cfg.NumCounters = 100_000
	}
	if cfg.MaxCost <= 0 {
		cfg.MaxCost = 64 << 20
	}
	if cfg.BufferItems <= 0 {
		cfg.BufferItems = 64
	}

	c, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: cfg.NumCounters,
		MaxCost:     cfg.MaxCost,
		BufferItems: cfg.BufferItems,
	})
	if err != nil {
		return nil, err
	}
	return &RistrettoStore{cache: c}, nil
}

// Get returns the entry for key.
func (s *RistrettoStore) Get(key string) (*Entry, bool) {
	v, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	entry, ok := v.(*Entry)
	if !ok {
		// Unexpected entry shape; drop it.
		s.cache.Del(key)
		return nil, false
	}
	return entry, true
}

// Set stores the entry with cost proportional to its body size; the ttl is
// the outer retention bound.
func (s *RistrettoStore) Set(key string, entry *Entry, ttl time.Duration) {
	cost := int64(len(entry.Body)) + 1
	s.cache.SetWithTTL(key, entry, cost, ttl)
}

// Delete removes the entry for key.
func (s *RistrettoStore) Delete(key string) {
	s.cache.Del(key)
}

// Clear drops all entries.
func (s *RistrettoStore) Clear() {
	s.cache.Clear()
}

// Close releases the cache's internal goroutines.
func (s *RistrettoStore) Close() {
	s.cache.Wait()
	s.cache.Close()
}
