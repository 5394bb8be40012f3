package breakwater

import (
	"time"

	"github.com/maypok86/otter"
)

// OtterStore is a bounded in-process Store on otter's W-TinyLFU cache with
// per-entry TTLs. An alternative to RistrettoStore with entry-count (not
// byte-cost) capacity accounting.
type OtterStore struct {
	cache otter.CacheWithVariableTTL[string, *Entry]
}

// NewOtterStore creates an OtterStore holding at most capacity entries.
func NewOtterStore(capacity int) (*OtterStore, error) {
	if capacity <= 0 {
		capacity = 10_000
	}

	cache, err := otter.MustBuilder[string, *Entry](capacity).
		WithVariableTTL().
		Build()
	if err != nil {
		return nil, err
	}
	return &OtterStore{cache: cache}, nil
}

// Get returns the entry for key.
func (s *OtterStore) Get(key string) (*Entry, bool) {
	return s.cache.Get(key)
}

// Set stores the entry; the ttl is the outer retention bound.
func (s *OtterStore) Set(key string, entry *Entry, ttl time.Duration) {
	if ttl <= 0 {
		ttl = entry.TTL
	}
	s.cache.Set(key, entry, ttl)
}

// Delete removes the entry for key.
func (s *OtterStore) Delete(key string) {
	s.cache.Delete(key)
}

// Clear drops all entries.
func (s *OtterStore) Clear() {
	s.cache.Clear()
}

// Close releases the cache's internal resources.
func (s *OtterStore) Close() {
	s.cache.Close()
}
