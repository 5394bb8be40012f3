package breakwater

import (
	"net/http"
	"sync"
	"time"
)

// DedupeCondition decides whether a request is eligible for coalescing.
type DedupeCondition func(req *http.Request) bool

// DefaultDedupeCondition coalesces safe idempotent methods only.
func DefaultDedupeCondition(req *http.Request) bool {
	switch req.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// DedupeConfig configures the deduplication plugin.
type DedupeConfig struct {
	// MaxAge is the oldest a pending request may be and still absorb new
	// arrivals for its key. Default 30s.
	MaxAge time.Duration

	// MaxPending caps how many distinct keys are tracked concurrently.
	// At capacity new keys proceed without deduplication; capacity
	// pressure never blocks a request. Default 1000.
	MaxPending int

	// KeyGenerator identifies identical requests. Default method+URL.
	KeyGenerator KeyFunc

	// DedupeIf overrides the default idempotent-method gate.
	DedupeIf DedupeCondition

	// OnDedupe is invoked each time a request is absorbed into an
	// in-flight one.
	OnDedupe func(key string)
}

func (cfg *DedupeConfig) normalize() {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 30 * time.Second
	}
	if cfg.MaxPending <= 0 {
		cfg.MaxPending = 1000
	}
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = DefaultKeyFunc
	}
	if cfg.DedupeIf == nil {
		cfg.DedupeIf = DefaultDedupeCondition
	}
}

func (cfg *DedupeConfig) validate() []string {
	var problems []string
	if cfg.MaxAge < 0 {
		problems = append(problems, "dedupe: MaxAge must be positive")
	}
	if cfg.MaxPending < 0 {
		problems = append(problems, "dedupe: MaxPending must be positive")
	}
	return problems
}

// pendingEntry is one in-flight request shared between an owner and its
// subscribers. The snapshot and error are written once, before done closes.
type pendingEntry struct {
	done      chan struct{}
	snapshot  *responseSnapshot
	err       error
	createdAt time.Time
}

type pendingTable struct {
	mu      sync.Mutex
	entries map[string]*pendingEntry
}

// acquire returns the entry for key and whether the caller owns it. A nil
// entry means the request should proceed without deduplication (table at
// capacity, or the existing entry is too old to join).
func (t *pendingTable) acquire(key string, maxAge time.Duration, maxPending int, now time.Time) (*pendingEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if entry, ok := t.entries[key]; ok {
		if now.Sub(entry.createdAt) < maxAge {
			return entry, false
		}
		return nil, false
	}

	if len(t.entries) >= maxPending {
		return nil, false
	}

	entry := &pendingEntry{
		done:      make(chan struct{}),
		createdAt: now,
	}
	t.entries[key] = entry
	return entry, true
}

// settle publishes the outcome to all subscribers and removes the entry, so
// arrivals after settlement start a fresh request.
func (t *pendingTable) settle(key string, entry *pendingEntry, snap *responseSnapshot, err error) {
	entry.snapshot = snap
	entry.err = err
	close(entry.done)

	t.mu.Lock()
	if t.entries[key] == entry {
		delete(t.entries, key)
	}
	t.mu.Unlock()
}

// Dedupe returns a middleware that coalesces concurrent identical requests
// into one downstream call. The first arrival for a key owns the call; later
// arrivals within MaxAge wait for its outcome and receive independent clones.
// Errors propagate identically to every subscriber. A canceled subscriber
// stops waiting without disturbing the shared call.
func Dedupe(cfg DedupeConfig) Middleware {
	cfg.normalize()
	table := &pendingTable{entries: make(map[string]*pendingEntry)}

	return func(c *Context, next Handler) (*http.Response, error) {
		if !cfg.DedupeIf(c.Request) {
			return next(c)
		}

		key := cfg.KeyGenerator(c.Request)
		entry, owner := table.acquire(key, cfg.MaxAge, cfg.MaxPending, time.Now())

		if entry == nil {
			// Fail open: no coalescing slot, run independently.
			return next(c)
		}

		if !owner {
			c.SetMeta(MetaDeduped, true)
			if cfg.OnDedupe != nil {
				cfg.OnDedupe(key)
			}
			select {
			case <-entry.done:
				if entry.err != nil {
					return nil, entry.err
				}
				if entry.snapshot == nil {
					// The owner's response was too large to share;
					// run our own request instead.
					c.SetMeta(MetaDeduped, false)
					return next(c)
				}
				return entry.snapshot.Response(), nil
			case <-c.Context().Done():
				return nil, c.Context().Err()
			}
		}

		resp, err := next(c)
		if err != nil {
			table.settle(key, entry, nil, err)
			return nil, err
		}

		snap, snapErr := snapshotResponse(resp)
		if snapErr != nil {
			table.settle(key, entry, nil, snapErr)
			return nil, snapErr
		}
		// A nil snapshot (body too large to share) wakes subscribers to
		// run their own requests; the owner keeps the intact body.
		table.settle(key, entry, snap, nil)
		return resp, nil
	}
}
