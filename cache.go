package breakwater

import (
	"context"
	"net/http"
	"time"

	"github.com/breakwater-go/breakwater/internal/flight"
)

// Entry is a cached response snapshot plus its freshness bookkeeping.
type Entry struct {
	Key        string
	StatusCode int
	Status     string
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
	TTL        time.Duration
	StaleUntil time.Time
}

// fresh reports whether the entry is within its TTL.
func (e *Entry) fresh(now time.Time) bool {
	return now.Before(e.StoredAt.Add(e.TTL))
}

// servableStale reports whether an expired entry is still inside the
// stale-while-revalidate window.
func (e *Entry) servableStale(now time.Time) bool {
	return now.Before(e.StaleUntil)
}

func (e *Entry) response() *http.Response {
	snap := responseSnapshot{
		StatusCode: e.StatusCode,
		Status:     e.Status,
		Header:     e.Header,
		Body:       e.Body,
	}
	return snap.Response()
}

// Store is the pluggable cache storage contract. Get must return entries that
// are expired but still inside their stale window; the plugin decides
// freshness. Implementations must be safe for concurrent use.
type Store interface {
	Get(key string) (*Entry, bool)
	Set(key string, entry *Entry, ttl time.Duration)
	Delete(key string)
	Clear()
}

// CacheCondition decides whether a request is cacheable.
type CacheCondition func(req *http.Request) bool

// DefaultCacheCondition caches side-effect-free methods only.
func DefaultCacheCondition(req *http.Request) bool {
	return req.Method == http.MethodGet || req.Method == http.MethodHead
}

// CacheConfig configures the cache plugin.
type CacheConfig struct {
	// TTL is how long a stored response stays fresh. Default 5m.
	TTL time.Duration

	// StaleWhileRevalidate serves expired entries while a background
	// refresh runs.
	StaleWhileRevalidate bool

	// StaleWindow extends servability past the TTL when SWR is on.
	// Defaults to TTL.
	StaleWindow time.Duration

	// KeyGenerator derives the cache key. Default method+URL.
	KeyGenerator KeyFunc

	// Store is the storage backend. Default NewMemoryStore().
	Store Store

	// CacheIf overrides the default method gate.
	CacheIf CacheCondition

	// OnRefresh observes the outcome of each background SWR refresh.
	OnRefresh func(key string, err error)
}

func (cfg *CacheConfig) normalize() {
	if cfg.TTL <= 0 {
		cfg.TTL = 5 * time.Minute
	}
	if cfg.StaleWindow <= 0 {
		cfg.StaleWindow = cfg.TTL
	}
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = DefaultKeyFunc
	}
	if cfg.Store == nil {
		cfg.Store = NewMemoryStore()
	}
	if cfg.CacheIf == nil {
		cfg.CacheIf = DefaultCacheCondition
	}
}

func (cfg *CacheConfig) validate() []string {
	var problems []string
	if cfg.TTL < 0 {
		problems = append(problems, "cache: TTL must be positive")
	}
	if cfg.StaleWindow < 0 {
		problems = append(problems, "cache: StaleWindow must be non-negative")
	}
	if cfg.TTL > 24*time.Hour {
		problems = append(problems, "cache: TTL > 24h may cause stale data issues")
	}
	return problems
}

// Cache returns a middleware that serves cacheable requests from its store.
// Fresh hits short-circuit the chain (MetaCacheHit). With SWR enabled,
// expired-but-servable entries are returned immediately while at most one
// background refresh per key re-runs the rest of the chain; refresh failures
// leave the stale entry in place. Misses delegate and store successful
// responses with replayable bodies.
func Cache(cfg CacheConfig) Middleware {
	cfg.normalize()
	refreshing := flight.New()

	return func(c *Context, next Handler) (*http.Response, error) {
		if !cacheableRequest(c.Request, cfg.CacheIf) {
			return next(c)
		}

		key := cfg.KeyGenerator(c.Request)
		now := time.Now()

		if entry, ok := cfg.Store.Get(key); ok {
			if entry.fresh(now) {
				c.SetMeta(MetaCacheHit, true)
				return entry.response(), nil
			}
			if cfg.StaleWhileRevalidate && entry.servableStale(now) {
				c.SetMeta(MetaCacheHit, true)
				c.SetMeta(MetaCacheStale, true)
				cfg.refresh(c, key, next, refreshing)
				return entry.response(), nil
			}
			cfg.Store.Delete(key)
		}

		resp, err := next(c)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode < 400 {
			cfg.storeResponse(key, resp, requestTTL(c.Request, cfg.TTL))
		}
		return resp, nil
	}
}

// refresh re-runs the downstream chain for key in the background, coalescing
// concurrent stale reads into one refresh. The refresh is detached from the
// caller's cancellation but keeps its values.
func (cfg *CacheConfig) refresh(c *Context, key string, next Handler, refreshing *flight.Group) {
	if !refreshing.TryAcquire(key) {
		return
	}

	req := c.Request.Clone(context.WithoutCancel(c.Request.Context()))
	go func() {
		defer refreshing.Release(key)

		bc := newContext(req)
		resp, err := next(bc)
		if err == nil && resp.StatusCode < 400 {
			cfg.storeResponse(key, resp, requestTTL(req, cfg.TTL))
		}
		if cfg.OnRefresh != nil {
			cfg.OnRefresh(key, err)
		}
	}()
}

func (cfg *CacheConfig) storeResponse(key string, resp *http.Response, ttl time.Duration) {
	snap, err := snapshotResponse(resp)
	if err != nil || snap == nil {
		// Unreadable or too large to materialize; serve it uncached.
		return
	}

	now := time.Now()
	entry := &Entry{
		Key:        key,
		StatusCode: snap.StatusCode,
		Status:     snap.Status,
		Header:     snap.Header,
		Body:       snap.Body,
		StoredAt:   now,
		TTL:        ttl,
		StaleUntil: now.Add(ttl),
	}
	if cfg.StaleWhileRevalidate {
		entry.StaleUntil = now.Add(ttl + cfg.StaleWindow)
	}

	cfg.Store.Set(key, entry, time.Until(entry.StaleUntil))
}

// Per-request cache control, carried on the request context.

type cacheControlKey struct{}

type cacheControl struct {
	enabled bool
	ttl     time.Duration
}

// WithRequestCacheEnabled forces caching for this request regardless of the
// configured condition.
func WithRequestCacheEnabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey{}, &cacheControl{enabled: true})
}

// WithRequestCacheDisabled bypasses the cache for this request.
func WithRequestCacheDisabled(ctx context.Context) context.Context {
	return context.WithValue(ctx, cacheControlKey{}, &cacheControl{enabled: false})
}

// WithRequestCacheTTL forces caching with a per-request TTL.
func WithRequestCacheTTL(ctx context.Context, ttl time.Duration) context.Context {
	return context.WithValue(ctx, cacheControlKey{}, &cacheControl{enabled: true, ttl: ttl})
}

func cacheableRequest(req *http.Request, cond CacheCondition) bool {
	if cc, ok := req.Context().Value(cacheControlKey{}).(*cacheControl); ok {
		return cc.enabled
	}
	return cond(req)
}

func requestTTL(req *http.Request, fallback time.Duration) time.Duration {
	if cc, ok := req.Context().Value(cacheControlKey{}).(*cacheControl); ok && cc.ttl > 0 {
		return cc.ttl
	}
	return fallback
}
