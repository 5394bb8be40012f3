package breakwater

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func countingTransport(calls *int32, body string) Transport {
	return func(req *http.Request) (*http.Response, error) {
		atomic.AddInt32(calls, 1)
		return &http.Response{
			StatusCode: 200,
			Status:     "200 OK",
			Header:     http.Header{"Content-Type": []string{"text/plain"}},
			Body:       io.NopCloser(strings.NewReader(body)),
		}, nil
	}
}

func TestCacheHit(t *testing.T) {
	var calls int32
	p := New(
		WithTransport(countingTransport(&calls, "cached")),
		WithCache(CacheConfig{TTL: time.Minute}),
	)

	for i := 0; i < 3; i++ {
		resp, err := p.Get(context.Background(), "http://example.com/data")
		if err != nil {
			t.Fatalf("Get %d: %v", i, err)
		}
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		if string(body) != "cached" {
			t.Errorf("read %d: expected body %q, got %q", i, "cached", string(body))
		}
	}

	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected 1 transport call, got %d", got)
	}
}

func TestCacheHitMetadata(t *testing.T) {
	var calls int32
	var hit bool
	inspect := func(c *Context, next Handler) (*http.Response, error) {
		resp, err := next(c)
		hit = c.MetaBool(MetaCacheHit)
		return resp, err
	}

	p := New(
		WithTransport(countingTransport(&calls, "x")),
		WithMiddleware(inspect),
		WithCache(CacheConfig{TTL: time.Minute}),
	)

	_, _ = p.Get(context.Background(), "http://example.com/")
	if hit {
		t.Error("first request should be a miss")
	}
	_, _ = p.Get(context.Background(), "http://example.com/")
	if !hit {
		t.Error("second request should be a hit")
	}
}

func TestCacheExpiry(t *testing.T) {
	var calls int32
	p := New(
		WithTransport(countingTransport(&calls, "x")),
		WithCache(CacheConfig{TTL: 20 * time.Millisecond}),
	)

	_, _ = p.Get(context.Background(), "http://example.com/")
	time.Sleep(50 * time.Millisecond)
	_, _ = p.Get(context.Background(), "http://example.com/")

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 transport calls after TTL expiry, got %d", got)
	}
}

func TestCacheSkipsNonIdempotentMethods(t *testing.T) {
	var calls int32
	p := New(
		WithTransport(countingTransport(&calls, "x")),
		WithCache(CacheConfig{TTL: time.Minute}),
	)

	for i := 0; i < 2; i++ {
		resp, err := p.Post(context.Background(), "http://example.com/", "text/plain", strings.NewReader("body"))
		if err != nil {
			t.Fatalf("Post: %v", err)
		}
		resp.Body.Close()
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("POST must bypass the cache, got %d transport calls", got)
	}
}

func TestCacheDoesNotStoreErrors(t *testing.T) {
	var calls int32
	p := New(
		WithTransport(func(req *http.Request) (*http.Response, error) {
			atomic.AddInt32(&calls, 1)
			return &http.Response{
				StatusCode: 500,
				Header:     http.Header{},
				Body:       io.NopCloser(strings.NewReader("")),
			}, nil
		}),
		WithCache(CacheConfig{TTL: time.Minute}),
	)

	_, _ = p.Get(context.Background(), "http://example.com/")
	_, _ = p.Get(context.Background(), "http://example.com/")

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("5xx must not be cached, got %d transport calls", got)
	}
}

func TestCacheStaleWhileRevalidate(t *testing.T) {
	var calls int32
	refreshed := make(chan struct{}, 8)

	p := New(
		WithTransport(countingTransport(&calls, "fresh")),
		WithCache(CacheConfig{
			TTL:                  20 * time.Millisecond,
			StaleWhileRevalidate: true,
			StaleWindow:          time.Minute,
			OnRefresh: func(key string, err error) {
				refreshed <- struct{}{}
			},
		}),
	)

	// Seed the cache, then let the entry go stale.
	_, _ = p.Get(context.Background(), "http://example.com/")
	time.Sleep(50 * time.Millisecond)

	// Stale read must return immediately and trigger one background refresh.
	start := time.Now()
	resp, err := p.Get(context.Background(), "http://example.com/")
	if err != nil {
		t.Fatalf("stale Get: %v", err)
	}
	resp.Body.Close()
	if time.Since(start) > 15*time.Millisecond {
		t.Error("stale read should not block on the refresh")
	}

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("expected a background refresh")
	}

	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected 2 transport calls (seed + refresh), got %d", got)
	}

	// The refreshed entry is fresh again: no further transport calls.
	_, _ = p.Get(context.Background(), "http://example.com/")
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected refreshed entry to be served, got %d transport calls", got)
	}
}

func TestCacheStaleRefreshCoalesced(t *testing.T) {
	var calls int32
	block := make(chan struct{})
	refreshed := make(chan struct{}, 8)

	p := New(
		WithTransport(func(req *http.Request) (*http.Response, error) {
			if atomic.AddInt32(&calls, 1) > 1 {
				<-block
			}
			return okTransport("x")(req)
		}),
		WithCache(CacheConfig{
			TTL:                  10 * time.Millisecond,
			StaleWhileRevalidate: true,
			StaleWindow:          time.Minute,
			OnRefresh: func(key string, err error) {
				refreshed <- struct{}{}
			},
		}),
	)

	_, _ = p.Get(context.Background(), "http://example.com/")
	time.Sleep(30 * time.Millisecond)

	// Many stale reads while one refresh is parked on the transport.
	for i := 0; i < 5; i++ {
		resp, err := p.Get(context.Background(), "http://example.com/")
		if err != nil {
			t.Fatalf("stale Get %d: %v", i, err)
		}
		resp.Body.Close()
	}
	close(block)

	select {
	case <-refreshed:
	case <-time.After(time.Second):
		t.Fatal("expected the background refresh to finish")
	}

	// Seed + exactly one in-flight refresh.
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected one coalesced refresh, got %d transport calls", got)
	}
	if len(refreshed) != 0 {
		t.Errorf("expected a single refresh, %d extra completed", len(refreshed))
	}
}

func TestCacheStaleNotServedPastWindow(t *testing.T) {
	var calls int32
	p := New(
		WithTransport(countingTransport(&calls, "x")),
		WithCache(CacheConfig{
			TTL:                  10 * time.Millisecond,
			StaleWhileRevalidate: true,
			StaleWindow:          10 * time.Millisecond,
		}),
	)

	_, _ = p.Get(context.Background(), "http://example.com/")
	time.Sleep(50 * time.Millisecond) // past TTL + stale window

	_, _ = p.Get(context.Background(), "http://example.com/")
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expired-past-stale entry must be a miss, got %d calls", got)
	}
}

func TestCachePerRequestOverrides(t *testing.T) {
	var calls int32
	p := New(
		WithTransport(countingTransport(&calls, "x")),
		WithCache(CacheConfig{TTL: time.Minute}),
	)

	// Disabled: both requests reach the transport.
	ctx := WithRequestCacheDisabled(context.Background())
	_, _ = p.Get(ctx, "http://example.com/skip")
	_, _ = p.Get(ctx, "http://example.com/skip")
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("cache-disabled requests must bypass the cache, got %d calls", got)
	}

	// Enabled with short TTL.
	atomic.StoreInt32(&calls, 0)
	ttlCtx := WithRequestCacheTTL(context.Background(), 20*time.Millisecond)
	_, _ = p.Get(ttlCtx, "http://example.com/ttl")
	_, _ = p.Get(ttlCtx, "http://example.com/ttl")
	if got := atomic.LoadInt32(&calls); got != 1 {
		t.Errorf("expected hit inside per-request TTL, got %d calls", got)
	}
	time.Sleep(50 * time.Millisecond)
	_, _ = p.Get(ttlCtx, "http://example.com/ttl")
	if got := atomic.LoadInt32(&calls); got != 2 {
		t.Errorf("expected miss after per-request TTL, got %d calls", got)
	}
}

func TestCacheOversizedBodyServedIntact(t *testing.T) {
	payload := bytes.Repeat([]byte("y"), maxSnapshotSize+256)
	var calls int32
	p := New(
		WithTransport(func(req *http.Request) (*http.Response, error) {
			atomic.AddInt32(&calls, 1)
			return &http.Response{
				StatusCode: 200,
				Status:     "200 OK",
				Header:     http.Header{},
				Body:       io.NopCloser(bytes.NewReader(payload)),
			}, nil
		}),
		WithCache(CacheConfig{TTL: time.Minute}),
	)

	resp, err := p.Get(context.Background(), "http://example.com/huge")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	got, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(payload) {
		t.Fatalf("caller received %d bytes, want %d", len(got), len(payload))
	}

	// Too large to cache: the next read goes back to the transport.
	resp, err = p.Get(context.Background(), "http://example.com/huge")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if n := atomic.LoadInt32(&calls); n != 2 {
		t.Errorf("oversized response must not be cached, got %d transport calls", n)
	}
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	entry := &Entry{
		Key:        "k",
		StatusCode: 200,
		Body:       []byte("v"),
		StoredAt:   now,
		TTL:        time.Minute,
		StaleUntil: now.Add(time.Minute),
	}

	store.Set("k", entry, time.Minute)
	got, ok := store.Get("k")
	if !ok || string(got.Body) != "v" {
		t.Fatalf("expected stored entry, got %v, %v", got, ok)
	}
	if store.Len() != 1 {
		t.Errorf("expected Len 1, got %d", store.Len())
	}

	store.Delete("k")
	if _, ok := store.Get("k"); ok {
		t.Error("expected delete to remove entry")
	}

	store.Set("a", entry, time.Minute)
	store.Set("b", entry, time.Minute)
	store.Clear()
	if store.Len() != 0 {
		t.Errorf("expected Clear to empty the store, got %d", store.Len())
	}
}

func TestMemoryStoreLazyExpiry(t *testing.T) {
	store := NewMemoryStore()
	now := time.Now()
	store.Set("k", &Entry{
		Key:        "k",
		StoredAt:   now,
		TTL:        5 * time.Millisecond,
		StaleUntil: now.Add(5 * time.Millisecond),
	}, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	if _, ok := store.Get("k"); ok {
		t.Error("expected entry past its stale bound to be evicted on read")
	}
}
