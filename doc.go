// Package breakwater is an HTTP client resilience layer: a composable
// middleware pipeline wrapped around an injected transport, with plugins for
//
//   - Retries with full-jitter exponential backoff and Retry-After support
//   - Response caching with TTL and stale-while-revalidate
//   - Per-key rate limiting (fixed window)
//   - Per-key circuit breaking (closed / open / half-open)
//   - Request de-duplication (merges concurrent identical in-flight requests)
//   - Sampled request metrics with an optional Prometheus collector
//
// Design goals:
//   - Small surface area: functional options configure everything
//   - Plugins are plain middleware; order is registration order
//   - Safe concurrent use of a single *Pipeline instance
//   - Pluggable cache storage, key derivation, randomness and logging
//
// Typical usage:
//
//	p := breakwater.New(
//	    breakwater.WithMetrics(breakwater.MetricsConfig{}),
//	    breakwater.WithDedupe(breakwater.DedupeConfig{}),
//	    breakwater.WithCache(breakwater.CacheConfig{TTL: 5 * time.Minute}),
//	    breakwater.WithRateLimit(breakwater.RateLimitConfig{Requests: 100, Window: time.Minute}),
//	    breakwater.WithCircuitBreaker(breakwater.CircuitConfig{}),
//	    breakwater.WithRetry(breakwater.RetryConfig{Retries: 3}),
//	)
//	resp, err := p.Get(ctx, "https://api.example.com/data")
//
// The pipeline never performs network I/O itself; the terminal transport is a
// plain func(*http.Request) (*http.Response, error) and defaults to a stock
// http.Client.
package breakwater
