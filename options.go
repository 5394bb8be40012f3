package breakwater

import (
	"fmt"
	"net/http"
	"time"
)

// Option configures a Pipeline at construction.
type Option func(*Pipeline)

// WithTransport sets the terminal transport function.
func WithTransport(t Transport) Option {
	return func(p *Pipeline) {
		if t == nil {
			p.issues = append(p.issues, "transport cannot be nil")
			return
		}
		p.transport = t
	}
}

// WithHTTPClient uses the given client's Do as the transport.
func WithHTTPClient(client *http.Client) Option {
	return func(p *Pipeline) {
		if client == nil {
			p.issues = append(p.issues, "HTTP client cannot be nil")
			return
		}
		p.transport = client.Do
	}
}

// WithTimeout installs a default http.Client with the given timeout as the
// transport. Per-request deadlines via the request context are unaffected.
func WithTimeout(d time.Duration) Option {
	return func(p *Pipeline) {
		if d <= 0 {
			p.issues = append(p.issues, "timeout must be positive")
			return
		}
		p.transport = (&http.Client{Timeout: d}).Do
	}
}

// WithLogger sets the pipeline logger.
func WithLogger(logger Logger) Option {
	return func(p *Pipeline) {
		if logger == nil {
			logger = NopLogger{}
		}
		p.logger = logger
	}
}

// WithMiddleware appends custom middleware at its registration position.
func WithMiddleware(mw ...Middleware) Option {
	return func(p *Pipeline) {
		for i, m := range mw {
			if m == nil {
				p.issues = append(p.issues, fmt.Sprintf("middleware[%d] cannot be nil", i))
				return
			}
		}
		p.middleware = append(p.middleware, mw...)
	}
}

// WithRetry registers the retry plugin.
func WithRetry(cfg RetryConfig) Option {
	return func(p *Pipeline) {
		p.issues = append(p.issues, cfg.validate()...)
		p.middleware = append(p.middleware, Retry(cfg))
	}
}

// WithCache registers the cache plugin.
func WithCache(cfg CacheConfig) Option {
	return func(p *Pipeline) {
		p.issues = append(p.issues, cfg.validate()...)
		p.middleware = append(p.middleware, Cache(cfg))
	}
}

// WithRateLimit registers the rate limiter plugin.
func WithRateLimit(cfg RateLimitConfig) Option {
	return func(p *Pipeline) {
		p.issues = append(p.issues, cfg.validate()...)
		p.middleware = append(p.middleware, RateLimit(cfg))
	}
}

// WithCircuitBreaker registers the circuit breaker plugin.
func WithCircuitBreaker(cfg CircuitConfig) Option {
	return func(p *Pipeline) {
		p.issues = append(p.issues, cfg.validate()...)
		p.middleware = append(p.middleware, CircuitBreaker(cfg))
	}
}

// WithDedupe registers the deduplication plugin.
func WithDedupe(cfg DedupeConfig) Option {
	return func(p *Pipeline) {
		p.issues = append(p.issues, cfg.validate()...)
		p.middleware = append(p.middleware, Dedupe(cfg))
	}
}

// WithMetrics registers the metrics plugin.
func WithMetrics(cfg MetricsConfig) Option {
	return func(p *Pipeline) {
		p.issues = append(p.issues, cfg.validate()...)
		p.middleware = append(p.middleware, Metrics(cfg))
	}
}

// validate folds collected configuration problems into a single error.
func (p *Pipeline) validate() error {
	if p.transport == nil {
		p.issues = append(p.issues, "transport cannot be nil")
	}
	if len(p.issues) == 0 {
		return nil
	}
	return &Error{
		Type:    ErrorTypeValidation,
		Plugin:  "pipeline",
		Message: "configuration validation failed",
		Cause:   fmt.Errorf("validation errors: %v", p.issues),
	}
}
