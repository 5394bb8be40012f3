package breakwater

import (
	"net/http"
	"sync"
	"time"
)

// RateLimitConfig configures the rate limiter plugin.
type RateLimitConfig struct {
	// Requests is the per-window budget for each key. Default 100.
	Requests int

	// Window is the counting window. Default 1m.
	Window time.Duration

	// KeyGenerator groups requests into independent budgets. The default
	// groups everything under one global key.
	KeyGenerator KeyFunc

	// OnLimitReached is invoked on each rejection.
	OnLimitReached func(key string, limit int)
}

func (cfg *RateLimitConfig) normalize() {
	if cfg.Requests <= 0 {
		cfg.Requests = 100
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = GlobalKeyFunc
	}
}

func (cfg *RateLimitConfig) validate() []string {
	var problems []string
	if cfg.Requests < 0 {
		problems = append(problems, "rateLimit: Requests must be positive")
	}
	if cfg.Window < 0 {
		problems = append(problems, "rateLimit: Window must be positive")
	}
	if cfg.Requests > 1_000_000 {
		problems = append(problems, "rateLimit: Requests > 1M may cause memory issues")
	}
	return problems
}

// rateWindow is one key's fixed counting window. The window boundary is
// inclusive at the start and exclusive at the end: a request arriving exactly
// Window after windowStart opens a new window.
type rateWindow struct {
	windowStart time.Time
	count       int
}

// RateLimit returns a middleware that bounds throughput per key inside a
// fixed time window. Over-budget requests fail fast with ErrorTypeRateLimit
// without reaching the rest of the chain; distinct keys are independent.
func RateLimit(cfg RateLimitConfig) Middleware {
	cfg.normalize()

	var mu sync.Mutex
	windows := make(map[string]*rateWindow)

	return func(c *Context, next Handler) (*http.Response, error) {
		key := cfg.KeyGenerator(c.Request)
		now := time.Now()

		mu.Lock()
		w, ok := windows[key]
		if !ok {
			w = &rateWindow{windowStart: now}
			windows[key] = w
		}
		if now.Sub(w.windowStart) >= cfg.Window {
			w.windowStart = now
			w.count = 0
		}
		if w.count >= cfg.Requests {
			mu.Unlock()
			if cfg.OnLimitReached != nil {
				cfg.OnLimitReached(key, cfg.Requests)
			}
			return nil, newPluginError("rateLimit", ErrorTypeRateLimit, key, "rate limit exceeded", ErrRateLimited, c)
		}
		w.count++
		mu.Unlock()

		return next(c)
	}
}
