package breakwater

import (
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/breakwater-go/breakwater/internal/backoff"
)

// RetryCondition decides whether a failed attempt should be retried.
type RetryCondition func(resp *http.Response, err error) bool

// RetryConfig configures the retry plugin.
type RetryConfig struct {
	// Retries is the maximum number of re-attempts after the initial one.
	Retries int

	// MinDelay seeds the exponential backoff. Default 100ms.
	MinDelay time.Duration

	// MaxDelay caps the backoff ceiling. Default 10s.
	MaxDelay time.Duration

	// RespectRetryAfter lets a server-supplied Retry-After header override
	// the computed delay. Both delta-seconds and HTTP-date forms are
	// honored.
	RespectRetryAfter bool

	// RetryIf overrides the default retryable classification (transport
	// errors, 429 and 5xx).
	RetryIf RetryCondition

	// OnRetry is invoked before each backoff wait.
	OnRetry func(attempt int, delay time.Duration, err error)

	// Strategy overrides the full-jitter backoff computation.
	Strategy backoff.Strategy

	// Rand supplies jitter randomness. Defaults to a private seeded source;
	// inject one for deterministic tests.
	Rand backoff.Rand
}

func (cfg *RetryConfig) normalize() {
	if cfg.MinDelay <= 0 {
		cfg.MinDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay <= 0 {
		cfg.MaxDelay = 10 * time.Second
	}
	if cfg.RetryIf == nil {
		cfg.RetryIf = DefaultRetryCondition
	}
	if cfg.Strategy == nil {
		cfg.Strategy = backoff.FullJitter{}
	}
	if cfg.Rand == nil {
		cfg.Rand = newLockedRand()
	}
}

func (cfg *RetryConfig) validate() []string {
	var problems []string
	if cfg.Retries < 0 {
		problems = append(problems, "retry: Retries must be non-negative")
	}
	if cfg.MinDelay < 0 {
		problems = append(problems, "retry: MinDelay must be non-negative")
	}
	if cfg.MaxDelay != 0 && cfg.MaxDelay < cfg.MinDelay {
		problems = append(problems, "retry: MaxDelay must be greater than or equal to MinDelay")
	}
	if cfg.Retries > 100 {
		problems = append(problems, "retry: Retries > 100 may cause excessive resource usage")
	}
	return problems
}

// DefaultRetryCondition retries transport failures, 429 and 5xx responses.
func DefaultRetryCondition(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
}

// Retry returns a middleware that re-issues failed requests with bounded
// exponential backoff and full jitter. A success at any attempt short-circuits
// the rest; cancellation stops the loop before the next wait. The final
// failure is surfaced unchanged in shape, and the retry count is recorded in
// the context metadata under MetaRetries.
func Retry(cfg RetryConfig) Middleware {
	cfg.normalize()

	return func(c *Context, next Handler) (*http.Response, error) {
		var resp *http.Response
		var err error

		for attempt := 0; ; attempt++ {
			if attempt > 0 {
				c.SetMeta(MetaRetries, attempt)
				if rewindErr := rewindBody(c.Request); rewindErr != nil {
					return resp, err
				}
			}

			resp, err = next(c)
			if !cfg.RetryIf(resp, err) {
				return resp, err
			}
			if attempt >= cfg.Retries {
				return resp, err
			}
			// Never retry a canceled call.
			if c.Context().Err() != nil {
				return resp, err
			}

			delay := cfg.delayFor(attempt, resp)
			if cfg.OnRetry != nil {
				cfg.OnRetry(attempt+1, delay, err)
			}
			if !sleepCtx(c, delay) {
				return resp, err
			}
		}
	}
}

func (cfg *RetryConfig) delayFor(attempt int, resp *http.Response) time.Duration {
	if cfg.RespectRetryAfter && resp != nil {
		if d := parseRetryAfter(resp.Header.Get("Retry-After")); d > 0 {
			return d
		}
	}
	return cfg.Strategy.Delay(attempt, cfg.MinDelay, cfg.MaxDelay, cfg.Rand)
}

// sleepCtx waits for the delay or the call's cancellation, reporting whether
// the full delay elapsed.
func sleepCtx(c *Context, d time.Duration) bool {
	if d <= 0 {
		return c.Context().Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-c.Context().Done():
		return false
	}
}

// rewindBody restores a consumed request body before a retry, when the
// request can supply one.
func rewindBody(req *http.Request) error {
	if req.Body == nil || req.GetBody == nil {
		return nil
	}
	body, err := req.GetBody()
	if err != nil {
		return err
	}
	req.Body = body
	return nil
}

// parseRetryAfter parses a Retry-After header value. It supports both
// delta-seconds and HTTP-date forms; values are capped at one hour.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}

	if seconds, err := strconv.Atoi(strings.TrimSpace(value)); err == nil {
		if seconds > 0 {
			delay := time.Duration(seconds) * time.Second
			if delay > time.Hour {
				delay = time.Hour
			}
			return delay
		}
		return 0
	}

	if t, err := http.ParseTime(value); err == nil {
		delay := time.Until(t)
		if delay > 0 && delay <= time.Hour {
			return delay
		}
	}

	return 0
}

// lockedRand is a concurrency-safe rand source; math/rand.Rand itself is not.
type lockedRand struct {
	mu  sync.Mutex
	rng *rand.Rand
}

func newLockedRand() *lockedRand {
	return &lockedRand{rng: rand.New(rand.NewSource(time.Now().UnixNano()))}
}

func (r *lockedRand) Float64() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.rng.Float64()
}
