package breakwater

import (
	"net/http"
	"sync"
	"time"
)

// CircuitState is the state of one key's circuit.
type CircuitState int

const (
	StateClosed CircuitState = iota
	StateOpen
	StateHalfOpen
)

// String renders the state for logs and callbacks.
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitCondition classifies an outcome as a failure for the breaker.
type CircuitCondition func(resp *http.Response, err error) bool

// DefaultCircuitCondition counts transport errors and 5xx responses as
// failures. 429 is the server coping, not failing, so it does not trip the
// breaker.
func DefaultCircuitCondition(resp *http.Response, err error) bool {
	if err != nil {
		return true
	}
	return resp.StatusCode >= 500
}

// CircuitConfig configures the circuit breaker plugin.
type CircuitConfig struct {
	// FailureThreshold is how many failures within Window open the
	// circuit. Default 5.
	FailureThreshold int

	// Window is the rolling window failures are counted in; a key idle
	// longer than this resets its count. Default 1m.
	Window time.Duration

	// ResetTimeout is how long an open circuit waits before admitting a
	// probe. Default 30s.
	ResetTimeout time.Duration

	// KeyGenerator scopes circuits. Default per host.
	KeyGenerator KeyFunc

	// FailureIf overrides the default failure classification.
	FailureIf CircuitCondition

	// OnStateChange is invoked on every transition.
	OnStateChange func(key string, state CircuitState, failures int)
}

func (cfg *CircuitConfig) normalize() {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = 30 * time.Second
	}
	if cfg.KeyGenerator == nil {
		cfg.KeyGenerator = HostKeyFunc
	}
	if cfg.FailureIf == nil {
		cfg.FailureIf = DefaultCircuitCondition
	}
}

func (cfg *CircuitConfig) validate() []string {
	var problems []string
	if cfg.FailureThreshold < 0 {
		problems = append(problems, "circuitBreaker: FailureThreshold must be positive")
	}
	if cfg.Window < 0 {
		problems = append(problems, "circuitBreaker: Window must be positive")
	}
	if cfg.ResetTimeout < 0 {
		problems = append(problems, "circuitBreaker: ResetTimeout must be positive")
	}
	return problems
}

// circuit is one key's state machine. All fields are guarded by the owning
// table's mutex; transitions happen only under it.
type circuit struct {
	state       CircuitState
	failures    int
	windowStart time.Time
	lastFailure time.Time
	openedAt    time.Time
	probing     bool
}

type circuitTable struct {
	cfg      CircuitConfig
	mu       sync.Mutex
	circuits map[string]*circuit
}

// CircuitBreaker returns a middleware that fails fast per key after repeated
// failures. Open circuits reject immediately with ErrorTypeCircuitOpen; after
// ResetTimeout (evaluated lazily, no background timer) exactly one probe is
// admitted, and its outcome closes or re-opens the circuit.
func CircuitBreaker(cfg CircuitConfig) Middleware {
	cfg.normalize()
	table := &circuitTable{
		cfg:      cfg,
		circuits: make(map[string]*circuit),
	}

	return func(c *Context, next Handler) (*http.Response, error) {
		key := cfg.KeyGenerator(c.Request)

		state, allowed := table.admit(key, time.Now())
		c.SetMeta(MetaCircuitState, state.String())
		if !allowed {
			return nil, newPluginError("circuitBreaker", ErrorTypeCircuitOpen, key, "circuit breaker is open", ErrCircuitOpen, c)
		}

		resp, err := next(c)
		table.record(key, cfg.FailureIf(resp, err), time.Now())
		return resp, err
	}
}

// stateChange is a transition captured under the table lock and delivered to
// OnStateChange after it is released, so the callback may safely re-enter the
// pipeline.
type stateChange struct {
	state    CircuitState
	failures int
}

// admit decides whether a request for key may proceed, applying the lazy
// OPEN -> HALF_OPEN transition. Half-open is single-admission: the probe
// holds a latch and concurrent requests are rejected until it settles.
func (t *circuitTable) admit(key string, now time.Time) (CircuitState, bool) {
	state, allowed, change := t.doAdmit(key, now)
	t.notify(key, change)
	return state, allowed
}

func (t *circuitTable) doAdmit(key string, now time.Time) (CircuitState, bool, *stateChange) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cb, ok := t.circuits[key]
	if !ok {
		cb = &circuit{windowStart: now}
		t.circuits[key] = cb
	}

	switch cb.state {
	case StateClosed:
		if cb.failures > 0 && now.Sub(cb.lastFailure) > t.cfg.Window {
			cb.failures = 0
			cb.windowStart = now
		}
		return StateClosed, true, nil

	case StateOpen:
		if now.Sub(cb.openedAt) >= t.cfg.ResetTimeout {
			cb.state = StateHalfOpen
			cb.probing = true
			return StateHalfOpen, true, &stateChange{cb.state, cb.failures}
		}
		return StateOpen, false, nil

	case StateHalfOpen:
		if cb.probing {
			return StateHalfOpen, false, nil
		}
		cb.probing = true
		return StateHalfOpen, true, nil
	}

	return cb.state, false, nil
}

// record feeds an outcome back into key's machine.
func (t *circuitTable) record(key string, failed bool, now time.Time) {
	t.notify(key, t.doRecord(key, failed, now))
}

func (t *circuitTable) doRecord(key string, failed bool, now time.Time) *stateChange {
	t.mu.Lock()
	defer t.mu.Unlock()

	cb, ok := t.circuits[key]
	if !ok {
		return nil
	}

	switch cb.state {
	case StateHalfOpen:
		cb.probing = false
		if failed {
			cb.state = StateOpen
			cb.openedAt = now
			cb.lastFailure = now
		} else {
			cb.state = StateClosed
			cb.failures = 0
			cb.windowStart = now
		}
		return &stateChange{cb.state, cb.failures}

	case StateClosed:
		if !failed {
			cb.failures = 0
			return nil
		}
		if now.Sub(cb.windowStart) > t.cfg.Window {
			cb.windowStart = now
			cb.failures = 0
		}
		cb.failures++
		cb.lastFailure = now
		if cb.failures >= t.cfg.FailureThreshold {
			cb.state = StateOpen
			cb.openedAt = now
			return &stateChange{cb.state, cb.failures}
		}

	case StateOpen:
		if failed {
			cb.lastFailure = now
		}
	}
	return nil
}

func (t *circuitTable) notify(key string, change *stateChange) {
	if change != nil && t.cfg.OnStateChange != nil {
		t.cfg.OnStateChange(key, change.state, change.failures)
	}
}
