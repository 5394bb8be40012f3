package breakwater

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for common failure scenarios.
var (
	// ErrCircuitOpen is returned when the circuit breaker rejects a request.
	ErrCircuitOpen = errors.New("breakwater: circuit open")

	// ErrRateLimited is returned when a request is denied by the rate limiter.
	ErrRateLimited = errors.New("breakwater: rate limited")

	// ErrNoResponse is returned when a middleware neither delegated to the
	// rest of the chain nor produced a response.
	ErrNoResponse = errors.New("breakwater: middleware returned no response")
)

// Error types carried by *Error. They distinguish "policy said no" from
// "network failed" from "caller misconfigured the pipeline".
const (
	ErrorTypeTransport   = "Transport"
	ErrorTypeRateLimit   = "RateLimit"
	ErrorTypeCircuitOpen = "CircuitOpen"
	ErrorTypeValidation  = "Validation"
)

// Error is a structured pipeline error. Every fast-fail synthesized by a
// plugin carries the plugin of origin and, where applicable, the key whose
// state triggered it, so callers can branch on cause.
type Error struct {
	Type       string
	Plugin     string
	Key        string
	Method     string
	URL        string
	StatusCode int
	Message    string
	Cause      error
	Timestamp  time.Time
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := fmt.Sprintf("%s: %s", e.Type, e.Message)
	if e.Key != "" {
		msg = fmt.Sprintf("%s (key %q)", msg, e.Key)
	}
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is compares error types for errors.Is.
func (e *Error) Is(target error) bool {
	if e == nil {
		return false
	}
	if t, ok := target.(*Error); ok {
		return e.Type == t.Type
	}
	return false
}

// IsTransient reports whether an error represents a transient failure that
// might succeed on retry: transport failures, rate limiting and open circuits
// (both clear once their windows pass), and 429/5xx statuses carried on an
// *Error. Validation errors are permanent.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCircuitOpen) || errors.Is(err, ErrRateLimited) {
		return true
	}

	var perr *Error
	if errors.As(err, &perr) {
		switch perr.Type {
		case ErrorTypeTransport, ErrorTypeRateLimit, ErrorTypeCircuitOpen:
			return true
		case ErrorTypeValidation:
			return false
		}
		return perr.StatusCode == 429 || perr.StatusCode >= 500
	}

	return false
}

func newPluginError(plugin, errType, key, message string, cause error, c *Context) *Error {
	e := &Error{
		Type:      errType,
		Plugin:    plugin,
		Key:       key,
		Message:   message,
		Cause:     cause,
		Timestamp: time.Now(),
	}
	if c != nil && c.Request != nil {
		e.Method = c.Request.Method
		if c.Request.URL != nil {
			e.URL = c.Request.URL.String()
		}
	}
	return e
}
