package breakwater

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	cause := errors.New("dial tcp: connection refused")
	err := &Error{
		Type:    ErrorTypeTransport,
		Plugin:  "retry",
		Key:     "GET:http://example.com/",
		Message: "request failed after retries",
		Cause:   cause,
	}

	msg := err.Error()
	if !strings.Contains(msg, ErrorTypeTransport) {
		t.Errorf("message %q should contain the type", msg)
	}
	if !strings.Contains(msg, "request failed after retries") {
		t.Errorf("message %q should contain the message", msg)
	}
	if !strings.Contains(msg, `"GET:http://example.com/"`) {
		t.Errorf("message %q should contain the key", msg)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Errorf("message %q should contain the cause", msg)
	}
}

func TestErrorNil(t *testing.T) {
	var err *Error
	if got := err.Error(); got != "<nil>" {
		t.Errorf("nil Error() = %q", got)
	}
	if err.Unwrap() != nil {
		t.Error("nil Unwrap should be nil")
	}
	if err.Is(errors.New("x")) {
		t.Error("nil Is should be false")
	}
}

func TestErrorUnwrap(t *testing.T) {
	cause := errors.New("boom")
	err := &Error{Type: ErrorTypeTransport, Cause: cause}

	if !errors.Is(err, cause) {
		t.Error("errors.Is should find the cause through Unwrap")
	}

	wrapped := fmt.Errorf("outer: %w", err)
	var perr *Error
	if !errors.As(wrapped, &perr) {
		t.Fatal("errors.As should find *Error through wrapping")
	}
	if perr.Type != ErrorTypeTransport {
		t.Errorf("Type = %q", perr.Type)
	}
}

func TestErrorIsMatchesOnType(t *testing.T) {
	a := &Error{Type: ErrorTypeRateLimit, Message: "a"}
	b := &Error{Type: ErrorTypeRateLimit, Message: "b"}
	c := &Error{Type: ErrorTypeCircuitOpen}

	if !errors.Is(a, b) {
		t.Error("same-type errors should match")
	}
	if errors.Is(a, c) {
		t.Error("different-type errors should not match")
	}
}

func TestSentinelsSurviveWrapping(t *testing.T) {
	err := newPluginError("circuitBreaker", ErrorTypeCircuitOpen, "host:example.com",
		"circuit open", ErrCircuitOpen, nil)

	if !errors.Is(err, ErrCircuitOpen) {
		t.Error("plugin error should unwrap to ErrCircuitOpen")
	}
}

func TestIsTransient(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"circuit open sentinel", ErrCircuitOpen, true},
		{"rate limited sentinel", ErrRateLimited, true},
		{"transport type", &Error{Type: ErrorTypeTransport}, true},
		{"validation type", &Error{Type: ErrorTypeValidation}, false},
		{"status 429", &Error{StatusCode: 429}, true},
		{"status 503", &Error{StatusCode: 503}, true},
		{"status 404", &Error{StatusCode: 404}, false},
		{"plain error", errors.New("whatever"), false},
		{"wrapped rate limit", fmt.Errorf("call failed: %w", ErrRateLimited), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := IsTransient(tc.err); got != tc.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tc.err, got, tc.want)
			}
		})
	}
}

func TestNewPluginErrorCarriesRequest(t *testing.T) {
	c := newContext(testRequest(t, "DELETE", "http://example.com/items/7"))
	err := newPluginError("rateLimit", ErrorTypeRateLimit, "global", "limit exceeded", ErrRateLimited, c)

	if err.Method != "DELETE" {
		t.Errorf("Method = %q", err.Method)
	}
	if err.URL != "http://example.com/items/7" {
		t.Errorf("URL = %q", err.URL)
	}
	if err.Plugin != "rateLimit" {
		t.Errorf("Plugin = %q", err.Plugin)
	}
	if err.Timestamp.IsZero() {
		t.Error("Timestamp should be set")
	}
}
