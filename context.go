package breakwater

import (
	"context"
	"net/http"
	"sync"
)

// Metadata keys written by the built-in plugins. Downstream middleware and the
// metrics plugin read these to learn what happened to a request.
const (
	MetaCacheHit     = "cacheHit"
	MetaCacheStale   = "cacheStale"
	MetaRetries      = "retries"
	MetaDeduped      = "deduped"
	MetaCircuitState = "circuitState"
)

// Context is the unit of state threaded through one pipeline invocation. It is
// owned by exactly one in-flight call and must not be shared across requests;
// plugins communicate through its metadata bag instead of package globals.
type Context struct {
	// Request is the outgoing request. Plugins may replace it (e.g. to
	// rewind a body before a retry) but must keep method and URL stable so
	// key derivation stays deterministic.
	Request *http.Request

	// Response is nil until a middleware or the transport produces one.
	Response *http.Response

	mu     sync.Mutex
	meta   map[string]any
	values map[string]any
}

func newContext(req *http.Request) *Context {
	return &Context{Request: req}
}

// Context returns the cancellation context for the whole call, inherited from
// the request. It never returns nil; http.Request defaults to
// context.Background.
func (c *Context) Context() context.Context {
	return c.Request.Context()
}

// SetMeta records a plugin signal such as MetaCacheHit or MetaRetries.
func (c *Context) SetMeta(key string, value any) {
	c.mu.Lock()
	if c.meta == nil {
		c.meta = make(map[string]any)
	}
	c.meta[key] = value
	c.mu.Unlock()
}

// Meta reads a plugin signal.
func (c *Context) Meta(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.meta[key]
	return v, ok
}

// MetaBool reads a boolean signal, false when absent or mistyped.
func (c *Context) MetaBool(key string) bool {
	v, ok := c.Meta(key)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MetaInt reads an integer signal, zero when absent or mistyped.
func (c *Context) MetaInt(key string) int {
	v, ok := c.Meta(key)
	if !ok {
		return 0
	}
	n, _ := v.(int)
	return n
}

// SetValue stores shared state that persists across one full retry sequence,
// e.g. a token captured on the first attempt.
func (c *Context) SetValue(key string, value any) {
	c.mu.Lock()
	if c.values == nil {
		c.values = make(map[string]any)
	}
	c.values[key] = value
	c.mu.Unlock()
}

// Value reads shared state written by SetValue.
func (c *Context) Value(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.values[key]
	return v, ok
}
