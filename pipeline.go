package breakwater

import (
	"context"
	"io"
	"net/http"
	"time"
)

// Transport performs the actual network I/O at the end of the chain. It is
// supplied externally; the pipeline only orchestrates around it. A Transport
// must honor the request's context.
type Transport func(*http.Request) (*http.Response, error)

// Handler runs the remainder of the chain for a context.
type Handler func(*Context) (*http.Response, error)

// Middleware wraps the next handler. It must either call next or produce a
// response (or error) itself; doing neither is a contract violation surfaced
// as ErrNoResponse.
type Middleware func(c *Context, next Handler) (*http.Response, error)

// Pipeline composes an ordered middleware chain around a terminal transport.
// Middleware run in registration order on the way in and reverse order on the
// way out. A Pipeline is safe for concurrent use; invocations share nothing
// but the per-plugin state tables.
type Pipeline struct {
	transport       Transport
	middleware      []Middleware
	chain           Handler
	logger          Logger
	issues          []string
	validationError error
}

// New constructs a Pipeline from functional options. Plugins are registered in
// option order. A best effort validation is performed; call IsValid /
// ValidationError for errors, or let Do surface them.
func New(options ...Option) *Pipeline {
	client := &http.Client{Timeout: 30 * time.Second}
	p := &Pipeline{
		transport: client.Do,
		logger:    NopLogger{},
	}

	for _, option := range options {
		option(p)
	}

	if err := p.validate(); err != nil {
		p.validationError = err
	}

	p.chain = p.compose()
	return p
}

// Use appends custom middleware to the chain. It must be called before the
// first request; the chain is composed once.
func (p *Pipeline) Use(mw ...Middleware) *Pipeline {
	p.middleware = append(p.middleware, mw...)
	p.chain = p.compose()
	return p
}

// compose builds the onion: middleware i wraps middleware i+1, terminating at
// the transport.
func (p *Pipeline) compose() Handler {
	current := p.terminal()
	for i := len(p.middleware) - 1; i >= 0; i-- {
		mw := p.middleware[i]
		next := current
		current = func(c *Context) (*http.Response, error) {
			resp, err := mw(c, next)
			if err == nil && resp != nil {
				c.Response = resp
			}
			return resp, err
		}
	}
	return current
}

func (p *Pipeline) terminal() Handler {
	return func(c *Context) (*http.Response, error) {
		if err := c.Context().Err(); err != nil {
			return nil, err
		}
		resp, err := p.transport(c.Request)
		if err != nil {
			return nil, err
		}
		c.Response = resp
		return resp, nil
	}
}

// Do executes a prepared *http.Request through the pipeline.
func (p *Pipeline) Do(req *http.Request) (*http.Response, error) {
	if p.validationError != nil {
		return nil, p.validationError
	}

	c := newContext(req)
	p.logger.Debug("starting request", "method", req.Method, "url", requestURL(req))

	resp, err := p.chain(c)

	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	p.logger.Debug("request completed",
		"method", req.Method,
		"url", requestURL(req),
		"status", status,
		"retries", c.MetaInt(MetaRetries),
		"cacheHit", c.MetaBool(MetaCacheHit),
		"deduped", c.MetaBool(MetaDeduped),
		"error", err)

	if err != nil {
		return nil, err
	}
	if resp == nil {
		if c.Response != nil {
			return c.Response, nil
		}
		// A middleware neither delegated nor produced a response.
		return nil, ErrNoResponse
	}
	return resp, nil
}

// Get performs an HTTP GET with context.
func (p *Pipeline) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	return p.Do(req)
}

// Head performs an HTTP HEAD with context.
func (p *Pipeline) Head(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
	if err != nil {
		return nil, err
	}
	return p.Do(req)
}

// Post performs an HTTP POST with the given content type.
func (p *Pipeline) Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", contentType)
	return p.Do(req)
}

// IsValid reports whether configuration validation passed at construction.
func (p *Pipeline) IsValid() bool {
	return p.validationError == nil
}

// ValidationError returns the configuration validation error, if any.
func (p *Pipeline) ValidationError() error {
	return p.validationError
}
