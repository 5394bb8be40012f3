package breakwater

import (
	"net/http"
	"time"
)

// Sample is one observed request, as reported to the OnMetrics sink.
type Sample struct {
	Method   string
	URL      string
	Status   int
	Duration time.Duration
	Retries  int
	CacheHit bool
	Deduped  bool
	Err      error
}

// MetricsConfig configures the metrics plugin.
type MetricsConfig struct {
	// OnMetrics receives sampled telemetry. Optional.
	OnMetrics func(Sample)

	// Sampling is the fraction of requests reported, in [0, 1]. The
	// decision is an independent uniform draw per request. Nil reports
	// everything; a pointer to 0 reports nothing.
	Sampling *float64

	// Rand supplies the sampling draws. Defaults to a private seeded
	// source; inject one for deterministic tests.
	Rand interface{ Float64() float64 }

	// Collector additionally records observations to Prometheus.
	Collector *Collector

	rate float64
}

func (cfg *MetricsConfig) normalize() {
	cfg.rate = 1.0
	if cfg.Sampling != nil {
		cfg.rate = *cfg.Sampling
	}
	if cfg.rate < 0 {
		cfg.rate = 0
	}
	if cfg.rate > 1 {
		cfg.rate = 1
	}
	if cfg.Rand == nil {
		cfg.Rand = newLockedRand()
	}
}

func (cfg *MetricsConfig) validate() []string {
	var problems []string
	if cfg.Sampling != nil && (*cfg.Sampling < 0 || *cfg.Sampling > 1) {
		problems = append(problems, "metrics: Sampling must be within [0, 1]")
	}
	return problems
}

// Metrics returns a middleware that observes completed requests: wall-clock
// duration, final status, retry count and cache/dedupe flags read from the
// context metadata. It never alters control flow or the response; failures
// are reported with their error, not swallowed.
func Metrics(cfg MetricsConfig) Middleware {
	cfg.normalize()

	return func(c *Context, next Handler) (*http.Response, error) {
		endpoint := endpointOf(c.Request)
		if cfg.Collector != nil {
			cfg.Collector.recordStart(c.Request.Method, endpoint)
		}

		start := time.Now()
		resp, err := next(c)
		duration := time.Since(start)

		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		sample := Sample{
			Method:   c.Request.Method,
			URL:      requestURL(c.Request),
			Status:   status,
			Duration: duration,
			Retries:  c.MetaInt(MetaRetries),
			CacheHit: c.MetaBool(MetaCacheHit),
			Deduped:  c.MetaBool(MetaDeduped),
			Err:      err,
		}

		if cfg.Collector != nil {
			cfg.Collector.record(endpoint, sample)
		}
		if cfg.OnMetrics != nil && cfg.rate > 0 && cfg.Rand.Float64() < cfg.rate {
			cfg.OnMetrics(sample)
		}

		return resp, err
	}
}

func requestURL(req *http.Request) string {
	if req.URL == nil {
		return ""
	}
	return req.URL.String()
}

// endpointOf reduces a request to a host+path label with bounded cardinality
// for the Prometheus collector.
func endpointOf(req *http.Request) string {
	if req.URL == nil {
		return "unknown"
	}
	host := req.URL.Host
	path := req.URL.Path
	if path == "" || path == "/" {
		return host + "/"
	}
	return host + path
}
