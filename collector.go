package breakwater

import (
	"errors"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector exports request lifecycle metrics to Prometheus. It is fed by the
// Metrics middleware and safe for concurrent use.
type Collector struct {
	requestsTotal    *prometheus.CounterVec
	requestDuration  *prometheus.HistogramVec
	requestsInFlight *prometheus.GaugeVec

	retriesTotal *prometheus.CounterVec

	cacheHits   *prometheus.CounterVec
	dedupeHits  *prometheus.CounterVec
	errorsTotal *prometheus.CounterVec
}

// NewCollector creates a collector on the default registerer.
func NewCollector() *Collector {
	return NewCollectorWithRegisterer(prometheus.DefaultRegisterer)
}

// NewCollectorWithRegisterer creates a collector using the supplied
// registerer.
func NewCollectorWithRegisterer(reg prometheus.Registerer) *Collector {
	return &Collector{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakwater_requests_total",
				Help: "Total number of HTTP requests made",
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "breakwater_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "status_code", "endpoint"},
		),
		requestsInFlight: promauto.With(reg).NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "breakwater_requests_in_flight",
				Help: "Number of HTTP requests currently in flight",
			},
			[]string{"method", "endpoint"},
		),
		retriesTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakwater_retries_total",
				Help: "Total number of retry attempts",
			},
			[]string{"method", "endpoint"},
		),
		cacheHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakwater_cache_hits_total",
				Help: "Total number of cache hits",
			},
			[]string{"method", "endpoint"},
		),
		dedupeHits: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakwater_dedupe_hits_total",
				Help: "Total number of coalesced duplicate requests",
			},
			[]string{"method", "endpoint"},
		),
		errorsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "breakwater_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type", "method", "endpoint"},
		),
	}
}

func (mc *Collector) recordStart(method, endpoint string) {
	if mc == nil {
		return
	}
	mc.requestsInFlight.WithLabelValues(method, endpoint).Inc()
}

func (mc *Collector) record(endpoint string, s Sample) {
	if mc == nil {
		return
	}

	mc.requestsInFlight.WithLabelValues(s.Method, endpoint).Dec()

	status := strconv.Itoa(s.Status)
	mc.requestsTotal.WithLabelValues(s.Method, status, endpoint).Inc()
	mc.requestDuration.WithLabelValues(s.Method, status, endpoint).Observe(s.Duration.Seconds())

	if s.Retries > 0 {
		mc.retriesTotal.WithLabelValues(s.Method, endpoint).Add(float64(s.Retries))
	}
	if s.CacheHit {
		mc.cacheHits.WithLabelValues(s.Method, endpoint).Inc()
	}
	if s.Deduped {
		mc.dedupeHits.WithLabelValues(s.Method, endpoint).Inc()
	}
	if s.Err != nil {
		mc.errorsTotal.WithLabelValues(errorTypeOf(s.Err), s.Method, endpoint).Inc()
	}
}

func errorTypeOf(err error) string {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Type
	}
	return ErrorTypeTransport
}
