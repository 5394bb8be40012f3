package breakwater

import "net/http"

// KeyFunc derives a stable string key from a request. Keys index per-resource
// plugin state (cache entries, circuits, rate windows, pending requests) and
// must be deterministic for the lifetime of the process.
type KeyFunc func(*http.Request) string

// DefaultKeyFunc keys on method + URL.
func DefaultKeyFunc(req *http.Request) string {
	if req.URL == nil {
		return req.Method + ":"
	}

	var buf []byte
	buf = append(buf, req.Method...)
	buf = append(buf, ':')
	buf = append(buf, req.URL.String()...)

	return string(buf)
}

// GlobalKeyFunc groups all requests under one key. It is the rate limiter's
// default, bounding total throughput regardless of destination.
func GlobalKeyFunc(*http.Request) string {
	return "global"
}

// HostKeyFunc keys on the request host.
func HostKeyFunc(req *http.Request) string {
	if req.URL != nil && req.URL.Host != "" {
		return "host:" + req.URL.Host
	}
	if req.Host != "" {
		return "host:" + req.Host
	}
	return "host:unknown"
}

// RouteKeyFunc keys on the request method and path.
func RouteKeyFunc(req *http.Request) string {
	return "route:" + req.Method + ":" + req.URL.Path
}

// HostRouteKeyFunc keys on host, method and path combined.
func HostRouteKeyFunc(req *http.Request) string {
	host := req.URL.Host
	if host == "" {
		host = req.Host
	}
	if host == "" {
		host = "unknown"
	}
	return "host_route:" + host + ":" + req.Method + ":" + req.URL.Path
}
