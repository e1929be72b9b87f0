// Package metrics tracks gateway counters and exposes them in Prometheus
// text exposition format.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"
)

// Collector tracks request outcomes per route.
type Collector struct {
	mu sync.RWMutex

	requestsTotal    map[string]int64          // key: route|method|status
	requestDurations map[string]*histogramData // key: route
	rateLimitedTotal map[string]int64          // key: route|window
	authFailures     map[string]int64          // key: route
	proxyErrors      map[string]int64          // key: route
}

type histogramData struct {
	count   int64
	sum     float64
	buckets map[float64]int64 // upper bound -> count
}

// DefaultBuckets are the duration histogram bucket bounds in seconds.
var DefaultBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0}

// NewCollector creates an empty metrics collector.
func NewCollector() *Collector {
	return &Collector{
		requestsTotal:    make(map[string]int64),
		requestDurations: make(map[string]*histogramData),
		rateLimitedTotal: make(map[string]int64),
		authFailures:     make(map[string]int64),
		proxyErrors:      make(map[string]int64),
	}
}

// RecordRequest records a completed request. route is the matched public
// path pattern, or "unmatched" for requests that hit no route.
func (c *Collector) RecordRequest(route, method string, statusCode int, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := route + "|" + method + "|" + strconv.Itoa(statusCode)
	c.requestsTotal[key]++

	hd, ok := c.requestDurations[route]
	if !ok {
		hd = &histogramData{buckets: make(map[float64]int64)}
		for _, b := range DefaultBuckets {
			hd.buckets[b] = 0
		}
		c.requestDurations[route] = hd
	}

	secs := duration.Seconds()
	hd.count++
	hd.sum += secs
	for _, bound := range DefaultBuckets {
		if secs <= bound {
			hd.buckets[bound]++
		}
	}
}

// RecordRateLimited records a request rejected by the given limit window.
func (c *Collector) RecordRateLimited(route, window string) {
	c.mu.Lock()
	c.rateLimitedTotal[route+"|"+window]++
	c.mu.Unlock()
}

// RecordAuthFailure records a request rejected by authentication.
func (c *Collector) RecordAuthFailure(route string) {
	c.mu.Lock()
	c.authFailures[route]++
	c.mu.Unlock()
}

// RecordProxyError records a forwarding failure (unreachable backend or
// timeout).
func (c *Collector) RecordProxyError(route string) {
	c.mu.Lock()
	c.proxyErrors[route]++
	c.mu.Unlock()
}

// WritePrometheus writes all metrics in Prometheus text exposition format.
func (c *Collector) WritePrometheus(w http.ResponseWriter) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	writeHelp(w, "gateway_requests_total", "Total number of requests", "counter")
	for key, count := range c.requestsTotal {
		parts := splitKey(key, 3)
		if len(parts) == 3 {
			writeMetric(w, "gateway_requests_total", count,
				"route", parts[0], "method", parts[1], "status", parts[2])
		}
	}

	writeHelp(w, "gateway_request_duration_seconds", "Request duration in seconds", "histogram")
	for route, hd := range c.requestDurations {
		for _, bound := range DefaultBuckets {
			writeMetricFloat(w, "gateway_request_duration_seconds_bucket", float64(hd.buckets[bound]),
				"route", route, "le", strconv.FormatFloat(bound, 'f', -1, 64))
		}
		writeMetricFloat(w, "gateway_request_duration_seconds_bucket", float64(hd.count),
			"route", route, "le", "+Inf")
		writeMetricFloat(w, "gateway_request_duration_seconds_sum", hd.sum,
			"route", route)
		writeMetric(w, "gateway_request_duration_seconds_count", hd.count,
			"route", route)
	}

	writeHelp(w, "gateway_rate_limited_total", "Requests rejected by rate limiting", "counter")
	for key, count := range c.rateLimitedTotal {
		parts := splitKey(key, 2)
		if len(parts) == 2 {
			writeMetric(w, "gateway_rate_limited_total", count,
				"route", parts[0], "window", parts[1])
		}
	}

	writeHelp(w, "gateway_auth_failures_total", "Requests rejected by authentication", "counter")
	for route, count := range c.authFailures {
		writeMetric(w, "gateway_auth_failures_total", count, "route", route)
	}

	writeHelp(w, "gateway_proxy_errors_total", "Forwarding failures", "counter")
	for route, count := range c.proxyErrors {
		writeMetric(w, "gateway_proxy_errors_total", count, "route", route)
	}
}

func writeHelp(w http.ResponseWriter, name, help, metricType string) {
	w.Write([]byte("# HELP " + name + " " + help + "\n"))
	w.Write([]byte("# TYPE " + name + " " + metricType + "\n"))
}

func writeMetric(w http.ResponseWriter, name string, value int64, labels ...string) {
	w.Write([]byte(name + formatLabels(labels) + " " + strconv.FormatInt(value, 10) + "\n"))
}

func writeMetricFloat(w http.ResponseWriter, name string, value float64, labels ...string) {
	w.Write([]byte(name + formatLabels(labels) + " " + strconv.FormatFloat(value, 'f', -1, 64) + "\n"))
}

func formatLabels(labels []string) string {
	if len(labels) == 0 {
		return ""
	}
	result := "{"
	for i := 0; i < len(labels)-1; i += 2 {
		if i > 0 {
			result += ","
		}
		result += labels[i] + "=\"" + labels[i+1] + "\""
	}
	return result + "}"
}

func splitKey(key string, n int) []string {
	parts := make([]string, 0, n)
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '|' {
			parts = append(parts, key[start:i])
			start = i + 1
			if len(parts) == n-1 {
				parts = append(parts, key[start:])
				return parts
			}
		}
	}
	if start < len(key) {
		parts = append(parts, key[start:])
	}
	return parts
}
