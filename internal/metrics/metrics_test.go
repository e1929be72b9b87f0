package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestWritePrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("/api/users/**", "GET", 200, 20*time.Millisecond)
	c.RecordRequest("/api/users/**", "GET", 200, 40*time.Millisecond)
	c.RecordRequest("/api/users/**", "POST", 401, time.Millisecond)
	c.RecordRateLimited("/api/users/**", "minute")
	c.RecordAuthFailure("/api/users/**")
	c.RecordProxyError("/api/orders/**")

	rec := httptest.NewRecorder()
	c.WritePrometheus(rec)
	body := rec.Body.String()

	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("unexpected content type %q", ct)
	}

	for _, want := range []string{
		`gateway_requests_total{route="/api/users/**",method="GET",status="200"} 2`,
		`gateway_requests_total{route="/api/users/**",method="POST",status="401"} 1`,
		`gateway_request_duration_seconds_count{route="/api/users/**"} 3`,
		`gateway_request_duration_seconds_bucket{route="/api/users/**",le="+Inf"} 3`,
		`gateway_rate_limited_total{route="/api/users/**",window="minute"} 1`,
		`gateway_auth_failures_total{route="/api/users/**"} 1`,
		`gateway_proxy_errors_total{route="/api/orders/**"} 1`,
		"# TYPE gateway_request_duration_seconds histogram",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("missing line %q in output:\n%s", want, body)
		}
	}
}

func TestHistogramBuckets(t *testing.T) {
	c := NewCollector()
	c.RecordRequest("/r", "GET", 200, 30*time.Millisecond)

	rec := httptest.NewRecorder()
	c.WritePrometheus(rec)
	body := rec.Body.String()

	// 30ms falls above the 0.025 bound and inside 0.05.
	if !strings.Contains(body, `gateway_request_duration_seconds_bucket{route="/r",le="0.025"} 0`) {
		t.Error("0.025 bucket should be empty")
	}
	if !strings.Contains(body, `gateway_request_duration_seconds_bucket{route="/r",le="0.05"} 1`) {
		t.Error("0.05 bucket should hold the observation")
	}
}

func TestSplitKey(t *testing.T) {
	got := splitKey("/a|GET|200", 3)
	if len(got) != 3 || got[0] != "/a" || got[1] != "GET" || got[2] != "200" {
		t.Errorf("unexpected parts %v", got)
	}
	// Route patterns never contain '|', but a 3-way split must keep any
	// trailing separators in the last part.
	got = splitKey("a|b|c|d", 3)
	if len(got) != 3 || got[2] != "c|d" {
		t.Errorf("unexpected parts %v", got)
	}
}
