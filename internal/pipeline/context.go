// Package pipeline runs each request through the gateway's ordered
// processing stages: route resolution, method validation, authentication,
// rate limiting, and forwarding.
package pipeline

import (
	"net/http"
	"time"

	"github.com/nexusgate/gateway/internal/store"
)

// RequestContext carries per-request state between stages. Stages populate
// it as they run; completion hooks read it for logging and analytics.
type RequestContext struct {
	RequestID string
	StartTime time.Time
	ClientIP  string

	Route       *store.Route
	APIKeyID    int64
	APIKeyValue string

	Blocked     bool   // rejected by a stage before forwarding
	RateLimited bool   // rejected specifically by rate limiting
	LimitWindow string // denying window when rate limited
	LimitValue  int    // denying window's capacity

	StatusCode int
}

// Stage is one step of request processing. Execute writes the response
// and returns false to stop the pipeline, or returns true to continue.
type Stage interface {
	Name() string
	Execute(w http.ResponseWriter, r *http.Request, rc *RequestContext) bool
}

// statusWriter records the status code written to the client.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}
