package pipeline

import (
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/analytics"
	"github.com/nexusgate/gateway/internal/logging"
	"github.com/nexusgate/gateway/internal/metrics"
	"github.com/nexusgate/gateway/internal/store"
)

// HeaderRequestID carries the request ID back to the client.
const HeaderRequestID = "X-Request-Id"

// Pipeline runs requests through its stages in order and reports every
// completed request to the access log, metrics, and analytics.
type Pipeline struct {
	stages  []Stage
	metrics *metrics.Collector
	emitter *analytics.Emitter
}

// New assembles a pipeline. metrics and emitter may be nil.
func New(stages []Stage, m *metrics.Collector, e *analytics.Emitter) *Pipeline {
	return &Pipeline{stages: stages, metrics: m, emitter: e}
}

func (p *Pipeline) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rc := &RequestContext{
		RequestID: uuid.NewString(),
		StartTime: time.Now(),
		ClientIP:  clientIP(r),
	}
	w.Header().Set(HeaderRequestID, rc.RequestID)

	sw := &statusWriter{ResponseWriter: w}
	for _, stage := range p.stages {
		if !stage.Execute(sw, r, rc) {
			break
		}
	}
	if sw.status == 0 {
		sw.status = http.StatusOK
	}
	rc.StatusCode = sw.status

	p.complete(r, rc)
}

func (p *Pipeline) complete(r *http.Request, rc *RequestContext) {
	duration := time.Since(rc.StartTime)
	routeLabel := "unmatched"
	var routeID int64
	if rc.Route != nil {
		routeLabel = rc.Route.PublicPath
		routeID = rc.Route.ID
	}

	logging.Info("request",
		zap.String("request_id", rc.RequestID),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("client_ip", rc.ClientIP),
		zap.String("route", routeLabel),
		zap.Int64("route_id", routeID),
		zap.Int64("api_key_id", rc.APIKeyID),
		zap.Int("status", rc.StatusCode),
		zap.Duration("duration", duration),
		zap.Bool("blocked", rc.Blocked))

	if p.metrics != nil {
		p.metrics.RecordRequest(routeLabel, r.Method, rc.StatusCode, duration)
	}
	if p.emitter == nil {
		return
	}

	p.emitter.EmitRequest(analytics.RequestLog{
		ApiKeyID:       rc.APIKeyID,
		ServiceRouteID: routeID,
		Method:         r.Method,
		Path:           r.URL.Path,
		Status:         rc.StatusCode,
		LatencyMs:      duration.Milliseconds(),
		ClientIP:       rc.ClientIP,
		RateLimited:    rc.RateLimited,
		Blocked:        rc.Blocked,
	})

	if rc.RateLimited {
		p.emitter.EmitViolation(analytics.Violation{
			ApiKey:      store.MaskKey(rc.APIKeyValue),
			ServiceName: routeLabel,
			Endpoint:    r.URL.Path,
			HTTPMethod:  r.Method,
			LimitValue:  strconv.Itoa(rc.LimitValue) + "/" + rc.LimitWindow,
			ActualValue: int64(rc.LimitValue) + 1, // the denied request itself
			ClientIP:    rc.ClientIP,
		})
	}
}

// clientIP prefers the first entry of X-Forwarded-For, falling back to the
// connection's remote address.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if i := strings.IndexByte(xff, ','); i >= 0 {
			return strings.TrimSpace(xff[:i])
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		if r.RemoteAddr != "" {
			return r.RemoteAddr
		}
		return "unknown"
	}
	return host
}
