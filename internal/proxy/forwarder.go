// Package proxy forwards matched requests to their backend targets.
package proxy

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/logging"
	"github.com/nexusgate/gateway/internal/matcher"
	"github.com/nexusgate/gateway/internal/store"
)

// Trust headers added to every forwarded request so backends can identify
// the caller without re-validating credentials.
const (
	HeaderAPIKeyID = "X-Api-Key-Id"
	HeaderRouteID  = "X-Route-Id"
)

const defaultTimeout = 30 * time.Second

// Hop-by-hop headers are stripped in both directions. The client's API key
// is stripped too so credentials never reach backends.
var hopHeaders = map[string]struct{}{
	"host":                {},
	"connection":          {},
	"keep-alive":          {},
	"transfer-encoding":   {},
	"te":                  {},
	"trailer":             {},
	"proxy-authorization": {},
	"proxy-authenticate":  {},
	"upgrade":             {},
	"x-api-key":           {},
}

// Forwarder sends requests upstream and streams responses back.
type Forwarder struct {
	transport http.RoundTripper
	timeout   time.Duration
}

// NewForwarder creates a forwarder. defaultTimeout applies to routes
// without their own; zero selects 30s.
func NewForwarder(transport http.RoundTripper, timeout time.Duration) *Forwarder {
	if transport == nil {
		transport = http.DefaultTransport
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Forwarder{transport: transport, timeout: timeout}
}

// Forward proxies the request to the route's target and returns the
// backend's status code. apiKeyID is zero for unauthenticated routes.
// A non-nil error means the backend never answered (unreachable or timed
// out) and nothing was written to the client; a 502 with a nil error is
// the backend's own response, proxied through. Once response headers are
// written a mid-stream failure just stops the copy.
func (f *Forwarder) Forward(w http.ResponseWriter, r *http.Request, route *store.Route, apiKeyID int64) (int, error) {
	target := route.TargetURL + matcher.RemainingPath(route.PublicPath, r.URL.Path)
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}

	ctx, cancel := context.WithTimeout(r.Context(), route.Timeout(f.timeout))
	defer cancel()

	out, err := http.NewRequestWithContext(ctx, r.Method, target, r.Body)
	if err != nil {
		logging.Error("Failed to build upstream request",
			zap.Int64("route_id", route.ID),
			zap.String("target", target),
			zap.Error(err))
		return http.StatusBadGateway, err
	}
	out.ContentLength = r.ContentLength

	copyHeaders(out.Header, r.Header)
	for name, value := range route.HeaderMap() {
		out.Header.Set(name, value)
	}
	if apiKeyID > 0 {
		out.Header.Set(HeaderAPIKeyID, strconv.FormatInt(apiKeyID, 10))
	}
	out.Header.Set(HeaderRouteID, strconv.FormatInt(route.ID, 10))

	resp, err := f.transport.RoundTrip(out)
	if err != nil {
		logging.Error("Upstream request failed",
			zap.Int64("route_id", route.ID),
			zap.String("target", route.TargetURL),
			zap.Error(err))
		return http.StatusBadGateway, err
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logging.Warn("Response copy interrupted",
			zap.Int64("route_id", route.ID),
			zap.Error(err))
	}
	return resp.StatusCode, nil
}

func copyHeaders(dst, src http.Header) {
	for name, values := range src {
		if _, skip := hopHeaders[strings.ToLower(name)]; skip {
			continue
		}
		for _, v := range values {
			dst.Add(name, v)
		}
	}
}
