package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/nexusgate/gateway/internal/auth"
	"github.com/nexusgate/gateway/internal/cache"
	gwerrors "github.com/nexusgate/gateway/internal/errors"
	"github.com/nexusgate/gateway/internal/metrics"
	"github.com/nexusgate/gateway/internal/proxy"
	"github.com/nexusgate/gateway/internal/ratelimit"
	"github.com/nexusgate/gateway/internal/store"
)

// routeResolution matches the request path against the route cache.
type routeResolution struct {
	routes *cache.RouteCache
}

// NewRouteResolution creates the route matching stage.
func NewRouteResolution(routes *cache.RouteCache) Stage {
	return &routeResolution{routes: routes}
}

func (s *routeResolution) Name() string { return "route_resolution" }

func (s *routeResolution) Execute(w http.ResponseWriter, r *http.Request, rc *RequestContext) bool {
	route := s.routes.Lookup(r.URL.Path)
	if route == nil {
		rc.Blocked = true
		gwerrors.ErrNotFound.WriteJSON(w, r.URL.Path)
		return false
	}
	rc.Route = route
	return true
}

// methodValidation rejects methods the route does not allow.
type methodValidation struct{}

// NewMethodValidation creates the method filtering stage.
func NewMethodValidation() Stage { return methodValidation{} }

func (methodValidation) Name() string { return "method_validation" }

func (methodValidation) Execute(w http.ResponseWriter, r *http.Request, rc *RequestContext) bool {
	if rc.Route.AllowsMethod(r.Method) {
		return true
	}
	rc.Blocked = true
	msg := fmt.Sprintf("Method %s is not allowed. Allowed methods: %s",
		r.Method, strings.Join(rc.Route.AllowedMethods, ", "))
	gwerrors.ErrMethodNotAllowed.WithMessage(msg).WriteJSON(w, r.URL.Path)
	return false
}

// authentication validates credentials per the route's auth type.
type authentication struct {
	apiKeys *auth.APIKeyAuth
	jwt     *auth.JWTAuth
	metrics *metrics.Collector
}

// NewAuthentication creates the credential validation stage.
func NewAuthentication(apiKeys *auth.APIKeyAuth, jwt *auth.JWTAuth, m *metrics.Collector) Stage {
	return &authentication{apiKeys: apiKeys, jwt: jwt, metrics: m}
}

func (s *authentication) Name() string { return "authentication" }

func (s *authentication) Execute(w http.ResponseWriter, r *http.Request, rc *RequestContext) bool {
	route := rc.Route
	if !route.AuthRequired || route.AuthType == store.AuthNone {
		return true
	}

	if route.AuthType == store.AuthAPIKey || route.AuthType == store.AuthBoth {
		key, gwErr := s.apiKeys.Authenticate(r)
		if gwErr != nil {
			return s.reject(w, r, rc, gwErr)
		}
		rc.APIKeyID = key.ID
		rc.APIKeyValue = key.KeyValue
	}

	if route.AuthType == store.AuthJWT || route.AuthType == store.AuthBoth {
		if _, gwErr := s.jwt.Authenticate(r); gwErr != nil {
			return s.reject(w, r, rc, gwErr)
		}
	}
	return true
}

func (s *authentication) reject(w http.ResponseWriter, r *http.Request, rc *RequestContext, gwErr *gwerrors.GatewayError) bool {
	rc.Blocked = true
	if s.metrics != nil {
		s.metrics.RecordAuthFailure(rc.Route.PublicPath)
	}
	gwErr.WriteJSON(w, r.URL.Path)
	return false
}

// Allower checks a request budget. Implemented by ratelimit.Limiter.
type Allower interface {
	Allow(ctx context.Context, apiKeyID, routeID int64, perMinute, perHour int) ratelimit.Outcome
}

// LimitResolver answers which limits apply to a key on a route.
// Implemented by ratelimit.Resolver.
type LimitResolver interface {
	Resolve(ctx context.Context, apiKeyID int64, route *store.Route) store.EffectiveLimit
}

// rateLimit enforces the effective per-key budget on the route.
type rateLimit struct {
	limiter  Allower
	resolver LimitResolver
	metrics  *metrics.Collector
}

// NewRateLimit creates the rate limiting stage.
func NewRateLimit(limiter Allower, resolver LimitResolver, m *metrics.Collector) Stage {
	return &rateLimit{limiter: limiter, resolver: resolver, metrics: m}
}

func (s *rateLimit) Name() string { return "rate_limit" }

func (s *rateLimit) Execute(w http.ResponseWriter, r *http.Request, rc *RequestContext) bool {
	route := rc.Route
	// Budgets are tracked per API key; anonymous routes are not limited.
	if !route.RateLimitEnabled || rc.APIKeyID == 0 {
		return true
	}

	limit := s.resolver.Resolve(r.Context(), rc.APIKeyID, route)
	if !limit.Active {
		return true
	}

	out := s.limiter.Allow(r.Context(), rc.APIKeyID, route.ID, limit.RequestsPerMinute, limit.RequestsPerHour)
	if out.Allowed {
		return true
	}

	rc.Blocked = true
	rc.RateLimited = true
	rc.LimitWindow = out.Window
	rc.LimitValue = out.Limit
	if s.metrics != nil {
		s.metrics.RecordRateLimited(route.PublicPath, out.Window)
	}
	gwerrors.ErrTooManyRequests.WriteJSON(w, r.URL.Path)
	return false
}

// forward hands the request to the upstream backend.
type forward struct {
	forwarder *proxy.Forwarder
	metrics   *metrics.Collector
}

// NewForward creates the forwarding stage.
func NewForward(f *proxy.Forwarder, m *metrics.Collector) Stage {
	return &forward{forwarder: f, metrics: m}
}

func (s *forward) Name() string { return "forward" }

func (s *forward) Execute(w http.ResponseWriter, r *http.Request, rc *RequestContext) bool {
	// A Forward error means the backend never answered and nothing was
	// written; a proxied upstream 502 comes back with a nil error and is
	// not the gateway's failure.
	if _, err := s.forwarder.Forward(w, r, rc.Route, rc.APIKeyID); err != nil {
		if s.metrics != nil {
			s.metrics.RecordProxyError(rc.Route.PublicPath)
		}
		gwerrors.ErrBadGateway.WriteJSON(w, r.URL.Path)
	}
	return true
}
