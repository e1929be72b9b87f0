package ratelimit

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/logging"
	"github.com/nexusgate/gateway/internal/store"
)

const (
	defaultLimitTTL = time.Minute

	// How long a fallback answer is served after a failed lookup. Short
	// enough to pick up real overrides quickly once the service is back,
	// long enough that an outage costs one lookup per pair, not one per
	// request.
	failureTTL = 5 * time.Second
)

type cachedLimit struct {
	limit   store.EffectiveLimit
	expires time.Time
}

// Resolver answers "which limits apply to this key on this route". The
// configuration service resolves overrides by specificity; the answer is
// cached briefly so the hot path stays off the network. When the service
// is unreachable the route's own limits apply instead.
type Resolver struct {
	client *store.Client
	ttl    time.Duration

	mu    sync.Mutex
	cache map[limitKey]cachedLimit
}

type limitKey struct {
	apiKeyID int64
	routeID  int64
}

// NewResolver creates a limit resolver. ttl bounds how stale a cached
// answer may be; zero selects one minute.
func NewResolver(client *store.Client, ttl time.Duration) *Resolver {
	if ttl <= 0 {
		ttl = defaultLimitTTL
	}
	return &Resolver{
		client: client,
		ttl:    ttl,
		cache:  make(map[limitKey]cachedLimit),
	}
}

// Resolve returns the effective limit for the pair. It never fails: a
// lookup error yields the route's embedded limits, cached under a short
// TTL so requests during a config-service outage do not each pay the
// lookup's retry budget.
func (r *Resolver) Resolve(ctx context.Context, apiKeyID int64, route *store.Route) store.EffectiveLimit {
	k := limitKey{apiKeyID: apiKeyID, routeID: route.ID}

	r.mu.Lock()
	entry, ok := r.cache[k]
	r.mu.Unlock()
	if ok && time.Now().Before(entry.expires) {
		return entry.limit
	}

	limit, err := r.client.EffectiveLimit(ctx, apiKeyID, route.ID)
	if err != nil {
		logging.Warn("Effective limit lookup failed, using route limits",
			zap.Int64("api_key_id", apiKeyID),
			zap.Int64("route_id", route.ID),
			zap.Error(err))
		fallback := store.EffectiveLimit{
			RequestsPerMinute: route.RateLimitPerMinute,
			RequestsPerHour:   route.RateLimitPerHour,
			Active:            true,
		}
		r.store(k, fallback, failureTTL)
		return fallback
	}

	r.store(k, *limit, r.ttl)
	return *limit
}

func (r *Resolver) store(k limitKey, limit store.EffectiveLimit, ttl time.Duration) {
	r.mu.Lock()
	r.cache[k] = cachedLimit{limit: limit, expires: time.Now().Add(ttl)}
	r.mu.Unlock()
}
