// Package cache holds in-memory snapshots of the configuration service's
// routing and credential data. Each cache owns an immutable snapshot that a
// background refresh rebuilds and publishes with an atomic pointer swap, so
// request-path lookups never take a lock and never touch the network.
package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/nexusgate/gateway/internal/logging"
	"github.com/nexusgate/gateway/internal/matcher"
	"github.com/nexusgate/gateway/internal/store"
)

// Stats describes a cache's refresh state for health reporting.
type Stats struct {
	Initialized bool      `json:"initialized"`
	Size        int       `json:"size"`
	LastRefresh time.Time `json:"lastRefresh"`
}

type routeSnapshot struct {
	routes []*store.Route
}

// RouteCache caches the active route list.
type RouteCache struct {
	client      *store.Client
	snap        atomic.Pointer[routeSnapshot]
	initialized atomic.Bool
	lastRefresh atomic.Int64 // unix millis
}

// NewRouteCache creates a route cache with an empty snapshot.
func NewRouteCache(client *store.Client) *RouteCache {
	c := &RouteCache{client: client}
	c.snap.Store(&routeSnapshot{})
	return c
}

// Refresh fetches the full active-route list and atomically replaces the
// snapshot. On failure the previous snapshot is kept; a cache that never
// loaded stays empty.
func (c *RouteCache) Refresh(ctx context.Context) error {
	routes, err := c.client.ActiveRoutes(ctx)
	if err != nil {
		if c.initialized.Load() {
			logging.Warn("Route cache refresh failed, keeping previous snapshot",
				zap.Int("routes", len(c.snap.Load().routes)),
				zap.Error(err))
		} else {
			logging.Warn("Route cache refresh failed, no snapshot loaded yet", zap.Error(err))
		}
		return err
	}

	for _, route := range routes {
		if err := route.CompileHeaders(); err != nil {
			logging.Warn("Ignoring malformed custom headers",
				zap.Int64("route_id", route.ID),
				zap.Error(err))
		}
	}

	c.snap.Store(&routeSnapshot{routes: routes})
	c.initialized.Store(true)
	c.lastRefresh.Store(time.Now().UnixMilli())
	logging.Info("Route cache refreshed", zap.Int("routes", len(routes)))
	return nil
}

// Lookup returns the first active route whose path pattern matches, in
// snapshot order (the configuration service's response order), or nil.
// Method filtering happens in a later pipeline stage.
func (c *RouteCache) Lookup(path string) *store.Route {
	for _, route := range c.snap.Load().routes {
		if !route.Active {
			continue
		}
		if matcher.Matches(route.PublicPath, path) {
			return route
		}
	}
	return nil
}

// Routes returns the current snapshot's route list. Callers must not
// mutate it.
func (c *RouteCache) Routes() []*store.Route {
	return c.snap.Load().routes
}

// Initialized reports whether a refresh has ever succeeded.
func (c *RouteCache) Initialized() bool {
	return c.initialized.Load()
}

// Stats returns the cache's refresh state.
func (c *RouteCache) Stats() Stats {
	return Stats{
		Initialized: c.initialized.Load(),
		Size:        len(c.snap.Load().routes),
		LastRefresh: time.UnixMilli(c.lastRefresh.Load()),
	}
}

// Run refreshes the cache on a fixed interval until ctx is canceled.
// Refresh errors are logged inside Refresh and otherwise ignored here.
func (c *RouteCache) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Refresh(ctx)
		}
	}
}
