package cache

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nexusgate/gateway/internal/store"
)

// configService is a fake configuration service whose data can be swapped
// between refreshes.
type configService struct {
	routes atomic.Pointer[[]*store.Route]
	keys   atomic.Pointer[[]*store.ApiKey]
	fail   atomic.Bool
	srv    *httptest.Server
}

func newConfigService(t *testing.T) *configService {
	t.Helper()
	cs := &configService{}
	cs.setRoutes(nil)
	cs.setKeys(nil)
	cs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cs.fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		switch r.URL.Path {
		case "/service-routes":
			json.NewEncoder(w).Encode(*cs.routes.Load())
		case "/api/keys":
			json.NewEncoder(w).Encode(*cs.keys.Load())
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(cs.srv.Close)
	return cs
}

func (cs *configService) setRoutes(routes []*store.Route) { cs.routes.Store(&routes) }
func (cs *configService) setKeys(keys []*store.ApiKey)    { cs.keys.Store(&keys) }

func (cs *configService) client() *store.Client {
	return store.NewClient(cs.srv.URL, time.Second)
}

func TestRouteCacheRefreshAndLookup(t *testing.T) {
	cs := newConfigService(t)
	cs.setRoutes([]*store.Route{
		{ID: 1, PublicPath: "/api/users/admin", TargetURL: "http://admin:9000", Active: true},
		{ID: 2, PublicPath: "/api/users/**", TargetURL: "http://users:9000", Active: true},
		{ID: 3, PublicPath: "/api/hidden/**", TargetURL: "http://hidden:9000", Active: false},
	})

	c := NewRouteCache(cs.client())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if got := c.Lookup("/api/users/admin"); got == nil || got.ID != 1 {
		t.Errorf("expected route 1 for /api/users/admin, got %+v", got)
	}
	if got := c.Lookup("/api/users/42"); got == nil || got.ID != 2 {
		t.Errorf("expected route 2 for /api/users/42, got %+v", got)
	}
	if got := c.Lookup("/api/hidden/x"); got != nil {
		t.Errorf("inactive route should not match, got %+v", got)
	}
	if got := c.Lookup("/other"); got != nil {
		t.Errorf("expected no match for /other, got %+v", got)
	}
}

func TestRouteCacheFirstMatchWins(t *testing.T) {
	cs := newConfigService(t)
	cs.setRoutes([]*store.Route{
		{ID: 10, PublicPath: "/api/**", TargetURL: "http://a:9000", Active: true},
		{ID: 11, PublicPath: "/api/users/**", TargetURL: "http://b:9000", Active: true},
	})

	c := NewRouteCache(cs.client())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if got := c.Lookup("/api/users/1"); got == nil || got.ID != 10 {
		t.Errorf("expected first matching route 10, got %+v", got)
	}
}

func TestRouteCacheKeepsSnapshotOnFailure(t *testing.T) {
	cs := newConfigService(t)
	cs.setRoutes([]*store.Route{
		{ID: 1, PublicPath: "/api/**", TargetURL: "http://a:9000", Active: true},
	})

	c := NewRouteCache(cs.client())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	cs.fail.Store(true)
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}

	if got := c.Lookup("/api/x"); got == nil || got.ID != 1 {
		t.Errorf("previous snapshot should survive failed refresh, got %+v", got)
	}
	if !c.Initialized() {
		t.Error("cache should remain initialized")
	}
}

func TestRouteCacheEmptyWhenNeverLoaded(t *testing.T) {
	cs := newConfigService(t)
	cs.fail.Store(true)

	c := NewRouteCache(cs.client())
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if c.Initialized() {
		t.Error("cache should not be initialized")
	}
	if got := c.Lookup("/api/x"); got != nil {
		t.Errorf("empty cache should match nothing, got %+v", got)
	}
}

func TestRouteCacheCompilesCustomHeaders(t *testing.T) {
	cs := newConfigService(t)
	cs.setRoutes([]*store.Route{
		{ID: 1, PublicPath: "/a/**", Active: true, CustomHeaders: `{"X-Env":"prod"}`},
		{ID: 2, PublicPath: "/b/**", Active: true, CustomHeaders: `not json`},
	})

	c := NewRouteCache(cs.client())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	if got := c.Lookup("/a/x").HeaderMap(); got["X-Env"] != "prod" {
		t.Errorf("unexpected headers: %v", got)
	}
	// Malformed headers are logged and ignored; the route still serves.
	if got := c.Lookup("/b/x"); got == nil || len(got.HeaderMap()) != 0 {
		t.Errorf("malformed headers should leave route usable: %+v", got)
	}
}

func TestKeyCacheValidate(t *testing.T) {
	past := time.Now().Add(-time.Hour)
	cs := newConfigService(t)
	cs.setKeys([]*store.ApiKey{
		{ID: 1, KeyValue: "live-key", Active: true},
		{ID: 2, KeyValue: "dead-key", Active: false},
		{ID: 3, KeyValue: "old-key", Active: true, ExpiresAt: &past},
	})

	c := NewKeyCache(cs.client())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	key, err := c.Validate("live-key")
	if err != nil || key.ID != 1 {
		t.Errorf("Validate(live-key) = %+v, %v", key, err)
	}

	// Inactive and expired records are returned; usability is judged by
	// the auth stage so it can report the precise reason.
	if key, err = c.Validate("dead-key"); err != nil || key.Active {
		t.Errorf("Validate(dead-key) = %+v, %v", key, err)
	}
	if key, err = c.Validate("old-key"); err != nil || !key.Expired(time.Now()) {
		t.Errorf("Validate(old-key) = %+v, %v", key, err)
	}

	if _, err = c.Validate("unknown"); !errors.Is(err, ErrKeyNotFound) {
		t.Errorf("expected ErrKeyNotFound, got %v", err)
	}
}

func TestKeyCacheKeepsSnapshotOnFailure(t *testing.T) {
	cs := newConfigService(t)
	cs.setKeys([]*store.ApiKey{{ID: 1, KeyValue: "k1", Active: true}})

	c := NewKeyCache(cs.client())
	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	cs.fail.Store(true)
	if err := c.Refresh(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if _, err := c.Validate("k1"); err != nil {
		t.Errorf("previous snapshot should survive failed refresh: %v", err)
	}
}

func TestStats(t *testing.T) {
	cs := newConfigService(t)
	cs.setKeys([]*store.ApiKey{
		{ID: 1, KeyValue: "a", Active: true},
		{ID: 2, KeyValue: "b", Active: true},
	})

	c := NewKeyCache(cs.client())
	if got := c.Stats(); got.Initialized || got.Size != 0 {
		t.Errorf("unexpected stats before refresh: %+v", got)
	}

	if err := c.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	got := c.Stats()
	if !got.Initialized || got.Size != 2 {
		t.Errorf("unexpected stats after refresh: %+v", got)
	}
	if time.Since(got.LastRefresh) > time.Minute {
		t.Errorf("lastRefresh not updated: %v", got.LastRefresh)
	}
}
