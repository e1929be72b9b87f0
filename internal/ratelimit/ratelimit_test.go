package ratelimit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/nexusgate/gateway/internal/store"
)

func TestTakeDrainsToZero(t *testing.T) {
	const capacity = 5
	now := time.Now().UnixMilli()
	tokens := float64(capacity)

	for i := 0; i < capacity; i++ {
		var ok bool
		tokens, ok = take(tokens, now, now, capacity, time.Minute)
		if !ok {
			t.Fatalf("take %d should succeed", i+1)
		}
	}
	if _, ok := take(tokens, now, now, capacity, time.Minute); ok {
		t.Error("bucket should be empty")
	}
}

func TestTakeRefillsOverTime(t *testing.T) {
	const capacity = 60 // one token per second over a minute window
	now := time.Now().UnixMilli()

	tokens, ok := take(0, now, now+2000, capacity, time.Minute)
	if !ok {
		t.Fatal("two seconds should refill two tokens")
	}
	if tokens < 0.9 || tokens > 1.1 {
		t.Errorf("expected ~1 token left, got %v", tokens)
	}

	if _, ok := take(0, now, now+500, capacity, time.Minute); ok {
		t.Error("half a second refills only half a token")
	}
}

func TestTakeCapsAtCapacity(t *testing.T) {
	const capacity = 10
	now := time.Now().UnixMilli()

	// A long idle period must not bank more than capacity.
	tokens, ok := take(0, now, now+int64(time.Hour.Milliseconds()), capacity, time.Minute)
	if !ok {
		t.Fatal("full bucket should allow")
	}
	if tokens != capacity-1 {
		t.Errorf("expected %d tokens after one take from full, got %v", capacity-1, tokens)
	}
}

func TestBucketKeyFormat(t *testing.T) {
	l := NewLimiter(nil, "")
	if got := l.bucketKey(42, 7, WindowMinute); got != "nexusgate:42:7:minute" {
		t.Errorf("unexpected key %q", got)
	}
	l = NewLimiter(nil, "gw")
	if got := l.bucketKey(42, 7, WindowHour); got != "gw:42:7:hour" {
		t.Errorf("unexpected key %q", got)
	}
}

func TestAllowFailsOpenWhenRedisDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1", // nothing listens here
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	l := NewLimiter(client, "")
	out := l.Allow(context.Background(), 1, 1, 10, 100)
	if !out.Allowed {
		t.Error("Redis failure must not block traffic")
	}
}

func TestAllowUnlimitedWindowsSkipRedis(t *testing.T) {
	// Both capacities non-positive: Redis must never be touched, so even
	// an unreachable client yields an immediate allow.
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: time.Millisecond})
	defer client.Close()

	l := NewLimiter(client, "")
	start := time.Now()
	out := l.Allow(context.Background(), 1, 1, 0, -5)
	if !out.Allowed {
		t.Error("unlimited windows must allow")
	}
	if time.Since(start) > 50*time.Millisecond {
		t.Error("unlimited check should not reach Redis")
	}
}

func TestResolverCachesAndFallsBack(t *testing.T) {
	var calls atomic.Int32
	var fail atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if fail.Load() {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(store.EffectiveLimit{
			RequestsPerMinute: 30,
			RequestsPerHour:   300,
			Active:            true,
		})
	}))
	defer srv.Close()

	route := &store.Route{ID: 7, RateLimitPerMinute: 10, RateLimitPerHour: 100}
	r := NewResolver(store.NewClient(srv.URL, time.Second), time.Minute)

	got := r.Resolve(context.Background(), 1, route)
	if got.RequestsPerMinute != 30 || got.RequestsPerHour != 300 {
		t.Fatalf("unexpected limit %+v", got)
	}

	// Second resolve for the same pair is served from cache.
	r.Resolve(context.Background(), 1, route)
	if calls.Load() != 1 {
		t.Errorf("expected 1 service call, got %d", calls.Load())
	}

	// A different pair misses the cache; with the service down the
	// route's own limits apply.
	fail.Store(true)
	got = r.Resolve(context.Background(), 2, route)
	if got.RequestsPerMinute != 10 || got.RequestsPerHour != 100 || !got.Active {
		t.Errorf("expected route fallback limits, got %+v", got)
	}

	// The fallback is cached briefly too: the next resolve for the same
	// pair must not hit the service again while it is down.
	failedCalls := calls.Load()
	r.Resolve(context.Background(), 2, route)
	if calls.Load() != failedCalls {
		t.Errorf("fallback not cached: %d extra service calls", calls.Load()-failedCalls)
	}
}
