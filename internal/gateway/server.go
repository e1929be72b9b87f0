// Package gateway assembles the components into a running HTTP server.
package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nexusgate/gateway/internal/analytics"
	"github.com/nexusgate/gateway/internal/auth"
	"github.com/nexusgate/gateway/internal/cache"
	"github.com/nexusgate/gateway/internal/config"
	"github.com/nexusgate/gateway/internal/logging"
	"github.com/nexusgate/gateway/internal/metrics"
	"github.com/nexusgate/gateway/internal/pipeline"
	"github.com/nexusgate/gateway/internal/proxy"
	"github.com/nexusgate/gateway/internal/ratelimit"
	"github.com/nexusgate/gateway/internal/store"
)

// Server is the assembled gateway.
type Server struct {
	cfg     *config.Config
	http    *http.Server
	routes  *cache.RouteCache
	keys    *cache.KeyCache
	redis   *redis.Client
	emitter *analytics.Emitter
}

// NewServer wires all gateway components from the configuration.
func NewServer(cfg *config.Config) (*Server, error) {
	client := store.NewClient(cfg.ConfigService.URL, cfg.ConfigService.Timeout)
	routeCache := cache.NewRouteCache(client)
	keyCache := cache.NewKeyCache(client)

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	emitter := analytics.NewEmitter(cfg.AnalyticsService.URL, analytics.Options{
		QueueSize: cfg.Analytics.QueueSize,
		Workers:   cfg.Analytics.Workers,
		Timeout:   cfg.Analytics.Timeout,
	})

	collector := metrics.NewCollector()
	stages := []pipeline.Stage{
		pipeline.NewRouteResolution(routeCache),
		pipeline.NewMethodValidation(),
		pipeline.NewAuthentication(
			auth.NewAPIKeyAuth(keyCache),
			auth.NewJWTAuth(cfg.JWT.Secret),
			collector,
		),
		pipeline.NewRateLimit(
			ratelimit.NewLimiter(redisClient, cfg.RateLimit.KeyPrefix),
			ratelimit.NewResolver(client, cfg.RateLimit.LimitTTL),
			collector,
		),
		pipeline.NewForward(proxy.NewForwarder(nil, cfg.Proxy.DefaultTimeout), collector),
	}

	s := &Server{
		cfg:     cfg,
		routes:  routeCache,
		keys:    keyCache,
		redis:   redisClient,
		emitter: emitter,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		collector.WritePrometheus(w)
	})
	mux.Handle("/", pipeline.New(stages, collector, emitter))

	s.http = &http.Server{
		Addr:    cfg.Listen,
		Handler: mux,
	}
	return s, nil
}

// Run starts the server and blocks until shutdown completes. SIGINT and
// SIGTERM trigger a graceful stop bounded by the configured grace period.
func (s *Server) Run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	s.warmCaches(ctx)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logging.Info("Gateway listening", zap.String("address", s.cfg.Listen))
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		s.routes.Run(ctx, s.cfg.Cache.RouteRefreshInterval)
		return nil
	})
	g.Go(func() error {
		s.keys.Run(ctx, s.cfg.Cache.KeyRefreshInterval)
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		return s.shutdown()
	})
	return g.Wait()
}

// warmCaches attempts the initial snapshot loads, bounded by the startup
// timeout. Failures are logged and the server starts anyway; background
// refresh keeps retrying.
func (s *Server) warmCaches(ctx context.Context) {
	warmCtx, cancel := context.WithTimeout(ctx, s.cfg.Cache.StartupTimeout)
	defer cancel()

	if err := s.routes.Refresh(warmCtx); err != nil {
		logging.Warn("Starting with empty route cache", zap.Error(err))
	}
	if err := s.keys.Refresh(warmCtx); err != nil {
		logging.Warn("Starting with empty API key cache", zap.Error(err))
	}
}

func (s *Server) shutdown() error {
	logging.Info("Shutting down gateway",
		zap.Duration("grace_period", s.cfg.Shutdown.GracePeriod))

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.Shutdown.GracePeriod)
	defer cancel()

	err := s.http.Shutdown(ctx)
	s.emitter.Close()
	if cerr := s.redis.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

type healthResponse struct {
	Status string      `json:"status"`
	Routes cache.Stats `json:"routes"`
	Keys   cache.Stats `json:"apiKeys"`
}

// handleHealth reports readiness: healthy once both caches loaded,
// degraded otherwise. Degraded still returns 200 so orchestrators do not
// restart a gateway that merely lost its config service.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status: "healthy",
		Routes: s.routes.Stats(),
		Keys:   s.keys.Stats(),
	}
	if !resp.Routes.Initialized || !resp.Keys.Initialized {
		resp.Status = "degraded"
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
