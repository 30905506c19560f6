package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/llmur/llmur/internal/config"
	"github.com/llmur/llmur/internal/db"
	"github.com/llmur/llmur/internal/graph"
	"github.com/llmur/llmur/internal/http/api/admin"
	"github.com/llmur/llmur/internal/http/api/relay"
	"github.com/llmur/llmur/internal/logging"
	"github.com/llmur/llmur/internal/metrics"
	"github.com/llmur/llmur/internal/provider"
	"github.com/llmur/llmur/internal/ratelimit"
	"github.com/llmur/llmur/internal/routing"
	"github.com/llmur/llmur/internal/security"
	"github.com/llmur/llmur/internal/settings"
	"github.com/llmur/llmur/internal/store"
	"github.com/llmur/llmur/internal/tracing"
	"github.com/llmur/llmur/internal/usage"
	"github.com/llmur/llmur/internal/watcher"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const shutdownTimeout = 30 * time.Second

// Services are the long-lived components behind the HTTP routes.
type Services struct {
	Store      *store.Store
	Sessions   *security.SessionManager
	MasterKeys admin.MasterKeys
	Resolver   *graph.Resolver
	Limiter    *ratelimit.Manager
	Router     *routing.Router
	Registry   *provider.Registry
	Recorder   *usage.Recorder
}

// NewEngine assembles the gin engine with operational, admin and inference routes.
func NewEngine(svc Services) *gin.Engine {
	engine := gin.New()
	engine.Use(gin.Recovery(), logging.GinLogger(), metrics.Middleware())
	engine.GET("/metrics", gin.WrapH(metrics.Handler()))

	admin.RegisterAdminRoutes(engine, admin.Deps{
		Store:      svc.Store,
		Sessions:   svc.Sessions,
		MasterKeys: svc.MasterKeys,
		Resolver:   svc.Resolver,
		Router:     svc.Router,
	})
	relay.RegisterRoutes(engine, relay.NewRelayHandler(svc.Resolver, svc.Limiter, svc.Router, svc.Registry, svc.Recorder))
	return engine
}

// newUpstreamClient bounds the wait for upstream response headers. Bodies, streams included,
// run until they finish or the inbound request context ends.
func newUpstreamClient(headerTimeout time.Duration) *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = headerTimeout
	return &http.Client{Transport: transport}
}

// RunServer boots the gateway and blocks until ctx is cancelled or the listener fails.
func RunServer(ctx context.Context, cfg *config.Config) error {
	if cfg == nil {
		return errors.New("nil config")
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTracing, errTracing := tracing.Init(runCtx, cfg.Tracing.ServiceName, cfg.Tracing.Endpoint, cfg.Tracing.Insecure)
	if errTracing != nil {
		return errTracing
	}
	defer func() {
		flushCtx, cancelFlush := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelFlush()
		if errShutdown := shutdownTracing(flushCtx); errShutdown != nil {
			log.WithError(errShutdown).Warn("tracing shutdown failed")
		}
	}()

	conn, errOpen := db.Open(cfg.DatabaseDSN)
	if errOpen != nil {
		return errOpen
	}
	if errMigrate := db.Migrate(conn); errMigrate != nil {
		return errMigrate
	}
	sealer, errSealer := security.NewSealer(cfg.AppSecret)
	if errSealer != nil {
		return errSealer
	}
	st := store.New(conn, sealer, cfg.AppSecret)
	if _, errBootstrap := EnsureBootstrapAdmin(runCtx, st, cfg.BootstrapAdmin); errBootstrap != nil {
		return errBootstrap
	}

	live := config.NewLive(cfg)
	limitSettings := ratelimit.SettingsConfig{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		RedisPrefix:   cfg.Redis.Prefix,
	}
	limiter := ratelimit.NewManager(func() ratelimit.SettingsConfig { return limitSettings }, nil, redis.NewClient)
	defer func() { _ = limiter.Close() }()

	var cursors routing.CursorStore
	if cfg.Redis.Addr != "" {
		cursorClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer func() { _ = cursorClient.Close() }()
		cursors = routing.NewRedisCursorStore(cursorClient, settings.DefaultRouterRedisPrefix)
		log.Infof("shared routing cursors enabled (redis=%s)", cfg.Redis.Addr)
	}

	recorder := usage.NewRecorder(conn, limiter, cfg.RequestLog.BufferSize)
	recorder.Start(runCtx)
	retention := usage.NewRetentionScheduler(conn, cfg.RequestLog.RetentionDays, cfg.RequestLog.PruneSchedule)
	if errRetention := retention.Start(runCtx); errRetention != nil {
		return errRetention
	}

	configWatcher := watcher.New(cfg.Path, func(ctx context.Context) error {
		next, errLoad := config.Load(ctx, cfg.Path)
		if errLoad != nil {
			return errLoad
		}
		live.Update(next)
		if errLevel := logging.ApplyLevel(next.Logging.Level); errLevel != nil {
			return errLevel
		}
		log.Info("configuration reloaded")
		return nil
	})
	go func() {
		if errWatch := configWatcher.Run(runCtx); errWatch != nil {
			log.WithError(errWatch).Warn("config watcher stopped")
		}
	}()

	engine := NewEngine(Services{
		Store:      st,
		Sessions:   security.NewSessionManager(conn, cfg.JWT.Secret, cfg.JWT.Expiry),
		MasterKeys: live,
		Resolver:   graph.NewResolver(st),
		Limiter:    limiter,
		Router:     routing.NewRouter(cursors),
		Registry:   provider.NewRegistry(newUpstreamClient(cfg.UpstreamTimeout)),
		Recorder:   recorder,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errServe := make(chan error, 1)
	go func() {
		log.Infof("llmur listening on %s (config=%s)", srv.Addr, cfg.Path)
		if errListen := srv.ListenAndServe(); errListen != nil && !errors.Is(errListen, http.ErrServerClosed) {
			errServe <- errListen
		}
		close(errServe)
	}()

	var errResult error
	select {
	case <-ctx.Done():
	case errListen, ok := <-errServe:
		if ok {
			errResult = fmt.Errorf("http server: %w", errListen)
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	if errShutdown := srv.Shutdown(shutdownCtx); errShutdown != nil {
		log.WithError(errShutdown).Warn("http server shutdown failed")
	}
	cancel()
	recorder.Wait()
	retention.Stop()
	log.Info("llmur stopped")
	return errResult
}
