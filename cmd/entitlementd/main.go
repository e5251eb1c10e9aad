// Command entitlementd runs the entitlement engine: it loads the rights
// catalog, serves membership and resolution queries over HTTP, reconciles
// assignment writes, and keeps per-tenant caches fresh across instances.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/meridianerp/entitlements/pkg/api"
	"github.com/meridianerp/entitlements/pkg/config"
	"github.com/meridianerp/entitlements/pkg/membership"
	"github.com/meridianerp/entitlements/pkg/observability"
	"github.com/meridianerp/entitlements/pkg/reconcile"
	"github.com/meridianerp/entitlements/pkg/resolve"
	"github.com/meridianerp/entitlements/pkg/rights"
	"github.com/meridianerp/entitlements/pkg/store"
)

func main() {
	cfg := config.Load()

	log := observability.NewLogger(parseLogLevel(cfg.LogLevel), os.Stdout)

	if err := cfg.Validate(); err != nil {
		log.WithError(err).Error("invalid configuration")
		os.Exit(1)
	}

	if err := run(cfg, log); err != nil {
		log.WithError(err).Error("entitlementd exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := observability.NewMetrics(prometheus.NewRegistry())

	if cfg.TracingEnabled {
		shutdown, err := observability.InitTracing(ctx, observability.TracingConfig{
			Enabled:     true,
			ServiceName: cfg.ServiceName,
			Endpoint:    cfg.OTLPEndpoint,
			Insecure:    true,
		})
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := shutdown(shutdownCtx); err != nil {
				log.WithError(err).Warn("failed to shut down tracing")
			}
		}()
	}

	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return err
	}
	if err := store.RunMigrations(ctx, db); err != nil {
		return err
	}
	sqlStore := store.NewSQLStore(db)

	registry := rights.NewRegistry(cfg.StrictRegistry, log)
	if err := rights.LoadCatalogFile(registry, cfg.CatalogPath); err != nil {
		return err
	}
	log.WithField("rights", registry.Len()).Info("rights catalog loaded")

	caches := membership.NewTenantCaches(membership.CacheOptions{
		Repos:    sqlStore.Repositories(),
		Registry: registry,
		TTL:      cfg.SnapshotTTL,
		Logger:   log,
		Metrics:  metrics,
	})

	resolver := resolve.New(resolve.Options{
		Registry: registry,
		Caches:   caches,
		Logger:   log,
		Metrics:  metrics,
		MemoSize: cfg.MemoSize,
		MemoTTL:  cfg.MemoTTL,
	})

	group, ctx := errgroup.WithContext(ctx)

	var invalidator reconcile.Invalidator
	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		defer redisClient.Close()
		if err := redisClient.Ping(ctx).Err(); err != nil {
			return err
		}
		broadcaster := membership.NewBroadcaster(redisClient, cfg.RedisChannel, caches, log)
		invalidator = broadcaster
		group.Go(func() error {
			if err := broadcaster.Run(ctx); err != nil && ctx.Err() == nil {
				return err
			}
			return nil
		})
	}

	reconciler := reconcile.New(reconcile.Options{
		Assignments: sqlStore,
		Registry:    registry,
		Caches:      caches,
		Invalidator: invalidator,
		Logger:      log,
		Metrics:     metrics,
	})

	if cfg.WarmerSchedule != "" {
		warmer, err := membership.NewWarmer(cfg.WarmerSchedule, caches, log)
		if err != nil {
			return err
		}
		warmer.Start()
		defer warmer.Stop()
	}

	server := api.NewServer(api.Options{
		Registry:   registry,
		Caches:     caches,
		Resolver:   resolver,
		Reconciler: reconciler,
		Logger:     log,
		Metrics:    metrics,
	})

	health := observability.NewHealthChecker(5 * time.Second)
	health.Register("database", func(ctx context.Context) error {
		return db.PingContext(ctx)
	})
	if redisClient != nil {
		health.Register("redis", func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
	}

	group.Go(func() error {
		return server.ListenAndServe(ctx, cfg.HTTPAddr)
	})
	group.Go(func() error {
		return serveOps(ctx, cfg.HealthAddr, health, metrics, log)
	})

	log.Info("entitlementd started")
	return group.Wait()
}

// serveOps runs the liveness, readiness, and metrics endpoints on their own
// listener so they stay reachable when the API port is saturated.
func serveOps(ctx context.Context, addr string, health *observability.HealthChecker, metrics *observability.Metrics, log *observability.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("/healthz", health.LivenessHandler())
	mux.Handle("/readyz", health.ReadinessHandler())
	mux.Handle("/metrics", metrics.Handler())

	srv := &http.Server{Addr: addr, Handler: mux}
	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("ops server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func parseLogLevel(level string) observability.LogLevel {
	switch level {
	case "debug":
		return observability.DebugLevel
	case "warn":
		return observability.WarnLevel
	case "error":
		return observability.ErrorLevel
	default:
		return observability.InfoLevel
	}
}
