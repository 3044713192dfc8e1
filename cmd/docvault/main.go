package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gaspipe/docvault/pkg/api"
	"github.com/gaspipe/docvault/pkg/cache"
	"github.com/gaspipe/docvault/pkg/config"
	"github.com/gaspipe/docvault/pkg/observability"
	"github.com/gaspipe/docvault/pkg/rbac"
	"github.com/gaspipe/docvault/pkg/storage/postgres"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var (
	migrateOnly = flag.Bool("migrate-only", false, "Apply database migrations and exit")
	version     = "dev"
)

func main() {
	flag.Parse()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, os.Stdout)
	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Error("DocVault exited with error")
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *observability.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdown := observability.NewShutdownManager(logger, cfg.Server.ShutdownTimeout)

	providers, err := observability.InitOTel(ctx, observability.OTelConfig{
		Enabled:        cfg.Observability.OTelEnabled,
		Endpoint:       cfg.Observability.OTelEndpoint,
		ServiceName:    cfg.Observability.OTelServiceName,
		ServiceVersion: cfg.Observability.OTelServiceVersion,
		Insecure:       cfg.Observability.OTelInsecure,
		SampleRatio:    cfg.Observability.OTelSampleRatio,
	}, logger)
	if err != nil {
		return err
	}
	shutdown.RegisterShutdownFunc("opentelemetry", func(ctx context.Context) error {
		return observability.ShutdownOTel(ctx, providers, logger)
	})

	dbConfig := postgres.DefaultConnectionConfig(cfg.Database.URL)
	dbConfig.MaxConns = cfg.Database.MaxOpenConns
	dbConfig.MinConns = cfg.Database.MaxIdleConns
	dbConfig.MaxLifetime = cfg.Database.ConnMaxLifetime
	db, err := postgres.Open(ctx, dbConfig)
	if err != nil {
		return err
	}
	shutdown.RegisterShutdownFunc("database", func(context.Context) error { return db.Close() })
	logger.Info("Connected to PostgreSQL")

	if cfg.Database.RunMigrations || *migrateOnly {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return err
		}
		logger.Info("Database migrations applied")
	}
	if *migrateOnly {
		return db.Close()
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	var metrics *observability.Metrics
	if cfg.Observability.MetricsEnabled {
		metrics = observability.NewMetrics(promRegistry)
	}

	registry := rbac.NewRegistry(newRegistryLogger(cfg), metrics)
	if path := cfg.Access.CapabilitiesFile; path != "" {
		if err := registry.LoadFile(path); err != nil {
			return err
		}
	}

	resolverCache, redisClient, err := openCache(ctx, cfg.Cache, metrics)
	if err != nil {
		return err
	}
	if redisClient != nil {
		shutdown.RegisterShutdownFunc("redis", func(context.Context) error { return redisClient.Close() })
	}

	server, err := api.NewServer(ctx, api.Dependencies{
		DB:       db,
		Config:   cfg,
		Logger:   logger,
		Registry: registry,
		Metrics:  metrics,
		Cache:    resolverCache,
		Redis:    redisClient,
	})
	if err != nil {
		return err
	}
	if err := server.Bootstrap(ctx); err != nil {
		return err
	}

	otelMetrics, err := observability.NewOTelMetrics()
	if err != nil {
		return err
	}
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Database.StatsSchedule, func() {
		stats := db.Stats()
		if metrics != nil {
			metrics.RecordDBStats(stats)
		}
		otelMetrics.RecordDBStats(ctx, stats)
	}); err != nil {
		return fmt.Errorf("invalid database stats schedule: %w", err)
	}
	scheduler.Start()
	shutdown.RegisterShutdownFunc("scheduler", func(ctx context.Context) error {
		select {
		case <-scheduler.Stop().Done():
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})

	apiServer := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      server,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}
	shutdown.AddServer("api", apiServer)

	healthMux := http.NewServeMux()
	observability.RegisterHealthRoutes(healthMux, observability.NewHealthChecker(db, redisClient, version))
	if metrics != nil {
		observability.RegisterMetricsEndpoint(healthMux, promRegistry)
	}
	healthServer := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler: healthMux,
	}
	shutdown.AddServer("health", healthServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Infof("DocVault API listening on %s", apiServer.Addr)
		return serve(apiServer)
	})
	g.Go(func() error {
		logger.Infof("Health and metrics listening on %s", healthServer.Addr)
		return serve(healthServer)
	})
	if cfg.Access.CapabilitiesFile != "" && cfg.Access.WatchCapabilities {
		g.Go(func() error {
			if err := registry.Watch(gctx, cfg.Access.CapabilitiesFile); err != nil {
				logger.WithError(err).Warn("Capabilities file watcher stopped")
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down DocVault")
		return shutdown.Shutdown()
	})

	return g.Wait()
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}

// openCache selects the resolver cache backend. The redis client is
// returned so that rate limiting and health checks can share it.
func openCache(ctx context.Context, cfg config.CacheConfig, metrics *observability.Metrics) (cache.Cache, *redis.Client, error) {
	switch cfg.Backend {
	case config.CacheLocal:
		return cache.NewLocal(cfg.Size, cfg.TTL, metrics), nil, nil
	case config.CacheRedis:
		client, err := cache.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}
		return cache.NewRedis(client, cfg.TTL, metrics), client, nil
	default:
		return cache.NewNoop(), nil, nil
	}
}

func newRegistryLogger(cfg *config.Config) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Observability.LogLevel == observability.DebugLevel {
		log.SetLevel(logrus.DebugLevel)
	}
	return log
}
