package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/station-monitor/internal/cache"
	"github.com/kjstillabower/station-monitor/internal/circuitbreaker"
	"github.com/kjstillabower/station-monitor/internal/config"
	"github.com/kjstillabower/station-monitor/internal/degraded"
	"github.com/kjstillabower/station-monitor/internal/gateway"
	"github.com/kjstillabower/station-monitor/internal/generator"
	httphandler "github.com/kjstillabower/station-monitor/internal/http"
	"github.com/kjstillabower/station-monitor/internal/lifecycle"
	"github.com/kjstillabower/station-monitor/internal/models"
	"github.com/kjstillabower/station-monitor/internal/observability"
	"github.com/kjstillabower/station-monitor/internal/service"
	"github.com/kjstillabower/station-monitor/internal/subscription"
	"github.com/kjstillabower/station-monitor/internal/traffic"
)

var version = "dev"

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	lifecycle.SetPhase(lifecycle.PhaseStarting)
	startTime := time.Now()

	var closers []observability.Closer

	backend, pg, err := openGateway(cfg, logger)
	if err != nil {
		logger.Fatal("gateway", zap.String("backend", cfg.GatewayBackend), zap.Error(err))
	}
	if pg != nil {
		closers = append(closers, observability.Closer{Name: "postgres", Close: func() error {
			pg.Close()
			return nil
		}})
	}
	gw := gateway.NewGuarded(backend, cfg.GatewayBackend, circuitbreaker.Config{
		FailureThreshold: cfg.BreakerFailureThreshold,
		SuccessThreshold: cfg.BreakerSuccessThreshold,
		Timeout:          cfg.BreakerTimeout,
		OnStateChange: func(from, to circuitbreaker.State) {
			logger.Warn("gateway circuit breaker transition",
				zap.String("from", from.String()), zap.String("to", to.String()))
		},
	})
	logger.Info("gateway ready", zap.String("backend", cfg.GatewayBackend))

	var snapshots cache.Cache
	var memcached *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcached = mc
		snapshots = mc
		closers = append(closers, observability.Closer{Name: "memcached", Close: mc.Close})
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		snapshots = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	refreshes := traffic.NewTracker(nil)
	detector := degraded.New(refreshes, degraded.Config{
		Window:     cfg.DegradedWindow,
		ErrorPct:   cfg.DegradedErrorPct,
		MinSamples: cfg.DegradedMinSamples,
	}, gw)

	var rng *rand.Rand
	if cfg.GeneratorSeed != 0 {
		rng = rand.New(rand.NewSource(cfg.GeneratorSeed))
	}
	monitor := service.New(gw, service.Options{
		Logger:         logger,
		Cache:          snapshots,
		CacheTTL:       cfg.CacheTTL,
		RefreshTimeout: cfg.RefreshTimeout,
		Subscription: subscription.Config{
			PollInterval:         cfg.PollInterval,
			FallbackPollInterval: cfg.FallbackPollInterval,
		},
		FullResyncCron:   cfg.FullResyncCron,
		GeneratorEnabled: cfg.GeneratorEnabled,
		Generator: generator.Config{
			Interval:  cfg.GeneratorInterval,
			ClampTide: cfg.GeneratorClampTide,
		},
		Rand:      rng,
		OnRefresh: detector.RecordRefresh,
	})

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := monitor.Start(startCtx); err != nil {
		startCancel()
		logger.Fatal("monitor start", zap.Error(err))
	}
	startCancel()
	lifecycle.SetPhase(lifecycle.PhaseRunning)

	requests := traffic.NewTracker(nil)
	healthConfig := &httphandler.HealthConfig{
		Detector:      detector,
		Requests:      requests,
		RequestWindow: cfg.DegradedWindow,
		StartTime:     startTime,
		Version:       version,
	}
	if memcached != nil {
		healthConfig.CachePing = memcached.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(monitor, snapshots, healthConfig, logger)
	router := httphandler.NewRouter(handler, httphandler.RouterConfig{
		Logger:         logger,
		Limiter:        limiter,
		RequestTimeout: cfg.RequestTimeout,
		Requests:       requests,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	observability.RecordShutdownInFlight(inFlight)
	if inFlight > 0 {
		logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
		if err := httphandler.WaitForInFlight(shutdownCtx, 0); err != nil {
			logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
		}
	}

	if err := monitor.Stop(shutdownCtx); err != nil {
		logger.Error("monitor stop", zap.Error(err))
	}
	if err := observability.FlushTelemetry(shutdownCtx, logger, closers...); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	logger.Info("shutdown complete")
}

// openGateway builds the configured backend. The postgres gateway is also returned so its
// pool can be closed on shutdown.
func openGateway(cfg *config.Config, logger *zap.Logger) (gateway.Gateway, *gateway.PostgresGateway, error) {
	switch cfg.GatewayBackend {
	case config.BackendPostgres:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		pg, err := gateway.NewPostgresGateway(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns, logger)
		if err != nil {
			return nil, nil, err
		}
		if cfg.EnsureSchema {
			if err := pg.EnsureSchema(ctx); err != nil {
				pg.Close()
				return nil, nil, fmt.Errorf("ensure schema: %w", err)
			}
		}
		return pg, pg, nil
	case config.BackendREST:
		rest, err := gateway.NewRESTGateway(gateway.RESTConfig{
			BaseURL:        cfg.GatewayURL,
			APIKey:         cfg.GatewayAPIKey,
			Timeout:        cfg.GatewayTimeout,
			RetryAttempts:  cfg.RetryAttempts,
			RetryBaseDelay: cfg.RetryBaseDelay,
			RetryMaxDelay:  cfg.RetryMaxDelay,
		})
		if err != nil {
			return nil, nil, err
		}
		return rest, nil, nil
	default:
		mem := gateway.NewMemoryGateway()
		for _, seed := range cfg.SeedStations {
			status, ok := models.ParseStationStatus(seed.Status)
			if !ok {
				status = models.StationNormal
			}
			rec := gateway.EncodeStation(models.Station{
				Name:        seed.Name,
				Latitude:    seed.Latitude,
				Longitude:   seed.Longitude,
				StationType: seed.StationType,
				Status:      status,
			})
			if err := mem.Seed(gateway.TableStations, rec); err != nil {
				return nil, nil, fmt.Errorf("seed station %q: %w", seed.Name, err)
			}
		}
		logger.Info("memory gateway seeded", zap.Int("stations", len(cfg.SeedStations)))
		return mem, nil, nil
	}
}
