// Package main provides the clinical validation API entry point.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/validrx/validrx/internal/api"
	"github.com/validrx/validrx/internal/api/middleware"
	"github.com/validrx/validrx/internal/clinicalcheck"
	"github.com/validrx/validrx/internal/config"
	"github.com/validrx/validrx/internal/domain/catalog"
	"github.com/validrx/validrx/internal/domain/clinical"
	"github.com/validrx/validrx/internal/observability/logging"
	"github.com/validrx/validrx/internal/observability/metrics"
	"github.com/validrx/validrx/internal/observability/tracing"
	"github.com/validrx/validrx/pkg/circuitbreaker"
	"github.com/validrx/validrx/pkg/idempotency"
)

const serviceName = "validrx-api"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Must("info", serviceName).Fatal("invalid configuration", zap.Error(err))
	}

	logger := logging.Must(cfg.LogLevel, serviceName)
	defer logger.Sync()

	ctx := context.Background()

	tcfg := tracing.DefaultConfig(serviceName)
	tcfg.Enabled = cfg.TracingEnabled
	tcfg.OTLPEndpoint = cfg.OTLPEndpoint
	tcfg.Environment = cfg.Env
	tp, err := tracing.Init(ctx, tcfg)
	if err != nil {
		logger.Fatal("tracing init failed", zap.Error(err))
	}

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		logger.Fatal("database ping failed", zap.Error(err))
	}
	logger.Info("connected to database")

	repo := catalog.NewRepository(pool, logger)
	if err := repo.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema setup failed", zap.Error(err))
	}
	if cfg.SeedCatalog {
		seeded, err := repo.SeedIfEmpty(ctx)
		if err != nil {
			logger.Fatal("catalog seed failed", zap.Error(err))
		}
		if seeded {
			logger.Info("seeded empty catalog")
		}
	}

	m := metrics.New(prometheus.DefaultRegisterer)

	bcfg := circuitbreaker.DefaultConfig("catalog-store")
	bcfg.OnStateChange = func(name string, to circuitbreaker.State) {
		m.CircuitBreakerState.WithLabelValues(name).Set(float64(circuitbreaker.StateValue(to)))
	}
	breaker, err := circuitbreaker.New(bcfg, logger)
	if err != nil {
		logger.Fatal("circuit breaker setup failed", zap.Error(err))
	}

	service := clinicalcheck.NewService(repo, logger,
		clinicalcheck.WithBreaker(breaker),
		clinicalcheck.WithMetrics(m),
	)

	inboxCfg := idempotency.DefaultInboxConfig()
	inboxCfg.IsTerminal = func(err error) bool {
		return errors.Is(err, clinical.ErrInvalidInput) || errors.Is(err, catalog.ErrNotFound)
	}
	inbox := idempotency.NewInbox(pool, inboxCfg, logger)

	apiKeys, _ := cfg.APIKeyMap()
	limiter := middleware.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, m)

	sched := gocron.NewScheduler(time.UTC)
	if _, err := sched.Every(30).Minutes().Do(func() {
		if n := limiter.Sweep(); n > 0 {
			logger.Debug("swept idle rate limit buckets", zap.Int("removed", n))
		}
	}); err != nil {
		logger.Fatal("failed to schedule rate limit sweep", zap.Error(err))
	}
	sched.StartAsync()
	defer sched.Stop()

	if cfg.AdminKey == "" {
		logger.Warn("ADMIN_KEY not set, catalog admin API disabled")
	}

	handler := api.NewRouter(api.Deps{
		ServiceName:    serviceName,
		Checker:        service,
		Store:          repo,
		Inbox:          inbox,
		Ready:          repo.Ping,
		Metrics:        m,
		MetricsHandler: metrics.Handler(),
		RateLimiter:    limiter,
		APIKeys:        apiKeys,
		AdminKey:       cfg.AdminKey,
		RequestTimeout: cfg.RequestTimeout,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down server")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		if err := tp.Shutdown(ctx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}()

	logger.Info("starting validation API",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.Int("api_clients", len(apiKeys)))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server error", zap.Error(err))
	}

	logger.Info("server stopped")
}
