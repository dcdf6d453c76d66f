// Package main provides the validation worker entry point.
// It consumes clinical check requests from Redpanda and publishes the results.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/validrx/validrx/internal/clinicalcheck"
	"github.com/validrx/validrx/internal/config"
	"github.com/validrx/validrx/internal/domain/catalog"
	"github.com/validrx/validrx/internal/infrastructure/redpanda"
	"github.com/validrx/validrx/internal/observability/logging"
	"github.com/validrx/validrx/internal/observability/metrics"
	"github.com/validrx/validrx/internal/observability/tracing"
	"github.com/validrx/validrx/internal/worker"
	"github.com/validrx/validrx/pkg/circuitbreaker"
	"github.com/validrx/validrx/pkg/workerpool"
)

const serviceName = "validation-worker"

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
	defer tp.Shutdown(context.Background())

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()

	repo := catalog.NewRepository(pool, logger)
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

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Brokers()
	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	poolCfg := workerpool.DefaultConfig()
	poolCfg.Workers = cfg.WorkerPoolSize
	poolCfg.QueueSize = cfg.WorkerPoolSize * 4
	w, err := worker.New(service, producer, poolCfg, m, logger)
	if err != nil {
		logger.Fatal("worker setup failed", zap.Error(err))
	}
	w.Start()

	consumerCfg := redpanda.DefaultConsumerConfig()
	consumerCfg.Brokers = cfg.Brokers()
	consumerCfg.GroupID = cfg.ConsumerGroupID
	consumerCfg.Topics = []string{redpanda.TopicClinicalCheckRequests}
	consumer, err := redpanda.NewConsumer(consumerCfg, w.HandleMessage, logger)
	if err != nil {
		logger.Fatal("consumer creation failed", zap.Error(err))
	}
	consumer.Start()

	logger.Info("validation worker started",
		zap.Strings("brokers", consumerCfg.Brokers),
		zap.String("group", consumerCfg.GroupID),
		zap.Int("workers", poolCfg.Workers))

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      opsRouter(w, repo, consumer, cfg.Brokers()),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")

	// uncommitted records are redelivered to the next group member
	if err := consumer.Stop(); err != nil {
		logger.Error("consumer stop error", zap.Error(err))
	}
	if err := w.Stop(); err != nil {
		logger.Error("worker stop error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := producer.Flush(shutdownCtx); err != nil {
		logger.Error("producer flush error", zap.Error(err))
	}
	server.Shutdown(shutdownCtx)

	logger.Info("validation worker stopped")
}

func opsRouter(w *worker.Worker, repo *catalog.Repository, consumer *redpanda.Consumer, brokers []string) http.Handler {
	r := chi.NewRouter()
	r.Get("/health", func(rw http.ResponseWriter, r *http.Request) {
		if !w.Healthy() {
			http.Error(rw, "worker pool saturated", http.StatusServiceUnavailable)
			return
		}
		stats := w.Stats()
		cstats := consumer.Stats()
		rw.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(rw, `{"status":"healthy","service":%q,"queue_depth":%d,"active_workers":%d,"messages_read":%d,"errors":%d}`,
			serviceName, stats.QueueDepth, stats.ActiveWorkers, cstats.MessagesRead, cstats.ErrorCount)
	})
	r.Get("/ready", func(rw http.ResponseWriter, r *http.Request) {
		if err := repo.Ping(r.Context()); err != nil {
			http.Error(rw, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		if err := redpanda.HealthCheck(r.Context(), brokers); err != nil {
			http.Error(rw, "redpanda unreachable", http.StatusServiceUnavailable)
			return
		}
		rw.Write([]byte("ready"))
	})
	r.Handle("/metrics", metrics.Handler())
	return r
}
