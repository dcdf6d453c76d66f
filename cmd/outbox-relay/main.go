// Package main provides the outbox relay service entry point.
// It publishes committed catalog events to Redpanda and runs the table maintenance jobs.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-co-op/gocron"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/validrx/validrx/internal/config"
	"github.com/validrx/validrx/internal/infrastructure/postgres"
	"github.com/validrx/validrx/internal/infrastructure/redpanda"
	"github.com/validrx/validrx/internal/observability/logging"
	"github.com/validrx/validrx/internal/observability/metrics"
	"github.com/validrx/validrx/pkg/idempotency"
)

const serviceName = "outbox-relay"

// processedRetention is how long published outbox rows are kept
const processedRetention = 7 * 24 * time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Must("info", serviceName).Fatal("invalid configuration", zap.Error(err))
	}

	logger := logging.Must(cfg.LogLevel, serviceName)
	defer logger.Sync()

	pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("database connection failed", zap.Error(err))
	}
	defer pool.Close()

	logger.Info("connected to database")

	m := metrics.New(prometheus.DefaultRegisterer)

	producerCfg := redpanda.DefaultProducerConfig()
	producerCfg.Brokers = cfg.Brokers()

	producer, err := redpanda.NewProducer(producerCfg, logger)
	if err != nil {
		logger.Fatal("producer creation failed", zap.Error(err))
	}
	defer producer.Close()

	logger.Info("connected to Redpanda", zap.Strings("brokers", producerCfg.Brokers))

	outboxCfg := postgres.DefaultOutboxConfig()
	outboxCfg.DeadLetterTopic = redpanda.TopicDeadLetter
	outbox := postgres.NewOutbox(pool, &producerAdapter{producer: producer, metrics: m}, outboxCfg, logger)
	inbox := idempotency.NewInbox(pool, idempotency.DefaultInboxConfig(), logger)

	sched, err := maintenance(outbox, inbox, m, logger)
	if err != nil {
		logger.Fatal("failed to schedule maintenance", zap.Error(err))
	}
	sched.StartAsync()

	outbox.Start()
	logger.Info("outbox relay started")

	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := pool.Ping(r.Context()); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte("ok"))
	})
	r.Handle("/metrics", metrics.Handler())
	server := &http.Server{Addr: ":" + cfg.Port, Handler: r, ReadTimeout: 5 * time.Second}
	go func() {
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			logger.Error("ops server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutting down")
	sched.Stop()
	outbox.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := producer.Flush(ctx); err != nil {
		logger.Error("producer flush error", zap.Error(err))
	}
	server.Shutdown(ctx)
	logger.Info("outbox relay stopped")
}

// maintenance schedules dead-lettering, cleanup and the pending gauge
func maintenance(outbox *postgres.Outbox, inbox *idempotency.Inbox, m *metrics.Metrics, logger *zap.Logger) (*gocron.Scheduler, error) {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()

	jobs := []struct {
		every time.Duration
		name  string
		run   func(ctx context.Context) error
	}{
		{15 * time.Second, "outbox_stats", func(ctx context.Context) error {
			stats, err := outbox.GetStats(ctx)
			if err != nil {
				return err
			}
			m.OutboxPending.Set(float64(stats.Pending))
			return nil
		}},
		{time.Minute, "outbox_dead_letter", func(ctx context.Context) error {
			n, err := outbox.MoveToDeadLetter(ctx)
			if err != nil {
				return err
			}
			if n > 0 {
				m.OutboxDeadLettered.Add(float64(n))
				logger.Warn("dead-lettered outbox entries", zap.Int64("count", n))
			}
			return nil
		}},
		{time.Minute, "inbox_recover", func(ctx context.Context) error {
			_, err := inbox.RecoverStaleEntries(ctx)
			return err
		}},
		{time.Hour, "outbox_cleanup", func(ctx context.Context) error {
			_, err := outbox.CleanupProcessed(ctx, processedRetention)
			return err
		}},
		{time.Hour, "inbox_cleanup", func(ctx context.Context) error {
			_, err := inbox.Cleanup(ctx)
			return err
		}},
	}

	for _, job := range jobs {
		job := job
		_, err := s.Every(job.every).Do(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			if err := job.run(ctx); err != nil {
				logger.Error("maintenance job failed", zap.String("job", job.name), zap.Error(err))
			}
		})
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

// producerAdapter adapts the Redpanda producer to the OutboxPublisher interface
type producerAdapter struct {
	producer *redpanda.Producer
	metrics  *metrics.Metrics
}

func (a *producerAdapter) Publish(ctx context.Context, topic, key string, value []byte) error {
	if err := a.producer.ProduceMessage(ctx, topic, key, value); err != nil {
		return err
	}
	a.metrics.KafkaMessagesProduced.Inc()
	return nil
}
