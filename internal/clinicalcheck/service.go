// Package clinicalcheck runs clinical checks for the HTTP API, the validation
// worker and the CLI. Each call loads a fresh catalog snapshot and hands it to
// the engine.
package clinicalcheck

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/validrx/validrx/internal/domain/clinical"
	"github.com/validrx/validrx/internal/engine"
	"github.com/validrx/validrx/internal/observability/metrics"
	"github.com/validrx/validrx/pkg/circuitbreaker"
)

// ErrUnavailable is returned when the catalog cannot be loaded
var ErrUnavailable = errors.New("catalog unavailable")

// Transports label the check duration metric
const (
	TransportHTTP  = "http"
	TransportFHIR  = "fhir"
	TransportKafka = "kafka"
	TransportCLI   = "cli"
)

// SnapshotSource loads the catalog for one check
type SnapshotSource interface {
	LoadSnapshot(ctx context.Context) (engine.Snapshot, error)
}

// Service runs clinical checks against the current catalog
type Service struct {
	source  SnapshotSource
	breaker *circuitbreaker.CircuitBreaker
	metrics *metrics.Metrics
	logger  *zap.Logger
	tracer  trace.Tracer
}

// Option configures a Service
type Option func(*Service)

// WithBreaker guards snapshot loads with a circuit breaker
func WithBreaker(cb *circuitbreaker.CircuitBreaker) Option {
	return func(s *Service) { s.breaker = cb }
}

// WithMetrics records check outcomes
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// NewService creates a check service
func NewService(source SnapshotSource, logger *zap.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Service{
		source: source,
		logger: logger,
		tracer: otel.Tracer("clinical-check"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Check validates a request and returns per-item results
func (s *Service) Check(ctx context.Context, req Request, transport string) (*Response, error) {
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	patient, items, err := req.Build()
	if err != nil {
		s.countError("invalid_input")
		return nil, err
	}

	results, err := s.CheckItems(ctx, patient, items, transport)
	if err != nil {
		return nil, err
	}

	return &Response{RequestID: requestID, Results: results}, nil
}

// CheckItems validates already built entities
func (s *Service) CheckItems(ctx context.Context, patient clinical.Patient, items []clinical.PrescriptionItem, transport string) ([]engine.ItemResult, error) {
	ctx, span := s.tracer.Start(ctx, "clinical_check",
		trace.WithAttributes(
			attribute.String("transport", transport),
			attribute.Int("items", len(items)),
			attribute.Bool("pediatric", patient.IsChild()),
		))
	defer span.End()

	start := time.Now()

	snap, err := s.loadSnapshot(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "snapshot load failed")
		return nil, err
	}

	results, err := engine.CheckItems(snap, patient, items)
	if err != nil {
		s.countError("invalid_input")
		span.RecordError(err)
		span.SetStatus(codes.Error, "invalid input")
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.CheckDuration.WithLabelValues(transport).Observe(time.Since(start).Seconds())
		for _, r := range results {
			s.metrics.ObserveItem(r.Status, r.Alerts)
		}
	}

	s.logger.Debug("clinical check completed",
		zap.String("transport", transport),
		zap.Int("items", len(results)),
		zap.Duration("elapsed", time.Since(start)))

	return results, nil
}

func (s *Service) loadSnapshot(ctx context.Context) (engine.Snapshot, error) {
	start := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.SnapshotLoadDuration.Observe(time.Since(start).Seconds())
		}
	}()

	if s.breaker == nil {
		snap, err := s.source.LoadSnapshot(ctx)
		if err != nil {
			return engine.Snapshot{}, s.unavailable(ctx, err)
		}
		return snap, nil
	}

	v, err := s.breaker.Execute(ctx, func() (interface{}, error) {
		return s.source.LoadSnapshot(ctx)
	})
	if err != nil {
		return engine.Snapshot{}, s.unavailable(ctx, err)
	}
	return v.(engine.Snapshot), nil
}

func (s *Service) unavailable(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	s.countError("unavailable")
	s.logger.Error("catalog load failed", zap.Error(err))
	return fmt.Errorf("%w: %v", ErrUnavailable, err)
}

func (s *Service) countError(reason string) {
	if s.metrics != nil {
		s.metrics.CheckErrors.WithLabelValues(reason).Inc()
	}
}
