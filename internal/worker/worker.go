// Package worker runs clinical checks for requests consumed from Redpanda.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/validrx/validrx/internal/clinicalcheck"
	"github.com/validrx/validrx/internal/domain/clinical"
	"github.com/validrx/validrx/internal/engine"
	"github.com/validrx/validrx/internal/infrastructure/redpanda"
	"github.com/validrx/validrx/internal/observability/metrics"
	"github.com/validrx/validrx/pkg/workerpool"
)

// Error codes carried by failed result messages
const (
	CodeInvalidInput = "invalid_input"
	CodeUnavailable  = "unavailable"
	CodeInternal     = "internal"
)

// Checker runs one clinical check
type Checker interface {
	Check(ctx context.Context, req clinicalcheck.Request, transport string) (*clinicalcheck.Response, error)
}

// Publisher writes a record to a topic
type Publisher interface {
	ProduceMessage(ctx context.Context, topic, key string, value []byte) error
}

// ResultMessage is written to the results topic, keyed by request id.
// Exactly one of Results or Error is set.
type ResultMessage struct {
	RequestID string              `json:"request_id"`
	Results   []engine.ItemResult `json:"results,omitempty"`
	Error     string              `json:"error,omitempty"`
	ErrorCode string              `json:"error_code,omitempty"`
}

// Worker checks requests on a bounded pool and publishes the outcome
type Worker struct {
	checker   Checker
	publisher Publisher
	pool      *workerpool.Pool
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// New builds a worker. Invalid input is never retried by the pool.
func New(checker Checker, publisher Publisher, cfg workerpool.Config, m *metrics.Metrics, logger *zap.Logger) (*Worker, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Worker{checker: checker, publisher: publisher, metrics: m, logger: logger}

	cfg.IsPermanent = func(err error) bool {
		return errors.Is(err, clinical.ErrInvalidInput)
	}
	pool, err := workerpool.New(cfg, w.run, logger)
	if err != nil {
		return nil, err
	}
	w.pool = pool
	return w, nil
}

// Start starts the pool
func (w *Worker) Start() { w.pool.Start() }

// Stop drains the pool
func (w *Worker) Stop() error { return w.pool.Stop() }

// Healthy reports whether the pool accepts work
func (w *Worker) Healthy() bool { return w.pool.IsHealthy() }

// Stats exposes pool counters
func (w *Worker) Stats() workerpool.Stats { return w.pool.Stats() }

func (w *Worker) run(ctx context.Context, task *workerpool.Task) *workerpool.Result {
	req, ok := task.Payload.(clinicalcheck.Request)
	if !ok {
		return &workerpool.Result{Error: fmt.Errorf("%w: unexpected payload %T", clinical.ErrInvalidInput, task.Payload)}
	}
	resp, err := w.checker.Check(ctx, req, clinicalcheck.TransportKafka)
	if err != nil {
		return &workerpool.Result{Error: err}
	}
	return &workerpool.Result{Success: true, Data: resp}
}

// HandleMessage is the consumer callback. It returns an error only when the
// record should stay uncommitted: the pool stopped, the context ended, or
// the outcome could not be published.
func (w *Worker) HandleMessage(ctx context.Context, msg *redpanda.ConsumedMessage) error {
	if w.metrics != nil {
		w.metrics.KafkaMessagesConsumed.Inc()
	}

	var req clinicalcheck.Request
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		return w.publishFailure(ctx, string(msg.Key), CodeInvalidInput, fmt.Sprintf("malformed request: %v", err))
	}
	if req.RequestID == "" {
		req.RequestID = string(msg.Key)
	}

	res, err := w.pool.SubmitWait(ctx, &workerpool.Task{ID: req.RequestID, Payload: req, Context: ctx})
	if err != nil {
		return fmt.Errorf("submit check %s: %w", req.RequestID, err)
	}

	if !res.Success {
		if errors.Is(res.Error, context.Canceled) || errors.Is(res.Error, context.DeadlineExceeded) {
			return res.Error
		}
		code := classify(res.Error)
		if code == CodeUnavailable {
			if err := w.publish(ctx, redpanda.TopicDeadLetter, string(msg.Key), msg.Value); err != nil {
				return err
			}
		}
		w.logger.Warn("clinical check failed",
			zap.String("request_id", req.RequestID),
			zap.String("error_code", code),
			zap.Int("attempts", res.Attempts),
			zap.Error(res.Error))
		return w.publishFailure(ctx, req.RequestID, code, res.Error.Error())
	}

	resp, ok := res.Data.(*clinicalcheck.Response)
	if !ok {
		return w.publishFailure(ctx, req.RequestID, CodeInternal, "check returned no response")
	}
	return w.publishResult(ctx, ResultMessage{RequestID: resp.RequestID, Results: resp.Results})
}

func classify(err error) string {
	switch {
	case errors.Is(err, clinical.ErrInvalidInput):
		return CodeInvalidInput
	case errors.Is(err, clinicalcheck.ErrUnavailable):
		return CodeUnavailable
	default:
		return CodeInternal
	}
}

func (w *Worker) publishFailure(ctx context.Context, requestID, code, message string) error {
	return w.publishResult(ctx, ResultMessage{RequestID: requestID, Error: message, ErrorCode: code})
}

func (w *Worker) publishResult(ctx context.Context, msg ResultMessage) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode result %s: %w", msg.RequestID, err)
	}
	return w.publish(ctx, redpanda.TopicClinicalCheckResults, msg.RequestID, value)
}

func (w *Worker) publish(ctx context.Context, topic, key string, value []byte) error {
	if err := w.publisher.ProduceMessage(ctx, topic, key, value); err != nil {
		return fmt.Errorf("publish to %s: %w", topic, err)
	}
	if w.metrics != nil {
		w.metrics.KafkaMessagesProduced.Inc()
	}
	return nil
}
