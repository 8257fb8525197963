package sink

import (
	"context"
	"log"

	"github.com/halfpipe-dev/escapeengine/internal/models"
	"github.com/halfpipe-dev/escapeengine/internal/retry"
	"github.com/sony/gobreaker"
)

// ResilientSink wraps a Sink with retry-with-backoff and a circuit breaker
// per write method. A failing write is retried with backoff in the
// caller's goroutine; after repeated failures the method's breaker opens
// and further writes to a flaky external backend (a database, a message
// bus) fail fast without reaching it.
type ResilientSink struct {
	inner    Sink
	client   *retry.Client
	snapshot *gobreaker.CircuitBreaker[any]
	anomaly  *gobreaker.CircuitBreaker[any]
	regime   *gobreaker.CircuitBreaker[any]
}

// NewResilientSink wraps inner with a retry client (optionally overriding
// the default backoff policy, mainly for tests) and a dedicated circuit
// breaker per write method.
func NewResilientSink(inner Sink, logger *log.Logger, retryCfg ...retry.Config) *ResilientSink {
	return &ResilientSink{
		inner:    inner,
		client:   retry.NewClient(logger, retryCfg...),
		snapshot: retry.NewBreaker("sink.write_snapshot"),
		anomaly:  retry.NewBreaker("sink.write_anomalies"),
		regime:   retry.NewBreaker("sink.write_regime_change"),
	}
}

// WriteSnapshot retries transient failures and trips its breaker after
// repeated failures.
func (r *ResilientSink) WriteSnapshot(ctx context.Context, snap models.MarketSnapshot) error {
	_, err := r.snapshot.Execute(func() (any, error) {
		return nil, r.client.Do(ctx, "write_snapshot", func(ctx context.Context) error {
			return r.inner.WriteSnapshot(ctx, snap)
		})
	})
	return err
}

// WriteAnomalies retries transient failures and trips its breaker after
// repeated failures.
func (r *ResilientSink) WriteAnomalies(ctx context.Context, anomalies []models.Anomaly) error {
	_, err := r.anomaly.Execute(func() (any, error) {
		return nil, r.client.Do(ctx, "write_anomalies", func(ctx context.Context) error {
			return r.inner.WriteAnomalies(ctx, anomalies)
		})
	})
	return err
}

// WriteRegimeChange retries transient failures and trips its breaker after
// repeated failures.
func (r *ResilientSink) WriteRegimeChange(ctx context.Context, from, to models.RegimeLabel) error {
	_, err := r.regime.Execute(func() (any, error) {
		return nil, r.client.Do(ctx, "write_regime_change", func(ctx context.Context) error {
			return r.inner.WriteRegimeChange(ctx, from, to)
		})
	})
	return err
}

var _ Sink = (*ResilientSink)(nil)
