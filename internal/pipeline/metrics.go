package pipeline

import (
	"context"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "forge.pipeline"

var meter = otel.Meter(instrumentationName)

var (
	applyTotal    metric.Int64Counter
	applyDuration metric.Float64Histogram
	commitRetries metric.Int64Counter
	revokedOps    metric.Int64Counter

	metricsOnce sync.Once
	metricsErr  error
)

// Apply outcomes, a bounded attribute set.
const (
	outcomeCommitted = "committed"
	outcomeUnchanged = "unchanged"
	outcomeRejected  = "rejected"
	outcomeRaced     = "raced"
	outcomeError     = "error"
)

func initMetrics() error {
	metricsOnce.Do(func() {
		var err error

		applyTotal, err = meter.Int64Counter(
			"forge_apply_total",
			metric.WithDescription("Batches applied, by outcome"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		applyDuration, err = meter.Float64Histogram(
			"forge_apply_duration_seconds",
			metric.WithDescription("Time from integration to commit or rejection"),
			metric.WithUnit("s"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		commitRetries, err = meter.Int64Counter(
			"forge_commit_retries_total",
			metric.WithDescription("Commits retried after a head mismatch"),
		)
		if err != nil {
			metricsErr = err
			return
		}

		revokedOps, err = meter.Int64Counter(
			"forge_revoked_operations_total",
			metric.WithDescription("Operations revoked from the log"),
		)
		if err != nil {
			metricsErr = err
		}
	})
	return metricsErr
}

func recordApply(ctx context.Context, outcome string, d time.Duration) {
	if initMetrics() != nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	applyTotal.Add(ctx, 1, attrs)
	applyDuration.Record(ctx, d.Seconds(), attrs)
}

func recordRetry(ctx context.Context, branch string) {
	if initMetrics() != nil {
		return
	}
	commitRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("branch", branch)))
}

func recordRevoked(ctx context.Context, n int, reason string) {
	if initMetrics() != nil || n == 0 {
		return
	}
	revokedOps.Add(ctx, int64(n), metric.WithAttributes(attribute.String("reason", reason)))
}
