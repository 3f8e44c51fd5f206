package orchestrator

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

var (
	// RunsTotal counts finished runs.
	// Labels: status (complete, failed, aborted, waiting_for_clarification)
	RunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentloop",
			Subsystem: "orchestrator",
			Name:      "runs_total",
			Help:      "Total number of finished runs by final status",
		},
		[]string{"status"},
	)

	// RunIterations tracks how many iterations runs take.
	RunIterations = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "agentloop",
			Subsystem: "orchestrator",
			Name:      "run_iterations",
			Help:      "Iterations per finished run",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	// ToolCallsTotal counts executed actions.
	// Labels: tool, outcome (success, tool_error, exception, skipped)
	ToolCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentloop",
			Subsystem: "orchestrator",
			Name:      "tool_calls_total",
			Help:      "Total number of actions by tool and outcome",
		},
		[]string{"tool", "outcome"},
	)

	// FallbackReflectionsTotal counts reflections that fell back.
	FallbackReflectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "agentloop",
			Subsystem: "orchestrator",
			Name:      "fallback_reflections_total",
			Help:      "Total number of reflections that used the fallback record",
		},
	)

	// RedactionsTotal counts credentials removed from tool output.
	// Labels: rule
	RedactionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentloop",
			Subsystem: "orchestrator",
			Name:      "redactions_total",
			Help:      "Total number of credentials redacted from tool output by rule",
		},
		[]string{"rule"},
	)

	// PersistenceErrorsTotal counts failed checkpoint and session writes.
	// Labels: op (checkpoint, record_session, session_id)
	PersistenceErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agentloop",
			Subsystem: "orchestrator",
			Name:      "persistence_errors_total",
			Help:      "Total number of persistence failures by operation",
		},
		[]string{"op"},
	)
)

// stepMetrics records per-step latency through OpenTelemetry.
type stepMetrics struct {
	duration metric.Float64Histogram
}

func newStepMetrics(logger *logging.Logger) *stepMetrics {
	m := &stepMetrics{}
	var err error
	m.duration, err = otel.Meter(instrumentationName).Float64Histogram(
		"agentloop.orchestrator.step_duration_seconds",
		metric.WithDescription("Duration of plan, execute and reflect steps in seconds, labeled by step."),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60),
	)
	if err != nil {
		logger.Warn(context.Background(), "failed to create step duration histogram", zap.Error(err))
	}
	return m
}

func (m *stepMetrics) observe(ctx context.Context, step string, start time.Time) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.Record(ctx, time.Since(start).Seconds(), metric.WithAttributes(attribute.String("step", step)))
}
