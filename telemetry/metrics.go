package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

func kindAttr(kind string) attribute.KeyValue {
	return attribute.String("kind", kind)
}

// Metrics contains the pre-defined metrics for a fieldvm Evaluator. All
// metrics use the "fieldvm_" prefix for consistent naming.
type Metrics struct {
	// PushesTotal counts push operations by kind ("interval", "feature",
	// "specialize").
	PushesTotal metric.Int64Counter

	// PopsTotal counts pop operations.
	PopsTotal metric.Int64Counter

	// StackDepth tracks the current tape-stack cursor.
	StackDepth metric.Int64UpDownCounter

	// TapeUtilization records Utilization() samples taken after each push.
	TapeUtilization metric.Float64Histogram

	// FeaturesAtTotal counts featuresAt calls.
	FeaturesAtTotal metric.Int64Counter

	// FeaturesAtDuration records featuresAt wall time in seconds.
	FeaturesAtDuration metric.Float64Histogram

	// FeaturesFound records the number of features returned per call.
	FeaturesFound metric.Int64Histogram

	// EvaluationsTotal counts Eval/Values/Derivs/EvalInterval calls by kind.
	EvaluationsTotal metric.Int64Counter

	// ErrorsTotal counts evaluator-invariant errors by kind.
	ErrorsTotal metric.Int64Counter
}

// NewMetrics registers all Metrics fields with meter.
//
// Description:
//
//	Creates and registers every counter and histogram in Metrics against
//	meter, using the "fieldvm_" instrument name prefix. Call once per
//	process (or per otel.Meter) and share the result across Evaluators
//	via Evaluator.Instrument.
//
// Inputs:
//
//	meter - The OpenTelemetry meter to register instruments against,
//	        typically otel.Meter(cfg.ServiceName) after telemetry.Init.
//
// Outputs:
//
//	*Metrics - Ready-to-use instrument bundle.
//	error - Non-nil if any instrument fails to register.
//
// Example:
//
//	m, err := telemetry.NewMetrics(otel.Meter("fieldvm"))
//	if err != nil {
//	    return err
//	}
//	ev.Instrument(m, otel.Tracer("fieldvm"), slog.Default())
//
// Thread Safety: Safe to call concurrently; the returned *Metrics is
// safe for concurrent use once constructed.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.PushesTotal, err = meter.Int64Counter(
		"fieldvm_pushes_total",
		metric.WithDescription("Total tape-stack push operations"),
		metric.WithUnit("{push}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pushes_total: %w", err)
	}

	m.PopsTotal, err = meter.Int64Counter(
		"fieldvm_pops_total",
		metric.WithDescription("Total tape-stack pop operations"),
		metric.WithUnit("{pop}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create pops_total: %w", err)
	}

	m.StackDepth, err = meter.Int64UpDownCounter(
		"fieldvm_stack_depth",
		metric.WithDescription("Current tape-stack cursor depth"),
		metric.WithUnit("{tape}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create stack_depth: %w", err)
	}

	m.TapeUtilization, err = meter.Float64Histogram(
		"fieldvm_tape_utilization_ratio",
		metric.WithDescription("current-tape-length / original-tape-length after a push"),
		metric.WithUnit("1"),
		metric.WithExplicitBucketBoundaries(0.05, 0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0),
	)
	if err != nil {
		return nil, fmt.Errorf("create tape_utilization: %w", err)
	}

	m.FeaturesAtTotal, err = meter.Int64Counter(
		"fieldvm_features_at_total",
		metric.WithDescription("Total featuresAt calls"),
		metric.WithUnit("{call}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create features_at_total: %w", err)
	}

	m.FeaturesAtDuration, err = meter.Float64Histogram(
		"fieldvm_features_at_duration_seconds",
		metric.WithDescription("featuresAt wall time in seconds"),
		metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5),
	)
	if err != nil {
		return nil, fmt.Errorf("create features_at_duration: %w", err)
	}

	m.FeaturesFound, err = meter.Int64Histogram(
		"fieldvm_features_found",
		metric.WithDescription("Number of distinct features returned per featuresAt call"),
		metric.WithUnit("{feature}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create features_found: %w", err)
	}

	m.EvaluationsTotal, err = meter.Int64Counter(
		"fieldvm_evaluations_total",
		metric.WithDescription("Total evaluation calls by kind"),
		metric.WithUnit("{evaluation}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create evaluations_total: %w", err)
	}

	m.ErrorsTotal, err = meter.Int64Counter(
		"fieldvm_errors_total",
		metric.WithDescription("Total evaluator-invariant errors by kind"),
		metric.WithUnit("{error}"),
	)
	if err != nil {
		return nil, fmt.Errorf("create errors_total: %w", err)
	}

	return m, nil
}

// RecordPush increments PushesTotal/StackDepth and samples utilization for
// kind ("interval", "feature", "specialize").
func (m *Metrics) RecordPush(ctx context.Context, kind string, utilization float64) {
	m.PushesTotal.Add(ctx, 1, metric.WithAttributes(kindAttr(kind)))
	m.StackDepth.Add(ctx, 1)
	m.TapeUtilization.Record(ctx, utilization)
}

// RecordPop increments PopsTotal/StackDepth.
func (m *Metrics) RecordPop(ctx context.Context) {
	m.PopsTotal.Add(ctx, 1)
	m.StackDepth.Add(ctx, -1)
}
