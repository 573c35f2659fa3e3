// Package telemetry wires OpenTelemetry tracing and metrics for the
// fieldvm evaluator: a stdout span exporter for featuresAt spans, and a
// Prometheus-scraped meter for tape health.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrNilContext is returned by Init when called with a nil context.
var ErrNilContext = errors.New("telemetry: nil context")

// Config controls telemetry behavior. All fields have sensible defaults
// via DefaultConfig().
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string

	// TraceExporter selects the trace exporter: "stdout" or "none".
	TraceExporter string
	// MetricExporter selects the metric exporter: "prometheus" or "none".
	MetricExporter string
	// PrometheusAddr is the listen address for the /metrics endpoint.
	PrometheusAddr string
}

// DefaultConfig returns opinionated defaults for local development.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "fieldvm",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		TraceExporter:  "stdout",
		MetricExporter: "prometheus",
		PrometheusAddr: ":9464",
	}
}

// Init initializes the telemetry stack with the given configuration.
//
// Description:
//
//	Sets up an OpenTelemetry TracerProvider and MeterProvider per cfg.
//	After Init returns successfully, otel.Tracer(cfg.ServiceName) and
//	otel.Meter(cfg.ServiceName) are ready to use throughout the process.
//
// Inputs:
//
//	ctx - Context for initialization (used for exporter setup).
//	cfg - Telemetry configuration. Use DefaultConfig() for sensible defaults.
//
// Outputs:
//
//	shutdown - Function to call on application exit for cleanup. Must be called.
//	error - Non-nil if initialization fails.
//
// Example:
//
//	shutdown, err := telemetry.Init(ctx, telemetry.DefaultConfig())
//	if err != nil {
//	    return fmt.Errorf("init telemetry: %w", err)
//	}
//	defer shutdown(context.Background())
//
// Thread Safety: Call once at application startup.
func Init(ctx context.Context, cfg Config) (shutdown func(context.Context) error, err error) {
	if ctx == nil {
		return nil, ErrNilContext
	}

	var shutdownFuncs []func(context.Context) error
	shutdown = func(ctx context.Context) error {
		var errs []error
		for _, fn := range shutdownFuncs {
			if err := fn(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if len(errs) > 0 {
			return fmt.Errorf("telemetry: shutdown errors: %v", errs)
		}
		return nil
	}

	res := resource.NewWithAttributes(
		"",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)

	if cfg.TraceExporter != "none" {
		exp, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return shutdown, fmt.Errorf("telemetry: new trace exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp),
			sdktrace.WithResource(res),
		)
		shutdownFuncs = append(shutdownFuncs, tp.Shutdown)
		otel.SetTracerProvider(tp)
	}

	if cfg.MetricExporter != "none" {
		exp, err := promexporter.New()
		if err != nil {
			return shutdown, fmt.Errorf("telemetry: new prometheus exporter: %w", err)
		}
		mp := sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(exp),
			sdkmetric.WithResource(res),
		)
		shutdownFuncs = append(shutdownFuncs, mp.Shutdown)
		otel.SetMeterProvider(mp)

		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		srv := &http.Server{Addr: cfg.PrometheusAddr, Handler: mux}
		go srv.ListenAndServe()
		shutdownFuncs = append(shutdownFuncs, func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		})
	}

	return shutdown, nil
}
