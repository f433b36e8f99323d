// Package observability wires OpenTelemetry tracing and metrics for the
// pipeline and the HTTP server. Disabled observability degrades to no-ops
// so callers never need nil checks.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"resumetailor/internal/config"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.34.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Metrics holds all custom metrics for the tailoring pipeline
type Metrics struct {
	// AI operation metrics
	AIRequestCount metric.Int64Counter
	AIErrorCount   metric.Int64Counter
	AITokenUsage   metric.Int64Histogram

	// Business metrics
	RunsStarted   metric.Int64Counter
	RunsValidated metric.Int64Counter
	RunsFailed    metric.Int64Counter

	// Rate limiting metrics
	RateLimitHits metric.Int64Counter
}

// Manager manages OpenTelemetry setup
type Manager struct {
	config         config.ObservabilityConfig
	tracerProvider *trace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	metrics        *Metrics
	shutdownFuncs  []func(context.Context) error
}

// NewManager creates a new observability manager
func NewManager(cfg config.ObservabilityConfig) (*Manager, error) {
	if !cfg.Enabled {
		return &Manager{config: cfg}, nil
	}

	m := &Manager{
		config:        cfg,
		shutdownFuncs: make([]func(context.Context) error, 0),
	}

	res, err := m.buildResource()
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := m.initTracing(res); err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	if err := m.initMetrics(res); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}

	return m, nil
}

func (m *Manager) buildResource() (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(m.config.ServiceName),
			semconv.ServiceVersion(m.config.ServiceVersion),
		),
	)
}

// initTracing sets up OpenTelemetry tracing
func (m *Manager) initTracing(res *resource.Resource) error {
	opts := []trace.TracerProviderOption{trace.WithResource(res)}

	if m.config.ConsoleTraces {
		// Console exporter for development
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("failed to create trace exporter: %w", err)
		}
		opts = append(opts, trace.WithBatcher(exporter))
	}

	tp := trace.NewTracerProvider(opts...)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	m.tracerProvider = tp
	m.shutdownFuncs = append(m.shutdownFuncs, tp.Shutdown)

	return nil
}

// initMetrics sets up OpenTelemetry metrics
func (m *Manager) initMetrics(res *resource.Resource) error {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if m.config.Prometheus {
		// The Prometheus reader registers with the default registry, which
		// the server's /metrics endpoint serves.
		exporter, err := prometheus.New()
		if err != nil {
			return fmt.Errorf("failed to create Prometheus exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(exporter))
	} else {
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewManualReader()))
	}

	mp := sdkmetric.NewMeterProvider(opts...)

	otel.SetMeterProvider(mp)
	m.meterProvider = mp
	m.shutdownFuncs = append(m.shutdownFuncs, mp.Shutdown)

	return m.initCustomMetrics()
}

// initCustomMetrics creates all custom metrics
func (m *Manager) initCustomMetrics() error {
	meter := m.meterProvider.Meter(m.config.ServiceName)
	m.metrics = &Metrics{}

	var err error

	m.metrics.AIRequestCount, err = meter.Int64Counter(
		"resumetailor_ai_requests_total",
		metric.WithDescription("Total number of completion-service requests"),
	)
	if err != nil {
		return fmt.Errorf("failed to create AI request count metric: %w", err)
	}

	m.metrics.AIErrorCount, err = meter.Int64Counter(
		"resumetailor_ai_errors_total",
		metric.WithDescription("Total number of completion-service errors"),
	)
	if err != nil {
		return fmt.Errorf("failed to create AI error count metric: %w", err)
	}

	m.metrics.AITokenUsage, err = meter.Int64Histogram(
		"resumetailor_ai_token_usage_total",
		metric.WithDescription("Token usage per completion-service request"),
		metric.WithUnit("tokens"),
	)
	if err != nil {
		return fmt.Errorf("failed to create AI token usage metric: %w", err)
	}

	m.metrics.RunsStarted, err = meter.Int64Counter(
		"resumetailor_runs_started_total",
		metric.WithDescription("Total number of tailoring runs started"),
	)
	if err != nil {
		return fmt.Errorf("failed to create runs started metric: %w", err)
	}

	m.metrics.RunsValidated, err = meter.Int64Counter(
		"resumetailor_runs_validated_total",
		metric.WithDescription("Total number of tailoring runs that produced a compiled document"),
	)
	if err != nil {
		return fmt.Errorf("failed to create runs validated metric: %w", err)
	}

	m.metrics.RunsFailed, err = meter.Int64Counter(
		"resumetailor_runs_failed_total",
		metric.WithDescription("Total number of tailoring runs that failed"),
	)
	if err != nil {
		return fmt.Errorf("failed to create runs failed metric: %w", err)
	}

	m.metrics.RateLimitHits, err = meter.Int64Counter(
		"resumetailor_rate_limit_hits_total",
		metric.WithDescription("Total number of rate limit hits"),
	)
	if err != nil {
		return fmt.Errorf("failed to create rate limit hits metric: %w", err)
	}

	return nil
}

// RecordAIOperation counts one completion-service call, its outcome and its
// token usage. Safe to call with uninitialized metrics.
func (m *Metrics) RecordAIOperation(ctx context.Context, operation string, promptTokens, completionTokens int64, err error) {
	if m == nil || m.AIRequestCount == nil {
		return
	}

	attrs := metric.WithAttributes(
		attribute.String("operation", operation),
		attribute.Bool("success", err == nil),
	)

	m.AIRequestCount.Add(ctx, 1, attrs)
	if err != nil {
		m.AIErrorCount.Add(ctx, 1, attrs)
	}
	if total := promptTokens + completionTokens; total > 0 {
		m.AITokenUsage.Record(ctx, total, attrs)
	}
}

// RecordRunStarted counts a tailoring run entering the pipeline.
func (m *Metrics) RecordRunStarted(ctx context.Context) {
	if m == nil || m.RunsStarted == nil {
		return
	}
	m.RunsStarted.Add(ctx, 1)
}

// RecordRunOutcome counts a run's terminal state. Failures are tagged with
// the stage they failed in. A run that produced a compiled document counts
// as validated even if history bookkeeping failed afterwards.
func (m *Metrics) RecordRunOutcome(ctx context.Context, validated bool, stage string) {
	if m == nil {
		return
	}
	if validated {
		if m.RunsValidated != nil {
			m.RunsValidated.Add(ctx, 1)
		}
		return
	}
	if m.RunsFailed != nil {
		m.RunsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("stage", stage)))
	}
}

// GetMetrics returns the metrics instance
func (m *Manager) GetMetrics() *Metrics {
	if m.metrics == nil {
		return &Metrics{} // Return empty metrics if not initialized
	}
	return m.metrics
}

// HTTPMiddleware returns HTTP middleware with OpenTelemetry instrumentation
func (m *Manager) HTTPMiddleware() func(http.Handler) http.Handler {
	if !m.config.Enabled {
		return func(h http.Handler) http.Handler { return h }
	}

	return otelhttp.NewMiddleware(
		m.config.ServiceName,
		otelhttp.WithTracerProvider(m.tracerProvider),
		otelhttp.WithMeterProvider(m.meterProvider),
	)
}

// MetricsHandler serves the Prometheus scrape endpoint, or 404 when the
// exporter is disabled.
func (m *Manager) MetricsHandler() http.Handler {
	if !m.config.Enabled || !m.config.Prometheus {
		return http.NotFoundHandler()
	}
	return promhttp.Handler()
}

// Tracer returns a tracer for the service
func (m *Manager) Tracer(name string) oteltrace.Tracer {
	if !m.config.Enabled {
		return noop.NewTracerProvider().Tracer(name)
	}
	return otel.Tracer(name)
}

// Shutdown gracefully shuts down all observability components
func (m *Manager) Shutdown(ctx context.Context) error {
	for _, shutdown := range m.shutdownFuncs {
		if err := shutdown(ctx); err != nil {
			return err
		}
	}
	return nil
}
