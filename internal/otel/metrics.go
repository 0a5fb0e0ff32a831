package otel

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// MetricsConfig holds configuration for the OpenTelemetry metrics.
type MetricsConfig struct {
	// Enabled controls whether metrics collection is active. Default: false (no-op).
	Enabled bool

	// ServiceName is the name of the service for metric attribution.
	ServiceName string

	// ServiceVersion is the version of the service.
	ServiceVersion string

	// ExporterType specifies which exporter to use.
	ExporterType ExporterType

	// OTLPEndpoint is the endpoint for OTLP exporters (e.g., "localhost:4317").
	OTLPEndpoint string

	// OTLPInsecure disables TLS for OTLP connections.
	OTLPInsecure bool

	// Attributes are additional attributes to add to all metrics.
	Attributes map[string]string
}

// DefaultMetricsConfig returns a default configuration with metrics disabled.
func DefaultMetricsConfig() *MetricsConfig {
	return &MetricsConfig{
		Enabled:      false,
		ServiceName:  "inferbench",
		ExporterType: ExporterNone,
	}
}

// Metrics wraps OpenTelemetry metrics functionality with
// inferbench-specific instruments: credits issued, records sealed,
// errors by kind, and per-queue depth.
type Metrics struct {
	config        *MetricsConfig
	meterProvider *sdkmetric.MeterProvider
	meter         metric.Meter
	shutdown      func(context.Context) error
	mu            sync.RWMutex

	depths         sync.Map // queue name -> int64 depth
	queueDepth     metric.Int64ObservableGauge
	queueDepthReg  metric.Registration

	creditsIssued    metric.Int64Counter
	recordsSealed    metric.Int64Counter
	errorsByKind     metric.Int64Counter
	requestLatency   metric.Float64Histogram
	cancellations    metric.Int64Counter
}

// globalMetrics is the singleton metrics instance.
var (
	globalMetrics   *Metrics
	globalMetricsMu sync.RWMutex
)

// NewMetrics creates a new Metrics instance with the given configuration.
func NewMetrics(ctx context.Context, cfg *MetricsConfig) (*Metrics, error) {
	if cfg == nil {
		cfg = DefaultMetricsConfig()
	}

	m := &Metrics{
		config: cfg,
	}

	if !cfg.Enabled || cfg.ExporterType == ExporterNone {
		m.meterProvider = sdkmetric.NewMeterProvider()
		m.meter = m.meterProvider.Meter(cfg.ServiceName)
		m.shutdown = func(context.Context) error { return nil }
		return m, nil
	}

	exporter, err := m.createExporter(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics exporter: %w", err)
	}

	res, err := m.createResource(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
		sdkmetric.WithResource(res),
	)

	m.meterProvider = mp
	m.meter = mp.Meter(cfg.ServiceName)
	m.shutdown = mp.Shutdown

	if err := m.registerInstruments(); err != nil {
		return nil, fmt.Errorf("failed to register metric instruments: %w", err)
	}

	return m, nil
}

// createExporter creates the appropriate metrics exporter based on configuration.
func (m *Metrics) createExporter(ctx context.Context, cfg *MetricsConfig) (sdkmetric.Exporter, error) {
	switch cfg.ExporterType {
	case ExporterStdout:
		return stdoutmetric.New()

	case ExporterOTLPGRPC:
		opts := []otlpmetricgrpc.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		return otlpmetricgrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlpmetrichttp.Option{}
		if cfg.OTLPEndpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(cfg.OTLPEndpoint))
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlpmetrichttp.WithInsecure())
		}
		return otlpmetrichttp.New(ctx, opts...)

	default:
		return nil, fmt.Errorf("unknown exporter type: %s", cfg.ExporterType)
	}
}

// createResource creates the OpenTelemetry resource with service information.
func (m *Metrics) createResource(cfg *MetricsConfig) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{
		semconv.ServiceName(cfg.ServiceName),
	}

	if cfg.ServiceVersion != "" {
		attrs = append(attrs, semconv.ServiceVersion(cfg.ServiceVersion))
	}

	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}

	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes("", attrs...),
	)
}

// registerInstruments creates and registers all metric instruments.
func (m *Metrics) registerInstruments() error {
	var err error

	m.creditsIssued, err = m.meter.Int64Counter(
		"inferbench.credits.issued",
		metric.WithDescription("Count of credits issued by the scheduler, by phase"),
	)
	if err != nil {
		return fmt.Errorf("failed to create credits issued counter: %w", err)
	}

	m.recordsSealed, err = m.meter.Int64Counter(
		"inferbench.records.sealed",
		metric.WithDescription("Count of records sealed by the aggregator, by phase and outcome"),
	)
	if err != nil {
		return fmt.Errorf("failed to create records sealed counter: %w", err)
	}

	m.errorsByKind, err = m.meter.Int64Counter(
		"inferbench.errors",
		metric.WithDescription("Count of request errors by kind"),
	)
	if err != nil {
		return fmt.Errorf("failed to create errors counter: %w", err)
	}

	m.requestLatency, err = m.meter.Float64Histogram(
		"inferbench.request.latency",
		metric.WithDescription("End-to-end latency of one HTTP attempt"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return fmt.Errorf("failed to create request latency histogram: %w", err)
	}

	m.cancellations, err = m.meter.Int64Counter(
		"inferbench.cancellations",
		metric.WithDescription("Count of requests cancelled mid-flight by cancellation injection"),
	)
	if err != nil {
		return fmt.Errorf("failed to create cancellations counter: %w", err)
	}

	m.queueDepth, err = m.meter.Int64ObservableGauge(
		"inferbench.queue.depth",
		metric.WithDescription("Current depth of an internal bus queue, by queue name"),
	)
	if err != nil {
		return fmt.Errorf("failed to create queue depth gauge: %w", err)
	}

	m.queueDepthReg, err = m.meter.RegisterCallback(
		func(ctx context.Context, o metric.Observer) error {
			m.depths.Range(func(key, value any) bool {
				o.ObserveInt64(m.queueDepth, value.(int64), metric.WithAttributes(
					attribute.String("queue", key.(string)),
				))
				return true
			})
			return nil
		},
		m.queueDepth,
	)
	if err != nil {
		return fmt.Errorf("failed to register queue depth callback: %w", err)
	}

	return nil
}

// RecordCreditIssued increments the credits-issued counter for phase.
func (m *Metrics) RecordCreditIssued(ctx context.Context, phase string) {
	if m.creditsIssued == nil {
		return
	}
	m.creditsIssued.Add(ctx, 1, metric.WithAttributes(attribute.String("phase", phase)))
}

// RecordSealed increments the records-sealed counter for phase/outcome.
func (m *Metrics) RecordSealed(ctx context.Context, phase string, ok bool) {
	if m.recordsSealed == nil {
		return
	}
	m.recordsSealed.Add(ctx, 1, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.Bool("ok", ok),
	))
}

// RecordError increments the errors counter for the given error kind.
func (m *Metrics) RecordError(ctx context.Context, kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", kind)))
}

// RecordRequestLatency records one HTTP attempt's latency in milliseconds.
func (m *Metrics) RecordRequestLatency(ctx context.Context, phase string, ok bool, latencyMs float64) {
	if m.requestLatency == nil {
		return
	}
	m.requestLatency.Record(ctx, latencyMs, metric.WithAttributes(
		attribute.String("phase", phase),
		attribute.Bool("ok", ok),
	))
}

// RecordCancellation increments the cancellations counter.
func (m *Metrics) RecordCancellation(ctx context.Context) {
	if m.cancellations == nil {
		return
	}
	m.cancellations.Add(ctx, 1)
}

// SetQueueDepth records the current depth of a named queue. Read by
// the queue depth gauge's callback on each collection.
func (m *Metrics) SetQueueDepth(name string, depth int64) {
	m.depths.Store(name, depth)
}

// Shutdown gracefully shuts down the metrics provider, flushing any pending metrics.
func (m *Metrics) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.queueDepthReg != nil {
		if err := m.queueDepthReg.Unregister(); err != nil {
			return fmt.Errorf("failed to unregister queue depth callback: %w", err)
		}
	}

	if m.shutdown != nil {
		return m.shutdown(ctx)
	}
	return nil
}

// Enabled returns whether metrics collection is enabled.
func (m *Metrics) Enabled() bool {
	return m.config.Enabled && m.config.ExporterType != ExporterNone
}

// MeterProvider returns the underlying meter provider.
func (m *Metrics) MeterProvider() *sdkmetric.MeterProvider {
	return m.meterProvider
}

// SetGlobalMetrics sets the global metrics instance.
func SetGlobalMetrics(m *Metrics) {
	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	globalMetrics = m

	if m != nil && m.Enabled() {
		otel.SetMeterProvider(m.meterProvider)
	}
}

// GetGlobalMetrics returns the global metrics instance.
// Returns a no-op metrics instance if none has been set.
func GetGlobalMetrics() *Metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()

	if globalMetrics == nil {
		return NoopMetrics()
	}

	return globalMetrics
}

// NoopMetrics returns a metrics instance that does nothing (for testing or when disabled).
func NoopMetrics() *Metrics {
	cfg := DefaultMetricsConfig()
	mp := sdkmetric.NewMeterProvider()
	return &Metrics{
		config:        cfg,
		meterProvider: mp,
		meter:         mp.Meter(cfg.ServiceName),
		shutdown:      func(context.Context) error { return nil },
	}
}
