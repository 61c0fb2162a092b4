// Package observability provides OpenTelemetry tracing and metrics for the
// trust fabric: spans around propagation and enforcement, and RED metrics
// (dispatch rate, failures, duration).
package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string        // e.g. "localhost:4317" for gRPC
	BatchTimeout   time.Duration // How long to wait before sending batched spans
	Enabled        bool
}

// DefaultConfig returns development defaults.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "trustfabric",
		ServiceVersion: "1.2.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		BatchTimeout:   5 * time.Second,
		Enabled:        true,
	}
}

// Provider manages trace and metric providers. A nil *Provider is valid and
// disables all instrumentation.
type Provider struct {
	config         *Config
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	tracer         trace.Tracer
	meter          metric.Meter
	logger         *slog.Logger

	dispatchCounter  metric.Int64Counter
	failureCounter   metric.Int64Counter
	dispatchDuration metric.Float64Histogram
	decisionCounter  metric.Int64Counter
}

// New creates a new observability provider.
func New(ctx context.Context, config *Config) (*Provider, error) {
	if config == nil {
		config = DefaultConfig()
	}

	p := &Provider{
		config: config,
		logger: slog.Default().With("component", "observability"),
	}

	if !config.Enabled {
		p.logger.InfoContext(ctx, "observability disabled")
		p.tracer = noop.NewTracerProvider().Tracer("trustfabric")
		return p, nil
	}

	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	if err := p.initTraceProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init trace provider: %w", err)
	}
	if err := p.initMeterProvider(ctx, res); err != nil {
		return nil, fmt.Errorf("failed to init meter provider: %w", err)
	}
	if err := p.initInstruments(); err != nil {
		return nil, fmt.Errorf("failed to init instruments: %w", err)
	}
	return p, nil
}

func (p *Provider) initTraceProvider(ctx context.Context, res *resource.Resource) error {
	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(p.config.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("trace exporter creation failed: %w", err)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter, sdktrace.WithBatchTimeout(p.config.BatchTimeout)),
	)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))
	p.tracer = p.tracerProvider.Tracer("trustfabric")
	return nil
}

func (p *Provider) initMeterProvider(ctx context.Context, res *resource.Resource) error {
	exporter, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(p.config.OTLPEndpoint),
		otlpmetricgrpc.WithInsecure(),
	)
	if err != nil {
		return fmt.Errorf("metric exporter creation failed: %w", err)
	}

	p.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter)),
	)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter("trustfabric")
	return nil
}

func (p *Provider) initInstruments() error {
	var err error
	p.dispatchCounter, err = p.meter.Int64Counter("fabric.propagation.dispatches",
		metric.WithDescription("Propagation dispatches by outcome"))
	if err != nil {
		return err
	}
	p.failureCounter, err = p.meter.Int64Counter("fabric.propagation.failures",
		metric.WithDescription("Per-target propagation failures"))
	if err != nil {
		return err
	}
	p.dispatchDuration, err = p.meter.Float64Histogram("fabric.propagation.duration",
		metric.WithDescription("Per-target dispatch duration in seconds"),
		metric.WithUnit("s"))
	if err != nil {
		return err
	}
	p.decisionCounter, err = p.meter.Int64Counter("fabric.enforcement.decisions",
		metric.WithDescription("Enforcement decisions by verdict"))
	return err
}

// StartSpan starts a span; on a nil or disabled provider it is a no-op.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if p == nil || p.tracer == nil {
		return ctx, noop.Span{}
	}
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordDispatch records one per-target dispatch.
func (p *Provider) RecordDispatch(ctx context.Context, target string, success bool, elapsed time.Duration) {
	if p == nil || p.dispatchCounter == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("target", target),
		attribute.Bool("success", success),
	)
	p.dispatchCounter.Add(ctx, 1, attrs)
	p.dispatchDuration.Record(ctx, elapsed.Seconds(), attrs)
	if !success {
		p.failureCounter.Add(ctx, 1, metric.WithAttributes(attribute.String("target", target)))
	}
}

// RecordDecision records one enforcement decision.
func (p *Provider) RecordDecision(ctx context.Context, policyID string, granted bool) {
	if p == nil || p.decisionCounter == nil {
		return
	}
	p.decisionCounter.Add(ctx, 1, metric.WithAttributes(
		attribute.String("policy_id", policyID),
		attribute.Bool("granted", granted),
	))
}

// Shutdown flushes and stops the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	var errs []error
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("observability shutdown: %v", errs)
	}
	return nil
}
