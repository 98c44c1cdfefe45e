// Package telemetry provides OpenTelemetry instrumentation for Tally.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"time"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/yairfalse/tally/internal/config"
)

const instrumentationName = "github.com/yairfalse/tally"

// Provider wraps OTEL tracer and meter providers.
type Provider struct {
	tracerProvider *sdktrace.TracerProvider
	meterProvider  *sdkmetric.MeterProvider
	registry       *promclient.Registry
	tracer         trace.Tracer
	meter          metric.Meter

	// Metrics
	tasks        metric.Int64Counter
	records      metric.Int64Counter
	taskDuration metric.Float64Histogram
	remoteErrors metric.Int64Counter
	analyzed     metric.Int64Counter
}

// NewProvider creates a new telemetry provider. Metrics are always exposed on
// a private Prometheus registry; OTLP export is enabled per signal.
func NewProvider(ctx context.Context, cfg config.OTELConfig) (*Provider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	p := &Provider{}

	if err := p.setupTracing(ctx, cfg, res); err != nil {
		return nil, err
	}

	if err := p.setupMetrics(ctx, cfg, res); err != nil {
		_ = p.tracerProvider.Shutdown(ctx)
		return nil, err
	}

	if err := p.initMetrics(); err != nil {
		_ = p.Shutdown(ctx)
		return nil, err
	}

	return p, nil
}

// Noop returns a provider that records nothing.
func Noop() *Provider {
	p := &Provider{
		registry: promclient.NewRegistry(),
		tracer:   tracenoop.NewTracerProvider().Tracer(instrumentationName),
		meter:    metricnoop.NewMeterProvider().Meter(instrumentationName),
	}
	// the noop meter never fails
	_ = p.initMetrics()
	return p
}

func (p *Provider) setupTracing(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
	}

	if cfg.Traces.Enabled && cfg.Endpoint != "" {
		exp, err := createTraceExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create trace exporter: %w", err)
		}
		sampler := sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.Traces.SampleRate))
		opts = append(opts,
			sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(5*time.Second)),
			sdktrace.WithSampler(sampler),
		)
	}

	p.tracerProvider = sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(p.tracerProvider)
	otel.SetTextMapPropagator(propagation.TraceContext{})
	p.tracer = p.tracerProvider.Tracer(instrumentationName)

	return nil
}

func (p *Provider) setupMetrics(ctx context.Context, cfg config.OTELConfig, res *resource.Resource) error {
	p.registry = promclient.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(p.registry))
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	opts := []sdkmetric.Option{
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(promExporter),
	}

	if cfg.Metrics.Enabled && cfg.Endpoint != "" {
		exp, err := createMetricExporter(ctx, cfg)
		if err != nil {
			return fmt.Errorf("create metric exporter: %w", err)
		}
		opts = append(opts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(10*time.Second)),
		))
	}

	p.meterProvider = sdkmetric.NewMeterProvider(opts...)
	otel.SetMeterProvider(p.meterProvider)
	p.meter = p.meterProvider.Meter(instrumentationName)

	return nil
}

func createTraceExporter(ctx context.Context, cfg config.OTELConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlptracegrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}
	return otlptracegrpc.New(ctx, opts...)
}

func createMetricExporter(ctx context.Context, cfg config.OTELConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(
			grpc.WithTransportCredentials(insecure.NewCredentials()),
		))
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (p *Provider) initMetrics() error {
	var err error

	p.tasks, err = p.meter.Int64Counter(
		"tally.tasks",
		metric.WithDescription("Collection tasks by terminal status"),
	)
	if err != nil {
		return fmt.Errorf("create tasks counter: %w", err)
	}

	p.records, err = p.meter.Int64Counter(
		"tally.records",
		metric.WithDescription("Records written to artifacts"),
	)
	if err != nil {
		return fmt.Errorf("create records counter: %w", err)
	}

	p.taskDuration, err = p.meter.Float64Histogram(
		"tally.task.duration",
		metric.WithDescription("Duration of collection tasks"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return fmt.Errorf("create task duration: %w", err)
	}

	p.remoteErrors, err = p.meter.Int64Counter(
		"tally.remote.errors",
		metric.WithDescription("Remote call failures by kind"),
	)
	if err != nil {
		return fmt.Errorf("create remote errors counter: %w", err)
	}

	p.analyzed, err = p.meter.Int64Counter(
		"tally.resources.analyzed",
		metric.WithDescription("Resources read back for tag analysis"),
	)
	if err != nil {
		return fmt.Errorf("create analyzed counter: %w", err)
	}

	return nil
}

// Tracer returns the tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Meter returns the meter.
func (p *Provider) Meter() metric.Meter {
	return p.meter
}

// Registry returns the Prometheus registry the metrics are exported to.
func (p *Provider) Registry() *promclient.Registry {
	return p.registry
}

// Handler serves the Prometheus registry.
func (p *Provider) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{Registry: p.registry})
}

// StartSpan starts a new span.
func (p *Provider) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return p.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

// RecordTask records a finished collection task.
func (p *Provider) RecordTask(ctx context.Context, service, region, status string, records int, d time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("region", region),
		attribute.String("status", status),
	)
	p.tasks.Add(ctx, 1, attrs)
	p.taskDuration.Record(ctx, d.Seconds(), attrs)
	if records > 0 {
		p.records.Add(ctx, int64(records), metric.WithAttributes(
			attribute.String("service", service),
			attribute.String("region", region),
		))
	}
}

// RecordRemoteError records a classified remote failure.
func (p *Provider) RecordRemoteError(ctx context.Context, service, region, kind string) {
	p.remoteErrors.Add(ctx, 1, metric.WithAttributes(
		attribute.String("service", service),
		attribute.String("region", region),
		attribute.String("kind", kind),
	))
}

// RecordAnalyzed records resources loaded for aggregation.
func (p *Provider) RecordAnalyzed(ctx context.Context, resources int) {
	p.analyzed.Add(ctx, int64(resources))
}

// Shutdown flushes and shuts down the providers.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tracerProvider != nil {
		if err := p.tracerProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown tracer: %w", err)
		}
	}
	if p.meterProvider != nil {
		if err := p.meterProvider.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown meter: %w", err)
		}
	}
	return nil
}
