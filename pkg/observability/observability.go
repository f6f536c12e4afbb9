// Package observability wires OpenTelemetry tracing and metrics and the
// structured logger used across scorevault.
//
// Every workflow run gets a span plus RED metrics (rate, errors, duration)
// and an outcome counter keyed by workflow and status.
package observability

import (
	"context"
	"errors"
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
)

const scope = "github.com/Mindburn-Labs/scorevault"

// Config configures the OpenTelemetry providers.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	OTLPEndpoint   string // gRPC host:port
	SampleRate     float64
	BatchTimeout   time.Duration
	Enabled        bool
	Insecure       bool

	// SpanExporter and MetricReader replace the OTLP exporters when set.
	SpanExporter sdktrace.SpanExporter
	MetricReader sdkmetric.Reader
}

// DefaultConfig returns defaults with telemetry disabled.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "scorevault",
		ServiceVersion: "0.1.0",
		Environment:    "development",
		OTLPEndpoint:   "localhost:4317",
		SampleRate:     1.0,
		BatchTimeout:   5 * time.Second,
		Insecure:       true,
	}
}

// Provider owns the trace and metric pipelines. A disabled provider still
// hands out a working tracer; the RED instruments stay nil and are skipped.
type Provider struct {
	cfg    *Config
	tp     *sdktrace.TracerProvider
	mp     *sdkmetric.MeterProvider
	tracer trace.Tracer
	runs   *runMetrics
	logger *slog.Logger
}

type runMetrics struct {
	started  metric.Int64Counter
	failed   metric.Int64Counter
	outcomes metric.Int64Counter
	inFlight metric.Int64UpDownCounter
	duration metric.Float64Histogram
}

// Noop returns a disabled provider.
func Noop() *Provider {
	return &Provider{cfg: &Config{}, logger: slog.Default()}
}

// New builds the providers described by cfg. With cfg.Enabled false nothing
// is exported and no connection is attempted.
func New(ctx context.Context, cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	p := &Provider{cfg: cfg, logger: slog.Default().With("component", "observability")}
	if !cfg.Enabled {
		p.logger.DebugContext(ctx, "telemetry disabled")
		return p, nil
	}

	// schemaless so the merge follows whatever schema the sdk default carries
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
		semconv.DeploymentEnvironment(cfg.Environment),
	))
	if err != nil {
		return nil, fmt.Errorf("observability: resource: %w", err)
	}
	if p.tp, err = newTracerProvider(ctx, cfg, res); err != nil {
		return nil, err
	}
	if p.mp, err = newMeterProvider(ctx, cfg, res); err != nil {
		_ = p.tp.Shutdown(ctx)
		return nil, err
	}
	otel.SetTracerProvider(p.tp)
	otel.SetMeterProvider(p.mp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	p.tracer = p.tp.Tracer(scope, trace.WithInstrumentationVersion(cfg.ServiceVersion))
	if p.runs, err = newRunMetrics(p.mp.Meter(scope, metric.WithInstrumentationVersion(cfg.ServiceVersion))); err != nil {
		return nil, fmt.Errorf("observability: instruments: %w", err)
	}

	p.logger.InfoContext(ctx, "telemetry enabled",
		"service", cfg.ServiceName,
		"endpoint", cfg.OTLPEndpoint,
		"sample_rate", cfg.SampleRate,
	)
	return p, nil
}

func newTracerProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdktrace.TracerProvider, error) {
	exp := cfg.SpanExporter
	if exp == nil {
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		var err error
		if exp, err = otlptracegrpc.New(ctx, opts...); err != nil {
			return nil, fmt.Errorf("observability: trace exporter: %w", err)
		}
	}
	return sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exp, sdktrace.WithBatchTimeout(cfg.BatchTimeout)),
		sdktrace.WithSampler(sampler(cfg.SampleRate)),
	), nil
}

func newMeterProvider(ctx context.Context, cfg *Config, res *resource.Resource) (*sdkmetric.MeterProvider, error) {
	reader := cfg.MetricReader
	if reader == nil {
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.Insecure {
			opts = append(opts, otlpmetricgrpc.WithInsecure())
		}
		exp, err := otlpmetricgrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("observability: metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(15*time.Second))
	}
	return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res), sdkmetric.WithReader(reader)), nil
}

func sampler(rate float64) sdktrace.Sampler {
	switch {
	case rate >= 1:
		return sdktrace.AlwaysSample()
	case rate <= 0:
		return sdktrace.NeverSample()
	default:
		return sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))
	}
}

func newRunMetrics(m metric.Meter) (*runMetrics, error) {
	var (
		r    runMetrics
		errs []error
		err  error
	)
	r.started, err = m.Int64Counter("scorevault.workflow.requests",
		metric.WithDescription("Workflow runs admitted"), metric.WithUnit("{run}"))
	errs = append(errs, err)
	r.failed, err = m.Int64Counter("scorevault.workflow.errors",
		metric.WithDescription("Workflow runs that ended with an error"), metric.WithUnit("{run}"))
	errs = append(errs, err)
	r.outcomes, err = m.Int64Counter("scorevault.workflow.outcomes",
		metric.WithDescription("Workflow runs by final status"), metric.WithUnit("{run}"))
	errs = append(errs, err)
	r.inFlight, err = m.Int64UpDownCounter("scorevault.workflow.active",
		metric.WithDescription("Workflow runs in flight"), metric.WithUnit("{run}"))
	errs = append(errs, err)
	r.duration, err = m.Float64Histogram("scorevault.workflow.duration",
		metric.WithDescription("Workflow run duration"), metric.WithUnit("s"),
		metric.WithExplicitBucketBoundaries(0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60))
	errs = append(errs, err)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return &r, nil
}

// Shutdown flushes and stops both pipelines.
func (p *Provider) Shutdown(ctx context.Context) error {
	var errs []error
	if p.tp != nil {
		errs = append(errs, p.tp.Shutdown(ctx))
	}
	if p.mp != nil {
		errs = append(errs, p.mp.Shutdown(ctx))
	}
	return errors.Join(errs...)
}

// Tracer returns the provider's tracer, or the global one when disabled.
func (p *Provider) Tracer() trace.Tracer {
	if p.tracer == nil {
		return otel.Tracer(scope)
	}
	return p.tracer
}

// TrackOperation opens a span and the RED bookkeeping for one workflow run.
// The returned func closes both and takes the run's status and error.
func (p *Provider) TrackOperation(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, func(status string, err error)) {
	start := time.Now()
	attrs = append(attrs, attribute.String("workflow", name))
	set := metric.WithAttributes(attrs...)

	ctx, span := p.Tracer().Start(ctx, "scorevault."+name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	if p.runs != nil {
		p.runs.started.Add(ctx, 1, set)
		p.runs.inFlight.Add(ctx, 1, set)
	}

	return ctx, func(status string, err error) {
		defer span.End()
		span.SetAttributes(attribute.String("status", status))
		if err != nil {
			span.RecordError(err)
		}
		if p.runs == nil {
			return
		}
		p.runs.inFlight.Add(ctx, -1, set)
		p.runs.duration.Record(ctx, time.Since(start).Seconds(), set)
		p.runs.outcomes.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("status", status))...))
		if err != nil {
			p.runs.failed.Add(ctx, 1, metric.WithAttributes(append(attrs, attribute.String("error.type", fmt.Sprintf("%T", err)))...))
		}
	}
}
