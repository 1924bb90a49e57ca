// Package telemetry builds the OpenTelemetry trace and metric providers for
// a service binary.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	sserr "github.com/https756/spring-client-credentials-flow/pkg/errors"
)

// Exporter names accepted by [Config].
const (
	ExporterNone   = "none"
	ExporterStdout = "stdout"
)

// Config selects the exporter. It is loaded under the TELEMETRY_ prefix.
type Config struct {
	Exporter       string        `env:"EXPORTER" envDefault:"none" yaml:"exporter" json:"exporter"`
	MetricInterval time.Duration `env:"METRIC_INTERVAL" envDefault:"30s" yaml:"metric_interval" json:"metric_interval"`
	SampleRatio    float64       `env:"SAMPLE_RATIO" envDefault:"1" yaml:"sample_ratio" json:"sample_ratio"`
}

// Validate implements config.Validator.
func (c *Config) Validate() error {
	switch strings.ToLower(c.Exporter) {
	case "", ExporterNone, ExporterStdout:
	default:
		return sserr.Newf(sserr.CodeValidationFormat,
			"telemetry: unknown exporter %q (use %q or %q)", c.Exporter, ExporterNone, ExporterStdout)
	}
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return sserr.Newf(sserr.CodeValidationFormat,
			"telemetry: sample ratio must be within [0, 1], got %v", c.SampleRatio)
	}
	return nil
}

// Providers owns the SDK providers of one process.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *sdkmetric.MeterProvider
}

// Setup creates providers tagged with service and version. With the stdout
// exporter spans and metrics are written to w (stdout when nil); with
// "none" spans are still created so trace ids reach the logs, but nothing is
// exported.
func Setup(ctx context.Context, cfg Config, service, version string, w io.Writer) (*Providers, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if w == nil {
		w = os.Stdout
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", service),
		attribute.String("service.version", version),
	))
	if err != nil {
		return nil, fmt.Errorf("telemetry: build resource: %w", err)
	}

	traceOpts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	}
	meterOpts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	if strings.EqualFold(cfg.Exporter, ExporterStdout) {
		spanExp, err := stdouttrace.New(stdouttrace.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("telemetry: create stdout trace exporter: %w", err)
		}
		metricExp, err := stdoutmetric.New(stdoutmetric.WithWriter(w))
		if err != nil {
			return nil, fmt.Errorf("telemetry: create stdout metric exporter: %w", err)
		}
		interval := cfg.MetricInterval
		if interval <= 0 {
			interval = 30 * time.Second
		}
		traceOpts = append(traceOpts, sdktrace.WithBatcher(spanExp))
		meterOpts = append(meterOpts, sdkmetric.WithReader(
			sdkmetric.NewPeriodicReader(metricExp, sdkmetric.WithInterval(interval))))
	}

	return &Providers{
		TracerProvider: sdktrace.NewTracerProvider(traceOpts...),
		MeterProvider:  sdkmetric.NewMeterProvider(meterOpts...),
	}, nil
}

// Install registers the providers and the W3C trace context propagator as
// the otel globals.
func (p *Providers) Install() {
	otel.SetTracerProvider(p.TracerProvider)
	otel.SetMeterProvider(p.MeterProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{}, propagation.Baggage{}))
}

// Shutdown flushes and stops both providers.
func (p *Providers) Shutdown(ctx context.Context) error {
	return errors.Join(
		p.TracerProvider.Shutdown(ctx),
		p.MeterProvider.Shutdown(ctx),
	)
}
