package telemetry

import (
	"context"
	"errors"
	"runtime"
	"time"

	otelpyroscope "github.com/grafana/otel-profiling-go"
	"github.com/grafana/pyroscope-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	otelprometheus "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"golang.org/x/xerrors"
)

type Config struct {
	ServiceName string

	// ExportTraces enables span export over gRPC. The exporter is configured
	// by the OTEL_EXPORTER_OTLP_* variables.
	ExportTraces bool
	// PyroscopeEndpoint enables continuous profiling.
	PyroscopeEndpoint string
}

// Telemetry owns the global tracer and meter providers for one process.
type Telemetry struct {
	registry      *prometheus.Registry
	traceProvider *sdktrace.TracerProvider
	meterProvider *sdkmetric.MeterProvider
	profiler      *pyroscope.Profiler
}

func Setup(ctx context.Context, c Config) (*Telemetry, error) {
	t := &Telemetry{
		registry: prometheus.NewRegistry(),
	}

	otel.SetTextMapPropagator(propagation.TraceContext{})

	r, err := sdkresource.Merge(
		sdkresource.Default(),
		sdkresource.NewWithAttributes(semconv.SchemaURL, semconv.ServiceName(c.ServiceName)),
	)
	if err != nil {
		return nil, xerrors.Errorf("failed to create resource: %w", err)
	}

	if c.PyroscopeEndpoint != "" {
		runtime.SetMutexProfileFraction(1)
		runtime.SetBlockProfileRate(1)

		t.profiler, err = pyroscope.Start(pyroscope.Config{
			ApplicationName: c.ServiceName,
			ServerAddress:   c.PyroscopeEndpoint,
			UploadRate:      15 * time.Second,
			ProfileTypes: []pyroscope.ProfileType{
				pyroscope.ProfileCPU,
				pyroscope.ProfileAllocObjects,
				pyroscope.ProfileAllocSpace,
				pyroscope.ProfileInuseObjects,
				pyroscope.ProfileInuseSpace,
				pyroscope.ProfileGoroutines,
			},
		})
		if err != nil {
			return nil, xerrors.Errorf("failed to create profiler: %w", err)
		}
	}

	if c.ExportTraces {
		traceExporter, err := otlptracegrpc.New(ctx)
		if err != nil {
			return nil, xerrors.Errorf("failed to create trace exporter: %w", err)
		}
		t.traceProvider = sdktrace.NewTracerProvider(
			sdktrace.WithResource(r),
			sdktrace.WithBatcher(traceExporter),
		)
		if t.profiler != nil {
			otel.SetTracerProvider(otelpyroscope.NewTracerProvider(t.traceProvider))
		} else {
			otel.SetTracerProvider(t.traceProvider)
		}
	}

	exporter, err := otelprometheus.New(otelprometheus.WithRegisterer(t.registry))
	if err != nil {
		return nil, xerrors.Errorf("failed to create exporter: %w", err)
	}
	t.meterProvider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(r),
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(t.meterProvider)

	return t, nil
}

// Gatherer exposes the metrics collected by the otel meter provider.
func (t *Telemetry) Gatherer() prometheus.Gatherer {
	return t.registry
}

// WriteTextfile writes the current metrics in the node_exporter textfile
// format.
func (t *Telemetry) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, t.registry); err != nil {
		return xerrors.Errorf("failed to write metrics to %s: %w", path, err)
	}
	return nil
}

func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	if t.traceProvider != nil {
		if err := t.traceProvider.Shutdown(ctx); err != nil {
			errs = append(errs, xerrors.Errorf("failed to shutdown trace provider: %w", err))
		}
	}
	if t.meterProvider != nil {
		if err := t.meterProvider.Shutdown(ctx); err != nil {
			errs = append(errs, xerrors.Errorf("failed to shutdown meter provider: %w", err))
		}
	}
	if t.profiler != nil {
		if err := t.profiler.Stop(); err != nil {
			errs = append(errs, xerrors.Errorf("failed to shutdown profiler: %w", err))
		}
	}
	return errors.Join(errs...)
}
