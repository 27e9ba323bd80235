package config

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdoutmetric"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"

	"github.com/mpapenbr/livetiming-gateway-go/log"
	"github.com/mpapenbr/livetiming-gateway-go/version"
)

const stdoutEndpoint = "stdout"

type Telemetry struct {
	meter  *metric.MeterProvider
	tracer *trace.TracerProvider
}

// SetupTelemetry installs global meter and tracer providers. The exporters
// send to TelemetryEndpoint via otlp/grpc or print to stdout if the endpoint
// is "stdout".
func SetupTelemetry(ctx context.Context) (*Telemetry, error) {
	res, err := resource.Merge(resource.Default(),
		resource.NewSchemaless(
			attribute.String("service.name", "livetiming-gateway"),
			attribute.String("service.version", version.Version),
		))
	if err != nil {
		return nil, err
	}
	metricExporter, traceExporter, err := createExporters(ctx)
	if err != nil {
		return nil, err
	}
	ret := &Telemetry{
		meter: metric.NewMeterProvider(
			metric.WithResource(res),
			metric.WithReader(metric.NewPeriodicReader(metricExporter,
				metric.WithInterval(15*time.Second))),
		),
		tracer: trace.NewTracerProvider(
			trace.WithResource(res),
			trace.WithBatcher(traceExporter),
		),
	}
	otel.SetMeterProvider(ret.meter)
	otel.SetTracerProvider(ret.tracer)
	return ret, nil
}

//nolint:whitespace // can't make both editor and linter happy
func createExporters(ctx context.Context) (
	metric.Exporter, trace.SpanExporter, error,
) {
	if TelemetryEndpoint == stdoutEndpoint {
		me, err := stdoutmetric.New()
		if err != nil {
			return nil, nil, err
		}
		te, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, nil, err
		}
		return me, te, nil
	}
	me, err := otlpmetricgrpc.New(ctx,
		otlpmetricgrpc.WithEndpoint(TelemetryEndpoint),
		otlpmetricgrpc.WithInsecure())
	if err != nil {
		return nil, nil, err
	}
	te, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(TelemetryEndpoint),
		otlptracegrpc.WithInsecure())
	if err != nil {
		return nil, nil, err
	}
	return me, te, nil
}

// Shutdown flushes pending telemetry data
func (t *Telemetry) Shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := errors.Join(
		t.meter.Shutdown(ctx),
		t.tracer.Shutdown(ctx),
	)
	if err != nil {
		log.Warn("telemetry shutdown", log.ErrorField(err))
	}
}
