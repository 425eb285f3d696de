// Package telemetry exports campaign spans over OTLP/HTTP.
package telemetry

import (
	"context"
	"errors"
	"sync"

	"github.com/colorfulnotion/zkmut/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

const ServiceName = "zkmut"

var (
	mu       sync.Mutex
	provider *sdktrace.TracerProvider
)

// Init installs a global tracer provider exporting to endpoint (host:port of
// an OTLP/HTTP collector). An empty endpoint leaves the no-op provider in
// place.
func Init(ctx context.Context, endpoint string, insecure bool) error {
	if endpoint == "" {
		return nil
	}
	mu.Lock()
	defer mu.Unlock()
	if provider != nil {
		return errors.New("telemetry already initialised")
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	if insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exp, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return err
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exp),
		sdktrace.WithResource(resource.NewSchemaless(attribute.String("service.name", ServiceName))),
	)
	otel.SetTracerProvider(tp)
	provider = tp
	log.Info(log.FuzzModule, "telemetry enabled", "endpoint", endpoint)
	return nil
}

// Shutdown flushes pending spans. It is a no-op when Init installed nothing.
func Shutdown(ctx context.Context) error {
	mu.Lock()
	defer mu.Unlock()
	if provider == nil {
		return nil
	}
	err := provider.Shutdown(ctx)
	provider = nil
	return err
}

func Enabled() bool {
	mu.Lock()
	defer mu.Unlock()
	return provider != nil
}
