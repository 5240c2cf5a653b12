// Package telemetry instala o TracerProvider do OpenTelemetry usado pelos
// spans do pipeline.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// ErrUnknownExporter: valor de exporter fora de otlp, stdout e none.
var ErrUnknownExporter = errors.New("exporter de traces desconhecido")

// Config escolhe o exporter de traces.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	// Exporter: "otlp", "stdout" ou "none" (provider sem exporter).
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	// Writer do exporter stdout; nil usa os.Stdout.
	Writer io.Writer
}

// Init cria o TracerProvider e registra como global. O chamador faz
// Shutdown no encerramento para descarregar os spans pendentes.
func Init(ctx context.Context, cfg Config) (*sdktrace.TracerProvider, error) {
	res := resource.NewWithAttributes("",
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", cfg.ServiceVersion),
		attribute.String("deployment.environment", cfg.Environment),
	)
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	}

	exporter, err := newExporter(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if exporter != nil {
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

func newExporter(ctx context.Context, cfg Config) (sdktrace.SpanExporter, error) {
	switch cfg.Exporter {
	case "", "none":
		return nil, nil
	case "stdout":
		w := cfg.Writer
		if w == nil {
			w = os.Stdout
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("criar exporter stdout: %w", err)
		}
		return exp, nil
	case "otlp":
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exp, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("criar exporter otlp: %w", err)
		}
		return exp, nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownExporter, cfg.Exporter)
	}
}
