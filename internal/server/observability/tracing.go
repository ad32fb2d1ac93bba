package observability

import (
	"context"
	"io"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// TracerName is the instrumentation name of ingestion spans.
const TracerName = "github.com/dmitrijs2005/crawlupload"

// InitTracerProvider installs a global tracer provider. When w is non-nil,
// spans are exported to it as pretty-printed JSON; otherwise they are
// recorded and dropped.
func InitTracerProvider(w io.Writer) (*sdktrace.TracerProvider, error) {
	var opts []sdktrace.TracerProviderOption
	if w != nil {
		exporter, err := stdouttrace.New(stdouttrace.WithWriter(w), stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, err
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	}

	tp := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tp)
	return tp, nil
}

// ShutdownTracerProvider flushes pending spans and stops the provider.
func ShutdownTracerProvider(ctx context.Context, tp *sdktrace.TracerProvider) error {
	if tp == nil {
		return nil
	}
	return tp.Shutdown(ctx)
}
