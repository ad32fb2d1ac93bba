package server

import (
	"context"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/dmitrijs2005/crawlupload/internal/logging"
	"github.com/dmitrijs2005/crawlupload/internal/server/config"
)

func TestNewLogger(t *testing.T) {
	l, closeFn, err := NewLogger("json")
	require.NoError(t, err)
	assert.IsType(t, &logging.SlogLogger{}, l)
	assert.NoError(t, closeFn())

	l, _, err = NewLogger("")
	require.NoError(t, err)
	assert.IsType(t, &logging.SlogLogger{}, l)

	l, _, err = NewLogger("zap")
	require.NoError(t, err)
	assert.IsType(t, &logging.ZapLogger{}, l)
}

func TestNewLogger_Unknown(t *testing.T) {
	_, _, err := NewLogger("xml")
	assert.Error(t, err)
}

func TestNewApp_FailedInitStopsTracer(t *testing.T) {
	prev := otel.GetTracerProvider()
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	var c config.Config
	c.LoadDefaults()
	c.DatabaseDSN = "postgres://u:p@127.0.0.1:1/none?sslmode=disable&connect_timeout=1"

	app, err := NewApp(context.Background(), &c)
	require.Error(t, err)
	assert.Nil(t, app)

	tp, ok := otel.GetTracerProvider().(*sdktrace.TracerProvider)
	require.True(t, ok, "tracer provider installed before the db failure")
	_, span := tp.Tracer("t").Start(context.Background(), "after-init")
	defer span.End()
	assert.False(t, span.IsRecording(), "provider was shut down")
}

func TestClose_WithoutDB(t *testing.T) {
	tp := sdktrace.NewTracerProvider()
	app := &App{logger: logging.Nop(), tracer: tp, closeLog: func() error { return nil }}

	require.NoError(t, app.close(context.Background()))
	_, span := tp.Tracer("t").Start(context.Background(), "s")
	assert.False(t, span.IsRecording())
}

func TestInitSignalHandler_CancelsOnSignal(t *testing.T) {
	app := &App{logger: logging.Nop()}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app.initSignalHandler(cancel)
	require.NoError(t, syscall.Kill(syscall.Getpid(), syscall.SIGTERM))

	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("context not canceled by SIGTERM")
	}
}
