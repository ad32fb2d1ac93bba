// Package server wires the upload service together: database, object
// storage, the HTTP API and the gRPC health endpoint, and runs them until a
// shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/crawlupload/internal/dbx"
	"github.com/dmitrijs2005/crawlupload/internal/logging"
	"github.com/dmitrijs2005/crawlupload/internal/server/api"
	"github.com/dmitrijs2005/crawlupload/internal/server/config"
	"github.com/dmitrijs2005/crawlupload/internal/server/observability"
	"github.com/dmitrijs2005/crawlupload/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/crawlupload/internal/server/services"
	"github.com/dmitrijs2005/crawlupload/internal/server/storage"

	gs "github.com/dmitrijs2005/crawlupload/internal/server/grpc"
)

type App struct {
	config   *config.Config
	logger   logging.Logger
	db       *sql.DB
	storage  *storage.S3Storage
	uploads  *services.UploadService
	metrics  *observability.Metrics
	tracer   *sdktrace.TracerProvider
	closeLog func() error
}

// NewLogger builds the logger selected by format: "zap" or the default
// slog JSON handler on stdout.
func NewLogger(format string) (logging.Logger, func() error, error) {
	switch format {
	case "zap":
		l, err := logging.NewZapProduction(false)
		if err != nil {
			return nil, nil, fmt.Errorf("zap logger: %w", err)
		}
		return l, l.Sync, nil
	case "", "json":
		return logging.NewJSONSlogLogger(os.Stdout, slog.LevelInfo), func() error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown log format %q", format)
	}
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, closeLog, err := NewLogger(c.LogFormat)
	if err != nil {
		return nil, err
	}

	app := &App{config: c, logger: logger, closeLog: closeLog, metrics: observability.NewMetrics()}

	if c.TraceStdout {
		app.tracer, err = observability.InitTracerProvider(os.Stdout)
	} else {
		app.tracer, err = observability.InitTracerProvider(nil)
	}
	if err != nil {
		return nil, fmt.Errorf("tracer init error: %w", err)
	}

	app.db, err = dbx.Open(ctx, "pgx", c.DatabaseDSN, dbx.DefaultPool)
	if err != nil {
		_ = app.close(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("db init error: %w", err)
	}

	if err := app.initStores(ctx); err != nil {
		_ = app.close(context.WithoutCancel(ctx))
		return nil, err
	}

	return app, nil
}

func (app *App) initStores(ctx context.Context) error {
	rm, err := repomanager.NewPostgresRepositoryManager(app.db)
	if err != nil {
		return fmt.Errorf("repository manager init error: %w", err)
	}
	if err := rm.RunMigrations(ctx, app.db); err != nil {
		return fmt.Errorf("migrations error: %w", err)
	}

	app.storage, err = storage.NewS3Storage(ctx, app.config, app.logger)
	if err != nil {
		return fmt.Errorf("storage init error: %w", err)
	}
	if err := app.storage.EnsureBucket(ctx); err != nil {
		return fmt.Errorf("storage bucket error: %w", err)
	}

	app.uploads = services.NewUploadService(app.db, rm, app.storage, app.logger, app.metrics,
		services.WithMinPartSize(app.config.MinUploadPartSize))
	return nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run serves HTTP and gRPC until a signal arrives or either server fails,
// then releases the database, tracer and logger.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	httpServer := api.NewServer(app.config.EndpointAddrHTTP, app.logger, app.uploads, app.metrics,
		app.config.SecretKey, app.config.MaxConcurrentUploads, app.config.ShutdownTimeout)

	grpcServer := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, map[string]gs.Check{
		"database": app.db.PingContext,
		"storage":  app.storage.Check,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return httpServer.Run(gctx) })
	g.Go(func() error { return grpcServer.Run(gctx) })

	runErr := g.Wait()
	if runErr != nil {
		app.logger.Error(ctx, "server stopped", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), app.config.ShutdownTimeout)
	defer cancel()

	app.logger.Info(shutdownCtx, "Stopping app...")
	return errors.Join(runErr, app.close(shutdownCtx))
}

func (app *App) close(ctx context.Context) error {
	var errs []error
	if err := observability.ShutdownTracerProvider(ctx, app.tracer); err != nil {
		errs = append(errs, fmt.Errorf("tracer shutdown: %w", err))
	}
	if app.db != nil {
		if err := app.db.Close(); err != nil {
			errs = append(errs, fmt.Errorf("db close: %w", err))
		}
	}
	// Sync of a terminal stdout fails with EINVAL.
	_ = app.closeLog()
	return errors.Join(errs...)
}
