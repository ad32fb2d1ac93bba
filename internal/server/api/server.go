// Package api exposes upload ingestion over HTTP.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"github.com/dmitrijs2005/crawlupload/internal/logging"
	"github.com/dmitrijs2005/crawlupload/internal/server/auth"
	"github.com/dmitrijs2005/crawlupload/internal/server/models"
	"github.com/dmitrijs2005/crawlupload/internal/server/observability"
	"github.com/dmitrijs2005/crawlupload/internal/server/services"
)

// Uploads is the ingestion service behind the routes.
type Uploads interface {
	UploadStream(ctx context.Context, body io.Reader, filename, name, notes string, org models.Organization, user models.User, replaceID string) (*services.AddedResult, error)
	UploadFormData(ctx context.Context, parts []services.FilePart, name, notes string, org models.Organization, user models.User) (*services.AddedResult, error)
	DeleteUploads(ctx context.Context, ids []string, org models.Organization) (*services.DeletedResult, error)
	GetUpload(ctx context.Context, id string, org models.Organization) (*models.CrawlOutWithResources, error)
	GetAnyUpload(ctx context.Context, id string, user models.User) (*models.CrawlOutWithResources, error)
	ListUploads(ctx context.Context, org models.Organization, opts services.ListOptions) (*services.ListResult, error)
	UpdateUpload(ctx context.Context, id string, org models.Organization, upd services.UpdateUpload) (*services.UpdatedResult, error)
}

type Server struct {
	address         string
	logger          logging.Logger
	uploads         Uploads
	metrics         *observability.Metrics
	jwtSecret       []byte
	admission       *semaphore.Weighted
	shutdownTimeout time.Duration
	engine          *gin.Engine
}

func NewServer(a string, l logging.Logger, uploads Uploads, metrics *observability.Metrics,
	secretKey string, maxConcurrentUploads int64, shutdownTimeout time.Duration) *Server {
	s := &Server{
		address:         a,
		logger:          l.With("module", "http_server"),
		uploads:         uploads,
		metrics:         metrics,
		jwtSecret:       []byte(secretKey),
		admission:       semaphore.NewWeighted(max(maxConcurrentUploads, 1)),
		shutdownTimeout: shutdownTimeout,
	}
	s.engine = s.routes()
	return s
}

func (s *Server) routes() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.requestLogger())
	r.Use(cors.New(cors.Config{
		AllowAllOrigins: true,
		AllowMethods:    []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
		AllowHeaders:    []string{"Content-Type", "Authorization"},
		MaxAge:          12 * time.Hour,
	}))

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if s.metrics != nil {
		r.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}

	all := r.Group("/api/orgs/"+auth.AllOrgs+"/uploads", s.authenticateSuperuser())
	all.GET("/:id/replay.json", s.getAnyUpload)

	uploads := r.Group("/api/orgs/:oid/uploads", s.authenticate())
	uploads.PUT("/stream", s.admit(), s.uploadStream)
	uploads.PUT("/formdata", s.admit(), s.uploadFormData)
	uploads.GET("", s.listUploads)
	uploads.GET("/:id", s.getUpload)
	uploads.GET("/:id/replay.json", s.getUpload)
	uploads.PATCH("/:id", s.updateUpload)
	uploads.POST("/delete", s.deleteUploads)

	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then drains in-flight requests for up to the
// shutdown timeout.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.address,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info(ctx, "Starting HTTP server", "address", s.address)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	s.logger.Info(ctx, "Stopping HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		args := []any{
			"method", c.Request.Method,
			"path", c.FullPath(),
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		}
		if len(c.Errors) > 0 {
			args = append(args, "error", c.Errors.String())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Error(c.Request.Context(), "request", args...)
			return
		}
		s.logger.Info(c.Request.Context(), "request", args...)
	}
}
