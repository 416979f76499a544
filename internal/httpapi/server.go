// Package httpapi serves the host API over HTTP with gin. Job creating
// endpoints return 202 with the job id as soon as the job is queued;
// progress is polled or followed as server-sent events.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Aman-CERP/atrium/internal/index"
	"github.com/Aman-CERP/atrium/internal/jobs"
	"github.com/Aman-CERP/atrium/internal/packs"
	"github.com/Aman-CERP/atrium/internal/search"
	"github.com/Aman-CERP/atrium/internal/service"
	"github.com/Aman-CERP/atrium/internal/telemetry"
)

// Host is the part of *service.Service the HTTP API needs.
type Host interface {
	Status(ctx context.Context, withConsistency bool) (*service.Status, error)
	Verify(ctx context.Context) (*index.ConsistencyReport, error)
	CheckFresh(revision string) error
	Build(ctx context.Context, req service.BuildRequest) (string, error)
	Repair(ctx context.Context, req service.RepairRequest) (string, error)
	Upload(ctx context.Context, req service.UploadRequest) (string, error)
	PackInstall(ctx context.Context, req packs.Request) (string, error)
	Job(ctx context.Context, id string) (jobs.Job, error)
	Stream(ctx context.Context, id string) (<-chan jobs.Job, error)
	Cancel(ctx context.Context, id string) error
	Jobs(ctx context.Context, filter jobs.Filter) []jobs.Job
	Search(ctx context.Context, query string, limit int) ([]search.Hit, error)
	SearchStats() *telemetry.Snapshot
}

// RevisionHeader carries the library.json revision a request was based on.
// A mismatch is refused with 409.
const RevisionHeader = "X-Atrium-Revision"

// OwnerHeader names the uploader for rate limiting. Without it the client
// IP is used.
const OwnerHeader = "X-Atrium-Owner"

// Options configures a Server.
type Options struct {
	Logger *slog.Logger

	// Registry backs /metrics and receives the HTTP request metrics. Nil
	// leaves /metrics unrouted.
	Registry *prometheus.Registry

	// MaxUploadBytes bounds the multipart body of POST /api/uploads.
	MaxUploadBytes int64

	// Heartbeat is the SSE keep-alive interval.
	Heartbeat time.Duration
}

// Server is the HTTP front end.
type Server struct {
	host      Host
	logger    *slog.Logger
	engine    *gin.Engine
	maxUpload int64
	heartbeat time.Duration
}

// New builds the router.
func New(host Host, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		host:      host,
		logger:    logger,
		maxUpload: opts.MaxUploadBytes,
		heartbeat: opts.Heartbeat,
	}
	if s.heartbeat <= 0 {
		s.heartbeat = 15 * time.Second
	}

	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(logger))
	if opts.Registry != nil {
		r.Use(requestMetrics(opts.Registry))
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{})))
	}
	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	api.GET("/status", s.status)
	api.GET("/verify", s.verify)
	api.GET("/search", s.search)
	api.GET("/search/stats", s.searchStats)
	api.POST("/build", s.build)
	api.POST("/repair", s.repair)

	uploads := api.Group("/uploads")
	uploads.POST("", s.upload)
	s.jobRoutes(uploads, jobs.TypeUpload)

	install := api.Group("/packs/install")
	install.POST("", s.packInstall)
	s.jobRoutes(install, jobs.TypePackInstall)

	all := api.Group("/jobs")
	all.GET("", s.listJobs)
	s.jobRoutes(all, "")

	s.engine = r
	return s
}

func (s *Server) jobRoutes(g *gin.RouterGroup, t jobs.Type) {
	g.GET("/:id", s.getJob(t))
	g.GET("/:id/stream", s.streamJob(t))
	g.POST("/:id/cancel", s.cancelJob(t))
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.engine }

// ListenAndServe serves on addr until ctx is done, then shuts down
// gracefully.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http_listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func requestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", routeOf(c)),
			slog.Int("status", status),
			slog.Int64("duration_ms", time.Since(start).Milliseconds()),
		}
		switch {
		case status >= 500:
			logger.Error("http_request", attrs...)
		case status >= 400:
			logger.Warn("http_request", attrs...)
		default:
			logger.Debug("http_request", attrs...)
		}
	}
}

func requestMetrics(reg prometheus.Registerer) gin.HandlerFunc {
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "atrium_http_request_duration_seconds",
		Help:    "HTTP request latency by route and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "route", "status"})
	if err := reg.Register(duration); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			duration = are.ExistingCollector.(*prometheus.HistogramVec)
		}
	}
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration.WithLabelValues(c.Request.Method, routeOf(c), strconv.Itoa(c.Writer.Status())).
			Observe(time.Since(start).Seconds())
	}
}

func routeOf(c *gin.Context) string {
	if p := c.FullPath(); p != "" {
		return p
	}
	return "unknown"
}
