// Package httpapi exposes jobs, news and digests over HTTP.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/usecase"
)

// JobAPI is the job registry surface.
type JobAPI interface {
	RunIngest(ctx context.Context, sources []string, params domain.JobParams) (domain.Job, error)
	GetJob(ctx context.Context, id string) (domain.Job, error)
	JobDetail(ctx context.Context, id string) (domain.JobDetail, error)
	ListJobs(ctx context.Context, limit, offset int) ([]domain.Job, int, error)
}

// NewsAPI serves item reads and removals.
type NewsAPI interface {
	List(ctx context.Context, q usecase.NewsQuery) ([]domain.NewsItem, error)
	Brief(ctx context.Context, q usecase.NewsQuery) (string, int, error)
	DeleteItem(ctx context.Context, id int64) error
	DeleteByDay(ctx context.Context, day time.Time) (int, error)
	Purge(ctx context.Context, before time.Time) (int, error)
}

// DigestAPI builds and reads daily digests.
type DigestAPI interface {
	Defaults() domain.DigestParams
	Get(ctx context.Context, day time.Time) (domain.Digest, error)
	List(ctx context.Context, limit, offset int) ([]domain.Digest, error)
	Build(ctx context.Context, day time.Time, params domain.DigestParams, force bool) (domain.Digest, error)
	AttachScript(ctx context.Context, day time.Time, segments []domain.ScriptSegment, model string) (domain.Digest, error)
	GenerateScript(ctx context.Context, day time.Time, force bool) (domain.Digest, error)
}

// AnalysisAPI queues items for external analysis.
type AnalysisAPI interface {
	EnqueueCandidates(ctx context.Context, q usecase.NewsQuery) ([]int64, error)
}

// Deps wires the handlers.
type Deps struct {
	Jobs     JobAPI
	News     NewsAPI
	Digests  DigestAPI
	Analysis AnalysisAPI
	// Health reports backing-service failures; nil means always healthy.
	Health func(ctx context.Context) error
	Logger *slog.Logger
}

// Server owns the echo instance.
type Server struct {
	echo   *echo.Echo
	addr   string
	deps   Deps
	logger *slog.Logger
}

// New builds the server and registers every route.
func New(addr string, deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{echo: e, addr: addr, deps: deps, logger: logger.With("component", "http")}
	e.Use(middleware.Recover())
	e.Use(s.requestLogger)
	s.routes()
	return s
}

func (s *Server) routes() {
	e := s.echo
	e.GET("/health", s.health)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	e.POST("/ingest/run", s.runIngest)
	e.GET("/jobs", s.listJobs)
	e.GET("/jobs/:id", s.getJob)
	e.GET("/jobs/:id/detail", s.jobDetail)

	e.GET("/news", s.listNews)
	e.GET("/digest", s.brief)
	e.POST("/analysis/enqueue", s.enqueueAnalysis)

	e.GET("/digests/daily", s.listDigests)
	e.GET("/digests/daily/:day", s.getDigest)
	e.POST("/digests/daily/:day", s.buildDigest)
	e.POST("/digests/daily/:day/script", s.digestScript)

	e.DELETE("/items/by-day", s.deleteByDay)
	e.DELETE("/items/purge", s.purgeItems)
	e.DELETE("/items/:id", s.deleteItem)
}

// Handler exposes the router for tests and custom listeners.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start listens until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server listening", "addr", s.addr)
	if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		if err != nil {
			c.Error(err)
		}
		req := c.Request()
		s.logger.Debug("request completed",
			"method", req.Method,
			"path", req.URL.Path,
			"status", c.Response().Status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
		return nil
	}
}

func (s *Server) health(c echo.Context) error {
	if s.deps.Health != nil {
		if err := s.deps.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]any{"ok": false, "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true})
}
