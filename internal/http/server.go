package httpserver

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/Clark-Hu/movie-reviews/internal/config"
	"github.com/Clark-Hu/movie-reviews/internal/domain"
)

// MovieService is the application surface the handlers call.
type MovieService interface {
	ResolveByTitle(ctx context.Context, title string, year *int) (*domain.Movie, error)
	AddReview(ctx context.Context, imdbID, opinion string, rating int) (*domain.Movie, error)
	SearchMovies(ctx context.Context, title string, year *int, limit int) ([]*domain.Movie, error)
}

// HealthChecker reports whether a dependency is reachable.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Metrics exposes the scrape handler and records request latency.
type Metrics interface {
	Handler() http.Handler
	ObserveHTTPRequest(method, route string, status int, elapsed time.Duration)
}

// Server wires HTTP routing, middleware, and handlers.
type Server struct {
	cfg     config.Config
	movies  MovieService
	health  HealthChecker
	metrics Metrics
	logger  *slog.Logger
	router  chi.Router
	httpSrv *http.Server
}

// New constructs the HTTP server with base middleware and routes. metrics may be nil.
func New(cfg config.Config, movies MovieService, health HealthChecker, metrics Metrics, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "http"))

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger, metrics))
	r.Use(middleware.Recoverer)

	s := &Server{
		cfg:     cfg,
		movies:  movies,
		health:  health,
		metrics: metrics,
		logger:  logger,
		router:  r,
	}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Get("/search-movie", s.handleSearchMovie)
	s.router.Post("/create-movie", s.handleCreateReview)
	s.router.Get("/movies", s.handleListMovies)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}
}

// Handler returns the routed handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start boots the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpSrv = &http.Server{
		Addr:         ":" + s.cfg.Port,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.cfg.ReadTimeoutSecs) * time.Second,
		WriteTimeout: time.Duration(s.cfg.WriteTimeoutSecs) * time.Second,
		IdleTimeout:  time.Duration(s.cfg.IdleTimeoutSecs) * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", slog.String("addr", s.httpSrv.Addr))
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		timeout := time.Duration(s.cfg.ShutdownTimeoutSecs) * time.Second
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = s.httpSrv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpSrv == nil {
		return nil
	}
	return s.httpSrv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if s.health == nil {
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "store not configured")
		return
	}
	if err := s.health.HealthCheck(ctx); err != nil {
		s.logger.WarnContext(ctx, "health check failed", slog.Any("error", err))
		s.respondError(w, http.StatusServiceUnavailable, "UNAVAILABLE", "database unreachable")
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// slogFormatter adapts chi's request logger to slog and feeds the latency
// histogram, labelled by route pattern to keep cardinality bounded.
type slogFormatter struct {
	logger  *slog.Logger
	metrics Metrics
}

func requestLogger(logger *slog.Logger, metrics Metrics) func(http.Handler) http.Handler {
	return middleware.RequestLogger(&slogFormatter{logger: logger, metrics: metrics})
}

func (f *slogFormatter) NewLogEntry(r *http.Request) middleware.LogEntry {
	return &slogEntry{
		logger: f.logger.With(
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path)),
		metrics: f.metrics,
		req:     r,
	}
}

type slogEntry struct {
	logger  *slog.Logger
	metrics Metrics
	req     *http.Request
}

func (e *slogEntry) Write(status, bytes int, _ http.Header, elapsed time.Duration, _ interface{}) {
	if status == 0 {
		status = http.StatusOK
	}
	route := e.req.URL.Path
	if rctx := chi.RouteContext(e.req.Context()); rctx != nil && rctx.RoutePattern() != "" {
		route = rctx.RoutePattern()
	}
	if e.metrics != nil {
		e.metrics.ObserveHTTPRequest(e.req.Method, route, status, elapsed)
	}
	level := slog.LevelInfo
	if status >= http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	e.logger.Log(e.req.Context(), level, "request",
		slog.String("route", route),
		slog.Int("status", status),
		slog.Int("bytes", bytes),
		slog.Duration("duration", elapsed))
}

func (e *slogEntry) Panic(v interface{}, stack []byte) {
	e.logger.Error("panic recovered", slog.Any("panic", v), slog.String("stack", string(stack)))
}
