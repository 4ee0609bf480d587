package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/infigaming-com/go-pubsub-worker/pubsub"
	"github.com/infigaming-com/go-pubsub-worker/web/middleware"
)

// HealthFunc reports the state of a backend, see pubsub.Backend.Health.
type HealthFunc func() pubsub.Health

type Server struct {
	engine          *gin.Engine
	mode            string
	port            int64
	health          HealthFunc
	shutdownTimeout time.Duration
	lg              *zap.Logger
}

type Option func(*Server)

func defaultServer() *Server {
	return &Server{
		mode:            gin.ReleaseMode,
		port:            8080,
		shutdownTimeout: 15 * time.Second,
		lg:              zap.NewNop(),
	}
}

func WithMode(mode string) Option {
	return func(s *Server) {
		s.mode = mode
	}
}

func WithPort(port int64) Option {
	return func(s *Server) {
		s.port = port
	}
}

func WithHealth(health HealthFunc) Option {
	return func(s *Server) {
		s.health = health
	}
}

func WithShutdownTimeout(d time.Duration) Option {
	return func(s *Server) {
		s.shutdownTimeout = d
	}
}

func NewServer(lg *zap.Logger, opts ...Option) *Server {
	s := defaultServer()
	if lg != nil {
		s.lg = lg
	}
	for _, opt := range opts {
		opt(s)
	}

	gin.SetMode(s.mode)
	s.engine = gin.New()
	s.engine.Use(gin.Recovery())
	s.engine.Use(middleware.CorrelationIdMiddleware())
	s.engine.Use(middleware.LoggingMiddleware(
		middleware.WithLogger(s.lg),
		middleware.WithExcludePaths([]string{"/", "/healthcheck"}),
	))

	s.engine.GET("/", liveness)
	s.engine.GET("/healthcheck", liveness)
	s.engine.GET("/health", s.handleHealth)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", s.port)
	server := &http.Server{
		Addr:    addr,
		Handler: s.engine,
	}

	errCh := make(chan error, 1)
	go func() {
		s.lg.Info("starting web server ...", zap.String("address", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("fail to listenAndServe: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.lg.Info("shutdown web server ...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("fail to shutdown web server: %w", err)
	}
	s.lg.Info("web server exiting")
	return nil
}

func liveness(c *gin.Context) {
	c.Status(http.StatusOK)
}

// handleHealth answers 503 once the backend is shut down.
func (s *Server) handleHealth(c *gin.Context) {
	if s.health == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	h := s.health()
	status := http.StatusOK
	if h.ShutDown {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, h)
}
