package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/GriffinCanCode/vsite/internal/api/middleware"
	"github.com/GriffinCanCode/vsite/internal/config"
	"github.com/GriffinCanCode/vsite/internal/host"
	"github.com/GriffinCanCode/vsite/internal/monitoring"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server exposes a controller over HTTP for inspection and scripting.
type Server struct {
	router     *gin.Engine
	controller *host.Controller
	metrics    *monitoring.Metrics
	log        *zap.Logger
	addr       string
}

// NewServer builds the router around controller.
func NewServer(controller *host.Controller, cfg *config.Config, metrics *monitoring.Metrics, log *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	if cfg.Logging.Development {
		gin.SetMode(gin.DebugMode)
	}

	log = log.Named("api")
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(log))
	router.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.Server.CORSOrigins...)))
	if cfg.RateLimit.Enabled {
		router.Use(middleware.RateLimit(middleware.RateLimitConfig{
			RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
			Burst:             cfg.RateLimit.Burst,
		}))
	}

	s := &Server{
		router:     router,
		controller: controller,
		metrics:    metrics,
		log:        log,
		addr:       net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	h := &handlers{controller: s.controller, log: s.log}
	stream := newStream(s.controller, s.log)

	s.router.GET("/health", h.health)
	s.router.GET("/state", h.state)

	// Side panel
	s.router.GET("/files", h.files)
	s.router.GET("/files/*path", h.download)

	// Navigation
	s.router.POST("/navigate", h.navigate)
	s.router.POST("/back", h.back)
	s.router.POST("/forward", h.forward)

	// Page interaction
	s.router.GET("/page", h.page)
	s.router.POST("/click", h.click)
	s.router.POST("/submit", h.submit)
	s.router.POST("/key", h.key)
	s.router.POST("/menu/close", h.closeMenu)

	s.router.GET("/events", stream.serve)

	if s.metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))
	}
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr is the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.log.Info("inspection API listening", zap.String("addr", s.addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("inspection API stopped")
	return nil
}
