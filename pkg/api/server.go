package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/allenneverland/backtest-server/pkg/engine"
	"github.com/allenneverland/backtest-server/pkg/storage"
)

const componentName = "api.server"

// Server is the REST and websocket surface over the scheduler. All run
// state flows through the scheduler for live runs and the store for
// finished ones.
type Server struct {
	scheduler *engine.Scheduler
	store     *storage.Store
	limiter   *rate.Limiter
	logger    *slog.Logger
	http      *http.Server
}

type Option func(*Server)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

func WithRateLimit(perSecond float64, burst int) Option {
	return func(s *Server) {
		s.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

func NewServer(addr string, scheduler *engine.Scheduler, store *storage.Store, options ...Option) *Server {
	s := &Server{
		scheduler: scheduler,
		store:     store,
		limiter:   rate.NewLimiter(10, 20),
		logger:    slog.Default(),
	}
	for _, option := range options {
		option(s)
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLog(), s.throttle())

	v1 := router.Group("/api/v1")
	{
		v1.POST("/backtests", s.submit)
		v1.GET("/backtests", s.list)
		v1.GET("/backtests/:id", s.status)
		v1.DELETE("/backtests/:id", s.cancel)
		v1.GET("/backtests/:id/result", s.result)
		v1.GET("/backtests/:id/trades", s.trades)
		v1.GET("/backtests/:id/equity", s.equity)
		v1.GET("/backtests/:id/watch", s.watch)
	}
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	s.http = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) ListenAndServe() error {
	s.logger.Info("api listening", "component", componentName, "addr", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) requestLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug("request",
			"component", componentName,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"elapsed", time.Since(start))
	}
}

func (s *Server) throttle() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.limiter.Allow() {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}
