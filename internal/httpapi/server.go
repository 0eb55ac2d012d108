// Package httpapi exposes the event submission API.
package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"remindd/internal/event"
	"remindd/internal/reminder"
	"remindd/internal/storage"
	logx "remindd/pkg/logx"
)

// Scheduler is the reminder engine as the API sees it.
type Scheduler interface {
	Schedule(ctx context.Context, rec event.Record) (reminder.Report, error)
}

// Config controls the HTTP listener.
type Config struct {
	Addr         string
	CORSOrigins  []string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	RatePerSec   float64
	RateBurst    int
}

type Server struct {
	cfg   Config
	echo  *echo.Echo
	log   logx.Logger
	store storage.Store
	sched Scheduler
	now   func() time.Time
}

func New(cfg Config, store storage.Store, sched Scheduler, log logx.Logger) *Server {
	if cfg.Addr == "" {
		cfg.Addr = ":8080"
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{cfg: cfg, echo: e, log: log, store: store, sched: sched, now: time.Now}

	e.Use(middleware.Recover())
	e.Use(s.requestLog)
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: corsOrigins(cfg.CORSOrigins),
		AllowMethods: []string{http.MethodPost, http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	rl := newRateLimiter(cfg.RatePerSec, cfg.RateBurst)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !rl.allow(c.RealIP()) {
				return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
			}
			return next(c)
		}
	})

	e.POST("/api/v1/events", s.handleSubmitEvent)
	e.GET("/api/v1/events", s.handleListEvents)
	e.GET("/healthz", s.handleHealth)

	if cfg.ReadTimeout > 0 {
		e.Server.ReadTimeout = cfg.ReadTimeout
	}
	if cfg.WriteTimeout > 0 {
		e.Server.WriteTimeout = cfg.WriteTimeout
	}
	if cfg.IdleTimeout > 0 {
		e.Server.IdleTimeout = cfg.IdleTimeout
	}

	return s
}

func corsOrigins(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}

// Handler exposes the routing tree for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.log.Info("http listening", logx.String("addr", s.cfg.Addr))
	err := s.echo.Start(s.cfg.Addr)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

func (s *Server) requestLog(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.log.Debug("http request",
			logx.String("method", c.Request().Method),
			logx.String("path", c.Request().URL.Path),
			logx.Int("status", c.Response().Status),
			logx.Duration("took", time.Since(start)),
		)
		return err
	}
}
