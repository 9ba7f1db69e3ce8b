// Package server exposes the runtime engine over HTTP: a REST surface
// for world, agent and chat management plus SSE streams for world events
// and process logs.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/pkg/errors"

	"github.com/hrygo/agentworld/engine"
	"github.com/hrygo/agentworld/engine/metrics"
	"github.com/hrygo/agentworld/internal/profile"
	"github.com/hrygo/agentworld/internal/version"
	"github.com/hrygo/agentworld/store"
)

type Server struct {
	e *echo.Echo

	Profile  *profile.Profile
	Manager  *engine.Manager
	exporter *metrics.Exporter
}

func New(p *profile.Profile, mgr *engine.Manager, exporter *metrics.Exporter) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(requestLogger())

	s := &Server{
		e:        e,
		Profile:  p,
		Manager:  mgr,
		exporter: exporter,
	}

	e.GET("/healthz", s.health)
	if exporter != nil {
		e.GET("/metrics", echo.WrapHandler(exporter.Handler()))
	}

	api := e.Group("/api/v1")
	s.registerWorldRoutes(api)
	s.registerAgentRoutes(api)
	s.registerChatRoutes(api)
	s.registerStreamRoutes(api)

	return s
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
	errCh := make(chan error, 1)
	go func() {
		if err := s.e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	slog.Info("server listening", "address", addr, "version", version.GetCurrentVersion(s.Profile.Mode))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.e.Shutdown(shutdownCtx)
}

// Echo exposes the router, mainly for tests.
func (s *Server) Echo() *echo.Echo {
	return s.e
}

func (s *Server) health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "ok",
		"version": version.GetCurrentVersion(s.Profile.Mode),
	})
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:     true,
		LogStatus:  true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(_ echo.Context, v middleware.RequestLoggerValues) error {
			slog.Info("http request",
				"category", "http",
				"method", v.Method,
				"uri", v.URI,
				"status", v.Status,
				"latency", v.Latency.String())
			return nil
		},
	})
}

// httpError maps engine error kinds onto status codes.
func httpError(err error) error {
	switch {
	case store.IsValidation(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, store.ErrConflict):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}
