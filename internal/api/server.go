// Package api exposes the chat webhooks and problem insights over HTTP.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/timeprofiler/internal/chatbot"
	"github.com/timeprofiler/internal/platform/web"
	"github.com/timeprofiler/internal/problems"
)

// maxBodyBytes caps inbound webhook bodies.
const maxBodyBytes = 1 << 20

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Deps wires the server to the engine. Web and Health are optional.
type Deps struct {
	Engine     *chatbot.Engine
	Aggregator *problems.Aggregator
	Web        *web.Adapter
	Health     Pinger
}

// Server represents the API server
type Server struct {
	echo *echo.Echo
	addr string
	deps Deps
}

// NewServer creates a new API server
func NewServer(addr string, deps Deps) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(requestLogger())

	server := &Server{
		echo: e,
		addr: addr,
		deps: deps,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// setupRoutes configures all API endpoints
func (s *Server) setupRoutes() {
	s.echo.GET("/health", s.health)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 group
	v1 := s.echo.Group("/api/v1")

	v1.POST("/chat/:platform", s.handleChat)
	v1.GET("/chat/web/:user_id/responses", s.webResponses)
	v1.GET("/problems/trending", s.trendingProblems)
}

// Start serves until ctx is cancelled, then shuts down within shutdownTimeout.
func (s *Server) Start(ctx context.Context, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.addr).Msg("HTTP server listening")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.echo.Shutdown(shutdownCtx)
}

func (s *Server) health(c echo.Context) error {
	if s.deps.Health != nil {
		if err := s.deps.Health.PingContext(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func requestLogger() echo.MiddlewareFunc {
	return middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:      true,
		LogMethod:   true,
		LogStatus:   true,
		LogLatency:  true,
		LogError:    true,
		LogRemoteIP: true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			ev := log.Info()
			if v.Error != nil || v.Status >= http.StatusInternalServerError {
				ev = log.Error().Err(v.Error)
			}
			ev.Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Dur("latency", v.Latency).
				Str("remote_ip", v.RemoteIP).
				Msg("HTTP request")
			return nil
		},
	})
}
