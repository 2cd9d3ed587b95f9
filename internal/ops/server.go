// Package ops serves the operational HTTP endpoints: liveness/readiness
// probes and Prometheus metrics.
package ops

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	isync "mailpilot/internal/sync"
)

// Pinger reports whether the persistence layer is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PollerStatus exposes the poller snapshot for health responses.
type PollerStatus interface {
	Status() isync.Status
}

// Server is the ops HTTP server.
type Server struct {
	echo   *echo.Echo
	addr   string
	store  Pinger
	poller PollerStatus
	logger zerolog.Logger
}

// NewServer wires the ops routes.
func NewServer(addr string, store Pinger, poller PollerStatus, logger zerolog.Logger) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:   e,
		addr:   addr,
		store:  store,
		poller: poller,
		logger: logger.With().Str("component", "ops").Logger(),
	}

	e.GET("/healthz", s.healthz)
	e.GET("/readyz", s.readyz)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	return s
}

// Start runs the server in the background.
func (s *Server) Start() {
	go func() {
		s.logger.Info().Str("addr", s.addr).Msg("Ops server listening")
		if err := s.echo.Start(s.addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Ops server stopped unexpectedly")
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// healthz reports process health: the store must be reachable. The poller
// snapshot is included for operators.
func (s *Server) healthz(c echo.Context) error {
	status := s.poller.Status()

	if err := s.store.Ping(c.Request().Context()); err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{
			"status": "unhealthy",
			"error":  err.Error(),
			"poller": status,
		})
	}

	return c.JSON(http.StatusOK, map[string]any{
		"status": "ok",
		"poller": status,
	})
}

// readyz reports readiness: the poller loop must be running.
func (s *Server) readyz(c echo.Context) error {
	if !s.poller.Status().Running {
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "not ready"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ready"})
}
