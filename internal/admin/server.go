// Package admin provides the thin operational HTTP surface around the
// core engine: stats and health only. Domain routing, auth, and rate
// limiting belong to a transport layer outside the core.
package admin

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cacack/eventstore/internal/config"
	"github.com/cacack/eventstore/internal/core"
	"github.com/cacack/eventstore/internal/integrity"
)

// Server wraps the Echo server exposing the engine's stats and the
// result of a lenient integrity verification run on each health check.
type Server struct {
	echo   *echo.Echo
	config *config.Config
	engine *core.Engine
}

// NewServer creates the admin server around engine.
func NewServer(cfg *config.Config, engine *core.Engine) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.LogFormat == "json" {
		e.Use(middleware.LoggerWithConfig(middleware.LoggerConfig{
			Format: `{"time":"${time_rfc3339}","id":"${id}","method":"${method}","uri":"${uri}","status":${status},"latency":"${latency_human}"}` + "\n",
		}))
	} else {
		e.Use(middleware.Logger())
	}

	s := &Server{echo: e, config: cfg, engine: engine}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.echo.GET("/healthz", s.healthz)
	s.echo.GET("/stats", s.stats)
}

func (s *Server) healthz(c echo.Context) error {
	report, err := s.engine.Verify(integrity.Lenient)
	if err != nil {
		return c.JSON(http.StatusServiceUnavailable, map[string]any{"status": "error", "error": err.Error()})
	}
	status := "ok"
	if len(report.Quarantined) > 0 {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, map[string]any{
		"status":      status,
		"quarantined": report.Quarantined,
	})
}

func (s *Server) stats(c echo.Context) error {
	return c.JSON(http.StatusOK, s.engine.Stats())
}

// Start runs the admin HTTP server, blocking until it stops.
func (s *Server) Start() error {
	port := s.config.Port
	if port <= 0 {
		port = 8080
	}
	return s.echo.Start(fmt.Sprintf(":%d", port))
}

// Shutdown gracefully stops the admin HTTP server.
func (s *Server) Shutdown() error {
	return s.echo.Shutdown(context.Background())
}
