// Package api serves the alert engine's HTTP surface: health, Prometheus
// metrics, the alerting schema and the tenant alert endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sensorhub/alert-engine/internal/datastore/entities"
	"github.com/sensorhub/alert-engine/internal/datastore/repository"
	"github.com/sensorhub/alert-engine/internal/errors"
	"github.com/sensorhub/alert-engine/internal/logger"
)

const shutdownTimeout = 10 * time.Second

// AlertService is the alert instance surface exposed over HTTP.
type AlertService interface {
	List(ctx context.Context, filter repository.AlertInstanceFilter) ([]entities.AlertInstance, int64, error)
	Get(ctx context.Context, tenantID, id string) (*entities.AlertInstance, error)
	Acknowledge(ctx context.Context, tenantID, id, by string) (*entities.AlertInstance, error)
	Resolve(ctx context.Context, tenantID, id, reason string) (*entities.AlertInstance, error)
}

// Config holds the server's collaborators.
type Config struct {
	Listen   string
	Alerts   AlertService
	Gatherer prometheus.Gatherer
	// Ping reports database health for /healthz. Optional.
	Ping func(ctx context.Context) error
	Log  logger.Logger
}

// Server is the HTTP API server.
type Server struct {
	echo   *echo.Echo
	listen string
	log    logger.Logger
}

// NewServer builds the echo instance and registers all routes.
func NewServer(cfg Config) *Server {
	if cfg.Log == nil {
		cfg.Log = logger.NewNop()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = prometheus.DefaultGatherer
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())

	s := &Server{
		echo:   e,
		listen: cfg.Listen,
		log:    cfg.Log.Module("api"),
	}

	e.GET("/healthz", healthHandler(cfg.Ping))
	e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(cfg.Gatherer, promhttp.HandlerOpts{})))

	c := &Controller{alerts: cfg.Alerts, log: s.log}
	c.initRoutes(e.Group("/api/v1"))
	return s
}

// Handler returns the underlying HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("api server listening", logger.String("listen", s.listen))
		if err := s.echo.Start(s.listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return errors.Wrap(err).
				Component("api").
				Category(errors.CategoryNetwork).
				Context("listen", s.listen).
				Build()
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.echo.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err).Component("api").Category(errors.CategoryNetwork).Build()
	}
	// Drain the listener goroutine.
	<-errCh
	s.log.Info("api server stopped")
	return nil
}

func healthHandler(ping func(context.Context) error) echo.HandlerFunc {
	return func(c echo.Context) error {
		if ping != nil {
			if err := ping(c.Request().Context()); err != nil {
				return c.JSON(http.StatusServiceUnavailable, map[string]string{
					"status": "unavailable",
					"error":  err.Error(),
				})
			}
		}
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	}
}
