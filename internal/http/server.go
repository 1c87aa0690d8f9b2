package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/vizloop/internal/approval"
)

// Server exposes pending approvals to operators.
type Server struct {
	echo     *echo.Echo
	approver *approval.ChannelApprover
	metrics  *HTTPMetrics
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server over the given approver.
func NewServer(approver *approval.ChannelApprover, logger *zap.Logger, cfg *Config) (*Server, error) {
	if approver == nil {
		return nil, fmt.Errorf("approver cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 7070,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	metrics := NewHTTPMetrics(logger)
	e.Use(metrics.MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			logger.Debug("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:     e,
		approver: approver,
		metrics:  metrics,
		logger:   logger,
		config:   cfg,
	}
	s.registerRoutes()

	return s, nil
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.GET("/approvals", s.handleList)
	v1.GET("/approvals/:id", s.handleGet)
	v1.POST("/approvals/:id", s.handleDecide)
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Pending: len(s.approver.Pending())})
}

func (s *Server) handleList(c echo.Context) error {
	return c.JSON(http.StatusOK, PendingResponse{Requests: s.approver.Pending()})
}

func (s *Server) handleGet(c echo.Context) error {
	req, ok := s.approver.Get(c.Param("id"))
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no pending approval request with that id")
	}
	return c.JSON(http.StatusOK, req)
}

func (s *Server) handleDecide(c echo.Context) error {
	id := c.Param("id")

	var body DecisionRequest
	if err := c.Bind(&body); err != nil {
		s.logger.Warn("invalid decision request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if body.Approved == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "approved field is required")
	}

	d := approval.Decision{
		Approved:  *body.Approved,
		Reason:    body.Reason,
		Source:    approval.SourceOperator,
		DecidedAt: time.Now().UTC(),
	}
	if err := s.approver.Decide(id, d); err != nil {
		if errors.Is(err, approval.ErrUnknownRequest) {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return err
	}

	s.metrics.RecordDecision(c.Request().Context(), d.Approved)
	s.logger.Info("operator decision received",
		zap.String("request_id", id),
		zap.Bool("approved", d.Approved),
		zap.String("reason", d.Reason))
	return c.JSON(http.StatusOK, DecisionResponse{ID: id, Decision: d})
}

// Addr returns the listen address. Once Listen has bound, it is the bound
// address, so a configured port of 0 resolves to the real port.
func (s *Server) Addr() string {
	if s.echo.Listener != nil {
		return s.echo.Listener.Addr().String()
	}
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}

// Listen binds the listen address without serving, so bind errors surface
// before Start runs in the background.
func (s *Server) Listen() error {
	if s.echo.Listener != nil {
		return nil
	}
	ln, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return fmt.Errorf("binding approval server on %s: %w", s.Addr(), err)
	}
	s.echo.Listener = ln
	return nil
}

// Start starts the HTTP server, on the listener bound by Listen when there
// is one. It returns http.ErrServerClosed after Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting approval server", zap.String("addr", s.Addr()))
	return s.echo.Start(s.Addr())
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down approval server")
	return s.echo.Shutdown(ctx)
}
