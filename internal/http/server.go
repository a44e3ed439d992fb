// Package http provides the HTTP API for coachd.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/coachd/internal/breaker"
	"github.com/fyrsmithlabs/coachd/internal/complexity"
	"github.com/fyrsmithlabs/coachd/internal/logging"
	"github.com/fyrsmithlabs/coachd/internal/message"
	"github.com/fyrsmithlabs/coachd/internal/orchestrator"
	"github.com/fyrsmithlabs/coachd/internal/phase"
)

// HeaderUserID identifies the candidate starting a session.
const HeaderUserID = "X-User-ID"

// Coach is the orchestrator surface the API exposes.
type Coach interface {
	StartInterview(ctx context.Context, id, userID string, c complexity.Context) (*orchestrator.StartResult, error)
	HandleUserResponse(ctx context.Context, id, utterance string, responseTime time.Duration) (*orchestrator.TurnResult, error)
	Transition(ctx context.Context, id string, target phase.Phase, trigger phase.Trigger) (*orchestrator.TurnResult, error)
	EndInterview(ctx context.Context, id string) (*orchestrator.Summary, error)
	Status(ctx context.Context, id string) (*orchestrator.Status, error)
	HandleMessage(ctx context.Context, msg message.Message) error
	Resident() int
}

// Server provides HTTP endpoints for coachd.
type Server struct {
	echo     *echo.Echo
	coach    Coach
	breakers *breaker.Registry
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host    string
	Port    int
	Version string
}

// Option customizes a Server.
type Option func(*Server)

// WithHTTPMetrics records request metrics.
func WithHTTPMetrics(m *HTTPMetrics) Option {
	return func(s *Server) { s.echo.Use(m.MetricsMiddleware()) }
}

// WithPrometheus serves g on GET /metrics.
func WithPrometheus(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.echo.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(g, promhttp.HandlerOpts{})))
	}
}

// NewServer creates a new HTTP server.
func NewServer(coach Coach, breakers *breaker.Registry, logger *zap.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if coach == nil {
		return nil, fmt.Errorf("coach cannot be nil")
	}
	if breakers == nil {
		return nil, fmt.Errorf("breaker registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "127.0.0.1",
			Port: 9191,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(requestContext)
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			if err != nil {
				c.Error(err)
			}

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)
			return nil
		}
	})

	s := &Server{
		echo:     e,
		coach:    coach,
		breakers: breakers,
		logger:   logger,
		config:   cfg,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.registerRoutes()
	return s, nil
}

// requestContext carries the request id into the handler context.
func requestContext(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		id := c.Response().Header().Get(echo.HeaderXRequestID)
		if logging.ValidateID(id, "request id") == nil {
			req := c.Request()
			c.SetRequest(req.WithContext(logging.WithRequestID(req.Context(), id)))
		}
		return next(c)
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	v1 := s.echo.Group("/api/v1")
	v1.GET("/breakers", s.handleBreakers)
	v1.POST("/breakers/open", s.handleForceBreakers(true))
	v1.POST("/breakers/close", s.handleForceBreakers(false))

	v1.POST("/messages", s.handleMessage)

	sessions := v1.Group("/sessions")
	sessions.POST("", s.handleStart)
	sessions.GET("/:id", s.handleStatus)
	sessions.POST("/:id/responses", s.handleResponse)
	sessions.POST("/:id/transitions", s.handleTransition)
	sessions.POST("/:id/end", s.handleEnd)
}

func (s *Server) handleHealth(c echo.Context) error {
	h := s.breakers.HealthSummary()
	status := "ok"
	if len(h.Failed) > 0 || len(h.Degraded) > 0 {
		status = "degraded"
	}
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   status,
		Version:  s.config.Version,
		Sessions: s.coach.Resident(),
		Breakers: h,
	})
}

func (s *Server) handleBreakers(c echo.Context) error {
	return c.JSON(http.StatusOK, s.breakers.Stats())
}

func (s *Server) handleForceBreakers(open bool) echo.HandlerFunc {
	return func(c echo.Context) error {
		if open {
			s.breakers.ForceOpenAll()
		} else {
			s.breakers.ForceCloseAll()
		}
		s.logger.Warn("breakers forced", zap.Bool("open", open))
		return c.JSON(http.StatusOK, s.breakers.HealthSummary())
	}
}

func (s *Server) handleStart(c echo.Context) error {
	userID := c.Request().Header.Get(HeaderUserID)
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, HeaderUserID+" header is required")
	}
	if err := logging.ValidateID(userID, "user id"); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	var req StartRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid start request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.InterviewType == "" || req.Level == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "interview_type and level are required")
	}

	res, err := s.coach.StartInterview(c.Request().Context(), req.SessionID, userID, req.context())
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusCreated, res)
}

func (s *Server) handleStatus(c echo.Context) error {
	st, err := s.coach.Status(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, st)
}

func (s *Server) handleResponse(c echo.Context) error {
	var req ResponseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Utterance == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "utterance field is required")
	}
	if req.ResponseTimeMS < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "response_time_ms cannot be negative")
	}

	res, err := s.coach.HandleUserResponse(c.Request().Context(), c.Param("id"), req.Utterance,
		time.Duration(req.ResponseTimeMS)*time.Millisecond)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleTransition(c echo.Context) error {
	var req TransitionRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	target := phase.Phase(req.Target)
	if !target.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("unknown phase %q", req.Target))
	}
	trigger := phase.TriggerManual
	if req.Trigger != "" {
		trigger = phase.Trigger(req.Trigger)
	}

	res, err := s.coach.Transition(c.Request().Context(), c.Param("id"), target, trigger)
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (s *Server) handleEnd(c echo.Context) error {
	sum, err := s.coach.EndInterview(c.Request().Context(), c.Param("id"))
	if err != nil {
		return toHTTPError(err)
	}
	return c.JSON(http.StatusOK, sum)
}

// handleMessage accepts a collaborator reply delivered over HTTP.
func (s *Server) handleMessage(c echo.Context) error {
	var msg message.Message
	if err := c.Bind(&msg); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid message")
	}
	if err := s.coach.HandleMessage(c.Request().Context(), msg); err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrUnexpectedMessage):
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		case errors.Is(err, message.ErrMalformed):
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return toHTTPError(err)
	}
	return c.NoContent(http.StatusAccepted)
}

// toHTTPError maps orchestrator errors to status codes.
func toHTTPError(err error) error {
	switch {
	case errors.Is(err, orchestrator.ErrSessionNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, orchestrator.ErrSessionExists),
		errors.Is(err, orchestrator.ErrSessionEnded),
		errors.Is(err, orchestrator.ErrIllegalTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	case errors.Is(err, orchestrator.ErrInvalidSessionID):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error").SetInternal(err)
	}
}

// Handler returns the router for embedding in tests or another server.
func (s *Server) Handler() http.Handler { return s.echo }

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
