// Package http provides the HTTP API for agentloop.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/agentloop/internal/agent"
	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"github.com/fyrsmithlabs/agentloop/internal/memory"
)

const (
	defaultEpisodeLimit = 5
	maxEpisodeLimit     = 50
)

// Runner starts and resumes runs. *orchestrator.Orchestrator implements it.
type Runner interface {
	Run(ctx context.Context, task agent.Task, exec agent.Executor) (*agent.Result, error)
	Resume(ctx context.Context, checkpointID, clarification string, exec agent.Executor) (*agent.Result, error)
	ResumeConversation(ctx context.Context, conversationID, clarification string, exec agent.Executor) (*agent.Result, error)
}

// Store exposes stored runs and episodes. *memory.Manager implements it.
type Store interface {
	ListCheckpoints(ctx context.Context) ([]memory.CheckpointInfo, error)
	LoadCheckpoint(ctx context.Context, checkpointID string) (*agent.State, agent.RunConfig, error)
	SearchEpisodes(ctx context.Context, taskType, query string, k int) ([]memory.ScoredEpisode, error)
}

// Server provides HTTP endpoints for agentloop.
type Server struct {
	echo   *echo.Echo
	runner Runner
	store  Store
	exec   agent.Executor
	logger *logging.Logger
	config *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server. Every run started through it uses
// exec as its tool executor.
func NewServer(runner Runner, store Store, exec agent.Executor, logger *logging.Logger, cfg *Config) (*Server, error) {
	if runner == nil {
		return nil, fmt.Errorf("runner cannot be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if exec == nil {
		return nil, fmt.Errorf("executor cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 9090,
		}
	}
	logger = logger.Named("http")

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(NewHTTPMetrics(logger).MetricsMiddleware())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info(c.Request().Context(), "http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:   e,
		runner: runner,
		store:  store,
		exec:   exec,
		logger: logger,
		config: cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	// API v1 routes
	v1 := s.echo.Group("/api/v1")
	v1.POST("/runs", s.handleRun)
	v1.POST("/runs/resume", s.handleResume)
	v1.GET("/tools", s.handleTools)
	v1.GET("/checkpoints", s.handleListCheckpoints)
	v1.GET("/checkpoints/:id", s.handleGetCheckpoint)
	v1.GET("/episodes", s.handleSearchEpisodes)
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleRun runs a task to completion within the request. A client that
// disconnects aborts the run at the next iteration boundary; the run is
// checkpointed and can be resumed.
func (s *Server) handleRun(c echo.Context) error {
	var req RunRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid run request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Goal == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "goal field is required")
	}

	task := agent.Task{
		Goal:           req.Goal,
		Type:           req.Type,
		ConversationID: req.ConversationID,
		Metadata:       req.Metadata,
	}
	res, err := s.runner.Run(c.Request().Context(), task, s.exec)
	return s.writeResult(c, res, err)
}

// handleResume continues a run by checkpoint or conversation id.
func (s *Server) handleResume(c echo.Context) error {
	var req ResumeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid resume request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if (req.CheckpointID == "") == (req.ConversationID == "") {
		return echo.NewHTTPError(http.StatusBadRequest, "exactly one of checkpoint_id and conversation_id is required")
	}

	ctx := c.Request().Context()
	var (
		res *agent.Result
		err error
	)
	if req.ConversationID != "" {
		res, err = s.runner.ResumeConversation(ctx, req.ConversationID, req.Clarification, s.exec)
	} else {
		res, err = s.runner.Resume(ctx, req.CheckpointID, req.Clarification, s.exec)
	}
	return s.writeResult(c, res, err)
}

// writeResult always includes the result, which is complete even when the
// run returned an error.
func (s *Server) writeResult(c echo.Context, res *agent.Result, err error) error {
	if err == nil {
		return c.JSON(http.StatusOK, RunResponse{Result: res})
	}
	code := resultStatusCode(res, err)
	if code >= http.StatusInternalServerError {
		s.logger.Error(c.Request().Context(), "run failed", zap.Error(err))
	}
	return c.JSON(code, RunResponse{Result: res, Error: err.Error()})
}

func resultStatusCode(res *agent.Result, err error) int {
	switch {
	case errors.Is(err, agent.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, agent.ErrPersistence), res != nil && res.Reason == agent.ReasonPersistenceFailure:
		return http.StatusInternalServerError
	case errors.Is(err, agent.ErrBudgetExhausted):
		return http.StatusConflict
	case res == nil || res.RunID == "":
		// Not started: invalid input or missing wiring.
		return http.StatusBadRequest
	default:
		// The checkpoint belongs to a run that already ended.
		return http.StatusConflict
	}
}

func (s *Server) handleTools(c echo.Context) error {
	tools, err := s.exec.Tools(c.Request().Context())
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to list tools", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "tool catalog unavailable")
	}
	return c.JSON(http.StatusOK, ToolsResponse{Tools: tools})
}

func (s *Server) handleListCheckpoints(c echo.Context) error {
	infos, err := s.store.ListCheckpoints(c.Request().Context())
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to list checkpoints", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to list checkpoints")
	}
	if infos == nil {
		infos = []memory.CheckpointInfo{}
	}
	return c.JSON(http.StatusOK, CheckpointsResponse{Checkpoints: infos})
}

func (s *Server) handleGetCheckpoint(c echo.Context) error {
	id := c.Param("id")
	state, cfg, err := s.store.LoadCheckpoint(c.Request().Context(), id)
	if errors.Is(err, agent.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("checkpoint %s not found", id))
	}
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to load checkpoint", zap.String("checkpoint_id", id), zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to load checkpoint")
	}
	return c.JSON(http.StatusOK, CheckpointResponse{ID: id, State: state, Config: cfg})
}

// handleSearchEpisodes serves GET /api/v1/episodes?query=...&type=...&limit=...
func (s *Server) handleSearchEpisodes(c echo.Context) error {
	query := c.QueryParam("query")
	if query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query parameter is required")
	}
	limit := defaultEpisodeLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		limit = min(n, maxEpisodeLimit)
	}

	eps, err := s.store.SearchEpisodes(c.Request().Context(), c.QueryParam("type"), query, limit)
	if err != nil {
		s.logger.Error(c.Request().Context(), "failed to search episodes", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to search episodes")
	}
	if eps == nil {
		eps = []memory.ScoredEpisode{}
	}
	return c.JSON(http.StatusOK, EpisodesResponse{Episodes: eps})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
