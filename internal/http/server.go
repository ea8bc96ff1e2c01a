// Package http provides the HTTP API for knowd.
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
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/knowd/internal/answer"
	"github.com/fyrsmithlabs/knowd/internal/ingest"
	"github.com/fyrsmithlabs/knowd/internal/services"
	"github.com/fyrsmithlabs/knowd/internal/vectorstore"
)

// TenantHeader carries the caller's tenant identifier. Every /api/v1
// route requires it; there is no default tenant.
const TenantHeader = "X-Tenant-ID"

// Server provides HTTP endpoints for knowd.
type Server struct {
	echo     *echo.Echo
	registry services.Registry
	logger   *zap.Logger
	config   *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host         string
	Port         int
	MaxBodyBytes int64
}

// NewServer creates a new HTTP server.
func NewServer(registry services.Registry, logger *zap.Logger, cfg *Config) (*Server, error) {
	if registry == nil {
		return nil, fmt.Errorf("registry cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	if cfg.MaxBodyBytes > 0 {
		e.Use(middleware.BodyLimit(strconv.FormatInt(cfg.MaxBodyBytes, 10)))
	}
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
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
		echo:     e,
		registry: registry,
		logger:   logger,
		config:   cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	// Health check
	s.echo.GET("/health", s.handleHealth)

	// API v1 routes, all tenant-scoped
	v1 := s.echo.Group("/api/v1", s.requireTenant)
	v1.POST("/ingest", s.handleIngest)
	v1.POST("/query", s.handleQuery)
}

// requireTenant extracts the tenant header and stamps tenant identity
// into the request context. Requests without a tenant are rejected here,
// before any service runs.
func (s *Server) requireTenant(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		tenantID := c.Request().Header.Get(TenantHeader)
		if tenantID == "" {
			return echo.NewHTTPError(http.StatusBadRequest,
				fmt.Sprintf("%s header is required", TenantHeader))
		}

		ctx := vectorstore.ContextWithTenant(c.Request().Context(),
			&vectorstore.TenantInfo{TenantID: tenantID})
		c.SetRequest(c.Request().WithContext(ctx))
		c.Set("tenant_id", tenantID)
		return next(c)
	}
}

// DocumentPayload is one document in an ingestion request.
type DocumentPayload struct {
	Filename string `json:"filename"`
	Text     string `json:"text"`
}

// IngestRequest is the request body for POST /api/v1/ingest.
type IngestRequest struct {
	Documents []DocumentPayload `json:"documents"`
}

// QueryRequest is the request body for POST /api/v1/query. MaxResults
// bounds retrieved chunks; zero means the server default.
type QueryRequest struct {
	Query      string `json:"query"`
	MaxResults int    `json:"maxResults"`
}

// IngestResponse is the success envelope for POST /api/v1/ingest.
type IngestResponse struct {
	Success    bool            `json:"success"`
	Results    []ingest.Result `json:"results"`
	TotalFiles int             `json:"totalFiles"`
}

// QueryResponse is the success envelope for POST /api/v1/query. The
// question is echoed back so responses are self-describing.
type QueryResponse struct {
	Success  bool            `json:"success"`
	Query    string          `json:"query"`
	Answer   string          `json:"answer"`
	Sources  []answer.Source `json:"sources"`
	Metadata answer.Metadata `json:"metadata"`
}

// ErrorResponse is the body for all error replies.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status string `json:"status"`
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok"})
}

// handleIngest indexes the posted documents for the request's tenant.
func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "invalid request body",
		})
	}
	if len(req.Documents) == 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "documents field is required",
		})
	}

	docs := make([]ingest.Document, len(req.Documents))
	for i, d := range req.Documents {
		docs[i] = ingest.Document{Filename: d.Filename, Text: d.Text}
	}

	tenantID := c.Get("tenant_id").(string)
	report, err := s.registry.Ingest().Ingest(c.Request().Context(), tenantID, docs)
	if err != nil {
		s.logger.Error("ingestion failed",
			zap.String("tenant_id", tenantID),
			zap.Error(err),
		)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "ingestion_failed",
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, IngestResponse{
		Success:    true,
		Results:    report.Results,
		TotalFiles: report.TotalFiles,
	})
}

// handleQuery answers a question from the tenant's indexed documents.
func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "invalid request body",
		})
	}

	if req.MaxResults < 0 {
		return c.JSON(http.StatusBadRequest, ErrorResponse{
			Error:   "bad_request",
			Message: "maxResults must not be negative",
		})
	}

	ans, err := s.registry.Answer().Ask(c.Request().Context(), req.Query, req.MaxResults)
	if err != nil {
		if errors.Is(err, answer.ErrEmptyQuery) {
			return c.JSON(http.StatusBadRequest, ErrorResponse{
				Error:   "bad_request",
				Message: "query field is required",
			})
		}
		s.logger.Error("query failed",
			zap.String("tenant_id", c.Get("tenant_id").(string)),
			zap.Error(err),
		)
		return c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error:   "query_failed",
			Message: err.Error(),
		})
	}

	return c.JSON(http.StatusOK, QueryResponse{
		Success:  true,
		Query:    req.Query,
		Answer:   ans.Text,
		Sources:  ans.Sources,
		Metadata: ans.Metadata,
	})
}

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
