// Package http provides the HTTP adapter for the application layer.
// This is a thin layer that translates HTTP requests to application service calls.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/garyjia/payapp-engine/internal/application/port"
	"github.com/garyjia/payapp-engine/internal/application/service"
	"github.com/garyjia/payapp-engine/internal/application/workflow"
)

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host              string
	Port              int
	Mode              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ShutdownTimeout   time.Duration
	RateLimitEnabled  bool
	RequestsPerSecond float64
	Burst             int
}

// DefaultServerConfig returns default server configuration
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		Host:              "0.0.0.0",
		Port:              8080,
		Mode:              gin.ReleaseMode,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		RateLimitEnabled:  true,
		RequestsPerSecond: 10,
		Burst:             20,
	}
}

// WriterLookup resolves a certificate writer by format name. An empty name
// selects the default format.
type WriterLookup func(format string) (port.CertificateWriter, bool)

// HealthFunc reports readiness and component detail for /health
type HealthFunc func() (healthy bool, detail interface{})

// Services are the application entry points the API exposes
type Services struct {
	Ledger     service.LedgerService
	Expense    service.ExpenseService
	Settlement service.SettlementService
	Workflow   workflow.ReviewWorkflow
	Writers    WriterLookup
	Health     HealthFunc
}

// Server is the HTTP server adapter
type Server struct {
	config     ServerConfig
	httpServer *http.Server
	router     *gin.Engine
	services   Services
	logger     *zap.Logger
}

// NewServer creates a new HTTP server with the given services
func NewServer(config ServerConfig, services Services, logger *zap.Logger) *Server {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	server := &Server{
		config:   config,
		router:   gin.New(),
		services: services,
		logger:   logger,
	}

	server.setupMiddleware()
	server.setupRoutes()

	return server
}

// setupMiddleware configures middleware for the router
func (s *Server) setupMiddleware() {
	s.router.Use(gin.Recovery())
	s.router.Use(RequestIDMiddleware())
	s.router.Use(LoggingMiddleware(s.logger))
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() {
	h := NewHandlers(s.services, s.logger)

	s.router.GET("/health", h.HealthCheck)

	api := s.router.Group("/api/v1")
	api.Use(AuthMiddleware())
	if s.config.RateLimitEnabled {
		api.Use(NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst).Middleware())
	}

	// Schedule of values
	api.GET("/projects", h.ListProjects)
	api.POST("/projects", h.CreateProject)
	api.GET("/projects/:id", h.GetProject)
	api.GET("/projects/:id/summary", h.ProjectSummary)
	api.GET("/projects/:id/line-items", h.ListLineItems)
	api.PUT("/line-items/:id/materials", h.SetMaterialsStored)

	// Expenses
	api.GET("/line-items/:id/expenses", h.ListExpenses)
	api.POST("/line-items/:id/expenses", h.AddExpense)
	api.POST("/expenses/:id/approve", h.ApproveExpense)
	api.POST("/expenses/:id/reject", h.RejectExpense)
	api.POST("/expenses/:id/reverse", h.ReverseExpense)

	// Review workflow
	api.GET("/projects/:id/applications", h.ListApplications)
	api.POST("/projects/:id/applications", h.CreateApplication)
	api.GET("/applications/:id", h.GetApplication)
	api.PUT("/applications/:id/reviewers", h.SetReviewerChain)
	api.POST("/applications/:id/submit", h.Submit)
	api.POST("/applications/:id/approve", h.Approve)
	api.POST("/applications/:id/request-changes", h.RequestChanges)
	api.POST("/applications/:id/finalize", h.Finalize)
	api.GET("/applications/:id/history", h.History)
	api.GET("/applications/:id/triggers", h.PermittedTriggers)

	// Settlement
	api.GET("/applications/:id/certificate", h.Certificate)
	api.GET("/applications/:id/certificate/download", h.DownloadCertificate)
}

// Start starts the HTTP server and blocks until ctx is cancelled
func (s *Server) Start(ctx context.Context) error {
	addr := s.Address()

	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
	}

	s.logger.Info("Starting HTTP server", zap.String("address", addr))

	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("HTTP server shutdown requested")
		return s.Stop()
	case err := <-errCh:
		s.logger.Error("HTTP server error", zap.Error(err))
		return err
	}
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}

	s.logger.Info("Stopping HTTP server")

	timeout := s.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Error("HTTP server shutdown error", zap.Error(err))
		return err
	}

	s.logger.Info("HTTP server stopped")
	return nil
}

// Router returns the underlying gin router (for testing)
func (s *Server) Router() *gin.Engine {
	return s.router
}

// Address returns the server address
func (s *Server) Address() string {
	return fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
}
