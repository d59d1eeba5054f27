// Package api exposes the engine over HTTP.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/NevoLevi/mini-project-cdss/internal/config"
	"github.com/NevoLevi/mini-project-cdss/internal/knowledge"
	"github.com/NevoLevi/mini-project-cdss/internal/metrics"
	"github.com/NevoLevi/mini-project-cdss/internal/service"
)

// Server represents the HTTP server
type Server struct {
	configManager *config.Manager
	logger        *logrus.Logger
	engine        *service.Engine
	kb            *knowledge.Provider
	router        *gin.Engine
	server        *http.Server
}

// NewServer creates a new HTTP server instance
func NewServer(configManager *config.Manager, logger *logrus.Logger, engine *service.Engine, kb *knowledge.Provider) *Server {
	cfg := configManager.GetConfig()

	// Set Gin mode based on environment
	if cfg.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	// Add middleware
	router.Use(gin.Recovery())
	router.Use(requestIDMiddleware())
	router.Use(loggingMiddleware(logger))
	router.Use(metricsMiddleware())
	router.Use(rateLimitMiddleware(cfg.RateLimit))

	server := &Server{
		configManager: configManager,
		logger:        logger,
		engine:        engine,
		kb:            kb,
		router:        router,
	}

	// Setup routes
	server.setupRoutes()

	return server
}

// Start starts the HTTP server and blocks until ctx is cancelled, then
// shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)
	s.router.GET("/metrics", gin.WrapH(metrics.Handler()))

	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/patients", s.handleListPatients)
		v1.GET("/cohort", s.handleFindPatients)
		v1.GET("/status", s.handleStatus)
		v1.GET("/states", s.handleAllStates)

		v1.GET("/patients/:id/values/:param", s.handleLatestValue)
		v1.GET("/patients/:id/history/:param", s.handleHistory)
		v1.POST("/patients/:id/measurements", s.handleRecord)
		v1.PUT("/patients/:id/measurements", s.handleUpdate)
		v1.DELETE("/patients/:id/measurements", s.handleDelete)

		v1.GET("/patients/:id/states", s.handlePatientStates)
		v1.GET("/patients/:id/intervals/:state", s.handleStateIntervals)
		v1.GET("/patients/:id/recommendation", s.handleRecommendation)

		v1.GET("/knowledge", s.handleGetKnowledge)
		v1.PUT("/knowledge/tables/:name", s.handlePutTable)
		v1.PUT("/knowledge/treatments", s.handlePutTreatments)
		v1.PUT("/knowledge/validity-periods", s.handlePutValidityPeriods)
	}
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"timestamp": time.Now(),
		"version":   "1.0.0",
	})
}
