// Package server exposes the assistant over HTTP: a gin JSON API for
// utterances, tasks, recommendations, feedback, analytics, and store
// administration, plus a websocket stream of pipeline progress events and
// the Prometheus scrape endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"genie/internal/calendar"
	"genie/internal/config"
	"genie/internal/llm"
	"genie/internal/observability"
	"genie/internal/pipeline"
	"genie/internal/shared/logging"
	"genie/internal/store"
)

// Deps carries the server's collaborators.
type Deps struct {
	Config   config.Config
	Pipeline *pipeline.Pipeline
	Store    *store.FileStore
	Calendar calendar.Client
	LLM      llm.Client
	Hub      *EventHub
	Metrics  *observability.Metrics
	Logger   logging.Logger
	Version  string
}

// Server serves the HTTP API.
type Server struct {
	deps   Deps
	engine *gin.Engine
	http   *http.Server
	logger logging.Logger
	start  time.Time
}

// New builds the router and the underlying HTTP server.
func New(deps Deps) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	s := &Server{
		deps:   deps,
		engine: engine,
		logger: logging.OrNop(deps.Logger),
		start:  time.Now(),
	}

	engine.Use(gin.Recovery())
	engine.Use(s.observe())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowAllOrigins = true
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization"}
	corsConfig.AllowWebSockets = true
	engine.Use(cors.New(corsConfig))

	s.routes()

	s.http = &http.Server{
		Addr:        fmt.Sprintf("%s:%d", deps.Config.Server.Host, deps.Config.Server.Port),
		Handler:     engine,
		ReadTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	api := s.engine.Group("/api/v1")

	api.POST("/utterances", s.handleUtterance)
	api.GET("/utterances/stream", s.handleStream)
	api.GET("/tasks", s.handleListTasks)
	api.GET("/recommendation", s.handleRecommendation)
	api.POST("/feedback", s.handleFeedback)
	api.GET("/analytics", s.handleAnalytics)
	api.GET("/health", s.handleHealth)

	api.GET("/backups", s.handleListBackups)
	api.POST("/backups", s.handleCreateBackup)
	api.POST("/backups/restore", s.handleRestoreBackup)
	api.GET("/users/:id/export", s.handleExport)
	api.POST("/users/import", s.handleImport)

	if s.deps.Metrics != nil && s.deps.Config.Telemetry.MetricsEnabled {
		s.engine.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the listener fails or Shutdown is called.
func (s *Server) Run() error {
	s.logger.Info("Serving HTTP on %s", s.http.Addr)
	if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	return s.http.Shutdown(ctx)
}

// observe logs each request and feeds the HTTP metrics.
func (s *Server) observe() gin.HandlerFunc {
	return func(c *gin.Context) {
		begin := time.Now()
		c.Next()
		elapsed := time.Since(begin)

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()
		if s.deps.Metrics != nil {
			s.deps.Metrics.RecordHTTPRequest(c.Request.Context(), route, status, elapsed)
		}
		if status >= http.StatusInternalServerError {
			s.logger.Error("%s %s -> %d (%s)", c.Request.Method, route, status, elapsed)
		} else {
			s.logger.Debug("%s %s -> %d (%s)", c.Request.Method, route, status, elapsed)
		}
	}
}
