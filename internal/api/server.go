package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/pa-policy-engine/internal/domain"
	"github.com/pa-policy-engine/internal/middleware"
	"github.com/pa-policy-engine/internal/repository"
	"github.com/pa-policy-engine/internal/review"
	"github.com/pa-policy-engine/internal/service"
)

// PolicyCatalog lists the stored (payer, medication) pairs.
type PolicyCatalog interface {
	ListPolicies(ctx context.Context) ([]repository.PolicySummary, error)
}

// Server is the HTTP API over the evaluation engine.
type Server struct {
	log      *logrus.Logger
	config   *domain.Config
	router   *gin.Engine
	server   *http.Server
	policies domain.PolicyStore
	writer   domain.PolicyWriter
	catalog  PolicyCatalog
	pipeline domain.PolicyFetcher
	cases    domain.CaseStore
	diffs    domain.DiffCache

	evaluator  *service.Evaluator
	diffEngine *service.DiffEngine
	analyzer   *service.ImpactAnalyzer
	reviews    review.Store
}

// Deps bundles the server's dependencies. Writer, Catalog, and Pipeline may
// be nil; the sync and catalog endpoints report unavailable without them.
type Deps struct {
	Config     *domain.Config
	Logger     *logrus.Logger
	Policies   domain.PolicyStore
	Writer     domain.PolicyWriter
	Catalog    PolicyCatalog
	Pipeline   domain.PolicyFetcher
	Cases      domain.CaseStore
	DiffCache  domain.DiffCache
	Evaluator  *service.Evaluator
	DiffEngine *service.DiffEngine
	Analyzer   *service.ImpactAnalyzer
	Reviews    review.Store
}

// NewServer creates a new HTTP server instance
func NewServer(deps Deps) *Server {
	if deps.Config.Logging.Level == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.AuditLogger())
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.CorrelationID())
	router.Use(corsMiddleware())

	server := &Server{
		log:        deps.Logger,
		config:     deps.Config,
		router:     router,
		policies:   deps.Policies,
		writer:     deps.Writer,
		catalog:    deps.Catalog,
		pipeline:   deps.Pipeline,
		cases:      deps.Cases,
		diffs:      deps.DiffCache,
		evaluator:  deps.Evaluator,
		diffEngine: deps.DiffEngine,
		analyzer:   deps.Analyzer,
		reviews:    deps.Reviews,
	}

	server.setupRoutes()

	return server
}

// Router exposes the gin engine for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server and blocks until the context is cancelled,
// then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.config.Server
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
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	s.log.WithField("addr", addr).Info("HTTP server listening")

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	return s.server.Shutdown(shutdownCtx)
}

// setupRoutes configures the API routes
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.handleHealth)

	v1 := s.router.Group("/api/v1")
	{
		v1.POST("/evaluate", s.handleEvaluate)

		v1.GET("/policies", s.handleListPolicies)
		v1.GET("/policies/versions", s.handleListVersions)
		v1.POST("/policies/sync", s.handleSyncPolicy)
		v1.POST("/policies/diff", s.handleDiff)
		v1.POST("/policies/impact", s.handleImpact)

		v1.POST("/reviews", s.handleSaveReview)
		v1.GET("/reviews", s.handleListReviews)
		v1.GET("/reviews/:case_id", s.handleGetReview)
	}
}

// corsMiddleware adds CORS headers to responses
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, X-API-Key")
		c.Header("Access-Control-Expose-Headers", "Content-Length")
		c.Header("Access-Control-Allow-Credentials", "true")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
