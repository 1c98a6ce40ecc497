package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/iris-ckd-mcp-server/internal/audit"
	"github.com/iris-ckd-mcp-server/internal/domain"
	"github.com/iris-ckd-mcp-server/internal/metrics"
	"github.com/iris-ckd-mcp-server/internal/middleware"
	"github.com/iris-ckd-mcp-server/internal/service"
)

// HealthCheck reports whether one dependency is usable.
type HealthCheck = func(ctx context.Context) error

// Dependencies are the collaborators the HTTP adapter serves.
type Dependencies struct {
	Service *service.ConsultationService
	Audit   audit.Store // NopStore when auditing is disabled
	Metrics *metrics.Collector
	Checks  map[string]HealthCheck
	Version string
}

// Server is the gin adapter over the consultation service and the audit
// journal.
type Server struct {
	configManager domain.ConfigManager
	logger        *logrus.Logger
	deps          Dependencies
	router        *gin.Engine
	server        *http.Server
}

const (
	healthTimeout   = 5 * time.Second
	shutdownTimeout = 30 * time.Second
)

// NewServer builds the router. Gin runs in debug mode only at debug log level.
func NewServer(configManager domain.ConfigManager, logger *logrus.Logger, deps Dependencies) *Server {
	cfg := configManager.GetConfig()

	mode := gin.ReleaseMode
	if cfg.Logging.Level == "debug" {
		mode = gin.DebugMode
	}
	gin.SetMode(mode)

	if deps.Audit == nil {
		deps.Audit = audit.NopStore{}
	}
	if deps.Version == "" {
		deps.Version = cfg.MCP.ServerVersion
	}

	chain := []gin.HandlerFunc{
		gin.Recovery(),
		middleware.CorrelationID(),
		middleware.AuditLogger(logger),
		middleware.SecurityHeaders(),
		cors(),
		middleware.RequestTimeout(cfg.Server.RequestTimeout),
	}
	if deps.Metrics != nil {
		chain = append(chain, middleware.Metrics(deps.Metrics))
	}

	s := &Server{
		configManager: configManager,
		logger:        logger,
		deps:          deps,
		router:        gin.New(),
	}
	s.router.Use(chain...)
	s.routes()
	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on the configured address until ctx ends, then drains open
// requests for up to thirty seconds.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.configManager.GetServerConfig()
	s.server = &http.Server{
		Addr:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.logger.WithField("addr", s.server.Addr).Info("HTTP server listening")
		if err := s.server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http listener: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)
	if s.deps.Metrics != nil {
		s.router.GET("/metrics", gin.WrapH(s.deps.Metrics.Handler()))
	}

	v1 := s.router.Group("/api/v1")
	v1.POST("/consultations", s.handleConsultation)

	journal := v1.Group("/audit")
	journal.GET("", s.handleAuditList)
	journal.GET("/stats", s.handleAuditStats)
	journal.GET("/similar", s.handleAuditSimilar)
	journal.GET("/export", s.handleAuditExport)
}

// handleHealth runs every registered check. Any failure degrades the
// status to 503.
func (s *Server) handleHealth(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()

	state, status := "healthy", http.StatusOK
	checks := make(gin.H, len(s.deps.Checks))
	for name, check := range s.deps.Checks {
		checks[name] = "ok"
		if err := check(ctx); err != nil {
			checks[name] = err.Error()
			state, status = "degraded", http.StatusServiceUnavailable
		}
	}

	c.JSON(status, gin.H{
		"status":    state,
		"checks":    checks,
		"timestamp": time.Now().UTC(),
		"version":   s.deps.Version,
	})
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("Access-Control-Allow-Origin", "*")
		h.Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		h.Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, X-Correlation-ID")
		h.Set("Access-Control-Expose-Headers", "X-Correlation-ID, "+outcomeHeader)

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
