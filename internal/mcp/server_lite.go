// Package mcp exposes the IRIS staging pipeline as Model Context Protocol tools.
// The lite server requires no external databases: it keeps literature results
// in memory and journals consultations to SQLite.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sirupsen/logrus"

	"github.com/iris-ckd-mcp-server/internal/audit"
	"github.com/iris-ckd-mcp-server/internal/cache"
	litecfg "github.com/iris-ckd-mcp-server/internal/config"
	"github.com/iris-ckd-mcp-server/internal/domain"
	"github.com/iris-ckd-mcp-server/internal/llm"
	"github.com/iris-ckd-mcp-server/internal/service"
	"github.com/iris-ckd-mcp-server/pkg/external"
)

const (
	serverName    = "iris-ckd-mcp-server-lite"
	serverVersion = "v0.1.0"
)

// LiteServer is a lightweight MCP server that requires no external databases.
type LiteServer struct {
	config     *litecfg.LiteConfig
	mcpServer  *mcp.Server
	service    *service.ConsultationService
	auditStore audit.Store
	retriever  domain.EvidenceRetriever
	cache      *cache.MemoryCache
	logger     *logrus.Logger
}

// LiteServerOption is a functional option for LiteServer.
type LiteServerOption func(*LiteServer) error

// WithAuditStore sets a custom audit store.
func WithAuditStore(store audit.Store) LiteServerOption {
	return func(s *LiteServer) error {
		s.auditStore = store
		return nil
	}
}

// WithLogger sets a custom logger.
func WithLogger(logger *logrus.Logger) LiteServerOption {
	return func(s *LiteServer) error {
		s.logger = logger
		return nil
	}
}

// WithRetriever replaces the PubMed-backed literature retriever.
func WithRetriever(retriever domain.EvidenceRetriever) LiteServerOption {
	return func(s *LiteServer) error {
		s.retriever = retriever
		return nil
	}
}

// NewLiteServer creates a new lightweight MCP server instance.
func NewLiteServer(ctx context.Context, cfg *litecfg.LiteConfig, opts ...LiteServerOption) (*LiteServer, error) {
	server := &LiteServer{
		config: cfg,
		logger: logrus.New(),
	}

	// Configure default logger
	if cfg.LogFormat == "text" {
		server.logger.SetFormatter(&logrus.TextFormatter{})
	} else {
		server.logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		server.logger.SetLevel(level)
	}

	// Apply options
	for _, opt := range opts {
		if err := opt(server); err != nil {
			return nil, fmt.Errorf("failed to apply option: %w", err)
		}
	}

	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	if server.auditStore == nil {
		store, err := audit.NewSQLiteStore(cfg.AuditDBPath())
		if err != nil {
			return nil, fmt.Errorf("failed to create audit store: %w", err)
		}
		server.auditStore = store
	}

	server.cache = cache.NewMemoryCache(cfg.CacheMaxItems, cfg.CacheTTL)

	if server.retriever == nil {
		retriever, err := server.newRetriever(ctx)
		if err != nil {
			return nil, err
		}
		server.retriever = retriever
	}

	server.service = service.NewConsultationService(server.logger,
		service.WithRetriever(server.retriever),
		service.WithAuditLog(server.auditStore),
		service.WithRetrievalTimeout(cfg.RetrievalTimeout),
	)

	server.mcpServer = mcp.NewServer(&mcp.Implementation{
		Name:    serverName,
		Version: serverVersion,
	}, nil)
	server.registerTools()
	server.registerResources()
	server.registerPrompts()

	server.logger.WithFields(logrus.Fields{
		"audit_db":  cfg.AuditDBPath(),
		"retrieval": server.retriever.Available(),
		"llm":       cfg.LLM.Provider,
	}).Info("Lite server initialized successfully")
	return server, nil
}

// newRetriever assembles PubMed search, the optional LLM reader, the
// in-memory cache and the circuit breaker.
func (s *LiteServer) newRetriever(ctx context.Context) (domain.EvidenceRetriever, error) {
	if !s.config.RetrievalEnabled {
		return external.NoopRetriever{}, nil
	}

	reader, err := llm.NewReader(ctx, s.config.LLM, s.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create literature reader: %w", err)
	}

	pubmed := external.NewPubMedClient(external.PubMedConfig{
		APIKey:  s.config.NCBIAPIKey,
		Timeout: s.config.RetrievalTimeout,
	})
	return external.NewResilientRetriever(
		external.NewLiteratureRetriever(pubmed, reader, s.logger),
		s.cache,
		external.DefaultCircuitBreakerConfig(),
		s.logger,
	), nil
}

// Start serves MCP over the configured transport until ctx is cancelled.
func (s *LiteServer) Start(ctx context.Context) error {
	s.logger.WithField("transport", s.config.Transport).Info("Starting IRIS CKD MCP Server (Lite)...")

	switch s.config.Transport {
	case "", "stdio":
		if err := s.mcpServer.Run(ctx, &mcp.StdioTransport{}); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("MCP server failed: %w", err)
		}
		return nil
	case "http":
		return s.serveHTTP(ctx)
	default:
		return fmt.Errorf("unsupported transport %q", s.config.Transport)
	}
}

func (s *LiteServer) serveHTTP(ctx context.Context) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.mcpServer
	}, nil)

	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(s.config.HTTPPort),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("MCP HTTP transport failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// Close cleans up server resources.
func (s *LiteServer) Close() error {
	if s.auditStore != nil {
		if err := s.auditStore.Close(); err != nil {
			s.logger.WithError(err).Error("Failed to close audit store")
			return err
		}
	}
	return nil
}

// Server exposes the underlying MCP server, mainly for in-memory transports.
func (s *LiteServer) Server() *mcp.Server {
	return s.mcpServer
}

// GetAuditStore returns the audit store for external access.
func (s *LiteServer) GetAuditStore() audit.Store {
	return s.auditStore
}

// GetCache returns the memory cache for external access.
func (s *LiteServer) GetCache() *cache.MemoryCache {
	return s.cache
}
