// Package app assembles the consultation service and its collaborators from
// configuration. Both the HTTP server and the command line tool start here.
package app

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/iris-ckd-mcp-server/internal/audit"
	"github.com/iris-ckd-mcp-server/internal/cache"
	"github.com/iris-ckd-mcp-server/internal/database"
	"github.com/iris-ckd-mcp-server/internal/domain"
	"github.com/iris-ckd-mcp-server/internal/llm"
	"github.com/iris-ckd-mcp-server/internal/metrics"
	"github.com/iris-ckd-mcp-server/internal/service"
	"github.com/iris-ckd-mcp-server/pkg/external"
)

// Audit backends
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendNone     = "none"
)

// App holds the wired components. Close releases them in reverse order.
type App struct {
	Service   *service.ConsultationService
	Audit     audit.Store
	Retriever domain.EvidenceRetriever
	Metrics   *metrics.Collector
	Checks    map[string]func(ctx context.Context) error

	closers []func() error
	logger  *logrus.Logger
}

// Option adjusts how the App is built.
type Option func(*buildOptions)

type buildOptions struct {
	parser    *domain.InputParser
	retriever domain.EvidenceRetriever
}

// WithInputParser replaces the default lenient parser.
func WithInputParser(p *domain.InputParser) Option {
	return func(o *buildOptions) { o.parser = p }
}

// WithRetriever skips building the PubMed retriever.
func WithRetriever(r domain.EvidenceRetriever) Option {
	return func(o *buildOptions) { o.retriever = r }
}

// NewLogger configures logrus from the logging section.
func NewLogger(cfg domain.LoggingConfig) (*logrus.Logger, error) {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	logger.SetLevel(level)

	if cfg.Format == "text" {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}

	var out io.Writer
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		out = f
	}
	logger.SetOutput(out)

	return logger, nil
}

// New builds every component named in cfg. On error, anything already opened
// is closed.
func New(ctx context.Context, cfg *domain.Config, logger *logrus.Logger, opts ...Option) (a *App, err error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	a = &App{
		Metrics: metrics.NewCollector(),
		Checks:  make(map[string]func(ctx context.Context) error),
		logger:  logger,
	}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if err := a.openAudit(ctx, cfg); err != nil {
		return nil, err
	}

	a.Retriever = o.retriever
	if a.Retriever == nil {
		if a.Retriever, err = a.newRetriever(ctx, cfg); err != nil {
			return nil, err
		}
	}

	svcOpts := []service.ConsultationOption{
		service.WithRetriever(a.Retriever),
		service.WithAuditLog(a.Audit),
		service.WithObserver(a.Metrics),
	}
	if cfg.Retrieval.Timeout > 0 {
		svcOpts = append(svcOpts, service.WithRetrievalTimeout(cfg.Retrieval.Timeout))
	}
	if o.parser != nil {
		svcOpts = append(svcOpts, service.WithInputParser(o.parser))
	}
	a.Service = service.NewConsultationService(logger, svcOpts...)

	logger.WithFields(logrus.Fields{
		"audit_backend": cfg.Audit.Backend,
		"retrieval":     a.Retriever.Available(),
		"llm":           cfg.LLM.Provider,
		"redis":         cfg.Cache.RedisURL != "",
	}).Info("Consultation service assembled")
	return a, nil
}

func (a *App) openAudit(ctx context.Context, cfg *domain.Config) error {
	switch strings.ToLower(cfg.Audit.Backend) {
	case BackendSQLite, "":
		store, err := audit.NewSQLiteStore(cfg.Audit.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		a.Audit = store
		a.closers = append(a.closers, store.Close)
		a.Checks["audit"] = func(ctx context.Context) error {
			_, err := store.Count(ctx)
			return err
		}

	case BackendPostgres:
		dbCfg := database.ConfigFrom(cfg.Database)
		if err := database.MigrateUp(ctx, dbCfg.URL(), cfg.Audit.MigrationsPath, a.logger); err != nil {
			return fmt.Errorf("failed to migrate audit schema: %w", err)
		}

		db, err := database.NewConnection(ctx, dbCfg, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, func() error { db.Close(); return nil })
		a.Checks["database"] = db.Health

		store, err := audit.NewPostgresStoreFromURL(dbCfg.URL())
		if err != nil {
			return fmt.Errorf("failed to open audit store: %w", err)
		}
		a.Audit = store
		a.closers = append(a.closers, store.Close)

	case BackendNone:
		a.Audit = audit.NopStore{}

	default:
		return fmt.Errorf("unknown audit backend %q", cfg.Audit.Backend)
	}
	return nil
}

// newRetriever builds PubMed search behind the literature cache and circuit
// breaker. Retrieval disabled in config yields a retriever that is never
// available.
func (a *App) newRetriever(ctx context.Context, cfg *domain.Config) (domain.EvidenceRetriever, error) {
	if !cfg.Retrieval.Enabled {
		return external.NoopRetriever{}, nil
	}

	reader, err := llm.NewReader(ctx, cfg.LLM, a.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create literature reader: %w", err)
	}

	evidenceCache, err := a.newEvidenceCache(cfg.Cache)
	if err != nil {
		return nil, err
	}

	pubmed := external.NewPubMedClient(external.PubMedConfig{
		BaseURL:    cfg.Retrieval.PubMed.BaseURL,
		APIKey:     cfg.Retrieval.PubMed.APIKey,
		Email:      cfg.Retrieval.PubMed.Email,
		Timeout:    cfg.Retrieval.PubMed.Timeout,
		RateLimit:  cfg.Retrieval.PubMed.RateLimit,
		MaxResults: cfg.Retrieval.MaxResults,
	})

	return external.NewResilientRetriever(
		external.NewLiteratureRetriever(pubmed, reader, a.logger),
		evidenceCache,
		external.DefaultCircuitBreakerConfig(),
		a.logger,
	), nil
}

func (a *App) newEvidenceCache(cfg domain.CacheConfig) (domain.EvidenceCache, error) {
	memory := cache.NewMemoryCache(cfg.MaxItems, cfg.DefaultTTL)
	if cfg.RedisURL == "" {
		return memory, nil
	}

	redis, err := external.NewRedisEvidenceCache(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	a.closers = append(a.closers, redis.Close)
	a.Checks["redis"] = redis.Ping

	return cache.NewTieredCache(memory, redis, a.logger), nil
}

// Close releases every opened resource, newest first.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.WithError(err).Warn("Failed to release resource")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	a.closers = nil
	return firstErr
}
