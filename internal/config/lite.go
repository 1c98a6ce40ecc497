package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// LiteConfig drives the standalone MCP server. It is read from the
// environment only; the audit journal is always SQLite under DataDir.
type LiteConfig struct {
	DataDir string

	CacheMaxItems int
	CacheTTL      time.Duration

	RetrievalEnabled bool
	RetrievalTimeout time.Duration
	NCBIAPIKey       string

	LLM domain.LLMConfig

	Transport string // stdio or http
	HTTPPort  int

	LogLevel  string
	LogFormat string
}

// DefaultLiteConfig keeps everything under ~/.iris-ckd and speaks stdio.
func DefaultLiteConfig() *LiteConfig {
	home, _ := os.UserHomeDir()
	return &LiteConfig{
		DataDir:          filepath.Join(home, ".iris-ckd"),
		CacheMaxItems:    1000,
		CacheTTL:         24 * time.Hour,
		RetrievalEnabled: true,
		RetrievalTimeout: 10 * time.Second,
		LLM:              domain.LLMConfig{Provider: domain.LLMProviderNone},
		Transport:        "stdio",
		HTTPPort:         8080,
		LogLevel:         "info",
		LogFormat:        "json",
	}
}

// LoadLiteConfig overlays IRIS_* variables on the defaults. Values that do
// not parse are ignored. An unusable LLM setting is returned as an error
// together with the rest of the configuration.
func LoadLiteConfig() (*LiteConfig, error) {
	cfg := DefaultLiteConfig()

	envString("IRIS_DATA_DIR", &cfg.DataDir)
	envPositiveInt("IRIS_CACHE_MAX_ITEMS", &cfg.CacheMaxItems)
	envDuration("IRIS_CACHE_TTL", &cfg.CacheTTL)
	envBool("IRIS_RETRIEVAL_ENABLED", &cfg.RetrievalEnabled)
	envDuration("IRIS_RETRIEVAL_TIMEOUT", &cfg.RetrievalTimeout)
	cfg.NCBIAPIKey = os.Getenv("NCBI_API_KEY")
	envString("IRIS_TRANSPORT", &cfg.Transport)
	envPositiveInt("IRIS_HTTP_PORT", &cfg.HTTPPort)
	envString("IRIS_LOG_LEVEL", &cfg.LogLevel)
	envString("IRIS_LOG_FORMAT", &cfg.LogFormat)

	llm, err := ResolveLLM(os.Getenv("IRIS_LLM_PROVIDER"), os.Getenv("GEMINI_API_KEY"),
		os.Getenv("IRIS_LLM_MODEL"), 0)
	if err != nil {
		return cfg, err
	}
	cfg.LLM = llm
	return cfg, nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envPositiveInt(key string, dst *int) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		*dst = n
	}
}

func envBool(key string, dst *bool) {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		*dst = b
	}
}

func envDuration(key string, dst *time.Duration) {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		*dst = d
	}
}

// AuditDBPath is the SQLite journal file.
func (c *LiteConfig) AuditDBPath() string {
	return filepath.Join(c.DataDir, "audit.db")
}

// ExportDir receives audit exports.
func (c *LiteConfig) ExportDir() string {
	return filepath.Join(c.DataDir, "exports")
}

// EnsureDataDir creates DataDir and its exports directory.
func (c *LiteConfig) EnsureDataDir() error {
	return os.MkdirAll(c.ExportDir(), 0755)
}
