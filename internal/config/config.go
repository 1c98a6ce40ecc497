// Package config loads settings for the HTTP server, the MCP servers and
// irisctl.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// Manager implements the ConfigManager interface using Viper
type Manager struct {
	config     *domain.Config
	configFile string
}

// ManagerOption adjusts where configuration is read from.
type ManagerOption func(*Manager)

// WithConfigFile reads the given file instead of searching for config.yaml.
func WithConfigFile(path string) ManagerOption {
	return func(m *Manager) {
		m.configFile = path
	}
}

// NewManager creates a new configuration manager
func NewManager(opts ...ManagerOption) (*Manager, error) {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	v := viper.New()

	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/iris-ckd/")
	}

	// IRIS_CKD_SERVER_PORT overrides server.port, and so on
	v.SetEnvPrefix("IRIS_CKD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Config file is optional; defaults and environment still apply
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	llm, err := ResolveLLM(string(config.LLM.Provider), config.LLM.APIKey, config.LLM.Model, config.LLM.Timeout)
	if err != nil {
		return err
	}
	config.LLM = llm

	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.environment", "development")

	// Audit defaults
	v.SetDefault("audit.backend", "sqlite")
	v.SetDefault("audit.sqlite_path", "./data/audit.db")
	v.SetDefault("audit.migrations_path", "./migrations")

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "iris_ckd")
	v.SetDefault("database.username", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Retrieval defaults
	v.SetDefault("retrieval.enabled", true)
	v.SetDefault("retrieval.timeout", "10s")
	v.SetDefault("retrieval.max_results", 5)
	v.SetDefault("retrieval.pubmed.base_url", "https://eutils.ncbi.nlm.nih.gov/entrez/eutils/")
	v.SetDefault("retrieval.pubmed.timeout", "8s")
	v.SetDefault("retrieval.pubmed.rate_limit", 3)
	v.SetDefault("retrieval.pubmed.email", "")
	_ = v.BindEnv("retrieval.pubmed.api_key", "IRIS_CKD_RETRIEVAL_PUBMED_API_KEY", "NCBI_API_KEY")

	// Cache defaults
	v.SetDefault("cache.redis_url", "")
	v.SetDefault("cache.default_ttl", "24h")
	v.SetDefault("cache.max_items", 1000)
	v.SetDefault("cache.max_retries", 3)
	v.SetDefault("cache.pool_size", 10)
	v.SetDefault("cache.pool_timeout", "4s")

	// LLM defaults
	v.SetDefault("llm.provider", "")
	v.SetDefault("llm.model", DefaultGeminiModel)
	v.SetDefault("llm.timeout", "20s")
	_ = v.BindEnv("llm.api_key", "IRIS_CKD_LLM_API_KEY", "GEMINI_API_KEY")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.output", "stdout")

	// MCP defaults
	v.SetDefault("mcp.server_name", "iris-ckd-mcp-server")
	v.SetDefault("mcp.server_version", "1.0.0")
	v.SetDefault("mcp.transport_type", "stdio")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetRetrievalConfig returns literature retrieval configuration
func (m *Manager) GetRetrievalConfig() *domain.RetrievalConfig {
	return &m.config.Retrieval
}

// GetLLMConfig returns the resolved LLM provider
func (m *Manager) GetLLMConfig() domain.LLMConfig {
	return m.config.LLM
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	return ValidateConfig(m.config)
}

// ValidateConfig checks a configuration for values the server cannot run with.
func ValidateConfig(config *domain.Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Audit.Backend {
	case "sqlite":
		if config.Audit.SQLitePath == "" {
			return fmt.Errorf("audit sqlite_path is required for the sqlite backend")
		}
	case "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
		if config.Database.Username == "" {
			return fmt.Errorf("database username is required")
		}
	case "none":
	default:
		return fmt.Errorf("invalid audit backend: %q", config.Audit.Backend)
	}

	if config.Retrieval.Enabled {
		if config.Retrieval.PubMed.BaseURL == "" {
			return fmt.Errorf("PubMed base URL is required when retrieval is enabled")
		}
		if config.Retrieval.Timeout <= 0 {
			return fmt.Errorf("retrieval timeout must be positive")
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.config.Server.Environment) == "production"
}

// IsDevelopment returns true if running in development mode
func (m *Manager) IsDevelopment() bool {
	env := strings.ToLower(m.config.Server.Environment)
	return env == "development" || env == "dev" || env == ""
}

// DefaultGeminiModel is used when no model is configured.
const DefaultGeminiModel = "gemini-2.5-flash"

// ResolveLLM picks the language model provider once at startup. An explicit
// provider wins; otherwise the provider is inferred from which credential is
// present. No credential resolves to LLMProviderNone.
func ResolveLLM(provider, geminiKey, model string, timeout time.Duration) (domain.LLMConfig, error) {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	if model == "" {
		model = DefaultGeminiModel
	}

	switch domain.LLMProvider(strings.ToLower(strings.TrimSpace(provider))) {
	case domain.LLMProviderNone:
		return domain.LLMConfig{Provider: domain.LLMProviderNone}, nil
	case domain.LLMProviderGemini:
		if geminiKey == "" {
			return domain.LLMConfig{}, fmt.Errorf("llm provider %q requires an API key", domain.LLMProviderGemini)
		}
		return domain.LLMConfig{Provider: domain.LLMProviderGemini, APIKey: geminiKey, Model: model, Timeout: timeout}, nil
	case "":
		if geminiKey != "" {
			return domain.LLMConfig{Provider: domain.LLMProviderGemini, APIKey: geminiKey, Model: model, Timeout: timeout}, nil
		}
		return domain.LLMConfig{Provider: domain.LLMProviderNone}, nil
	default:
		return domain.LLMConfig{}, fmt.Errorf("unknown llm provider: %q", provider)
	}
}
