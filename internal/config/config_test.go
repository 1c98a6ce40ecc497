package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// inTempDir runs the test from an empty directory so no config.yaml is found.
func inTempDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestNewManager_Defaults(t *testing.T) {
	inTempDir(t)
	t.Setenv("GEMINI_API_KEY", "")

	m, err := NewManager()
	require.NoError(t, err)

	cfg := m.GetConfig()
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.RequestTimeout)
	assert.Equal(t, "sqlite", cfg.Audit.Backend)
	assert.True(t, cfg.Retrieval.Enabled)
	assert.Equal(t, 10*time.Second, m.GetRetrievalConfig().Timeout)
	assert.Equal(t, domain.LLMProviderNone, m.GetLLMConfig().Provider)
	assert.True(t, m.IsDevelopment())
	assert.False(t, m.IsProduction())
	assert.NoError(t, m.Validate())
}

func TestNewManager_EnvironmentOverrides(t *testing.T) {
	inTempDir(t)
	t.Setenv("IRIS_CKD_SERVER_PORT", "9191")
	t.Setenv("IRIS_CKD_SERVER_ENVIRONMENT", "production")
	t.Setenv("IRIS_CKD_AUDIT_BACKEND", "postgres")
	t.Setenv("GEMINI_API_KEY", "k")

	m, err := NewManager()
	require.NoError(t, err)

	assert.Equal(t, 9191, m.GetServerConfig().Port)
	assert.Equal(t, "postgres", m.GetConfig().Audit.Backend)
	assert.True(t, m.IsProduction())
	assert.True(t, m.GetLLMConfig().Enabled())
	assert.Contains(t, m.GetDatabaseConnectionString(), "dbname=iris_ckd")
}

func TestNewManager_ConfigFile(t *testing.T) {
	dir := inTempDir(t)
	t.Setenv("GEMINI_API_KEY", "")
	yaml := []byte("server:\n  port: 7070\nretrieval:\n  enabled: false\nlogging:\n  level: debug\n")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0644))

	m, err := NewManager()
	require.NoError(t, err)

	assert.Equal(t, 7070, m.GetServerConfig().Port)
	assert.False(t, m.GetRetrievalConfig().Enabled)
	assert.Equal(t, "debug", m.GetConfig().Logging.Level)
}

func TestNewManager_ExplicitConfigFile(t *testing.T) {
	inTempDir(t)
	t.Setenv("GEMINI_API_KEY", "")
	path := filepath.Join(t.TempDir(), "iris.yaml")
	require.NoError(t, os.WriteFile(path, []byte("audit:\n  backend: none\n"), 0644))

	m, err := NewManager(WithConfigFile(path))
	require.NoError(t, err)
	assert.Equal(t, "none", m.GetConfig().Audit.Backend)

	_, err = NewManager(WithConfigFile(filepath.Join(t.TempDir(), "missing.yaml")))
	assert.Error(t, err)
}

func TestValidateConfig(t *testing.T) {
	valid := func() *domain.Config {
		return &domain.Config{
			Server:    domain.ServerConfig{Port: 8080},
			Audit:     domain.AuditConfig{Backend: "sqlite", SQLitePath: "audit.db"},
			Retrieval: domain.RetrievalConfig{Enabled: true, Timeout: time.Second, PubMed: domain.PubMedConfig{BaseURL: "http://x"}},
			Logging:   domain.LoggingConfig{Level: "info"},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*domain.Config)
		wantErr bool
	}{
		{"valid", func(*domain.Config) {}, false},
		{"bad port", func(c *domain.Config) { c.Server.Port = 70000 }, true},
		{"unknown backend", func(c *domain.Config) { c.Audit.Backend = "csv" }, true},
		{"postgres without host", func(c *domain.Config) { c.Audit.Backend = "postgres" }, true},
		{"no audit", func(c *domain.Config) { c.Audit.Backend = "none" }, false},
		{"retrieval without url", func(c *domain.Config) { c.Retrieval.PubMed.BaseURL = "" }, true},
		{"retrieval disabled without url", func(c *domain.Config) {
			c.Retrieval.Enabled = false
			c.Retrieval.PubMed.BaseURL = ""
		}, false},
		{"bad log level", func(c *domain.Config) { c.Logging.Level = "loud" }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := ValidateConfig(cfg)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestResolveLLM(t *testing.T) {
	tests := []struct {
		name     string
		provider string
		key      string
		want     domain.LLMProvider
		wantErr  bool
	}{
		{"inferred from key", "", "k", domain.LLMProviderGemini, false},
		{"nothing configured", "", "", domain.LLMProviderNone, false},
		{"explicit none wins over key", "none", "k", domain.LLMProviderNone, false},
		{"explicit gemini", "Gemini", "k", domain.LLMProviderGemini, false},
		{"explicit gemini without key", "gemini", "", "", true},
		{"unknown provider", "openai", "k", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ResolveLLM(tt.provider, tt.key, "", 0)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Provider)
			if got.Provider == domain.LLMProviderGemini {
				assert.Equal(t, DefaultGeminiModel, got.Model)
				assert.Equal(t, 20*time.Second, got.Timeout)
			}
		})
	}
}
