// Package setup registers the IRIS staging MCP server with desktop MCP clients.
package setup

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"

	litecfg "github.com/iris-ckd-mcp-server/internal/config"
	"github.com/iris-ckd-mcp-server/internal/fileutil"
)

const (
	// ServerKey names the staging server inside the client's mcpServers map.
	ServerKey = "iris-ckd-staging"
	// DataDirEnv tells the lite server where the audit database lives.
	DataDirEnv = "IRIS_DATA_DIR"

	liteBinary     = "mcp-server-lite"
	clientDir      = "Claude"
	clientFile     = "claude_desktop_config.json"
	serversKey     = "mcpServers"
	auditDBName    = "audit.db"
	geminiKeyEnv   = "GEMINI_API_KEY"
	llmProviderEnv = "IRIS_LLM_PROVIDER"
)

// ClientConfig is the desktop client's JSON settings file. Keys other than
// mcpServers are carried through untouched.
type ClientConfig struct {
	MCPServers map[string]ServerEntry `json:"mcpServers"`

	rest map[string]json.RawMessage
}

// ServerEntry launches one MCP server.
type ServerEntry struct {
	Command string            `json:"command"`
	Args    []string          `json:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty"`
}

// Options for Configure. Empty paths are detected.
type Options struct {
	ConfigPath string
	BinaryPath string
	DataDir    string
	GeminiKey  string
}

// DefaultConfigPath locates the client settings file under the user's
// config directory (XDG_CONFIG_HOME, Application Support or APPDATA).
func DefaultConfigPath() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("locating client settings on %s: %w", runtime.GOOS, err)
	}
	return filepath.Join(base, clientDir, clientFile), nil
}

// LoadConfig reads the client settings. A missing file is an empty config.
func LoadConfig(configPath string) (*ClientConfig, error) {
	cfg := &ClientConfig{
		MCPServers: map[string]ServerEntry{},
		rest:       map[string]json.RawMessage{},
	}

	data, err := os.ReadFile(configPath)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", configPath, err)
	}

	if err := json.Unmarshal(data, &cfg.rest); err != nil {
		return nil, fmt.Errorf("%s is not valid JSON: %w", configPath, err)
	}
	if raw, ok := cfg.rest[serversKey]; ok {
		delete(cfg.rest, serversKey)
		if err := json.Unmarshal(raw, &cfg.MCPServers); err != nil {
			return nil, fmt.Errorf("%s: bad %s section: %w", configPath, serversKey, err)
		}
		if cfg.MCPServers == nil {
			cfg.MCPServers = map[string]ServerEntry{}
		}
	}
	return cfg, nil
}

// SaveConfig replaces the settings file in one rename.
func SaveConfig(configPath string, cfg *ClientConfig) error {
	doc := make(map[string]any, len(cfg.rest)+1)
	for k, v := range cfg.rest {
		doc[k] = v
	}
	doc[serversKey] = cfg.MCPServers

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding client settings: %w", err)
	}
	if err := fileutil.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", configPath, err)
	}
	return nil
}

// Configure upserts the staging server entry and returns the settings file
// it wrote.
func Configure(opts Options) (string, error) {
	path := opts.ConfigPath
	if path == "" {
		var err error
		if path, err = DefaultConfigPath(); err != nil {
			return "", err
		}
	}

	cfg, err := LoadConfig(path)
	if err != nil {
		return "", err
	}

	entry := ServerEntry{Command: opts.BinaryPath, Env: map[string]string{}}
	if entry.Command == "" {
		if entry.Command, err = locateBinary(); err != nil {
			return "", err
		}
	}
	if opts.DataDir != "" {
		entry.Env[DataDirEnv] = opts.DataDir
	}
	if opts.GeminiKey != "" {
		entry.Env[geminiKeyEnv] = opts.GeminiKey
		entry.Env[llmProviderEnv] = "gemini"
	}
	cfg.MCPServers[ServerKey] = entry

	if err := SaveConfig(path, cfg); err != nil {
		return "", err
	}
	return path, nil
}

// Remove drops the staging server entry and reports whether it was present.
func Remove(configPath string) (bool, error) {
	cfg, err := LoadConfig(configPath)
	if err != nil {
		return false, err
	}
	if _, ok := cfg.MCPServers[ServerKey]; !ok {
		return false, nil
	}
	delete(cfg.MCPServers, ServerKey)
	return true, SaveConfig(configPath, cfg)
}

// locateBinary checks PATH, then the build directory and the usual install
// prefixes.
func locateBinary() (string, error) {
	if path, err := exec.LookPath(liteBinary); err == nil {
		return path, nil
	}

	candidates := []string{liteBinary, filepath.Join("build", liteBinary), filepath.Join("/usr/local/bin", liteBinary)}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".local", "bin", liteBinary))
	}
	for _, c := range candidates {
		if _, err := os.Stat(c); err != nil {
			continue
		}
		if abs, err := filepath.Abs(c); err == nil {
			return abs, nil
		}
		return c, nil
	}
	return "", fmt.Errorf("%s not found on PATH or in %v", liteBinary, candidates[1:])
}

// Status summarises what the client would launch.
type Status struct {
	ConfigPath   string   `json:"config_path"`
	Configured   bool     `json:"configured"`
	ServerPath   string   `json:"server_path,omitempty"`
	DataDir      string   `json:"data_dir"`
	AuditDBFound bool     `json:"audit_db_found"`
	Issues       []string `json:"issues"`
}

func (s *Status) issue(format string, args ...any) {
	s.Issues = append(s.Issues, fmt.Sprintf(format, args...))
}

// GetStatus inspects the settings file at configPath. Problems are listed in
// Issues rather than returned.
func GetStatus(configPath string) *Status {
	status := &Status{ConfigPath: configPath, DataDir: DefaultDataDir(), Issues: []string{}}

	cfg, err := LoadConfig(configPath)
	if err != nil {
		status.issue("Could not load client config: %v", err)
		return status
	}
	entry, ok := cfg.MCPServers[ServerKey]
	if !ok {
		status.issue("IRIS staging server is not configured")
		return status
	}
	status.Configured = true
	status.ServerPath = entry.Command

	if info, err := os.Stat(entry.Command); err != nil {
		status.issue("Server binary not found at: %s", entry.Command)
	} else if runtime.GOOS != "windows" && info.Mode().Perm()&0o111 == 0 {
		status.issue("Server binary is not executable: %s", entry.Command)
	}

	if dir := entry.Env[DataDirEnv]; dir != "" {
		status.DataDir = dir
	}
	_, err = os.Stat(filepath.Join(status.DataDir, auditDBName))
	status.AuditDBFound = err == nil
	return status
}

// DefaultDataDir is where the lite server keeps audit.db when IRIS_DATA_DIR
// is unset.
func DefaultDataDir() string {
	return litecfg.DefaultLiteConfig().DataDir
}
