package setup

import (
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Missing(t *testing.T) {
	config, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	assert.Empty(t, config.MCPServers)
}

func TestLoadConfig_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestConfigure_PreservesOtherEntries(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "Claude", "claude_desktop_config.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(`{
  "theme": "dark",
  "mcpServers": {"other": {"command": "/bin/other"}}
}`), 0644))

	binary := filepath.Join(dir, "mcp-server-lite")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0755))

	written, err := Configure(Options{
		ConfigPath: path,
		BinaryPath: binary,
		DataDir:    filepath.Join(dir, "data"),
		GeminiKey:  "key",
	})
	require.NoError(t, err)
	assert.Equal(t, path, written)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.JSONEq(t, `"dark"`, string(raw["theme"]))

	config, err := LoadConfig(path)
	require.NoError(t, err)
	require.Contains(t, config.MCPServers, "other")
	entry := config.MCPServers[ServerKey]
	assert.Equal(t, binary, entry.Command)
	assert.Equal(t, filepath.Join(dir, "data"), entry.Env[DataDirEnv])
	assert.Equal(t, "gemini", entry.Env["IRIS_LLM_PROVIDER"])

	status := GetStatus(path)
	assert.True(t, status.Configured)
	assert.Equal(t, binary, status.ServerPath)
	assert.Equal(t, filepath.Join(dir, "data"), status.DataDir)
	assert.False(t, status.AuditDBFound)
	assert.Empty(t, status.Issues)
}

func TestRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	_, err := Configure(Options{ConfigPath: path, BinaryPath: "/opt/iris/mcp-server-lite"})
	require.NoError(t, err)

	removed, err := Remove(path)
	require.NoError(t, err)
	assert.True(t, removed)

	removed, err = Remove(path)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestGetStatus(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		status := GetStatus(filepath.Join(t.TempDir(), "config.json"))
		assert.False(t, status.Configured)
		assert.Len(t, status.Issues, 1)
	})

	t.Run("missing binary", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.json")
		_, err := Configure(Options{ConfigPath: path, BinaryPath: "/nonexistent/mcp-server-lite"})
		require.NoError(t, err)

		status := GetStatus(path)
		assert.True(t, status.Configured)
		require.Len(t, status.Issues, 1)
		assert.Contains(t, status.Issues[0], "not found")
	})
}

func TestDefaultConfigPath_XDG(t *testing.T) {
	if runtime.GOOS != "linux" {
		t.Skip("XDG_CONFIG_HOME only applies on linux")
	}
	t.Setenv("XDG_CONFIG_HOME", "/tmp/xdg")

	path, err := DefaultConfigPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/xdg/Claude/claude_desktop_config.json", path)
}
