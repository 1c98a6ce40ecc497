package cmd

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iris-ckd-mcp-server/internal/audit"
	"github.com/iris-ckd-mcp-server/internal/domain"
	"github.com/iris-ckd-mcp-server/internal/setup"
)

// execute runs the command tree with args and returns stdout and stderr.
func execute(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	root := NewRootCmd()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

// writeConfig points the audit journal into a temp dir and disables retrieval.
func writeConfig(t *testing.T) (configPath, dbPath string) {
	t.Helper()
	t.Setenv("GEMINI_API_KEY", "")
	dir := t.TempDir()
	dbPath = filepath.Join(dir, "audit.db")
	configPath = filepath.Join(dir, "config.yaml")
	content := "audit:\n  backend: sqlite\n  sqlite_path: " + dbPath + "\nretrieval:\n  enabled: false\n"
	require.NoError(t, os.WriteFile(configPath, []byte(content), 0644))
	return configPath, dbPath
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123")
	defer SetVersion("dev", "none")

	out, _, err := execute(t, "", "version")
	require.NoError(t, err)
	assert.Contains(t, out, "irisctl v1.2.3")
	assert.Contains(t, out, "commit: abc123")
}

func TestStageCommand(t *testing.T) {
	out, _, err := execute(t, "", "stage", "--creatinine", "2,5", "--sdma", "22", "--upc", "0.1")
	require.NoError(t, err)

	var report stageReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	require.NotNil(t, report.Classification.Stage)
	assert.Equal(t, domain.IRIS2, *report.Classification.Stage)
	require.NotNil(t, report.Validation.Valid)
	assert.True(t, *report.Validation.Valid)
	assert.NotNil(t, report.Substages.AP)
	assert.Nil(t, report.Substages.HT)
}

func TestStageCommand_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"no markers", []string{"stage", "--upc", "0.1"}, "--creatinine or --sdma"},
		{"bad number", []string{"stage", "--creatinine", "abc"}, "creatinine"},
		{"extra args", []string{"stage", "IRIS2"}, "unknown command"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := execute(t, "", tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestConsultCommand_TextAndJournal(t *testing.T) {
	configPath, dbPath := writeConfig(t)

	out, _, err := execute(t, "", "--config", configPath,
		"consult", "--creatinine", "2,5", "--sdma", "22", "--question", "stage?")
	require.NoError(t, err)
	assert.Contains(t, out, "IRIS CKD STAGING")
	assert.Contains(t, out, "Stage: IRIS2")
	assert.Contains(t, out, "Case: 1 (confirmed)")

	store, err := audit.NewSQLiteStore(dbPath)
	require.NoError(t, err)
	defer store.Close()
	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestConsultCommand_FileFromStdin(t *testing.T) {
	configPath, dbPath := writeConfig(t)

	tests := []struct {
		name  string
		stdin string
	}{
		{"bare form", `{"creatinina": "2,5", "sdma": 22}`},
		{"full request", `{"form": {"creatinina": 2.5, "sdma": 22}, "question": "stage?"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, _, err := execute(t, tt.stdin, "--config", configPath, "--no-audit",
				"consult", "--file", "-", "--json")
			require.NoError(t, err)

			var resp domain.ConsultationResponse
			require.NoError(t, json.Unmarshal([]byte(out), &resp))
			assert.Equal(t, domain.CaseConfirmed, resp.Result.Case)
		})
	}

	_, err := os.Stat(dbPath)
	assert.True(t, os.IsNotExist(err), "--no-audit must not create the journal")
}

func TestConsultCommand_InvalidInput(t *testing.T) {
	configPath, _ := writeConfig(t)

	_, stderr, err := execute(t, "", "--config", configPath,
		"consult", "--creatinine", "two", "--sdma", "-4")
	require.Error(t, err)
	var verrs domain.ValidationErrors
	require.ErrorAs(t, err, &verrs)
	assert.Len(t, verrs, 2)
	assert.Contains(t, stderr, "creatinina")

	_, _, err = execute(t, "{not json", "--config", configPath, "consult", "--file", "-")
	assert.ErrorContains(t, err, "invalid request JSON")
}

func TestAuditCommands(t *testing.T) {
	configPath, _ := writeConfig(t)

	for _, sdma := range []string{"22", "24"} {
		_, _, err := execute(t, "", "--config", configPath,
			"consult", "--creatinine", "2.5", "--sdma", sdma)
		require.NoError(t, err)
	}

	t.Run("stats", func(t *testing.T) {
		out, _, err := execute(t, "", "--config", configPath, "audit", "stats")
		require.NoError(t, err)
		var stats audit.Stats
		require.NoError(t, json.Unmarshal([]byte(out), &stats))
		assert.Equal(t, int64(2), stats.Total)
		assert.Equal(t, int64(2), stats.ByFinalStage["IRIS2"])
	})

	t.Run("list", func(t *testing.T) {
		out, _, err := execute(t, "", "--config", configPath, "audit", "list", "--limit", "1")
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSpace(out), "\n")
		assert.Len(t, lines, 2)
		assert.Contains(t, lines[0], "CREATININE")
	})

	t.Run("similar", func(t *testing.T) {
		out, _, err := execute(t, "", "--config", configPath,
			"audit", "similar", "--creatinine", "2,4", "--sdma", "23")
		require.NoError(t, err)
		assert.Equal(t, 2, strings.Count(out, "IRIS2"))

		_, _, err = execute(t, "", "--config", configPath, "audit", "similar", "--creatinine", "2.4")
		assert.Error(t, err)
	})

	t.Run("export", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "exports", "journal.csv")
		_, _, err := execute(t, "", "--config", configPath,
			"audit", "export", path, "--format", "csv")
		require.NoError(t, err)

		f, err := os.Open(path)
		require.NoError(t, err)
		defer f.Close()
		rows, err := csv.NewReader(f).ReadAll()
		require.NoError(t, err)
		assert.Len(t, rows, 3)

		_, _, err = execute(t, "", "--config", configPath,
			"audit", "export", path, "--format", "xml")
		assert.ErrorContains(t, err, "unsupported export format")
	})

	t.Run("no-audit rejected", func(t *testing.T) {
		_, _, err := execute(t, "", "--config", configPath, "--no-audit", "audit", "stats")
		assert.Error(t, err)
	})
}

func TestSetupCommands(t *testing.T) {
	t.Setenv("GEMINI_API_KEY", "")
	dir := t.TempDir()
	clientConfig := filepath.Join(dir, "claude_desktop_config.json")
	binary := filepath.Join(dir, "mcp-server-lite")
	require.NoError(t, os.WriteFile(binary, []byte("#!/bin/sh\n"), 0755))

	out, _, err := execute(t, "", "setup", "install",
		"--client-config", clientConfig, "--binary", binary, "--data-dir", filepath.Join(dir, "data"))
	require.NoError(t, err)
	assert.Contains(t, out, setup.ServerKey)

	out, _, err = execute(t, "", "setup", "status", "--client-config", clientConfig)
	require.NoError(t, err)
	var status setup.Status
	require.NoError(t, json.Unmarshal([]byte(out), &status))
	assert.True(t, status.Configured)
	assert.Equal(t, binary, status.ServerPath)
	assert.Empty(t, status.Issues)

	out, _, err = execute(t, "", "setup", "remove", "--client-config", clientConfig)
	require.NoError(t, err)
	assert.Contains(t, out, "Removed")

	out, _, err = execute(t, "", "setup", "remove", "--client-config", clientConfig)
	require.NoError(t, err)
	assert.Contains(t, out, "was not registered")
}
