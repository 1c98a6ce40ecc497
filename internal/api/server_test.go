package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iris-ckd-mcp-server/internal/audit"
	"github.com/iris-ckd-mcp-server/internal/domain"
	"github.com/iris-ckd-mcp-server/internal/metrics"
	"github.com/iris-ckd-mcp-server/internal/service"
)

type staticConfig struct {
	cfg domain.Config
}

func (s *staticConfig) GetConfig() *domain.Config                   { return &s.cfg }
func (s *staticConfig) GetDatabaseConfig() *domain.DatabaseConfig   { return &s.cfg.Database }
func (s *staticConfig) GetServerConfig() *domain.ServerConfig       { return &s.cfg.Server }
func (s *staticConfig) GetRetrievalConfig() *domain.RetrievalConfig { return &s.cfg.Retrieval }
func (s *staticConfig) GetLLMConfig() domain.LLMConfig              { return s.cfg.LLM }
func (s *staticConfig) Reload() error                               { return nil }
func (s *staticConfig) Validate() error                             { return nil }
func (s *staticConfig) GetDatabaseConnectionString() string         { return "" }
func (s *staticConfig) IsProduction() bool                          { return false }
func (s *staticConfig) IsDevelopment() bool                         { return true }

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.FatalLevel)
	return logger
}

func newTestServer(t *testing.T, checks map[string]HealthCheck) (*Server, audit.Store, *metrics.Collector) {
	t.Helper()

	store, err := audit.NewSQLiteStore(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	collector := metrics.NewCollector()
	logger := testLogger()
	svc := service.NewConsultationService(logger,
		service.WithAuditLog(store),
		service.WithObserver(collector),
		service.WithInputParser(&domain.InputParser{RequireKidneyMarker: true}),
	)

	cfg := &staticConfig{cfg: domain.Config{
		Server: domain.ServerConfig{RequestTimeout: 5 * time.Second},
		MCP:    domain.MCPConfig{ServerVersion: "test"},
	}}
	server := NewServer(cfg, logger, Dependencies{
		Service: svc,
		Audit:   store,
		Metrics: collector,
		Checks:  checks,
	})
	gin.SetMode(gin.TestMode)
	return server, store, collector
}

func do(t *testing.T, s *Server, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func TestConsultation_Confirmed(t *testing.T) {
	server, store, _ := newTestServer(t, nil)

	w := do(t, server, http.MethodPost, "/api/v1/consultations",
		`{"form": {"creatinina": "2,5", "sdma": 22, "upc": 0.1, "pressao_arterial": 150}}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Correlation-ID"))
	assert.Empty(t, w.Header().Get("X-Consultation-Outcome"))

	var resp domain.ConsultationResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Result)
	assert.Equal(t, domain.CaseConfirmed, resp.Result.Case)
	assert.Equal(t, domain.StagePtr(domain.IRIS2), resp.Result.FinalStage)
	assert.NotEmpty(t, resp.Text)
	assert.Empty(t, resp.AuditError)

	count, err := store.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestConsultation_TextFormat(t *testing.T) {
	server, _, _ := newTestServer(t, nil)

	w := do(t, server, http.MethodPost, "/api/v1/consultations?format=text",
		`{"form": {"creatinina": 1.5, "sdma": 50}}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/plain"))
	assert.Equal(t, domain.ErrCodeDiscrepancyTooLarge, w.Header().Get("X-Consultation-Outcome"))
	assert.NotEmpty(t, w.Body.String())
}

func TestConsultation_InvalidInput(t *testing.T) {
	server, _, _ := newTestServer(t, nil)

	tests := []struct {
		name       string
		body       string
		wantFields int
	}{
		{"malformed json", `{"form": `, 0},
		{"bad numbers", `{"form": {"creatinina": "abc", "sdma": -1}}`, 2},
		{"no kidney marker", `{"form": {"peso": 4.2}}`, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, server, http.MethodPost, "/api/v1/consultations", tt.body)
			require.Equal(t, http.StatusBadRequest, w.Code)

			var body struct {
				Error  domain.ServiceError       `json:"error"`
				Fields []*domain.ValidationError `json:"fields"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, domain.ErrCodeInvalidInput, body.Error.Code)
			assert.Equal(t, w.Header().Get("X-Correlation-ID"), body.Error.RequestID)
			assert.Len(t, body.Fields, tt.wantFields)
		})
	}
}

func TestAuditEndpoints(t *testing.T) {
	server, _, _ := newTestServer(t, nil)

	for _, form := range []string{
		`{"form": {"creatinina": 2.5, "sdma": 22}}`,
		`{"form": {"creatinina": 2.6, "sdma": 23}}`,
		`{"form": {"creatinina": 4.0, "sdma": 30}}`,
	} {
		require.Equal(t, http.StatusOK, do(t, server, http.MethodPost, "/api/v1/consultations", form).Code)
	}

	t.Run("list", func(t *testing.T) {
		w := do(t, server, http.MethodGet, "/api/v1/audit?limit=2", "")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Records []*domain.AuditRecord `json:"records"`
			Total   int64                 `json:"total"`
			Limit   int                   `json:"limit"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Len(t, body.Records, 2)
		assert.Equal(t, int64(3), body.Total)
		assert.Equal(t, 2, body.Limit)
	})

	t.Run("bad limit", func(t *testing.T) {
		w := do(t, server, http.MethodGet, "/api/v1/audit?limit=0", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("stats", func(t *testing.T) {
		w := do(t, server, http.MethodGet, "/api/v1/audit/stats", "")
		require.Equal(t, http.StatusOK, w.Code)

		var stats audit.Stats
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
		assert.Equal(t, int64(3), stats.Total)
	})

	t.Run("similar", func(t *testing.T) {
		w := do(t, server, http.MethodGet, "/api/v1/audit/similar?creatinine=2,5&sdma=22&tolerance=0.2", "")
		require.Equal(t, http.StatusOK, w.Code)

		var body struct {
			Records []*domain.AuditRecord `json:"records"`
		}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		assert.Len(t, body.Records, 2)
	})

	t.Run("similar requires markers", func(t *testing.T) {
		w := do(t, server, http.MethodGet, "/api/v1/audit/similar?creatinine=2.5", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("export csv", func(t *testing.T) {
		w := do(t, server, http.MethodGet, "/api/v1/audit/export?format=csv", "")
		require.Equal(t, http.StatusOK, w.Code)
		rows, err := csv.NewReader(w.Body).ReadAll()
		require.NoError(t, err)
		assert.Len(t, rows, 4)
	})

	t.Run("export unknown format", func(t *testing.T) {
		w := do(t, server, http.MethodGet, "/api/v1/audit/export?format=xml", "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		server, _, _ := newTestServer(t, map[string]HealthCheck{
			"audit": func(context.Context) error { return nil },
		})
		w := do(t, server, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusOK, w.Code)
		assert.Contains(t, w.Body.String(), `"status":"healthy"`)
		assert.Contains(t, w.Body.String(), `"version":"test"`)
	})

	t.Run("degraded", func(t *testing.T) {
		server, _, _ := newTestServer(t, map[string]HealthCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		})
		w := do(t, server, http.MethodGet, "/health", "")
		require.Equal(t, http.StatusServiceUnavailable, w.Code)
		assert.Contains(t, w.Body.String(), "connection refused")
	})
}

func TestMetricsEndpoint(t *testing.T) {
	server, _, _ := newTestServer(t, nil)

	require.Equal(t, http.StatusOK, do(t, server, http.MethodPost, "/api/v1/consultations",
		`{"form": {"creatinina": 2.5, "sdma": 22}}`).Code)

	w := do(t, server, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, w.Code)
	body := w.Body.String()
	assert.Contains(t, body, `iris_ckd_consultations_total{case="1",confidence="High"} 1`)
	assert.Contains(t, body, `route="/api/v1/consultations"`)
}

func TestCORSPreflight(t *testing.T) {
	server, _, _ := newTestServer(t, nil)

	w := do(t, server, http.MethodOptions, "/api/v1/consultations", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestStart_ShutsDownOnCancel(t *testing.T) {
	server, _, _ := newTestServer(t, nil)
	server.configManager.GetServerConfig().Host = "127.0.0.1"
	server.configManager.GetServerConfig().Port = 0

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.Start(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
