package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

func TestCollector_ObserveConsultation(t *testing.T) {
	c := NewCollector()

	c.ObserveConsultation(&domain.ConsolidatedResult{
		Case:       domain.CaseConfirmed,
		Confidence: domain.HIGH,
		FinalStage: domain.StagePtr(domain.IRIS2),
	}, 5*time.Millisecond)
	c.ObserveConsultation(&domain.ConsolidatedResult{
		Case:       domain.CaseInvalid,
		Confidence: domain.INVALID,
	}, time.Millisecond)
	c.ObserveConsultation(nil, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.consultations.WithLabelValues("1", "High")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.consultations.WithLabelValues("3", "Invalid")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.finalStages.WithLabelValues("IRIS2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.finalStages.WithLabelValues("none")))

	families, err := c.Registry().Gather()
	require.NoError(t, err)
	var samples uint64
	for _, f := range families {
		if f.GetName() == "iris_ckd_consultation_duration_seconds" {
			samples = f.GetMetric()[0].GetHistogram().GetSampleCount()
		}
	}
	assert.Equal(t, uint64(2), samples)
}

func TestCollector_RetrievalAndAudit(t *testing.T) {
	c := NewCollector()

	c.ObserveRetrieval("ok")
	c.ObserveRetrieval("ok")
	c.ObserveRetrieval("failed")
	c.ObserveAudit(nil)
	c.ObserveAudit(errors.New("disk full"))
	c.ObserveHTTP("POST", "/api/v1/consultations", 200)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.retrievals.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.retrievals.WithLabelValues("failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.auditAppends.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.auditAppends.WithLabelValues("error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.httpRequests.WithLabelValues("POST", "/api/v1/consultations", "200")))
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector()
	c.ObserveRetrieval("skipped")

	server := httptest.NewServer(c.Handler())
	defer server.Close()

	resp, err := http.Get(server.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `iris_ckd_literature_retrievals_total{outcome="skipped"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
