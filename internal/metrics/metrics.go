// Package metrics exports consultation counters in Prometheus format.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

const namespace = "iris_ckd"

// Collector implements service.Observer on a private registry.
type Collector struct {
	registry      *prometheus.Registry
	consultations *prometheus.CounterVec
	finalStages   *prometheus.CounterVec
	duration      prometheus.Histogram
	retrievals    *prometheus.CounterVec
	auditAppends  *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
}

// NewCollector registers the consultation metrics and the Go runtime
// collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		consultations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consultations_total",
			Help:      "Consultations by consolidation case and confidence.",
		}, []string{"case", "confidence"}),
		finalStages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "final_stage_total",
			Help:      "Consultations by final IRIS stage.",
		}, []string{"stage"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "consultation_duration_seconds",
			Help:      "End to end consultation latency.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		retrievals: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "literature_retrievals_total",
			Help:      "Literature retrieval attempts by outcome.",
		}, []string{"outcome"}),
		auditAppends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audit_appends_total",
			Help:      "Audit journal appends by result.",
		}, []string{"result"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status.",
		}, []string{"method", "route", "status"}),
	}

	c.registry.MustRegister(
		c.consultations,
		c.finalStages,
		c.duration,
		c.retrievals,
		c.auditAppends,
		c.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveConsultation records the outcome of one consultation.
func (c *Collector) ObserveConsultation(result *domain.ConsolidatedResult, elapsed time.Duration) {
	if result == nil {
		return
	}
	c.consultations.WithLabelValues(strconv.Itoa(int(result.Case)), string(result.Confidence)).Inc()

	stage := "none"
	if result.FinalStage != nil {
		stage = string(*result.FinalStage)
	}
	c.finalStages.WithLabelValues(stage).Inc()
	c.duration.Observe(elapsed.Seconds())
}

// ObserveRetrieval records one retrieval outcome.
func (c *Collector) ObserveRetrieval(outcome string) {
	c.retrievals.WithLabelValues(outcome).Inc()
}

// ObserveAudit records one audit append.
func (c *Collector) ObserveAudit(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	c.auditAppends.WithLabelValues(result).Inc()
}

// ObserveHTTP records one served HTTP request.
func (c *Collector) ObserveHTTP(method, route string, status int) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
}

// Registry exposes the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
