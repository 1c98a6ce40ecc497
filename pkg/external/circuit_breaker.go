package external

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// CircuitBreakerConfig represents circuit breaker configuration
type CircuitBreakerConfig struct {
	MaxRequests uint32        `json:"max_requests"`
	Interval    time.Duration `json:"interval"`
	Timeout     time.Duration `json:"timeout"`
}

// DefaultCircuitBreakerConfig is tuned conservatively for PubMed.
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
	}
}

// ResilientRetriever wraps an evidence retriever with a cache and a circuit
// breaker. Cached results are served even while the breaker is open.
type ResilientRetriever struct {
	next    domain.EvidenceRetriever
	cache   domain.EvidenceCache
	breaker *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

// NewResilientRetriever creates a resilient retriever. cache may be nil.
func NewResilientRetriever(next domain.EvidenceRetriever, cache domain.EvidenceCache, config CircuitBreakerConfig, logger *logrus.Logger) *ResilientRetriever {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "PubMed",
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 2 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("Circuit breaker state changed")
		},
	})

	return &ResilientRetriever{
		next:    next,
		cache:   cache,
		breaker: breaker,
		logger:  logger,
	}
}

// Available reports whether the wrapped retriever is configured.
func (r *ResilientRetriever) Available() bool {
	return r.next != nil && r.next.Available()
}

// Search serves from cache when possible and otherwise calls through the
// breaker, caching successful results.
func (r *ResilientRetriever) Search(ctx context.Context, query string) (*domain.EvidenceResult, error) {
	if cached, ok := r.lookup(ctx, query); ok {
		return cached, nil
	}

	result, err := r.breaker.Execute(func() (interface{}, error) {
		return r.next.Search(ctx, query)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: circuit breaker %s", domain.ErrCollaboratorUnavailable, r.breaker.State())
		}
		return nil, fmt.Errorf("literature query failed: %w", err)
	}

	evidence := result.(*domain.EvidenceResult)
	if r.cache != nil {
		if cacheErr := r.cache.Set(ctx, query, evidence); cacheErr != nil {
			r.logger.WithError(cacheErr).Warn("Failed to cache literature result")
		}
	}
	return evidence, nil
}

func (r *ResilientRetriever) lookup(ctx context.Context, query string) (*domain.EvidenceResult, bool) {
	if r.cache == nil {
		return nil, false
	}
	cached, found, err := r.cache.Get(ctx, query)
	if err != nil {
		r.logger.WithError(err).Warn("Literature cache lookup failed")
		return nil, false
	}
	return cached, found
}

// State returns the current breaker state.
func (r *ResilientRetriever) State() gobreaker.State {
	return r.breaker.State()
}

// Counts returns the breaker counters for the current interval.
func (r *ResilientRetriever) Counts() gobreaker.Counts {
	return r.breaker.Counts()
}
