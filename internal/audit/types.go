// Package audit provides the append-only journal of confirmed and inferred
// staging consultations. Only Case 1 and Case 2 results are ever written.
package audit

import (
	"context"
	"io"
	"time"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// DefaultSimilarityTolerance is the relative window used to find past cases
// with comparable creatinine and SDMA (±30%).
const DefaultSimilarityTolerance = 0.3

// Store defines the interface for audit storage operations.
type Store interface {
	domain.AuditLog

	// List returns records with pagination, newest first.
	List(ctx context.Context, limit, offset int) ([]*domain.AuditRecord, error)

	// Count returns the total number of records.
	Count(ctx context.Context) (int64, error)

	// Stats aggregates the journal by stage, validation, case, rule and confidence.
	Stats(ctx context.Context) (*Stats, error)

	// Similar returns past records whose creatinine and SDMA both fall within
	// tolerance of the given values.
	Similar(ctx context.Context, creatinine, sdma, tolerance float64, limit int) ([]*domain.AuditRecord, error)

	// ExportJSON writes all records to a JSON writer.
	ExportJSON(ctx context.Context, writer io.Writer) error

	// ExportCSV writes all records as CSV with a header row.
	ExportCSV(ctx context.Context, writer io.Writer) error

	// Close closes the store and releases resources.
	Close() error
}

// MarkerStats summarizes one biomarker across the journal.
type MarkerStats struct {
	Mean float64 `json:"mean"`
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
}

// Stats is the aggregate view of the journal.
type Stats struct {
	Total        int64            `json:"total"`
	ByFinalStage map[string]int64 `json:"by_final_stage"`
	ByValidation map[string]int64 `json:"by_validation"`
	ByCase       map[string]int64 `json:"by_case"`
	ByRule       map[string]int64 `json:"by_rule"`
	ByConfidence map[string]int64 `json:"by_confidence"`
	Creatinine   *MarkerStats     `json:"creatinine,omitempty"`
	SDMA         *MarkerStats     `json:"sdma,omitempty"`
}

// Export represents the JSON export format.
type Export struct {
	Version    string                `json:"version"`
	ExportedAt time.Time             `json:"exported_at"`
	Count      int                   `json:"count"`
	Records    []*domain.AuditRecord `json:"records"`
}

// NopStore discards every record. It is used when auditing is disabled.
type NopStore struct{}

func (NopStore) Append(context.Context, *domain.AuditRecord) error { return nil }

func (NopStore) List(context.Context, int, int) ([]*domain.AuditRecord, error) { return nil, nil }

func (NopStore) Count(context.Context) (int64, error) { return 0, nil }

func (NopStore) Stats(context.Context) (*Stats, error) { return newStats(), nil }

func (NopStore) Similar(context.Context, float64, float64, float64, int) ([]*domain.AuditRecord, error) {
	return nil, nil
}

func (NopStore) ExportJSON(ctx context.Context, w io.Writer) error {
	return writeJSONExport(w, nil)
}

func (NopStore) ExportCSV(ctx context.Context, w io.Writer) error {
	return writeCSVExport(w, nil)
}

func (NopStore) Close() error { return nil }

func newStats() *Stats {
	return &Stats{
		ByFinalStage: map[string]int64{},
		ByValidation: map[string]int64{},
		ByCase:       map[string]int64{},
		ByRule:       map[string]int64{},
		ByConfidence: map[string]int64{},
	}
}
