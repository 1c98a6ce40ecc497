package audit

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// maxExportLimit is the maximum number of records to export at once.
const maxExportLimit = 1000000

const recordColumns = `id, consultation_id, created_at, creatinine, sdma,
	candidate_stage, reference_stage, final_stage, validation, case_number,
	confidence, question, answer, evidence_docs, rule_applied, elderly,
	substage_ap, substage_ht`

// sqlStore holds the queries shared by the SQLite and PostgreSQL stores.
// Queries are written with ? placeholders and rebound per dialect.
type sqlStore struct {
	db        *sql.DB
	rebind    func(string) string
	returning bool // INSERT ... RETURNING id instead of LastInsertId
}

// scanner is an interface for sql.Row and sql.Rows
type scanner interface {
	Scan(dest ...interface{}) error
}

// scanRecord scans a row into an AuditRecord.
func scanRecord(s scanner) (*domain.AuditRecord, error) {
	r := &domain.AuditRecord{}
	var (
		creatinine, sdma                   sql.NullFloat64
		candidate, reference, final        sql.NullString
		validation                         sql.NullBool
		caseNumber                         int
		confidence, substageAP, substageHT string
	)

	err := s.Scan(
		&r.ID, &r.ConsultationID, &r.Timestamp, &creatinine, &sdma,
		&candidate, &reference, &final, &validation, &caseNumber,
		&confidence, &r.Question, &r.Answer, &r.EvidenceDocs, &r.RuleApplied, &r.Elderly,
		&substageAP, &substageHT,
	)
	if err != nil {
		return nil, err
	}

	r.Creatinine = floatPtr(creatinine)
	r.SDMA = floatPtr(sdma)
	r.CandidateStage = stagePtr(candidate)
	r.ReferenceStage = stagePtr(reference)
	r.FinalStage = stagePtr(final)
	if validation.Valid {
		r.Validation = domain.BoolPtr(validation.Bool)
	}
	r.Case = domain.Case(caseNumber)
	r.Confidence = domain.Confidence(confidence)
	r.SubstageAP = substageAP
	r.SubstageHT = substageHT
	return r, nil
}

// Append writes one record. Results other than Case 1 and Case 2 are refused.
func (s *sqlStore) Append(ctx context.Context, record *domain.AuditRecord) error {
	if record == nil {
		return fmt.Errorf("audit record is required")
	}
	if !record.Case.Persistable() {
		return fmt.Errorf("case %d results are not audited", record.Case)
	}
	if record.Timestamp.IsZero() {
		record.Timestamp = time.Now().UTC()
	}

	query := `
		INSERT INTO audit_records (
			consultation_id, created_at, creatinine, sdma,
			candidate_stage, reference_stage, final_stage, validation, case_number,
			confidence, question, answer, evidence_docs, rule_applied, elderly,
			substage_ap, substage_ht
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	args := []interface{}{
		record.ConsultationID,
		record.Timestamp,
		nullFloat(record.Creatinine),
		nullFloat(record.SDMA),
		nullStage(record.CandidateStage),
		nullStage(record.ReferenceStage),
		nullStage(record.FinalStage),
		nullBool(record.Validation),
		int(record.Case),
		string(record.Confidence),
		record.Question,
		record.Answer,
		record.EvidenceDocs,
		record.RuleApplied,
		record.Elderly,
		record.SubstageAP,
		record.SubstageHT,
	}

	if s.returning {
		err := s.db.QueryRowContext(ctx, s.rebind(query+" RETURNING id"), args...).Scan(&record.ID)
		if err != nil {
			return fmt.Errorf("failed to insert audit record: %w", err)
		}
		return nil
	}

	result, err := s.db.ExecContext(ctx, s.rebind(query), args...)
	if err != nil {
		return fmt.Errorf("failed to insert audit record: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get insert ID: %w", err)
	}
	record.ID = id
	return nil
}

// List returns records with pagination, newest first.
func (s *sqlStore) List(ctx context.Context, limit, offset int) ([]*domain.AuditRecord, error) {
	return s.query(ctx, `
		SELECT `+recordColumns+`
		FROM audit_records
		ORDER BY created_at DESC, id DESC
		LIMIT ? OFFSET ?`, limit, offset)
}

// Count returns the total number of records.
func (s *sqlStore) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_records").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count audit records: %w", err)
	}
	return count, nil
}

// Similar returns records within tolerance of both biomarkers.
func (s *sqlStore) Similar(ctx context.Context, creatinine, sdma, tolerance float64, limit int) ([]*domain.AuditRecord, error) {
	if tolerance <= 0 {
		tolerance = DefaultSimilarityTolerance
	}
	return s.query(ctx, `
		SELECT `+recordColumns+`
		FROM audit_records
		WHERE creatinine BETWEEN ? AND ?
		  AND sdma BETWEEN ? AND ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?`,
		creatinine*(1-tolerance), creatinine*(1+tolerance),
		sdma*(1-tolerance), sdma*(1+tolerance),
		limit,
	)
}

// Stats aggregates the journal.
func (s *sqlStore) Stats(ctx context.Context) (*Stats, error) {
	stats := newStats()

	total, err := s.Count(ctx)
	if err != nil {
		return nil, err
	}
	stats.Total = total

	groups := []struct {
		expr string
		dest map[string]int64
	}{
		{"COALESCE(final_stage, 'none')", stats.ByFinalStage},
		{"CASE WHEN validation IS NULL THEN 'none' WHEN validation THEN 'true' ELSE 'false' END", stats.ByValidation},
		{"case_number", stats.ByCase},
		{"rule_applied", stats.ByRule},
		{"confidence", stats.ByConfidence},
	}
	for _, g := range groups {
		if err := s.groupCount(ctx, g.expr, g.dest); err != nil {
			return nil, err
		}
	}

	if stats.Creatinine, err = s.markerStats(ctx, "creatinine"); err != nil {
		return nil, err
	}
	if stats.SDMA, err = s.markerStats(ctx, "sdma"); err != nil {
		return nil, err
	}
	return stats, nil
}

// ExportJSON exports all records to a JSON writer.
func (s *sqlStore) ExportJSON(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list audit records: %w", err)
	}
	return writeJSONExport(writer, all)
}

// ExportCSV exports all records as CSV.
func (s *sqlStore) ExportCSV(ctx context.Context, writer io.Writer) error {
	all, err := s.List(ctx, maxExportLimit, 0)
	if err != nil {
		return fmt.Errorf("failed to list audit records: %w", err)
	}
	return writeCSVExport(writer, all)
}

// Close closes the store and releases resources.
func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) query(ctx context.Context, query string, args ...interface{}) ([]*domain.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit records: %w", err)
	}
	defer rows.Close()

	var result []*domain.AuditRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

func (s *sqlStore) groupCount(ctx context.Context, expr string, dest map[string]int64) error {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf("SELECT %s AS k, COUNT(*) FROM audit_records GROUP BY k", expr))
	if err != nil {
		return fmt.Errorf("failed to aggregate audit records: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var n int64
		if err := rows.Scan(&key, &n); err != nil {
			return fmt.Errorf("failed to scan aggregate: %w", err)
		}
		dest[key] = n
	}
	return rows.Err()
}

func (s *sqlStore) markerStats(ctx context.Context, column string) (*MarkerStats, error) {
	var mean, lo, hi sql.NullFloat64
	err := s.db.QueryRowContext(ctx, fmt.Sprintf(
		"SELECT AVG(%[1]s), MIN(%[1]s), MAX(%[1]s) FROM audit_records WHERE %[1]s IS NOT NULL", column),
	).Scan(&mean, &lo, &hi)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize %s: %w", column, err)
	}
	if !mean.Valid {
		return nil, nil
	}
	return &MarkerStats{Mean: mean.Float64, Min: lo.Float64, Max: hi.Float64}, nil
}

func writeJSONExport(w io.Writer, records []*domain.AuditRecord) error {
	if records == nil {
		records = []*domain.AuditRecord{}
	}
	export := &Export{
		Version:    "1.0",
		ExportedAt: time.Now().UTC(),
		Count:      len(records),
		Records:    records,
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(export)
}

var csvHeader = []string{
	"id", "consultation_id", "timestamp", "creatinine", "sdma",
	"candidate_stage", "reference_stage", "final_stage", "validation", "case",
	"confidence", "question", "answer", "evidence_docs", "rule_applied", "elderly",
	"substage_ap", "substage_ht",
}

func writeCSVExport(w io.Writer, records []*domain.AuditRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, r := range records {
		row := []string{
			strconv.FormatInt(r.ID, 10),
			r.ConsultationID,
			r.Timestamp.UTC().Format(time.RFC3339),
			formatFloat(r.Creatinine),
			formatFloat(r.SDMA),
			formatStage(r.CandidateStage),
			formatStage(r.ReferenceStage),
			formatStage(r.FinalStage),
			formatBool(r.Validation),
			strconv.Itoa(int(r.Case)),
			string(r.Confidence),
			r.Question,
			r.Answer,
			strconv.Itoa(r.EvidenceDocs),
			r.RuleApplied,
			strconv.FormatBool(r.Elderly),
			r.SubstageAP,
			r.SubstageHT,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// rebindDollar rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func rebindDollar(query string) string {
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func identity(query string) string { return query }

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullStage(s *domain.IRISStage) interface{} {
	if s == nil {
		return nil
	}
	return string(*s)
}

func nullBool(b *bool) interface{} {
	if b == nil {
		return nil
	}
	return *b
}

func floatPtr(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	return domain.Float64Ptr(n.Float64)
}

func stagePtr(n sql.NullString) *domain.IRISStage {
	if !n.Valid || n.String == "" {
		return nil
	}
	return domain.StagePtr(domain.IRISStage(n.String))
}

func formatFloat(f *float64) string {
	if f == nil {
		return ""
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}

func formatStage(s *domain.IRISStage) string {
	if s == nil {
		return ""
	}
	return string(*s)
}

func formatBool(b *bool) string {
	if b == nil {
		return ""
	}
	return strconv.FormatBool(*b)
}
