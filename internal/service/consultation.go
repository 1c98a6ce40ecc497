package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

const (
	// DefaultRetrievalTimeout bounds the only blocking call of a consultation.
	DefaultRetrievalTimeout = 10 * time.Second

	// maxAuditTextLength truncates questions and answers stored in the audit log.
	maxAuditTextLength = 500

	literatureQueryBase = "feline chronic kidney disease IRIS guideline cat"
)

// Observer receives pipeline events, typically for metrics.
type Observer interface {
	ObserveConsultation(result *domain.ConsolidatedResult, elapsed time.Duration)
	ObserveRetrieval(outcome string)
	ObserveAudit(err error)
}

// Retrieval outcomes reported to the Observer
const (
	RetrievalSkipped     = "skipped"
	RetrievalUnavailable = "unavailable"
	RetrievalFailed      = "failed"
	RetrievalOK          = "ok"
)

// ConsultationService runs one consultation through staging, validation,
// literature lookup, consolidation and audit.
type ConsultationService struct {
	logger           *logrus.Logger
	parser           *domain.InputParser
	stageClassifier  *StageClassifier
	substages        *SubstageClassifier
	validator        *RuleValidator
	consolidator     *Consolidator
	formatter        *ResponseFormatter
	retriever        domain.EvidenceRetriever
	auditLog         domain.AuditLog
	observer         Observer
	retrievalTimeout time.Duration
}

// ConsultationOption is a functional option for ConsultationService.
type ConsultationOption func(*ConsultationService)

// WithRetriever sets the literature evidence retriever.
func WithRetriever(r domain.EvidenceRetriever) ConsultationOption {
	return func(s *ConsultationService) {
		s.retriever = r
	}
}

// WithAuditLog sets the audit log. Without one, nothing is persisted.
func WithAuditLog(a domain.AuditLog) ConsultationOption {
	return func(s *ConsultationService) {
		s.auditLog = a
	}
}

// WithObserver sets the pipeline observer.
func WithObserver(o Observer) ConsultationOption {
	return func(s *ConsultationService) {
		s.observer = o
	}
}

// WithRetrievalTimeout overrides DefaultRetrievalTimeout.
func WithRetrievalTimeout(d time.Duration) ConsultationOption {
	return func(s *ConsultationService) {
		if d > 0 {
			s.retrievalTimeout = d
		}
	}
}

// WithInputParser replaces the default lenient parser.
func WithInputParser(p *domain.InputParser) ConsultationOption {
	return func(s *ConsultationService) {
		s.parser = p
	}
}

// NewConsultationService creates a new consultation service
func NewConsultationService(logger *logrus.Logger, opts ...ConsultationOption) *ConsultationService {
	s := &ConsultationService{
		logger:           logger,
		parser:           domain.NewInputParser(),
		stageClassifier:  NewStageClassifier(logger),
		substages:        NewSubstageClassifier(),
		validator:        NewRuleValidator(logger),
		consolidator:     NewConsolidator(logger),
		formatter:        NewResponseFormatter(),
		retrievalTimeout: DefaultRetrievalTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Consult parses the request and evaluates it. Malformed input is returned as
// domain.ValidationErrors; every other outcome, including insufficient or
// inconsistent data, is carried in the response.
func (s *ConsultationService) Consult(ctx context.Context, req domain.ConsultationRequest) (*domain.ConsultationResponse, error) {
	startTime := time.Now()

	reading, err := s.parser.Parse(req)
	if err != nil {
		s.logger.WithError(err).Warn("Rejected malformed consultation input")
		return nil, fmt.Errorf("invalid consultation input: %w", err)
	}

	result := s.Evaluate(ctx, reading)
	text := s.formatter.Text(result)

	resp := &domain.ConsultationResponse{
		Result: result,
		Text:   text,
	}

	if err := s.record(ctx, result, text); err != nil {
		resp.AuditError = err.Error()
	}

	resp.ProcessingTime = time.Since(startTime)
	if s.observer != nil {
		s.observer.ObserveConsultation(result, resp.ProcessingTime)
	}

	s.logger.WithFields(logrus.Fields{
		"consultation_id": result.ConsultationID,
		"case":            int(result.Case),
		"confidence":      result.Confidence,
		"outcome":         domain.ErrorCode(result.Outcome()),
		"processing_time": resp.ProcessingTime,
		"audit_error":     resp.AuditError != "",
	}).Info("Consultation completed")

	return resp, nil
}

// Evaluate runs the staging pipeline on an already parsed reading.
func (s *ConsultationService) Evaluate(ctx context.Context, reading domain.BiomarkerReading) *domain.ConsolidatedResult {
	consultationID := uuid.New().String()

	// Step 1: stage from biomarkers
	cls := s.stageClassifier.ClassifyStage(reading.Creatinine, reading.SDMA)

	// Step 2: sub-stages
	substages := s.substages.Classify(reading)

	// Step 3: independent rule validation
	verdict := s.validator.ValidateClassification(reading.Creatinine, reading.SDMA, cls)

	// Step 4: literature, degraded to rules only on failure
	evidence, note := s.retrieve(ctx, consultationID, reading, cls)

	// Step 5: consolidate
	return s.consolidator.Consolidate(ConsolidationInput{
		ConsultationID: consultationID,
		Reading:        reading,
		Classification: cls,
		Verdict:        verdict,
		Evidence:       evidence,
		RetrievalNote:  note,
		Substages:      substages,
		SubstageAlerts: s.substages.Alerts(reading, substages),
	})
}

// ClassifyStage exposes the stage classifier.
func (s *ConsultationService) ClassifyStage(creatinine, sdma *float64) domain.StageClassification {
	return s.stageClassifier.ClassifyStage(creatinine, sdma)
}

// ClassifySubstages exposes the sub-stage classifier.
func (s *ConsultationService) ClassifySubstages(upc, pressure *float64) domain.Substages {
	return domain.Substages{
		AP: s.substages.ClassifyProteinuria(upc),
		HT: s.substages.ClassifyHypertension(pressure),
	}
}

// ValidateStage exposes the rule validator. A nil candidate with abstained set
// judges a deliberate refusal to stage.
func (s *ConsultationService) ValidateStage(creatinine, sdma *float64, candidate *domain.IRISStage, abstained bool) domain.ValidationVerdict {
	if candidate == nil && abstained {
		return s.validator.ValidateAbstention(creatinine, sdma)
	}
	return s.validator.Validate(creatinine, sdma, candidate)
}

func (s *ConsultationService) retrieve(ctx context.Context, consultationID string, reading domain.BiomarkerReading, cls domain.StageClassification) (*domain.EvidenceResult, string) {
	if cls.Discrepancy != nil && cls.Discrepancy.Decision == domain.DecisionReject {
		s.observeRetrieval(RetrievalSkipped)
		return nil, ""
	}
	if !reading.HasAnyKidneyMarker() {
		s.observeRetrieval(RetrievalSkipped)
		return nil, ""
	}
	if s.retriever == nil || !s.retriever.Available() {
		s.observeRetrieval(RetrievalUnavailable)
		return nil, ""
	}

	query := BuildLiteratureQuery(reading)
	logger := s.logger.WithFields(logrus.Fields{
		"consultation_id": consultationID,
		"query":           query,
	})

	rctx, cancel := context.WithTimeout(ctx, s.retrievalTimeout)
	defer cancel()

	type searchResult struct {
		evidence *domain.EvidenceResult
		err      error
	}
	done := make(chan searchResult, 1)
	go func() {
		ev, err := s.retriever.Search(rctx, query)
		done <- searchResult{evidence: ev, err: err}
	}()

	var res searchResult
	select {
	case res = <-done:
	case <-rctx.Done():
		res = searchResult{err: rctx.Err()}
	}

	if res.err != nil {
		logger.WithError(res.err).Warn("Literature retrieval failed, proceeding with IRIS rules only")
		s.observeRetrieval(RetrievalFailed)
		return nil, AlertRetrievalUnavailable
	}

	s.observeRetrieval(RetrievalOK)
	logger.WithFields(logrus.Fields{
		"documents":  res.evidence.DocCount(),
		"stage_hint": stageHintLabel(res.evidence),
	}).Debug("Literature retrieved")
	return res.evidence, ""
}

func (s *ConsultationService) record(ctx context.Context, result *domain.ConsolidatedResult, answer string) error {
	if s.auditLog == nil || !result.Case.Persistable() {
		return nil
	}

	record := NewAuditRecord(result, answer)
	err := s.auditLog.Append(ctx, record)
	if s.observer != nil {
		s.observer.ObserveAudit(err)
	}
	if err != nil {
		s.logger.WithError(err).WithField("consultation_id", result.ConsultationID).Error("Failed to append audit record")
		return fmt.Errorf("audit append failed: %w", err)
	}
	return nil
}

func (s *ConsultationService) observeRetrieval(outcome string) {
	if s.observer != nil {
		s.observer.ObserveRetrieval(outcome)
	}
}

// NewAuditRecord builds the persisted form of a result.
func NewAuditRecord(result *domain.ConsolidatedResult, answer string) *domain.AuditRecord {
	reference := result.LiteratureStage
	if reference == nil {
		reference = result.ExpectedStage
	}

	record := &domain.AuditRecord{
		ConsultationID: result.ConsultationID,
		Timestamp:      result.CreatedAt,
		Creatinine:     result.Reading.Creatinine,
		SDMA:           result.Reading.SDMA,
		CandidateStage: result.CandidateStage,
		ReferenceStage: reference,
		FinalStage:     result.FinalStage,
		Validation:     result.Validation,
		Case:           result.Case,
		Confidence:     result.Confidence,
		Question:       truncate(result.Reading.Question, maxAuditTextLength),
		Answer:         truncate(answer, maxAuditTextLength),
		EvidenceDocs:   result.EvidenceDocs,
		RuleApplied:    result.RuleApplied,
		Elderly:        result.Reading.IsElderly(),
	}
	if result.SubstageAP != nil {
		record.SubstageAP = string(*result.SubstageAP)
	}
	if result.SubstageHT != nil {
		record.SubstageHT = string(*result.SubstageHT)
	}
	return record
}

// BuildLiteratureQuery assembles the retrieval query for a reading.
func BuildLiteratureQuery(reading domain.BiomarkerReading) string {
	parts := []string{literatureQueryBase}
	if reading.Creatinine != nil {
		parts = append(parts, "creatinine "+strconv.FormatFloat(*reading.Creatinine, 'f', -1, 64))
	}
	if reading.SDMA != nil {
		parts = append(parts, "SDMA "+strconv.FormatFloat(*reading.SDMA, 'f', -1, 64))
	}
	if q := strings.TrimSpace(reading.Question); q != "" {
		parts = append(parts, q)
	}
	return strings.Join(parts, " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func stageHintLabel(e *domain.EvidenceResult) string {
	if e == nil {
		return "none"
	}
	return stageLabel(e.StageHint)
}
