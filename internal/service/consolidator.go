package service

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// Alert texts
const (
	AlertCriticalDiscrepancy  = "CRITICAL INCONSISTENCY: creatinine and SDMA show a significant discrepancy"
	AlertCriticalValidation   = "CRITICAL INCONSISTENCY: rule validation rejected the proposed stage"
	AlertCriticalLiterature   = "CRITICAL INCONSISTENCY: literature and biomarkers indicate different stages"
	AlertRepeatLabs           = "Repeat laboratory tests before proceeding with treatment"
	AlertCheckInterference    = "Check for pre-analytical interference and atypical clinical conditions"
	AlertInsufficientData     = "Insufficient clinical data"
	AlertProvideMarkers       = "Please provide creatinine and/or SDMA values"
	AlertRetrievalUnavailable = "Literature retrieval unavailable; result is based on IRIS rules only"
)

// ConsolidationInput gathers everything the consolidator needs for one consultation.
type ConsolidationInput struct {
	ConsultationID string
	Reading        domain.BiomarkerReading
	Classification domain.StageClassification
	Verdict        domain.ValidationVerdict
	Evidence       *domain.EvidenceResult // nil when retrieval was skipped or failed
	RetrievalNote  string
	Substages      domain.Substages
	SubstageAlerts []string
}

// Consolidator merges classification, validation and literature evidence into
// exactly one of four outcome cases.
type Consolidator struct {
	logger *logrus.Logger
	now    func() time.Time
}

// NewConsolidator creates a new consolidator
func NewConsolidator(logger *logrus.Logger) *Consolidator {
	return &Consolidator{
		logger: logger,
		now:    time.Now,
	}
}

// Consolidate applies the case priority: invalid, insufficient, confirmed, inferred.
func (c *Consolidator) Consolidate(in ConsolidationInput) *domain.ConsolidatedResult {
	cls := in.Classification
	verdict := in.Verdict
	candidate := cls.Stage

	var literature *domain.IRISStage
	if in.Evidence != nil {
		literature = in.Evidence.StageHint
	}

	result := &domain.ConsolidatedResult{
		ConsultationID:  in.ConsultationID,
		CandidateStage:  candidate,
		LiteratureStage: literature,
		ExpectedStage:   verdict.ExpectedStage,
		SubstageAP:      in.Substages.AP,
		SubstageHT:      in.Substages.HT,
		Validation:      verdict.Valid,
		RuleApplied:     verdict.RuleApplied,
		EvidenceDocs:    in.Evidence.DocCount(),
		Reading:         in.Reading,
		TreatmentPlan:   []string{},
		Alerts:          []string{},
		CreatedAt:       c.now().UTC(),
	}

	discrepancyRejected := cls.Discrepancy != nil && cls.Discrepancy.Decision == domain.DecisionReject
	literatureConflict := candidate != nil && literature != nil && *literature != *candidate

	switch {
	case discrepancyRejected:
		c.invalid(result, AlertCriticalDiscrepancy, cls.Reason, AlertRepeatLabs, AlertCheckInterference)
		result.Message = "Biomarker discrepancy: " + cls.Reason

	case verdict.IsRejected():
		c.invalid(result, AlertCriticalValidation, verdict.Message, AlertRepeatLabs)
		result.Message = "Validation rejected the proposed stage: " + verdict.Message

	case literatureConflict:
		result.Validation = domain.BoolPtr(false)
		c.invalid(result, AlertCriticalLiterature,
			fmt.Sprintf("Biomarkers indicate %s, literature indicates %s", *candidate, *literature),
			"Review clinical data and repeat the assessment")
		result.Message = fmt.Sprintf("Literature disagrees with the biomarker stage (%s vs %s)", *literature, *candidate)

	case candidate == nil && !in.Reading.HasBothKidneyMarkers():
		c.insufficient(result)

	case candidate != nil && (verdict.IsConfirmed() || literature != nil):
		result.Case = domain.CaseConfirmed
		result.Confidence = domain.HIGH
		result.FinalStage = candidate
		result.Validation = domain.BoolPtr(true)
		if literature != nil {
			result.Message = fmt.Sprintf("%s confirmed: biomarkers and literature agree", *candidate)
		} else {
			result.Message = fmt.Sprintf("%s validated by IRIS rules (%s)", *candidate, verdict.RuleApplied)
		}

	default:
		final := verdict.ExpectedStage
		if final == nil {
			c.insufficient(result)
			break
		}
		result.Case = domain.CaseInferred
		result.Confidence = domain.MODERATE
		result.FinalStage = final
		result.Message = fmt.Sprintf("%s inferred from rules; validation inconclusive", *final)
		if cls.Advisory != "" {
			result.Alerts = append(result.Alerts, cls.Advisory)
		}
	}

	if result.Case == domain.CaseConfirmed || result.Case == domain.CaseInferred {
		result.TreatmentPlan = TreatmentPlan(result.FinalStage)
		if in.RetrievalNote != "" {
			result.Alerts = append(result.Alerts, in.RetrievalNote)
		}
	}
	result.Alerts = append(result.Alerts, in.SubstageAlerts...)

	c.logger.WithFields(logrus.Fields{
		"consultation_id": result.ConsultationID,
		"case":            int(result.Case),
		"confidence":      result.Confidence,
		"final_stage":     stageLabel(result.FinalStage),
		"candidate_stage": stageLabel(candidate),
		"literature":      stageLabel(literature),
	}).Info("Consolidated consultation")

	return result
}

func (c *Consolidator) invalid(result *domain.ConsolidatedResult, alerts ...string) {
	result.Case = domain.CaseInvalid
	result.Confidence = domain.INVALID
	result.FinalStage = nil
	result.TreatmentPlan = []string{}
	for _, a := range alerts {
		if a != "" {
			result.Alerts = append(result.Alerts, a)
		}
	}
}

func (c *Consolidator) insufficient(result *domain.ConsolidatedResult) {
	result.Case = domain.CaseInsufficient
	result.Confidence = domain.LOW
	result.FinalStage = nil
	result.TreatmentPlan = []string{}
	result.Alerts = append(result.Alerts, AlertInsufficientData, AlertProvideMarkers)
	result.Message = "Insufficient data: provide creatinine and SDMA"
}
