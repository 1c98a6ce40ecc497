package domain

import (
	"time"
)

// Request Models

// RawForm is the clinical form as submitted by a caller. Numeric fields are
// LabValue so that both JSON numbers and text such as "2,5" are accepted.
type RawForm struct {
	Name          string   `json:"nome,omitempty"`
	Species       string   `json:"especie,omitempty"`
	Breed         string   `json:"raca,omitempty"`
	Age           LabValue `json:"idade,omitempty"`
	Sex           string   `json:"sexo,omitempty"`
	Weight        LabValue `json:"peso,omitempty"`
	Creatinine    LabValue `json:"creatinina,omitempty"`
	SDMA          LabValue `json:"sdma,omitempty"`
	Pressure      LabValue `json:"pressao_arterial,omitempty"`
	PressureAlt   LabValue `json:"pressao,omitempty"`
	UPC           LabValue `json:"upc,omitempty"`
	Symptoms      string   `json:"sintomas,omitempty"`
	Comorbidities string   `json:"comorbidades,omitempty"`
}

// ConsultationRequest carries one staging consultation.
type ConsultationRequest struct {
	Form     RawForm `json:"form"`
	Question string  `json:"question,omitempty"`
}

// Core Data Models

// BiomarkerReading is the normalized lab record for one patient. All numeric
// fields are optional; absence is represented by nil.
type BiomarkerReading struct {
	Creatinine    *float64 `json:"creatinine,omitempty"` // mg/dL
	SDMA          *float64 `json:"sdma,omitempty"`       // µg/dL
	UPC           *float64 `json:"upc,omitempty"`
	Pressure      *float64 `json:"pressure,omitempty"` // systolic, mmHg
	Age           *float64 `json:"age,omitempty"`      // years
	Weight        *float64 `json:"weight,omitempty"`   // kg
	Sex           string   `json:"sex,omitempty"`
	Breed         string   `json:"breed,omitempty"`
	Name          string   `json:"name,omitempty"`
	Symptoms      string   `json:"symptoms,omitempty"`
	Comorbidities string   `json:"comorbidities,omitempty"`
	Question      string   `json:"question,omitempty"`
}

// HasAnyKidneyMarker reports whether creatinine or SDMA was supplied.
func (r BiomarkerReading) HasAnyKidneyMarker() bool {
	return r.Creatinine != nil || r.SDMA != nil
}

// HasBothKidneyMarkers reports whether both creatinine and SDMA were supplied.
func (r BiomarkerReading) HasBothKidneyMarkers() bool {
	return r.Creatinine != nil && r.SDMA != nil
}

// IsElderly flags cats of ten years or older.
func (r BiomarkerReading) IsElderly() bool {
	return r.Age != nil && *r.Age >= 10
}

// StageEstimate is a stage proposal and where it came from.
type StageEstimate struct {
	Stage  *IRISStage         `json:"stage"`
	Source Source             `json:"source"`
	Basis  map[string]float64 `json:"basis,omitempty"`
}

// DiscrepancyVerdict is the result of comparing the creatinine stage with the SDMA stage.
type DiscrepancyVerdict struct {
	CreatinineStage IRISStage  `json:"creatinine_stage"`
	SDMAStage       IRISStage  `json:"sdma_stage"`
	AgreementDelta  int        `json:"agreement_delta"`
	Decision        Decision   `json:"decision"`
	ResolvedStage   *IRISStage `json:"resolved_stage"`
	Reason          string     `json:"reason"`
}

// StageClassification is the output of the biomarker stage classifier.
type StageClassification struct {
	Stage       *IRISStage          `json:"stage"`
	Valid       bool                `json:"valid"`
	Reason      string              `json:"reason,omitempty"`
	Advisory    string              `json:"advisory,omitempty"`
	Estimate    StageEstimate       `json:"estimate"`
	Discrepancy *DiscrepancyVerdict `json:"discrepancy,omitempty"`
}

// Substages groups the proteinuria and hypertension sub-stages.
type Substages struct {
	AP *ProteinuriaSubstage  `json:"subestage_ap"`
	HT *HypertensionSubstage `json:"subestage_ht"`
}

// ValidationVerdict is the rule validator's judgement of a candidate stage.
// Valid is nil when the validator cannot adjudicate.
type ValidationVerdict struct {
	Valid         *bool      `json:"valid"`
	ExpectedStage *IRISStage `json:"expected_stage"`
	RuleApplied   string     `json:"rule_applied"`
	Message       string     `json:"message"`
}

// IsConfirmed reports whether the validator explicitly accepted the candidate.
func (v ValidationVerdict) IsConfirmed() bool {
	return v.Valid != nil && *v.Valid
}

// IsRejected reports whether the validator explicitly rejected the candidate.
func (v ValidationVerdict) IsRejected() bool {
	return v.Valid != nil && !*v.Valid
}

// EvidenceResult is what an evidence retriever returns for one query.
type EvidenceResult struct {
	Query     string     `json:"query"`
	Passages  []string   `json:"passages"`
	Sources   []string   `json:"sources,omitempty"`
	StageHint *IRISStage `json:"stage_hint,omitempty"`
	Summary   string     `json:"summary,omitempty"`
}

// DocCount returns the number of retrieved passages.
func (e *EvidenceResult) DocCount() int {
	if e == nil {
		return 0
	}
	return len(e.Passages)
}

// Response Models

// ConsolidatedResult is the single authoritative outcome of a consultation.
// It is built once by the consolidator and never mutated afterwards.
type ConsolidatedResult struct {
	ConsultationID  string                `json:"consultation_id"`
	Case            Case                  `json:"case"`
	FinalStage      *IRISStage            `json:"final_stage"`
	CandidateStage  *IRISStage            `json:"candidate_stage"`
	LiteratureStage *IRISStage            `json:"literature_stage,omitempty"`
	ExpectedStage   *IRISStage            `json:"expected_stage,omitempty"`
	SubstageAP      *ProteinuriaSubstage  `json:"subestage_ap"`
	SubstageHT      *HypertensionSubstage `json:"subestage_ht"`
	Confidence      Confidence            `json:"confidence"`
	Validation      *bool                 `json:"validation"`
	RuleApplied     string                `json:"rule_applied,omitempty"`
	TreatmentPlan   []string              `json:"treatment_plan"`
	Alerts          []string              `json:"alerts"`
	Message         string                `json:"message"`
	EvidenceDocs    int                   `json:"evidence_docs"`
	Reading         BiomarkerReading      `json:"reading"`
	CreatedAt       time.Time             `json:"created_at"`
}

// Outcome maps the result onto the business error it represents, or nil for
// Case 1 and Case 2.
func (r *ConsolidatedResult) Outcome() error {
	switch r.Case {
	case CaseInsufficient:
		return ErrInsufficientData
	case CaseInvalid:
		if r.Validation != nil && !*r.Validation {
			return ErrValidationDisagreement
		}
		return ErrDiscrepancyTooLarge
	default:
		return nil
	}
}

// ConsultationResponse is the formatted answer returned by adapters.
type ConsultationResponse struct {
	Result         *ConsolidatedResult `json:"result"`
	Text           string              `json:"text"`
	AuditError     string              `json:"audit_error,omitempty"`
	ProcessingTime time.Duration       `json:"processing_time"`
}

// BoolPtr is a convenience for optional validation outcomes.
func BoolPtr(b bool) *bool {
	return &b
}

// Float64Ptr is a convenience for optional lab values.
func Float64Ptr(f float64) *float64 {
	return &f
}
