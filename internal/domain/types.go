// Package domain contains core entities for feline chronic kidney disease staging
// following the International Renal Interest Society (IRIS) guidelines.
//
// Reference: IRIS Staging of CKD (modified 2023), http://www.iris-kidney.com
package domain

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// IRISStage is the CKD stage derived from fasting creatinine and SDMA.
type IRISStage string

const (
	IRIS1 IRISStage = "IRIS1"
	IRIS2 IRISStage = "IRIS2"
	IRIS3 IRISStage = "IRIS3"
	IRIS4 IRISStage = "IRIS4"
)

// ProteinuriaSubstage is the IRIS sub-stage derived from the urine protein:creatinine ratio.
type ProteinuriaSubstage string

const (
	AP0 ProteinuriaSubstage = "AP0" // non-proteinuric
	AP1 ProteinuriaSubstage = "AP1" // borderline proteinuric
	AP2 ProteinuriaSubstage = "AP2" // proteinuric
)

// HypertensionSubstage is the IRIS sub-stage derived from systolic blood pressure.
type HypertensionSubstage string

const (
	HT0 HypertensionSubstage = "HT0" // normotensive
	HT1 HypertensionSubstage = "HT1" // prehypertensive
	HT2 HypertensionSubstage = "HT2" // hypertensive
	HT3 HypertensionSubstage = "HT3" // severely hypertensive
)

// Confidence is the confidence attached to a consolidated result.
type Confidence string

const (
	HIGH     Confidence = "High"
	MODERATE Confidence = "Moderate"
	LOW      Confidence = "Low"
	INVALID  Confidence = "Invalid"
)

// Case identifies which consolidation outcome was reached.
type Case int

const (
	CaseConfirmed    Case = 1
	CaseInferred     Case = 2
	CaseInvalid      Case = 3
	CaseInsufficient Case = 4
)

// Source identifies where a stage estimate came from.
type Source string

const (
	SourceBiomarker  Source = "biomarker"
	SourceRules      Source = "rules"
	SourceLiterature Source = "literature"
)

// Decision is the outcome of comparing the creatinine and SDMA stages.
type Decision string

const (
	DecisionAccept Decision = "accept"
	DecisionReject Decision = "reject"
)

var (
	ErrInvalidStage      = errors.New("invalid IRIS stage")
	ErrInvalidConfidence = errors.New("invalid confidence level")
)

var stageDigit = regexp.MustCompile(`^(?:IRIS|STAGE|ESTAGIO|ESTÁGIO)?\s*([1-4])$`)

// ParseIRISStage normalizes free-form stage text such as "IRIS 2", "iris2",
// "Stage 3" or "4" into an IRISStage.
func ParseIRISStage(s string) (IRISStage, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.ReplaceAll(normalized, "IRIS STAGE", "IRIS")
	normalized = strings.ReplaceAll(normalized, "_", "")

	m := stageDigit.FindStringSubmatch(normalized)
	if m == nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidStage, s)
	}
	return IRISStage("IRIS" + m[1]), nil
}

// StageFromNumber returns the stage for 1..4.
func StageFromNumber(n int) (IRISStage, error) {
	if n < 1 || n > 4 {
		return "", fmt.Errorf("%w: %d", ErrInvalidStage, n)
	}
	return IRISStage("IRIS" + strconv.Itoa(n)), nil
}

// IsValid reports whether the stage is one of IRIS1..IRIS4.
func (s IRISStage) IsValid() bool {
	switch s {
	case IRIS1, IRIS2, IRIS3, IRIS4:
		return true
	default:
		return false
	}
}

// Number returns the ordinal of the stage, or 0 when the stage is invalid.
func (s IRISStage) Number() int {
	if !s.IsValid() {
		return 0
	}
	n, _ := strconv.Atoi(strings.TrimPrefix(string(s), "IRIS"))
	return n
}

func (s IRISStage) String() string {
	return string(s)
}

// Description returns a short clinical description of the stage.
func (s IRISStage) Description() string {
	switch s {
	case IRIS1:
		return "Stage 1 - non-azotaemic CKD"
	case IRIS2:
		return "Stage 2 - mild renal azotaemia"
	case IRIS3:
		return "Stage 3 - moderate renal azotaemia"
	case IRIS4:
		return "Stage 4 - severe renal azotaemia, increased risk of systemic signs"
	default:
		return "Unknown stage"
	}
}

// StagePtr is a convenience for building optional stages.
func StagePtr(s IRISStage) *IRISStage {
	return &s
}

// IsValid validates the confidence level.
func (c Confidence) IsValid() bool {
	switch c {
	case HIGH, MODERATE, LOW, INVALID:
		return true
	default:
		return false
	}
}

func (c Case) String() string {
	switch c {
	case CaseConfirmed:
		return "confirmed"
	case CaseInferred:
		return "inferred"
	case CaseInvalid:
		return "invalid"
	case CaseInsufficient:
		return "insufficient"
	default:
		return "unknown"
	}
}

// Persistable reports whether results of this case are written to the audit log.
func (c Case) Persistable() bool {
	return c == CaseConfirmed || c == CaseInferred
}
