package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// StageClassifier maps creatinine and SDMA onto an IRIS stage and refuses to
// stage when the two markers disagree by two or more stages.
type StageClassifier struct {
	logger *logrus.Logger
}

// NewStageClassifier creates a new stage classifier
func NewStageClassifier(logger *logrus.Logger) *StageClassifier {
	return &StageClassifier{logger: logger}
}

// ClassifyStage stages a reading. Absent markers are nil.
func (c *StageClassifier) ClassifyStage(creatinine, sdma *float64) domain.StageClassification {
	basis := make(map[string]float64, 2)
	if creatinine != nil {
		basis[string(Creatinine)] = *creatinine
	}
	if sdma != nil {
		basis[string(SDMA)] = *sdma
	}

	result := domain.StageClassification{
		Estimate: domain.StageEstimate{Source: domain.SourceBiomarker, Basis: basis},
	}

	switch {
	case creatinine == nil && sdma == nil:
		result.Valid = false
		result.Reason = "creatinine and SDMA are both absent; at least one is required for IRIS staging"

	case sdma == nil:
		stage := StageFor(Creatinine, *creatinine)
		result.Stage = domain.StagePtr(stage)
		result.Valid = true
		result.Reason = fmt.Sprintf("creatinine %.2f mg/dL indicates %s", *creatinine, stage)
		result.Advisory = "staged on creatinine alone; confirm with SDMA"

	case creatinine == nil:
		stage := StageFor(SDMA, *sdma)
		result.Stage = domain.StagePtr(stage)
		result.Valid = true
		result.Reason = fmt.Sprintf("SDMA %.1f µg/dL indicates %s", *sdma, stage)
		result.Advisory = "staged on SDMA alone; confirm with creatinine"

	default:
		verdict := Discrepancy(StageFor(Creatinine, *creatinine), StageFor(SDMA, *sdma))
		result.Discrepancy = &verdict
		result.Reason = verdict.Reason
		if verdict.Decision == domain.DecisionAccept {
			result.Stage = verdict.ResolvedStage
			result.Valid = true
		} else {
			result.Valid = false
		}
	}

	result.Estimate.Stage = result.Stage

	c.logger.WithFields(logrus.Fields{
		"creatinine": creatinine != nil,
		"sdma":       sdma != nil,
		"stage":      stageLabel(result.Stage),
		"valid":      result.Valid,
	}).Debug("Classified IRIS stage")

	return result
}

func stageLabel(s *domain.IRISStage) string {
	if s == nil {
		return "none"
	}
	return string(*s)
}
