package service

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// Rules reported by the validator
const (
	RuleNoCandidate       = "No candidate stage supplied"
	RuleIncompleteMarkers = "Complete validation requires creatinine and SDMA"
	RulePerfectAgreement  = "Perfect agreement (official IRIS table)"
	RuleTableDisagreement = "Disagreement with official IRIS table"
	RuleHigherStage       = "IRIS rule: use the higher stage when the difference is at most 1"
	RuleHigherMisapplied  = "IRIS rule misapplied: the higher stage must be used"
	RuleDoNotStage        = "IRIS rule: do not stage when the difference is 2 or more"
)

// RuleValidator independently re-derives the expected stage from the IRIS
// table and judges a candidate stage against it. It performs no I/O.
type RuleValidator struct {
	logger *logrus.Logger
}

// NewRuleValidator creates a new rule validator
func NewRuleValidator(logger *logrus.Logger) *RuleValidator {
	return &RuleValidator{logger: logger}
}

// Validate judges a candidate stage. A nil candidate means nothing was proposed.
func (v *RuleValidator) Validate(creatinine, sdma *float64, candidate *domain.IRISStage) domain.ValidationVerdict {
	return v.validate(creatinine, sdma, candidate, false)
}

// ValidateAbstention judges a classifier that deliberately declined to stage.
// Declining is correct only when the markers disagree by two or more stages.
func (v *RuleValidator) ValidateAbstention(creatinine, sdma *float64) domain.ValidationVerdict {
	return v.validate(creatinine, sdma, nil, true)
}

// ValidateClassification judges the output of the stage classifier, treating a
// rejected discrepancy as a deliberate abstention.
func (v *RuleValidator) ValidateClassification(creatinine, sdma *float64, cls domain.StageClassification) domain.ValidationVerdict {
	if cls.Stage == nil && cls.Discrepancy != nil && cls.Discrepancy.Decision == domain.DecisionReject {
		return v.ValidateAbstention(creatinine, sdma)
	}
	return v.Validate(creatinine, sdma, cls.Stage)
}

func (v *RuleValidator) validate(creatinine, sdma *float64, candidate *domain.IRISStage, abstained bool) domain.ValidationVerdict {
	if candidate == nil && !abstained {
		return domain.ValidationVerdict{
			RuleApplied: RuleNoCandidate,
			Message:     "no stage was proposed, nothing to validate",
		}
	}

	if creatinine == nil || sdma == nil {
		return domain.ValidationVerdict{
			ExpectedStage: candidate,
			RuleApplied:   RuleIncompleteMarkers,
			Message:       "validation is inconclusive without both creatinine and SDMA",
		}
	}

	cStage := StageFor(Creatinine, *creatinine)
	sStage := StageFor(SDMA, *sdma)
	d := Discrepancy(cStage, sStage)
	proposed := stageLabel(candidate)

	var verdict domain.ValidationVerdict
	switch d.AgreementDelta {
	case 0:
		ok := candidate != nil && *candidate == cStage
		verdict = domain.ValidationVerdict{
			Valid:         domain.BoolPtr(ok),
			ExpectedStage: domain.StagePtr(cStage),
		}
		if ok {
			verdict.RuleApplied = RulePerfectAgreement
			verdict.Message = fmt.Sprintf("confirmed: creatinine and SDMA agree on %s", cStage)
		} else {
			verdict.RuleApplied = RuleTableDisagreement
			verdict.Message = fmt.Sprintf("proposed %s but creatinine (%.2f) and SDMA (%.1f) indicate %s",
				proposed, *creatinine, *sdma, cStage)
		}

	case 1:
		expected := *d.ResolvedStage
		ok := candidate != nil && *candidate == expected
		verdict = domain.ValidationVerdict{
			Valid:         domain.BoolPtr(ok),
			ExpectedStage: domain.StagePtr(expected),
		}
		if ok {
			verdict.RuleApplied = RuleHigherStage
			verdict.Message = fmt.Sprintf("confirmed: one-stage difference accepted, using %s (higher stage)", expected)
		} else {
			verdict.RuleApplied = RuleHigherMisapplied
			verdict.Message = fmt.Sprintf("proposed %s but expected %s (higher of creatinine %s and SDMA %s)",
				proposed, expected, cStage, sStage)
		}

	default:
		ok := candidate == nil
		verdict = domain.ValidationVerdict{
			Valid:       domain.BoolPtr(ok),
			RuleApplied: RuleDoNotStage,
		}
		if ok {
			verdict.Message = fmt.Sprintf("correctly not staged: %d-stage difference (creatinine %s, SDMA %s)",
				d.AgreementDelta, cStage, sStage)
		} else {
			verdict.Message = fmt.Sprintf("%s should not have been proposed: %d-stage difference (creatinine %s, SDMA %s)",
				proposed, d.AgreementDelta, cStage, sStage)
		}
	}

	v.logger.WithFields(logrus.Fields{
		"candidate": proposed,
		"expected":  stageLabel(verdict.ExpectedStage),
		"delta":     d.AgreementDelta,
		"valid":     *verdict.Valid,
		"rule":      verdict.RuleApplied,
	}).Debug("Validated stage against IRIS rules")

	return verdict
}
