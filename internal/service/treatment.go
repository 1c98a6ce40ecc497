package service

import (
	"github.com/iris-ckd-mcp-server/internal/domain"
)

var treatmentPlans = map[domain.IRISStage][]string{
	domain.IRIS1: {
		"Monitor creatinine and SDMA every 6-12 months",
		"Assess risk factors and comorbidities",
	},
	domain.IRIS2: {
		"Introduce a renal diet",
		"Monitor blood pressure",
		"Assess proteinuria (UPC)",
	},
	domain.IRIS3: {
		"Strict renal diet",
		"Tight blood pressure control",
		"Consider phosphate binders",
	},
	domain.IRIS4: {
		"Intensive clinical support",
		"Symptomatic control",
		"Palliative care when indicated",
	},
}

// TreatmentPlan returns a copy of the recommendations for a stage, or an empty
// plan when the stage is nil or unknown.
func TreatmentPlan(stage *domain.IRISStage) []string {
	if stage == nil {
		return []string{}
	}
	plan, ok := treatmentPlans[*stage]
	if !ok {
		return []string{}
	}
	out := make([]string, len(plan))
	copy(out, plan)
	return out
}
