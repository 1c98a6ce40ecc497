package service

import (
	"fmt"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// Substage thresholds
const (
	upcBorderline  = 0.2 // AP1 lower bound, inclusive
	upcProteinuric = 0.4 // AP1 upper bound, inclusive

	pressurePrehypertensive = 140.0
	pressureHypertensive    = 160.0
	pressureSevere          = 180.0
)

// SubstageClassifier assigns the proteinuria and hypertension sub-stages.
// Missing inputs yield nil sub-stages, never an error.
type SubstageClassifier struct{}

// NewSubstageClassifier creates a new sub-stage classifier
func NewSubstageClassifier() *SubstageClassifier {
	return &SubstageClassifier{}
}

// ClassifyProteinuria maps the urine protein:creatinine ratio onto AP0..AP2.
func (c *SubstageClassifier) ClassifyProteinuria(upc *float64) *domain.ProteinuriaSubstage {
	if upc == nil {
		return nil
	}
	var s domain.ProteinuriaSubstage
	switch {
	case *upc < upcBorderline:
		s = domain.AP0
	case *upc <= upcProteinuric:
		s = domain.AP1
	default:
		s = domain.AP2
	}
	return &s
}

// ClassifyHypertension maps systolic pressure onto HT0..HT3.
func (c *SubstageClassifier) ClassifyHypertension(pressure *float64) *domain.HypertensionSubstage {
	if pressure == nil {
		return nil
	}
	var s domain.HypertensionSubstage
	switch {
	case *pressure < pressurePrehypertensive:
		s = domain.HT0
	case *pressure < pressureHypertensive:
		s = domain.HT1
	case *pressure < pressureSevere:
		s = domain.HT2
	default:
		s = domain.HT3
	}
	return &s
}

// Classify returns both sub-stages for a reading.
func (c *SubstageClassifier) Classify(reading domain.BiomarkerReading) domain.Substages {
	return domain.Substages{
		AP: c.ClassifyProteinuria(reading.UPC),
		HT: c.ClassifyHypertension(reading.Pressure),
	}
}

// Alerts returns clinical alerts for abnormal sub-stages.
func (c *SubstageClassifier) Alerts(reading domain.BiomarkerReading, substages domain.Substages) []string {
	var alerts []string
	if substages.AP != nil {
		switch *substages.AP {
		case domain.AP1:
			alerts = append(alerts, fmt.Sprintf("Borderline proteinuria (UPC %.2f): repeat UPC within 2 months", *reading.UPC))
		case domain.AP2:
			alerts = append(alerts, fmt.Sprintf("Proteinuria (UPC %.2f): investigate and consider renin-angiotensin blockade", *reading.UPC))
		}
	}
	if substages.HT != nil {
		switch *substages.HT {
		case domain.HT2:
			alerts = append(alerts, fmt.Sprintf("Hypertension (%.0f mmHg): assess target organ damage", *reading.Pressure))
		case domain.HT3:
			alerts = append(alerts, fmt.Sprintf("Severe hypertension (%.0f mmHg): high risk of target organ damage, start antihypertensive therapy", *reading.Pressure))
		}
	}
	return alerts
}
