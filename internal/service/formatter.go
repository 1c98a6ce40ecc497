package service

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// ResponseFormatter renders a consolidated result for people and machines.
// It never changes the result.
type ResponseFormatter struct{}

// NewResponseFormatter creates a new formatter
func NewResponseFormatter() *ResponseFormatter {
	return &ResponseFormatter{}
}

// JSON returns the machine-readable output contract.
func (f *ResponseFormatter) JSON(result *domain.ConsolidatedResult) ([]byte, error) {
	return json.MarshalIndent(result, "", "  ")
}

// Text renders the result as a short clinical summary.
func (f *ResponseFormatter) Text(result *domain.ConsolidatedResult) string {
	var b strings.Builder

	if result.Case == domain.CaseInvalid {
		f.writeInconsistent(&b, result)
		return strings.TrimSpace(b.String())
	}

	b.WriteString("IRIS CKD STAGING\n\n")
	f.writeReading(&b, result.Reading)

	if result.FinalStage != nil {
		fmt.Fprintf(&b, "\nStage: %s - %s\n", *result.FinalStage, result.FinalStage.Description())
	} else {
		b.WriteString("\nStage: not determined\n")
	}
	if result.SubstageAP != nil {
		fmt.Fprintf(&b, "Proteinuria sub-stage: %s\n", *result.SubstageAP)
	}
	if result.SubstageHT != nil {
		fmt.Fprintf(&b, "Hypertension sub-stage: %s\n", *result.SubstageHT)
	}

	if result.Message != "" {
		fmt.Fprintf(&b, "\n%s\n", result.Message)
	}

	if len(result.TreatmentPlan) > 0 {
		fmt.Fprintf(&b, "\nRecommended management (%s):\n", *result.FinalStage)
		for i, item := range result.TreatmentPlan {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, item)
		}
	}

	f.writeAlerts(&b, result.Alerts)

	fmt.Fprintf(&b, "\nConfidence: %s\n", result.Confidence)
	fmt.Fprintf(&b, "Case: %d (%s)\n", result.Case, result.Case)

	return strings.TrimSpace(b.String())
}

func (f *ResponseFormatter) writeInconsistent(b *strings.Builder, result *domain.ConsolidatedResult) {
	b.WriteString("INCONSISTENT LABORATORY VALUES\n\n")
	f.writeReading(b, result.Reading)
	if result.Message != "" {
		fmt.Fprintf(b, "\n%s\n", result.Message)
	}
	b.WriteString("\nNo stage was assigned and no treatment is recommended.\n")
	b.WriteString("\nActions:\n")
	b.WriteString("  - Repeat creatinine and SDMA\n")
	b.WriteString("  - Check for pre-analytical interference\n")
	b.WriteString("  - Evaluate atypical clinical conditions (hydration status, muscle mass)\n")
	f.writeAlerts(b, result.Alerts)
	fmt.Fprintf(b, "\nConfidence: %s\n", result.Confidence)
	fmt.Fprintf(b, "Case: %d (%s)\n", result.Case, result.Case)
}

func (f *ResponseFormatter) writeReading(b *strings.Builder, r domain.BiomarkerReading) {
	if r.Name != "" {
		fmt.Fprintf(b, "Patient: %s\n", r.Name)
	}
	if r.Creatinine != nil {
		fmt.Fprintf(b, "Creatinine: %.2f mg/dL\n", *r.Creatinine)
	}
	if r.SDMA != nil {
		fmt.Fprintf(b, "SDMA: %.1f µg/dL\n", *r.SDMA)
	}
	if r.UPC != nil {
		fmt.Fprintf(b, "UPC: %.2f\n", *r.UPC)
	}
	if r.Pressure != nil {
		fmt.Fprintf(b, "Systolic pressure: %.0f mmHg\n", *r.Pressure)
	}
}

func (f *ResponseFormatter) writeAlerts(b *strings.Builder, alerts []string) {
	if len(alerts) == 0 {
		return
	}
	b.WriteString("\nAlerts:\n")
	for _, a := range alerts {
		fmt.Fprintf(b, "  ! %s\n", a)
	}
}
