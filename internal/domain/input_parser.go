package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Field limits applied to submitted forms.
const (
	MaxAgeYears       = 30.0
	MaxWeightKg       = 50.0
	MaxPressureMmHg   = 300.0
	MaxUPC            = 50.0
	MaxFreeTextLength = 1000
	MaxNotesLength    = 500
)

// LabValue is a numeric form field that may arrive as a JSON number or as text.
// Text may use a decimal comma.
type LabValue string

// UnmarshalJSON accepts numbers, strings and null.
func (v *LabValue) UnmarshalJSON(data []byte) error {
	raw := strings.TrimSpace(string(data))
	if raw == "null" {
		*v = ""
		return nil
	}
	if strings.HasPrefix(raw, `"`) {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = LabValue(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("lab value must be a number or string: %w", err)
	}
	*v = LabValue(n.String())
	return nil
}

// Float parses the value. An empty value yields nil without error.
func (v LabValue) Float() (*float64, error) {
	s := strings.TrimSpace(string(v))
	if s == "" {
		return nil, nil
	}
	s = strings.ReplaceAll(s, ",", ".")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("not a number: %q", string(v))
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, fmt.Errorf("not a finite number: %q", string(v))
	}
	return &f, nil
}

// InputParser converts submitted forms into BiomarkerReadings.
type InputParser struct {
	// RequireKidneyMarker rejects forms carrying neither creatinine nor SDMA.
	// The HTTP adapter enables it; the pipeline itself reports such input as
	// insufficient data instead.
	RequireKidneyMarker bool
}

// NewInputParser creates a parser with the default lenient behaviour.
func NewInputParser() *InputParser {
	return &InputParser{}
}

// Parse validates and normalizes a consultation request. All field problems
// are collected and returned together as ValidationErrors.
func (p *InputParser) Parse(req ConsultationRequest) (BiomarkerReading, error) {
	var errs ValidationErrors
	form := req.Form

	reading := BiomarkerReading{
		Name:          strings.TrimSpace(form.Name),
		Breed:         strings.TrimSpace(form.Breed),
		Sex:           strings.ToUpper(strings.TrimSpace(form.Sex)),
		Symptoms:      strings.TrimSpace(form.Symptoms),
		Comorbidities: strings.TrimSpace(form.Comorbidities),
		Question:      strings.TrimSpace(req.Question),
	}

	reading.Creatinine = parsePositive("creatinina", form.Creatinine, 0, &errs)
	reading.SDMA = parsePositive("sdma", form.SDMA, 0, &errs)
	reading.Age = parseRange("idade", form.Age, 0, MaxAgeYears, &errs)
	reading.Weight = parsePositive("peso", form.Weight, MaxWeightKg, &errs)
	reading.UPC = parseRange("upc", form.UPC, 0, MaxUPC, &errs)

	pressure := form.Pressure
	if strings.TrimSpace(string(pressure)) == "" {
		pressure = form.PressureAlt
	}
	reading.Pressure = parsePositive("pressao_arterial", pressure, MaxPressureMmHg, &errs)

	switch reading.Sex {
	case "", "M", "F":
	default:
		errs = append(errs, NewValidationError("sexo", "must be M or F", form.Sex))
	}

	if len(reading.Question) > MaxFreeTextLength {
		errs = append(errs, NewValidationError("question",
			fmt.Sprintf("must be at most %d characters", MaxFreeTextLength), len(reading.Question)))
	}
	if len(reading.Symptoms) > MaxNotesLength {
		errs = append(errs, NewValidationError("sintomas",
			fmt.Sprintf("must be at most %d characters", MaxNotesLength), len(reading.Symptoms)))
	}
	if len(reading.Comorbidities) > MaxNotesLength {
		errs = append(errs, NewValidationError("comorbidades",
			fmt.Sprintf("must be at most %d characters", MaxNotesLength), len(reading.Comorbidities)))
	}

	if p.RequireKidneyMarker && len(errs) == 0 && !reading.HasAnyKidneyMarker() {
		errs = append(errs, NewValidationError("creatinina", "creatinine or SDMA is required", nil))
	}

	if len(errs) > 0 {
		return BiomarkerReading{}, errs
	}
	return reading, nil
}

// CheckMarkers applies the form's bounds to values that arrive already
// numeric, as MCP tool arguments do. Nil values are skipped.
func CheckMarkers(creatinine, sdma, upc, pressure *float64) error {
	var errs ValidationErrors
	checkPositive("creatinina", creatinine, 0, &errs)
	checkPositive("sdma", sdma, 0, &errs)
	checkRange("upc", upc, 0, MaxUPC, &errs)
	checkPositive("pressao_arterial", pressure, MaxPressureMmHg, &errs)
	if len(errs) > 0 {
		return errs
	}
	return nil
}

func parsePositive(field string, v LabValue, max float64, errs *ValidationErrors) *float64 {
	f, err := v.Float()
	if err != nil {
		*errs = append(*errs, NewValidationError(field, err.Error(), string(v)))
		return nil
	}
	return checkPositive(field, f, max, errs)
}

func parseRange(field string, v LabValue, min, max float64, errs *ValidationErrors) *float64 {
	f, err := v.Float()
	if err != nil {
		*errs = append(*errs, NewValidationError(field, err.Error(), string(v)))
		return nil
	}
	return checkRange(field, f, min, max, errs)
}

func checkPositive(field string, f *float64, max float64, errs *ValidationErrors) *float64 {
	if f == nil {
		return nil
	}
	if math.IsNaN(*f) || *f <= 0 {
		*errs = append(*errs, NewValidationError(field, "must be positive", *f))
		return nil
	}
	if max > 0 && *f > max {
		*errs = append(*errs, NewValidationError(field, fmt.Sprintf("must be at most %g", max), *f))
		return nil
	}
	return f
}

func checkRange(field string, f *float64, min, max float64, errs *ValidationErrors) *float64 {
	if f == nil {
		return nil
	}
	if math.IsNaN(*f) || *f < min || *f > max {
		*errs = append(*errs, NewValidationError(field, fmt.Sprintf("must be between %g and %g", min, max), *f))
		return nil
	}
	return f
}
