package service

import (
	"fmt"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

// Biomarker names a kidney function marker used for staging.
type Biomarker string

const (
	Creatinine Biomarker = "creatinine"
	SDMA       Biomarker = "sdma"
)

// lowerBound is the entry point of a band. Values equal to the bound belong to
// the band only when inclusive is set.
type lowerBound struct {
	value     float64
	inclusive bool
}

func (b lowerBound) admits(v float64) bool {
	if b.inclusive {
		return v >= b.value
	}
	return v > b.value
}

// Band is one row of the IRIS staging table.
type Band struct {
	Stage           domain.IRISStage
	CreatinineRange string // mg/dL
	SDMARange       string // µg/dL
	creatinine      lowerBound
	sdma            lowerBound
}

// Bands is the IRIS staging table shared by the stage classifier and the rule
// validator. Published ranges leave gaps between 2.8 and 2.9 mg/dL creatinine
// and between 25 and 26 µg/dL SDMA; values inside a gap stay in the lower band.
var Bands = []Band{
	{Stage: domain.IRIS1, CreatinineRange: "< 1.6", SDMARange: "< 18", creatinine: lowerBound{0, true}, sdma: lowerBound{0, true}},
	{Stage: domain.IRIS2, CreatinineRange: "1.6 - 2.8", SDMARange: "18 - 25", creatinine: lowerBound{1.6, true}, sdma: lowerBound{18, true}},
	{Stage: domain.IRIS3, CreatinineRange: "2.9 - 5.0", SDMARange: "26 - 38", creatinine: lowerBound{2.9, true}, sdma: lowerBound{26, true}},
	{Stage: domain.IRIS4, CreatinineRange: "> 5.0", SDMARange: "> 38", creatinine: lowerBound{5.0, false}, sdma: lowerBound{38, false}},
}

// StageFor maps a single biomarker value onto its IRIS stage.
func StageFor(marker Biomarker, value float64) domain.IRISStage {
	for i := len(Bands) - 1; i > 0; i-- {
		bound := Bands[i].creatinine
		if marker == SDMA {
			bound = Bands[i].sdma
		}
		if bound.admits(value) {
			return Bands[i].Stage
		}
	}
	return Bands[0].Stage
}

// BandFor returns the table row for a stage.
func BandFor(stage domain.IRISStage) (Band, bool) {
	for _, b := range Bands {
		if b.Stage == stage {
			return b, true
		}
	}
	return Band{}, false
}

// Discrepancy compares the creatinine stage with the SDMA stage. A difference of
// one stage is resolved to the higher stage; two or more is rejected.
func Discrepancy(creatinineStage, sdmaStage domain.IRISStage) domain.DiscrepancyVerdict {
	delta := creatinineStage.Number() - sdmaStage.Number()
	if delta < 0 {
		delta = -delta
	}

	verdict := domain.DiscrepancyVerdict{
		CreatinineStage: creatinineStage,
		SDMAStage:       sdmaStage,
		AgreementDelta:  delta,
	}

	switch {
	case delta == 0:
		verdict.Decision = domain.DecisionAccept
		verdict.ResolvedStage = domain.StagePtr(creatinineStage)
		verdict.Reason = fmt.Sprintf("creatinine and SDMA both indicate %s", creatinineStage)
	case delta == 1:
		resolved := maxStage(creatinineStage, sdmaStage)
		verdict.Decision = domain.DecisionAccept
		verdict.ResolvedStage = domain.StagePtr(resolved)
		verdict.Reason = fmt.Sprintf("creatinine indicates %s and SDMA indicates %s; the higher stage %s is used",
			creatinineStage, sdmaStage, resolved)
	default:
		verdict.Decision = domain.DecisionReject
		verdict.Reason = fmt.Sprintf(
			"creatinine indicates %s but SDMA indicates %s (difference of %d stages). "+
				"Possible causes: laboratory error, pre-analytical interference, atypical clinical condition, "+
				"dehydration elevating creatinine, or low muscle mass depressing creatinine",
			creatinineStage, sdmaStage, delta)
	}

	return verdict
}

func maxStage(a, b domain.IRISStage) domain.IRISStage {
	if a.Number() >= b.Number() {
		return a
	}
	return b
}
