package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iris-ckd-mcp-server/internal/domain"
	"github.com/iris-ckd-mcp-server/internal/service"
)

type stageOptions struct {
	creatinine string
	sdma       string
	upc        string
	pressure   string
}

// stageReport is the offline view of one reading: classification, sub-stages
// and the rule verdict, without literature or journaling.
type stageReport struct {
	Classification domain.StageClassification `json:"classification"`
	Substages      domain.Substages           `json:"substages"`
	Validation     domain.ValidationVerdict   `json:"validation"`
}

func newStageCmd() *cobra.Command {
	opts := &stageOptions{}

	cmd := &cobra.Command{
		Use:   "stage",
		Short: "Classify a reading by the IRIS bands only",
		Long: `Stage computes the IRIS stage from creatinine and SDMA, the proteinuria
and hypertension sub-stages, and the rule verdict on the computed stage.
Nothing is retrieved and nothing is journaled.`,
		Example: `  irisctl stage --creatinine 2,5 --sdma 22 --upc 0.3`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runStage(cmd, opts)
		},
	}

	cmd.Flags().StringVar(&opts.creatinine, "creatinine", "", "serum creatinine, mg/dL")
	cmd.Flags().StringVar(&opts.sdma, "sdma", "", "SDMA, µg/dL")
	cmd.Flags().StringVar(&opts.upc, "upc", "", "urine protein:creatinine ratio")
	cmd.Flags().StringVar(&opts.pressure, "pressure", "", "systolic blood pressure, mmHg")
	return cmd
}

func runStage(cmd *cobra.Command, opts *stageOptions) error {
	var errs domain.ValidationErrors
	parse := func(field, raw string) *float64 {
		v, err := domain.LabValue(raw).Float()
		if err != nil {
			errs = append(errs, domain.NewValidationError(field, err.Error(), raw))
		}
		return v
	}
	creatinine := parse("creatinine", opts.creatinine)
	sdma := parse("sdma", opts.sdma)
	upc := parse("upc", opts.upc)
	pressure := parse("pressure", opts.pressure)
	if len(errs) > 0 {
		return errs
	}
	if creatinine == nil && sdma == nil {
		return errors.New("at least one of --creatinine or --sdma is required")
	}

	svc := service.NewConsultationService(quietLogger())
	cls := svc.ClassifyStage(creatinine, sdma)

	report := stageReport{
		Classification: cls,
		Substages:      svc.ClassifySubstages(upc, pressure),
		Validation:     svc.ValidateStage(creatinine, sdma, cls.Stage, cls.Stage == nil),
	}
	if err := writeJSON(cmd.OutOrStdout(), report); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}
