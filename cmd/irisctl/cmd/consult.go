package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/iris-ckd-mcp-server/internal/domain"
)

type consultOptions struct {
	form     domain.RawForm
	question string
	file     string
	asJSON   bool
}

func newConsultCmd(root *rootOptions) *cobra.Command {
	opts := &consultOptions{}

	cmd := &cobra.Command{
		Use:   "consult",
		Short: "Run a full staging consultation",
		Long: `Consult runs the full pipeline on one clinical form: staging, sub-staging,
rule validation, literature evidence when available, consolidation and the
audit journal. The form is read from flags or from a JSON file.`,
		Example: `  irisctl consult --creatinine 3.1 --sdma 28 --age 14
  irisctl consult --file patient.json --json
  cat patient.json | irisctl consult --file -`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConsult(cmd, root, opts)
		},
	}

	f := cmd.Flags()
	f.Var(labFlag{&opts.form.Creatinine}, "creatinine", "serum creatinine, mg/dL")
	f.Var(labFlag{&opts.form.SDMA}, "sdma", "SDMA, µg/dL")
	f.Var(labFlag{&opts.form.UPC}, "upc", "urine protein:creatinine ratio")
	f.Var(labFlag{&opts.form.Pressure}, "pressure", "systolic blood pressure, mmHg")
	f.Var(labFlag{&opts.form.Age}, "age", "age, years")
	f.Var(labFlag{&opts.form.Weight}, "weight", "body weight, kg")
	f.StringVar(&opts.form.Sex, "sex", "", "sex")
	f.StringVar(&opts.form.Name, "name", "", "patient name")
	f.StringVar(&opts.form.Breed, "breed", "", "breed")
	f.StringVar(&opts.question, "question", "", "free-text question for the consultation")
	f.StringVar(&opts.file, "file", "", "read the request from a JSON file (- for stdin)")
	f.BoolVar(&opts.asJSON, "json", false, "print the structured response")
	cmd.MarkFlagsMutuallyExclusive("file", "creatinine")
	cmd.MarkFlagsMutuallyExclusive("file", "sdma")
	return cmd
}

func runConsult(cmd *cobra.Command, root *rootOptions, opts *consultOptions) error {
	req, err := opts.request(cmd.InOrStdin())
	if err != nil {
		return err
	}

	components, err := root.load(cmd.Context())
	if err != nil {
		return err
	}
	defer components.Close()

	resp, err := components.Service.Consult(cmd.Context(), req)
	if err != nil {
		var verrs domain.ValidationErrors
		if errors.As(err, &verrs) {
			for _, v := range verrs {
				fmt.Fprintf(cmd.ErrOrStderr(), "  %s: %s\n", v.Field, v.Message)
			}
		}
		return err
	}

	out := cmd.OutOrStdout()
	if opts.asJSON {
		return writeJSON(out, resp)
	}
	fmt.Fprintln(out, resp.Text)
	if resp.AuditError != "" {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: consultation not journaled: %s\n", resp.AuditError)
	}
	return nil
}

// request assembles the consultation from --file or from the form flags.
// A file may hold either a full request or a bare form.
func (o *consultOptions) request(stdin io.Reader) (domain.ConsultationRequest, error) {
	if o.file == "" {
		return domain.ConsultationRequest{Form: o.form, Question: o.question}, nil
	}

	var data []byte
	var err error
	if o.file == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(o.file)
	}
	if err != nil {
		return domain.ConsultationRequest{}, fmt.Errorf("failed to read request: %w", err)
	}

	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return domain.ConsultationRequest{}, fmt.Errorf("invalid request JSON: %w", err)
	}

	var req domain.ConsultationRequest
	if _, ok := probe["form"]; ok {
		err = json.Unmarshal(data, &req)
	} else {
		err = json.Unmarshal(data, &req.Form)
	}
	if err != nil {
		return domain.ConsultationRequest{}, fmt.Errorf("invalid request JSON: %w", err)
	}
	if o.question != "" {
		req.Question = o.question
	}
	return req, nil
}

// labFlag binds a string flag to a LabValue so "2,5" reaches the parser as typed.
type labFlag struct{ v *domain.LabValue }

func (f labFlag) String() string {
	if f.v == nil {
		return ""
	}
	return string(*f.v)
}

func (f labFlag) Set(s string) error {
	*f.v = domain.LabValue(s)
	return nil
}

func (f labFlag) Type() string { return "number" }
