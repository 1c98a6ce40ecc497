package cmd

import (
	"bytes"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/iris-ckd-mcp-server/internal/app"
	"github.com/iris-ckd-mcp-server/internal/audit"
	"github.com/iris-ckd-mcp-server/internal/domain"
	"github.com/iris-ckd-mcp-server/internal/fileutil"
)

func newAuditCmd(root *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the consultation journal",
	}
	cmd.AddCommand(
		newAuditStatsCmd(root),
		newAuditListCmd(root),
		newAuditSimilarCmd(root),
		newAuditExportCmd(root),
	)
	return cmd
}

// openJournal loads the configured components with retrieval switched off;
// journal commands never consult the literature.
func (o *rootOptions) openJournal(cmd *cobra.Command) (*app.App, error) {
	opts := *o
	opts.offline = true
	if opts.noAudit {
		return nil, fmt.Errorf("--no-audit cannot be combined with journal commands")
	}
	return opts.load(cmd.Context())
}

func newAuditStatsCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			components, err := root.openJournal(cmd)
			if err != nil {
				return err
			}
			defer components.Close()

			stats, err := components.Audit.Stats(cmd.Context())
			if err != nil {
				return fmt.Errorf("failed to compute statistics: %w", err)
			}
			return writeJSON(cmd.OutOrStdout(), stats)
		},
	}
}

func newAuditListCmd(root *rootOptions) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List journaled consultations, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive")
			}
			components, err := root.openJournal(cmd)
			if err != nil {
				return err
			}
			defer components.Close()

			records, err := components.Audit.List(cmd.Context(), limit, offset)
			if err != nil {
				return fmt.Errorf("failed to list records: %w", err)
			}
			printRecords(cmd, records)
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of records")
	cmd.Flags().IntVar(&offset, "offset", 0, "records to skip")
	return cmd
}

func newAuditSimilarCmd(root *rootOptions) *cobra.Command {
	var creatinineRaw, sdmaRaw domain.LabValue
	var tolerance float64
	var limit int

	cmd := &cobra.Command{
		Use:   "similar",
		Short: "Find past consultations with comparable creatinine and SDMA",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			c, err := creatinineRaw.Float()
			if err != nil || c == nil {
				return fmt.Errorf("--creatinine must be a number")
			}
			s, err := sdmaRaw.Float()
			if err != nil || s == nil {
				return fmt.Errorf("--sdma must be a number")
			}

			components, err := root.openJournal(cmd)
			if err != nil {
				return err
			}
			defer components.Close()

			records, err := components.Audit.Similar(cmd.Context(), *c, *s, tolerance, limit)
			if err != nil {
				return fmt.Errorf("failed to search journal: %w", err)
			}
			printRecords(cmd, records)
			return nil
		},
	}
	cmd.Flags().Var(labFlag{&creatinineRaw}, "creatinine", "serum creatinine, mg/dL")
	cmd.Flags().Var(labFlag{&sdmaRaw}, "sdma", "SDMA, µg/dL")
	cmd.Flags().Float64Var(&tolerance, "tolerance", audit.DefaultSimilarityTolerance, "relative window around each marker")
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of records")
	_ = cmd.MarkFlagRequired("creatinine")
	_ = cmd.MarkFlagRequired("sdma")
	return cmd
}

func newAuditExportCmd(root *rootOptions) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "export <file>",
		Short: "Export the journal as JSON or CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			components, err := root.openJournal(cmd)
			if err != nil {
				return err
			}
			defer components.Close()

			var buf bytes.Buffer
			switch format {
			case "json":
				err = components.Audit.ExportJSON(cmd.Context(), &buf)
			case "csv":
				err = components.Audit.ExportCSV(cmd.Context(), &buf)
			default:
				return fmt.Errorf("unsupported export format %q", format)
			}
			if err != nil {
				return fmt.Errorf("failed to export journal: %w", err)
			}

			if err := fileutil.WriteFile(args[0], buf.Bytes(), 0644); err != nil {
				return fmt.Errorf("failed to write %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported journal to %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&format, "format", "json", "export format (json, csv)")
	return cmd
}

func printRecords(cmd *cobra.Command, records []*domain.AuditRecord) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CREATED\tCREATININE\tSDMA\tSTAGE\tCASE\tCONFIDENCE\tRULE")
	for _, r := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			r.Timestamp.Format("2006-01-02 15:04"),
			formatMarker(r.Creatinine),
			formatMarker(r.SDMA),
			formatStage(r.FinalStage),
			int(r.Case),
			r.Confidence,
			r.RuleApplied,
		)
	}
	w.Flush()
}

func formatMarker(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func formatStage(s *domain.IRISStage) string {
	if s == nil {
		return "-"
	}
	return string(*s)
}
