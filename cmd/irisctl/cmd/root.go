// Package cmd implements irisctl, the command line front end for IRIS staging
// consultations and the audit journal.
package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iris-ckd-mcp-server/internal/app"
	"github.com/iris-ckd-mcp-server/internal/config"
	"github.com/iris-ckd-mcp-server/internal/domain"
)

var (
	appVersion = "dev"
	appCommit  = "none"
)

// SetVersion injects build information.
func SetVersion(version, commit string) {
	appVersion = version
	appCommit = commit
}

// rootOptions are the persistent flags shared by every subcommand.
type rootOptions struct {
	configFile string
	logLevel   string
	noAudit    bool
	offline    bool
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "irisctl",
		Short: "Feline chronic kidney disease staging by IRIS guidelines",
		Long: `irisctl stages feline chronic kidney disease from creatinine and SDMA,
validates the stage against the IRIS rules, optionally consults the
veterinary literature and keeps an audit journal of every consultation.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "",
		"config file (default: ./config.yaml)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn",
		"log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVar(&opts.noAudit, "no-audit", false,
		"do not write to the audit journal")
	root.PersistentFlags().BoolVar(&opts.offline, "offline", false,
		"skip literature retrieval")

	root.AddCommand(
		newStageCmd(),
		newConsultCmd(opts),
		newAuditCmd(opts),
		newSetupCmd(),
		newVersionCmd(),
	)
	return root
}

// load reads configuration, applies flag overrides and assembles the
// consultation service.
func (o *rootOptions) load(ctx context.Context) (*app.App, error) {
	var managerOpts []config.ManagerOption
	if o.configFile != "" {
		managerOpts = append(managerOpts, config.WithConfigFile(o.configFile))
	}
	manager, err := config.NewManager(managerOpts...)
	if err != nil {
		return nil, err
	}

	cfg := *manager.GetConfig()
	cfg.Logging = domain.LoggingConfig{Level: o.logLevel, Format: "text", Output: "stderr"}
	if o.noAudit {
		cfg.Audit.Backend = app.BackendNone
	}
	if o.offline {
		cfg.Retrieval.Enabled = false
	}
	if err := config.ValidateConfig(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := app.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	return app.New(ctx, &cfg, logger)
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
