package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/iris-ckd-mcp-server/internal/setup"
)

type setupOptions struct {
	clientConfig string
	binary       string
	dataDir      string
}

func (o *setupOptions) configPath() (string, error) {
	if o.clientConfig != "" {
		return o.clientConfig, nil
	}
	return setup.DefaultConfigPath()
}

func newSetupCmd() *cobra.Command {
	opts := &setupOptions{}

	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Register the MCP server with a desktop client",
	}
	cmd.PersistentFlags().StringVar(&opts.clientConfig, "client-config", "",
		"desktop client config file (default: platform location)")

	install := &cobra.Command{
		Use:   "install",
		Short: "Add or update the server entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := setup.Configure(setup.Options{
				ConfigPath: opts.clientConfig,
				BinaryPath: opts.binary,
				DataDir:    opts.dataDir,
				GeminiKey:  os.Getenv("GEMINI_API_KEY"),
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Registered %s in %s\n", setup.ServerKey, path)
			return nil
		},
	}
	install.Flags().StringVar(&opts.binary, "binary", "", "path to mcp-server-lite (default: search PATH)")
	install.Flags().StringVar(&opts.dataDir, "data-dir", "", "data directory passed to the server")

	status := &cobra.Command{
		Use:   "status",
		Short: "Report whether the server is registered",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := opts.configPath()
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), setup.GetStatus(path))
		},
	}

	remove := &cobra.Command{
		Use:   "remove",
		Short: "Remove the server entry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, err := opts.configPath()
			if err != nil {
				return err
			}
			removed, err := setup.Remove(path)
			if err != nil {
				return err
			}
			if !removed {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not registered in %s\n", setup.ServerKey, path)
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %s from %s\n", setup.ServerKey, path)
			return nil
		},
	}

	cmd.AddCommand(install, status, remove)
	return cmd
}
