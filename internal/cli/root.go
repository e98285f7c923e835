// Package cli implements the adbridge command line.
package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// Version information injected at build time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// NewRootCmd returns the adbridge command tree.
func NewRootCmd() *cobra.Command {
	var configFile string

	rootCmd := &cobra.Command{
		Use:   "adbridge",
		Short: "Active Directory authentication bridge",
		Long: `adbridge authenticates users against Active Directory and keeps a local
user repository in step: directory users become local users on first login and
their directory groups are mapped onto local groups.

Use "adbridge [command] --help" for more information about a command.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ./adbridge.yaml or /etc/adbridge/adbridge.yaml)")

	configPath := func() string { return configFile }

	rootCmd.AddCommand(newServeCmd(configPath))
	rootCmd.AddCommand(newLoginCmd(configPath))
	rootCmd.AddCommand(newMigrateCmd(configPath))
	rootCmd.AddCommand(newVersionCmd())

	rootCmd.CompletionOptions.DisableDefaultCmd = true

	return rootCmd
}

// Execute runs the command line with ctx.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}
