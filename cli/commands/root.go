// Package commands implements the schemakit CLI.
package commands

import (
	"github.com/spf13/cobra"

	"github.com/schemakit/schemakit/cli/internal/ui"
	"github.com/schemakit/schemakit/cli/internal/update"
	"github.com/schemakit/schemakit/cli/internal/version"
)

var rootCmd = &cobra.Command{
	Use:           "schemakit",
	Short:         "Ledger-tracked schema migrations",
	Long:          "schemakit applies ordered, idempotent SQL migrations to a database\nand tracks which have been applied in a durable ledger table.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCheck bool

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		cmd.Println(info.FullString())
		if versionCheck {
			return update.CheckForUpdates(info.Version)
		}
		return nil
	},
}

func init() {
	versionCmd.Flags().BoolVar(&versionCheck, "check", false, "Check for a newer release")
	rootCmd.AddCommand(versionCmd)
}

// Execute is the main entry point for the CLI.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("%v", err)
		return err
	}
	return nil
}
