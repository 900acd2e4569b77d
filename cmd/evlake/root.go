package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"evlake/internal/config"
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	var jsonOutput bool
	var logLevel string

	cmd := &cobra.Command{
		Use:   "evlake",
		Short: "Evlake stores engagement evidence and migrates it through the medallion layers",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			warning, err := configureLoggerForCLI(logLevel, cfg.LogLevel)
			if err != nil {
				return err
			}
			if warning != "" {
				fmt.Fprintln(os.Stderr, warning)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.Version = version
	cmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output JSON")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug|info|warning|error)")

	cmd.AddCommand(
		newMigrateCmd(cfg, &jsonOutput),
		newStoreCmd(cfg, &jsonOutput),
		newLineageCmd(cfg, &jsonOutput),
		newDupesCmd(cfg, &jsonOutput),
		newDBCmd(cfg, &jsonOutput),
		newConfigCmd(cfg),
	)

	return cmd
}
