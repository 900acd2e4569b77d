package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"evlake/internal/config"
	"evlake/internal/format"
	"evlake/internal/migration"
	"evlake/internal/silver"
	"evlake/internal/store"
)

func newMigrateCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var engagementID string
	var dryRun bool
	var backendFlag string
	var basePath string
	var datalakePath string
	var reportPath string

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Backfill an engagement's evidence into bronze storage, lineage, silver, and the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			if engagementID == "" {
				return fmt.Errorf("--engagement-id is required")
			}
			if cfg.DBPath == "" {
				return fmt.Errorf("db path is required")
			}

			st, err := store.Open(cfg.DBPath)
			if err != nil {
				return fmt.Errorf("open metadata store: %w", err)
			}
			defer st.Close()

			backend, err := buildBackend(cfg, backendFlag, basePath)
			if err != nil {
				return err
			}
			defer closeBackend(backend)

			lakePath := datalakePath
			if lakePath == "" {
				lakePath = cfg.DatalakePath
			}
			sw, err := silver.NewWriter(lakePath)
			if err != nil {
				return err
			}

			engine := migration.NewEngine(st, backend, sw, cfg.EvidenceStorePath)
			result, err := engine.Run(cmd.Context(), engagementID, dryRun)
			if err != nil {
				return err
			}

			if reportPath != "" {
				if err := writeReport(reportPath, result); err != nil {
					return err
				}
			}

			if *jsonOutput {
				if err := writeJSON(result); err != nil {
					return err
				}
			} else if err := writeMigrationSummary(result); err != nil {
				return err
			}

			if result.ItemsFailed > 0 {
				return fmt.Errorf("%d evidence item(s) failed to migrate", result.ItemsFailed)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&engagementID, "engagement-id", "", "engagement UUID to migrate (required)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "simulate the run without persisting anything")
	cmd.Flags().StringVar(&backendFlag, "storage-backend", "", "bronze storage backend (local|tableformat|remotevolume)")
	cmd.Flags().StringVar(&basePath, "base-path", "", "backend base directory")
	cmd.Flags().StringVar(&datalakePath, "datalake-path", "", "datalake directory for silver tables")
	cmd.Flags().StringVar(&reportPath, "report", "", "write a YAML run report to this file")
	_ = cmd.MarkFlagRequired("engagement-id")

	return cmd
}

func writeReport(path string, result *migration.Result) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	defer f.Close()

	if err := (format.YAMLFormatter{}).Write(f, result); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
