package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"evlake/internal/format"
	"evlake/internal/migration"
	"evlake/internal/models"
	"evlake/internal/storage"
)

var outputFormatter format.Formatter = format.JSONFormatter{}

func writeJSON(payload any) error {
	return outputFormatter.Write(os.Stdout, payload)
}

func writePlain(format string, args ...any) error {
	_, err := fmt.Fprintf(os.Stdout, format, args...)
	return err
}

func writeMigrationSummary(result *migration.Result) error {
	lines := []string{
		fmt.Sprintf("engagement_id: %s", result.EngagementID),
		fmt.Sprintf("dry_run: %t", result.DryRun),
		fmt.Sprintf("items_processed: %d", result.ItemsProcessed),
		fmt.Sprintf("items_skipped: %d", result.ItemsSkipped),
		fmt.Sprintf("items_failed: %d", result.ItemsFailed),
		fmt.Sprintf("bronze_written: %d", result.BronzeWritten),
		fmt.Sprintf("silver_written: %d", result.SilverWritten),
		fmt.Sprintf("catalog_entries_created: %d", result.CatalogEntriesCreated),
		fmt.Sprintf("lineage_records_created: %d", result.LineageRecordsCreated),
	}
	if len(result.Errors) > 0 {
		lines = append(lines, "errors:")
		for _, msg := range result.Errors {
			lines = append(lines, "  - "+msg)
		}
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func writeStorageMetadata(meta storage.Metadata) error {
	lines := []string{
		fmt.Sprintf("path: %s", meta.Path),
		fmt.Sprintf("version: %d", meta.Version),
		fmt.Sprintf("content_hash: %s", meta.ContentHash),
		fmt.Sprintf("size_bytes: %d", meta.SizeBytes),
		fmt.Sprintf("stored_at: %s", formatTime(meta.StoredAt)),
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func writeLineageDetail(lin models.Lineage) error {
	lines := []string{
		fmt.Sprintf("id: %s", lin.ID),
		fmt.Sprintf("evidence_item_id: %s", lin.EvidenceItemID),
		fmt.Sprintf("source_system: %s", lin.SourceSystem),
		fmt.Sprintf("version: %d", lin.Version),
	}
	if lin.SourceURL != "" {
		lines = append(lines, fmt.Sprintf("source_url: %s", lin.SourceURL))
	}
	if lin.SourceIdentifier != "" {
		lines = append(lines, fmt.Sprintf("source_identifier: %s", lin.SourceIdentifier))
	}
	if lin.VersionHash != "" {
		lines = append(lines, fmt.Sprintf("version_hash: %s", lin.VersionHash))
	}
	if lin.ParentVersionID != "" {
		lines = append(lines, fmt.Sprintf("parent_version_id: %s", lin.ParentVersionID))
	}
	if lin.LastRefreshedAt != nil {
		lines = append(lines, fmt.Sprintf("last_refreshed_at: %s", formatTime(*lin.LastRefreshedAt)))
	}
	lines = append(lines, fmt.Sprintf("created_at: %s", formatTime(lin.CreatedAt)))

	steps := lin.Chain.Steps()
	if len(steps) > 0 {
		lines = append(lines, "transformations:")
		for _, step := range steps {
			lines = append(lines, "  - "+step.Step)
		}
	}
	return writePlain("%s\n", strings.Join(lines, "\n"))
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
