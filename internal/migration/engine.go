// Package migration backfills an engagement's existing evidence into the
// medallion layers: raw bytes to bronze storage, lineage records,
// derived silver rows, and data catalog entries. Runs are idempotent and
// isolate failures per item.
package migration

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"evlake/internal/catalog"
	"evlake/internal/lineage"
	"evlake/internal/models"
	"evlake/internal/silver"
	"evlake/internal/storage"
	"evlake/internal/store"
)

// Result is the process-local accounting record for one migration run.
// It is returned to the caller and never persisted.
type Result struct {
	EngagementID          string   `json:"engagement_id" yaml:"engagement_id"`
	ItemsProcessed        int      `json:"items_processed" yaml:"items_processed"`
	ItemsSkipped          int      `json:"items_skipped" yaml:"items_skipped"`
	ItemsFailed           int      `json:"items_failed" yaml:"items_failed"`
	BronzeWritten         int      `json:"bronze_written" yaml:"bronze_written"`
	SilverWritten         int      `json:"silver_written" yaml:"silver_written"`
	CatalogEntriesCreated int      `json:"catalog_entries_created" yaml:"catalog_entries_created"`
	LineageRecordsCreated int      `json:"lineage_records_created" yaml:"lineage_records_created"`
	Errors                []string `json:"errors" yaml:"errors"`
	DryRun                bool     `json:"dry_run" yaml:"dry_run"`
}

// itemStore is the metadata surface one item's migration needs. The
// store and an open transaction both satisfy it, so the same code path
// serves wet runs (inside the run transaction) and dry runs (plain
// reads).
type itemStore interface {
	lineage.Store
	catalog.Store
	SetEvidenceBronzePath(ctx context.Context, id, path string) error
}

// Engine orchestrates the migration of an engagement's evidence.
type Engine struct {
	store   *store.Store
	backend storage.Backend
	silver  *silver.Writer

	// evidenceStore is the legacy local directory convention checked when
	// an item's file_path does not resolve.
	evidenceStore string
}

// NewEngine creates a migration engine. evidenceStorePath is the root of
// the legacy per-engagement file layout the raw bytes are read from.
func NewEngine(st *store.Store, backend storage.Backend, sw *silver.Writer, evidenceStorePath string) *Engine {
	if evidenceStorePath == "" {
		evidenceStorePath = "evidence_store"
	}
	return &Engine{
		store:         st,
		backend:       backend,
		silver:        sw,
		evidenceStore: evidenceStorePath,
	}
}

// Run migrates every evidence item of the engagement. An unparsable
// engagement id is fatal and aborts before any item is examined. On a
// wet run all metadata changes happen in one transaction with a
// savepoint per item; a failing item is rolled back to its savepoint,
// recorded in the error list, and the loop continues. The single commit
// happens after the batch. Dry runs touch nothing and only count.
func (e *Engine) Run(ctx context.Context, engagementID string, dryRun bool) (*Result, error) {
	if _, err := uuid.Parse(engagementID); err != nil {
		return nil, fmt.Errorf("invalid engagement id %q: %w", engagementID, err)
	}

	result := &Result{
		EngagementID: engagementID,
		Errors:       []string{},
		DryRun:       dryRun,
	}

	items, err := e.store.ListEvidenceByEngagement(ctx, engagementID)
	if err != nil {
		return nil, fmt.Errorf("list evidence items: %w", err)
	}

	slog.Info("starting migration",
		"engagement_id", engagementID, "items", len(items), "dry_run", dryRun)

	if dryRun {
		for i := range items {
			item := &items[i]
			if err := e.migrateItem(ctx, e.store, item, result, true); err != nil {
				e.recordFailure(result, item.ID, err)
			}
		}
		e.logDone(result)
		return result, nil
	}

	tx, err := e.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin migration transaction: %w", err)
	}
	defer tx.Rollback()

	for i := range items {
		item := &items[i]
		err := tx.Savepoint(ctx, func() error {
			return e.migrateItem(ctx, tx, item, result, false)
		})
		if err != nil {
			e.recordFailure(result, item.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit migration: %w", err)
	}

	e.logDone(result)
	return result, nil
}

func (e *Engine) recordFailure(result *Result, itemID string, err error) {
	msg := fmt.Sprintf("evidence item %s: %v", itemID, err)
	slog.Warn("evidence item migration failed", "item_id", itemID, "error", err)
	result.Errors = append(result.Errors, msg)
	result.ItemsFailed++
}

func (e *Engine) logDone(result *Result) {
	slog.Info("migration complete",
		"engagement_id", result.EngagementID,
		"processed", result.ItemsProcessed,
		"skipped", result.ItemsSkipped,
		"failed", result.ItemsFailed)
}

// migrateItem runs the four migration steps for one item. Bronze,
// lineage, and catalog are idempotency-gated on prior state; the silver
// write is append-only analytic output and always runs. The item counts
// as skipped only when all three gated steps were satisfied before this
// run.
func (e *Engine) migrateItem(ctx context.Context, q itemStore, item *models.EvidenceItem, result *Result, dryRun bool) error {
	alreadyInBronze := item.BronzePath != ""

	// Step 1: bronze write. A missing local file skips the write without
	// failing the item.
	if !alreadyInBronze {
		content := e.readLocalFile(item)
		if content != nil {
			if !dryRun {
				meta, err := e.backend.Write(ctx, item.EngagementID, item.Name, content, map[string]string{
					"evidence_item_id": item.ID,
					"category":         string(item.Category),
					"migrated":         "true",
				})
				if err != nil {
					return fmt.Errorf("bronze write: %w", err)
				}
				if err := q.SetEvidenceBronzePath(ctx, item.ID, meta.Path); err != nil {
					return fmt.Errorf("record bronze path: %w", err)
				}
				item.BronzePath = meta.Path
			}
			result.BronzeWritten++
		}
	}

	// Step 2: lineage record.
	existing, err := q.GetLineageByItem(ctx, item.ID)
	if err != nil {
		return fmt.Errorf("check lineage: %w", err)
	}
	hadLineage := existing != nil
	if !hadLineage {
		if !dryRun {
			tracker := lineage.NewTracker(q)
			if _, err := tracker.CreateLineage(ctx, item, lineage.CreateParams{
				SourceSystem:     "migration_job",
				SourceIdentifier: item.ID,
				ContentHash:      item.ContentHash,
			}); err != nil {
				return fmt.Errorf("create lineage: %w", err)
			}
		}
		result.LineageRecordsCreated++
	}

	// Step 3: silver write.
	if !dryRun {
		fragments := []silver.Fragment{{
			ID:           uuid.New().String(),
			FragmentType: "text",
			Content:      fmt.Sprintf("%s [%s]", item.Name, item.Category),
			Metadata: map[string]any{
				"migrated":      true,
				"source":        "migration_job",
				"evidence_name": item.Name,
				"category":      string(item.Category),
			},
		}}
		if _, err := e.silver.WriteFragments(item.EngagementID, item.ID, fragments); err != nil {
			return fmt.Errorf("silver fragments: %w", err)
		}
		if _, err := e.silver.WriteQualityEvent(item.EngagementID, item.ID, item.QualityScores()); err != nil {
			return fmt.Errorf("silver quality event: %w", err)
		}
	}
	result.SilverWritten++

	// Step 4: catalog entry.
	datasetName := catalog.DatasetNameForItem(item.ID)
	entry, err := q.GetCatalogEntry(ctx, item.EngagementID, datasetName)
	if err != nil {
		return fmt.Errorf("check catalog entry: %w", err)
	}
	hadCatalog := entry != nil
	if !hadCatalog {
		if !dryRun {
			svc := catalog.NewService(q)
			_, _, err := svc.Register(ctx, &models.CatalogEntry{
				EngagementID:   item.EngagementID,
				DatasetName:    datasetName,
				DatasetType:    "evidence",
				Layer:          models.LayerBronze,
				Owner:          "migration_job",
				Classification: models.ClassificationInternal,
				Description:    fmt.Sprintf("Migrated evidence item: %s (category=%s)", item.Name, item.Category),
			})
			if err != nil {
				return fmt.Errorf("create catalog entry: %w", err)
			}
		}
		result.CatalogEntriesCreated++
	}

	if alreadyInBronze && hadLineage && hadCatalog {
		result.ItemsSkipped++
	} else {
		result.ItemsProcessed++
	}
	return nil
}

// readLocalFile locates an item's raw bytes: the recorded file_path
// first, then the {evidence_store}/{engagement}/{name} convention. Nil
// when nothing is found, which skips the bronze write for this item.
func (e *Engine) readLocalFile(item *models.EvidenceItem) []byte {
	if item.FilePath != "" {
		if content, err := os.ReadFile(item.FilePath); err == nil {
			return content
		}
	}

	dir := filepath.Join(e.evidenceStore, item.EngagementID)
	for _, name := range []string{item.Name, filepath.Base(item.Name)} {
		if content, err := os.ReadFile(filepath.Join(dir, name)); err == nil {
			return content
		}
	}

	slog.Debug("local file not found, skipping bronze write",
		"item_id", item.ID, "name", item.Name)
	return nil
}
