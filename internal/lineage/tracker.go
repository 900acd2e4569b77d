// Package lineage tracks the provenance and transformation history of
// evidence items: where each item came from, what was done to it, and
// its version chain across refreshes.
package lineage

import (
	"context"
	"fmt"
	"time"

	"evlake/internal/models"
	"evlake/internal/storage"
)

// Store is the persistence surface the tracker needs. Both the metadata
// store and an open transaction satisfy it, so the tracker works inside
// a migration run's transaction as well as standalone.
type Store interface {
	GetLineage(ctx context.Context, id string) (*models.Lineage, error)
	GetLineageByItem(ctx context.Context, itemID string) (*models.Lineage, error)
	ListLineageByItem(ctx context.Context, itemID string) ([]models.Lineage, error)
	InsertLineage(ctx context.Context, lin *models.Lineage) error
	UpdateLineageChain(ctx context.Context, id string, chain models.TransformationChain) error
	SetEvidenceLineageID(ctx context.Context, itemID, lineageID string) error
}

// Tracker maintains lineage records over a Store.
type Tracker struct {
	store Store
}

// NewTracker creates a lineage tracker.
func NewTracker(store Store) *Tracker {
	return &Tracker{store: store}
}

// CreateParams carries the optional fields for CreateLineage.
type CreateParams struct {
	SourceSystem     string
	SourceURL        string
	SourceIdentifier string
	InitialSteps     []models.TransformationStep
	ContentHash      string
}

// CreateLineage creates the lineage record for an evidence item and
// links it back onto the item. Idempotent: when a record already exists
// for the item it is returned unchanged. A new record's chain is seeded
// with a single ingestion step unless initial steps are supplied.
func (t *Tracker) CreateLineage(ctx context.Context, item *models.EvidenceItem, p CreateParams) (*models.Lineage, error) {
	if item == nil {
		return nil, fmt.Errorf("evidence item is required")
	}
	if p.SourceSystem == "" {
		return nil, fmt.Errorf("source system is required")
	}

	existing, err := t.store.GetLineageByItem(ctx, item.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	steps := p.InitialSteps
	if len(steps) == 0 {
		steps = []models.TransformationStep{{
			Step: "ingestion",
			Details: map[string]any{
				"source_system": p.SourceSystem,
				"timestamp":     time.Now().UTC().Format(time.RFC3339),
			},
		}}
	}

	versionHash := p.ContentHash
	if versionHash == "" {
		versionHash = item.ContentHash
	}

	lin := &models.Lineage{
		EvidenceItemID:   item.ID,
		SourceSystem:     p.SourceSystem,
		SourceURL:        p.SourceURL,
		SourceIdentifier: p.SourceIdentifier,
		Chain:            models.NewTransformationChain(steps...),
		Version:          1,
		VersionHash:      versionHash,
	}
	if err := t.store.InsertLineage(ctx, lin); err != nil {
		return nil, err
	}
	if err := t.store.SetEvidenceLineageID(ctx, item.ID, lin.ID); err != nil {
		return nil, err
	}
	item.LineageID = lin.ID
	return lin, nil
}

// AppendTransformation appends one step to a lineage record's chain and
// persists the extended chain.
func (t *Tracker) AppendTransformation(ctx context.Context, lineageID, stepName string, details map[string]any) (*models.Lineage, error) {
	if stepName == "" {
		return nil, fmt.Errorf("step name is required")
	}
	lin, err := t.store.GetLineage(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	if lin == nil {
		return nil, fmt.Errorf("lineage %s: %w", lineageID, storage.ErrNotFound)
	}

	lin.Chain = lin.Chain.Append(models.TransformationStep{Step: stepName, Details: details})
	if err := t.store.UpdateLineageChain(ctx, lin.ID, lin.Chain); err != nil {
		return nil, err
	}
	return lin, nil
}

// GetLineageChain returns all lineage records for an item, newest
// version first. Empty when the item has no lineage.
func (t *Tracker) GetLineageChain(ctx context.Context, itemID string) ([]models.Lineage, error) {
	return t.store.ListLineageByItem(ctx, itemID)
}

// GetLineageByID returns one lineage record, or nil when absent.
func (t *Tracker) GetLineageByID(ctx context.Context, lineageID string) (*models.Lineage, error) {
	return t.store.GetLineage(ctx, lineageID)
}

// NewVersion records an incremental refresh of an item's lineage: a new
// record at version+1 whose parent_version_id points at the previous
// record. The item's lineage link is moved to the new record.
func (t *Tracker) NewVersion(ctx context.Context, lineageID, contentHash string) (*models.Lineage, error) {
	prev, err := t.store.GetLineage(ctx, lineageID)
	if err != nil {
		return nil, err
	}
	if prev == nil {
		return nil, fmt.Errorf("lineage %s: %w", lineageID, storage.ErrNotFound)
	}

	now := time.Now().UTC()
	next := &models.Lineage{
		EvidenceItemID:   prev.EvidenceItemID,
		SourceSystem:     prev.SourceSystem,
		SourceURL:        prev.SourceURL,
		SourceIdentifier: prev.SourceIdentifier,
		Chain: models.NewTransformationChain(models.TransformationStep{
			Step: "refresh",
			Details: map[string]any{
				"parent_version": prev.Version,
				"timestamp":      now.Format(time.RFC3339),
			},
		}),
		Version:         prev.Version + 1,
		VersionHash:     contentHash,
		ParentVersionID: prev.ID,
		RefreshSchedule: prev.RefreshSchedule,
		LastRefreshedAt: &now,
	}
	if err := t.store.InsertLineage(ctx, next); err != nil {
		return nil, err
	}
	if err := t.store.SetEvidenceLineageID(ctx, prev.EvidenceItemID, next.ID); err != nil {
		return nil, err
	}
	return next, nil
}
