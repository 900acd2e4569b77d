// Package catalog registers datasets in the engagement's data catalog.
package catalog

import (
	"context"
	"fmt"
	"strings"

	"evlake/internal/models"
)

// Store is the persistence surface the service needs. The metadata
// store and its transactions both satisfy it.
type Store interface {
	InsertCatalogEntry(ctx context.Context, entry *models.CatalogEntry) error
	GetCatalogEntry(ctx context.Context, engagementID, datasetName string) (*models.CatalogEntry, error)
	ListCatalogEntries(ctx context.Context, engagementID string) ([]models.CatalogEntry, error)
}

// Service maintains data catalog entries.
type Service struct {
	store Store
}

// NewService creates a catalog service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// DatasetNameForItem is the catalog dataset name under which a migrated
// evidence item is registered.
func DatasetNameForItem(itemID string) string {
	return "evidence_" + itemID
}

// Register creates a catalog entry unless one already exists for the
// dataset name within the engagement. It returns the entry and whether
// it was created by this call.
func (s *Service) Register(ctx context.Context, entry *models.CatalogEntry) (*models.CatalogEntry, bool, error) {
	if entry == nil {
		return nil, false, fmt.Errorf("catalog entry is required")
	}
	if strings.TrimSpace(entry.EngagementID) == "" {
		return nil, false, fmt.Errorf("engagement_id is required")
	}
	if strings.TrimSpace(entry.DatasetName) == "" {
		return nil, false, fmt.Errorf("dataset_name is required")
	}

	existing, err := s.store.GetCatalogEntry(ctx, entry.EngagementID, entry.DatasetName)
	if err != nil {
		return nil, false, err
	}
	if existing != nil {
		return existing, false, nil
	}

	if err := s.store.InsertCatalogEntry(ctx, entry); err != nil {
		return nil, false, err
	}
	return entry, true, nil
}

// Get returns the entry for a dataset name, or nil when absent.
func (s *Service) Get(ctx context.Context, engagementID, datasetName string) (*models.CatalogEntry, error) {
	return s.store.GetCatalogEntry(ctx, engagementID, datasetName)
}

// List returns an engagement's catalog entries ordered by dataset name.
func (s *Service) List(ctx context.Context, engagementID string) ([]models.CatalogEntry, error) {
	return s.store.ListCatalogEntries(ctx, engagementID)
}
