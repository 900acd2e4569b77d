package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"evlake/internal/models"
)

const catalogColumns = "id, engagement_id, dataset_name, dataset_type, layer, owner, classification, description, created_at"

// InsertCatalogEntry inserts one data catalog entry row.
func (s *queries) InsertCatalogEntry(ctx context.Context, entry *models.CatalogEntry) error {
	if entry == nil {
		return fmt.Errorf("catalog entry is required")
	}
	if strings.TrimSpace(entry.DatasetName) == "" {
		return fmt.Errorf("dataset_name is required")
	}
	if strings.TrimSpace(entry.EngagementID) == "" {
		return fmt.Errorf("engagement_id is required")
	}

	if strings.TrimSpace(entry.ID) == "" {
		entry.ID = uuid.New().String()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO data_catalog_entries
		(`+catalogColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.EngagementID, entry.DatasetName, entry.DatasetType,
		string(entry.Layer), entry.Owner, string(entry.Classification),
		nullString(entry.Description), formatTime(entry.CreatedAt),
	)
	return err
}

// GetCatalogEntry returns the catalog entry for a dataset name within an
// engagement, or nil when absent.
func (s *queries) GetCatalogEntry(ctx context.Context, engagementID, datasetName string) (*models.CatalogEntry, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+catalogColumns+` FROM data_catalog_entries
		WHERE engagement_id = ? AND dataset_name = ?
	`, engagementID, datasetName)
	return scanCatalogEntry(row)
}

// ListCatalogEntries lists an engagement's catalog entries ordered by
// dataset name.
func (s *queries) ListCatalogEntries(ctx context.Context, engagementID string) ([]models.CatalogEntry, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+catalogColumns+` FROM data_catalog_entries
		WHERE engagement_id = ?
		ORDER BY dataset_name ASC
	`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []models.CatalogEntry{}
	for rows.Next() {
		entry, err := scanCatalogEntry(rows)
		if err != nil {
			return nil, err
		}
		if entry == nil {
			continue
		}
		entries = append(entries, *entry)
	}
	return entries, rows.Err()
}

func scanCatalogEntry(row rowScanner) (*models.CatalogEntry, error) {
	var entry models.CatalogEntry
	var description sql.NullString
	var layer, classification, createdAt string

	err := row.Scan(
		&entry.ID, &entry.EngagementID, &entry.DatasetName, &entry.DatasetType,
		&layer, &entry.Owner, &classification, &description, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	entry.Layer = models.DataLayer(layer)
	entry.Classification = models.DataClassification(classification)
	entry.Description = description.String
	if entry.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &entry, nil
}
