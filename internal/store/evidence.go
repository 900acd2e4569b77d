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

const evidenceColumns = "id, engagement_id, name, category, format, content_hash, file_path, size_bytes, mime_type, validation_status, classification, completeness_score, reliability_score, freshness_score, consistency_score, source_system, bronze_path, lineage_id, duplicate_of_id, created_at, updated_at"

// CreateEvidenceItem inserts one evidence item row.
func (s *queries) CreateEvidenceItem(ctx context.Context, item *models.EvidenceItem) error {
	if item == nil {
		return fmt.Errorf("evidence item is required")
	}
	if strings.TrimSpace(item.EngagementID) == "" {
		return fmt.Errorf("engagement_id is required")
	}
	if strings.TrimSpace(item.Name) == "" {
		return fmt.Errorf("name is required")
	}

	if strings.TrimSpace(item.ID) == "" {
		item.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.UpdatedAt.IsZero() {
		item.UpdatedAt = item.CreatedAt
	}
	if item.ValidationStatus == "" {
		item.ValidationStatus = models.ValidationPending
	}
	if item.Classification == "" {
		item.Classification = models.ClassificationInternal
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO evidence_items
		(`+evidenceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		item.ID, item.EngagementID, item.Name, string(item.Category),
		nullString(item.Format), nullString(item.ContentHash), nullString(item.FilePath),
		nullInt64(item.SizeBytes), nullString(item.MimeType),
		string(item.ValidationStatus), string(item.Classification),
		item.CompletenessScore, item.ReliabilityScore, item.FreshnessScore, item.ConsistencyScore,
		nullString(item.SourceSystem), nullString(item.BronzePath),
		nullString(item.LineageID), nullString(item.DuplicateOfID),
		formatTime(item.CreatedAt), formatTime(item.UpdatedAt),
	)
	return err
}

// GetEvidenceItem returns one evidence item, or nil when absent.
func (s *queries) GetEvidenceItem(ctx context.Context, id string) (*models.EvidenceItem, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+evidenceColumns+` FROM evidence_items WHERE id = ?`, id)
	return scanEvidenceItem(row)
}

// ListEvidenceByEngagement lists an engagement's evidence items in a
// stable order (creation time, then id).
func (s *queries) ListEvidenceByEngagement(ctx context.Context, engagementID string) ([]models.EvidenceItem, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+evidenceColumns+` FROM evidence_items
		WHERE engagement_id = ?
		ORDER BY created_at ASC, id ASC
	`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []models.EvidenceItem{}
	for rows.Next() {
		item, err := scanEvidenceItem(rows)
		if err != nil {
			return nil, err
		}
		if item == nil {
			continue
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}

// SetEvidenceBronzePath records the bronze storage path on an item.
func (s *queries) SetEvidenceBronzePath(ctx context.Context, id, path string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE evidence_items SET bronze_path = ?, updated_at = ? WHERE id = ?",
		path, formatTime(time.Now().UTC()), id)
	return err
}

// SetEvidenceLineageID links a lineage record back onto its item.
func (s *queries) SetEvidenceLineageID(ctx context.Context, id, lineageID string) error {
	_, err := s.q.ExecContext(ctx,
		"UPDATE evidence_items SET lineage_id = ?, updated_at = ? WHERE id = ?",
		lineageID, formatTime(time.Now().UTC()), id)
	return err
}

// FindEvidenceIDsByHash returns the ids of items in an engagement whose
// content hash matches, ordered by creation time. excludeID, when
// non-empty, is left out of the result.
func (s *queries) FindEvidenceIDsByHash(ctx context.Context, engagementID, contentHash, excludeID string) ([]string, error) {
	query := `
		SELECT id FROM evidence_items
		WHERE engagement_id = ? AND content_hash = ?
	`
	args := []any{engagementID, contentHash}
	if excludeID != "" {
		query += " AND id != ?"
		args = append(args, excludeID)
	}
	query += " ORDER BY created_at ASC, id ASC"

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// DuplicateGroups returns, per content hash, the item ids sharing that
// hash within an engagement. Hashes held by a single item are not
// duplicates and are excluded.
func (s *queries) DuplicateGroups(ctx context.Context, engagementID string) (map[string][]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT content_hash, id FROM evidence_items
		WHERE engagement_id = ? AND content_hash IS NOT NULL AND content_hash != ''
		ORDER BY content_hash ASC, created_at ASC, id ASC
	`, engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	all := map[string][]string{}
	for rows.Next() {
		var hash, id string
		if err := rows.Scan(&hash, &id); err != nil {
			return nil, err
		}
		all[hash] = append(all[hash], id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	groups := map[string][]string{}
	for hash, ids := range all {
		if len(ids) >= 2 {
			groups[hash] = ids
		}
	}
	return groups, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvidenceItem(row rowScanner) (*models.EvidenceItem, error) {
	var item models.EvidenceItem
	var format, contentHash, filePath, mimeType sql.NullString
	var sourceSystem, bronzePath, lineageID, duplicateOfID sql.NullString
	var sizeBytes sql.NullInt64
	var status, classification, createdAt, updatedAt string

	err := row.Scan(
		&item.ID, &item.EngagementID, &item.Name, (*string)(&item.Category),
		&format, &contentHash, &filePath, &sizeBytes, &mimeType,
		&status, &classification,
		&item.CompletenessScore, &item.ReliabilityScore, &item.FreshnessScore, &item.ConsistencyScore,
		&sourceSystem, &bronzePath, &lineageID, &duplicateOfID,
		&createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	item.Format = format.String
	item.ContentHash = contentHash.String
	item.FilePath = filePath.String
	item.SizeBytes = sizeBytes.Int64
	item.MimeType = mimeType.String
	item.SourceSystem = sourceSystem.String
	item.BronzePath = bronzePath.String
	item.LineageID = lineageID.String
	item.DuplicateOfID = duplicateOfID.String
	item.ValidationStatus = models.ValidationStatus(status)
	item.Classification = models.DataClassification(classification)

	if item.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if item.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &item, nil
}

func nullString(value string) any {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}

func nullInt64(value int64) any {
	if value == 0 {
		return nil
	}
	return value
}
