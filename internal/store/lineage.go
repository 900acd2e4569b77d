package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"evlake/internal/models"
)

const lineageColumns = "id, evidence_item_id, source_system, source_url, source_identifier, transformation_chain, version, version_hash, parent_version_id, refresh_schedule, last_refreshed_at, created_at"

// InsertLineage inserts one lineage row.
func (s *queries) InsertLineage(ctx context.Context, lin *models.Lineage) error {
	if lin == nil {
		return fmt.Errorf("lineage is required")
	}
	if strings.TrimSpace(lin.EvidenceItemID) == "" {
		return fmt.Errorf("evidence_item_id is required")
	}
	if strings.TrimSpace(lin.SourceSystem) == "" {
		return fmt.Errorf("source_system is required")
	}

	if strings.TrimSpace(lin.ID) == "" {
		lin.ID = uuid.New().String()
	}
	if lin.Version == 0 {
		lin.Version = 1
	}
	if lin.CreatedAt.IsZero() {
		lin.CreatedAt = time.Now().UTC()
	}

	chainJSON, err := json.Marshal(lin.Chain)
	if err != nil {
		return err
	}

	var lastRefreshed any
	if lin.LastRefreshedAt != nil {
		lastRefreshed = formatTime(*lin.LastRefreshedAt)
	}

	_, err = s.q.ExecContext(ctx, `
		INSERT INTO evidence_lineage
		(`+lineageColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		lin.ID, lin.EvidenceItemID, lin.SourceSystem,
		nullString(lin.SourceURL), nullString(lin.SourceIdentifier),
		string(chainJSON), lin.Version, nullString(lin.VersionHash),
		nullString(lin.ParentVersionID), nullString(lin.RefreshSchedule),
		lastRefreshed, formatTime(lin.CreatedAt),
	)
	return err
}

// GetLineage returns one lineage row by id, or nil when absent.
func (s *queries) GetLineage(ctx context.Context, id string) (*models.Lineage, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+lineageColumns+` FROM evidence_lineage WHERE id = ?`, id)
	return scanLineage(row)
}

// GetLineageByItem returns the latest lineage row for an evidence item,
// or nil when none exists.
func (s *queries) GetLineageByItem(ctx context.Context, itemID string) (*models.Lineage, error) {
	row := s.q.QueryRowContext(ctx, `
		SELECT `+lineageColumns+` FROM evidence_lineage
		WHERE evidence_item_id = ?
		ORDER BY version DESC, created_at DESC
		LIMIT 1
	`, itemID)
	return scanLineage(row)
}

// ListLineageByItem lists all lineage rows for an item, newest version
// first.
func (s *queries) ListLineageByItem(ctx context.Context, itemID string) ([]models.Lineage, error) {
	rows, err := s.q.QueryContext(ctx, `
		SELECT `+lineageColumns+` FROM evidence_lineage
		WHERE evidence_item_id = ?
		ORDER BY version DESC, created_at DESC
	`, itemID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []models.Lineage{}
	for rows.Next() {
		lin, err := scanLineage(rows)
		if err != nil {
			return nil, err
		}
		if lin == nil {
			continue
		}
		records = append(records, *lin)
	}
	return records, rows.Err()
}

// UpdateLineageChain replaces the persisted transformation chain of a
// lineage row. The chain itself is append-only; callers extend it via
// TransformationChain.Append and persist the result here.
func (s *queries) UpdateLineageChain(ctx context.Context, id string, chain models.TransformationChain) error {
	chainJSON, err := json.Marshal(chain)
	if err != nil {
		return err
	}
	res, err := s.q.ExecContext(ctx,
		"UPDATE evidence_lineage SET transformation_chain = ? WHERE id = ?",
		string(chainJSON), id)
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return fmt.Errorf("lineage %s: no such row", id)
	}
	return nil
}

func scanLineage(row rowScanner) (*models.Lineage, error) {
	var lin models.Lineage
	var sourceURL, sourceIdentifier, versionHash, parentVersionID, refreshSchedule, lastRefreshedAt sql.NullString
	var chainJSON, createdAt string

	err := row.Scan(
		&lin.ID, &lin.EvidenceItemID, &lin.SourceSystem,
		&sourceURL, &sourceIdentifier, &chainJSON,
		&lin.Version, &versionHash, &parentVersionID,
		&refreshSchedule, &lastRefreshedAt, &createdAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	lin.SourceURL = sourceURL.String
	lin.SourceIdentifier = sourceIdentifier.String
	lin.VersionHash = versionHash.String
	lin.ParentVersionID = parentVersionID.String
	lin.RefreshSchedule = refreshSchedule.String

	if err := json.Unmarshal([]byte(chainJSON), &lin.Chain); err != nil {
		return nil, fmt.Errorf("decode transformation chain for %s: %w", lin.ID, err)
	}
	if lastRefreshedAt.Valid {
		ts, err := parseTime(lastRefreshedAt.String)
		if err != nil {
			return nil, err
		}
		lin.LastRefreshedAt = &ts
	}
	if lin.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	return &lin, nil
}
