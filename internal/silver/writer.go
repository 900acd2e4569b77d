// Package silver writes derived, cleaned datasets produced from raw
// evidence: parsed fragments, extracted entities, and quality score
// snapshots. Tables are append-only JSON-lines files under
// {datalake}/silver/.
package silver

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"evlake/internal/storage"
)

const (
	fragmentsTable = "evidence_fragments"
	entitiesTable  = "extracted_entities"
	qualityTable   = "quality_events"
)

// Writer appends rows to the silver layer tables.
type Writer struct {
	silverPath string
}

// NewWriter creates a silver writer rooted at basePath (the datalake
// directory).
func NewWriter(basePath string) (*Writer, error) {
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve datalake path: %w", err)
	}
	silverPath := filepath.Join(abs, "silver")
	if err := os.MkdirAll(silverPath, 0o755); err != nil {
		return nil, fmt.Errorf("create silver directory: %w", err)
	}
	return &Writer{silverPath: silverPath}, nil
}

// Fragment is one parsed piece of an evidence item.
type Fragment struct {
	ID           string         `json:"id"`
	FragmentType string         `json:"fragment_type"`
	Content      string         `json:"content"`
	Metadata     map[string]any `json:"metadata,omitempty"`
}

// Entity is one named entity extracted from a fragment.
type Entity struct {
	FragmentID string  `json:"fragment_id"`
	EntityType string  `json:"entity_type"`
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
}

// WriteResult reports what a write appended and where.
type WriteResult struct {
	RowsWritten int    `json:"rows_written"`
	TablePath   string `json:"table_path"`
}

type fragmentRow struct {
	ID             string `json:"id"`
	EngagementID   string `json:"engagement_id"`
	EvidenceItemID string `json:"evidence_item_id"`
	FragmentType   string `json:"fragment_type"`
	Content        string `json:"content"`
	ContentHash    string `json:"content_hash"`
	MetadataJSON   string `json:"metadata_json"`
	WrittenAt      string `json:"written_at"`
}

type entityRow struct {
	ID             string  `json:"id"`
	EngagementID   string  `json:"engagement_id"`
	EvidenceItemID string  `json:"evidence_item_id"`
	FragmentID     string  `json:"fragment_id"`
	EntityType     string  `json:"entity_type"`
	Value          string  `json:"value"`
	Confidence     float64 `json:"confidence"`
	WrittenAt      string  `json:"written_at"`
}

type qualityRow struct {
	ID                string  `json:"id"`
	EngagementID      string  `json:"engagement_id"`
	EvidenceItemID    string  `json:"evidence_item_id"`
	CompletenessScore float64 `json:"completeness_score"`
	ReliabilityScore  float64 `json:"reliability_score"`
	FreshnessScore    float64 `json:"freshness_score"`
	ConsistencyScore  float64 `json:"consistency_score"`
	OverallScore      float64 `json:"overall_score"`
	RecordedAt        string  `json:"recorded_at"`
}

// WriteFragments appends parsed fragments to the fragments table. Each
// row carries a content hash of the fragment text.
func (w *Writer) WriteFragments(engagementID, evidenceItemID string, fragments []Fragment) (WriteResult, error) {
	if len(fragments) == 0 {
		return WriteResult{}, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows := make([]any, 0, len(fragments))
	for _, frag := range fragments {
		id := frag.ID
		if id == "" {
			id = uuid.New().String()
		}
		fragType := frag.FragmentType
		if fragType == "" {
			fragType = "text"
		}
		metaJSON := "{}"
		if frag.Metadata != nil {
			encoded, err := json.Marshal(frag.Metadata)
			if err != nil {
				return WriteResult{}, fmt.Errorf("encode fragment metadata: %w", err)
			}
			metaJSON = string(encoded)
		}
		rows = append(rows, fragmentRow{
			ID:             id,
			EngagementID:   engagementID,
			EvidenceItemID: evidenceItemID,
			FragmentType:   fragType,
			Content:        frag.Content,
			ContentHash:    storage.ContentHash([]byte(frag.Content)),
			MetadataJSON:   metaJSON,
			WrittenAt:      now,
		})
	}
	return w.appendRows(fragmentsTable, rows)
}

// WriteEntities appends extracted entities to the entities table.
func (w *Writer) WriteEntities(engagementID, evidenceItemID string, entities []Entity) (WriteResult, error) {
	if len(entities) == 0 {
		return WriteResult{}, nil
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	rows := make([]any, 0, len(entities))
	for _, entity := range entities {
		rows = append(rows, entityRow{
			ID:             uuid.New().String(),
			EngagementID:   engagementID,
			EvidenceItemID: evidenceItemID,
			FragmentID:     entity.FragmentID,
			EntityType:     entity.EntityType,
			Value:          entity.Value,
			Confidence:     entity.Confidence,
			WrittenAt:      now,
		})
	}
	return w.appendRows(entitiesTable, rows)
}

// WriteQualityEvent appends one quality score snapshot for an item.
func (w *Writer) WriteQualityEvent(engagementID, evidenceItemID string, scores map[string]float64) (WriteResult, error) {
	var sum float64
	for _, v := range scores {
		sum += v
	}
	overall := 0.0
	if len(scores) > 0 {
		overall = sum / float64(len(scores))
	}

	row := qualityRow{
		ID:                uuid.New().String(),
		EngagementID:      engagementID,
		EvidenceItemID:    evidenceItemID,
		CompletenessScore: scores["completeness"],
		ReliabilityScore:  scores["reliability"],
		FreshnessScore:    scores["freshness"],
		ConsistencyScore:  scores["consistency"],
		OverallScore:      overall,
		RecordedAt:        time.Now().UTC().Format(time.RFC3339Nano),
	}
	return w.appendRows(qualityTable, []any{row})
}

// appendRows appends rows as JSON lines to {silver}/{table}/rows.jsonl.
func (w *Writer) appendRows(table string, rows []any) (WriteResult, error) {
	tablePath := filepath.Join(w.silverPath, table)
	if err := os.MkdirAll(tablePath, 0o755); err != nil {
		return WriteResult{}, fmt.Errorf("create table directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(tablePath, "rows.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return WriteResult{}, fmt.Errorf("open table %s: %w", table, err)
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	for _, row := range rows {
		if err := enc.Encode(row); err != nil {
			return WriteResult{}, fmt.Errorf("append to table %s: %w", table, err)
		}
	}

	slog.Debug("silver rows written", "table", table, "rows", len(rows))
	return WriteResult{RowsWritten: len(rows), TablePath: tablePath}, nil
}
