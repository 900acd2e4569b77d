package models

import (
	"fmt"
	"strings"
	"time"
)

// EvidenceCategory is the taxonomy category assigned to an evidence item.
type EvidenceCategory string

const (
	CategoryDocuments            EvidenceCategory = "documents"
	CategoryImages               EvidenceCategory = "images"
	CategoryAudio                EvidenceCategory = "audio"
	CategoryVideo                EvidenceCategory = "video"
	CategoryStructuredData       EvidenceCategory = "structured_data"
	CategorySaaSExports          EvidenceCategory = "saas_exports"
	CategoryWorkRecords          EvidenceCategory = "work_records"
	CategoryProcessModels        EvidenceCategory = "process_models"
	CategoryRegulatoryPolicy     EvidenceCategory = "regulatory_policy"
	CategoryControlsEvidence     EvidenceCategory = "controls_evidence"
	CategoryDomainCommunications EvidenceCategory = "domain_communications"
	CategoryJobAids              EvidenceCategory = "job_aids"
)

// ValidationStatus is the evidence validation lifecycle state.
type ValidationStatus string

const (
	ValidationPending   ValidationStatus = "pending"
	ValidationValidated ValidationStatus = "validated"
	ValidationActive    ValidationStatus = "active"
	ValidationExpired   ValidationStatus = "expired"
	ValidationArchived  ValidationStatus = "archived"
)

// DataLayer is a medallion architecture layer.
type DataLayer string

const (
	LayerBronze DataLayer = "bronze"
	LayerSilver DataLayer = "silver"
	LayerGold   DataLayer = "gold"
)

// DataClassification is a data sensitivity level.
type DataClassification string

const (
	ClassificationPublic       DataClassification = "public"
	ClassificationInternal     DataClassification = "internal"
	ClassificationConfidential DataClassification = "confidential"
	ClassificationRestricted   DataClassification = "restricted"
)

var validCategories = map[EvidenceCategory]struct{}{
	CategoryDocuments:            {},
	CategoryImages:               {},
	CategoryAudio:                {},
	CategoryVideo:                {},
	CategoryStructuredData:       {},
	CategorySaaSExports:          {},
	CategoryWorkRecords:          {},
	CategoryProcessModels:        {},
	CategoryRegulatoryPolicy:     {},
	CategoryControlsEvidence:     {},
	CategoryDomainCommunications: {},
	CategoryJobAids:              {},
}

var validLayers = map[DataLayer]struct{}{
	LayerBronze: {},
	LayerSilver: {},
	LayerGold:   {},
}

var validClassifications = map[DataClassification]struct{}{
	ClassificationPublic:       {},
	ClassificationInternal:     {},
	ClassificationConfidential: {},
	ClassificationRestricted:   {},
}

// EvidenceItem is one piece of evidence collected during an engagement.
type EvidenceItem struct {
	ID           string           `json:"id"`
	EngagementID string           `json:"engagement_id"`
	Name         string           `json:"name"`
	Category     EvidenceCategory `json:"category"`
	Format       string           `json:"format,omitempty"`
	ContentHash  string           `json:"content_hash,omitempty"`

	FilePath  string `json:"file_path,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
	MimeType  string `json:"mime_type,omitempty"`

	SourceSystem string `json:"source_system,omitempty"`
	// BronzePath is set once the raw bytes have been written to the
	// bronze storage backend.
	BronzePath    string `json:"bronze_path,omitempty"`
	LineageID     string `json:"lineage_id,omitempty"`
	DuplicateOfID string `json:"duplicate_of_id,omitempty"`

	ValidationStatus ValidationStatus   `json:"validation_status"`
	Classification   DataClassification `json:"classification"`

	CompletenessScore float64 `json:"completeness_score"`
	ReliabilityScore  float64 `json:"reliability_score"`
	FreshnessScore    float64 `json:"freshness_score"`
	ConsistencyScore  float64 `json:"consistency_score"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// QualityScore is the composite quality score across the four dimensions.
func (e *EvidenceItem) QualityScore() float64 {
	return (e.CompletenessScore + e.ReliabilityScore + e.FreshnessScore + e.ConsistencyScore) / 4.0
}

// QualityScores returns the per-dimension scores keyed by dimension name.
func (e *EvidenceItem) QualityScores() map[string]float64 {
	return map[string]float64{
		"completeness": e.CompletenessScore,
		"reliability":  e.ReliabilityScore,
		"freshness":    e.FreshnessScore,
		"consistency":  e.ConsistencyScore,
	}
}

func ParseEvidenceCategory(raw string) (EvidenceCategory, error) {
	value := EvidenceCategory(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return "", fmt.Errorf("evidence category is required")
	}
	if _, ok := validCategories[value]; !ok {
		return "", fmt.Errorf("invalid evidence category: %s", value)
	}
	return value, nil
}

func ParseDataLayer(raw string) (DataLayer, error) {
	value := DataLayer(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return "", fmt.Errorf("data layer is required")
	}
	if _, ok := validLayers[value]; !ok {
		return "", fmt.Errorf("invalid data layer: %s", value)
	}
	return value, nil
}

func ParseDataClassification(raw string) (DataClassification, error) {
	value := DataClassification(strings.ToLower(strings.TrimSpace(raw)))
	if value == "" {
		return "", fmt.Errorf("data classification is required")
	}
	if _, ok := validClassifications[value]; !ok {
		return "", fmt.Errorf("invalid data classification: %s", value)
	}
	return value, nil
}
