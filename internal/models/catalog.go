package models

import "time"

// CatalogEntry is a dataset entry in the data governance catalog. It
// tracks datasets across medallion layers, their owners, and their
// sensitivity classification.
type CatalogEntry struct {
	ID             string             `json:"id"`
	EngagementID   string             `json:"engagement_id"`
	DatasetName    string             `json:"dataset_name"`
	DatasetType    string             `json:"dataset_type"`
	Layer          DataLayer          `json:"layer"`
	Owner          string             `json:"owner"`
	Classification DataClassification `json:"classification"`
	Description    string             `json:"description,omitempty"`
	CreatedAt      time.Time          `json:"created_at"`
}
