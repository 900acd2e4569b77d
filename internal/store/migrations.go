package store

import (
	"database/sql"
	"fmt"
	"sort"
)

// Migration represents a schema migration step.
type Migration struct {
	Version     int
	Description string
	SQL         string
}

// MigrationStatus reports the current and available migration versions.
type MigrationStatus struct {
	CurrentVersion   int             `json:"current_version"`
	AvailableVersion int             `json:"available_version"`
	Pending          []MigrationInfo `json:"pending"`
}

// MigrationInfo describes a single migration.
type MigrationInfo struct {
	Version     int    `json:"version"`
	Description string `json:"description"`
}

// migrations is the ordered list of all schema migrations.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema: evidence_items, evidence_lineage, data_catalog_entries",
		SQL: `
CREATE TABLE IF NOT EXISTS evidence_items (
  id TEXT PRIMARY KEY,
  engagement_id TEXT NOT NULL,
  name TEXT NOT NULL,
  category TEXT NOT NULL,
  format TEXT,
  content_hash TEXT,
  file_path TEXT,
  size_bytes INTEGER,
  mime_type TEXT,
  validation_status TEXT NOT NULL DEFAULT 'pending',
  classification TEXT NOT NULL DEFAULT 'internal',
  completeness_score REAL NOT NULL DEFAULT 0,
  reliability_score REAL NOT NULL DEFAULT 0,
  freshness_score REAL NOT NULL DEFAULT 0,
  consistency_score REAL NOT NULL DEFAULT 0,
  created_at TEXT NOT NULL,
  updated_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence_lineage (
  id TEXT PRIMARY KEY,
  evidence_item_id TEXT NOT NULL,
  source_system TEXT NOT NULL,
  source_url TEXT,
  source_identifier TEXT,
  transformation_chain TEXT NOT NULL DEFAULT '[]',
  version INTEGER NOT NULL DEFAULT 1,
  version_hash TEXT,
  parent_version_id TEXT,
  refresh_schedule TEXT,
  last_refreshed_at TEXT,
  created_at TEXT NOT NULL,
  FOREIGN KEY (evidence_item_id) REFERENCES evidence_items(id) ON DELETE CASCADE
);

CREATE TABLE IF NOT EXISTS data_catalog_entries (
  id TEXT PRIMARY KEY,
  engagement_id TEXT NOT NULL,
  dataset_name TEXT NOT NULL,
  dataset_type TEXT NOT NULL,
  layer TEXT NOT NULL,
  owner TEXT NOT NULL,
  classification TEXT NOT NULL,
  description TEXT,
  created_at TEXT NOT NULL,
  UNIQUE(engagement_id, dataset_name)
);

CREATE INDEX IF NOT EXISTS idx_evidence_items_engagement_category ON evidence_items(engagement_id, category);
CREATE INDEX IF NOT EXISTS idx_evidence_items_content_hash ON evidence_items(engagement_id, content_hash);
CREATE INDEX IF NOT EXISTS idx_evidence_lineage_item ON evidence_lineage(evidence_item_id);
CREATE INDEX IF NOT EXISTS idx_evidence_lineage_source ON evidence_lineage(source_system);
CREATE INDEX IF NOT EXISTS idx_data_catalog_entries_layer ON data_catalog_entries(layer);
CREATE INDEX IF NOT EXISTS idx_data_catalog_entries_engagement ON data_catalog_entries(engagement_id);
`,
	},
	{
		Version:     2,
		Description: "add bronze storage and duplicate tracking columns to evidence_items",
		SQL: `
ALTER TABLE evidence_items ADD COLUMN source_system TEXT;
ALTER TABLE evidence_items ADD COLUMN bronze_path TEXT;
ALTER TABLE evidence_items ADD COLUMN lineage_id TEXT;
ALTER TABLE evidence_items ADD COLUMN duplicate_of_id TEXT;

CREATE INDEX IF NOT EXISTS idx_evidence_items_source_system ON evidence_items(source_system);
CREATE INDEX IF NOT EXISTS idx_evidence_items_duplicate_of ON evidence_items(duplicate_of_id);
`,
	},
}

const migrationsTableSQL = `
CREATE TABLE IF NOT EXISTS schema_migrations (
  version INTEGER PRIMARY KEY,
  applied_at TEXT NOT NULL
);
`

func ensureMigrationsTable(db *sql.DB) error {
	_, err := db.Exec(migrationsTableSQL)
	return err
}

// currentVersion returns the highest applied migration version, or 0 if none.
func currentVersion(db *sql.DB) (int, error) {
	var version int
	err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	return version, nil
}

// runMigrations applies all pending migrations in version order, each in
// its own transaction.
func runMigrations(db *sql.DB) error {
	if err := ensureMigrationsTable(db); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	current, err := currentVersion(db)
	if err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	for _, m := range sorted {
		if m.Version <= current {
			continue
		}

		tx, err := db.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %d: %w", m.Version, err)
		}

		if _, err := tx.Exec(m.SQL); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("apply migration %d (%s): %w", m.Version, m.Description, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version, applied_at) VALUES (?, datetime('now'))", m.Version); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.Version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.Version, err)
		}
	}

	return nil
}

// MigrationPlan reports the applied and pending schema migrations.
func MigrationPlan(db *sql.DB) (*MigrationStatus, error) {
	if err := ensureMigrationsTable(db); err != nil {
		return nil, err
	}

	current, err := currentVersion(db)
	if err != nil {
		return nil, err
	}

	sorted := make([]Migration, len(migrations))
	copy(sorted, migrations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Version < sorted[j].Version })

	available := 0
	if len(sorted) > 0 {
		available = sorted[len(sorted)-1].Version
	}

	var pending []MigrationInfo
	for _, m := range sorted {
		if m.Version > current {
			pending = append(pending, MigrationInfo{Version: m.Version, Description: m.Description})
		}
	}

	return &MigrationStatus{
		CurrentVersion:   current,
		AvailableVersion: available,
		Pending:          pending,
	}, nil
}
