package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const tableFormatSchema = `
CREATE TABLE IF NOT EXISTS table_commits (
  version INTEGER PRIMARY KEY AUTOINCREMENT,
  committed_at TEXT NOT NULL,
  operation TEXT NOT NULL,
  row_count INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS evidence_files (
  id TEXT PRIMARY KEY,
  engagement_id TEXT NOT NULL,
  file_name TEXT NOT NULL,
  file_path TEXT NOT NULL,
  content_hash TEXT NOT NULL,
  size_bytes INTEGER NOT NULL,
  stored_at TEXT NOT NULL,
  metadata_json TEXT NOT NULL,
  table_version INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evidence_files_engagement ON evidence_files(engagement_id);
CREATE INDEX IF NOT EXISTS idx_evidence_files_path ON evidence_files(file_path);
`

// TableFormat stores evidence as an append-only versioned ledger: one
// metadata row per write in a SQLite-backed table plus the raw bytes in a
// co-located file store. Every write moves the table's commit counter
// forward, which is what the returned Version reports and what
// ReadVersion time-travels against.
type TableFormat struct {
	base      string
	dbPath    string
	fileStore string

	db *sql.DB
}

// TableCommit is one entry in the ledger's commit history.
type TableCommit struct {
	Version     int64     `json:"version"`
	CommittedAt time.Time `json:"committed_at"`
	Operation   string    `json:"operation"`
	RowCount    int64     `json:"row_count"`
}

// FileRecord is one metadata row of the ledger.
type FileRecord struct {
	ID           string    `json:"id"`
	EngagementID string    `json:"engagement_id"`
	FileName     string    `json:"file_name"`
	FilePath     string    `json:"file_path"`
	ContentHash  string    `json:"content_hash"`
	SizeBytes    int64     `json:"size_bytes"`
	StoredAt     time.Time `json:"stored_at"`
	MetadataJSON string    `json:"metadata_json"`
	TableVersion int64     `json:"table_version"`
}

// NewTableFormat creates a table-format backend rooted at base. The
// ledger lives at {base}/bronze/evidence_files.db and the file store at
// {base}/bronze/files. The backing table is created lazily on first use.
func NewTableFormat(base string) (*TableFormat, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, fmt.Errorf("tableformat base path is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	fileStore := filepath.Join(abs, "bronze", "files")
	if err := os.MkdirAll(fileStore, 0o755); err != nil {
		return nil, err
	}
	return &TableFormat{
		base:      abs,
		dbPath:    filepath.Join(abs, "bronze", "evidence_files.db"),
		fileStore: fileStore,
	}, nil
}

// ensureTable opens the ledger database and creates the backing tables if
// absent. Idempotent; cached after the first call. The backend is
// single-owner for the duration of a run, so no locking is needed here.
func (t *TableFormat) ensureTable(ctx context.Context) (*sql.DB, error) {
	if t.db != nil {
		return t.db, nil
	}
	u := url.URL{Scheme: "file", Path: t.dbPath}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL;"); err != nil {
		_ = db.Close()
		return nil, err
	}
	if _, err := db.ExecContext(ctx, tableFormatSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create ledger tables: %w", err)
	}
	db.SetMaxOpenConns(1)
	t.db = db
	return db, nil
}

// Close releases the ledger database handle if one was opened.
func (t *TableFormat) Close() error {
	if t.db == nil {
		return nil
	}
	err := t.db.Close()
	t.db = nil
	return err
}

func (t *TableFormat) validatePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if !strings.HasPrefix(abs, t.fileStore+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBoundary, path)
	}
	return abs, nil
}

// Write appends one metadata row to the ledger and persists the raw bytes
// in the file store keyed by the generated record id. The returned
// Version is the ledger's commit counter after the append.
func (t *TableFormat) Write(ctx context.Context, engagementID, fileName string, content []byte, meta map[string]string) (Metadata, error) {
	db, err := t.ensureTable(ctx)
	if err != nil {
		return Metadata{}, err
	}

	safeName := sanitizeFileName(fileName)
	if safeName == "" {
		return Metadata{}, fmt.Errorf("file name is required")
	}

	u := uuid.New()
	recordID := hex.EncodeToString(u[:])
	contentHash := ContentHash(content)
	now := time.Now().UTC()

	dir := filepath.Join(t.fileStore, engagementID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Metadata{}, err
	}
	filePath := filepath.Join(dir, recordID[:16]+"_"+safeName)
	if err := os.WriteFile(filePath, content, 0o644); err != nil {
		return Metadata{}, err
	}

	metaJSON := "{}"
	if len(meta) > 0 {
		raw, err := json.Marshal(meta)
		if err != nil {
			return Metadata{}, err
		}
		metaJSON = string(raw)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return Metadata{}, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx,
		"INSERT INTO table_commits (committed_at, operation, row_count) VALUES (?, ?, 1)",
		now.Format(time.RFC3339Nano), "append")
	if err != nil {
		return Metadata{}, err
	}
	version, err := res.LastInsertId()
	if err != nil {
		return Metadata{}, err
	}

	if _, err = tx.ExecContext(ctx, `
		INSERT INTO evidence_files
		(id, engagement_id, file_name, file_path, content_hash, size_bytes, stored_at, metadata_json, table_version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, recordID, engagementID, safeName, filePath, contentHash, int64(len(content)), now.Format(time.RFC3339Nano), metaJSON, version); err != nil {
		return Metadata{}, err
	}

	if err = tx.Commit(); err != nil {
		return Metadata{}, err
	}

	return Metadata{
		Path:        filePath,
		Version:     version,
		ContentHash: contentHash,
		SizeBytes:   int64(len(content)),
		StoredAt:    now,
		Extra: map[string]string{
			"ledger":    t.dbPath,
			"record_id": recordID,
		},
	}, nil
}

// Read returns the stored bytes for path.
func (t *TableFormat) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := t.validatePath(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("evidence file %s: %w", path, ErrNotFound)
	}
	return content, err
}

// Exists reports whether path exists in the file store.
func (t *TableFormat) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	abs, err := t.validatePath(path)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(abs)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !info.IsDir(), nil
}

// List returns the stored paths for an engagement from the ledger,
// sorted. The optional prefix filters on the original file name.
func (t *TableFormat) List(ctx context.Context, engagementID, prefix string) ([]string, error) {
	db, err := t.ensureTable(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx,
		"SELECT file_path FROM evidence_files WHERE engagement_id = ?", engagementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	paths := []string{}
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		if prefix != "" && !strings.HasPrefix(originalName(filepath.Base(path)), prefix) {
			continue
		}
		paths = append(paths, path)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	sort.Strings(paths)
	return paths, nil
}

// Delete removes path from the file store and, best-effort, its ledger
// row. A failed ledger update is logged but does not fail the delete.
func (t *TableFormat) Delete(ctx context.Context, path string) (bool, error) {
	abs, err := t.validatePath(path)
	if err != nil {
		return false, err
	}

	deleted := true
	if err := os.Remove(abs); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return false, err
		}
		deleted = false
	}

	if err := t.removeLedgerRow(ctx, path); err != nil {
		slog.Warn("failed to remove ledger row", "path", path, "error", err)
	}
	return deleted, nil
}

func (t *TableFormat) removeLedgerRow(ctx context.Context, path string) error {
	db, err := t.ensureTable(ctx)
	if err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	res, err := tx.ExecContext(ctx, "DELETE FROM evidence_files WHERE file_path = ?", path)
	if err != nil {
		return err
	}
	removed, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if removed > 0 {
		if _, err = tx.ExecContext(ctx,
			"INSERT INTO table_commits (committed_at, operation, row_count) VALUES (?, ?, ?)",
			time.Now().UTC().Format(time.RFC3339Nano), "delete", removed); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// History returns the most recent ledger commits, newest first.
func (t *TableFormat) History(ctx context.Context, limit int) ([]TableCommit, error) {
	db, err := t.ensureTable(ctx)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 10
	}
	rows, err := db.QueryContext(ctx,
		"SELECT version, committed_at, operation, row_count FROM table_commits ORDER BY version DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	commits := []TableCommit{}
	for rows.Next() {
		var c TableCommit
		var committedAt string
		if err := rows.Scan(&c.Version, &committedAt, &c.Operation, &c.RowCount); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, committedAt); err == nil {
			c.CommittedAt = ts
		}
		commits = append(commits, c)
	}
	return commits, rows.Err()
}

// ReadVersion returns the ledger's metadata rows as they stood at the
// given commit version (read-only time travel).
func (t *TableFormat) ReadVersion(ctx context.Context, version int64) ([]FileRecord, error) {
	db, err := t.ensureTable(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, `
		SELECT id, engagement_id, file_name, file_path, content_hash, size_bytes, stored_at, metadata_json, table_version
		FROM evidence_files
		WHERE table_version <= ?
		ORDER BY table_version ASC, id ASC
	`, version)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	records := []FileRecord{}
	for rows.Next() {
		var r FileRecord
		var storedAt string
		if err := rows.Scan(&r.ID, &r.EngagementID, &r.FileName, &r.FilePath, &r.ContentHash,
			&r.SizeBytes, &storedAt, &r.MetadataJSON, &r.TableVersion); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, storedAt); err == nil {
			r.StoredAt = ts
		}
		records = append(records, r)
	}
	return records, rows.Err()
}
