package storage

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const (
	volumeEndpointEnvKey = "EVLAKE_VOLUME_ENDPOINT"
	volumeTokenEnvKey    = "EVLAKE_VOLUME_TOKEN"

	defaultVolumeCatalog = "evlake"
	defaultVolumeSchema  = "evidence"
	defaultVolumeName    = "raw_evidence"
)

// VolumeFileInfo describes one entry in a remote volume directory.
type VolumeFileInfo struct {
	Path        string `json:"path"`
	SizeBytes   int64  `json:"size_bytes"`
	IsDirectory bool   `json:"is_directory"`
}

// VolumeClient is the remote object-volume file API. The client does not
// expose a typed not-found error; callers inspect error text instead.
type VolumeClient interface {
	Upload(ctx context.Context, path string, content []byte) error
	Download(ctx context.Context, path string) ([]byte, error)
	Stat(ctx context.Context, path string) (VolumeFileInfo, error)
	ListDirectory(ctx context.Context, dir string) ([]VolumeFileInfo, error)
	Delete(ctx context.Context, path string) error
}

// RemoteVolumeConfig carries the (catalog, schema, volume) coordinates
// and connection credentials for a remote volume backend.
type RemoteVolumeConfig struct {
	Catalog string
	Schema  string
	Volume  string

	// Endpoint and Token fall back to EVLAKE_VOLUME_ENDPOINT and
	// EVLAKE_VOLUME_TOKEN when empty.
	Endpoint string
	Token    string

	// MetaDBPath is the SQLite database holding the queryable metadata
	// index table. Optional; when empty no index rows are written.
	MetaDBPath string
}

// RemoteVolume stores evidence files in a managed object-volume namespace
// under /Volumes/{catalog}/{schema}/{volume}/evidence_store, with a
// best-effort SQL metadata index. Construction never fails: the remote
// client is dialed lazily on first use and cached, so a missing endpoint
// only surfaces as ErrBackendUnavailable when an operation is attempted.
type RemoteVolume struct {
	cfg        RemoteVolumeConfig
	volumeBase string
	metaTable  string

	client VolumeClient
	metaDB *sql.DB
}

// NewRemoteVolume builds a remote volume backend from config. Empty
// coordinates get workspace defaults; no connection is established here.
func NewRemoteVolume(cfg RemoteVolumeConfig) *RemoteVolume {
	if cfg.Catalog == "" {
		cfg.Catalog = defaultVolumeCatalog
	}
	if cfg.Schema == "" {
		cfg.Schema = defaultVolumeSchema
	}
	if cfg.Volume == "" {
		cfg.Volume = defaultVolumeName
	}
	if cfg.Endpoint == "" {
		cfg.Endpoint = os.Getenv(volumeEndpointEnvKey)
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv(volumeTokenEnvKey)
	}
	return &RemoteVolume{
		cfg:        cfg,
		volumeBase: fmt.Sprintf("/Volumes/%s/%s/%s/evidence_store", cfg.Catalog, cfg.Schema, cfg.Volume),
		metaTable:  fmt.Sprintf("%s.%s.evidence_metadata", cfg.Catalog, cfg.Schema),
	}
}

// SetClient injects a volume client, bypassing the lazy dial. Used by
// tests and by callers that manage their own connection.
func (r *RemoteVolume) SetClient(client VolumeClient) {
	r.client = client
}

// VolumeBase returns the volume path prefix all stored paths live under.
func (r *RemoteVolume) VolumeBase() string {
	return r.volumeBase
}

// MetadataTable returns the logical name of the metadata index table.
func (r *RemoteVolume) MetadataTable() string {
	return r.metaTable
}

// getClient returns the cached volume client, dialing it on first use.
func (r *RemoteVolume) getClient() (VolumeClient, error) {
	if r.client != nil {
		return r.client, nil
	}
	if r.cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: no volume endpoint configured (set %s)", ErrBackendUnavailable, volumeEndpointEnvKey)
	}
	client, err := newHTTPVolumeClient(r.cfg.Endpoint, r.cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	r.client = client
	slog.Info("remote volume client connected",
		"catalog", r.cfg.Catalog, "schema", r.cfg.Schema, "volume", r.cfg.Volume)
	return r.client, nil
}

// sanitizeScope reduces an engagement identifier to alphanumerics,
// hyphens, and underscores, and strips leading dots, so a crafted scope
// cannot escape the volume hierarchy or create hidden entries.
func sanitizeScope(scope string) string {
	var b strings.Builder
	for _, c := range scope {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '_':
			b.WriteRune(c)
		default:
			b.WriteByte('_')
		}
	}
	return strings.TrimLeft(b.String(), ".")
}

// validatePath rejects any path not under the configured volume base
// before a network call is made. Callers pass stored paths back verbatim;
// without this check a forged path could reach another namespace.
func (r *RemoteVolume) validatePath(path string) error {
	if !strings.HasPrefix(path, r.volumeBase+"/") {
		return fmt.Errorf("%w: %s (expected prefix %s)", ErrOutsideBoundary, path, r.volumeBase)
	}
	return nil
}

// isRemoteNotFound detects a remote not-found response from error text.
func isRemoteNotFound(err error) bool {
	if err == nil {
		return false
	}
	text := strings.ToLower(err.Error())
	return strings.Contains(text, "not found") ||
		strings.Contains(text, "does not exist") ||
		strings.Contains(text, "404")
}

// Write uploads content to the volume and appends a best-effort metadata
// index row. The file store is the source of truth; a failed index write
// is logged and does not fail the upload.
func (r *RemoteVolume) Write(ctx context.Context, engagementID, fileName string, content []byte, meta map[string]string) (Metadata, error) {
	client, err := r.getClient()
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

	path := fmt.Sprintf("%s/%s/%s", r.volumeBase, sanitizeScope(engagementID), recordID[:16]+"_"+safeName)

	if err := client.Upload(ctx, path, content); err != nil {
		return Metadata{}, fmt.Errorf("upload %s: %w", path, err)
	}

	r.insertMetadataRow(ctx, recordID, engagementID, safeName, path, contentHash, int64(len(content)), now, meta)

	return Metadata{
		Path:        path,
		Version:     1,
		ContentHash: contentHash,
		SizeBytes:   int64(len(content)),
		StoredAt:    now,
		Extra: map[string]string{
			"catalog":        r.cfg.Catalog,
			"schema":         r.cfg.Schema,
			"volume":         r.cfg.Volume,
			"record_id":      recordID,
			"metadata_table": r.metaTable,
		},
	}, nil
}

// Read downloads the bytes at path. Remote not-found responses map to
// ErrNotFound.
func (r *RemoteVolume) Read(ctx context.Context, path string) ([]byte, error) {
	if err := r.validatePath(path); err != nil {
		return nil, err
	}
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}
	content, err := client.Download(ctx, path)
	if err != nil {
		if isRemoteNotFound(err) {
			return nil, fmt.Errorf("evidence file %s: %w", path, ErrNotFound)
		}
		return nil, err
	}
	return content, nil
}

// Exists reports whether path exists in the volume. Unexpected remote
// errors are logged and reported as absent rather than failing the check.
func (r *RemoteVolume) Exists(ctx context.Context, path string) (bool, error) {
	if err := r.validatePath(path); err != nil {
		return false, err
	}
	client, err := r.getClient()
	if err != nil {
		return false, err
	}
	if _, err := client.Stat(ctx, path); err != nil {
		if !isRemoteNotFound(err) {
			slog.Warn("unexpected error checking volume path", "path", path, "error", err)
		}
		return false, nil
	}
	return true, nil
}

// List returns the volume paths stored for an engagement, sorted. The
// listing queries the volume directory rather than the metadata index so
// it reflects actual storage state.
func (r *RemoteVolume) List(ctx context.Context, engagementID, prefix string) ([]string, error) {
	client, err := r.getClient()
	if err != nil {
		return nil, err
	}
	dir := fmt.Sprintf("%s/%s", r.volumeBase, sanitizeScope(engagementID))

	entries, err := client.ListDirectory(ctx, dir)
	if err != nil {
		if isRemoteNotFound(err) {
			return []string{}, nil
		}
		slog.Warn("error listing volume directory", "dir", dir, "error", err)
		return []string{}, nil
	}

	paths := []string{}
	for _, entry := range entries {
		if entry.IsDirectory || entry.Path == "" {
			continue
		}
		if prefix != "" {
			base := entry.Path[strings.LastIndex(entry.Path, "/")+1:]
			if !strings.HasPrefix(originalName(base), prefix) {
				continue
			}
		}
		paths = append(paths, entry.Path)
	}
	sort.Strings(paths)
	return paths, nil
}

// Delete removes path from the volume and, best-effort, its metadata
// index row. Returns false when the path does not exist.
func (r *RemoteVolume) Delete(ctx context.Context, path string) (bool, error) {
	if err := r.validatePath(path); err != nil {
		return false, err
	}
	client, err := r.getClient()
	if err != nil {
		return false, err
	}
	if err := client.Delete(ctx, path); err != nil {
		if isRemoteNotFound(err) {
			return false, nil
		}
		return false, err
	}

	r.deleteMetadataRow(ctx, path)
	return true, nil
}

// Close releases the metadata index database handle if one was opened.
func (r *RemoteVolume) Close() error {
	if r.metaDB == nil {
		return nil
	}
	err := r.metaDB.Close()
	r.metaDB = nil
	return err
}

// ensureMetaTable opens the metadata index database and creates the
// table if absent. Best-effort: any failure is reported to the caller,
// which logs and moves on.
func (r *RemoteVolume) ensureMetaTable(ctx context.Context) (*sql.DB, error) {
	if r.cfg.MetaDBPath == "" {
		return nil, nil
	}
	if r.metaDB != nil {
		return r.metaDB, nil
	}
	u := url.URL{Scheme: "file", Path: r.cfg.MetaDBPath}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		return nil, err
	}
	if _, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS evidence_metadata (
		  id TEXT PRIMARY KEY,
		  engagement_id TEXT NOT NULL,
		  file_name TEXT NOT NULL,
		  volume_path TEXT NOT NULL,
		  content_hash TEXT NOT NULL,
		  size_bytes INTEGER NOT NULL,
		  stored_at TEXT NOT NULL,
		  metadata_json TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_evidence_metadata_path ON evidence_metadata(volume_path);
	`); err != nil {
		_ = db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(1)
	r.metaDB = db
	return db, nil
}

func (r *RemoteVolume) insertMetadataRow(ctx context.Context, recordID, engagementID, fileName, path, contentHash string, size int64, storedAt time.Time, meta map[string]string) {
	db, err := r.ensureMetaTable(ctx)
	if err != nil {
		slog.Warn("could not ensure metadata table", "table", r.metaTable, "error", err)
		return
	}
	if db == nil {
		return
	}

	metaJSON := "{}"
	if len(meta) > 0 {
		if raw, err := json.Marshal(meta); err == nil {
			metaJSON = string(raw)
		}
	}
	if _, err := db.ExecContext(ctx, `
		INSERT INTO evidence_metadata
		(id, engagement_id, file_name, volume_path, content_hash, size_bytes, stored_at, metadata_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, recordID, engagementID, fileName, path, contentHash, size, storedAt.Format(time.RFC3339Nano), metaJSON); err != nil {
		slog.Warn("failed to write metadata row", "path", path, "error", err)
	}
}

func (r *RemoteVolume) deleteMetadataRow(ctx context.Context, path string) {
	db, err := r.ensureMetaTable(ctx)
	if err != nil || db == nil {
		if err != nil {
			slog.Warn("could not ensure metadata table", "table", r.metaTable, "error", err)
		}
		return
	}
	if _, err := db.ExecContext(ctx, "DELETE FROM evidence_metadata WHERE volume_path = ?", path); err != nil {
		slog.Warn("failed to remove metadata row", "path", path, "error", err)
	}
}
