// Package storage provides the evidence storage backend contract and its
// implementations: local filesystem, a versioned append-only table format,
// and a remote object volume with a SQL metadata index.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// Metadata describes the outcome of one backend write.
type Metadata struct {
	Path        string            `json:"path"`
	Version     int64             `json:"version"`
	ContentHash string            `json:"content_hash"`
	SizeBytes   int64             `json:"size_bytes"`
	StoredAt    time.Time         `json:"stored_at"`
	Extra       map[string]string `json:"extra,omitempty"`
}

// Backend is the storage abstraction for evidence bytes. All
// implementations share the same write/read/exists/list/delete contract:
// writes never overwrite a prior write of the same logical name, reads of
// missing paths return ErrNotFound, exists and delete never error on a
// missing path, and list returns lexicographically sorted paths.
type Backend interface {
	Write(ctx context.Context, engagementID, fileName string, content []byte, meta map[string]string) (Metadata, error)
	Read(ctx context.Context, path string) ([]byte, error)
	Exists(ctx context.Context, path string) (bool, error)
	List(ctx context.Context, engagementID, prefix string) ([]string, error)
	Delete(ctx context.Context, path string) (bool, error)
}

// ContentHash returns the hex SHA-256 digest of content. The digest is
// always computed from the exact bytes persisted.
func ContentHash(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Kind selects a storage backend implementation.
type Kind string

const (
	KindLocal        Kind = "local"
	KindTableFormat  Kind = "tableformat"
	KindRemoteVolume Kind = "remotevolume"
)

// ParseKind validates a backend selector.
func ParseKind(raw string) (Kind, error) {
	value := Kind(strings.ToLower(strings.TrimSpace(raw)))
	switch value {
	case KindLocal, KindTableFormat, KindRemoteVolume:
		return value, nil
	case "":
		return "", fmt.Errorf("storage backend is required")
	default:
		return "", fmt.Errorf("unknown storage backend: %s (must be one of: local, tableformat, remotevolume)", value)
	}
}

// Options carries construction parameters for the backend factory.
type Options struct {
	// BasePath is the root directory for the local and tableformat
	// backends.
	BasePath string

	// Remote volume coordinates and credentials. Endpoint and Token fall
	// back to EVLAKE_VOLUME_ENDPOINT / EVLAKE_VOLUME_TOKEN when empty.
	Catalog  string
	Schema   string
	Volume   string
	Endpoint string
	Token    string

	// MetaDBPath is the optional SQLite path for the remote volume
	// metadata index table.
	MetaDBPath string
}

// New constructs a storage backend for kind. An unknown kind is a
// configuration error reported immediately; missing optional remote
// dependencies are not (they surface on first use).
func New(kind Kind, opts Options) (Backend, error) {
	switch kind {
	case KindLocal:
		base := opts.BasePath
		if base == "" {
			base = "evidence_store"
		}
		return NewLocal(base)
	case KindTableFormat:
		base := opts.BasePath
		if base == "" {
			base = "datalake"
		}
		return NewTableFormat(base)
	case KindRemoteVolume:
		return NewRemoteVolume(RemoteVolumeConfig{
			Catalog:    opts.Catalog,
			Schema:     opts.Schema,
			Volume:     opts.Volume,
			Endpoint:   opts.Endpoint,
			Token:      opts.Token,
			MetaDBPath: opts.MetaDBPath,
		}), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", kind)
	}
}
