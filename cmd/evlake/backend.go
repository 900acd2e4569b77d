package main

import (
	"evlake/internal/config"
	"evlake/internal/storage"
)

// buildBackend constructs the storage backend selected by flag, falling
// back to config. basePath, when empty, also falls back to config.
func buildBackend(cfg *config.Config, backendFlag, basePathFlag string) (storage.Backend, error) {
	raw := backendFlag
	if raw == "" {
		raw = cfg.StorageBackend
	}
	kind, err := storage.ParseKind(raw)
	if err != nil {
		return nil, err
	}

	basePath := basePathFlag
	if basePath == "" {
		basePath = cfg.BasePath
	}
	if basePath == "" && kind == storage.KindLocal {
		basePath = cfg.EvidenceStorePath
	}
	if basePath == "" && kind == storage.KindTableFormat {
		basePath = cfg.DatalakePath
	}

	return storage.New(kind, storage.Options{
		BasePath:   basePath,
		Catalog:    cfg.RemoteVolume.Catalog,
		Schema:     cfg.RemoteVolume.Schema,
		Volume:     cfg.RemoteVolume.Volume,
		Endpoint:   cfg.RemoteVolume.Endpoint,
		MetaDBPath: cfg.RemoteVolume.MetaDBPath,
	})
}

type closer interface {
	Close() error
}

// closeBackend closes backends that hold resources (the tableformat
// ledger and the remote metadata index keep database handles).
func closeBackend(backend storage.Backend) {
	if c, ok := backend.(closer); ok {
		_ = c.Close()
	}
}
