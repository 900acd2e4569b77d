package storage

import "errors"

var (
	// ErrNotFound reports that a storage path or record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrOutsideBoundary reports a path argument that escapes the
	// backend's configured root. Never retried; callers passing stored
	// paths back verbatim should never hit this.
	ErrOutsideBoundary = errors.New("path is outside storage boundary")

	// ErrBackendUnavailable reports that an optional backend dependency
	// could not be constructed. Surfaced at first use, not at
	// configuration time.
	ErrBackendUnavailable = errors.New("storage backend unavailable")
)
