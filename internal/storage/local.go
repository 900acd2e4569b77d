package storage

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// Local stores evidence files on the local filesystem under
// {base}/{engagementID}/{rand8}_{name}. No versioning, no time travel;
// the returned version is always 1.
type Local struct {
	base string
}

// NewLocal creates a local backend rooted at base. The root directory is
// created if absent.
func NewLocal(base string) (*Local, error) {
	base = strings.TrimSpace(base)
	if base == "" {
		return nil, fmt.Errorf("local storage base path is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, err
	}
	return &Local{base: abs}, nil
}

func (l *Local) validatePath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", err
	}
	if abs != l.base && !strings.HasPrefix(abs, l.base+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s", ErrOutsideBoundary, path)
	}
	return abs, nil
}

// Write persists content under the engagement directory with a
// collision-resistant generated name. Repeated writes of the same logical
// name never overwrite each other.
func (l *Local) Write(ctx context.Context, engagementID, fileName string, content []byte, meta map[string]string) (Metadata, error) {
	if err := ctx.Err(); err != nil {
		return Metadata{}, err
	}
	safeName := sanitizeFileName(fileName)
	if safeName == "" {
		return Metadata{}, fmt.Errorf("file name is required")
	}

	dir := filepath.Join(l.base, engagementID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return Metadata{}, err
	}

	prefix, err := randomHex(4)
	if err != nil {
		return Metadata{}, err
	}
	path := filepath.Join(dir, prefix+"_"+safeName)

	if err := os.WriteFile(path, content, 0o644); err != nil {
		return Metadata{}, err
	}

	return Metadata{
		Path:        path,
		Version:     1,
		ContentHash: ContentHash(content),
		SizeBytes:   int64(len(content)),
		StoredAt:    time.Now().UTC(),
	}, nil
}

// Read returns the stored bytes for path. Missing paths map to
// ErrNotFound.
func (l *Local) Read(ctx context.Context, path string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	abs, err := l.validatePath(path)
	if err != nil {
		return nil, err
	}
	content, err := os.ReadFile(abs)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("evidence file %s: %w", path, ErrNotFound)
	}
	return content, err
}

// Exists reports whether path exists. Missing paths are false, not an
// error.
func (l *Local) Exists(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	abs, err := l.validatePath(path)
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

// List returns the stored paths for an engagement, sorted. The optional
// prefix filters on the original (unprefixed) file name.
func (l *Local) List(ctx context.Context, engagementID, prefix string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dir := filepath.Join(l.base, engagementID)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}

	paths := []string{}
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		if prefix != "" && !strings.HasPrefix(originalName(entry.Name()), prefix) {
			continue
		}
		paths = append(paths, filepath.Join(dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Delete removes path. Returns false when the path does not exist.
func (l *Local) Delete(ctx context.Context, path string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	abs, err := l.validatePath(path)
	if err != nil {
		return false, err
	}
	if err := os.Remove(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}
