package storage

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

type fakeVolumeClient struct {
	files     map[string][]byte
	uploadErr error
}

func newFakeVolumeClient() *fakeVolumeClient {
	return &fakeVolumeClient{files: map[string][]byte{}}
}

func (f *fakeVolumeClient) Upload(ctx context.Context, path string, content []byte) error {
	if f.uploadErr != nil {
		return f.uploadErr
	}
	f.files[path] = append([]byte(nil), content...)
	return nil
}

func (f *fakeVolumeClient) Download(ctx context.Context, path string) ([]byte, error) {
	content, ok := f.files[path]
	if !ok {
		return nil, fmt.Errorf("download %s: status 404: path not found", path)
	}
	return content, nil
}

func (f *fakeVolumeClient) Stat(ctx context.Context, path string) (VolumeFileInfo, error) {
	content, ok := f.files[path]
	if !ok {
		return VolumeFileInfo{}, fmt.Errorf("stat %s: status 404: path not found", path)
	}
	return VolumeFileInfo{Path: path, SizeBytes: int64(len(content))}, nil
}

func (f *fakeVolumeClient) ListDirectory(ctx context.Context, dir string) ([]VolumeFileInfo, error) {
	entries := []VolumeFileInfo{}
	for path, content := range f.files {
		if strings.HasPrefix(path, dir+"/") {
			entries = append(entries, VolumeFileInfo{Path: path, SizeBytes: int64(len(content))})
		}
	}
	if len(entries) == 0 {
		return nil, fmt.Errorf("list %s: status 404: directory does not exist", dir)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

func (f *fakeVolumeClient) Delete(ctx context.Context, path string) error {
	if _, ok := f.files[path]; !ok {
		return fmt.Errorf("delete %s: status 404: path not found", path)
	}
	delete(f.files, path)
	return nil
}

func newTestRemoteVolume(t *testing.T) (*RemoteVolume, *fakeVolumeClient) {
	t.Helper()
	backend := NewRemoteVolume(RemoteVolumeConfig{
		Catalog: "acme",
		Schema:  "evidence",
		Volume:  "raw",
	})
	client := newFakeVolumeClient()
	backend.SetClient(client)
	return backend, client
}

func TestRemoteVolumeUnavailableWithoutEndpoint(t *testing.T) {
	t.Setenv(volumeEndpointEnvKey, "")
	t.Setenv(volumeTokenEnvKey, "")

	backend := NewRemoteVolume(RemoteVolumeConfig{})

	_, err := backend.Write(context.Background(), "eng-1", "a.txt", []byte("a"), nil)
	if !errors.Is(err, ErrBackendUnavailable) {
		t.Fatalf("expected ErrBackendUnavailable, got %v", err)
	}
}

func TestRemoteVolumeBoundaryCheckedBeforeDial(t *testing.T) {
	t.Setenv(volumeEndpointEnvKey, "")

	backend := NewRemoteVolume(RemoteVolumeConfig{Catalog: "acme", Schema: "evidence", Volume: "raw"})

	// No client configured: a boundary violation must be reported before
	// any connection attempt.
	_, err := backend.Read(context.Background(), "/Volumes/other/schema/vol/evidence_store/eng/file")
	if !errors.Is(err, ErrOutsideBoundary) {
		t.Fatalf("expected ErrOutsideBoundary, got %v", err)
	}
}

func TestRemoteVolumeWriteReadRoundTrip(t *testing.T) {
	backend, client := newTestRemoteVolume(t)
	ctx := context.Background()
	content := []byte("remote evidence bytes")

	meta, err := backend.Write(ctx, "eng-1", "scan.json", content, map[string]string{"source": "test"})
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if !strings.HasPrefix(meta.Path, "/Volumes/acme/evidence/raw/evidence_store/eng-1/") {
		t.Fatalf("unexpected volume path %s", meta.Path)
	}
	if meta.ContentHash != ContentHash(content) {
		t.Fatalf("unexpected content hash %q", meta.ContentHash)
	}
	if meta.Extra["metadata_table"] != "acme.evidence.evidence_metadata" {
		t.Fatalf("unexpected metadata table %q", meta.Extra["metadata_table"])
	}
	if len(client.files) != 1 {
		t.Fatalf("expected 1 uploaded file, got %d", len(client.files))
	}

	got, err := backend.Read(ctx, meta.Path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !bytes.Equal(got, content) {
		t.Fatalf("read returned different bytes: %q", got)
	}
}

func TestRemoteVolumeSanitizesScope(t *testing.T) {
	backend, _ := newTestRemoteVolume(t)

	meta, err := backend.Write(context.Background(), "../evil id", "a.txt", []byte("a"), nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if strings.Contains(strings.TrimPrefix(meta.Path, backend.VolumeBase()+"/"), "..") {
		t.Fatalf("scope not sanitized: %s", meta.Path)
	}
	if !strings.HasPrefix(meta.Path, backend.VolumeBase()+"/___evil_id/") {
		t.Fatalf("unexpected sanitized path %s", meta.Path)
	}
}

func TestRemoteVolumeNotFoundMapping(t *testing.T) {
	backend, _ := newTestRemoteVolume(t)
	ctx := context.Background()
	missing := backend.VolumeBase() + "/eng-1/0000_missing.txt"

	if _, err := backend.Read(ctx, missing); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound from read, got %v", err)
	}

	exists, err := backend.Exists(ctx, missing)
	if err != nil {
		t.Fatalf("exists on missing path should not error: %v", err)
	}
	if exists {
		t.Fatal("expected missing path to not exist")
	}

	deleted, err := backend.Delete(ctx, missing)
	if err != nil {
		t.Fatalf("delete on missing path should not error: %v", err)
	}
	if deleted {
		t.Fatal("expected delete of missing path to report false")
	}
}

func TestRemoteVolumeListSortedWithPrefix(t *testing.T) {
	backend, _ := newTestRemoteVolume(t)
	ctx := context.Background()

	for _, name := range []string{"zeta.txt", "alpha.txt", "alpine.txt"} {
		if _, err := backend.Write(ctx, "eng-1", name, []byte(name), nil); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	all, err := backend.List(ctx, "eng-1", "")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 paths, got %d", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i-1] > all[i] {
			t.Fatalf("list not sorted: %v", all)
		}
	}

	filtered, err := backend.List(ctx, "eng-1", "alp")
	if err != nil {
		t.Fatalf("list with prefix: %v", err)
	}
	if len(filtered) != 2 {
		t.Fatalf("expected 2 paths for prefix 'alp', got %d: %v", len(filtered), filtered)
	}

	empty, err := backend.List(ctx, "no-such-engagement", "")
	if err != nil {
		t.Fatalf("list missing engagement: %v", err)
	}
	if len(empty) != 0 {
		t.Fatalf("expected empty listing, got %v", empty)
	}
}

func TestRemoteVolumeMetadataIndex(t *testing.T) {
	metaDBPath := filepath.Join(t.TempDir(), "meta.db")
	backend := NewRemoteVolume(RemoteVolumeConfig{
		Catalog:    "acme",
		Schema:     "evidence",
		Volume:     "raw",
		MetaDBPath: metaDBPath,
	})
	backend.SetClient(newFakeVolumeClient())
	defer backend.Close()
	ctx := context.Background()

	meta, err := backend.Write(ctx, "eng-1", "a.txt", []byte("a"), nil)
	if err != nil {
		t.Fatalf("write: %v", err)
	}

	u := url.URL{Scheme: "file", Path: metaDBPath}
	db, err := sql.Open("sqlite", u.String())
	if err != nil {
		t.Fatalf("open meta db: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM evidence_metadata WHERE volume_path = ?", meta.Path).Scan(&count); err != nil {
		t.Fatalf("query metadata index: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 index row, got %d", count)
	}

	if _, err := backend.Delete(ctx, meta.Path); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM evidence_metadata WHERE volume_path = ?", meta.Path).Scan(&count); err != nil {
		t.Fatalf("query metadata index after delete: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected 0 index rows after delete, got %d", count)
	}
}
