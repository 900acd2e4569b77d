package migration

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"

	"evlake/internal/catalog"
	"evlake/internal/models"
	"evlake/internal/silver"
	"evlake/internal/storage"
	"evlake/internal/store"
)

type testEnv struct {
	engine        *Engine
	store         *store.Store
	backend       storage.Backend
	evidenceStore string
	datalake      string
	engagementID  string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()

	st, err := store.Open(filepath.Join(root, "evlake.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	backend, err := storage.New(storage.KindLocal, storage.Options{BasePath: filepath.Join(root, "bronze")})
	if err != nil {
		t.Fatalf("new backend: %v", err)
	}

	datalake := filepath.Join(root, "datalake")
	sw, err := silver.NewWriter(datalake)
	if err != nil {
		t.Fatalf("new silver writer: %v", err)
	}

	evidenceStore := filepath.Join(root, "evidence_store")
	return &testEnv{
		engine:        NewEngine(st, backend, sw, evidenceStore),
		store:         st,
		backend:       backend,
		evidenceStore: evidenceStore,
		datalake:      datalake,
		engagementID:  uuid.New().String(),
	}
}

// seedItem creates an evidence item and, unless content is empty, a
// legacy file for it under {evidence_store}/{engagement}/{name}.
func (env *testEnv) seedItem(t *testing.T, name, content string) *models.EvidenceItem {
	t.Helper()
	item := &models.EvidenceItem{
		EngagementID: env.engagementID,
		Name:         name,
		Category:     models.CategoryDocuments,
		ContentHash:  storage.ContentHash([]byte(content)),
	}
	if err := env.store.CreateEvidenceItem(context.Background(), item); err != nil {
		t.Fatalf("create item %s: %v", name, err)
	}
	if content != "" {
		dir := filepath.Join(env.evidenceStore, env.engagementID)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatalf("mkdir legacy store: %v", err)
		}
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			t.Fatalf("write legacy file: %v", err)
		}
	}
	return item
}

func (env *testEnv) countSilverRows(t *testing.T, table string) int {
	t.Helper()
	f, err := os.Open(filepath.Join(env.datalake, "silver", table, "rows.jsonl"))
	if os.IsNotExist(err) {
		return 0
	}
	if err != nil {
		t.Fatalf("open silver table %s: %v", table, err)
	}
	defer f.Close()

	n := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		n++
	}
	return n
}

type failingBackend struct {
	storage.Backend
	failName string
}

func (b *failingBackend) Write(ctx context.Context, engagementID, fileName string, content []byte, meta map[string]string) (storage.Metadata, error) {
	if fileName == b.failName {
		return storage.Metadata{}, fmt.Errorf("upload rejected")
	}
	return b.Backend.Write(ctx, engagementID, fileName, content, meta)
}

func TestRunInvalidEngagementID(t *testing.T) {
	env := newTestEnv(t)

	if _, err := env.engine.Run(context.Background(), "not-a-uuid", false); err == nil {
		t.Fatal("expected error for invalid engagement id")
	}
}

func TestRunMigratesAllItems(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	items := []*models.EvidenceItem{
		env.seedItem(t, "report.pdf", "report body"),
		env.seedItem(t, "notes.txt", "notes body"),
		env.seedItem(t, "export.csv", "a,b\n1,2\n"),
	}

	result, err := env.engine.Run(ctx, env.engagementID, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.ItemsProcessed != 3 || result.ItemsSkipped != 0 || result.ItemsFailed != 0 {
		t.Fatalf("unexpected counters: %+v", result)
	}
	if result.BronzeWritten != 3 || result.LineageRecordsCreated != 3 ||
		result.CatalogEntriesCreated != 3 || result.SilverWritten != 3 {
		t.Fatalf("unexpected step counters: %+v", result)
	}

	stored, err := env.backend.List(ctx, env.engagementID, "")
	if err != nil {
		t.Fatalf("list bronze: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("expected 3 bronze files, got %d", len(stored))
	}

	for _, item := range items {
		got, err := env.store.GetEvidenceItem(ctx, item.ID)
		if err != nil {
			t.Fatalf("get item: %v", err)
		}
		if got.BronzePath == "" {
			t.Fatalf("item %s missing bronze path", item.Name)
		}
		if got.LineageID == "" {
			t.Fatalf("item %s missing lineage link", item.Name)
		}

		lin, err := env.store.GetLineageByItem(ctx, item.ID)
		if err != nil || lin == nil {
			t.Fatalf("item %s missing lineage record: %v", item.Name, err)
		}
		if lin.SourceSystem != "migration_job" {
			t.Fatalf("unexpected lineage source %q", lin.SourceSystem)
		}

		entry, err := env.store.GetCatalogEntry(ctx, env.engagementID, catalog.DatasetNameForItem(item.ID))
		if err != nil || entry == nil {
			t.Fatalf("item %s missing catalog entry: %v", item.Name, err)
		}
		if entry.Layer != models.LayerBronze {
			t.Fatalf("unexpected catalog layer %q", entry.Layer)
		}
	}

	if n := env.countSilverRows(t, "evidence_fragments"); n != 3 {
		t.Fatalf("expected 3 silver fragments, got %d", n)
	}
	if n := env.countSilverRows(t, "quality_events"); n != 3 {
		t.Fatalf("expected 3 quality events, got %d", n)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedItem(t, "report.pdf", "report body")
	env.seedItem(t, "notes.txt", "notes body")

	if _, err := env.engine.Run(ctx, env.engagementID, false); err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := env.engine.Run(ctx, env.engagementID, false)
	if err != nil {
		t.Fatalf("second run: %v", err)
	}

	if second.ItemsSkipped != 2 || second.ItemsProcessed != 0 {
		t.Fatalf("expected all items skipped, got %+v", second)
	}
	if second.BronzeWritten != 0 || second.LineageRecordsCreated != 0 || second.CatalogEntriesCreated != 0 {
		t.Fatalf("expected no new bronze/lineage/catalog, got %+v", second)
	}
	if second.SilverWritten != 2 {
		t.Fatalf("silver writes run every time, got %+v", second)
	}

	stored, err := env.backend.List(ctx, env.engagementID, "")
	if err != nil {
		t.Fatalf("list bronze: %v", err)
	}
	if len(stored) != 2 {
		t.Fatalf("expected bronze unchanged at 2 files, got %d", len(stored))
	}
}

func TestDryRunCountsWithoutEffects(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	items := []*models.EvidenceItem{
		env.seedItem(t, "report.pdf", "report body"),
		env.seedItem(t, "notes.txt", "notes body"),
	}

	result, err := env.engine.Run(ctx, env.engagementID, true)
	if err != nil {
		t.Fatalf("dry run: %v", err)
	}

	if !result.DryRun {
		t.Fatal("expected dry run flag set")
	}
	if result.ItemsProcessed != 2 || result.BronzeWritten != 2 ||
		result.LineageRecordsCreated != 2 || result.CatalogEntriesCreated != 2 || result.SilverWritten != 2 {
		t.Fatalf("dry run must count the same work, got %+v", result)
	}

	stored, err := env.backend.List(ctx, env.engagementID, "")
	if err != nil {
		t.Fatalf("list bronze: %v", err)
	}
	if len(stored) != 0 {
		t.Fatalf("dry run must not write bronze, got %v", stored)
	}
	for _, item := range items {
		lin, err := env.store.GetLineageByItem(ctx, item.ID)
		if err != nil {
			t.Fatalf("get lineage: %v", err)
		}
		if lin != nil {
			t.Fatalf("dry run must not create lineage for %s", item.Name)
		}
		entry, err := env.store.GetCatalogEntry(ctx, env.engagementID, catalog.DatasetNameForItem(item.ID))
		if err != nil {
			t.Fatalf("get catalog entry: %v", err)
		}
		if entry != nil {
			t.Fatalf("dry run must not create catalog entry for %s", item.Name)
		}
	}
	if n := env.countSilverRows(t, "evidence_fragments"); n != 0 {
		t.Fatalf("dry run must not write silver rows, got %d", n)
	}
}

func TestRunIsolatesFailingItem(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var boom *models.EvidenceItem
	for _, name := range []string{"a.txt", "b.txt", "boom.txt", "c.txt", "d.txt"} {
		item := env.seedItem(t, name, "content of "+name)
		if name == "boom.txt" {
			boom = item
		}
	}
	env.engine.backend = &failingBackend{Backend: env.backend, failName: "boom.txt"}

	result, err := env.engine.Run(ctx, env.engagementID, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.ItemsFailed != 1 || result.ItemsProcessed != 4 {
		t.Fatalf("expected one failure and four processed, got %+v", result)
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], boom.ID) {
		t.Fatalf("expected error naming item %s, got %v", boom.ID, result.Errors)
	}

	// The failed item's metadata changes were rolled back.
	got, err := env.store.GetEvidenceItem(ctx, boom.ID)
	if err != nil {
		t.Fatalf("get failed item: %v", err)
	}
	if got.BronzePath != "" || got.LineageID != "" {
		t.Fatalf("failed item must be untouched, got %+v", got)
	}
	lin, err := env.store.GetLineageByItem(ctx, boom.ID)
	if err != nil {
		t.Fatalf("get lineage: %v", err)
	}
	if lin != nil {
		t.Fatal("failed item must have no lineage record")
	}
	entry, err := env.store.GetCatalogEntry(ctx, env.engagementID, catalog.DatasetNameForItem(boom.ID))
	if err != nil {
		t.Fatalf("get catalog entry: %v", err)
	}
	if entry != nil {
		t.Fatal("failed item must have no catalog entry")
	}

	// The other items committed normally.
	stored, err := env.backend.List(ctx, env.engagementID, "")
	if err != nil {
		t.Fatalf("list bronze: %v", err)
	}
	if len(stored) != 4 {
		t.Fatalf("expected 4 bronze files, got %d", len(stored))
	}
}

func TestRunSkipsBronzeWhenLocalFileMissing(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.seedItem(t, "ghost.txt", "")

	result, err := env.engine.Run(ctx, env.engagementID, false)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if result.ItemsProcessed != 1 || result.ItemsFailed != 0 {
		t.Fatalf("missing file must not fail the item, got %+v", result)
	}
	if result.BronzeWritten != 0 {
		t.Fatalf("expected no bronze writes, got %+v", result)
	}
	if result.LineageRecordsCreated != 1 || result.CatalogEntriesCreated != 1 || result.SilverWritten != 1 {
		t.Fatalf("remaining steps must still run, got %+v", result)
	}

	got, err := env.store.GetEvidenceItem(ctx, item.ID)
	if err != nil {
		t.Fatalf("get item: %v", err)
	}
	if got.BronzePath != "" {
		t.Fatalf("expected empty bronze path, got %q", got.BronzePath)
	}
	if got.LineageID == "" {
		t.Fatal("expected lineage link despite missing file")
	}
}
