package silver

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"evlake/internal/storage"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	base := t.TempDir()
	w, err := NewWriter(base)
	if err != nil {
		t.Fatalf("new writer: %v", err)
	}
	return w, base
}

func readTableRows(t *testing.T, tablePath string) []map[string]any {
	t.Helper()
	f, err := os.Open(filepath.Join(tablePath, "rows.jsonl"))
	if err != nil {
		t.Fatalf("open table rows: %v", err)
	}
	defer f.Close()

	var rows []map[string]any
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		row := map[string]any{}
		if err := json.Unmarshal(scanner.Bytes(), &row); err != nil {
			t.Fatalf("decode row: %v", err)
		}
		rows = append(rows, row)
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan rows: %v", err)
	}
	return rows
}

func TestWriteFragments(t *testing.T) {
	w, base := newTestWriter(t)

	res, err := w.WriteFragments("eng-1", "item-1", []Fragment{
		{Content: "plain text piece"},
		{
			ID:           "frag-2",
			FragmentType: "table",
			Content:      "a,b,c",
			Metadata:     map[string]any{"columns": float64(3)},
		},
	})
	if err != nil {
		t.Fatalf("write fragments: %v", err)
	}
	if res.RowsWritten != 2 {
		t.Fatalf("expected 2 rows written, got %d", res.RowsWritten)
	}
	wantPath := filepath.Join(base, "silver", "evidence_fragments")
	if res.TablePath != wantPath {
		t.Fatalf("expected table path %s, got %s", wantPath, res.TablePath)
	}

	rows := readTableRows(t, res.TablePath)
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows in table, got %d", len(rows))
	}

	first := rows[0]
	if first["fragment_type"] != "text" {
		t.Fatalf("expected default fragment type text, got %v", first["fragment_type"])
	}
	if first["id"] == "" {
		t.Fatal("expected generated fragment id")
	}
	if first["content_hash"] != storage.ContentHash([]byte("plain text piece")) {
		t.Fatalf("unexpected content hash %v", first["content_hash"])
	}
	if first["metadata_json"] != "{}" {
		t.Fatalf("expected empty metadata object, got %v", first["metadata_json"])
	}

	second := rows[1]
	if second["id"] != "frag-2" || second["fragment_type"] != "table" {
		t.Fatalf("explicit id and type must be kept, got %v", second)
	}
	meta := map[string]any{}
	if err := json.Unmarshal([]byte(second["metadata_json"].(string)), &meta); err != nil {
		t.Fatalf("decode metadata_json: %v", err)
	}
	if meta["columns"] != float64(3) {
		t.Fatalf("unexpected metadata %v", meta)
	}
	if second["engagement_id"] != "eng-1" || second["evidence_item_id"] != "item-1" {
		t.Fatalf("row missing scope columns: %v", second)
	}
}

func TestWriteFragmentsAppends(t *testing.T) {
	w, _ := newTestWriter(t)

	if _, err := w.WriteFragments("eng-1", "item-1", []Fragment{{Content: "one"}}); err != nil {
		t.Fatalf("first write: %v", err)
	}
	res, err := w.WriteFragments("eng-1", "item-2", []Fragment{{Content: "two"}, {Content: "three"}})
	if err != nil {
		t.Fatalf("second write: %v", err)
	}

	rows := readTableRows(t, res.TablePath)
	if len(rows) != 3 {
		t.Fatalf("expected table to accumulate 3 rows, got %d", len(rows))
	}
}

func TestWriteFragmentsEmptyInput(t *testing.T) {
	w, base := newTestWriter(t)

	res, err := w.WriteFragments("eng-1", "item-1", nil)
	if err != nil {
		t.Fatalf("write empty: %v", err)
	}
	if res.RowsWritten != 0 || res.TablePath != "" {
		t.Fatalf("expected zero result, got %+v", res)
	}
	if _, err := os.Stat(filepath.Join(base, "silver", "evidence_fragments")); !os.IsNotExist(err) {
		t.Fatal("empty input must not create the table")
	}
}

func TestWriteEntities(t *testing.T) {
	w, base := newTestWriter(t)

	res, err := w.WriteEntities("eng-1", "item-1", []Entity{
		{FragmentID: "frag-1", EntityType: "person", Value: "A. Author", Confidence: 0.92},
	})
	if err != nil {
		t.Fatalf("write entities: %v", err)
	}
	if res.RowsWritten != 1 {
		t.Fatalf("expected 1 row, got %d", res.RowsWritten)
	}
	if res.TablePath != filepath.Join(base, "silver", "extracted_entities") {
		t.Fatalf("unexpected table path %s", res.TablePath)
	}

	rows := readTableRows(t, res.TablePath)
	row := rows[0]
	if row["fragment_id"] != "frag-1" || row["entity_type"] != "person" {
		t.Fatalf("unexpected entity row %v", row)
	}
	if row["confidence"] != 0.92 {
		t.Fatalf("unexpected confidence %v", row["confidence"])
	}
}

func TestWriteQualityEvent(t *testing.T) {
	w, _ := newTestWriter(t)

	res, err := w.WriteQualityEvent("eng-1", "item-1", map[string]float64{
		"completeness": 1.0,
		"reliability":  0.5,
		"freshness":    0.5,
		"consistency":  1.0,
	})
	if err != nil {
		t.Fatalf("write quality event: %v", err)
	}
	if res.RowsWritten != 1 {
		t.Fatalf("expected 1 row, got %d", res.RowsWritten)
	}

	row := readTableRows(t, res.TablePath)[0]
	if row["overall_score"] != 0.75 {
		t.Fatalf("expected mean overall score 0.75, got %v", row["overall_score"])
	}
	if row["completeness_score"] != 1.0 || row["reliability_score"] != 0.5 {
		t.Fatalf("unexpected component scores %v", row)
	}
	if row["recorded_at"] == "" {
		t.Fatal("expected recorded_at timestamp")
	}
}

func TestWriteQualityEventNoScores(t *testing.T) {
	w, _ := newTestWriter(t)

	res, err := w.WriteQualityEvent("eng-1", "item-1", nil)
	if err != nil {
		t.Fatalf("write quality event: %v", err)
	}
	row := readTableRows(t, res.TablePath)[0]
	if row["overall_score"] != 0.0 {
		t.Fatalf("expected overall 0 without scores, got %v", row["overall_score"])
	}
}
