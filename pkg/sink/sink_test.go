package sink

import (
	"database/sql"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gardar/ocrtable/pkg/row"
)

func sampleRows(n int, pageID string) []row.Row {
	conf := float32(0.9)
	rows := make([]row.Row, n)
	for i := range rows {
		rows[i] = row.Row{
			PageID:      pageID,
			RegionID:    "b1",
			WordID:      "w1",
			Text:        "word",
			X:           10, Y: 20, Width: 30, Height: 40,
			Confidence:  &conf,
			SourceFile:  "scan.xml",
			ProcessedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		}
	}
	return rows
}

func TestMemory(t *testing.T) {
	m := &Memory{}
	if err := m.Accept(sampleRows(3, "P1")); err != nil {
		t.Fatal(err)
	}
	if err := m.Accept(sampleRows(2, "P2")); err != nil {
		t.Fatal(err)
	}
	summary, err := m.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if summary.RowsWritten != 5 || m.Batches() != 2 {
		t.Errorf("summary = %+v, batches = %d", summary, m.Batches())
	}
}

func TestJSONLRoundTrip(t *testing.T) {
	for _, compression := range []string{"none", "gzip"} {
		path := filepath.Join(t.TempDir(), "rows.jsonl")
		if compression == "gzip" {
			path += ".gz"
		}

		s, err := NewJSONL(path, compression)
		if err != nil {
			t.Fatal(err)
		}
		if err := s.Accept(sampleRows(4, "P1")); err != nil {
			t.Fatal(err)
		}
		summary, err := s.Finalize()
		if err != nil {
			t.Fatal(err)
		}
		if summary.RowsWritten != 4 {
			t.Errorf("%s: rows written = %d", compression, summary.RowsWritten)
		}

		back, err := ReadJSONL(path)
		if err != nil {
			t.Fatal(err)
		}
		if len(back) != 4 {
			t.Fatalf("%s: read back %d rows", compression, len(back))
		}
		got := back[0]
		if got.PageID != "P1" || got.Text != "word" || got.X != 10 {
			t.Errorf("%s: row round trip mismatch: %+v", compression, got)
		}
		if got.Confidence == nil || *got.Confidence != 0.9 {
			t.Errorf("%s: confidence lost", compression)
		}
	}
}

func TestDirSharding(t *testing.T) {
	root := t.TempDir()
	d, err := NewDir(root, 10, "", "none")
	if err != nil {
		t.Fatal(err)
	}
	// 25 rows over shard size 10 gives three shards.
	if err := d.Accept(sampleRows(25, "P1")); err != nil {
		t.Fatal(err)
	}
	summary, err := d.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if summary.RowsWritten != 25 || summary.Shards != 3 {
		t.Errorf("summary = %+v", summary)
	}

	for _, name := range []string{"shard_00000.jsonl", "shard_00001.jsonl", "shard_00002.jsonl", "manifest.json"} {
		if _, err := os.Stat(filepath.Join(root, name)); err != nil {
			t.Errorf("missing %s: %v", name, err)
		}
	}

	full, err := ReadJSONL(filepath.Join(root, "shard_00000.jsonl"))
	if err != nil {
		t.Fatal(err)
	}
	if len(full) != 10 {
		t.Errorf("first shard has %d rows, want 10", len(full))
	}
}

func TestDirPartitioning(t *testing.T) {
	root := t.TempDir()
	d, err := NewDir(root, 100, "page_id", "none")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Accept(sampleRows(3, "P1")); err != nil {
		t.Fatal(err)
	}
	if err := d.Accept(sampleRows(2, "P2")); err != nil {
		t.Fatal(err)
	}
	summary, err := d.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if summary.RowsWritten != 5 || summary.Shards != 2 {
		t.Errorf("summary = %+v", summary)
	}
	for _, dir := range []string{"page_id=P1", "page_id=P2"} {
		if _, err := os.Stat(filepath.Join(root, dir, "shard_00000.jsonl")); err != nil {
			t.Errorf("missing partition %s: %v", dir, err)
		}
	}
}

func TestDirRejectsBadPartitionColumn(t *testing.T) {
	d, err := NewDir(t.TempDir(), 10, "nope", "none")
	if err != nil {
		t.Fatal(err)
	}
	if err := d.Accept(sampleRows(1, "P1")); err == nil {
		t.Error("expected error for unsupported partition column")
	}
}

func TestSQLite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "rows.db")
	s, err := NewSQLite(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Accept(sampleRows(7, "P1")); err != nil {
		t.Fatal(err)
	}
	summary, err := s.Finalize()
	if err != nil {
		t.Fatal(err)
	}
	if summary.RowsWritten != 7 {
		t.Errorf("rows written = %d", summary.RowsWritten)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM rows WHERE page_id = 'P1'").Scan(&count); err != nil {
		t.Fatal(err)
	}
	if count != 7 {
		t.Errorf("database has %d rows, want 7", count)
	}
}

func TestSanitizePartition(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "_none_"},
		{"scan 01.xml", "scan_01.xml"},
		{"a/b:c", "a_b_c"},
	}
	for _, tt := range tests {
		if got := sanitizePartition(tt.in); got != tt.want {
			t.Errorf("sanitizePartition(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
