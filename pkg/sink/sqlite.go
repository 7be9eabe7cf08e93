package sink

import (
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/gardar/ocrtable/pkg/row"
)

// SQLite writes rows into an SQLite database, one batch per transaction.
// The rows table carries the union of both format schemas with NULLs for
// absent fields, so downstream queries can filter by column presence.
type SQLite struct {
	db   *sql.DB
	rows int64
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS rows (
    page_id         TEXT NOT NULL,
    region_id       TEXT,
    line_id         TEXT,
    word_id         TEXT,
    text            TEXT NOT NULL,
    x               INTEGER,
    y               INTEGER,
    width           INTEGER,
    height          INTEGER,
    coords          TEXT,
    baseline        TEXT,
    confidence      REAL,
    style_refs      TEXT,
    source_file     TEXT NOT NULL,
    processing_time TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_rows_source ON rows (source_file);
CREATE INDEX IF NOT EXISTS idx_rows_page ON rows (page_id);
`

// NewSQLite opens (creating if needed) the database at path and ensures the
// rows table exists. WAL and a busy timeout are applied for concurrent
// readers during long ingests.
func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", ErrSinkFailure, path, err)
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 10000",
		"PRAGMA synchronous = NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %v", ErrSinkFailure, pragma, err)
		}
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: create schema: %v", ErrSinkFailure, err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Accept(batch []row.Row) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: begin: %v", ErrSinkFailure, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO rows
		(page_id, region_id, line_id, word_id, text,
		 x, y, width, height, coords, baseline, confidence, style_refs,
		 source_file, processing_time)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %v", ErrSinkFailure, err)
	}
	defer stmt.Close()

	for _, r := range batch {
		_, err := stmt.Exec(
			r.PageID, nullString(r.RegionID), nullString(r.LineID), nullString(r.WordID), r.Text,
			r.X, r.Y, r.Width, r.Height,
			nullString(r.Coords), nullString(r.Baseline), nullFloat(r.Confidence), nullString(r.StyleRefs),
			r.SourceFile, r.ProcessedAt.Format("2006-01-02T15:04:05.000Z07:00"),
		)
		if err != nil {
			return fmt.Errorf("%w: insert row: %v", ErrSinkFailure, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", ErrSinkFailure, err)
	}
	s.rows += int64(len(batch))
	return nil
}

func (s *SQLite) Finalize() (Summary, error) {
	if err := s.db.Close(); err != nil {
		return Summary{}, fmt.Errorf("%w: close database: %v", ErrSinkFailure, err)
	}
	return Summary{RowsWritten: s.rows, Shards: 1}, nil
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullFloat(v *float32) any {
	if v == nil {
		return nil
	}
	return float64(*v)
}
