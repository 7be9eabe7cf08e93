// Package row defines the flat tabular projection of hierarchical OCR
// documents: the Row record, the per-format column schemas, the RowTable
// accumulation, and the per-document metadata sidecar used for
// reconstruction bookkeeping.
package row

import (
	"errors"
	"fmt"
	"time"

	"github.com/gardar/ocrtable/pkg/format"
)

// ErrSchemaViolation reports a row that does not match the fixed schema of
// its table's format, or a row set mixing two format schemas in one table.
var ErrSchemaViolation = errors.New("schema violation")

// Level is the granularity at which rows are produced.
type Level string

const (
	LevelWord   Level = "word"
	LevelLine   Level = "line"
	LevelRegion Level = "region"
)

// ParseLevel maps a user-supplied level name to a Level.
func ParseLevel(name string) (Level, error) {
	switch Level(name) {
	case LevelWord, LevelLine, LevelRegion:
		return Level(name), nil
	default:
		return "", fmt.Errorf("invalid level: %q", name)
	}
}

// Row is the flattened projection of one tree node. Identifier fields deeper
// than the extraction level are empty. Box geometry (X/Y/Width/Height) and
// StyleRefs belong to the ALTO schema; Coords and Baseline belong to the
// PAGE-XML schema. A nil Confidence means absent or unparseable.
type Row struct {
	PageID   string `json:"page_id"`
	RegionID string `json:"region_id,omitempty"`
	LineID   string `json:"line_id,omitempty"`
	WordID   string `json:"word_id,omitempty"`
	Text     string `json:"text"`

	X      int32 `json:"x,omitempty"`
	Y      int32 `json:"y,omitempty"`
	Width  int32 `json:"width,omitempty"`
	Height int32 `json:"height,omitempty"`

	Coords   string `json:"coords,omitempty"`
	Baseline string `json:"baseline,omitempty"`

	Confidence *float32 `json:"confidence,omitempty"`
	StyleRefs  string   `json:"style_refs,omitempty"`

	SourceFile  string    `json:"source_file,omitempty"`
	ProcessedAt time.Time `json:"processing_time,omitzero"`
}

// Columns returns the fixed column set for a format, in schema order.
func Columns(f format.Format) []string {
	switch f {
	case format.ALTO:
		return []string{
			"page_id", "region_id", "line_id", "word_id", "text",
			"x", "y", "width", "height", "confidence", "style_refs",
			"source_file", "processing_time",
		}
	case format.PageXML:
		return []string{
			"page_id", "region_id", "line_id", "word_id", "text",
			"coords", "baseline", "confidence",
			"source_file", "processing_time",
		}
	default:
		return nil
	}
}

// conforms reports whether a row carries only fields belonging to the
// format's schema.
func conforms(f format.Format, r Row) bool {
	switch f {
	case format.ALTO:
		return r.Coords == "" && r.Baseline == ""
	case format.PageXML:
		return r.StyleRefs == "" && r.X == 0 && r.Y == 0 && r.Width == 0 && r.Height == 0
	default:
		return false
	}
}

// Metadata is the per-document sidecar record: everything needed to account
// for a reconstruction that rows alone do not carry. It is produced alongside
// rows and never required for row-level transforms.
type Metadata struct {
	PageID        string            `json:"page_id"`
	FormatType    string            `json:"format_type"`
	FormatVersion string            `json:"format_version,omitempty"`

	XMLDeclaration string            `json:"xml_declaration"`
	Namespaces     map[string]string `json:"namespaces,omitempty"`
	SchemaLocation string            `json:"schema_location,omitempty"`

	PageWidth    int32  `json:"page_width"`
	PageHeight   int32  `json:"page_height"`
	PageFilename string `json:"page_filename,omitempty"`

	ALTOMeasurementUnit string `json:"alto_measurement_unit,omitempty"`
	PageXMLCreator      string `json:"pagexml_creator,omitempty"`
	PageXMLCreated      string `json:"pagexml_created,omitempty"`
	PageXMLLastChange   string `json:"pagexml_last_change,omitempty"`

	CustomElements []string `json:"custom_elements,omitempty"`
}

// Table is an immutable columnar accumulation of rows with a fixed schema
// per format, plus per-document metadata keyed by source file.
type Table struct {
	Format format.Format
	Level  Level
	Rows   []Row
	Meta   map[string]*Metadata
}

// Build validates rows against the format schema and assembles a Table.
// source and the capture time are stamped onto every row automatically.
func Build(f format.Format, level Level, rows []Row, source string) (*Table, error) {
	if f == format.Unknown {
		return nil, fmt.Errorf("%w: table format must be known", ErrSchemaViolation)
	}
	now := time.Now().UTC()
	out := make([]Row, len(rows))
	for i, r := range rows {
		if !conforms(f, r) {
			return nil, fmt.Errorf("%w: row %d does not match %s schema", ErrSchemaViolation, i, f)
		}
		r.SourceFile = source
		r.ProcessedAt = now
		out[i] = r
	}
	return &Table{
		Format: f,
		Level:  level,
		Rows:   out,
		Meta:   make(map[string]*Metadata),
	}, nil
}

// Append merges another table into t. Tables of differing formats cannot be
// mixed.
func (t *Table) Append(other *Table) error {
	if other.Format != t.Format {
		return fmt.Errorf("%w: cannot mix %s and %s rows in one table",
			ErrSchemaViolation, t.Format, other.Format)
	}
	t.Rows = append(t.Rows, other.Rows...)
	for k, v := range other.Meta {
		t.Meta[k] = v
	}
	return nil
}

// Filter returns a new table containing the rows for which keep returns
// true. Rows are never mutated in place; transforms produce new row sets.
func (t *Table) Filter(keep func(Row) bool) *Table {
	out := &Table{Format: t.Format, Level: t.Level, Meta: t.Meta}
	for _, r := range t.Rows {
		if keep(r) {
			out.Rows = append(out.Rows, r)
		}
	}
	return out
}
