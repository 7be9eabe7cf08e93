// Package proofsheet renders extracted word rows onto PDF proof pages for
// visual QA: one PDF page per source page, each word drawn at its extracted
// position with its box outlined, low-confidence words highlighted. A proof
// sheet makes coordinate or text mix-ups visible at a glance without opening
// the source XML.
package proofsheet

import (
	"bytes"
	"fmt"
	"os"
	"sort"

	"codeberg.org/go-pdf/fpdf"
	"golang.org/x/text/encoding/charmap"

	"github.com/gardar/ocrtable/pkg/ocrxml"
	"github.com/gardar/ocrtable/pkg/row"
	"github.com/gardar/ocrtable/pkg/sink"
)

// Config controls proof rendering.
type Config struct {
	// FontName and FontSize set the base text font.
	FontName string
	FontSize float64

	// AscentRatio positions the text baseline inside a word box.
	AscentRatio float64

	// LowConfidence marks words below this confidence in red. Zero disables
	// highlighting.
	LowConfidence float32
}

func (c *Config) defaults() {
	if c.FontName == "" {
		c.FontName = "Helvetica"
	}
	if c.FontSize <= 0 {
		c.FontSize = 10
	}
	if c.AscentRatio <= 0 {
		c.AscentRatio = 0.78
	}
}

// Render builds a proof PDF from word rows. Rows are grouped by PageID in
// first-seen order; each group becomes one PDF page sized to the page's
// metadata dimensions when available, otherwise to the extent of its boxes.
func Render(rows []row.Row, meta map[string]*row.Metadata, cfg Config) ([]byte, error) {
	cfg.defaults()

	pages := groupByPage(rows)
	if len(pages) == 0 {
		return nil, fmt.Errorf("no rows to render")
	}

	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetFont(cfg.FontName, "", cfg.FontSize)

	for _, pg := range pages {
		w, h := pageSize(pg, meta)
		pdf.AddPageFormat("P", fpdf.SizeType{Wd: w, Ht: h})
		for _, r := range pg.rows {
			drawWord(pdf, r, cfg)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("generate proof sheet: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderFile writes a proof PDF next to the extraction output.
func RenderFile(path string, rows []row.Row, meta map[string]*row.Metadata, cfg Config) error {
	data, err := Render(rows, meta, cfg)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

type page struct {
	id   string
	rows []row.Row
}

func groupByPage(rows []row.Row) []*page {
	var pages []*page
	index := make(map[string]*page)
	for _, r := range rows {
		pg := index[r.PageID]
		if pg == nil {
			pg = &page{id: r.PageID}
			index[r.PageID] = pg
			pages = append(pages, pg)
		}
		pg.rows = append(pg.rows, r)
	}
	return pages
}

// pageSize prefers the document's declared page dimensions and falls back
// to the extent of the page's word boxes.
func pageSize(pg *page, meta map[string]*row.Metadata) (float64, float64) {
	for _, m := range meta {
		if m != nil && m.PageID == pg.id && m.PageWidth > 0 && m.PageHeight > 0 {
			return float64(m.PageWidth), float64(m.PageHeight)
		}
	}

	maxX, maxY := int32(0), int32(0)
	for _, r := range pg.rows {
		x, y := r.X+r.Width, r.Y+r.Height
		if r.Coords != "" {
			if px, py, pw, ph, ok := ocrxml.PointsBounds(r.Coords); ok {
				x, y = int32(px+pw), int32(py+ph)
			}
		}
		maxX = max(maxX, x)
		maxY = max(maxY, y)
	}
	if maxX == 0 || maxY == 0 {
		return 595, 842 // A4 at 72 dpi
	}
	return float64(maxX), float64(maxY)
}

func drawWord(pdf *fpdf.Fpdf, r row.Row, cfg Config) {
	x, y, w, h := float64(r.X), float64(r.Y), float64(r.Width), float64(r.Height)
	if r.Coords != "" {
		if px, py, pw, ph, ok := ocrxml.PointsBounds(r.Coords); ok {
			x, y, w, h = float64(px), float64(py), float64(pw), float64(ph)
		}
	}

	low := cfg.LowConfidence > 0 && (r.Confidence == nil || *r.Confidence < cfg.LowConfidence)
	if low {
		pdf.SetDrawColor(220, 0, 0)
		pdf.SetTextColor(220, 0, 0)
	} else {
		pdf.SetDrawColor(160, 160, 160)
		pdf.SetTextColor(0, 0, 0)
	}
	if w > 0 && h > 0 {
		pdf.Rect(x, y, w, h, "D")
	}

	// ISO-8859-1 keeps the built-in fonts usable; unencodable words fall
	// back to their raw bytes.
	latin1, err := charmap.ISO8859_1.NewEncoder().String(r.Text)
	if err != nil {
		latin1 = r.Text
	}

	if w > 0 {
		if strWidth := pdf.GetStringWidth(latin1); strWidth > 0 {
			pdf.SetFontSize(cfg.FontSize * w / strWidth)
		}
	}
	fontSize, _ := pdf.GetFontSize()
	pdf.Text(x, y+fontSize*cfg.AscentRatio, latin1)
	pdf.SetFontSize(cfg.FontSize)
}

// Sink adapts proof rendering to the batch pipeline: it buffers word rows
// and writes the proof PDF at finalization.
type Sink struct {
	path string
	cfg  Config
	meta map[string]*row.Metadata
	rows []row.Row
}

// NewSink prepares a proof-sheet sink writing to path at Finalize.
func NewSink(path string, cfg Config) *Sink {
	return &Sink{path: path, cfg: cfg, meta: make(map[string]*row.Metadata)}
}

// SetMetadata registers page-dimension metadata for rendering.
func (s *Sink) SetMetadata(meta map[string]*row.Metadata) {
	for k, v := range meta {
		s.meta[k] = v
	}
}

func (s *Sink) Accept(batch []row.Row) error {
	s.rows = append(s.rows, batch...)
	return nil
}

func (s *Sink) Finalize() (sink.Summary, error) {
	// Stable page order even when batches interleave sources.
	sort.SliceStable(s.rows, func(i, j int) bool {
		return s.rows[i].SourceFile < s.rows[j].SourceFile
	})
	if err := RenderFile(s.path, s.rows, s.meta, s.cfg); err != nil {
		return sink.Summary{}, err
	}
	return sink.Summary{RowsWritten: int64(len(s.rows)), Shards: 1}, nil
}
