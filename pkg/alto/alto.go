// Package alto flattens ALTO XML documents into tabular rows and patches
// rows back into an ALTO document used as a structural template.
//
// The ALTO hierarchy handled here is Layout → Page → TextBlock → TextLine →
// String. Text content and box geometry live on String elements (CONTENT,
// HPOS, VPOS, WIDTH, HEIGHT), word confidence on WC, style references on
// STYLEREFS.
package alto

import (
	"fmt"

	"github.com/beevik/etree"

	"github.com/gardar/ocrtable/pkg/ocrxml"
	"github.com/gardar/ocrtable/pkg/row"
)

// Extractor flattens one parsed ALTO document into rows at a fixed level.
type Extractor struct {
	Level row.Level
}

// Extract walks the Page → TextBlock → TextLine → String hierarchy and emits
// one row per element at the configured level, in document order.
func (e Extractor) Extract(doc *etree.Document) ([]row.Row, error) {
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ocrxml.ErrMalformed)
	}

	var rows []row.Row
	for _, page := range ocrxml.FindAll(root, "Page") {
		pageID := ocrxml.Attr(page, "ID", "")
		for _, block := range ocrxml.FindAll(page, "TextBlock") {
			regionID := ocrxml.Attr(block, "ID", "")

			switch e.Level {
			case row.LevelRegion:
				var strings []*etree.Element
				for _, line := range ocrxml.FindAll(block, "TextLine") {
					strings = append(strings, ocrxml.FindAll(line, "String")...)
				}
				r := aggregateStrings(strings)
				r.PageID = pageID
				r.RegionID = regionID
				rows = append(rows, r)

			case row.LevelLine:
				for _, line := range ocrxml.FindAll(block, "TextLine") {
					r := aggregateStrings(ocrxml.FindAll(line, "String"))
					r.PageID = pageID
					r.RegionID = regionID
					r.LineID = ocrxml.Attr(line, "ID", "")
					rows = append(rows, r)
				}

			case row.LevelWord:
				for _, line := range ocrxml.FindAll(block, "TextLine") {
					lineID := ocrxml.Attr(line, "ID", "")
					for _, str := range ocrxml.FindAll(line, "String") {
						r := wordRow(str)
						r.PageID = pageID
						r.RegionID = regionID
						r.LineID = lineID
						rows = append(rows, r)
					}
				}

			default:
				return nil, fmt.Errorf("invalid level: %q", e.Level)
			}
		}
	}
	return rows, nil
}

// wordRow projects one String element to a word-level row. Missing or
// unparseable numeric attributes become zero values or nil confidence,
// never an error.
func wordRow(str *etree.Element) row.Row {
	return row.Row{
		WordID:     ocrxml.Attr(str, "ID", ""),
		Text:       ocrxml.Attr(str, "CONTENT", ""),
		X:          int32(ocrxml.IntAttr(str, "HPOS", 0)),
		Y:          int32(ocrxml.IntAttr(str, "VPOS", 0)),
		Width:      int32(ocrxml.IntAttr(str, "WIDTH", 0)),
		Height:     int32(ocrxml.IntAttr(str, "HEIGHT", 0)),
		Confidence: ocrxml.FloatAttr(str, "WC"),
		StyleRefs:  ocrxml.Attr(str, "STYLEREFS", ""),
	}
}

// aggregateStrings folds a set of String elements into one coarse row:
// texts joined by a single space, the minimal enclosing box envelope, and
// the arithmetic mean of the confidences that are present.
func aggregateStrings(strings []*etree.Element) row.Row {
	var r row.Row
	minX, minY, maxX, maxY := 0, 0, 0, 0
	confSum := float64(0)
	confN := 0
	first := true

	for _, str := range strings {
		if !first {
			r.Text += " "
		}
		r.Text += ocrxml.Attr(str, "CONTENT", "")

		x := ocrxml.IntAttr(str, "HPOS", 0)
		y := ocrxml.IntAttr(str, "VPOS", 0)
		w := ocrxml.IntAttr(str, "WIDTH", 0)
		h := ocrxml.IntAttr(str, "HEIGHT", 0)
		if first {
			minX, minY, maxX, maxY = x, y, x+w, y+h
		} else {
			minX = min(minX, x)
			minY = min(minY, y)
			maxX = max(maxX, x+w)
			maxY = max(maxY, y+h)
		}
		first = false

		if wc := ocrxml.FloatAttr(str, "WC"); wc != nil {
			confSum += float64(*wc)
			confN++
		}
	}

	if !first {
		r.X = int32(minX)
		r.Y = int32(minY)
		r.Width = int32(maxX - minX)
		r.Height = int32(maxY - minY)
	}
	if confN > 0 {
		mean := float32(confSum / float64(confN))
		r.Confidence = &mean
	}
	return r
}

// Metadata captures the per-document sidecar record for an ALTO document.
func Metadata(doc *etree.Document) *row.Metadata {
	root := doc.Root()
	m := &row.Metadata{
		FormatType:     "alto",
		XMLDeclaration: ocrxml.Declaration(doc),
		Namespaces:     ocrxml.Namespaces(root),
	}
	m.FormatVersion = ocrxml.Attr(root, "SCHEMAVERSION", "")
	for _, a := range root.Attr {
		if a.Key == "schemaLocation" {
			m.SchemaLocation = a.Value
		}
	}

	if desc := ocrxml.Child(root, "Description"); desc != nil {
		if mu := ocrxml.Child(desc, "MeasurementUnit"); mu != nil {
			m.ALTOMeasurementUnit = mu.Text()
		}
		m.PageFilename = ocrxml.TextAt(desc, "sourceImageInformation", "fileName")
	}

	if page := ocrxml.Find(root, "Page"); page != nil {
		m.PageID = ocrxml.Attr(page, "ID", "")
		m.PageWidth = int32(ocrxml.IntAttr(page, "WIDTH", 0))
		m.PageHeight = int32(ocrxml.IntAttr(page, "HEIGHT", 0))
	}

	for _, child := range root.ChildElements() {
		switch child.Tag {
		case "Description", "Styles", "Tags", "Layout":
		default:
			m.CustomElements = append(m.CustomElements, ocrxml.ElementString(child))
		}
	}
	return m
}

// Serializer patches an ALTO template document by element identity.
type Serializer struct{}

// Serialize parses the template, locates the element for each row by its
// deepest present id, and overwrites text content and geometry-bearing
// attributes in place. Everything else in the template is left untouched;
// elements are never created. A row whose id matches nothing yields
// ocrxml.ErrMissingElement.
func (Serializer) Serialize(rows []row.Row, template []byte) (string, error) {
	doc, err := ocrxml.Parse(template)
	if err != nil {
		return "", err
	}
	root := doc.Root()

	// Strings indexed by ID once; row counts routinely exceed element counts.
	byID := make(map[string]*etree.Element)
	for _, str := range ocrxml.FindAll(root, "String") {
		if id := ocrxml.Attr(str, "ID", ""); id != "" {
			byID[id] = str
		}
	}

	for _, r := range rows {
		str, err := locateString(root, byID, r)
		if err != nil {
			return "", err
		}
		patchString(str, r)
	}
	return ocrxml.Write(doc)
}

// locateString resolves a row to the String element it patches. Word rows
// match by String ID; coarser rows resolve their deepest id to a TextLine or
// TextBlock and patch its first String.
func locateString(root *etree.Element, byID map[string]*etree.Element, r row.Row) (*etree.Element, error) {
	switch {
	case r.WordID != "":
		if str := byID[r.WordID]; str != nil {
			return str, nil
		}
		return nil, fmt.Errorf("%w: String %q", ocrxml.ErrMissingElement, r.WordID)

	case r.LineID != "":
		line := ocrxml.FindByID(root, "TextLine", "ID", r.LineID)
		if line == nil {
			return nil, fmt.Errorf("%w: TextLine %q", ocrxml.ErrMissingElement, r.LineID)
		}
		if str := ocrxml.Find(line, "String"); str != nil {
			return str, nil
		}
		return nil, fmt.Errorf("%w: TextLine %q has no String", ocrxml.ErrMissingElement, r.LineID)

	case r.RegionID != "":
		block := ocrxml.FindByID(root, "TextBlock", "ID", r.RegionID)
		if block == nil {
			return nil, fmt.Errorf("%w: TextBlock %q", ocrxml.ErrMissingElement, r.RegionID)
		}
		if str := ocrxml.Find(block, "String"); str != nil {
			return str, nil
		}
		return nil, fmt.Errorf("%w: TextBlock %q has no String", ocrxml.ErrMissingElement, r.RegionID)
	}
	return nil, fmt.Errorf("%w: row carries no identifier", ocrxml.ErrMissingElement)
}

func patchString(str *etree.Element, r row.Row) {
	str.CreateAttr("CONTENT", r.Text)
	str.CreateAttr("HPOS", fmt.Sprintf("%d", r.X))
	str.CreateAttr("VPOS", fmt.Sprintf("%d", r.Y))
	str.CreateAttr("WIDTH", fmt.Sprintf("%d", r.Width))
	str.CreateAttr("HEIGHT", fmt.Sprintf("%d", r.Height))
	if r.Confidence != nil {
		str.CreateAttr("WC", trimFloat(*r.Confidence))
	}
}

// trimFloat formats a confidence without trailing zeros, matching the
// compact attribute style ALTO producers emit.
func trimFloat(f float32) string {
	return fmt.Sprintf("%g", f)
}
