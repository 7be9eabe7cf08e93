// Package pagexml flattens PAGE-XML (PcGts) documents into tabular rows and
// patches rows back into a PAGE-XML document used as a structural template.
//
// The hierarchy handled here is Page → TextRegion → TextLine → Word. Text
// content lives under TextEquiv/Unicode, geometry on Coords and Baseline
// point lists, confidence on the conf attribute. Point lists are preserved
// verbatim and never converted to boxes: polygon geometry is not aggregated
// at coarser levels.
package pagexml

import (
	"fmt"
	"strings"

	"github.com/beevik/etree"

	"github.com/gardar/ocrtable/pkg/ocrxml"
	"github.com/gardar/ocrtable/pkg/row"
)

// Extractor flattens one parsed PAGE-XML document into rows at a fixed level.
type Extractor struct {
	Level row.Level
}

// Extract walks the Page → TextRegion → TextLine → Word hierarchy and emits
// one row per element at the configured level, in document order.
//
// A TextLine with no Word children but with its own TextEquiv text emits a
// single synthetic word row with id "<line_id>_w0" at word level. Regions
// with no text at all emit no region row.
func (e Extractor) Extract(doc *etree.Document) ([]row.Row, error) {
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("%w: no root element", ocrxml.ErrMalformed)
	}

	var rows []row.Row
	for _, page := range ocrxml.FindAll(root, "Page") {
		pageID := ocrxml.Attr(page, "imageFilename", "")
		for _, region := range ocrxml.FindAll(page, "TextRegion") {
			regionID := ocrxml.Attr(region, "id", "")

			switch e.Level {
			case row.LevelRegion:
				if r, ok := regionRow(region); ok {
					r.PageID = pageID
					r.RegionID = regionID
					rows = append(rows, r)
				}

			case row.LevelLine:
				for _, line := range ocrxml.FindAll(region, "TextLine") {
					r := elementRow(line, true)
					r.PageID = pageID
					r.RegionID = regionID
					r.LineID = ocrxml.Attr(line, "id", "")
					rows = append(rows, r)
				}

			case row.LevelWord:
				for _, line := range ocrxml.FindAll(region, "TextLine") {
					lineID := ocrxml.Attr(line, "id", "")
					words := ocrxml.FindAll(line, "Word")
					if len(words) == 0 {
						// Whole line stands in for its single word.
						if ocrxml.TextAt(line, "TextEquiv", "Unicode") != "" {
							r := elementRow(line, true)
							r.PageID = pageID
							r.RegionID = regionID
							r.LineID = lineID
							r.WordID = lineID + "_w0"
							rows = append(rows, r)
						}
						continue
					}
					for _, word := range words {
						r := elementRow(word, false)
						r.PageID = pageID
						r.RegionID = regionID
						r.LineID = lineID
						r.WordID = ocrxml.Attr(word, "id", "")
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

// elementRow projects a single Word or TextLine element to a row. Coords and
// Baseline point strings are carried verbatim; confidence comes from the
// element's own conf attribute.
func elementRow(el *etree.Element, withBaseline bool) row.Row {
	r := row.Row{
		Text:       ocrxml.TextAt(el, "TextEquiv", "Unicode"),
		Coords:     ocrxml.Attr(ocrxml.Child(el, "Coords"), "points", ""),
		Confidence: ocrxml.FloatAttr(el, "conf"),
	}
	if withBaseline {
		r.Baseline = ocrxml.Attr(ocrxml.Child(el, "Baseline"), "points", "")
	}
	return r
}

// regionRow builds a region-level row: the region's own TextEquiv text when
// present, otherwise the ordered concatenation of its line texts joined by a
// single space. ok is false when the region carries no text anywhere.
func regionRow(region *etree.Element) (row.Row, bool) {
	r := row.Row{
		Coords:     ocrxml.Attr(ocrxml.Child(region, "Coords"), "points", ""),
		Confidence: ocrxml.FloatAttr(region, "conf"),
	}

	if own := ocrxml.TextAt(region, "TextEquiv", "Unicode"); own != "" {
		r.Text = own
		return r, true
	}

	var texts []string
	for _, line := range ocrxml.FindAll(region, "TextLine") {
		if t := ocrxml.TextAt(line, "TextEquiv", "Unicode"); t != "" {
			texts = append(texts, t)
		}
	}
	if len(texts) == 0 {
		return row.Row{}, false
	}
	r.Text = strings.Join(texts, " ")
	return r, true
}

// Metadata captures the per-document sidecar record for a PAGE-XML document.
func Metadata(doc *etree.Document) *row.Metadata {
	root := doc.Root()
	m := &row.Metadata{
		FormatType:     "pagexml",
		XMLDeclaration: ocrxml.Declaration(doc),
		Namespaces:     ocrxml.Namespaces(root),
	}
	for _, a := range root.Attr {
		if a.Key == "schemaLocation" {
			m.SchemaLocation = a.Value
		}
	}
	// PAGE namespaces end in a dated version segment, e.g. .../2013-07-15.
	if ns := m.Namespaces[""]; ns != "" {
		if i := strings.LastIndex(ns, "/"); i >= 0 && i < len(ns)-1 {
			m.FormatVersion = ns[i+1:]
		}
	}

	if meta := ocrxml.Child(root, "Metadata"); meta != nil {
		m.PageXMLCreator = ocrxml.TextAt(meta, "Creator")
		m.PageXMLCreated = ocrxml.TextAt(meta, "Created")
		m.PageXMLLastChange = ocrxml.TextAt(meta, "LastChange")
	}

	if page := ocrxml.Find(root, "Page"); page != nil {
		m.PageID = ocrxml.Attr(page, "imageFilename", "")
		m.PageFilename = m.PageID
		m.PageWidth = int32(ocrxml.IntAttr(page, "imageWidth", 0))
		m.PageHeight = int32(ocrxml.IntAttr(page, "imageHeight", 0))
	}

	for _, child := range root.ChildElements() {
		switch child.Tag {
		case "Metadata", "Page":
		default:
			m.CustomElements = append(m.CustomElements, ocrxml.ElementString(child))
		}
	}
	return m
}

// Serializer patches a PAGE-XML template document by element identity.
type Serializer struct{}

// Serialize parses the template, locates the element for each row by its
// deepest present id (Word, then TextLine, then TextRegion), and overwrites
// its text, Coords points and conf attribute in place. The identity-bearing
// elements themselves are never created; a row whose id matches nothing
// yields ocrxml.ErrMissingElement. A missing TextEquiv/Unicode text carrier
// below a matched element is created, as text must land somewhere.
func (Serializer) Serialize(rows []row.Row, template []byte) (string, error) {
	doc, err := ocrxml.Parse(template)
	if err != nil {
		return "", err
	}
	root := doc.Root()

	for _, r := range rows {
		el, err := locate(root, r)
		if err != nil {
			return "", err
		}
		patch(el, r)
	}
	return ocrxml.Write(doc)
}

func locate(root *etree.Element, r row.Row) (*etree.Element, error) {
	switch {
	case r.WordID != "":
		if el := ocrxml.FindByID(root, "Word", "id", r.WordID); el != nil {
			return el, nil
		}
		// Synthetic word rows ("<line>_w0") patch their line.
		if lineID, ok := strings.CutSuffix(r.WordID, "_w0"); ok {
			if el := ocrxml.FindByID(root, "TextLine", "id", lineID); el != nil {
				return el, nil
			}
		}
		return nil, fmt.Errorf("%w: Word %q", ocrxml.ErrMissingElement, r.WordID)

	case r.LineID != "":
		if el := ocrxml.FindByID(root, "TextLine", "id", r.LineID); el != nil {
			return el, nil
		}
		return nil, fmt.Errorf("%w: TextLine %q", ocrxml.ErrMissingElement, r.LineID)

	case r.RegionID != "":
		if el := ocrxml.FindByID(root, "TextRegion", "id", r.RegionID); el != nil {
			return el, nil
		}
		return nil, fmt.Errorf("%w: TextRegion %q", ocrxml.ErrMissingElement, r.RegionID)
	}
	return nil, fmt.Errorf("%w: row carries no identifier", ocrxml.ErrMissingElement)
}

func patch(el *etree.Element, r row.Row) {
	textEquiv := ocrxml.Child(el, "TextEquiv")
	if textEquiv == nil {
		textEquiv = el.CreateElement("TextEquiv")
	}
	unicode := ocrxml.Child(textEquiv, "Unicode")
	if unicode == nil {
		unicode = textEquiv.CreateElement("Unicode")
	}
	unicode.SetText(r.Text)

	if r.Coords != "" {
		if coords := ocrxml.Child(el, "Coords"); coords != nil {
			coords.CreateAttr("points", r.Coords)
		}
	}
	if r.Confidence != nil {
		el.CreateAttr("conf", fmt.Sprintf("%g", *r.Confidence))
	}
}
