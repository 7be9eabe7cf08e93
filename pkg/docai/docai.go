// Package docai imports Google Document AI OCR results as tabular rows.
//
// Document AI responses carry one flat text buffer per document; every
// structural element (block, line, token) references it through text-anchor
// intervals, and geometry is stored as vertices normalized to [0,1]. The
// importer rebuilds the block → line → token hierarchy by interval
// containment, scales geometry to pixel boxes, and emits rows with the same
// box-schema as ALTO extraction, so Document AI output can flow through the
// same sinks and transforms as XML input.
package docai

import (
	"fmt"
	"strings"

	"cloud.google.com/go/documentai/apiv1/documentaipb"
	"google.golang.org/protobuf/encoding/protojson"

	"github.com/gardar/ocrtable/pkg/row"
)

// RowsFromJSON parses a Document AI JSON response and flattens it to rows at
// the given level.
func RowsFromJSON(data []byte, level row.Level) ([]row.Row, error) {
	var doc documentaipb.Document
	opts := protojson.UnmarshalOptions{DiscardUnknown: true}
	if err := opts.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document response: %w", err)
	}
	return RowsFromProto(&doc, level)
}

// RowsFromProto flattens an already-decoded Document AI response. Element
// ids are synthesized from page and element indices (page_1, block_1_2,
// line_1_2_3, word_1_2_3_4) since the response carries none of its own.
func RowsFromProto(doc *documentaipb.Document, level row.Level) ([]row.Row, error) {
	switch level {
	case row.LevelWord, row.LevelLine, row.LevelRegion:
	default:
		return nil, fmt.Errorf("invalid level: %q", level)
	}

	var rows []row.Row
	for _, page := range doc.Pages {
		pageNum := int(page.PageNumber)
		pageID := fmt.Sprintf("page_%d", pageNum)

		for bidx, block := range page.Blocks {
			regionID := fmt.Sprintf("block_%d_%d", pageNum, bidx+1)

			if level == row.LevelRegion {
				r := elementRow(block.Layout, page.Dimension, doc.Text)
				r.PageID = pageID
				r.RegionID = regionID
				rows = append(rows, r)
				continue
			}

			for lidx, line := range page.Lines {
				if !within(line.Layout, block.Layout) {
					continue
				}
				lineID := fmt.Sprintf("line_%d_%d_%d", pageNum, bidx+1, lidx+1)

				if level == row.LevelLine {
					r := elementRow(line.Layout, page.Dimension, doc.Text)
					r.PageID = pageID
					r.RegionID = regionID
					r.LineID = lineID
					rows = append(rows, r)
					continue
				}

				for tidx, token := range page.Tokens {
					if !within(token.Layout, line.Layout) {
						continue
					}
					r := elementRow(token.Layout, page.Dimension, doc.Text)
					r.Text = trimBreak(r.Text, token)
					r.PageID = pageID
					r.RegionID = regionID
					r.LineID = lineID
					r.WordID = fmt.Sprintf("word_%d_%d_%d_%d", pageNum, bidx+1, lidx+1, tidx+1)
					rows = append(rows, r)
				}
			}
		}
	}
	return rows, nil
}

// elementRow projects one layout to a row: anchored text, pixel box scaled
// from normalized vertices, and the layout's own confidence.
func elementRow(layout *documentaipb.Document_Page_Layout, dim *documentaipb.Document_Page_Dimension, fullText string) row.Row {
	r := row.Row{Text: anchoredText(layout, fullText)}
	if x, y, w, h, ok := pixelBox(layout, dim); ok {
		r.X, r.Y, r.Width, r.Height = int32(x), int32(y), int32(w), int32(h)
	}
	if layout != nil && layout.Confidence > 0 {
		conf := layout.Confidence
		r.Confidence = &conf
	}
	return r
}

// anchoredText resolves a layout's text-anchor intervals against the
// document's flat text buffer. Trailing newlines separate elements in the
// buffer and are not part of the element text.
func anchoredText(layout *documentaipb.Document_Page_Layout, fullText string) string {
	if layout == nil || layout.TextAnchor == nil {
		return ""
	}
	var sb strings.Builder
	for _, seg := range layout.TextAnchor.TextSegments {
		start, end := seg.StartIndex, seg.EndIndex
		if start < 0 || end > int64(len(fullText)) || start > end {
			continue
		}
		sb.WriteString(fullText[start:end])
	}
	return strings.TrimRight(sb.String(), "\n\r")
}

// trimBreak drops the whitespace a detected break appends to a token.
func trimBreak(text string, token *documentaipb.Document_Page_Token) string {
	if token.DetectedBreak == nil ||
		token.DetectedBreak.Type == documentaipb.Document_Page_Token_DetectedBreak_TYPE_UNSPECIFIED {
		return text
	}
	return strings.TrimRight(text, " \n\r\t")
}

// within reports whether child's text interval is contained in parent's.
// Containment over the flat text buffer is how Document AI expresses the
// element hierarchy.
func within(child, parent *documentaipb.Document_Page_Layout) bool {
	if child == nil || parent == nil ||
		child.TextAnchor == nil || parent.TextAnchor == nil ||
		len(child.TextAnchor.TextSegments) == 0 || len(parent.TextAnchor.TextSegments) == 0 {
		return false
	}
	cs := child.TextAnchor.TextSegments[0]
	ps := parent.TextAnchor.TextSegments[0]
	return cs.StartIndex >= ps.StartIndex && cs.EndIndex <= ps.EndIndex
}

// pixelBox scales a bounding polygon's normalized vertices to pixel
// coordinates. Vertices 0 and 2 are the top-left and bottom-right corners.
func pixelBox(layout *documentaipb.Document_Page_Layout, dim *documentaipb.Document_Page_Dimension) (x, y, w, h int, ok bool) {
	if layout == nil || layout.BoundingPoly == nil || dim == nil ||
		len(layout.BoundingPoly.NormalizedVertices) < 4 {
		return 0, 0, 0, 0, false
	}
	v := layout.BoundingPoly.NormalizedVertices
	minX := int(v[0].X*dim.Width + 0.5)
	minY := int(v[0].Y*dim.Height + 0.5)
	maxX := int(v[2].X*dim.Width + 0.5)
	maxY := int(v[2].Y*dim.Height + 0.5)
	return minX, minY, maxX - minX, maxY - minY, true
}
