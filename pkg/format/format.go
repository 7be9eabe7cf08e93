// Package format classifies hierarchical OCR documents as ALTO or PAGE-XML.
package format

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/gardar/ocrtable/pkg/ocrxml"
)

// Format identifies a supported OCR document schema.
type Format int

const (
	// Unknown indicates an unrecognized format.
	Unknown Format = iota
	// ALTO indicates an ALTO XML document.
	ALTO
	// PageXML indicates a PAGE-XML (PcGts) document.
	PageXML
)

// ErrUnsupported reports a document whose format could not be determined
// under auto-detection.
var ErrUnsupported = errors.New("unsupported format")

// String returns the string representation of the format.
func (f Format) String() string {
	switch f {
	case ALTO:
		return "alto"
	case PageXML:
		return "pagexml"
	default:
		return "unknown"
	}
}

// ParseFormat maps a user-supplied format name to a Format tag.
// "auto" and "" map to Unknown, which requests auto-detection.
func ParseFormat(name string) (Format, error) {
	switch strings.ToLower(name) {
	case "alto":
		return ALTO, nil
	case "pagexml", "page", "pcgts":
		return PageXML, nil
	case "", "auto", "unknown":
		return Unknown, nil
	default:
		return Unknown, fmt.Errorf("%w: %q", ErrUnsupported, name)
	}
}

// Detect classifies a document. The heuristics run in a fixed order:
//
//  1. a caller-supplied override (any value other than Unknown wins)
//  2. a filename token ("alto" or "page" in the base name)
//  3. inspection of the root element name and structure
//
// Detect never guesses beyond this order: when all heuristics miss it
// returns Unknown with ErrUnsupported.
func Detect(path string, data []byte, override Format) (Format, error) {
	if override != Unknown {
		return override, nil
	}

	name := strings.ToLower(filepath.Base(path))
	if strings.Contains(name, "alto") {
		return ALTO, nil
	}
	if strings.Contains(name, "page") {
		return PageXML, nil
	}

	if f := sniffRoot(data); f != Unknown {
		return f, nil
	}

	return Unknown, fmt.Errorf("%w: %s", ErrUnsupported, path)
}

// sniffRoot parses the document and inspects its root element.
// ALTO is recognized by an "alto" root or a TextBlock descendant;
// PAGE-XML by a "PcGts" root or a TextRegion descendant.
func sniffRoot(data []byte) Format {
	doc, err := ocrxml.Parse(data)
	if err != nil {
		return Unknown
	}
	root := doc.Root()

	switch {
	case strings.Contains(strings.ToLower(root.Tag), "alto"):
		return ALTO
	case root.Tag == "PcGts" || strings.Contains(strings.ToLower(root.Tag), "pagexml"):
		return PageXML
	case ocrxml.Find(root, "TextBlock") != nil:
		return ALTO
	case ocrxml.Find(root, "TextRegion") != nil:
		return PageXML
	}
	return Unknown
}
