// Package ocrxml provides the shared XML machinery for the ALTO and PAGE-XML
// packages: tolerant document loading with charset detection, namespace-blind
// element lookup, safe attribute access, coordinate-string parsing, and
// deterministic write-back of a patched document.
//
// The document model is github.com/beevik/etree, which keeps attribute order,
// namespace prefixes, whitespace and unrecognized elements exactly as read.
// That property is what makes template-based serialization byte-deterministic:
// writing an unmodified document reproduces the input, and patching a document
// only changes the patched text and attributes.
package ocrxml

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"
)

// ErrMalformed reports a document that could not be parsed as well-formed
// markup or whose root element could not be located.
var ErrMalformed = errors.New("malformed document")

// ErrMissingElement reports a serialization id lookup that found no element
// in the template document.
var ErrMissingElement = errors.New("missing element")

// Parse reads an XML document from a byte buffer. Non-UTF-8 encodings
// declared in the XML declaration are converted on the fly.
func Parse(data []byte) (*etree.Document, error) {
	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	doc.ReadSettings.Permissive = false
	if err := doc.ReadFromBytes(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if doc.Root() == nil {
		return nil, fmt.Errorf("%w: no root element", ErrMalformed)
	}
	return doc, nil
}

// ParseFile reads and parses the XML document at path.
func ParseFile(path string) (*etree.Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	doc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return doc, nil
}

// Write serializes a document back to text. The output is deterministic:
// identical documents always produce identical bytes.
func Write(doc *etree.Document) (string, error) {
	s, err := doc.WriteToString()
	if err != nil {
		return "", fmt.Errorf("write document: %w", err)
	}
	return s, nil
}

// FindAll returns every descendant element of parent whose local name equals
// tag, in document order, regardless of namespace prefix.
func FindAll(parent *etree.Element, tag string) []*etree.Element {
	var out []*etree.Element
	var walk func(el *etree.Element)
	walk = func(el *etree.Element) {
		for _, child := range el.ChildElements() {
			if child.Tag == tag {
				out = append(out, child)
			}
			walk(child)
		}
	}
	if parent != nil {
		walk(parent)
	}
	return out
}

// Find returns the first descendant element with the given local name, or nil.
func Find(parent *etree.Element, tag string) *etree.Element {
	if parent == nil {
		return nil
	}
	for _, child := range parent.ChildElements() {
		if child.Tag == tag {
			return child
		}
		if found := Find(child, tag); found != nil {
			return found
		}
	}
	return nil
}

// Child returns the first direct child element with the given local name, or nil.
func Child(parent *etree.Element, tag string) *etree.Element {
	if parent == nil {
		return nil
	}
	for _, child := range parent.ChildElements() {
		if child.Tag == tag {
			return child
		}
	}
	return nil
}

// FindByID returns the first descendant with the given local name carrying
// attr=value, or nil. Used for template patching by element identity.
func FindByID(parent *etree.Element, tag, attr, value string) *etree.Element {
	for _, el := range FindAll(parent, tag) {
		if el.SelectAttrValue(attr, "") == value {
			return el
		}
	}
	return nil
}

// Attr returns the attribute value, or def when the attribute is absent.
func Attr(el *etree.Element, name, def string) string {
	if el == nil {
		return def
	}
	return el.SelectAttrValue(name, def)
}

// IntAttr returns an integer attribute. Missing or unparseable values yield
// def — a single bad attribute never fails extraction.
func IntAttr(el *etree.Element, name string, def int) int {
	v := Attr(el, name, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}

// FloatAttr returns a float attribute, or nil when the attribute is absent
// or not numeric.
func FloatAttr(el *etree.Element, name string) *float32 {
	v := Attr(el, name, "")
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(v), 32)
	if err != nil {
		return nil
	}
	f32 := float32(f)
	return &f32
}

// TextAt walks a chain of child element names and returns the text of the
// final element, e.g. TextAt(line, "TextEquiv", "Unicode").
func TextAt(el *etree.Element, path ...string) string {
	current := el
	for _, tag := range path {
		current = Child(current, tag)
		if current == nil {
			return ""
		}
	}
	return current.Text()
}

// PointsBounds computes the axis-aligned bounding box of a PAGE-XML style
// point list ("x1,y1 x2,y2 ..."). ok is false when no valid point is present.
func PointsBounds(points string) (x, y, w, h int, ok bool) {
	minX, minY := 0, 0
	maxX, maxY := 0, 0
	first := true
	for _, pair := range strings.Fields(points) {
		xs, ys, found := strings.Cut(pair, ",")
		if !found {
			continue
		}
		px, errX := strconv.Atoi(xs)
		py, errY := strconv.Atoi(ys)
		if errX != nil || errY != nil {
			return 0, 0, 0, 0, false
		}
		if first {
			minX, maxX, minY, maxY = px, px, py, py
			first = false
			continue
		}
		minX = min(minX, px)
		minY = min(minY, py)
		maxX = max(maxX, px)
		maxY = max(maxY, py)
	}
	if first {
		return 0, 0, 0, 0, false
	}
	return minX, minY, maxX - minX, maxY - minY, true
}

// Declaration returns the document's XML declaration (the leading <?xml ...?>
// processing instruction), or a standard default when none is present.
func Declaration(doc *etree.Document) string {
	for _, tok := range doc.Child {
		if pi, isPI := tok.(*etree.ProcInst); isPI && pi.Target == "xml" {
			return "<?xml " + pi.Inst + "?>"
		}
	}
	return `<?xml version="1.0" encoding="UTF-8"?>`
}

// Namespaces collects the xmlns declarations on the root element, keyed by
// prefix ("" for the default namespace).
func Namespaces(root *etree.Element) map[string]string {
	ns := make(map[string]string)
	if root == nil {
		return ns
	}
	for _, a := range root.Attr {
		switch {
		case a.Space == "" && a.Key == "xmlns":
			ns[""] = a.Value
		case a.Space == "xmlns":
			ns[a.Key] = a.Value
		}
	}
	return ns
}

// ElementString renders a single element (with its subtree) to text.
// Used to preserve custom top-level elements in the metadata sidecar.
func ElementString(el *etree.Element) string {
	if el == nil {
		return ""
	}
	doc := etree.NewDocument()
	doc.SetRoot(el.Copy())
	s, err := doc.WriteToString()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}
