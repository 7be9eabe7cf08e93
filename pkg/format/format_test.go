package format

import (
	"errors"
	"testing"
)

const altoDoc = `<?xml version="1.0"?>
<alto xmlns="http://www.loc.gov/standards/alto/ns-v4#"><Layout><Page ID="P1"/></Layout></alto>`

const pageDoc = `<?xml version="1.0"?>
<PcGts xmlns="http://schema.primaresearch.org/PAGE/gts/pagecontent/2013-07-15"><Page/></PcGts>`

const structuralAlto = `<Document><Layout><TextBlock ID="b1"/></Layout></Document>`
const structuralPage = `<Document><Page><TextRegion id="r1"/></Page></Document>`

func TestParseFormat(t *testing.T) {
	tests := []struct {
		name    string
		want    Format
		wantErr bool
	}{
		{"alto", ALTO, false},
		{"ALTO", ALTO, false},
		{"pagexml", PageXML, false},
		{"page", PageXML, false},
		{"pcgts", PageXML, false},
		{"auto", Unknown, false},
		{"", Unknown, false},
		{"hocr", Unknown, true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.name)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseFormat(%q) error = %v", tt.name, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseFormat(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestDetect(t *testing.T) {
	tests := []struct {
		path     string
		data     string
		override Format
		want     Format
	}{
		// Override always wins, even against contradicting content.
		{"scan.xml", pageDoc, ALTO, ALTO},
		// Filename tokens beat content sniffing.
		{"book_alto_0001.xml", "", Unknown, ALTO},
		{"page_0001.xml", "", Unknown, PageXML},
		// Root element inspection.
		{"scan.xml", altoDoc, Unknown, ALTO},
		{"scan.xml", pageDoc, Unknown, PageXML},
		// Structural fallback on generic root names.
		{"scan.xml", structuralAlto, Unknown, ALTO},
		{"scan.xml", structuralPage, Unknown, PageXML},
	}
	for _, tt := range tests {
		got, err := Detect(tt.path, []byte(tt.data), tt.override)
		if err != nil {
			t.Errorf("Detect(%q): %v", tt.path, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Detect(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestDetectUnsupported(t *testing.T) {
	_, err := Detect("scan.xml", []byte("<svg><rect/></svg>"), Unknown)
	if !errors.Is(err, ErrUnsupported) {
		t.Errorf("expected ErrUnsupported, got %v", err)
	}
}

func TestString(t *testing.T) {
	if ALTO.String() != "alto" || PageXML.String() != "pagexml" || Unknown.String() != "unknown" {
		t.Error("Format.String mismatch")
	}
}
