// ocrpatch patches corrected rows back into an OCR document.
//
// It reads rows from a JSONL file (as written by ocrtab), locates each row's
// element in a template XML document by id, and overwrites the element's
// text and geometry in place. Everything the rows do not touch is preserved
// byte for byte, so a transcription pass only changes what it corrected.
//
// Usage:
//
//	ocrpatch -rows rows.jsonl -template page_0001.xml [options]
//
// Required flags:
//
//	-rows string       JSONL rows file (gzip detected by .gz suffix)
//	-template string   Template XML document to patch
//
// Options:
//
//	-format string     Template format: alto, pagexml or auto (default "auto")
//	-min-confidence float  Drop rows below this confidence before patching
//	-out string        Output path; stdout when omitted
//
// Example:
//
//	ocrpatch -rows corrected.jsonl -template page_0001.xml -out page_0001_fixed.xml
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/gardar/ocrtable/pkg/convert"
	"github.com/gardar/ocrtable/pkg/format"
	"github.com/gardar/ocrtable/pkg/row"
	"github.com/gardar/ocrtable/pkg/sink"
)

func main() {
	rowsPath := flag.String("rows", "", "JSONL rows file")
	templatePath := flag.String("template", "", "Template XML document to patch")
	formatName := flag.String("format", "auto", "Template format: alto, pagexml or auto")
	minConfidence := flag.Float64("min-confidence", 0, "Drop rows below this confidence before patching")
	outPath := flag.String("out", "", "Output path; stdout when omitted")
	flag.Parse()

	if *rowsPath == "" {
		fmt.Println("Error: Must provide -rows")
		os.Exit(1)
	}
	if *templatePath == "" {
		fmt.Println("Error: Must provide -template")
		os.Exit(1)
	}

	f, err := format.ParseFormat(*formatName)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	template, err := os.ReadFile(*templatePath)
	if err != nil {
		fmt.Printf("Failed to read template: %v\n", err)
		os.Exit(1)
	}
	if f == format.Unknown {
		f, err = format.Detect(*templatePath, template, format.Unknown)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}

	rows, err := sink.ReadJSONL(*rowsPath)
	if err != nil {
		fmt.Printf("Failed to read rows: %v\n", err)
		os.Exit(1)
	}
	if *minConfidence > 0 {
		rows = filterConfidence(rows, float32(*minConfidence))
	}

	patched, err := convert.Serialize(f, rows, template)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	if *outPath == "" {
		fmt.Print(patched)
		return
	}
	if err := os.WriteFile(*outPath, []byte(patched), 0644); err != nil {
		fmt.Printf("Failed to write output: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Patched %d rows into %s\n", len(rows), *outPath)
}

// filterConfidence keeps rows at or above the threshold. Rows without a
// confidence value are kept; absence is not evidence of a bad word.
func filterConfidence(rows []row.Row, threshold float32) []row.Row {
	out := rows[:0:0]
	for _, r := range rows {
		if r.Confidence == nil || *r.Confidence >= threshold {
			out = append(out, r)
		}
	}
	return out
}
