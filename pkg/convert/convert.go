// Package convert is the high-level entry point of the pipeline: it detects
// a document's format, runs the matching extractor, assembles row tables
// with their metadata sidecars, patches rows back into template documents,
// and drives batch runs over whole file sets.
package convert

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/gardar/ocrtable/pkg/alto"
	"github.com/gardar/ocrtable/pkg/batch"
	"github.com/gardar/ocrtable/pkg/format"
	"github.com/gardar/ocrtable/pkg/ocrxml"
	"github.com/gardar/ocrtable/pkg/pagexml"
	"github.com/gardar/ocrtable/pkg/row"
	"github.com/gardar/ocrtable/pkg/sink"
)

// Options controls a single-document conversion.
type Options struct {
	// Format forces a format; format.Unknown requests auto-detection.
	Format format.Format

	// Level is the extraction granularity. Defaults to word.
	Level row.Level

	// Logger for non-fatal notices. Defaults to slog.Default.
	Logger *slog.Logger
}

func (o *Options) defaults() {
	if o.Level == "" {
		o.Level = row.LevelWord
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
}

// Parse reads the document at path and flattens it to a row table at the
// configured level. The table carries the document's metadata sidecar keyed
// by path.
func Parse(path string, opts Options) (*row.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseBytes(data, path, opts)
}

// ParseBytes is Parse over an in-memory document. path is used for format
// detection and row provenance only.
func ParseBytes(data []byte, path string, opts Options) (*row.Table, error) {
	opts.defaults()

	f, err := format.Detect(path, data, opts.Format)
	if err != nil {
		return nil, err
	}
	doc, err := ocrxml.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	var rows []row.Row
	var meta *row.Metadata
	switch f {
	case format.ALTO:
		rows, err = alto.Extractor{Level: opts.Level}.Extract(doc)
		meta = alto.Metadata(doc)
	case format.PageXML:
		rows, err = pagexml.Extractor{Level: opts.Level}.Extract(doc)
		meta = pagexml.Metadata(doc)
	default:
		return nil, fmt.Errorf("%w: %s", format.ErrUnsupported, path)
	}
	if err != nil {
		return nil, fmt.Errorf("extract %s: %w", path, err)
	}

	table, err := row.Build(f, opts.Level, rows, path)
	if err != nil {
		return nil, err
	}
	table.Meta[path] = meta
	return table, nil
}

// Serialize patches rows into the template document and returns the patched
// text. The template's format is given explicitly; rows must all stem from
// one source document, since a template can only represent one.
func Serialize(f format.Format, rows []row.Row, template []byte) (string, error) {
	source := ""
	for _, r := range rows {
		if r.SourceFile == "" {
			continue
		}
		if source == "" {
			source = r.SourceFile
		} else if r.SourceFile != source {
			return "", fmt.Errorf("%w: rows from %s and %s cannot patch one template",
				row.ErrSchemaViolation, source, r.SourceFile)
		}
	}

	switch f {
	case format.ALTO:
		return alto.Serializer{}.Serialize(rows, template)
	case format.PageXML:
		return pagexml.Serializer{}.Serialize(rows, template)
	default:
		return "", fmt.Errorf("%w: cannot serialize %s", format.ErrUnsupported, f)
	}
}

// fileParser adapts single-document parsing to the batch engine. Format
// detection runs per file, so one run may mix ALTO and PAGE-XML inputs.
type fileParser struct {
	opts Options
}

func (p fileParser) ParseFile(path string) ([]row.Row, error) {
	table, err := Parse(path, p.opts)
	if err != nil {
		return nil, err
	}
	return table.Rows, nil
}

// Stream processes files through the batch engine into out, honoring the
// configured processing mode, worker bound and flush thresholds.
func Stream(ctx context.Context, files []string, cfg batch.Config, out sink.Sink, opts Options) (batch.Summary, error) {
	opts.defaults()
	if cfg.Logger == nil {
		cfg.Logger = opts.Logger
	}
	sched, err := batch.NewScheduler(fileParser{opts: opts}, cfg)
	if err != nil {
		return batch.Summary{}, err
	}
	return sched.Run(ctx, files, out)
}
