// ocrtab is a command-line tool for flattening OCR documents into tabular rows.
//
// It reads ALTO and PAGE-XML documents (and Document AI JSON responses),
// extracts one row per word, line or region, and writes the rows to a JSONL
// file, a sharded dataset directory, or an SQLite database. Large file sets
// are processed in bounded batches with an optional worker pool.
//
// Usage:
//
//	ocrtab -out rows.jsonl [options] file.xml [file.xml ...]
//
// Required flags:
//
//	-out string        Output target; the suffix selects the sink:
//	                   .jsonl single JSONL file, .db SQLite database,
//	                   anything else a sharded dataset directory,
//	                   "-" discards rows and prints the summary only
//
// Extraction options:
//
//	-format string     Input format: alto, pagexml or auto (default "auto")
//	-level string      Extraction level: word, line or region (default "word")
//
// Processing options:
//
//	-mode string       sequential, parallel, streaming, hybrid or adaptive
//	-workers int       Worker pool bound for parallel modes
//	-batch-rows int    Rows per flushed batch
//	-shard-size int    Rows per output shard (directory sink)
//	-partition-by string  Partition column for the directory sink
//	-compress string   Output compression: none or gzip
//	-config string     YAML configuration file (flags override it)
//	-proof string      Also render a proof-sheet PDF of the word boxes
//	-v                 Verbose logging
//
// Examples:
//
// Flatten one document to JSONL:
//
//	ocrtab -out rows.jsonl page_0001.xml
//
// Batch a directory into a sharded dataset partitioned by page:
//
//	ocrtab -out dataset/ -mode hybrid -workers 8 -partition-by page_id ./scans
package main

import (
	"context"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/gardar/ocrtable/pkg/batch"
	"github.com/gardar/ocrtable/pkg/convert"
	"github.com/gardar/ocrtable/pkg/docai"
	"github.com/gardar/ocrtable/pkg/format"
	"github.com/gardar/ocrtable/pkg/proofsheet"
	"github.com/gardar/ocrtable/pkg/row"
	"github.com/gardar/ocrtable/pkg/sink"
)

func main() {
	formatName := flag.String("format", "auto", "Input format: alto, pagexml or auto")
	levelName := flag.String("level", "word", "Extraction level: word, line or region")
	modeName := flag.String("mode", "", "Processing mode: sequential, parallel, streaming, hybrid or adaptive")
	outPath := flag.String("out", "", "Output target (.jsonl, .db, directory, or \"-\")")
	workers := flag.Int("workers", 0, "Worker pool bound for parallel modes")
	batchRows := flag.Int("batch-rows", 0, "Rows per flushed batch")
	shardSize := flag.Int("shard-size", 0, "Rows per output shard")
	partitionBy := flag.String("partition-by", "", "Partition column for the directory sink")
	compress := flag.String("compress", "", "Output compression: none or gzip")
	configPath := flag.String("config", "", "YAML configuration file")
	proofPath := flag.String("proof", "", "Also render a proof-sheet PDF of the word boxes")
	verbose := flag.Bool("v", false, "Verbose logging")
	flag.Parse()

	if *outPath == "" {
		fmt.Println("Error: Must provide -out")
		os.Exit(1)
	}
	if flag.NArg() == 0 {
		fmt.Println("Error: No input files given")
		os.Exit(1)
	}

	logLevel := slog.LevelWarn
	if *verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel}))

	f, err := format.ParseFormat(*formatName)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	level, err := row.ParseLevel(*levelName)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	var cfg batch.Config
	if *configPath != "" {
		cfg, err = batch.LoadConfig(*configPath)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			os.Exit(1)
		}
	}
	if *modeName != "" {
		cfg.Mode = batch.Mode(*modeName)
	}
	if *workers > 0 {
		cfg.MaxWorkers = *workers
	}
	if *batchRows > 0 {
		cfg.BatchRowSize = *batchRows
	}
	if *shardSize > 0 {
		cfg.ShardSize = *shardSize
	}
	if *compress != "" {
		cfg.Compression = *compress
	}
	cfg.Logger = logger
	cfg.ApplyDefaults()

	files, err := collectFiles(flag.Args())
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Println("Error: No input files found")
		os.Exit(1)
	}

	out, err := openSink(*outPath, cfg, *partitionBy)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if *proofPath != "" {
		out = &fanout{sinks: []sink.Sink{out, proofsheet.NewSink(*proofPath, proofsheet.Config{})}}
	}

	parser := fileParser{
		opts: convert.Options{Format: f, Level: level, Logger: logger},
	}
	sched, err := batch.NewScheduler(parser, cfg)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	summary, err := sched.Run(context.Background(), files, out)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Processed %d files (%d failed), %d rows, %d shards\n",
		summary.FilesProcessed, summary.FilesFailed, summary.RowsExtracted, summary.Sink.Shards)
	if summary.FilesFailed > 0 {
		os.Exit(2)
	}
}

// fileParser routes XML inputs through format detection and extraction, and
// Document AI JSON responses through the docai importer.
type fileParser struct {
	opts convert.Options
}

func (p fileParser) ParseFile(path string) ([]row.Row, error) {
	if strings.HasSuffix(path, ".json") {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		rows, err := docai.RowsFromJSON(data, p.opts.Level)
		if err != nil {
			return nil, err
		}
		table, err := row.Build(format.ALTO, p.opts.Level, rows, path)
		if err != nil {
			return nil, err
		}
		return table.Rows, nil
	}

	table, err := convert.Parse(path, p.opts)
	if err != nil {
		return nil, err
	}
	return table.Rows, nil
}

// collectFiles expands directory arguments into the XML and JSON files they
// contain, in lexical order.
func collectFiles(args []string) ([]string, error) {
	var files []string
	for _, arg := range args {
		info, err := os.Stat(arg)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			files = append(files, arg)
			continue
		}
		err = filepath.WalkDir(arg, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".xml", ".json":
				files = append(files, path)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	return files, nil
}

// openSink picks the sink from the output path suffix.
func openSink(path string, cfg batch.Config, partitionBy string) (sink.Sink, error) {
	switch {
	case path == "-":
		return &sink.Memory{}, nil
	case strings.HasSuffix(path, ".jsonl"), strings.HasSuffix(path, ".jsonl.gz"):
		return sink.NewJSONL(path, cfg.Compression)
	case strings.HasSuffix(path, ".db"), strings.HasSuffix(path, ".sqlite"):
		return sink.NewSQLite(path)
	default:
		return sink.NewDir(path, cfg.ShardSize, partitionBy, cfg.Compression)
	}
}

// fanout forwards every batch to each sink and finalizes them in order,
// reporting the first sink's summary.
type fanout struct {
	sinks []sink.Sink
}

func (f *fanout) Accept(batch []row.Row) error {
	for _, s := range f.sinks {
		if err := s.Accept(batch); err != nil {
			return err
		}
	}
	return nil
}

func (f *fanout) Finalize() (sink.Summary, error) {
	var first sink.Summary
	for i, s := range f.sinks {
		summary, err := s.Finalize()
		if err != nil {
			return sink.Summary{}, err
		}
		if i == 0 {
			first = summary
		}
	}
	return first, nil
}
