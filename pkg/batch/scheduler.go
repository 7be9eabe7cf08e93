// Package batch drives extraction over large file sets within a bounded
// memory budget: it partitions the input into chunks, runs extraction on a
// bounded worker pool, merges results in deterministic chunk order through a
// single coordinator, and flushes accumulated rows to a sink in bounded
// batches.
//
// A single file's failure (including a panicking parser) is recorded and
// contributes zero rows; it never aborts the run. A sink failure aborts
// scheduling of new chunks but lets in-flight chunks complete.
package batch

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/gardar/ocrtable/pkg/row"
	"github.com/gardar/ocrtable/pkg/sink"
)

// FileParser turns one input file into rows. Implementations must be
// stateless per file: workers call ParseFile concurrently.
type FileParser interface {
	ParseFile(path string) ([]row.Row, error)
}

// Failure records one file that produced no rows.
type Failure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// Summary is the result of a completed run.
type Summary struct {
	FilesProcessed int            `json:"files_processed"`
	FilesFailed    int            `json:"files_failed"`
	RowsExtracted  int64          `json:"rows_extracted"`
	Failures       []Failure      `json:"failures,omitempty"`
	Sink           sink.Summary   `json:"-"`
}

// Scheduler runs a FileParser over a file list and feeds the results to a
// sink through a batch accumulator.
type Scheduler struct {
	cfg    Config
	parser FileParser
}

// NewScheduler validates the configuration and builds a scheduler.
func NewScheduler(parser FileParser, cfg Config) (*Scheduler, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{cfg: cfg, parser: parser}, nil
}

// Run processes files and writes every extracted row to out. Sequential and
// streaming modes preserve exact input file order; parallel modes preserve
// order at chunk granularity. Run finalizes the sink on success.
func (s *Scheduler) Run(ctx context.Context, files []string, out sink.Sink) (Summary, error) {
	acc := NewAccumulator(out, s.cfg)
	var summary Summary

	var runErr error
	switch s.cfg.Mode {
	case ModeSequential, ModeStreaming:
		runErr = s.runSequential(ctx, files, acc, &summary)
	default:
		runErr = s.runParallel(ctx, files, acc, &summary)
	}
	if runErr != nil {
		return summary, runErr
	}

	if err := acc.Drain(); err != nil {
		return summary, fmt.Errorf("%w: final flush: %v", sink.ErrSinkFailure, err)
	}
	sinkSummary, err := out.Finalize()
	if err != nil {
		return summary, err
	}
	summary.Sink = sinkSummary
	return summary, nil
}

func (s *Scheduler) runSequential(ctx context.Context, files []string, acc *Accumulator, summary *Summary) error {
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return err
		}
		rows, err := s.parseOne(path)
		if err != nil {
			s.recordFailure(summary, path, err)
			continue
		}
		summary.FilesProcessed++
		summary.RowsExtracted += int64(len(rows))
		if err := acc.Add(rows); err != nil {
			return err
		}
	}
	return nil
}

// fileResult is one file's outcome inside a chunk, kept in file order so
// that ordering within a chunk stays deterministic.
type fileResult struct {
	path string
	rows []row.Row
	err  error
}

func (s *Scheduler) runParallel(ctx context.Context, files []string, acc *Accumulator, summary *Summary) error {
	chunks := chunkFiles(files, s.cfg.BatchFileSize)
	if len(chunks) == 0 {
		return nil
	}

	// One buffered slot per chunk: workers never block on delivery and the
	// coordinator consumes strictly in chunk-index order.
	results := make([]chan []fileResult, len(chunks))
	for i := range results {
		results[i] = make(chan []fileResult, 1)
	}

	poolCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	jobs := make(chan int)
	g, gctx := errgroup.WithContext(poolCtx)

	g.Go(func() error {
		defer close(jobs)
		for i := range chunks {
			select {
			case jobs <- i:
			case <-gctx.Done():
				// Abort: stop scheduling new chunks; in-flight ones finish.
				return nil
			}
		}
		return nil
	})

	workers := min(s.cfg.MaxWorkers, len(chunks))
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for idx := range jobs {
				out := make([]fileResult, 0, len(chunks[idx]))
				for _, path := range chunks[idx] {
					rows, err := s.parseOne(path)
					out = append(out, fileResult{path: path, rows: rows, err: err})
				}
				results[idx] <- out
			}
			return nil
		})
	}

	var sinkErr error
	for i := range chunks {
		var res []fileResult
		select {
		case res = <-results[i]:
		case <-gctx.Done():
			// Aborted before this chunk was scheduled; nothing more arrives.
		}
		for _, fr := range res {
			if fr.err != nil {
				s.recordFailure(summary, fr.path, fr.err)
				continue
			}
			summary.FilesProcessed++
			summary.RowsExtracted += int64(len(fr.rows))
			if sinkErr == nil {
				if err := acc.Add(fr.rows); err != nil {
					sinkErr = err
					cancel()
				}
			}
		}
	}

	if err := g.Wait(); err != nil {
		return err
	}
	if sinkErr != nil {
		return sinkErr
	}
	return ctx.Err()
}

// parseOne isolates a single file: a panicking parser is converted into that
// file's failure so the rest of the chunk still runs.
func (s *Scheduler) parseOne(path string) (rows []row.Row, err error) {
	defer func() {
		if r := recover(); r != nil {
			rows = nil
			err = fmt.Errorf("extraction panic: %v", r)
		}
	}()
	return s.parser.ParseFile(path)
}

func (s *Scheduler) recordFailure(summary *Summary, path string, err error) {
	s.cfg.Logger.Error("file failed", "path", path, "reason", err.Error())
	summary.FilesFailed++
	summary.Failures = append(summary.Failures, Failure{Path: path, Reason: err.Error()})
}

func chunkFiles(files []string, size int) [][]string {
	if size <= 0 {
		size = 1
	}
	var chunks [][]string
	for i := 0; i < len(files); i += size {
		chunks = append(chunks, files[i:min(i+size, len(files))])
	}
	return chunks
}
