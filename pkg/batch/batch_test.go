package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gardar/ocrtable/pkg/row"
	"github.com/gardar/ocrtable/pkg/sink"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

// stubParser emits a fixed number of rows per file and fails or panics on
// request.
type stubParser struct {
	rowsPerFile int
	failOn      map[string]bool
	panicOn     map[string]bool
}

func (p stubParser) ParseFile(path string) ([]row.Row, error) {
	if p.panicOn[path] {
		panic("boom: " + path)
	}
	if p.failOn[path] {
		return nil, fmt.Errorf("bad file %s", path)
	}
	rows := make([]row.Row, p.rowsPerFile)
	for i := range rows {
		rows[i] = row.Row{PageID: path, WordID: fmt.Sprintf("w%d", i), Text: "x", SourceFile: path}
	}
	return rows, nil
}

func fileList(n int) []string {
	files := make([]string, n)
	for i := range files {
		files[i] = fmt.Sprintf("file_%03d.xml", i)
	}
	return files
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name string
		mut  func(*Config)
		ok   bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"row size above shard size", func(c *Config) { c.BatchRowSize = 200; c.ShardSize = 100 }, false},
		{"too many workers", func(c *Config) { c.MaxWorkers = 129 }, false},
		{"unknown mode", func(c *Config) { c.Mode = "turbo" }, false},
		{"unknown compression", func(c *Config) { c.Compression = "zstd" }, false},
		{"adaptive", func(c *Config) { c.Mode = ModeAdaptive }, true},
	}
	for _, tt := range tests {
		var c Config
		c.ApplyDefaults()
		tt.mut(&c)
		err := c.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("%s: Validate() = %v", tt.name, err)
		}
		if err != nil && !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: error not wrapped as ErrConfiguration: %v", tt.name, err)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := writeTemp(t, "config.yaml", `
batch_file_size: 5
batch_row_size: 50
shard_size: 500
max_workers: 4
processing_mode: hybrid
compression: gzip
`)
	c, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.BatchFileSize != 5 || c.BatchRowSize != 50 || c.MaxWorkers != 4 {
		t.Errorf("config = %+v", c)
	}
	if c.Mode != ModeHybrid || c.Compression != "gzip" {
		t.Errorf("mode/compression = %s/%s", c.Mode, c.Compression)
	}
	// Unset options still get defaults.
	if c.MemoryLimitMB != 1024 {
		t.Errorf("memory limit default = %d", c.MemoryLimitMB)
	}

	bad := writeTemp(t, "bad.yaml", "processing_mode: warp\n")
	if _, err := LoadConfig(bad); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestAccumulatorStates(t *testing.T) {
	out := &sink.Memory{}
	acc := NewAccumulator(out, Config{BatchRowSize: 10, Logger: discardLogger()})

	if acc.State() != StateIdle {
		t.Errorf("initial state = %s", acc.State())
	}
	if err := acc.Add(make([]row.Row, 3)); err != nil {
		t.Fatal(err)
	}
	if acc.State() != StateAccumulating {
		t.Errorf("state after small add = %s", acc.State())
	}
	if out.Batches() != 0 {
		t.Error("flushed below threshold")
	}

	// Crossing the threshold flushes exactly one batch of threshold rows.
	if err := acc.Add(make([]row.Row, 9)); err != nil {
		t.Fatal(err)
	}
	if out.Batches() != 1 || len(out.Rows) != 10 {
		t.Errorf("batches = %d, rows = %d", out.Batches(), len(out.Rows))
	}

	if err := acc.Drain(); err != nil {
		t.Fatal(err)
	}
	if acc.State() != StateDrained {
		t.Errorf("state after drain = %s", acc.State())
	}
	if len(out.Rows) != 12 {
		t.Errorf("total rows = %d, want 12", len(out.Rows))
	}

	if err := acc.Add(make([]row.Row, 1)); err == nil {
		t.Error("Add after Drain must fail")
	}
}

func TestAccumulatorLargeAdd(t *testing.T) {
	out := &sink.Memory{}
	acc := NewAccumulator(out, Config{BatchRowSize: 10, Logger: discardLogger()})

	// One oversized add flushes repeatedly until under the threshold.
	if err := acc.Add(make([]row.Row, 35)); err != nil {
		t.Fatal(err)
	}
	if out.Batches() != 3 || len(out.Rows) != 30 {
		t.Errorf("batches = %d, rows = %d", out.Batches(), len(out.Rows))
	}
	if err := acc.Drain(); err != nil {
		t.Fatal(err)
	}
	if len(out.Rows) != 35 {
		t.Errorf("rows after drain = %d", len(out.Rows))
	}
}

func TestAdaptiveThresholdClamping(t *testing.T) {
	acc := NewAccumulator(&sink.Memory{}, Config{
		BatchRowSize:  100,
		Mode:          ModeAdaptive,
		MemoryLimitMB: 1,
		Logger:        discardLogger(),
	})

	// Sustained pressure halves down to the floor, never below.
	for i := 0; i < 20; i++ {
		acc.adapt(2 << 20)
	}
	if acc.Threshold() != acc.floor {
		t.Errorf("threshold = %d, want floor %d", acc.Threshold(), acc.floor)
	}

	// Sustained headroom doubles up to the ceiling, never above.
	for i := 0; i < 20; i++ {
		acc.adapt(0)
	}
	if acc.Threshold() != acc.ceiling {
		t.Errorf("threshold = %d, want ceiling %d", acc.Threshold(), acc.ceiling)
	}

	// Between the two watermarks the threshold holds still.
	mid := acc.Threshold()
	acc.adapt(uint64(acc.memLimit/2 + 1))
	if acc.Threshold() != mid {
		t.Errorf("threshold moved inside the deadband: %d -> %d", mid, acc.Threshold())
	}
}

func TestRunRowConservation(t *testing.T) {
	for _, mode := range []Mode{ModeSequential, ModeStreaming, ModeParallel, ModeHybrid, ModeAdaptive} {
		out := &sink.Memory{}
		sched, err := NewScheduler(stubParser{rowsPerFile: 7}, Config{
			Mode:          mode,
			BatchFileSize: 3,
			BatchRowSize:  10,
			MaxWorkers:    4,
			Logger:        discardLogger(),
		})
		if err != nil {
			t.Fatal(err)
		}
		summary, err := sched.Run(context.Background(), fileList(25), out)
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if summary.FilesProcessed != 25 || summary.FilesFailed != 0 {
			t.Errorf("%s: summary = %+v", mode, summary)
		}
		if summary.RowsExtracted != 175 || len(out.Rows) != 175 {
			t.Errorf("%s: extracted %d, sunk %d, want 175", mode, summary.RowsExtracted, len(out.Rows))
		}
		if summary.Sink.RowsWritten != 175 {
			t.Errorf("%s: sink summary = %+v", mode, summary.Sink)
		}
	}
}

func TestRunChunkOrder(t *testing.T) {
	out := &sink.Memory{}
	sched, err := NewScheduler(stubParser{rowsPerFile: 1}, Config{
		Mode:          ModeParallel,
		BatchFileSize: 2,
		BatchRowSize:  1000,
		MaxWorkers:    8,
		Logger:        discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	files := fileList(40)
	if _, err := sched.Run(context.Background(), files, out); err != nil {
		t.Fatal(err)
	}
	// With one row per file, sink order must equal input order regardless of
	// worker scheduling.
	for i, r := range out.Rows {
		if r.SourceFile != files[i] {
			t.Fatalf("row %d came from %s, want %s", i, r.SourceFile, files[i])
		}
	}
}

func TestRunFaultIsolation(t *testing.T) {
	for _, mode := range []Mode{ModeSequential, ModeHybrid} {
		out := &sink.Memory{}
		sched, err := NewScheduler(stubParser{
			rowsPerFile: 2,
			failOn:      map[string]bool{"file_003.xml": true, "file_011.xml": true},
			panicOn:     map[string]bool{"file_007.xml": true},
		}, Config{
			Mode:          mode,
			BatchFileSize: 4,
			BatchRowSize:  5,
			Logger:        discardLogger(),
		})
		if err != nil {
			t.Fatal(err)
		}
		summary, err := sched.Run(context.Background(), fileList(20), out)
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		if summary.FilesProcessed != 17 || summary.FilesFailed != 3 {
			t.Errorf("%s: summary = %+v", mode, summary)
		}
		if len(out.Rows) != 34 {
			t.Errorf("%s: rows = %d, want 34", mode, len(out.Rows))
		}
		if len(summary.Failures) != 3 {
			t.Fatalf("%s: failures = %+v", mode, summary.Failures)
		}
		foundPanic := false
		for _, f := range summary.Failures {
			if f.Path == "file_007.xml" && strings.Contains(f.Reason, "panic") {
				foundPanic = true
			}
		}
		if !foundPanic {
			t.Errorf("%s: panic not captured as file failure: %+v", mode, summary.Failures)
		}
	}
}

// failingSink rejects every batch after the first.
type failingSink struct {
	sink.Memory
	batches int
}

func (s *failingSink) Accept(batch []row.Row) error {
	s.batches++
	if s.batches > 1 {
		return fmt.Errorf("disk full")
	}
	return s.Memory.Accept(batch)
}

func TestRunSinkFailureAborts(t *testing.T) {
	for _, mode := range []Mode{ModeSequential, ModeHybrid} {
		sched, err := NewScheduler(stubParser{rowsPerFile: 10}, Config{
			Mode:          mode,
			BatchFileSize: 2,
			BatchRowSize:  10,
			MaxWorkers:    2,
			Logger:        discardLogger(),
		})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := sched.Run(context.Background(), fileList(10), &failingSink{}); err == nil {
			t.Errorf("%s: expected sink failure to abort the run", mode)
		}
	}
}

func TestRunCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	sched, err := NewScheduler(stubParser{rowsPerFile: 1}, Config{
		Mode:   ModeSequential,
		Logger: discardLogger(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := sched.Run(ctx, fileList(5), &sink.Memory{}); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestNewSchedulerRejectsBadConfig(t *testing.T) {
	_, err := NewScheduler(stubParser{}, Config{Mode: "warp"})
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}
