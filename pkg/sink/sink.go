// Package sink defines the output boundary of the row pipeline and the
// built-in sink implementations: an in-memory table, a single JSONL file
// (optionally gzip-compressed), a sharded directory dataset with optional
// hive-style partitioning, and an SQLite database.
//
// A sink accepts bounded, ordered batches of rows and reports a summary when
// finalized. Retry policy is a caller concern; sinks fail loudly and never
// drop rows silently.
package sink

import (
	"errors"
	"fmt"
	"strings"

	"github.com/gardar/ocrtable/pkg/row"
)

// ErrSinkFailure reports an I/O failure at the output boundary.
var ErrSinkFailure = errors.New("sink failure")

// Summary is the result of a finished sink.
type Summary struct {
	RowsWritten int64
	Shards      int
}

// Sink accepts batches of rows. Accept must not retain the batch slice.
// Finalize flushes and closes the sink; no Accept may follow it.
type Sink interface {
	Accept(batch []row.Row) error
	Finalize() (Summary, error)
}

// Memory buffers every accepted row in memory. Useful for tests and for
// callers that want a single in-memory table.
type Memory struct {
	Rows    []row.Row
	batches int
}

// Accept appends the batch to the in-memory table.
func (m *Memory) Accept(batch []row.Row) error {
	m.Rows = append(m.Rows, batch...)
	m.batches++
	return nil
}

// Batches returns how many batches were accepted.
func (m *Memory) Batches() int { return m.batches }

func (m *Memory) Finalize() (Summary, error) {
	return Summary{RowsWritten: int64(len(m.Rows)), Shards: 1}, nil
}

// partitionValue extracts the value of a partition column from a row.
func partitionValue(column string, r row.Row) (string, error) {
	switch column {
	case "page_id":
		return r.PageID, nil
	case "region_id":
		return r.RegionID, nil
	case "source_file":
		return r.SourceFile, nil
	default:
		return "", fmt.Errorf("%w: unsupported partition column %q", ErrSinkFailure, column)
	}
}

// sanitizePartition makes a partition value safe as a directory name.
func sanitizePartition(v string) string {
	if v == "" {
		return "_none_"
	}
	replacer := strings.NewReplacer("/", "_", "\\", "_", ":", "_", " ", "_")
	return replacer.Replace(v)
}
