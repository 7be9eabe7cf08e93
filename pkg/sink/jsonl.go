package sink

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/gardar/ocrtable/pkg/row"
)

// JSONL writes rows to a single newline-delimited JSON file. With
// compression "gzip" the stream is gzip-wrapped; any other value writes
// plain text.
type JSONL struct {
	file *os.File
	gz   *gzip.Writer
	enc  *json.Encoder
	rows int64
}

// NewJSONL creates (truncating) the output file at path.
func NewJSONL(path, compression string) (*JSONL, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrSinkFailure, path, err)
	}
	s := &JSONL{file: f}
	var w io.Writer = f
	if compression == "gzip" {
		s.gz = gzip.NewWriter(f)
		w = s.gz
	}
	s.enc = json.NewEncoder(w)
	return s, nil
}

func (s *JSONL) Accept(batch []row.Row) error {
	for _, r := range batch {
		if err := s.enc.Encode(r); err != nil {
			return fmt.Errorf("%w: encode row: %v", ErrSinkFailure, err)
		}
	}
	s.rows += int64(len(batch))
	return nil
}

func (s *JSONL) Finalize() (Summary, error) {
	if s.gz != nil {
		if err := s.gz.Close(); err != nil {
			return Summary{}, fmt.Errorf("%w: close gzip stream: %v", ErrSinkFailure, err)
		}
	}
	if err := s.file.Close(); err != nil {
		return Summary{}, fmt.Errorf("%w: close %s: %v", ErrSinkFailure, s.file.Name(), err)
	}
	return Summary{RowsWritten: s.rows, Shards: 1}, nil
}

// ReadJSONL loads rows back from a JSONL file written by this sink.
// Gzip input is detected by the .gz suffix.
func ReadJSONL(path string) ([]row.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	var r io.Reader = f
	if len(path) > 3 && path[len(path)-3:] == ".gz" {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("open gzip %s: %w", path, err)
		}
		defer gz.Close()
		r = gz
	}

	var rows []row.Row
	dec := json.NewDecoder(r)
	for {
		var rec row.Row
		if err := dec.Decode(&rec); err == io.EOF {
			break
		} else if err != nil {
			return nil, fmt.Errorf("decode %s: %w", path, err)
		}
		rows = append(rows, rec)
	}
	return rows, nil
}
