package sink

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gardar/ocrtable/pkg/row"
)

// Dir writes a partitioned directory dataset of JSONL shard files. A new
// shard is started whenever the current shard reaches ShardSize rows. With
// a partition column set, shards are grouped into hive-style
// "<column>=<value>" subdirectories.
type Dir struct {
	root        string
	shardSize   int
	partitionBy string
	compression string

	writers map[string]*shardWriter
	rows    int64
	shards  int
}

type shardWriter struct {
	dir   string
	index int
	rows  int
	sink  *JSONL
}

// NewDir prepares a sharded dataset under root. shardSize is the row-count
// threshold that rotates shard files; partitionBy may be empty or a
// supported partition column name.
func NewDir(root string, shardSize int, partitionBy, compression string) (*Dir, error) {
	if shardSize <= 0 {
		return nil, fmt.Errorf("%w: shard size must be positive, got %d", ErrSinkFailure, shardSize)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrSinkFailure, root, err)
	}
	return &Dir{
		root:        root,
		shardSize:   shardSize,
		partitionBy: partitionBy,
		compression: compression,
		writers:     make(map[string]*shardWriter),
	}, nil
}

func (d *Dir) Accept(batch []row.Row) error {
	for _, r := range batch {
		key := ""
		if d.partitionBy != "" {
			v, err := partitionValue(d.partitionBy, r)
			if err != nil {
				return err
			}
			key = sanitizePartition(v)
		}
		if err := d.writeRow(key, r); err != nil {
			return err
		}
	}
	return nil
}

func (d *Dir) writeRow(key string, r row.Row) error {
	w := d.writers[key]
	if w == nil {
		dir := d.root
		if key != "" {
			dir = filepath.Join(d.root, d.partitionBy+"="+key)
			if err := os.MkdirAll(dir, 0755); err != nil {
				return fmt.Errorf("%w: create partition %s: %v", ErrSinkFailure, dir, err)
			}
		}
		w = &shardWriter{dir: dir}
		d.writers[key] = w
	}

	if w.sink == nil {
		path := filepath.Join(w.dir, fmt.Sprintf("shard_%05d.jsonl", w.index))
		if d.compression == "gzip" {
			path += ".gz"
		}
		s, err := NewJSONL(path, d.compression)
		if err != nil {
			return err
		}
		w.sink = s
		d.shards++
	}

	if err := w.sink.Accept([]row.Row{r}); err != nil {
		return err
	}
	w.rows++
	d.rows++

	if w.rows >= d.shardSize {
		if _, err := w.sink.Finalize(); err != nil {
			return err
		}
		w.sink = nil
		w.index++
		w.rows = 0
	}
	return nil
}

func (d *Dir) Finalize() (Summary, error) {
	for _, w := range d.writers {
		if w.sink != nil {
			if _, err := w.sink.Finalize(); err != nil {
				return Summary{}, err
			}
			w.sink = nil
		}
	}
	if err := d.writeManifest(); err != nil {
		return Summary{}, err
	}
	return Summary{RowsWritten: d.rows, Shards: d.shards}, nil
}

// writeManifest records dataset-level bookkeeping next to the shards.
func (d *Dir) writeManifest() error {
	manifest := struct {
		TotalRows   int64  `json:"total_rows"`
		TotalShards int    `json:"total_shards"`
		ShardSize   int    `json:"shard_size"`
		PartitionBy string `json:"partition_by,omitempty"`
	}{d.rows, d.shards, d.shardSize, d.partitionBy}

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: marshal manifest: %v", ErrSinkFailure, err)
	}
	path := filepath.Join(d.root, "manifest.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: write manifest: %v", ErrSinkFailure, err)
	}
	return nil
}
