package batch

import (
	"fmt"
	"runtime"

	"github.com/gardar/ocrtable/pkg/row"
	"github.com/gardar/ocrtable/pkg/sink"
)

// State tracks the accumulator lifecycle:
// Idle → Accumulating → Flushing → Accumulating … → Drained.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateFlushing
	StateDrained
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAccumulating:
		return "accumulating"
	case StateFlushing:
		return "flushing"
	case StateDrained:
		return "drained"
	default:
		return "invalid"
	}
}

// Accumulator buffers rows up to a threshold and hands them to the sink as
// one batch per flush. In adaptive mode the threshold follows sampled
// process memory, bounded by a floor and a ceiling derived from the
// configured batch_row_size. The accumulator is driven by a single
// coordinator and is not safe for concurrent use.
type Accumulator struct {
	out       sink.Sink
	threshold int
	floor     int
	ceiling   int
	adaptive  bool
	memLimit  uint64

	buf     []row.Row
	state   State
	flushes int
}

// NewAccumulator builds an accumulator over out. Adaptive threshold
// adjustment is enabled for ModeAdaptive configurations.
func NewAccumulator(out sink.Sink, cfg Config) *Accumulator {
	cfg.ApplyDefaults()
	return &Accumulator{
		out:       out,
		threshold: cfg.BatchRowSize,
		floor:     max(1, cfg.BatchRowSize/8),
		ceiling:   cfg.BatchRowSize * 8,
		adaptive:  cfg.Mode == ModeAdaptive,
		memLimit:  uint64(cfg.MemoryLimitMB) * 1024 * 1024,
		state:     StateIdle,
	}
}

// Add appends one file's extraction result and flushes whenever the buffer
// reaches the threshold.
func (a *Accumulator) Add(rows []row.Row) error {
	if a.state == StateDrained {
		return fmt.Errorf("%w: accumulator already drained", sink.ErrSinkFailure)
	}
	a.state = StateAccumulating
	a.buf = append(a.buf, rows...)
	for len(a.buf) >= a.threshold {
		if err := a.flush(); err != nil {
			return err
		}
	}
	return nil
}

// Drain flushes any buffered rows and moves to the terminal state.
func (a *Accumulator) Drain() error {
	if len(a.buf) > 0 {
		if err := a.flush(); err != nil {
			return err
		}
	}
	a.state = StateDrained
	return nil
}

// State returns the current lifecycle state.
func (a *Accumulator) State() State { return a.state }

// Threshold returns the current flush threshold (adaptive mode moves it).
func (a *Accumulator) Threshold() int { return a.threshold }

// Flushes returns how many batches have been handed to the sink.
func (a *Accumulator) Flushes() int { return a.flushes }

func (a *Accumulator) flush() error {
	a.state = StateFlushing
	n := min(a.threshold, len(a.buf))
	batch := a.buf[:n:n]
	rest := a.buf[n:]

	if err := a.out.Accept(batch); err != nil {
		return err
	}
	a.buf = append([]row.Row(nil), rest...)
	a.flushes++
	a.state = StateAccumulating

	if a.adaptive {
		a.adapt(memAlloc())
	}
	return nil
}

// adapt halves the threshold when sampled memory crosses the high-water
// mark and doubles it when comfortably under half of it. The adjustment is
// clamped to [floor, ceiling] and therefore cannot oscillate past either
// bound.
func (a *Accumulator) adapt(sample uint64) {
	switch {
	case sample > a.memLimit:
		a.threshold = max(a.floor, a.threshold/2)
	case sample < a.memLimit/2:
		a.threshold = min(a.ceiling, a.threshold*2)
	}
}

// memAlloc samples live heap usage of the process.
func memAlloc() uint64 {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)
	return mem.Alloc
}
