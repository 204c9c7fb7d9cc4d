package simulator

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"strconv"
	"strings"
)

// Op is one logical operation produced by a workload. Synthetic
// workloads attach a deterministic payload so round trips are checkable;
// replayed traces carry none.
type Op struct {
	StartTime      float64
	Kind           EventKind
	LogicalAddress int
	Payload        []byte
}

// Workload produces the stream of logical operations driving a
// simulation. Implementations must emit non-decreasing start times.
type Workload interface {
	// Next returns the next operation, or ok=false when the workload is
	// exhausted.
	Next() (op Op, ok bool)
}

// SequentialFillWorkload writes every logical page once, in ascending
// order, at a fixed interval.
type SequentialFillWorkload struct {
	totalPages int
	interval   float64
	next       int
}

// NewSequentialFillWorkload creates a workload covering [0, totalPages).
func NewSequentialFillWorkload(totalPages int, interval float64) *SequentialFillWorkload {
	return &SequentialFillWorkload{totalPages: totalPages, interval: interval}
}

func (w *SequentialFillWorkload) Next() (Op, bool) {
	if w.next >= w.totalPages {
		return Op{}, false
	}
	op := Op{
		StartTime:      float64(w.next) * w.interval,
		Kind:           EventWrite,
		LogicalAddress: w.next,
		Payload:        []byte(fmt.Sprintf("p%d", w.next)),
	}
	w.next++
	return op, true
}

// UniformRandomWorkload issues overwrites to uniformly random logical
// pages within a bounded range, at a fixed interval. A non-positive
// count makes the workload unbounded.
type UniformRandomWorkload struct {
	rng      *rand.Rand
	span     int
	interval float64
	count    int
	issued   int
}

// NewUniformRandomWorkload creates a workload of count random writes
// over logical addresses [0, span).
func NewUniformRandomWorkload(span, count int, interval float64, seed int64) *UniformRandomWorkload {
	if seed == 0 {
		seed = rand.Int63()
	}
	return &UniformRandomWorkload{
		rng:      rand.New(rand.NewSource(seed)),
		span:     span,
		interval: interval,
		count:    count,
	}
}

func (w *UniformRandomWorkload) Next() (Op, bool) {
	if w.count > 0 && w.issued >= w.count {
		return Op{}, false
	}
	logical := w.rng.Intn(w.span)
	op := Op{
		StartTime:      float64(w.issued) * w.interval,
		Kind:           EventWrite,
		LogicalAddress: logical,
		Payload:        []byte(fmt.Sprintf("w%d@%d", w.issued, logical)),
	}
	w.issued++
	return op, true
}

// TraceWorkload replays a CSV trace of "start_time,op,logical_address"
// rows, where op is read, write or trim. Blank lines and lines starting
// with '#' are skipped.
type TraceWorkload struct {
	reader *csv.Reader
	line   int
	err    error
}

// NewTraceWorkload wraps a CSV trace stream.
func NewTraceWorkload(r io.Reader) *TraceWorkload {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 3
	cr.Comment = '#'
	cr.TrimLeadingSpace = true
	return &TraceWorkload{reader: cr}
}

// Err returns the first parse error encountered, if any.
func (w *TraceWorkload) Err() error {
	return w.err
}

func (w *TraceWorkload) Next() (Op, bool) {
	if w.err != nil {
		return Op{}, false
	}
	record, err := w.reader.Read()
	if err == io.EOF {
		return Op{}, false
	}
	w.line++
	if err != nil {
		w.err = fmt.Errorf("trace line %d: %w", w.line, err)
		return Op{}, false
	}

	start, err := strconv.ParseFloat(record[0], 64)
	if err != nil {
		w.err = fmt.Errorf("trace line %d: bad start time %q", w.line, record[0])
		return Op{}, false
	}
	var kind EventKind
	switch strings.ToLower(record[1]) {
	case "read":
		kind = EventRead
	case "write":
		kind = EventWrite
	case "trim":
		kind = EventTrim
	default:
		w.err = fmt.Errorf("trace line %d: unknown op %q", w.line, record[1])
		return Op{}, false
	}
	logical, err := strconv.Atoi(record[2])
	if err != nil {
		w.err = fmt.Errorf("trace line %d: bad logical address %q", w.line, record[2])
		return Op{}, false
	}

	return Op{StartTime: start, Kind: kind, LogicalAddress: logical}, true
}
