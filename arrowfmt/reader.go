// Package arrowfmt adapts arrow IPC streams to the lakescan column decoder
// protocol. Each record batch of the stream becomes one scan group. The
// format carries no page index, so sub-group pruning degrades to whole-group
// statistics computed on first use.
package arrowfmt

import (
	"context"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"

	"github.com/polarsignals/lakescan"
	"github.com/polarsignals/lakescan/expr"
)

var (
	_ lakescan.ColumnDecoder  = (*Reader)(nil)
	_ lakescan.FilteredReader = (*Reader)(nil)
)

// Reader serves one arrow IPC stream to a single scanner. Not safe for
// concurrent use.
type Reader struct {
	mem    memory.Allocator
	schema *arrow.Schema
	groups []arrow.Record

	stats map[statsKey]statsEntry
}

type statsKey struct {
	group  int
	column string
}

type statsEntry struct {
	stats expr.ColumnStats
	ok    bool
}

// Option configures a Reader.
type Option func(*Reader)

// WithAllocator sets the arrow allocator decoded arrays are built with.
func WithAllocator(mem memory.Allocator) Option {
	return func(r *Reader) { r.mem = mem }
}

// NewReader consumes an arrow IPC stream, retaining every record batch as a
// scan group.
func NewReader(in io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		mem:   memory.NewGoAllocator(),
		stats: map[statsKey]statsEntry{},
	}
	for _, opt := range opts {
		opt(r)
	}

	rd, err := ipc.NewReader(in, ipc.WithAllocator(r.mem))
	if err != nil {
		return nil, fmt.Errorf("open ipc stream: %w", err)
	}
	defer rd.Release()
	for rd.Next() {
		rec := rd.Record()
		rec.Retain()
		r.groups = append(r.groups, rec)
	}
	if err := rd.Err(); err != nil && err != io.EOF {
		r.Close()
		return nil, fmt.Errorf("read ipc stream: %w", err)
	}
	r.schema = naturalSchema(rd.Schema())
	return r, nil
}

// NewFromRecords serves already materialized record batches, each one a scan
// group. The records are retained until Close.
func NewFromRecords(schema *arrow.Schema, records []arrow.Record, opts ...Option) *Reader {
	r := &Reader{
		mem:   memory.NewGoAllocator(),
		stats: map[statsKey]statsEntry{},
	}
	for _, opt := range opts {
		opt(r)
	}
	for _, rec := range records {
		rec.Retain()
		r.groups = append(r.groups, rec)
	}
	r.schema = naturalSchema(schema)
	return r
}

// naturalSchema unwraps dictionary fields to their value types; callers see
// natural columns and opt into codes through the decode protocol.
func naturalSchema(schema *arrow.Schema) *arrow.Schema {
	fields := make([]arrow.Field, schema.NumFields())
	for i, f := range schema.Fields() {
		if dt, ok := f.Type.(*arrow.DictionaryType); ok {
			f.Type = dt.ValueType
		}
		fields[i] = f
	}
	return arrow.NewSchema(fields, nil)
}

func (r *Reader) Schema() *arrow.Schema { return r.schema }

func (r *Reader) NumGroups() int { return len(r.groups) }

func (r *Reader) GroupRows(group int) int64 { return r.groups[group].NumRows() }

// SupportsFilteredRead reports that sub-range reads are slices here, always
// cheap.
func (r *Reader) SupportsFilteredRead() bool { return true }

func (r *Reader) column(group int, column string) (arrow.Array, bool) {
	rec := r.groups[group]
	indices := rec.Schema().FieldIndices(column)
	if len(indices) != 1 {
		return nil, false
	}
	return rec.Column(indices[0]), true
}

// GroupStats computes the column's bounds by scanning it, once per group,
// since the format stores none.
func (r *Reader) GroupStats(group int, column string) (expr.ColumnStats, bool) {
	key := statsKey{group: group, column: column}
	if e, ok := r.stats[key]; ok {
		return e.stats, e.ok
	}
	col, ok := r.column(group, column)
	if !ok {
		r.stats[key] = statsEntry{}
		return expr.ColumnStats{}, false
	}
	stats, ok := computeStats(col)
	r.stats[key] = statsEntry{stats: stats, ok: ok}
	return stats, ok
}

// PageStats is never available; record batches have no finer index.
func (r *Reader) PageStats(int, string) ([]lakescan.PageStats, bool) {
	return nil, false
}

// Dictionary exposes dictionary-encoded columns with int32 indices and
// string-like values. Everything else reports no dictionary.
func (r *Reader) Dictionary(ctx context.Context, group int, column string) (arrow.Array, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	col, ok := r.column(group, column)
	if !ok {
		return nil, false, nil
	}
	dict, ok := col.(*array.Dictionary)
	if !ok {
		return nil, false, nil
	}
	if _, ok := dict.Indices().(*array.Int32); !ok {
		return nil, false, nil
	}
	values := dict.Dictionary()
	switch values.(type) {
	case *array.String, *array.Binary:
	default:
		return nil, false, nil
	}
	if values.Len() == 0 {
		return nil, false, nil
	}
	values.Retain()
	return values, true, nil
}

// DecodeColumn slices the retained record batch. Non-dictionary columns
// decode zero-copy through slicing and concatenation; dictionary columns are
// materialized to their natural type, or to their codes when asked for.
func (r *Reader) DecodeColumn(ctx context.Context, group int, column string, ranges lakescan.RowRanges, asCodes bool) (arrow.Array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	col, ok := r.column(group, column)
	if !ok {
		return nil, fmt.Errorf("%w: column %q", lakescan.ErrNotFound, column)
	}
	if dict, isDict := col.(*array.Dictionary); isDict {
		return r.decodeDictionary(dict, ranges, asCodes)
	}
	if asCodes {
		return nil, fmt.Errorf("%w: column %q is not dictionary encoded", lakescan.ErrMalformedMetadata, column)
	}

	if len(ranges) == 0 {
		b := array.NewBuilder(r.mem, col.DataType())
		defer b.Release()
		return b.NewArray(), nil
	}
	rows := col.Len()
	slices := make([]arrow.Array, 0, len(ranges))
	defer func() {
		for _, s := range slices {
			s.Release()
		}
	}()
	for _, rr := range ranges {
		if rr.Start < 0 || rr.End > int64(rows) {
			return nil, fmt.Errorf("%w: range [%d, %d) exceeds column %q", lakescan.ErrMalformedMetadata, rr.Start, rr.End, column)
		}
		slices = append(slices, array.NewSlice(col, rr.Start, rr.End))
	}
	if len(slices) == 1 {
		s := slices[0]
		s.Retain()
		return s, nil
	}
	return array.Concatenate(slices, r.mem)
}

func (r *Reader) decodeDictionary(dict *array.Dictionary, ranges lakescan.RowRanges, asCodes bool) (arrow.Array, error) {
	indices, ok := dict.Indices().(*array.Int32)
	if !ok {
		return nil, fmt.Errorf("%w: unsupported dictionary index type %s", lakescan.ErrMalformedMetadata, dict.Indices().DataType())
	}
	if asCodes {
		b := array.NewInt32Builder(r.mem)
		defer b.Release()
		for _, rr := range ranges {
			for i := rr.Start; i < rr.End; i++ {
				if dict.IsNull(int(i)) {
					b.AppendNull()
					continue
				}
				b.Append(indices.Value(int(i)))
			}
		}
		return b.NewArray(), nil
	}

	switch values := dict.Dictionary().(type) {
	case *array.String:
		b := array.NewStringBuilder(r.mem)
		defer b.Release()
		for _, rr := range ranges {
			for i := rr.Start; i < rr.End; i++ {
				if dict.IsNull(int(i)) {
					b.AppendNull()
					continue
				}
				b.Append(values.Value(int(indices.Value(int(i)))))
			}
		}
		return b.NewArray(), nil
	case *array.Binary:
		b := array.NewBinaryBuilder(r.mem, arrow.BinaryTypes.Binary)
		defer b.Release()
		for _, rr := range ranges {
			for i := rr.Start; i < rr.End; i++ {
				if dict.IsNull(int(i)) {
					b.AppendNull()
					continue
				}
				b.Append(values.Value(int(indices.Value(int(i)))))
			}
		}
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported dictionary value type %s", lakescan.ErrMalformedMetadata, values.DataType())
	}
}

func (r *Reader) Close() error {
	for _, rec := range r.groups {
		rec.Release()
	}
	r.groups = nil
	return nil
}

// computeStats scans one column for its bounds. Booleans carry null counts
// only; there is nothing useful to prune on.
func computeStats(col arrow.Array) (expr.ColumnStats, bool) {
	stats := expr.ColumnStats{
		NumValues: int64(col.Len()),
		NullCount: int64(col.NullN()),
	}
	if stats.NullCount == stats.NumValues {
		return stats, true
	}
	switch arr := col.(type) {
	case *array.Int32:
		mn, mx, ok := bounds(arr.Len(), arr.IsNull, arr.Value)
		if !ok {
			return stats, true
		}
		stats.Min, stats.Max, stats.HasMinMax = parquet.ValueOf(mn), parquet.ValueOf(mx), true
	case *array.Int64:
		mn, mx, ok := bounds(arr.Len(), arr.IsNull, arr.Value)
		if !ok {
			return stats, true
		}
		stats.Min, stats.Max, stats.HasMinMax = parquet.ValueOf(mn), parquet.ValueOf(mx), true
	case *array.Float32:
		mn, mx, ok := bounds(arr.Len(), arr.IsNull, arr.Value)
		if !ok {
			return stats, true
		}
		stats.Min, stats.Max, stats.HasMinMax = parquet.ValueOf(mn), parquet.ValueOf(mx), true
	case *array.Float64:
		mn, mx, ok := bounds(arr.Len(), arr.IsNull, arr.Value)
		if !ok {
			return stats, true
		}
		stats.Min, stats.Max, stats.HasMinMax = parquet.ValueOf(mn), parquet.ValueOf(mx), true
	case *array.String:
		mn, mx, ok := bounds(arr.Len(), arr.IsNull, arr.Value)
		if !ok {
			return stats, true
		}
		stats.Min, stats.Max, stats.HasMinMax = parquet.ValueOf(mn), parquet.ValueOf(mx), true
	case *array.Dictionary:
		values, ok := arr.Dictionary().(*array.String)
		if !ok {
			return stats, true
		}
		indices, ok := arr.Indices().(*array.Int32)
		if !ok {
			return stats, true
		}
		mn, mx, found := bounds(arr.Len(), arr.IsNull, func(i int) string {
			return values.Value(int(indices.Value(i)))
		})
		if !found {
			return stats, true
		}
		stats.Min, stats.Max, stats.HasMinMax = parquet.ValueOf(mn), parquet.ValueOf(mx), true
	case *array.Boolean:
		// Null count only.
	default:
		return expr.ColumnStats{}, false
	}
	return stats, true
}

func bounds[T int32 | int64 | float32 | float64 | string](n int, isNull func(int) bool, value func(int) T) (T, T, bool) {
	var mn, mx T
	found := false
	for i := 0; i < n; i++ {
		if isNull(i) {
			continue
		}
		v := value(i)
		if !found {
			mn, mx, found = v, v, true
			continue
		}
		if v < mn {
			mn = v
		}
		if v > mx {
			mx = v
		}
	}
	return mn, mx, found
}
