package lakescan

import (
	"context"
	"fmt"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"

	"github.com/polarsignals/lakescan/expr"
)

// decodeCall records one DecodeColumn invocation against the fake decoder so
// tests can assert what the scan actually read.
type decodeCall struct {
	group   int
	column  string
	rows    int64
	ranges  RowRanges
	asCodes bool
}

type fakeGroup struct {
	columns map[string]arrow.Array
	stats   map[string]expr.ColumnStats
	pages   map[string][]PageStats
	dict    map[string]arrow.Array
	codes   map[string][]int32
}

type fakeDecoder struct {
	schema *arrow.Schema
	groups []*fakeGroup
	calls  []decodeCall
	closed bool
}

func (d *fakeDecoder) Schema() *arrow.Schema { return d.schema }

func (d *fakeDecoder) NumGroups() int { return len(d.groups) }

func (d *fakeDecoder) GroupRows(group int) int64 {
	for _, arr := range d.groups[group].columns {
		return int64(arr.Len())
	}
	return 0
}

func (d *fakeDecoder) GroupStats(group int, column string) (expr.ColumnStats, bool) {
	stats, ok := d.groups[group].stats[column]
	return stats, ok
}

func (d *fakeDecoder) PageStats(group int, column string) ([]PageStats, bool) {
	pages, ok := d.groups[group].pages[column]
	return pages, ok
}

func (d *fakeDecoder) Dictionary(ctx context.Context, group int, column string) (arrow.Array, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	dict, ok := d.groups[group].dict[column]
	if !ok {
		return nil, false, nil
	}
	dict.Retain()
	return dict, true, nil
}

func (d *fakeDecoder) DecodeColumn(ctx context.Context, group int, column string, ranges RowRanges, asCodes bool) (arrow.Array, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	d.calls = append(d.calls, decodeCall{
		group:   group,
		column:  column,
		rows:    ranges.Rows(),
		ranges:  append(RowRanges{}, ranges...),
		asCodes: asCodes,
	})

	mem := memory.NewGoAllocator()
	if asCodes {
		codes, ok := d.groups[group].codes[column]
		if !ok {
			return nil, fmt.Errorf("%w: no codes for %q", ErrMalformedMetadata, column)
		}
		b := array.NewInt32Builder(mem)
		defer b.Release()
		for _, rr := range ranges {
			for i := rr.Start; i < rr.End; i++ {
				// Negative codes mark NULL rows.
				if codes[i] < 0 {
					b.AppendNull()
					continue
				}
				b.Append(codes[i])
			}
		}
		return b.NewArray(), nil
	}

	col, ok := d.groups[group].columns[column]
	if !ok {
		return nil, fmt.Errorf("%w: column %q", ErrNotFound, column)
	}
	if len(ranges) == 0 {
		b := array.NewBuilder(mem, col.DataType())
		defer b.Release()
		return b.NewArray(), nil
	}
	slices := make([]arrow.Array, 0, len(ranges))
	defer func() {
		for _, s := range slices {
			s.Release()
		}
	}()
	for _, rr := range ranges {
		slices = append(slices, array.NewSlice(col, rr.Start, rr.End))
	}
	if len(slices) == 1 {
		s := slices[0]
		s.Retain()
		return s, nil
	}
	return array.Concatenate(slices, mem)
}

func (d *fakeDecoder) Close() error {
	d.closed = true
	return nil
}

func (d *fakeDecoder) callsFor(column string) []decodeCall {
	out := []decodeCall{}
	for _, c := range d.calls {
		if c.column == column {
			out = append(out, c)
		}
	}
	return out
}

func (d *fakeDecoder) decodedRows(column string) int64 {
	var n int64
	for _, c := range d.callsFor(column) {
		n += c.rows
	}
	return n
}

func int64Arr(t *testing.T, values []int64, valid []bool) arrow.Array {
	t.Helper()
	b := array.NewInt64Builder(memory.NewGoAllocator())
	defer b.Release()
	b.AppendValues(values, valid)
	return b.NewArray()
}

func stringArr(t *testing.T, values []string, valid []bool) arrow.Array {
	t.Helper()
	b := array.NewStringBuilder(memory.NewGoAllocator())
	defer b.Release()
	b.AppendValues(values, valid)
	return b.NewArray()
}

func int64GroupStats(min, max, nulls, num int64) expr.ColumnStats {
	return expr.ColumnStats{
		Min:       parquet.ValueOf(min),
		Max:       parquet.ValueOf(max),
		HasMinMax: true,
		NullCount: nulls,
		NumValues: num,
	}
}

// twoGroupDecoder builds the fixture most scanner tests share: two groups of
// five rows each with a monotonically increasing id and a low-cardinality
// name.
//
//	group 0: id 0..4,  name a b a b a
//	group 1: id 10..14, name c c c c c
func twoGroupDecoder(t *testing.T) *fakeDecoder {
	t.Helper()
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "id", Type: arrow.PrimitiveTypes.Int64, Nullable: true},
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
	}, nil)
	return &fakeDecoder{
		schema: schema,
		groups: []*fakeGroup{
			{
				columns: map[string]arrow.Array{
					"id":   int64Arr(t, []int64{0, 1, 2, 3, 4}, nil),
					"name": stringArr(t, []string{"a", "b", "a", "b", "a"}, nil),
				},
				stats: map[string]expr.ColumnStats{
					"id": int64GroupStats(0, 4, 0, 5),
				},
			},
			{
				columns: map[string]arrow.Array{
					"id":   int64Arr(t, []int64{10, 11, 12, 13, 14}, nil),
					"name": stringArr(t, []string{"c", "c", "c", "c", "c"}, nil),
				},
				stats: map[string]expr.ColumnStats{
					"id": int64GroupStats(10, 14, 0, 5),
				},
			},
		},
	}
}

// drain runs the scan to completion, returning all produced records. Records
// are released by the caller via releaseAll.
func drain(t *testing.T, s *Scanner) ([]arrow.Record, int64) {
	t.Helper()
	ctx := context.Background()
	records := []arrow.Record{}
	var total int64
	for {
		rec, rows, done, err := s.NextBatch(ctx)
		if err != nil {
			t.Fatalf("next batch: %v", err)
		}
		if done {
			return records, total
		}
		records = append(records, rec)
		total += rows
	}
}

func releaseAll(records []arrow.Record) {
	for _, rec := range records {
		rec.Release()
	}
}

// columnValues flattens an int64 column across records, using -1 for nulls.
func int64Column(t *testing.T, records []arrow.Record, name string) []int64 {
	t.Helper()
	out := []int64{}
	for _, rec := range records {
		indices := rec.Schema().FieldIndices(name)
		if len(indices) != 1 {
			t.Fatalf("column %q not in record", name)
		}
		arr := rec.Column(indices[0]).(*array.Int64)
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				out = append(out, -1)
				continue
			}
			out = append(out, arr.Value(i))
		}
	}
	return out
}

func stringColumn(t *testing.T, records []arrow.Record, name string) []string {
	t.Helper()
	out := []string{}
	for _, rec := range records {
		indices := rec.Schema().FieldIndices(name)
		if len(indices) != 1 {
			t.Fatalf("column %q not in record", name)
		}
		arr := rec.Column(indices[0]).(*array.String)
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				out = append(out, "<null>")
				continue
			}
			out = append(out, arr.Value(i))
		}
	}
	return out
}
