package parquetfmt

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"

	"github.com/polarsignals/lakescan"
	"github.com/polarsignals/lakescan/expr"
)

var (
	_ lakescan.ColumnDecoder  = (*Reader)(nil)
	_ lakescan.BloomChecker   = (*Reader)(nil)
	_ lakescan.FilteredReader = (*Reader)(nil)
)

// Reader decodes one parquet file for a single scanner. Not safe for
// concurrent use.
type Reader struct {
	file   *parquet.File
	closer io.Closer
	mem    memory.Allocator

	schema *arrow.Schema
	fields map[string]fieldInfo
	// unsupported maps skipped column names to their parquet type, for
	// error reporting when such a column is asked for.
	unsupported map[string]string

	// quarantined columns produced contradictory statistics once; their
	// statistics are ignored for the rest of the file.
	quarantined map[string]struct{}

	codes map[codeKey]map[string]int32
}

type codeKey struct {
	group  int
	column string
}

// Option configures a Reader.
type Option func(*Reader)

// WithAllocator sets the arrow allocator decoded arrays are built with.
func WithAllocator(mem memory.Allocator) Option {
	return func(r *Reader) { r.mem = mem }
}

// WithCloser attaches an underlying resource closed together with the
// reader, typically the os.File the parquet file was opened from.
func WithCloser(c io.Closer) Option {
	return func(r *Reader) { r.closer = c }
}

// NewReader wraps an open parquet file. Top-level scalar columns become
// decodable; nested and repeated columns are skipped and reported through
// schema mismatch errors if requested.
func NewReader(file *parquet.File, opts ...Option) (*Reader, error) {
	r := &Reader{
		file:        file,
		mem:         memory.NewGoAllocator(),
		fields:      map[string]fieldInfo{},
		unsupported: map[string]string{},
		quarantined: map[string]struct{}{},
		codes:       map[codeKey]map[string]int32{},
	}
	for _, opt := range opts {
		opt(r)
	}

	arrowFields := []arrow.Field{}
	leaf := 0
	for _, field := range file.Schema().Fields() {
		if !field.Leaf() {
			r.unsupported[field.Name()] = "group"
			leaf += countLeaves(field)
			continue
		}
		if field.Repeated() {
			r.unsupported[field.Name()] = "repeated " + field.Type().String()
			leaf++
			continue
		}
		at := arrowTypeFor(field.Type())
		if at == nil {
			r.unsupported[field.Name()] = field.Type().String()
			leaf++
			continue
		}
		r.fields[field.Name()] = fieldInfo{
			index:     leaf,
			typ:       field.Type(),
			arrowType: at,
			optional:  field.Optional(),
		}
		arrowFields = append(arrowFields, arrow.Field{Name: field.Name(), Type: at, Nullable: field.Optional()})
		leaf++
	}
	if len(arrowFields) == 0 {
		return nil, fmt.Errorf("%w: no decodable columns", lakescan.ErrUnsupported)
	}
	r.schema = arrow.NewSchema(arrowFields, nil)
	return r, nil
}

func (r *Reader) Schema() *arrow.Schema { return r.schema }

func (r *Reader) NumGroups() int { return len(r.file.RowGroups()) }

func (r *Reader) GroupRows(group int) int64 { return r.file.RowGroups()[group].NumRows() }

// SupportsFilteredRead reports that sub-range decodes are cheap here; pages
// are seekable.
func (r *Reader) SupportsFilteredRead() bool { return true }

func (r *Reader) chunk(group int, info fieldInfo) parquet.ColumnChunk {
	return r.file.RowGroups()[group].ColumnChunks()[info.index]
}

func (r *Reader) quarantine(column string) {
	r.quarantined[column] = struct{}{}
}

// GroupStats aggregates the column index over the group's pages. Statistics
// that contradict themselves quarantine the column for the rest of the file;
// pruning then degrades to reading it.
func (r *Reader) GroupStats(group int, column string) (expr.ColumnStats, bool) {
	info, ok := r.fields[column]
	if !ok {
		return expr.ColumnStats{}, false
	}
	if _, bad := r.quarantined[column]; bad {
		return expr.ColumnStats{}, false
	}
	chunk := r.chunk(group, info)
	ci, err := chunk.ColumnIndex()
	if err != nil || ci == nil {
		return expr.ColumnStats{}, false
	}
	if ci.NumPages() == 0 {
		return expr.ColumnStats{}, false
	}
	stats, ok := indexGroupStats(info.typ, ci, chunk.NumValues())
	if !ok {
		r.quarantine(column)
		return expr.ColumnStats{}, false
	}
	return stats, true
}

// indexGroupStats aggregates a column index into group-level statistics.
// Reports false when the index contradicts itself, either a null bound on a
// page holding values or an inverted min/max.
func indexGroupStats(typ parquet.Type, ci parquet.ColumnIndex, numValues int64) (expr.ColumnStats, bool) {
	stats := expr.ColumnStats{NumValues: numValues}
	for i := 0; i < ci.NumPages(); i++ {
		stats.NullCount += ci.NullCount(i)
		if ci.NullPage(i) {
			continue
		}
		mn, mx := ci.MinValue(i), ci.MaxValue(i)
		if mn.IsNull() || mx.IsNull() {
			return expr.ColumnStats{}, false
		}
		if !stats.HasMinMax {
			stats.Min, stats.Max, stats.HasMinMax = mn, mx, true
			continue
		}
		if typ.Compare(mn, stats.Min) < 0 {
			stats.Min = mn
		}
		if typ.Compare(mx, stats.Max) > 0 {
			stats.Max = mx
		}
	}
	if stats.HasMinMax && typ.Compare(stats.Min, stats.Max) > 0 {
		return expr.ColumnStats{}, false
	}
	return stats, true
}

// PageStats pairs the column index with the offset index to bound each page's
// rows within the group.
func (r *Reader) PageStats(group int, column string) ([]lakescan.PageStats, bool) {
	info, ok := r.fields[column]
	if !ok {
		return nil, false
	}
	if _, bad := r.quarantined[column]; bad {
		return nil, false
	}
	chunk := r.chunk(group, info)
	ci, err := chunk.ColumnIndex()
	if err != nil || ci == nil {
		return nil, false
	}
	oi, err := chunk.OffsetIndex()
	if err != nil || oi == nil {
		return nil, false
	}
	if ci.NumPages() == 0 || ci.NumPages() != oi.NumPages() {
		return nil, false
	}
	out, ok := indexPageStats(info.typ, ci, oi, r.GroupRows(group))
	if !ok {
		r.quarantine(column)
		return nil, false
	}
	return out, true
}

// indexPageStats places each page's statistics within the group's rows.
// Reports false when any page's bounds contradict themselves.
func indexPageStats(typ parquet.Type, ci parquet.ColumnIndex, oi parquet.OffsetIndex, groupRows int64) ([]lakescan.PageStats, bool) {
	n := ci.NumPages()
	out := make([]lakescan.PageStats, 0, n)
	for i := 0; i < n; i++ {
		start := oi.FirstRowIndex(i)
		end := groupRows
		if i+1 < n {
			end = oi.FirstRowIndex(i + 1)
		}
		st := expr.ColumnStats{NullCount: ci.NullCount(i), NumValues: end - start}
		if !ci.NullPage(i) {
			mn, mx := ci.MinValue(i), ci.MaxValue(i)
			if mn.IsNull() || mx.IsNull() || typ.Compare(mn, mx) > 0 {
				return nil, false
			}
			st.Min, st.Max, st.HasMinMax = mn, mx, true
		}
		out = append(out, lakescan.PageStats{
			Range: lakescan.RowRange{Start: start, End: end},
			Stats: st,
		})
	}
	return out, true
}

// Dictionary returns the column's dictionary for the group when every page of
// the chunk is dictionary-encoded. A chunk where encoding fell back to plain
// pages mid-way reports no dictionary, since its codes would not cover all
// rows.
func (r *Reader) Dictionary(ctx context.Context, group int, column string) (arrow.Array, bool, error) {
	info, ok := r.fields[column]
	if !ok {
		return nil, false, nil
	}
	chunk := r.chunk(group, info)
	pages := chunk.Pages()
	defer pages.Close()

	var dict parquet.Dictionary
	for {
		if err := ctx.Err(); err != nil {
			return nil, false, err
		}
		p, err := pages.ReadPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, false, fmt.Errorf("%w: reading pages of %q: %v", lakescan.ErrMalformedMetadata, column, err)
		}
		d := p.Dictionary()
		if d == nil {
			return nil, false, nil
		}
		if dict == nil {
			dict = d
			continue
		}
		if d != dict {
			return nil, false, nil
		}
	}
	if dict == nil || dict.Len() == 0 {
		return nil, false, nil
	}

	b := array.NewBuilder(r.mem, info.arrowType)
	defer b.Release()
	codes := make(map[string]int32, dict.Len())
	for i := 0; i < dict.Len(); i++ {
		v := dict.Index(int32(i))
		if err := appendValue(b, v); err != nil {
			return nil, false, err
		}
		codes[v.String()] = int32(i)
	}
	r.codes[codeKey{group: group, column: column}] = codes
	return b.NewArray(), true, nil
}

// DecodeColumn materializes the requested row ranges. With asCodes the values
// come back as int32 dictionary codes; Dictionary must have succeeded for the
// group first.
func (r *Reader) DecodeColumn(ctx context.Context, group int, column string, ranges lakescan.RowRanges, asCodes bool) (arrow.Array, error) {
	info, ok := r.fields[column]
	if !ok {
		if typ, skipped := r.unsupported[column]; skipped {
			return nil, &lakescan.SchemaMismatchError{Column: column, FileType: typ, WantsType: "scalar"}
		}
		return nil, fmt.Errorf("%w: column %q", lakescan.ErrNotFound, column)
	}

	var codes map[string]int32
	var b array.Builder
	if asCodes {
		codes = r.codes[codeKey{group: group, column: column}]
		if codes == nil {
			return nil, fmt.Errorf("%w: no dictionary prepared for %q", lakescan.ErrMalformedMetadata, column)
		}
		b = array.NewInt32Builder(r.mem)
	} else {
		b = array.NewBuilder(r.mem, info.arrowType)
	}
	defer b.Release()

	chunk := r.chunk(group, info)
	pages := chunk.Pages()
	defer pages.Close()
	for _, rr := range ranges {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := pages.SeekToRow(rr.Start); err != nil {
			return nil, fmt.Errorf("seek to row %d of %q: %w", rr.Start, column, err)
		}
		need := rr.Rows()
		for need > 0 {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			p, err := pages.ReadPage()
			if errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("%w: range [%d, %d) exceeds column %q", lakescan.ErrMalformedMetadata, rr.Start, rr.End, column)
			}
			if err != nil {
				return nil, fmt.Errorf("read page of %q: %w", column, err)
			}
			values := make([]parquet.Value, p.NumValues())
			if _, err := p.Values().ReadValues(values); err != nil && !errors.Is(err, io.EOF) {
				return nil, fmt.Errorf("read values of %q: %w", column, err)
			}
			take := int64(len(values))
			if take > need {
				take = need
			}
			for _, v := range values[:take] {
				if asCodes {
					if v.IsNull() {
						b.AppendNull()
						continue
					}
					code, ok := codes[v.String()]
					if !ok {
						return nil, fmt.Errorf("%w: value outside dictionary of %q", lakescan.ErrMalformedMetadata, column)
					}
					b.(*array.Int32Builder).Append(code)
					continue
				}
				if err := appendValue(b, v); err != nil {
					return nil, err
				}
			}
			need -= take
		}
	}
	return b.NewArray(), nil
}

// BloomMayContain consults the chunk's bloom filter. Absent filters and read
// errors report "maybe present"; only a clean negative is trusted.
func (r *Reader) BloomMayContain(ctx context.Context, group int, column string, v parquet.Value) (bool, error) {
	if err := ctx.Err(); err != nil {
		return true, err
	}
	info, ok := r.fields[column]
	if !ok {
		return true, nil
	}
	bf := r.chunk(group, info).BloomFilter()
	if bf == nil {
		return true, nil
	}
	mayContain, err := bf.Check(v)
	if err != nil {
		return true, nil
	}
	return mayContain, nil
}

func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}
