package parquetfmt

import (
	"bytes"
	"context"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"github.com/polarsignals/lakescan"
	"github.com/polarsignals/lakescan/expr"
)

type testRow struct {
	ID   int64   `parquet:"id"`
	Name string  `parquet:"name,dict"`
	Val  float64 `parquet:"val"`
	Opt  *int64  `parquet:"opt,optional"`
}

func ptr(v int64) *int64 { return &v }

func writeFile(t *testing.T, groups [][]testRow, opts ...parquet.WriterOption) *Reader {
	t.Helper()
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[testRow](&buf, opts...)
	for _, rows := range groups {
		_, err := w.Write(rows)
		require.NoError(t, err)
		require.NoError(t, w.Flush())
	}
	require.NoError(t, w.Close())

	f, err := parquet.OpenFile(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	r, err := NewReader(f)
	require.NoError(t, err)
	return r
}

func twoGroups(t *testing.T, opts ...parquet.WriterOption) *Reader {
	return writeFile(t, [][]testRow{
		{
			{ID: 0, Name: "a", Val: 0.5, Opt: ptr(100)},
			{ID: 1, Name: "b", Val: 1.5},
			{ID: 2, Name: "a", Val: 2.5, Opt: ptr(102)},
			{ID: 3, Name: "b", Val: 3.5},
			{ID: 4, Name: "a", Val: 4.5, Opt: ptr(104)},
		},
		{
			{ID: 10, Name: "c", Val: 10.5, Opt: ptr(110)},
			{ID: 11, Name: "c", Val: 11.5},
			{ID: 12, Name: "c", Val: 12.5, Opt: ptr(112)},
			{ID: 13, Name: "c", Val: 13.5},
			{ID: 14, Name: "c", Val: 14.5, Opt: ptr(114)},
		},
	}, opts...)
}

func TestReaderSchema(t *testing.T) {
	r := twoGroups(t)
	defer r.Close()

	schema := r.Schema()
	require.Equal(t, 4, schema.NumFields())

	byName := map[string]arrow.Field{}
	for _, f := range schema.Fields() {
		byName[f.Name] = f
	}
	require.Equal(t, arrow.PrimitiveTypes.Int64, byName["id"].Type)
	require.Equal(t, arrow.BinaryTypes.String, byName["name"].Type)
	require.Equal(t, arrow.PrimitiveTypes.Float64, byName["val"].Type)
	require.Equal(t, arrow.PrimitiveTypes.Int64, byName["opt"].Type)
	require.True(t, byName["opt"].Nullable)
	require.False(t, byName["id"].Nullable)

	require.Equal(t, 2, r.NumGroups())
	require.Equal(t, int64(5), r.GroupRows(0))
	require.Equal(t, int64(5), r.GroupRows(1))
	require.True(t, r.SupportsFilteredRead())
}

func TestGroupStats(t *testing.T) {
	r := twoGroups(t)
	defer r.Close()

	stats, ok := r.GroupStats(0, "id")
	require.True(t, ok)
	require.True(t, stats.HasMinMax)
	require.Equal(t, int64(0), stats.Min.Int64())
	require.Equal(t, int64(4), stats.Max.Int64())
	require.Zero(t, stats.NullCount)

	stats, ok = r.GroupStats(1, "id")
	require.True(t, ok)
	require.Equal(t, int64(10), stats.Min.Int64())
	require.Equal(t, int64(14), stats.Max.Int64())

	stats, ok = r.GroupStats(0, "opt")
	require.True(t, ok)
	require.Equal(t, int64(2), stats.NullCount)

	_, ok = r.GroupStats(0, "nope")
	require.False(t, ok)
}

func TestPageStats(t *testing.T) {
	r := twoGroups(t)
	defer r.Close()

	pages, ok := r.PageStats(0, "id")
	require.True(t, ok)
	require.NotEmpty(t, pages)

	// Page ranges tile the group without gaps.
	ranges := lakescan.RowRanges{}
	for _, p := range pages {
		ranges = append(ranges, p.Range)
	}
	require.NoError(t, ranges.Validate())
	require.Equal(t, int64(0), ranges[0].Start)
	require.Equal(t, r.GroupRows(0), ranges[len(ranges)-1].End)
	require.Equal(t, r.GroupRows(0), ranges.Rows())

	for _, p := range pages {
		require.True(t, p.Stats.HasMinMax)
	}
}

func TestDecodeColumnRanges(t *testing.T) {
	r := twoGroups(t)
	defer r.Close()
	ctx := context.Background()

	arr, err := r.DecodeColumn(ctx, 0, "id", lakescan.RowRanges{{Start: 1, End: 3}, {Start: 4, End: 5}}, false)
	require.NoError(t, err)
	defer arr.Release()
	ids := arr.(*array.Int64)
	require.Equal(t, 3, ids.Len())
	require.Equal(t, []int64{1, 2, 4}, ids.Int64Values())

	arr, err = r.DecodeColumn(ctx, 1, "val", lakescan.RowRanges{{Start: 0, End: 2}}, false)
	require.NoError(t, err)
	defer arr.Release()
	vals := arr.(*array.Float64)
	require.Equal(t, []float64{10.5, 11.5}, vals.Float64Values())

	arr, err = r.DecodeColumn(ctx, 0, "opt", lakescan.RowRanges{{Start: 0, End: 5}}, false)
	require.NoError(t, err)
	defer arr.Release()
	opt := arr.(*array.Int64)
	require.True(t, opt.IsNull(1))
	require.True(t, opt.IsNull(3))
	require.Equal(t, int64(100), opt.Value(0))
	require.Equal(t, int64(104), opt.Value(4))
}

func TestDecodeColumnErrors(t *testing.T) {
	r := twoGroups(t)
	defer r.Close()
	ctx := context.Background()

	_, err := r.DecodeColumn(ctx, 0, "nope", lakescan.RowRanges{{Start: 0, End: 1}}, false)
	require.ErrorIs(t, err, lakescan.ErrNotFound)

	_, err = r.DecodeColumn(ctx, 0, "id", lakescan.RowRanges{{Start: 0, End: 100}}, false)
	require.ErrorIs(t, err, lakescan.ErrMalformedMetadata)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.DecodeColumn(cancelled, 0, "id", lakescan.RowRanges{{Start: 0, End: 1}}, false)
	require.ErrorIs(t, err, context.Canceled)
}

func TestDictionary(t *testing.T) {
	r := twoGroups(t)
	defer r.Close()
	ctx := context.Background()

	dict, ok, err := r.Dictionary(ctx, 0, "name")
	require.NoError(t, err)
	require.True(t, ok)
	defer dict.Release()

	values := dict.(*array.String)
	seen := map[string]struct{}{}
	for i := 0; i < values.Len(); i++ {
		seen[values.Value(i)] = struct{}{}
	}
	require.Equal(t, map[string]struct{}{"a": {}, "b": {}}, seen)

	// Codes round-trip to the same strings the natural decode produces.
	codes, err := r.DecodeColumn(ctx, 0, "name", lakescan.RowRanges{{Start: 0, End: 5}}, true)
	require.NoError(t, err)
	defer codes.Release()
	natural, err := r.DecodeColumn(ctx, 0, "name", lakescan.RowRanges{{Start: 0, End: 5}}, false)
	require.NoError(t, err)
	defer natural.Release()

	codeArr := codes.(*array.Int32)
	naturalArr := natural.(*array.String)
	for i := 0; i < codeArr.Len(); i++ {
		require.Equal(t, naturalArr.Value(i), values.Value(int(codeArr.Value(i))))
	}

	// Not dictionary-encoded: plain int64 column.
	_, ok, err = r.Dictionary(ctx, 0, "id")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestBloomFilter(t *testing.T) {
	r := twoGroups(t, parquet.BloomFilters(parquet.SplitBlockFilter(10, "name")))
	defer r.Close()
	ctx := context.Background()

	may, err := r.BloomMayContain(ctx, 0, "name", parquet.ValueOf("a"))
	require.NoError(t, err)
	require.True(t, may)

	may, err = r.BloomMayContain(ctx, 0, "name", parquet.ValueOf("definitely-absent"))
	require.NoError(t, err)
	require.False(t, may)

	// Columns without a filter always report "maybe".
	may, err = r.BloomMayContain(ctx, 0, "id", parquet.ValueOf(int64(999)))
	require.NoError(t, err)
	require.True(t, may)
}

func TestNestedColumnsSkipped(t *testing.T) {
	type inner struct {
		A int64 `parquet:"a"`
	}
	type nested struct {
		ID   int64 `parquet:"id"`
		Meta inner `parquet:"meta"`
		Tail int64 `parquet:"tail"`
	}
	var buf bytes.Buffer
	w := parquet.NewGenericWriter[nested](&buf)
	_, err := w.Write([]nested{{ID: 1, Meta: inner{A: 2}, Tail: 3}})
	require.NoError(t, err)
	require.NoError(t, w.Close())

	f, err := parquet.OpenFile(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	r, err := NewReader(f)
	require.NoError(t, err)
	defer r.Close()

	require.Equal(t, 2, r.Schema().NumFields())
	require.Equal(t, "id", r.Schema().Field(0).Name)
	require.Equal(t, "tail", r.Schema().Field(1).Name)

	_, err = r.DecodeColumn(context.Background(), 0, "meta", lakescan.RowRanges{{Start: 0, End: 1}}, false)
	require.True(t, lakescan.IsSchemaMismatch(err))

	// Leaf indexes must account for the skipped group's columns.
	arr, err := r.DecodeColumn(context.Background(), 0, "tail", lakescan.RowRanges{{Start: 0, End: 1}}, false)
	require.NoError(t, err)
	defer arr.Release()
	require.Equal(t, int64(3), arr.(*array.Int64).Value(0))
}

func TestScanEndToEnd(t *testing.T) {
	r := twoGroups(t)
	s, err := lakescan.NewScanner(r, lakescan.PlanOptions{
		Columns:             []string{"id", "name", "val"},
		Conjuncts:           []expr.Expr{expr.Col("id").GtEq(expr.Literal(int64(12)))},
		LazyMaterialization: true,
	})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	gotIDs := []int64{}
	gotVals := []float64{}
	for {
		rec, rows, done, err := s.NextBatch(ctx)
		require.NoError(t, err)
		if done {
			break
		}
		require.Equal(t, rows, rec.NumRows())
		ids := rec.Column(0).(*array.Int64)
		vals := rec.Column(2).(*array.Float64)
		for i := 0; i < int(rows); i++ {
			gotIDs = append(gotIDs, ids.Value(i))
			gotVals = append(gotVals, vals.Value(i))
		}
		rec.Release()
	}
	require.Equal(t, []int64{12, 13, 14}, gotIDs)
	require.Equal(t, []float64{12.5, 13.5, 14.5}, gotVals)

	stats := s.Stats()
	// Group 0 is pruned by its id statistics.
	require.Equal(t, int64(1), stats.GroupsPruned)
	require.Equal(t, int64(1), stats.GroupsRead)
}

func TestScanEndToEndDictionaryFilter(t *testing.T) {
	r := twoGroups(t)
	s, err := lakescan.NewScanner(r, lakescan.PlanOptions{
		Columns:             []string{"id", "name"},
		Conjuncts:           []expr.Expr{expr.Col("name").Eq(expr.Literal("b"))},
		LazyMaterialization: true,
	})
	require.NoError(t, err)
	defer s.Close()

	ctx := context.Background()
	gotIDs := []int64{}
	gotNames := []string{}
	for {
		rec, rows, done, err := s.NextBatch(ctx)
		require.NoError(t, err)
		if done {
			break
		}
		ids := rec.Column(0).(*array.Int64)
		names := rec.Column(1).(*array.String)
		for i := 0; i < int(rows); i++ {
			gotIDs = append(gotIDs, ids.Value(i))
			gotNames = append(gotNames, names.Value(i))
		}
		rec.Release()
	}
	require.Equal(t, []int64{1, 3}, gotIDs)
	require.Equal(t, []string{"b", "b"}, gotNames)

	// "b" is absent from group 1's dictionary, so the group was dropped
	// without decoding.
	require.Equal(t, int64(1), s.Stats().GroupsPruned)
	require.GreaterOrEqual(t, s.Stats().DictRewrites, int64(1))
}

// indexPage and the fake index types below synthesize column indexes the
// writer would never produce, exercising the corrupt-statistics degradation.
type indexPage struct {
	nullCount int64
	nullPage  bool
	min, max  parquet.Value
}

type fakeColumnIndex struct{ pages []indexPage }

func (f fakeColumnIndex) NumPages() int                { return len(f.pages) }
func (f fakeColumnIndex) NullCount(i int) int64        { return f.pages[i].nullCount }
func (f fakeColumnIndex) NullPage(i int) bool          { return f.pages[i].nullPage }
func (f fakeColumnIndex) MinValue(i int) parquet.Value { return f.pages[i].min }
func (f fakeColumnIndex) MaxValue(i int) parquet.Value { return f.pages[i].max }
func (f fakeColumnIndex) IsAscending() bool            { return false }
func (f fakeColumnIndex) IsDescending() bool           { return false }

type fakeOffsetIndex struct{ firstRows []int64 }

func (f fakeOffsetIndex) NumPages() int                { return len(f.firstRows) }
func (f fakeOffsetIndex) Offset(int) int64             { return 0 }
func (f fakeOffsetIndex) CompressedPageSize(int) int64 { return 0 }
func (f fakeOffsetIndex) FirstRowIndex(i int) int64    { return f.firstRows[i] }

func TestIndexGroupStatsRejectsContradictions(t *testing.T) {
	typ := parquet.Int64Type

	stats, ok := indexGroupStats(typ, fakeColumnIndex{pages: []indexPage{
		{min: parquet.ValueOf(int64(0)), max: parquet.ValueOf(int64(4))},
		{nullCount: 1, min: parquet.ValueOf(int64(5)), max: parquet.ValueOf(int64(9))},
		{nullCount: 3, nullPage: true},
	}}, 13)
	require.True(t, ok)
	require.True(t, stats.HasMinMax)
	require.Equal(t, int64(0), stats.Min.Int64())
	require.Equal(t, int64(9), stats.Max.Int64())
	require.Equal(t, int64(4), stats.NullCount)

	// Inverted bounds.
	_, ok = indexGroupStats(typ, fakeColumnIndex{pages: []indexPage{
		{min: parquet.ValueOf(int64(9)), max: parquet.ValueOf(int64(0))},
	}}, 10)
	require.False(t, ok)

	// Null bound on a page that holds values.
	_, ok = indexGroupStats(typ, fakeColumnIndex{pages: []indexPage{
		{min: parquet.Value{}, max: parquet.ValueOf(int64(4))},
	}}, 10)
	require.False(t, ok)
}

func TestIndexPageStatsRejectsContradictions(t *testing.T) {
	typ := parquet.Int64Type
	offsets := fakeOffsetIndex{firstRows: []int64{0, 5}}

	pages, ok := indexPageStats(typ, fakeColumnIndex{pages: []indexPage{
		{min: parquet.ValueOf(int64(0)), max: parquet.ValueOf(int64(4))},
		{min: parquet.ValueOf(int64(5)), max: parquet.ValueOf(int64(9))},
	}}, offsets, 10)
	require.True(t, ok)
	require.Len(t, pages, 2)
	require.Equal(t, lakescan.RowRange{Start: 0, End: 5}, pages[0].Range)
	require.Equal(t, lakescan.RowRange{Start: 5, End: 10}, pages[1].Range)

	// Inverted bounds on the second page poison the whole index.
	_, ok = indexPageStats(typ, fakeColumnIndex{pages: []indexPage{
		{min: parquet.ValueOf(int64(0)), max: parquet.ValueOf(int64(4))},
		{min: parquet.ValueOf(int64(9)), max: parquet.ValueOf(int64(5))},
	}}, offsets, 10)
	require.False(t, ok)

	// Null bound on a page that holds values.
	_, ok = indexPageStats(typ, fakeColumnIndex{pages: []indexPage{
		{min: parquet.ValueOf(int64(0)), max: parquet.ValueOf(int64(4))},
		{min: parquet.Value{}, max: parquet.Value{}},
	}}, offsets, 10)
	require.False(t, ok)
}

func TestQuarantineSticksForFile(t *testing.T) {
	r := twoGroups(t)
	defer r.Close()

	_, ok := r.GroupStats(0, "id")
	require.True(t, ok)
	_, ok = r.PageStats(0, "id")
	require.True(t, ok)

	r.quarantine("id")

	// The column reports no statistics for any group from here on.
	_, ok = r.GroupStats(0, "id")
	require.False(t, ok)
	_, ok = r.GroupStats(1, "id")
	require.False(t, ok)
	_, ok = r.PageStats(0, "id")
	require.False(t, ok)

	// Other columns are unaffected, and the column itself still decodes.
	_, ok = r.GroupStats(0, "val")
	require.True(t, ok)
	arr, err := r.DecodeColumn(context.Background(), 0, "id", lakescan.RowRanges{{Start: 0, End: 5}}, false)
	require.NoError(t, err)
	defer arr.Release()
	require.Equal(t, 5, arr.Len())
}
