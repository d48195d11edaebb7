package lakescan

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"

	"github.com/polarsignals/lakescan/expr"
)

func TestScanFiles(t *testing.T) {
	decs := []*fakeDecoder{twoGroupDecoder(t), twoGroupDecoder(t), twoGroupDecoder(t)}
	files := make([]FileScan, 0, len(decs))
	for i, dec := range decs {
		files = append(files, FileScan{
			Decoder: dec,
			Plan: PlanOptions{
				Columns:         []string{"id", "file"},
				PartitionValues: map[string]parquet.Value{"file": parquet.ValueOf(int64(i))},
			},
		})
	}

	var mu sync.Mutex
	rowsByFile := map[int]int64{}
	stats, err := ScanFiles(context.Background(), files, 2, func(file int, rec arrow.Record, rows int64) error {
		if rows != rec.NumRows() {
			return errors.New("batch row count mismatch")
		}
		mu.Lock()
		defer mu.Unlock()
		rowsByFile[file] += rows
		return nil
	})
	require.NoError(t, err)

	require.Len(t, stats, 3)
	for i, dec := range decs {
		require.Equal(t, int64(10), rowsByFile[i])
		require.Equal(t, int64(10), stats[i].RowsProduced)
		require.True(t, dec.closed)
	}
}

func TestScanFilesPropagatesError(t *testing.T) {
	boom := errors.New("boom")
	files := []FileScan{
		{Decoder: twoGroupDecoder(t), Plan: PlanOptions{Columns: []string{"id"}}},
		{Decoder: twoGroupDecoder(t), Plan: PlanOptions{Columns: []string{"id"}}},
	}
	_, err := ScanFiles(context.Background(), files, 1, func(int, arrow.Record, int64) error {
		return boom
	})
	require.ErrorIs(t, err, boom)
}

func TestScanFilesPlanErrorStopsEarly(t *testing.T) {
	files := []FileScan{{
		Decoder: twoGroupDecoder(t),
		Plan: PlanOptions{
			Columns:   []string{"id"},
			Conjuncts: []expr.Expr{expr.Col("missing").Eq(expr.Literal(int64(1)))},
		},
	}}
	emitted := false
	_, err := ScanFiles(context.Background(), files, 0, func(int, arrow.Record, int64) error {
		emitted = true
		return nil
	})
	require.Error(t, err)
	require.False(t, emitted)
}

func TestScanFilesRecoversPanic(t *testing.T) {
	files := []FileScan{{
		Decoder: &panickyDecoder{twoGroupDecoder(t)},
		Plan:    PlanOptions{Columns: []string{"id"}},
	}}
	_, err := ScanFiles(context.Background(), files, 1, func(int, arrow.Record, int64) error {
		return nil
	})
	require.ErrorContains(t, err, "decoder bug")
}

type panickyDecoder struct {
	*fakeDecoder
}

func (p *panickyDecoder) DecodeColumn(context.Context, int, string, RowRanges, bool) (arrow.Array, error) {
	panic("decoder bug")
}
