package lakescan

import (
	"testing"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/require"
)

func TestConstantArrayIdempotent(t *testing.T) {
	mem := memory.NewGoAllocator()

	// Filling the same default twice yields identical arrays, so batches of
	// a missing column never drift from each other.
	for _, v := range []parquet.Value{
		parquet.ValueOf(int64(42)),
		parquet.ValueOf("west"),
		parquet.ValueOf(3.5),
		parquet.ValueOf(true),
		parquet.ValueOf(nil),
	} {
		a, err := constantArray(mem, v, 4)
		require.NoError(t, err)
		defer a.Release()
		b, err := constantArray(mem, v, 4)
		require.NoError(t, err)
		defer b.Release()

		require.Equal(t, 4, a.Len())
		require.True(t, array.Equal(a, b), "value %v", v)
	}
}
