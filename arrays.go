package lakescan

import (
	"fmt"

	"github.com/RoaringBitmap/roaring"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/parquet-go/parquet-go"
)

// arrowTypeOf maps a constant's physical kind to the arrow type its
// synthesized column carries.
func arrowTypeOf(v parquet.Value) arrow.DataType {
	switch v.Kind() {
	case parquet.Boolean:
		return arrow.FixedWidthTypes.Boolean
	case parquet.Int32:
		return arrow.PrimitiveTypes.Int32
	case parquet.Int64:
		return arrow.PrimitiveTypes.Int64
	case parquet.Float:
		return arrow.PrimitiveTypes.Float32
	case parquet.Double:
		return arrow.PrimitiveTypes.Float64
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return arrow.BinaryTypes.String
	default:
		return arrow.Null
	}
}

// constantArray fills n rows with the same value, the shape partition and
// missing columns take. Filling is idempotent: the result depends only on the
// constant and the row count.
func constantArray(mem memory.Allocator, v parquet.Value, n int64) (arrow.Array, error) {
	if v.IsNull() {
		return array.NewNull(int(n)), nil
	}
	switch v.Kind() {
	case parquet.Boolean:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for i := int64(0); i < n; i++ {
			b.Append(v.Boolean())
		}
		return b.NewArray(), nil
	case parquet.Int32:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		for i := int64(0); i < n; i++ {
			b.Append(v.Int32())
		}
		return b.NewArray(), nil
	case parquet.Int64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for i := int64(0); i < n; i++ {
			b.Append(v.Int64())
		}
		return b.NewArray(), nil
	case parquet.Float:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		for i := int64(0); i < n; i++ {
			b.Append(v.Float())
		}
		return b.NewArray(), nil
	case parquet.Double:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for i := int64(0); i < n; i++ {
			b.Append(v.Double())
		}
		return b.NewArray(), nil
	case parquet.ByteArray, parquet.FixedLenByteArray:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		s := v.String()
		for i := int64(0); i < n; i++ {
			b.Append(s)
		}
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("%w: constant of kind %d", ErrUnsupported, v.Kind())
	}
}

// filterArray compacts an array down to the selected ordinals, preserving
// order.
func filterArray(mem memory.Allocator, arr arrow.Array, sel *roaring.Bitmap) (arrow.Array, error) {
	switch arr := arr.(type) {
	case *array.Int32:
		b := array.NewInt32Builder(mem)
		defer b.Release()
		it := sel.Iterator()
		for it.HasNext() {
			i := int(it.Next())
			if arr.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(arr.Value(i))
		}
		return b.NewArray(), nil
	case *array.Int64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		it := sel.Iterator()
		for it.HasNext() {
			i := int(it.Next())
			if arr.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(arr.Value(i))
		}
		return b.NewArray(), nil
	case *array.Float32:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		it := sel.Iterator()
		for it.HasNext() {
			i := int(it.Next())
			if arr.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(arr.Value(i))
		}
		return b.NewArray(), nil
	case *array.Float64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		it := sel.Iterator()
		for it.HasNext() {
			i := int(it.Next())
			if arr.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(arr.Value(i))
		}
		return b.NewArray(), nil
	case *array.String:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		it := sel.Iterator()
		for it.HasNext() {
			i := int(it.Next())
			if arr.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(arr.Value(i))
		}
		return b.NewArray(), nil
	case *array.Binary:
		b := array.NewBinaryBuilder(mem, arrow.BinaryTypes.Binary)
		defer b.Release()
		it := sel.Iterator()
		for it.HasNext() {
			i := int(it.Next())
			if arr.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(arr.Value(i))
		}
		return b.NewArray(), nil
	case *array.Boolean:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		it := sel.Iterator()
		for it.HasNext() {
			i := int(it.Next())
			if arr.IsNull(i) {
				b.AppendNull()
				continue
			}
			b.Append(arr.Value(i))
		}
		return b.NewArray(), nil
	case *array.Null:
		return array.NewNull(int(sel.GetCardinality())), nil
	default:
		return nil, fmt.Errorf("%w: filtering column type %s", ErrUnsupported, arr.DataType())
	}
}
