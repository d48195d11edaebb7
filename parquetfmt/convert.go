// Package parquetfmt adapts parquet files to the lakescan column decoder
// protocol. It exposes row groups as scan groups and serves statistics from
// the column index, dictionaries from dictionary pages, and bloom filters
// where the writer stored them.
package parquetfmt

import (
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/parquet-go/parquet-go"
)

// fieldInfo resolves a column name to its leaf column index and types.
type fieldInfo struct {
	index     int
	typ       parquet.Type
	arrowType arrow.DataType
	optional  bool
}

// arrowTypeFor maps a leaf parquet type to the arrow type it decodes into.
// Returns nil for physical types the decoder does not materialize.
func arrowTypeFor(typ parquet.Type) arrow.DataType {
	switch typ.Kind() {
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
		if lt := typ.LogicalType(); lt != nil && lt.UTF8 != nil {
			return arrow.BinaryTypes.String
		}
		return arrow.BinaryTypes.Binary
	default:
		// Int96 and friends.
		return nil
	}
}

// countLeaves counts the leaf columns under a node, the unit ColumnChunks is
// indexed by.
func countLeaves(field parquet.Field) int {
	if field.Leaf() {
		return 1
	}
	n := 0
	for _, child := range field.Fields() {
		n += countLeaves(child)
	}
	return n
}

// appendValue writes one parquet value into the matching arrow builder.
func appendValue(b array.Builder, v parquet.Value) error {
	if v.IsNull() {
		b.AppendNull()
		return nil
	}
	switch b := b.(type) {
	case *array.BooleanBuilder:
		b.Append(v.Boolean())
	case *array.Int32Builder:
		b.Append(v.Int32())
	case *array.Int64Builder:
		b.Append(v.Int64())
	case *array.Float32Builder:
		b.Append(v.Float())
	case *array.Float64Builder:
		b.Append(v.Double())
	case *array.StringBuilder:
		b.Append(v.String())
	case *array.BinaryBuilder:
		b.Append(v.ByteArray())
	default:
		return fmt.Errorf("no conversion from %s to %s", v.Kind(), b.Type())
	}
	return nil
}
