package expr

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
)

// ColumnStats carries the value-range metadata of one column within one row
// group or page. Min and Max are carried as parquet values so the same
// comparison kernels serve every file format; formats without native parquet
// metadata convert into this representation.
type ColumnStats struct {
	Min parquet.Value
	Max parquet.Value
	// HasMinMax is false when the writer recorded no usable value range, in
	// which case Min and Max must be ignored.
	HasMinMax bool
	NullCount int64
	NumValues int64
}

// AllNull reports whether every value in the covered range is NULL.
func (s ColumnStats) AllNull() bool {
	return s.NumValues > 0 && s.NullCount == s.NumValues
}

// StatsMaybeTrue reports whether the conjunct may be satisfied by at least one
// value in a range described by stats. A true result means the range must be
// read; a false result is a guarantee that no row in it can match. Absent or
// partial statistics always return true: wrong metadata must never cause rows
// to be dropped.
func StatsMaybeTrue(e Expr, stats ColumnStats) bool {
	switch e := e.(type) {
	case *BinaryExpr:
		_, right, ok := e.ColumnScalar()
		if !ok {
			return true
		}
		return binaryStatsMaybeTrue(e.Op, right, stats)
	case *InExpr:
		for _, v := range e.Values {
			if binaryStatsMaybeTrue(OpEq, v, stats) {
				return true
			}
		}
		return false
	default:
		return true
	}
}

func binaryStatsMaybeTrue(op Op, right parquet.Value, stats ColumnStats) bool {
	if right.IsNull() {
		switch op {
		case OpEq:
			return stats.NullCount > 0
		default:
			// NULL is incomparable; leave it to batch evaluation.
			return true
		}
	}
	if stats.AllNull() {
		// A non-null operand cannot match a range that holds only NULLs,
		// except through the inequality operator.
		return op == OpNotEq
	}
	if !stats.HasMinMax || stats.Min.IsNull() || stats.Max.IsNull() {
		return true
	}
	min, max := stats.Min, stats.Max
	switch op {
	case OpEq:
		return compareValues(right, max) <= 0 && compareValues(right, min) >= 0
	case OpNotEq:
		// Only a constant range excludes inequality, and then only when the
		// range holds no NULLs.
		if compareValues(min, max) == 0 && compareValues(right, min) == 0 {
			return stats.NullCount > 0
		}
		return true
	case OpLt:
		return compareValues(min, right) < 0
	case OpLtEq:
		return compareValues(min, right) <= 0
	case OpGt:
		return compareValues(max, right) > 0
	case OpGtEq:
		return compareValues(max, right) >= 0
	default:
		return true
	}
}

// compareValues compares two parquet values of the same kind. 0 if equal, -1
// if v1 < v2, 1 if v1 > v2.
func compareValues(v1, v2 parquet.Value) int {
	switch v1.Kind() {
	case parquet.Int32:
		return parquet.Int32Type.Compare(v1, v2)
	case parquet.Int64:
		return parquet.Int64Type.Compare(v1, v2)
	case parquet.Float:
		return parquet.FloatType.Compare(v1, v2)
	case parquet.Double:
		return parquet.DoubleType.Compare(v1, v2)
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return parquet.ByteArrayType.Compare(v1, v2)
	case parquet.Boolean:
		return parquet.BooleanType.Compare(v1, v2)
	default:
		panic(fmt.Sprintf("unsupported value comparison: %v", v1.Kind()))
	}
}
