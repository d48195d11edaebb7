package expr

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/RoaringBitmap/roaring"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/parquet-go/parquet-go"
)

type Bitmap = roaring.Bitmap

func NewBitmap() *Bitmap { return roaring.New() }

// EvalConjuncts evaluates every conjunct against the record and returns the
// set of row ordinals for which all conjuncts hold. An empty bitmap means the
// whole batch is filtered out.
func EvalConjuncts(conjuncts []Expr, r arrow.Record) (*Bitmap, error) {
	res := NewBitmap()
	res.AddRange(0, uint64(r.NumRows()))
	for _, conjunct := range conjuncts {
		sel, err := evalExpr(conjunct, r)
		if err != nil {
			return nil, err
		}
		res.And(sel)
		if res.IsEmpty() {
			break
		}
	}
	return res, nil
}

func evalExpr(e Expr, r arrow.Record) (*Bitmap, error) {
	switch e := e.(type) {
	case *BinaryExpr:
		col, right, ok := e.ColumnScalar()
		if !ok {
			return nil, fmt.Errorf("eval: unsupported conjunct %q", e.Name())
		}
		arr, err := columnArray(r, col.ColumnName)
		if err != nil {
			return nil, err
		}
		return binaryScalarEval(arr, e.Op, right)
	case *InExpr:
		arr, err := columnArray(r, e.Column.ColumnName)
		if err != nil {
			return nil, err
		}
		return membershipEval(arr, e.Values)
	default:
		return nil, fmt.Errorf("eval: unsupported expression type %T", e)
	}
}

func columnArray(r arrow.Record, name string) (arrow.Array, error) {
	indices := r.Schema().FieldIndices(name)
	if len(indices) != 1 {
		return nil, fmt.Errorf("eval: predicate column %q not present in batch", name)
	}
	return r.Column(indices[0]), nil
}

func binaryScalarEval(left arrow.Array, op Op, right parquet.Value) (*Bitmap, error) {
	if right.IsNull() {
		// NULL comparisons select nothing; NULL handling belongs to the
		// caller's expression engine, the scan layer only sees pushed-down
		// comparisons.
		return NewBitmap(), nil
	}
	switch arr := left.(type) {
	case *array.Int32:
		return int32Eval(arr, op, right.Int32()), nil
	case *array.Int64:
		return int64Eval(arr, op, right.Int64()), nil
	case *array.Float32:
		return float32Eval(arr, op, right.Float()), nil
	case *array.Float64:
		return float64Eval(arr, op, right.Double()), nil
	case *array.String:
		return stringEval(arr, op, right.String()), nil
	case *array.Binary:
		return binaryEval(arr, op, right.ByteArray()), nil
	case *array.Boolean:
		return booleanEval(arr, op, right.Boolean())
	case *array.Null:
		// A null-filled column behaves like an all-null column.
		res := NewBitmap()
		if op == OpNotEq {
			res.AddRange(0, uint64(arr.Len()))
		}
		return res, nil
	default:
		return nil, fmt.Errorf("eval: unsupported column type %s", left.DataType())
	}
}

func int32Eval(arr *array.Int32, op Op, right int32) *Bitmap {
	res := NewBitmap()
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			if op == OpNotEq {
				res.Add(uint32(i))
			}
			continue
		}
		if cmpMatches(op, compareOrdered(arr.Value(i), right)) {
			res.Add(uint32(i))
		}
	}
	return res
}

func int64Eval(arr *array.Int64, op Op, right int64) *Bitmap {
	res := NewBitmap()
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			if op == OpNotEq {
				res.Add(uint32(i))
			}
			continue
		}
		if cmpMatches(op, compareOrdered(arr.Value(i), right)) {
			res.Add(uint32(i))
		}
	}
	return res
}

func float32Eval(arr *array.Float32, op Op, right float32) *Bitmap {
	res := NewBitmap()
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			if op == OpNotEq {
				res.Add(uint32(i))
			}
			continue
		}
		if cmpMatches(op, compareOrdered(arr.Value(i), right)) {
			res.Add(uint32(i))
		}
	}
	return res
}

func float64Eval(arr *array.Float64, op Op, right float64) *Bitmap {
	res := NewBitmap()
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			if op == OpNotEq {
				res.Add(uint32(i))
			}
			continue
		}
		if cmpMatches(op, compareOrdered(arr.Value(i), right)) {
			res.Add(uint32(i))
		}
	}
	return res
}

func stringEval(arr *array.String, op Op, right string) *Bitmap {
	res := NewBitmap()
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			if op == OpNotEq {
				res.Add(uint32(i))
			}
			continue
		}
		if cmpMatches(op, strings.Compare(arr.Value(i), right)) {
			res.Add(uint32(i))
		}
	}
	return res
}

func binaryEval(arr *array.Binary, op Op, right []byte) *Bitmap {
	res := NewBitmap()
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			if op == OpNotEq {
				res.Add(uint32(i))
			}
			continue
		}
		if cmpMatches(op, bytes.Compare(arr.Value(i), right)) {
			res.Add(uint32(i))
		}
	}
	return res
}

func booleanEval(arr *array.Boolean, op Op, right bool) (*Bitmap, error) {
	if op != OpEq && op != OpNotEq {
		return nil, fmt.Errorf("eval: operator %s not defined for booleans", op)
	}
	res := NewBitmap()
	for i := 0; i < arr.Len(); i++ {
		if arr.IsNull(i) {
			if op == OpNotEq {
				res.Add(uint32(i))
			}
			continue
		}
		if (arr.Value(i) == right) == (op == OpEq) {
			res.Add(uint32(i))
		}
	}
	return res, nil
}

func membershipEval(left arrow.Array, values []parquet.Value) (*Bitmap, error) {
	res := NewBitmap()
	switch arr := left.(type) {
	case *array.Int32:
		set := make(map[int32]struct{}, len(values))
		for _, v := range values {
			set[v.Int32()] = struct{}{}
		}
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			if _, ok := set[arr.Value(i)]; ok {
				res.Add(uint32(i))
			}
		}
	case *array.Int64:
		set := make(map[int64]struct{}, len(values))
		for _, v := range values {
			set[v.Int64()] = struct{}{}
		}
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			if _, ok := set[arr.Value(i)]; ok {
				res.Add(uint32(i))
			}
		}
	case *array.String:
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[v.String()] = struct{}{}
		}
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			if _, ok := set[arr.Value(i)]; ok {
				res.Add(uint32(i))
			}
		}
	case *array.Binary:
		set := make(map[string]struct{}, len(values))
		for _, v := range values {
			set[string(v.ByteArray())] = struct{}{}
		}
		for i := 0; i < arr.Len(); i++ {
			if arr.IsNull(i) {
				continue
			}
			if _, ok := set[string(arr.Value(i))]; ok {
				res.Add(uint32(i))
			}
		}
	case *array.Null:
		// Membership never holds for nulls.
	default:
		return nil, fmt.Errorf("eval: membership test unsupported for column type %s", left.DataType())
	}
	return res, nil
}

func cmpMatches(op Op, cmp int) bool {
	switch op {
	case OpEq:
		return cmp == 0
	case OpNotEq:
		return cmp != 0
	case OpLt:
		return cmp < 0
	case OpLtEq:
		return cmp <= 0
	case OpGt:
		return cmp > 0
	case OpGtEq:
		return cmp >= 0
	default:
		return false
	}
}

func compareOrdered[T int32 | int64 | float32 | float64](a, b T) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}
