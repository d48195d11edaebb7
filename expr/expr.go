// Package expr holds the predicate expression model used for scan-time
// filtering. Expressions are deliberately restricted to the shapes a columnar
// reader can push down: comparisons and membership tests of a directly
// referenced column against literal values. A scan's filter is a list of
// conjuncts, all of which must hold for a row to survive.
package expr

import (
	"fmt"
	"strings"

	"github.com/parquet-go/parquet-go"
)

type Op uint32

const (
	OpUnknown Op = iota
	OpEq
	OpNotEq
	OpLt
	OpLtEq
	OpGt
	OpGtEq
)

func (o Op) String() string {
	switch o {
	case OpEq:
		return "=="
	case OpNotEq:
		return "!="
	case OpLt:
		return "<"
	case OpLtEq:
		return "<="
	case OpGt:
		return ">"
	case OpGtEq:
		return ">="
	default:
		panic("unknown operator")
	}
}

type Visitor interface {
	PreVisit(Expr) bool
	Visit(Expr) bool
	PostVisit(Expr) bool
}

// PreExprVisitorFunc adapts a function to a pre-order Visitor.
type PreExprVisitorFunc func(expr Expr) bool

func (f PreExprVisitorFunc) PreVisit(expr Expr) bool { return f(expr) }

func (f PreExprVisitorFunc) Visit(_ Expr) bool { return false }

func (f PreExprVisitorFunc) PostVisit(_ Expr) bool { return false }

type Expr interface {
	Name() string
	Accept(Visitor) bool
	ColumnsUsed() []string
	MatchColumn(columnName string) bool
	Clone() Expr
}

type Column struct {
	ColumnName string
}

func Col(name string) *Column { return &Column{ColumnName: name} }

func (c *Column) Name() string { return c.ColumnName }

func (c *Column) Clone() Expr { return &Column{ColumnName: c.ColumnName} }

func (c *Column) Accept(visitor Visitor) bool {
	if !visitor.PreVisit(c) {
		return false
	}
	return visitor.PostVisit(c)
}

func (c *Column) ColumnsUsed() []string { return []string{c.ColumnName} }

func (c *Column) MatchColumn(columnName string) bool { return c.ColumnName == columnName }

func (c *Column) Eq(e Expr) *BinaryExpr {
	return &BinaryExpr{Left: c, Op: OpEq, Right: e}
}

func (c *Column) NotEq(e Expr) *BinaryExpr {
	return &BinaryExpr{Left: c, Op: OpNotEq, Right: e}
}

func (c *Column) Lt(e Expr) *BinaryExpr {
	return &BinaryExpr{Left: c, Op: OpLt, Right: e}
}

func (c *Column) LtEq(e Expr) *BinaryExpr {
	return &BinaryExpr{Left: c, Op: OpLtEq, Right: e}
}

func (c *Column) Gt(e Expr) *BinaryExpr {
	return &BinaryExpr{Left: c, Op: OpGt, Right: e}
}

func (c *Column) GtEq(e Expr) *BinaryExpr {
	return &BinaryExpr{Left: c, Op: OpGtEq, Right: e}
}

// In builds a membership test of the column against the given values.
func (c *Column) In(values ...interface{}) *InExpr {
	vs := make([]parquet.Value, 0, len(values))
	for _, v := range values {
		vs = append(vs, parquet.ValueOf(v))
	}
	return &InExpr{Column: c, Values: vs}
}

type LiteralExpr struct {
	Value parquet.Value
}

// Literal wraps a Go value into a literal expression. Passing nil produces the
// NULL literal.
func Literal(v interface{}) *LiteralExpr {
	return &LiteralExpr{Value: parquet.ValueOf(v)}
}

func (e *LiteralExpr) Name() string { return e.Value.String() }

func (e *LiteralExpr) Clone() Expr { return &LiteralExpr{Value: e.Value} }

func (e *LiteralExpr) Accept(visitor Visitor) bool {
	if !visitor.PreVisit(e) {
		return false
	}
	return visitor.PostVisit(e)
}

func (e *LiteralExpr) ColumnsUsed() []string { return nil }

func (e *LiteralExpr) MatchColumn(string) bool { return false }

type BinaryExpr struct {
	Left  Expr
	Op    Op
	Right Expr
}

func (e *BinaryExpr) Name() string {
	return e.Left.Name() + " " + e.Op.String() + " " + e.Right.Name()
}

func (e *BinaryExpr) Clone() Expr {
	return &BinaryExpr{Left: e.Left.Clone(), Op: e.Op, Right: e.Right.Clone()}
}

func (e *BinaryExpr) Accept(visitor Visitor) bool {
	if !visitor.PreVisit(e) {
		return false
	}
	if !e.Left.Accept(visitor) {
		return false
	}
	if !visitor.Visit(e) {
		return false
	}
	if !e.Right.Accept(visitor) {
		return false
	}
	return visitor.PostVisit(e)
}

func (e *BinaryExpr) ColumnsUsed() []string {
	return append(e.Left.ColumnsUsed(), e.Right.ColumnsUsed()...)
}

func (e *BinaryExpr) MatchColumn(columnName string) bool {
	return e.Left.MatchColumn(columnName) || e.Right.MatchColumn(columnName)
}

// ColumnScalar reduces the expression to its column reference and scalar
// operand. The second return is false when the expression is not a plain
// column-vs-literal comparison.
func (e *BinaryExpr) ColumnScalar() (*Column, parquet.Value, bool) {
	col, ok := e.Left.(*Column)
	if !ok {
		return nil, parquet.Value{}, false
	}
	lit, ok := e.Right.(*LiteralExpr)
	if !ok {
		return nil, parquet.Value{}, false
	}
	return col, lit.Value, true
}

type InExpr struct {
	Column *Column
	Values []parquet.Value
}

func (e *InExpr) Name() string {
	names := make([]string, 0, len(e.Values))
	for _, v := range e.Values {
		names = append(names, v.String())
	}
	return e.Column.Name() + " in (" + strings.Join(names, ", ") + ")"
}

func (e *InExpr) Clone() Expr {
	values := make([]parquet.Value, len(e.Values))
	copy(values, e.Values)
	return &InExpr{Column: e.Column.Clone().(*Column), Values: values}
}

func (e *InExpr) Accept(visitor Visitor) bool {
	if !visitor.PreVisit(e) {
		return false
	}
	if !e.Column.Accept(visitor) {
		return false
	}
	return visitor.PostVisit(e)
}

func (e *InExpr) ColumnsUsed() []string { return []string{e.Column.ColumnName} }

func (e *InExpr) MatchColumn(columnName string) bool {
	return e.Column.MatchColumn(columnName)
}

// DictionaryEligible reports whether the conjunct is a pure equality or
// membership test of a directly referenced column, the only shapes that can be
// rewritten against dictionary codes. NULL-aware comparisons and derived
// expressions never qualify because the dictionary holds no NULL encoding.
func DictionaryEligible(e Expr) (string, bool) {
	switch e := e.(type) {
	case *BinaryExpr:
		if e.Op != OpEq {
			return "", false
		}
		col, v, ok := e.ColumnScalar()
		if !ok || v.IsNull() {
			return "", false
		}
		return col.ColumnName, true
	case *InExpr:
		for _, v := range e.Values {
			if v.IsNull() {
				return "", false
			}
		}
		return e.Column.ColumnName, true
	default:
		return "", false
	}
}

// DictionaryCodePredicate builds the integer predicate equivalent to an
// already evaluated dictionary filter: a single surviving code becomes an
// equality, multiple codes a membership test over the raw code column.
func DictionaryCodePredicate(column string, codes []int32) Expr {
	if len(codes) == 1 {
		return Col(column).Eq(Literal(codes[0]))
	}
	values := make([]parquet.Value, 0, len(codes))
	for _, code := range codes {
		values = append(values, parquet.ValueOf(code))
	}
	return &InExpr{Column: Col(column), Values: values}
}

// Validate checks that every conjunct is a shape the scan layer knows how to
// evaluate.
func Validate(conjuncts []Expr) error {
	for _, e := range conjuncts {
		switch e := e.(type) {
		case *BinaryExpr:
			if _, _, ok := e.ColumnScalar(); !ok {
				return fmt.Errorf("unsupported conjunct %q: left side must be a column, right side a literal", e.Name())
			}
		case *InExpr:
		default:
			return fmt.Errorf("unsupported conjunct type %T", e)
		}
	}
	return nil
}
