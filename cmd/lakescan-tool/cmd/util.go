package cmd

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/polarsignals/lakescan/expr"
)

func openParquetFile(file string) (*parquet.File, io.Closer, error) {
	f, err := os.Open(file)
	if err != nil {
		return nil, nil, err
	}
	stats, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	pf, err := parquet.OpenFile(f, stats.Size())
	if err != nil {
		f.Close()
		return nil, nil, err
	}

	return pf, f, nil
}

// operators in match order; two-character forms first so ">=" is not read as
// ">" against "=...".
var operators = []struct {
	token string
	build func(c *expr.Column, lit *expr.LiteralExpr) expr.Expr
}{
	{">=", func(c *expr.Column, lit *expr.LiteralExpr) expr.Expr { return c.GtEq(lit) }},
	{"<=", func(c *expr.Column, lit *expr.LiteralExpr) expr.Expr { return c.LtEq(lit) }},
	{"!=", func(c *expr.Column, lit *expr.LiteralExpr) expr.Expr { return c.NotEq(lit) }},
	{">", func(c *expr.Column, lit *expr.LiteralExpr) expr.Expr { return c.Gt(lit) }},
	{"<", func(c *expr.Column, lit *expr.LiteralExpr) expr.Expr { return c.Lt(lit) }},
	{"=", func(c *expr.Column, lit *expr.LiteralExpr) expr.Expr { return c.Eq(lit) }},
}

// parseFilters turns comma separated <column><op><value> matchers into
// conjuncts. Values parse as int64, then float64, then string.
func parseFilters(filterArg string) ([]expr.Expr, error) {
	if filterArg == "" {
		return nil, nil
	}
	conjuncts := []expr.Expr{}
	for _, matcher := range strings.Split(filterArg, ",") {
		parsed := false
		for _, op := range operators {
			name, value, found := strings.Cut(matcher, op.token)
			if !found {
				continue
			}
			conjuncts = append(conjuncts, op.build(expr.Col(name), expr.Literal(parseLiteral(value))))
			parsed = true
			break
		}
		if !parsed {
			return nil, fmt.Errorf("invalid filter %q; expected <column><op><value>", matcher)
		}
	}
	return conjuncts, nil
}

func parseLiteral(s string) interface{} {
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}
