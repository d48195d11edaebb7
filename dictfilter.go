package lakescan

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/polarsignals/lakescan/expr"
)

type dictFilterState uint8

const (
	dictCandidate dictFilterState = iota
	dictRewritten
	dictDisqualified
)

// dictColumn tracks one predicate column through the dictionary filter state
// machine. Transitions are one-way: a disqualified column never re-qualifies
// for the remainder of the scan.
type dictColumn struct {
	name      string
	state     dictFilterState
	conjuncts []expr.Expr

	// Per-group results, refreshed on every group advance while the column
	// remains qualified.
	rewritten expr.Expr
	dict      arrow.Array
}

// dictionaryFilter rewrites equality and membership predicates on
// low-cardinality string columns into predicates over integer dictionary
// codes, deferring string materialization until after filtering. String
// comparisons against every row become integer comparisons; the full string
// column is only decoded for rows that survive.
type dictionaryFilter struct {
	mem      memory.Allocator
	columns  []*dictColumn
	maxCodes int
}

func newDictionaryFilter(mem memory.Allocator, plan *ReadPlan, schema *arrow.Schema, maxCodes int) *dictionaryFilter {
	f := &dictionaryFilter{mem: mem, maxCodes: maxCodes}
	for _, col := range plan.PredicateColumns {
		if !stringLike(schema, col) {
			continue
		}
		conjuncts := plan.ConjunctsByColumn[col]
		eligible := len(conjuncts) > 0
		for _, conjunct := range conjuncts {
			if _, ok := expr.DictionaryEligible(conjunct); !ok {
				eligible = false
				break
			}
		}
		if !eligible {
			continue
		}
		f.columns = append(f.columns, &dictColumn{name: col, conjuncts: conjuncts})
	}
	return f
}

func stringLike(schema *arrow.Schema, col string) bool {
	indices := schema.FieldIndices(col)
	if len(indices) != 1 {
		return false
	}
	switch schema.Field(indices[0]).Type.ID() {
	case arrow.STRING, arrow.BINARY:
		return true
	default:
		return false
	}
}

// prepareGroup refreshes the rewrite for every still-qualified column against
// the group's dictionaries. It returns true when some column's predicates
// match no dictionary entry at all, proving the whole group filtered without
// decoding a single data page.
func (f *dictionaryFilter) prepareGroup(ctx context.Context, dec ColumnDecoder, group int) (groupFiltered bool, err error) {
	for _, col := range f.columns {
		if col.state == dictDisqualified {
			continue
		}
		col.release()

		dict, ok, err := dec.Dictionary(ctx, group, col.name)
		if err != nil && isCancellation(err) {
			return false, err
		}
		if !ok || err != nil {
			// No usable dictionary in this group, or a corrupt one: the
			// column is lowered to plain string predicates for good.
			f.disqualify(col)
			continue
		}

		codes, err := f.survivingCodes(col, dict)
		if err != nil {
			dict.Release()
			return false, err
		}
		if len(codes) == 0 {
			// The filter provably excludes every dictionary entry, hence
			// every row of the group.
			dict.Release()
			return true, nil
		}
		if len(codes) > f.maxCodes {
			// An unbounded membership predicate would cost more than it
			// saves.
			dict.Release()
			f.disqualify(col)
			continue
		}

		col.state = dictRewritten
		col.rewritten = expr.DictionaryCodePredicate(col.name, codes)
		col.dict = dict
	}
	return false, nil
}

// survivingCodes evaluates the column's predicates against the dictionary
// entries themselves and returns the codes whose values pass.
func (f *dictionaryFilter) survivingCodes(col *dictColumn, dict arrow.Array) ([]int32, error) {
	schema := arrow.NewSchema([]arrow.Field{{Name: col.name, Type: dict.DataType(), Nullable: true}}, nil)
	rec := array.NewRecord(schema, []arrow.Array{dict}, int64(dict.Len()))
	defer rec.Release()

	sel, err := expr.EvalConjuncts(col.conjuncts, rec)
	if err != nil {
		return nil, err
	}
	codes := make([]int32, 0, sel.GetCardinality())
	it := sel.Iterator()
	for it.HasNext() {
		codes = append(codes, int32(it.Next()))
	}
	return codes, nil
}

func (f *dictionaryFilter) disqualify(col *dictColumn) {
	col.release()
	col.state = dictDisqualified
	col.rewritten = nil
}

// rewrittenFor returns the code predicate replacing the column's original
// conjuncts in this group, or false when the column reads as plain strings.
func (f *dictionaryFilter) rewrittenFor(column string) (expr.Expr, bool) {
	for _, col := range f.columns {
		if col.name == column && col.state == dictRewritten {
			return col.rewritten, true
		}
	}
	return nil, false
}

// decodeAsCodes reports whether the column should be decoded as dictionary
// codes in the current group.
func (f *dictionaryFilter) decodeAsCodes(column string) bool {
	_, ok := f.rewrittenFor(column)
	return ok
}

// restoreColumn converts a filtered code column back to its natural string
// representation through the group's dictionary, since callers expect natural
// types.
func (f *dictionaryFilter) restoreColumn(column string, codes arrow.Array) (arrow.Array, error) {
	var col *dictColumn
	for _, c := range f.columns {
		if c.name == column && c.state == dictRewritten {
			col = c
			break
		}
	}
	if col == nil || col.dict == nil {
		return nil, ErrMalformedMetadata
	}
	codeArr, ok := codes.(*array.Int32)
	if !ok {
		return nil, ErrMalformedMetadata
	}

	switch dict := col.dict.(type) {
	case *array.String:
		b := array.NewStringBuilder(f.mem)
		defer b.Release()
		for i := 0; i < codeArr.Len(); i++ {
			if codeArr.IsNull(i) {
				b.AppendNull()
				continue
			}
			code := int(codeArr.Value(i))
			if code < 0 || code >= dict.Len() {
				return nil, fmt.Errorf("%w: dictionary code %d out of range for %q", ErrMalformedMetadata, code, column)
			}
			b.Append(dict.Value(code))
		}
		return b.NewArray(), nil
	case *array.Binary:
		b := array.NewBinaryBuilder(f.mem, arrow.BinaryTypes.Binary)
		defer b.Release()
		for i := 0; i < codeArr.Len(); i++ {
			if codeArr.IsNull(i) {
				b.AppendNull()
				continue
			}
			code := int(codeArr.Value(i))
			if code < 0 || code >= dict.Len() {
				return nil, fmt.Errorf("%w: dictionary code %d out of range for %q", ErrMalformedMetadata, code, column)
			}
			b.Append(dict.Value(code))
		}
		return b.NewArray(), nil
	default:
		return nil, ErrMalformedMetadata
	}
}

func (c *dictColumn) release() {
	if c.dict != nil {
		c.dict.Release()
		c.dict = nil
	}
}

func (f *dictionaryFilter) releaseGroup() {
	for _, col := range f.columns {
		col.release()
	}
}

// rewriteCount reports how many columns are currently rewritten, used for
// scan statistics.
func (f *dictionaryFilter) rewriteCount() int {
	n := 0
	for _, col := range f.columns {
		if col.state == dictRewritten {
			n++
		}
	}
	return n
}

func (f *dictionaryFilter) disqualifiedCount() int {
	n := 0
	for _, col := range f.columns {
		if col.state == dictDisqualified {
			n++
		}
	}
	return n
}
