package lakescan

import (
	"context"

	"github.com/polarsignals/lakescan/expr"
)

// rangePruner narrows the rows to decode using group statistics and, where
// the format maintains one, the page index. It only ever produces guaranteed
// exclusions: absent, partial or suspect statistics keep rows in.
type rangePruner struct {
	plan    *ReadPlan
	dec     ColumnDecoder
	enabled bool
	// pageIndex gates sub-group pruning separately from group pruning.
	pageIndex bool
}

// skipGroup reports whether group statistics prove that no row of the group
// can satisfy the conjuncts. Bloom filters, when the decoder has them, refute
// equality predicates that min/max ranges cannot.
func (p *rangePruner) skipGroup(ctx context.Context, group int) (bool, error) {
	if !p.enabled || len(p.plan.Conjuncts) == 0 {
		return false, nil
	}
	for _, col := range p.plan.PredicateColumns {
		conjuncts := p.plan.ConjunctsByColumn[col]
		stats, ok := p.dec.GroupStats(group, col)
		if ok {
			for _, conjunct := range conjuncts {
				if !expr.StatsMaybeTrue(conjunct, stats) {
					return true, nil
				}
			}
		}
		skip, err := p.bloomRefutes(ctx, group, col, conjuncts)
		if err != nil {
			return false, err
		}
		if skip {
			return true, nil
		}
	}
	return false, nil
}

func (p *rangePruner) bloomRefutes(ctx context.Context, group int, col string, conjuncts []expr.Expr) (bool, error) {
	bloom, ok := p.dec.(BloomChecker)
	if !ok {
		return false, nil
	}
	for _, conjunct := range conjuncts {
		be, ok := conjunct.(*expr.BinaryExpr)
		if !ok || be.Op != expr.OpEq {
			continue
		}
		_, right, ok := be.ColumnScalar()
		if !ok || right.IsNull() {
			continue
		}
		mayContain, err := bloom.BloomMayContain(ctx, group, col, right)
		if err != nil {
			// Bloom filter troubles are metadata troubles; fall back to
			// reading the group.
			return false, nil
		}
		if !mayContain {
			return true, nil
		}
	}
	return false, nil
}

// candidateRanges prunes the group's rows page by page and returns the kept
// ranges plus the number of rows excluded. Without a page index, or with
// nothing to filter by, the whole group is one candidate range.
func (p *rangePruner) candidateRanges(group int) (RowRanges, int64) {
	groupRows := p.dec.GroupRows(group)
	whole := RowRanges{{Start: 0, End: groupRows}}
	if !p.enabled || !p.pageIndex || len(p.plan.Conjuncts) == 0 {
		return whole, 0
	}

	skipped := RowRanges{}
	for _, col := range p.plan.PredicateColumns {
		pages, ok := p.dec.PageStats(group, col)
		if !ok {
			continue
		}
		conjuncts := p.plan.ConjunctsByColumn[col]
		colSkipped := RowRanges{}
		corrupt := false
		for _, page := range pages {
			if page.Range.Start < 0 || page.Range.End > groupRows || page.Range.End <= page.Range.Start {
				// Corrupt index entry: ignore this column's index entirely
				// rather than risk excluding live rows.
				corrupt = true
				break
			}
			for _, conjunct := range conjuncts {
				if !expr.StatsMaybeTrue(conjunct, page.Stats) {
					colSkipped = append(colSkipped, page.Range)
					break
				}
			}
		}
		if !corrupt {
			skipped = append(skipped, colSkipped...)
		}
	}
	if len(skipped) == 0 {
		return whole, 0
	}
	candidate := invertSkipped(skipped, groupRows)
	return candidate, groupRows - candidate.Rows()
}
