package lakescan

import (
	"fmt"
	"sort"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/parquet-go/parquet-go"

	"github.com/polarsignals/lakescan/expr"
)

// ReadPlan partitions the requested table columns by how they are produced:
// predicate columns are decoded eagerly and drive filtering, lazy columns are
// decoded only for surviving rows, partition columns are synthesized from
// externally supplied constants, and missing columns are absent from the file
// and filled from defaults. The four partitions are pairwise disjoint and
// cover the requested set.
//
// A plan is immutable for the scan's lifetime except for CanLazyRead, which
// is downgraded once if the file turns out not to support filtered reads.
type ReadPlan struct {
	Columns []string

	PredicateColumns []string
	LazyColumns      []string
	// PartitionValues and MissingDefaults hold the constant used to fill each
	// synthesized column; a null value fills with NULLs.
	PartitionValues map[string]parquet.Value
	MissingDefaults map[string]parquet.Value

	// PredicatePartitionColumns and PredicateMissingColumns are the
	// synthesized columns referenced by conjuncts; they must be filled before
	// filter evaluation, not after.
	PredicatePartitionColumns []string
	PredicateMissingColumns   []string

	Conjuncts []expr.Expr
	// ConjunctsByColumn associates each predicate column with the conjuncts
	// referencing it, the association the dictionary filter rewrites through.
	ConjunctsByColumn map[string][]expr.Expr

	CanLazyRead bool
}

// PlanOptions carries the caller-supplied inputs to plan building.
type PlanOptions struct {
	// Columns are the table columns to materialize, in output order.
	Columns []string
	// Conjuncts is the pushed-down filter; all conjuncts must hold.
	Conjuncts []expr.Expr
	// PartitionValues are columns supplied from outside the file, e.g.
	// derived from the file path.
	PartitionValues map[string]parquet.Value
	// MissingDefaults provides default literals for columns absent from the
	// file. Columns absent from both the file and this map are null-filled.
	MissingDefaults map[string]parquet.Value
	// LazyMaterialization gates the two-phase read; when false every file
	// column is decoded eagerly.
	LazyMaterialization bool
}

// BuildReadPlan classifies the requested columns against the file schema.
// Every requested column lands in exactly one partition. Columns referenced
// by a conjunct must exist in the file, be partition-supplied, or have a
// default; otherwise the conjunct cannot be evaluated and planning fails.
func BuildReadPlan(schema *arrow.Schema, opts PlanOptions) (*ReadPlan, error) {
	if err := expr.Validate(opts.Conjuncts); err != nil {
		return nil, err
	}

	inFile := make(map[string]struct{}, schema.NumFields())
	for _, f := range schema.Fields() {
		inFile[f.Name] = struct{}{}
	}

	predicated := map[string][]expr.Expr{}
	for _, conjunct := range opts.Conjuncts {
		for _, col := range conjunct.ColumnsUsed() {
			predicated[col] = append(predicated[col], conjunct)
		}
	}

	plan := &ReadPlan{
		Columns:           opts.Columns,
		PartitionValues:   map[string]parquet.Value{},
		MissingDefaults:   map[string]parquet.Value{},
		Conjuncts:         opts.Conjuncts,
		ConjunctsByColumn: map[string][]expr.Expr{},
	}

	seen := map[string]struct{}{}
	for _, col := range opts.Columns {
		if _, dup := seen[col]; dup {
			return nil, fmt.Errorf("column %q requested twice", col)
		}
		seen[col] = struct{}{}

		if v, ok := opts.PartitionValues[col]; ok {
			plan.PartitionValues[col] = v
			continue
		}
		if _, ok := inFile[col]; !ok {
			v, hasDefault := opts.MissingDefaults[col]
			if !hasDefault {
				v = parquet.NullValue()
			}
			plan.MissingDefaults[col] = v
			continue
		}
		if _, ok := predicated[col]; ok {
			plan.PredicateColumns = append(plan.PredicateColumns, col)
			plan.ConjunctsByColumn[col] = predicated[col]
			continue
		}
		plan.LazyColumns = append(plan.LazyColumns, col)
	}

	// A conjunct may reference a column outside the output set. Such columns
	// are still decoded (or filled) for filter evaluation, they are just not
	// emitted.
	predicatedCols := make([]string, 0, len(predicated))
	for col := range predicated {
		predicatedCols = append(predicatedCols, col)
	}
	sort.Strings(predicatedCols)
	for _, col := range predicatedCols {
		conjuncts := predicated[col]
		if _, part := opts.PartitionValues[col]; part {
			if _, requested := plan.PartitionValues[col]; !requested {
				plan.PartitionValues[col] = opts.PartitionValues[col]
			}
			plan.PredicatePartitionColumns = append(plan.PredicatePartitionColumns, col)
			continue
		}
		if _, ok := inFile[col]; ok {
			if _, requested := plan.ConjunctsByColumn[col]; !requested {
				plan.PredicateColumns = append(plan.PredicateColumns, col)
				plan.ConjunctsByColumn[col] = conjuncts
			}
			continue
		}
		if v, hasDefault := opts.MissingDefaults[col]; hasDefault {
			if _, requested := plan.MissingDefaults[col]; !requested {
				plan.MissingDefaults[col] = v
			}
			plan.PredicateMissingColumns = append(plan.PredicateMissingColumns, col)
			continue
		}
		if _, requested := plan.MissingDefaults[col]; requested {
			// Requested but absent from the file with no default; the
			// conjunct evaluates against the null fill.
			plan.PredicateMissingColumns = append(plan.PredicateMissingColumns, col)
			continue
		}
		return nil, fmt.Errorf("predicate references unknown column %q", col)
	}

	// Lazy reading pays off only when there is something to filter by and
	// something left to defer; with zero conjuncts there is no benefit.
	plan.CanLazyRead = opts.LazyMaterialization &&
		len(opts.Conjuncts) > 0 &&
		len(plan.PredicateColumns) > 0 &&
		len(plan.LazyColumns) > 0

	return plan, nil
}

// DisableLazyRead collapses the plan onto the eager path. Called once when
// the underlying file cannot support filtered reads.
func (p *ReadPlan) DisableLazyRead() {
	p.CanLazyRead = false
}

// eagerColumns returns the file columns decoded before filtering: the
// predicate columns when lazy reading is on, every file column otherwise.
func (p *ReadPlan) eagerColumns() []string {
	if p.CanLazyRead {
		return p.PredicateColumns
	}
	out := make([]string, 0, len(p.PredicateColumns)+len(p.LazyColumns))
	out = append(out, p.PredicateColumns...)
	out = append(out, p.LazyColumns...)
	return out
}

// deferredColumns returns the file columns decoded only for surviving rows.
func (p *ReadPlan) deferredColumns() []string {
	if p.CanLazyRead {
		return p.LazyColumns
	}
	return nil
}
