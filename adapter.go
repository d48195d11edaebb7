// Package lakescan implements the format-agnostic read protocol of a columnar
// scan: lazy column materialization, statistics and page-index pruning,
// dictionary-code predicate rewriting, and position-delete filtering. The
// format-specific work of decoding bytes into arrays sits behind the
// ColumnDecoder interface, with one adapter per physical layout (parquetfmt,
// arrowfmt).
package lakescan

import (
	"context"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/parquet-go/parquet-go"

	"github.com/polarsignals/lakescan/expr"
)

// PageStats is the finer-than-group statistics entry of one page or index
// block: the rows it covers and their value range.
type PageStats struct {
	Range RowRange
	Stats expr.ColumnStats
}

// ColumnDecoder is the capability surface a physical file format exposes to
// the scan core. One decoder instance reads one file and is owned by a single
// scanner; none of its methods are called concurrently.
//
// Groups are the format's horizontal partitions (parquet row groups, arrow IPC
// record batches). Statistics, page indexes and dictionaries are all optional:
// a decoder that cannot provide them returns false and the scan degrades to
// reading and filtering everything.
type ColumnDecoder interface {
	// Schema describes every column the file can materialize.
	Schema() *arrow.Schema

	NumGroups() int
	GroupRows(group int) int64

	// GroupStats returns the value-range metadata of a column within a group,
	// when the format recorded usable statistics for it.
	GroupStats(group int, column string) (expr.ColumnStats, bool)

	// PageStats returns per-page statistics for sub-group pruning, when the
	// format maintains a page index for the column.
	PageStats(group int, column string) ([]PageStats, bool)

	// Dictionary returns the ordered distinct values of a column within a
	// group when the column is dictionary-encoded there. The returned array
	// is valid until the next group advance.
	Dictionary(ctx context.Context, group int, column string) (arrow.Array, bool, error)

	// DecodeColumn materializes the rows of ranges for one column. When
	// asCodes is true the column must be dictionary-encoded in this group and
	// the result is the int32 code column instead of the natural values.
	DecodeColumn(ctx context.Context, group int, column string, ranges RowRanges, asCodes bool) (arrow.Array, error)

	Close() error
}

// BloomChecker is an optional decoder capability: formats that maintain bloom
// filters per column chunk can refute equality predicates at the group level.
// A false result is a guarantee of absence; true means "maybe present".
type BloomChecker interface {
	BloomMayContain(ctx context.Context, group int, column string, v parquet.Value) (bool, error)
}

// FilteredReader is an optional decoder capability probe. A decoder that
// cannot serve DecodeColumn for arbitrary sub-ranges reports false here and
// the scan downgrades to eager reads of whole groups.
type FilteredReader interface {
	SupportsFilteredRead() bool
}
