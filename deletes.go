package lakescan

import (
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// positionDeletes walks a globally sorted list of row ordinals to exclude,
// slicing out the portion relevant to each row group as the scan advances.
// Groups are visited in order, so each advance resumes the binary search from
// the previous cursor instead of rescanning the list.
type positionDeletes struct {
	rows   []int64
	cursor int
}

func newPositionDeletes(rows []int64) *positionDeletes {
	if len(rows) == 0 {
		return nil
	}
	return &positionDeletes{rows: rows}
}

// deleteContext bounds the delete ids falling into one row group's row range
// [groupStart, groupEnd).
type deleteContext struct {
	rows       []int64
	groupStart int64
	start, end int
}

func (d *positionDeletes) contextFor(groupStart, groupEnd int64) deleteContext {
	rest := d.rows[d.cursor:]
	lo := sort.Search(len(rest), func(i int) bool { return rest[i] >= groupStart })
	hi := lo + sort.Search(len(rest[lo:]), func(i int) bool { return rest[lo+i] >= groupEnd })
	ctx := deleteContext{
		rows:       d.rows,
		groupStart: groupStart,
		start:      d.cursor + lo,
		end:        d.cursor + hi,
	}
	d.cursor += hi
	return ctx
}

func (c deleteContext) empty() bool { return c.start == c.end }

// clearDeleted drops from sel every batch ordinal whose group row is marked
// deleted. batchRanges maps ordinals to group rows; delete ids are global, so
// group rows shift by the group's starting ordinal.
func (c deleteContext) clearDeleted(sel *roaring.Bitmap, batchRanges RowRanges) {
	if c.empty() {
		return
	}
	deleted := c.rows[c.start:c.end]
	ordinal := int64(0)
	for _, r := range batchRanges {
		globalStart := c.groupStart + r.Start
		globalEnd := c.groupStart + r.End
		lo := sort.Search(len(deleted), func(i int) bool { return deleted[i] >= globalStart })
		for i := lo; i < len(deleted) && deleted[i] < globalEnd; i++ {
			sel.Remove(uint32(ordinal + (deleted[i] - globalStart)))
		}
		ordinal += r.Rows()
	}
}
