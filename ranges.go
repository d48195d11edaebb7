package lakescan

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring"
)

// RowRange is a half-open interval [Start, End) of row ordinals within one row
// group.
type RowRange struct {
	Start int64
	End   int64
}

func (r RowRange) Rows() int64 { return r.End - r.Start }

// RowRanges is a sorted, non-overlapping sequence of row ranges. It represents
// the rows of a group that survived statistics pruning and still need to be
// decoded.
type RowRanges []RowRange

// Validate checks the ordering invariant: ranges ascend by start, never
// overlap, and never regress.
func (rs RowRanges) Validate() error {
	prevEnd := int64(0)
	for i, r := range rs {
		if r.Start < prevEnd || r.End <= r.Start {
			return fmt.Errorf("row ranges out of order at index %d: [%d, %d) after end %d", i, r.Start, r.End, prevEnd)
		}
		prevEnd = r.End
	}
	return nil
}

func (rs RowRanges) Rows() int64 {
	var n int64
	for _, r := range rs {
		n += r.Rows()
	}
	return n
}

// Slice returns the sub-ranges covering up to limit rows starting at the
// given row offset into the sequence (not into the group), mirroring how a
// batched decode walks candidate ranges.
func (rs RowRanges) Slice(offset, limit int64) RowRanges {
	out := RowRanges{}
	skip := offset
	remaining := limit
	for _, r := range rs {
		if remaining <= 0 {
			break
		}
		rows := r.Rows()
		if skip >= rows {
			skip -= rows
			continue
		}
		start := r.Start + skip
		skip = 0
		end := r.End
		if end-start > remaining {
			end = start + remaining
		}
		out = append(out, RowRange{Start: start, End: end})
		remaining -= end - start
	}
	return out
}

// PositionAt maps an ordinal within the sequence to the group row it refers
// to. The ordinal must be within bounds.
func (rs RowRanges) PositionAt(ordinal int64) int64 {
	for _, r := range rs {
		if ordinal < r.Rows() {
			return r.Start + ordinal
		}
		ordinal -= r.Rows()
	}
	panic("ordinal out of range")
}

// invertSkipped merges the skipped ranges and inverts them against the group
// extent, producing the candidate (kept) ranges. Overlapping and adjacent
// skipped ranges coalesce.
func invertSkipped(skipped RowRanges, groupRows int64) RowRanges {
	if len(skipped) == 0 {
		return RowRanges{{Start: 0, End: groupRows}}
	}
	sort.Slice(skipped, func(i, j int) bool {
		if skipped[i].Start != skipped[j].Start {
			return skipped[i].Start < skipped[j].Start
		}
		return skipped[i].End < skipped[j].End
	})
	candidate := RowRanges{}
	skipEnd := int64(0)
	for _, skip := range skipped {
		if skipEnd >= skip.Start {
			if skipEnd < skip.End {
				skipEnd = skip.End
			}
			continue
		}
		candidate = append(candidate, RowRange{Start: skipEnd, End: skip.Start})
		skipEnd = skip.End
	}
	if skipEnd < groupRows {
		candidate = append(candidate, RowRange{Start: skipEnd, End: groupRows})
	}
	return candidate
}

// selectedRanges compacts the selected ordinals of a decoded batch back into
// group-row ranges, used to decode lazy columns only for surviving rows. The
// batch was decoded from batchRanges, so ordinal i corresponds to group row
// batchRanges.PositionAt(i).
func selectedRanges(sel *roaring.Bitmap, batchRanges RowRanges) RowRanges {
	out := RowRanges{}
	it := sel.Iterator()
	var cur RowRange
	open := false
	for it.HasNext() {
		pos := batchRanges.PositionAt(int64(it.Next()))
		if open && pos == cur.End {
			cur.End++
			continue
		}
		if open {
			out = append(out, cur)
		}
		cur = RowRange{Start: pos, End: pos + 1}
		open = true
	}
	if open {
		out = append(out, cur)
	}
	return out
}
