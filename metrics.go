package lakescan

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Stats is a point-in-time snapshot of one scanner's work, useful for query
// profiles. The prometheus metrics aggregate the same figures across
// scanners.
type Stats struct {
	GroupsRead           int64
	GroupsPruned         int64
	RowsPrunedByIndex    int64
	RowsDecoded          int64
	RowsProduced         int64
	LazyRowsSkipped      int64
	DictRewrites         int64
	DictDisqualified     int64
	PositionDeletesMatch int64
}

type metrics struct {
	groupsRead        prometheus.Counter
	groupsPruned      prometheus.Counter
	rowsPrunedByIndex prometheus.Counter
	rowsDecoded       prometheus.Counter
	rowsProduced      prometheus.Counter
	lazyRowsSkipped   prometheus.Counter
	dictRewrites      prometheus.Counter
	dictDisqualified  prometheus.Counter
	positionDeletes   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	return &metrics{
		groupsRead: sharedCounter(reg, prometheus.CounterOpts{
			Name: "lakescan_row_groups_read_total",
			Help: "Number of row groups decoded at least partially.",
		}),
		groupsPruned: sharedCounter(reg, prometheus.CounterOpts{
			Name: "lakescan_row_groups_pruned_total",
			Help: "Number of row groups skipped entirely by statistics or dictionary filtering.",
		}),
		rowsPrunedByIndex: sharedCounter(reg, prometheus.CounterOpts{
			Name: "lakescan_rows_pruned_by_index_total",
			Help: "Number of rows excluded before decode by page-level indexes.",
		}),
		rowsDecoded: sharedCounter(reg, prometheus.CounterOpts{
			Name: "lakescan_rows_decoded_total",
			Help: "Number of rows decoded from predicate columns before filtering.",
		}),
		rowsProduced: sharedCounter(reg, prometheus.CounterOpts{
			Name: "lakescan_rows_produced_total",
			Help: "Number of rows emitted after filtering.",
		}),
		lazyRowsSkipped: sharedCounter(reg, prometheus.CounterOpts{
			Name: "lakescan_lazy_rows_skipped_total",
			Help: "Number of rows never materialized for lazy columns because filtering discarded them.",
		}),
		dictRewrites: sharedCounter(reg, prometheus.CounterOpts{
			Name: "lakescan_dictionary_rewrites_total",
			Help: "Number of per-group predicate rewrites onto dictionary codes.",
		}),
		dictDisqualified: sharedCounter(reg, prometheus.CounterOpts{
			Name: "lakescan_dictionary_disqualified_total",
			Help: "Number of columns permanently dropped from dictionary filtering.",
		}),
		positionDeletes: sharedCounter(reg, prometheus.CounterOpts{
			Name: "lakescan_position_deletes_applied_total",
			Help: "Number of rows excluded by position deletes.",
		}),
	}
}
