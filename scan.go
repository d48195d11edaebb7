package lakescan

import (
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/oklog/ulid/v2"
	"github.com/parquet-go/parquet-go"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/polarsignals/lakescan/expr"
)

const (
	defaultBatchSize    = 8192
	defaultMaxDictCodes = 512
)

// Scanner drives one file's scan: it walks the decoder's row groups in order,
// prunes what statistics and dictionaries prove empty, decodes predicate
// columns, filters, then materializes the remaining columns only for rows
// that survived. Batches come out in file order.
//
// A Scanner is not safe for concurrent use; run one goroutine per file and
// fan out with ScanFiles.
type Scanner struct {
	logger  log.Logger
	tracer  trace.Tracer
	metrics *metrics
	mem     memory.Allocator

	dec  ColumnDecoder
	plan *ReadPlan

	batchSize    int64
	maxDictCodes int
	statsPruning bool
	pageIndex    bool
	countOnly    bool
	rowIDColumn  string

	deletes    *positionDeletes
	pruner     *rangePruner
	dictFilter *dictionaryFilter

	schema *arrow.Schema

	group     int
	groupBase int64
	candidate RowRanges
	offset    int64
	delCtx    deleteContext
	exhausted bool
	disqSeen  int

	stats Stats
}

// Option configures a Scanner.
type Option func(*Scanner) error

// WithBatchSize bounds the rows decoded and emitted per NextBatch call.
func WithBatchSize(rows int64) Option {
	return func(s *Scanner) error {
		if rows <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", rows)
		}
		s.batchSize = rows
		return nil
	}
}

// WithLogger sets the logger; a scan id is attached to every line.
func WithLogger(logger log.Logger) Option {
	return func(s *Scanner) error {
		s.logger = logger
		return nil
	}
}

// WithRegisterer registers the scan counters with reg. Counters aggregate
// across all scanners sharing the registerer.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(s *Scanner) error {
		s.metrics = newMetrics(reg)
		return nil
	}
}

// WithTracer sets the tracer used to span each row group advance.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scanner) error {
		s.tracer = tracer
		return nil
	}
}

// WithAllocator sets the arrow allocator for decoded and synthesized arrays.
func WithAllocator(mem memory.Allocator) Option {
	return func(s *Scanner) error {
		s.mem = mem
		return nil
	}
}

// WithPositionDeletes supplies the sorted global row ordinals to exclude,
// e.g. from iceberg position delete files. Ordinals count all rows of the
// file, pruned groups included.
func WithPositionDeletes(rows []int64) Option {
	return func(s *Scanner) error {
		for i := 1; i < len(rows); i++ {
			if rows[i] <= rows[i-1] {
				return fmt.Errorf("position deletes must be strictly ascending, got %d after %d", rows[i], rows[i-1])
			}
		}
		s.deletes = newPositionDeletes(rows)
		return nil
	}
}

// WithDictionaryFilterMaxCodes caps how many surviving dictionary codes a
// rewrite may produce before the column falls back to plain predicates.
func WithDictionaryFilterMaxCodes(n int) Option {
	return func(s *Scanner) error {
		if n <= 0 {
			return fmt.Errorf("dictionary filter code cap must be positive, got %d", n)
		}
		s.maxDictCodes = n
		return nil
	}
}

// WithoutStatsPruning disables group and page statistics pruning, decoding
// every row. Filtering still applies.
func WithoutStatsPruning() Option {
	return func(s *Scanner) error {
		s.statsPruning = false
		return nil
	}
}

// WithoutPageIndex disables sub-group pruning only; whole-group statistics
// pruning stays on.
func WithoutPageIndex() Option {
	return func(s *Scanner) error {
		s.pageIndex = false
		return nil
	}
}

// WithRowID appends a synthesized int64 column of global row ordinals under
// the given name, for callers that join results back to position deletes.
func WithRowID(column string) Option {
	return func(s *Scanner) error {
		s.rowIDColumn = column
		return nil
	}
}

// WithCountOnly emits zero-column batches carrying only row counts, letting
// count aggregations skip decoding entirely. Incompatible with conjuncts and
// position deletes.
func WithCountOnly() Option {
	return func(s *Scanner) error {
		s.countOnly = true
		return nil
	}
}

// NewScanner plans and prepares a scan over dec. The decoder is owned by the
// scanner from here on; Close releases both.
func NewScanner(dec ColumnDecoder, planOpts PlanOptions, opts ...Option) (*Scanner, error) {
	s := &Scanner{
		logger:       log.NewNopLogger(),
		tracer:       noop.NewTracerProvider().Tracer(""),
		mem:          memory.NewGoAllocator(),
		dec:          dec,
		batchSize:    defaultBatchSize,
		maxDictCodes: defaultMaxDictCodes,
		statsPruning: true,
		pageIndex:    true,
		group:        -1,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.metrics == nil {
		s.metrics = newMetrics(nil)
	}
	if s.countOnly && (len(planOpts.Conjuncts) > 0 || s.deletes != nil) {
		return nil, fmt.Errorf("count-only scans cannot carry conjuncts or position deletes")
	}

	plan, err := BuildReadPlan(dec.Schema(), planOpts)
	if err != nil {
		return nil, err
	}
	if fr, ok := dec.(FilteredReader); ok && !fr.SupportsFilteredRead() {
		plan.DisableLazyRead()
	}
	s.plan = plan
	s.pruner = &rangePruner{plan: plan, dec: dec, enabled: s.statsPruning, pageIndex: s.pageIndex}
	s.dictFilter = newDictionaryFilter(s.mem, plan, dec.Schema(), s.maxDictCodes)

	s.schema, err = s.outputSchema()
	if err != nil {
		return nil, err
	}

	id := ulid.Make()
	s.logger = log.With(s.logger, "scan", id.String())

	refuted, err := s.constantsRefuted()
	if err != nil {
		return nil, err
	}
	if refuted {
		// A conjunct on a partition or default constant fails for every row
		// of the file; nothing to read.
		s.exhausted = true
		level.Debug(s.logger).Log("msg", "scan refuted by constant columns")
	}

	level.Debug(s.logger).Log(
		"msg", "scan planned",
		"groups", dec.NumGroups(),
		"predicate_columns", len(plan.PredicateColumns),
		"lazy_columns", len(plan.LazyColumns),
		"lazy", plan.CanLazyRead,
	)
	return s, nil
}

func (s *Scanner) outputSchema() (*arrow.Schema, error) {
	if s.countOnly {
		return arrow.NewSchema([]arrow.Field{}, nil), nil
	}
	fileSchema := s.dec.Schema()
	fields := make([]arrow.Field, 0, len(s.plan.Columns)+1)
	for _, col := range s.plan.Columns {
		if v, ok := s.plan.PartitionValues[col]; ok {
			fields = append(fields, arrow.Field{Name: col, Type: arrowTypeOf(v), Nullable: true})
			continue
		}
		if v, ok := s.plan.MissingDefaults[col]; ok {
			fields = append(fields, arrow.Field{Name: col, Type: arrowTypeOf(v), Nullable: true})
			continue
		}
		indices := fileSchema.FieldIndices(col)
		if len(indices) != 1 {
			return nil, fmt.Errorf("%w: column %q", ErrNotFound, col)
		}
		f := fileSchema.Field(indices[0])
		fields = append(fields, arrow.Field{Name: col, Type: f.Type, Nullable: true})
	}
	if s.rowIDColumn != "" {
		fields = append(fields, arrow.Field{Name: s.rowIDColumn, Type: arrow.PrimitiveTypes.Int64})
	}
	return arrow.NewSchema(fields, nil), nil
}

// constantsRefuted evaluates the conjuncts that touch only synthesized
// columns against a single row of their constants. A failed conjunct there
// fails everywhere.
func (s *Scanner) constantsRefuted() (bool, error) {
	constCols := map[string]parquet.Value{}
	for _, col := range s.plan.PredicatePartitionColumns {
		constCols[col] = s.plan.PartitionValues[col]
	}
	for _, col := range s.plan.PredicateMissingColumns {
		constCols[col] = s.plan.MissingDefaults[col]
	}
	if len(constCols) == 0 {
		return false, nil
	}

	fields := make([]arrow.Field, 0, len(constCols))
	cols := make([]arrow.Array, 0, len(constCols))
	defer func() {
		for _, a := range cols {
			a.Release()
		}
	}()
	conjuncts := []expr.Expr{}
	for _, conjunct := range s.plan.Conjuncts {
		used := conjunct.ColumnsUsed()
		if len(used) != 1 {
			continue
		}
		v, ok := constCols[used[0]]
		if !ok {
			continue
		}
		conjuncts = append(conjuncts, conjunct)
		if containsField(fields, used[0]) {
			continue
		}
		arr, err := constantArray(s.mem, v, 1)
		if err != nil {
			return false, err
		}
		fields = append(fields, arrow.Field{Name: used[0], Type: arr.DataType(), Nullable: true})
		cols = append(cols, arr)
	}
	if len(conjuncts) == 0 {
		return false, nil
	}

	rec := array.NewRecord(arrow.NewSchema(fields, nil), cols, 1)
	defer rec.Release()
	sel, err := expr.EvalConjuncts(conjuncts, rec)
	if err != nil {
		return false, err
	}
	return sel.IsEmpty(), nil
}

func containsField(fields []arrow.Field, name string) bool {
	for _, f := range fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Schema is the shape of every record NextBatch returns: the requested
// columns in request order, plus the row id column when configured.
func (s *Scanner) Schema() *arrow.Schema { return s.schema }

// Stats returns a snapshot of the scan counters so far.
func (s *Scanner) Stats() Stats { return s.stats }

// NextBatch returns the next batch of surviving rows. done is true exactly
// when the scan is complete; the record is nil then. Cancelling ctx ends the
// scan cleanly with done set and no error.
//
// Returned records must be Released by the caller.
func (s *Scanner) NextBatch(ctx context.Context) (arrow.Record, int64, bool, error) {
	for {
		select {
		case <-ctx.Done():
			s.exhausted = true
			return nil, 0, true, nil
		default:
		}
		if s.exhausted {
			return nil, 0, true, nil
		}

		if s.offset >= s.candidate.Rows() {
			if err := s.advanceGroup(ctx); err != nil {
				if isCancellation(err) {
					s.exhausted = true
					return nil, 0, true, nil
				}
				return nil, 0, false, err
			}
			continue
		}

		batchRanges := s.candidate.Slice(s.offset, s.batchSize)
		s.offset += batchRanges.Rows()

		rec, rows, err := s.decodeBatch(ctx, batchRanges)
		if err != nil {
			if isCancellation(err) {
				s.exhausted = true
				return nil, 0, true, nil
			}
			return nil, 0, false, err
		}
		if rows == 0 {
			// Every row of the batch was filtered; keep going.
			continue
		}
		s.stats.RowsProduced += rows
		s.metrics.rowsProduced.Add(float64(rows))
		return rec, rows, false, nil
	}
}

func (s *Scanner) advanceGroup(ctx context.Context) error {
	for {
		if s.group >= 0 {
			s.groupBase += s.dec.GroupRows(s.group)
		}
		s.group++
		if s.group >= s.dec.NumGroups() {
			s.exhausted = true
			s.dictFilter.releaseGroup()
			return nil
		}
		ready, err := s.openGroup(ctx, s.group)
		if err != nil {
			return err
		}
		if ready {
			return nil
		}
	}
}

// openGroup runs the per-group pruning pipeline. It returns false when the
// group is proved empty and the scan should move on.
func (s *Scanner) openGroup(ctx context.Context, group int) (bool, error) {
	ctx, span := s.tracer.Start(ctx, "Scanner/openGroup", trace.WithAttributes(
		attribute.Int("group", group),
	))
	defer span.End()

	skip, err := s.pruner.skipGroup(ctx, group)
	if err != nil {
		return false, err
	}
	if skip {
		s.pruneGroup(group, "statistics")
		return false, nil
	}

	filtered, err := s.dictFilter.prepareGroup(ctx, s.dec, group)
	if err != nil {
		return false, err
	}
	s.accountDictFilter()
	if filtered {
		s.pruneGroup(group, "dictionary")
		return false, nil
	}

	candidate, pruned := s.pruner.candidateRanges(group)
	if pruned > 0 {
		s.stats.RowsPrunedByIndex += pruned
		s.metrics.rowsPrunedByIndex.Add(float64(pruned))
	}
	if candidate.Rows() == 0 {
		s.pruneGroup(group, "page_index")
		return false, nil
	}

	groupRows := s.dec.GroupRows(group)
	if s.deletes != nil {
		s.delCtx = s.deletes.contextFor(s.groupBase, s.groupBase+groupRows)
	} else {
		s.delCtx = deleteContext{}
	}
	s.candidate = candidate
	s.offset = 0
	s.stats.GroupsRead++
	s.metrics.groupsRead.Inc()
	level.Debug(s.logger).Log(
		"msg", "row group opened",
		"group", group,
		"rows", groupRows,
		"candidate_rows", candidate.Rows(),
		"index_pruned_rows", pruned,
		"dict_rewrites", s.dictFilter.rewriteCount(),
	)
	return true, nil
}

func (s *Scanner) pruneGroup(group int, reason string) {
	s.stats.GroupsPruned++
	s.metrics.groupsPruned.Inc()
	level.Debug(s.logger).Log("msg", "row group pruned", "group", group, "reason", reason)
}

func (s *Scanner) accountDictFilter() {
	rewrites := s.dictFilter.rewriteCount()
	if rewrites > 0 {
		s.stats.DictRewrites += int64(rewrites)
		s.metrics.dictRewrites.Add(float64(rewrites))
	}
	if disq := s.dictFilter.disqualifiedCount(); disq > s.disqSeen {
		delta := disq - s.disqSeen
		s.disqSeen = disq
		s.stats.DictDisqualified += int64(delta)
		s.metrics.dictDisqualified.Add(float64(delta))
	}
}

func (s *Scanner) decodeBatch(ctx context.Context, batchRanges RowRanges) (arrow.Record, int64, error) {
	batchRows := batchRanges.Rows()
	if s.countOnly {
		return array.NewRecord(s.schema, nil, batchRows), batchRows, nil
	}

	eager := s.plan.eagerColumns()
	decoded := make(map[string]arrow.Array, len(eager))
	releaseDecoded := func() {
		for _, a := range decoded {
			a.Release()
		}
	}
	for _, col := range eager {
		arr, err := s.dec.DecodeColumn(ctx, s.group, col, batchRanges, s.dictFilter.decodeAsCodes(col))
		if err != nil {
			releaseDecoded()
			if isCancellation(err) {
				return nil, 0, err
			}
			return nil, 0, fmt.Errorf("decode column %q: %w", col, err)
		}
		decoded[col] = arr
	}
	s.stats.RowsDecoded += batchRows
	s.metrics.rowsDecoded.Add(float64(batchRows))

	sel := expr.NewBitmap()
	sel.AddRange(0, uint64(batchRows))
	if !s.delCtx.empty() {
		before := int64(sel.GetCardinality())
		s.delCtx.clearDeleted(sel, batchRanges)
		removed := before - int64(sel.GetCardinality())
		if removed > 0 {
			s.stats.PositionDeletesMatch += removed
			s.metrics.positionDeletes.Add(float64(removed))
		}
	}
	if len(s.plan.Conjuncts) > 0 && !sel.IsEmpty() {
		matched, err := s.evalBatch(decoded, batchRows)
		if err != nil {
			releaseDecoded()
			return nil, 0, err
		}
		sel.And(matched)
	}

	survivors := int64(sel.GetCardinality())
	lazy := s.plan.deferredColumns()
	if survivors == 0 {
		releaseDecoded()
		if len(lazy) > 0 {
			s.stats.LazyRowsSkipped += batchRows
			s.metrics.lazyRowsSkipped.Add(float64(batchRows))
		}
		return nil, 0, nil
	}

	out := make(map[string]arrow.Array, len(eager)+len(lazy))
	releaseOut := func() {
		for _, a := range out {
			a.Release()
		}
	}
	allSelected := survivors == batchRows
	for _, col := range eager {
		var (
			arr arrow.Array
			err error
		)
		if allSelected {
			arr = decoded[col]
			arr.Retain()
		} else {
			arr, err = filterArray(s.mem, decoded[col], sel)
			if err != nil {
				releaseOut()
				releaseDecoded()
				return nil, 0, err
			}
		}
		if s.dictFilter.decodeAsCodes(col) {
			restored, rerr := s.dictFilter.restoreColumn(col, arr)
			arr.Release()
			if rerr != nil {
				releaseOut()
				releaseDecoded()
				return nil, 0, fmt.Errorf("restore column %q: %w", col, rerr)
			}
			arr = restored
		}
		out[col] = arr
	}
	releaseDecoded()

	if len(lazy) > 0 {
		lazyRanges := batchRanges
		if !allSelected {
			lazyRanges = selectedRanges(sel, batchRanges)
		}
		for _, col := range lazy {
			arr, err := s.dec.DecodeColumn(ctx, s.group, col, lazyRanges, false)
			if err != nil {
				releaseOut()
				if isCancellation(err) {
					return nil, 0, err
				}
				return nil, 0, fmt.Errorf("decode column %q: %w", col, err)
			}
			out[col] = arr
		}
		skipped := batchRows - survivors
		if skipped > 0 {
			s.stats.LazyRowsSkipped += skipped
			s.metrics.lazyRowsSkipped.Add(float64(skipped))
		}
	}

	rec, err := s.assemble(out, sel, batchRanges, survivors)
	releaseOut()
	if err != nil {
		return nil, 0, err
	}
	return rec, survivors, nil
}

// evalBatch runs the conjuncts over the decoded predicate columns plus the
// synthesized constant columns, substituting code predicates where the
// dictionary filter rewrote a column.
func (s *Scanner) evalBatch(decoded map[string]arrow.Array, batchRows int64) (*expr.Bitmap, error) {
	fields := make([]arrow.Field, 0, len(s.plan.PredicateColumns))
	cols := make([]arrow.Array, 0, len(s.plan.PredicateColumns))
	synth := []arrow.Array{}
	defer func() {
		for _, a := range synth {
			a.Release()
		}
	}()
	for _, col := range s.plan.PredicateColumns {
		arr := decoded[col]
		fields = append(fields, arrow.Field{Name: col, Type: arr.DataType(), Nullable: true})
		cols = append(cols, arr)
	}
	for _, col := range s.plan.PredicatePartitionColumns {
		arr, err := constantArray(s.mem, s.plan.PartitionValues[col], batchRows)
		if err != nil {
			return nil, err
		}
		synth = append(synth, arr)
		fields = append(fields, arrow.Field{Name: col, Type: arr.DataType(), Nullable: true})
		cols = append(cols, arr)
	}
	for _, col := range s.plan.PredicateMissingColumns {
		arr, err := constantArray(s.mem, s.plan.MissingDefaults[col], batchRows)
		if err != nil {
			return nil, err
		}
		synth = append(synth, arr)
		fields = append(fields, arrow.Field{Name: col, Type: arr.DataType(), Nullable: true})
		cols = append(cols, arr)
	}

	conjuncts := make([]expr.Expr, 0, len(s.plan.Conjuncts))
	rewrittenSeen := map[string]bool{}
	for _, conjunct := range s.plan.Conjuncts {
		used := conjunct.ColumnsUsed()
		if len(used) == 1 {
			if rw, ok := s.dictFilter.rewrittenFor(used[0]); ok {
				// One code predicate stands in for all of the column's
				// original conjuncts.
				if !rewrittenSeen[used[0]] {
					rewrittenSeen[used[0]] = true
					conjuncts = append(conjuncts, rw)
				}
				continue
			}
		}
		conjuncts = append(conjuncts, conjunct)
	}

	rec := array.NewRecord(arrow.NewSchema(fields, nil), cols, batchRows)
	defer rec.Release()
	return expr.EvalConjuncts(conjuncts, rec)
}

// assemble builds the output record in request order. Partition and missing
// columns are filled at output length; filling after the filter means a
// synthesized column is never partially populated.
func (s *Scanner) assemble(out map[string]arrow.Array, sel *expr.Bitmap, batchRanges RowRanges, survivors int64) (arrow.Record, error) {
	cols := make([]arrow.Array, 0, len(s.plan.Columns)+1)
	synth := []arrow.Array{}
	defer func() {
		for _, a := range synth {
			a.Release()
		}
	}()
	for _, col := range s.plan.Columns {
		if v, ok := s.plan.PartitionValues[col]; ok {
			arr, err := constantArray(s.mem, v, survivors)
			if err != nil {
				return nil, err
			}
			synth = append(synth, arr)
			cols = append(cols, arr)
			continue
		}
		if v, ok := s.plan.MissingDefaults[col]; ok {
			arr, err := constantArray(s.mem, v, survivors)
			if err != nil {
				return nil, err
			}
			synth = append(synth, arr)
			cols = append(cols, arr)
			continue
		}
		arr, ok := out[col]
		if !ok {
			return nil, fmt.Errorf("%w: column %q missing from decoded batch", ErrNotFound, col)
		}
		cols = append(cols, arr)
	}
	if s.rowIDColumn != "" {
		ids := array.NewInt64Builder(s.mem)
		it := sel.Iterator()
		for it.HasNext() {
			ids.Append(s.groupBase + batchRanges.PositionAt(int64(it.Next())))
		}
		arr := ids.NewArray()
		ids.Release()
		synth = append(synth, arr)
		cols = append(cols, arr)
	}
	return array.NewRecord(s.schema, cols, survivors), nil
}

// Close releases per-group state and the underlying decoder.
func (s *Scanner) Close() error {
	s.dictFilter.releaseGroup()
	return s.dec.Close()
}
