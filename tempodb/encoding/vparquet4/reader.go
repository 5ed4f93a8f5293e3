package vparquet4

import (
	"context"
	"fmt"
	"io"
	"runtime"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/parquet-go/parquet-go"
	"golang.org/x/sync/errgroup"

	pq "github.com/grafana/traceql-engine/pkg/parquetquery"
)

// ErrInvalidRowGroup is returned when the requested row-group range lies
// outside the file.
type ErrInvalidRowGroup struct {
	Msg string
}

func (e *ErrInvalidRowGroup) Error() string { return "invalid row group: " + e.Msg }

const (
	// DefaultBatchSize is the number of row groups one worker claims at a
	// time.
	DefaultBatchSize = 4

	// resultChannelSize bounds the number of in-flight spansets per
	// stream. Workers suspend on a full channel instead of buffering.
	resultChannelSize = 100
)

// ReadOptions configure a single pass over one block's data.parquet.
type ReadOptions struct {
	// StartRowGroup and TotalRowGroups select a row-group range.
	// TotalRowGroups == 0 reads all remaining groups.
	StartRowGroup  int
	TotalRowGroups int

	// Filter keeps only spans it matches, and suppresses traces with no
	// matching span.
	Filter *SpanFilter

	// MinStartTime/MaxStartTime restrict the scan to row groups whose
	// trace time bounds overlap the range (inclusive, unix nanoseconds,
	// zero = unbounded).
	MinStartTime uint64
	MaxStartTime uint64

	// TraceIDPrefix prunes row groups that cannot contain trace IDs with
	// this prefix.
	TraceIDPrefix []byte

	// BatchSize is the number of row groups per worker batch.
	BatchSize int

	// Parallelism is the number of worker goroutines. Defaults to the
	// available hardware parallelism.
	Parallelism int
}

// SpansetResult carries either a spanset or the error that ended the
// stream.
type SpansetResult struct {
	Spanset *Spanset
	Err     error
}

// columnIndexes holds the resolved leaf indexes of every projected
// column. Resolved once at open; all stages share it.
type columnIndexes struct {
	traceID   int
	startTime int
	endTime   int

	spanID         int
	parentSpanID   int
	parentID       int
	nestedSetLeft  int
	nestedSetRight int
	name           int
	kind           int
	spanStartTime  int
	duration       int
	statusCode     int
}

// Reader streams matching spansets out of a single vParquet4 file. It
// owns the parsed footer and the per-row-group dictionary caches; both
// are built during open and read-only afterwards.
type Reader struct {
	pf     *parquet.File
	opts   ReadOptions
	cols   columnIndexes
	logger log.Logger

	// candidates are the row-group indexes that survived statistics and
	// dictionary pruning.
	candidates []int

	// nameDicts caches the decoded Name dictionary per row group, nil
	// when the column chunk is not dictionary-encoded.
	nameDicts map[int]map[string]struct{}
}

// OpenReader opens a vParquet4 file over any io.ReaderAt (a local file or
// a range-reading object-store adapter), validates the schema, and runs
// the statistics and dictionary pruning stages.
func OpenReader(ra io.ReaderAt, size int64, opts ReadOptions, logger log.Logger) (*Reader, error) {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.GOMAXPROCS(0)
	}

	pf, err := parquet.OpenFile(ra, size)
	if err != nil {
		return nil, fmt.Errorf("opening parquet file: %w", err)
	}

	if err := ValidateSchema(pf); err != nil {
		return nil, err
	}

	cols, err := resolveColumns(pf)
	if err != nil {
		return nil, err
	}

	numRowGroups := len(pf.RowGroups())
	start := opts.StartRowGroup
	if start >= numRowGroups || start < 0 {
		return nil, &ErrInvalidRowGroup{
			Msg: fmt.Sprintf("start row group %d out of range, file has %d", start, numRowGroups),
		}
	}
	total := opts.TotalRowGroups
	if total == 0 || start+total > numRowGroups {
		total = numRowGroups - start
	}

	r := &Reader{
		pf:        pf,
		opts:      opts,
		cols:      cols,
		logger:    logger,
		nameDicts: make(map[int]map[string]struct{}),
	}

	// stage 1: statistics pruning
	md := pf.Metadata()
	var afterStats []int
	for idx := start; idx < start+total; idx++ {
		stats := statsForRowGroup(&md.RowGroups[idx], &cols)
		if !keepByStatistics(stats, opts) {
			metricRowGroupsPruned.WithLabelValues("statistics").Inc()
			continue
		}
		afterStats = append(afterStats, idx)
	}

	// stage 2: dictionary pruning for the filtered string column
	for _, idx := range afterStats {
		if r.keepByDictionary(idx) {
			r.candidates = append(r.candidates, idx)
		} else {
			metricRowGroupsPruned.WithLabelValues("dictionary").Inc()
		}
	}

	level.Debug(logger).Log(
		"msg", "reader opened",
		"rowGroups", numRowGroups,
		"selected", total,
		"afterStatistics", len(afterStats),
		"afterDictionary", len(r.candidates),
	)

	return r, nil
}

func resolveColumns(pf *parquet.File) (columnIndexes, error) {
	cols := columnIndexes{}

	lookup := func(path string, out *int) error {
		idx, _ := pq.GetColumnIndexByPath(pf, path)
		if idx < 0 {
			return &SchemaError{Column: path, Reason: "leaf column not found"}
		}
		*out = idx
		return nil
	}

	for _, c := range []struct {
		path string
		out  *int
	}{
		{FieldTraceID, &cols.traceID},
		{FieldStartTimeUnixNano, &cols.startTime},
		{FieldEndTimeUnixNano, &cols.endTime},
		{FieldSpanID, &cols.spanID},
		{FieldSpanParentSpanID, &cols.parentSpanID},
		{FieldSpanParentID, &cols.parentID},
		{FieldSpanNestedSetLeft, &cols.nestedSetLeft},
		{FieldSpanNestedSetRight, &cols.nestedSetRight},
		{FieldSpanName, &cols.name},
		{FieldSpanKind, &cols.kind},
		{FieldSpanStartTime, &cols.spanStartTime},
		{FieldSpanDurationNano, &cols.duration},
		{FieldSpanStatusCode, &cols.statusCode},
	} {
		if err := lookup(c.path, c.out); err != nil {
			return cols, err
		}
	}

	return cols, nil
}

// keepByDictionary probes the dictionary page of the Name column chunk.
// Only the dictionary page is decoded, never the data pages. Any failure
// to decode keeps the row group: stage 4 will decide.
func (r *Reader) keepByDictionary(rgIdx int) bool {
	if r.opts.Filter == nil || r.opts.Filter.Type != SpanFilterNameEquals {
		return true
	}

	chunk := r.pf.RowGroups()[rgIdx].ColumnChunks()[r.cols.name]
	helper := pq.NewColumnChunkHelper(chunk)
	defer helper.Close()

	dict := helper.Dictionary()
	if dict == nil {
		// not dictionary-encoded, or the dictionary was unreadable
		return true
	}

	values := make(map[string]struct{}, dict.Len())
	for i := 0; i < dict.Len(); i++ {
		values[string(dict.Index(int32(i)).ByteArray())] = struct{}{}
	}
	r.nameDicts[rgIdx] = values

	_, ok := values[r.opts.Filter.Name]
	return ok
}

// CandidateRowGroups returns the row groups that survived pruning.
func (r *Reader) CandidateRowGroups() []int {
	out := make([]int, len(r.candidates))
	copy(out, r.candidates)
	return out
}

// ReadSpansets fans workers out over the surviving row groups and streams
// spansets into a bounded channel. The channel is closed when every
// worker is done or the first error was delivered. Cancelling ctx aborts
// outstanding workers at their next suspension point.
func (r *Reader) ReadSpansets(ctx context.Context) <-chan SpansetResult {
	results := make(chan SpansetResult, resultChannelSize)

	batches := make(chan []int)
	g, gctx := errgroup.WithContext(ctx)

	// producer shards candidates into row-group batches
	g.Go(func() error {
		defer close(batches)
		for i := 0; i < len(r.candidates); i += r.opts.BatchSize {
			end := i + r.opts.BatchSize
			if end > len(r.candidates) {
				end = len(r.candidates)
			}
			select {
			case batches <- r.candidates[i:end]:
			case <-gctx.Done():
				return gctx.Err()
			}
		}
		return nil
	})

	for i := 0; i < r.opts.Parallelism; i++ {
		g.Go(func() error {
			for batch := range batches {
				for _, rgIdx := range batch {
					if err := r.readRowGroup(gctx, rgIdx, results); err != nil {
						return err
					}
				}
			}
			return nil
		})
	}

	go func() {
		defer close(results)
		if err := g.Wait(); err != nil && ctx.Err() == nil {
			select {
			case results <- SpansetResult{Err: err}:
			case <-ctx.Done():
			}
		}
	}()

	return results
}

// readRowGroup is stages 3 and 4 for one row group: project the span
// leaves, evaluate the filter on the Name column first, and only when some
// trace matched decode the remaining columns of the row group; spansets
// are built for the matching traces alone.
func (r *Reader) readRowGroup(ctx context.Context, rgIdx int, results chan<- SpansetResult) error {
	rg := r.pf.RowGroups()[rgIdx]

	names, err := pq.ReadColumnRows(rg, r.cols.name)
	if err != nil {
		return fmt.Errorf("reading span names of row group %d: %w", rgIdx, err)
	}

	// Per-trace keep decision from the cheapest column alone. A nil
	// filter keeps everything.
	keepTrace := make([]bool, len(names))
	anyKept := false
	for row, rowNames := range names {
		if r.opts.Filter == nil {
			keepTrace[row] = true
			anyKept = true
			continue
		}
		for _, v := range rowNames {
			if v.IsNull() {
				continue
			}
			if r.opts.Filter.Matches(string(v.ByteArray())) {
				keepTrace[row] = true
				anyKept = true
				break
			}
		}
	}
	if !anyKept {
		return nil
	}

	traceIDs, err := pq.ReadColumnRows(rg, r.cols.traceID)
	if err != nil {
		return fmt.Errorf("reading trace ids of row group %d: %w", rgIdx, err)
	}
	if len(traceIDs) != len(names) {
		return &SchemaError{Column: FieldTraceID, Reason: "row count mismatch against span names"}
	}

	type leaf struct {
		col  int
		rows [][]parquet.Value
	}
	leaves := []leaf{
		{col: r.cols.spanID},
		{col: r.cols.parentSpanID},
		{col: r.cols.parentID},
		{col: r.cols.nestedSetLeft},
		{col: r.cols.nestedSetRight},
		{col: r.cols.kind},
		{col: r.cols.spanStartTime},
		{col: r.cols.duration},
		{col: r.cols.statusCode},
	}
	for i := range leaves {
		leaves[i].rows, err = pq.ReadColumnRows(rg, leaves[i].col)
		if err != nil {
			return fmt.Errorf("reading span column of row group %d: %w", rgIdx, err)
		}
		if len(leaves[i].rows) != len(names) {
			return &SchemaError{Column: FieldSpanName, Reason: "row count mismatch across span columns"}
		}
	}

	for row := range names {
		if !keepTrace[row] {
			continue
		}

		// size the span slice from the observed matching count
		matching := 0
		for _, v := range names[row] {
			if v.IsNull() {
				continue
			}
			if r.opts.Filter == nil || r.opts.Filter.Matches(string(v.ByteArray())) {
				matching++
			}
		}

		spanset := &Spanset{
			TraceID: append([]byte(nil), traceIDs[row][0].ByteArray()...),
			Spans:   make([]SpansetSpan, 0, matching),
		}

		for i, v := range names[row] {
			if v.IsNull() {
				continue
			}
			name := string(v.ByteArray())
			if r.opts.Filter != nil && !r.opts.Filter.Matches(name) {
				continue
			}

			span := SpansetSpan{Name: name}
			span.SpanID = append([]byte(nil), leaves[0].rows[row][i].ByteArray()...)
			span.ParentSpanID = append([]byte(nil), leaves[1].rows[row][i].ByteArray()...)
			span.ParentID = leaves[2].rows[row][i].Int32()
			span.NestedSetLeft = leaves[3].rows[row][i].Int32()
			span.NestedSetRight = leaves[4].rows[row][i].Int32()
			span.Kind = leaves[5].rows[row][i].Int32()
			span.StartTimeUnixNano = leaves[6].rows[row][i].Uint64()
			span.DurationNano = leaves[7].rows[row][i].Uint64()
			span.StatusCode = leaves[8].rows[row][i].Int32()
			spanset.Spans = append(spanset.Spans, span)
		}

		// empty traces are suppressed when a filter is present
		if len(spanset.Spans) == 0 && r.opts.Filter != nil {
			continue
		}

		metricSpansetsRead.Inc()
		select {
		case results <- SpansetResult{Spanset: spanset}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return nil
}
