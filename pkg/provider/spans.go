package provider

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"go.uber.org/atomic"

	"github.com/grafana/traceql-engine/pkg/engine"
	"github.com/grafana/traceql-engine/tempodb/backend"
	"github.com/grafana/traceql-engine/tempodb/encoding/vparquet4"
)

// spanBatchSize is the number of spansets buffered before they are folded
// into one record batch.
const spanBatchSize = 1000

// SpansProvider exposes a single block's data.parquet as the flat `spans`
// table, with exact pushdown for the filters the vParquet4 reader can
// evaluate itself.
type SpansProvider struct {
	schema *engine.Schema
	reader backend.Reader
	name   string
	size   int64
	logger log.Logger
}

var _ engine.TableProvider = (*SpansProvider)(nil)

func NewSpansProvider(reader backend.Reader, name string, size int64, logger log.Logger) *SpansProvider {
	return &SpansProvider{
		schema: FlatSpanSchema(),
		reader: reader,
		name:   name,
		size:   size,
		logger: logger,
	}
}

func (p *SpansProvider) Schema() *engine.Schema { return p.schema }

// SupportsFilterPushdown declares Exact for every filter the reader can
// fully evaluate and Unsupported for the rest, so the engine re-evaluates
// only what it must.
func (p *SpansProvider) SupportsFilterPushdown(filters []engine.Expr) []engine.FilterPushDown {
	out := make([]engine.FilterPushDown, len(filters))
	for i, f := range filters {
		if ExprToSpanFilter(f) != nil {
			out[i] = engine.PushDownExact
		} else {
			out[i] = engine.PushDownUnsupported
		}
	}
	return out
}

func (p *SpansProvider) Scan(_ context.Context, projection []int, filters []engine.Expr, limit int) (engine.ExecutionPlan, error) {
	filter := ExtractSpanFilter(filters)
	if filter != nil {
		level.Debug(p.logger).Log("msg", "pushing filter into vparquet4 reader", "filter", filter)
	}

	timeRange := ExtractTimeRange(filters)

	return newSpanScanPlan(p, filter, timeRange, projection, limit), nil
}

// spanScanPlan is the leaf execution plan over one block: a single
// bounded partition with final emission, no children.
type spanScanPlan struct {
	provider  *SpansProvider
	filter    *vparquet4.SpanFilter
	timeRange TimeRange
	projection []int
	limit     int
	schema    *engine.Schema
}

var _ engine.ExecutionPlan = (*spanScanPlan)(nil)

func newSpanScanPlan(p *SpansProvider, filter *vparquet4.SpanFilter, timeRange TimeRange, projection []int, limit int) *spanScanPlan {
	return &spanScanPlan{
		provider:   p,
		filter:     filter,
		timeRange:  timeRange,
		projection: projection,
		limit:      limit,
		schema:     p.schema.Project(projection),
	}
}

func (s *spanScanPlan) Name() string           { return "SpanScanPlan" }
func (s *spanScanPlan) Schema() *engine.Schema { return s.schema }

func (s *spanScanPlan) Properties() engine.PlanProperties {
	return engine.PlanProperties{
		Partitions:    1,
		Bounded:       true,
		FinalEmission: true,
	}
}

func (s *spanScanPlan) Children() []engine.ExecutionPlan { return nil }

func (s *spanScanPlan) Execute(ctx context.Context, partition int) (engine.BatchStream, error) {
	if partition != 0 {
		return nil, fmt.Errorf("span scan has a single partition, got %d", partition)
	}

	opts := vparquet4.ReadOptions{
		Filter: s.filter,
	}
	if s.timeRange.MinNanos != nil && *s.timeRange.MinNanos > 0 {
		opts.MinStartTime = uint64(*s.timeRange.MinNanos)
	}
	if s.timeRange.MaxNanos != nil && *s.timeRange.MaxNanos > 0 {
		opts.MaxStartTime = uint64(*s.timeRange.MaxNanos)
	}

	ra := backend.NewReaderAt(ctx, s.provider.reader, s.provider.name, s.provider.size)
	reader, err := vparquet4.OpenReader(ra, s.provider.size, opts, s.provider.logger)
	if err != nil {
		return nil, err
	}

	streamCtx, cancel := context.WithCancel(ctx)
	return &spanStream{
		plan:    s,
		results: reader.ReadSpansets(streamCtx),
		cancel:  cancel,
	}, nil
}

// spanStream folds spansets into record batches, applies projection, and
// enforces the cumulative row limit, truncating the final batch.
type spanStream struct {
	plan    *spanScanPlan
	results <-chan vparquet4.SpansetResult
	cancel  context.CancelFunc

	rows      atomic.Int64
	done      bool
	closeOnce sync.Once
}

var _ engine.BatchStream = (*spanStream)(nil)

func (s *spanStream) Next(ctx context.Context) (*engine.RecordBatch, error) {
	if s.done {
		return nil, io.EOF
	}

	buffer := make([]*vparquet4.Spanset, 0, spanBatchSize)

	flush := func() (*engine.RecordBatch, error) {
		batch, err := SpansetsToRecordBatch(buffer)
		if err != nil {
			return nil, err
		}

		if s.plan.limit > 0 {
			remaining := int64(s.plan.limit) - s.rows.Load()
			if remaining <= int64(batch.NumRows()) {
				batch = batch.Truncate(int(remaining))
				s.done = true
				s.cancel()
			}
		}
		s.rows.Add(int64(batch.NumRows()))

		return batch.Project(s.plan.projection), nil
	}

	for {
		select {
		case res, ok := <-s.results:
			if !ok {
				if len(buffer) == 0 {
					s.done = true
					return nil, io.EOF
				}
				s.done = true
				return flush()
			}
			if res.Err != nil {
				s.done = true
				return nil, res.Err
			}

			buffer = append(buffer, res.Spanset)
			if len(buffer) >= spanBatchSize || s.limitReached(buffer) {
				return flush()
			}

		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// limitReached reports whether the buffered spans already satisfy the
// limit, so the stream can stop pulling from the reader.
func (s *spanStream) limitReached(buffer []*vparquet4.Spanset) bool {
	if s.plan.limit <= 0 {
		return false
	}
	buffered := 0
	for _, ss := range buffer {
		buffered += len(ss.Spans)
	}
	return s.rows.Load()+int64(buffered) >= int64(s.plan.limit)
}

func (s *spanStream) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		// drain so reader workers blocked on the channel can observe
		// cancellation and exit
		go func() {
			for range s.results {
			}
		}()
	})
	return nil
}
