package engine

import "context"

// BatchStream delivers record batches one at a time. Next returns io.EOF
// when the stream is exhausted. Close releases resources and aborts any
// work still producing batches; it is safe to call more than once.
type BatchStream interface {
	Next(ctx context.Context) (*RecordBatch, error)
	Close() error
}

// PlanProperties describe how a plan emits data.
type PlanProperties struct {
	// Partitions is the number of independent output partitions.
	Partitions int

	// Bounded is true when the stream is finite.
	Bounded bool

	// FinalEmission is true when records are emitted only once all input
	// is processed (no incremental emission).
	FinalEmission bool
}

// ExecutionPlan is a node of the engine's physical plan. Leaf plans, such
// as the vParquet4 scan, have no children.
type ExecutionPlan interface {
	Name() string
	Schema() *Schema
	Properties() PlanProperties
	Children() []ExecutionPlan
	Execute(ctx context.Context, partition int) (BatchStream, error)
}

// FilterPushDown is a provider's answer for one filter expression.
type FilterPushDown int

const (
	// PushDownUnsupported: the engine must evaluate the filter itself.
	PushDownUnsupported FilterPushDown = iota

	// PushDownInexact: the provider applies the filter best-effort and the
	// engine re-evaluates it.
	PushDownInexact

	// PushDownExact: the provider guarantees the filter is fully applied.
	PushDownExact
)

// TableProvider exposes a table to the engine and negotiates filter
// pushdown at plan time.
type TableProvider interface {
	Schema() *Schema
	SupportsFilterPushdown(filters []Expr) []FilterPushDown
	Scan(ctx context.Context, projection []int, filters []Expr, limit int) (ExecutionPlan, error)
}

// Volatility classifies a scalar UDF for the engine's optimizer.
type Volatility int

const (
	// VolatilityImmutable: same input always produces the same output, so
	// calls may be cached or constant-folded.
	VolatilityImmutable Volatility = iota
	VolatilityStable
	VolatilityVolatile
)

// ScalarUDF is a scalar function registered with the engine before any
// table provider.
type ScalarUDF struct {
	Name       string
	Volatility Volatility

	// Fn evaluates the function for a batch of rows. Arguments and result
	// are columnar: one value per row.
	Fn func(args []any) (any, error)
}

// PartitionedFile is one file handed to the engine's file-scan executor.
type PartitionedFile struct {
	Path string
	Size int64
}

// ParquetScanPlanner is the engine's generic parquet scan machinery. The
// traces provider partitions its discovered file set through this
// interface instead of building a plan itself.
type ParquetScanPlanner interface {
	CreateFileScanPlan(ctx context.Context, schema *Schema, files []PartitionedFile, projection []int, limit int) (ExecutionPlan, error)
}

// SQLEngine is the registration and execution surface of the external
// columnar engine.
type SQLEngine interface {
	// SetOption configures an engine knob, e.g. target partitions or
	// predicate pruning.
	SetOption(key string, value any)

	RegisterUDF(udf ScalarUDF) error
	RegisterObjectStore(scheme string, store any) error
	RegisterTable(name string, provider TableProvider) error
	RegisterView(name, sql string) error

	ExecuteSQL(ctx context.Context, sql string) (BatchStream, error)
}
