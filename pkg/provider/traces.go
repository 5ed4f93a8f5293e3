package provider

import (
	"context"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"github.com/grafana/traceql-engine/pkg/engine"
	"github.com/grafana/traceql-engine/tempodb"
)

// TraceTableSchema is the nested schema of the `traces` table as the
// engine sees it.
func TraceTableSchema() *engine.Schema {
	attrs := engine.Field{Name: "Attrs", Type: engine.TypeList, Nullable: true, Children: []engine.Field{
		{Name: "element", Type: engine.TypeStruct, Nullable: true, Children: []engine.Field{
			{Name: "Key", Type: engine.TypeString},
			{Name: "IsArray", Type: engine.TypeBool},
			{Name: "Value", Type: engine.TypeList, Nullable: true, Children: []engine.Field{{Name: "element", Type: engine.TypeString, Nullable: true}}},
			{Name: "ValueInt", Type: engine.TypeList, Nullable: true, Children: []engine.Field{{Name: "element", Type: engine.TypeInt64, Nullable: true}}},
			{Name: "ValueDouble", Type: engine.TypeList, Nullable: true, Children: []engine.Field{{Name: "element", Type: engine.TypeFloat64, Nullable: true}}},
			{Name: "ValueBool", Type: engine.TypeList, Nullable: true, Children: []engine.Field{{Name: "element", Type: engine.TypeBool, Nullable: true}}},
			{Name: "ValueUnsupported", Type: engine.TypeBinary, Nullable: true},
		}},
	}}

	span := engine.Field{Name: "element", Type: engine.TypeStruct, Nullable: true, Children: []engine.Field{
		{Name: "SpanID", Type: engine.TypeBinary},
		{Name: "ParentSpanID", Type: engine.TypeBinary},
		{Name: "ParentID", Type: engine.TypeInt32},
		{Name: "NestedSetLeft", Type: engine.TypeInt32},
		{Name: "NestedSetRight", Type: engine.TypeInt32},
		{Name: "Name", Type: engine.TypeString},
		{Name: "Kind", Type: engine.TypeInt32},
		{Name: "StartTimeUnixNano", Type: engine.TypeUint64},
		{Name: "DurationNano", Type: engine.TypeUint64},
		{Name: "StatusCode", Type: engine.TypeInt32},
		{Name: "HttpMethod", Type: engine.TypeString, Nullable: true},
		{Name: "HttpUrl", Type: engine.TypeString, Nullable: true},
		{Name: "HttpStatusCode", Type: engine.TypeInt64, Nullable: true},
		attrs,
	}}

	resource := engine.Field{Name: "Resource", Type: engine.TypeStruct, Nullable: true, Children: []engine.Field{
		{Name: "ServiceName", Type: engine.TypeString},
		{Name: "Cluster", Type: engine.TypeString, Nullable: true},
		{Name: "Namespace", Type: engine.TypeString, Nullable: true},
		{Name: "Pod", Type: engine.TypeString, Nullable: true},
		{Name: "Container", Type: engine.TypeString, Nullable: true},
		{Name: "K8sClusterName", Type: engine.TypeString, Nullable: true},
		{Name: "K8sNamespaceName", Type: engine.TypeString, Nullable: true},
		{Name: "K8sPodName", Type: engine.TypeString, Nullable: true},
		{Name: "K8sContainerName", Type: engine.TypeString, Nullable: true},
		attrs,
	}}

	return engine.NewSchema(
		engine.Field{Name: "TraceID", Type: engine.TypeBinary},
		engine.Field{Name: "TraceIDText", Type: engine.TypeString},
		engine.Field{Name: "StartTimeUnixNano", Type: engine.TypeUint64},
		engine.Field{Name: "EndTimeUnixNano", Type: engine.TypeUint64},
		engine.Field{Name: "DurationNano", Type: engine.TypeUint64},
		engine.Field{Name: "RootServiceName", Type: engine.TypeString},
		engine.Field{Name: "RootSpanName", Type: engine.TypeString},
		engine.Field{Name: "ServiceStats", Type: engine.TypeList, Children: []engine.Field{
			{Name: "element", Type: engine.TypeStruct, Nullable: true, Children: []engine.Field{
				{Name: "Key", Type: engine.TypeString},
				{Name: "SpanCount", Type: engine.TypeUint64},
				{Name: "ErrorCount", Type: engine.TypeUint64},
			}},
		}},
		engine.Field{Name: "rs", Type: engine.TypeList, Nullable: true, Children: []engine.Field{
			{Name: "element", Type: engine.TypeStruct, Nullable: true, Children: []engine.Field{
				resource,
				{Name: "ss", Type: engine.TypeList, Nullable: true, Children: []engine.Field{
					{Name: "element", Type: engine.TypeStruct, Nullable: true, Children: []engine.Field{
						{Name: "Spans", Type: engine.TypeList, Nullable: true, Children: []engine.Field{span}},
					}},
				}},
			}},
		}},
	)
}

// SchemaUTF8ToBinary downgrades every utf8 field, at any nesting depth,
// to binary. Upstream producers occasionally write non-UTF-8 bytes into
// string columns; carrying them as binary keeps the scan loss-less
// instead of failing the decode. The local spans provider keeps utf8 on
// purpose, see FlatSpanSchema.
func SchemaUTF8ToBinary(s *engine.Schema) *engine.Schema {
	fields := make([]engine.Field, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = fieldUTF8ToBinary(f)
	}
	return &engine.Schema{Fields: fields}
}

func fieldUTF8ToBinary(f engine.Field) engine.Field {
	if f.Type == engine.TypeString {
		f.Type = engine.TypeBinary
	}
	if len(f.Children) > 0 {
		children := make([]engine.Field, len(f.Children))
		for i, c := range f.Children {
			children[i] = fieldUTF8ToBinary(c)
		}
		f.Children = children
	}
	return f
}

// TracesProvider exposes the discovered block set as the `traces` table.
// It advertises no pushdown of its own; filtering happens inside the
// engine's parquet scan, which receives the partitioned file list.
type TracesProvider struct {
	schema  *engine.Schema
	blocks  []tempodb.DiscoveredBlock
	planner engine.ParquetScanPlanner
	logger  log.Logger
}

var _ engine.TableProvider = (*TracesProvider)(nil)

func NewTracesProvider(blocks []tempodb.DiscoveredBlock, planner engine.ParquetScanPlanner, logger log.Logger) *TracesProvider {
	return &TracesProvider{
		schema:  SchemaUTF8ToBinary(TraceTableSchema()),
		blocks:  blocks,
		planner: planner,
		logger:  logger,
	}
}

func (p *TracesProvider) Schema() *engine.Schema { return p.schema }

func (p *TracesProvider) SupportsFilterPushdown(filters []engine.Expr) []engine.FilterPushDown {
	return make([]engine.FilterPushDown, len(filters))
}

// Scan prunes blocks by the time range extracted from the filters, then
// hands the surviving files to the engine's parquet scan.
func (p *TracesProvider) Scan(ctx context.Context, projection []int, filters []engine.Expr, limit int) (engine.ExecutionPlan, error) {
	timeRange := ExtractTimeRange(filters)

	files := make([]engine.PartitionedFile, 0, len(p.blocks))
	pruned := 0
	for _, b := range p.blocks {
		if !timeRange.OverlapsBlock(b) {
			pruned++
			continue
		}
		files = append(files, engine.PartitionedFile{Path: b.Path, Size: b.Size})
	}

	if pruned > 0 {
		level.Debug(p.logger).Log("msg", "pruned blocks by time range", "pruned", pruned, "remaining", len(files))
	}

	return p.planner.CreateFileScanPlan(ctx, p.schema, files, projection, limit)
}
