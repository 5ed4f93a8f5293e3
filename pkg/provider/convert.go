package provider

import (
	"github.com/grafana/traceql-engine/pkg/engine"
	"github.com/grafana/traceql-engine/tempodb/encoding/vparquet4"
)

// FlatSpanSchema is the output schema of the spans provider: one row per
// span, span identity and scalar fields only.
func FlatSpanSchema() *engine.Schema {
	return engine.NewSchema(
		engine.Field{Name: "trace_id", Type: engine.TypeBinary},
		engine.Field{Name: "span_id", Type: engine.TypeBinary},
		engine.Field{Name: "parent_span_id", Type: engine.TypeBinary},
		engine.Field{Name: "name", Type: engine.TypeString},
		engine.Field{Name: "kind", Type: engine.TypeInt32},
		engine.Field{Name: "start_time_unix_nano", Type: engine.TypeUint64},
		engine.Field{Name: "duration_nano", Type: engine.TypeUint64},
		engine.Field{Name: "status_code", Type: engine.TypeInt32},
		engine.Field{Name: "parent_id", Type: engine.TypeInt32},
		engine.Field{Name: "nested_set_left", Type: engine.TypeInt32},
		engine.Field{Name: "nested_set_right", Type: engine.TypeInt32},
	)
}

// SpansetsToRecordBatch flattens spansets into one record batch, one row
// per span. Builders are sized from the total span count up front.
func SpansetsToRecordBatch(spansets []*vparquet4.Spanset) (*engine.RecordBatch, error) {
	total := 0
	for _, ss := range spansets {
		total += len(ss.Spans)
	}

	traceIDs := make(engine.BinaryColumn, 0, total)
	spanIDs := make(engine.BinaryColumn, 0, total)
	parentSpanIDs := make(engine.BinaryColumn, 0, total)
	names := make(engine.StringColumn, 0, total)
	kinds := make(engine.Int32Column, 0, total)
	startTimes := make(engine.Uint64Column, 0, total)
	durations := make(engine.Uint64Column, 0, total)
	statusCodes := make(engine.Int32Column, 0, total)
	parentIDs := make(engine.Int32Column, 0, total)
	nestedSetLefts := make(engine.Int32Column, 0, total)
	nestedSetRights := make(engine.Int32Column, 0, total)

	for _, ss := range spansets {
		for _, span := range ss.Spans {
			traceIDs = append(traceIDs, ss.TraceID)
			spanIDs = append(spanIDs, span.SpanID)
			parentSpanIDs = append(parentSpanIDs, span.ParentSpanID)
			names = append(names, span.Name)
			kinds = append(kinds, span.Kind)
			startTimes = append(startTimes, span.StartTimeUnixNano)
			durations = append(durations, span.DurationNano)
			statusCodes = append(statusCodes, span.StatusCode)
			parentIDs = append(parentIDs, span.ParentID)
			nestedSetLefts = append(nestedSetLefts, span.NestedSetLeft)
			nestedSetRights = append(nestedSetRights, span.NestedSetRight)
		}
	}

	return engine.NewRecordBatch(FlatSpanSchema(), []engine.Column{
		traceIDs, spanIDs, parentSpanIDs, names, kinds,
		startTimes, durations, statusCodes, parentIDs,
		nestedSetLefts, nestedSetRights,
	})
}
