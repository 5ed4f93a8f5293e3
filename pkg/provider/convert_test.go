package provider

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/grafana/traceql-engine/pkg/engine"
	"github.com/grafana/traceql-engine/tempodb/encoding/vparquet4"
)

func TestFlatSpanSchema(t *testing.T) {
	schema := FlatSpanSchema()
	require.Len(t, schema.Fields, 11)
	require.GreaterOrEqual(t, schema.FieldIndex("trace_id"), 0)
	require.GreaterOrEqual(t, schema.FieldIndex("nested_set_right"), 0)
	require.Equal(t, -1, schema.FieldIndex("nope"))

	// the local spans table keeps utf8 for names on purpose
	require.Equal(t, engine.TypeString, schema.Fields[schema.FieldIndex("name")].Type)
}

func TestSpansetsToRecordBatch(t *testing.T) {
	spansets := []*vparquet4.Spanset{
		{
			TraceID: []byte{0xAA},
			Spans: []vparquet4.SpansetSpan{
				{SpanID: []byte{1}, Name: "a", Kind: 1, StartTimeUnixNano: 100, DurationNano: 10, StatusCode: 0},
				{SpanID: []byte{2}, Name: "b", Kind: 2, StartTimeUnixNano: 200, DurationNano: 20, StatusCode: 2},
			},
		},
		{
			TraceID: []byte{0xBB},
			Spans: []vparquet4.SpansetSpan{
				{SpanID: []byte{3}, Name: "c", Kind: 3, StartTimeUnixNano: 300, DurationNano: 30, StatusCode: 1},
			},
		},
	}

	batch, err := SpansetsToRecordBatch(spansets)
	require.NoError(t, err)
	require.Equal(t, 3, batch.NumRows())
	require.Equal(t, 11, batch.NumColumns())

	traceIDs := batch.Columns[0].(engine.BinaryColumn)
	require.Equal(t, []byte{0xAA}, traceIDs[0])
	require.Equal(t, []byte{0xAA}, traceIDs[1])
	require.Equal(t, []byte{0xBB}, traceIDs[2])

	names := batch.Columns[3].(engine.StringColumn)
	require.Equal(t, engine.StringColumn{"a", "b", "c"}, names)

	statuses := batch.Columns[7].(engine.Int32Column)
	require.Equal(t, engine.Int32Column{0, 2, 1}, statuses)
}

func TestSpansetsToRecordBatchEmpty(t *testing.T) {
	batch, err := SpansetsToRecordBatch(nil)
	require.NoError(t, err)
	require.Equal(t, 0, batch.NumRows())
	require.Equal(t, 11, batch.NumColumns())
}

func TestSchemaUTF8ToBinary(t *testing.T) {
	schema := SchemaUTF8ToBinary(TraceTableSchema())

	// top-level strings downgraded
	require.Equal(t, engine.TypeBinary, schema.Fields[schema.FieldIndex("TraceIDText")].Type)
	require.Equal(t, engine.TypeBinary, schema.Fields[schema.FieldIndex("RootServiceName")].Type)

	// non-string types untouched
	require.Equal(t, engine.TypeUint64, schema.Fields[schema.FieldIndex("StartTimeUnixNano")].Type)

	// nested strings downgraded as well
	rs := schema.Fields[schema.FieldIndex("rs")]
	element := rs.Children[0]
	resource := element.Children[0]
	require.Equal(t, "Resource", resource.Name)
	require.Equal(t, engine.TypeBinary, resource.Children[0].Type) // ServiceName

	// the source schema still advertises utf8
	orig := TraceTableSchema()
	require.Equal(t, engine.TypeString, orig.Fields[orig.FieldIndex("TraceIDText")].Type)
}
