package vparquet4

import (
	"fmt"

	"github.com/parquet-go/parquet-go"
)

const VersionString = "vParquet4"

// Label constants for well-known attributes that are lifted into
// dedicated columns at write time.
const (
	LabelServiceName      = "service.name"
	LabelCluster          = "cluster"
	LabelNamespace        = "namespace"
	LabelPod              = "pod"
	LabelContainer        = "container"
	LabelK8sClusterName   = "k8s.cluster.name"
	LabelK8sNamespaceName = "k8s.namespace.name"
	LabelK8sPodName       = "k8s.pod.name"
	LabelK8sContainerName = "k8s.container.name"
	LabelHTTPMethod       = "http.method"
	LabelHTTPUrl          = "http.url"
	LabelHTTPStatusCode   = "http.status_code"
)

// Leaf column paths. Every component that touches the parquet schema
// refers to these constants, never to literal strings.
const (
	FieldTraceID           = "TraceID"
	FieldTraceIDText       = "TraceIDText"
	FieldStartTimeUnixNano = "StartTimeUnixNano"
	FieldEndTimeUnixNano   = "EndTimeUnixNano"
	FieldDurationNano      = "DurationNano"
	FieldRootServiceName   = "RootServiceName"
	FieldRootSpanName      = "RootSpanName"
	FieldServiceStats      = "ServiceStats"
	FieldResourceSpans     = "rs"

	FieldSpanID             = "rs.list.element.ss.list.element.Spans.list.element.SpanID"
	FieldSpanParentSpanID   = "rs.list.element.ss.list.element.Spans.list.element.ParentSpanID"
	FieldSpanParentID       = "rs.list.element.ss.list.element.Spans.list.element.ParentID"
	FieldSpanNestedSetLeft  = "rs.list.element.ss.list.element.Spans.list.element.NestedSetLeft"
	FieldSpanNestedSetRight = "rs.list.element.ss.list.element.Spans.list.element.NestedSetRight"
	FieldSpanName           = "rs.list.element.ss.list.element.Spans.list.element.Name"
	FieldSpanKind           = "rs.list.element.ss.list.element.Spans.list.element.Kind"
	FieldSpanStartTime      = "rs.list.element.ss.list.element.Spans.list.element.StartTimeUnixNano"
	FieldSpanDurationNano   = "rs.list.element.ss.list.element.Spans.list.element.DurationNano"
	FieldSpanStatusCode     = "rs.list.element.ss.list.element.Spans.list.element.StatusCode"
	FieldSpanHTTPMethod     = "rs.list.element.ss.list.element.Spans.list.element.HttpMethod"
	FieldSpanHTTPUrl        = "rs.list.element.ss.list.element.Spans.list.element.HttpUrl"
	FieldSpanHTTPStatusCode = "rs.list.element.ss.list.element.Spans.list.element.HttpStatusCode"
)

// Definition levels of the nesting hierarchy.
const (
	DefinitionLevelTrace         = 0
	DefinitionLevelResourceSpans = 1
	DefinitionLevelScopeSpans    = 2
	DefinitionLevelSpan          = 3
)

// Attribute is the columnar attribute layout: a key plus one parallel
// list per value type. At most one of the four typed lists is populated;
// a scalar is a one-element list, an array a longer one. Types that fit
// none of the lists are JSON-serialized into ValueUnsupported.
type Attribute struct {
	Key string `parquet:",snappy,dict"`

	IsArray          bool      `parquet:",snappy"`
	Value            []string  `parquet:",snappy,dict,list"`
	ValueInt         []int64   `parquet:",snappy,list"`
	ValueDouble      []float64 `parquet:",snappy,list"`
	ValueBool        []bool    `parquet:",snappy,list"`
	ValueUnsupported *string   `parquet:",snappy,optional"`
}

// DedicatedAttributes are ten optional string slots assigned to
// tenant-chosen attributes at write time.
type DedicatedAttributes struct {
	String01 *string `parquet:",snappy,optional"`
	String02 *string `parquet:",snappy,optional"`
	String03 *string `parquet:",snappy,optional"`
	String04 *string `parquet:",snappy,optional"`
	String05 *string `parquet:",snappy,optional"`
	String06 *string `parquet:",snappy,optional"`
	String07 *string `parquet:",snappy,optional"`
	String08 *string `parquet:",snappy,optional"`
	String09 *string `parquet:",snappy,optional"`
	String10 *string `parquet:",snappy,optional"`
}

type Event struct {
	TimeSinceStartNano     uint64      `parquet:",delta"`
	Name                   string      `parquet:",snappy"`
	Attrs                  []Attribute `parquet:",list"`
	DroppedAttributesCount int32       `parquet:",snappy"`
}

type Link struct {
	TraceID                []byte
	SpanID                 []byte
	TraceState             string      `parquet:",snappy"`
	Attrs                  []Attribute `parquet:",list"`
	DroppedAttributesCount int32       `parquet:",snappy"`
}

type Span struct {
	SpanID       []byte
	ParentSpanID []byte

	// ParentID and the nested-set indices encode the span tree within a
	// trace. NestedSetLeft/Right are a DFS pre/post order so descendant
	// checks become interval comparisons.
	ParentID       int32 `parquet:",delta"`
	NestedSetLeft  int32 `parquet:",delta"`
	NestedSetRight int32 `parquet:",delta"`

	Name              string `parquet:",snappy,dict"`
	Kind              int32  `parquet:",delta"`
	TraceState        string `parquet:",snappy"`
	StartTimeUnixNano uint64 `parquet:",delta"`
	DurationNano      uint64 `parquet:",delta"`
	StatusCode        int32  `parquet:",delta"`
	StatusMessage     string `parquet:",snappy"`

	// Dedicated columns for the hottest span attributes.
	HttpMethod     *string `parquet:",snappy,optional,dict"`
	HttpUrl        *string `parquet:",snappy,optional,dict"`
	HttpStatusCode *int64  `parquet:",snappy,optional"`

	Attrs  []Attribute `parquet:",list"`
	Events []Event     `parquet:",list"`
	Links  []Link      `parquet:",list"`

	DroppedAttributesCount int32 `parquet:",snappy"`
	DroppedEventsCount     int32 `parquet:",snappy"`
	DroppedLinksCount      int32 `parquet:",snappy"`

	DedicatedAttributes DedicatedAttributes
}

type InstrumentationScope struct {
	Name                   string      `parquet:",snappy,dict"`
	Version                string      `parquet:",snappy,dict"`
	Attrs                  []Attribute `parquet:",list"`
	DroppedAttributesCount int32       `parquet:",snappy"`
}

type ScopeSpans struct {
	Scope InstrumentationScope
	Spans []Span               `parquet:",list"`
}

type Resource struct {
	ServiceName      string  `parquet:",snappy,dict"`
	Cluster          *string `parquet:",snappy,optional,dict"`
	Namespace        *string `parquet:",snappy,optional,dict"`
	Pod              *string `parquet:",snappy,optional,dict"`
	Container        *string `parquet:",snappy,optional,dict"`
	K8sClusterName   *string `parquet:",snappy,optional,dict"`
	K8sNamespaceName *string `parquet:",snappy,optional,dict"`
	K8sPodName       *string `parquet:",snappy,optional,dict"`
	K8sContainerName *string `parquet:",snappy,optional,dict"`

	Attrs []Attribute `parquet:",list"`

	DroppedAttributesCount int32 `parquet:",snappy"`

	DedicatedAttributes DedicatedAttributes
}

type ResourceSpans struct {
	Resource Resource
	ScopeSpans []ScopeSpans `parquet:"ss,list"`
}

// ServiceStats aggregates per-service counters for one trace.
type ServiceStats struct {
	Key        string `parquet:",snappy,dict"`
	SpanCount  uint64 `parquet:",delta"`
	ErrorCount uint64 `parquet:",delta"`
}

// Trace is the root row type of a vParquet4 data.parquet.
type Trace struct {
	// TraceID is 16 raw bytes so parquet sorts traces by ID; TraceIDText
	// is its lowercase hex form for humans.
	TraceID     []byte
	TraceIDText string `parquet:",snappy"`

	StartTimeUnixNano uint64 `parquet:",delta"`
	EndTimeUnixNano   uint64 `parquet:",delta"`
	DurationNano      uint64 `parquet:",delta"`

	RootServiceName string `parquet:",snappy,dict"`
	RootSpanName    string `parquet:",snappy,dict"`

	ServiceStats []ServiceStats `parquet:",list"`

	ResourceSpans []ResourceSpans `parquet:"rs,list"`
}

var traceSchema = parquet.SchemaOf(&Trace{})

// TraceSchema returns the parquet schema every block's data.parquet must
// conform to.
func TraceSchema() *parquet.Schema { return traceSchema }

// SchemaError reports a file whose schema does not match vParquet4.
type SchemaError struct {
	Column string
	Reason string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema mismatch on column %s: %s", e.Column, e.Reason)
}

// requiredTopLevelColumns are the columns ValidateSchema checks for
// presence and physical type.
var requiredTopLevelColumns = []struct {
	name string
	kind parquet.Kind
}{
	{FieldTraceID, parquet.ByteArray},
	{FieldTraceIDText, parquet.ByteArray},
	{FieldStartTimeUnixNano, parquet.Int64},
	{FieldEndTimeUnixNano, parquet.Int64},
	{FieldDurationNano, parquet.Int64},
	{FieldRootServiceName, parquet.ByteArray},
	{FieldRootSpanName, parquet.ByteArray},
}

// ValidateSchema checks that a parquet file exposes the vParquet4
// top-level columns with the right physical types. It runs once at reader
// open; later stages assume the layout.
func ValidateSchema(pf *parquet.File) error {
	root := pf.Root()

	for _, req := range requiredTopLevelColumns {
		col := childColumn(root, req.name)
		if col == nil {
			return &SchemaError{Column: req.name, Reason: "column not found"}
		}
		if !col.Leaf() {
			return &SchemaError{Column: req.name, Reason: "expected a leaf column"}
		}
		if got := col.Type().Kind(); got != req.kind {
			return &SchemaError{
				Column: req.name,
				Reason: fmt.Sprintf("expected physical type %s, got %s", req.kind, got),
			}
		}
	}

	for _, name := range []string{FieldServiceStats, FieldResourceSpans} {
		if childColumn(root, name) == nil {
			return &SchemaError{Column: name, Reason: "column not found"}
		}
	}

	return nil
}

func childColumn(col *parquet.Column, name string) *parquet.Column {
	for _, c := range col.Columns() {
		if c.Name() == name {
			return c
		}
	}
	return nil
}
