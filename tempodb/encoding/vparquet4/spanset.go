package vparquet4

import "encoding/hex"

// SpansetSpan is one decoded span as the reader materializes it. The
// attribute payload is intentionally absent: the default projection reads
// only the span-level scalar columns.
type SpansetSpan struct {
	SpanID            []byte
	ParentSpanID      []byte
	ParentID          int32
	NestedSetLeft     int32
	NestedSetRight    int32
	Name              string
	Kind              int32
	StartTimeUnixNano uint64
	DurationNano      uint64
	StatusCode        int32
}

// Spanset is the per-trace result unit: the 16-byte trace ID plus every
// span of that trace that passed the filter, in file order.
type Spanset struct {
	TraceID []byte
	Spans   []SpansetSpan
}

// TraceIDText returns the lowercase hex encoding of the trace ID, the
// form stored in the TraceIDText column.
func (s *Spanset) TraceIDText() string {
	return hex.EncodeToString(s.TraceID)
}
