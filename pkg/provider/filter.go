// Package provider bridges the columnar query engine to block discovery
// and the vParquet4 reader: table providers for the remote `traces` table
// and the local `spans` table, the leaf execution plan wrapping the
// reader, and the translation of engine filter expressions into reader
// pushdown.
package provider

import (
	"strings"

	"github.com/grafana/traceql-engine/pkg/engine"
	"github.com/grafana/traceql-engine/tempodb"
	"github.com/grafana/traceql-engine/tempodb/encoding/vparquet4"
)

// StartTimeColumn is the column time-range extraction looks for.
const StartTimeColumn = "StartTimeUnixNano"

// TimeRange is an inclusive time interval in unix nanoseconds. Nil bounds
// are unbounded. The extracted range is conservative: it always contains
// every matching row.
type TimeRange struct {
	MinNanos *int64
	MaxNanos *int64
}

func UnboundedTimeRange() TimeRange { return TimeRange{} }

func (t TimeRange) IsUnbounded() bool {
	return t.MinNanos == nil && t.MaxNanos == nil
}

// Intersect narrows this range to the overlap with other.
func (t *TimeRange) Intersect(other TimeRange) {
	if other.MinNanos != nil && (t.MinNanos == nil || *other.MinNanos > *t.MinNanos) {
		t.MinNanos = other.MinNanos
	}
	if other.MaxNanos != nil && (t.MaxNanos == nil || *other.MaxNanos < *t.MaxNanos) {
		t.MaxNanos = other.MaxNanos
	}
}

// OverlapsBlock reports whether a discovered block can contain rows in
// this range.
func (t TimeRange) OverlapsBlock(b tempodb.DiscoveredBlock) bool {
	min := int64(0)
	if t.MinNanos != nil {
		min = *t.MinNanos
	}
	max := int64(0)
	if t.MaxNanos != nil {
		max = *t.MaxNanos
	}
	return b.Overlaps(min, max)
}

// ExtractTimeRange walks every filter expression and intersects the
// ranges found on StartTimeUnixNano.
func ExtractTimeRange(filters []engine.Expr) TimeRange {
	combined := UnboundedTimeRange()
	for _, f := range filters {
		r := extractTimeRangeFromExpr(f)
		combined.Intersect(r)
	}
	return combined
}

// extractTimeRangeFromExpr handles `StartTimeUnixNano <op> literal` and
// its mirror. AND intersects child ranges. OR and unsupported operators
// yield unbounded: the range must stay a superset of the matching rows.
func extractTimeRangeFromExpr(expr engine.Expr) TimeRange {
	be, ok := expr.(*engine.BinaryExpr)
	if !ok {
		return UnboundedTimeRange()
	}

	if col, lit, ok := columnLiteral(be.Left, be.Right); ok && isStartTimeColumn(col.Name) {
		return rangeFromComparison(be.Op, lit)
	}
	if col, lit, ok := columnLiteral(be.Right, be.Left); ok && isStartTimeColumn(col.Name) {
		return rangeFromComparison(mirrorOp(be.Op), lit)
	}

	if be.Op == engine.OpAnd {
		r := extractTimeRangeFromExpr(be.Left)
		r.Intersect(extractTimeRangeFromExpr(be.Right))
		return r
	}

	return UnboundedTimeRange()
}

func isStartTimeColumn(name string) bool {
	return strings.EqualFold(name, StartTimeColumn)
}

func columnLiteral(a, b engine.Expr) (*engine.ColumnExpr, *engine.LiteralExpr, bool) {
	col, okCol := a.(*engine.ColumnExpr)
	lit, okLit := b.(*engine.LiteralExpr)
	if !okCol || !okLit {
		return nil, nil, false
	}
	return col, lit, true
}

// mirrorOp flips a comparison whose column sits on the right-hand side.
func mirrorOp(op engine.Operator) engine.Operator {
	switch op {
	case engine.OpLt:
		return engine.OpGt
	case engine.OpLtEq:
		return engine.OpGtEq
	case engine.OpGt:
		return engine.OpLt
	case engine.OpGtEq:
		return engine.OpLtEq
	}
	return op
}

func rangeFromComparison(op engine.Operator, lit *engine.LiteralExpr) TimeRange {
	if lit.Value.Kind != engine.ScalarInt64 {
		return UnboundedTimeRange()
	}
	v := lit.Value.I

	switch op {
	case engine.OpGt:
		min := v + 1
		return TimeRange{MinNanos: &min}
	case engine.OpGtEq:
		return TimeRange{MinNanos: &v}
	case engine.OpLt:
		max := v - 1
		return TimeRange{MaxNanos: &max}
	case engine.OpLtEq:
		return TimeRange{MaxNanos: &v}
	case engine.OpEq:
		return TimeRange{MinNanos: &v, MaxNanos: &v}
	}
	return UnboundedTimeRange()
}

// ExprToSpanFilter converts one engine filter into a reader pushdown
// filter, or nil when it cannot be pushed. Today that is exactly
// `name = 'literal'` in either operand order.
func ExprToSpanFilter(expr engine.Expr) *vparquet4.SpanFilter {
	be, ok := expr.(*engine.BinaryExpr)
	if !ok || be.Op != engine.OpEq {
		return nil
	}

	if col, lit, ok := columnLiteral(be.Left, be.Right); ok {
		return nameEqualsFilter(col, lit)
	}
	if col, lit, ok := columnLiteral(be.Right, be.Left); ok {
		return nameEqualsFilter(col, lit)
	}
	return nil
}

func nameEqualsFilter(col *engine.ColumnExpr, lit *engine.LiteralExpr) *vparquet4.SpanFilter {
	if !strings.EqualFold(col.Name, "name") || lit.Value.Kind != engine.ScalarString {
		return nil
	}
	return vparquet4.NewNameEqualsFilter(lit.Value.S)
}

// ExtractSpanFilter returns the first pushable filter in the list.
func ExtractSpanFilter(filters []engine.Expr) *vparquet4.SpanFilter {
	for _, f := range filters {
		if sf := ExprToSpanFilter(f); sf != nil {
			return sf
		}
	}
	return nil
}
