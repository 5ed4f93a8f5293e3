package traceql

import (
	"fmt"
	"strings"
	"time"
)

// Query is the root of a parsed TraceQL query: a span filter expression or
// structural query, an optional pipeline, and an optional trailing
// comparison applied to the aggregated result.
type Query struct {
	Expr     QueryExpr
	Pipeline []PipelineOp
	Having   *HavingCondition
}

// QueryExpr is one of SpanFilterExpr, StructuralExpr, or UnionExpr.
type QueryExpr interface {
	queryExpr()
}

// SpanFilterExpr is a plain `{ expr }` filter.
type SpanFilterExpr struct {
	Filter SpanFilter
}

// StructuralExpr is `{ parent } >> { child }`, matched via nested-set
// interval containment.
type StructuralExpr struct {
	Parent SpanFilter
	Child  SpanFilter
}

// UnionExpr is `{ a } || { b } || ...`.
type UnionExpr struct {
	Filters []SpanFilter
}

func (SpanFilterExpr) queryExpr() {}
func (StructuralExpr) queryExpr() {}
func (UnionExpr) queryExpr()      {}

// SpanFilter is the expression inside braces. Expr is nil for `{ }`.
type SpanFilter struct {
	Expr Expr
}

// HavingCondition is a comparison appended after the pipeline, compiled to
// a SQL HAVING clause.
type HavingCondition struct {
	Op    Operator
	Value Value
}

// Expr is a filter expression node.
type Expr interface {
	expr()
	String() string
}

// BinaryExpr is `left && right` or `left || right`.
type BinaryExpr struct {
	Left  Expr
	Op    BinaryOp
	Right Expr
}

// UnaryExpr is `!expr`.
type UnaryExpr struct {
	Expr Expr
}

// ComparisonExpr is `field <op> value`.
type ComparisonExpr struct {
	Field FieldRef
	Op    Operator
	Value Value
}

func (*BinaryExpr) expr()     {}
func (*UnaryExpr) expr()      {}
func (*ComparisonExpr) expr() {}

func (e *BinaryExpr) String() string {
	return fmt.Sprintf("(%s %s %s)", e.Left, e.Op, e.Right)
}

func (e *UnaryExpr) String() string {
	return fmt.Sprintf("!(%s)", e.Expr)
}

func (e *ComparisonExpr) String() string {
	return fmt.Sprintf("%s %s %s", e.Field, e.Op, e.Value)
}

type BinaryOp int

const (
	OpAnd BinaryOp = iota
	OpOr
)

func (op BinaryOp) String() string {
	if op == OpAnd {
		return "&&"
	}
	return "||"
}

// Operator is a comparison operator.
type Operator int

const (
	OpEqual Operator = iota
	OpNotEqual
	OpGreater
	OpGreaterEqual
	OpLess
	OpLessEqual
	OpRegex
	OpNotRegex
)

func (op Operator) String() string {
	switch op {
	case OpEqual:
		return "="
	case OpNotEqual:
		return "!="
	case OpGreater:
		return ">"
	case OpGreaterEqual:
		return ">="
	case OpLess:
		return "<"
	case OpLessEqual:
		return "<="
	case OpRegex:
		return "=~"
	case OpNotRegex:
		return "!~"
	}
	return "?"
}

// FieldScope distinguishes span attributes, resource attributes,
// intrinsics, and unscoped `.x` references.
type FieldScope int

const (
	ScopeIntrinsic FieldScope = iota
	ScopeSpan
	ScopeResource
	ScopeUnscoped
)

// FieldRef names a field within a scope, e.g. span.http.method or the
// intrinsic duration.
type FieldRef struct {
	Scope FieldScope
	Name  string
}

func (f FieldRef) String() string {
	switch f.Scope {
	case ScopeSpan:
		return "span." + f.Name
	case ScopeResource:
		return "resource." + f.Name
	case ScopeUnscoped:
		return "." + f.Name
	}
	return f.Name
}

// intrinsicFields is the closed set of intrinsics the parser knows.
// Unknown bare identifiers are still treated as intrinsics so that queries
// written against newer engines parse; the compiler rejects the ones it
// cannot translate.
var intrinsicFields = map[string]struct{}{
	"name":            {},
	"duration":        {},
	"status":          {},
	"kind":            {},
	"nestedSetParent": {},
	"nestedSetLeft":   {},
	"nestedSetRight":  {},
	"rootServiceName": {},
	"rootName":        {},
	"traceDuration":   {},
}

func isIntrinsic(name string) bool {
	_, ok := intrinsicFields[name]
	return ok
}

// ValueType tags the Value union.
type ValueType int

const (
	ValueString ValueType = iota
	ValueInteger
	ValueFloat
	ValueBool
	ValueDuration
	ValueStatus
	ValueKind
)

// Value is a literal on the right-hand side of a comparison.
type Value struct {
	Type     ValueType
	S        string
	I        int64
	F        float64
	B        bool
	D        time.Duration
	Status   Status
	SpanKind SpanKind
}

func NewStringValue(s string) Value       { return Value{Type: ValueString, S: s} }
func NewIntValue(i int64) Value           { return Value{Type: ValueInteger, I: i} }
func NewFloatValue(f float64) Value       { return Value{Type: ValueFloat, F: f} }
func NewBoolValue(b bool) Value           { return Value{Type: ValueBool, B: b} }
func NewDurationValue(d time.Duration) Value {
	return Value{Type: ValueDuration, D: d}
}
func NewStatusValue(s Status) Value   { return Value{Type: ValueStatus, Status: s} }
func NewKindValue(k SpanKind) Value   { return Value{Type: ValueKind, SpanKind: k} }

func (v Value) String() string {
	switch v.Type {
	case ValueString:
		return fmt.Sprintf("%q", v.S)
	case ValueInteger:
		return fmt.Sprintf("%d", v.I)
	case ValueFloat:
		return fmt.Sprintf("%g", v.F)
	case ValueBool:
		return fmt.Sprintf("%t", v.B)
	case ValueDuration:
		return v.D.String()
	case ValueStatus:
		return v.Status.String()
	case ValueKind:
		return v.SpanKind.String()
	}
	return "?"
}

// Status is a span status with its OTLP wire code.
type Status int

const (
	StatusUnset Status = 0
	StatusOk    Status = 1
	StatusError Status = 2
)

func (s Status) String() string {
	switch s {
	case StatusOk:
		return "ok"
	case StatusError:
		return "error"
	}
	return "unset"
}

// SpanKind is a span kind with its OTLP wire code.
type SpanKind int

const (
	KindUnspecified SpanKind = 0
	KindInternal    SpanKind = 1
	KindServer      SpanKind = 2
	KindClient      SpanKind = 3
	KindProducer    SpanKind = 4
	KindConsumer    SpanKind = 5
)

func (k SpanKind) String() string {
	switch k {
	case KindInternal:
		return "internal"
	case KindServer:
		return "server"
	case KindClient:
		return "client"
	case KindProducer:
		return "producer"
	case KindConsumer:
		return "consumer"
	}
	return "unspecified"
}

// PipelineOpType names the supported aggregation pipeline operations.
type PipelineOpType int

const (
	OpRate PipelineOpType = iota
	OpCount
	OpAvg
	OpSum
	OpMin
	OpMax
	OpSelect
)

func (t PipelineOpType) String() string {
	switch t {
	case OpRate:
		return "rate"
	case OpCount:
		return "count"
	case OpAvg:
		return "avg"
	case OpSum:
		return "sum"
	case OpMin:
		return "min"
	case OpMax:
		return "max"
	case OpSelect:
		return "select"
	}
	return "?"
}

// PipelineOp is one stage after a `|`. Field is set for avg/sum/min/max,
// Fields for select, GroupBy for the optional `by (...)` clause.
type PipelineOp struct {
	Type    PipelineOpType
	Field   string
	Fields  []FieldRef
	GroupBy []string
}

func (op PipelineOp) String() string {
	var sb strings.Builder
	sb.WriteString(op.Type.String())
	sb.WriteString("(")
	if op.Field != "" {
		sb.WriteString(op.Field)
	}
	for i, f := range op.Fields {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(f.String())
	}
	sb.WriteString(")")
	if len(op.GroupBy) > 0 {
		sb.WriteString(" by (")
		sb.WriteString(strings.Join(op.GroupBy, ", "))
		sb.WriteString(")")
	}
	return sb.String()
}
